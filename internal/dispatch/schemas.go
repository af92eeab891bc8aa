// internal/dispatch/schemas.go
package dispatch

import (
	"action-engine/internal/common/validation"
	"action-engine/internal/models"
)

const (
	addressSchema = `{"type": "string", "minLength": 1, "maxLength": 128}`
	amountSchema  = `{"type": "string", "pattern": "^[0-9]+(\\.[0-9]+)?$"}`
)

var payloadSchemas = map[models.ActionType]string{
	models.ActionStake:   stakingSchema,
	models.ActionUnstake: stakingSchema,
	models.ActionSwap: `{
		"type": "object",
		"additionalProperties": false,
		"required": ["router", "tokenIn", "tokenOut", "amountIn", "minAmountOut"],
		"properties": {
			"router": ` + addressSchema + `,
			"tokenIn": ` + addressSchema + `,
			"tokenOut": ` + addressSchema + `,
			"amountIn": ` + amountSchema + `,
			"minAmountOut": ` + amountSchema + `,
			"recipient": {"type": "string"}
		}
	}`,
	models.ActionVote: `{
		"type": "object",
		"additionalProperties": false,
		"required": ["governor", "proposalId", "support"],
		"properties": {
			"governor": ` + addressSchema + `,
			"proposalId": {"type": "string", "minLength": 1},
			"support": {"type": "integer", "minimum": 0, "maximum": 2},
			"reason": {"type": "string", "maxLength": 1024}
		}
	}`,
	models.ActionYieldFarm: `{
		"type": "object",
		"additionalProperties": false,
		"required": ["vault", "token", "amount"],
		"properties": {
			"vault": ` + addressSchema + `,
			"token": ` + addressSchema + `,
			"amount": ` + amountSchema + `
		}
	}`,
	models.ActionTransfer: `{
		"type": "object",
		"additionalProperties": false,
		"required": ["token", "recipient", "amount"],
		"properties": {
			"token": ` + addressSchema + `,
			"recipient": ` + addressSchema + `,
			"amount": ` + amountSchema + `
		}
	}`,
}

const stakingSchema = `{
	"type": "object",
	"additionalProperties": false,
	"required": ["pool", "amount"],
	"properties": {
		"pool": ` + addressSchema + `,
		"token": {"type": "string"},
		"amount": ` + amountSchema + `,
		"validator": {"type": "string"}
	}
}`

// NewSchemaRegistry compiles the payload schema of every typed action.
// Custom payloads are opaque and have none.
func NewSchemaRegistry() *validation.Registry {
	reg := validation.NewRegistry()
	for t, schema := range payloadSchemas {
		reg.MustRegister(string(t), schema)
	}
	return reg
}
