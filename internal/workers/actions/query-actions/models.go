// internal/workers/actions/query-actions/models.go
package queryactions

import (
	"action-engine/internal/actions"
	"action-engine/internal/models"
)

const (
	OperationGet   = "get"
	OperationList  = "list"
	OperationUsage = "usage"
)

type Input struct {
	Operation string `json:"operation"`
	ActionID  uint64 `json:"actionId,omitempty"`
	Owner     string `json:"owner,omitempty"`
}

type Output struct {
	Operation string             `json:"operation"`
	Action    *models.Action     `json:"action,omitempty"`
	Actions   []*models.Action   `json:"actions,omitempty"`
	Count     int                `json:"count"`
	Usage     *actions.UserUsage `json:"usage,omitempty"`
}
