// internal/workers/admin/admin-config/models.go
package adminconfig

import "action-engine/internal/models"

const (
	OperationCreateTier           = "create-tier"
	OperationSetTierActive        = "set-tier-active"
	OperationListTiers            = "list-tiers"
	OperationSetSupport           = "set-support"
	OperationListSupported        = "list-supported"
	OperationSetActionTypeEnabled = "set-action-type-enabled"
	OperationSetDailyLimit        = "set-daily-limit"
	OperationEmergencyStop        = "emergency-stop"
)

type Input struct {
	Operation string `json:"operation"`
	Caller    string `json:"caller"`

	// create-tier
	Name            string   `json:"name,omitempty"`
	Price           int64    `json:"price,omitempty"`
	DurationSeconds int64    `json:"durationSeconds,omitempty"`
	MaxQueries      uint64   `json:"maxQueries,omitempty"`
	MaxActions      uint64   `json:"maxActions,omitempty"`
	Features        []string `json:"features,omitempty"`

	// set-tier-active, list-tiers
	TierID     uint64 `json:"tierId,omitempty"`
	ActiveOnly bool   `json:"activeOnly,omitempty"`

	// set-support, list-supported
	Address  string `json:"address,omitempty"`
	Protocol string `json:"protocol,omitempty"`

	// set-action-type-enabled
	ActionType string `json:"actionType,omitempty"`

	// set-daily-limit
	Tier       string `json:"tier,omitempty"`
	DailyLimit int64  `json:"dailyLimit,omitempty"`

	// Enabled is the switch for set-tier-active, set-support,
	// set-action-type-enabled and emergency-stop.
	Enabled bool `json:"enabled"`
}

type Output struct {
	Operation string                     `json:"operation"`
	Applied   bool                       `json:"applied"`
	TierID    uint64                     `json:"tierId,omitempty"`
	Tiers     []*models.SubscriptionTier `json:"tiers,omitempty"`
	Addresses []string                   `json:"addresses,omitempty"`
}
