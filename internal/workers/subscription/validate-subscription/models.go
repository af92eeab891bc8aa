// internal/workers/subscription/validate-subscription/models.go
package validatesubscription

type Input struct {
	Owner string `json:"owner"`
}

// Output represents the output data after subscription validation
type Output struct {
	IsValid     bool     `json:"isValid"`
	TierLevel   string   `json:"tierLevel,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	Reason      string   `json:"reason,omitempty"`
}

// TierSnapshot is the cached view of an owner's live subscription.
type TierSnapshot struct {
	SubscriptionID uint64   `json:"subscriptionId"`
	Tier           string   `json:"tier"`
	Features       []string `json:"features,omitempty"`
	EndTime        int64    `json:"endTime"`
}
