// internal/workers/subscription/manage-subscription/models.go
package managesubscription

const (
	OperationPurchase         = "purchase"
	OperationRenew            = "renew"
	OperationCancel           = "cancel"
	OperationWithdrawEarnings = "withdraw-earnings"
)

type Input struct {
	Operation      string `json:"operation"`
	Owner          string `json:"owner,omitempty"`
	TierID         uint64 `json:"tierId,omitempty"`
	Referrer       string `json:"referrer,omitempty"`
	SubscriptionID uint64 `json:"subscriptionId,omitempty"`
	Caller         string `json:"caller,omitempty"`
	// RequestID keys the funds transfers of this operation.
	RequestID string `json:"requestId,omitempty"`
}

type Output struct {
	Operation      string `json:"operation"`
	SubscriptionID uint64 `json:"subscriptionId,omitempty"`
	Tier           string `json:"tier,omitempty"`
	EndTime        string `json:"endTime,omitempty"`
	Active         bool   `json:"active"`
	Amount         int64  `json:"amount,omitempty"`
}
