// internal/workers/actions/approve-action/models.go
package approveaction

type Input struct {
	ActionID uint64 `json:"actionId"`
	Approver string `json:"approver"`
}

type Output struct {
	ActionID   uint64 `json:"actionId"`
	Status     string `json:"actionStatus"`
	Approver   string `json:"approver"`
	ApprovedAt string `json:"approvedAt"`
}
