// internal/workers/actions/cancel-action/models.go
package cancelaction

type Input struct {
	ActionID uint64 `json:"actionId"`
	Caller   string `json:"caller"`
	Reason   string `json:"reason,omitempty"`
}

type Output struct {
	ActionID uint64 `json:"actionId"`
	Status   string `json:"actionStatus"`
	Result   string `json:"result"`
}
