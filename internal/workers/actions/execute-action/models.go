// internal/workers/actions/execute-action/models.go
package executeaction

type Input struct {
	ActionID uint64 `json:"actionId"`
	Caller   string `json:"caller"`
}

type Output struct {
	ActionID   uint64 `json:"actionId"`
	Status     string `json:"actionStatus"`
	Success    bool   `json:"success"`
	Result     string `json:"result"`
	ExecutedAt string `json:"executedAt,omitempty"`
}
