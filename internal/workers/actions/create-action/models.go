// internal/workers/actions/create-action/models.go
package createaction

import "encoding/json"

// Input carries the structured request produced by the intent classifier.
// Payload is the typed JSON object; Custom call data may be sent as a JSON
// string instead.
type Input struct {
	Caller      string          `json:"caller"`
	Owner       string          `json:"owner"`
	ActionType  string          `json:"actionType"`
	Payload     json.RawMessage `json:"payload"`
	ChatContext string          `json:"chatContext,omitempty"`
	Target      string          `json:"target"`
	GasLimit    uint64          `json:"gasLimit,omitempty"`
}

type Output struct {
	ActionID      uint64 `json:"actionId"`
	Status        string `json:"actionStatus"`
	PayloadDigest string `json:"payloadDigest"`
	Approver      string `json:"approver,omitempty"`
}
