// internal/dispatch/executor.go
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	httpclient "action-engine/internal/common/http"
	"action-engine/internal/models"

	"github.com/google/uuid"
)

// Call is one decoded action handed to an Executor.
type Call struct {
	ActionID   uint64
	Owner      string
	Type       models.ActionType
	Target     string
	GasLimit   uint64
	Payload    models.Payload
	RawPayload []byte
}

// Receipt is the executor's report. A nil error with Success false is a
// revert.
type Receipt struct {
	Success   bool
	Reference string
	Message   string
}

// Executor performs the external call for an action.
type Executor interface {
	Execute(ctx context.Context, call *Call) (*Receipt, error)
}

type ExecutorFunc func(ctx context.Context, call *Call) (*Receipt, error)

func (f ExecutorFunc) Execute(ctx context.Context, call *Call) (*Receipt, error) {
	return f(ctx, call)
}

// SimulatedExecutor accepts every call. Used when no executor endpoint is
// configured.
type SimulatedExecutor struct{}

func (SimulatedExecutor) Execute(_ context.Context, call *Call) (*Receipt, error) {
	return &Receipt{
		Success:   true,
		Reference: "sim-" + uuid.NewString(),
		Message:   fmt.Sprintf("simulated %s on %s", call.Type, call.Target),
	}, nil
}

type executeRequest struct {
	RequestID string          `json:"requestId"`
	ActionID  uint64          `json:"actionId"`
	Owner     string          `json:"owner"`
	Type      string          `json:"type"`
	Target    string          `json:"target"`
	GasLimit  uint64          `json:"gasLimit"`
	Payload   json.RawMessage `json:"payload"`
}

type executeResponse struct {
	Success bool   `json:"success"`
	TxHash  string `json:"txHash"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

// HTTPExecutor posts calls to a remote execution service.
type HTTPExecutor struct {
	client  *httpclient.Client
	baseURL string
}

func NewHTTPExecutor(baseURL, apiKey string, timeout time.Duration) *HTTPExecutor {
	client := httpclient.NewClient(timeout)
	if apiKey != "" {
		client = client.WithHeader("X-API-Key", apiKey)
	}
	return &HTTPExecutor{client: client, baseURL: strings.TrimSuffix(baseURL, "/")}
}

func (e *HTTPExecutor) Execute(ctx context.Context, call *Call) (*Receipt, error) {
	payload := json.RawMessage(call.RawPayload)
	if call.Type == models.ActionCustom {
		// Opaque bytes travel as a JSON string.
		raw, err := json.Marshal(string(call.RawPayload))
		if err != nil {
			return nil, err
		}
		payload = raw
	}

	req := executeRequest{
		RequestID: uuid.NewString(),
		ActionID:  call.ActionID,
		Owner:     call.Owner,
		Type:      string(call.Type),
		Target:    call.Target,
		GasLimit:  call.GasLimit,
		Payload:   payload,
	}

	var resp executeResponse
	if err := e.client.PostJSON(ctx, e.baseURL+"/v1/execute", req, &resp); err != nil {
		return nil, fmt.Errorf("executor: %w", err)
	}

	msg := resp.Error
	if msg == "" {
		msg = resp.Status
	}
	return &Receipt{Success: resp.Success, Reference: resp.TxHash, Message: msg}, nil
}
