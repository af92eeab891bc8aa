// internal/payments/gateway.go
package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	httpclient "action-engine/internal/common/http"
	"action-engine/internal/common/logger"

	"github.com/google/uuid"
)

type idempotencyKey struct{}

// transferNamespace scopes the keys derived by transferKey.
var transferNamespace = uuid.MustParse("6f1c2a8e-4b1d-5d3e-9a40-3c7e2b9f1d55")

// WithIdempotencyKey tags transfers made under ctx with key. Repeating an
// operation with the same key yields the same request keys, so the gateway
// settles each transfer once.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	if key == "" {
		return ctx
	}
	return context.WithValue(ctx, idempotencyKey{}, key)
}

// transferKey derives the request key from the caller's key and the transfer
// itself. Without a caller key every call gets a fresh one.
func transferKey(ctx context.Context, from, to string, amount int64) string {
	base, _ := ctx.Value(idempotencyKey{}).(string)
	if base == "" {
		return uuid.NewString()
	}
	return uuid.NewSHA1(transferNamespace, []byte(fmt.Sprintf("%s|%s|%s|%d", base, from, to, amount))).String()
}

type transferRequest struct {
	IdempotencyKey string `json:"idempotencyKey"`
	From           string `json:"from"`
	To             string `json:"to"`
	Amount         int64  `json:"amount"`
}

type transferResponse struct {
	TransferID string `json:"transferId"`
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
}

// Gateway moves funds through an external payments service over HTTP.
type Gateway struct {
	client  *httpclient.Client
	baseURL string
	logger  logger.Logger
}

func NewGateway(baseURL, apiKey string, timeout time.Duration, log logger.Logger) *Gateway {
	client := httpclient.NewClient(timeout)
	if apiKey != "" {
		client = client.WithHeader("Authorization", "Bearer "+apiKey)
	}
	return &Gateway{
		client:  client,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  log.WithFields(map[string]interface{}{"component": "payments-gateway"}),
	}
}

func (g *Gateway) Transfer(ctx context.Context, from, to string, amount int64) error {
	req := transferRequest{
		IdempotencyKey: transferKey(ctx, from, to, amount),
		From:           from,
		To:             to,
		Amount:         amount,
	}

	var resp transferResponse
	err := g.client.PostJSON(ctx, g.baseURL+"/v1/transfers", req, &resp)
	if err != nil {
		var statusErr *httpclient.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusPaymentRequired {
			return fmt.Errorf("%w: %s", ErrInsufficientBalance, statusErr.Body)
		}
		g.logger.Warn("transfer request failed", map[string]interface{}{
			"from": from, "to": to, "amount": amount, "idempotencyKey": req.IdempotencyKey, "error": err.Error(),
		})
		return fmt.Errorf("payments gateway: %w", err)
	}

	if resp.Status != "settled" {
		return fmt.Errorf("%w: transfer %s %s: %s", ErrInsufficientBalance, resp.TransferID, resp.Status, resp.Reason)
	}

	g.logger.Debug("transfer settled", map[string]interface{}{
		"transferId": resp.TransferID, "from": from, "to": to, "amount": amount,
	})
	return nil
}
