// internal/common/camunda/client.go
package camunda

import (
	"context"
	"fmt"
	"strings"
	"time"

	"action-engine/internal/common/config"
	"action-engine/internal/common/errors"
	"action-engine/internal/common/logger"

	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
)

// Client is the broker connection shared by the job workers.
type Client struct {
	zb     zbc.Client
	config *ClientConfig
}

type ClientConfig struct {
	GatewayAddress         string
	UsePlaintextConnection bool
	// RequestTimeout bounds each broker round trip made through the client.
	RequestTimeout time.Duration
	RetryConfig    *RetryConfig
}

// RetryConfig controls ExecuteWithRetry. Delays double per attempt up to MaxDelay.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

var DefaultRetryConfig = &RetryConfig{
	MaxRetries: 5,
	BaseDelay:  time.Second,
	MaxDelay:   15 * time.Second,
}

// ClientConfigFrom maps the camunda config section onto a ClientConfig.
func ClientConfigFrom(cfg config.CamundaConfig) *ClientConfig {
	return &ClientConfig{
		GatewayAddress:         cfg.BrokerAddress,
		UsePlaintextConnection: true,
		RequestTimeout:         config.GetDuration(cfg.RequestTimeout),
		RetryConfig:            DefaultRetryConfig,
	}
}

// Connect opens the gateway connection and waits for the broker topology,
// retrying transient failures.
func Connect(ctx context.Context, cfg *ClientConfig) (*Client, error) {
	if cfg.RetryConfig == nil {
		cfg.RetryConfig = DefaultRetryConfig
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	zb, err := zbc.NewClient(&zbc.ClientConfig{
		GatewayAddress:         cfg.GatewayAddress,
		UsePlaintextConnection: cfg.UsePlaintextConnection,
	})
	if err != nil {
		return nil, fmt.Errorf("create zeebe client: %w", err)
	}

	c := &Client{zb: zb, config: cfg}
	if _, err := c.ExecuteWithRetry(ctx, func(ctx context.Context) (interface{}, error) {
		return nil, c.HealthCheck(ctx)
	}, "topology"); err != nil {
		zb.Close()
		return nil, err
	}
	return c, nil
}

// Zeebe exposes the raw client.
func (c *Client) Zeebe() zbc.Client {
	return c.zb
}

func (c *Client) Close() error {
	return c.zb.Close()
}

// StartWorker opens a job worker for taskType on this connection.
func (c *Client) StartWorker(taskType string, wcfg config.WorkerConfig, handler worker.JobHandler, log logger.Logger) worker.JobWorker {
	return StartWorker(c.zb, taskType, wcfg, handler, log)
}

// HealthCheck requests the broker topology under RequestTimeout.
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	if _, err := c.zb.NewTopologyCommand().Send(ctx); err != nil {
		return fmt.Errorf("zeebe topology at %s: %w", c.config.GatewayAddress, err)
	}
	return nil
}

// ExecuteWithRetry runs fn until it succeeds, fails permanently or retries run
// out. The final error is mapped to a StandardError.
func (c *Client) ExecuteWithRetry(ctx context.Context, fn func(context.Context) (interface{}, error), operation string) (interface{}, error) {
	rc := c.config.RetryConfig
	delay := rc.BaseDelay

	for attempt := 0; ; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if attempt == rc.MaxRetries || !isRetryableZeebeError(err) {
			return nil, mapZeebeError(err, operation, attempt+1)
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, errors.NewTimeoutError("zeebe", fmt.Errorf("%s: cancelled after %d attempts: %w", operation, attempt+1, ctx.Err()))
		}
		if delay *= 2; delay > rc.MaxDelay {
			delay = rc.MaxDelay
		}
	}
}

var retryablePhrases = []string{
	"connection refused",
	"connection reset",
	"timeout",
	"deadline exceeded",
	"unavailable",
	"unreachable",
	"broken pipe",
	"resource_exhausted",
}

func isRetryableZeebeError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, phrase := range retryablePhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}

func mapZeebeError(err error, operation string, attempts int) error {
	msg := strings.ToLower(err.Error())
	wrapped := fmt.Errorf("zeebe %s failed after %d attempt(s): %w", operation, attempts, err)

	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return errors.NewTimeoutError("zeebe", wrapped)
	case strings.Contains(msg, "permission denied"),
		strings.Contains(msg, "unauthorized"),
		strings.Contains(msg, "invalid argument"),
		strings.Contains(msg, "invalidargument"):
		return errors.NewInvalidRequestError(wrapped.Error())
	default:
		return errors.NewExternalServiceError("zeebe", wrapped)
	}
}
