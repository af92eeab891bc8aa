package camunda

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"action-engine/internal/common/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient() *Client {
	return &Client{config: &ClientConfig{
		RetryConfig: &RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	}}
}

func TestExecuteWithRetry_RetriesTransientErrors(t *testing.T) {
	c := testClient()
	attempts := 0

	out, err := c.ExecuteWithRetry(context.Background(), func(context.Context) (interface{}, error) {
		attempts++
		if attempts < 3 {
			return nil, stderrors.New("rpc error: code = Unavailable desc = connection refused")
		}
		return "ok", nil
	}, "publish")

	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 3, attempts)
}

func TestExecuteWithRetry_StopsOnPermanentError(t *testing.T) {
	c := testClient()
	attempts := 0

	_, err := c.ExecuteWithRetry(context.Background(), func(context.Context) (interface{}, error) {
		attempts++
		return nil, stderrors.New("rpc error: code = InvalidArgument desc = invalid argument")
	}, "publish")

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, errors.ErrCodeInvalidRequest, errors.CodeOf(err))
}

func TestExecuteWithRetry_MapsTimeouts(t *testing.T) {
	c := testClient()

	_, err := c.ExecuteWithRetry(context.Background(), func(context.Context) (interface{}, error) {
		return nil, stderrors.New("context deadline exceeded")
	}, "complete")

	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeTimeout, errors.CodeOf(err))
}

func TestIsRetryableZeebeError(t *testing.T) {
	assert.True(t, isRetryableZeebeError(stderrors.New("connection reset by peer")))
	assert.True(t, isRetryableZeebeError(stderrors.New("Unavailable")))
	assert.False(t, isRetryableZeebeError(stderrors.New("NOT_FOUND: job 1")))
}
