package queryactions

import (
	"context"
	"testing"
	"time"

	"action-engine/internal/actions"
	"action-engine/internal/common/errors"
	"action-engine/internal/common/logger"
	"action-engine/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

type fakeReader struct {
	actions map[uint64]*models.Action
}

func (f *fakeReader) GetAction(_ context.Context, id uint64) (*models.Action, error) {
	a, ok := f.actions[id]
	if !ok {
		return nil, errors.NewActionNotFoundError(id)
	}
	return a, nil
}

func (f *fakeReader) GetUserActions(_ context.Context, owner string) ([]*models.Action, error) {
	var out []*models.Action
	for id := uint64(1); id <= uint64(len(f.actions)); id++ {
		if a := f.actions[id]; a != nil && a.Owner == owner {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeReader) GetUserUsage(_ context.Context, owner string) (*actions.UserUsage, error) {
	return &actions.UserUsage{Owner: owner, Subscribed: true, Tier: "Basic", ActionsUsed: 2, MaxActions: 10}, nil
}

func createTestHandler(t *testing.T) *Handler {
	reader := &fakeReader{actions: map[uint64]*models.Action{
		1: {ID: 1, Owner: "alice", Status: models.StatusCompleted},
		2: {ID: 2, Owner: "bob", Status: models.StatusPending},
		3: {ID: 3, Owner: "alice", Status: models.StatusPending},
	}}
	return NewHandler(&Config{Timeout: 5 * time.Second}, reader, logger.NewTestLogger(t))
}

// ==========================
// Core Functionality Tests
// ==========================

func TestHandler_Execute_Get(t *testing.T) {
	h := createTestHandler(t)

	out, err := h.Execute(context.Background(), &Input{Operation: "GET", ActionID: 2})
	require.NoError(t, err)
	assert.Equal(t, "get", out.Operation)
	require.NotNil(t, out.Action)
	assert.Equal(t, "bob", out.Action.Owner)
	assert.Equal(t, 1, out.Count)
}

func TestHandler_Execute_List(t *testing.T) {
	h := createTestHandler(t)

	out, err := h.Execute(context.Background(), &Input{Operation: "list", Owner: "alice"})
	require.NoError(t, err)
	require.Len(t, out.Actions, 2)
	assert.Equal(t, uint64(1), out.Actions[0].ID)
	assert.Equal(t, uint64(3), out.Actions[1].ID)
	assert.Equal(t, 2, out.Count)
}

func TestHandler_Execute_Usage(t *testing.T) {
	h := createTestHandler(t)

	out, err := h.Execute(context.Background(), &Input{Operation: "usage", Owner: "alice"})
	require.NoError(t, err)
	require.NotNil(t, out.Usage)
	assert.Equal(t, "Basic", out.Usage.Tier)
	assert.Equal(t, uint64(2), out.Usage.ActionsUsed)
}

// ==========================
// Error Handling Tests
// ==========================

func TestHandler_Execute_Errors(t *testing.T) {
	tests := []struct {
		name     string
		input    *Input
		expected errors.ErrorCode
	}{
		{"unknown operation", &Input{Operation: "delete"}, errors.ErrCodeInvalidRequest},
		{"get without id", &Input{Operation: "get"}, errors.ErrCodeInvalidRequest},
		{"list without owner", &Input{Operation: "list"}, errors.ErrCodeInvalidRequest},
		{"usage without owner", &Input{Operation: "usage", Owner: " "}, errors.ErrCodeInvalidRequest},
		{"missing action", &Input{Operation: "get", ActionID: 42}, errors.ErrCodeActionNotFound},
	}

	h := createTestHandler(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.Execute(context.Background(), tt.input)
			require.Error(t, err)
			assert.Equal(t, tt.expected, errors.CodeOf(err))
		})
	}
}
