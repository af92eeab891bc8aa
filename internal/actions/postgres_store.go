// internal/actions/postgres_store.go
package actions

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"

	"action-engine/internal/models"

	"github.com/lib/pq"
)

// Schema is the DDL for the action table.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS actions (
		id             BIGSERIAL PRIMARY KEY,
		owner          TEXT NOT NULL,
		type           TEXT NOT NULL,
		payload        BYTEA NOT NULL,
		payload_digest TEXT NOT NULL,
		status         TEXT NOT NULL,
		created_at     TIMESTAMPTZ NOT NULL,
		updated_at     TIMESTAMPTZ NOT NULL,
		approved_at    TIMESTAMPTZ,
		approver       TEXT NOT NULL DEFAULT '',
		executed_at    TIMESTAMPTZ,
		chat_context   TEXT NOT NULL DEFAULT '',
		target_address TEXT NOT NULL,
		gas_limit      BIGINT NOT NULL DEFAULT 0,
		result         TEXT NOT NULL DEFAULT '',
		requested_by   TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_actions_owner ON actions(owner, id)`,
}

const actionColumns = `id, owner, type, payload, payload_digest, status, created_at, updated_at,
	approved_at, approver, executed_at, chat_context, target_address, gas_limit, result, requested_by`

// PostgresStore implements Store on lib/pq; transitions are single
// conditional UPDATE statements.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *PostgresStore) Create(ctx context.Context, a *models.Action) (uint64, error) {
	var id uint64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO actions (owner, type, payload, payload_digest, status, created_at, updated_at,
			approved_at, approver, executed_at, chat_context, target_address, gas_limit, result, requested_by)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15) RETURNING id`,
		a.Owner, string(a.Type), a.Payload, a.PayloadDigest, string(a.Status), a.CreatedAt, a.UpdatedAt,
		a.ApprovedAt, a.Approver, a.ExecutedAt, a.ChatContext, a.TargetAddress, a.GasLimit, a.Result, a.RequestedBy,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert action: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) Get(ctx context.Context, id uint64) (*models.Action, error) {
	a, err := scanAction(s.db.QueryRowContext(ctx, `SELECT `+actionColumns+` FROM actions WHERE id = $1`, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get action: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) ListByOwner(ctx context.Context, owner string) ([]*models.Action, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+actionColumns+` FROM actions WHERE owner = $1 ORDER BY id`, owner)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	defer rows.Close()

	var out []*models.Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Transition(ctx context.Context, id uint64, from []models.ActionStatus, u models.StatusUpdate) (*models.Action, bool, error) {
	statuses := make([]string, len(from))
	for i, st := range from {
		statuses[i] = string(st)
	}

	a, err := scanAction(s.db.QueryRowContext(ctx,
		`UPDATE actions SET
			status = $2,
			updated_at = $3,
			approver = COALESCE(NULLIF($4, ''), approver),
			approved_at = COALESCE($5, approved_at),
			executed_at = COALESCE($6, executed_at),
			result = COALESCE($7, result)
		 WHERE id = $1 AND status = ANY($8)
		 RETURNING `+actionColumns,
		id, string(u.To), u.At, u.Approver, u.ApprovedAt, u.ExecutedAt, u.Result, pq.Array(statuses),
	))
	if err == nil {
		return a, true, nil
	}
	if !stderrors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("transition action: %w", err)
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

func scanAction(row rowScanner) (*models.Action, error) {
	var (
		a          models.Action
		typ        string
		status     string
		approvedAt sql.NullTime
		executedAt sql.NullTime
	)
	if err := row.Scan(&a.ID, &a.Owner, &typ, &a.Payload, &a.PayloadDigest, &status, &a.CreatedAt, &a.UpdatedAt,
		&approvedAt, &a.Approver, &executedAt, &a.ChatContext, &a.TargetAddress, &a.GasLimit, &a.Result, &a.RequestedBy,
	); err != nil {
		return nil, err
	}
	a.Type = models.ActionType(typ)
	a.Status = models.ActionStatus(status)
	if approvedAt.Valid {
		t := approvedAt.Time
		a.ApprovedAt = &t
	}
	if executedAt.Valid {
		t := executedAt.Time
		a.ExecutedAt = &t
	}
	return &a, nil
}
