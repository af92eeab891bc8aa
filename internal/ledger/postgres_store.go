// internal/ledger/postgres_store.go
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"action-engine/internal/models"

	"github.com/lib/pq"
)

// Schema is the DDL for the ledger tables.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS subscription_tiers (
		id          BIGSERIAL PRIMARY KEY,
		name        TEXT NOT NULL,
		price       BIGINT NOT NULL,
		duration_ms BIGINT NOT NULL,
		max_queries BIGINT NOT NULL,
		max_actions BIGINT NOT NULL,
		features    TEXT[] NOT NULL DEFAULT '{}',
		active      BOOLEAN NOT NULL DEFAULT TRUE,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS subscriptions (
		id            BIGSERIAL PRIMARY KEY,
		owner         TEXT NOT NULL,
		tier_id       BIGINT NOT NULL REFERENCES subscription_tiers(id),
		terms         JSONB NOT NULL,
		start_time    TIMESTAMPTZ NOT NULL,
		end_time      TIMESTAMPTZ NOT NULL,
		paid_amount   BIGINT NOT NULL,
		referrer      TEXT NOT NULL DEFAULT '',
		active        BOOLEAN NOT NULL,
		renewal_count INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_subscriptions_owner ON subscriptions(owner)`,
	`CREATE TABLE IF NOT EXISTS active_subscriptions (
		owner           TEXT PRIMARY KEY,
		subscription_id BIGINT NOT NULL REFERENCES subscriptions(id)
	)`,
	`CREATE TABLE IF NOT EXISTS usage_counters (
		owner        TEXT PRIMARY KEY,
		queries_used BIGINT NOT NULL DEFAULT 0,
		actions_used BIGINT NOT NULL DEFAULT 0,
		cycle_start  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS referral_earnings (
		owner   TEXT PRIMARY KEY,
		balance BIGINT NOT NULL DEFAULT 0
	)`,
}

const (
	tierColumns = `id, name, price, duration_ms, max_queries, max_actions, features, active, created_at`
	subColumns  = `id, owner, tier_id, terms, start_time, end_time, paid_amount, referrer, active, renewal_count`
)

// PostgresStore implements Store on lib/pq.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *PostgresStore) CreateTier(ctx context.Context, tier *models.SubscriptionTier) (uint64, error) {
	var id uint64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO subscription_tiers (name, price, duration_ms, max_queries, max_actions, features, active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		tier.Name, tier.Price, tier.Duration.Milliseconds(), tier.MaxQueries, tier.MaxActions,
		pq.Array(tier.Features), tier.Active, tier.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert tier: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) GetTier(ctx context.Context, id uint64) (*models.SubscriptionTier, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+tierColumns+` FROM subscription_tiers WHERE id = $1`, id)
	tier, err := scanTier(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return tier, err
}

func (s *PostgresStore) ListTiers(ctx context.Context) ([]*models.SubscriptionTier, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+tierColumns+` FROM subscription_tiers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list tiers: %w", err)
	}
	defer rows.Close()

	var tiers []*models.SubscriptionTier
	for rows.Next() {
		tier, err := scanTier(rows)
		if err != nil {
			return nil, err
		}
		tiers = append(tiers, tier)
	}
	return tiers, rows.Err()
}

func scanTier(row rowScanner) (*models.SubscriptionTier, error) {
	var (
		t          models.SubscriptionTier
		durationMs int64
		features   pq.StringArray
	)
	if err := row.Scan(&t.ID, &t.Name, &t.Price, &durationMs, &t.MaxQueries, &t.MaxActions, &features, &t.Active, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.Duration = time.Duration(durationMs) * time.Millisecond
	t.Features = []string(features)
	return &t, nil
}

func (s *PostgresStore) SetTierActive(ctx context.Context, id uint64, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE subscription_tiers SET active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("update tier: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) InsertSubscription(ctx context.Context, sub *models.Subscription, usage *models.UsageCounter) (uint64, error) {
	terms, err := json.Marshal(sub.Terms)
	if err != nil {
		return 0, fmt.Errorf("marshal terms: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id uint64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO subscriptions (owner, tier_id, terms, start_time, end_time, paid_amount, referrer, active, renewal_count)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		sub.Owner, sub.TierID, terms, sub.StartTime, sub.EndTime, sub.PaidAmount, sub.Referrer, sub.Active, sub.RenewalCount,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert subscription: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO active_subscriptions (owner, subscription_id) VALUES ($1, $2)
		 ON CONFLICT (owner) DO UPDATE SET subscription_id = EXCLUDED.subscription_id`,
		sub.Owner, id,
	); err != nil {
		return 0, fmt.Errorf("set active subscription: %w", err)
	}

	if err := putUsage(ctx, tx, usage); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) GetSubscription(ctx context.Context, id uint64) (*models.Subscription, error) {
	var (
		sub   models.Subscription
		terms []byte
	)
	err := s.db.QueryRowContext(ctx, `SELECT `+subColumns+` FROM subscriptions WHERE id = $1`, id).Scan(
		&sub.ID, &sub.Owner, &sub.TierID, &terms, &sub.StartTime, &sub.EndTime,
		&sub.PaidAmount, &sub.Referrer, &sub.Active, &sub.RenewalCount,
	)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	if err := json.Unmarshal(terms, &sub.Terms); err != nil {
		return nil, fmt.Errorf("decode terms: %w", err)
	}
	return &sub, nil
}

func (s *PostgresStore) UpdateSubscription(ctx context.Context, sub *models.Subscription) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET end_time = $2, active = $3, renewal_count = $4 WHERE id = $1`,
		sub.ID, sub.EndTime, sub.Active, sub.RenewalCount,
	)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) ActiveSubscriptionID(ctx context.Context, owner string) (uint64, error) {
	var id uint64
	err := s.db.QueryRowContext(ctx, `SELECT subscription_id FROM active_subscriptions WHERE owner = $1`, owner).Scan(&id)
	if stderrors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("get active subscription: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) ClearActiveSubscription(ctx context.Context, owner string, id uint64) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM active_subscriptions WHERE owner = $1 AND subscription_id = $2`, owner, id,
	); err != nil {
		return fmt.Errorf("clear active subscription: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUsage(ctx context.Context, owner string) (*models.UsageCounter, error) {
	var u models.UsageCounter
	err := s.db.QueryRowContext(ctx,
		`SELECT owner, queries_used, actions_used, cycle_start FROM usage_counters WHERE owner = $1`, owner,
	).Scan(&u.Owner, &u.QueriesUsed, &u.ActionsUsed, &u.CycleStart)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get usage: %w", err)
	}
	return &u, nil
}

// addUsageSQL resets a due cycle and adds the deltas in one statement. The
// conflict branch only updates while both limits hold, so a refused
// increment returns no row.
const addUsageSQL = `INSERT INTO usage_counters AS u (owner, queries_used, actions_used, cycle_start)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (owner) DO UPDATE SET
		queries_used = (CASE WHEN u.cycle_start <= $5 THEN 0 ELSE u.queries_used END) + EXCLUDED.queries_used,
		actions_used = (CASE WHEN u.cycle_start <= $5 THEN 0 ELSE u.actions_used END) + EXCLUDED.actions_used,
		cycle_start  = CASE WHEN u.cycle_start <= $5 THEN $6 ELSE u.cycle_start END
	WHERE (CASE WHEN u.cycle_start <= $5 THEN 0 ELSE u.queries_used END) + EXCLUDED.queries_used <= $7
	  AND (CASE WHEN u.cycle_start <= $5 THEN 0 ELSE u.actions_used END) + EXCLUDED.actions_used <= $8
	RETURNING owner, queries_used, actions_used, cycle_start`

func (s *PostgresStore) AddUsage(ctx context.Context, owner string, inc UsageIncrement) (*models.UsageCounter, error) {
	if inc.Queries > inc.MaxQueries || inc.Actions > inc.MaxActions {
		return nil, ErrUsageLimit
	}

	var u models.UsageCounter
	err := s.db.QueryRowContext(ctx, addUsageSQL,
		owner, inc.Queries, inc.Actions, inc.CycleStart, inc.DueBefore, inc.Now, inc.MaxQueries, inc.MaxActions,
	).Scan(&u.Owner, &u.QueriesUsed, &u.ActionsUsed, &u.CycleStart)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, ErrUsageLimit
	}
	if err != nil {
		return nil, fmt.Errorf("add usage: %w", err)
	}
	return &u, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func putUsage(ctx context.Context, db execer, u *models.UsageCounter) error {
	if _, err := db.ExecContext(ctx,
		`INSERT INTO usage_counters (owner, queries_used, actions_used, cycle_start) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (owner) DO UPDATE SET queries_used = EXCLUDED.queries_used,
		 actions_used = EXCLUDED.actions_used, cycle_start = EXCLUDED.cycle_start`,
		u.Owner, u.QueriesUsed, u.ActionsUsed, u.CycleStart,
	); err != nil {
		return fmt.Errorf("put usage: %w", err)
	}
	return nil
}

func (s *PostgresStore) AddEarnings(ctx context.Context, owner string, amount int64) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO referral_earnings (owner, balance) VALUES ($1, $2)
		 ON CONFLICT (owner) DO UPDATE SET balance = referral_earnings.balance + EXCLUDED.balance`,
		owner, amount,
	); err != nil {
		return fmt.Errorf("add earnings: %w", err)
	}
	return nil
}

func (s *PostgresStore) SubtractEarnings(ctx context.Context, owner string, amount int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE referral_earnings SET balance = balance - $2 WHERE owner = $1`, owner, amount,
	)
	if err != nil {
		return fmt.Errorf("subtract earnings: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) GetEarnings(ctx context.Context, owner string) (int64, error) {
	var bal int64
	err := s.db.QueryRowContext(ctx, `SELECT balance FROM referral_earnings WHERE owner = $1`, owner).Scan(&bal)
	if stderrors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get earnings: %w", err)
	}
	return bal, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
