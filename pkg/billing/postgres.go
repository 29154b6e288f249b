package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/notewise/notewise/pkg/plans"
)

// Schema creates the tables used by PostgresStore
const Schema = `
CREATE TABLE IF NOT EXISTS subscriptions (
	user_id                  TEXT PRIMARY KEY,
	external_customer_id     TEXT NOT NULL DEFAULT '',
	external_subscription_id TEXT,
	plan_id                  TEXT NOT NULL DEFAULT 'free',
	status                   TEXT NOT NULL DEFAULT 'none',
	current_period_end       TIMESTAMPTZ,
	last_event_at            TIMESTAMPTZ,
	version                  BIGINT NOT NULL DEFAULT 0,
	created_at               TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at               TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_subscriptions_external_subscription_id
	ON subscriptions (external_subscription_id) WHERE external_subscription_id IS NOT NULL;

CREATE INDEX IF NOT EXISTS idx_subscriptions_external_customer_id
	ON subscriptions (external_customer_id) WHERE external_customer_id <> '';

CREATE TABLE IF NOT EXISTS processed_events (
	event_id     TEXT PRIMARY KEY,
	event_type   TEXT NOT NULL,
	user_id      TEXT NOT NULL,
	processed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_processed_events_processed_at ON processed_events (processed_at);

CREATE TABLE IF NOT EXISTS usage_counters (
	user_id              TEXT PRIMARY KEY,
	transformations_used INTEGER NOT NULL DEFAULT 0 CHECK (transformations_used >= 0),
	cycle_start          TIMESTAMPTZ NOT NULL,
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

const subscriptionColumns = `user_id, external_customer_id, external_subscription_id, plan_id, status,
	current_period_end, last_event_at, version, created_at, updated_at`

// PostgresStore implements Store on PostgreSQL. Subscription writes take a
// row lock with SELECT ... FOR UPDATE; usage consumption is a single
// conditional UPDATE.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the schema if it does not exist
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to migrate billing schema: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSubscription(row rowScanner) (*Subscription, error) {
	sub := &Subscription{}
	var (
		externalSubID sql.NullString
		planID        string
		status        string
		periodEnd     sql.NullTime
		lastEventAt   sql.NullTime
	)

	err := row.Scan(
		&sub.UserID, &sub.ExternalCustomerID, &externalSubID, &planID, &status,
		&periodEnd, &lastEventAt, &sub.Version, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	sub.ExternalSubscriptionID = externalSubID.String
	sub.PlanID = plans.PlanID(planID)
	sub.Status = SubscriptionStatus(status)
	if periodEnd.Valid {
		t := periodEnd.Time
		sub.CurrentPeriodEnd = &t
	}
	if lastEventAt.Valid {
		t := lastEventAt.Time
		sub.LastEventAt = &t
	}
	return sub, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// GetSubscription retrieves the subscription for a user
func (s *PostgresStore) GetSubscription(ctx context.Context, userID string) (*Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE user_id = $1`

	sub, err := scanSubscription(s.db.QueryRowContext(ctx, query, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

// EnsureSubscription returns the user's record, creating the implicit one
func (s *PostgresStore) EnsureSubscription(ctx context.Context, userID string) (*Subscription, error) {
	if err := ensureRow(ctx, s.db, userID); err != nil {
		return nil, err
	}
	return s.GetSubscription(ctx, userID)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func ensureRow(ctx context.Context, db execer, userID string) error {
	query := `INSERT INTO subscriptions (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`
	if _, err := db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

// SetCustomerID stores customerID if the user has none yet
func (s *PostgresStore) SetCustomerID(ctx context.Context, userID, customerID string) (string, error) {
	if err := ensureRow(ctx, s.db, userID); err != nil {
		return "", err
	}

	query := `
		UPDATE subscriptions
		SET external_customer_id = CASE WHEN external_customer_id = '' THEN $2 ELSE external_customer_id END,
		    version = CASE WHEN external_customer_id = '' THEN version + 1 ELSE version END,
		    updated_at = NOW()
		WHERE user_id = $1
		RETURNING external_customer_id
	`
	var stored string
	if err := s.db.QueryRowContext(ctx, query, userID, customerID).Scan(&stored); err != nil {
		return "", fmt.Errorf("failed to set customer id: %w", err)
	}
	return stored, nil
}

// FindUserBySubscriptionID looks up the user owning a provider subscription
func (s *PostgresStore) FindUserBySubscriptionID(ctx context.Context, subscriptionID string) (string, error) {
	query := `SELECT user_id FROM subscriptions WHERE external_subscription_id = $1 ORDER BY updated_at DESC LIMIT 1`
	return s.findUser(ctx, query, subscriptionID)
}

// FindUserByCustomerID looks up the user owning a provider customer
func (s *PostgresStore) FindUserByCustomerID(ctx context.Context, customerID string) (string, error) {
	query := `SELECT user_id FROM subscriptions WHERE external_customer_id = $1 ORDER BY updated_at DESC LIMIT 1`
	return s.findUser(ctx, query, customerID)
}

func (s *PostgresStore) findUser(ctx context.Context, query, key string) (string, error) {
	if key == "" {
		return "", ErrNotFound
	}
	var userID string
	err := s.db.QueryRowContext(ctx, query, key).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up user: %w", err)
	}
	return userID, nil
}

// UpdateSubscription applies fn under a row lock
func (s *PostgresStore) UpdateSubscription(ctx context.Context, userID string, fn MutateFunc) (*Subscription, error) {
	return s.inTx(ctx, func(tx *sql.Tx) (*Subscription, error) {
		return mutateTx(ctx, tx, userID, fn)
	})
}

// ApplyEvent records the event id and applies fn in one transaction
func (s *PostgresStore) ApplyEvent(ctx context.Context, userID string, event ProcessedEvent, fn MutateFunc) (*Subscription, error) {
	return s.inTx(ctx, func(tx *sql.Tx) (*Subscription, error) {
		query := `
			INSERT INTO processed_events (event_id, event_type, user_id)
			VALUES ($1, $2, $3)
			ON CONFLICT (event_id) DO NOTHING
		`
		res, err := tx.ExecContext(ctx, query, event.EventID, event.EventType, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to record event: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("failed to record event: %w", err)
		}
		if n == 0 {
			return nil, ErrDuplicateEvent
		}

		return mutateTx(ctx, tx, userID, fn)
	})
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(tx *sql.Tx) (*Subscription, error)) (*Subscription, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	sub, err := fn(tx)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return sub, nil
}

func mutateTx(ctx context.Context, tx *sql.Tx, userID string, fn MutateFunc) (*Subscription, error) {
	if err := ensureRow(ctx, tx, userID); err != nil {
		return nil, err
	}

	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE user_id = $1 FOR UPDATE`
	sub, err := scanSubscription(tx.QueryRowContext(ctx, query, userID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock subscription: %w", err)
	}

	if err := fn(sub); err != nil {
		if errors.Is(err, ErrNoChange) {
			return sub, nil
		}
		return nil, err
	}

	update := `
		UPDATE subscriptions
		SET external_customer_id = $2,
		    external_subscription_id = $3,
		    plan_id = $4,
		    status = $5,
		    current_period_end = $6,
		    last_event_at = $7,
		    version = version + 1,
		    updated_at = NOW()
		WHERE user_id = $1
		RETURNING version, updated_at
	`
	err = tx.QueryRowContext(ctx, update,
		userID, sub.ExternalCustomerID, nullString(sub.ExternalSubscriptionID), string(sub.PlanID),
		string(sub.Status), nullTime(sub.CurrentPeriodEnd), nullTime(sub.LastEventAt),
	).Scan(&sub.Version, &sub.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to update subscription: %w", err)
	}

	sub.UserID = userID
	return sub, nil
}

// ConsumeTransformation performs the conditional increment in one statement
func (s *PostgresStore) ConsumeTransformation(ctx context.Context, userID string, limit int, cycleStart time.Time) (*UsageCounter, error) {
	insert := `
		INSERT INTO usage_counters (user_id, transformations_used, cycle_start)
		VALUES ($1, 0, $2)
		ON CONFLICT (user_id) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, insert, userID, cycleStart); err != nil {
		return nil, fmt.Errorf("failed to create usage counter: %w", err)
	}

	consume := `
		UPDATE usage_counters
		SET transformations_used = CASE WHEN cycle_start < $3 THEN 1 ELSE transformations_used + 1 END,
		    cycle_start = GREATEST(cycle_start, $3),
		    updated_at = NOW()
		WHERE user_id = $1
		  AND ($2 < 0 OR (CASE WHEN cycle_start < $3 THEN 0 ELSE transformations_used END) < $2)
		RETURNING transformations_used, cycle_start, updated_at
	`
	counter := &UsageCounter{UserID: userID}
	err := s.db.QueryRowContext(ctx, consume, userID, limit, cycleStart).
		Scan(&counter.TransformationsUsed, &counter.CycleStart, &counter.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		current, getErr := s.GetUsage(ctx, userID, cycleStart)
		if getErr != nil {
			return nil, getErr
		}
		return current, ErrQuotaExhausted
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume transformation: %w", err)
	}
	return counter, nil
}

// ReleaseTransformation gives back one unit, never below zero or across cycles
func (s *PostgresStore) ReleaseTransformation(ctx context.Context, userID string, cycleStart time.Time) (*UsageCounter, error) {
	query := `
		UPDATE usage_counters
		SET transformations_used = GREATEST(transformations_used - 1, 0),
		    updated_at = NOW()
		WHERE user_id = $1 AND cycle_start = $2
		RETURNING transformations_used, cycle_start, updated_at
	`
	counter := &UsageCounter{UserID: userID}
	err := s.db.QueryRowContext(ctx, query, userID, cycleStart).
		Scan(&counter.TransformationsUsed, &counter.CycleStart, &counter.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return s.GetUsage(ctx, userID, cycleStart)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to release transformation: %w", err)
	}
	return counter, nil
}

// GetUsage returns the usage counter as seen from cycleStart
func (s *PostgresStore) GetUsage(ctx context.Context, userID string, cycleStart time.Time) (*UsageCounter, error) {
	query := `SELECT transformations_used, cycle_start, updated_at FROM usage_counters WHERE user_id = $1`

	counter := &UsageCounter{UserID: userID}
	err := s.db.QueryRowContext(ctx, query, userID).
		Scan(&counter.TransformationsUsed, &counter.CycleStart, &counter.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &UsageCounter{UserID: userID, CycleStart: cycleStart}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get usage: %w", err)
	}

	if counter.CycleStart.Before(cycleStart) {
		counter.TransformationsUsed = 0
		counter.CycleStart = cycleStart
	}
	return counter, nil
}

// PruneProcessedEvents deletes processed event ids older than before
func (s *PostgresStore) PruneProcessedEvents(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM processed_events WHERE processed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune processed events: %w", err)
	}
	return res.RowsAffected()
}
