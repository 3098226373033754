package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tbeaudouin05/sitterhub-billing/api/services/billing/features"
)

// PostgresStore implements Store on database/sql with the lib/pq driver.
type PostgresStore struct {
	db *sql.DB
	q  queryer
	tx *sql.Tx
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, q: db}
}

// Tx runs fn in a transaction. Nested calls reuse the outer transaction.
func (s *PostgresStore) Tx(ctx context.Context, fn func(Store) error) (err error) {
	if s.tx != nil {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = fn(&PostgresStore{db: s.db, q: tx, tx: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) LockUser(ctx context.Context, userID string) error {
	var id string
	err := s.q.QueryRowContext(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrProfileNotFound
	}
	return err
}

func (s *PostgresStore) UserExists(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := s.q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists)
	return exists, err
}

func (s *PostgresStore) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT id FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) GetEntitlements(ctx context.Context, userID string) (UserPlan, error) {
	const query = `
		SELECT id, plan_type, max_contact_requests, max_bookings, max_environment_images,
		       advanced_filters, priority_ranking, premium_badge, show_ads, search_priority, plan_updated_at
		FROM users WHERE id = $1`
	var (
		plan      UserPlan
		tier      string
		updatedAt sql.NullTime
		e         = &plan.Entitlements
	)
	err := s.q.QueryRowContext(ctx, query, userID).Scan(
		&plan.UserID, &tier, &e.MaxContactRequests, &e.MaxBookings, &e.MaxEnvironmentImages,
		&e.AdvancedFilters, &e.PriorityRanking, &e.PremiumBadge, &e.ShowAds, &e.SearchPriority, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return UserPlan{}, ErrProfileNotFound
	}
	if err != nil {
		return UserPlan{}, err
	}
	plan.Tier = features.ParseTier(tier)
	if updatedAt.Valid {
		t := updatedAt.Time
		plan.PlanUpdatedAt = &t
	}
	return plan, nil
}

// UpsertEntitlements writes the tier and every derived entitlement in one statement and
// returns the new plan_updated_at. It is taken with clock_timestamp() so that, under the
// user row lock, versions follow commit order on the database clock.
func (s *PostgresStore) UpsertEntitlements(ctx context.Context, userID string, tier features.PlanTier) (time.Time, error) {
	e := features.FeaturesFor(tier)
	const query = `
		UPDATE users SET
			plan_type = $2,
			max_contact_requests = $3,
			max_bookings = $4,
			max_environment_images = $5,
			advanced_filters = $6,
			priority_ranking = $7,
			premium_badge = $8,
			show_ads = $9,
			search_priority = $10,
			plan_updated_at = clock_timestamp(),
			updated_at = NOW()
		WHERE id = $1
		RETURNING plan_updated_at`
	var version time.Time
	err := s.q.QueryRowContext(ctx, query, userID, string(tier),
		e.MaxContactRequests, e.MaxBookings, e.MaxEnvironmentImages,
		e.AdvancedFilters, e.PriorityRanking, e.PremiumBadge, e.ShowAds, e.SearchPriority).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, ErrProfileNotFound
	}
	if err != nil {
		return time.Time{}, err
	}
	return version, nil
}

const subscriptionColumns = `id, user_id, user_type, plan_type, status, stripe_customer_id, stripe_subscription_id,
	stripe_session_id, amount_paid, currency, billing_interval, started_at, ends_at, metadata, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(r rowScanner) (Subscription, error) {
	var (
		sub      Subscription
		userType string
		plan     string
		status   string
		interval string
		endsAt   sql.NullTime
		meta     []byte
	)
	if err := r.Scan(&sub.ID, &sub.UserID, &userType, &plan, &status, &sub.StripeCustomerID,
		&sub.StripeSubscriptionID, &sub.StripeSessionID, &sub.AmountPaid, &sub.Currency, &interval,
		&sub.StartedAt, &endsAt, &meta, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
		return Subscription{}, err
	}
	sub.UserType = UserType(userType)
	sub.PlanType = features.ParseTier(plan)
	sub.Status = Status(status)
	sub.BillingInterval = BillingInterval(interval)
	if endsAt.Valid {
		t := endsAt.Time
		sub.EndsAt = &t
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &sub.Metadata); err != nil {
			return Subscription{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return sub, nil
}

func (s *PostgresStore) getOne(ctx context.Context, where string, arg any) (Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE ` + where + ` ORDER BY created_at DESC LIMIT 1`
	sub, err := scanSubscription(s.q.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return Subscription{}, ErrNotFound
	}
	return sub, err
}

func (s *PostgresStore) GetActiveSubscription(ctx context.Context, userID string) (*Subscription, error) {
	sub, err := s.getOne(ctx, `user_id = $1 AND status = 'active'`, userID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *PostgresStore) GetAllSubscriptions(ctx context.Context, userID string) ([]Subscription, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id = $1 ORDER BY created_at DESC, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	subs := []Subscription{}
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (s *PostgresStore) GetSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (Subscription, error) {
	if stripeSubscriptionID == "" {
		return Subscription{}, ErrNotFound
	}
	return s.getOne(ctx, `stripe_subscription_id = $1`, stripeSubscriptionID)
}

func (s *PostgresStore) GetSubscriptionBySessionRef(ctx context.Context, sessionRef string) (Subscription, error) {
	return s.getOne(ctx, `stripe_session_id = $1`, sessionRef)
}

func (s *PostgresStore) TransitionSubscription(ctx context.Context, subscriptionID string, status Status) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE subscriptions SET status = $2, updated_at = NOW() WHERE id = $1`, subscriptionID, string(status))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateSubscriptionIfAbsent records the subscription bought through sessionRef.
// When a row for sessionRef already exists it is returned with created=false.
// Sessions are ordered by (started_at, stripe_session_id): older non-cancelled rows of the
// user are cancelled, and when a newer row already exists the incoming one is stored as
// cancelled history, so the final state does not depend on delivery order.
func (s *PostgresStore) CreateSubscriptionIfAbsent(ctx context.Context, sessionRef string, in NewSubscription) (bool, Subscription, error) {
	var (
		created bool
		out     Subscription
	)
	startedAt := in.StartedAt.UTC()
	if in.StartedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	err := s.Tx(ctx, func(st Store) error {
		tx := st.(*PostgresStore)
		if err := tx.LockUser(ctx, in.UserID); err != nil {
			return err
		}
		existing, err := tx.GetSubscriptionBySessionRef(ctx, sessionRef)
		if err == nil {
			out = existing
			return nil
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		var superseded bool
		if err := tx.q.QueryRowContext(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM subscriptions
				WHERE user_id = $1 AND (started_at, stripe_session_id) > ($2::timestamptz, $3::text)
			)`, in.UserID, startedAt, sessionRef).Scan(&superseded); err != nil {
			return err
		}
		status := StatusActive
		if superseded {
			status = StatusCancelled
		} else if _, err := tx.q.ExecContext(ctx, `
			UPDATE subscriptions SET status = 'cancelled', updated_at = NOW()
			WHERE user_id = $1 AND status <> 'cancelled' AND (started_at, stripe_session_id) < ($2::timestamptz, $3::text)`,
			in.UserID, startedAt, sessionRef); err != nil {
			return err
		}
		meta := in.Metadata
		if meta == nil {
			meta = map[string]string{}
		}
		rawMeta, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		var endsAt any
		if in.EndsAt != nil {
			endsAt = *in.EndsAt
		}
		query := `
			INSERT INTO subscriptions (id, user_id, user_type, plan_type, status, stripe_customer_id,
				stripe_subscription_id, stripe_session_id, amount_paid, currency, billing_interval,
				started_at, ends_at, metadata)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			ON CONFLICT (stripe_session_id) DO NOTHING
			RETURNING ` + subscriptionColumns
		sub, err := scanSubscription(tx.q.QueryRowContext(ctx, query,
			uuid.NewString(), in.UserID, string(in.UserType), string(in.PlanType), string(status),
			in.StripeCustomerID, in.StripeSubscriptionID, sessionRef, in.AmountPaid, in.Currency,
			string(in.BillingInterval), startedAt, endsAt, string(rawMeta)))
		if errors.Is(err, sql.ErrNoRows) {
			// A concurrent writer committed the same session first.
			existing, err := tx.GetSubscriptionBySessionRef(ctx, sessionRef)
			if err != nil {
				return err
			}
			out = existing
			return nil
		}
		if err != nil {
			return err
		}
		created, out = true, sub
		return nil
	})
	if err != nil {
		return false, Subscription{}, err
	}
	return created, out, nil
}

func (s *PostgresStore) RecordBillingEvent(ctx context.Context, evt BillingEvent) (bool, error) {
	// jsonb params go over the wire as text; binary_parameters would mangle []byte.
	payload := evt.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO billing_history (event_id, event_type, user_id, stripe_customer_id,
			stripe_subscription_id, provider_status, amount, currency, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (event_id) DO NOTHING`,
		evt.EventID, evt.EventType, evt.UserID, evt.StripeCustomerID, evt.StripeSubscriptionID,
		evt.ProviderStatus, evt.Amount, evt.Currency, string(payload))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
