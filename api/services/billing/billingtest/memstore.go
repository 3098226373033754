// Package billingtest provides an in-memory billing store for tests.
package billingtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	billingdb "github.com/tbeaudouin05/sitterhub-billing/api/services/billing/db"
	"github.com/tbeaudouin05/sitterhub-billing/api/services/billing/features"
)

type state struct {
	users  map[string]billingdb.UserPlan
	subs   []billingdb.Subscription
	events map[string]billingdb.BillingEvent
}

func (s state) clone() state {
	cp := state{
		users:  make(map[string]billingdb.UserPlan, len(s.users)),
		subs:   make([]billingdb.Subscription, len(s.subs)),
		events: make(map[string]billingdb.BillingEvent, len(s.events)),
	}
	for k, v := range s.users {
		cp.users[k] = v
	}
	copy(cp.subs, s.subs)
	for k, v := range s.events {
		cp.events[k] = v
	}
	return cp
}

// MemoryStore implements billingdb.Store in memory. Transactions are fully serialized
// and roll back every change when fn returns an error.
type MemoryStore struct {
	mu    sync.Mutex
	st    state
	fail  map[string]error
	clock time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		st:    state{users: map[string]billingdb.UserPlan{}, events: map[string]billingdb.BillingEvent{}},
		fail:  map[string]error{},
		clock: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// AddUser creates a profile row on the basic plan.
func (m *MemoryStore) AddUser(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.users[userID] = billingdb.UserPlan{UserID: userID, Tier: features.TierBasic, Entitlements: features.FeaturesFor(features.TierBasic)}
}

// FailOn makes the named Store method return err until cleared with a nil err.
func (m *MemoryStore) FailOn(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.fail, method)
		return
	}
	m.fail[method] = err
}

// Subscriptions returns every stored subscription row in insertion order.
func (m *MemoryStore) Subscriptions() []billingdb.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]billingdb.Subscription(nil), m.st.subs...)
}

// Events returns the recorded billing ledger keyed by event id.
func (m *MemoryStore) Events() map[string]billingdb.BillingEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.clone().events
}

// SetStatus overwrites a subscription status without going through the service.
func (m *MemoryStore) SetStatus(subscriptionID string, status billingdb.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.st.subs {
		if m.st.subs[i].ID == subscriptionID {
			m.st.subs[i].Status = status
		}
	}
}

func (m *MemoryStore) run(ctx context.Context, fn func(*txStore) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	snapshot := m.st.clone()
	if err := fn(&txStore{m: m}); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

func (m *MemoryStore) Tx(ctx context.Context, fn func(billingdb.Store) error) error {
	return m.run(ctx, func(tx *txStore) error { return fn(tx) })
}

func (m *MemoryStore) LockUser(ctx context.Context, userID string) error {
	return m.run(ctx, func(tx *txStore) error { return tx.LockUser(ctx, userID) })
}

func (m *MemoryStore) UserExists(ctx context.Context, userID string) (ok bool, err error) {
	err = m.run(ctx, func(tx *txStore) error {
		ok, err = tx.UserExists(ctx, userID)
		return err
	})
	return ok, err
}

func (m *MemoryStore) ListUserIDs(ctx context.Context) (ids []string, err error) {
	err = m.run(ctx, func(tx *txStore) error {
		ids, err = tx.ListUserIDs(ctx)
		return err
	})
	return ids, err
}

func (m *MemoryStore) GetEntitlements(ctx context.Context, userID string) (plan billingdb.UserPlan, err error) {
	err = m.run(ctx, func(tx *txStore) error {
		plan, err = tx.GetEntitlements(ctx, userID)
		return err
	})
	return plan, err
}

func (m *MemoryStore) UpsertEntitlements(ctx context.Context, userID string, tier features.PlanTier) (version time.Time, err error) {
	err = m.run(ctx, func(tx *txStore) error {
		version, err = tx.UpsertEntitlements(ctx, userID, tier)
		return err
	})
	return version, err
}

func (m *MemoryStore) GetActiveSubscription(ctx context.Context, userID string) (sub *billingdb.Subscription, err error) {
	err = m.run(ctx, func(tx *txStore) error {
		sub, err = tx.GetActiveSubscription(ctx, userID)
		return err
	})
	return sub, err
}

func (m *MemoryStore) GetAllSubscriptions(ctx context.Context, userID string) (subs []billingdb.Subscription, err error) {
	err = m.run(ctx, func(tx *txStore) error {
		subs, err = tx.GetAllSubscriptions(ctx, userID)
		return err
	})
	return subs, err
}

func (m *MemoryStore) GetSubscriptionByStripeID(ctx context.Context, id string) (sub billingdb.Subscription, err error) {
	err = m.run(ctx, func(tx *txStore) error {
		sub, err = tx.GetSubscriptionByStripeID(ctx, id)
		return err
	})
	return sub, err
}

func (m *MemoryStore) GetSubscriptionBySessionRef(ctx context.Context, ref string) (sub billingdb.Subscription, err error) {
	err = m.run(ctx, func(tx *txStore) error {
		sub, err = tx.GetSubscriptionBySessionRef(ctx, ref)
		return err
	})
	return sub, err
}

func (m *MemoryStore) TransitionSubscription(ctx context.Context, id string, status billingdb.Status) error {
	return m.run(ctx, func(tx *txStore) error { return tx.TransitionSubscription(ctx, id, status) })
}

func (m *MemoryStore) CreateSubscriptionIfAbsent(ctx context.Context, ref string, in billingdb.NewSubscription) (created bool, sub billingdb.Subscription, err error) {
	err = m.run(ctx, func(tx *txStore) error {
		created, sub, err = tx.CreateSubscriptionIfAbsent(ctx, ref, in)
		return err
	})
	return created, sub, err
}

func (m *MemoryStore) RecordBillingEvent(ctx context.Context, evt billingdb.BillingEvent) (ok bool, err error) {
	err = m.run(ctx, func(tx *txStore) error {
		ok, err = tx.RecordBillingEvent(ctx, evt)
		return err
	})
	return ok, err
}

// txStore operates on MemoryStore state while the store mutex is held.
type txStore struct{ m *MemoryStore }

func (t *txStore) tick() time.Time {
	t.m.clock = t.m.clock.Add(time.Second)
	return t.m.clock
}

func (t *txStore) Tx(_ context.Context, fn func(billingdb.Store) error) error { return fn(t) }

func (t *txStore) LockUser(_ context.Context, userID string) error {
	if err := t.m.fail["LockUser"]; err != nil {
		return err
	}
	if _, ok := t.m.st.users[userID]; !ok {
		return billingdb.ErrProfileNotFound
	}
	return nil
}

func (t *txStore) UserExists(_ context.Context, userID string) (bool, error) {
	if err := t.m.fail["UserExists"]; err != nil {
		return false, err
	}
	_, ok := t.m.st.users[userID]
	return ok, nil
}

func (t *txStore) ListUserIDs(context.Context) ([]string, error) {
	if err := t.m.fail["ListUserIDs"]; err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(t.m.st.users))
	for id := range t.m.st.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (t *txStore) GetEntitlements(_ context.Context, userID string) (billingdb.UserPlan, error) {
	if err := t.m.fail["GetEntitlements"]; err != nil {
		return billingdb.UserPlan{}, err
	}
	plan, ok := t.m.st.users[userID]
	if !ok {
		return billingdb.UserPlan{}, billingdb.ErrProfileNotFound
	}
	return plan, nil
}

func (t *txStore) UpsertEntitlements(_ context.Context, userID string, tier features.PlanTier) (time.Time, error) {
	if err := t.m.fail["UpsertEntitlements"]; err != nil {
		return time.Time{}, err
	}
	if _, ok := t.m.st.users[userID]; !ok {
		return time.Time{}, billingdb.ErrProfileNotFound
	}
	now := t.tick()
	t.m.st.users[userID] = billingdb.UserPlan{UserID: userID, Tier: tier, Entitlements: features.FeaturesFor(tier), PlanUpdatedAt: &now}
	return now, nil
}

func (t *txStore) GetActiveSubscription(_ context.Context, userID string) (*billingdb.Subscription, error) {
	if err := t.m.fail["GetActiveSubscription"]; err != nil {
		return nil, err
	}
	for i := len(t.m.st.subs) - 1; i >= 0; i-- {
		s := t.m.st.subs[i]
		if s.UserID == userID && s.Status == billingdb.StatusActive {
			return &s, nil
		}
	}
	return nil, nil
}

func (t *txStore) GetAllSubscriptions(_ context.Context, userID string) ([]billingdb.Subscription, error) {
	if err := t.m.fail["GetAllSubscriptions"]; err != nil {
		return nil, err
	}
	out := []billingdb.Subscription{}
	for i := len(t.m.st.subs) - 1; i >= 0; i-- {
		if t.m.st.subs[i].UserID == userID {
			out = append(out, t.m.st.subs[i])
		}
	}
	return out, nil
}

func (t *txStore) find(match func(billingdb.Subscription) bool) (billingdb.Subscription, error) {
	for i := len(t.m.st.subs) - 1; i >= 0; i-- {
		if match(t.m.st.subs[i]) {
			return t.m.st.subs[i], nil
		}
	}
	return billingdb.Subscription{}, billingdb.ErrNotFound
}

func (t *txStore) GetSubscriptionByStripeID(_ context.Context, id string) (billingdb.Subscription, error) {
	if err := t.m.fail["GetSubscriptionByStripeID"]; err != nil {
		return billingdb.Subscription{}, err
	}
	if id == "" {
		return billingdb.Subscription{}, billingdb.ErrNotFound
	}
	return t.find(func(s billingdb.Subscription) bool { return s.StripeSubscriptionID == id })
}

func (t *txStore) GetSubscriptionBySessionRef(_ context.Context, ref string) (billingdb.Subscription, error) {
	return t.find(func(s billingdb.Subscription) bool { return s.StripeSessionID == ref })
}

func (t *txStore) TransitionSubscription(_ context.Context, id string, status billingdb.Status) error {
	if err := t.m.fail["TransitionSubscription"]; err != nil {
		return err
	}
	for i := range t.m.st.subs {
		if t.m.st.subs[i].ID == id {
			t.m.st.subs[i].Status = status
			t.m.st.subs[i].UpdatedAt = t.tick()
			return nil
		}
	}
	return billingdb.ErrNotFound
}

func (t *txStore) CreateSubscriptionIfAbsent(ctx context.Context, ref string, in billingdb.NewSubscription) (bool, billingdb.Subscription, error) {
	if err := t.m.fail["CreateSubscriptionIfAbsent"]; err != nil {
		return false, billingdb.Subscription{}, err
	}
	if err := t.LockUser(ctx, in.UserID); err != nil {
		return false, billingdb.Subscription{}, err
	}
	if existing, err := t.GetSubscriptionBySessionRef(ctx, ref); err == nil {
		return false, existing, nil
	}
	now := t.tick()
	startedAt := in.StartedAt.UTC()
	if in.StartedAt.IsZero() {
		startedAt = now
	}
	status := billingdb.StatusActive
	for _, s := range t.m.st.subs {
		if s.UserID == in.UserID && sessionAfter(s.StartedAt, s.StripeSessionID, startedAt, ref) {
			status = billingdb.StatusCancelled
		}
	}
	if status == billingdb.StatusActive {
		for i := range t.m.st.subs {
			s := &t.m.st.subs[i]
			if s.UserID == in.UserID && s.Status != billingdb.StatusCancelled && sessionAfter(startedAt, ref, s.StartedAt, s.StripeSessionID) {
				s.Status = billingdb.StatusCancelled
				s.UpdatedAt = now
			}
		}
	}
	meta := map[string]string{}
	for k, v := range in.Metadata {
		meta[k] = v
	}
	sub := billingdb.Subscription{
		ID:                   uuid.NewString(),
		UserID:               in.UserID,
		UserType:             in.UserType,
		PlanType:             in.PlanType,
		Status:               status,
		StripeCustomerID:     in.StripeCustomerID,
		StripeSubscriptionID: in.StripeSubscriptionID,
		StripeSessionID:      ref,
		AmountPaid:           in.AmountPaid,
		Currency:             in.Currency,
		BillingInterval:      in.BillingInterval,
		StartedAt:            startedAt,
		EndsAt:               in.EndsAt,
		Metadata:             meta,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	t.m.st.subs = append(t.m.st.subs, sub)
	return true, sub, nil
}

// sessionAfter orders sessions by (started_at, session ref), matching the Postgres row comparison.
func sessionAfter(at time.Time, ref string, than time.Time, thanRef string) bool {
	if !at.Equal(than) {
		return at.After(than)
	}
	return ref > thanRef
}

func (t *txStore) RecordBillingEvent(_ context.Context, evt billingdb.BillingEvent) (bool, error) {
	if err := t.m.fail["RecordBillingEvent"]; err != nil {
		return false, err
	}
	if _, ok := t.m.st.events[evt.EventID]; ok {
		return false, nil
	}
	t.m.st.events[evt.EventID] = evt
	return true, nil
}
