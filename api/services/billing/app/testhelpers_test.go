package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	stripe "github.com/stripe/stripe-go/v82"

	"github.com/tbeaudouin05/sitterhub-billing/api/services/billing/billingtest"
	billingdb "github.com/tbeaudouin05/sitterhub-billing/api/services/billing/db"
	gw "github.com/tbeaudouin05/sitterhub-billing/api/services/billing/gateway"
)

const (
	testUser  = "user_1"
	testOther = "user_2"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeCache is a map-backed SnapshotCache that honors versions like the Redis one.
type fakeCache struct {
	mu       sync.Mutex
	plans    map[string]billingdb.UserPlan
	versions map[string]time.Time
	getErr   error
	putErr   error
	puts     int
	dropped  int
}

func newFakeCache() *fakeCache {
	return &fakeCache{plans: map[string]billingdb.UserPlan{}, versions: map[string]time.Time{}}
}

func (c *fakeCache) Put(_ context.Context, plan billingdb.UserPlan, version time.Time) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.puts++
	if c.putErr != nil {
		return false, c.putErr
	}
	if v, ok := c.versions[plan.UserID]; ok && !version.After(v) {
		return false, nil
	}
	c.plans[plan.UserID] = plan
	c.versions[plan.UserID] = version
	return true, nil
}

func (c *fakeCache) Get(_ context.Context, userID string) (billingdb.UserPlan, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return billingdb.UserPlan{}, false, c.getErr
	}
	p, ok := c.plans[userID]
	return p, ok, nil
}

func (c *fakeCache) Invalidate(_ context.Context, userID string, version time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropped++
	delete(c.plans, userID)
	if v, ok := c.versions[userID]; !ok || version.After(v) {
		c.versions[userID] = version
	}
	return nil
}

func newTestService(t *testing.T, g gw.StripeGateway, cache SnapshotCache) (*serviceImpl, *billingtest.MemoryStore) {
	t.Helper()
	store := billingtest.NewMemoryStore()
	store.AddUser(testUser)
	store.AddUser(testOther)
	svc := NewService(Options{Store: store, Gateway: g, Cache: cache, Logger: discardLogger, BulkConcurrency: 2})
	return svc.(*serviceImpl), store
}

func paidSession(ref, userID string, amount int64) CheckoutSession {
	s := CheckoutSession{
		ID:                ref,
		Status:            "complete",
		PaymentStatus:     "paid",
		ClientReferenceID: userID,
		Customer:          "cus_" + userID,
		Subscription:      "sub_" + ref,
		AmountTotal:       amount,
		Currency:          "eur",
		CustomerEmail:     userID + "@example.com",
	}
	return s
}

func stripeEvent(t *testing.T, id string, typ stripe.EventType, obj any) stripe.Event {
	t.Helper()
	raw, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("failed to marshal event object: %v", err)
	}
	return stripe.Event{ID: id, Type: typ, Data: &stripe.EventData{Raw: raw}}
}
