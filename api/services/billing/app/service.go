package app

import (
	"context"
	"log/slog"
	"time"

	billingdb "github.com/tbeaudouin05/sitterhub-billing/api/services/billing/db"
	gw "github.com/tbeaudouin05/sitterhub-billing/api/services/billing/gateway"
)

// Service defines the business operations of the billing domain.
type Service interface {
	SyncUser(ctx context.Context, userID string, trigger Trigger) SyncResult
	SyncAllUsers(ctx context.Context) (BulkSyncReport, error)
	CreateOrRecognizeSubscription(ctx context.Context, sessionRef string, session CheckoutSession) (SubscriptionResult, error)
	ConfirmCheckoutSession(ctx context.Context, sessionID, callerUserID string) (SubscriptionResult, error)
	HandleEvent(ctx context.Context, event Event) error
	GetEntitlements(ctx context.Context, userID string) (billingdb.UserPlan, error)
	ListSubscriptions(ctx context.Context, userID string) ([]billingdb.Subscription, error)
}

// SnapshotCache is the write-through cache of entitlement snapshots.
// Invalidate drops the snapshot and keeps version so that older writes stay rejected.
type SnapshotCache interface {
	Put(ctx context.Context, plan billingdb.UserPlan, version time.Time) (bool, error)
	Get(ctx context.Context, userID string) (billingdb.UserPlan, bool, error)
	Invalidate(ctx context.Context, userID string, version time.Time) error
}

// Options configures NewService. Cache and Logger are optional.
type Options struct {
	Store           billingdb.Store
	Gateway         gw.StripeGateway
	Cache           SnapshotCache
	Logger          *slog.Logger
	BulkConcurrency int
}

type serviceImpl struct {
	store    billingdb.Store
	gw       gw.StripeGateway
	cache    SnapshotCache
	log      *slog.Logger
	bulkSize int
}

func NewService(opts Options) Service {
	s := &serviceImpl{
		store:    opts.Store,
		gw:       opts.Gateway,
		cache:    opts.Cache,
		log:      opts.Logger,
		bulkSize: opts.BulkConcurrency,
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.bulkSize < 1 {
		s.bulkSize = 4
	}
	return s
}

// GetEntitlements reads the snapshot from the cache, falling back to the store.
// The read path never populates the cache.
func (s *serviceImpl) GetEntitlements(ctx context.Context, userID string) (billingdb.UserPlan, error) {
	if s.cache != nil {
		plan, ok, err := s.cache.Get(ctx, userID)
		if err != nil {
			s.log.Warn("entitlement cache read failed, falling back to store", "user_id", userID, "err", err)
		} else if ok {
			return plan, nil
		}
	}
	plan, err := s.store.GetEntitlements(ctx, userID)
	if err != nil {
		return billingdb.UserPlan{}, storeErr("get entitlements", err)
	}
	return plan, nil
}

// ListSubscriptions returns the user's subscription history, newest first.
func (s *serviceImpl) ListSubscriptions(ctx context.Context, userID string) ([]billingdb.Subscription, error) {
	exists, err := s.store.UserExists(ctx, userID)
	if err != nil {
		return nil, storeErr("user exists", err)
	}
	if !exists {
		return nil, ErrProfileNotFound
	}
	subs, err := s.store.GetAllSubscriptions(ctx, userID)
	if err != nil {
		return nil, storeErr("list subscriptions", err)
	}
	return subs, nil
}
