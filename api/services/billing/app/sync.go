package app

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tbeaudouin05/sitterhub-billing/api/metrics"
	billingdb "github.com/tbeaudouin05/sitterhub-billing/api/services/billing/db"
	"github.com/tbeaudouin05/sitterhub-billing/api/services/billing/features"
)

// SyncUser recomputes the user's entitlements from the active subscription, or basic when none.
// Lookup and write happen in one transaction under a lock on the user row, so either both
// complete or nothing is visible. Every trigger runs the exact same computation.
func (s *serviceImpl) SyncUser(ctx context.Context, userID string, trigger Trigger) SyncResult {
	var (
		active  *billingdb.Subscription
		tier    = features.TierBasic
		version time.Time
	)
	err := s.store.Tx(ctx, func(tx billingdb.Store) error {
		if err := tx.LockUser(ctx, userID); err != nil {
			return err
		}
		sub, err := tx.GetActiveSubscription(ctx, userID)
		if err != nil {
			return err
		}
		if sub != nil {
			active = sub
			tier = sub.PlanType
		}
		version, err = tx.UpsertEntitlements(ctx, userID, tier)
		return err
	})
	if err != nil {
		err = storeErr("sync user", err)
		metrics.SyncTotal.WithLabelValues(string(trigger), "error").Inc()
		s.log.Error("entitlement sync failed", "user_id", userID, "trigger", trigger, "err", err)
		return SyncResult{Success: false, Err: err}
	}

	metrics.SyncTotal.WithLabelValues(string(trigger), "success").Inc()
	s.log.Info("entitlements synced", "user_id", userID, "trigger", trigger, "plan", tier)
	s.writeSnapshot(ctx, userID, tier, version)
	return SyncResult{Success: true, Subscription: active, Tier: tier}
}

// writeSnapshot pushes the committed entitlements to the cache. version is the
// plan_updated_at written by the transaction. When the write fails the cached snapshot is
// invalidated instead, so a stale grant is never served after a downgrade.
func (s *serviceImpl) writeSnapshot(ctx context.Context, userID string, tier features.PlanTier, version time.Time) {
	if s.cache == nil {
		return
	}
	updatedAt := version.UTC()
	plan := billingdb.UserPlan{
		UserID:        userID,
		Tier:          tier,
		Entitlements:  features.FeaturesFor(tier),
		PlanUpdatedAt: &updatedAt,
	}
	_, err := s.cache.Put(ctx, plan, version)
	if err == nil {
		return
	}
	s.log.Warn("entitlement cache write failed, invalidating", "user_id", userID, "err", err)
	if err := s.cache.Invalidate(ctx, userID, version); err != nil {
		s.log.Error("entitlement cache invalidation failed", "user_id", userID, "err", err)
	}
}

// SyncAllUsers runs SyncUser for every user with bounded concurrency.
// Individual failures are collected in the report; only listing users can fail the whole run.
func (s *serviceImpl) SyncAllUsers(ctx context.Context) (BulkSyncReport, error) {
	ids, err := s.store.ListUserIDs(ctx)
	if err != nil {
		return BulkSyncReport{}, storeErr("list users", err)
	}

	report := BulkSyncReport{Total: len(ids), Errors: map[string]string{}}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.bulkSize)
	for _, id := range ids {
		g.Go(func() error {
			res := s.SyncUser(gctx, id, TriggerBulk)
			mu.Lock()
			defer mu.Unlock()
			if res.Success {
				report.Succeeded++
			} else {
				report.Failed++
				report.Errors[id] = res.Err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()

	s.log.Info("bulk sync finished", "total", report.Total, "succeeded", report.Succeeded, "failed", report.Failed)
	return report, nil
}
