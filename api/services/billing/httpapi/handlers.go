package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/tbeaudouin05/sitterhub-billing/api/auth"
	"github.com/tbeaudouin05/sitterhub-billing/api/services/billing/app"
	billingdb "github.com/tbeaudouin05/sitterhub-billing/api/services/billing/db"
	"github.com/tbeaudouin05/sitterhub-billing/api/services/billing/features"
)

const requestBodyLimit = 64 * 1024

// ProfileWaiter blocks until the caller's profile row exists.
type ProfileWaiter interface {
	Wait(ctx context.Context, userID string) error
}

// HandlerFunc matches the grpc-gateway runtime.HandlerFunc signature.
type HandlerFunc func(w http.ResponseWriter, r *http.Request, pathParams map[string]string)

// Handlers serves the user and admin billing endpoints.
type Handlers struct {
	svc      app.Service
	verifier *auth.Verifier
	waiter   ProfileWaiter
	validate *validator.Validate
	log      *slog.Logger
}

func NewHandlers(svc app.Service, verifier *auth.Verifier, waiter ProfileWaiter, logger *slog.Logger) *Handlers {
	return &Handlers{svc: svc, verifier: verifier, waiter: waiter, validate: validator.New(), log: logger}
}

type confirmCheckoutRequest struct {
	SessionID string `json:"session_id" validate:"required,startswith=cs_,max=255"`
}

type syncResponse struct {
	Message string            `json:"message"`
	Plan    features.PlanTier `json:"plan"`
	UserID  string            `json:"user_id,omitempty"`
}

type confirmCheckoutResponse struct {
	Outcome        app.Outcome       `json:"outcome"`
	Plan           features.PlanTier `json:"plan"`
	SubscriptionID string            `json:"subscription_id"`
}

type limitView struct {
	Limit     int  `json:"limit"`
	Unlimited bool `json:"unlimited"`
}

type entitlementsResponse struct {
	UserID   string                       `json:"user_id"`
	Plan     features.PlanTier            `json:"plan"`
	Features map[features.Feature]bool    `json:"features"`
	Limits   map[features.Limit]limitView `json:"limits"`
	Degraded bool                         `json:"degraded,omitempty"`
}

type subscriptionsResponse struct {
	UserID        string                   `json:"user_id"`
	Subscriptions []billingdb.Subscription `json:"subscriptions"`
}

// Authenticated wraps next with bearer token verification. adminOnly also requires the admin role.
func (h *Handlers) Authenticated(adminOnly bool, next HandlerFunc) HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		p, err := h.verifier.FromRequest(r)
		if err != nil {
			h.log.Debug("request rejected", "path", r.URL.Path, "err", err)
			writeError(w, err)
			return
		}
		if adminOnly && !p.IsAdmin() {
			writeError(w, app.ErrForbidden)
			return
		}
		next(w, r.WithContext(auth.WithPrincipal(r.Context(), p)), params)
	}
}

func principal(r *http.Request) auth.Principal {
	p, _ := auth.PrincipalFrom(r.Context())
	return p
}

// SyncSelf resyncs the caller's entitlements once their profile exists.
func (h *Handlers) SyncSelf(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	p := principal(r)
	if h.waiter != nil {
		if err := h.waiter.Wait(r.Context(), p.UserID); err != nil {
			if !errors.Is(err, app.ErrProfileUnavailable) {
				err = errors.Join(app.ErrProfileUnavailable, err)
			}
			h.log.Warn("manual sync: profile not available", "user_id", p.UserID, "err", err)
			writeError(w, err)
			return
		}
	}
	res := h.svc.SyncUser(r.Context(), p.UserID, app.TriggerManual)
	if !res.Success {
		h.log.Error("manual sync failed", "user_id", p.UserID, "err", res.Err)
		writeError(w, res.Err)
		return
	}
	writeJSON(w, http.StatusOK, syncResponse{Message: syncMessage(res), Plan: res.Tier})
}

func syncMessage(res app.SyncResult) string {
	if res.Subscription == nil {
		return "No active subscription found, you are on the basic plan"
	}
	return "Subscription synced, your " + string(res.Tier) + " plan is active"
}

// ConfirmCheckout records a completed checkout session by polling Stripe.
func (h *Handlers) ConfirmCheckout(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	p := principal(r)
	var req confirmCheckoutRequest
	r.Body = http.MaxBytesReader(w, r.Body, requestBodyLimit)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "session_id is required"})
		return
	}
	res, err := h.svc.ConfirmCheckoutSession(r.Context(), req.SessionID, p.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, confirmCheckoutResponse{
		Outcome:        res.Outcome,
		Plan:           res.Subscription.PlanType,
		SubscriptionID: res.Subscription.ID,
	})
}

// Entitlements evaluates the caller's features. Read failures degrade to basic.
func (h *Handlers) Entitlements(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	p := principal(r)
	var (
		snapshot *features.Entitlements
		tier     = features.TierBasic
		degraded bool
	)
	plan, err := h.svc.GetEntitlements(r.Context(), p.UserID)
	if err != nil {
		h.log.Warn("entitlements unavailable, evaluating as basic", "user_id", p.UserID, "err", err)
		degraded = true
	} else {
		snapshot = &plan.Entitlements
		tier = plan.Tier
	}

	eval := features.NewEvaluator(snapshot, p.UserID != "")
	resp := entitlementsResponse{
		UserID:   p.UserID,
		Plan:     tier,
		Features: map[features.Feature]bool{},
		Limits:   map[features.Limit]limitView{},
		Degraded: degraded,
	}
	for _, f := range features.AllFeatures {
		resp.Features[f] = eval.CheckFeature(f)
	}
	for _, l := range features.AllLimits {
		resp.Limits[l] = limitView{Limit: eval.LimitFor(l), Unlimited: eval.IsUnlimited(l)}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) targetUser(w http.ResponseWriter, params map[string]string) (string, bool) {
	id := params["user_id"]
	if err := h.validate.Var(id, "required,max=128"); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid user id"})
		return "", false
	}
	return id, true
}

// AdminSyncUser resyncs an arbitrary user.
func (h *Handlers) AdminSyncUser(w http.ResponseWriter, r *http.Request, params map[string]string) {
	userID, ok := h.targetUser(w, params)
	if !ok {
		return
	}
	res := h.svc.SyncUser(r.Context(), userID, app.TriggerAdmin)
	if !res.Success {
		h.log.Error("admin sync failed", "user_id", userID, "admin", principal(r).UserID, "err", res.Err)
		writeError(w, res.Err)
		return
	}
	writeJSON(w, http.StatusOK, syncResponse{Message: syncMessage(res), Plan: res.Tier, UserID: userID})
}

// AdminListSubscriptions returns a user's subscription history, newest first.
func (h *Handlers) AdminListSubscriptions(w http.ResponseWriter, r *http.Request, params map[string]string) {
	userID, ok := h.targetUser(w, params)
	if !ok {
		return
	}
	subs, err := h.svc.ListSubscriptions(r.Context(), userID)
	if err != nil {
		h.log.Error("list subscriptions failed", "user_id", userID, "err", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, subscriptionsResponse{UserID: userID, Subscriptions: subs})
}

// AdminSyncAll resyncs every user and reports per-user failures.
func (h *Handlers) AdminSyncAll(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	report, err := h.svc.SyncAllUsers(r.Context())
	if err != nil {
		h.log.Error("bulk sync failed", "err", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
