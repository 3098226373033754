package features

// Feature names a boolean entitlement.
type Feature string

// Limit names a numeric entitlement.
type Limit string

const (
	FeatureAdvancedFilters Feature = "advanced_filters"
	FeaturePriorityRanking Feature = "priority_ranking"
	FeaturePremiumBadge    Feature = "premium_badge"
	FeatureShowAds         Feature = "show_ads"

	LimitContactRequests   Limit = "max_contact_requests"
	LimitBookings          Limit = "max_bookings"
	LimitEnvironmentImages Limit = "max_environment_images"
	LimitSearchPriority    Limit = "search_priority"
)

// AllFeatures and AllLimits list the names exposed to clients.
var (
	AllFeatures = []Feature{FeatureAdvancedFilters, FeaturePriorityRanking, FeaturePremiumBadge, FeatureShowAds}
	AllLimits   = []Limit{LimitContactRequests, LimitBookings, LimitEnvironmentImages, LimitSearchPriority}
)

// Evaluator answers feature and limit questions for one user. A nil snapshot
// (not loaded, or failed to load) is evaluated as the basic tier.
type Evaluator struct {
	snapshot *Entitlements
	hasUser  bool
}

func NewEvaluator(snapshot *Entitlements, hasUser bool) Evaluator {
	return Evaluator{snapshot: snapshot, hasUser: hasUser}
}

func (e Evaluator) effective() Entitlements {
	if e.snapshot == nil {
		return FeaturesFor(TierBasic)
	}
	return *e.snapshot
}

// CheckFeature is always false without a user.
func (e Evaluator) CheckFeature(name Feature) bool {
	if !e.hasUser {
		return false
	}
	ent := e.effective()
	switch name {
	case FeatureAdvancedFilters:
		return ent.AdvancedFilters
	case FeaturePriorityRanking:
		return ent.PriorityRanking
	case FeaturePremiumBadge:
		return ent.PremiumBadge
	case FeatureShowAds:
		return ent.ShowAds
	default:
		return false
	}
}

// LimitFor returns the numeric entitlement. Unlimited (-1) must be checked
// with IsUnlimited or Allows, never compared arithmetically.
func (e Evaluator) LimitFor(name Limit) int {
	ent := e.effective()
	if !e.hasUser {
		ent = FeaturesFor(TierBasic)
	}
	switch name {
	case LimitContactRequests:
		return ent.MaxContactRequests
	case LimitBookings:
		return ent.MaxBookings
	case LimitEnvironmentImages:
		return ent.MaxEnvironmentImages
	case LimitSearchPriority:
		return ent.SearchPriority
	default:
		return 0
	}
}

func (e Evaluator) IsUnlimited(name Limit) bool {
	return e.LimitFor(name) == Unlimited
}

// Remaining returns how many more uses are left after used. unlimited is true
// when the limit is the sentinel, in which case remaining is meaningless.
func (e Evaluator) Remaining(name Limit, used int) (remaining int, unlimited bool) {
	limit := e.LimitFor(name)
	if limit == Unlimited {
		return 0, true
	}
	if used >= limit {
		return 0, false
	}
	return limit - used, false
}

// Allows reports whether one more use fits under the limit.
func (e Evaluator) Allows(name Limit, used int) bool {
	remaining, unlimited := e.Remaining(name, used)
	return unlimited || remaining > 0
}
