package model

type Tier string

const (
	TierBootstrapper Tier = "bootstrapper"
	TierPartner      Tier = "partner"
	TierCTO          Tier = "cto"
)

// TierProfile is the static per-tier configuration: priority boost,
// concurrency caps, daily job cap and iteration depth. Immutable for the
// process lifetime.
type TierProfile struct {
	PriorityBoost      int
	UserConcurrency    int
	ProjectConcurrency int
	DailyJobs          int
	IterationDepth     int
	// DefaultAvgSeconds seeds the wait estimator until the first real
	// completion is recorded for the tier.
	DefaultAvgSeconds float64
}

var tierProfiles = map[Tier]TierProfile{
	TierBootstrapper: {
		PriorityBoost:      100,
		UserConcurrency:    1,
		ProjectConcurrency: 1,
		DailyJobs:          5,
		IterationDepth:     10,
		DefaultAvgSeconds:  480,
	},
	TierPartner: {
		PriorityBoost:      200,
		UserConcurrency:    2,
		ProjectConcurrency: 2,
		DailyJobs:          25,
		IterationDepth:     25,
		DefaultAvgSeconds:  600,
	},
	TierCTO: {
		PriorityBoost:      300,
		UserConcurrency:    3,
		ProjectConcurrency: 3,
		DailyJobs:          100,
		IterationDepth:     50,
		DefaultAvgSeconds:  900,
	},
}

func (t Tier) Valid() bool {
	_, ok := tierProfiles[t]
	return ok
}

// Profile looks up the tier's static configuration; unknown tiers fall back
// to bootstrapper so a corrupt record degrades instead of panicking.
func (t Tier) Profile() TierProfile {
	if p, ok := tierProfiles[t]; ok {
		return p
	}
	return tierProfiles[TierBootstrapper]
}

// IterationHardCap is the absolute ceiling on build iterations for a tier,
// three times the configured depth.
func (t Tier) IterationHardCap() int {
	return 3 * t.Profile().IterationDepth
}

// QueueScore combines the tier boost and the arrival counter into a single
// sortable number. Lower scores dequeue first: the boost dominates the
// high-order digits while the counter only breaks ties within a tier, so one
// ordered structure serves as both a priority queue and a FIFO queue.
func QueueScore(boost int, counter int64) float64 {
	return float64(1000-boost)*1e12 + float64(counter)
}
