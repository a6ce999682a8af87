package threshold

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/lingoloop/viability/internal/ttlcache"
)

// Score weights. Specificity dominates; the manual priority is summed on top
// so an admin can promote a less-specific config when needed.
const (
	scoreLanguage     = 10
	scoreExact        = 30
	scoreCountry      = 20
	scoreRegion       = 15
	scoreLanguageOnly = 5
)

// resolvedTTL is how long a resolution result stays cached.
const resolvedTTL = 10 * time.Minute

// Source reads active threshold configs, filtered by language, in stable
// creation order.
type Source interface {
	ActiveConfigs(ctx context.Context, language string) ([]Config, error)
}

// Resolver picks the single best-matching config for a query, reading
// through a TTL cache.
type Resolver struct {
	source Source
	cache  *ttlcache.Cache[Resolved]
	logger zerolog.Logger
}

// NewResolver creates a resolver backed by source and cache.
func NewResolver(source Source, cache *ttlcache.Cache[Resolved], logger zerolog.Logger) *Resolver {
	return &Resolver{
		source: source,
		cache:  cache,
		logger: logger.With().Str("component", "threshold.resolver").Logger(),
	}
}

// Resolve returns the best-matching resolved config for q, or (nil, nil)
// when no active config is compatible — the caller falls back to
// DefaultThresholds. Results are cached for 10 minutes per scope.
func (r *Resolver) Resolve(ctx context.Context, q Query) (*Resolved, error) {
	if cached, ok := r.cache.Get(q.CacheKey()); ok {
		return &cached, nil
	}

	configs, err := r.source.ActiveConfigs(ctx, q.Language)
	if err != nil {
		return nil, err
	}

	best := pick(configs, q)
	if best == nil {
		r.logger.Debug().
			Str("language", q.Language).
			Str("country", q.Country).
			Str("region", q.Region).
			Msg("no compatible threshold config")
		return nil, nil
	}

	r.cache.Set(q.CacheKey(), *best, resolvedTTL)
	r.logger.Debug().
		Str("config_id", best.ConfigID).
		Str("tier", best.Tier.String()).
		Int("score", best.Score).
		Msg("threshold config resolved")
	return best, nil
}

// Invalidate drops every cached resolution. Called when any config changes;
// the prefix scan avoids tracking which scope combinations were cached.
func (r *Resolver) Invalidate() int {
	return r.cache.DeletePrefix("config:")
}

// pick scores all compatible candidates and returns the winner, or nil.
// Candidates must already be in stable creation order: ties on total score
// go to the earliest candidate, so resolution is reproducible.
func pick(configs []Config, q Query) *Resolved {
	var best *Resolved
	for _, cfg := range configs {
		if !cfg.Active || cfg.Language != q.Language {
			continue
		}
		if !cfg.Country.compatible(q.Country) || !cfg.Region.compatible(q.Region) {
			continue
		}

		total, tier := score(cfg, q)
		if best == nil || total > best.Score {
			best = &Resolved{
				ConfigID:                  cfg.ID,
				Name:                      cfg.Name,
				Tier:                      tier,
				Score:                     total,
				MinAttendance:             cfg.MinAttendance,
				ProfitTarget:              cfg.ProfitTarget,
				InstructorHourlyRate:      cfg.InstructorHourlyRate,
				RevenuePerStudent:         cfg.RevenuePerStudent,
				AutoCancel:                cfg.AutoCancel,
				CancellationDeadlineHours: cfg.CancellationDeadlineHours,
			}
		}
	}
	return best
}

// score computes the additive specificity score and tier for one candidate.
//
// Note: a config whose country and region are both wildcards scores TierExact
// against a query carrying neither value, exactly as an explicit equality
// match would. That conflates "globally scoped" with "precisely this
// country+region" for such queries; the behavior is intentional and matching
// admin expectations depends on it, so do not "fix" the branch order.
func score(cfg Config, q Query) (int, Tier) {
	total := scoreLanguage

	var tier Tier
	switch {
	case cfg.Country.equals(q.Country) && cfg.Region.equals(q.Region):
		total += scoreExact
		tier = TierExact
	case cfg.Country.equals(q.Country) && cfg.Region.IsWildcard():
		total += scoreCountry
		tier = TierLanguageCountry
	case cfg.Region.equals(q.Region) && cfg.Country.IsWildcard():
		total += scoreRegion
		tier = TierLanguageRegion
	case cfg.Country.IsWildcard() && cfg.Region.IsWildcard():
		total += scoreLanguageOnly
		tier = TierLanguageOnly
	default:
		tier = TierNone
	}

	total += cfg.Priority
	return total, tier
}
