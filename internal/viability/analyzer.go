package viability

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/lingoloop/viability/internal/threshold"
	"github.com/lingoloop/viability/internal/ttlcache"
)

// analysisTTL is how long a per-session analysis stays cached.
const analysisTTL = 5 * time.Minute

// OverrideProvider substitutes an alternate threshold tuple for a session,
// e.g. from an experiment variant. The analyzer is otherwise unaware the
// substitution happened. A nil provider or a false second return means no
// substitution.
type OverrideProvider interface {
	ThresholdsFor(ctx context.Context, s *Session) (threshold.Thresholds, bool)
}

// Analyzer computes viability analyses, reading threshold tuples through the
// resolver and caching results per session.
type Analyzer struct {
	resolver *threshold.Resolver
	cache    *ttlcache.Cache[Analysis]
	overlay  OverrideProvider // may be nil
	logger   zerolog.Logger
	now      func() time.Time
}

// AnalyzerOption configures an Analyzer.
type AnalyzerOption func(*Analyzer)

// WithOverlay sets the variant overlay provider.
func WithOverlay(p OverrideProvider) AnalyzerOption {
	return func(a *Analyzer) { a.overlay = p }
}

// WithAnalyzerClock overrides the analyzer's time source. Used by tests.
func WithAnalyzerClock(now func() time.Time) AnalyzerOption {
	return func(a *Analyzer) { a.now = now }
}

// NewAnalyzer creates an analyzer.
func NewAnalyzer(resolver *threshold.Resolver, cache *ttlcache.Cache[Analysis], logger zerolog.Logger, opts ...AnalyzerOption) *Analyzer {
	a := &Analyzer{
		resolver: resolver,
		cache:    cache,
		logger:   logger.With().Str("component", "viability.analyzer").Logger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func analysisKey(sessionID string) string { return "analysis:" + sessionID }

// Analyze returns the session's analysis, serving a cached copy when one is
// fresh. Callers needing an up-to-the-second view (right before the
// cancellation deadline) use Fresh instead.
func (a *Analyzer) Analyze(ctx context.Context, s *Session) (*Analysis, error) {
	if cached, ok := a.cache.Get(analysisKey(s.ID)); ok {
		return &cached, nil
	}
	return a.Fresh(ctx, s)
}

// Fresh recomputes the analysis, bypassing and rewriting the cache entry.
// A config resolution failure aborts the analysis; only the no-config case
// falls back to the default tuple.
func (a *Analyzer) Fresh(ctx context.Context, s *Session) (*Analysis, error) {
	resolved, err := a.resolver.Resolve(ctx, threshold.Query{
		Language: s.Language,
		Country:  s.Country,
		Region:   s.Region,
	})
	if err != nil {
		return nil, err
	}
	return a.FreshWith(ctx, s, resolved), nil
}

// AnalyzeWith serves a cached analysis when one is fresh, otherwise computes
// one from the given resolution snapshot.
func (a *Analyzer) AnalyzeWith(ctx context.Context, s *Session, resolved *threshold.Resolved) *Analysis {
	if cached, ok := a.cache.Get(analysisKey(s.ID)); ok {
		return &cached
	}
	return a.FreshWith(ctx, s, resolved)
}

// FreshWith computes the analysis from an already-resolved config snapshot
// (nil means no config matched) and rewrites the cache entry.
func (a *Analyzer) FreshWith(ctx context.Context, s *Session, resolved *threshold.Resolved) *Analysis {
	tuple, configID, tier := a.thresholds(ctx, s, resolved)

	analysis := Compute(s, tuple, a.now())
	analysis.ConfigID = configID
	analysis.Tier = tier

	a.cache.Set(analysisKey(s.ID), *analysis, analysisTTL)
	a.logger.Debug().
		Str("session_id", s.ID).
		Str("tier", tier).
		Bool("will_run", analysis.WillRun).
		Msg("analysis computed")
	return analysis
}

// Invalidate drops the cached analysis for one session.
func (a *Analyzer) Invalidate(sessionID string) {
	a.cache.Delete(analysisKey(sessionID))
}

// InvalidateAll drops every cached analysis.
func (a *Analyzer) InvalidateAll() int {
	return a.cache.DeletePrefix("analysis:")
}

// thresholds picks the tuple to analyze with. Precedence: session-level
// explicit thresholds, then the variant overlay, then the resolved config,
// then the documented fallback tuple when no config matched.
func (a *Analyzer) thresholds(ctx context.Context, s *Session, resolved *threshold.Resolved) (threshold.Thresholds, string, string) {
	tuple := threshold.DefaultThresholds()
	configID := ""
	tier := threshold.TierNone.String()

	if resolved != nil {
		tuple = resolved.Thresholds()
		configID = resolved.ConfigID
		tier = resolved.Tier.String()
	}

	if a.overlay != nil {
		if alt, ok := a.overlay.ThresholdsFor(ctx, s); ok {
			tuple = alt
			tier = "variant"
		}
	}

	if s.MinAttendanceOverride != nil {
		tuple.MinAttendance = *s.MinAttendanceOverride
	}
	if s.ProfitTargetOverride != nil {
		tuple.ProfitTarget = *s.ProfitTargetOverride
	}

	return tuple, configID, tier
}

// Compute is the pure viability/profitability arithmetic for one session
// against one threshold tuple.
func Compute(s *Session, tuple threshold.Thresholds, now time.Time) *Analysis {
	durationHours := float64(s.DurationMinutes) / 60.0
	instructorCost := tuple.InstructorHourlyRate * durationHours
	platformRevenue := float64(s.EnrollmentCount) * tuple.RevenuePerStudent
	netProfit := platformRevenue - instructorCost

	marginPercent := 0.0
	if platformRevenue > 0 {
		marginPercent = netProfit / platformRevenue * 100
	}

	willRun := s.EnrollmentCount >= tuple.MinAttendance
	isProfitable := s.EnrollmentCount >= tuple.ProfitTarget

	return &Analysis{
		SessionID:          s.ID,
		CurrentEnrollments: s.EnrollmentCount,
		MinRequired:        tuple.MinAttendance,
		ProfitTarget:       tuple.ProfitTarget,
		InstructorCost:     instructorCost,
		PlatformRevenue:    platformRevenue,
		NetProfit:          netProfit,
		MarginPercent:      marginPercent,
		WillRun:            willRun,
		IsProfitable:       isProfitable,
		Recommendations:    recommendations(s.EnrollmentCount, tuple, willRun, isProfitable),
		ComputedAt:         now,
	}
}

func recommendations(enrollments int, tuple threshold.Thresholds, willRun, isProfitable bool) []string {
	var recs []string
	if !willRun {
		recs = append(recs, fmt.Sprintf("Enroll %d more participants to reach the minimum of %d",
			tuple.MinAttendance-enrollments, tuple.MinAttendance))
	}
	if !isProfitable {
		recs = append(recs, fmt.Sprintf("Enroll %d more participants to reach the profitability target of %d",
			tuple.ProfitTarget-enrollments, tuple.ProfitTarget))
	}
	if enrollments == 0 {
		recs = append(recs, "No enrollments yet: promote this session")
	} else if enrollments < tuple.MinAttendance {
		recs = append(recs, "Consider extending the enrollment window")
	}
	return recs
}
