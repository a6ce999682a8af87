// Package variant supplies alternate threshold tuples for sessions enrolled
// in experiments. The analyzer takes a provider as an explicit strategy; the
// resolution and decision algorithms never know a substitution happened.
package variant

import (
	"context"
	"sync"

	"github.com/lingoloop/viability/internal/threshold"
	"github.com/lingoloop/viability/internal/viability"
)

// StaticOverlay maps scope keys to replacement tuples. Assignment of
// sessions to experiments happens elsewhere; this holds the active
// substitutions.
type StaticOverlay struct {
	mu     sync.RWMutex
	tuples map[string]threshold.Thresholds
}

// NewStaticOverlay creates an empty overlay.
func NewStaticOverlay() *StaticOverlay {
	return &StaticOverlay{tuples: make(map[string]threshold.Thresholds)}
}

// scopeKey mirrors the resolver's scope identity.
func scopeKey(language, country, region string) string {
	return language + ":" + country + ":" + region
}

// Set installs a substitution for a scope.
func (o *StaticOverlay) Set(language, country, region string, tuple threshold.Thresholds) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tuples[scopeKey(language, country, region)] = tuple
}

// Remove drops a substitution.
func (o *StaticOverlay) Remove(language, country, region string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.tuples, scopeKey(language, country, region))
}

// ThresholdsFor implements viability.OverrideProvider.
func (o *StaticOverlay) ThresholdsFor(_ context.Context, s *viability.Session) (threshold.Thresholds, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	tuple, ok := o.tuples[scopeKey(s.Language, s.Country, s.Region)]
	return tuple, ok
}
