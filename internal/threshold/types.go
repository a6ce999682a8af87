// Package threshold defines attendance threshold configurations scoped by
// language/country/region and the resolver that picks the single best match
// for a session's scope.
package threshold

// ScopeField is one optional scope component of a config: either a concrete
// value ("US", "EMEA") or a wildcard that matches any query value.
// Using a tagged type instead of nullable strings keeps the specificity
// scoring exhaustive.
type ScopeField struct {
	value    string
	wildcard bool
}

// Any returns a wildcard scope field.
func Any() ScopeField {
	return ScopeField{wildcard: true}
}

// Exactly returns a scope field pinned to value. An empty value is treated
// as a wildcard.
func Exactly(value string) ScopeField {
	if value == "" {
		return Any()
	}
	return ScopeField{value: value}
}

// IsWildcard reports whether the field matches any query value.
func (f ScopeField) IsWildcard() bool { return f.wildcard }

// Value returns the concrete value, or "" for a wildcard.
func (f ScopeField) Value() string {
	if f.wildcard {
		return ""
	}
	return f.value
}

func (f ScopeField) String() string {
	if f.wildcard {
		return "*"
	}
	return f.value
}

// compatible reports whether this field admits the query value: wildcards
// admit anything; concrete values require exact equality.
func (f ScopeField) compatible(query string) bool {
	return f.wildcard || f.value == query
}

// equals reports scope equality for tier scoring: a concrete value equal to
// the query, or a wildcard paired with an absent query value. A wildcard
// config field and an absent query value score the same as explicit equality;
// this conflates "globally scoped" with "precisely this scope" for some
// inputs and is kept deliberately (see score()).
func (f ScopeField) equals(query string) bool {
	if f.wildcard {
		return query == ""
	}
	return f.value == query
}

// Tier categorizes how precisely a config's scope matched a query.
type Tier int

const (
	TierNone Tier = iota
	TierLanguageOnly
	TierLanguageRegion
	TierLanguageCountry
	TierExact
)

func (t Tier) String() string {
	switch t {
	case TierExact:
		return "exact"
	case TierLanguageCountry:
		return "language_country"
	case TierLanguageRegion:
		return "language_region"
	case TierLanguageOnly:
		return "language_only"
	default:
		return "none"
	}
}

// Config is a named threshold rule. Many configs with overlapping scopes may
// be active at once; the resolver picks exactly one per query.
type Config struct {
	ID       string
	Name     string
	Language string
	Country  ScopeField
	Region   ScopeField

	// MinAttendance is the minimum headcount to run the session at all.
	MinAttendance int
	// ProfitTarget is the headcount at which the session becomes profitable.
	ProfitTarget int

	InstructorHourlyRate float64
	RevenuePerStudent    float64

	AutoCancel                bool
	CancellationDeadlineHours int

	Active   bool
	Priority int
	Notes    string

	CreatedAt int64 // unix millis
	UpdatedAt int64 // unix millis
}

// Query identifies a session's scope. Country and Region are "" when absent.
type Query struct {
	Language string
	Country  string
	Region   string
}

// CacheKey returns the namespaced cache key for this query.
func (q Query) CacheKey() string {
	return "config:" + q.Language + ":" + q.Country + ":" + q.Region
}

// Resolved is the immutable snapshot the resolver returns for one query:
// the winning config's numbers plus the specificity tier that produced the
// match. Cached; never mutated.
type Resolved struct {
	ConfigID string
	Name     string
	Tier     Tier
	Score    int

	MinAttendance             int
	ProfitTarget              int
	InstructorHourlyRate      float64
	RevenuePerStudent         float64
	AutoCancel                bool
	CancellationDeadlineHours int
}

// Thresholds is the numeric tuple the viability analyzer consumes.
type Thresholds struct {
	MinAttendance        int
	ProfitTarget         int
	InstructorHourlyRate float64
	RevenuePerStudent    float64
}

// Thresholds extracts the analyzer tuple from a resolved config.
func (r *Resolved) Thresholds() Thresholds {
	return Thresholds{
		MinAttendance:        r.MinAttendance,
		ProfitTarget:         r.ProfitTarget,
		InstructorHourlyRate: r.InstructorHourlyRate,
		RevenuePerStudent:    r.RevenuePerStudent,
	}
}

// Documented fallback tuple used when no active config matches a scope.
const (
	DefaultMinAttendance        = 4
	DefaultProfitTarget         = 8
	DefaultInstructorHourlyRate = 25.00
	DefaultRevenuePerStudent    = 24.99
	DefaultDeadlineHours        = 24
)

// DefaultThresholds returns the hard-coded fallback tuple.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinAttendance:        DefaultMinAttendance,
		ProfitTarget:         DefaultProfitTarget,
		InstructorHourlyRate: DefaultInstructorHourlyRate,
		RevenuePerStudent:    DefaultRevenuePerStudent,
	}
}
