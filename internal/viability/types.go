// Package viability computes whether a scheduled group session has enough
// enrollment to run and to be profitable, and drives the per-session
// decision state machine that turns those numbers into actions.
package viability

import (
	"time"
)

// Status is a session's threshold check state.
// PENDING → {PASSED, FAILED} → CANCELLED; CANCELLED is terminal.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusPassed    Status = "PASSED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Action is what the caller should do after a check.
type Action string

const (
	ActionProceed Action = "PROCEED"
	ActionCancel  Action = "CANCEL"
	ActionWarn    Action = "WARN"
	ActionExtend  Action = "EXTEND"
	ActionNone    Action = "NONE" // terminal session, nothing to do
)

// Session is a scheduled group session. EnrollmentCount is mutated
// externally as people join and leave; Status, CancellationDeadline and
// AttendanceCheckTime are written only by the decision machine.
type Session struct {
	ID           string
	Language     string
	Country      string // "" when absent
	Region       string // "" when absent
	InstructorID string

	StartTime       time.Time
	DurationMinutes int
	EnrollmentCount int

	// Explicit per-session thresholds. When set they take precedence over
	// whatever config the resolver picks for this scope.
	MinAttendanceOverride *int
	ProfitTargetOverride  *int

	Status               Status
	CancellationDeadline time.Time
	AttendanceCheckTime  time.Time

	CreatedAt int64 // unix millis
	UpdatedAt int64 // unix millis
}

// Analysis is the derived profitability/viability snapshot for one session.
// Pure function of the session and its threshold tuple; safe to discard and
// recompute at any time.
type Analysis struct {
	SessionID string

	CurrentEnrollments int
	MinRequired        int
	ProfitTarget       int

	InstructorCost  float64
	PlatformRevenue float64
	NetProfit       float64
	MarginPercent   float64

	WillRun      bool
	IsProfitable bool

	Recommendations []string

	// Provenance of the threshold tuple, for observability.
	ConfigID string
	Tier     string

	ComputedAt time.Time
}

// Decision is the outcome of one state machine check.
type Decision struct {
	SessionID       string
	Status          Status
	Action          Action
	HoursUntilStart float64
	DeadlineHours   int
	AutoCancel      bool
	Analysis        *Analysis
	Reason          string
	CheckedAt       time.Time
}
