// Package mgmt provides the management API for the viability engine.
package mgmt

import (
	"time"

	"github.com/lingoloop/viability/internal/sweep"
	"github.com/lingoloop/viability/internal/threshold"
	"github.com/lingoloop/viability/internal/viability"
)

// --- Request DTOs ---

// ConfigRequest is the payload for POST /api/v1/configs. Empty country and
// region mean the config applies to any value in that position.
type ConfigRequest struct {
	Name                      string  `json:"name"`
	Language                  string  `json:"language"`
	Country                   string  `json:"country,omitempty"`
	Region                    string  `json:"region,omitempty"`
	MinAttendance             int     `json:"min_attendance"`
	ProfitTarget              int     `json:"profit_target"`
	InstructorHourlyRate      float64 `json:"instructor_hourly_rate"`
	RevenuePerStudent         float64 `json:"revenue_per_student"`
	AutoCancel                bool    `json:"auto_cancel"`
	CancellationDeadlineHours int     `json:"cancellation_deadline_hours"`
	Active                    *bool   `json:"active,omitempty"` // defaults to true
	Priority                  int     `json:"priority,omitempty"`
	Notes                     string  `json:"notes,omitempty"`
}

// ConfigPatchRequest is the payload for PATCH /api/v1/configs/:id. Only set
// fields are applied.
type ConfigPatchRequest struct {
	Name                      *string  `json:"name,omitempty"`
	Language                  *string  `json:"language,omitempty"`
	Country                   *string  `json:"country,omitempty"`
	Region                    *string  `json:"region,omitempty"`
	MinAttendance             *int     `json:"min_attendance,omitempty"`
	ProfitTarget              *int     `json:"profit_target,omitempty"`
	InstructorHourlyRate      *float64 `json:"instructor_hourly_rate,omitempty"`
	RevenuePerStudent         *float64 `json:"revenue_per_student,omitempty"`
	AutoCancel                *bool    `json:"auto_cancel,omitempty"`
	CancellationDeadlineHours *int     `json:"cancellation_deadline_hours,omitempty"`
	Active                    *bool    `json:"active,omitempty"`
	Priority                  *int     `json:"priority,omitempty"`
	Notes                     *string  `json:"notes,omitempty"`
}

// SessionRequest is the payload for POST /api/v1/sessions.
type SessionRequest struct {
	Language              string    `json:"language"`
	Country               string    `json:"country,omitempty"`
	Region                string    `json:"region,omitempty"`
	InstructorID          string    `json:"instructor_id"`
	StartTime             time.Time `json:"start_time"`
	DurationMinutes       int       `json:"duration_minutes"`
	EnrollmentCount       int       `json:"enrollment_count"`
	MinAttendanceOverride *int      `json:"min_attendance_override,omitempty"`
	ProfitTargetOverride  *int      `json:"profit_target_override,omitempty"`
}

// EnrollmentRequest is the payload for PATCH /api/v1/sessions/:id/enrollment.
type EnrollmentRequest struct {
	Count int `json:"count"`
}

// InvalidateRequest is the payload for POST /api/v1/cache/invalidate.
// Scope is "configs", "analyses" or "all".
type InvalidateRequest struct {
	Scope string `json:"scope"`
}

// LogLevelPatchRequest is the payload for PATCH /api/v1/config.
type LogLevelPatchRequest struct {
	LogLevel *string `json:"log_level,omitempty"`
}

// --- Response DTOs ---

// ConfigResponse is the wire form of a threshold config.
type ConfigResponse struct {
	ID                        string  `json:"id"`
	Name                      string  `json:"name"`
	Language                  string  `json:"language"`
	Country                   string  `json:"country"` // "" = any
	Region                    string  `json:"region"`  // "" = any
	MinAttendance             int     `json:"min_attendance"`
	ProfitTarget              int     `json:"profit_target"`
	InstructorHourlyRate      float64 `json:"instructor_hourly_rate"`
	RevenuePerStudent         float64 `json:"revenue_per_student"`
	AutoCancel                bool    `json:"auto_cancel"`
	CancellationDeadlineHours int     `json:"cancellation_deadline_hours"`
	Active                    bool    `json:"active"`
	Priority                  int     `json:"priority"`
	Notes                     string  `json:"notes,omitempty"`
	CreatedAt                 int64   `json:"created_at"`
	UpdatedAt                 int64   `json:"updated_at"`
}

func configResponse(cfg *threshold.Config) ConfigResponse {
	return ConfigResponse{
		ID:                        cfg.ID,
		Name:                      cfg.Name,
		Language:                  cfg.Language,
		Country:                   cfg.Country.Value(),
		Region:                    cfg.Region.Value(),
		MinAttendance:             cfg.MinAttendance,
		ProfitTarget:              cfg.ProfitTarget,
		InstructorHourlyRate:      cfg.InstructorHourlyRate,
		RevenuePerStudent:         cfg.RevenuePerStudent,
		AutoCancel:                cfg.AutoCancel,
		CancellationDeadlineHours: cfg.CancellationDeadlineHours,
		Active:                    cfg.Active,
		Priority:                  cfg.Priority,
		Notes:                     cfg.Notes,
		CreatedAt:                 cfg.CreatedAt,
		UpdatedAt:                 cfg.UpdatedAt,
	}
}

// ConfigListResponse wraps a list of configs.
type ConfigListResponse struct {
	Configs []ConfigResponse `json:"configs"`
	Total   int              `json:"total"`
}

// SessionResponse is the wire form of a session.
type SessionResponse struct {
	ID                    string     `json:"id"`
	Language              string     `json:"language"`
	Country               string     `json:"country,omitempty"`
	Region                string     `json:"region,omitempty"`
	InstructorID          string     `json:"instructor_id"`
	StartTime             time.Time  `json:"start_time"`
	DurationMinutes       int        `json:"duration_minutes"`
	EnrollmentCount       int        `json:"enrollment_count"`
	MinAttendanceOverride *int       `json:"min_attendance_override,omitempty"`
	ProfitTargetOverride  *int       `json:"profit_target_override,omitempty"`
	Status                string     `json:"status"`
	CancellationDeadline  *time.Time `json:"cancellation_deadline,omitempty"`
	AttendanceCheckTime   *time.Time `json:"attendance_check_time,omitempty"`
	CreatedAt             int64      `json:"created_at"`
	UpdatedAt             int64      `json:"updated_at"`
}

func sessionResponse(s *viability.Session) SessionResponse {
	resp := SessionResponse{
		ID:                    s.ID,
		Language:              s.Language,
		Country:               s.Country,
		Region:                s.Region,
		InstructorID:          s.InstructorID,
		StartTime:             s.StartTime,
		DurationMinutes:       s.DurationMinutes,
		EnrollmentCount:       s.EnrollmentCount,
		MinAttendanceOverride: s.MinAttendanceOverride,
		ProfitTargetOverride:  s.ProfitTargetOverride,
		Status:                string(s.Status),
		CreatedAt:             s.CreatedAt,
		UpdatedAt:             s.UpdatedAt,
	}
	if !s.CancellationDeadline.IsZero() {
		d := s.CancellationDeadline
		resp.CancellationDeadline = &d
	}
	if !s.AttendanceCheckTime.IsZero() {
		t := s.AttendanceCheckTime
		resp.AttendanceCheckTime = &t
	}
	return resp
}

// AnalysisResponse is the wire form of a viability analysis.
type AnalysisResponse struct {
	SessionID          string    `json:"session_id"`
	CurrentEnrollments int       `json:"current_enrollments"`
	MinRequired        int       `json:"min_required"`
	ProfitTarget       int       `json:"profit_target"`
	InstructorCost     float64   `json:"instructor_cost"`
	PlatformRevenue    float64   `json:"platform_revenue"`
	NetProfit          float64   `json:"net_profit"`
	MarginPercent      float64   `json:"margin_percent"`
	WillRun            bool      `json:"will_run"`
	IsProfitable       bool      `json:"is_profitable"`
	Recommendations    []string  `json:"recommendations"`
	ConfigID           string    `json:"config_id,omitempty"`
	Tier               string    `json:"tier"`
	ComputedAt         time.Time `json:"computed_at"`
}

func analysisResponse(a *viability.Analysis) *AnalysisResponse {
	if a == nil {
		return nil
	}
	recs := a.Recommendations
	if recs == nil {
		recs = []string{}
	}
	return &AnalysisResponse{
		SessionID:          a.SessionID,
		CurrentEnrollments: a.CurrentEnrollments,
		MinRequired:        a.MinRequired,
		ProfitTarget:       a.ProfitTarget,
		InstructorCost:     a.InstructorCost,
		PlatformRevenue:    a.PlatformRevenue,
		NetProfit:          a.NetProfit,
		MarginPercent:      a.MarginPercent,
		WillRun:            a.WillRun,
		IsProfitable:       a.IsProfitable,
		Recommendations:    recs,
		ConfigID:           a.ConfigID,
		Tier:               a.Tier,
		ComputedAt:         a.ComputedAt,
	}
}

// DecisionResponse is the outcome of a session check.
type DecisionResponse struct {
	SessionID       string            `json:"session_id"`
	Status          string            `json:"status"`
	Action          string            `json:"action"`
	HoursUntilStart float64           `json:"hours_until_start"`
	DeadlineHours   int               `json:"deadline_hours"`
	AutoCancel      bool              `json:"auto_cancel"`
	Reason          string            `json:"reason,omitempty"`
	Analysis        *AnalysisResponse `json:"analysis,omitempty"`
	CheckedAt       time.Time         `json:"checked_at"`
}

func decisionResponse(d *viability.Decision) DecisionResponse {
	return DecisionResponse{
		SessionID:       d.SessionID,
		Status:          string(d.Status),
		Action:          string(d.Action),
		HoursUntilStart: d.HoursUntilStart,
		DeadlineHours:   d.DeadlineHours,
		AutoCancel:      d.AutoCancel,
		Reason:          d.Reason,
		Analysis:        analysisResponse(d.Analysis),
		CheckedAt:       d.CheckedAt,
	}
}

// ResolvedResponse describes the winning config for a scope query.
type ResolvedResponse struct {
	ConfigID                  string  `json:"config_id"`
	Name                      string  `json:"name"`
	Tier                      string  `json:"tier"`
	Score                     int     `json:"score"`
	MinAttendance             int     `json:"min_attendance"`
	ProfitTarget              int     `json:"profit_target"`
	InstructorHourlyRate      float64 `json:"instructor_hourly_rate"`
	RevenuePerStudent         float64 `json:"revenue_per_student"`
	AutoCancel                bool    `json:"auto_cancel"`
	CancellationDeadlineHours int     `json:"cancellation_deadline_hours"`
}

// ResolveResponse is the response for GET /api/v1/resolve. When no config
// matches, Resolved is null and Fallback carries the engine defaults.
type ResolveResponse struct {
	Resolved *ResolvedResponse   `json:"resolved"`
	Fallback *ThresholdsResponse `json:"fallback,omitempty"`
}

// ThresholdsResponse is a bare threshold tuple.
type ThresholdsResponse struct {
	MinAttendance        int     `json:"min_attendance"`
	ProfitTarget         int     `json:"profit_target"`
	InstructorHourlyRate float64 `json:"instructor_hourly_rate"`
	RevenuePerStudent    float64 `json:"revenue_per_student"`
}

// SweepResultResponse is the response for GET /api/v1/sweep/last.
type SweepResultResponse struct {
	StartedAt  time.Time `json:"started_at"`
	DurationMs int64     `json:"duration_ms"`
	Checked    int       `json:"checked"`
	Cancelled  []string  `json:"cancelled"`
	Warned     []string  `json:"warned"`
	Errored    []string  `json:"errored"`
}

func sweepResultResponse(r *sweep.Result) SweepResultResponse {
	resp := SweepResultResponse{
		StartedAt:  r.StartedAt,
		DurationMs: r.Duration.Milliseconds(),
		Checked:    r.Checked,
		Cancelled:  r.Cancelled,
		Warned:     r.Warned,
		Errored:    r.Errored,
	}
	if resp.Cancelled == nil {
		resp.Cancelled = []string{}
	}
	if resp.Warned == nil {
		resp.Warned = []string{}
	}
	if resp.Errored == nil {
		resp.Errored = []string{}
	}
	return resp
}

// InvalidateResponse reports how many cache entries were dropped.
type InvalidateResponse struct {
	Scope   string `json:"scope"`
	Dropped int    `json:"dropped"`
}

// HealthDetailResponse is the response for GET /api/v1/health.
type HealthDetailResponse struct {
	Status       string            `json:"status"`
	Dependencies map[string]string `json:"dependencies"`
	Uptime       string            `json:"uptime"`
	Version      string            `json:"version"`
}

// RuntimeConfigResponse is the response for GET /api/v1/config.
type RuntimeConfigResponse struct {
	Environment    string `json:"environment"`
	LogLevel       string `json:"log_level"`
	MgmtListenAddr string `json:"mgmt_listen_addr"`
	AuthMode       string `json:"auth_mode"`
	SweepInterval  string `json:"sweep_interval"`
	SweepWorkers   int    `json:"sweep_workers"`
	CacheCapacity  int    `json:"cache_capacity"`
}

// ProblemDetail follows RFC 7807 for error responses.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}
