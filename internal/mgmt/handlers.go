package mgmt

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	apperrors "github.com/lingoloop/viability/internal/errors"
	"github.com/lingoloop/viability/internal/health"
	"github.com/lingoloop/viability/internal/metrics"
	"github.com/lingoloop/viability/internal/store"
	"github.com/lingoloop/viability/internal/sweep"
	"github.com/lingoloop/viability/internal/threshold"
	"github.com/lingoloop/viability/internal/viability"
)

// RuntimeConfig holds mutable runtime configuration exposed by the API.
type RuntimeConfig struct {
	Environment    string
	LogLevel       string
	MgmtListenAddr string
	AuthMode       string
	SweepInterval  time.Duration
	SweepWorkers   int
	CacheCapacity  int
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	store    *store.Store
	resolver *threshold.Resolver
	analyzer *viability.Analyzer
	sweeper  *sweep.Sweeper
	checker  *health.Checker
	metrics  *metrics.Metrics // may be nil
	logger   zerolog.Logger

	runtimeConfig *RuntimeConfig
	startTime     time.Time
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(st *store.Store, resolver *threshold.Resolver, analyzer *viability.Analyzer, sweeper *sweep.Sweeper, checker *health.Checker, m *metrics.Metrics, rtCfg *RuntimeConfig, logger zerolog.Logger) *Handlers {
	return &Handlers{
		store:         st,
		resolver:      resolver,
		analyzer:      analyzer,
		sweeper:       sweeper,
		checker:       checker,
		metrics:       m,
		logger:        logger.With().Str("component", "handlers").Logger(),
		runtimeConfig: rtCfg,
		startTime:     time.Now(),
	}
}

// --- Threshold configs ---

// CreateConfig handles POST /api/v1/configs.
func (h *Handlers) CreateConfig(c *fiber.Ctx) error {
	var req ConfigRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	if msg := validateConfigRequest(&req); msg != "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_config", "Bad Request", msg)
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	cfg := threshold.Config{
		Name:                      req.Name,
		Language:                  req.Language,
		Country:                   threshold.Exactly(req.Country),
		Region:                    threshold.Exactly(req.Region),
		MinAttendance:             req.MinAttendance,
		ProfitTarget:              req.ProfitTarget,
		InstructorHourlyRate:      req.InstructorHourlyRate,
		RevenuePerStudent:         req.RevenuePerStudent,
		AutoCancel:                req.AutoCancel,
		CancellationDeadlineHours: req.CancellationDeadlineHours,
		Active:                    active,
		Priority:                  req.Priority,
		Notes:                     req.Notes,
	}

	created, err := h.store.CreateConfig(c.Context(), cfg)
	if err != nil {
		if errors.Is(err, apperrors.ErrDuplicateScope) {
			return problemResponse(c, fiber.StatusConflict,
				"duplicate_scope", "Conflict",
				"A config with the same language/country/region scope already exists")
		}
		return err
	}

	h.invalidateDerived()
	h.logger.Info().Str("config_id", created.ID).Str("language", created.Language).Msg("threshold config created")
	return c.Status(fiber.StatusCreated).JSON(configResponse(created))
}

// ListConfigs handles GET /api/v1/configs.
func (h *Handlers) ListConfigs(c *fiber.Ctx) error {
	configs, err := h.store.ListConfigs(c.Context())
	if err != nil {
		return err
	}
	out := make([]ConfigResponse, 0, len(configs))
	for i := range configs {
		out = append(out, configResponse(&configs[i]))
	}
	return c.JSON(ConfigListResponse{Configs: out, Total: len(out)})
}

// GetConfig handles GET /api/v1/configs/:id.
func (h *Handlers) GetConfig(c *fiber.Ctx) error {
	id := c.Params("id")
	cfg, err := h.store.GetConfig(c.Context(), id)
	if err != nil {
		return err
	}
	if cfg == nil {
		return problemResponse(c, fiber.StatusNotFound,
			"config_not_found", "Not Found",
			"Config not found: "+id)
	}
	return c.JSON(configResponse(cfg))
}

// PatchConfig handles PATCH /api/v1/configs/:id.
func (h *Handlers) PatchConfig(c *fiber.Ctx) error {
	id := c.Params("id")
	var req ConfigPatchRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}

	cfg, err := h.store.GetConfig(c.Context(), id)
	if err != nil {
		return err
	}
	if cfg == nil {
		return problemResponse(c, fiber.StatusNotFound,
			"config_not_found", "Not Found",
			"Config not found: "+id)
	}

	applyConfigPatch(cfg, &req)
	if cfg.Language == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_config", "Bad Request", "language is required")
	}
	if cfg.CancellationDeadlineHours <= 0 {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_config", "Bad Request", "cancellation_deadline_hours must be > 0")
	}

	updated, err := h.store.UpdateConfig(c.Context(), *cfg)
	if err != nil {
		if errors.Is(err, apperrors.ErrDuplicateScope) {
			return problemResponse(c, fiber.StatusConflict,
				"duplicate_scope", "Conflict",
				"A config with the same language/country/region scope already exists")
		}
		if errors.Is(err, apperrors.ErrNotFound) {
			return problemResponse(c, fiber.StatusNotFound,
				"config_not_found", "Not Found",
				"Config not found: "+id)
		}
		return err
	}

	h.invalidateDerived()
	return c.JSON(configResponse(updated))
}

// DeleteConfig handles DELETE /api/v1/configs/:id.
func (h *Handlers) DeleteConfig(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := h.store.DeleteConfig(c.Context(), id); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return problemResponse(c, fiber.StatusNotFound,
				"config_not_found", "Not Found",
				"Config not found: "+id)
		}
		return err
	}

	h.invalidateDerived()
	h.logger.Info().Str("config_id", id).Msg("threshold config deleted")
	return c.SendStatus(fiber.StatusNoContent)
}

// --- Sessions ---

// CreateSession handles POST /api/v1/sessions.
func (h *Handlers) CreateSession(c *fiber.Ctx) error {
	var req SessionRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	if req.Language == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_session", "Bad Request", "language is required")
	}
	if req.StartTime.IsZero() {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_session", "Bad Request", "start_time is required")
	}
	if req.DurationMinutes <= 0 {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_session", "Bad Request", "duration_minutes must be > 0")
	}
	if req.EnrollmentCount < 0 {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_session", "Bad Request", "enrollment_count must be >= 0")
	}

	sess := viability.Session{
		Language:              req.Language,
		Country:               req.Country,
		Region:                req.Region,
		InstructorID:          req.InstructorID,
		StartTime:             req.StartTime.UTC(),
		DurationMinutes:       req.DurationMinutes,
		EnrollmentCount:       req.EnrollmentCount,
		MinAttendanceOverride: req.MinAttendanceOverride,
		ProfitTargetOverride:  req.ProfitTargetOverride,
	}

	created, err := h.store.CreateSession(c.Context(), sess)
	if err != nil {
		return err
	}

	h.logger.Info().Str("session_id", created.ID).Time("start_time", created.StartTime).Msg("session created")
	return c.Status(fiber.StatusCreated).JSON(sessionResponse(created))
}

// GetSession handles GET /api/v1/sessions/:id.
func (h *Handlers) GetSession(c *fiber.Ctx) error {
	id := c.Params("id")
	sess, err := h.store.GetSession(c.Context(), id)
	if err != nil {
		return err
	}
	if sess == nil {
		return problemResponse(c, fiber.StatusNotFound,
			"session_not_found", "Not Found",
			"Session not found: "+id)
	}
	return c.JSON(sessionResponse(sess))
}

// UpdateEnrollment handles PATCH /api/v1/sessions/:id/enrollment.
func (h *Handlers) UpdateEnrollment(c *fiber.Ctx) error {
	id := c.Params("id")
	var req EnrollmentRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	if req.Count < 0 {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_enrollment", "Bad Request", "count must be >= 0")
	}

	if err := h.store.UpdateEnrollment(c.Context(), id, req.Count); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return problemResponse(c, fiber.StatusNotFound,
				"session_not_found", "Not Found",
				"Session not found: "+id)
		}
		return err
	}

	// The cached analysis is stale the moment the count changes.
	h.analyzer.Invalidate(id)

	sess, err := h.store.GetSession(c.Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(sessionResponse(sess))
}

// GetAnalysis handles GET /api/v1/sessions/:id/analysis. Pass ?fresh=true to
// bypass the analysis cache.
func (h *Handlers) GetAnalysis(c *fiber.Ctx) error {
	id := c.Params("id")
	sess, err := h.store.GetSession(c.Context(), id)
	if err != nil {
		return err
	}
	if sess == nil {
		return problemResponse(c, fiber.StatusNotFound,
			"session_not_found", "Not Found",
			"Session not found: "+id)
	}

	var analysis *viability.Analysis
	if c.QueryBool("fresh", false) {
		analysis, err = h.analyzer.Fresh(c.Context(), sess)
	} else {
		analysis, err = h.analyzer.Analyze(c.Context(), sess)
	}
	if err != nil {
		return err
	}
	return c.JSON(analysisResponse(analysis))
}

// CheckSession handles POST /api/v1/sessions/:id/check. It runs the same
// decide-and-apply path the sweep uses, so a CANCEL outcome takes effect
// immediately.
func (h *Handlers) CheckSession(c *fiber.Ctx) error {
	id := c.Params("id")
	d, err := h.sweeper.CheckOne(c.Context(), id)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return problemResponse(c, fiber.StatusNotFound,
				"session_not_found", "Not Found",
				"Session not found: "+id)
		}
		return err
	}
	return c.JSON(decisionResponse(d))
}

// --- Resolution, sweep, cache ---

// Resolve handles GET /api/v1/resolve.
func (h *Handlers) Resolve(c *fiber.Ctx) error {
	q := threshold.Query{
		Language: c.Query("language"),
		Country:  c.Query("country"),
		Region:   c.Query("region"),
	}
	if q.Language == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_language", "Bad Request", "language query parameter is required")
	}

	resolved, err := h.resolver.Resolve(c.Context(), q)
	if err != nil {
		return err
	}

	resp := ResolveResponse{}
	if resolved != nil {
		resp.Resolved = &ResolvedResponse{
			ConfigID:                  resolved.ConfigID,
			Name:                      resolved.Name,
			Tier:                      resolved.Tier.String(),
			Score:                     resolved.Score,
			MinAttendance:             resolved.MinAttendance,
			ProfitTarget:              resolved.ProfitTarget,
			InstructorHourlyRate:      resolved.InstructorHourlyRate,
			RevenuePerStudent:         resolved.RevenuePerStudent,
			AutoCancel:                resolved.AutoCancel,
			CancellationDeadlineHours: resolved.CancellationDeadlineHours,
		}
	} else {
		defaults := threshold.DefaultThresholds()
		resp.Fallback = &ThresholdsResponse{
			MinAttendance:        defaults.MinAttendance,
			ProfitTarget:         defaults.ProfitTarget,
			InstructorHourlyRate: defaults.InstructorHourlyRate,
			RevenuePerStudent:    defaults.RevenuePerStudent,
		}
	}
	return c.JSON(resp)
}

// SweepLast handles GET /api/v1/sweep/last.
func (h *Handlers) SweepLast(c *fiber.Ctx) error {
	last := h.sweeper.LastResult()
	if last == nil {
		return problemResponse(c, fiber.StatusNotFound,
			"no_sweep_yet", "Not Found",
			"No sweep has completed yet")
	}
	return c.JSON(sweepResultResponse(last))
}

// InvalidateCache handles POST /api/v1/cache/invalidate.
func (h *Handlers) InvalidateCache(c *fiber.Ctx) error {
	var req InvalidateRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}

	var dropped int
	switch req.Scope {
	case "configs":
		dropped = h.resolver.Invalidate()
		h.recordCacheOp("resolved", "invalidate")
	case "analyses":
		dropped = h.analyzer.InvalidateAll()
		h.recordCacheOp("analysis", "invalidate")
	case "all", "":
		req.Scope = "all"
		dropped = h.resolver.Invalidate() + h.analyzer.InvalidateAll()
		h.recordCacheOp("resolved", "invalidate")
		h.recordCacheOp("analysis", "invalidate")
	default:
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_scope", "Bad Request",
			"Scope must be one of: configs, analyses, all")
	}

	h.logger.Info().Str("scope", req.Scope).Int("dropped", dropped).Msg("cache invalidated via API")
	return c.JSON(InvalidateResponse{Scope: req.Scope, Dropped: dropped})
}

// --- Health & runtime config ---

// HealthDetail handles GET /api/v1/health.
func (h *Handlers) HealthDetail(c *fiber.Ctx) error {
	results := h.checker.RunAll(c.Context())

	dependencies := make(map[string]string, len(results))
	overall := "ok"
	for name, status := range results {
		dependencies[name] = string(status)
		if status == health.StatusDown {
			overall = "degraded"
		}
	}

	uptime := time.Since(h.startTime).Round(time.Second).String()

	return c.JSON(HealthDetailResponse{
		Status:       overall,
		Dependencies: dependencies,
		Uptime:       uptime,
		Version:      "1.0.0",
	})
}

// GetRuntimeConfig handles GET /api/v1/config.
func (h *Handlers) GetRuntimeConfig(c *fiber.Ctx) error {
	cfg := h.runtimeConfig
	return c.JSON(RuntimeConfigResponse{
		Environment:    cfg.Environment,
		LogLevel:       cfg.LogLevel,
		MgmtListenAddr: cfg.MgmtListenAddr,
		AuthMode:       cfg.AuthMode,
		SweepInterval:  cfg.SweepInterval.String(),
		SweepWorkers:   cfg.SweepWorkers,
		CacheCapacity:  cfg.CacheCapacity,
	})
}

// PatchRuntimeConfig handles PATCH /api/v1/config.
func (h *Handlers) PatchRuntimeConfig(c *fiber.Ctx) error {
	var req LogLevelPatchRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}

	if req.LogLevel != nil {
		level, err := zerolog.ParseLevel(*req.LogLevel)
		if err != nil {
			return problemResponse(c, fiber.StatusBadRequest,
				"invalid_log_level", "Bad Request",
				"Unknown log level: "+*req.LogLevel)
		}
		zerolog.SetGlobalLevel(level)
		h.runtimeConfig.LogLevel = *req.LogLevel
		h.logger.Info().Str("log_level", *req.LogLevel).Msg("log level changed via API")
	}

	return h.GetRuntimeConfig(c)
}

// Liveness handles GET /healthz.
func (h *Handlers) Liveness(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// Readiness handles GET /readyz.
func (h *Handlers) Readiness(c *fiber.Ctx) error {
	if !h.checker.IsReady(c.Context()) {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "not_ready",
		})
	}
	return c.JSON(fiber.Map{"status": "ready"})
}

// invalidateDerived drops everything computed from configs. Any config write
// can change which config wins for any scope, so both caches go.
func (h *Handlers) invalidateDerived() {
	h.resolver.Invalidate()
	h.analyzer.InvalidateAll()
	h.recordCacheOp("resolved", "invalidate")
	h.recordCacheOp("analysis", "invalidate")
}

func (h *Handlers) recordCacheOp(cache, result string) {
	if h.metrics != nil {
		h.metrics.RecordCacheOp(cache, result)
	}
}

func validateConfigRequest(req *ConfigRequest) string {
	if req.Language == "" {
		return "language is required"
	}
	if req.CancellationDeadlineHours <= 0 {
		return "cancellation_deadline_hours must be > 0"
	}
	if req.MinAttendance < 0 || req.ProfitTarget < 0 || req.InstructorHourlyRate < 0 || req.RevenuePerStudent < 0 {
		return "thresholds must be non-negative"
	}
	return ""
}

func applyConfigPatch(cfg *threshold.Config, req *ConfigPatchRequest) {
	if req.Name != nil {
		cfg.Name = *req.Name
	}
	if req.Language != nil {
		cfg.Language = *req.Language
	}
	if req.Country != nil {
		cfg.Country = threshold.Exactly(*req.Country)
	}
	if req.Region != nil {
		cfg.Region = threshold.Exactly(*req.Region)
	}
	if req.MinAttendance != nil {
		cfg.MinAttendance = *req.MinAttendance
	}
	if req.ProfitTarget != nil {
		cfg.ProfitTarget = *req.ProfitTarget
	}
	if req.InstructorHourlyRate != nil {
		cfg.InstructorHourlyRate = *req.InstructorHourlyRate
	}
	if req.RevenuePerStudent != nil {
		cfg.RevenuePerStudent = *req.RevenuePerStudent
	}
	if req.AutoCancel != nil {
		cfg.AutoCancel = *req.AutoCancel
	}
	if req.CancellationDeadlineHours != nil {
		cfg.CancellationDeadlineHours = *req.CancellationDeadlineHours
	}
	if req.Active != nil {
		cfg.Active = *req.Active
	}
	if req.Priority != nil {
		cfg.Priority = *req.Priority
	}
	if req.Notes != nil {
		cfg.Notes = *req.Notes
	}
}
