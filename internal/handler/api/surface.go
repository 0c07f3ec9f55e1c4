package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	models "VolSurf/internal/domain/models"
	icache "VolSurf/internal/service/cache"
	"VolSurf/internal/service/metrics"
	"VolSurf/internal/service/ratelimit"
	"VolSurf/internal/usecase"
	xhttp "VolSurf/pkg/http"
	xlogger "VolSurf/pkg/logger"
	"VolSurf/pkg/queue"

	"github.com/labstack/echo/v4"
)

// SurfaceHandler serves calibration, surface and Greeks endpoints over Echo.
type SurfaceHandler struct {
	logger  *xlogger.Logger
	cal     *usecase.Calibration
	query   *usecase.SurfaceQuery
	cache   icache.BytesCache
	rl      *ratelimit.Limiter
	jobs    queue.QueueService
	tracker *usecase.JobTracker
	gridTTL time.Duration
}

func NewSurfaceHandler(logger *xlogger.Logger, cal *usecase.Calibration, query *usecase.SurfaceQuery) *SurfaceHandler {
	metrics.Register()
	return &SurfaceHandler{
		logger:  logger,
		cal:     cal,
		query:   query,
		rl:      ratelimit.New(),
		gridTTL: 15 * time.Second,
	}
}

// SetCache injects the grid response cache.
func (h *SurfaceHandler) SetCache(c icache.BytesCache, ttl time.Duration) {
	h.cache = c
	if ttl > 0 {
		h.gridTTL = ttl
	}
}

// SetQueue enables async calibration submissions.
func (h *SurfaceHandler) SetQueue(q queue.QueueService, tracker *usecase.JobTracker) {
	h.jobs = q
	h.tracker = tracker
}

func (h *SurfaceHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.POST("/calibrate", h.Calibrate)
	g.GET("/underlyings", h.Underlyings)
	g.GET("/surface", h.Point)
	g.GET("/surface/grid", h.Grid)
	g.GET("/surface/report", h.Report)
	g.POST("/greeks", h.Greeks)
	g.POST("/greeks/batch", h.GreeksBatch)
	g.GET("/jobs", h.JobStatus)
}

func (h *SurfaceHandler) Calibrate(c echo.Context) error {
	start := time.Now()
	defer func() { metrics.APILatency.WithLabelValues("calibrate").Observe(time.Since(start).Seconds()) }()

	req := &models.CalibrateRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	if req.Async {
		return h.enqueue(c, req)
	}

	quotes := make([]*models.OptionQuote, len(req.Quotes))
	for i := range req.Quotes {
		quotes[i] = &req.Quotes[i]
	}
	report, err := h.cal.Calibrate(c.Request().Context(), &req.Snapshot, quotes, &req.Config)
	if err != nil {
		metrics.APIErrors.WithLabelValues("calibrate").Inc()
		h.logger.Error("calibration failed",
			xlogger.String("underlying", req.Snapshot.Underlying),
			xlogger.Error(err),
		)
		// the report still carries the per-quote diagnostics
		return xhttp.BadRequestResponse(c, report)
	}
	return xhttp.SuccessResponse(c, report)
}

func (h *SurfaceHandler) enqueue(c echo.Context, req *models.CalibrateRequest) error {
	if h.jobs == nil || h.tracker == nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("async calibration is not enabled"))
	}
	id := fmt.Sprintf("%s-%d", req.Snapshot.Underlying, time.Now().UnixNano())
	payload := &usecase.CalibrateJobPayload{
		ID:       id,
		Snapshot: req.Snapshot,
		Quotes:   req.Quotes,
		Config:   req.Config,
	}
	if err := h.jobs.PublishMessage(c.Request().Context(), usecase.CalibrateJobType, payload); err != nil {
		metrics.APIErrors.WithLabelValues("calibrate").Inc()
		h.logger.Error("job enqueue failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("could not enqueue calibration"))
	}
	h.tracker.Set(id, usecase.JobStatusQueued, "", nil)
	return xhttp.SuccessResponse(c, &usecase.JobStatus{ID: id, Status: usecase.JobStatusQueued, UpdatedAt: time.Now()})
}

func (h *SurfaceHandler) Underlyings(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.cal.Underlyings())
}

func (h *SurfaceHandler) Point(c echo.Context) error {
	start := time.Now()
	defer func() { metrics.APILatency.WithLabelValues("surface").Observe(time.Since(start).Seconds()) }()

	req := &models.SurfacePointRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	res, err := h.query.Point(req.Underlying, req.Strike, req.T)
	if err != nil {
		metrics.APIErrors.WithLabelValues("surface").Inc()
		return h.queryError(c, "surface point", err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *SurfaceHandler) Grid(c echo.Context) error {
	start := time.Now()
	defer func() { metrics.APILatency.WithLabelValues("grid").Observe(time.Since(start).Seconds()) }()

	req := &models.SurfaceGridRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if !h.rl.Allow(c.RealIP()+":grid", 5, 2) {
		h.logger.Warn("grid rate_limited", xlogger.String("remote", c.RealIP()))
		return xhttp.AppErrorResponse(c, xhttp.NewAppError("ERR_RATE_LIMITED", "", "rate limited", 429))
	}

	cacheKey := fmt.Sprintf("grid:%s:%d:%g:%t", req.Underlying, req.Resolution, req.StrikeRange, req.Moneyness)
	if h.cache != nil {
		if b, ok, err := h.cache.GetBytes(cacheKey); err != nil {
			h.logger.Warn("grid cache_get_error", xlogger.Error(err))
		} else if ok {
			var cached usecase.GridResult
			if err := json.Unmarshal(b, &cached); err == nil {
				return xhttp.SuccessResponse(c, &cached)
			}
		}
	}

	res, err := h.query.Grid(req.Underlying, req.Resolution, req.StrikeRange, req.Moneyness)
	if err != nil {
		metrics.APIErrors.WithLabelValues("grid").Inc()
		return h.queryError(c, "surface grid", err)
	}

	if h.cache != nil {
		if b, err := json.Marshal(res); err == nil {
			if err := h.cache.SetBytes(cacheKey, b, h.gridTTL); err != nil {
				h.logger.Warn("grid cache_set_error", xlogger.Error(err))
			}
		}
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *SurfaceHandler) Report(c echo.Context) error {
	underlying := c.QueryParam("underlying")
	if underlying == "" {
		return xhttp.BadRequestResponse(c, "underlying required")
	}
	res, err := h.query.Report(c.Request().Context(), underlying)
	if err != nil {
		return h.queryError(c, "surface report", err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *SurfaceHandler) Greeks(c echo.Context) error {
	start := time.Now()
	defer func() { metrics.APILatency.WithLabelValues("greeks").Observe(time.Since(start).Seconds()) }()

	req := &models.GreeksRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	res, err := h.query.Greeks(req.Underlying, req.Strike, req.T, req.Type, req.Mode)
	if err != nil {
		metrics.APIErrors.WithLabelValues("greeks").Inc()
		return h.queryError(c, "greeks", err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *SurfaceHandler) GreeksBatch(c echo.Context) error {
	start := time.Now()
	defer func() { metrics.APILatency.WithLabelValues("greeks_batch").Observe(time.Since(start).Seconds()) }()

	req := &models.GreeksBatchRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	res, err := h.query.GreeksBatch(c.Request().Context(), req.Underlying, req.Strikes, req.Ts, req.Type, req.Mode)
	if err != nil {
		metrics.APIErrors.WithLabelValues("greeks_batch").Inc()
		return h.queryError(c, "greeks batch", err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *SurfaceHandler) JobStatus(c echo.Context) error {
	if h.tracker == nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("async calibration is not enabled"))
	}
	req := &models.JobStatusRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	st, err := h.tracker.Get(req.ID)
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("job %s not found", req.ID))
	}
	return xhttp.SuccessResponse(c, st)
}

func (h *SurfaceHandler) queryError(c echo.Context, op string, err error) error {
	h.logger.Error(op+" failed", xlogger.Error(err))
	if errors.Is(err, usecase.ErrUnknownUnderlying) {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError(err.Error()))
	}
	return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()))
}
