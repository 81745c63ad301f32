package api

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	models "SwingPull/internal/domain/models"
	domrepo "SwingPull/internal/domain/repository"
	"SwingPull/internal/engine"
	"SwingPull/internal/service/ratelimit"
	"SwingPull/internal/usecase"
	pkgcache "SwingPull/pkg/cache"
	xhttp "SwingPull/pkg/http"
	xlogger "SwingPull/pkg/logger"
	xutil "SwingPull/pkg/util"

	"github.com/labstack/echo/v4"
)

// StructureService is what the handler needs from usecase.StructureTracker.
type StructureService interface {
	Snapshot(ctx context.Context, symbol, tf string) (*models.StructureSnapshot, error)
	ReplayRange(ctx context.Context, symbol string, tf domrepo.Timeframe, from, to time.Time, limit int) (*models.StructureSnapshot, error)
	Streams() []string
}

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

// StructureEchoHandler serves snapshots, swings, statistics and profiles per stream
// and runs on-demand replays of stored bars.
type StructureEchoHandler struct {
	logger  *xlogger.Logger
	svc     StructureService
	limiter *ratelimit.Limiter
	locks   pkgcache.Service
	lockTTL time.Duration
	checks  map[string]HealthCheck
}

type HandlerOption func(*StructureEchoHandler)

// WithReplayLimit throttles replays per client address.
func WithReplayLimit(perSecond float64, burst int) HandlerOption {
	return func(h *StructureEchoHandler) { h.limiter = ratelimit.New(perSecond, burst) }
}

// WithReplayLock rejects a replay while another one for the same stream runs,
// across instances when locks is shared.
func WithReplayLock(locks pkgcache.Service, ttl time.Duration) HandlerOption {
	return func(h *StructureEchoHandler) {
		h.locks = locks
		h.lockTTL = ttl
	}
}

// WithHealthCheck adds a named dependency check to /healthz.
func WithHealthCheck(name string, check HealthCheck) HandlerOption {
	return func(h *StructureEchoHandler) {
		if check != nil {
			h.checks[name] = check
		}
	}
}

func NewStructureEchoHandler(logger *xlogger.Logger, svc StructureService, opts ...HandlerOption) *StructureEchoHandler {
	h := &StructureEchoHandler{
		logger:  logger,
		svc:     svc,
		lockTTL: time.Minute,
		checks:  make(map[string]HealthCheck),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *StructureEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	g := e.Group("/api/structure")
	g.GET("", h.Structure)
	g.GET("/swings", h.Swings)
	g.GET("/stats", h.Stats)
	g.GET("/profiles", h.Profiles)
	g.GET("/streams", h.Streams)
	g.POST("/replay", h.Replay)
}

func (h *StructureEchoHandler) snapshot(c echo.Context, symbol, tf string) (*models.StructureSnapshot, error) {
	tf = string(domrepo.NormalizeTimeframe(tf))
	return h.svc.Snapshot(c.Request().Context(), symbol, tf)
}

func (h *StructureEchoHandler) Structure(c echo.Context) error {
	req := &models.StructureRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	snap, err := h.snapshot(c, req.Symbol, req.TF)
	if err != nil {
		return h.fail(c, "structure", err)
	}
	return xhttp.SuccessResponse(c, snap)
}

// Swings returns the most recent swing points, oldest first, at most limit per kind.
func (h *StructureEchoHandler) Swings(c echo.Context) error {
	req := &models.SwingsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	snap, err := h.snapshot(c, req.Symbol, req.TF)
	if err != nil {
		return h.fail(c, "swings", err)
	}

	var rows []engine.SwingPoint
	if req.Kind != "low" {
		rows = append(rows, lastN(snap.Highs, req.Limit)...)
	}
	if req.Kind != "high" {
		rows = append(rows, lastN(snap.Lows, req.Limit)...)
	}
	if req.Kind == "all" {
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].Bar < rows[j].Bar })
	}
	if rows == nil {
		rows = []engine.SwingPoint{}
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func lastN(points []engine.SwingPoint, n int) []engine.SwingPoint {
	if n > 0 && len(points) > n {
		return points[len(points)-n:]
	}
	return points
}

type statsResponse struct {
	Symbol    string                 `json:"symbol"`
	Timeframe string                 `json:"tf"`
	Bucket    time.Time              `json:"bucket"`
	Stats     []engine.SeriesSummary `json:"stats"`
	Potential []engine.SeriesSummary `json:"potential"`
}

func (h *StructureEchoHandler) Stats(c echo.Context) error {
	req := &models.StructureRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	snap, err := h.snapshot(c, req.Symbol, req.TF)
	if err != nil {
		return h.fail(c, "stats", err)
	}
	return xhttp.SuccessResponse(c, statsResponse{
		Symbol:    snap.Symbol,
		Timeframe: snap.Timeframe,
		Bucket:    snap.Bucket,
		Stats:     snap.Stats,
		Potential: snap.Potential,
	})
}

type profilesResponse struct {
	Symbol      string               `json:"symbol"`
	Timeframe   string               `json:"tf"`
	Bucket      time.Time            `json:"bucket"`
	Condition   engine.Condition     `json:"condition"`
	Trend       engine.TrendState    `json:"trend"`
	Profiles    []engine.RiskProfile `json:"profiles"`
	Recommended []string             `json:"recommended"`
}

func (h *StructureEchoHandler) Profiles(c echo.Context) error {
	req := &models.StructureRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	snap, err := h.snapshot(c, req.Symbol, req.TF)
	if err != nil {
		return h.fail(c, "profiles", err)
	}
	rec := snap.Recommended()
	if rec == nil {
		rec = []string{}
	}
	return xhttp.SuccessResponse(c, profilesResponse{
		Symbol:      snap.Symbol,
		Timeframe:   snap.Timeframe,
		Bucket:      snap.Bucket,
		Condition:   snap.Condition,
		Trend:       snap.Trend,
		Profiles:    snap.Profiles,
		Recommended: rec,
	})
}

func (h *StructureEchoHandler) Streams(c echo.Context) error {
	streams := h.svc.Streams()
	return xhttp.ListResponse(c, streams, int64(len(streams)))
}

// Replay runs stored bars for [from, to] through a fresh engine and returns the
// final snapshot. Live state is not touched.
func (h *StructureEchoHandler) Replay(c echo.Context) error {
	if h.limiter != nil && !h.limiter.Allow(c.RealIP()) {
		return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("replay rate limit exceeded"))
	}
	req := &models.ReplayRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ctx := c.Request().Context()
	tf := domrepo.NormalizeTimeframe(req.TF)
	from, to := xutil.AlignRange(req.From.UTC(), req.To.UTC(), tf.Duration())

	if h.locks != nil {
		key := pkgcache.GenerateKeyWithParams("replay", req.Symbol, string(tf))
		ok, err := h.locks.TryLock(ctx, key, h.lockTTL)
		if err != nil {
			return h.fail(c, "replay_lock", err)
		}
		if !ok {
			return xhttp.AppErrorResponse(c, xhttp.ConflictError("a replay for this stream is already running").
				WithParam("symbol", req.Symbol).WithParam("tf", string(tf)))
		}
		defer func() { _ = h.locks.Unlock(context.WithoutCancel(ctx), key) }()
	}

	snap, err := h.svc.ReplayRange(ctx, req.Symbol, tf, from, to, req.Limit)
	if err != nil {
		return h.fail(c, "replay", err)
	}
	return xhttp.SuccessResponse(c, snap)
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (h *StructureEchoHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	res := healthResponse{Status: "ok", Checks: make(map[string]string, len(h.checks))}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			res.Status = "degraded"
			res.Checks[name] = err.Error()
			continue
		}
		res.Checks[name] = "ok"
	}
	status := http.StatusOK
	if res.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	return xhttp.DataResponse(c, status, res)
}

// fail maps domain errors onto HTTP errors; anything unknown is logged as a 500.
func (h *StructureEchoHandler) fail(c echo.Context, op string, err error) error {
	switch {
	case errors.Is(err, usecase.ErrUnknownStream):
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError(err.Error()).WithError(err))
	case errors.Is(err, engine.ErrOutOfOrder):
		return xhttp.AppErrorResponse(c, xhttp.ConflictError(err.Error()).WithError(err))
	case errors.Is(err, models.ErrInvalidBar), errors.Is(err, engine.ErrInvalidPivot):
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()).WithError(err))
	}
	if h.logger != nil {
		h.logger.Error("structure "+op+" error", xlogger.String("path", c.Path()), xlogger.Error(err))
	}
	return xhttp.AppErrorResponse(c, xhttp.InternalError("internal error").WithError(err))
}

var _ xhttp.Handler = (*StructureEchoHandler)(nil)
