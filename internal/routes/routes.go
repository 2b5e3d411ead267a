package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"gitlab.com/ranfdev/pollvote/internal/domain"
	"gitlab.com/ranfdev/pollvote/internal/metrics"
	"gitlab.com/ranfdev/pollvote/internal/models"
)

type Toggler interface {
	Toggle(ctx context.Context, optionID int64, userID string) (*models.ToggleResult, error)
}

type ReportBuilder interface {
	BuildReport(ctx context.Context, pollID int64) ([]models.OptionCount, error)
}

type Routes struct {
	toggler  Toggler
	reports  ReportBuilder
	limiter  domain.RateLimiter
	metrics  *metrics.VoteMetrics
	gatherer prometheus.Gatherer
	health   func(ctx context.Context) error
	log      zerolog.Logger
}

type Deps struct {
	Toggler Toggler
	Reports ReportBuilder
	// Optional
	Limiter  domain.RateLimiter
	Metrics  *metrics.VoteMetrics
	Gatherer prometheus.Gatherer
	Health   func(ctx context.Context) error
}

func NewRouter(deps Deps, log zerolog.Logger) chi.Router {
	routes := &Routes{
		toggler:  deps.Toggler,
		reports:  deps.Reports,
		limiter:  deps.Limiter,
		metrics:  deps.Metrics,
		gatherer: deps.Gatherer,
		health:   deps.Health,
		log:      log,
	}
	if routes.gatherer == nil {
		routes.gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(hlog.NewHandler(log))
	r.Use(hlog.RequestIDHandler("req_id", "Request-Id"))
	r.Use(hlog.RemoteAddrHandler("ip"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("")
	}))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", routes.GetHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(routes.gatherer, promhttp.HandlerOpts{}))
	r.Get("/polls/{pollID}/results", routes.AppHandler(routes.GetResults))
	r.With(routes.UserCtx, routes.RateLimitCtx).
		Post("/options/{optionID}/vote", routes.AppHandler(routes.PostVote))
	return r
}

func (routes *Routes) AppHandler(handler func(w http.ResponseWriter, r *http.Request) AppError) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := handler(w, r)
		if err == nil {
			return
		}
		routes.HandleErr(w, r, err)
	}
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (routes *Routes) HandleErr(w http.ResponseWriter, r *http.Request, err AppError) {
	logger := hlog.FromRequest(r)
	event := logger.Warn()
	if err.Status() >= http.StatusInternalServerError {
		event = logger.Error()
	}
	event.Err(err).
		Int("status", err.Status()).
		Str("code", err.ErrorCode()).
		Msg("Request failed")

	renderJSON(w, err.Status(), errorBody{Error: err.ErrorCode(), Message: err.PublicMessage()})
}

func renderJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (routes *Routes) GetHealth(w http.ResponseWriter, r *http.Request) {
	if routes.health != nil {
		if err := routes.health(r.Context()); err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("Health check failed")
			renderJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	renderJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
