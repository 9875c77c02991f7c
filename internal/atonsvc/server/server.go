// Package server exposes datasets and SECOM subscriptions over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/grad-enav/atonservice/internal/atonsvc/db/models"
	"github.com/grad-enav/atonservice/internal/common/apperrors"
	"github.com/grad-enav/atonservice/internal/common/httpx"
	"github.com/grad-enav/atonservice/internal/common/logtrace"
	commonmiddleware "github.com/grad-enav/atonservice/internal/common/middleware"
	"github.com/grad-enav/atonservice/internal/common/uuid"
)

type DatasetService interface {
	Find(ctx context.Context, f models.DatasetFilter, page models.Page) (*models.DatasetPage, apperrors.Error)
	FindOne(ctx context.Context, id uuid.UUID) (*models.Dataset, apperrors.Error)
	Content(ctx context.Context, id uuid.UUID) (*models.DatasetContent, apperrors.Error)
	Save(ctx context.Context, d *models.Dataset) (*models.Dataset, apperrors.Error)
	Cancel(ctx context.Context, id uuid.UUID) (*models.Dataset, apperrors.Error)
	Replace(ctx context.Context, id uuid.UUID) (*models.Dataset, apperrors.Error)
	Delete(ctx context.Context, id uuid.UUID) apperrors.Error
}

type ContentLog interface {
	FindForUUIDDuring(ctx context.Context, id uuid.UUID, from, to time.Time) ([]models.ContentLogEntry, apperrors.Error)
}

type SubscriptionService interface {
	Save(ctx context.Context, clientMRN string, req *models.SubscriptionRequest) (*models.SubscriptionRequest, apperrors.Error)
	Delete(ctx context.Context, id uuid.UUID) apperrors.Error
}

// HealthCheck reports a failing dependency with a non-nil error.
type HealthCheck func(ctx context.Context) error

type Options struct {
	Datasets       DatasetService
	ContentLog     ContentLog
	Subscriptions  SubscriptionService
	Gatherer       prometheus.Gatherer
	HealthChecks   map[string]HealthCheck
	HandleCORS     bool
	RequestTimeout time.Duration
	MaxBodySize    int64
}

// Server holds the router and the services behind it.
type Server struct {
	Router *chi.Mux
	opts   Options
}

// CreateNewServer builds a server from opts. Handlers are added by
// MountHandlers.
func CreateNewServer(opts Options) (*Server, error) {
	if opts.Datasets == nil || opts.ContentLog == nil || opts.Subscriptions == nil {
		return nil, fmt.Errorf("dataset, content log and subscription services are required")
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	return &Server{Router: chi.NewRouter(), opts: opts}, nil
}

// MountHandlers registers middleware and every route.
func (s *Server) MountHandlers() {
	s.Router.Use(commonmiddleware.RequestLogger)
	s.Router.Use(commonmiddleware.PanicHandler)
	if s.opts.HandleCORS {
		s.Router.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"https://*", "http://*"},
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", "Content-Length", "Accept-Encoding", "Authorization", mrnHeader},
			ExposedHeaders: []string{commonmiddleware.RequestIDHeader, "Location"},
			MaxAge:         300,
		}))
	}
	if s.opts.MaxBodySize > 0 {
		s.Router.Use(limitBody(s.opts.MaxBodySize))
	}

	s.Router.Get("/healthz", s.getHealth)
	s.Router.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))

	s.Router.Route("/api", func(r chi.Router) {
		if s.opts.RequestTimeout > 0 {
			r.Use(commonmiddleware.SetTimeout(s.opts.RequestTimeout))
		}
		r.Route("/datasets", s.mountDatasetHandlers)
		r.Route("/secom/subscription", s.mountSubscriptionHandlers)
	})

	if logtrace.IsTraceEnabled() {
		walkFunc := func(method string, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
			log.Trace().Str("method", method).Str("route", route).Msg("route")
			return nil
		}
		if err := chi.Walk(s.Router, walkFunc); err != nil {
			log.Warn().Err(err).Msg("unable to walk routes")
		}
	}
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	checks := make(map[string]string, len(s.opts.HealthChecks))
	for name, check := range s.opts.HealthChecks {
		if err := check(r.Context()); err != nil {
			log.Ctx(r.Context()).Warn().Err(err).Str("check", name).Msg("health check failed")
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	rsp := map[string]any{"status": "ready", "checks": checks}
	if status != http.StatusOK {
		rsp["status"] = "not ready"
	}
	httpx.SendJsonRsp(r.Context(), w, status, rsp, "")
}

func limitBody(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, n)
			}
			next.ServeHTTP(w, r)
		})
	}
}
