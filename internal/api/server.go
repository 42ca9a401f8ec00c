package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgnsrekt/activeprobe/internal/relay"
	"github.com/dgnsrekt/activeprobe/internal/telemetry"
)

// Service is what the status API reads from.
type Service interface {
	ListRuns(ctx context.Context) []telemetry.Report
	GetRun(ctx context.Context, id string, withEvents bool) (telemetry.Report, error)
	ActiveRun(ctx context.Context, withEvents bool) (telemetry.Report, error)
	SessionStatus(ctx context.Context) SessionStatus
}

// Options are the optional surfaces mounted next to the API.
type Options struct {
	// Broker backs /api/v1/events when set.
	Broker *relay.Broker
	// Metrics is served at /metrics when set.
	Metrics http.Handler
}

type runIDInput struct {
	RunID  string `path:"run_id"`
	Events bool   `query:"events" doc:"Include the recorded probe events"`
}

type eventsInput struct {
	Events bool `query:"events" doc:"Include the recorded probe events"`
}

type runOutput struct {
	Body telemetry.Report
}

// NewServer builds the status API router.
func NewServer(svc Service, opts Options) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("ActiveProbe Status API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})
	if opts.Broker != nil {
		router.Get("/api/v1/events", relay.SSEHandler(opts.Broker))
	}
	if opts.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	registerRunHandlers(api, svc)
	registerMiscHandlers(api, svc)

	return router
}

func registerRunHandlers(api huma.API, svc Service) {
	type listRunsOutput struct {
		Body struct {
			Runs []telemetry.Report `json:"runs"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-runs", Method: http.MethodGet, Path: "/api/v1/runs", Summary: "List completed runs and the active run", Tags: []string{"Runs"}},
		func(ctx context.Context, input *struct{}) (*listRunsOutput, error) {
			out := &listRunsOutput{}
			out.Body.Runs = svc.ListRuns(ctx)
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "get-active-run", Method: http.MethodGet, Path: "/api/v1/runs/active", Summary: "Get the run currently collecting events", Tags: []string{"Runs"}},
		func(ctx context.Context, input *eventsInput) (*runOutput, error) {
			rep, err := svc.ActiveRun(ctx, input.Events)
			if err != nil {
				return nil, mapErr(err)
			}
			return &runOutput{Body: rep}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "get-run", Method: http.MethodGet, Path: "/api/v1/runs/{run_id}", Summary: "Get one run with its metrics", Tags: []string{"Runs"}},
		func(ctx context.Context, input *runIDInput) (*runOutput, error) {
			rep, err := svc.GetRun(ctx, input.RunID, input.Events)
			if err != nil {
				return nil, mapErr(err)
			}
			return &runOutput{Body: rep}, nil
		})
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, telemetry.ErrRunNotFound) {
		return huma.Error404NotFound(err.Error())
	}
	return huma.Error500InternalServerError(err.Error())
}
