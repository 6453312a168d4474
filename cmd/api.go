package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/webfabrica/leadgen-cli/internal/ingest"
	"github.com/webfabrica/leadgen-cli/internal/lifecycle"
	"github.com/webfabrica/leadgen-cli/internal/model"
	"github.com/webfabrica/leadgen-cli/internal/selector"
)

// Handler dependencies, narrowed so tests can swap in fakes.
type ingestRunner interface {
	Process(ctx context.Context, source string, recs []model.RawRecord) (ingest.Summary, error)
}

type stageReporter interface {
	ReportStage(ctx context.Context, id string, stage model.Stage, result lifecycle.StageResult, artifact, actor string) error
}

type eligibilityReader interface {
	Eligible(ctx context.Context, queue selector.Queue, limit int) ([]model.Business, error)
	Funnel(ctx context.Context) (*model.FunnelReport, error)
}

type apiDeps struct {
	ingest   ingestRunner
	reporter stageReporter
	selector eligibilityReader
}

func newRouter(deps apiDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/ingest", handleIngest(deps.ingest))
	r.Post("/stage", handleStage(deps.reporter))
	r.Get("/eligible", handleEligible(deps.selector))
	r.Get("/funnel", handleFunnel(deps.selector))

	return r
}

func handleIngest(runner ingestRunner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Source  string            `json:"source"`
			Records []model.RawRecord `json:"records"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if len(req.Records) == 0 {
			writeError(w, http.StatusBadRequest, "records are required")
			return
		}
		if req.Source == "" {
			req.Source = "api"
		}

		sum, err := runner.Process(r.Context(), req.Source, req.Records)
		if err != nil {
			zap.L().Error("api ingest failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "ingest failed")
			return
		}
		writeJSON(w, http.StatusOK, sum)
	}
}

func handleStage(reporter stageReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID       string `json:"id"`
			Stage    string `json:"stage"`
			Result   string `json:"result"`
			Artifact string `json:"artifact,omitempty"`
			Actor    string `json:"actor,omitempty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.ID == "" {
			writeError(w, http.StatusBadRequest, "id is required")
			return
		}
		stage := model.Stage(req.Stage)
		if !stage.Valid() {
			writeError(w, http.StatusBadRequest, "unknown stage")
			return
		}
		result := lifecycle.StageResult(req.Result)
		if !result.Valid() {
			writeError(w, http.StatusBadRequest, "unknown result")
			return
		}
		if req.Actor == "" {
			req.Actor = "api"
		}

		err := reporter.ReportStage(r.Context(), req.ID, stage, result, req.Artifact, req.Actor)
		switch {
		case errors.Is(err, model.ErrNotFound):
			writeError(w, http.StatusNotFound, "business not found")
		case errors.Is(err, model.ErrTransitionConflict):
			writeError(w, http.StatusConflict, "transition not allowed")
		case err != nil:
			zap.L().Error("api stage report failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "stage report failed")
		default:
			writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
		}
	}
}

func handleEligible(reader eligibilityReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		queue := selector.Queue(r.URL.Query().Get("queue"))

		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			limit = n
		}

		out, err := reader.Eligible(r.Context(), queue, limit)
		switch {
		case errors.Is(err, model.ErrValidation):
			writeError(w, http.StatusBadRequest, "unknown queue")
		case err != nil:
			zap.L().Error("api eligible failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "eligibility read failed")
		default:
			if out == nil {
				out = []model.Business{}
			}
			writeJSON(w, http.StatusOK, out)
		}
	}
}

func handleFunnel(reader eligibilityReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := reader.Funnel(r.Context())
		if err != nil {
			zap.L().Error("api funnel failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "funnel read failed")
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
