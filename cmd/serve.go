package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/verdant-group/greenwash-cli/internal/model"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the analysis API",
	Long:  "Accepts analysis requests over HTTP and runs them asynchronously; a request returns immediately with the job's current stage.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
			Handler: newRouter(env.Orch),
		}

		errCh := make(chan error, 1)
		go func() {
			zap.L().Info("api listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		// In-flight pipeline stages keep running on detached contexts; only
		// the HTTP listener drains here.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// jobService is the slice of the orchestrator the API uses.
type jobService interface {
	Start(ctx context.Context, companyCode, period string) (*model.AnalysisJob, error)
	Run(ctx context.Context, key model.JobKey) (*model.AnalysisJob, error)
	Lookup(ctx context.Context, key model.JobKey) (*model.AnalysisJob, error)
	Bundle(ctx context.Context, key model.JobKey) (*model.Bundle, error)
}

func newRouter(svc jobService) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/api/jobs", submitJob(svc))
	r.Get("/api/jobs/{period}/{code}", jobStatus(svc))
	r.Get("/api/assessments/{period}/{code}", assessment(svc))
	return r
}

type submitRequest struct {
	CompanyCode string `json:"company_code"`
	Period      string `json:"period"`
}

type jobStatusResponse struct {
	CompanyCode string `json:"company_code"`
	Period      string `json:"period"`
	Status      string `json:"status"`
	Stage       string `json:"stage,omitempty"`
	LastError   string `json:"last_error,omitempty"`
}

// submitJob creates or coalesces onto a job and drives it in the
// background. The response returns as soon as the job exists; abandoning
// the request never cancels work already paid for.
func submitJob(svc jobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		req.CompanyCode = strings.TrimSpace(req.CompanyCode)
		req.Period = strings.TrimSpace(req.Period)
		if req.CompanyCode == "" || req.Period == "" {
			writeError(w, http.StatusBadRequest, "company_code and period are required")
			return
		}

		job, err := svc.Start(r.Context(), req.CompanyCode, req.Period)
		if err != nil {
			zap.L().Error("starting job", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "could not start job")
			return
		}

		key := job.Key()
		go func() {
			if _, err := svc.Run(context.WithoutCancel(r.Context()), key); err != nil {
				if errors.Is(err, model.ErrJobInFlight) {
					return
				}
				zap.L().Warn("background run stopped", zap.String("job", key.String()), zap.Error(err))
			}
		}()

		writeJSON(w, http.StatusAccepted, statusFor(job))
	}
}

func jobStatus(svc jobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := keyFrom(r)
		job, err := svc.Lookup(r.Context(), key)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "lookup failed")
			return
		}
		if job != nil {
			writeJSON(w, http.StatusOK, statusFor(job))
			return
		}

		bundle, err := svc.Bundle(r.Context(), key)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "lookup failed")
			return
		}
		if bundle == nil {
			writeError(w, http.StatusNotFound, "no job for this company and period")
			return
		}
		writeJSON(w, http.StatusOK, jobStatusResponse{
			CompanyCode: key.CompanyCode,
			Period:      key.Period,
			Status:      "complete",
		})
	}
}

func assessment(svc jobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bundle, err := svc.Bundle(r.Context(), keyFrom(r))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "lookup failed")
			return
		}
		if bundle == nil {
			writeError(w, http.StatusNotFound, "no committed assessment for this company and period")
			return
		}
		writeJSON(w, http.StatusOK, bundle)
	}
}

func keyFrom(r *http.Request) model.JobKey {
	return model.JobKey{
		CompanyCode: chi.URLParam(r, "code"),
		Period:      chi.URLParam(r, "period"),
	}
}

func statusFor(job *model.AnalysisJob) jobStatusResponse {
	resp := jobStatusResponse{
		CompanyCode: job.Company.Code,
		Period:      job.Period,
		Stage:       string(job.Stage),
		Status:      "in_progress",
		LastError:   job.LastError,
	}
	if job.Stage.Terminal() {
		resp.Status = "complete"
	} else if strings.Contains(job.LastError, "scoring oracle unavailable") {
		resp.Status = "temporarily unavailable, retry later"
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("encoding response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
