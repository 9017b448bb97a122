package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/resolve-cli/internal/batch"
	"github.com/sells-group/resolve-cli/internal/model"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the resolution and review HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST"},
			AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
		}))

		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Post("/resolve", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				MeetingID     string                    `json:"meeting_id"`
				Participants  []model.ParticipantRecord `json:"participants"`
				UseEnrichment bool                      `json:"use_enrichment"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			if len(body.Participants) == 0 {
				writeError(w, http.StatusBadRequest, "participants is required")
				return
			}

			result, err := env.Orchestrator.Resolve(req.Context(), body.MeetingID, body.Participants,
				batch.Options{UseEnrichment: body.UseEnrichment})
			if err != nil {
				zap.L().Error("resolve request failed",
					zap.String("meeting_id", body.MeetingID), zap.Error(err))
				writeError(w, http.StatusInternalServerError, "resolution failed")
				return
			}
			writeJSON(w, http.StatusOK, result)
		})

		r.Post("/resolve/backlog", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				Meetings      []batch.MeetingBatch `json:"meetings"`
				UseEnrichment bool                 `json:"use_enrichment"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			if len(body.Meetings) == 0 {
				writeError(w, http.StatusBadRequest, "meetings is required")
				return
			}

			result, err := env.Orchestrator.ResolveBacklog(req.Context(), body.Meetings,
				batch.Options{UseEnrichment: body.UseEnrichment})
			if err != nil {
				zap.L().Error("backlog request failed", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "backlog resolution failed")
				return
			}
			writeJSON(w, http.StatusOK, result)
		})

		r.Get("/verifications", func(w http.ResponseWriter, req *http.Request) {
			pending, err := env.Workflow.ListPending(req.Context(), req.URL.Query().Get("reviewer"))
			if err != nil {
				writeError(w, http.StatusInternalServerError, "list failed")
				return
			}
			writeJSON(w, http.StatusOK, pending)
		})

		r.Get("/verifications/overdue", func(w http.ResponseWriter, req *http.Request) {
			overdue, err := env.Workflow.ListOverdue(req.Context(),
				time.Duration(cfg.Verify.OverdueHours)*time.Hour)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "list failed")
				return
			}
			writeJSON(w, http.StatusOK, overdue)
		})

		r.Post("/verifications/{id}/approve-match", func(w http.ResponseWriter, req *http.Request) {
			id := chi.URLParam(req, "id")
			var body struct {
				LeadID   string `json:"lead_id"`
				Reviewer string `json:"reviewer"`
				Note     string `json:"note"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			if body.LeadID == "" {
				v, err := env.Store.GetVerification(req.Context(), id)
				if err != nil {
					writeResolutionError(w, err)
					return
				}
				body.LeadID = v.CandidateLeadID
			}
			updated, err := env.Workflow.ApproveMatch(req.Context(), id, body.LeadID, body.Reviewer, body.Note)
			if err != nil {
				writeResolutionError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, updated)
		})

		r.Post("/verifications/{id}/approve-new-lead", func(w http.ResponseWriter, req *http.Request) {
			id := chi.URLParam(req, "id")
			var body struct {
				Reviewer string `json:"reviewer"`
				Note     string `json:"note"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			updated, lead, err := env.Workflow.ApproveNewLead(req.Context(), id, body.Reviewer, body.Note)
			if err != nil {
				writeResolutionError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"request": updated, "lead": lead})
		})

		r.Post("/verifications/{id}/reject", func(w http.ResponseWriter, req *http.Request) {
			id := chi.URLParam(req, "id")
			var body struct {
				Reviewer string `json:"reviewer"`
				Note     string `json:"note"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			updated, err := env.Workflow.Reject(req.Context(), id, body.Reviewer, body.Note)
			if err != nil {
				writeResolutionError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, updated)
		})

		r.Post("/verifications/bulk-approve", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				Threshold float64 `json:"threshold"`
				Reviewer  string  `json:"reviewer"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			if body.Threshold <= 0 {
				body.Threshold = cfg.Verify.BulkThreshold
			}
			result, err := env.Workflow.BulkApproveAbove(req.Context(), body.Threshold, body.Reviewer)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "bulk approve failed")
				return
			}
			writeJSON(w, http.StatusOK, result)
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			_ = srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeResolutionError maps the workflow sentinels to HTTP statuses.
func writeResolutionError(w http.ResponseWriter, err error) {
	switch {
	case eris.Is(err, model.ErrVerificationNotFound), eris.Is(err, model.ErrLeadNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case eris.Is(err, model.ErrInvalidState):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
