package main

import (
	"context"
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

	"github.com/sells-group/scout/internal/model"
	"github.com/sells-group/scout/internal/session"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(env),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func newRouter(env *env) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/api/cache/stats", handleCacheStats(env))

	r.Route("/api/pipelines", func(r chi.Router) {
		r.Post("/", handleStartPipeline(env))
		r.Get("/{sessionID}", handlePoll(env))
		r.Post("/{sessionID}/collect", handleCollect(env))
		r.Post("/{sessionID}/assess", handleAssess(env))
	})

	return r
}

func handleStartPipeline(env *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var role model.RoleContext
		if err := json.NewDecoder(r.Body).Decode(&role); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		sessionID, err := env.Pipeline.Start(r.Context(), role)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		// The run continues after this request returns; progress is
		// visible through the poll endpoint.
		go func() {
			runCtx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
			defer cancel()
			if err := env.Pipeline.Run(runCtx, sessionID); err != nil {
				zap.L().Error("pipeline run failed",
					zap.String("session_id", sessionID),
					zap.Error(err),
				)
			}
		}()

		writeJSON(w, http.StatusAccepted, map[string]string{"session_id": sessionID})
	}
}

func handleCacheStats(env *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, err := collectCacheStats(r.Context(), env)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, payload)
	}
}

func handlePoll(env *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := env.Pipeline.Poll(r.Context(), chi.URLParam(r, "sessionID"))
		if err != nil {
			writeSessionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, status)
	}
}

func handleCollect(env *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Count int `json:"count"`
		}
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
		}

		res, err := env.Pipeline.CollectMore(r.Context(), chi.URLParam(r, "sessionID"), req.Count)
		if err != nil {
			writeSessionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleAssess(env *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			CandidateIDs []string `json:"candidate_ids"`
			Criteria     string   `json:"criteria"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if len(req.CandidateIDs) == 0 {
			writeError(w, http.StatusBadRequest, "candidate_ids is required")
			return
		}

		// Touch the session so a stale ID fails fast.
		if _, err := env.Pipeline.Poll(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
			writeSessionError(w, err)
			return
		}

		outcomes := env.Pipeline.AssessBatch(r.Context(), req.CandidateIDs, req.Criteria)
		writeJSON(w, http.StatusOK, outcomes)
	}
}

func writeSessionError(w http.ResponseWriter, err error) {
	if eris.Is(err, session.ErrNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
