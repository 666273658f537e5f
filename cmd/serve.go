package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/campatlas/catalog-cli/internal/model"
	"github.com/campatlas/catalog-cli/internal/store"
	"github.com/campatlas/catalog-cli/internal/syncer"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sync HTTP service",
	Long:  "Serves sync trigger, status, cancel and history endpoints, and runs the recurring scheduler.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initSync(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		interval := time.Duration(cfg.Sync.IntervalHours) * time.Hour
		sched := syncer.NewScheduler(env.Orchestrator, interval)
		go sched.Run(ctx)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newServeMux(env),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func newServeMux(env *syncEnv) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("POST /sync/start", func(w http.ResponseWriter, r *http.Request) {
		runCfg := model.DefaultSyncConfig()
		if body, err := io.ReadAll(r.Body); err == nil && len(body) > 0 {
			if err := json.Unmarshal(body, &runCfg); err != nil {
				http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
				return
			}
		}

		run, err := env.Orchestrator.StartSync(r.Context(), runCfg)
		if err != nil {
			if eris.Is(err, syncer.ErrAlreadyRunning) {
				writeJSON(w, http.StatusConflict, map[string]string{"error": "a sync run is already active"})
				return
			}
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}

		writeJSON(w, http.StatusAccepted, run)
	})

	mux.HandleFunc("GET /sync/status", func(w http.ResponseWriter, r *http.Request) {
		snap := env.Orchestrator.GetStatus()
		if snap == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})

	mux.HandleFunc("POST /sync/cancel", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			RunID string `json:"run_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RunID == "" {
			http.Error(w, `{"error":"run_id is required"}`, http.StatusBadRequest)
			return
		}

		if err := env.Orchestrator.CancelSync(req.RunID); err != nil {
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling", "run_id": req.RunID})
	})

	mux.HandleFunc("GET /sync/runs", func(w http.ResponseWriter, r *http.Request) {
		filter := store.RunFilter{
			Status: model.RunStatus(r.URL.Query().Get("status")),
			Limit:  queryInt(r, "limit"),
			Offset: queryInt(r, "offset"),
		}

		runs, err := env.Store.ListRuns(r.Context(), filter)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list runs"})
			return
		}
		if runs == nil {
			runs = []model.SyncRun{}
		}
		writeJSON(w, http.StatusOK, runs)
	})

	mux.HandleFunc("GET /sync/runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		run, err := env.Store.GetRun(r.Context(), r.PathValue("id"))
		if err != nil {
			if eris.Is(err, store.ErrRunNotFound) {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
				return
			}
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load run"})
			return
		}
		writeJSON(w, http.StatusOK, run)
	})

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("failed to encode response", zap.Error(err))
	}
}

func queryInt(r *http.Request, key string) int {
	var n int
	if s := r.URL.Query().Get(key); s != "" {
		fmt.Sscanf(s, "%d", &n) //nolint:errcheck
	}
	return n
}
