package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/kleio/mentions-monitor/internal/config"
	"github.com/kleio/mentions-monitor/internal/models"
	"github.com/kleio/mentions-monitor/internal/monitoring"
	"github.com/kleio/mentions-monitor/internal/notifications"
	"github.com/kleio/mentions-monitor/internal/scheduler"
	"github.com/kleio/mentions-monitor/internal/sources"
	"github.com/kleio/mentions-monitor/internal/storage"
	"github.com/sirupsen/logrus"
)

func main() {
	// Load environment variables from .env file if it exists
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logrus.SetLevel(logrus.InfoLevel)
	if cfg.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	logrus.SetFormatter(&logrus.JSONFormatter{})

	logrus.Info("Starting mentions monitor")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openStores(ctx, cfg)
	if err != nil {
		logrus.Fatalf("Failed to initialize storage: %v", err)
	}

	if cfg.KeywordsFile != "" {
		n, err := seedKeywords(ctx, cfg.KeywordsFile, st.keywords)
		if err != nil {
			logrus.Fatalf("Failed to load keywords: %v", err)
		}
		logrus.Infof("Loaded %d keywords from %s", n, cfg.KeywordsFile)
	}

	registry := sources.NewRegistryFromConfig(cfg)
	for _, src := range registry.Sources() {
		logrus.Infof("Source %s enabled for %s every %s", src.GetName(), src.Platform(), src.Interval())
	}

	notifier := notifications.NewService(cfg)
	if !notifier.Enabled() {
		logrus.Warn("No notification channel configured; mentions are only stored")
	}

	supervisor := monitoring.NewSupervisor(cfg, st.keywords, st.cursors, st.mentions, notifier, registry)
	if err := supervisor.Start(ctx); err != nil {
		logrus.Fatalf("Failed to start supervisor: %v", err)
	}

	schedulerService := scheduler.NewService(cfg, supervisor)
	if err := schedulerService.Start(ctx); err != nil {
		logrus.Fatalf("Failed to start scheduler: %v", err)
	}

	router := mux.NewRouter()
	router.HandleFunc("/health", healthCheckHandler).Methods("GET")
	router.HandleFunc("/status", statusHandler(supervisor, schedulerService)).Methods("GET")
	router.HandleFunc("/reconcile", reconcileHandler(supervisor)).Methods("POST")
	router.HandleFunc("/mentions", mentionsHandler(st.history)).Methods("GET")

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logrus.Infof("HTTP server starting on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server failed: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("Server forced to shutdown: %v", err)
	}

	schedulerService.Stop()
	supervisor.Stop()
	cancel()

	if err := registry.Close(); err != nil {
		logrus.Errorf("Failed to close sources: %v", err)
	}
	if err := st.Close(); err != nil {
		logrus.Errorf("Failed to close storage: %v", err)
	}

	logrus.Info("Monitor exited")
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logrus.Errorf("Failed to write response: %v", err)
	}
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

type statusResponse struct {
	monitoring.Status
	ReconcileRuns     int64 `json:"reconcile_runs"`
	ReconcileFailures int64 `json:"reconcile_failures"`
}

func statusHandler(supervisor *monitoring.Supervisor, sched *scheduler.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runs, failures := sched.Runs()
		writeJSON(w, http.StatusOK, statusResponse{
			Status:            supervisor.Status(),
			ReconcileRuns:     runs,
			ReconcileFailures: failures,
		})
	}
}

func reconcileHandler(supervisor *monitoring.Supervisor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := supervisor.Reconcile(r.Context()); err != nil {
			logrus.Errorf("Manual reconcile failed: %v", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, supervisor.Status())
	}
}

// mentionsHandler serves GET /mentions?keyword_id=...&limit=...
func mentionsHandler(history storage.MentionLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keywordID := r.URL.Query().Get("keyword_id")
		if keywordID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "keyword_id is required"})
			return
		}

		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a non-negative integer"})
				return
			}
			limit = n
		}

		mentions, err := history.ListMentions(r.Context(), keywordID, limit)
		if err != nil {
			logrus.Errorf("Failed to list mentions of keyword %s: %v", keywordID, err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list mentions"})
			return
		}
		if mentions == nil {
			mentions = []models.Mention{}
		}
		writeJSON(w, http.StatusOK, mentions)
	}
}
