// Command dossierd is the aggregation daemon: it accepts lookup
// requests over HTTP, runs them through the orchestrator one at a
// time, stores the merged records, and keeps them fresh on a schedule.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	_ "modernc.org/sqlite"

	"dossier/internal/config"
	"dossier/internal/orchestrator"
	"dossier/internal/queue"
	"dossier/internal/storage"
	"dossier/internal/summary"
)

func main() {
	configPath := flag.String("config", "", "path to dossier.yaml")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath); err != nil {
		logger.Error("dossierd: fatal", "error", err)
		os.Exit(1)
	}
}

type daemon struct {
	cfg   *config.Config
	store *storage.Store
	orch  *orchestrator.Orchestrator
	queue *queue.Queue
	sum   summary.Summarizer
	log   *slog.Logger
}

func run(ctx context.Context, logger *slog.Logger, configPath string) error {
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	db, err := storage.Open(cfg.DB, storage.WithMkdirAll())
	if err != nil {
		return err
	}
	defer db.Close()

	sourceURLs := map[string]string{}
	policies := map[string]orchestrator.Policy{}
	for name, src := range cfg.Sources {
		sourceURLs[name] = src.URL
		policies[name] = orchestrator.Policy{
			BaseURL:      src.URL,
			Timeout:      src.Timeout,
			Attempts:     src.Attempts,
			PollInterval: src.PollInterval,
		}
	}
	orch, err := orchestrator.New(orchestrator.Config{
		Sources:  sourceURLs,
		Policies: policies,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	d := &daemon{
		cfg:   cfg,
		store: storage.NewStore(db, logger),
		orch:  orch,
		log:   logger,
	}

	if cfg.Summary.Key != "" && cfg.Summary.URL != "" {
		d.sum = summary.New(cfg.Summary.URL, cfg.Summary.Key, cfg.Summary.Model)
	} else {
		d.sum = summary.Disabled{}
	}

	d.queue = queue.New(cfg.Queue.Capacity, d.handleJob, logger)
	d.queue.Start(ctx)
	defer d.queue.Close()

	sched := cron.New()
	if _, err := sched.AddFunc(cfg.Schedule.Refresh, func() { d.refreshAll(ctx) }); err != nil {
		return fmt.Errorf("schedule refresh %q: %w", cfg.Schedule.Refresh, err)
	}
	if _, err := sched.AddFunc(cfg.Schedule.Backup, func() { d.backup(ctx) }); err != nil {
		return fmt.Errorf("schedule backup %q: %w", cfg.Schedule.Backup, err)
	}
	sched.Start()
	defer sched.Stop()

	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: d.routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("dossierd listening", "addr", cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// handleJob runs on the queue's single worker goroutine.
func (d *daemon) handleJob(ctx context.Context, job queue.Job) {
	log := d.log.With("job_id", job.ID)

	q, err := orchestrator.DecodeQuery(job.Query)
	if err != nil {
		log.Warn("query rejected", "error", err)
		d.finish(ctx, job.ID, storage.LookupFailed, map[string]any{"error": err.Error()})
		return
	}

	rec, outcomes := d.orch.Run(ctx, q)

	stored := &storage.Record{
		Subject:   rec.Subject,
		Query:     rec.Query,
		Sources:   map[string]string{},
		CheckedAt: rec.CheckedAt,
	}
	for name, data := range rec.Sources {
		payload, err := json.Marshal(data)
		if err != nil {
			log.Warn("encode source payload", "source", name, "error", err)
			continue
		}
		stored.Sources[name] = string(payload)
	}

	diff, err := d.store.Upsert(ctx, stored)
	if err != nil {
		log.Error("store record", "error", err)
		d.finish(ctx, job.ID, storage.LookupFailed, map[string]any{"error": err.Error()})
		return
	}
	log.Info("record stored", "subject", rec.Subject, "changed_fields", len(diff))

	outcome := map[string]any{
		"subject": rec.Subject,
		"sources": rec.Sources,
		"states":  stateMap(outcomes),
	}
	if text, err := d.sum.Summarize(ctx, rec.Sources); err == nil {
		outcome["summary"] = text
	} else if !errors.Is(err, summary.ErrDisabled) {
		log.Warn("summary failed", "error", err)
	}

	d.finish(ctx, job.ID, storage.LookupDone, outcome)
}

func (d *daemon) finish(ctx context.Context, id uuid.UUID, status string, outcome map[string]any) {
	payload, _ := json.Marshal(outcome)
	if err := d.store.FinishLookup(ctx, id, status, string(payload)); err != nil {
		d.log.Error("finish lookup", "job_id", id, "error", err)
	}
}

func stateMap(outcomes []orchestrator.SourceOutcome) map[string]string {
	out := make(map[string]string, len(outcomes))
	for _, o := range outcomes {
		out[o.Source] = o.State.String()
	}
	return out
}

// refreshAll re-enqueues every stored subject. Subjects that do not
// fit in the queue are skipped until the next run.
func (d *daemon) refreshAll(ctx context.Context) {
	subjects, err := d.store.ListSubjects(ctx)
	if err != nil {
		d.log.Error("refresh: list subjects", "error", err)
		return
	}
	var queued, skipped int
	for _, sub := range subjects {
		id, err := d.queue.Submit(sub.Query, "refresh")
		if errors.Is(err, queue.ErrClosed) {
			// The daemon is shutting down.
			return
		}
		if err != nil {
			skipped++
			continue
		}
		if err := d.store.StartLookup(ctx, id, sub.Query, "refresh"); err != nil {
			d.log.Warn("refresh: log lookup", "error", err)
		}
		queued++
	}
	d.log.Info("refresh scheduled", "queued", queued, "skipped", skipped)
}

func (d *daemon) backup(ctx context.Context) {
	dest := filepath.Join(d.cfg.Schedule.BackupDir,
		fmt.Sprintf("dossier-%s.db", time.Now().Format("20060102")))
	if err := os.MkdirAll(d.cfg.Schedule.BackupDir, 0o755); err != nil {
		d.log.Error("backup: mkdir", "error", err)
		return
	}
	if err := d.store.Backup(ctx, dest); err != nil {
		d.log.Error("backup failed", "error", err)
	}
}

func (d *daemon) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/queuez", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]int{
			"depth":    d.queue.Len(),
			"capacity": d.queue.Cap(),
		})
	})
	r.Post("/lookups", d.handleSubmit)
	r.Get("/lookups/{id}", d.handleGetLookup)
	r.Get("/records/{subject}", d.handleGetRecord)
	return r
}

// handleSubmit accepts the subject's identifier set. Any combination
// may be present; each identifier adds its own source group to the
// lookup.
func (d *daemon) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		orchestrator.Query
		Requester string `json:"requester"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	// Validate before taking a queue slot.
	if err := req.Query.Normalize(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Query.Empty() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "no identifiers given"})
		return
	}

	id, err := d.queue.Submit(req.Query.Encode(), req.Requester)
	if err != nil {
		if errors.Is(err, queue.ErrQueueFull) {
			writeJSON(w, http.StatusTooManyRequests, map[string]string{
				"error": "queue full, try again later",
			})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	if err := d.store.StartLookup(r.Context(), id, req.Query.Encode(), req.Requester); err != nil {
		d.log.Error("log lookup", "job_id", id, "error", err)
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id.String()})
}

func (d *daemon) handleGetLookup(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad lookup id"})
		return
	}
	l, err := d.store.GetLookup(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown lookup"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (d *daemon) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	subject := chi.URLParam(r, "subject")
	rec, err := d.store.Get(r.Context(), subject)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown subject"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	// Stored payloads are JSON strings; decode them for the response.
	sources := make(map[string]any, len(rec.Sources))
	for name, payload := range rec.Sources {
		var v any
		if err := json.Unmarshal([]byte(payload), &v); err != nil {
			v = payload
		}
		sources[name] = v
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"subject":    rec.Subject,
		"query":      rec.Query,
		"sources":    sources,
		"checked_at": rec.CheckedAt,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
