// Package gateway exposes one portal scraper as a small HTTP service.
// It owns the retry loop around the scraper: every attempt gets a fresh
// browser session, and only retryable failures consume further attempts.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"dossier/internal/browser"
	"dossier/internal/limiter"
	"dossier/internal/scrape"
)

// Config assembles a gateway for one source.
type Config struct {
	Source  string
	Scraper scrape.Scraper
	Browser browser.Config
	Limiter *limiter.Limiter

	// Attempts is the number of fresh-session tries per lookup.
	// Default: 3.
	Attempts int

	// Acquire obtains a browser session. Defaults to browser.Acquire
	// with the configured browser.
	Acquire func(ctx context.Context) (*browser.Session, error)

	Logger *slog.Logger
}

// Service handles lookup requests for one source.
type Service struct {
	cfg Config
	log *slog.Logger
}

// New creates the gateway service.
func New(cfg Config) *Service {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.Limiter == nil {
		cfg.Limiter = limiter.New(0, 0)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Acquire == nil {
		bcfg := cfg.Browser
		cfg.Acquire = func(ctx context.Context) (*browser.Session, error) {
			return browser.Acquire(ctx, bcfg)
		}
	}
	return &Service{
		cfg: cfg,
		log: cfg.Logger.With("source", cfg.Source),
	}
}

// Routes builds the HTTP surface of the service.
func (s *Service) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Post("/lookup", s.handleLookup)
	r.Post("/lookup/batch", s.handleBatch)
	return r
}

func (s *Service) handleLookup(w http.ResponseWriter, r *http.Request) {
	var req scrape.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeResult(w, scrape.Fail(scrape.KindInvalidInput, "decode request: %v", err))
		return
	}
	if err := s.cfg.Scraper.Validate(req); err != nil {
		writeResult(w, scrape.Fail(scrape.KindInvalidInput, "%v", err))
		return
	}

	ctx := r.Context()
	if err := s.cfg.Limiter.Acquire(ctx); err != nil {
		writeResult(w, scrape.Fail(scrape.KindInternal, "acquire page slot: %v", err))
		return
	}
	defer s.cfg.Limiter.Release()

	writeResult(w, s.Run(ctx, req))
}

func (s *Service) handleBatch(w http.ResponseWriter, r *http.Request) {
	var reqs []scrape.Request
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		writeResult(w, scrape.Fail(scrape.KindInvalidInput, "decode batch: %v", err))
		return
	}

	results := make([]scrape.Result, len(reqs))
	batch := s.cfg.Limiter.Batch()
	g, ctx := errgroup.WithContext(r.Context())

	for i, req := range reqs {
		i, req := i, req
		if err := s.cfg.Scraper.Validate(req); err != nil {
			results[i] = scrape.Fail(scrape.KindInvalidInput, "%v", err)
			continue
		}
		g.Go(func() error {
			if err := batch.Acquire(ctx); err != nil {
				results[i] = scrape.Fail(scrape.KindInternal, "acquire page slot: %v", err)
				return nil
			}
			defer batch.Release()
			results[i] = s.Run(ctx, req)
			return nil
		})
	}
	_ = g.Wait()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(results)
}

// Run drives the scraper with the retry loop: a fresh session per
// attempt, stop early on anything that is not a retryable error.
func (s *Service) Run(ctx context.Context, req scrape.Request) scrape.Result {
	var last scrape.Result
	for attempt := 1; attempt <= s.cfg.Attempts; attempt++ {
		if ctx.Err() != nil {
			return scrape.Fail(scrape.KindTimeout, "lookup cancelled: %v", ctx.Err())
		}

		sess, err := s.cfg.Acquire(ctx)
		if err != nil {
			last = scrape.Fail(scrape.KindNavigation, "acquire browser: %v", err)
			s.log.Warn("browser acquire failed", "attempt", attempt, "error", err)
			continue
		}

		res := s.cfg.Scraper.Lookup(ctx, sess, req)
		sess.Release()

		if res.Status != scrape.StatusError || !res.Retryable() {
			return res
		}
		last = res
		s.log.Warn("lookup attempt failed",
			"attempt", attempt, "kind", res.Kind.String(), "message", res.Message)
	}
	return last
}

// writeResult maps the outcome onto HTTP. Logical outcomes, pending
// included, travel as 200 so the client reads one shape everywhere;
// bad input is 400; only infrastructure failures are 500.
func writeResult(w http.ResponseWriter, res scrape.Result) {
	code := http.StatusOK
	if res.Status == scrape.StatusError {
		switch res.Kind {
		case scrape.KindInvalidInput:
			code = http.StatusBadRequest
		case scrape.KindInternal:
			code = http.StatusInternalServerError
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(res)
}
