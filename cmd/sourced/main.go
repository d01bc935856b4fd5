// Command sourced serves one portal scraper over HTTP.
//
// Usage:
//
//	sourced -source gibdd_auto -listen :5001
//	sourced -source efrsb -listen :5003 -config dossier.yaml
//
// Secrets (CAPTCHA_KEY, PROXY_URL, PROXY_USER, PROXY_PASS) come from
// the environment; a .env file next to the binary is loaded first.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"dossier/internal/browser"
	"dossier/internal/captcha"
	"dossier/internal/config"
	"dossier/internal/gateway"
	"dossier/internal/limiter"
	"dossier/internal/sources"
)

func main() {
	source := flag.String("source", "", "source to serve (one of: gibdd_auto, gibdd_fines, efrsb, kad_arbitr, nsis, reestr_zalogov, pb_nalog, notariat)")
	listen := flag.String("listen", "", "listen address; defaults to the source's standard port")
	configPath := flag.String("config", "", "path to dossier.yaml")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	logger := newLogger(*logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *source, *listen, *configPath); err != nil {
		logger.Error("sourced: fatal", "error", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

func run(ctx context.Context, logger *slog.Logger, source, listen, configPath string) error {
	if source == "" {
		return errors.New("missing -source")
	}

	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	var solver captcha.Solver
	if source == "gibdd_auto" || source == "gibdd_fines" {
		solver = captcha.New(captcha.Config{
			BaseURL:      cfg.Captcha.URL,
			Key:          cfg.Captcha.Key,
			PollInterval: cfg.Captcha.PollInterval,
			MaxPolls:     cfg.Captcha.MaxPolls,
			Logger:       logger,
		})
	}

	scraper, err := sources.New(source, sources.Deps{Solver: solver, Logger: logger})
	if err != nil {
		return err
	}

	svc := gateway.New(gateway.Config{
		Source:   source,
		Scraper:  scraper,
		Browser:  browserConfig(source, cfg, logger),
		Limiter:  limiter.New(cfg.Limiter.Batch, cfg.Limiter.Global),
		Attempts: sources.Attempts(source),
		Logger:   logger,
	})

	if listen == "" {
		// Default URLs are http://localhost:PORT; listen on that port.
		if src, ok := cfg.Sources[source]; ok && src.URL != "" {
			if i := strings.LastIndex(src.URL, ":"); i >= 0 {
				listen = src.URL[i:]
			}
		}
		if listen == "" {
			listen = ":8080"
		}
	}

	srv := &http.Server{
		Addr:    listen,
		Handler: svc.Routes(),
	}

	return serve(ctx, logger, source, srv)
}

// browserConfig decides launch-vs-attach and proxy wiring for a source.
// The gibdd portals get a fresh local Chrome per attempt; the rest
// attach to the shared instance, where the proxy binds to the
// session's own incognito context.
func browserConfig(source string, cfg *config.Config, logger *slog.Logger) browser.Config {
	bcfg := browser.Config{Logger: logger}
	if !sources.OwnsBrowser(source) {
		bcfg.Remote = cfg.Browser.Remote
	}
	if sources.NeedsProxy(source) {
		bcfg.ProxyURL = cfg.Browser.Proxy
		bcfg.ProxyUser = cfg.Browser.ProxyUser
		bcfg.ProxyPass = cfg.Browser.ProxyPass
	}
	return bcfg
}

func serve(ctx context.Context, logger *slog.Logger, source string, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("sourced listening", "source", source, "addr", srv.Addr)
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

