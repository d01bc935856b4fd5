// Package browser acquires headless Chrome sessions for the portal
// scrapers: attach to a shared instance over CDP, or launch a dedicated
// one. Attached sessions get their own incognito browser context, so
// concurrent lookups never share cookies. Stealth is applied to every
// page.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// Config describes how to obtain a Chrome instance.
type Config struct {
	// Remote is the HTTP debugging endpoint of a shared Chrome
	// (e.g. http://localhost:9222). Empty = launch a local Chrome.
	Remote string

	// Headful disables headless mode for the locally launched Chrome.
	Headful bool

	// ProxyURL routes the session's traffic: --proxy-server on a
	// launched Chrome, the browser context's proxy when attaching.
	ProxyURL  string
	ProxyUser string
	ProxyPass string

	// Timeout is the default deadline for Navigate. Default: 30s.
	Timeout time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Session is one browser plus one stealth page, handed to a scraper for
// the duration of a single lookup attempt.
type Session struct {
	Browser *rod.Browser
	Page    *rod.Page

	lnch   *launcher.Launcher
	ctxID  proto.BrowserBrowserContextID
	log    *slog.Logger
	closed bool
}

// Acquire connects to the configured Chrome and opens a stealth page.
// The caller must Release the session on every exit path.
func Acquire(ctx context.Context, cfg Config) (*Session, error) {
	cfg.defaults()

	var wsURL string
	var lnch *launcher.Launcher

	if cfg.Remote != "" {
		u, err := launcher.ResolveURL(cfg.Remote)
		if err != nil {
			return nil, fmt.Errorf("browser: resolve %s: %w", cfg.Remote, err)
		}
		wsURL = u
	} else {
		l := launcher.New().
			Headless(!cfg.Headful).
			Set("disable-blink-features", "AutomationControlled")
		if cfg.ProxyURL != "" {
			l = l.Proxy(cfg.ProxyURL)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		lnch = l
	}

	b := rod.New().ControlURL(wsURL).Context(ctx)
	if err := b.Connect(); err != nil {
		if lnch != nil {
			lnch.Cleanup()
		}
		return nil, fmt.Errorf("browser: connect: %w", err)
	}

	if err := b.IgnoreCertErrors(true); err != nil {
		cfg.Logger.Warn("browser: ignore cert errors failed", "error", err)
	}

	// A shared Chrome serves many lookups at once: isolate this one in
	// its own incognito context, with its proxy bound there.
	var ctxID proto.BrowserBrowserContextID
	if lnch == nil {
		res, err := proto.TargetCreateBrowserContext{ProxyServer: cfg.ProxyURL}.Call(b)
		if err != nil {
			return nil, fmt.Errorf("browser: create context: %w", err)
		}
		ctxID = res.BrowserContextID
		bb := *b
		bb.BrowserContextID = ctxID
		b = &bb
	}

	if cfg.ProxyUser != "" {
		wait := b.HandleAuth(cfg.ProxyUser, cfg.ProxyPass)
		go func() { _ = wait() }()
	}

	page, err := stealth.Page(b)
	if err != nil {
		if lnch != nil {
			b.Close()
			lnch.Cleanup()
		} else if ctxID != "" {
			_ = proto.TargetDisposeBrowserContext{BrowserContextID: ctxID}.Call(b)
		}
		return nil, fmt.Errorf("browser: create page: %w", err)
	}

	return &Session{
		Browser: b,
		Page:    page.Context(ctx),
		lnch:    lnch,
		ctxID:   ctxID,
		log:     cfg.Logger,
	}, nil
}

// Release closes the page and its incognito context, and kills Chrome
// only when this session launched it. A session attached to a shared
// Chrome must leave the browser running. Safe to call more than once.
func (s *Session) Release() {
	if s == nil || s.closed {
		return
	}
	s.closed = true

	if s.Page != nil {
		if err := s.Page.Close(); err != nil && s.log != nil {
			s.log.Debug("browser: page close", "error", err)
		}
	}
	if s.lnch == nil && s.ctxID != "" && s.Browser != nil {
		err := proto.TargetDisposeBrowserContext{BrowserContextID: s.ctxID}.Call(s.Browser)
		if err != nil && s.log != nil {
			s.log.Debug("browser: dispose context", "error", err)
		}
	}
	if s.lnch != nil {
		if s.Browser != nil {
			s.Browser.Close()
		}
		s.lnch.Cleanup()
	}
}

// Owned reports whether the session launched its own Chrome.
func (s *Session) Owned() bool { return s.lnch != nil }

// Navigate opens url on the session page and waits for the load event,
// both under the given deadline.
func (s *Session) Navigate(url string, timeout time.Duration) error {
	page := s.Page.Timeout(timeout)
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("browser: load %s: %w", url, err)
	}
	return nil
}

// HTML returns the serialised DOM of the session page.
func (s *Session) HTML() (string, error) {
	res, err := s.Page.Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return "", fmt.Errorf("browser: get DOM: %w", err)
	}
	return res.Value.Str(), nil
}
