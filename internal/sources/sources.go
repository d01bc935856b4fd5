// Package sources implements the eight portal scrapers. Each scraper
// drives a browser session through one portal's search form and turns
// the page into structured data.
package sources

import (
	"errors"
	"fmt"
	"log/slog"

	"dossier/internal/captcha"
	"dossier/internal/scrape"
)

// ErrUnknown is returned by New for an unrecognised source name.
var ErrUnknown = errors.New("sources: unknown source")

// Deps holds what a scraper may need beyond the browser session.
type Deps struct {
	// Solver answers image captchas. Required by the gibdd sources.
	Solver captcha.Solver
	Logger *slog.Logger
}

func (d *Deps) defaults() {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
}

// New builds the scraper for a source name.
func New(name string, deps Deps) (scrape.Scraper, error) {
	deps.defaults()
	switch name {
	case "gibdd_auto":
		if deps.Solver == nil {
			return nil, fmt.Errorf("sources: %s needs a captcha solver", name)
		}
		return newGibddAuto(deps), nil
	case "gibdd_fines":
		if deps.Solver == nil {
			return nil, fmt.Errorf("sources: %s needs a captcha solver", name)
		}
		return newGibddFines(deps), nil
	case "efrsb":
		return newEfrsb(deps), nil
	case "kad_arbitr":
		return newKadArbitr(deps), nil
	case "nsis":
		return newNsis(deps), nil
	case "reestr_zalogov":
		return newReestrZalogov(deps), nil
	case "pb_nalog":
		return newPbNalog(deps), nil
	case "notariat":
		return newNotariat(deps), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknown, name)
}

// Names lists every source in routing order.
func Names() []string {
	return []string{
		"gibdd_auto", "gibdd_fines",
		"efrsb", "kad_arbitr", "nsis",
		"reestr_zalogov", "pb_nalog", "notariat",
	}
}

// Attempts is the number of full page-reload attempts for a source.
// The gibdd portal drops sessions often enough to deserve one extra.
func Attempts(name string) int {
	switch name {
	case "gibdd_auto", "gibdd_fines":
		return 4
	}
	return 3
}

// OwnsBrowser reports whether the source launches a dedicated Chrome
// instead of attaching to the shared one. The gibdd portal fingerprints
// long-lived CDP sessions, so those scrapers get a fresh process.
func OwnsBrowser(name string) bool {
	return name == "gibdd_auto" || name == "gibdd_fines"
}

// NeedsProxy reports whether the portal blocks datacenter IPs.
func NeedsProxy(name string) bool {
	switch name {
	case "gibdd_auto", "gibdd_fines", "nsis":
		return true
	}
	return false
}
