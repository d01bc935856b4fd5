// Package scrape defines the shared vocabulary between the portal
// scrapers, the per-source HTTP gateways, and the lookup orchestrator:
// the request shape, the outcome statuses, and the failure taxonomy.
package scrape

import (
	"context"
	"encoding/json"
	"fmt"

	"dossier/internal/browser"
)

// Request carries every identifier a portal may ask for. Each source
// validates and reads only the subset it needs.
type Request struct {
	INN       string `json:"inn,omitempty"`
	Name      string `json:"name,omitempty"`
	BirthDate string `json:"birth_date,omitempty"`
	VIN       string `json:"vin,omitempty"`
	Regnum    string `json:"regnum,omitempty"`
	Regreg    string `json:"regreg,omitempty"`
	Stsnum    string `json:"stsnum,omitempty"`
}

// Status classifies the outcome of one lookup against one portal.
type Status string

const (
	// StatusSuccess means the portal answered with data.
	StatusSuccess Status = "success"
	// StatusNoData means the portal answered and holds nothing for the
	// subject. This is a successful lookup, not an error.
	StatusNoData Status = "no_data"
	// StatusPending means the portal accepted the request but is still
	// preparing the answer. The caller should ask again later.
	StatusPending Status = "pending"
	// StatusError means the lookup failed; Kind says how.
	StatusError Status = "error"
)

// Kind classifies a failed lookup. Retryability derives from the kind
// alone; callers must never inspect message text.
type Kind int

const (
	KindNone Kind = iota
	KindInvalidInput
	KindNavigation
	KindChallenge
	KindExtraction
	KindRateLimit
	KindTimeout
	KindInternal
)

var kindNames = [...]string{
	KindNone:         "",
	KindInvalidInput: "invalid_input",
	KindNavigation:   "navigation",
	KindChallenge:    "challenge",
	KindExtraction:   "extraction",
	KindRateLimit:    "rate_limit",
	KindTimeout:      "timeout",
	KindInternal:     "internal",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// Retryable reports whether a fresh browser session gives the failure a
// realistic chance of succeeding. Invalid input never does; a rate limit
// needs a cool-down longer than any retry loop; internal failures need a
// code fix.
func (k Kind) Retryable() bool {
	switch k {
	case KindNavigation, KindChallenge, KindExtraction, KindTimeout:
		return true
	}
	return false
}

// MarshalJSON encodes the kind by its stable name.
func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON decodes a kind from its stable name.
func (k *Kind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for i, name := range kindNames {
		if name == s {
			*k = Kind(i)
			return nil
		}
	}
	return fmt.Errorf("scrape: unknown kind %q", s)
}

// Result is the wire-level outcome of one lookup. Retry mirrors
// Kind.Retryable so clients that only see JSON can decide to re-ask.
type Result struct {
	Status  Status `json:"status"`
	Kind    Kind   `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`
	Retry   bool   `json:"retry,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Retryable reports whether re-running the lookup may help.
func (r Result) Retryable() bool {
	return r.Retry || r.Kind.Retryable()
}

// Success wraps extracted data.
func Success(data any) Result {
	return Result{Status: StatusSuccess, Data: data}
}

// NoData marks a clean empty answer from the portal.
func NoData(msg string) Result {
	return Result{Status: StatusNoData, Message: msg}
}

// Pending marks an answer the portal is still preparing.
func Pending(msg string) Result {
	return Result{Status: StatusPending, Message: msg, Retry: true}
}

// Fail builds an error result classified by kind.
func Fail(kind Kind, format string, args ...any) Result {
	return Result{
		Status:  StatusError,
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Retry:   kind.Retryable(),
	}
}

// Scraper is one portal worker. Lookup drives the supplied browser
// session through the portal's form flow and extracts the answer.
type Scraper interface {
	Name() string
	Validate(Request) error
	Lookup(ctx context.Context, sess *browser.Session, req Request) Result
}
