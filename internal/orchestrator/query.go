// Package orchestrator turns a subject's identifier set into
// per-source lookups, polls the slow sources, and merges the answers
// into one record.
package orchestrator

import (
	"encoding/json"
	"fmt"
	"strings"

	"dossier/internal/scrape"
)

// Query is the identifier set for one subject. Any combination may be
// present; each present identifier activates its own group of sources,
// so one subject can combine tax, vehicle, and probate lookups.
type Query struct {
	INN       string `json:"inn,omitempty"`
	VIN       string `json:"vin,omitempty"`
	Regnum    string `json:"regnum,omitempty"`
	Regreg    string `json:"regreg,omitempty"`
	Stsnum    string `json:"stsnum,omitempty"`
	Name      string `json:"name,omitempty"`
	BirthDate string `json:"birth_date,omitempty"`
}

// Normalize trims and upper-cases the identifiers in place, then
// checks every present one. An empty query is valid: it plans zero
// sources and yields a record with nothing requested.
func (q *Query) Normalize() error {
	q.INN = strings.TrimSpace(q.INN)
	q.VIN = strings.ToUpper(strings.TrimSpace(q.VIN))
	q.Regnum = strings.ToUpper(strings.TrimSpace(q.Regnum))
	q.Regreg = strings.TrimSpace(q.Regreg)
	q.Stsnum = strings.ToUpper(strings.TrimSpace(q.Stsnum))
	q.Name = strings.Join(strings.Fields(q.Name), " ")
	q.BirthDate = strings.TrimSpace(q.BirthDate)

	if q.INN != "" && !scrape.ValidINN(q.INN) {
		return fmt.Errorf("bad inn %q", q.INN)
	}
	if q.VIN != "" && !scrape.ValidVIN(q.VIN) {
		return fmt.Errorf("bad vin %q", q.VIN)
	}
	// The fines check needs the full plate triple; a partial one can
	// never be looked up.
	if q.Regnum != "" || q.Regreg != "" || q.Stsnum != "" {
		if !scrape.ValidGRZ(q.Regnum) {
			return fmt.Errorf("bad plate %q", q.Regnum)
		}
		if !scrape.ValidRegion(q.Regreg) {
			return fmt.Errorf("bad plate region %q", q.Regreg)
		}
		if !scrape.ValidSTS(q.Stsnum) {
			return fmt.Errorf("bad registration certificate %q", q.Stsnum)
		}
	}
	if q.Name != "" && len(strings.Fields(q.Name)) < 2 {
		return fmt.Errorf("bad full name %q", q.Name)
	}
	if q.BirthDate != "" {
		if q.Name == "" {
			return fmt.Errorf("birth date given without a name")
		}
		if !scrape.ValidBirthDate(q.BirthDate) {
			return fmt.Errorf("bad birth date %q", q.BirthDate)
		}
	}
	return nil
}

// Empty reports whether no identifier is present.
func (q Query) Empty() bool {
	return q.INN == "" && q.VIN == "" && q.Regnum == "" && q.Name == ""
}

// Plan returns the union of the source groups activated by the present
// identifiers, in fan-out order. An empty query plans nothing.
func (q Query) Plan() []string {
	var plan []string
	if q.INN != "" {
		plan = append(plan, "efrsb", "pb_nalog", "kad_arbitr")
	}
	if q.VIN != "" {
		plan = append(plan, "gibdd_auto", "nsis", "reestr_zalogov")
	}
	if q.Regnum != "" {
		plan = append(plan, "gibdd_fines")
	}
	if q.Name != "" {
		plan = append(plan, "notariat")
	}
	return plan
}

// Request maps the query onto the wire request shared by every source.
func (q Query) Request() scrape.Request {
	return scrape.Request{
		INN:       q.INN,
		VIN:       q.VIN,
		Regnum:    q.Regnum,
		Regreg:    q.Regreg,
		Stsnum:    q.Stsnum,
		Name:      q.Name,
		BirthDate: q.BirthDate,
	}
}

// Subject is the stable store key for the query's subject. INN wins
// even when vehicle or name identifiers ride along, so repeated
// lookups of one company land on one record.
func (q Query) Subject() string {
	switch {
	case q.INN != "":
		return q.INN
	case q.VIN != "":
		return q.VIN
	case q.Regnum != "":
		return q.Regnum + q.Regreg
	case q.Name != "":
		return strings.ToLower(q.Name)
	}
	return ""
}

// Encode renders the query in its canonical JSON form, the shape the
// daemon queues and stores.
func (q Query) Encode() string {
	b, _ := json.Marshal(q)
	return string(b)
}

// DecodeQuery parses and normalizes an encoded query.
func DecodeQuery(s string) (Query, error) {
	var q Query
	if err := json.Unmarshal([]byte(s), &q); err != nil {
		return q, fmt.Errorf("decode query: %w", err)
	}
	if err := q.Normalize(); err != nil {
		return q, err
	}
	return q, nil
}
