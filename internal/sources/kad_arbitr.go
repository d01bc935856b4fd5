package sources

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-rod/rod/lib/proto"

	"dossier/internal/browser"
	"dossier/internal/scrape"
)

// kadArbitr searches the arbitration case file by participant INN.
type kadArbitr struct {
	log *slog.Logger
}

func newKadArbitr(d Deps) *kadArbitr {
	return &kadArbitr{log: d.Logger.With("source", "kad_arbitr")}
}

func (k *kadArbitr) Name() string { return "kad_arbitr" }

func (k *kadArbitr) Validate(req scrape.Request) error {
	if !scrape.ValidINN(req.INN) {
		return fmt.Errorf("bad inn %q", req.INN)
	}
	return nil
}

func (k *kadArbitr) Lookup(ctx context.Context, sess *browser.Session, req scrape.Request) scrape.Result {
	page := sess.Page.Context(ctx)

	if err := sess.Navigate("https://kad.arbitr.ru/", 30*time.Second); err != nil {
		return scrape.Fail(scrape.KindNavigation, "open case file: %v", err)
	}

	// A promo popup covers the form on first visit.
	if has, el, err := page.Has("a.b-promo_notification-popup-close"); err == nil && has {
		_ = el.Click(proto.InputMouseButtonLeft, 1)
		humanPause(300, 600)
	}

	field, err := page.Timeout(10 * time.Second).Element("#sug-participants textarea")
	if err != nil {
		return scrape.Fail(scrape.KindNavigation, "participant field: %v", err)
	}
	if err := field.Input(req.INN); err != nil {
		return scrape.Fail(scrape.KindInternal, "fill inn: %v", err)
	}

	submit, err := page.Timeout(10 * time.Second).Element("#b-form-submit button")
	if err != nil {
		return scrape.Fail(scrape.KindNavigation, "submit button: %v", err)
	}
	if err := submit.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return scrape.Fail(scrape.KindNavigation, "submit search: %v", err)
	}

	matched, err := waitAny(page, 30*time.Second,
		".b-results", ".b-noResults", ".b-case-loading")
	if err != nil {
		return scrape.Fail(scrape.KindExtraction, "search answer: %v", err)
	}
	if matched == ".b-noResults" {
		return scrape.NoData("дел не найдено")
	}

	for i := 0; i < 10; i++ {
		has, _, err := page.Has(".b-case-loading")
		if err == nil && !has {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}

	rows, err := page.Elements("table#b-cases tbody tr")
	if err != nil {
		return scrape.Fail(scrape.KindExtraction, "case rows: %v", err)
	}
	if len(rows) == 0 {
		return scrape.NoData("дел не найдено")
	}

	// Columns: case number + registration date, judge + current
	// instance, plaintiff, respondent.
	var cases []map[string]string
	for _, row := range rows {
		cells, err := row.Elements("td")
		if err != nil || len(cells) < 4 {
			continue
		}
		cell := func(i int, sel string) string {
			has, el, err := cells[i].Has(sel)
			if err != nil || !has {
				text, err := cells[i].Text()
				if err != nil {
					return ""
				}
				return strings.TrimSpace(text)
			}
			text, err := el.Text()
			if err != nil {
				return ""
			}
			return strings.TrimSpace(text)
		}
		cases = append(cases, map[string]string{
			"case_number":       cell(0, "a.num_case"),
			"registration_date": cell(0, "span.b-container-date"),
			"judge":             cell(1, "div.judge"),
			"current_instance":  cell(1, "div.instantion"),
			"plaintiff":         cell(2, "span.js-rollover"),
			"respondent":        cell(3, "span.js-rollover"),
		})
	}
	if len(cases) == 0 {
		return scrape.Fail(scrape.KindExtraction, "case table had no readable rows")
	}
	return scrape.Success(map[string]any{"cases": cases})
}
