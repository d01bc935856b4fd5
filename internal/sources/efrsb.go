package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"dossier/internal/browser"
	"dossier/internal/scrape"
)

// efrsb searches the federal bankruptcy register by INN.
type efrsb struct {
	log *slog.Logger
}

func newEfrsb(d Deps) *efrsb {
	return &efrsb{log: d.Logger.With("source", "efrsb")}
}

func (e *efrsb) Name() string { return "efrsb" }

func (e *efrsb) Validate(req scrape.Request) error {
	if !scrape.ValidINN(req.INN) {
		return fmt.Errorf("bad inn %q", req.INN)
	}
	return nil
}

func (e *efrsb) Lookup(ctx context.Context, sess *browser.Session, req scrape.Request) scrape.Result {
	page := sess.Page.Context(ctx)

	target := "https://bankrot.fedresurs.ru/bankrupts?searchString=" + url.QueryEscape(req.INN)
	if err := sess.Navigate(target, 10*time.Second); err != nil {
		return scrape.Fail(scrape.KindNavigation, "open register: %v", err)
	}

	// The register is an SPA; a blank body means the app never booted.
	res, err := page.Eval(`() => document.body.innerText.trim().length`)
	if err != nil {
		return scrape.Fail(scrape.KindNavigation, "read body: %v", err)
	}
	if res.Value.Int() == 0 {
		return scrape.Fail(scrape.KindNavigation, "register page is blank")
	}

	matched, err := waitAny(page, 15*time.Second,
		"div.u-card-result", "div.no-result-msg__header", "div.load-info")
	if err != nil {
		return scrape.Fail(scrape.KindExtraction, "register answer: %v", err)
	}
	if matched == "div.no-result-msg__header" {
		return scrape.NoData(elementText(page, "div.no-result-msg__header"))
	}

	// Wait for the loading strip to clear before reading the cards.
	for i := 0; i < 20; i++ {
		has, _, err := page.Has("div.load-info")
		if err == nil && !has {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}

	has, _, err := page.Has("div.u-card-result")
	if err != nil || !has {
		return scrape.NoData("нет результатов")
	}

	raw, err := page.Eval(`() => {
		const cards = document.querySelectorAll('div.u-card-result');
		const out = [];
		for (const card of cards) {
			const pick = (sel) => {
				const el = card.querySelector(sel);
				return el ? el.innerText.trim() : '';
			};
			const entry = {
				name: pick('.u-card-result__name'),
				address: pick('.u-card-result__address'),
				status: pick('.u-card-result__status'),
				status_date: pick('.u-card-result__date'),
				court_case_number: pick('.u-card-result__case'),
				arbitration_manager: pick('.u-card-result__manager'),
				inn: pick('.u-card-result__inn'),
			};
			entry.kind = card.innerText.includes('ОГРН') ? 'legal_entity' : 'individual';
			out.push(entry);
		}
		return JSON.stringify(out);
	}`)
	if err != nil {
		return scrape.Fail(scrape.KindExtraction, "read cards: %v", err)
	}

	var entries []map[string]string
	if err := json.Unmarshal([]byte(raw.Value.Str()), &entries); err != nil {
		return scrape.Fail(scrape.KindExtraction, "decode cards: %v", err)
	}
	if len(entries) == 0 {
		return scrape.NoData("нет результатов")
	}
	return scrape.Success(map[string]any{"bankruptcies": entries})
}
