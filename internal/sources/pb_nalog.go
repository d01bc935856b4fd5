package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-rod/rod/lib/proto"

	"dossier/internal/browser"
	"dossier/internal/scrape"
)

// pbNalog searches the tax service transparency portal by INN.
type pbNalog struct {
	log *slog.Logger
}

func newPbNalog(d Deps) *pbNalog {
	return &pbNalog{log: d.Logger.With("source", "pb_nalog")}
}

func (p *pbNalog) Name() string { return "pb_nalog" }

func (p *pbNalog) Validate(req scrape.Request) error {
	if !scrape.ValidINN(req.INN) {
		return fmt.Errorf("bad inn %q", req.INN)
	}
	return nil
}

// Result sections on the transparency portal, one container per kind
// of disclosure.
var pbNalogGroups = []string{
	"resultul", "ip", "upr", "uchr", "rdl",
	"addr", "ogrfl", "ogrul", "docul", "docip",
}

func (p *pbNalog) Lookup(ctx context.Context, sess *browser.Session, req scrape.Request) scrape.Result {
	page := sess.Page.Context(ctx)

	if err := sess.Navigate("https://pb.nalog.ru/index.html", 20*time.Second); err != nil {
		return scrape.Fail(scrape.KindNavigation, "open portal: %v", err)
	}

	if alert := elementText(page, "div.alert"); strings.Contains(alert, "превысили") {
		return scrape.Fail(scrape.KindRateLimit, "portal rate limit: %s", alert)
	}

	query, err := page.Timeout(10 * time.Second).Element("#queryAll")
	if err != nil {
		return scrape.Fail(scrape.KindNavigation, "query field: %v", err)
	}
	if err := query.Input(req.INN); err != nil {
		return scrape.Fail(scrape.KindInternal, "fill inn: %v", err)
	}

	// Search across every disclosure category.
	if _, err := page.Eval(`() => {
		const radio = document.querySelector('#m_search-all');
		if (radio) radio.click();
	}`); err != nil {
		return scrape.Fail(scrape.KindNavigation, "select search mode: %v", err)
	}

	submit, err := page.Timeout(10 * time.Second).Element("button.btn.btn-warning")
	if err != nil {
		return scrape.Fail(scrape.KindNavigation, "search button: %v", err)
	}
	if err := submit.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return scrape.Fail(scrape.KindNavigation, "submit search: %v", err)
	}

	// The portal renders result groups progressively without a single
	// completion signal; it settles well inside this window.
	time.Sleep(7 * time.Second)

	res, err := page.Eval(`() => {
		const noData = document.querySelector('div.no-data');
		return noData !== null && !noData.classList.contains('d-none');
	}`)
	if err == nil && res.Value.Bool() {
		return scrape.NoData("сведения не найдены")
	}

	raw, err := page.Eval(`(groups) => {
		const out = {};
		for (const g of groups) {
			const root = document.querySelector('#' + g);
			if (!root) continue;
			const records = [];
			for (const card of root.querySelectorAll('.pb-card, tr')) {
				const record = {};
				for (const dt of card.querySelectorAll('dt')) {
					const dd = dt.nextElementSibling;
					if (dd) record[dt.innerText.trim()] = dd.innerText.trim();
				}
				if (Object.keys(record).length === 0) {
					const text = card.innerText.trim();
					if (text) record['text'] = text;
				}
				if (Object.keys(record).length > 0) records.push(record);
			}
			if (records.length > 0) out[g] = records;
		}
		return JSON.stringify(out);
	}`, pbNalogGroups)
	if err != nil {
		return scrape.Fail(scrape.KindExtraction, "read result groups: %v", err)
	}

	groups := map[string][]map[string]string{}
	if err := json.Unmarshal([]byte(raw.Value.Str()), &groups); err != nil {
		return scrape.Fail(scrape.KindExtraction, "decode result groups: %v", err)
	}
	if len(groups) == 0 {
		return scrape.NoData("сведения не найдены")
	}
	return scrape.Success(groups)
}
