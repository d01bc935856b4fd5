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

// reestrZalogov searches the notarial pledge register by VIN.
type reestrZalogov struct {
	log *slog.Logger
}

func newReestrZalogov(d Deps) *reestrZalogov {
	return &reestrZalogov{log: d.Logger.With("source", "reestr_zalogov")}
}

func (r *reestrZalogov) Name() string { return "reestr_zalogov" }

func (r *reestrZalogov) Validate(req scrape.Request) error {
	if !scrape.ValidVIN(strings.ToUpper(req.VIN)) {
		return fmt.Errorf("bad vin %q", req.VIN)
	}
	return nil
}

func (r *reestrZalogov) Lookup(ctx context.Context, sess *browser.Session, req scrape.Request) scrape.Result {
	page := sess.Page.Context(ctx)

	if err := sess.Navigate("https://www.reestr-zalogov.ru/search/index", 60*time.Second); err != nil {
		return scrape.Fail(scrape.KindNavigation, "open register: %v", err)
	}

	// The register throws a captcha wall under load. There is no image
	// to solve here; a later fresh session is the only way past it.
	if has, el, err := page.Has("div.captcha"); err == nil && has {
		if vis, err := el.Visible(); err == nil && vis {
			return scrape.Fail(scrape.KindChallenge, "register raised a captcha wall")
		}
	}

	// Third pill switches search to pledged property.
	pills, err := page.Timeout(15 * time.Second).Elements("ul.nav-pills li")
	if err != nil || len(pills) < 3 {
		return scrape.Fail(scrape.KindNavigation, "search tabs: %v", err)
	}
	if err := pills[2].Click(proto.InputMouseButtonLeft, 1); err != nil {
		return scrape.Fail(scrape.KindNavigation, "switch to property search: %v", err)
	}
	time.Sleep(2 * time.Second)

	vehicleTab, err := page.Timeout(10*time.Second).ElementR("a, button", "Транспортное средство")
	if err != nil {
		return scrape.Fail(scrape.KindNavigation, "vehicle tab: %v", err)
	}
	if err := vehicleTab.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return scrape.Fail(scrape.KindNavigation, "switch to vehicle search: %v", err)
	}
	time.Sleep(2 * time.Second)

	if err := fillVerified(page, `input#vehicleProperty\.vin`, strings.ToUpper(req.VIN)); err != nil {
		return scrape.Fail(scrape.KindNavigation, "fill vin: %v", err)
	}

	find, err := page.Timeout(10 * time.Second).Element("#find-btn")
	if err != nil {
		return scrape.Fail(scrape.KindNavigation, "find button: %v", err)
	}
	if err := find.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return scrape.Fail(scrape.KindNavigation, "submit search: %v", err)
	}

	matched, err := waitAny(page, 30*time.Second,
		"div.search-results", "div.search-error-label")
	if err != nil {
		return scrape.Fail(scrape.KindExtraction, "search answer: %v", err)
	}
	if matched == "div.search-error-label" {
		msg := elementText(page, "div.search-error-label")
		if strings.Contains(msg, "не найдено") {
			return scrape.NoData(msg)
		}
		return scrape.Fail(scrape.KindExtraction, "register error: %s", msg)
	}

	rows, err := page.Elements("table.search-results tbody tr")
	if err != nil {
		return scrape.Fail(scrape.KindExtraction, "result rows: %v", err)
	}
	if len(rows) == 0 {
		return scrape.NoData("залогов не найдено")
	}

	var pledges []map[string]string
	for _, row := range rows {
		cells, err := row.Elements("td")
		if err != nil || len(cells) < 3 {
			continue
		}
		get := func(i int) string {
			text, err := cells[i].Text()
			if err != nil {
				return ""
			}
			return strings.TrimSpace(text)
		}
		pledges = append(pledges, map[string]string{
			"case_number":       get(0),
			"registration_date": get(1),
			"pledgor":           get(2),
		})
	}
	if len(pledges) == 0 {
		return scrape.Fail(scrape.KindExtraction, "result table had no readable rows")
	}
	return scrape.Success(map[string]any{"pledges": pledges})
}
