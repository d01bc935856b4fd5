package sources

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"dossier/internal/browser"
	"dossier/internal/captcha"
	"dossier/internal/scrape"
)

// gibddAuto checks a vehicle's registration history by VIN on the
// gibdd portal.
type gibddAuto struct {
	solver captcha.Solver
	log    *slog.Logger
}

func newGibddAuto(d Deps) *gibddAuto {
	return &gibddAuto{solver: d.Solver, log: d.Logger.With("source", "gibdd_auto")}
}

func (g *gibddAuto) Name() string { return "gibdd_auto" }

func (g *gibddAuto) Validate(req scrape.Request) error {
	if !scrape.ValidVIN(strings.ToUpper(req.VIN)) {
		return fmt.Errorf("bad vin %q", req.VIN)
	}
	return nil
}

func (g *gibddAuto) Lookup(ctx context.Context, sess *browser.Session, req scrape.Request) scrape.Result {
	page := sess.Page.Context(ctx)

	if err := sess.Navigate(gibddBase+"/check/auto", 15*time.Second); err != nil {
		return scrape.Fail(scrape.KindNavigation, "open check page: %v", err)
	}

	vin, err := page.Timeout(10 * time.Second).Element("#checkAutoVIN")
	if err != nil {
		return scrape.Fail(scrape.KindNavigation, "vin field: %v", err)
	}
	if err := vin.Input(strings.ToUpper(req.VIN)); err != nil {
		return scrape.Fail(scrape.KindInternal, "fill vin: %v", err)
	}

	humanPause(500, 1500)

	tab, err := page.Timeout(10 * time.Second).ElementX(`//a[@href="#history" and @data-type="history"]`)
	if err != nil {
		return scrape.Fail(scrape.KindNavigation, "history tab: %v", err)
	}
	if err := tab.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return scrape.Fail(scrape.KindNavigation, "click history tab: %v", err)
	}

	if res := passCaptcha(ctx, page, g.solver); res != nil {
		return *res
	}

	if _, err := page.Timeout(20 * time.Second).Element("#checkAutoHistory .checkResult"); err != nil {
		return scrape.Fail(scrape.KindExtraction, "result block: %v", err)
	}

	if msg := elementText(page, "#checkAutoHistory .check-message"); msg != "" {
		switch {
		case strings.Contains(msg, "Проверка не запрашивалась"):
			// The portal lost the request; a reload usually fixes it.
			return scrape.Fail(scrape.KindExtraction, "portal dropped the request: %s", msg)
		case strings.Contains(msg, "не найдена информация"):
			return scrape.NoData(msg)
		case strings.Contains(msg, "Проверка CAPTCHA не была пройдена"):
			return scrape.Fail(scrape.KindChallenge, "captcha not accepted: %s", msg)
		}
	}

	// The history block fills in asynchronously after the captcha.
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		data, err := g.extract(page)
		if err == nil {
			return scrape.Success(data)
		}
		lastErr = err
		time.Sleep(5 * time.Second)
	}
	return scrape.Fail(scrape.KindExtraction, "parse history: %v", lastErr)
}

func (g *gibddAuto) extract(page *rod.Page) (map[string]any, error) {
	vehicle := map[string]string{}
	items, err := page.Elements("#checkAutoHistory ul.fields-list.vehicle li")
	if err != nil {
		return nil, fmt.Errorf("vehicle fields: %w", err)
	}
	for _, li := range items {
		caption, err := li.Element("span.caption")
		if err != nil {
			continue
		}
		field, err := li.Element("span.field")
		if err != nil {
			continue
		}
		key, err := caption.Text()
		if err != nil {
			continue
		}
		val, _ := field.Text()
		vehicle[snakeKey(key)] = strings.TrimSpace(val)
	}
	if len(vehicle) == 0 {
		return nil, fmt.Errorf("vehicle block empty")
	}

	var periods []map[string]string
	rows, err := page.Elements("#checkAutoHistory ul.ownershipPeriods li")
	if err == nil {
		for _, li := range rows {
			period := map[string]string{}
			for cls, key := range map[string]string{
				"span.ownershipPeriods-from": "from",
				"span.ownershipPeriods-to":   "to",
				"span.simplePersonType":      "owner_type",
			} {
				has, el, err := li.Has(cls)
				if err != nil || !has {
					continue
				}
				text, err := el.Text()
				if err != nil {
					continue
				}
				period[key] = strings.TrimSpace(text)
			}
			if len(period) > 0 {
				periods = append(periods, period)
			}
		}
	}

	return map[string]any{
		"vehicle":           vehicle,
		"ownership_periods": periods,
	}, nil
}
