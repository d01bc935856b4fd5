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

// nsis checks OSAGO insurance policies by VIN on the national
// insurance information system.
type nsis struct {
	log *slog.Logger
}

func newNsis(d Deps) *nsis {
	return &nsis{log: d.Logger.With("source", "nsis")}
}

func (n *nsis) Name() string { return "nsis" }

func (n *nsis) Validate(req scrape.Request) error {
	if !scrape.ValidVIN(strings.ToUpper(req.VIN)) {
		return fmt.Errorf("bad vin %q", req.VIN)
	}
	return nil
}

func (n *nsis) Lookup(ctx context.Context, sess *browser.Session, req scrape.Request) scrape.Result {
	page := sess.Page.Context(ctx)

	// The check page loads a heavy widget bundle.
	if err := sess.Navigate("https://nsis.ru/products/osago/check/", 45*time.Second); err != nil {
		return scrape.Fail(scrape.KindNavigation, "open check page: %v", err)
	}

	if info := elementText(page, "div.infoBlock"); strings.Contains(info, "превысили количество запросов") {
		return scrape.Fail(scrape.KindRateLimit, "portal rate limit: %s", info)
	}

	// Switch the search mode to "by vehicle".
	tab, err := page.Timeout(15*time.Second).ElementR("button, a, label", "По транспортному средству")
	if err != nil {
		return scrape.Fail(scrape.KindNavigation, "vehicle tab: %v", err)
	}
	if err := tab.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return scrape.Fail(scrape.KindNavigation, "switch to vehicle tab: %v", err)
	}
	humanPause(500, 1000)

	if err := fillVerified(page, `input[name="vin"]`, strings.ToUpper(req.VIN)); err != nil {
		return scrape.Fail(scrape.KindNavigation, "fill vin: %v", err)
	}

	submit, err := page.Timeout(10*time.Second).ElementR("button", "Проверить")
	if err != nil {
		return scrape.Fail(scrape.KindNavigation, "check button: %v", err)
	}
	if err := submit.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return scrape.Fail(scrape.KindNavigation, "submit check: %v", err)
	}

	matched, err := waitAny(page, 30*time.Second,
		"div.policyDataModal", "div#modal-policy-not-found", "div#modal-error")
	if err != nil {
		return scrape.Fail(scrape.KindExtraction, "check answer: %v", err)
	}
	switch matched {
	case "div#modal-policy-not-found":
		return scrape.NoData("полис не найден")
	case "div#modal-error":
		return scrape.Fail(scrape.KindExtraction, "portal error dialog: %s",
			elementText(page, "div#modal-error"))
	}

	// Policy details come as dt/dd pairs in the modal.
	lists, err := page.Elements("div.policyDataModal dl.dataList__list")
	if err != nil {
		return scrape.Fail(scrape.KindExtraction, "policy lists: %v", err)
	}
	var policies []map[string]string
	for _, dl := range lists {
		terms, err := dl.Elements("dt")
		if err != nil {
			continue
		}
		values, err := dl.Elements("dd")
		if err != nil || len(values) < len(terms) {
			continue
		}
		policy := map[string]string{}
		for i, dt := range terms {
			key, err := dt.Text()
			if err != nil {
				continue
			}
			val, err := values[i].Text()
			if err != nil {
				continue
			}
			policy[snakeKey(key)] = strings.TrimSpace(val)
		}
		if len(policy) > 0 {
			policies = append(policies, policy)
		}
	}
	if len(policies) == 0 {
		return scrape.Fail(scrape.KindExtraction, "policy modal had no readable fields")
	}
	return scrape.Success(map[string]any{"policies": policies})
}
