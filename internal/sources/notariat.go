package sources

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"dossier/internal/browser"
	"dossier/internal/scrape"
)

// notariat searches the federal notary chamber's probate case registry
// by full name and, optionally, birth date.
type notariat struct {
	log *slog.Logger
}

func newNotariat(d Deps) *notariat {
	return &notariat{log: d.Logger.With("source", "notariat")}
}

func (n *notariat) Name() string { return "notariat" }

func (n *notariat) Validate(req scrape.Request) error {
	if strings.TrimSpace(req.Name) == "" {
		return fmt.Errorf("empty name")
	}
	if req.BirthDate != "" && !scrape.ValidBirthDate(req.BirthDate) {
		return fmt.Errorf("bad birth date %q", req.BirthDate)
	}
	return nil
}

func (n *notariat) Lookup(ctx context.Context, sess *browser.Session, req scrape.Request) scrape.Result {
	page := sess.Page.Context(ctx)

	if err := sess.Navigate("https://notariat.ru/ru-ru/help/probate-cases/", 10*time.Second); err != nil {
		return scrape.Fail(scrape.KindNavigation, "open registry: %v", err)
	}

	if has, el, err := page.Has("div.captcha"); err == nil && has {
		if vis, err := el.Visible(); err == nil && vis {
			return scrape.Fail(scrape.KindChallenge, "registry raised a captcha wall")
		}
	}

	name, err := page.Timeout(10 * time.Second).Element(`input[name="name"]`)
	if err != nil {
		return scrape.Fail(scrape.KindNavigation, "name field: %v", err)
	}
	if err := name.Input(req.Name); err != nil {
		return scrape.Fail(scrape.KindInternal, "fill name: %v", err)
	}

	if req.BirthDate != "" {
		if res := n.fillBirthDate(page, req.BirthDate); res != nil {
			return *res
		}
	}

	submit, err := page.Timeout(10 * time.Second).Element("button.js-probate-cases__submit")
	if err != nil {
		return scrape.Fail(scrape.KindNavigation, "submit button: %v", err)
	}
	if err := submit.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return scrape.Fail(scrape.KindNavigation, "submit search: %v", err)
	}

	if _, err := waitAny(page, 20*time.Second,
		"div.probate-cases__plate_result", "h5.probate-cases__result-header"); err != nil {
		return scrape.Fail(scrape.KindExtraction, "registry answer: %v", err)
	}

	html, err := sess.HTML()
	if err != nil {
		return scrape.Fail(scrape.KindExtraction, "read page: %v", err)
	}
	return parseProbate(html)
}

// fillBirthDate fills the dd.mm.yyyy triplet: day and month are selects,
// year is a plain field.
func (n *notariat) fillBirthDate(page *rod.Page, date string) *scrape.Result {
	parts := strings.Split(date, ".")
	day, _ := strconv.Atoi(parts[0])
	month, _ := strconv.Atoi(parts[1])
	year := parts[2]

	daySel, err := page.Timeout(10 * time.Second).Element(`select[name="b-day"]`)
	if err == nil {
		if err := daySel.Select([]string{strconv.Itoa(day)}, true, rod.SelectorTypeText); err != nil {
			r := scrape.Fail(scrape.KindNavigation, "select birth day: %v", err)
			return &r
		}
	}
	monthSel, err := page.Timeout(10 * time.Second).Element(`select[name="b-month"]`)
	if err == nil {
		if err := monthSel.Select([]string{monthName(month)}, true, rod.SelectorTypeText); err != nil {
			r := scrape.Fail(scrape.KindNavigation, "select birth month: %v", err)
			return &r
		}
	}
	if err := fillVerified(page, `input[name="b-year"]`, year); err != nil {
		r := scrape.Fail(scrape.KindNavigation, "fill birth year: %v", err)
		return &r
	}
	return nil
}

var monthNames = [...]string{
	"", "Январь", "Февраль", "Март", "Апрель", "Май", "Июнь",
	"Июль", "Август", "Сентябрь", "Октябрь", "Ноябрь", "Декабрь",
}

func monthName(m int) string {
	if m < 1 || m > 12 {
		return ""
	}
	return monthNames[m]
}

// probateRecord is one entry of the probate registry answer.
type probateRecord struct {
	Name      string `json:"name"`
	BirthDate string `json:"birth_date"`
	Cases     string `json:"cases"`
}

// parseProbate reads the search answer out of the page markup. The
// result header carries the hit count; zero hits means a clean no-data
// answer.
func parseProbate(html string) scrape.Result {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return scrape.Fail(scrape.KindExtraction, "parse page: %v", err)
	}

	header := strings.TrimSpace(doc.Find("h5.probate-cases__result-header").First().Text())
	if header != "" && probateCount(header) == 0 {
		return scrape.NoData(header)
	}

	var records []probateRecord
	doc.Find("div.probate-cases__plate_result").Each(func(_ int, plate *goquery.Selection) {
		rec := probateRecord{
			Name:      strings.TrimSpace(plate.Find("b.js-rp__name").First().Text()),
			BirthDate: strings.TrimSpace(plate.Find("b.js-rp__date-birth").First().Text()),
			Cases:     strings.TrimSpace(plate.Find("b.probate-cases__records").First().Text()),
		}
		if rec.Name != "" {
			records = append(records, rec)
		}
	})

	if len(records) == 0 {
		if header != "" {
			return scrape.NoData(header)
		}
		return scrape.Fail(scrape.KindExtraction, "no result plates and no header")
	}
	return scrape.Success(map[string]any{"probate_cases": records})
}

// probateCount pulls the hit count out of a header like
// "Найдено записей: 2". Unparseable headers count as -1 so they are
// not mistaken for zero hits.
func probateCount(header string) int {
	fields := strings.Fields(header)
	for i := len(fields) - 1; i >= 0; i-- {
		if n, err := strconv.Atoi(strings.Trim(fields[i], ".:")); err == nil {
			return n
		}
	}
	return -1
}
