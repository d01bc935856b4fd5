package sources

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"dossier/internal/browser"
	"dossier/internal/captcha"
	"dossier/internal/scrape"
)

// gibddFines checks outstanding traffic fines by plate number and
// registration certificate.
type gibddFines struct {
	solver captcha.Solver
	log    *slog.Logger
}

func newGibddFines(d Deps) *gibddFines {
	return &gibddFines{solver: d.Solver, log: d.Logger.With("source", "gibdd_fines")}
}

func (g *gibddFines) Name() string { return "gibdd_fines" }

func (g *gibddFines) Validate(req scrape.Request) error {
	if !scrape.ValidGRZ(req.Regnum) {
		return fmt.Errorf("bad plate %q", req.Regnum)
	}
	if !scrape.ValidRegion(req.Regreg) {
		return fmt.Errorf("bad plate region %q", req.Regreg)
	}
	if !scrape.ValidSTS(req.Stsnum) {
		return fmt.Errorf("bad sts %q", req.Stsnum)
	}
	return nil
}

// finesProgress is what the portal shows while the fines check is still
// queued on its side. The lookup reports pending and the caller re-asks.
const finesProgress = "Выполняется запрос, ждите"

func (g *gibddFines) Lookup(ctx context.Context, sess *browser.Session, req scrape.Request) scrape.Result {
	page := sess.Page.Context(ctx)

	if err := sess.Navigate(gibddBase+"/check/fines", 30*time.Second); err != nil {
		return scrape.Fail(scrape.KindNavigation, "open check page: %v", err)
	}

	fields := []struct{ sel, value string }{
		{"#checkFinesRegnum", req.Regnum},
		{"#checkFinesRegreg", req.Regreg},
		{"#checkFinesStsnum", req.Stsnum},
	}
	for _, f := range fields {
		if err := fillVerified(page, f.sel, f.value); err != nil {
			return scrape.Fail(scrape.KindNavigation, "fill form: %v", err)
		}
		humanPause(300, 800)
	}

	scrollPage(page)
	humanPause(1000, 2000)

	if res := g.requestFines(ctx, page); res != nil {
		return *res
	}

	if _, err := waitAny(page, 30*time.Second, "#checkFinesSheet", "#checkFines .checkResult"); err != nil {
		return scrape.Fail(scrape.KindExtraction, "fines result: %v", err)
	}

	html, err := sess.HTML()
	if err != nil {
		return scrape.Fail(scrape.KindExtraction, "read page: %v", err)
	}
	return parseFines(html)
}

// requestFines clicks the check button and clears the captcha dialog.
// The portal occasionally re-raises the dialog once after a correct
// answer, so the loop runs twice.
func (g *gibddFines) requestFines(ctx context.Context, page *rod.Page) *scrape.Result {
	var clicked bool
	for attempt := 0; attempt < 3; attempt++ {
		btn, err := page.Timeout(10 * time.Second).Element(`a.checker[data-type="fines"]`)
		if err != nil {
			continue
		}
		if err := btn.Click(proto.InputMouseButtonLeft, 1); err != nil {
			humanPause(500, 1000)
			continue
		}
		clicked = true
		break
	}
	if !clicked {
		r := scrape.Fail(scrape.KindNavigation, "check button never became clickable")
		return &r
	}

	for attempt := 0; attempt < 2; attempt++ {
		if res := passCaptcha(ctx, page, g.solver); res != nil {
			return res
		}
		humanPause(500, 1000)
		if !captchaVisible(page) {
			return nil
		}
	}
	r := scrape.Fail(scrape.KindChallenge, "captcha dialog persisted")
	return &r
}

// parseFines turns the fines result markup into a result. Split out of
// Lookup so it can run against saved pages.
func parseFines(html string) scrape.Result {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return scrape.Fail(scrape.KindExtraction, "parse page: %v", err)
	}

	msg := strings.TrimSpace(doc.Find("p.check-space.check-message").First().Text())
	if strings.Contains(msg, finesProgress) {
		return scrape.Pending(msg)
	}
	if msg != "" && strings.Contains(msg, "не найдено") {
		return scrape.NoData(msg)
	}

	var fines []map[string]string
	doc.Find("div.checkResult").Each(func(_ int, block *goquery.Selection) {
		fine := map[string]string{}
		var lines []string
		block.Find("p").Each(func(_ int, p *goquery.Selection) {
			text := strings.TrimSpace(p.Text())
			if text == "" || isFinesBoilerplate(text) {
				return
			}
			lines = append(lines, text)
		})
		if len(lines) == 0 {
			return
		}
		fine["details"] = strings.Join(lines, "\n")
		fines = append(fines, fine)
	})

	if len(fines) == 0 {
		if msg != "" {
			return scrape.NoData(msg)
		}
		return scrape.Fail(scrape.KindExtraction, "no fines block and no message")
	}
	return scrape.Success(map[string]any{"fines": fines, "message": msg})
}

// The result sheet repeats the same legal boilerplate under every
// check; none of it describes the subject's fines.
var finesBoilerplate = []string{
	"В соответствии с Федеральным законом",
	"Оплата половины суммы штрафа",
	"Информация о наличии неуплаченных штрафов",
	"По вопросам, связанным с исполнением постановлений",
}

func isFinesBoilerplate(text string) bool {
	for _, prefix := range finesBoilerplate {
		if strings.HasPrefix(text, prefix) {
			return true
		}
	}
	return false
}
