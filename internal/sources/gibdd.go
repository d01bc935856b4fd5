package sources

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"

	"dossier/internal/captcha"
	"dossier/internal/scrape"
)

// The gibdd portal guards both check pages with the same modal captcha
// dialog: a 5-digit numeric image under #captchaPic. While the portal
// generates the image it shows a GIF spinner in its place.

const (
	gibddBase        = "https://xn--90adear.xn--p1ai"
	captchaDialogSel = "#captchaDialog"
	captchaImageSel  = "#captchaPic img"
	captchaInputSel  = `input[name="captcha_num"]`
	captchaSubmitSel = "#captchaSubmit"
)

// captchaVisible reports whether the captcha dialog is currently shown.
func captchaVisible(page *rod.Page) bool {
	has, el, err := page.Has(captchaDialogSel)
	if err != nil || !has {
		return false
	}
	vis, err := el.Visible()
	return err == nil && vis
}

// captchaImage waits for the JPEG captcha to replace the GIF spinner
// and returns its base64 payload.
func captchaImage(page *rod.Page) (string, error) {
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		el, err := page.Timeout(5 * time.Second).Element(captchaImageSel)
		if err != nil {
			return "", fmt.Errorf("captcha image: %w", err)
		}
		src, err := el.Attribute("src")
		if err != nil {
			return "", fmt.Errorf("captcha image src: %w", err)
		}
		if src != nil && strings.HasPrefix(*src, "data:image/jpeg;base64,") {
			return strings.TrimPrefix(*src, "data:image/jpeg;base64,"), nil
		}
		// Still the spinner.
		time.Sleep(5 * time.Second)
	}
	return "", errors.New("captcha image never rendered")
}

// passCaptcha solves the dialog if it is shown. It returns a non-nil
// result only when the lookup cannot continue.
func passCaptcha(ctx context.Context, page *rod.Page, solver captcha.Solver) *scrape.Result {
	if !captchaVisible(page) {
		return nil
	}

	img, err := captchaImage(page)
	if err != nil {
		r := scrape.Fail(scrape.KindChallenge, "captcha: %v", err)
		return &r
	}

	answer, err := solver.Solve(ctx, img)
	if err != nil {
		// Unsolvable included: a reload produces a fresh image.
		r := scrape.Fail(scrape.KindChallenge, "solve captcha: %v", err)
		return &r
	}

	if err := fillVerified(page, captchaInputSel, answer); err != nil {
		r := scrape.Fail(scrape.KindChallenge, "enter captcha: %v", err)
		return &r
	}

	// The submit button sits inside the modal; a synthetic click is
	// more reliable than a mouse event against the overlay.
	if _, err := page.Eval(`(sel) => document.querySelector(sel).click()`, captchaSubmitSel); err != nil {
		r := scrape.Fail(scrape.KindChallenge, "submit captcha: %v", err)
		return &r
	}

	// Wait for the dialog to close.
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if !captchaVisible(page) {
			return nil
		}
		time.Sleep(500 * time.Millisecond)
	}
	r := scrape.Fail(scrape.KindChallenge, "captcha answer rejected")
	return &r
}
