package sources

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/go-rod/rod"
)

// fillVerified sets an input's value through the DOM and reads it back.
// Some portals re-render their forms after load and silently drop the
// first write, so one more attempt is made before failing.
func fillVerified(page *rod.Page, sel, value string) error {
	const attempts = 2
	for i := 0; i < attempts; i++ {
		_, err := page.Timeout(10*time.Second).Eval(`(sel, v) => {
			const el = document.querySelector(sel);
			if (!el) throw new Error('no element ' + sel);
			el.value = v;
			el.dispatchEvent(new Event('input', {bubbles: true}));
			el.dispatchEvent(new Event('change', {bubbles: true}));
		}`, sel, value)
		if err != nil {
			return fmt.Errorf("set %s: %w", sel, err)
		}

		res, err := page.Eval(`(sel) => document.querySelector(sel).value`, sel)
		if err != nil {
			return fmt.Errorf("verify %s: %w", sel, err)
		}
		if res.Value.Str() == value {
			return nil
		}
		humanPause(500, 1000)
	}
	return fmt.Errorf("value of %s did not stick after %d attempts", sel, attempts)
}

// waitAny waits until one of the selectors appears and returns the one
// that matched.
func waitAny(page *rod.Page, timeout time.Duration, selectors ...string) (string, error) {
	var matched string
	race := page.Timeout(timeout).Race()
	for _, sel := range selectors {
		s := sel
		race = race.Element(s).Handle(func(_ *rod.Element) error {
			matched = s
			return nil
		})
	}
	if _, err := race.Do(); err != nil {
		return "", fmt.Errorf("wait for %s: %w", strings.Join(selectors, " | "), err)
	}
	return matched, nil
}

// elementText returns the trimmed text of the first match of sel, or ""
// when the element is absent.
func elementText(page *rod.Page, sel string) string {
	has, el, err := page.Has(sel)
	if err != nil || !has {
		return ""
	}
	text, err := el.Text()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(text)
}

// humanPause sleeps a random interval in [minMs, maxMs] milliseconds.
// The gibdd portal scores request cadence.
func humanPause(minMs, maxMs int) {
	d := minMs
	if maxMs > minMs {
		d += rand.Intn(maxMs - minMs + 1)
	}
	time.Sleep(time.Duration(d) * time.Millisecond)
}

// snakeKey turns a field caption like "Марка, модель:" into a stable
// map key ("марка_модель").
func snakeKey(caption string) string {
	s := strings.ToLower(strings.TrimSpace(caption))
	s = strings.TrimSuffix(s, ":")
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		switch {
		case r == ' ' || r == ',' || r == '.' || r == '-' || r == '/':
			if !lastUnderscore && b.Len() > 0 {
				b.WriteRune('_')
				lastUnderscore = true
			}
		default:
			b.WriteRune(r)
			lastUnderscore = false
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

// scrollPage nudges the viewport the way a reader would.
func scrollPage(page *rod.Page) {
	_, _ = page.Eval(`() => window.scrollBy(0, 200 + Math.floor(Math.random() * 300))`)
}
