package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"dossier/internal/browser"
	"dossier/internal/scrape"
)

// fakeScraper returns scripted results in order, then repeats the last.
type fakeScraper struct {
	results []scrape.Result
	calls   int
	valErr  error
}

func (f *fakeScraper) Name() string { return "fake" }

func (f *fakeScraper) Validate(scrape.Request) error { return f.valErr }

func (f *fakeScraper) Lookup(context.Context, *browser.Session, scrape.Request) scrape.Result {
	i := f.calls
	f.calls++
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	return f.results[i]
}

func testService(f *fakeScraper) *Service {
	return New(Config{
		Source:   "fake",
		Scraper:  f,
		Attempts: 3,
		Acquire: func(context.Context) (*browser.Session, error) {
			return &browser.Session{}, nil
		},
	})
}

func post(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) scrape.Result {
	t.Helper()
	var res scrape.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return res
}

func TestLookupSuccess(t *testing.T) {
	f := &fakeScraper{results: []scrape.Result{scrape.Success(map[string]any{"x": 1})}}
	svc := testService(f)

	rec := post(t, svc.Routes(), "/lookup", scrape.Request{VIN: "JN1TTNJ52U0650947"})
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if res := decode(t, rec); res.Status != scrape.StatusSuccess {
		t.Errorf("status = %s", res.Status)
	}
	if f.calls != 1 {
		t.Errorf("calls = %d, want 1", f.calls)
	}
}

func TestLookupInvalidInput(t *testing.T) {
	f := &fakeScraper{valErr: fmt.Errorf("bad vin")}
	svc := testService(f)

	rec := post(t, svc.Routes(), "/lookup", scrape.Request{VIN: "nope"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("code = %d, want 400", rec.Code)
	}
	if res := decode(t, rec); res.Kind != scrape.KindInvalidInput {
		t.Errorf("kind = %v", res.Kind)
	}
	if f.calls != 0 {
		t.Error("scraper must not run on invalid input")
	}
}

func TestLookupRetriesRetryableFailure(t *testing.T) {
	// WHAT: a retryable failure gets a fresh session and another try.
	f := &fakeScraper{results: []scrape.Result{
		scrape.Fail(scrape.KindChallenge, "captcha rejected"),
		scrape.Success("ok"),
	}}
	svc := testService(f)

	rec := post(t, svc.Routes(), "/lookup", scrape.Request{})
	if res := decode(t, rec); res.Status != scrape.StatusSuccess {
		t.Fatalf("status = %s", res.Status)
	}
	if f.calls != 2 {
		t.Errorf("calls = %d, want 2", f.calls)
	}
}

func TestLookupStopsOnTerminalFailure(t *testing.T) {
	// WHY: retrying a rate-limited portal only digs the hole deeper.
	f := &fakeScraper{results: []scrape.Result{
		scrape.Fail(scrape.KindRateLimit, "slow down"),
	}}
	svc := testService(f)

	rec := post(t, svc.Routes(), "/lookup", scrape.Request{})
	if res := decode(t, rec); res.Kind != scrape.KindRateLimit {
		t.Fatalf("kind = %v", res.Kind)
	}
	if f.calls != 1 {
		t.Errorf("calls = %d, want 1", f.calls)
	}
}

func TestLookupExhaustsAttempts(t *testing.T) {
	f := &fakeScraper{results: []scrape.Result{
		scrape.Fail(scrape.KindNavigation, "portal down"),
	}}
	svc := testService(f)

	rec := post(t, svc.Routes(), "/lookup", scrape.Request{})
	if res := decode(t, rec); res.Status != scrape.StatusError {
		t.Fatalf("status = %s", res.Status)
	}
	if f.calls != 3 {
		t.Errorf("calls = %d, want 3", f.calls)
	}
}

func TestLookupPendingPassesThrough(t *testing.T) {
	// WHAT: pending is a logical outcome, not a failure; it must come
	// back as 200 without burning retries.
	f := &fakeScraper{results: []scrape.Result{scrape.Pending("в работе")}}
	svc := testService(f)

	rec := post(t, svc.Routes(), "/lookup", scrape.Request{})
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if res := decode(t, rec); res.Status != scrape.StatusPending || !res.Retry {
		t.Errorf("result = %+v", res)
	}
	if f.calls != 1 {
		t.Errorf("calls = %d, want 1", f.calls)
	}
}

func TestLookupInternalIs500(t *testing.T) {
	f := &fakeScraper{results: []scrape.Result{
		scrape.Fail(scrape.KindInternal, "boom"),
	}}
	svc := testService(f)

	rec := post(t, svc.Routes(), "/lookup", scrape.Request{})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("code = %d, want 500", rec.Code)
	}
}

func TestBatch(t *testing.T) {
	f := &fakeScraper{results: []scrape.Result{scrape.Success("ok")}}
	svc := testService(f)

	rec := post(t, svc.Routes(), "/lookup/batch", []scrape.Request{{}, {}, {}})
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	var results []scrape.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &results); err != nil {
		t.Fatalf("decode batch: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	for i, res := range results {
		if res.Status != scrape.StatusSuccess {
			t.Errorf("result %d: status = %s", i, res.Status)
		}
	}
}
