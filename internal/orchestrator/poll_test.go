package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dossier/internal/scrape"
)

// fakeGateway answers /lookup with scripted results, repeating the
// last one.
func fakeGateway(t *testing.T, results ...scrape.Result) *httptest.Server {
	t.Helper()
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		i := calls
		calls++
		if i >= len(results) {
			i = len(results) - 1
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(results[i])
	}))
	t.Cleanup(srv.Close)
	return srv
}

func fastPolicy(baseURL string) Policy {
	return Policy{
		BaseURL:      baseURL,
		Timeout:      200 * time.Millisecond,
		Attempts:     3,
		PollInterval: time.Millisecond,
	}
}

func testOrchestrator(t *testing.T) *Orchestrator {
	o, err := New(Config{Sources: map[string]string{}})
	require.NoError(t, err)
	return o
}

func TestLookupSourcePendingThenDone(t *testing.T) {
	// WHAT: pending answers keep the state machine polling until the
	// source finishes.
	srv := fakeGateway(t,
		scrape.Pending("в работе"),
		scrape.Pending("в работе"),
		scrape.Success(map[string]any{"ok": true}),
	)
	o := testOrchestrator(t)

	out := o.lookupSource(context.Background(), "gibdd_fines", fastPolicy(srv.URL), scrape.Request{})
	assert.Equal(t, StateDone, out.State)
	assert.Equal(t, scrape.StatusSuccess, out.Result.Status)
	assert.Equal(t, 3, out.Polls)
}

func TestLookupSourcePendingWithoutRetryFlag(t *testing.T) {
	// A pending answer re-polls even when the gateway forgot the retry
	// flag; the status alone means the source is still working.
	srv := fakeGateway(t,
		scrape.Result{Status: scrape.StatusPending, Message: "в работе"},
		scrape.Success("ok"),
	)
	o := testOrchestrator(t)

	out := o.lookupSource(context.Background(), "gibdd_fines", fastPolicy(srv.URL), scrape.Request{})
	assert.Equal(t, StateDone, out.State)
	assert.Equal(t, scrape.StatusSuccess, out.Result.Status)
	assert.Equal(t, 2, out.Polls)
}

func TestLookupSourceRetryableErrorRePolled(t *testing.T) {
	// WHY: a gateway that answers "challenge, retry" is still working
	// the request; the orchestrator should ask again, not give up.
	srv := fakeGateway(t,
		scrape.Fail(scrape.KindChallenge, "captcha rejected"),
		scrape.Success("ok"),
	)
	o := testOrchestrator(t)

	out := o.lookupSource(context.Background(), "efrsb", fastPolicy(srv.URL), scrape.Request{})
	assert.Equal(t, StateDone, out.State)
	assert.Equal(t, scrape.StatusSuccess, out.Result.Status)
}

func TestLookupSourceTerminalNoData(t *testing.T) {
	srv := fakeGateway(t, scrape.NoData("не найдено"))
	o := testOrchestrator(t)

	out := o.lookupSource(context.Background(), "efrsb", fastPolicy(srv.URL), scrape.Request{})
	assert.Equal(t, StateDone, out.State)
	assert.Equal(t, scrape.StatusNoData, out.Result.Status)
	assert.Equal(t, 1, out.Polls)
}

func TestLookupSourceTimesOut(t *testing.T) {
	// WHAT: a source that never finishes hits the Timeout × Attempts
	// ceiling and lands in timed_out, not in an endless loop.
	srv := fakeGateway(t, scrape.Pending("всё ещё в работе"))
	o := testOrchestrator(t)

	pol := Policy{
		BaseURL:      srv.URL,
		Timeout:      10 * time.Millisecond,
		Attempts:     2,
		PollInterval: time.Millisecond,
	}
	out := o.lookupSource(context.Background(), "gibdd_fines", pol, scrape.Request{})
	assert.Equal(t, StateTimedOut, out.State)
	assert.Error(t, out.Err)
	assert.Greater(t, out.Polls, 1)
}

func TestLookupSourceUnreachableGateway(t *testing.T) {
	o := testOrchestrator(t)
	pol := Policy{
		BaseURL:      "http://127.0.0.1:1",
		Timeout:      20 * time.Millisecond,
		Attempts:     1,
		PollInterval: time.Millisecond,
	}
	out := o.lookupSource(context.Background(), "efrsb", pol, scrape.Request{})
	assert.Equal(t, StateTimedOut, out.State)
	assert.Error(t, out.Err)
}

func TestLookupSourceHonorsContext(t *testing.T) {
	srv := fakeGateway(t, scrape.Pending("в работе"))
	o := testOrchestrator(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	pol := Policy{
		BaseURL:      srv.URL,
		Timeout:      time.Hour,
		Attempts:     3,
		PollInterval: time.Hour,
	}
	out := o.lookupSource(ctx, "efrsb", pol, scrape.Request{})
	assert.Equal(t, StateTimedOut, out.State)
}

func TestPolicyDefaults(t *testing.T) {
	var slow, fast Policy
	slow.defaults("gibdd_auto")
	fast.defaults("efrsb")

	assert.Equal(t, 120*time.Second, slow.Timeout)
	assert.Equal(t, 30*time.Second, fast.Timeout)
	assert.Equal(t, 3, fast.Attempts)
	assert.Equal(t, 10*time.Second, fast.PollInterval)
}

func TestPollStateString(t *testing.T) {
	assert.Equal(t, "pending", StatePending.String())
	assert.Equal(t, "polling", StatePolling.String())
	assert.Equal(t, "done", StateDone.String())
	assert.Equal(t, "timed_out", StateTimedOut.String())
}
