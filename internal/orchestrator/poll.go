package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"dossier/internal/scrape"
)

// PollState tracks one source request through its client-side
// lifecycle. The transitions are explicit: Pending before the first
// request, Polling while the source keeps answering "not yet", then
// Done or TimedOut.
type PollState int

const (
	StatePending PollState = iota
	StatePolling
	StateDone
	StateTimedOut
)

var stateNames = [...]string{"pending", "polling", "done", "timed_out"}

func (s PollState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Policy is the per-source polling contract.
type Policy struct {
	// BaseURL of the source gateway.
	BaseURL string
	// Timeout bounds one HTTP round trip. The gibdd sources hold the
	// connection open while the portal works, so theirs is long.
	Timeout time.Duration
	// Attempts multiplies Timeout into the total ceiling for the
	// source: Timeout × Attempts is the hard deadline.
	Attempts int
	// PollInterval is the pause between polls of a pending source.
	PollInterval time.Duration
}

func (p *Policy) defaults(source string) {
	if p.Timeout <= 0 {
		switch source {
		case "gibdd_auto", "gibdd_fines":
			p.Timeout = 120 * time.Second
		default:
			p.Timeout = 30 * time.Second
		}
	}
	if p.Attempts <= 0 {
		p.Attempts = 3
	}
	if p.PollInterval <= 0 {
		p.PollInterval = 10 * time.Second
	}
}

// SourceOutcome is the terminal record of one source lookup.
type SourceOutcome struct {
	Source string
	State  PollState
	Polls  int
	Result scrape.Result
	Err    error
}

// lookupSource runs the poll state machine for one source. Every
// answer that is pending or marked retryable schedules another poll;
// anything else is terminal. The total budget is Timeout × Attempts.
func (o *Orchestrator) lookupSource(ctx context.Context, source string, pol Policy, req scrape.Request) SourceOutcome {
	out := SourceOutcome{Source: source, State: StatePending}
	deadline := time.Now().Add(pol.Timeout * time.Duration(pol.Attempts))

	for {
		res, err := o.postLookup(ctx, pol, req)
		out.State = StatePolling
		out.Polls++

		if err != nil {
			// Transport trouble counts against the budget like a
			// pending answer; the gateway may just be busy.
			out.Err = err
			o.log.Warn("source request failed",
				"source", source, "poll", out.Polls, "error", err)
		} else {
			// Pending always re-polls, with or without a retry flag.
			stillWorking := res.Status == scrape.StatusPending || res.Retryable()
			if !stillWorking {
				out.State = StateDone
				out.Result = res
				out.Err = nil
				return out
			}
			out.Result = res
			out.Err = nil
		}

		if time.Now().After(deadline) || ctx.Err() != nil {
			out.State = StateTimedOut
			if out.Err == nil {
				out.Err = fmt.Errorf("no final answer within %s", pol.Timeout*time.Duration(pol.Attempts))
			}
			return out
		}

		select {
		case <-ctx.Done():
			out.State = StateTimedOut
			out.Err = ctx.Err()
			return out
		case <-time.After(pol.PollInterval):
		}
	}
}

// postLookup performs one gateway round trip. Non-2xx answers still
// carry a result body (the gateway encodes invalid input as 400 and
// internal failures as 500), so the body is decoded regardless.
func (o *Orchestrator) postLookup(ctx context.Context, pol Policy, req scrape.Request) (scrape.Result, error) {
	reqCtx, cancel := context.WithTimeout(ctx, pol.Timeout)
	defer cancel()

	resp, err := o.http.R().
		SetContext(reqCtx).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		Post(pol.BaseURL + "/lookup")
	if err != nil {
		return scrape.Result{}, fmt.Errorf("post lookup: %w", err)
	}

	var res scrape.Result
	if err := json.Unmarshal(resp.Body(), &res); err != nil {
		return scrape.Result{}, fmt.Errorf("decode lookup answer (%d): %w", resp.StatusCode(), err)
	}
	return res, nil
}
