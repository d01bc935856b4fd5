package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"dossier/internal/scrape"
)

// Config wires the orchestrator to the source gateways.
type Config struct {
	// Sources maps source name to its gateway base URL.
	Sources map[string]string
	// Policies overrides the default per-source polling contract.
	Policies map[string]Policy

	Logger *slog.Logger
}

// Orchestrator fans a query out to the relevant sources and merges the
// answers.
type Orchestrator struct {
	policies map[string]Policy
	http     *resty.Client
	log      *slog.Logger
}

// New builds an orchestrator. Sources without an explicit policy get
// the defaults for their name.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	policies := map[string]Policy{}
	for name, baseURL := range cfg.Sources {
		pol := cfg.Policies[name]
		if pol.BaseURL == "" {
			pol.BaseURL = baseURL
		}
		if pol.BaseURL == "" {
			return nil, fmt.Errorf("orchestrator: source %s has no base URL", name)
		}
		pol.defaults(name)
		policies[name] = pol
	}
	return &Orchestrator{
		policies: policies,
		http:     resty.New(),
		log:      cfg.Logger,
	}, nil
}

// Record is the merged answer for one query. Every planned source has
// exactly one entry in Sources: its data on success, or a description
// of why it is missing. An empty query merges into a record with no
// sources at all.
type Record struct {
	Subject   string         `json:"subject"`
	Query     string         `json:"query"`
	Sources   map[string]any `json:"sources"`
	CheckedAt time.Time      `json:"checked_at"`
}

// Run fans the query out to every planned source, waits for all of
// them, and merges whatever came back. Partial failure never aborts
// the merge.
func (o *Orchestrator) Run(ctx context.Context, q Query) (*Record, []SourceOutcome) {
	plan := q.Plan()
	outcomes := make([]SourceOutcome, len(plan))
	req := q.Request()

	var wg sync.WaitGroup
	for i, source := range plan {
		pol, ok := o.policies[source]
		if !ok {
			outcomes[i] = SourceOutcome{
				Source: source,
				State:  StateDone,
				Err:    fmt.Errorf("source %s not configured", source),
			}
			continue
		}
		wg.Add(1)
		go func(i int, source string, pol Policy) {
			defer wg.Done()
			outcomes[i] = o.lookupSource(ctx, source, pol, req)
			o.log.Info("source finished",
				"source", source,
				"state", outcomes[i].State.String(),
				"polls", outcomes[i].Polls,
				"status", string(outcomes[i].Result.Status))
		}(i, source, pol)
	}
	wg.Wait()

	return Merge(q, outcomes), outcomes
}

// Merge folds the per-source outcomes into the fixed-shape record.
func Merge(q Query, outcomes []SourceOutcome) *Record {
	rec := &Record{
		Subject:   q.Subject(),
		Query:     q.Encode(),
		Sources:   make(map[string]any, len(outcomes)),
		CheckedAt: time.Now().UTC(),
	}
	for _, out := range outcomes {
		switch {
		case out.State == StateTimedOut:
			rec.Sources[out.Source] = fmt.Sprintf("error: timed out (%v)", out.Err)
		case out.Err != nil:
			rec.Sources[out.Source] = fmt.Sprintf("error: %v", out.Err)
		case out.Result.Status == scrape.StatusSuccess:
			rec.Sources[out.Source] = out.Result.Data
		case out.Result.Status == scrape.StatusNoData:
			rec.Sources[out.Source] = map[string]any{
				"no_data": true,
				"message": out.Result.Message,
			}
		default:
			rec.Sources[out.Source] = fmt.Sprintf("error: %s: %s",
				out.Result.Kind.String(), out.Result.Message)
		}
	}
	return rec
}
