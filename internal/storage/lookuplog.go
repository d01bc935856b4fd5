package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Lookup is one row of the lookup log.
type Lookup struct {
	ID         uuid.UUID `json:"id"`
	Query      string    `json:"query"`
	Requester  string    `json:"requester,omitempty"`
	Status     string    `json:"status"`
	Outcome    string    `json:"outcome,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// Lookup statuses.
const (
	LookupQueued = "queued"
	LookupDone   = "done"
	LookupFailed = "failed"
)

// StartLookup records an accepted job.
func (s *Store) StartLookup(ctx context.Context, id uuid.UUID, query, requester string) error {
	err := execRetry(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO lookup_log (id, query, requester, status, started_at)
			VALUES (?, ?, ?, ?, ?)`,
			id.String(), query, requester, LookupQueued,
			time.Now().UTC().Format(time.RFC3339))
		return err
	})
	if err != nil {
		return fmt.Errorf("storage: start lookup %s: %w", id, err)
	}
	return nil
}

// FinishLookup records the terminal status and outcome of a job.
func (s *Store) FinishLookup(ctx context.Context, id uuid.UUID, status, outcome string) error {
	err := execRetry(func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE lookup_log SET status = ?, outcome = ?, finished_at = ?
			WHERE id = ?`,
			status, outcome, time.Now().UTC().Format(time.RFC3339), id.String())
		return err
	})
	if err != nil {
		return fmt.Errorf("storage: finish lookup %s: %w", id, err)
	}
	return nil
}

// GetLookup reads one lookup log row.
func (s *Store) GetLookup(ctx context.Context, id uuid.UUID) (*Lookup, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT query, COALESCE(requester, ''), status, COALESCE(outcome, ''),
		       started_at, COALESCE(finished_at, '')
		FROM lookup_log WHERE id = ?`, id.String())

	l := &Lookup{ID: id}
	var started, finished string
	if err := row.Scan(&l.Query, &l.Requester, &l.Status, &l.Outcome, &started, &finished); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: get lookup %s: %w", id, err)
	}
	if t, err := time.Parse(time.RFC3339, started); err == nil {
		l.StartedAt = t
	}
	if finished != "" {
		if t, err := time.Parse(time.RFC3339, finished); err == nil {
			l.FinishedAt = t
		}
	}
	return l, nil
}
