package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrNotFound is returned by Get for an unknown subject.
var ErrNotFound = errors.New("storage: not found")

const schema = `
CREATE TABLE IF NOT EXISTS records (
	subject        TEXT PRIMARY KEY,
	query          TEXT NOT NULL,
	efrsb          TEXT,
	pb_nalog       TEXT,
	kad_arbitr     TEXT,
	gibdd_auto     TEXT,
	nsis           TEXT,
	reestr_zalogov TEXT,
	gibdd_fines    TEXT,
	notariat       TEXT,
	checked_at     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS changes (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	subject    TEXT NOT NULL,
	field      TEXT NOT NULL,
	old_value  TEXT,
	new_value  TEXT,
	changed_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_changes_subject ON changes(subject, changed_at);

CREATE TABLE IF NOT EXISTS lookup_log (
	id          TEXT PRIMARY KEY,
	query       TEXT NOT NULL,
	requester   TEXT,
	status      TEXT NOT NULL,
	outcome     TEXT,
	started_at  TEXT NOT NULL,
	finished_at TEXT
);
`

// sourceColumns lists the per-source record columns in schema order.
var sourceColumns = []string{
	"efrsb", "pb_nalog", "kad_arbitr",
	"gibdd_auto", "nsis", "reestr_zalogov",
	"gibdd_fines", "notariat",
}

// Record is one stored subject. Sources maps source name to the JSON
// payload of its latest answer; sources never queried for this subject
// stay absent.
type Record struct {
	Subject   string
	Query     string
	Sources   map[string]string
	CheckedAt time.Time
}

// FieldChange is one field-level difference between the stored record
// and a fresh lookup.
type FieldChange struct {
	Field string
	Old   string
	New   string
}

// Diff is the set of changed fields from one Upsert.
type Diff []FieldChange

// Store persists records, changes, and the lookup log.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

// NewStore wraps an opened database.
func NewStore(db *sql.DB, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{db: db, log: log}
}

// Upsert writes the record keyed by subject. It compares every source
// column against the previous row, appends one changes entry per
// differing field, and returns the diff. A first insert diffs against
// the empty record.
func (s *Store) Upsert(ctx context.Context, rec *Record) (Diff, error) {
	prev, err := s.Get(ctx, rec.Subject)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("storage: read previous: %w", err)
	}

	var diff Diff
	for _, col := range sourceColumns {
		newVal, ok := rec.Sources[col]
		if !ok {
			// Source not in this lookup's plan; keep the stored value.
			continue
		}
		var oldVal string
		if prev != nil {
			oldVal = prev.Sources[col]
		}
		if oldVal != newVal {
			diff = append(diff, FieldChange{Field: col, Old: oldVal, New: newVal})
		}
	}

	now := rec.CheckedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	err = execRetry(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		set := "query = excluded.query, checked_at = excluded.checked_at"
		cols := "subject, query, checked_at"
		marks := "?, ?, ?"
		args := []any{rec.Subject, rec.Query, now.Format(time.RFC3339)}
		for _, col := range sourceColumns {
			if val, ok := rec.Sources[col]; ok {
				cols += ", " + col
				marks += ", ?"
				args = append(args, val)
				set += fmt.Sprintf(", %s = excluded.%s", col, col)
			}
		}
		stmt := fmt.Sprintf(
			"INSERT INTO records (%s) VALUES (%s) ON CONFLICT(subject) DO UPDATE SET %s",
			cols, marks, set)
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			return err
		}

		for _, ch := range diff {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO changes (subject, field, old_value, new_value, changed_at)
				VALUES (?, ?, ?, ?, ?)`,
				rec.Subject, ch.Field, ch.Old, ch.New, now.Format(time.RFC3339),
			); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, fmt.Errorf("storage: upsert %s: %w", rec.Subject, err)
	}

	for _, ch := range diff {
		s.log.Info("record field changed",
			"subject", rec.Subject, "field", ch.Field,
			"was_empty", ch.Old == "")
	}
	return diff, nil
}

// Get reads the record for a subject.
func (s *Store) Get(ctx context.Context, subject string) (*Record, error) {
	cols := "query, checked_at"
	for _, col := range sourceColumns {
		cols += ", " + col
	}
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM records WHERE subject = ?", cols), subject)

	rec := &Record{Subject: subject, Sources: map[string]string{}}
	var checkedAt string
	vals := make([]sql.NullString, len(sourceColumns))
	dest := []any{&rec.Query, &checkedAt}
	for i := range vals {
		dest = append(dest, &vals[i])
	}
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: get %s: %w", subject, err)
	}
	for i, col := range sourceColumns {
		if vals[i].Valid {
			rec.Sources[col] = vals[i].String
		}
	}
	if t, err := time.Parse(time.RFC3339, checkedAt); err == nil {
		rec.CheckedAt = t
	}
	return rec, nil
}

// Subject pairs a stored subject with the query that produced it, for
// scheduled refresh.
type Subject struct {
	Subject string
	Query   string
}

// ListSubjects returns every stored subject, oldest check first.
func (s *Store) ListSubjects(ctx context.Context) ([]Subject, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT subject, query FROM records ORDER BY checked_at ASC")
	if err != nil {
		return nil, fmt.Errorf("storage: list subjects: %w", err)
	}
	defer rows.Close()

	var out []Subject
	for rows.Next() {
		var sub Subject
		if err := rows.Scan(&sub.Subject, &sub.Query); err != nil {
			return nil, fmt.Errorf("storage: scan subject: %w", err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// Changes returns the change history for a subject, newest first.
func (s *Store) Changes(ctx context.Context, subject string) ([]FieldChange, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT field, COALESCE(old_value, ''), COALESCE(new_value, '')
		FROM changes WHERE subject = ? ORDER BY id DESC`, subject)
	if err != nil {
		return nil, fmt.Errorf("storage: changes %s: %w", subject, err)
	}
	defer rows.Close()

	var out []FieldChange
	for rows.Next() {
		var ch FieldChange
		if err := rows.Scan(&ch.Field, &ch.Old, &ch.New); err != nil {
			return nil, fmt.Errorf("storage: scan change: %w", err)
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

// Backup writes a compacted copy of the database to destPath.
func (s *Store) Backup(ctx context.Context, destPath string) error {
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("storage: backup to %s: %w", destPath, err)
	}
	s.log.Info("database backed up", "dest", destPath)
	return nil
}
