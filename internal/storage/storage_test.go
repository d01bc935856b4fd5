package storage

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(OpenMemory(t), nil)
}

func TestUpsertFirstInsert(t *testing.T) {
	// WHAT: a first insert diffs against the empty record, so every
	// populated source shows up as a change.
	s := testStore(t)
	ctx := context.Background()

	diff, err := s.Upsert(ctx, &Record{
		Subject: "7707083893",
		Query:   "7707083893",
		Sources: map[string]string{
			"efrsb":    `{"bankruptcies":[]}`,
			"pb_nalog": `{"ip":[{"text":"x"}]}`,
		},
	})
	require.NoError(t, err)
	require.Len(t, diff, 2)
	for _, ch := range diff {
		assert.Empty(t, ch.Old)
		assert.NotEmpty(t, ch.New)
	}

	rec, err := s.Get(ctx, "7707083893")
	require.NoError(t, err)
	assert.Equal(t, `{"bankruptcies":[]}`, rec.Sources["efrsb"])
	assert.False(t, rec.CheckedAt.IsZero())
}

func TestUpsertDiffsChangedFields(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_, err := s.Upsert(ctx, &Record{
		Subject: "JN1TTNJ52U0650947",
		Query:   "JN1TTNJ52U0650947",
		Sources: map[string]string{
			"gibdd_auto": `{"owners":2}`,
			"nsis":       `{"policies":1}`,
		},
	})
	require.NoError(t, err)

	diff, err := s.Upsert(ctx, &Record{
		Subject: "JN1TTNJ52U0650947",
		Query:   "JN1TTNJ52U0650947",
		Sources: map[string]string{
			"gibdd_auto": `{"owners":3}`,
			"nsis":       `{"policies":1}`,
		},
	})
	require.NoError(t, err)
	require.Len(t, diff, 1, "unchanged fields must not appear in the diff")
	assert.Equal(t, "gibdd_auto", diff[0].Field)
	assert.Equal(t, `{"owners":2}`, diff[0].Old)
	assert.Equal(t, `{"owners":3}`, diff[0].New)

	// The change history keeps both the insert and the update.
	changes, err := s.Changes(ctx, "JN1TTNJ52U0650947")
	require.NoError(t, err)
	assert.Len(t, changes, 3)
	assert.Equal(t, "gibdd_auto", changes[0].Field, "newest first")
}

func TestUpsertKeepsColumnsOutsidePlan(t *testing.T) {
	// WHY: an INN refresh must not wipe what a VIN lookup stored for
	// another subject's columns absent from this plan.
	s := testStore(t)
	ctx := context.Background()

	_, err := s.Upsert(ctx, &Record{
		Subject: "x y",
		Query:   "x y",
		Sources: map[string]string{"notariat": `{"probate_cases":[]}`},
	})
	require.NoError(t, err)

	diff, err := s.Upsert(ctx, &Record{
		Subject: "x y",
		Query:   "x y",
		Sources: map[string]string{"efrsb": `{"bankruptcies":[]}`},
	})
	require.NoError(t, err)
	require.Len(t, diff, 1)

	rec, err := s.Get(ctx, "x y")
	require.NoError(t, err)
	assert.Equal(t, `{"probate_cases":[]}`, rec.Sources["notariat"], "prior column survives")
	assert.Equal(t, `{"bankruptcies":[]}`, rec.Sources["efrsb"])
}

func TestGetUnknownSubject(t *testing.T) {
	s := testStore(t)
	_, err := s.Get(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListSubjects(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for _, subject := range []string{"a b", "c d"} {
		_, err := s.Upsert(ctx, &Record{Subject: subject, Query: subject,
			Sources: map[string]string{"notariat": "{}"}})
		require.NoError(t, err)
	}

	subjects, err := s.ListSubjects(ctx)
	require.NoError(t, err)
	require.Len(t, subjects, 2)
	assert.Equal(t, "a b", subjects[0].Subject)
	assert.Equal(t, "a b", subjects[0].Query)
}

func TestLookupLogRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	id := uuid.New()

	require.NoError(t, s.StartLookup(ctx, id, "7707083893", "api"))

	l, err := s.GetLookup(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, LookupQueued, l.Status)
	assert.True(t, l.FinishedAt.IsZero())

	require.NoError(t, s.FinishLookup(ctx, id, LookupDone, `{"sources":{}}`))

	l, err = s.GetLookup(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, LookupDone, l.Status)
	assert.Equal(t, `{"sources":{}}`, l.Outcome)
	assert.False(t, l.FinishedAt.IsZero())

	_, err = s.GetLookup(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBackup(t *testing.T) {
	s := NewStore(OpenMemory(t), nil)
	ctx := context.Background()

	_, err := s.Upsert(ctx, &Record{Subject: "a b", Query: "a b",
		Sources: map[string]string{"notariat": "{}"}})
	require.NoError(t, err)

	dest := t.TempDir() + "/backup.db"
	require.NoError(t, s.Backup(ctx, dest))

	restored, err := Open(dest)
	require.NoError(t, err)
	defer restored.Close()

	var count int
	require.NoError(t, restored.QueryRow("SELECT COUNT(*) FROM records").Scan(&count))
	assert.Equal(t, 1, count)
}
