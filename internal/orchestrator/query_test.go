package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanPerIdentifierGroups(t *testing.T) {
	inn := Query{INN: "7707083893"}
	assert.Equal(t, []string{"efrsb", "pb_nalog", "kad_arbitr"}, inn.Plan())

	vin := Query{VIN: "JN1TTNJ52U0650947"}
	assert.Equal(t, []string{"gibdd_auto", "nsis", "reestr_zalogov"}, vin.Plan())

	plate := Query{Regnum: "А123БВ", Regreg: "777", Stsnum: "77АВ123456"}
	assert.Equal(t, []string{"gibdd_fines"}, plate.Plan())

	name := Query{Name: "Иванов Иван Иванович"}
	assert.Equal(t, []string{"notariat"}, name.Plan())
}

func TestPlanUnionOfGroups(t *testing.T) {
	// WHAT: a subject holding several identifiers fans out to every
	// activated group, not just the first one.
	q := Query{INN: "7707083893", VIN: "JN1TTNJ52U0650947"}
	assert.Equal(t, []string{
		"efrsb", "pb_nalog", "kad_arbitr",
		"gibdd_auto", "nsis", "reestr_zalogov",
	}, q.Plan())
}

func TestPlanAllIdentifiers(t *testing.T) {
	q := Query{
		INN:       "7707083893",
		VIN:       "JN1TTNJ52U0650947",
		Regnum:    "А123БВ",
		Regreg:    "777",
		Stsnum:    "77АВ123456",
		Name:      "Иванов Иван Иванович",
		BirthDate: "01.02.1980",
	}
	require.NoError(t, q.Normalize())
	assert.Len(t, q.Plan(), 8, "every source is in the plan")
	assert.Equal(t, "7707083893", q.Subject(), "inn keys the record")
}

func TestPlanEmptyQuery(t *testing.T) {
	// An empty identifier set is valid input that asks for nothing.
	var q Query
	require.NoError(t, q.Normalize())
	assert.True(t, q.Empty())
	assert.Empty(t, q.Plan())
	assert.Empty(t, q.Subject())
}

func TestNormalizeCanonicalises(t *testing.T) {
	q := Query{
		VIN:    " jn1ttnj52u0650947 ",
		Regnum: "а123бв",
		Regreg: "777",
		Stsnum: "77ав123456",
		Name:   "  Иванов   Иван  Иванович ",
	}
	require.NoError(t, q.Normalize())
	assert.Equal(t, "JN1TTNJ52U0650947", q.VIN)
	assert.Equal(t, "А123БВ", q.Regnum)
	assert.Equal(t, "77АВ123456", q.Stsnum)
	assert.Equal(t, "Иванов Иван Иванович", q.Name)
}

func TestNormalizeRejectsBadIdentifiers(t *testing.T) {
	for name, q := range map[string]Query{
		"short inn":      {INN: "12345"},
		"vin with I":     {VIN: "IN1TTNJ52U0650947"},
		"partial plate":  {Regnum: "А123БВ"},
		"bad sts":        {Regnum: "А123БВ", Regreg: "777", Stsnum: "123"},
		"one-word name":  {Name: "Иванов"},
		"bad birth date": {Name: "Иванов Иван", BirthDate: "1980"},
		"date sans name": {BirthDate: "01.02.1980"},
	} {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, q.Normalize())
		})
	}
}

func TestSubjectFallbackOrder(t *testing.T) {
	assert.Equal(t, "JN1TTNJ52U0650947", Query{VIN: "JN1TTNJ52U0650947"}.Subject())
	assert.Equal(t, "А123БВ777",
		Query{Regnum: "А123БВ", Regreg: "777", Stsnum: "77АВ123456"}.Subject())
	assert.Equal(t, "иванов иван иванович",
		Query{Name: "Иванов Иван Иванович"}.Subject())
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	q := Query{INN: "7707083893", Regnum: "А123БВ", Regreg: "777", Stsnum: "77АВ123456"}
	got, err := DecodeQuery(q.Encode())
	require.NoError(t, err)
	assert.Equal(t, q, got)

	_, err = DecodeQuery(`{"inn":"12345"}`)
	assert.Error(t, err, "decoded queries are normalized too")
}

func TestRequestCarriesIdentifiers(t *testing.T) {
	q := Query{Regnum: "А123БВ", Regreg: "777", Stsnum: "77АВ123456"}
	req := q.Request()
	assert.Equal(t, "А123БВ", req.Regnum)
	assert.Equal(t, "777", req.Regreg)
	assert.Equal(t, "77АВ123456", req.Stsnum)
	assert.Empty(t, req.INN)
}
