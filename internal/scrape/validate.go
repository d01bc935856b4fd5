package scrape

import "regexp"

// Identifier formats accepted by the portals. VIN excludes I, O and Q
// per ISO 3779.
var (
	reINN    = regexp.MustCompile(`^\d{10}$|^\d{12}$`)
	reVIN    = regexp.MustCompile(`^[A-HJ-NPR-Z0-9]{17}$`)
	reSTS    = regexp.MustCompile(`^\d{2}[А-Я0-9]{2}\d{6}$`)
	reGRZ    = regexp.MustCompile(`^[А-Я]\d{3}[А-Я]{2}$`)
	reRegion = regexp.MustCompile(`^\d{2,3}$`)
	reBirth  = regexp.MustCompile(`^\d{2}\.\d{2}\.\d{4}$`)
)

// ValidINN reports whether s is a 10-digit legal-entity or 12-digit
// individual INN.
func ValidINN(s string) bool { return reINN.MatchString(s) }

// ValidVIN reports whether s is a 17-character vehicle identification
// number.
func ValidVIN(s string) bool { return reVIN.MatchString(s) }

// ValidSTS reports whether s is a vehicle registration certificate
// number.
func ValidSTS(s string) bool { return reSTS.MatchString(s) }

// ValidGRZ reports whether s is a state registration plate without the
// region part.
func ValidGRZ(s string) bool { return reGRZ.MatchString(s) }

// ValidRegion reports whether s is a 2-3 digit plate region code.
func ValidRegion(s string) bool { return reRegion.MatchString(s) }

// ValidBirthDate reports whether s is a dd.mm.yyyy date.
func ValidBirthDate(s string) bool { return reBirth.MatchString(s) }
