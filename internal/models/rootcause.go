package models

import (
	"fmt"
	"strings"
)

// RootCause is the reconciliation outcome of a match candidate. The
// declaration order is the order used to break ranking ties.
type RootCause int

const (
	RootCauseMatched RootCause = iota
	RootCauseAmountMismatch
	RootCauseDateMismatch
	RootCauseMissingInBank
	RootCauseMissingInLedger
	RootCauseDuplicate
	RootCauseUnmapped
)

var rootCauseNames = [...]string{
	RootCauseMatched:         "MATCHED",
	RootCauseAmountMismatch:  "AMOUNT_MISMATCH",
	RootCauseDateMismatch:    "DATE_MISMATCH",
	RootCauseMissingInBank:   "MISSING_IN_BANK",
	RootCauseMissingInLedger: "MISSING_IN_LEDGER",
	RootCauseDuplicate:       "DUPLICATE",
	RootCauseUnmapped:        "UNMAPPED",
}

var rootCauseLabels = [...]string{
	RootCauseMatched:         "Matched",
	RootCauseAmountMismatch:  "Amount Mismatch",
	RootCauseDateMismatch:    "Date Mismatch",
	RootCauseMissingInBank:   "Missing in Bank",
	RootCauseMissingInLedger: "Missing in Ledger",
	RootCauseDuplicate:       "Duplicate",
	RootCauseUnmapped:        "Unmapped",
}

// AllRootCauses returns every root cause in declaration order.
func AllRootCauses() []RootCause {
	return []RootCause{
		RootCauseMatched,
		RootCauseAmountMismatch,
		RootCauseDateMismatch,
		RootCauseMissingInBank,
		RootCauseMissingInLedger,
		RootCauseDuplicate,
		RootCauseUnmapped,
	}
}

// MismatchRootCauses returns every root cause except MATCHED.
func MismatchRootCauses() []RootCause {
	return AllRootCauses()[1:]
}

// String returns the string representation of RootCause
func (rc RootCause) String() string {
	if !rc.IsValid() {
		return fmt.Sprintf("RootCause(%d)", int(rc))
	}
	return rootCauseNames[rc]
}

// Label returns the human readable name used in reports.
func (rc RootCause) Label() string {
	if !rc.IsValid() {
		return rc.String()
	}
	return rootCauseLabels[rc]
}

// IsValid checks if the root cause is a declared value
func (rc RootCause) IsValid() bool {
	return rc >= RootCauseMatched && rc <= RootCauseUnmapped
}

// IsPaired reports whether candidates with this root cause have both sides.
func (rc RootCause) IsPaired() bool {
	switch rc {
	case RootCauseMatched, RootCauseAmountMismatch, RootCauseDateMismatch:
		return true
	}
	return false
}

// MarshalText implements encoding.TextMarshaler, which also makes RootCause
// usable as a JSON map key.
func (rc RootCause) MarshalText() ([]byte, error) {
	if !rc.IsValid() {
		return nil, fmt.Errorf("invalid root cause %d", int(rc))
	}
	return []byte(rc.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (rc *RootCause) UnmarshalText(text []byte) error {
	parsed, err := ParseRootCause(string(text))
	if err != nil {
		return err
	}
	*rc = parsed
	return nil
}

// ParseRootCause accepts the enum name or the report label in any case.
func ParseRootCause(s string) (RootCause, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.ReplaceAll(norm, " ", "_")
	for _, rc := range AllRootCauses() {
		if rootCauseNames[rc] == norm {
			return rc, nil
		}
	}
	return 0, fmt.Errorf("invalid root cause %q", s)
}
