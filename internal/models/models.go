package models

import (
	"cmp"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
)

// DateLayout is the canonical calendar date layout used for output.
const DateLayout = "2006-01-02"

// Side identifies which input a record came from.
type Side string

const (
	SideBank   Side = "bank"
	SideLedger Side = "ledger"
)

// String returns the string representation of Side
func (s Side) String() string {
	return string(s)
}

// IsValid checks if the side is one of the two inputs
func (s Side) IsValid() bool {
	return s == SideBank || s == SideLedger
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBank {
		return SideLedger
	}
	return SideBank
}

// Record is one normalized transaction from either input. Records are
// created by the normalizer and never modified afterwards.
type Record struct {
	ID                    string          `json:"id"`
	Side                  Side            `json:"side"`
	Line                  int             `json:"line"`
	Date                  time.Time       `json:"date"`
	Amount                decimal.Decimal `json:"amount"`
	Description           string          `json:"description"`
	NormalizedDescription string          `json:"normalized_description"`
	DescriptionKey        string          `json:"-"`
	Reference             string          `json:"reference,omitempty"`
	SourceCategory        string          `json:"source_category,omitempty"`
}

// NewRecord builds a record, normalizing the description and truncating the
// date to a calendar day.
func NewRecord(side Side, id string, date time.Time, amount decimal.Decimal, description, reference string) *Record {
	norm := NormalizeDescription(description)
	return &Record{
		ID:                    strings.TrimSpace(id),
		Side:                  side,
		Date:                  TruncateToDate(date),
		Amount:                amount,
		Description:           strings.TrimSpace(description),
		NormalizedDescription: norm,
		DescriptionKey:        DescriptionKey(norm),
		Reference:             strings.TrimSpace(reference),
	}
}

// Validate performs basic validation on the Record
func (r *Record) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("record ID cannot be empty")
	}
	if !r.Side.IsValid() {
		return fmt.Errorf("invalid record side: %q", r.Side)
	}
	if r.Date.IsZero() {
		return fmt.Errorf("record date cannot be zero")
	}
	return nil
}

// String returns a string representation of the Record
func (r *Record) String() string {
	return fmt.Sprintf("Record{%s %s, Amount: %s, Date: %s, Desc: %q}",
		r.Side, r.ID, r.Amount.String(), r.Date.Format(DateLayout), r.Description)
}

// MarshalJSON writes the date as a calendar date and the amount as a string
// so that no precision is lost.
func (r *Record) MarshalJSON() ([]byte, error) {
	type Alias Record
	return json.Marshal(&struct {
		Amount string `json:"amount"`
		Date   string `json:"date"`
		*Alias
	}{
		Amount: r.Amount.StringFixed(2),
		Date:   r.Date.Format(DateLayout),
		Alias:  (*Alias)(r),
	})
}

// ExactKey is the join key of the exact match pass. With absolute set the
// amount's sign is ignored.
func (r *Record) ExactKey(absolute bool) string {
	return r.AmountDateKey(absolute) + "|" + r.DescriptionKey
}

// AmountDateKey groups records that duplicate each other within one side.
func (r *Record) AmountDateKey(absolute bool) string {
	amount := r.Amount
	if absolute {
		amount = amount.Abs()
	}
	return amount.String() + "|" + r.Date.Format(DateLayout)
}

// HasMeaningfulKey reports whether the record carries any text that could
// tie it to a counterpart. Records without one are reported as unmapped.
func (r *Record) HasMeaningfulKey() bool {
	return !isPlaceholder(r.NormalizedDescription) || !isPlaceholder(NormalizeDescription(r.Reference))
}

var placeholderValues = map[string]bool{
	"":          true,
	"nan":       true,
	"null":      true,
	"nil":       true,
	"none":      true,
	"na":        true,
	"n a":       true,
	"unknown":   true,
	"undefined": true,
}

func isPlaceholder(normalized string) bool {
	return placeholderValues[normalized]
}

// CompareRecords orders records canonically by date, amount, description
// key, reference, id and source line. Every pass that iterates records uses
// this order so that results do not depend on input order.
func CompareRecords(a, b *Record) int {
	if c := a.Date.Compare(b.Date); c != 0 {
		return c
	}
	if c := a.Amount.Cmp(b.Amount); c != 0 {
		return c
	}
	if c := cmp.Compare(a.DescriptionKey, b.DescriptionKey); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Reference, b.Reference); c != 0 {
		return c
	}
	if c := cmp.Compare(a.ID, b.ID); c != 0 {
		return c
	}
	return cmp.Compare(a.Line, b.Line)
}

// NormalizeDescription lowercases s, replaces everything that is not a
// letter or digit with a space and collapses whitespace.
func NormalizeDescription(s string) string {
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(mapped), " ")
}

// DescriptionKey hashes a normalized description with FNV-64a.
func DescriptionKey(normalized string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(normalized))
	return strconv.FormatUint(h.Sum64(), 16)
}

// TruncateToDate keeps the calendar date of t as UTC midnight.
func TruncateToDate(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the signed number of calendar days from a to b.
func DaysBetween(a, b time.Time) int {
	return int(math.Round(TruncateToDate(b).Sub(TruncateToDate(a)).Hours() / 24))
}

// AbsDays returns the absolute number of calendar days between a and b.
func AbsDays(a, b time.Time) int {
	d := DaysBetween(a, b)
	if d < 0 {
		return -d
	}
	return d
}

var (
	currencyCodePattern = regexp.MustCompile(`(?i)(rs\.?|inr|usd|eur|gbp)`)
	drCrSuffixPattern   = regexp.MustCompile(`(?i)(dr|cr)\.?$`)
)

// ParseAmount parses a signed amount as it appears in bank exports. It
// accepts currency symbols and codes, thousands separators, parentheses or a
// trailing minus for negatives, and DR/CR suffixes.
func ParseAmount(s string) (decimal.Decimal, error) {
	raw := s
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount string cannot be empty")
	}

	negative := false
	if m := drCrSuffixPattern.FindString(s); m != "" {
		negative = strings.EqualFold(m[:2], "dr")
		s = strings.TrimSpace(s[:len(s)-len(m)])
	}
	s = currencyCodePattern.ReplaceAllString(s, "")

	s = strings.Map(func(r rune) rune {
		switch {
		case unicode.Is(unicode.Sc, r), r == ',', r == '\'', r == '_', unicode.IsSpace(r):
			return -1
		}
		return r
	}, s)

	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}
	if strings.HasSuffix(s, "-") {
		negative = true
		s = strings.TrimSuffix(s, "-")
	}
	s = strings.TrimPrefix(s, "+")

	if s == "" {
		return decimal.Zero, fmt.Errorf("no digits in amount %q", raw)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal format %q: %w", raw, err)
	}
	if negative {
		d = d.Abs().Neg()
	}
	return d, nil
}

// fallbackDateLayouts are tried, in order, after the configured layout.
var fallbackDateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006/01/02",
	"01/02/2006",
	"01/02/2006 15:04:05",
	"02-01-2006",
	"02 Jan 2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"20060102",
}

// ParseDate parses s with layout first, then with the fallback layouts, and
// returns the calendar date as UTC midnight.
func ParseDate(s, layout string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("date string cannot be empty")
	}

	layouts := fallbackDateLayouts
	if layout != "" {
		layouts = append([]string{layout}, fallbackDateLayouts...)
	}

	var lastErr error
	for _, l := range layouts {
		t, err := time.Parse(l, s)
		if err == nil {
			return TruncateToDate(t), nil
		}
		lastErr = err
	}
	return time.Time{}, fmt.Errorf("unable to parse date %q: %w", s, lastErr)
}
