package generator

import (
	"fmt"
	"io"
	"text/tabwriter"

	"smart-reconciliation-service/internal/models"
)

// Check compares what a dataset was generated with to what a
// reconciliation of it reported. Exact checks must agree; the others are
// informational since fuzzy pairing can move rows between root causes.
type Check struct {
	Name     string
	Injected int
	Observed int
	Exact    bool
}

// OK reports whether an exact check agrees. Informational checks are
// always OK.
func (c Check) OK() bool {
	return !c.Exact || c.Injected == c.Observed
}

// Compare lines the injected problems of ds up against summary.
func Compare(ds *Dataset, summary *models.Summary) []Check {
	inj := ds.Injected
	rc := summary.MismatchCountsByRootCause
	d := summary.Diagnostics
	return []Check{
		{Name: "bank records", Injected: len(ds.Bank), Observed: summary.TotalBank, Exact: true},
		{Name: "ledger records", Injected: len(ds.Ledger), Observed: summary.TotalLedger, Exact: true},
		{Name: "unparsed rows", Injected: 0, Observed: d.UnparsedBank + d.UnparsedLedger, Exact: true},
		{Name: "clean pairs / MATCHED", Injected: inj.Clean, Observed: summary.MatchedCount},
		{Name: "amount changes / AMOUNT_MISMATCH", Injected: inj.AmountMismatch, Observed: rc[models.RootCauseAmountMismatch]},
		{Name: "date shifts / DATE_MISMATCH", Injected: inj.DateShift, Observed: rc[models.RootCauseDateMismatch]},
		{Name: "missing / MISSING_IN_LEDGER", Injected: inj.Missing, Observed: rc[models.RootCauseMissingInLedger]},
		{Name: "ledger-only / MISSING_IN_BANK", Injected: inj.Ghost, Observed: rc[models.RootCauseMissingInBank]},
		{Name: "duplicates / DUPLICATE", Injected: inj.Duplicate, Observed: rc[models.RootCauseDuplicate]},
		{Name: "blank / UNMAPPED", Injected: inj.Blank, Observed: rc[models.RootCauseUnmapped]},
	}
}

// Failed returns the exact checks that disagree.
func Failed(checks []Check) []Check {
	var failed []Check
	for _, c := range checks {
		if !c.OK() {
			failed = append(failed, c)
		}
	}
	return failed
}

// WriteChecks prints checks as an aligned table.
func WriteChecks(w io.Writer, checks []Check) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CHECK\tINJECTED\tOBSERVED\tSTATUS")
	for _, c := range checks {
		status := "info"
		if c.Exact {
			status = "ok"
			if !c.OK() {
				status = "FAIL"
			}
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", c.Name, c.Injected, c.Observed, status)
	}
	return tw.Flush()
}
