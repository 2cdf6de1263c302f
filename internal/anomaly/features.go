package anomaly

import (
	"math"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"smart-reconciliation-service/internal/models"
)

// Feature indexes into a Vector.
const (
	FeatureAmount = iota
	FeaturePeerDeviation
	FeatureDateGap
	FeatureAmountDifference
	featureCount
)

// FeatureNames lists the features in vector order.
var FeatureNames = [featureCount]string{
	"amount",
	"peer_deviation",
	"date_gap",
	"amount_difference",
}

// MaxAmountFeature caps the amount features. Larger amounts still parse
// but would overflow the peer statistics.
const MaxAmountFeature = 1e15

// Vector is the numeric representation of one row.
type Vector [featureCount]float64

// IsFinite reports whether every component is a finite number.
func (v Vector) IsFinite() bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

// ExtractFeatures builds one vector per row:
//   - |amount| of the bank record, or of the ledger record for ledger-only rows
//   - |z-score| of that amount within the row's category
//   - date gap to the nearest match, capped at maxGap
//   - |amount difference| between the paired records
func ExtractFeatures(rows []*models.ReconciliationRow, maxGap int) []Vector {
	vectors := make([]Vector, len(rows))
	nearest := newNearestDates(rows)

	for i, row := range rows {
		primary := row.Primary()
		v := &vectors[i]
		v[FeatureAmount] = amountFeature(primary.Amount)
		v[FeatureAmountDifference] = amountFeature(row.AmountDifference)

		gap := maxGap
		if row.IsPaired() {
			gap = min(row.DateGapDays, maxGap)
		} else if g, ok := nearest.gap(primary); ok {
			gap = min(g, maxGap)
		}
		v[FeatureDateGap] = float64(gap)
	}

	peerDeviation(rows, vectors)
	return vectors
}

func amountFeature(d decimal.Decimal) float64 {
	return min(d.Abs().InexactFloat64(), MaxAmountFeature)
}

// peerDeviation fills FeaturePeerDeviation from the amount feature, grouped
// by category. Groups with fewer than two rows or no spread get 0.
func peerDeviation(rows []*models.ReconciliationRow, vectors []Vector) {
	groups := make(map[models.Category][]int)
	for i, row := range rows {
		groups[row.Category] = append(groups[row.Category], i)
	}

	for _, members := range groups {
		if len(members) < 2 {
			continue
		}
		var sum float64
		for _, i := range members {
			sum += vectors[i][FeatureAmount]
		}
		mean := sum / float64(len(members))

		var sq float64
		for _, i := range members {
			d := vectors[i][FeatureAmount] - mean
			sq += d * d
		}
		std := math.Sqrt(sq / float64(len(members)))
		if std == 0 {
			continue
		}
		for _, i := range members {
			vectors[i][FeaturePeerDeviation] = math.Abs(vectors[i][FeatureAmount]-mean) / std
		}
	}
}

// nearestDates answers, for an unpaired record, how far the closest
// same-amount record on the other side is.
type nearestDates struct {
	dates map[models.Side]map[string][]time.Time
}

func newNearestDates(rows []*models.ReconciliationRow) *nearestDates {
	nd := &nearestDates{dates: map[models.Side]map[string][]time.Time{
		models.SideBank:   {},
		models.SideLedger: {},
	}}
	for _, row := range rows {
		for _, r := range []*models.Record{row.Bank, row.Ledger} {
			if r == nil {
				continue
			}
			key := r.Amount.String()
			nd.dates[r.Side][key] = append(nd.dates[r.Side][key], r.Date)
		}
	}
	for _, byAmount := range nd.dates {
		for _, dates := range byAmount {
			slices.SortFunc(dates, time.Time.Compare)
		}
	}
	return nd
}

func (nd *nearestDates) gap(r *models.Record) (int, bool) {
	dates := nd.dates[r.Side.Opposite()][r.Amount.String()]
	if len(dates) == 0 {
		return 0, false
	}
	i, _ := slices.BinarySearchFunc(dates, r.Date, time.Time.Compare)
	best := math.MaxInt
	for _, j := range []int{i - 1, i} {
		if j >= 0 && j < len(dates) {
			best = min(best, models.AbsDays(r.Date, dates[j]))
		}
	}
	return best, true
}
