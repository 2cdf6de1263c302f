package matcher

import (
	"smart-reconciliation-service/internal/models"
)

// DuplicateGroup is a set of same-side records sharing amount and date. The
// representative stays in the residual pool; the others are duplicates.
type DuplicateGroup struct {
	Key            string           `json:"key"`
	Side           models.Side      `json:"side"`
	Representative *models.Record   `json:"representative"`
	Duplicates     []*models.Record `json:"duplicates"`
}

// DuplicateDetectionResult is the outcome of the duplicate pass on one side.
type DuplicateDetectionResult struct {
	// Survivors are the records that continue to the fuzzy pass, in
	// canonical order.
	Survivors []*models.Record
	Groups    []*DuplicateGroup
}

// DuplicateCount returns the number of records marked as duplicates.
func (r *DuplicateDetectionResult) DuplicateCount() int {
	n := 0
	for _, g := range r.Groups {
		n += len(g.Duplicates)
	}
	return n
}

// DetectDuplicates groups records, which must be in canonical order, by
// amount and date. The first record of each group in canonical order is its
// representative.
func (me *MatchingEngine) DetectDuplicates(records []*models.Record) *DuplicateDetectionResult {
	result := &DuplicateDetectionResult{}
	if len(records) == 0 {
		return result
	}

	groups, keys := groupByKey(records, me.amountDateKey)
	representative := make(map[*models.Record]bool, len(keys))
	for _, k := range keys {
		members := groups[k]
		representative[members[0]] = true
		if len(members) > 1 {
			result.Groups = append(result.Groups, &DuplicateGroup{
				Key:            k,
				Side:           members[0].Side,
				Representative: members[0],
				Duplicates:     members[1:],
			})
		}
	}

	for _, r := range records {
		if representative[r] {
			result.Survivors = append(result.Survivors, r)
		}
	}
	return result
}

func (me *MatchingEngine) amountDateKey(r *models.Record) string {
	return r.AmountDateKey(me.config.CompareAbsoluteAmounts)
}

func (me *MatchingEngine) exactKey(r *models.Record) string {
	return r.ExactKey(me.config.CompareAbsoluteAmounts)
}
