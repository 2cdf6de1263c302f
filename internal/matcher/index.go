package matcher

import (
	"slices"

	"smart-reconciliation-service/internal/models"
)

// RecordIndex is the residual pool of one side during the fuzzy pass. It
// answers "which unconsumed records share this amount" and "which share this
// date"; both lookups return records in canonical order.
type RecordIndex struct {
	config   *MatchingConfig
	byAmount map[string][]*models.Record
	byDate   map[string][]*models.Record
	consumed map[*models.Record]bool
	records  []*models.Record
}

// NewRecordIndex indexes records, which must already be in canonical order.
func NewRecordIndex(records []*models.Record, config *MatchingConfig) *RecordIndex {
	idx := &RecordIndex{
		config:   config,
		byAmount: make(map[string][]*models.Record),
		byDate:   make(map[string][]*models.Record),
		consumed: make(map[*models.Record]bool),
		records:  records,
	}
	for _, r := range records {
		ak := idx.amountKey(r)
		dk := r.Date.Format(models.DateLayout)
		idx.byAmount[ak] = append(idx.byAmount[ak], r)
		idx.byDate[dk] = append(idx.byDate[dk], r)
	}
	return idx
}

func (idx *RecordIndex) amountKey(r *models.Record) string {
	return idx.config.compareAmount(r.Amount).String()
}

// GetByAmount returns the unconsumed records whose comparable amount equals
// that of r.
func (idx *RecordIndex) GetByAmount(r *models.Record) []*models.Record {
	return idx.available(idx.byAmount[idx.amountKey(r)])
}

// GetByDate returns the unconsumed records dated on r's date.
func (idx *RecordIndex) GetByDate(r *models.Record) []*models.Record {
	return idx.available(idx.byDate[r.Date.Format(models.DateLayout)])
}

func (idx *RecordIndex) available(records []*models.Record) []*models.Record {
	out := make([]*models.Record, 0, len(records))
	for _, r := range records {
		if !idx.consumed[r] {
			out = append(out, r)
		}
	}
	return out
}

// Consume removes r from the pool.
func (idx *RecordIndex) Consume(r *models.Record) {
	idx.consumed[r] = true
}

// Remaining returns the unconsumed records in canonical order.
func (idx *RecordIndex) Remaining() []*models.Record {
	return idx.available(idx.records)
}

// IndexStats describes the shape of an index.
type IndexStats struct {
	TotalRecords  int `json:"total_records"`
	UniqueAmounts int `json:"unique_amounts"`
	UniqueDates   int `json:"unique_dates"`
	ConsumedCount int `json:"consumed_count"`
	LargestBucket int `json:"largest_bucket"`
}

// GetIndexStats returns statistics about the index
func (idx *RecordIndex) GetIndexStats() IndexStats {
	largest := 0
	for _, bucket := range idx.byAmount {
		largest = max(largest, len(bucket))
	}
	for _, bucket := range idx.byDate {
		largest = max(largest, len(bucket))
	}
	return IndexStats{
		TotalRecords:  len(idx.records),
		UniqueAmounts: len(idx.byAmount),
		UniqueDates:   len(idx.byDate),
		ConsumedCount: len(idx.consumed),
		LargestBucket: largest,
	}
}

// sortedCopy returns records in canonical order without touching the input.
func sortedCopy(records []*models.Record) []*models.Record {
	out := slices.Clone(records)
	slices.SortStableFunc(out, models.CompareRecords)
	return out
}

// groupByKey groups records by key, preserving their order inside each group,
// and returns the keys sorted so that callers never iterate a map directly.
func groupByKey(records []*models.Record, key func(*models.Record) string) (map[string][]*models.Record, []string) {
	groups := make(map[string][]*models.Record)
	var keys []string
	for _, r := range records {
		k := key(r)
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], r)
	}
	slices.Sort(keys)
	return groups, keys
}
