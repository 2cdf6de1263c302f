package parsers

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"smart-reconciliation-service/internal/models"
)

// Logical column names. A SchemaConfig maps each of them to the header
// aliases that may carry it in an input file.
const (
	ColumnID          = "id"
	ColumnReference   = "reference"
	ColumnDate        = "date"
	ColumnAmount      = "amount"
	ColumnDescription = "description"
	ColumnCategory    = "category"
)

// SchemaConfig describes how the columns of one input map onto Record fields.
type SchemaConfig struct {
	Side models.Side `json:"side" yaml:"side"`

	// DateFormat is a Go time layout tried before the built-in fallbacks.
	DateFormat string `json:"date_format" yaml:"date_format"`

	IDColumns          []string `json:"id_columns" yaml:"id_columns"`
	ReferenceColumns   []string `json:"reference_columns" yaml:"reference_columns"`
	DateColumns        []string `json:"date_columns" yaml:"date_columns"`
	AmountColumns      []string `json:"amount_columns" yaml:"amount_columns"`
	DescriptionColumns []string `json:"description_columns" yaml:"description_columns"`
	CategoryColumns    []string `json:"category_columns" yaml:"category_columns"`
}

// DefaultSchemaConfig returns the column aliases recognized for side. The
// side-suffixed names (date_bank, amount_ledger, ...) come first so that a
// combined export resolves to the columns of the requested side.
func DefaultSchemaConfig(side models.Side) *SchemaConfig {
	suffix := "_" + string(side)
	return &SchemaConfig{
		Side:               side,
		DateFormat:         models.DateLayout,
		IDColumns:          []string{"id" + suffix, "id", "txn_id", "transaction_id", "unique_identifier", "trxid"},
		ReferenceColumns:   []string{"ref" + suffix, "ref", "reference", "reference_number", "ref_no"},
		DateColumns:        []string{"date" + suffix, "date", "value_date", "posting_date", "transaction_date", "txn_date"},
		AmountColumns:      []string{"amount" + suffix, "amount", "amt", "value", "transaction_amount"},
		DescriptionColumns: []string{"description" + suffix, "narration" + suffix, "description", "narration", "remark", "remarks", "memo", "details", "particulars"},
		CategoryColumns:    []string{"category" + suffix, "category"},
	}
}

// Validate checks that every required logical column has at least one alias.
func (c *SchemaConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Side, validation.Required, validation.In(models.SideBank, models.SideLedger)),
		validation.Field(&c.DateColumns, validation.Required),
		validation.Field(&c.AmountColumns, validation.Required),
		validation.Field(&c.DescriptionColumns, validation.Required),
		validation.Field(&c.IDColumns, validation.Required.When(len(c.ReferenceColumns) == 0)),
	)
}

// Clone returns a deep copy of the configuration.
func (c *SchemaConfig) Clone() *SchemaConfig {
	clone := *c
	clone.IDColumns = append([]string(nil), c.IDColumns...)
	clone.ReferenceColumns = append([]string(nil), c.ReferenceColumns...)
	clone.DateColumns = append([]string(nil), c.DateColumns...)
	clone.AmountColumns = append([]string(nil), c.AmountColumns...)
	clone.DescriptionColumns = append([]string(nil), c.DescriptionColumns...)
	clone.CategoryColumns = append([]string(nil), c.CategoryColumns...)
	return &clone
}

// ColumnMap holds the resolved column index of each logical column, -1 when
// the file does not carry it.
type ColumnMap struct {
	ID          int
	Reference   int
	Date        int
	Amount      int
	Description int
	Category    int
}

// Resolve maps headers onto logical columns and returns the logical names
// that could not be resolved. Either id or reference satisfies the
// identifier requirement.
func (c *SchemaConfig) Resolve(headers []string) (ColumnMap, []string) {
	index := make(map[string]int, len(headers))
	for i, h := range headers {
		key := normalizeHeader(h)
		if _, seen := index[key]; !seen {
			index[key] = i
		}
	}

	find := func(aliases []string) int {
		for _, alias := range aliases {
			if i, ok := index[normalizeHeader(alias)]; ok {
				return i
			}
		}
		return -1
	}

	cm := ColumnMap{
		ID:          find(c.IDColumns),
		Reference:   find(c.ReferenceColumns),
		Date:        find(c.DateColumns),
		Amount:      find(c.AmountColumns),
		Description: find(c.DescriptionColumns),
		Category:    find(c.CategoryColumns),
	}

	var missing []string
	if cm.ID < 0 && cm.Reference < 0 {
		missing = append(missing, ColumnID+"|"+ColumnReference)
	}
	if cm.Date < 0 {
		missing = append(missing, ColumnDate)
	}
	if cm.Amount < 0 {
		missing = append(missing, ColumnAmount)
	}
	if cm.Description < 0 {
		missing = append(missing, ColumnDescription)
	}
	return cm, missing
}

// normalizeHeader lowercases a header and folds spaces and dashes into
// underscores, so "Value Date" matches "value_date".
func normalizeHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.NewReplacer(" ", "_", "-", "_", ".", "_").Replace(h)
	return h
}
