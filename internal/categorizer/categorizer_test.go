package categorizer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smart-reconciliation-service/internal/models"
	"smart-reconciliation-service/pkg/errors"
)

func newDefault(t *testing.T) *Categorizer {
	t.Helper()
	c, err := New(nil)
	require.NoError(t, err)
	require.Equal(t, ModeModelAndRules, c.Mode())
	return c
}

func TestCategorizeKnownDescriptions(t *testing.T) {
	c := newDefault(t)

	tests := []struct {
		description string
		want        models.Category
	}{
		{"UBER TRIP 4521", models.CategoryTravel},
		{"SWIGGY ORDER #88812", models.CategoryFood},
		{"HPCL PETROL PUMP BLR", models.CategoryFuel},
		{"NETFLIX SUBSCRIPTION", models.CategorySubscription},
		{"SALARY CREDIT - HRMS", models.CategorySalary},
		{"BESCOM ELECTRICITY BILL", models.CategoryUtilityBills},
		{"PAYTM WALLET TOP-UP", models.CategoryWalletPayments},
		{"AMAZON SHOPPING", models.CategoryShopping},
		{"LIC INSURANCE PREMIUM", models.CategoryInsurance},
	}
	for _, tt := range tests {
		t.Run(tt.description, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Categorize(tt.description, "").Category)
		})
	}
}

func TestCategorizeSources(t *testing.T) {
	c := newDefault(t)

	input := c.Categorize("anything at all", "utility")
	assert.Equal(t, models.CategoryUtilityBills, input.Category)
	assert.Equal(t, models.CategorySourceInput, input.Source)

	model := c.Categorize("netflix subscription", "")
	assert.Equal(t, models.CategorySourceModel, model.Source)
	assert.GreaterOrEqual(t, model.Probability, 0.6)

	unknownInput := c.Categorize("qwzx plmk", "not a category")
	assert.Equal(t, models.CategoryOther, unknownInput.Category)
	assert.Equal(t, models.CategorySourceFallback, unknownInput.Source)

	empty := c.Categorize("", "")
	assert.Equal(t, models.CategoryOther, empty.Category)
}

func TestCategorizeIsIdempotent(t *testing.T) {
	c := newDefault(t)

	descriptions := []string{"UBER TRIP 4521", "random text", "Zomato 123", "IMPS transfer", ""}
	records := make([]*models.Record, 0, len(descriptions)*20)
	for i := 0; i < 20; i++ {
		for j, d := range descriptions {
			records = append(records, &models.Record{ID: fmt.Sprintf("B%d-%d", i, j), Side: models.SideBank, Description: d})
		}
	}

	all, err := c.CategorizeAll(context.Background(), records)
	require.NoError(t, err)
	require.Len(t, all, len(records))

	for i, r := range records {
		assert.Equal(t, c.CategorizeRecord(r), all[i])
		assert.Equal(t, all[i%len(descriptions)], all[i], "same description, same label")
	}
}

func TestCategorizeAllCancelled(t *testing.T) {
	c := newDefault(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.CategorizeAll(ctx, []*models.Record{{Description: "uber"}})
	assert.True(t, errors.IsCategory(err, errors.CategoryInternal))
}

func TestRulesOnly(t *testing.T) {
	c := NewWithModel(nil, DefaultRules(), 0.6)
	assert.Equal(t, ModeRulesOnly, c.Mode())

	tests := []struct {
		description string
		want        models.Category
		source      models.CategorySource
	}{
		{"UBER TRIP 4521", models.CategoryTravel, models.CategorySourceRules},
		{"OLA CABS", models.CategoryTravel, models.CategorySourceRules},
		{"Cola purchase", models.CategoryOther, models.CategorySourceFallback},
		{"Mobile recharge", models.CategoryWalletPayments, models.CategorySourceRules},
		{"Wallet top-up", models.CategoryWalletPayments, models.CategorySourceRules},
		{"Payroll March", models.CategorySalary, models.CategorySourceRules},
	}
	for _, tt := range tests {
		t.Run(tt.description, func(t *testing.T) {
			got := c.Categorize(tt.description, "")
			assert.Equal(t, tt.want, got.Category)
			assert.Equal(t, tt.source, got.Source)
		})
	}
}

func TestModelLoadFailureDegrades(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.model")
	require.NoError(t, os.WriteFile(path, []byte("not a model"), 0o644))

	c, err := New(&Config{ModelPath: path, ConfidenceThreshold: 0.6})
	require.NoError(t, err)
	assert.Equal(t, ModeRulesOnly, c.Mode())
	require.NotNil(t, c.Err())
	assert.Equal(t, errors.CategoryModel, c.Err().Category)

	assert.Equal(t, models.CategoryTravel, c.Categorize("UBER TRIP 4521", "").Category)

	_, err = New(&Config{ModelPath: filepath.Join(t.TempDir(), "missing.model"), ConfidenceThreshold: 0.6})
	assert.NoError(t, err)
}

func TestModelSaveAndLoad(t *testing.T) {
	model, err := DefaultModel()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "categorizer.model")
	require.NoError(t, model.SaveFile(path))

	loaded, err := LoadModelFile(path)
	require.NoError(t, err)
	assert.ElementsMatch(t, model.Classes(), loaded.Classes())

	for _, d := range []string{"swiggy order", "uber trip", "electricity bill"} {
		want, err := model.Predict(d)
		require.NoError(t, err)
		got, err := loaded.Predict(d)
		require.NoError(t, err)
		assert.Equal(t, want.Category, got.Category, d)
		assert.InDelta(t, want.Probability, got.Probability, 1e-9, d)
	}
}

func TestTrain(t *testing.T) {
	_, err := Train([]Sample{{Description: "uber", Category: models.CategoryTravel}})
	assert.True(t, errors.IsCategory(err, errors.CategoryModel))

	_, err = Train([]Sample{
		{Description: "uber", Category: models.CategoryTravel},
		{Description: "swiggy", Category: "Groceries"},
	})
	assert.Error(t, err)

	model, err := Train([]Sample{
		{Description: "uber ride", Category: models.CategoryTravel},
		{Description: "swiggy dinner", Category: models.CategoryFood},
	})
	require.NoError(t, err)
	pred, err := model.Predict("UBER RIDE 99")
	require.NoError(t, err)
	assert.Equal(t, models.CategoryTravel, pred.Category)
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"uber", "trip"}, Tokenize("UBER TRIP 4521"))
	assert.Equal(t, []string{"upi", "swiggy", "ref9"}, Tokenize("UPI/SWIGGY/REF9 x"))
	assert.Empty(t, Tokenize("  12 - 7 "))
}

func TestLoadRules(t *testing.T) {
	yamlRules := `
rules:
  - category: travel
    keywords: [uber, "ola"]
  - category: Utility
    keywords: [bescom]
`
	rules, err := LoadRules(strings.NewReader(yamlRules))
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, models.CategoryUtilityBills, rules[1].Category)

	var buf bytes.Buffer
	require.NoError(t, WriteRules(&buf, rules))
	again, err := LoadRules(&buf)
	require.NoError(t, err)
	assert.Equal(t, rules, again)

	_, err = LoadRules(strings.NewReader("rules:\n  - category: Groceries\n    keywords: [x]\n"))
	assert.Error(t, err)

	_, err = LoadRules(strings.NewReader("rules:\n  - category: Food\n"))
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	_, err := New(&Config{ConfidenceThreshold: 1.5})
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))

	_, err = New(&Config{ConfidenceThreshold: 0.6, RulesPath: filepath.Join(t.TempDir(), "none.yaml")})
	assert.True(t, errors.IsCategory(err, errors.CategoryFile))
}

func TestReadSamplesCSV(t *testing.T) {
	data := "Narration,Category\nUBER TRIP,Travel\nSWIGGY,food\nMYSTERY,Groceries\n,Travel\n"
	samples, skipped, err := ReadSamplesCSV(strings.NewReader(data), "corpus.csv")
	require.NoError(t, err)
	assert.Equal(t, 2, skipped)
	assert.Equal(t, []Sample{
		{Description: "UBER TRIP", Category: models.CategoryTravel},
		{Description: "SWIGGY", Category: models.CategoryFood},
	}, samples)

	_, _, err = ReadSamplesCSV(strings.NewReader("id,amount\n1,2\n"), "bad.csv")
	assert.True(t, errors.IsCategory(err, errors.CategorySchema))
}
