package categorizer

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"smart-reconciliation-service/internal/models"
	"smart-reconciliation-service/pkg/errors"
)

var seedDescriptions = map[models.Category][]string{
	models.CategoryFood: {
		"swiggy order", "zomato order", "swiggy instamart", "zomato gold dining",
		"restaurant bill", "cafe coffee day", "dominos pizza", "food delivery",
	},
	models.CategoryTravel: {
		"uber trip", "ola cab ride", "rapido bike taxi", "irctc train ticket",
		"indigo flight booking", "makemytrip hotel", "metro card", "uber trip airport",
	},
	models.CategoryFuel: {
		"hpcl petrol pump", "bpcl fuel station", "iocl diesel", "indian oil fuel",
		"shell petrol", "fuel surcharge petrol pump",
	},
	models.CategoryInsurance: {
		"lic insurance premium", "health insurance renewal", "hdfc ergo policy",
		"icici lombard motor insurance", "term insurance premium",
	},
	models.CategorySubscription: {
		"netflix subscription", "spotify premium", "amazon prime video",
		"disney hotstar", "youtube premium", "apple icloud storage",
	},
	models.CategorySalary: {
		"salary credit", "payroll credit hrms", "monthly salary", "salary neft employer",
		"bonus payroll",
	},
	models.CategoryShopping: {
		"amazon shopping", "flipkart order", "myntra fashion", "ajio purchase",
		"shopping mall", "amazon marketplace",
	},
	models.CategoryUtilityBills: {
		"electricity bill", "water bill", "gas bill", "broadband bill", "postpaid mobile bill",
		"bescom electricity", "utility charge",
	},
	models.CategoryWalletPayments: {
		"paytm wallet top up", "phonepe wallet", "mobile recharge", "wallet load",
		"amazon pay wallet", "dth recharge",
	},
	models.CategoryOther: {
		"atm withdrawal", "cash deposit", "cheque clearing", "neft transfer", "imps transfer",
		"upi transfer", "loan emi", "bank charges reversal",
	},
}

// SeedCorpus returns the built-in labeled corpus in category order.
func SeedCorpus() []Sample {
	var samples []Sample
	for _, c := range models.AllCategories() {
		for _, d := range seedDescriptions[c] {
			samples = append(samples, Sample{Description: d, Category: c})
		}
	}
	return samples
}

var (
	descriptionHeaders = []string{"description", "narration", "remark", "remarks", "memo", "details"}
	categoryHeaders    = []string{"category", "label", "predicted_category"}
)

// ReadSamplesCSV reads a labeled corpus with a description column and a
// category column. Rows whose category is not in the closed set are
// skipped and counted.
func ReadSamplesCSV(r io.Reader, name string) ([]Sample, int, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	headers, err := reader.Read()
	if err == io.EOF {
		return nil, 0, errors.SchemaError(errors.CodeEmptyInput, name, nil, err)
	}
	if err != nil {
		return nil, 0, errors.SchemaError(errors.CodeEncodingError, name, nil, err)
	}

	descCol, catCol := findColumn(headers, descriptionHeaders), findColumn(headers, categoryHeaders)
	var missing []string
	if descCol < 0 {
		missing = append(missing, "description")
	}
	if catCol < 0 {
		missing = append(missing, "category")
	}
	if len(missing) > 0 {
		return nil, 0, errors.SchemaError(errors.CodeMissingColumn, name, missing, nil)
	}

	var samples []Sample
	skipped := 0
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			line := 0
			if pe, ok := err.(*csv.ParseError); ok {
				line = pe.Line
			}
			return nil, 0, errors.ParseError(errors.CodeInvalidRow, name, line, "", "", err)
		}
		if descCol >= len(row) || catCol >= len(row) {
			skipped++
			continue
		}
		category, ok := models.ParseCategory(row[catCol])
		if !ok || strings.TrimSpace(row[descCol]) == "" {
			skipped++
			continue
		}
		samples = append(samples, Sample{Description: row[descCol], Category: category})
	}
	return samples, skipped, nil
}

func findColumn(headers, names []string) int {
	for _, want := range names {
		for i, h := range headers {
			if strings.EqualFold(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")), want) {
				return i
			}
		}
	}
	return -1
}

func (s Sample) String() string {
	return fmt.Sprintf("%s => %s", s.Description, s.Category)
}
