package categorizer

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"smart-reconciliation-service/internal/models"
	"smart-reconciliation-service/pkg/errors"
)

// Rule assigns Category to descriptions containing any of Keywords as whole
// words.
type Rule struct {
	Category models.Category `yaml:"category"`
	Keywords []string        `yaml:"keywords"`
}

// Rules is an ordered rule list; the first matching rule wins.
type Rules []Rule

type rulesFile struct {
	Rules Rules `yaml:"rules"`
}

// DefaultRules returns the built-in keyword rules.
func DefaultRules() Rules {
	return Rules{
		{Category: models.CategorySalary, Keywords: []string{"salary", "payroll", "hrms"}},
		{Category: models.CategoryInsurance, Keywords: []string{"insurance", "lic", "policy", "ergo", "lombard"}},
		{Category: models.CategoryFuel, Keywords: []string{"fuel", "petrol", "diesel", "hpcl", "bpcl", "iocl", "indian oil"}},
		{Category: models.CategoryTravel, Keywords: []string{"uber", "ola", "rapido", "irctc", "flight", "trip", "taxi", "cab", "makemytrip", "metro"}},
		{Category: models.CategoryFood, Keywords: []string{"swiggy", "zomato", "food", "restaurant", "cafe", "dominos"}},
		{Category: models.CategorySubscription, Keywords: []string{"netflix", "spotify", "hotstar", "prime video", "subscription", "icloud"}},
		{Category: models.CategoryUtilityBills, Keywords: []string{"bill", "electricity", "utility", "water", "broadband", "postpaid", "charge"}},
		{Category: models.CategoryWalletPayments, Keywords: []string{"wallet", "top up", "topup", "recharge", "paytm", "phonepe"}},
		{Category: models.CategoryShopping, Keywords: []string{"amazon", "flipkart", "myntra", "ajio", "shopping"}},
	}
}

// Validate checks that every rule names a category of the closed set and
// has at least one keyword.
func (rs Rules) Validate() error {
	for i, r := range rs {
		if !r.Category.IsValid() {
			return fmt.Errorf("rule %d: unknown category %q", i, r.Category)
		}
		if len(r.Keywords) == 0 {
			return fmt.Errorf("rule %d (%s): no keywords", i, r.Category)
		}
	}
	return nil
}

// Match returns the category of the first rule with a keyword in
// description.
func (rs Rules) Match(description string) (models.Category, bool) {
	text := " " + models.NormalizeDescription(description) + " "
	if text == "  " {
		return "", false
	}
	for _, r := range rs {
		for _, kw := range r.Keywords {
			norm := models.NormalizeDescription(kw)
			if norm != "" && strings.Contains(text, " "+norm+" ") {
				return r.Category, true
			}
		}
	}
	return "", false
}

// LoadRules reads rules from YAML of the form
//
//	rules:
//	  - category: Travel
//	    keywords: [uber, ola]
//
// Category names are matched with models.ParseCategory.
func LoadRules(r io.Reader) (Rules, error) {
	var raw struct {
		Rules []struct {
			Category string   `yaml:"category"`
			Keywords []string `yaml:"keywords"`
		} `yaml:"rules"`
	}
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil && err != io.EOF {
		return nil, err
	}

	rules := make(Rules, 0, len(raw.Rules))
	for i, r := range raw.Rules {
		category, ok := models.ParseCategory(r.Category)
		if !ok {
			return nil, fmt.Errorf("rule %d: unknown category %q", i, r.Category)
		}
		rules = append(rules, Rule{Category: category, Keywords: r.Keywords})
	}
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	return rules, nil
}

// LoadRulesFile reads rules from a YAML file.
func LoadRulesFile(path string) (Rules, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.FileError(errors.CodeFileNotFound, path, err)
	}
	defer f.Close()

	rules, err := LoadRules(f)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "rules_file", path, err)
	}
	return rules, nil
}

// WriteRules writes rules in the format LoadRules reads.
func WriteRules(w io.Writer, rules Rules) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(rulesFile{Rules: rules}); err != nil {
		return err
	}
	return enc.Close()
}
