package models

import "strings"

// Category is one label of the closed transaction category set.
type Category string

const (
	CategoryFood           Category = "Food"
	CategoryTravel         Category = "Travel"
	CategoryFuel           Category = "Fuel"
	CategoryInsurance      Category = "Insurance"
	CategorySubscription   Category = "Subscription"
	CategorySalary         Category = "Salary"
	CategoryShopping       Category = "Shopping"
	CategoryUtilityBills   Category = "Utility Bills"
	CategoryWalletPayments Category = "Wallet Payments"
	CategoryOther          Category = "Other"
)

// AllCategories returns the closed category set in report order.
func AllCategories() []Category {
	return []Category{
		CategoryFood,
		CategoryTravel,
		CategoryFuel,
		CategoryInsurance,
		CategorySubscription,
		CategorySalary,
		CategoryShopping,
		CategoryUtilityBills,
		CategoryWalletPayments,
		CategoryOther,
	}
}

// String returns the string representation of Category
func (c Category) String() string {
	return string(c)
}

// IsValid checks if c belongs to the closed set
func (c Category) IsValid() bool {
	canonical, ok := categoryAliases[strings.ToLower(string(c))]
	return ok && canonical == c
}

var categoryAliases = map[string]Category{
	"food":            CategoryFood,
	"dining":          CategoryFood,
	"travel":          CategoryTravel,
	"transport":       CategoryTravel,
	"fuel":            CategoryFuel,
	"insurance":       CategoryInsurance,
	"subscription":    CategorySubscription,
	"subscriptions":   CategorySubscription,
	"salary":          CategorySalary,
	"payroll":         CategorySalary,
	"shopping":        CategoryShopping,
	"utility bills":   CategoryUtilityBills,
	"utility":         CategoryUtilityBills,
	"utilities":       CategoryUtilityBills,
	"bills":           CategoryUtilityBills,
	"wallet payments": CategoryWalletPayments,
	"wallet":          CategoryWalletPayments,
	"other":           CategoryOther,
	"others":          CategoryOther,
	"uncategorized":   CategoryOther,
}

// ParseCategory maps a label, case-insensitively and with a few common
// aliases, onto the closed set.
func ParseCategory(s string) (Category, bool) {
	key := strings.Join(strings.Fields(strings.ToLower(strings.ReplaceAll(s, "_", " "))), " ")
	c, ok := categoryAliases[key]
	return c, ok
}

// CategorySource records which categorizer stage produced a label.
type CategorySource string

const (
	CategorySourceInput    CategorySource = "input"
	CategorySourceModel    CategorySource = "model"
	CategorySourceRules    CategorySource = "rules"
	CategorySourceFallback CategorySource = "fallback"
)
