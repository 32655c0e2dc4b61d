// Package catalog holds the platform's module catalog, subscription plans and
// the per-plan module permissions that gate tenants' access to modules.
//
// Catalog rows are written by operators and seed files; tenants only read
// them.
package catalog

import (
	"errors"
	"sort"
	"strings"
	"time"
	"unicode"
)

// Errors
var (
	ErrModuleNotFound     = errors.New("catalog: module not found")
	ErrModuleExists       = errors.New("catalog: module name already exists")
	ErrPlanNotFound       = errors.New("catalog: plan not found")
	ErrPlanExists         = errors.New("catalog: plan already exists")
	ErrPermissionNotFound = errors.New("catalog: permission not found")
)

// Unlimited marks a limit with no ceiling.
const Unlimited int64 = -1

// Limits maps a limit name (e.g. "seats", "monthly_reports") to its value.
type Limits map[string]int64

// Clone returns an independent copy. A nil receiver yields an empty map.
func (l Limits) Clone() Limits {
	out := make(Limits, len(l))
	for k, v := range l {
		out[k] = v
	}
	return out
}

// Keys returns the limit names in sorted order.
func (l Limits) Keys() []string {
	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MergeLimits layers limit maps left to right; later layers win.
// Callers pass module defaults, then plan limits, then tenant overrides.
func MergeLimits(layers ...Limits) Limits {
	out := Limits{}
	for _, layer := range layers {
		for k, v := range layer {
			out[k] = v
		}
	}
	return out
}

// Module is a catalog entry describing a pluggable business module.
type Module struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"` // unique key, snake_case
	Category      string    `json:"category"`
	Description   string    `json:"description,omitempty"`
	IsActive      bool      `json:"isActive"`
	SortOrder     int       `json:"sortOrder"`
	DefaultLimits Limits    `json:"defaultLimits"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Label is the display form of the module name.
func (m *Module) Label() string {
	return Label(m.Name)
}

// PlanType classifies plans.
type PlanType string

const (
	PlanTypeStandard   PlanType = "standard"
	PlanTypeTrial      PlanType = "trial"
	PlanTypeEnterprise PlanType = "enterprise"
)

// Plan is a subscription plan owned by platform operators.
type Plan struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	PriceMonthly  float64   `json:"priceMonthly"`
	PriceAnnually float64   `json:"priceAnnually"`
	IsActive      bool      `json:"isActive"`
	PlanType      PlanType  `json:"planType"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Permission grants (or withholds) one module on one plan.
// (PlanID, ModuleName) is unique.
type Permission struct {
	ID         string    `json:"id"`
	PlanID     string    `json:"planId"`
	ModuleName string    `json:"moduleName"`
	IsEnabled  bool      `json:"isEnabled"`
	Limits     Limits    `json:"limits"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Label turns a snake_case name into title-cased words:
// "talent_matching" becomes "Talent Matching".
func Label(name string) string {
	return titleWords(strings.ReplaceAll(name, "_", " "))
}

// LimitKey formats a limit name for display: "monthly_reports" becomes
// "monthly reports".
func LimitKey(key string) string {
	return strings.ReplaceAll(key, "_", " ")
}

// titleWords upper-cases every word character that starts a word.
func titleWords(s string) string {
	runes := []rune(s)
	for i, r := range runes {
		if isWordRune(r) && (i == 0 || !isWordRune(runes[i-1])) {
			runes[i] = unicode.ToUpper(r)
		}
	}
	return string(runes)
}

func isWordRune(r rune) bool {
	return r == '_' || (r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)))
}
