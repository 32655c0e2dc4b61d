package catalog

import (
	"context"
	"fmt"
	"math"
	"strconv"
)

// MaxKeyLimitations caps Summary.KeyLimitations across all modules.
const MaxKeyLimitations = 3

// ModuleDetail is one catalog module as seen through a plan.
type ModuleDetail struct {
	Name      string `json:"name"`
	Label     string `json:"label"`
	IsEnabled bool   `json:"isEnabled"`
	Limits    Limits `json:"limits"`
}

// Summary describes what a plan grants across the active catalog.
type Summary struct {
	PlanID            string         `json:"planId"`
	TotalModules      int            `json:"totalModules"`
	EnabledModules    int            `json:"enabledModules"`
	EnabledPercentage int            `json:"enabledPercentage"`
	KeyLimitations    []string       `json:"keyLimitations"`
	ModuleDetails     []ModuleDetail `json:"moduleDetails"`
}

// Summarizer computes plan permission summaries.
type Summarizer struct {
	store Store
}

// NewSummarizer creates a summarizer over the given catalog store.
func NewSummarizer(store Store) *Summarizer {
	return &Summarizer{store: store}
}

// Summarize joins the active catalog with the plan's permission rows.
// Store errors are returned as-is (wrapped); they must not be read as
// "no access".
func (s *Summarizer) Summarize(ctx context.Context, planID string) (*Summary, error) {
	modules, err := s.store.ListModules(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("catalog: list modules: %w", err)
	}
	perms, err := s.store.ListPermissions(ctx, planID)
	if err != nil {
		return nil, fmt.Errorf("catalog: list permissions for plan %s: %w", planID, err)
	}
	return BuildSummary(planID, modules, perms), nil
}

// BuildSummary is the pure part of Summarize. Modules without a permission
// row are disabled with empty limits.
func BuildSummary(planID string, modules []*Module, perms []*Permission) *Summary {
	byName := make(map[string]*Permission, len(perms))
	for _, p := range perms {
		byName[p.ModuleName] = p
	}

	sum := &Summary{
		PlanID:         planID,
		TotalModules:   len(modules),
		KeyLimitations: []string{},
		ModuleDetails:  make([]ModuleDetail, 0, len(modules)),
	}

	for _, m := range modules {
		detail := ModuleDetail{Name: m.Name, Label: Label(m.Name), Limits: Limits{}}
		if p, ok := byName[m.Name]; ok {
			detail.IsEnabled = p.IsEnabled
			if p.Limits != nil {
				detail.Limits = p.Limits.Clone()
			}
		}
		sum.ModuleDetails = append(sum.ModuleDetails, detail)

		if !detail.IsEnabled {
			continue
		}
		sum.EnabledModules++
		for _, k := range detail.Limits.Keys() {
			if len(sum.KeyLimitations) >= MaxKeyLimitations {
				break
			}
			sum.KeyLimitations = append(sum.KeyLimitations,
				limitValue(detail.Limits[k])+" "+LimitKey(k))
		}
	}

	if sum.TotalModules > 0 {
		sum.EnabledPercentage = int(math.Round(float64(sum.EnabledModules) / float64(sum.TotalModules) * 100))
	}
	return sum
}

func limitValue(v int64) string {
	if v == Unlimited {
		return "unlimited"
	}
	return strconv.FormatInt(v, 10)
}
