package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mbd888/talentdesk/internal/idgen"
)

// Seed is the YAML document used to bootstrap a catalog.
//
//	modules:
//	  - name: crm
//	    category: sales
//	    default_limits: {seats: 3}
//	plans:
//	  - id: plan_starter
//	    name: Starter
//	    price_monthly: 49
//	    permissions:
//	      - module: crm
//	        enabled: true
//	        limits: {seats: 5}
type Seed struct {
	Modules []SeedModule `yaml:"modules"`
	Plans   []SeedPlan   `yaml:"plans"`
}

// SeedModule is a module entry in a seed file.
type SeedModule struct {
	Name          string `yaml:"name"`
	Category      string `yaml:"category"`
	Description   string `yaml:"description"`
	Inactive      bool   `yaml:"inactive"`
	SortOrder     int    `yaml:"sort_order"`
	DefaultLimits Limits `yaml:"default_limits"`
}

// SeedPlan is a plan entry in a seed file.
type SeedPlan struct {
	ID            string           `yaml:"id"`
	Name          string           `yaml:"name"`
	PriceMonthly  float64          `yaml:"price_monthly"`
	PriceAnnually float64          `yaml:"price_annually"`
	PlanType      PlanType         `yaml:"plan_type"`
	Inactive      bool             `yaml:"inactive"`
	Permissions   []SeedPermission `yaml:"permissions"`
}

// SeedPermission is a plan permission entry in a seed file.
type SeedPermission struct {
	Module  string `yaml:"module"`
	Enabled bool   `yaml:"enabled"`
	Limits  Limits `yaml:"limits"`
}

// LoadSeed reads and parses a YAML seed file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied seed path
	if err != nil {
		return nil, fmt.Errorf("read seed %s: %w", path, err)
	}
	return ParseSeed(data)
}

// ParseSeed parses a YAML seed document.
func ParseSeed(data []byte) (*Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	for i, m := range seed.Modules {
		if m.Name == "" {
			return nil, fmt.Errorf("parse seed: modules[%d] has no name", i)
		}
	}
	for i, p := range seed.Plans {
		if p.ID == "" || p.Name == "" {
			return nil, fmt.Errorf("parse seed: plans[%d] needs id and name", i)
		}
	}
	return &seed, nil
}

// SeedStats counts what ApplySeed wrote.
type SeedStats struct {
	Modules     int `json:"modules"`
	Plans       int `json:"plans"`
	Permissions int `json:"permissions"`
}

// ApplySeed writes a seed into the store. Existing modules and plans are
// left untouched; permissions are upserted. Safe to run repeatedly.
func ApplySeed(ctx context.Context, store Store, seed *Seed) (SeedStats, error) {
	var stats SeedStats
	now := time.Now()

	for _, sm := range seed.Modules {
		err := store.CreateModule(ctx, &Module{
			ID:            idgen.New(),
			Name:          sm.Name,
			Category:      sm.Category,
			Description:   sm.Description,
			IsActive:      !sm.Inactive,
			SortOrder:     sm.SortOrder,
			DefaultLimits: sm.DefaultLimits.Clone(),
			CreatedAt:     now,
		})
		switch {
		case err == nil:
			stats.Modules++
		case errors.Is(err, ErrModuleExists):
		default:
			return stats, fmt.Errorf("seed module %s: %w", sm.Name, err)
		}
	}

	for _, sp := range seed.Plans {
		planType := sp.PlanType
		if planType == "" {
			planType = PlanTypeStandard
		}
		err := store.CreatePlan(ctx, &Plan{
			ID:            sp.ID,
			Name:          sp.Name,
			PriceMonthly:  sp.PriceMonthly,
			PriceAnnually: sp.PriceAnnually,
			IsActive:      !sp.Inactive,
			PlanType:      planType,
			CreatedAt:     now,
		})
		switch {
		case err == nil:
			stats.Plans++
		case errors.Is(err, ErrPlanExists):
		default:
			return stats, fmt.Errorf("seed plan %s: %w", sp.ID, err)
		}

		for _, perm := range sp.Permissions {
			err := store.UpsertPermission(ctx, &Permission{
				ID:         idgen.New(),
				PlanID:     sp.ID,
				ModuleName: perm.Module,
				IsEnabled:  perm.Enabled,
				Limits:     perm.Limits.Clone(),
				CreatedAt:  now,
				UpdatedAt:  now,
			})
			if err != nil {
				return stats, fmt.Errorf("seed permission %s/%s: %w", sp.ID, perm.Module, err)
			}
			stats.Permissions++
		}
	}
	return stats, nil
}
