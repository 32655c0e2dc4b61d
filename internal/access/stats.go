package access

import (
	"context"
	"math"
)

// Stats summarizes a tenant's access across the active catalog.
type Stats struct {
	TenantID          string `json:"tenantId"`
	PlanID            string `json:"planId,omitempty"`
	PlanName          string `json:"planName,omitempty"`
	HasSubscription   bool   `json:"hasSubscription"`
	TotalModules      int    `json:"totalModules"`
	Accessible        int    `json:"accessible"`
	GrantedByPlan     int    `json:"grantedByPlan"`
	GrantedByOverride int    `json:"grantedByOverride"`
	DisabledByPlan    int    `json:"disabledByPlan"`
	NotProvisioned    int    `json:"notProvisioned"`
	AccessPercentage  int    `json:"accessPercentage"`
}

// Stats computes access statistics for the tenant.
func (r *Resolver) Stats(ctx context.Context, tenantID string) (*Stats, error) {
	decisions, err := r.CheckAll(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return BuildStats(tenantID, decisions), nil
}

// BuildStats tallies decisions produced by CheckAll.
func BuildStats(tenantID string, decisions []*Access) *Stats {
	st := &Stats{TenantID: tenantID, TotalModules: len(decisions)}
	for _, d := range decisions {
		if d.Subscription != nil {
			st.HasSubscription = true
		}
		if d.Plan != nil && st.PlanID == "" {
			st.PlanID, st.PlanName = d.Plan.ID, d.Plan.Name
		}
		switch d.Reason {
		case ReasonGrantedByPlan:
			st.GrantedByPlan++
		case ReasonOverrideEnabled:
			st.GrantedByOverride++
		case ReasonDisabledByPlan:
			st.DisabledByPlan++
		case ReasonModuleNotProvisioned:
			st.NotProvisioned++
		}
		if d.HasAccess {
			st.Accessible++
		}
	}
	if st.TotalModules > 0 {
		st.AccessPercentage = int(math.Round(float64(st.Accessible) / float64(st.TotalModules) * 100))
	}
	return st
}
