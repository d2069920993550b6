package registry

import (
	"slices"
	"sort"

	"github.com/blueberrycongee/genmux/pkg/provider"
)

// SelectBestProvider picks the provider for a dispatch.
//
// Survivors are online providers that match filter, cost at most maxCost
// (when maxCost > 0), are not excluded and whose gate admits traffic now.
// A surviving preferred provider wins outright; otherwise survivors are
// ordered by ascending cost, which ranks every zero-cost provider ahead of
// paid ones, with ties kept in registration order.
func (r *Registry) SelectBestProvider(filter provider.CapabilityFilter, maxCost float64, preferred string, exclude ...string) (string, bool) {
	survivors := r.candidates(filter, maxCost, exclude...)
	if len(survivors) == 0 {
		return "", false
	}
	if preferred != "" {
		for _, e := range survivors {
			if e.desc.ID == preferred {
				return preferred, true
			}
		}
	}
	return survivors[0].desc.ID, true
}

// candidates returns the eligible providers in selection order, ignoring any
// preference.
func (r *Registry) candidates(filter provider.CapabilityFilter, maxCost float64, exclude ...string) []*entry {
	survivors := make([]*entry, 0, len(r.order))
	for _, e := range r.order {
		if slices.Contains(exclude, e.desc.ID) {
			continue
		}
		if r.current(e).status != provider.StatusOnline {
			continue
		}
		if !filter.Matches(e.desc.Capabilities) {
			continue
		}
		if maxCost > 0 && e.desc.Pricing.CostPerGeneration > maxCost {
			continue
		}
		if !e.gate.Available() {
			continue
		}
		survivors = append(survivors, e)
	}

	sort.SliceStable(survivors, func(i, j int) bool {
		return survivors[i].desc.Pricing.CostPerGeneration < survivors[j].desc.Pricing.CostPerGeneration
	})
	return survivors
}
