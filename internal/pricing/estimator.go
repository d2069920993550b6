// Package pricing estimates the cost of a generation from advertised
// per-generation provider prices.
package pricing

import (
	"github.com/blueberrycongee/genmux/internal/registry"
	genErrors "github.com/blueberrycongee/genmux/pkg/errors"
	"github.com/blueberrycongee/genmux/pkg/provider"
	"github.com/blueberrycongee/genmux/pkg/types"
)

// Currency of every advertised price.
const Currency = "USD"

// Estimate is the cost a request would incur.
type Estimate struct {
	Provider  string  `json:"provider"`
	Cost      float64 `json:"cost"`
	FreeQuota int     `json:"free_quota,omitempty"`
	Currency  string  `json:"currency"`
	// Selected is true when no provider was requested and the estimate uses
	// the provider selection would pick right now.
	Selected bool `json:"selected"`
}

// Estimator looks up advertised prices. It has no dynamic pricing model.
type Estimator struct {
	registry *registry.Registry
}

// NewEstimator creates an estimator over reg.
func NewEstimator(reg *registry.Registry) *Estimator {
	return &Estimator{registry: reg}
}

// EstimateCost returns the cost of the requested provider, or of the provider
// selection would pick when none is requested or the requested id is unknown.
func (e *Estimator) EstimateCost(req *types.GenerationRequest) (Estimate, error) {
	if req.Provider != "" {
		if d, ok := e.registry.Describe(req.Provider); ok {
			return estimateFor(d, false), nil
		}
	}

	id, ok := e.registry.SelectBestProvider(provider.FilterFor(req), req.MaxCost, "")
	if !ok {
		return Estimate{}, genErrors.NewNotFoundError("no eligible provider for this request")
	}
	d, _ := e.registry.Describe(id)
	return estimateFor(d, true), nil
}

func estimateFor(d provider.Descriptor, selected bool) Estimate {
	return Estimate{
		Provider:  d.ID,
		Cost:      d.Pricing.CostPerGeneration,
		FreeQuota: d.Pricing.FreeQuota,
		Currency:  Currency,
		Selected:  selected,
	}
}
