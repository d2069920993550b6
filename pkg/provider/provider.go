// Package provider defines the public interface for image generation adapters.
// Each backend (Stable Diffusion WebUI, OpenAI images, the composite aggregator)
// implements this interface so the orchestrator can select, dispatch and fail
// over without knowing the backend's calling convention.
package provider

import (
	"context"
	"slices"
	"time"

	"github.com/blueberrycongee/genmux/pkg/types"
)

// Provider defines the dispatch contract every adapter implements.
type Provider interface {
	// Name returns the provider identifier (e.g., "sdwebui", "free-pool").
	Name() string

	// Generate produces an image. Failures should be *errors.GenerationError
	// values; anything else is wrapped as service_unavailable.
	Generate(ctx context.Context, in *Input) (*Output, error)

	// Ready is a cheap liveness check. It must not perform a full generation.
	Ready(ctx context.Context) bool
}

// Status is the observed availability of a provider.
type Status string

const (
	StatusOnline      Status = "online"
	StatusOffline     Status = "offline"
	StatusMaintenance Status = "maintenance"
	StatusRateLimited Status = "rate_limited"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusOnline, StatusOffline, StatusMaintenance, StatusRateLimited:
		return true
	default:
		return false
	}
}

// Capabilities advertises what a provider can produce.
type Capabilities struct {
	MaxWidth     int      `json:"max_width" yaml:"max_width"`
	MaxHeight    int      `json:"max_height" yaml:"max_height"`
	Formats      []string `json:"formats" yaml:"formats"`
	ImageToImage bool     `json:"image_to_image" yaml:"image_to_image"`
	Inpainting   bool     `json:"inpainting" yaml:"inpainting"`
}

// Pricing is the advertised per-generation cost.
type Pricing struct {
	CostPerGeneration float64 `json:"cost_per_generation" yaml:"cost_per_generation"`
	FreeQuota         int     `json:"free_quota,omitempty" yaml:"free_quota"`
}

// RateLimits bounds traffic to a provider. Zero means unlimited.
type RateLimits struct {
	PerMinute     int `json:"per_minute,omitempty" yaml:"per_minute"`
	PerHour       int `json:"per_hour,omitempty" yaml:"per_hour"`
	MaxConcurrent int `json:"max_concurrent,omitempty" yaml:"max_concurrent"`
}

// Descriptor is the registry record of a provider.
type Descriptor struct {
	ID              string       `json:"id"`
	DisplayName     string       `json:"display_name"`
	Type            string       `json:"type"`
	Capabilities    Capabilities `json:"capabilities"`
	Pricing         Pricing      `json:"pricing"`
	RateLimits      RateLimits   `json:"rate_limits"`
	Status          Status       `json:"status"`
	StatusUpdatedAt time.Time    `json:"status_updated_at"`
}

// CapabilityFilter is the set of requirements a request places on a provider.
// Zero fields impose no requirement.
type CapabilityFilter struct {
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
	Format       string `json:"format,omitempty"`
	ImageToImage bool   `json:"image_to_image,omitempty"`
	Inpainting   bool   `json:"inpainting,omitempty"`
}

// Matches reports whether c satisfies the filter.
func (f CapabilityFilter) Matches(c Capabilities) bool {
	if f.Width > 0 && c.MaxWidth > 0 && f.Width > c.MaxWidth {
		return false
	}
	if f.Height > 0 && c.MaxHeight > 0 && f.Height > c.MaxHeight {
		return false
	}
	if f.Format != "" && len(c.Formats) > 0 && !slices.Contains(c.Formats, f.Format) {
		return false
	}
	if f.ImageToImage && !c.ImageToImage {
		return false
	}
	if f.Inpainting && !c.Inpainting {
		return false
	}
	return true
}

// FilterFor derives the capability filter a request needs.
func FilterFor(req *types.GenerationRequest) CapabilityFilter {
	return CapabilityFilter{
		Width:        req.Params.Width,
		Height:       req.Params.Height,
		Format:       req.Format,
		ImageToImage: len(req.Image) > 0,
		Inpainting:   len(req.Mask) > 0,
	}
}

// Input is what an adapter receives for one dispatch.
type Input struct {
	Image          []byte       `json:"-"`
	Mask           []byte       `json:"-"`
	Prompt         string       `json:"prompt"`
	NegativePrompt string       `json:"negative_prompt,omitempty"`
	StylePreset    string       `json:"style_preset,omitempty"`
	Params         types.Params `json:"params"`
	Format         string       `json:"format"`
}

// InputFrom builds the adapter input for a request.
func InputFrom(req *types.GenerationRequest) *Input {
	return &Input{
		Image:          req.Image,
		Mask:           req.Mask,
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		StylePreset:    req.StylePreset,
		Params:         req.Params,
		Format:         req.Format,
	}
}

// Output is a successful adapter result.
type Output struct {
	Image            []byte         `json:"-"`
	Format           string         `json:"format"`
	Width            int            `json:"width"`
	Height           int            `json:"height"`
	ModelID          string         `json:"model_id"`
	ActualParameters map[string]any `json:"actual_parameters,omitempty"`
}

// Config contains adapter construction settings.
type Config struct {
	Name    string
	Type    string
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	Headers map[string]string
	// Backends configures the members of a composite provider, in priority order.
	Backends []Config
}

// Factory creates provider instances from configuration.
type Factory func(cfg Config) (Provider, error)
