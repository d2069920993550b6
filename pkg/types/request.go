// Package types defines the core data structures for generation requests and results.
package types //nolint:revive // package name is intentional

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	genErrors "github.com/blueberrycongee/genmux/pkg/errors"
)

// Priority is the queue class of a request.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Rank orders priorities for dequeueing; lower ranks run first.
// Unknown values rank as normal.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityLow:
		return 2
	default:
		return 1
	}
}

// Limits for request validation.
const (
	MaxPromptLength = 4000
	MaxSteps        = 150
	MaxGuidance     = 30.0
	MaxDimension    = 4096
)

// Params holds the numeric generation parameters.
type Params struct {
	Strength float64 `json:"strength"`
	Steps    int     `json:"steps"`
	Guidance float64 `json:"guidance"`
	// Seed < 0 means any seed.
	Seed   int64 `json:"seed"`
	Width  int   `json:"width"`
	Height int   `json:"height"`
}

// Validate implements validation.Validatable.
func (p Params) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Strength, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&p.Steps, validation.Min(0), validation.Max(MaxSteps)),
		validation.Field(&p.Guidance, validation.Min(0.0), validation.Max(MaxGuidance)),
		validation.Field(&p.Width, validation.Min(0), validation.Max(MaxDimension)),
		validation.Field(&p.Height, validation.Min(0), validation.Max(MaxDimension)),
	)
}

// CacheControl allows per-request cache behavior customization.
type CacheControl struct {
	TTL     time.Duration `json:"ttl,omitempty"`      // Custom TTL for this request
	NoCache bool          `json:"no_cache,omitempty"` // Skip cache read (force fresh)
	NoStore bool          `json:"no_store,omitempty"` // Skip cache write
	Tags    []string      `json:"tags,omitempty"`     // Invalidation tags for the written entry
}

// GenerationRequest is a single image generation request.
// Image and Mask are opaque, already-normalized bytes supplied by the caller.
type GenerationRequest struct {
	ID             string       `json:"id,omitempty"`
	Image          []byte       `json:"image,omitempty"`
	Mask           []byte       `json:"mask,omitempty"`
	Prompt         string       `json:"prompt"`
	NegativePrompt string       `json:"negative_prompt,omitempty"`
	StylePreset    string       `json:"style_preset,omitempty"`
	Params         Params       `json:"params"`
	Format         string       `json:"format,omitempty"`
	Provider       string       `json:"provider,omitempty"`
	Priority       Priority     `json:"priority,omitempty"`
	MaxCost        float64      `json:"max_cost,omitempty"`
	CacheControl   CacheControl `json:"cache_control,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// Validate checks the request and returns a validation GenerationError.
func (r *GenerationRequest) Validate() error {
	if r == nil {
		return genErrors.NewValidationError("request is nil")
	}
	err := validation.ValidateStruct(r,
		validation.Field(&r.Prompt, validation.Required, validation.Length(1, MaxPromptLength)),
		validation.Field(&r.NegativePrompt, validation.Length(0, MaxPromptLength)),
		validation.Field(&r.Params),
		validation.Field(&r.Format, validation.In("png", "jpeg", "jpg")),
		validation.Field(&r.Priority, validation.In(PriorityHigh, PriorityNormal, PriorityLow)),
		validation.Field(&r.MaxCost, validation.Min(0.0)),
		validation.Field(&r.Mask, validation.When(len(r.Mask) > 0, validation.By(requireImage(r.Image)))),
	)
	if err != nil {
		return genErrors.NewValidationError(err.Error())
	}
	return nil
}

func requireImage(image []byte) validation.RuleFunc {
	return func(any) error {
		if len(image) == 0 {
			return validation.NewError("validation_mask_without_image", "a mask requires a source image")
		}
		return nil
	}
}

// Normalize fills defaults in place. It must run after Validate.
func (r *GenerationRequest) Normalize(now time.Time) {
	if r.Priority == "" {
		r.Priority = PriorityNormal
	}
	if r.Format == "jpg" {
		r.Format = "jpeg"
	}
	if r.Format == "" {
		r.Format = "png"
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
}

// Snapshot returns a copy without the image and mask bytes, for metadata.
func (r *GenerationRequest) Snapshot() *GenerationRequest {
	if r == nil {
		return nil
	}
	c := *r
	c.Image = nil
	c.Mask = nil
	if len(r.CacheControl.Tags) > 0 {
		c.CacheControl.Tags = append([]string(nil), r.CacheControl.Tags...)
	}
	return &c
}
