package types //nolint:revive // package name is intentional

import (
	"fmt"
	"time"

	genErrors "github.com/blueberrycongee/genmux/pkg/errors"
)

// Status is the lifecycle state of a generation.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// CanTransition reports whether moving from s to next is legal.
// The only legal paths are queued -> processing -> {completed, failed} and
// queued -> cancelled; a processing generation cannot be cancelled.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusQueued:
		return next == StatusProcessing || next == StatusCancelled
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

// Payload is the generated image.
type Payload struct {
	Image  []byte `json:"image"`
	Format string `json:"format"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// ResultMetadata describes how a result was produced.
type ResultMetadata struct {
	Provider         string         `json:"provider,omitempty"`
	ModelID          string         `json:"model_id,omitempty"`
	ActualParameters map[string]any `json:"actual_parameters,omitempty"`
	ProcessingTime   time.Duration  `json:"processing_time"`
	Cost             float64        `json:"cost"`
	CacheHit         bool           `json:"cache_hit"`
	QualityScore     float64        `json:"quality_score"`
	Attempts         int            `json:"attempts,omitempty"`
	Fingerprint      string         `json:"fingerprint,omitempty"`
}

// GenerationResult is the observable state of one caller's generation.
type GenerationResult struct {
	ID          string                     `json:"id"`
	RequestID   string                     `json:"request_id"`
	Status      Status                     `json:"status"`
	Payload     *Payload                   `json:"payload,omitempty"`
	Metadata    ResultMetadata             `json:"metadata"`
	Error       *genErrors.GenerationError `json:"error,omitempty"`
	CreatedAt   time.Time                  `json:"created_at"`
	UpdatedAt   time.Time                  `json:"updated_at"`
	CompletedAt *time.Time                 `json:"completed_at,omitempty"`
}

// NewResult creates a result in the queued state.
func NewResult(id, requestID string, now time.Time) *GenerationResult {
	return &GenerationResult{
		ID:        id,
		RequestID: requestID,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Transition moves the result to next, rejecting illegal transitions.
func (r *GenerationResult) Transition(next Status, now time.Time) error {
	if !r.Status.CanTransition(next) {
		return fmt.Errorf("illegal status transition %s -> %s", r.Status, next)
	}
	r.Status = next
	r.UpdatedAt = now
	if next.IsTerminal() {
		t := now
		r.CompletedAt = &t
	}
	return nil
}

// Clone returns a copy that shares the payload bytes but not the maps or pointers
// a caller could mutate.
func (r *GenerationResult) Clone() *GenerationResult {
	if r == nil {
		return nil
	}
	c := *r
	if r.Payload != nil {
		p := *r.Payload
		c.Payload = &p
	}
	if r.Metadata.ActualParameters != nil {
		c.Metadata.ActualParameters = make(map[string]any, len(r.Metadata.ActualParameters))
		for k, v := range r.Metadata.ActualParameters {
			c.Metadata.ActualParameters[k] = v
		}
	}
	if r.Error != nil {
		e := *r.Error
		c.Error = &e
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
