// Package genmux orchestrates image generation across many providers as a
// Go library.
//
// A request is fingerprinted and looked up in a content-addressed cache. A
// miss enters a bounded priority queue that collapses identical in-flight
// requests, then dispatches to the cheapest eligible provider with failover
// to the next candidate.
//
// Basic usage:
//
//	client, err := genmux.New(
//	    genmux.WithProvider(genmux.ProviderDescriptor{
//	        ID:      "local",
//	        Pricing: genmux.Pricing{CostPerGeneration: 0},
//	    }, genmux.ProviderConfig{Type: "sdwebui", BaseURL: "http://localhost:7860"}),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	res, err := client.Generate(ctx, &genmux.GenerationRequest{
//	    Prompt: "a red circle",
//	})
package genmux

import (
	"github.com/blueberrycongee/genmux/pkg/errors"
	"github.com/blueberrycongee/genmux/pkg/provider"
	"github.com/blueberrycongee/genmux/pkg/types"
)

// Version is the current version of genmux.
const Version = "0.3.0"

// Re-export core types for convenience.
type (
	// GenerationRequest is a single image generation request.
	GenerationRequest = types.GenerationRequest

	// GenerationResult is the observable state of a generation.
	GenerationResult = types.GenerationResult

	// Params holds numeric generation parameters.
	Params = types.Params

	// Payload is the generated image.
	Payload = types.Payload

	// ResultMetadata carries provenance of a result.
	ResultMetadata = types.ResultMetadata

	// Priority is a queue priority class.
	Priority = types.Priority

	// CacheControl customizes cache behavior per request.
	CacheControl = types.CacheControl

	// Status is a generation lifecycle status.
	Status = types.Status
)

// Re-export provider types.
type (
	// Provider is the adapter contract.
	Provider = provider.Provider

	// ProviderDescriptor is the registry record of a provider.
	ProviderDescriptor = provider.Descriptor

	// ProviderConfig contains adapter construction settings.
	ProviderConfig = provider.Config

	// Capabilities advertises what a provider can produce.
	Capabilities = provider.Capabilities

	// Pricing is a provider's advertised cost.
	Pricing = provider.Pricing

	// RateLimits bounds traffic to a provider.
	RateLimits = provider.RateLimits
)

// GenerationError is the structured failure type.
type GenerationError = errors.GenerationError

// Priority classes.
const (
	PriorityHigh   = types.PriorityHigh
	PriorityNormal = types.PriorityNormal
	PriorityLow    = types.PriorityLow
)

// Statuses.
const (
	StatusQueued     = types.StatusQueued
	StatusProcessing = types.StatusProcessing
	StatusCompleted  = types.StatusCompleted
	StatusFailed     = types.StatusFailed
	StatusCancelled  = types.StatusCancelled
)
