// Package openaiimage provides an adapter for OpenAI-compatible image
// generation APIs (/images/generations with b64_json responses).
package openaiimage

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/blueberrycongee/genmux/internal/httputil"
	genErrors "github.com/blueberrycongee/genmux/pkg/errors"
	"github.com/blueberrycongee/genmux/pkg/provider"
)

const (
	// ProviderName is the identifier for this provider type.
	ProviderName = "openai-image"

	// DefaultBaseURL is the default OpenAI API endpoint.
	DefaultBaseURL = "https://api.openai.com/v1"

	// DefaultModel is used when no model is configured.
	DefaultModel = "dall-e-3"

	defaultTimeout = 2 * time.Minute
)

// Provider implements the OpenAI images API adapter.
type Provider struct {
	name    string
	apiKey  string
	baseURL string
	model   string
	headers map[string]string
	client  *http.Client
}

// New creates a new provider with the given options.
func New(opts ...Option) *Provider {
	p := &Provider{
		name:    ProviderName,
		baseURL: DefaultBaseURL,
		model:   DefaultModel,
		headers: make(map[string]string),
		client:  &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(p)
	}
	p.baseURL = strings.TrimSuffix(p.baseURL, "/")
	return p
}

// NewFromConfig creates a provider from a Config struct.
func NewFromConfig(cfg provider.Config) (provider.Provider, error) {
	p := New(
		WithName(cfg.Name),
		WithAPIKey(cfg.APIKey),
		WithBaseURL(cfg.BaseURL),
		WithModel(cfg.Model),
		WithTimeout(cfg.Timeout),
	)
	for k, v := range cfg.Headers {
		p.headers[k] = v
	}
	return p, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return p.name
}

type imagesRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n"`
	Size           string `json:"size,omitempty"`
	ResponseFormat string `json:"response_format"`
	Style          string `json:"style,omitempty"`
}

type imagesResponse struct {
	Data []struct {
		B64JSON       string `json:"b64_json"`
		RevisedPrompt string `json:"revised_prompt,omitempty"`
	} `json:"data"`
}

// Generate creates an image from the prompt. Source images are not supported
// by this endpoint and are rejected as invalid requests.
func (p *Provider) Generate(ctx context.Context, in *provider.Input) (*provider.Output, error) {
	if len(in.Image) > 0 {
		return nil, genErrors.NewInvalidRequestError(p.name, "image-to-image is not supported by this provider")
	}

	prompt := in.Prompt
	if in.NegativePrompt != "" {
		prompt += "\nAvoid: " + in.NegativePrompt
	}
	req := imagesRequest{
		Model:          p.model,
		Prompt:         prompt,
		N:              1,
		ResponseFormat: "b64_json",
		Style:          in.StylePreset,
	}
	if in.Params.Width > 0 && in.Params.Height > 0 {
		req.Size = fmt.Sprintf("%dx%d", in.Params.Width, in.Params.Height)
	}

	headers := map[string]string{"Authorization": "Bearer " + p.apiKey}
	for k, v := range p.headers {
		headers[k] = v
	}

	var resp imagesResponse
	err := httputil.DoJSON(ctx, p.client, httputil.JSONCall{
		Provider: p.name,
		URL:      p.baseURL + "/images/generations",
		Headers:  headers,
		Body:     req,
	}, &resp)
	if err != nil {
		return nil, mapPolicy(err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return nil, genErrors.NewServiceUnavailableError(p.name, "response contained no image data")
	}

	img, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, genErrors.NewServiceUnavailableError(p.name, fmt.Sprintf("decode image: %v", err))
	}

	params := map[string]any{"size": req.Size}
	if rp := resp.Data[0].RevisedPrompt; rp != "" {
		params["revised_prompt"] = rp
	}
	return &provider.Output{
		Image:            img,
		Format:           "png",
		Width:            in.Params.Width,
		Height:           in.Params.Height,
		ModelID:          p.model,
		ActualParameters: params,
	}, nil
}

// mapPolicy turns a safety-system rejection into a content policy error.
func mapPolicy(err error) error {
	genErr, ok := genErrors.As(err)
	if !ok || genErr.Code != genErrors.CodeInvalidRequest {
		return err
	}
	msg := strings.ToLower(genErr.Message)
	if strings.Contains(msg, "safety") || strings.Contains(msg, "content policy") {
		return genErrors.NewContentPolicyError(genErr.Provider, genErr.Message)
	}
	return err
}

// Ready reports whether the adapter is configured with credentials.
func (p *Provider) Ready(context.Context) bool {
	return p.apiKey != "" && p.baseURL != ""
}
