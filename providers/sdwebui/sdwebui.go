// Package sdwebui provides the Stable Diffusion WebUI (AUTOMATIC1111) adapter.
// Text-only requests use /sdapi/v1/txt2img; requests with a source image use
// /sdapi/v1/img2img.
package sdwebui

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/blueberrycongee/genmux/internal/httputil"
	genErrors "github.com/blueberrycongee/genmux/pkg/errors"
	"github.com/blueberrycongee/genmux/pkg/provider"
)

const (
	// ProviderName is the identifier for this provider type.
	ProviderName = "sdwebui"

	// DefaultBaseURL is the default WebUI endpoint.
	DefaultBaseURL = "http://127.0.0.1:7860"

	defaultSteps    = 20
	defaultCfgScale = 7.0
	defaultSize     = 512
	defaultSampler  = "Euler a"
	defaultTimeout  = 2 * time.Minute
	readyTimeout    = 2 * time.Second
)

// Provider implements the WebUI API adapter.
type Provider struct {
	name    string
	baseURL string
	model   string
	sampler string
	headers map[string]string
	client  *http.Client
}

// New creates a new WebUI provider with the given options.
func New(opts ...Option) *Provider {
	p := &Provider{
		name:    ProviderName,
		baseURL: DefaultBaseURL,
		sampler: defaultSampler,
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
		WithBaseURL(cfg.BaseURL),
		WithModel(cfg.Model),
		WithTimeout(cfg.Timeout),
	)
	if cfg.APIKey != "" {
		p.headers["Authorization"] = "Bearer " + cfg.APIKey
	}
	for k, v := range cfg.Headers {
		p.headers[k] = v
	}
	return p, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return p.name
}

type generateRequest struct {
	Prompt            string         `json:"prompt"`
	NegativePrompt    string         `json:"negative_prompt,omitempty"`
	Styles            []string       `json:"styles,omitempty"`
	Width             int            `json:"width"`
	Height            int            `json:"height"`
	Steps             int            `json:"steps"`
	CfgScale          float64        `json:"cfg_scale"`
	Seed              int64          `json:"seed"`
	SamplerName       string         `json:"sampler_name"`
	BatchSize         int            `json:"batch_size"`
	NIter             int            `json:"n_iter"`
	DenoisingStrength float64        `json:"denoising_strength,omitempty"`
	InitImages        []string       `json:"init_images,omitempty"`
	Mask              string         `json:"mask,omitempty"`
	OverrideSettings  map[string]any `json:"override_settings,omitempty"`
}

type generateResponse struct {
	Images []string `json:"images"`
	Info   string   `json:"info"`
}

type generateInfo struct {
	Seed        int64   `json:"seed"`
	Steps       int     `json:"steps"`
	CfgScale    float64 `json:"cfg_scale"`
	SamplerName string  `json:"sampler_name"`
	SDModelName string  `json:"sd_model_name"`
}

// Generate runs txt2img or img2img.
func (p *Provider) Generate(ctx context.Context, in *provider.Input) (*provider.Output, error) {
	req := p.buildRequest(in)

	endpoint := "/sdapi/v1/txt2img"
	if len(req.InitImages) > 0 {
		endpoint = "/sdapi/v1/img2img"
	}

	var resp generateResponse
	err := httputil.DoJSON(ctx, p.client, httputil.JSONCall{
		Provider: p.name,
		URL:      p.baseURL + endpoint,
		Headers:  p.headers,
		Body:     req,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Images) == 0 {
		return nil, genErrors.NewServiceUnavailableError(p.name, "backend returned no images")
	}

	img, err := base64.StdEncoding.DecodeString(stripDataURL(resp.Images[0]))
	if err != nil {
		return nil, genErrors.NewServiceUnavailableError(p.name, fmt.Sprintf("decode image: %v", err))
	}

	out := &provider.Output{
		Image:   img,
		Format:  "png",
		Width:   req.Width,
		Height:  req.Height,
		ModelID: p.model,
		ActualParameters: map[string]any{
			"steps":     req.Steps,
			"cfg_scale": req.CfgScale,
			"seed":      req.Seed,
			"sampler":   req.SamplerName,
		},
	}

	var info generateInfo
	if resp.Info != "" && json.Unmarshal([]byte(resp.Info), &info) == nil {
		out.ActualParameters["seed"] = info.Seed
		if info.SDModelName != "" {
			out.ModelID = info.SDModelName
		}
	}
	if out.ModelID == "" {
		out.ModelID = ProviderName
	}
	return out, nil
}

func (p *Provider) buildRequest(in *provider.Input) *generateRequest {
	params := in.Params
	req := &generateRequest{
		Prompt:         in.Prompt,
		NegativePrompt: in.NegativePrompt,
		Width:          orDefault(params.Width, defaultSize),
		Height:         orDefault(params.Height, defaultSize),
		Steps:          orDefault(params.Steps, defaultSteps),
		CfgScale:       params.Guidance,
		Seed:           params.Seed,
		SamplerName:    p.sampler,
		BatchSize:      1,
		NIter:          1,
	}
	if req.CfgScale <= 0 {
		req.CfgScale = defaultCfgScale
	}
	if req.Seed < 0 {
		req.Seed = -1
	}
	if in.StylePreset != "" {
		req.Styles = []string{in.StylePreset}
	}
	if p.model != "" {
		req.OverrideSettings = map[string]any{"sd_model_checkpoint": p.model}
	}
	if len(in.Image) > 0 {
		req.InitImages = []string{base64.StdEncoding.EncodeToString(in.Image)}
		req.DenoisingStrength = params.Strength
		if len(in.Mask) > 0 {
			req.Mask = base64.StdEncoding.EncodeToString(in.Mask)
		}
	}
	return req
}

// Ready checks that the WebUI answers its options endpoint.
func (p *Provider) Ready(ctx context.Context) bool {
	if p.baseURL == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()

	err := httputil.DoJSON(ctx, p.client, httputil.JSONCall{
		Provider: p.name,
		Method:   http.MethodGet,
		URL:      p.baseURL + "/sdapi/v1/options",
		Headers:  p.headers,
	}, nil)
	return err == nil
}

func stripDataURL(s string) string {
	if i := strings.Index(s, ","); i >= 0 && strings.HasPrefix(s, "data:") {
		return s[i+1:]
	}
	return s
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
