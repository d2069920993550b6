package sdwebui

import "time"

// Option configures the WebUI provider.
type Option func(*Provider)

// WithName overrides the provider name.
func WithName(name string) Option {
	return func(p *Provider) {
		if name != "" {
			p.name = name
		}
	}
}

// WithBaseURL sets the base URL.
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		if url != "" {
			p.baseURL = url
		}
	}
}

// WithModel pins the checkpoint used for generation.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithSampler sets the sampler name.
func WithSampler(sampler string) Option {
	return func(p *Provider) {
		if sampler != "" {
			p.sampler = sampler
		}
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.client.Timeout = d
		}
	}
}

// WithHeader adds a custom header.
func WithHeader(key, value string) Option {
	return func(p *Provider) {
		p.headers[key] = value
	}
}
