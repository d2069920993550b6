package main

import (
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/blueberrycongee/genmux/internal/config"
)

// originPattern matches either one exact origin or, for entries written as
// "https://*.example.com", any subdomain of example.com on that scheme. The
// bare apex is not matched by a wildcard entry.
type originPattern struct {
	exact  string
	scheme string
	suffix string
}

func compileOrigin(raw string) originPattern {
	raw = strings.TrimSuffix(strings.TrimSpace(raw), "/")
	scheme, host, ok := strings.Cut(raw, "://")
	if ok && strings.HasPrefix(host, "*.") {
		return originPattern{scheme: scheme, suffix: host[1:]}
	}
	return originPattern{exact: raw}
}

func (p originPattern) match(origin string) bool {
	if p.exact != "" {
		return p.exact == "*" || p.exact == origin
	}
	scheme, host, ok := strings.Cut(origin, "://")
	return ok && scheme == p.scheme && len(host) > len(p.suffix) && strings.HasSuffix(host, p.suffix)
}

// corsPolicy is CORSConfig resolved once at startup.
type corsPolicy struct {
	allow       []originPattern
	deny        []originPattern
	allowAll    bool
	credentials bool
	methods     []string

	methodsHeader string
	headersHeader string
	exposeHeader  string
	maxAge        string
}

func newCORSPolicy(cfg config.CORSConfig) *corsPolicy {
	p := &corsPolicy{
		allowAll:      cfg.AllowAllOrigins,
		credentials:   cfg.AllowCredentials,
		methodsHeader: strings.Join(cfg.AllowMethods, ", "),
		headersHeader: strings.Join(cfg.AllowHeaders, ", "),
		exposeHeader:  strings.Join(cfg.ExposeHeaders, ", "),
	}
	for _, m := range cfg.AllowMethods {
		p.methods = append(p.methods, strings.ToUpper(m))
	}
	for _, o := range cfg.Origins.Allowlist {
		p.allow = append(p.allow, compileOrigin(o))
	}
	for _, o := range cfg.Origins.Denylist {
		p.deny = append(p.deny, compileOrigin(o))
	}
	if cfg.MaxAge > 0 {
		p.maxAge = strconv.FormatInt(int64(cfg.MaxAge.Seconds()), 10)
	}
	return p
}

func matchAny(patterns []originPattern, origin string) bool {
	return slices.ContainsFunc(patterns, func(p originPattern) bool { return p.match(origin) })
}

func (p *corsPolicy) allowed(origin string) bool {
	if matchAny(p.deny, origin) {
		return false
	}
	return p.allowAll || matchAny(p.allow, origin)
}

// methodAllowed reports whether a preflight may proceed. An empty method list
// leaves method checks to the route mux.
func (p *corsPolicy) methodAllowed(method string) bool {
	if method == "" || len(p.methods) == 0 {
		return true
	}
	return slices.Contains(p.methods, strings.ToUpper(method))
}

func (p *corsPolicy) writeHeaders(h http.Header, origin string) {
	if p.allowAll && !p.credentials && len(p.allow) == 0 {
		h.Set("Access-Control-Allow-Origin", "*")
	} else {
		h.Add("Vary", "Origin")
		h.Set("Access-Control-Allow-Origin", origin)
	}
	if p.credentials {
		h.Set("Access-Control-Allow-Credentials", "true")
	}
	for name, value := range map[string]string{
		"Access-Control-Allow-Methods":  p.methodsHeader,
		"Access-Control-Allow-Headers":  p.headersHeader,
		"Access-Control-Expose-Headers": p.exposeHeader,
		"Access-Control-Max-Age":        p.maxAge,
	} {
		if value != "" {
			h.Set(name, value)
		}
	}
}

func corsMiddleware(cfg config.CORSConfig, next http.Handler) http.Handler {
	if !cfg.Enabled {
		return next
	}
	policy := newCORSPolicy(cfg)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}
		if !policy.allowed(origin) {
			w.WriteHeader(http.StatusForbidden)
			return
		}

		preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
		if preflight && !policy.methodAllowed(r.Header.Get("Access-Control-Request-Method")) {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		policy.writeHeaders(w.Header(), origin)
		if preflight {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
