// security.go sets protective response headers on owner and DApp routes. The relay
// serves JSON only, so the defaults forbid framing, sniffing, and caching.
package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// SecurityHeadersConfig selects the protective headers written on every response.
// Empty values omit the corresponding header.
type SecurityHeadersConfig struct {
	// HSTSMaxAge enables Strict-Transport-Security when positive
	HSTSMaxAge            time.Duration
	HSTSIncludeSubdomains bool
	FrameOptions          string
	ContentSecurityPolicy string
	ReferrerPolicy        string
	// CrossOriginResourcePolicy defaults to same-origin
	CrossOriginResourcePolicy string
	// NoStore marks responses uncacheable. Tokens and signatures must never be cached.
	NoStore bool
}

// APISecurityHeadersConfig returns the headers for owner routes
func APISecurityHeadersConfig() SecurityHeadersConfig {
	return SecurityHeadersConfig{
		HSTSMaxAge:                365 * 24 * time.Hour,
		HSTSIncludeSubdomains:     true,
		FrameOptions:              "DENY",
		ContentSecurityPolicy:     "default-src 'none'; frame-ancestors 'none'",
		ReferrerPolicy:            "no-referrer",
		CrossOriginResourcePolicy: "same-origin",
		NoStore:                   true,
	}
}

// DAppSecurityHeadersConfig returns the headers for DApp routes, which browsers call
// from third-party origins.
func DAppSecurityHeadersConfig() SecurityHeadersConfig {
	cfg := APISecurityHeadersConfig()
	cfg.CrossOriginResourcePolicy = "cross-origin"
	return cfg
}

// Header renders cfg as a header set
func (cfg SecurityHeadersConfig) Header() http.Header {
	h := http.Header{}
	set := func(k, v string) {
		if v != "" {
			h.Set(k, v)
		}
	}

	if cfg.HSTSMaxAge > 0 {
		hsts := fmt.Sprintf("max-age=%d", int64(cfg.HSTSMaxAge/time.Second))
		if cfg.HSTSIncludeSubdomains {
			hsts += "; includeSubDomains"
		}
		h.Set("Strict-Transport-Security", hsts)
	}
	set("X-Frame-Options", cfg.FrameOptions)
	set("Content-Security-Policy", cfg.ContentSecurityPolicy)
	set("Referrer-Policy", cfg.ReferrerPolicy)
	if cfg.NoStore {
		h.Set("Cache-Control", "no-store")
	}

	corp := cfg.CrossOriginResourcePolicy
	if corp == "" {
		corp = "same-origin"
	}
	h.Set("Cross-Origin-Resource-Policy", corp)
	h.Set("Cross-Origin-Opener-Policy", "same-origin")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Permitted-Cross-Domain-Policies", "none")
	return h
}

// SecurityHeadersMiddleware writes cfg's headers before the handler runs
func SecurityHeadersMiddleware(cfg SecurityHeadersConfig) gin.HandlerFunc {
	headers := cfg.Header()
	return func(c *gin.Context) {
		dst := c.Writer.Header()
		for k, v := range headers {
			dst[k] = v
		}
		c.Next()
	}
}
