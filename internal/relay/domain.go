package relay

import (
	"net"
	"net/url"
	"strings"

	"github.com/deabakjj/MYCREATA1-sub001/internal/db/models"
)

// NormalizeHost reduces a URL or bare host to a lowercase hostname without port or
// trailing dot. It returns "" when no host can be extracted.
func NormalizeHost(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || s == "null" {
		return ""
	}
	if !strings.Contains(s, "://") {
		s = "//" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return ""
	}
	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" || strings.ContainsAny(host, "/?#@ ") {
		return ""
	}
	return host
}

// OriginHost returns the host a browser request came from, preferring the Origin
// header over the Referer header.
func OriginHost(origin, referer string) string {
	if h := NormalizeHost(origin); h != "" {
		return h
	}
	return NormalizeHost(referer)
}

// DomainMatches reports whether requestHost is the registered DApp domain or one of
// its subdomains. Matching is on label boundaries: "evil-app.com" does not match
// "app.com", and neither does "app.com.evil.net".
func DomainMatches(requestHost, dappDomain string) bool {
	r := NormalizeHost(requestHost)
	d := NormalizeHost(dappDomain)
	if r == "" || d == "" {
		return false
	}
	if r == d {
		return true
	}
	// IP literals only ever match exactly.
	if net.ParseIP(d) != nil {
		return false
	}
	return strings.HasSuffix(r, "."+d)
}

// ValidateOrigin fails with an authorization error unless originHost belongs to the
// DApp the connection was granted to.
func ValidateOrigin(originHost string, conn *models.Connection) error {
	if originHost == "" {
		return authorizationError("request origin is missing")
	}
	if !DomainMatches(originHost, conn.DApp.Domain) {
		return authorizationError("request origin does not match the connected DApp")
	}
	return nil
}
