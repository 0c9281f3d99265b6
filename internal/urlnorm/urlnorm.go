package urlnorm

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/rawblock/urlscan-engine/pkg/models"
)

// URL Validator & Normalizer
//
// Stage 0.1 of the scan pipeline. Parses and canonicalizes the submitted
// URL so that caching, tombstoning, and every downstream analyzer key off
// one stable form. Canonicalization is idempotent:
//
//	Canonicalize(Canonicalize(u)) == Canonicalize(u)
//
// Private-network targets (RFC1918, loopback, link-local, unspecified,
// "localhost") are rejected here — nothing downstream ever observes them.

// ValidationError is the only fatal error kind the engine returns to callers.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

// Validate parses, normalizes, and hashes a raw URL string.
func Validate(raw string) (*models.URLComponents, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, &ValidationError{Reason: "empty URL"}
	}
	original := raw

	// Scheme-less input is treated as http. A bare "//host" form would parse
	// as a relative reference, so normalize before parsing.
	if !strings.Contains(raw, "://") {
		raw = "http://" + strings.TrimPrefix(raw, "//")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, &ValidationError{Reason: fmt.Sprintf("unparseable URL: %v", err)}
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, &ValidationError{Reason: "unsupported scheme: " + u.Scheme}
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return nil, &ValidationError{Reason: "missing hostname"}
	}

	if reason := privateNetworkReason(host); reason != "" {
		return nil, &ValidationError{Reason: reason}
	}

	canonical := canonicalFrom(scheme, host, u)

	domain, subdomain, tld := splitDomain(host)

	sum := sha256.Sum256([]byte(canonical))

	comps := &models.URLComponents{
		Original:  original,
		Canonical: canonical,
		Protocol:  scheme,
		Hostname:  host,
		Domain:    domain,
		Subdomain: subdomain,
		TLD:       tld,
		Port:      nonDefaultPort(scheme, u.Port()),
		Path:      u.Path,
		Query:     u.RawQuery,
		Fragment:  u.Fragment,
		Hash:      hex.EncodeToString(sum[:]),
	}
	return comps, nil
}

// Canonicalize returns the canonical form of a raw URL, failing on the same
// inputs Validate fails on.
func Canonicalize(raw string) (string, error) {
	comps, err := Validate(raw)
	if err != nil {
		return "", err
	}
	return comps.Canonical, nil
}

// HashURL returns the SHA-256 hex digest of the canonical form. This is the
// key used for caching and tombstoning.
func HashURL(raw string) (string, error) {
	comps, err := Validate(raw)
	if err != nil {
		return "", err
	}
	return comps.Hash, nil
}

// canonicalFrom rebuilds the canonical string: lowercase host, no "www.",
// no default port, no trailing slash on non-root paths, query parameters
// sorted lexicographically, fragment dropped.
func canonicalFrom(scheme, host string, u *url.URL) string {
	host = strings.TrimPrefix(host, "www.")

	port := nonDefaultPort(scheme, u.Port())

	// Strip every trailing slash, not just one, so re-canonicalizing the
	// output is a fixed point and equivalent URLs share one hash.
	path := strings.TrimRight(u.EscapedPath(), "/")
	if path == "" {
		path = "/"
	}

	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	b.WriteString(host)
	if port != "" {
		b.WriteString(":")
		b.WriteString(port)
	}
	b.WriteString(path)

	if q := sortedQuery(u.RawQuery); q != "" {
		b.WriteString("?")
		b.WriteString(q)
	}
	return b.String()
}

// sortedQuery re-encodes a raw query with keys (and per-key values) in
// lexicographic order so equivalent URLs share one canonical form.
func sortedQuery(raw string) string {
	if raw == "" {
		return ""
	}
	vals, err := url.ParseQuery(raw)
	if err != nil {
		return raw // keep as-is rather than dropping evidence
	}
	keys := make([]string, 0, len(vals))
	for k := range vals {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		vs := vals[k]
		sort.Strings(vs)
		for _, v := range vs {
			if v == "" {
				parts = append(parts, url.QueryEscape(k))
			} else {
				parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(v))
			}
		}
	}
	return strings.Join(parts, "&")
}

// nonDefaultPort returns the port only when it differs from the scheme default.
func nonDefaultPort(scheme, port string) string {
	if port == "" {
		return ""
	}
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		return ""
	}
	return port
}

// splitDomain derives eTLD+1, subdomain, and TLD from a hostname.
// IP literals yield the literal as domain with empty TLD.
func splitDomain(host string) (domain, subdomain, tld string) {
	if ip := net.ParseIP(host); ip != nil {
		return host, "", ""
	}

	etldPlusOne, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		// Single-label or unlisted suffix: treat the whole host as the domain.
		parts := strings.Split(host, ".")
		if len(parts) > 1 {
			return host, "", parts[len(parts)-1]
		}
		return host, "", ""
	}

	domain = etldPlusOne
	if idx := strings.Index(domain, "."); idx >= 0 {
		tld = domain[idx+1:]
	}
	if host != domain {
		subdomain = strings.TrimSuffix(host, "."+domain)
	}
	// Strip a bare "www" marker; canonical host drops it anyway.
	if subdomain == "www" {
		subdomain = ""
	}
	return domain, subdomain, tld
}

// privateNetworkReason returns a rejection reason for hosts the engine must
// never probe, or "" when the host is scannable.
func privateNetworkReason(host string) string {
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return "private network target: localhost"
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return ""
	}
	switch {
	case ip.IsLoopback():
		return "private network target: loopback address"
	case ip.IsPrivate():
		return "private network target: RFC1918 address"
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return "private network target: link-local address"
	case ip.IsUnspecified():
		return "private network target: unspecified address"
	}
	return ""
}
