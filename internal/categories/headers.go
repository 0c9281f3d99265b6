package categories

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rawblock/urlscan-engine/pkg/models"
)

// Security headers and redirect-chain analyzers: both read only the probe's
// HTTP capture, so they run whenever an HTTP response exists.

// ─── Security Headers ───

type headersAnalyzer struct {
	base
}

var serverVersionRe = regexp.MustCompile(`[a-zA-Z]/\d`)

func (a *headersAnalyzer) Analyze(sc *models.ScanContext) *Report {
	r := &Report{}
	if !sc.Reachability.HTTP.OK {
		r.skip()
		return r
	}

	if sc.URL.Protocol == "https" {
		if sc.Header("Strict-Transport-Security") == "" {
			r.hit("headers_no_hsts", "Missing HSTS", models.SeverityMedium, 6,
				"no Strict-Transport-Security header", nil)
		} else {
			r.miss()
		}
	} else {
		r.skip() // HSTS is meaningless over plain HTTP
	}

	csp := sc.Header("Content-Security-Policy")
	if csp == "" {
		r.hit("headers_no_csp", "Missing Content-Security-Policy", models.SeverityMedium, 6,
			"no CSP header", nil)
	} else {
		r.miss()
	}

	if sc.Header("X-Frame-Options") == "" && !strings.Contains(strings.ToLower(csp), "frame-ancestors") {
		r.hit("headers_no_frame_options", "Clickjacking unprotected", models.SeverityMedium, 5,
			"neither X-Frame-Options nor frame-ancestors set", nil)
	} else {
		r.miss()
	}

	if sc.Header("X-Content-Type-Options") == "" {
		r.hit("headers_no_nosniff", "Missing X-Content-Type-Options", models.SeverityLow, 4,
			"MIME sniffing not disabled", nil)
	} else {
		r.miss()
	}

	if sc.Header("Referrer-Policy") == "" {
		r.hit("headers_no_referrer_policy", "Missing Referrer-Policy", models.SeverityLow, 2,
			"referrer leakage not constrained", nil)
	} else {
		r.miss()
	}

	if server := sc.Header("Server"); serverVersionRe.MatchString(server) {
		r.hit("headers_server_version", "Server version disclosed", models.SeverityInfo, 2,
			fmt.Sprintf("Server header %q leaks version", server), map[string]any{"server": server})
	} else {
		r.miss()
	}

	return r
}

// ─── Redirect Chain ───

type redirectAnalyzer struct {
	base
}

var shortenerHosts = []string{
	"bit.ly", "tinyurl.com", "t.co", "goo.gl", "is.gd", "cutt.ly", "rb.gy",
	"shorturl.at", "ow.ly",
}

func (a *redirectAnalyzer) Analyze(sc *models.ScanContext) *Report {
	r := &Report{}
	chain := sc.Reachability.HTTP.RedirectChain
	if !sc.Reachability.HTTP.OK {
		r.skip()
		return r
	}

	switch hops := len(chain); {
	case hops >= 3:
		r.hit("redirect_long_chain", "Long redirect chain", models.SeverityMedium, 6,
			fmt.Sprintf("%d redirects before landing", hops), map[string]any{"chain": chain})
	case hops == 2:
		r.hit("redirect_chain", "Multiple redirects", models.SeverityLow, 3,
			"two redirects before landing", map[string]any{"chain": chain})
	default:
		r.miss()
	}

	if hop, ok := containsAny(strings.Join(chain, " "), shortenerHosts); ok {
		r.hit("redirect_shortener_hop", "Shortener in redirect chain", models.SeverityMedium, 6,
			fmt.Sprintf("chain passes through %s", hop), map[string]any{"chain": chain})
	} else {
		r.miss()
	}

	crossed := false
	for _, hop := range chain {
		if !strings.Contains(hop, sc.URL.Domain) {
			crossed = true
			break
		}
	}
	final := sc.Reachability.HTTP.FinalURL
	if final != "" && !strings.Contains(final, sc.URL.Domain) {
		crossed = true
	}
	if crossed {
		r.hit("redirect_cross_domain", "Cross-domain redirect", models.SeverityMedium, 5,
			fmt.Sprintf("chain leaves %s", sc.URL.Domain), map[string]any{"finalUrl": final})
	} else {
		r.miss()
	}

	if sc.URL.Protocol == "https" && strings.HasPrefix(strings.ToLower(final), "http://") {
		r.hit("redirect_downgrade", "HTTPS to HTTP downgrade", models.SeverityHigh, 5,
			"secure entry redirected to cleartext", map[string]any{"finalUrl": final})
	} else {
		r.miss()
	}

	return r
}
