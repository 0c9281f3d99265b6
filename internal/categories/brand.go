package categories

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rawblock/urlscan-engine/pkg/models"
)

// Brand impersonation and trust-graph reputation checks.

// knownBrands maps a brand token to the registrable domains that own it.
// Representative list; deployments extend it via configuration reloads.
var knownBrands = map[string][]string{
	"paypal":        {"paypal.com"},
	"apple":         {"apple.com", "icloud.com"},
	"microsoft":     {"microsoft.com", "live.com", "outlook.com", "office.com"},
	"google":        {"google.com", "gmail.com", "youtube.com"},
	"amazon":        {"amazon.com", "aws.amazon.com"},
	"netflix":       {"netflix.com"},
	"facebook":      {"facebook.com", "fb.com"},
	"instagram":     {"instagram.com"},
	"whatsapp":      {"whatsapp.com"},
	"chase":         {"chase.com"},
	"wellsfargo":    {"wellsfargo.com"},
	"bankofamerica": {"bankofamerica.com"},
	"coinbase":      {"coinbase.com"},
	"binance":       {"binance.com"},
	"dhl":           {"dhl.com", "dhl.de"},
	"fedex":         {"fedex.com"},
	"usps":          {"usps.com"},
	"ups":           {"ups.com"},
}

type brandAnalyzer struct {
	base
}

var (
	copyrightRe = regexp.MustCompile(`(?i)(©|&copy;|copyright)\s*(\d{4})?\s*([a-z0-9 .,&-]{2,40})`)
	faviconRe   = regexp.MustCompile(`(?i)<link[^>]+rel\s*=\s*["'][^"']*icon[^"']*["'][^>]+href\s*=\s*["']([^"']+)["']`)
)

func (a *brandAnalyzer) Analyze(sc *models.ScanContext) *Report {
	r := &Report{}

	ownLabel := strings.TrimSuffix(sc.URL.Domain, "."+sc.URL.TLD)

	// Typosquat distance against the brand list.
	typosquatted := false
	for brand, domains := range knownBrands {
		if ownsBrandDomain(sc.URL.Domain, domains) {
			continue
		}
		d := levenshtein(ownLabel, brand)
		if d > 0 && d <= 2 && len(ownLabel) >= 4 {
			r.hit("brand_typosquat", "Typosquatted brand domain", models.SeverityHigh, 12,
				fmt.Sprintf("%q is edit distance %d from %q", ownLabel, d, brand),
				map[string]any{"brand": brand, "distance": d})
			typosquatted = true
			break
		}
	}
	if !typosquatted {
		r.miss()
	}

	// Brand token inside host labels of a foreign domain.
	embedded := false
	for brand, domains := range knownBrands {
		if ownsBrandDomain(sc.URL.Domain, domains) {
			continue
		}
		if strings.Contains(sc.URL.Hostname, brand) {
			r.hit("brand_in_foreign_host", "Brand name in unrelated hostname", models.SeverityHigh, 10,
				fmt.Sprintf("hostname carries %q but belongs to %s", brand, sc.URL.Domain),
				map[string]any{"brand": brand})
			embedded = true
			break
		}
	}
	if !embedded {
		r.miss()
	}

	body := sc.Body()
	if body == "" {
		r.skip()
		return r
	}

	// Brand mentioned in content the domain does not own.
	mentioned := false
	lower := strings.ToLower(body)
	for brand, domains := range knownBrands {
		if ownsBrandDomain(sc.URL.Domain, domains) {
			continue
		}
		if strings.Count(lower, brand) >= 3 {
			r.hit("brand_content_mention", "Heavy brand references in foreign content", models.SeverityMedium, 5,
				fmt.Sprintf("page references %q repeatedly", brand), map[string]any{"brand": brand})
			mentioned = true
			break
		}
	}
	if !mentioned {
		r.miss()
	}

	// Favicon hot-linked straight off a brand's own host.
	hotlinked := false
	if m := faviconRe.FindStringSubmatch(body); m != nil {
		for _, domains := range knownBrands {
			for _, d := range domains {
				if strings.Contains(m[1], d) && !ownsBrandDomain(sc.URL.Domain, domains) {
					r.hit("brand_favicon_hotlink", "Favicon hot-linked from brand domain", models.SeverityLow, 4,
						fmt.Sprintf("favicon loaded from %s", m[1]), map[string]any{"href": m[1]})
					hotlinked = true
				}
			}
		}
	}
	if !hotlinked {
		r.miss()
	}

	// Copyright footer claiming a brand the domain does not own.
	claimed := false
	if m := copyrightRe.FindStringSubmatch(body); m != nil {
		holder := strings.ToLower(strings.TrimSpace(m[3]))
		for brand, domains := range knownBrands {
			if strings.Contains(holder, brand) && !ownsBrandDomain(sc.URL.Domain, domains) {
				r.hit("brand_copyright_claim", "Copyright claims foreign brand", models.SeverityLow, 4,
					fmt.Sprintf("footer claims copyright of %q", brand), map[string]any{"holder": holder})
				claimed = true
				break
			}
		}
	}
	if !claimed {
		r.miss()
	}

	return r
}

func ownsBrandDomain(domain string, brandDomains []string) bool {
	for _, d := range brandDomains {
		if domain == d || strings.HasSuffix(d, "."+domain) {
			return true
		}
	}
	return false
}

// ─── Trust Graph ───

type trustGraphAnalyzer struct {
	base
}

// freeDNSProviders host throwaway infrastructure.
var freeDNSProviders = []string{
	"duckdns", "no-ip", "freenom", "afraid.org", "dynu", "hopto",
}

// urlShorteners in the registrable position mean the link itself hides its
// destination.
var urlShorteners = map[string]bool{
	"bit.ly": true, "tinyurl.com": true, "t.co": true, "goo.gl": true,
	"is.gd": true, "cutt.ly": true, "rb.gy": true, "shorturl.at": true,
}

func (a *trustGraphAnalyzer) Analyze(sc *models.ScanContext) *Report {
	r := &Report{}

	if urlShorteners[sc.URL.Domain] {
		r.hit("trust_shortener", "URL shortener domain", models.SeverityMedium, 6,
			"destination is hidden behind a shortener", nil)
	} else {
		r.miss()
	}

	// Established-history signal.
	if sc.Whois != nil && sc.Whois.CreatedDate != nil {
		if time.Since(*sc.Whois.CreatedDate) < 90*24*time.Hour {
			r.hit("trust_no_history", "No established history", models.SeverityMedium, 8,
				"domain is younger than 90 days", map[string]any{"createdDate": sc.Whois.CreatedDate})
		} else {
			r.miss()
		}
	} else {
		r.skip()
	}

	if sc.DNS != nil {
		if ns, ok := containsAny(strings.Join(sc.DNS.NS, " "), freeDNSProviders); ok {
			r.hit("trust_free_dns", "Free/dynamic DNS provider", models.SeverityMedium, 8,
				fmt.Sprintf("nameservers match %q", ns), map[string]any{"ns": sc.DNS.NS})
		} else {
			r.miss()
		}

		// A single A record with no mail or policy records is the footprint
		// of infrastructure stood up for one campaign.
		if len(sc.DNS.A) <= 1 && len(sc.DNS.MX) == 0 && len(sc.DNS.TXT) == 0 {
			r.hit("trust_thin_footprint", "Minimal DNS footprint", models.SeverityLow, 5,
				"no mail, policy, or redundancy records", nil)
		} else {
			r.miss()
		}
	} else {
		r.skip()
		r.skip()
	}

	return r
}
