package fprebalance

import (
	"net"
	"strings"

	"github.com/rawblock/urlscan-engine/pkg/models"
)

// False-positive rebalancer. Three independent legitimacy detectors feed a
// 0-100 score that downscales the final verdict for infrastructure the
// heuristics routinely over-flag: CDN frontends, research scanners, and
// government/education domains. Confirmed-malicious signals (tombstone or
// pre-gate stop) always override the rebalancer.

const (
	CheckCDN              = "cdn"
	CheckResearchInternet = "research_internet"
	CheckGovEdu           = "gov_edu"
)

// Detector point contributions. Capped at 100 combined.
const (
	cdnPoints      = 40
	researchPoints = 35
	govEduPoints   = 50
)

// cdnNetworks are well-known CDN/anycast ranges. Coverage is intentionally
// conservative: a miss costs nothing, a wrong match downscales a verdict.
var cdnNetworks = mustParseCIDRs(
	"103.21.244.0/22", "103.22.200.0/22", "104.16.0.0/13", "104.24.0.0/14",
	"172.64.0.0/13", "131.0.72.0/22", "108.162.192.0/18", "198.41.128.0/17", // Cloudflare
	"151.101.0.0/16", "199.232.0.0/16", // Fastly
	"23.32.0.0/11", "2.16.0.0/13", "95.100.0.0/15", "184.24.0.0/13", // Akamai
	"13.32.0.0/15", "13.224.0.0/14", "52.84.0.0/15", "54.230.0.0/16", // CloudFront
)

// cdnServerHeaders map Server/Via header values to the network they identify.
var cdnServerHeaders = map[string]string{
	"cloudflare": "Cloudflare",
	"cloudfront": "CloudFront",
	"akamai":     "Akamai",
	"fastly":     "Fastly",
	"varnish":    "Fastly",
	"gws":        "Google",
}

// cdnNameserverSuffixes identify CDN-managed DNS.
var cdnNameserverSuffixes = map[string]string{
	".ns.cloudflare.com": "Cloudflare",
	".akam.net":          "Akamai",
	".fastly.net":        "Fastly",
	".awsdns-00.com":     "Route53",
	".azure-dns.com":     "Azure",
}

// researchNetworks are known benign-scanner and research ranges
// (Shodan, Censys, university measurement projects).
var researchNetworks = mustParseCIDRs(
	"66.240.192.0/18",  // Shodan
	"71.6.128.0/17",    // Shodan
	"198.20.64.0/18",   // Shodan
	"162.142.125.0/24", // Censys
	"167.94.138.0/24",  // Censys
	"167.248.133.0/24", // Censys
	"128.14.0.0/16",    // research allocation
	"141.212.0.0/16",   // University of Michigan scanning
)

var researchNameserverSuffixes = []string{
	".censys.io", ".shodan.io", ".scanners.labs.rapid7.com",
}

// govEduTLDs and second-level equivalents for international
// government/education namespaces.
var govEduTLDs = map[string]bool{
	"gov": true, "mil": true, "edu": true, "int": true,
}

var govEduSuffixes = []string{
	".gov.uk", ".ac.uk", ".gov.au", ".edu.au", ".gc.ca", ".gov.ca",
	".go.jp", ".ac.jp", ".gov.in", ".ac.in", ".gov.br", ".edu.br",
	".gouv.fr", ".gov.cn", ".edu.cn", ".go.kr", ".ac.kr", ".gov.sg",
	".edu.sg", ".govt.nz", ".ac.nz", ".gov.za", ".ac.za", ".gob.mx",
	".gov.it", ".bund.de",
}

// knownGovEduDomains catches high-profile institutions whose hostnames do
// not carry a government TLD.
var knownGovEduDomains = map[string]bool{
	"europa.eu": true, "un.org": true, "who.int": true, "nato.int": true,
	"worldbank.org": true, "imf.org": true, "nih.gov": true,
}

// Rebalancer runs the legitimacy detectors over a finished scan.
type Rebalancer struct{}

func New() *Rebalancer { return &Rebalancer{} }

// Run computes the legitimacy score and adjustment multiplier. When
// suppressed (tombstone or pre-gate hard stop fired) the multiplier is
// pinned at 1.0 and the detectors are skipped entirely.
func (r *Rebalancer) Run(sc *models.ScanContext, suppressed bool) *models.FPRebalanceResult {
	result := &models.FPRebalanceResult{AdjustmentMultiplier: 1.0, Suppressed: suppressed}
	if suppressed {
		return result
	}

	checks := []models.FPCheckResult{
		r.checkCDN(sc),
		r.checkResearchInternet(sc),
		r.checkGovEdu(sc),
	}
	result.Checks = checks

	score := 0
	for _, c := range checks {
		if c.Matched {
			score += c.Points
		}
	}
	if score > 100 {
		score = 100
	}
	result.LegitimacyScore = score
	result.AdjustmentMultiplier = multiplierFor(score)
	return result
}

// multiplierFor maps legitimacy to a downscaling factor. Never above 1:
// the rebalancer only reduces verdicts, it cannot amplify them.
func multiplierFor(legitimacy int) float64 {
	switch {
	case legitimacy >= 80:
		return 0.5
	case legitimacy >= 50:
		return 0.7
	case legitimacy >= 30:
		return 0.85
	default:
		return 1.0
	}
}

func (r *Rebalancer) checkCDN(sc *models.ScanContext) models.FPCheckResult {
	result := models.FPCheckResult{Check: CheckCDN, Points: cdnPoints}

	for _, header := range []string{"server", "via"} {
		value := strings.ToLower(sc.Header(header))
		if value == "" {
			continue
		}
		for marker, network := range cdnServerHeaders {
			if strings.Contains(value, marker) {
				result.Matched = true
				result.Detail = network + " (response header)"
				return result
			}
		}
	}

	for _, ip := range resolvedIPs(sc) {
		if network, ok := matchNetwork(ip, cdnNetworks); ok {
			result.Matched = true
			result.Detail = "IP " + ip + " in CDN range " + network
			return result
		}
	}

	if sc.DNS != nil {
		for _, ns := range sc.DNS.NS {
			lowered := strings.ToLower(strings.TrimSuffix(ns, "."))
			for suffix, network := range cdnNameserverSuffixes {
				if strings.HasSuffix(lowered, suffix) {
					result.Matched = true
					result.Detail = network + " nameserver " + lowered
					return result
				}
			}
		}
	}
	return result
}

func (r *Rebalancer) checkResearchInternet(sc *models.ScanContext) models.FPCheckResult {
	result := models.FPCheckResult{Check: CheckResearchInternet, Points: researchPoints}

	for _, ip := range resolvedIPs(sc) {
		if network, ok := matchNetwork(ip, researchNetworks); ok {
			result.Matched = true
			result.Detail = "IP " + ip + " in research range " + network
			return result
		}
	}

	if sc.DNS != nil {
		for _, ns := range sc.DNS.NS {
			lowered := strings.ToLower(strings.TrimSuffix(ns, "."))
			for _, suffix := range researchNameserverSuffixes {
				if strings.HasSuffix(lowered, suffix) {
					result.Matched = true
					result.Detail = "research nameserver " + lowered
					return result
				}
			}
		}
	}
	return result
}

func (r *Rebalancer) checkGovEdu(sc *models.ScanContext) models.FPCheckResult {
	result := models.FPCheckResult{Check: CheckGovEdu, Points: govEduPoints}
	domain := strings.ToLower(sc.URL.Domain)
	tld := strings.ToLower(sc.URL.TLD)

	if govEduTLDs[tld] {
		result.Matched = true
		result.Detail = "TLD ." + tld
		return result
	}
	for _, suffix := range govEduSuffixes {
		if strings.HasSuffix(domain, suffix) {
			result.Matched = true
			result.Detail = "namespace " + suffix
			return result
		}
	}
	if knownGovEduDomains[domain] {
		result.Matched = true
		result.Detail = "known institution " + domain
		return result
	}
	return result
}

// resolvedIPs merges probe and gather addresses, deduplicated.
func resolvedIPs(sc *models.ScanContext) []string {
	seen := make(map[string]bool)
	var ips []string
	add := func(list []string) {
		for _, ip := range list {
			if !seen[ip] {
				seen[ip] = true
				ips = append(ips, ip)
			}
		}
	}
	add(sc.Reachability.DNS.IPs)
	if sc.DNS != nil {
		add(sc.DNS.A)
		add(sc.DNS.AAAA)
	}
	return ips
}

func matchNetwork(ip string, networks []*net.IPNet) (string, bool) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return "", false
	}
	for _, n := range networks {
		if n.Contains(parsed) {
			return n.String(), true
		}
	}
	return "", false
}

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	networks := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic("bad CIDR table entry: " + c)
		}
		networks = append(networks, n)
	}
	return networks
}
