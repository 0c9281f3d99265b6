package categories

import (
	"fmt"
	"strings"
	"time"

	"github.com/rawblock/urlscan-engine/pkg/models"
)

// Domain analysis: registration age, WHOIS hygiene, registrar reputation,
// TLD risk tier, and name-shape heuristics. Runs in every pipeline because
// it needs nothing beyond the URL and WHOIS.

type domainAnalyzer struct {
	base
}

// highRiskTLDs see sustained abuse in registrar transparency reports.
var highRiskTLDs = map[string]bool{
	"tk": true, "ml": true, "ga": true, "cf": true, "gq": true,
	"top": true, "xyz": true, "zip": true, "mov": true, "click": true,
	"country": true, "stream": true, "download": true,
}

var moderateRiskTLDs = map[string]bool{
	"online": true, "site": true, "club": true, "icu": true, "buzz": true,
	"rest": true, "surf": true, "cam": true,
}

// suspiciousRegistrars are registrars repeatedly associated with bulk abuse
// registrations. Substring match against the WHOIS registrar field.
var suspiciousRegistrars = []string{
	"freenom",
	"nicenic",
	"webnic",
	"regru",
	"reg.ru",
	"eranet",
}

func (a *domainAnalyzer) Analyze(sc *models.ScanContext) *Report {
	r := &Report{}

	// Age buckets.
	if sc.Whois != nil && sc.Whois.CreatedDate != nil {
		age := time.Since(*sc.Whois.CreatedDate)
		switch {
		case age <= 7*24*time.Hour:
			r.hit("domain_age_7d", "Domain registered within 7 days", models.SeverityHigh, 15,
				fmt.Sprintf("domain registered %s ago", age.Round(time.Hour)),
				map[string]any{"createdDate": sc.Whois.CreatedDate})
		case age <= 30*24*time.Hour:
			r.hit("domain_age_30d", "Domain registered within 30 days", models.SeverityMedium, 8,
				fmt.Sprintf("domain registered %s ago", age.Round(time.Hour)),
				map[string]any{"createdDate": sc.Whois.CreatedDate})
		default:
			r.miss()
		}
	} else {
		r.skip()
	}

	// Imminent expiry reads as a throwaway registration.
	if sc.Whois != nil && sc.Whois.ExpiryDate != nil {
		if until := time.Until(*sc.Whois.ExpiryDate); until > 0 && until <= 30*24*time.Hour {
			r.hit("domain_expiry_30d", "Domain expires within 30 days", models.SeverityLow, 4,
				"registration expires soon", map[string]any{"expiryDate": sc.Whois.ExpiryDate})
		} else {
			r.miss()
		}
	} else {
		r.skip()
	}

	// WHOIS privacy service.
	if sc.Whois != nil {
		if sc.Whois.PrivacyService {
			r.hit("whois_privacy", "WHOIS privacy service", models.SeverityLow, 5,
				"registrant identity is hidden behind a privacy service", nil)
		} else {
			r.miss()
		}
	} else {
		r.skip()
	}

	// Registrar reputation.
	if sc.Whois != nil && sc.Whois.Registrar != "" {
		if match, ok := containsAny(sc.Whois.Registrar, suspiciousRegistrars); ok {
			r.hit("suspicious_registrar", "Abuse-prone registrar", models.SeverityMedium, 8,
				fmt.Sprintf("registrar %q matches abuse watchlist", sc.Whois.Registrar),
				map[string]any{"match": match})
		} else {
			r.miss()
		}
	} else {
		r.skip()
	}

	// TLD risk tier.
	switch {
	case highRiskTLDs[sc.URL.TLD]:
		r.hit("tld_high_risk", "High-risk TLD", models.SeverityMedium, 10,
			fmt.Sprintf(".%s sees heavy abuse registration volume", sc.URL.TLD), nil)
	case moderateRiskTLDs[sc.URL.TLD]:
		r.hit("tld_moderate_risk", "Moderate-risk TLD", models.SeverityLow, 5,
			fmt.Sprintf(".%s is above-baseline for abuse", sc.URL.TLD), nil)
	default:
		r.miss()
	}

	// Subdomain depth: deep nesting is a common cloaking trick.
	if sc.URL.Subdomain != "" {
		depth := len(strings.Split(sc.URL.Subdomain, "."))
		if depth >= 3 {
			r.hit("subdomain_depth", "Excessive subdomain nesting", models.SeverityLow, 4,
				fmt.Sprintf("%d subdomain levels", depth), map[string]any{"subdomain": sc.URL.Subdomain})
		} else {
			r.miss()
		}
	} else {
		r.miss()
	}

	// Name shape: digit/hyphen-heavy registrable labels.
	label := strings.TrimSuffix(sc.URL.Domain, "."+sc.URL.TLD)
	digits, hyphens := 0, 0
	for _, c := range label {
		switch {
		case c >= '0' && c <= '9':
			digits++
		case c == '-':
			hyphens++
		}
	}
	if len(label) > 0 && (digits*100/len(label) >= 40 || hyphens >= 3) {
		r.hit("domain_shape", "Machine-generated looking domain", models.SeverityLow, 4,
			fmt.Sprintf("label %q is digit/hyphen heavy", label),
			map[string]any{"digits": digits, "hyphens": hyphens})
	} else {
		r.miss()
	}

	return r
}
