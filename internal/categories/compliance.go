package categories

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rawblock/urlscan-engine/pkg/models"
)

// Compliance family: data protection, email security posture, and legal
// surface checks. Email security is fully DNS-driven and therefore runs in
// the PASSIVE pipeline; the other two degrade their body checks when no
// body was captured.

// ─── Data Protection ───

type dataProtectionAnalyzer struct {
	base
}

var (
	privacyLinkRe   = regexp.MustCompile(`(?i)<a[^>]+href[^>]*>[^<]*(privacy|datenschutz)[^<]*</a>`)
	formActionRe    = regexp.MustCompile(`(?i)<form[^>]+action\s*=\s*["']([^"']+)["']`)
	consentMarkerRe = regexp.MustCompile(`(?i)(cookie\s*(consent|banner|policy)|we\s+use\s+cookies|accept\s+(all\s+)?cookies)`)
)

func (a *dataProtectionAnalyzer) Analyze(sc *models.ScanContext) *Report {
	r := &Report{}
	body := sc.Body()
	if body == "" {
		r.skip()
		return r
	}

	// Password collection without transport security is the worst case.
	if sc.URL.Protocol != "https" && passwordInputRe.MatchString(body) {
		r.hit("dataprot_cleartext_password", "Password collected over HTTP", models.SeverityCritical, 15,
			"credentials would travel in cleartext", nil)
	} else {
		r.miss()
	}

	collectsData := passwordInputRe.MatchString(body) || paymentFieldRe.MatchString(body)

	if collectsData && !privacyLinkRe.MatchString(body) {
		r.hit("dataprot_no_privacy_policy", "Data collection without privacy policy", models.SeverityMedium, 10,
			"page collects personal data but links no privacy policy", nil)
	} else {
		r.miss()
	}

	for _, m := range formActionRe.FindAllStringSubmatch(body, -1) {
		action := m[1]
		if strings.HasPrefix(strings.ToLower(action), "http://") {
			r.hit("dataprot_insecure_form", "Form posts over HTTP", models.SeverityHigh, 15,
				fmt.Sprintf("form action %q downgrades to cleartext", action),
				map[string]any{"action": action})
		} else if isCrossDomainAction(action, sc.URL.Domain) {
			r.hit("dataprot_cross_domain_form", "Form posts to a foreign domain", models.SeverityMedium, 10,
				fmt.Sprintf("form submits to %q", action), map[string]any{"action": action})
		} else {
			r.miss()
		}
	}

	if sc.Header("Set-Cookie") != "" && !consentMarkerRe.MatchString(body) {
		r.hit("dataprot_silent_cookies", "Cookies set without consent markers", models.SeverityLow, 5,
			"cookies are set but no consent surface exists", nil)
	} else {
		r.miss()
	}

	return r
}

func isCrossDomainAction(action, ownDomain string) bool {
	lower := strings.ToLower(action)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return false // relative action
	}
	return !strings.Contains(lower, ownDomain)
}

// ─── Email Security ───

type emailSecAnalyzer struct {
	base
}

func (a *emailSecAnalyzer) Analyze(sc *models.ScanContext) *Report {
	r := &Report{}
	if sc.DNS == nil {
		r.skip()
		return r
	}

	spf := ""
	for _, txt := range sc.DNS.TXT {
		if strings.HasPrefix(strings.ToLower(txt), "v=spf1") {
			spf = strings.ToLower(txt)
			break
		}
	}
	switch {
	case spf == "":
		r.hit("email_no_spf", "No SPF record", models.SeverityMedium, 8,
			"domain publishes no sender policy", nil)
	case strings.Contains(spf, "~all") || strings.Contains(spf, "?all"):
		r.hit("email_weak_spf", "Permissive SPF policy", models.SeverityLow, 4,
			"SPF ends in softfail/neutral", map[string]any{"spf": spf})
	default:
		r.miss()
	}

	dmarc := ""
	for _, txt := range sc.DNS.DMARC {
		if strings.HasPrefix(strings.ToLower(txt), "v=dmarc1") {
			dmarc = strings.ToLower(txt)
			break
		}
	}
	switch {
	case dmarc == "":
		r.hit("email_no_dmarc", "No DMARC record", models.SeverityMedium, 8,
			"domain publishes no DMARC policy", nil)
	case strings.Contains(dmarc, "p=none"):
		r.hit("email_dmarc_none", "DMARC policy is monitor-only", models.SeverityLow, 4,
			"p=none enforces nothing", map[string]any{"dmarc": dmarc})
	default:
		r.miss()
	}

	// DKIM presence is best-effort: only conventional selectors are probed.
	if len(sc.DNS.MX) > 0 && len(sc.DNS.DKIM) == 0 {
		r.hit("email_no_dkim", "No DKIM key on common selectors", models.SeverityLow, 3,
			"mail-enabled domain exposes no DKIM key", nil)
	} else {
		r.miss()
	}

	return r
}

// ─── Legal Compliance ───

type legalAnalyzer struct {
	base
}

var (
	tosLinkRe   = regexp.MustCompile(`(?i)<a[^>]+href[^>]*>[^<]*(terms|conditions|impressum)[^<]*</a>`)
	contactRe   = regexp.MustCompile(`(?i)(contact\s+us|mailto:|impressum|legal\s+notice)`)
	companyIDRe = regexp.MustCompile(`(?i)(ltd\.?|llc|inc\.?|gmbh|s\.a\.|b\.v\.|pty|corporation|registered\s+(office|company))`)
)

// highRiskJurisdictions by WHOIS registrant country.
var highRiskJurisdictions = map[string]bool{
	"RU": true, "CN": true, "NG": true, "PK": true, "VN": true,
}

func (a *legalAnalyzer) Analyze(sc *models.ScanContext) *Report {
	r := &Report{}

	if sc.Whois != nil && sc.Whois.Country != "" {
		if highRiskJurisdictions[strings.ToUpper(sc.Whois.Country)] {
			r.hit("legal_jurisdiction", "High-risk registrant jurisdiction", models.SeverityMedium, 8,
				fmt.Sprintf("registrant country %s", sc.Whois.Country),
				map[string]any{"country": sc.Whois.Country})
		} else {
			r.miss()
		}
	} else {
		r.skip()
	}

	body := sc.Body()
	if body == "" {
		r.skip()
		return r
	}

	if !tosLinkRe.MatchString(body) {
		r.hit("legal_no_terms", "No terms of service", models.SeverityMedium, 8,
			"page links no terms or conditions", nil)
	} else {
		r.miss()
	}

	if !contactRe.MatchString(body) {
		r.hit("legal_no_contact", "No contact information", models.SeverityMedium, 6,
			"no contact surface anywhere on the page", nil)
	} else {
		r.miss()
	}

	if paymentFieldRe.MatchString(body) && !companyIDRe.MatchString(body) {
		r.hit("legal_anonymous_merchant", "Payment page without company identity", models.SeverityMedium, 6,
			"page takes payment but names no legal entity", nil)
	} else {
		r.miss()
	}

	return r
}
