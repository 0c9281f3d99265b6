package categories

import (
	"fmt"
	"net"
	"regexp"
	"strings"

	"github.com/rawblock/urlscan-engine/pkg/models"
)

// Content-family analyzers: all score against the ≤5 KB body prefix captured
// by the reachability probe. An empty body (offline host, probe failure)
// marks the body-driven checks skipped rather than clean.

// ─── Content Analysis ───

type contentAnalyzer struct {
	base
}

var urgencyPhrases = []string{
	"act now", "urgent action", "immediately", "account suspended",
	"limited time", "expires today", "final notice", "last warning",
}

var (
	passwordInputRe = regexp.MustCompile(`(?i)<input[^>]+type\s*=\s*["']?password`)
	paymentFieldRe  = regexp.MustCompile(`(?i)(card\s*number|cvv|cvc|security\s*code|expir(y|ation))`)
	hiddenIframeRe  = regexp.MustCompile(`(?i)<iframe[^>]+(display\s*:\s*none|width\s*=\s*["']?0|height\s*=\s*["']?0)`)
	metaRefreshRe   = regexp.MustCompile(`(?i)<meta[^>]+http-equiv\s*=\s*["']?refresh`)
)

func (a *contentAnalyzer) Analyze(sc *models.ScanContext) *Report {
	r := &Report{}
	body := sc.Body()
	if body == "" {
		r.skip()
		return r
	}

	if n := countAny(body, urgencyPhrases); n > 0 {
		score := float64(4 * n)
		if score > 8 {
			score = 8
		}
		r.hit("content_urgency", "Urgency language", models.SeverityMedium, score,
			fmt.Sprintf("%d urgency phrases in page body", n), nil)
	} else {
		r.miss()
	}

	if passwordInputRe.MatchString(body) {
		r.hit("content_credential_form", "Credential collection form", models.SeverityHigh, 12,
			"page contains a password input", nil)
	} else {
		r.miss()
	}

	if paymentFieldRe.MatchString(body) {
		r.hit("content_payment_fields", "Payment detail collection", models.SeverityHigh, 10,
			"page asks for card data", nil)
	} else {
		r.miss()
	}

	if hiddenIframeRe.MatchString(body) {
		r.hit("content_hidden_iframe", "Hidden iframe", models.SeverityMedium, 8,
			"page embeds an invisible iframe", nil)
	} else {
		r.miss()
	}

	if metaRefreshRe.MatchString(body) {
		r.hit("content_meta_refresh", "Meta-refresh redirect", models.SeverityLow, 5,
			"page redirects via meta refresh", nil)
	} else {
		r.miss()
	}

	if sc.Reachability.State == models.StateOnline && len(body) < 200 {
		r.hit("content_minimal_body", "Near-empty page", models.SeverityLow, 4,
			fmt.Sprintf("online host served only %d bytes", len(body)), nil)
	} else {
		r.miss()
	}

	return r
}

// ─── Phishing Patterns ───

type phishingAnalyzer struct {
	base
}

var phishingHostTokens = []string{
	"secure", "login", "signin", "verify", "account", "update", "confirm",
	"webscr", "banking",
}

var harvestPhrases = []string{
	"confirm your password", "verify your account", "verify your identity",
	"unusual activity", "your account has been locked", "re-enter your password",
	"session has expired",
}

func (a *phishingAnalyzer) Analyze(sc *models.ScanContext) *Report {
	r := &Report{}

	// Host-shape checks need no body.
	hostAndPath := sc.URL.Hostname + sc.URL.Path
	if tok, ok := containsAny(sc.URL.Subdomain+"."+sc.URL.Path, phishingHostTokens); ok && sc.URL.Subdomain != "" {
		r.hit("phish_host_tokens", "Credential keywords in host or path", models.SeverityHigh, 12,
			fmt.Sprintf("token %q in %s", tok, hostAndPath), map[string]any{"token": tok})
	} else {
		r.miss()
	}

	if strings.Contains(sc.URL.Hostname, "xn--") {
		r.hit("phish_punycode", "Punycode hostname", models.SeverityHigh, 15,
			"internationalized hostname can mask homoglyphs", map[string]any{"hostname": sc.URL.Hostname})
	} else {
		r.miss()
	}

	if net.ParseIP(sc.URL.Hostname) != nil {
		r.hit("phish_ip_literal", "IP-literal URL", models.SeverityHigh, 12,
			"URL addresses the host by raw IP", nil)
	} else {
		r.miss()
	}

	if strings.Contains(sc.URL.Original, "@") {
		r.hit("phish_userinfo", "Userinfo trick in URL", models.SeverityHigh, 10,
			"original URL embeds an @, hiding the real host", nil)
	} else {
		r.miss()
	}

	if strings.Count(sc.URL.Domain, "-") >= 3 {
		r.hit("phish_hyphen_domain", "Hyphen-chained domain", models.SeverityMedium, 6,
			fmt.Sprintf("domain %q chains hyphens like a lookalike", sc.URL.Domain), nil)
	} else {
		r.miss()
	}

	if strings.Contains(sc.URL.Domain, "com-") || strings.HasPrefix(sc.URL.Subdomain, "www-") {
		r.hit("phish_fake_tld_chain", "Embedded pseudo-TLD", models.SeverityMedium, 8,
			"domain embeds a fake .com boundary", map[string]any{"domain": sc.URL.Domain})
	} else {
		r.miss()
	}

	body := sc.Body()
	if body == "" {
		r.skip()
		return r
	}
	if phrase, ok := containsAny(body, harvestPhrases); ok {
		r.hit("phish_harvest_copy", "Credential-harvest wording", models.SeverityHigh, 12,
			fmt.Sprintf("body contains %q", phrase), nil)
	} else {
		r.miss()
	}

	return r
}

// ─── Malware Detection ───

type malwareAnalyzer struct {
	base
}

var (
	evalChainRe  = regexp.MustCompile(`(?i)(eval\s*\(\s*(unescape|atob|String\.fromCharCode))|unescape\s*\(\s*["']%u`)
	docWriteRe   = regexp.MustCompile(`(?i)document\.write\s*\(\s*["'][^"']*<script`)
	packedJSRe   = regexp.MustCompile(`eval\(function\(p,a,c,k,e,[dr]\)`)
	base64BlobRe = regexp.MustCompile(`[A-Za-z0-9+/=]{200,}`)
	binaryLinkRe = regexp.MustCompile(`(?i)href\s*=\s*["'][^"']+\.(exe|scr|bat|apk|msi|jar)["']`)
)

func (a *malwareAnalyzer) Analyze(sc *models.ScanContext) *Report {
	r := &Report{}

	// Forced download on the landing fetch itself.
	if cd := sc.Header("Content-Disposition"); strings.Contains(strings.ToLower(cd), "attachment") {
		r.hit("malware_forced_download", "Forced download response", models.SeverityHigh, 12,
			"landing URL answers with an attachment disposition", map[string]any{"contentDisposition": cd})
	} else {
		r.miss()
	}

	body := sc.Body()
	if body == "" {
		r.skip()
		return r
	}

	if evalChainRe.MatchString(body) {
		r.hit("malware_eval_chain", "Eval/decode execution chain", models.SeverityHigh, 12,
			"script decodes and executes hidden payload", nil)
	} else {
		r.miss()
	}

	if docWriteRe.MatchString(body) {
		r.hit("malware_docwrite_script", "document.write script injection", models.SeverityMedium, 8,
			"page writes script tags at runtime", nil)
	} else {
		r.miss()
	}

	if packedJSRe.MatchString(body) {
		r.hit("malware_packed_js", "Packed JavaScript", models.SeverityHigh, 10,
			"body carries p.a.c.k.e.d obfuscated script", nil)
	} else {
		r.miss()
	}

	if base64BlobRe.MatchString(body) {
		r.hit("malware_base64_blob", "Large inline base64 blob", models.SeverityMedium, 10,
			"inline blob large enough to carry a payload", nil)
	} else {
		r.miss()
	}

	if m := binaryLinkRe.FindString(body); m != "" {
		r.hit("malware_binary_link", "Direct executable download link", models.SeverityHigh, 12,
			"page links straight to an executable", map[string]any{"link": m})
	} else {
		r.miss()
	}

	return r
}

// ─── Behavioral JavaScript ───

type behavioralAnalyzer struct {
	base
}

var (
	keyloggerRe   = regexp.MustCompile(`(?i)(onkeypress|onkeydown|addEventListener\s*\(\s*["']key)`)
	exfilRe       = regexp.MustCompile(`(?i)(XMLHttpRequest|fetch\s*\(|navigator\.sendBeacon)`)
	clipboardRe   = regexp.MustCompile(`(?i)navigator\.clipboard\.(readText|read)\b`)
	contextMenuRe = regexp.MustCompile(`(?i)(oncontextmenu\s*=\s*["']?return false|addEventListener\s*\(\s*["']contextmenu)`)
	unloadTrapRe  = regexp.MustCompile(`(?i)(onbeforeunload|addEventListener\s*\(\s*["']beforeunload)`)
	devtoolsRe    = regexp.MustCompile(`(?i)(debugger\s*;?\s*\}?\s*,\s*\d+|devtools)`)
)

func (a *behavioralAnalyzer) Analyze(sc *models.ScanContext) *Report {
	r := &Report{}
	body := sc.Body()
	if body == "" {
		r.skip()
		return r
	}

	if keyloggerRe.MatchString(body) && exfilRe.MatchString(body) {
		r.hit("js_keylogger", "Keystroke capture with exfiltration path", models.SeverityMedium, 8,
			"key events are captured alongside network send primitives", nil)
	} else {
		r.miss()
	}

	if clipboardRe.MatchString(body) {
		r.hit("js_clipboard_read", "Clipboard read access", models.SeverityMedium, 5,
			"script reads the visitor clipboard", nil)
	} else {
		r.miss()
	}

	if contextMenuRe.MatchString(body) {
		r.hit("js_context_menu_block", "Right-click disabled", models.SeverityLow, 4,
			"page blocks the context menu", nil)
	} else {
		r.miss()
	}

	if unloadTrapRe.MatchString(body) {
		r.hit("js_unload_trap", "Navigation trap", models.SeverityLow, 4,
			"page resists being closed", nil)
	} else {
		r.miss()
	}

	if devtoolsRe.MatchString(body) {
		r.hit("js_devtools_evasion", "Devtools evasion", models.SeverityLow, 4,
			"script attempts to detect or stall debugging", nil)
	} else {
		r.miss()
	}

	return r
}
