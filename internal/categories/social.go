package categories

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rawblock/urlscan-engine/pkg/models"
)

// Social-pressure family: social engineering, financial fraud, identity
// theft, and technical exploit checks. All are body-driven except the URL
// shape checks in technical exploits.

// ─── Social Engineering ───

type socialAnalyzer struct {
	base
}

var scarcityPhrases = []string{
	"only a few left", "offer expires", "while supplies last", "don't miss out",
	"one time offer", "exclusive deal",
}

var authorityPhrases = []string{
	"microsoft support", "apple support", "windows support", "amazon support",
	"internal revenue service", "tax refund pending", "government grant",
	"social security administration",
}

var fearPhrases = []string{
	"your computer is infected", "virus detected", "your files are encrypted",
	"security breach detected", "your device has been compromised",
}

var prizePhrases = []string{
	"you have won", "congratulations! you", "claim your prize", "lucky winner",
	"free gift card",
}

var supportNumberRe = regexp.MustCompile(`(?i)call\s+(now|us|toll.?free)[^<]{0,40}\+?\d[\d\s().-]{7,}`)

func (a *socialAnalyzer) Analyze(sc *models.ScanContext) *Report {
	r := &Report{}
	body := sc.Body()
	if body == "" {
		r.skip()
		return r
	}

	if phrase, ok := containsAny(body, fearPhrases); ok {
		r.hit("social_scareware", "Scareware wording", models.SeverityHigh, 10,
			fmt.Sprintf("body contains %q", phrase), nil)
	} else {
		r.miss()
	}

	if phrase, ok := containsAny(body, authorityPhrases); ok {
		r.hit("social_authority", "Authority impersonation", models.SeverityHigh, 10,
			fmt.Sprintf("body invokes %q", phrase), nil)
	} else {
		r.miss()
	}

	if phrase, ok := containsAny(body, prizePhrases); ok {
		r.hit("social_prize", "Prize/lottery lure", models.SeverityMedium, 8,
			fmt.Sprintf("body contains %q", phrase), nil)
	} else {
		r.miss()
	}

	if phrase, ok := containsAny(body, scarcityPhrases); ok {
		r.hit("social_scarcity", "Artificial scarcity pressure", models.SeverityMedium, 6,
			fmt.Sprintf("body contains %q", phrase), nil)
	} else {
		r.miss()
	}

	if supportNumberRe.MatchString(body) {
		r.hit("social_support_number", "Call-now support number", models.SeverityMedium, 6,
			"page pushes an unsolicited support phone number", nil)
	} else {
		r.miss()
	}

	return r
}

// ─── Financial Fraud ───

type financialAnalyzer struct {
	base
}

var cryptoLures = []string{
	"guaranteed returns", "double your bitcoin", "double your crypto",
	"risk-free investment", "guaranteed profit", "passive income guaranteed",
}

var wireChannels = []string{
	"western union", "moneygram", "wire transfer only", "untraceable payment",
}

var giftCardLures = []string{
	"pay with gift card", "itunes gift card", "google play card", "redeem code",
}

func (a *financialAnalyzer) Analyze(sc *models.ScanContext) *Report {
	r := &Report{}
	body := sc.Body()
	if body == "" {
		r.skip()
		return r
	}

	if phrase, ok := containsAny(body, cryptoLures); ok {
		r.hit("fraud_crypto_lure", "Investment-return lure", models.SeverityHigh, 10,
			fmt.Sprintf("body promises %q", phrase), nil)
	} else {
		r.miss()
	}

	if phrase, ok := containsAny(body, wireChannels); ok {
		r.hit("fraud_wire_channel", "Irreversible payment channel", models.SeverityMedium, 6,
			fmt.Sprintf("body requests payment via %q", phrase), nil)
	} else {
		r.miss()
	}

	// Card number plus CVV on the same page is full-track harvesting.
	lower := strings.ToLower(body)
	if strings.Contains(lower, "cvv") && paymentFieldRe.MatchString(body) && passwordInputRe.MatchString(body) {
		r.hit("fraud_card_harvest", "Full card-detail harvesting", models.SeverityHigh, 8,
			"page collects card data alongside credentials", nil)
	} else {
		r.miss()
	}

	if phrase, ok := containsAny(body, giftCardLures); ok {
		r.hit("fraud_gift_card", "Gift-card payment lure", models.SeverityLow, 5,
			fmt.Sprintf("body contains %q", phrase), nil)
	} else {
		r.miss()
	}

	return r
}

// ─── Identity Theft ───

type identityAnalyzer struct {
	base
}

var (
	ssnRe       = regexp.MustCompile(`(?i)(social\s+security\s+number|name\s*=\s*["']?ssn)`)
	docUploadRe = regexp.MustCompile(`(?i)(upload[^<]{0,40}(id|passport|licen[cs]e)|driver'?s\s+licen[cs]e|passport\s+number)`)
	maidenRe    = regexp.MustCompile(`(?i)mother'?s\s+maiden\s+name`)
)

func (a *identityAnalyzer) Analyze(sc *models.ScanContext) *Report {
	r := &Report{}
	body := sc.Body()
	if body == "" {
		r.skip()
		return r
	}

	if ssnRe.MatchString(body) {
		r.hit("identity_ssn", "Social security number collection", models.SeverityHigh, 10,
			"page requests a social security number", nil)
	} else {
		r.miss()
	}

	if docUploadRe.MatchString(body) {
		r.hit("identity_doc_upload", "Identity document collection", models.SeverityMedium, 6,
			"page asks for identity documents", nil)
	} else {
		r.miss()
	}

	if maidenRe.MatchString(body) {
		r.hit("identity_security_questions", "Account-recovery data collection", models.SeverityMedium, 5,
			"page harvests security-question answers", nil)
	} else {
		r.miss()
	}

	return r
}

// ─── Technical Exploits ───

type technicalAnalyzer struct {
	base
}

var (
	eventHandlerRe = regexp.MustCompile(`(?i)\bon(error|load|mouseover|focus)\s*=`)
	dataURIRe      = regexp.MustCompile(`(?i)src\s*=\s*["']data:(text/html|application/javascript)`)
	doubleExtRe    = regexp.MustCompile(`(?i)\.(pdf|doc|jpg|png|txt)\.(exe|scr|bat|js)\b`)
)

func (a *technicalAnalyzer) Analyze(sc *models.ScanContext) *Report {
	r := &Report{}

	if doubleExtRe.MatchString(sc.URL.Path) {
		r.hit("tech_double_extension", "Double file extension in path", models.SeverityHigh, 5,
			fmt.Sprintf("path %q disguises an executable", sc.URL.Path), nil)
	} else {
		r.miss()
	}

	if len(sc.URL.Original) > 2000 {
		r.hit("tech_oversized_url", "Oversized URL", models.SeverityLow, 3,
			fmt.Sprintf("URL length %d", len(sc.URL.Original)), nil)
	} else {
		r.miss()
	}

	body := sc.Body()
	if body == "" {
		r.skip()
		return r
	}

	if hits := eventHandlerRe.FindAllString(body, -1); len(hits) >= 5 {
		r.hit("tech_handler_spam", "Inline event-handler spam", models.SeverityMedium, 5,
			fmt.Sprintf("%d inline handlers, typical of injected markup", len(hits)), nil)
	} else {
		r.miss()
	}

	if dataURIRe.MatchString(body) {
		r.hit("tech_data_uri", "Executable data: URI", models.SeverityMedium, 5,
			"page sources script or markup from a data: URI", nil)
	} else {
		r.miss()
	}

	return r
}
