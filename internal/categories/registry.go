package categories

import (
	"github.com/rawblock/urlscan-engine/internal/config"
	"github.com/rawblock/urlscan-engine/pkg/models"
)

// Category identifiers. These double as configuration keys for the weight
// table, so renaming one is a config-breaking change.
const (
	CatDomain     = "domain_analysis"
	CatSSL        = "ssl_security"
	CatContent    = "content_analysis"
	CatPhishing   = "phishing_patterns"
	CatMalware    = "malware_detection"
	CatBehavioral = "behavioral_js"
	CatSocial     = "social_engineering"
	CatFinancial  = "financial_fraud"
	CatIdentity   = "identity_theft"
	CatTechnical  = "technical_exploits"
	CatBrand      = "brand_impersonation"
	CatTrustGraph = "trust_graph"
	CatDataProt   = "data_protection"
	CatEmailSec   = "email_security"
	CatLegal      = "legal_compliance"
	CatHeaders    = "security_headers"
	CatRedirect   = "redirect_chain"
)

// pipelineSets lists which categories run outside the FULL pipeline. FULL
// runs everything; SINKHOLE runs nothing (the orchestrator short-circuits
// before the executor is reached).
var pipelineSets = map[models.PipelineType][]string{
	models.PipelinePassive: {CatDomain, CatEmailSec, CatTrustGraph, CatLegal},
	models.PipelineParked:  {CatDomain, CatContent, CatBrand, CatTrustGraph},
	models.PipelineWAF:     {CatDomain, CatSSL, CatHeaders, CatContent, CatTrustGraph},
}

func pipelinesFor(id string) map[models.PipelineType]bool {
	set := map[models.PipelineType]bool{models.PipelineFull: true}
	for pipeline, ids := range pipelineSets {
		for _, member := range ids {
			if member == id {
				set[pipeline] = true
			}
		}
	}
	return set
}

func newBase(id, name string, weights map[string]float64) base {
	return base{
		id:        id,
		name:      name,
		maxWeight: weights[id],
		pipelines: pipelinesFor(id),
	}
}

// BuildRegistry constructs the full analyzer set in canonical order, with
// weights drawn from configuration.
func BuildRegistry(cfg *config.Config) []Analyzer {
	w := cfg.CategoryWeights
	return []Analyzer{
		&domainAnalyzer{base: newBase(CatDomain, "Domain Analysis", w)},
		&sslAnalyzer{base: newBase(CatSSL, "SSL Security", w)},
		&contentAnalyzer{base: newBase(CatContent, "Content Analysis", w)},
		&phishingAnalyzer{base: newBase(CatPhishing, "Phishing Patterns", w)},
		&malwareAnalyzer{base: newBase(CatMalware, "Malware Detection", w)},
		&behavioralAnalyzer{base: newBase(CatBehavioral, "Behavioral JavaScript", w)},
		&socialAnalyzer{base: newBase(CatSocial, "Social Engineering", w)},
		&financialAnalyzer{base: newBase(CatFinancial, "Financial Fraud", w)},
		&identityAnalyzer{base: newBase(CatIdentity, "Identity Theft", w)},
		&technicalAnalyzer{base: newBase(CatTechnical, "Technical Exploits", w)},
		&brandAnalyzer{base: newBase(CatBrand, "Brand Impersonation", w)},
		&trustGraphAnalyzer{base: newBase(CatTrustGraph, "Trust Graph", w)},
		&dataProtectionAnalyzer{base: newBase(CatDataProt, "Data Protection", w)},
		&emailSecAnalyzer{base: newBase(CatEmailSec, "Email Security", w)},
		&legalAnalyzer{base: newBase(CatLegal, "Legal Compliance", w)},
		&headersAnalyzer{base: newBase(CatHeaders, "Security Headers", w)},
		&redirectAnalyzer{base: newBase(CatRedirect, "Redirect Chain", w)},
	}
}
