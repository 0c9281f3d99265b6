package fprebalance

import (
	"testing"

	"github.com/rawblock/urlscan-engine/pkg/models"
)

func contextFor(domain, tld string, ips []string, headers map[string]string, ns []string) *models.ScanContext {
	return &models.ScanContext{
		URL: models.URLComponents{Domain: domain, TLD: tld, Hostname: domain},
		Reachability: models.ReachabilityRecord{
			DNS:  models.DNSProbe{Resolved: len(ips) > 0, IPs: ips},
			HTTP: models.HTTPProbe{Headers: headers},
		},
		DNS: &models.DNSRecords{A: ips, NS: ns},
	}
}

func checkByName(t *testing.T, result *models.FPRebalanceResult, name string) models.FPCheckResult {
	t.Helper()
	for _, c := range result.Checks {
		if c.Check == name {
			return c
		}
	}
	t.Fatalf("check %s missing from %+v", name, result.Checks)
	return models.FPCheckResult{}
}

func TestCDNDetection(t *testing.T) {
	r := New()

	tests := []struct {
		name    string
		sc      *models.ScanContext
		matched bool
	}{
		{
			"cloudflare server header",
			contextFor("example.com", "com", nil, map[string]string{"server": "cloudflare"}, nil),
			true,
		},
		{
			"cloudflare IP range",
			contextFor("example.com", "com", []string{"104.16.1.1"}, nil, nil),
			true,
		},
		{
			"fastly nameserver",
			contextFor("example.com", "com", nil, nil, []string{"ns1.fastly.net."}),
			true,
		},
		{
			"plain origin host",
			contextFor("example.com", "com", []string{"93.184.216.34"}, map[string]string{"server": "nginx"}, []string{"ns1.example.com"}),
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := r.Run(tt.sc, false)
			if got := checkByName(t, result, CheckCDN).Matched; got != tt.matched {
				t.Errorf("cdn matched = %v, want %v", got, tt.matched)
			}
		})
	}
}

func TestResearchInternetDetection(t *testing.T) {
	r := New()

	result := r.Run(contextFor("scanner.example", "example", []string{"162.142.125.10"}, nil, nil), false)
	if !checkByName(t, result, CheckResearchInternet).Matched {
		t.Errorf("Censys range not recognized")
	}

	result = r.Run(contextFor("example.com", "com", []string{"93.184.216.34"}, nil, nil), false)
	if checkByName(t, result, CheckResearchInternet).Matched {
		t.Errorf("ordinary IP flagged as research scanner")
	}
}

func TestGovEduDetection(t *testing.T) {
	r := New()

	tests := []struct {
		name    string
		domain  string
		tld     string
		matched bool
	}{
		{"gov TLD", "irs.gov", "gov", true},
		{"edu TLD", "mit.edu", "edu", true},
		{"uk government namespace", "hmrc.gov.uk", "uk", true},
		{"known institution", "europa.eu", "eu", true},
		{"commercial domain", "example.com", "com", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := r.Run(contextFor(tt.domain, tt.tld, nil, nil, nil), false)
			if got := checkByName(t, result, CheckGovEdu).Matched; got != tt.matched {
				t.Errorf("gov_edu matched = %v, want %v", got, tt.matched)
			}
		})
	}
}

func TestMultiplierNeverAmplifies(t *testing.T) {
	r := New()

	// Gov TLD behind a CDN: both detectors fire, high legitimacy.
	sc := contextFor("treasury.gov", "gov", []string{"104.16.1.1"}, nil, nil)
	result := r.Run(sc, false)

	if result.LegitimacyScore < 80 {
		t.Errorf("LegitimacyScore = %d, want ≥ 80", result.LegitimacyScore)
	}
	if result.AdjustmentMultiplier != 0.5 {
		t.Errorf("AdjustmentMultiplier = %v, want 0.5", result.AdjustmentMultiplier)
	}
	if result.AdjustmentMultiplier > 1.0 {
		t.Errorf("multiplier above 1.0")
	}
}

func TestLegitimacyScoreCap(t *testing.T) {
	r := New()

	// All three detectors: 40+35+50 would exceed the scale.
	sc := contextFor("research.gov", "gov", []string{"162.142.125.10"}, map[string]string{"server": "cloudflare"}, nil)
	result := r.Run(sc, false)
	if result.LegitimacyScore != 100 {
		t.Errorf("LegitimacyScore = %d, want capped at 100", result.LegitimacyScore)
	}
}

func TestSuppressionOverridesLegitimacy(t *testing.T) {
	r := New()

	sc := contextFor("treasury.gov", "gov", []string{"104.16.1.1"}, nil, nil)
	result := r.Run(sc, true)

	if !result.Suppressed {
		t.Errorf("Suppressed not set")
	}
	if result.AdjustmentMultiplier != 1.0 {
		t.Errorf("AdjustmentMultiplier = %v, want 1.0 when suppressed", result.AdjustmentMultiplier)
	}
	if result.LegitimacyScore != 0 {
		t.Errorf("LegitimacyScore = %d, want 0 when suppressed", result.LegitimacyScore)
	}
	if len(result.Checks) != 0 {
		t.Errorf("detectors ran despite suppression")
	}
}

func TestNoSignalsMeansNeutral(t *testing.T) {
	r := New()

	sc := &models.ScanContext{URL: models.URLComponents{Domain: "example.com", TLD: "com"}}
	result := r.Run(sc, false)
	if result.AdjustmentMultiplier != 1.0 {
		t.Errorf("AdjustmentMultiplier = %v, want neutral 1.0", result.AdjustmentMultiplier)
	}
}
