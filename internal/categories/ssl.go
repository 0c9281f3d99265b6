package categories

import (
	"fmt"
	"strings"
	"time"

	"github.com/rawblock/urlscan-engine/pkg/models"
)

// SSL security: certificate validity window, self-signing, issuer
// reputation, hostname coverage, and key/signature strength. The certificate
// comes from the context gatherer; plain-HTTP sites score on the missing
// transport alone.

type sslAnalyzer struct {
	base
}

// commonIssuers covers the CAs behind the overwhelming majority of
// legitimate certificates. Substring match on the issuer common name.
var commonIssuers = []string{
	"let's encrypt",
	"digicert",
	"sectigo",
	"globalsign",
	"google trust services",
	"amazon",
	"cloudflare",
	"zerossl",
	"godaddy",
	"entrust",
	"certum",
	"actalis",
	"ssl.com",
	"buypass",
	"comodo",
	"geotrust",
	"rapidssl",
	"thawte",
	"microsoft",
	"apple public",
}

func (a *sslAnalyzer) Analyze(sc *models.ScanContext) *Report {
	r := &Report{}

	if sc.URL.Protocol != "https" {
		r.hit("no_https", "No HTTPS transport", models.SeverityHigh, 15,
			"site is served over plain HTTP", nil)
		return r
	}

	cert := sc.TLSCert
	if cert == nil {
		// HTTPS claimed but no certificate captured; nothing to judge.
		r.skip()
		return r
	}

	now := time.Now()

	switch {
	case now.After(cert.ValidTo):
		r.hit("cert_expired", "Certificate expired", models.SeverityCritical, 20,
			fmt.Sprintf("certificate expired %s", cert.ValidTo.Format("2006-01-02")),
			map[string]any{"validTo": cert.ValidTo})
	case now.Before(cert.ValidFrom):
		r.hit("cert_not_yet_valid", "Certificate not yet valid", models.SeverityHigh, 15,
			fmt.Sprintf("certificate validity begins %s", cert.ValidFrom.Format("2006-01-02")),
			map[string]any{"validFrom": cert.ValidFrom})
	case cert.ValidTo.Sub(now) <= 7*24*time.Hour:
		r.hit("cert_expiring", "Certificate expiring within 7 days", models.SeverityLow, 5,
			"certificate is about to lapse", map[string]any{"validTo": cert.ValidTo})
	default:
		r.miss()
	}

	if cert.SelfSigned {
		r.hit("cert_self_signed", "Self-signed certificate", models.SeverityHigh, 15,
			"subject and issuer are identical", map[string]any{"subject": cert.Subject})
	} else {
		r.miss()
	}

	// Freshly-minted certs correlate strongly with disposable phishing infra.
	if age := now.Sub(cert.ValidFrom); age >= 0 && age <= 7*24*time.Hour {
		r.hit("cert_very_new", "Certificate issued within 7 days", models.SeverityMedium, 8,
			fmt.Sprintf("issued %s ago", age.Round(time.Hour)), map[string]any{"validFrom": cert.ValidFrom})
	} else {
		r.miss()
	}

	if !cert.SelfSigned {
		if _, ok := containsAny(cert.IssuerCommonName+" "+cert.Issuer, commonIssuers); !ok {
			r.hit("cert_uncommon_issuer", "Issuer outside common CA set", models.SeverityLow, 5,
				fmt.Sprintf("issuer %q not recognized", cert.IssuerCommonName),
				map[string]any{"issuer": cert.Issuer})
		} else {
			r.miss()
		}
	}

	if hostnameCovered(sc.URL.Hostname, cert) {
		r.miss()
	} else {
		r.hit("cert_hostname_mismatch", "Hostname not covered by certificate", models.SeverityHigh, 15,
			fmt.Sprintf("%s matches neither CN %q nor any SAN", sc.URL.Hostname, cert.CommonName),
			map[string]any{"cn": cert.CommonName, "sans": cert.SANs})
	}

	// ECDSA keys top out at 521 bits, so sub-2048 above that bound means a
	// weak RSA modulus.
	if cert.KeySize > 521 && cert.KeySize < 2048 {
		r.hit("cert_weak_key", "Weak RSA key", models.SeverityMedium, 10,
			fmt.Sprintf("%d-bit key below the 2048-bit floor", cert.KeySize),
			map[string]any{"keySize": cert.KeySize})
	} else {
		r.miss()
	}

	if strings.Contains(strings.ToUpper(cert.SignatureAlgorithm), "SHA1") {
		r.hit("cert_sha1", "SHA-1 signature algorithm", models.SeverityMedium, 10,
			"certificate signed with deprecated SHA-1", map[string]any{"algorithm": cert.SignatureAlgorithm})
	} else {
		r.miss()
	}

	return r
}

// hostnameCovered checks the hostname against CN and SANs with single-label
// wildcard support.
func hostnameCovered(hostname string, cert *models.TLSCertInfo) bool {
	names := append([]string{cert.CommonName}, cert.SANs...)
	for _, name := range names {
		if matchesHostname(hostname, name) {
			return true
		}
	}
	return false
}

func matchesHostname(hostname, pattern string) bool {
	hostname = strings.ToLower(hostname)
	pattern = strings.ToLower(pattern)
	if pattern == "" {
		return false
	}
	if hostname == pattern {
		return true
	}
	// Wildcard covers exactly one label.
	if rest, ok := strings.CutPrefix(pattern, "*."); ok {
		if i := strings.IndexByte(hostname, '.'); i > 0 {
			return hostname[i+1:] == rest
		}
	}
	return false
}
