package gather

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/rawblock/urlscan-engine/pkg/models"
)

const sampleWhois = `Domain Name: EXAMPLE.ORG
Registrar: Example Registrar, LLC
Creation Date: 2015-08-14T04:00:00Z
Registry Expiry Date: 2027-08-14T04:00:00Z
Updated Date: 2024-07-01T09:30:00Z
Registrant Country: US
Registrant Organization: REDACTED FOR PRIVACY
`

func TestParseWhois(t *testing.T) {
	info := parseWhois(sampleWhois)

	if info.Registrar != "Example Registrar, LLC" {
		t.Errorf("Registrar = %q", info.Registrar)
	}
	if info.Country != "US" {
		t.Errorf("Country = %q", info.Country)
	}
	if info.CreatedDate == nil || info.CreatedDate.Year() != 2015 {
		t.Errorf("CreatedDate = %v", info.CreatedDate)
	}
	if info.ExpiryDate == nil || info.ExpiryDate.Year() != 2027 {
		t.Errorf("ExpiryDate = %v", info.ExpiryDate)
	}
	if !info.PrivacyService {
		t.Errorf("PrivacyService = false, want true for redacted record")
	}
}

func TestParseWhoisDateLayouts(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		year int
	}{
		{"rfc3339", "Creation Date: 2020-01-15T00:00:00Z\n", 2020},
		{"date only", "created: 2019-03-02\n", 2019},
		{"legacy registrar format", "created: 05-Jun-2001\n", 2001},
		{"trailing comment stripped", "Creation Date: 2018-11-20 (registry time)\n", 2018},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := parseWhoisDate(tt.raw, "creation date", "created")
			if d == nil {
				t.Fatalf("no date parsed")
			}
			if d.Year() != tt.year {
				t.Errorf("year = %d, want %d", d.Year(), tt.year)
			}
		})
	}
}

func TestParseWhoisMissingFieldsStayUnknown(t *testing.T) {
	info := parseWhois("Domain Name: THIN.EXAMPLE\n")
	if info.Registrar != "" || info.CreatedDate != nil || info.ExpiryDate != nil {
		t.Errorf("thin record produced fabricated fields: %+v", info)
	}
}

// whoisPipeServer answers one whois query over a net.Pipe.
func whoisPipeServer(t *testing.T, answers map[string]string) func(ctx context.Context, addr string) (net.Conn, error) {
	t.Helper()
	return func(ctx context.Context, addr string) (net.Conn, error) {
		answer, ok := answers[addr]
		if !ok {
			return nil, fmt.Errorf("unexpected whois server %s", addr)
		}
		client, server := net.Pipe()
		go func() {
			defer server.Close()
			buf := make([]byte, 256)
			_, _ = server.Read(buf)
			_, _ = server.Write([]byte(answer))
		}()
		return client, nil
	}
}

func TestLookupWhoisFollowsReferral(t *testing.T) {
	g := New()
	g.whoisDial = whoisPipeServer(t, map[string]string{
		"whois.iana.org:43": "refer: whois.pir.org\n",
		"whois.pir.org:43":  sampleWhois,
	})

	info, err := g.lookupWhois(context.Background(), "example.org")
	if err != nil {
		t.Fatalf("lookupWhois: %v", err)
	}
	if info.Registrar != "Example Registrar, LLC" {
		t.Errorf("Registrar = %q", info.Registrar)
	}
}

func TestLookupWhoisNoReferral(t *testing.T) {
	g := New()
	g.whoisDial = whoisPipeServer(t, map[string]string{
		"whois.iana.org:43": "% no entry found\n",
	})

	if _, err := g.lookupWhois(context.Background(), "example.zzz"); err == nil {
		t.Errorf("expected error when IANA has no referral")
	}
}

func TestFetchCertificate(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	parsed, _ := url.Parse(srv.URL)
	g := New()
	cert, err := g.fetchCertificate(context.Background(), &models.URLComponents{
		Hostname: parsed.Hostname(),
		Port:     parsed.Port(),
		Protocol: "https",
	})
	if err != nil {
		t.Fatalf("fetchCertificate: %v", err)
	}
	if cert.ValidTo.Before(time.Now()) {
		t.Errorf("test server cert reported expired: %v", cert.ValidTo)
	}
	if cert.KeySize == 0 {
		t.Errorf("KeySize not derived")
	}
	if cert.SignatureAlgorithm == "" {
		t.Errorf("SignatureAlgorithm empty")
	}
}

func TestGatherAttachesProbeResponse(t *testing.T) {
	g := New()
	// Fail fast on any network touch; the probe data must still carry over.
	g.whoisDial = func(ctx context.Context, addr string) (net.Conn, error) {
		return nil, fmt.Errorf("offline test")
	}
	g.tlsDial = func(ctx context.Context, addr string, cfg *tls.Config) (peeker, error) {
		return nil, fmt.Errorf("offline test")
	}

	reach := &models.ReachabilityRecord{
		State: models.StateOffline,
		DNS:   models.DNSProbe{Resolved: false},
		HTTP:  models.HTTPProbe{},
	}
	u := &models.URLComponents{
		Canonical: "https://example.org",
		Hostname:  "example.org",
		Domain:    "example.org",
		Protocol:  "https",
	}

	sc := g.Gather(context.Background(), "scan-1", u, reach, models.PipelinePassive)
	if sc.ScanID != "scan-1" {
		t.Errorf("ScanID = %s", sc.ScanID)
	}
	if sc.Pipeline != models.PipelinePassive {
		t.Errorf("Pipeline = %s", sc.Pipeline)
	}
	// Unresolved host: no lookups attempted, nullable fields stay nil.
	if sc.DNS != nil || sc.Whois != nil || sc.TLSCert != nil {
		t.Errorf("lookups ran for unresolved host")
	}
}

func TestScanContextHeaderLookup(t *testing.T) {
	sc := &models.ScanContext{
		Reachability: models.ReachabilityRecord{
			HTTP: models.HTTPProbe{
				Headers: map[string]string{"content-security-policy": "default-src 'self'"},
				Body:    "<html>hello</html>",
			},
		},
	}
	if got := sc.Header("Content-Security-Policy"); !strings.Contains(got, "default-src") {
		t.Errorf("Header lookup = %q", got)
	}
	if sc.Body() == "" {
		t.Errorf("Body lost")
	}
}
