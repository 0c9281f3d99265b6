package gather

import (
	"bufio"
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log"
	"net"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rawblock/urlscan-engine/pkg/models"
)

// Context gatherer: collects DNS records, WHOIS, and the TLS peer
// certificate concurrently, then seals everything into the read-only
// ScanContext the category analyzers consume. The HTTP response captured by
// the reachability probe is reused as-is — the gatherer never re-fetches.
//
// Every sub-lookup is best-effort: a failed WHOIS or certificate fetch
// leaves the corresponding field nil and the scan proceeds degraded.

const (
	dnsBudget   = 3 * time.Second
	whoisBudget = 4 * time.Second
	tlsBudget   = 3 * time.Second
)

// Gatherer assembles scan contexts. The hooks default to real network
// operations and exist for tests.
type Gatherer struct {
	resolver *net.Resolver

	whoisDial func(ctx context.Context, addr string) (net.Conn, error)
	tlsDial   func(ctx context.Context, addr string, cfg *tls.Config) (peeker, error)
}

// peeker is the slice of tls.Conn the gatherer needs.
type peeker interface {
	ConnectionState() tls.ConnectionState
	Close() error
}

// New builds a gatherer over the system resolver and dialer.
func New() *Gatherer {
	dialer := &net.Dialer{}
	return &Gatherer{
		resolver: net.DefaultResolver,
		whoisDial: func(ctx context.Context, addr string) (net.Conn, error) {
			return dialer.DialContext(ctx, "tcp", addr)
		},
		tlsDial: func(ctx context.Context, addr string, cfg *tls.Config) (peeker, error) {
			td := &tls.Dialer{NetDialer: dialer, Config: cfg}
			conn, err := td.DialContext(ctx, "tcp", addr)
			if err != nil {
				return nil, err
			}
			return conn.(*tls.Conn), nil
		},
	}
}

// Gather builds the scan context for one probed URL.
func (g *Gatherer) Gather(ctx context.Context, scanID string, u *models.URLComponents,
	reach *models.ReachabilityRecord, pipeline models.PipelineType) *models.ScanContext {

	sc := &models.ScanContext{
		URL:          *u,
		Reachability: *reach,
		Pipeline:     pipeline,
		ScanID:       scanID,
		StartedAt:    time.Now().UTC(),
	}

	// Nothing to look up for a host that never resolved.
	if !reach.DNS.Resolved {
		return sc
	}

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		sc.DNS = g.lookupRecords(egCtx, u.Hostname, u.Domain)
		return nil
	})
	eg.Go(func() error {
		whois, err := g.lookupWhois(egCtx, u.Domain)
		if err != nil {
			log.Printf("[Gather] WHOIS unavailable for %s: %v", u.Domain, err)
			return nil
		}
		sc.Whois = whois
		return nil
	})
	if u.Protocol == "https" && reach.State == models.StateOnline {
		eg.Go(func() error {
			cert, err := g.fetchCertificate(egCtx, u)
			if err != nil {
				log.Printf("[Gather] TLS certificate unavailable for %s: %v", u.Hostname, err)
				return nil
			}
			sc.TLSCert = cert
			return nil
		})
	}

	_ = eg.Wait() // workers only log; they never return errors
	return sc
}

// ─── DNS ───

// dkimSelectors are the conventional selector names probed for a DKIM key.
var dkimSelectors = []string{"default", "google", "selector1"}

func (g *Gatherer) lookupRecords(ctx context.Context, host, domain string) *models.DNSRecords {
	dnsCtx, cancel := context.WithTimeout(ctx, dnsBudget)
	defer cancel()

	rec := &models.DNSRecords{}

	if ips, err := g.resolver.LookupIPAddr(dnsCtx, host); err == nil {
		for _, ip := range ips {
			if v4 := ip.IP.To4(); v4 != nil {
				rec.A = append(rec.A, v4.String())
			} else {
				rec.AAAA = append(rec.AAAA, ip.IP.String())
			}
		}
	}
	if mxs, err := g.resolver.LookupMX(dnsCtx, host); err == nil {
		for _, mx := range mxs {
			rec.MX = append(rec.MX, strings.TrimSuffix(mx.Host, "."))
		}
	}
	if txts, err := g.resolver.LookupTXT(dnsCtx, host); err == nil {
		rec.TXT = txts
	}
	if nss, err := g.resolver.LookupNS(dnsCtx, host); err == nil {
		for _, ns := range nss {
			rec.NS = append(rec.NS, strings.TrimSuffix(ns.Host, "."))
		}
	}

	// Mail-policy records hang off the registrable domain, not the host.
	if domain == "" {
		domain = host
	}
	if txts, err := g.resolver.LookupTXT(dnsCtx, "_dmarc."+domain); err == nil {
		rec.DMARC = txts
	}
	for _, sel := range dkimSelectors {
		if txts, err := g.resolver.LookupTXT(dnsCtx, sel+"._domainkey."+domain); err == nil && len(txts) > 0 {
			rec.DKIM = append(rec.DKIM, txts...)
			break
		}
	}
	return rec
}

// ─── WHOIS ───

// lookupWhois follows the IANA referral to the TLD's whois server and parses
// the registrar answer. Returns an error when the protocol round trip fails;
// a thin or unparsable answer still yields a partially-filled record.
func (g *Gatherer) lookupWhois(ctx context.Context, domain string) (*models.WhoisInfo, error) {
	whoisCtx, cancel := context.WithTimeout(ctx, whoisBudget)
	defer cancel()

	referral, err := g.whoisQuery(whoisCtx, "whois.iana.org:43", domain)
	if err != nil {
		return nil, fmt.Errorf("iana referral: %w", err)
	}
	server := parseWhoisField(referral, "refer")
	if server == "" {
		return nil, fmt.Errorf("no whois referral for %s", domain)
	}

	raw, err := g.whoisQuery(whoisCtx, net.JoinHostPort(server, "43"), domain)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", server, err)
	}
	return parseWhois(raw), nil
}

func (g *Gatherer) whoisQuery(ctx context.Context, addr, query string) (string, error) {
	conn, err := g.whoisDial(ctx, addr)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	if _, err := fmt.Fprintf(conn, "%s\r\n", query); err != nil {
		return "", err
	}

	var sb strings.Builder
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		sb.WriteString(scanner.Text())
		sb.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil && sb.Len() == 0 {
		return "", err
	}
	return sb.String(), nil
}

func parseWhois(raw string) *models.WhoisInfo {
	info := &models.WhoisInfo{Raw: raw}

	info.Registrar = parseWhoisField(raw, "registrar")
	info.Country = parseWhoisField(raw, "registrant country")
	if info.Country == "" {
		info.Country = parseWhoisField(raw, "country")
	}
	info.CreatedDate = parseWhoisDate(raw, "creation date", "created", "registered on")
	info.ExpiryDate = parseWhoisDate(raw, "registry expiry date", "expiry date", "expires")
	info.UpdatedDate = parseWhoisDate(raw, "updated date", "last updated")

	lower := strings.ToLower(raw)
	for _, marker := range []string{"privacy", "redacted for privacy", "whoisguard", "domains by proxy"} {
		if strings.Contains(lower, marker) {
			info.PrivacyService = true
			break
		}
	}
	return info
}

// parseWhoisField finds "key: value" case-insensitively, first match wins.
func parseWhoisField(raw, key string) string {
	for _, line := range strings.Split(raw, "\n") {
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(k), key) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

var whoisDateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05Z",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02-Jan-2006",
	"2006.01.02",
}

func parseWhoisDate(raw string, keys ...string) *time.Time {
	for _, key := range keys {
		v := parseWhoisField(raw, key)
		if v == "" {
			continue
		}
		v = strings.Fields(v)[0]
		for _, layout := range whoisDateLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				t = t.UTC()
				return &t
			}
		}
	}
	return nil
}

// ─── TLS ───

// fetchCertificate pulls the peer certificate for inspection. Verification
// is deliberately skipped: an invalid chain is a finding for the SSL
// category, not a gather failure.
func (g *Gatherer) fetchCertificate(ctx context.Context, u *models.URLComponents) (*models.TLSCertInfo, error) {
	tlsCtx, cancel := context.WithTimeout(ctx, tlsBudget)
	defer cancel()

	port := u.Port
	if port == "" {
		port = "443"
	}
	conn, err := g.tlsDial(tlsCtx, net.JoinHostPort(u.Hostname, port), &tls.Config{
		InsecureSkipVerify: true,
		ServerName:         u.Hostname,
	})
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	state := conn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return nil, fmt.Errorf("no peer certificate presented")
	}
	return describeCertificate(state.PeerCertificates[0]), nil
}

func describeCertificate(cert *x509.Certificate) *models.TLSCertInfo {
	info := &models.TLSCertInfo{
		Subject:            cert.Subject.String(),
		Issuer:             cert.Issuer.String(),
		CommonName:         cert.Subject.CommonName,
		IssuerCommonName:   cert.Issuer.CommonName,
		ValidFrom:          cert.NotBefore,
		ValidTo:            cert.NotAfter,
		SignatureAlgorithm: cert.SignatureAlgorithm.String(),
		SANs:               cert.DNSNames,
		SelfSigned:         cert.Subject.String() == cert.Issuer.String(),
	}
	switch pub := cert.PublicKey.(type) {
	case *rsa.PublicKey:
		info.KeySize = pub.N.BitLen()
	case *ecdsa.PublicKey:
		info.KeySize = pub.Curve.Params().BitSize
	case ed25519.PublicKey:
		info.KeySize = len(pub) * 8
	}
	return info
}
