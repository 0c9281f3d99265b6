package models

import (
	"strings"
	"time"
)

// DNSRecords holds the resolver output gathered ahead of category execution.
type DNSRecords struct {
	A     []string `json:"a,omitempty"`
	AAAA  []string `json:"aaaa,omitempty"`
	MX    []string `json:"mx,omitempty"`
	TXT   []string `json:"txt,omitempty"`
	NS    []string `json:"ns,omitempty"`
	DMARC []string `json:"dmarc,omitempty"` // TXT of _dmarc.<domain>
	DKIM  []string `json:"dkim,omitempty"`  // TXT of common DKIM selectors
}

// WhoisInfo is the parsed WHOIS answer. Nullable on the scan context —
// analyzers treat absence as "unknown", never as evidence.
type WhoisInfo struct {
	Registrar      string     `json:"registrar,omitempty"`
	CreatedDate    *time.Time `json:"createdDate,omitempty"`
	ExpiryDate     *time.Time `json:"expiryDate,omitempty"`
	UpdatedDate    *time.Time `json:"updatedDate,omitempty"`
	PrivacyService bool       `json:"privacyService"`
	Country        string     `json:"country,omitempty"`
	Raw            string     `json:"-"`
}

// TLSCertInfo describes the peer certificate presented during the TLS probe.
// Unauthorized certs are still captured for inspection.
type TLSCertInfo struct {
	Subject            string    `json:"subject"`
	Issuer             string    `json:"issuer"`
	CommonName         string    `json:"commonName"`
	IssuerCommonName   string    `json:"issuerCommonName"`
	ValidFrom          time.Time `json:"validFrom"`
	ValidTo            time.Time `json:"validTo"`
	KeySize            int       `json:"keySize"`
	SignatureAlgorithm string    `json:"signatureAlgorithm"`
	SANs               []string  `json:"sans,omitempty"`
	SelfSigned         bool      `json:"selfSigned"`
}

// ScanContext is the immutable snapshot every category analyzer reads.
// Built once by the context gatherer; never mutated during a scan.
type ScanContext struct {
	URL          URLComponents
	Reachability ReachabilityRecord
	Pipeline     PipelineType
	DNS          *DNSRecords
	Whois        *WhoisInfo
	TLSCert      *TLSCertInfo
	ScanID       string
	StartedAt    time.Time
}

// Body returns the captured HTTP body prefix, empty when the probe never
// fetched one.
func (c *ScanContext) Body() string {
	return c.Reachability.HTTP.Body
}

// Header returns a response header, empty when absent. Probe headers are
// stored lowercase, so lookup is case-insensitive.
func (c *ScanContext) Header(name string) string {
	if c.Reachability.HTTP.Headers == nil {
		return ""
	}
	return c.Reachability.HTTP.Headers[strings.ToLower(name)]
}
