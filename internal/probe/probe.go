package probe

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rawblock/urlscan-engine/internal/config"
	"github.com/rawblock/urlscan-engine/pkg/models"
)

// Reachability probe: DNS → TCP → HTTP(S), sequential with early
// termination and per-step budgets. The classification is terminal — once a
// state is assigned it never transitions, and downstream pipeline selection
// keys off it directly.

// Prober runs the layered reachability probe. The lookup and dial hooks
// default to the system resolver/dialer and exist for tests.
type Prober struct {
	cfg     config.ProbeConfig
	markers config.MarkerConfig

	lookupIP func(ctx context.Context, host string) ([]net.IPAddr, error)
	dial     func(ctx context.Context, network, addr string) (net.Conn, error)
}

// New builds a prober. Marker lists from configuration extend the built-in
// defaults rather than replacing them.
func New(cfg config.ProbeConfig, markers config.MarkerConfig) *Prober {
	merged := config.MarkerConfig{
		Parked:   append(defaultParkedMarkers(), markers.Parked...),
		Sinkhole: append(defaultSinkholeMarkers(), markers.Sinkhole...),
		WAF:      append(defaultWAFMarkers(), markers.WAF...),
	}
	dialer := &net.Dialer{}
	return &Prober{
		cfg:      cfg,
		markers:  merged,
		lookupIP: net.DefaultResolver.LookupIPAddr,
		dial:     dialer.DialContext,
	}
}

// Probe walks the state machine for one canonicalized URL.
func (p *Prober) Probe(ctx context.Context, u *models.URLComponents) *models.ReachabilityRecord {
	start := time.Now()
	rec := &models.ReachabilityRecord{}
	defer func() { rec.Duration = time.Since(start).Milliseconds() }()

	// Step 1: DNS.
	rec.DNS = p.probeDNS(ctx, u.Hostname)
	if !rec.DNS.Resolved {
		rec.State = models.StateOffline
		return rec
	}

	// Step 2: TCP.
	port := portFor(u)
	rec.TCP = p.probeTCP(ctx, rec.DNS.IPs[0], port)
	if !rec.TCP.Connected {
		rec.State = models.StateOffline
		return rec
	}

	// Step 3: HTTP.
	rec.HTTP = p.probeHTTP(ctx, u)
	if !rec.HTTP.OK {
		rec.State = models.StateOffline
		return rec
	}

	rec.State, rec.Detection = p.classify(&rec.HTTP)
	return rec
}

func (p *Prober) probeDNS(ctx context.Context, host string) models.DNSProbe {
	start := time.Now()
	dnsCtx, cancel := context.WithTimeout(ctx, p.cfg.DNSTimeout)
	defer cancel()

	addrs, err := p.lookupIP(dnsCtx, host)
	probe := models.DNSProbe{Duration: time.Since(start).Milliseconds()}
	if err != nil || len(addrs) == 0 {
		if err != nil {
			probe.Error = err.Error()
		} else {
			probe.Error = "no addresses returned"
		}
		return probe
	}
	probe.Resolved = true
	for _, a := range addrs {
		probe.IPs = append(probe.IPs, a.IP.String())
	}
	return probe
}

func (p *Prober) probeTCP(ctx context.Context, ip string, port int) models.TCPProbe {
	start := time.Now()
	tcpCtx, cancel := context.WithTimeout(ctx, p.cfg.TCPTimeout)
	defer cancel()

	probe := models.TCPProbe{Port: port}
	conn, err := p.dial(tcpCtx, "tcp", net.JoinHostPort(ip, fmt.Sprintf("%d", port)))
	probe.Duration = time.Since(start).Milliseconds()
	if err != nil {
		probe.Error = err.Error()
		return probe
	}
	conn.Close()
	probe.Connected = true
	return probe
}

func (p *Prober) probeHTTP(ctx context.Context, u *models.URLComponents) models.HTTPProbe {
	start := time.Now()
	probe := models.HTTPProbe{}
	defer func() { probe.Duration = time.Since(start).Milliseconds() }()

	httpCtx, cancel := context.WithTimeout(ctx, p.cfg.HTTPTimeout)
	defer cancel()

	var chain []string
	client := &http.Client{
		Transport: &http.Transport{
			DialContext: p.dial,
			// Bad certificates are evidence for the SSL category, not a
			// reason to abandon the fetch.
			TLSClientConfig:   &tls.Config{InsecureSkipVerify: true},
			DisableKeepAlives: true,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) > p.cfg.MaxRedirects {
				return fmt.Errorf("too many redirects")
			}
			chain = append(chain, req.URL.String())
			return nil
		},
	}

	req, err := http.NewRequestWithContext(httpCtx, http.MethodGet, u.Canonical, nil)
	if err != nil {
		probe.Error = err.Error()
		return probe
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; URLScanEngine/1.0)")

	resp, err := client.Do(req)
	probe.RedirectChain = chain
	if err != nil {
		probe.Error = err.Error()
		return probe
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, models.MaxBodyPrefix))
	if readErr != nil && len(body) == 0 {
		probe.Error = readErr.Error()
		return probe
	}

	probe.OK = true
	probe.StatusCode = resp.StatusCode
	probe.FinalURL = resp.Request.URL.String()
	probe.Body = string(body)
	probe.Headers = make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		probe.Headers[strings.ToLower(k)] = resp.Header.Get(k)
	}
	return probe
}

// classify inspects the HTTP response against the marker tables. Precedence:
// sinkhole beats WAF beats parked — a seized domain fronted by a CDN must
// still read as seized.
func (p *Prober) classify(h *models.HTTPProbe) (models.ReachabilityState, string) {
	body := strings.ToLower(h.Body)

	for _, m := range p.markers.Sinkhole {
		if strings.Contains(body, strings.ToLower(m)) {
			return models.StateSinkhole, m
		}
	}

	for _, m := range p.markers.WAF {
		if strings.Contains(body, strings.ToLower(m)) {
			return models.StateWAFChallenge, m
		}
	}
	// A cf-ray header alone is just Cloudflare fronting; paired with a
	// challenge status it means the probe was walled off.
	if _, ok := h.Headers["cf-ray"]; ok {
		switch h.StatusCode {
		case http.StatusForbidden, http.StatusTooManyRequests, http.StatusServiceUnavailable:
			return models.StateWAFChallenge, "cf-ray challenge status"
		}
	}

	for _, m := range p.markers.Parked {
		if strings.Contains(body, strings.ToLower(m)) {
			return models.StateParked, m
		}
	}

	return models.StateOnline, ""
}

func portFor(u *models.URLComponents) int {
	if u.Port != "" {
		var port int
		if _, err := fmt.Sscanf(u.Port, "%d", &port); err == nil {
			return port
		}
	}
	if u.Protocol == "https" {
		return 443
	}
	return 80
}

// Built-in marker tables. Representative defaults; deployments extend them
// through MarkerConfig.

func defaultSinkholeMarkers() []string {
	return []string{
		"this domain has been seized",
		"domain seized by",
		"has been taken down",
		"suspended by the registrar",
		"this website has been blocked",
		"federal bureau of investigation",
		"in accordance with a seizure warrant",
		"associated with this domain name has been suspended",
		"sinkhole",
	}
}

func defaultWAFMarkers() []string {
	return []string{
		"checking your browser before accessing",
		"attention required! | cloudflare",
		"cf-browser-verification",
		"just a moment...",
		"ddos protection by",
		"please complete the security check",
		"verify you are a human",
		"captcha",
	}
}

func defaultParkedMarkers() []string {
	return []string{
		"this domain is for sale",
		"buy this domain",
		"domain is parked",
		"parked free, courtesy of",
		"domain parking",
		"sedoparking",
		"hugedomains",
		"this web page is parked",
		"the domain owner has parked",
	}
}
