package intel

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/rawblock/urlscan-engine/internal/config"
	"github.com/rawblock/urlscan-engine/pkg/models"
)

// Per-source wire formats. Each client turns one feed's protocol into the
// shared verdict shape; everything outside a clean answer is an error the
// breaker gets to count.

func clientFor(name string) queryFunc {
	switch name {
	case SourceSafeBrowsing:
		return querySafeBrowsing
	case SourceVirusTotal:
		return queryVirusTotal
	case SourcePhishTank:
		return queryPhishTank
	case SourceURLhaus:
		return queryURLhaus
	case SourceOTX:
		return queryOTX
	case SourceThreatFox:
		return queryThreatFox
	case SourceSpamhausDBL, SourceSURBL:
		return queryDNSBL
	default:
		// Community feeds are consumed through a uniform JSON lookup.
		return queryJSONLookup
	}
}

func readBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil // clean "not listed" for ID-addressed APIs
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}

// ─── Google Safe Browsing (v4 threatMatches:find) ───

func querySafeBrowsing(ctx context.Context, client *http.Client, cfg config.TISourceConfig, apiKey, targetURL string) (*verdict, error) {
	payload := map[string]any{
		"client": map[string]string{"clientId": "urlscan-engine", "clientVersion": "1.0"},
		"threatInfo": map[string]any{
			"threatTypes":      []string{"MALWARE", "SOCIAL_ENGINEERING", "UNWANTED_SOFTWARE"},
			"platformTypes":    []string{"ANY_PLATFORM"},
			"threatEntryTypes": []string{"URL"},
			"threatEntries":    []map[string]string{{"url": targetURL}},
		},
	}
	raw, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Endpoint+"?key="+url.QueryEscape(apiKey), bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	body, err := readBody(resp)
	if err != nil {
		return nil, err
	}

	var answer struct {
		Matches []struct {
			ThreatType string `json:"threatType"`
		} `json:"matches"`
	}
	if err := json.Unmarshal(body, &answer); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if len(answer.Matches) > 0 {
		return &verdict{
			Verdict:    models.TIVerdictMalicious,
			Score:      95,
			Confidence: 95,
			Details:    "listed as " + answer.Matches[0].ThreatType,
		}, nil
	}
	return &verdict{Verdict: models.TIVerdictSafe, Confidence: 70}, nil
}

// ─── VirusTotal (v3, base64url URL identifier) ───

func queryVirusTotal(ctx context.Context, client *http.Client, cfg config.TISourceConfig, apiKey, targetURL string) (*verdict, error) {
	id := base64.RawURLEncoding.EncodeToString([]byte(targetURL))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(cfg.Endpoint, "/")+"/"+id, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-apikey", apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	body, err := readBody(resp)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return &verdict{Verdict: models.TIVerdictSafe, Confidence: 50, Details: "never scanned"}, nil
	}

	var answer struct {
		Data struct {
			Attributes struct {
				Stats struct {
					Malicious  int `json:"malicious"`
					Suspicious int `json:"suspicious"`
				} `json:"last_analysis_stats"`
			} `json:"attributes"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &answer); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	threshold := cfg.DetectionThreshold
	if threshold <= 0 {
		threshold = 5
	}

	stats := answer.Data.Attributes.Stats
	switch {
	case stats.Malicious >= threshold:
		return &verdict{
			Verdict:    models.TIVerdictMalicious,
			Score:      90,
			Confidence: 85,
			Details:    fmt.Sprintf("%d engines flag malicious", stats.Malicious),
		}, nil
	case stats.Malicious >= 1 || stats.Suspicious >= 3:
		return &verdict{
			Verdict:    models.TIVerdictSuspicious,
			Score:      50,
			Confidence: 60,
			Details:    fmt.Sprintf("%d malicious / %d suspicious engine votes", stats.Malicious, stats.Suspicious),
		}, nil
	}
	return &verdict{Verdict: models.TIVerdictSafe, Confidence: 75}, nil
}

// ─── PhishTank (checkurl form API) ───

func queryPhishTank(ctx context.Context, client *http.Client, cfg config.TISourceConfig, apiKey, targetURL string) (*verdict, error) {
	form := url.Values{}
	form.Set("url", targetURL)
	form.Set("format", "json")
	if apiKey != "" {
		form.Set("app_key", apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	body, err := readBody(resp)
	if err != nil {
		return nil, err
	}

	var answer struct {
		Results struct {
			InDatabase bool `json:"in_database"`
			Valid      bool `json:"valid"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &answer); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if answer.Results.InDatabase && answer.Results.Valid {
		return &verdict{Verdict: models.TIVerdictMalicious, Score: 90, Confidence: 90, Details: "verified phish"}, nil
	}
	if answer.Results.InDatabase {
		return &verdict{Verdict: models.TIVerdictSuspicious, Score: 40, Confidence: 55, Details: "reported, unverified"}, nil
	}
	return &verdict{Verdict: models.TIVerdictSafe, Confidence: 60}, nil
}

// ─── URLhaus (v1 url lookup) ───

func queryURLhaus(ctx context.Context, client *http.Client, cfg config.TISourceConfig, apiKey, targetURL string) (*verdict, error) {
	form := url.Values{}
	form.Set("url", targetURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if apiKey != "" {
		req.Header.Set("Auth-Key", apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	body, err := readBody(resp)
	if err != nil {
		return nil, err
	}

	var answer struct {
		QueryStatus string `json:"query_status"`
		URLStatus   string `json:"url_status"`
		Threat      string `json:"threat"`
	}
	if err := json.Unmarshal(body, &answer); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	switch answer.QueryStatus {
	case "ok":
		if answer.URLStatus == "online" {
			return &verdict{Verdict: models.TIVerdictMalicious, Score: 90, Confidence: 88,
				Details: "active " + answer.Threat}, nil
		}
		return &verdict{Verdict: models.TIVerdictSuspicious, Score: 40, Confidence: 60,
			Details: "known but offline"}, nil
	case "no_results":
		return &verdict{Verdict: models.TIVerdictSafe, Confidence: 60}, nil
	}
	return nil, fmt.Errorf("query_status %q", answer.QueryStatus)
}

// ─── AlienVault OTX (indicator general endpoint) ───

func queryOTX(ctx context.Context, client *http.Client, cfg config.TISourceConfig, apiKey, targetURL string) (*verdict, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		strings.TrimSuffix(cfg.Endpoint, "/")+"/"+url.PathEscape(targetURL)+"/general", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-OTX-API-KEY", apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	body, err := readBody(resp)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return &verdict{Verdict: models.TIVerdictSafe, Confidence: 50}, nil
	}

	var answer struct {
		PulseInfo struct {
			Count int `json:"count"`
		} `json:"pulse_info"`
	}
	if err := json.Unmarshal(body, &answer); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	switch {
	case answer.PulseInfo.Count >= 3:
		return &verdict{Verdict: models.TIVerdictMalicious, Score: 80, Confidence: 80,
			Details: fmt.Sprintf("%d threat pulses", answer.PulseInfo.Count)}, nil
	case answer.PulseInfo.Count >= 1:
		return &verdict{Verdict: models.TIVerdictSuspicious, Score: 40, Confidence: 55,
			Details: fmt.Sprintf("%d threat pulses", answer.PulseInfo.Count)}, nil
	}
	return &verdict{Verdict: models.TIVerdictSafe, Confidence: 60}, nil
}

// ─── ThreatFox (search_ioc) ───

func queryThreatFox(ctx context.Context, client *http.Client, cfg config.TISourceConfig, apiKey, targetURL string) (*verdict, error) {
	raw, _ := json.Marshal(map[string]string{"query": "search_ioc", "search_term": targetURL})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Endpoint, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	if apiKey != "" {
		req.Header.Set("Auth-Key", apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	body, err := readBody(resp)
	if err != nil {
		return nil, err
	}

	var answer struct {
		QueryStatus string `json:"query_status"`
		Data        []struct {
			ThreatType string `json:"threat_type"`
			Malware    string `json:"malware_printable"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &answer); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if answer.QueryStatus == "ok" && len(answer.Data) > 0 {
		return &verdict{Verdict: models.TIVerdictMalicious, Score: 85, Confidence: 82,
			Details: answer.Data[0].Malware + " IOC"}, nil
	}
	return &verdict{Verdict: models.TIVerdictSafe, Confidence: 55}, nil
}

// ─── DNS blocklists (Spamhaus DBL, SURBL) ───

// queryDNSBL resolves <registrable-domain>.<zone>; any answer in 127.0.0.0/8
// means listed, NXDOMAIN means clean. The Endpoint field carries the zone.
func queryDNSBL(ctx context.Context, _ *http.Client, cfg config.TISourceConfig, _ string, targetURL string) (*verdict, error) {
	parsed, err := url.Parse(targetURL)
	if err != nil {
		return nil, err
	}
	host := parsed.Hostname()
	if net.ParseIP(host) != nil {
		return &verdict{Verdict: models.TIVerdictSafe, Confidence: 40, Details: "IP literal, zone not applicable"}, nil
	}

	ips, err := net.DefaultResolver.LookupIPAddr(ctx, host+"."+cfg.Endpoint)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return &verdict{Verdict: models.TIVerdictSafe, Confidence: 65}, nil
		}
		return nil, err
	}
	for _, ip := range ips {
		if v4 := ip.IP.To4(); v4 != nil && v4[0] == 127 {
			return &verdict{Verdict: models.TIVerdictMalicious, Score: 85, Confidence: 85,
				Details: fmt.Sprintf("listed in %s (%s)", cfg.Endpoint, v4)}, nil
		}
	}
	return &verdict{Verdict: models.TIVerdictSafe, Confidence: 65}, nil
}

// ─── Community feeds (uniform JSON lookup) ───

// queryJSONLookup speaks the plain lookup shape the community feed mirrors
// expose: POST {"url": …} → {"verdict", "score", "confidence", "details"}.
func queryJSONLookup(ctx context.Context, client *http.Client, cfg config.TISourceConfig, apiKey, targetURL string) (*verdict, error) {
	raw, _ := json.Marshal(map[string]string{"url": targetURL})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Endpoint, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	body, err := readBody(resp)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return &verdict{Verdict: models.TIVerdictSafe, Confidence: 50}, nil
	}

	var answer struct {
		Verdict    string  `json:"verdict"`
		Score      float64 `json:"score"`
		Confidence int     `json:"confidence"`
		Details    string  `json:"details"`
	}
	if err := json.Unmarshal(body, &answer); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	switch answer.Verdict {
	case models.TIVerdictSafe, models.TIVerdictMalicious, models.TIVerdictSuspicious:
		return &verdict{Verdict: answer.Verdict, Score: answer.Score,
			Confidence: answer.Confidence, Details: answer.Details}, nil
	}
	return nil, fmt.Errorf("unknown verdict %q", answer.Verdict)
}
