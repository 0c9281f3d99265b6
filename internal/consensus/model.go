package consensus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rawblock/urlscan-engine/internal/config"
	"github.com/rawblock/urlscan-engine/pkg/models"
)

// Per-model HTTP clients. Two wire formats cover the roster: the Anthropic
// messages API and the OpenAI-compatible chat completions shape every other
// provider speaks.

const systemPrompt = `You are a URL threat analyst. Given scan evidence, answer with a single JSON object:
{"verdict":"SAFE|SUSPICIOUS|PHISHING|MALWARE|CRITICAL","confidence":0-100,"multiplier":0.7-1.3,"reasoning":"one sentence"}
The multiplier scales the heuristic score: below 1.0 when the evidence looks benign, above 1.0 when it understates the threat.`

type modelClient struct {
	cfg    config.AIModelConfig
	apiKey string
	client *http.Client
}

func newModelClient(cfg config.AIModelConfig, apiKey string) *modelClient {
	return &modelClient{cfg: cfg, apiKey: apiKey, client: &http.Client{}}
}

// vote queries one model. Every failure mode lands in the vote's Error field.
func (m *modelClient) vote(ctx context.Context, prompt string, ai config.AIConfig) models.AIModelVote {
	start := time.Now()
	v := models.AIModelVote{Model: m.cfg.ModelID}
	defer func() { v.Duration = time.Since(start).Milliseconds() }()

	timeout := m.cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	modelCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var content string
	var err error
	if m.cfg.Provider == "anthropic" {
		content, err = m.callAnthropic(modelCtx, prompt)
	} else {
		content, err = m.callOpenAI(modelCtx, prompt)
	}
	if err != nil {
		v.Error = err.Error()
		return v
	}

	answer, err := parseAnswer(content)
	if err != nil {
		v.Error = err.Error()
		return v
	}
	v.Verdict = answer.Verdict
	v.Confidence = answer.Confidence
	v.Multiplier = clamp(answer.Multiplier, ai.MinMultiplier, ai.MaxMultiplier)
	v.Reasoning = answer.Reasoning
	return v
}

func (m *modelClient) callOpenAI(ctx context.Context, prompt string) (string, error) {
	payload := map[string]any{
		"model": m.cfg.ModelID,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": prompt},
		},
		"temperature": 0,
	}
	body, err := m.post(ctx, payload, map[string]string{
		"Authorization": "Bearer " + m.apiKey,
	})
	if err != nil {
		return "", err
	}

	var resp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

func (m *modelClient) callAnthropic(ctx context.Context, prompt string) (string, error) {
	payload := map[string]any{
		"model":      m.cfg.ModelID,
		"max_tokens": 256,
		"system":     systemPrompt,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	}
	body, err := m.post(ctx, payload, map[string]string{
		"x-api-key":         m.apiKey,
		"anthropic-version": "2023-06-01",
	})
	if err != nil {
		return "", err
	}

	var resp struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	if len(resp.Content) == 0 {
		return "", fmt.Errorf("empty content in response")
	}
	return resp.Content[0].Text, nil
}

func (m *modelClient) post(ctx context.Context, payload any, headers map[string]string) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.Endpoint, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}

type modelAnswer struct {
	Verdict    string  `json:"verdict"`
	Confidence int     `json:"confidence"`
	Multiplier float64 `json:"multiplier"`
	Reasoning  string  `json:"reasoning"`
}

var validVerdicts = map[string]bool{
	models.AIVerdictSafe: true, models.AIVerdictSuspicious: true,
	models.AIVerdictPhishing: true, models.AIVerdictMalware: true,
	models.AIVerdictCritical: true,
}

// parseAnswer extracts the JSON object from the model's reply, tolerating
// surrounding prose and code fences.
func parseAnswer(content string) (*modelAnswer, error) {
	open := strings.IndexByte(content, '{')
	end := strings.LastIndexByte(content, '}')
	if open < 0 || end <= open {
		return nil, fmt.Errorf("no JSON object in model reply")
	}

	var answer modelAnswer
	if err := json.Unmarshal([]byte(content[open:end+1]), &answer); err != nil {
		return nil, fmt.Errorf("malformed model reply: %w", err)
	}
	answer.Verdict = strings.ToUpper(strings.TrimSpace(answer.Verdict))
	if !validVerdicts[answer.Verdict] {
		return nil, fmt.Errorf("verdict %q outside the verdict space", answer.Verdict)
	}
	if answer.Confidence < 0 {
		answer.Confidence = 0
	}
	if answer.Confidence > 100 {
		answer.Confidence = 100
	}
	if answer.Multiplier == 0 {
		answer.Multiplier = 1.0
	}
	return &answer, nil
}
