package models

import "time"

// URLComponents is the parsed, canonicalized form of a submitted URL.
// Immutable after creation: every downstream stage keys off Canonical/Hash.
type URLComponents struct {
	Original  string `json:"original"`
	Canonical string `json:"canonical"`
	Protocol  string `json:"protocol"`
	Hostname  string `json:"hostname"`
	Domain    string `json:"domain"` // effective-TLD+1
	Subdomain string `json:"subdomain,omitempty"`
	TLD       string `json:"tld"`
	Port      string `json:"port,omitempty"`
	Path      string `json:"path"`
	Query     string `json:"query,omitempty"`
	Fragment  string `json:"fragment,omitempty"` // stripped from canonical, kept for display
	Hash      string `json:"hash"`               // SHA-256 hex of Canonical
}

// ReachabilityState classifies how a host responded to the layered probe.
type ReachabilityState string

const (
	StateOnline       ReachabilityState = "ONLINE"
	StateOffline      ReachabilityState = "OFFLINE"
	StateParked       ReachabilityState = "PARKED"
	StateWAFChallenge ReachabilityState = "WAF_CHALLENGE"
	StateSinkhole     ReachabilityState = "SINKHOLE"
)

// DNSProbe is the outcome of the DNS resolution step.
type DNSProbe struct {
	Resolved bool     `json:"resolved"`
	IPs      []string `json:"ips,omitempty"`
	Error    string   `json:"error,omitempty"`
	Duration int64    `json:"durationMs"`
}

// TCPProbe is the outcome of the TCP connect step.
type TCPProbe struct {
	Connected bool   `json:"connected"`
	Port      int    `json:"port"`
	Error     string `json:"error,omitempty"`
	Duration  int64  `json:"durationMs"`
}

// HTTPProbe is the outcome of the HTTP(S) fetch step. Body holds at most
// MaxBodyPrefix bytes of the response.
type HTTPProbe struct {
	OK            bool              `json:"ok"`
	StatusCode    int               `json:"statusCode,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
	Body          string            `json:"-"` // ≤5 KB prefix, excluded from JSON payloads
	RedirectChain []string          `json:"redirectChain,omitempty"`
	FinalURL      string            `json:"finalUrl,omitempty"`
	Error         string            `json:"error,omitempty"`
	Duration      int64             `json:"durationMs"`
}

// MaxBodyPrefix caps how much of an HTTP response body the probe retains.
const MaxBodyPrefix = 5 * 1024

// ReachabilityRecord is the full result of the layered reachability probe.
// Terminal: once classified, State never transitions.
type ReachabilityRecord struct {
	State     ReachabilityState `json:"state"`
	DNS       DNSProbe          `json:"dns"`
	TCP       TCPProbe          `json:"tcp"`
	HTTP      HTTPProbe         `json:"http"`
	Detection string            `json:"detection,omitempty"` // matched parked/sinkhole/WAF marker
	Duration  int64             `json:"durationMs"`
}

// Severity levels for findings, ordered by weight.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
	SeverityInfo     = "info"
)

// Finding is a single scored observation emitted by a category check.
type Finding struct {
	CheckID   string         `json:"checkId"`
	CheckName string         `json:"checkName"`
	Severity  string         `json:"severity"` // critical/high/medium/low/info
	Score     float64        `json:"score"`    // points contributed, always ≥ 0
	Message   string         `json:"message"`
	Evidence  map[string]any `json:"evidence,omitempty"`
}

// CategoryMeta carries execution bookkeeping for a category run.
type CategoryMeta struct {
	ChecksRun     int    `json:"checksRun"`
	ChecksSkipped int    `json:"checksSkipped"`
	Duration      int64  `json:"durationMs"`
	Skipped       bool   `json:"skipped"`
	SkipReason    string `json:"skipReason,omitempty"`
}

// CategoryResult is a sealed analyzer output.
// Invariant: Score = min(Σ finding scores, MaxWeight); skipped ⇒ Score 0, no findings.
type CategoryResult struct {
	CategoryID string       `json:"categoryId"`
	Name       string       `json:"name"`
	Score      float64      `json:"score"`
	MaxWeight  float64      `json:"maxWeight"`
	Findings   []Finding    `json:"findings"`
	Meta       CategoryMeta `json:"meta"`
}

// TI source verdicts.
const (
	TIVerdictSafe       = "safe"
	TIVerdictMalicious  = "malicious"
	TIVerdictSuspicious = "suspicious"
	TIVerdictError      = "error"
)

// TISourceResult is one external threat-intelligence source's answer.
type TISourceResult struct {
	Source     string  `json:"source"`
	Verdict    string  `json:"verdict"` // safe/malicious/suspicious/error
	Score      float64 `json:"score"`
	Confidence int     `json:"confidence"` // 0-100
	Details    string  `json:"details,omitempty"`
	Duration   int64   `json:"durationMs"`
}

// TILayerResult aggregates the full 11-source threat-intelligence sweep.
type TILayerResult struct {
	Sources         []TISourceResult `json:"sources"`
	MaliciousCount  int              `json:"maliciousCount"`
	SuspiciousCount int              `json:"suspiciousCount"`
	SafeCount       int              `json:"safeCount"`
	ErrorCount      int              `json:"errorCount"`
	Score           float64          `json:"score"`
	MaxWeight       float64          `json:"maxWeight"`
	DualTier1Hit    bool             `json:"dualTier1Hit"` // ≥2 tier-1 sources malicious within window
	Duration        int64            `json:"durationMs"`
}

// PreGateResult is the stage-0 fast TI check over the top sources.
type PreGateResult struct {
	ShouldStop bool             `json:"shouldStop"`
	Source     string           `json:"source,omitempty"` // winning source on a hard stop
	Reason     string           `json:"reason,omitempty"`
	Confidence int              `json:"confidence,omitempty"` // 80-95 on a stop
	Results    []TISourceResult `json:"results"`
	Duration   int64            `json:"durationMs"`
}

// AI model verdict space.
const (
	AIVerdictSafe       = "SAFE"
	AIVerdictSuspicious = "SUSPICIOUS"
	AIVerdictPhishing   = "PHISHING"
	AIVerdictMalware    = "MALWARE"
	AIVerdictCritical   = "CRITICAL"
	AIVerdictUnknown    = "UNKNOWN"
)

// AIModelVote is a single model's judgment of the assembled scan evidence.
type AIModelVote struct {
	Model      string  `json:"model"`
	Verdict    string  `json:"verdict"`    // SAFE/SUSPICIOUS/PHISHING/MALWARE/CRITICAL
	Confidence int     `json:"confidence"` // 0-100
	Multiplier float64 `json:"multiplier"` // suggested, clamped per config
	Reasoning  string  `json:"reasoning,omitempty"`
	Error      string  `json:"error,omitempty"`
	Duration   int64   `json:"durationMs"`
}

// AIConsensusResult is the weighted agreement over all model votes.
type AIConsensusResult struct {
	Votes         []AIModelVote `json:"votes"`
	Verdict       string        `json:"verdict"` // argmax of confidence-weighted vote, or UNKNOWN
	Multiplier    float64       `json:"multiplier"`
	AgreementRate float64       `json:"agreementRate"` // fraction of models concurring
	ModelsQueried int           `json:"modelsQueried"`
	ModelsFailed  int           `json:"modelsFailed"`
	Duration      int64         `json:"durationMs"`
}

// FPCheckResult is one legitimacy detector's contribution.
type FPCheckResult struct {
	Check   string `json:"check"` // cdn/research_internet/gov_edu
	Matched bool   `json:"matched"`
	Detail  string `json:"detail,omitempty"`
	Points  int    `json:"points"` // legitimacy points contributed
}

// FPRebalanceResult is the false-positive rebalancer output.
type FPRebalanceResult struct {
	LegitimacyScore      int             `json:"legitimacyScore"` // 0-100
	AdjustmentMultiplier float64         `json:"adjustmentMultiplier"`
	Checks               []FPCheckResult `json:"checks"`
	Suppressed           bool            `json:"suppressed"` // tombstone / pre-gate hit overrides FP
}

// Risk levels, banded from finalScore/activeMaxScore.
const (
	RiskCritical = "critical"
	RiskHigh     = "high"
	RiskMedium   = "medium"
	RiskLow      = "low"
	RiskSafe     = "safe"
)

// PipelineType selects which category set runs, derived from reachability.
type PipelineType string

const (
	PipelineFull     PipelineType = "FULL"
	PipelinePassive  PipelineType = "PASSIVE"
	PipelineParked   PipelineType = "PARKED"
	PipelineWAF      PipelineType = "WAF"
	PipelineSinkhole PipelineType = "SINKHOLE"
)

// StageDurations records per-stage wall time for the scan.
type StageDurations struct {
	Stage0     int64 `json:"stage0Ms"`
	Gather     int64 `json:"gatherMs"`
	Categories int64 `json:"categoriesMs"`
	TILayer    int64 `json:"tiLayerMs"`
	AI         int64 `json:"aiMs"`
	Total      int64 `json:"totalMs"`
}

// FinalScanResult is the engine's complete verdict for one URL.
// Invariants: 0 ≤ FinalScore ≤ ActiveMaxScore; RiskLevel is strictly
// determined by FinalScore/ActiveMaxScore against configured thresholds.
type FinalScanResult struct {
	ScanID         string              `json:"scanId"`
	URL            URLComponents       `json:"url"`
	Reachability   *ReachabilityRecord `json:"reachability,omitempty"`
	Pipeline       PipelineType        `json:"pipeline"`
	Categories     []CategoryResult    `json:"categories"`
	TILayer        *TILayerResult      `json:"tiLayer,omitempty"`
	PreGate        *PreGateResult      `json:"preGate,omitempty"`
	AIConsensus    *AIConsensusResult  `json:"aiConsensus,omitempty"`
	FPRebalance    *FPRebalanceResult  `json:"fpRebalance,omitempty"`
	BaseScore      float64             `json:"baseScore"`
	AIMultiplier   float64             `json:"aiMultiplier"`
	FinalScore     float64             `json:"finalScore"`
	ActiveMaxScore float64             `json:"activeMaxScore"`
	RiskLevel      string              `json:"riskLevel"`
	RiskPercentage float64             `json:"riskPercentage"`
	FastPath       string              `json:"fastPath,omitempty"` // cache/tombstone/pregate/sinkhole
	Cached         bool                `json:"cached"`
	CacheAge       int64               `json:"cacheAgeSeconds,omitempty"`
	Stages         StageDurations      `json:"stages"`
	Errors         []string            `json:"errors,omitempty"` // non-fatal degradation notes
	Timestamp      time.Time           `json:"timestamp"`
}
