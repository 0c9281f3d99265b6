package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Engine configuration, loaded from YAML with URLSCAN_* environment
// overrides. Every weight, threshold, budget, and external-source record the
// scan pipeline consumes lives here so operators can retune the engine
// without a rebuild.

// Config is the root configuration object.
type Config struct {
	CategoryWeights map[string]float64 `mapstructure:"category_weights"`
	TIMaxWeight     float64            `mapstructure:"ti_max_weight"`
	Thresholds      Thresholds         `mapstructure:"thresholds"`
	CacheTTLs       CacheTTLs          `mapstructure:"cache_ttls"`
	Probe           ProbeConfig        `mapstructure:"probe"`
	PreGate         PreGateConfig      `mapstructure:"pregate"`
	TISources       []TISourceConfig   `mapstructure:"ti_sources"`
	Breaker         BreakerConfig      `mapstructure:"breaker"`
	AI              AIConfig           `mapstructure:"ai"`
	Markers         MarkerConfig       `mapstructure:"markers"`
	Events          EventConfig        `mapstructure:"events"`
	Concurrency     ConcurrencyConfig  `mapstructure:"concurrency"`
}

// Thresholds are the risk bands as percentages of activeMaxScore.
// Banding must stay monotone: critical ≥ high ≥ medium ≥ low.
type Thresholds struct {
	Critical float64 `mapstructure:"critical"`
	High     float64 `mapstructure:"high"`
	Medium   float64 `mapstructure:"medium"`
	Low      float64 `mapstructure:"low"`
}

// CacheTTLs key scan-result retention off the verdict's risk level.
type CacheTTLs struct {
	Critical time.Duration `mapstructure:"critical"`
	High     time.Duration `mapstructure:"high"`
	Medium   time.Duration `mapstructure:"medium"`
	Low      time.Duration `mapstructure:"low"`
	Safe     time.Duration `mapstructure:"safe"`
	Reach    time.Duration `mapstructure:"reach"`
}

// TTLFor maps a risk level to its cache TTL.
func (c CacheTTLs) TTLFor(riskLevel string) time.Duration {
	switch riskLevel {
	case "critical":
		return c.Critical
	case "high":
		return c.High
	case "medium":
		return c.Medium
	case "low":
		return c.Low
	default:
		return c.Safe
	}
}

// ProbeConfig bounds the reachability probe.
type ProbeConfig struct {
	DNSTimeout   time.Duration `mapstructure:"dns_timeout"`
	TCPTimeout   time.Duration `mapstructure:"tcp_timeout"`
	HTTPTimeout  time.Duration `mapstructure:"http_timeout"`
	MaxRedirects int           `mapstructure:"max_redirects"`
}

// PreGateConfig bounds the stage-0 TI pre-gate.
type PreGateConfig struct {
	SourceTimeout time.Duration `mapstructure:"source_timeout"`
	TotalBudget   time.Duration `mapstructure:"total_budget"`
	VTThreshold   int           `mapstructure:"vt_threshold"` // VirusTotal detections for a hard stop
}

// TISourceConfig describes one external threat-intelligence source.
type TISourceConfig struct {
	Name         string        `mapstructure:"name"`
	Tier         int           `mapstructure:"tier"` // 1 most trusted … 3 community
	Endpoint     string        `mapstructure:"endpoint"`
	EncryptedKey string        `mapstructure:"encrypted_key"`
	KeyEnv       string        `mapstructure:"key_env"` // env fallback for the API key
	Timeout      time.Duration `mapstructure:"timeout"`
	RatePerSec   float64       `mapstructure:"rate_per_sec"`
	// DetectionThreshold is the engine-vote quorum for a malicious verdict,
	// for sources that report per-engine counts (VirusTotal).
	DetectionThreshold int  `mapstructure:"detection_threshold"`
	Enabled            bool `mapstructure:"enabled"`
}

// BreakerConfig tunes the per-source circuit breakers.
type BreakerConfig struct {
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
	SuccessThreshold uint32        `mapstructure:"success_threshold"`
	OpenCooldown     time.Duration `mapstructure:"open_cooldown"`
}

// AIModelConfig is one model record for the consensus engine.
type AIModelConfig struct {
	Provider     string        `mapstructure:"provider"` // openai/anthropic/openai-compatible
	ModelID      string        `mapstructure:"model_id"`
	Weight       float64       `mapstructure:"weight"` // relative vote weight, unset counts as 1
	Timeout      time.Duration `mapstructure:"timeout"`
	Endpoint     string        `mapstructure:"endpoint"`
	EncryptedKey string        `mapstructure:"encrypted_key"`
	KeyEnv       string        `mapstructure:"key_env"`
	Enabled      bool          `mapstructure:"enabled"`
}

// AIConfig bounds the consensus engine.
type AIConfig struct {
	Models              []AIModelConfig `mapstructure:"models"`
	MinMultiplier       float64         `mapstructure:"min_multiplier"`
	MaxMultiplier       float64         `mapstructure:"max_multiplier"`
	FallbackMultiplier  float64         `mapstructure:"fallback_multiplier"`
	MaxFindingsInPrompt int             `mapstructure:"max_findings_in_prompt"`
}

// MarkerConfig externalizes the probe's pattern tables. Defaults ship in
// code; operators may extend them per deployment.
type MarkerConfig struct {
	Parked   []string `mapstructure:"parked"`
	Sinkhole []string `mapstructure:"sinkhole"`
	WAF      []string `mapstructure:"waf"`
}

// EventConfig tunes the scan event emitter.
type EventConfig struct {
	BufferSize   int  `mapstructure:"buffer_size"`
	DropSlowSubs bool `mapstructure:"drop_slow_subscribers"`
}

// ConcurrencyConfig caps fan-out per stage.
type ConcurrencyConfig struct {
	Categories int `mapstructure:"categories"`
	TISources  int `mapstructure:"ti_sources"`
	AIModels   int `mapstructure:"ai_models"`
}

// Load reads the configuration file (optional) and applies env overrides.
// Missing files fall back to defaults so the engine can boot bare.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("URLSCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("engine")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
			log.Println("[Config] No config file found, using built-in defaults")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration without touching the filesystem.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Defaults are compiled in; failing to unmarshal them is a programmer error.
		panic(fmt.Sprintf("config defaults are invalid: %v", err))
	}
	return &cfg
}

func (c *Config) validate() error {
	if c.Thresholds.Critical < c.Thresholds.High ||
		c.Thresholds.High < c.Thresholds.Medium ||
		c.Thresholds.Medium < c.Thresholds.Low {
		return fmt.Errorf("risk thresholds must be monotone: critical ≥ high ≥ medium ≥ low")
	}
	if c.AI.MinMultiplier > c.AI.MaxMultiplier {
		return fmt.Errorf("ai.min_multiplier %v exceeds ai.max_multiplier %v",
			c.AI.MinMultiplier, c.AI.MaxMultiplier)
	}
	if c.AI.FallbackMultiplier < c.AI.MinMultiplier || c.AI.FallbackMultiplier > c.AI.MaxMultiplier {
		return fmt.Errorf("ai.fallback_multiplier %v outside [%v, %v]",
			c.AI.FallbackMultiplier, c.AI.MinMultiplier, c.AI.MaxMultiplier)
	}
	for id, w := range c.CategoryWeights {
		if w < 0 {
			return fmt.Errorf("category weight for %s is negative", id)
		}
	}
	return nil
}

// setDefaults wires the design defaults: category weights (summing with the
// TI layer to 590 points), risk bands, TTL table, probe budgets.
func setDefaults(v *viper.Viper) {
	v.SetDefault("category_weights", map[string]float64{
		"domain_analysis":     40,
		"ssl_security":        45,
		"content_analysis":    40,
		"phishing_patterns":   50,
		"malware_detection":   45,
		"behavioral_js":       25,
		"social_engineering":  30,
		"financial_fraud":     25,
		"identity_theft":      20,
		"technical_exploits":  15,
		"brand_impersonation": 20,
		"trust_graph":         30,
		"data_protection":     50,
		"email_security":      25,
		"legal_compliance":    35,
		"security_headers":    25,
		"redirect_chain":      15,
	})
	v.SetDefault("ti_max_weight", 55.0)

	v.SetDefault("thresholds.critical", 80.0)
	v.SetDefault("thresholds.high", 60.0)
	v.SetDefault("thresholds.medium", 30.0)
	v.SetDefault("thresholds.low", 15.0)

	v.SetDefault("cache_ttls.critical", 5*time.Minute)
	v.SetDefault("cache_ttls.high", 30*time.Minute)
	v.SetDefault("cache_ttls.medium", time.Hour)
	v.SetDefault("cache_ttls.low", 4*time.Hour)
	v.SetDefault("cache_ttls.safe", 24*time.Hour)
	v.SetDefault("cache_ttls.reach", 10*time.Minute)

	v.SetDefault("probe.dns_timeout", 2*time.Second)
	v.SetDefault("probe.tcp_timeout", 2*time.Second)
	v.SetDefault("probe.http_timeout", 3*time.Second)
	v.SetDefault("probe.max_redirects", 3)

	v.SetDefault("pregate.source_timeout", 1500*time.Millisecond)
	v.SetDefault("pregate.total_budget", 2*time.Second)
	v.SetDefault("pregate.vt_threshold", 5)

	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.success_threshold", 2)
	v.SetDefault("breaker.open_cooldown", 60*time.Second)

	v.SetDefault("ai.min_multiplier", 0.7)
	v.SetDefault("ai.max_multiplier", 1.3)
	v.SetDefault("ai.fallback_multiplier", 1.0)
	v.SetDefault("ai.max_findings_in_prompt", 10)

	v.SetDefault("events.buffer_size", 256)
	v.SetDefault("events.drop_slow_subscribers", true)

	v.SetDefault("concurrency.categories", 17)
	v.SetDefault("concurrency.ti_sources", 6)
	v.SetDefault("concurrency.ai_models", 4)
}
