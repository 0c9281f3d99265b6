package intel

import (
	"time"

	"github.com/rawblock/urlscan-engine/internal/config"
)

// Source identifiers. Names select the wire format, so they are part of the
// configuration contract.
const (
	SourceSafeBrowsing = "safe_browsing"
	SourceVirusTotal   = "virustotal"
	SourcePhishTank    = "phishtank"
	SourceURLhaus      = "urlhaus"
	SourceOTX          = "otx"
	SourceThreatFox    = "threatfox"
	SourceSpamhausDBL  = "spamhaus_dbl"
	SourceSURBL        = "surbl"
	SourceOpenPhish    = "openphish"
	SourcePhishStats   = "phishstats"
	SourceURLScanIO    = "urlscanio"
)

// DefaultSources is the built-in 11-source roster, used when the
// configuration file carries no ti_sources block. Keyed sources stay enabled
// and simply disable themselves at boot when no key resolves.
func DefaultSources() []config.TISourceConfig {
	return []config.TISourceConfig{
		{Name: SourceSafeBrowsing, Tier: 1, Enabled: true, Timeout: 4 * time.Second, RatePerSec: 10,
			Endpoint: "https://safebrowsing.googleapis.com/v4/threatMatches:find",
			KeyEnv:   "SAFE_BROWSING_API_KEY"},
		{Name: SourceVirusTotal, Tier: 1, Enabled: true, Timeout: 5 * time.Second, RatePerSec: 4,
			Endpoint: "https://www.virustotal.com/api/v3/urls",
			KeyEnv:   "VIRUSTOTAL_API_KEY"},
		{Name: SourceSpamhausDBL, Tier: 1, Enabled: true, Timeout: 3 * time.Second, RatePerSec: 20,
			Endpoint: "dbl.spamhaus.org"},
		{Name: SourcePhishTank, Tier: 2, Enabled: true, Timeout: 4 * time.Second, RatePerSec: 5,
			Endpoint: "https://checkurl.phishtank.com/checkurl/",
			KeyEnv:   "PHISHTANK_API_KEY"},
		{Name: SourceURLhaus, Tier: 2, Enabled: true, Timeout: 4 * time.Second, RatePerSec: 10,
			Endpoint: "https://urlhaus-api.abuse.ch/v1/url/",
			KeyEnv:   "URLHAUS_API_KEY"},
		{Name: SourceOTX, Tier: 2, Enabled: true, Timeout: 5 * time.Second, RatePerSec: 5,
			Endpoint: "https://otx.alienvault.com/api/v1/indicators/url",
			KeyEnv:   "OTX_API_KEY"},
		{Name: SourceThreatFox, Tier: 2, Enabled: true, Timeout: 4 * time.Second, RatePerSec: 10,
			Endpoint: "https://threatfox-api.abuse.ch/api/v1/",
			KeyEnv:   "THREATFOX_API_KEY"},
		// The community feeds publish bulk dumps, not lookup APIs; each
		// deployment points these at its own feed-mirror lookup service.
		{Name: SourceURLScanIO, Tier: 2, Enabled: true, Timeout: 5 * time.Second, RatePerSec: 2,
			KeyEnv: "URLSCANIO_API_KEY"},
		{Name: SourceSURBL, Tier: 3, Enabled: true, Timeout: 3 * time.Second, RatePerSec: 20,
			Endpoint: "multi.surbl.org"},
		{Name: SourceOpenPhish, Tier: 3, Enabled: true, Timeout: 4 * time.Second, RatePerSec: 5,
			KeyEnv: "OPENPHISH_API_KEY"},
		{Name: SourcePhishStats, Tier: 3, Enabled: true, Timeout: 4 * time.Second, RatePerSec: 5,
			KeyEnv: "PHISHSTATS_API_KEY"},
	}
}
