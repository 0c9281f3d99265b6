package models

import "time"

// Tombstone sources — how a URL became known-malicious.
const (
	TombstoneSourceSinkhole    = "sinkhole"
	TombstoneSourceManual      = "manual"
	TombstoneSourceTIConsensus = "ti_consensus"
	TombstoneSourceAdmin       = "admin"
)

// Tombstone is a persistent known-malicious record keyed by the canonical
// URL hash. Append-only externally; only an admin removes one.
type Tombstone struct {
	URLHash       string            `json:"urlHash"`
	URL           string            `json:"url"`
	Verdict       string            `json:"verdict"` // always "critical"
	Source        string            `json:"source"`  // sinkhole/manual/ti_consensus/admin
	Confidence    int               `json:"confidence"`
	ConfirmedDate time.Time         `json:"confirmedDate"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// TombstoneStats summarizes the tombstone store for the health surface.
type TombstoneStats struct {
	Total    int            `json:"total"`
	BySource map[string]int `json:"bySource"`
	Newest   *time.Time     `json:"newest,omitempty"`
}
