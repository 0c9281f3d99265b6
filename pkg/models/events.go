package models

import "time"

// Scan event types streamed to subscribers during a scan.
const (
	EventScanStart        = "scan-start"
	EventStageStart       = "stage-start"
	EventStageComplete    = "stage-complete"
	EventProgress         = "progress"
	EventLog              = "log"
	EventCategoryStart    = "category-start"
	EventCategoryComplete = "category-complete"
	EventScanComplete     = "scan-complete"
	EventScanError        = "scan-error"
)

// ScanEvent is one entry in a scan's progress stream. Emission never blocks
// the pipeline: slow subscribers are dropped per the emitter's buffer policy.
type ScanEvent struct {
	ScanID   string         `json:"scanId"`
	Type     string         `json:"type"`
	Stage    string         `json:"stage,omitempty"`
	Category string         `json:"category,omitempty"`
	Severity string         `json:"severity,omitempty"`
	Message  string         `json:"message,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
	TS       time.Time      `json:"ts"`
}
