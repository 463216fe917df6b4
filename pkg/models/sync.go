package models

import "time"

// Trigger tells which pool a sync job runs on
type Trigger string

const (
	TriggerManual   Trigger = "manual"
	TriggerRealTime Trigger = "realtime"
)

// SyncResult is the outcome of one account synchronization
type SyncResult struct {
	Success    bool          `json:"success"`
	Cancelled  bool          `json:"cancelled,omitempty"`
	TotalSeen  int           `json:"total_seen"`
	TotalSaved int           `json:"total_saved"`
	Message    string        `json:"message"`
	ErrorKind  string        `json:"error_kind,omitempty"` // connection, auth, protocol, internal, ...
	Duration   time.Duration `json:"duration"`
	Trigger    Trigger       `json:"trigger,omitempty"` // Set by the scheduler
}
