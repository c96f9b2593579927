package incidents

import (
	"errors"
	"time"

	"github.com/wolfman30/safeguard/internal/coordinator"
	"github.com/wolfman30/safeguard/internal/detection"
	"github.com/wolfman30/safeguard/internal/notify"
)

// ErrNotFound is returned when an incident id is unknown.
var ErrNotFound = errors.New("incidents: not found")

// Kind is the type of content an incident was raised for.
type Kind string

const (
	KindMessage Kind = "message"
	KindImage   Kind = "image"
	KindPage    Kind = "page"
)

// Incident is one recorded threat. Content is truncated on store and only
// Notifications may change afterwards.
type Incident struct {
	ID            string                      `json:"id"`
	Timestamp     time.Time                   `json:"timestamp"`
	Kind          Kind                        `json:"type"`
	Severity      detection.Severity          `json:"severity"`
	Level         int                         `json:"level"`
	Platform      string                      `json:"platform"`
	Direction     detection.Direction         `json:"direction,omitempty"`
	Content       string                      `json:"content"`
	PrimaryThreat string                      `json:"primaryThreat"`
	Reporters     coordinator.ReporterResults `json:"reporterResults"`
	ActionTaken   coordinator.Action          `json:"actionTaken"`
	Notifications []notify.Outcome            `json:"notifications,omitempty"`
}

// StorageStatus is derived from the serialized KV size on every write.
type StorageStatus struct {
	UsedBytes     int64     `json:"used"`
	LimitBytes    int64     `json:"limit"`
	PercentUsed   float64   `json:"percentUsed"`
	NearLimit     bool      `json:"isNearLimit"`
	Full          bool      `json:"isFull"`
	IncidentCount int       `json:"incidentCount"`
	LastUpdated   time.Time `json:"lastUpdated"`
}

// CleanupInfo records the last eviction pass.
type CleanupInfo struct {
	StorageLimitReached bool      `json:"storageLimitReached"`
	LastCleanup         time.Time `json:"lastCleanup"`
	IncidentsRemoved    int       `json:"incidentsRemoved"`
	Emergency           bool      `json:"emergency"`
}

// StoreResult reports a Store call. Failures are values, not errors, so the
// pipeline can keep warning and notifying.
type StoreResult struct {
	Success       bool   `json:"success"`
	IncidentID    string `json:"incidentId,omitempty"`
	IncidentCount int    `json:"incidentCount"`
	Error         string `json:"error,omitempty"`
}

// Stats backs the dashboard counters.
type Stats struct {
	IncidentCount   int           `json:"threatsDetected"`
	CriticalThreats int           `json:"criticalThreats"`
	Storage         StorageStatus `json:"storage"`
	Cleanup         *CleanupInfo  `json:"cleanup,omitempty"`
}

// Export is the full data dump offered to the guardian.
type Export struct {
	Incidents     []Incident    `json:"incidents"`
	StorageStatus StorageStatus `json:"storageStatus"`
	Cleanup       *CleanupInfo  `json:"cleanup,omitempty"`
	ExportedAt    time.Time     `json:"exportDate"`
}
