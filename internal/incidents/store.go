// Package incidents is the capacity-bounded incident log and the KV
// substrates it persists to.
package incidents

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/safeguard/internal/notify"
	"github.com/wolfman30/safeguard/pkg/logging"
)

// Limits bound the store. Zero values take the defaults.
type Limits struct {
	BudgetBytes    int64
	MaxIncidents   int
	MaxContent     int
	SoftRatio      float64
	HardRatio      float64
	SoftKeepRatio  float64
	EmergencyKeep  int
	EmergencyLevel int
}

// DefaultLimits: 10 MiB budget, 100 incidents, 500 chars of content.
func DefaultLimits() Limits {
	return Limits{
		BudgetBytes:    10 * 1024 * 1024,
		MaxIncidents:   100,
		MaxContent:     500,
		SoftRatio:      0.80,
		HardRatio:      0.95,
		SoftKeepRatio:  0.70,
		EmergencyKeep:  50,
		EmergencyLevel: 7,
	}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.BudgetBytes <= 0 {
		l.BudgetBytes = d.BudgetBytes
	}
	if l.MaxIncidents <= 0 {
		l.MaxIncidents = d.MaxIncidents
	}
	if l.MaxContent <= 0 {
		l.MaxContent = d.MaxContent
	}
	if l.SoftRatio <= 0 {
		l.SoftRatio = d.SoftRatio
	}
	if l.HardRatio <= 0 {
		l.HardRatio = d.HardRatio
	}
	if l.SoftKeepRatio <= 0 {
		l.SoftKeepRatio = d.SoftKeepRatio
	}
	if l.EmergencyKeep <= 0 {
		l.EmergencyKeep = d.EmergencyKeep
	}
	if l.EmergencyLevel <= 0 {
		l.EmergencyLevel = d.EmergencyLevel
	}
	return l
}

// Archiver receives incidents discarded by emergency cleanup before they
// are deleted.
type Archiver interface {
	Enabled() bool
	ArchiveIncidents(ctx context.Context, reason string, batch []Incident) error
}

// Observer receives storage measurements.
type Observer interface {
	ObserveStorage(percentUsed float64)
	ObserveCleanup(tier string, removed int)
}

// Store is the incident log. All mutations run under one mutex.
type Store struct {
	mu       sync.Mutex
	kv       KV
	limits   Limits
	archiver Archiver
	observer Observer
	logger   *logging.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

func WithLimits(l Limits) Option {
	return func(s *Store) { s.limits = l.withDefaults() }
}

func WithArchiver(a Archiver) Option {
	return func(s *Store) { s.archiver = a }
}

func WithObserver(o Observer) Option {
	return func(s *Store) { s.observer = o }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func NewStore(kv KV, logger *logging.Logger, opts ...Option) *Store {
	if kv == nil {
		panic("incidents: kv cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	s := &Store{
		kv:     kv,
		limits: DefaultLimits(),
		logger: logger.Component("incident_store"),
		tracer: otel.Tracer("safeguard.internal.incidents"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Limits returns the effective limits.
func (s *Store) Limits() Limits {
	return s.limits
}

// Store records an incident, evicting old ones first when storage is near
// the budget. A KV failure is reported in the result and never panics.
func (s *Store) Store(ctx context.Context, inc Incident) StoreResult {
	ctx, span := s.tracer.Start(ctx, "incidents.store")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	status, err := s.measure(ctx)
	if err != nil {
		span.RecordError(err)
		s.logger.Error("failed to measure storage", "error", err)
		return StoreResult{Error: err.Error()}
	}

	list, err := s.load(ctx)
	if err != nil {
		span.RecordError(err)
		s.logger.Error("failed to load incidents", "error", err)
		return StoreResult{Error: err.Error()}
	}

	var cleanup *CleanupInfo
	if status.NearLimit && len(list) > 0 {
		s.logger.Warn("storage near limit, cleaning up", "percent_used", status.PercentUsed, "emergency", status.Full)
		list, cleanup = s.cleanup(ctx, list, status.Full)
	}

	inc = s.prepare(inc)
	list = append(list, inc)
	if over := len(list) - s.limits.MaxIncidents; over > 0 {
		s.logger.Warn("incident cap exceeded, removing oldest", "removed", over)
		list = list[over:]
	}

	rec, err := Encode(KeyIncidents, list)
	if err != nil {
		return StoreResult{Error: fmt.Sprintf("incidents: encode: %v", err)}
	}
	if cleanup != nil {
		raw, _ := json.Marshal(cleanup)
		rec[KeyCleanup] = raw
	}
	if err := s.kv.Set(ctx, rec); err != nil {
		span.RecordError(err)
		s.logger.Error("failed to persist incident", "error", err, "incident_id", inc.ID)
		return StoreResult{Error: err.Error()}
	}

	s.refreshStatus(ctx, len(list))
	span.SetAttributes(attribute.String("incident_id", inc.ID), attribute.Int("incident_count", len(list)))
	s.logger.Info("incident stored", "incident_id", inc.ID, "level", inc.Level, "incident_count", len(list))
	return StoreResult{Success: true, IncidentID: inc.ID, IncidentCount: len(list)}
}

func (s *Store) prepare(inc Incident) Incident {
	if inc.ID == "" {
		inc.ID = uuid.NewString()
	}
	if inc.Timestamp.IsZero() {
		inc.Timestamp = s.now()
	}
	inc.Content = truncate(inc.Content, s.limits.MaxContent)
	return inc
}

// cleanup keeps the most recent 70% (soft) or only the most recent
// high-level incidents (emergency). Emergency discards are archived first.
func (s *Store) cleanup(ctx context.Context, list []Incident, emergency bool) ([]Incident, *CleanupInfo) {
	var kept, removed []Incident
	tier := "soft"
	if emergency {
		tier = "emergency"
		for _, inc := range list {
			if inc.Level >= s.limits.EmergencyLevel {
				kept = append(kept, inc)
			} else {
				removed = append(removed, inc)
			}
		}
		if over := len(kept) - s.limits.EmergencyKeep; over > 0 {
			removed = append(removed, kept[:over]...)
			kept = kept[over:]
		}
	} else {
		keep := int(float64(len(list)) * s.limits.SoftKeepRatio)
		cut := len(list) - keep
		removed = list[:cut]
		kept = list[cut:]
	}

	if emergency && len(removed) > 0 && s.archiver != nil && s.archiver.Enabled() {
		if err := s.archiver.ArchiveIncidents(ctx, tier, removed); err != nil {
			s.logger.Error("failed to archive discarded incidents", "error", err, "count", len(removed))
		}
	}
	if s.observer != nil {
		s.observer.ObserveCleanup(tier, len(removed))
	}
	s.logger.Warn("cleanup complete", "tier", tier, "removed", len(removed), "remaining", len(kept))

	out := make([]Incident, len(kept))
	copy(out, kept)
	return out, &CleanupInfo{
		StorageLimitReached: true,
		LastCleanup:         s.now(),
		IncidentsRemoved:    len(removed),
		Emergency:           emergency,
	}
}

func (s *Store) measure(ctx context.Context) (StorageStatus, error) {
	rec, err := s.kv.Get(ctx)
	if err != nil {
		return StorageStatus{}, fmt.Errorf("incidents: read store: %w", err)
	}
	return s.statusFor(rec)
}

// statusFor sizes the record the way it would be serialized as a whole.
func (s *Store) statusFor(rec Record) (StorageStatus, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return StorageStatus{}, fmt.Errorf("incidents: size store: %w", err)
	}
	used := int64(len(payload))
	if len(rec) == 0 {
		used = 0
	}
	pct := float64(used) / float64(s.limits.BudgetBytes) * 100
	return StorageStatus{
		UsedBytes:   used,
		LimitBytes:  s.limits.BudgetBytes,
		PercentUsed: pct,
		NearLimit:   pct > s.limits.SoftRatio*100,
		Full:        pct > s.limits.HardRatio*100,
		LastUpdated: s.now(),
	}, nil
}

// refreshStatus persists the recomputed status. Failures are logged only.
func (s *Store) refreshStatus(ctx context.Context, count int) {
	status, err := s.measure(ctx)
	if err != nil {
		s.logger.Warn("failed to update storage status", "error", err)
		return
	}
	status.IncidentCount = count
	rec, err := Encode(KeyStorageStatus, status)
	if err == nil {
		err = s.kv.Set(ctx, rec)
	}
	if err != nil {
		s.logger.Warn("failed to persist storage status", "error", err)
		return
	}
	if s.observer != nil {
		s.observer.ObserveStorage(status.PercentUsed)
	}
}

func (s *Store) load(ctx context.Context) ([]Incident, error) {
	rec, err := s.kv.Get(ctx, KeyIncidents)
	if err != nil {
		return nil, fmt.Errorf("incidents: load: %w", err)
	}
	var list []Incident
	if _, err := Decode(rec, KeyIncidents, &list); err != nil {
		return nil, fmt.Errorf("incidents: decode: %w", err)
	}
	return list, nil
}

// AttachNotification appends a dispatch outcome to an incident.
func (s *Store) AttachNotification(ctx context.Context, id string, outcome notify.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.load(ctx)
	if err != nil {
		return err
	}
	for i := range list {
		if list[i].ID != id {
			continue
		}
		list[i].Notifications = append(list[i].Notifications, outcome)
		rec, err := Encode(KeyIncidents, list)
		if err != nil {
			return fmt.Errorf("incidents: encode: %w", err)
		}
		if err := s.kv.Set(ctx, rec); err != nil {
			return fmt.Errorf("incidents: attach notification: %w", err)
		}
		return nil
	}
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

// List returns incidents newest first. limit <= 0 returns all.
func (s *Store) List(ctx context.Context, limit int) ([]Incident, error) {
	s.mu.Lock()
	list, err := s.load(ctx)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].Timestamp.After(list[j].Timestamp) })
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	if list == nil {
		list = []Incident{}
	}
	return list, nil
}

func (s *Store) Get(ctx context.Context, id string) (Incident, error) {
	s.mu.Lock()
	list, err := s.load(ctx)
	s.mu.Unlock()
	if err != nil {
		return Incident{}, err
	}
	for _, inc := range list {
		if inc.ID == id {
			return inc, nil
		}
	}
	return Incident{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Status recomputes the storage status without writing.
func (s *Store) Status(ctx context.Context) (StorageStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.kv.Get(ctx)
	if err != nil {
		return StorageStatus{}, fmt.Errorf("incidents: read store: %w", err)
	}
	status, err := s.statusFor(rec)
	if err != nil {
		return StorageStatus{}, err
	}
	var list []Incident
	if _, err := Decode(rec, KeyIncidents, &list); err == nil {
		status.IncidentCount = len(list)
	}
	return status, nil
}

func (s *Store) cleanupInfo(ctx context.Context) *CleanupInfo {
	rec, err := s.kv.Get(ctx, KeyCleanup)
	if err != nil {
		return nil
	}
	var info CleanupInfo
	if ok, err := Decode(rec, KeyCleanup, &info); !ok || err != nil {
		return nil
	}
	return &info
}

// Stats counts incidents and critical (level >= 9) threats.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	status, err := s.Status(ctx)
	if err != nil {
		return Stats{}, err
	}
	list, err := s.List(ctx, 0)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{IncidentCount: len(list), Storage: status, Cleanup: s.cleanupInfo(ctx)}
	for _, inc := range list {
		if inc.Level >= 9 {
			stats.CriticalThreats++
		}
	}
	return stats, nil
}

func (s *Store) Export(ctx context.Context) (Export, error) {
	list, err := s.List(ctx, 0)
	if err != nil {
		return Export{}, err
	}
	status, err := s.Status(ctx)
	if err != nil {
		return Export{}, err
	}
	return Export{
		Incidents:     list,
		StorageStatus: status,
		Cleanup:       s.cleanupInfo(ctx),
		ExportedAt:    s.now(),
	}, nil
}

// Clear wipes every key of the incident KV.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.kv.Clear(ctx); err != nil {
		return fmt.Errorf("incidents: clear: %w", err)
	}
	s.logger.Info("incident store cleared")
	return nil
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
