package incidents

import (
	"context"
	"encoding/json"
	"sync"
)

// Well-known record keys.
const (
	KeyIncidents     = "incidents"
	KeyStorageStatus = "storageStatus"
	KeyCleanup       = "cleanup"
)

// Record is a set of top-level keys and their JSON values.
type Record map[string]json.RawMessage

// KV is the persistent key-value substrate. It does no size accounting.
// Get with no keys returns every stored key.
type KV interface {
	Get(ctx context.Context, keys ...string) (Record, error)
	Set(ctx context.Context, rec Record) error
	Clear(ctx context.Context) error
}

// MemoryKV is an in-process KV for development and tests.
type MemoryKV struct {
	mu   sync.RWMutex
	data map[string]json.RawMessage
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string]json.RawMessage)}
}

func (m *MemoryKV) Get(_ context.Context, keys ...string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(Record)
	if len(keys) == 0 {
		for k, v := range m.data {
			out[k] = cloneRaw(v)
		}
		return out, nil
	}
	for _, k := range keys {
		if v, ok := m.data[k]; ok {
			out[k] = cloneRaw(v)
		}
	}
	return out, nil
}

func (m *MemoryKV) Set(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range rec {
		m.data[k] = cloneRaw(v)
	}
	return nil
}

func (m *MemoryKV) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string]json.RawMessage)
	return nil
}

func cloneRaw(v json.RawMessage) json.RawMessage {
	return append(json.RawMessage(nil), v...)
}

// Encode builds a single-key record.
func Encode(key string, v any) (Record, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return Record{key: raw}, nil
}

// Decode reads key from rec into v. It reports false when the key is absent.
func Decode(rec Record, key string, v any) (bool, error) {
	raw, ok := rec[key]
	if !ok || len(raw) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, err
	}
	return true, nil
}
