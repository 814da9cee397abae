package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/edumetrics/funnelcast/internal/api"
)

// Key identifies one calibration stream: a brand plus the metric being
// forecast (e.g. "uni-norte/leads").
func Key(brand, metric string) string {
	return brand + "/" + metric
}

// StateStore persists calibration state and trained model blobs across
// engine invocations. Last write wins.
type StateStore interface {
	// GetCalibration retrieves calibration state by key. Returns nil if
	// no state has been recorded yet.
	GetCalibration(ctx context.Context, key string) (*api.CalibrationState, error)

	// SetCalibration stores calibration state for a key, replacing any
	// previous value.
	SetCalibration(ctx context.Context, key string, state *api.CalibrationState) error

	// GetModel retrieves a serialized model blob. Returns nil if not found
	// or expired.
	GetModel(ctx context.Context, key string) ([]byte, error)

	// SetModel stores a serialized model blob with TTL; stale models are
	// retrained rather than served.
	SetModel(ctx context.Context, key string, blob []byte, ttl time.Duration) error

	// Close releases resources
	Close() error
}

// MemoryStore is an in-memory state store with optional file snapshot
type MemoryStore struct {
	mu       sync.RWMutex
	states   map[string]*api.CalibrationState
	models   map[string]*modelEntry
	snapshot string // optional file path for persistence
}

type modelEntry struct {
	Blob      []byte    `json:"blob"`
	ExpiresAt time.Time `json:"expires_at"`
}

type snapshotFile struct {
	States map[string]*api.CalibrationState `json:"states"`
	Models map[string]*modelEntry           `json:"models"`
}

// NewMemoryStore creates an in-memory state store
func NewMemoryStore(snapshotPath string) *MemoryStore {
	ms := &MemoryStore{
		states:   make(map[string]*api.CalibrationState),
		models:   make(map[string]*modelEntry),
		snapshot: snapshotPath,
	}

	// Load from snapshot if exists
	if snapshotPath != "" {
		ms.loadSnapshot()
	}

	return ms
}

func (m *MemoryStore) GetCalibration(ctx context.Context, key string) (*api.CalibrationState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.states[key]
	if !ok {
		return nil, nil
	}
	return s, nil
}

func (m *MemoryStore) SetCalibration(ctx context.Context, key string, state *api.CalibrationState) error {
	m.mu.Lock()
	m.states[key] = state
	m.mu.Unlock()

	// Persist snapshot if configured
	if m.snapshot != "" {
		go m.saveSnapshot() // async to avoid blocking
	}

	return nil
}

func (m *MemoryStore) GetModel(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.models[key]
	if !ok {
		return nil, nil
	}
	if time.Now().After(e.ExpiresAt) {
		return nil, nil // expired
	}
	return e.Blob, nil
}

func (m *MemoryStore) SetModel(ctx context.Context, key string, blob []byte, ttl time.Duration) error {
	m.mu.Lock()
	m.models[key] = &modelEntry{
		Blob:      blob,
		ExpiresAt: time.Now().Add(ttl),
	}
	m.mu.Unlock()

	if m.snapshot != "" {
		go m.saveSnapshot()
	}

	return nil
}

func (m *MemoryStore) Close() error {
	if m.snapshot != "" {
		return m.saveSnapshot()
	}
	return nil
}

func (m *MemoryStore) loadSnapshot() error {
	data, err := os.ReadFile(m.snapshot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // no snapshot yet
		}
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var snap snapshotFile
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	for k, v := range snap.States {
		m.states[k] = v
	}

	// Only load non-expired models
	now := time.Now()
	for k, v := range snap.Models {
		if now.Before(v.ExpiresAt) {
			m.models[k] = v
		}
	}

	return nil
}

func (m *MemoryStore) saveSnapshot() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := snapshotFile{
		States: m.states,
		Models: make(map[string]*modelEntry),
	}

	// Only persist non-expired models
	now := time.Now()
	for k, v := range m.models {
		if now.Before(v.ExpiresAt) {
			snap.Models[k] = v
		}
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(m.snapshot, data, 0600)
}
