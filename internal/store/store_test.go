package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/edumetrics/funnelcast/internal/api"
)

func TestMemoryStore_CalibrationRoundTrip(t *testing.T) {
	ms := NewMemoryStore("")
	defer ms.Close()
	ctx := context.Background()

	key := Key("uni-norte", "enrollments")
	if s, err := ms.GetCalibration(ctx, key); err != nil || s != nil {
		t.Fatalf("Empty store: got (%v, %v), want (nil, nil)", s, err)
	}

	in := &api.CalibrationState{HitRate: 87, CalibrationFactor: 1.03, Evaluations: 20, UpdatedAt: time.Now()}
	if err := ms.SetCalibration(ctx, key, in); err != nil {
		t.Fatalf("SetCalibration failed: %v", err)
	}

	out, err := ms.GetCalibration(ctx, key)
	if err != nil {
		t.Fatalf("GetCalibration failed: %v", err)
	}
	if out.HitRate != 87 || out.CalibrationFactor != 1.03 {
		t.Errorf("Round trip mismatch: %+v", out)
	}

	// Last write wins.
	in2 := &api.CalibrationState{HitRate: 95, CalibrationFactor: 1.0}
	if err := ms.SetCalibration(ctx, key, in2); err != nil {
		t.Fatalf("SetCalibration failed: %v", err)
	}
	out, _ = ms.GetCalibration(ctx, key)
	if out.HitRate != 95 {
		t.Errorf("Second write not visible: %+v", out)
	}
}

func TestMemoryStore_ModelTTL(t *testing.T) {
	ms := NewMemoryStore("")
	defer ms.Close()
	ctx := context.Background()

	key := Key("uni-norte", "enrollments")
	if err := ms.SetModel(ctx, key, []byte("blob"), 50*time.Millisecond); err != nil {
		t.Fatalf("SetModel failed: %v", err)
	}

	blob, err := ms.GetModel(ctx, key)
	if err != nil || string(blob) != "blob" {
		t.Fatalf("GetModel = (%q, %v), want (blob, nil)", blob, err)
	}

	time.Sleep(80 * time.Millisecond)
	blob, err = ms.GetModel(ctx, key)
	if err != nil {
		t.Fatalf("GetModel failed: %v", err)
	}
	if blob != nil {
		t.Error("Expired model should not be returned")
	}
}

func TestMemoryStore_SnapshotReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	ctx := context.Background()

	ms := NewMemoryStore(path)
	key := Key("uni-sur", "leads")
	if err := ms.SetCalibration(ctx, key, &api.CalibrationState{HitRate: 92, CalibrationFactor: 1.0}); err != nil {
		t.Fatalf("SetCalibration failed: %v", err)
	}
	if err := ms.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reloaded := NewMemoryStore(path)
	defer reloaded.Close()
	state, err := reloaded.GetCalibration(ctx, key)
	if err != nil {
		t.Fatalf("GetCalibration after reload failed: %v", err)
	}
	if state == nil || state.HitRate != 92 {
		t.Errorf("Snapshot did not survive reload: %+v", state)
	}
}

func TestKey(t *testing.T) {
	if got := Key("uni-norte", "leads"); got != "uni-norte/leads" {
		t.Errorf("Key = %q, want uni-norte/leads", got)
	}
}
