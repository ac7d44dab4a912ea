package health

import (
	"errors"
	"testing"
)

func TestRegistryMarkOKThenReady(t *testing.T) {
	r := NewRegistry()
	r.MarkOK("sqlite")
	r.MarkOK("vectorstore")

	if !r.Ready() {
		t.Error("expected registry to be ready when all components are OK")
	}
}

func TestRegistryMarkErrorMakesNotReady(t *testing.T) {
	r := NewRegistry()
	r.MarkOK("sqlite")
	r.MarkError("vectorstore", errors.New("connection refused"))

	if r.Ready() {
		t.Error("expected registry to be not-ready with a failing component")
	}

	h, ok := r.Get("vectorstore")
	if !ok {
		t.Fatal("expected vectorstore health to be recorded")
	}
	if h.LastError == nil || *h.LastError != "connection refused" {
		t.Errorf("expected last error to be recorded, got %+v", h)
	}
}

func TestRegistryBumpRestart(t *testing.T) {
	r := NewRegistry()
	r.MarkError("sqlite", errors.New("boom"))
	r.BumpRestart("sqlite")
	r.BumpRestart("sqlite")

	h, _ := r.Get("sqlite")
	if h.RestartCount != 2 {
		t.Errorf("expected restart count 2, got %d", h.RestartCount)
	}
}

func TestRegistryResetClearsState(t *testing.T) {
	r := NewRegistry()
	r.MarkOK("sqlite")
	r.Reset()

	if _, ok := r.Get("sqlite"); ok {
		t.Error("expected no components after reset")
	}
	if !r.Ready() {
		t.Error("expected empty registry to be vacuously ready")
	}
}

func TestRegistrySnapshotIsACopy(t *testing.T) {
	r := NewRegistry()
	r.MarkOK("sqlite")

	snap := r.Snapshot()
	snap["sqlite"] = snap["sqlite"]
	delete(snap, "sqlite")

	if _, ok := r.Get("sqlite"); !ok {
		t.Error("mutating a snapshot should not affect the registry")
	}
}
