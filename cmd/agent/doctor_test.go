package main

import (
	"context"
	"testing"

	"lumen/internal/health"
	"lumen/internal/infra/config"
	"lumen/internal/memory"
)

func TestCheckMemoryBackendNoopPasses(t *testing.T) {
	cfg := &config.Config{Memory: config.MemoryConfig{Provider: "noop"}}
	result := checkMemoryBackend(cfg, nil)
	if result.Status != StatusPass {
		t.Errorf("expected PASS for noop provider, got %s", result.Status)
	}
}

func TestCheckMemoryBackendCreatesMissingDir(t *testing.T) {
	dir := t.TempDir() + "/nested/data"
	cfg := &config.Config{Memory: config.MemoryConfig{Provider: "sqlite", DataDir: dir}}
	result := checkMemoryBackend(cfg, nil)
	if result.Status != StatusPass {
		t.Errorf("expected PASS after creating data dir, got %s: %s", result.Status, result.Message)
	}
}

func TestCheckVectorPlaneDisabledPasses(t *testing.T) {
	cfg := &config.Config{Memory: config.MemoryConfig{Hybrid: config.HybridConfig{Enabled: false}}}
	result := checkVectorPlane(cfg, nil)
	if result.Status != StatusPass {
		t.Errorf("expected PASS when hybrid disabled, got %s", result.Status)
	}
}

func TestCheckVectorPlaneWarnsOnNoProvider(t *testing.T) {
	cfg := &config.Config{Memory: config.MemoryConfig{
		Hybrid:    config.HybridConfig{Enabled: true},
		Embedding: config.EmbeddingConfig{Provider: "none"},
	}}
	result := checkVectorPlane(cfg, nil)
	if result.Status != StatusWarn {
		t.Errorf("expected WARN for hybrid enabled with no embedding provider, got %s", result.Status)
	}
}

func TestCheckVectorPlaneFailsOnMissingAPIKey(t *testing.T) {
	cfg := &config.Config{Memory: config.MemoryConfig{
		Hybrid:    config.HybridConfig{Enabled: true},
		Embedding: config.EmbeddingConfig{Provider: "openai"},
	}}
	result := checkVectorPlane(cfg, nil)
	if result.Status != StatusFail {
		t.Errorf("expected FAIL for missing API key, got %s", result.Status)
	}
}

func TestCheckVectorPlaneOllamaSkipsKeyCheck(t *testing.T) {
	cfg := &config.Config{Memory: config.MemoryConfig{
		Hybrid:    config.HybridConfig{Enabled: true},
		Embedding: config.EmbeddingConfig{Provider: "ollama"},
	}}
	result := checkVectorPlane(cfg, nil)
	if result.Status != StatusPass {
		t.Errorf("expected PASS for ollama without an API key, got %s", result.Status)
	}
}

func TestCheckSyncShellToolSkipsOtherProviders(t *testing.T) {
	cfg := &config.Config{Memory: config.MemoryConfig{Provider: "sqlite"}}
	result := checkSyncShellTool(cfg, nil)
	if result.Status != StatusPass {
		t.Errorf("expected PASS when syncshell not in use, got %s", result.Status)
	}
}

func TestCheckSyncShellToolFailsOnMissingCommand(t *testing.T) {
	cfg := &config.Config{Memory: config.MemoryConfig{Provider: "syncshell"}}
	result := checkSyncShellTool(cfg, nil)
	if result.Status != StatusFail {
		t.Errorf("expected FAIL for empty sync command, got %s", result.Status)
	}
}

func TestCheckSyncShellToolFailsOnUnresolvedCommand(t *testing.T) {
	cfg := &config.Config{Memory: config.MemoryConfig{
		Provider:  "syncshell",
		SyncShell: config.SyncShellConfig{Command: "definitely-not-a-real-binary"},
	}}
	result := checkSyncShellTool(cfg, nil)
	if result.Status != StatusFail {
		t.Errorf("expected FAIL for unresolvable command, got %s", result.Status)
	}
}

func TestCheckRuntimeHealthReportsErrors(t *testing.T) {
	reg := health.NewRegistry()
	reg.MarkError("backend", errTest("boom"))

	rt := memory.NewRuntime(memory.RuntimeConfig{Backend: nil, Health: reg})
	fn := checkRuntimeHealth(context.Background())
	result := fn(nil, rt)
	if result.Status != StatusFail {
		t.Errorf("expected FAIL for an unhealthy component, got %s", result.Status)
	}
}

func TestCheckRuntimeHealthPassesWhenClean(t *testing.T) {
	reg := health.NewRegistry()
	reg.MarkOK("backend")

	rt := memory.NewRuntime(memory.RuntimeConfig{Backend: nil, Health: reg})
	fn := checkRuntimeHealth(context.Background())
	result := fn(nil, rt)
	if result.Status != StatusPass {
		t.Errorf("expected PASS when all components report OK, got %s", result.Status)
	}
}

type errTest string

func (e errTest) Error() string { return string(e) }
