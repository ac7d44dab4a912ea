package config

import "testing"

func TestValidateDefaultsPass(t *testing.T) {
	if err := Validate(Defaults()); err != nil {
		t.Errorf("Defaults() should validate cleanly: %v", err)
	}
}

func TestValidateRejectsUnknownProvider(t *testing.T) {
	cfg := Defaults()
	cfg.Memory.Provider = "dropbox"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error for unknown memory provider")
	}
}

func TestValidateSyncShellRequiresCommand(t *testing.T) {
	cfg := Defaults()
	cfg.Memory.Provider = "syncshell"
	cfg.Memory.SyncShell.Command = ""

	if err := Validate(cfg); err == nil {
		t.Fatal("expected error when syncshell.command is empty")
	}

	cfg.Memory.SyncShell.Command = "sync-tool"
	if err := Validate(cfg); err != nil {
		t.Errorf("unexpected error with command set: %v", err)
	}
}

func TestValidateEmbeddingRequiresModelAndDimensions(t *testing.T) {
	cfg := Defaults()
	cfg.Memory.Embedding.Provider = "openai"
	cfg.Memory.Embedding.Model = ""
	cfg.Memory.Embedding.Dimensions = 0

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error for embedding missing model/dimensions")
	}
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if len(ve.Errors) < 2 {
		t.Errorf("expected at least 2 errors (model, dimensions), got %v", ve.Errors)
	}
}

func TestValidateHybridRequiresEmbedding(t *testing.T) {
	cfg := Defaults()
	cfg.Memory.Hybrid.Enabled = true
	cfg.Memory.Hybrid.CandidateMultiplier = 2
	cfg.Memory.Embedding.Provider = "none"

	if err := Validate(cfg); err == nil {
		t.Fatal("expected error when hybrid is enabled with no embedding provider")
	}
}

func TestValidateHybridRequiresCandidateMultiplier(t *testing.T) {
	cfg := Defaults()
	cfg.Memory.Embedding.Provider = "openai"
	cfg.Memory.Embedding.Model = "text-embedding-3-small"
	cfg.Memory.Embedding.Dimensions = 1536
	cfg.Memory.Hybrid.Enabled = true
	cfg.Memory.Hybrid.CandidateMultiplier = 0

	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for candidate_multiplier <= 0")
	}
}

func TestValidateRetrievalBounds(t *testing.T) {
	cfg := Defaults()
	cfg.Memory.Retrieval.RRFK = 0
	cfg.Memory.Retrieval.MaxResults = -1
	cfg.Memory.Retrieval.MinScore = 1.5

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected errors for invalid retrieval config")
	}
	ve := err.(*ValidationError)
	if len(ve.Errors) < 3 {
		t.Errorf("expected at least 3 errors, got %v", ve.Errors)
	}
}

func TestValidateRetrievalMMRAndDecayBounds(t *testing.T) {
	cfg := Defaults()
	cfg.Memory.Retrieval.DecayHalfLifeMinutes = -1
	cfg.Memory.Retrieval.MMRDiversity = 1.5

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected errors for invalid decay/MMR tuning")
	}
	ve := err.(*ValidationError)
	if len(ve.Errors) < 2 {
		t.Errorf("expected at least 2 errors, got %v", ve.Errors)
	}
}

func TestValidateRolloutMode(t *testing.T) {
	cfg := Defaults()
	cfg.Memory.Rollout.Mode = "bogus"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for invalid rollout mode")
	}

	cfg.Memory.Rollout.Mode = "canary"
	cfg.Memory.Rollout.CanaryHybridPercent = 150
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for out-of-range canary_hybrid_percent")
	}
}

func TestValidateBreakerTuning(t *testing.T) {
	cfg := Defaults()
	cfg.Memory.Breaker.Failures = 0
	cfg.Memory.Breaker.CooldownMs = 0

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected errors for invalid breaker tuning")
	}
	ve := err.(*ValidationError)
	if len(ve.Errors) < 2 {
		t.Errorf("expected at least 2 errors, got %v", ve.Errors)
	}
}

func TestValidateResponseCacheRequiresTTLWhenEnabled(t *testing.T) {
	cfg := Defaults()
	cfg.Memory.ResponseCache.Enabled = true
	cfg.Memory.ResponseCache.TTLMinutes = 0

	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for ttl_minutes <= 0 when response_cache enabled")
	}
}

func TestValidateHygieneRequiresPurgeAfterArchive(t *testing.T) {
	cfg := Defaults()
	cfg.Memory.Hygiene.ArchiveAfterDays = 30
	cfg.Memory.Hygiene.PurgeAfterDays = 7

	if err := Validate(cfg); err == nil {
		t.Fatal("expected error when purge_after_days < archive_after_days")
	}
}

func TestValidateHygieneDisabledSkipsThresholds(t *testing.T) {
	cfg := Defaults()
	cfg.Memory.Hygiene.Enabled = false
	cfg.Memory.Hygiene.ArchiveAfterDays = 0
	cfg.Memory.Hygiene.PurgeAfterDays = 0

	if err := Validate(cfg); err != nil {
		t.Errorf("disabled hygiene should skip threshold checks: %v", err)
	}
}

func TestValidateLoggerFields(t *testing.T) {
	cfg := Defaults()
	cfg.Logger.Format = "xml"
	cfg.Logger.Level = "verbose"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected errors for invalid logger fields")
	}
	ve := err.(*ValidationError)
	if len(ve.Errors) < 2 {
		t.Errorf("expected at least 2 errors, got %v", ve.Errors)
	}
}

func TestValidateTracerRequiresEndpointWhenEnabled(t *testing.T) {
	cfg := Defaults()
	cfg.Tracer.Enabled = true
	cfg.Tracer.Endpoint = ""

	if err := Validate(cfg); err == nil {
		t.Fatal("expected error when tracer enabled without endpoint")
	}
}

func TestValidationErrorMessage(t *testing.T) {
	ve := &ValidationError{}
	if ve.HasErrors() {
		t.Error("fresh ValidationError should have no errors")
	}
	ve.Add("first problem")
	ve.Add("second %s", "problem")
	if !ve.HasErrors() {
		t.Error("expected HasErrors() true after Add")
	}
	msg := ve.Error()
	if msg == "" {
		t.Error("Error() should not be empty")
	}
}
