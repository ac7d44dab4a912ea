package config

import (
	"fmt"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateMemory(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

var validMemoryProviders = map[string]bool{
	"noop":      true,
	"markdown":  true,
	"sqlite":    true,
	"syncshell": true,
}

func validateMemory(cfg *Config, ve *ValidationError) {
	m := cfg.Memory
	if !validMemoryProviders[m.Provider] {
		ve.Add("memory.provider %q is invalid (want: sqlite, markdown, noop, syncshell)", m.Provider)
	}
	if m.Provider != "noop" && m.DataDir == "" {
		ve.Add("memory.data_dir is required for provider %q", m.Provider)
	}
	if m.Provider == "syncshell" {
		if m.SyncShell.Command == "" {
			ve.Add("memory.syncshell.command is required when provider is syncshell")
		}
	}

	validateEmbedding(cfg, ve)
	validateHybrid(cfg, ve)
	validateRetrieval(cfg, ve)
	validateRollout(cfg, ve)
	validateBreaker(cfg, ve)
	validateResponseCache(cfg, ve)
	validateHygiene(cfg, ve)
}

var validEmbeddingProviders = map[string]bool{
	"none":   true,
	"openai": true,
	"ollama": true,
	"gemini": true,
}

func validateEmbedding(cfg *Config, ve *ValidationError) {
	e := cfg.Memory.Embedding
	if !validEmbeddingProviders[e.Provider] {
		ve.Add("memory.embedding.provider %q is invalid (want: none, openai, ollama, gemini)", e.Provider)
	}
	if e.Provider != "none" {
		if e.Model == "" {
			ve.Add("memory.embedding.model is required when embedding.provider is %q", e.Provider)
		}
		if e.Dimensions <= 0 {
			ve.Add("memory.embedding.dimensions must be > 0 when embedding.provider is %q", e.Provider)
		}
	}
}

func validateHybrid(cfg *Config, ve *ValidationError) {
	h := cfg.Memory.Hybrid
	if h.Enabled {
		if cfg.Memory.Embedding.Provider == "none" {
			ve.Add("memory.hybrid.enabled requires memory.embedding.provider to be set")
		}
		if h.CandidateMultiplier <= 0 {
			ve.Add("memory.hybrid.candidate_multiplier must be > 0 when hybrid is enabled")
		}
	}
}

func validateRetrieval(cfg *Config, ve *ValidationError) {
	r := cfg.Memory.Retrieval
	if r.RRFK <= 0 {
		ve.Add("memory.retrieval.rrf_k must be > 0")
	}
	if r.MaxResults <= 0 {
		ve.Add("memory.retrieval.max_results must be > 0")
	}
	if r.MinScore < 0 || r.MinScore > 1 {
		ve.Add("memory.retrieval.min_score must be between 0 and 1")
	}
	if r.DecayHalfLifeMinutes < 0 {
		ve.Add("memory.retrieval.decay_half_life_minutes must be >= 0")
	}
	if r.MMRDiversity < 0 || r.MMRDiversity > 1 {
		ve.Add("memory.retrieval.mmr_diversity must be between 0 and 1")
	}
}

var validRolloutModes = map[string]bool{
	"off":    true,
	"shadow": true,
	"canary": true,
	"on":     true,
}

func validateRollout(cfg *Config, ve *ValidationError) {
	r := cfg.Memory.Rollout
	if !validRolloutModes[r.Mode] {
		ve.Add("memory.rollout.mode %q is invalid (want: off, shadow, canary, on)", r.Mode)
		return
	}
	switch r.Mode {
	case "canary":
		if r.CanaryHybridPercent < 0 || r.CanaryHybridPercent > 100 {
			ve.Add("memory.rollout.canary_hybrid_percent must be between 0 and 100")
		}
	case "shadow":
		if r.ShadowHybridPercent < 0 || r.ShadowHybridPercent > 100 {
			ve.Add("memory.rollout.shadow_hybrid_percent must be between 0 and 100")
		}
	}
}

func validateBreaker(cfg *Config, ve *ValidationError) {
	b := cfg.Memory.Breaker
	if b.Failures <= 0 {
		ve.Add("memory.circuit_breaker.failures must be > 0")
	}
	if b.CooldownMs <= 0 {
		ve.Add("memory.circuit_breaker.cooldown_ms must be > 0")
	}
}

func validateResponseCache(cfg *Config, ve *ValidationError) {
	rc := cfg.Memory.ResponseCache
	if !rc.Enabled {
		return
	}
	if rc.TTLMinutes <= 0 {
		ve.Add("memory.response_cache.ttl_minutes must be > 0 when response_cache is enabled")
	}
	if rc.MaxEntries < 0 {
		ve.Add("memory.response_cache.max_entries must be >= 0")
	}
}

func validateHygiene(cfg *Config, ve *ValidationError) {
	h := cfg.Memory.Hygiene
	if !h.Enabled {
		return
	}
	if h.ArchiveAfterDays <= 0 {
		ve.Add("memory.hygiene.archive_after_days must be > 0 when hygiene is enabled")
	}
	if h.PurgeAfterDays <= 0 {
		ve.Add("memory.hygiene.purge_after_days must be > 0 when hygiene is enabled")
	}
	if h.PurgeAfterDays < h.ArchiveAfterDays {
		ve.Add("memory.hygiene.purge_after_days must be >= archive_after_days")
	}
	if h.ConversationRetentionDays <= 0 {
		ve.Add("memory.hygiene.conversation_retention_days must be > 0 when hygiene is enabled")
	}
}

var validLogFormats = map[string]bool{"text": true, "json": true}

func validateLogger(cfg *Config, ve *ValidationError) {
	l := cfg.Logger
	if !validLogFormats[l.Format] {
		ve.Add("logger.format %q is invalid (want: text, json)", l.Format)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		ve.Add("logger.level %q is invalid (want: debug, info, warn, error)", l.Level)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	t := cfg.Tracer
	if !t.Enabled {
		return
	}
	if t.Endpoint == "" {
		ve.Add("tracer.endpoint is required when tracing is enabled")
	}
}
