package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration. Trimmed to the memory
// core's scope — the teacher's full sprawl of channel/tool/gateway/agent
// sections belongs to the CLI surface this repo only stubs.
type Config struct {
	Memory   MemoryConfig `yaml:"memory"`
	Logger   LoggerConfig `yaml:"logger"`
	Tracer   TracerConfig `yaml:"tracer"`
	Includes []string     `yaml:"includes,omitempty"`
}

// MemoryConfig configures the memory subsystem's primary backend, vector
// plane, retrieval policy, rollout, and lifecycle operators.
type MemoryConfig struct {
	Provider      string              `yaml:"provider"` // "sqlite", "markdown", "noop", "syncshell"
	DataDir       string              `yaml:"data_dir"`
	SyncShell     SyncShellConfig     `yaml:"syncshell"`
	Embedding     EmbeddingConfig     `yaml:"embedding"`
	Hybrid        HybridConfig        `yaml:"hybrid"`
	Retrieval     RetrievalConfig     `yaml:"retrieval"`
	Rollout       RolloutConfig       `yaml:"rollout"`
	Breaker       BreakerConfig       `yaml:"circuit_breaker"`
	ResponseCache ResponseCacheConfig `yaml:"response_cache"`
	Hygiene       HygieneConfig       `yaml:"hygiene"`
	Snapshot      SnapshotConfig      `yaml:"snapshot"`
}

// SyncShellConfig configures the backend variant that shells out to an
// external sync tool.
type SyncShellConfig struct {
	Command   string   `yaml:"command"`
	Args      []string `yaml:"args"`
	APIKey    string   `yaml:"api_key,omitempty"`
	ProjectID string   `yaml:"project_id,omitempty"`
}

// EmbeddingConfig holds text embedding provider settings.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"` // "none", "openai", "ollama", "gemini"
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	APIKey     string `yaml:"api_key,omitempty"`
	BaseURL    string `yaml:"base_url,omitempty"`
}

// HybridConfig gates the vector-augmented retrieval path.
type HybridConfig struct {
	Enabled             bool `yaml:"enabled"`
	CandidateMultiplier int  `yaml:"candidate_multiplier"`
}

// RetrievalConfig tunes the RRF merge, result shaping, and the optional
// post-fusion re-ranking stages supplemented from the teacher's
// vector.SearchOpts: temporal decay and MMR diversity. Both default to
// disabled (zero), leaving the base RRF algorithm unchanged.
type RetrievalConfig struct {
	RRFK                 int     `yaml:"rrf_k"`
	MaxResults           int     `yaml:"max_results"`
	MinScore             float64 `yaml:"min_score"`
	DecayHalfLifeMinutes int     `yaml:"decay_half_life_minutes,omitempty"`
	MMRDiversity         float64 `yaml:"mmr_diversity,omitempty"`
}

// RolloutConfig drives the vector-plane rollout state machine.
type RolloutConfig struct {
	Mode                string `yaml:"mode"` // "off", "shadow", "canary", "on"
	CanaryHybridPercent int    `yaml:"canary_hybrid_percent"`
	ShadowHybridPercent int    `yaml:"shadow_hybrid_percent"`
}

// BreakerConfig tunes the embedding-call circuit breaker.
type BreakerConfig struct {
	Failures    int `yaml:"failures"`
	CooldownMs int `yaml:"cooldown_ms"`
}

// ResponseCacheConfig configures the persisted Recall response cache.
type ResponseCacheConfig struct {
	Enabled    bool `yaml:"enabled"`
	TTLMinutes int  `yaml:"ttl_minutes"`
	MaxEntries int  `yaml:"max_entries"`
}

// HygieneConfig tunes the archive/purge lifecycle operator.
type HygieneConfig struct {
	Enabled                   bool `yaml:"enabled"`
	ArchiveAfterDays          int  `yaml:"archive_after_days"`
	PurgeAfterDays            int  `yaml:"purge_after_days"`
	ConversationRetentionDays int  `yaml:"conversation_retention_days"`
}

// SnapshotConfig tunes the export/hydrate lifecycle operator.
type SnapshotConfig struct {
	Enabled      bool `yaml:"enabled"`
	OnHygiene    bool `yaml:"on_hygiene"`
	AutoHydrate  bool `yaml:"auto_hydrate"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
	Endpoint string `yaml:"endpoint"`
}

// defaultDataDir returns the persistent data directory under $HOME/.lumen/data.
// Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".lumen", "data")
}

// Defaults returns a Config with sensible defaults, matching spec.md §6's
// documented default values.
func Defaults() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Memory: MemoryConfig{
			Provider: "sqlite",
			DataDir:  filepath.Join(dataDir, "memory"),
			Embedding: EmbeddingConfig{
				Provider:   "none",
				Dimensions: 1536,
			},
			Hybrid: HybridConfig{
				Enabled:             false,
				CandidateMultiplier: 2,
			},
			Retrieval: RetrievalConfig{
				RRFK:       60,
				MaxResults: 6,
				MinScore:   0.0,
			},
			Rollout: RolloutConfig{
				Mode: "off",
			},
			Breaker: BreakerConfig{
				Failures:   5,
				CooldownMs: 30000,
			},
			ResponseCache: ResponseCacheConfig{
				Enabled:    false,
				TTLMinutes: 60,
				MaxEntries: 5000,
			},
			Hygiene: HygieneConfig{
				Enabled:                   true,
				ArchiveAfterDays:          7,
				PurgeAfterDays:            30,
				ConversationRetentionDays: 30,
			},
			Snapshot: SnapshotConfig{
				Enabled:     false,
				OnHygiene:   false,
				AutoHydrate: true,
			},
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts secrets.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	// First pass: unmarshal to get the includes list.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Process includes (merges included files into cfg).
	hasIncludes := len(cfg.Includes) > 0
	if hasIncludes {
		visited := map[string]bool{absPath: true}
		if err := processIncludes(cfg, filepath.Dir(absPath), visited, 0); err != nil {
			return nil, err
		}

		// Second pass: re-unmarshal main config so it takes precedence over includes.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config (second pass): %w", err)
		}
		cfg.Includes = nil
	}

	ApplyEnvOverrides(cfg)

	passphrase := os.Getenv("LUMEN_CONFIG_KEY")
	if passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnvOverrides maps LUMEN_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LUMEN_MEMORY_PROVIDER"); v != "" {
		cfg.Memory.Provider = v
	}
	if v := os.Getenv("LUMEN_MEMORY_DATA_DIR"); v != "" {
		cfg.Memory.DataDir = v
	}
	if v := os.Getenv("LUMEN_MEMORY_EMBEDDING_PROVIDER"); v != "" {
		cfg.Memory.Embedding.Provider = v
	}
	if v := os.Getenv("LUMEN_MEMORY_EMBEDDING_API_KEY"); v != "" {
		cfg.Memory.Embedding.APIKey = v
	}
	if v := os.Getenv("LUMEN_MEMORY_SYNCSHELL_API_KEY"); v != "" {
		cfg.Memory.SyncShell.APIKey = v
	}
	if v := os.Getenv("LUMEN_MEMORY_ROLLOUT_MODE"); v != "" {
		cfg.Memory.Rollout.Mode = v
	}
	if v := os.Getenv("LUMEN_MEMORY_HYBRID_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Memory.Hybrid.Enabled = b
		}
	}
	if v := os.Getenv("LUMEN_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("LUMEN_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("LUMEN_TRACER_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Tracer.Enabled = b
		}
	}
	if v := os.Getenv("LUMEN_TRACER_ENDPOINT"); v != "" {
		cfg.Tracer.Endpoint = v
	}
}

// splitAndTrim splits s on sep and trims whitespace from each element,
// dropping empty results.
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// decryptSecrets decrypts any config fields wrapped by EncryptValue using
// passphrase, replacing them in place with their plaintext. Config-file
// secret encryption is a distinct concern from the memory content
// encryption in internal/security — this protects API keys at rest in
// config.yaml, not memory entries.
func decryptSecrets(cfg *Config, passphrase string) error {
	secrets := []*string{
		&cfg.Memory.Embedding.APIKey,
		&cfg.Memory.SyncShell.APIKey,
	}
	for _, s := range secrets {
		if s == nil || *s == "" || !strings.HasPrefix(*s, "enc:") {
			continue
		}
		plain, err := DecryptValue(*s, passphrase)
		if err != nil {
			return err
		}
		*s = plain
	}
	return nil
}

// EncryptValue encrypts plaintext with AES-256-GCM using a passphrase-derived
// key, returning an "enc:" prefixed, hex-encoded ciphertext suitable for
// storing directly in a config.yaml secret field.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	key := deriveKey(passphrase, salt)

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("new gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return "enc:" + hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptValue reverses EncryptValue.
func DecryptValue(encrypted, passphrase string) (string, error) {
	trimmed := strings.TrimPrefix(encrypted, "enc:")
	parts := strings.SplitN(trimmed, ":", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("malformed encrypted value")
	}

	salt, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}
	ciphertext, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	key := deriveKey(passphrase, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("new gcm: %w", err)
	}

	if len(ciphertext) < gcm.NonceSize() {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, ct := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}

// validatePermissions rejects config files that are group- or world-readable,
// since they may carry plaintext API keys.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	if mode&0077 != 0 {
		return fmt.Errorf("config file %q is readable by group/other (mode %o); chmod 600 it", path, mode)
	}
	return nil
}
