// Command agent is the CLI entrypoint wiring the memory runtime:
// config load, primary backend selection, optional vector plane, and a
// handful of subcommands driving Store/Recall/Forget against it.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"lumen/internal/adapter/embedding"
	"lumen/internal/domain"
	"lumen/internal/health"
	"lumen/internal/infra/config"
	"lumen/internal/infra/logger"
	"lumen/internal/infra/tracer"
	"lumen/internal/memory"
	"lumen/internal/memory/backend"
	"lumen/internal/memory/lifecycle"
	"lumen/internal/memory/rollout"
	"lumen/internal/memory/vector"
	"lumen/internal/security"
)

func main() {
	if len(os.Args) < 2 || os.Args[1] == "--help" || os.Args[1] == "-h" || os.Args[1] == "help" {
		showUsage()
		if len(os.Args) < 2 {
			os.Exit(1)
		}
		return
	}

	if err := run(os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Fprintln(os.Stderr, `lumen - memory core CLI

Usage:
  lumen store   <key> <content> [--category=core] [--session=ID] [--tags=a,b] [--meta=k=v,k2=v2]
  lumen recall  <query> [--limit=6] [--session=ID]
  lumen forget  <key>
  lumen drain-outbox
  lumen doctor
  lumen help

Config is loaded from $LUMEN_CONFIG (default ./config.yaml); LUMEN_*
env vars override individual fields, see internal/infra/config.`)
}

func run(cmd string, args []string) error {
	cfgPath := os.Getenv("LUMEN_CONFIG")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer closeLog()

	ctx := context.Background()
	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer shutdownTracer(ctx)

	rt, err := buildRuntime(cfg, log)
	if err != nil {
		return fmt.Errorf("build runtime: %w", err)
	}
	defer func() {
		if err := rt.Deinit(); err != nil {
			log.Warn("runtime deinit failed", "error", err)
		}
	}()

	switch cmd {
	case "store":
		return cmdStore(ctx, rt, args)
	case "recall":
		return cmdRecall(ctx, rt, args)
	case "forget":
		return cmdForget(ctx, rt, args)
	case "drain-outbox":
		return cmdDrainOutbox(ctx, rt)
	case "doctor":
		return runDoctor(ctx, cfg, rt)
	default:
		showUsage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// buildRuntime assembles a memory.Runtime from cfg: the primary backend,
// an optional response cache decorator, an optional vector plane gated
// by hybrid.enabled, the rollout policy, hygiene, and the health
// registry — the composition root spec.md's §4 components name.
func buildRuntime(cfg *config.Config, log *slog.Logger) (*memory.Runtime, error) {
	reg := health.NewRegistry()

	primary, err := buildBackend(cfg, log)
	if err != nil {
		return nil, err
	}

	var sqliteDB *sql.DB
	if sqlite, ok := primary.(*backend.SQLite); ok {
		sqliteDB = sqlite.DB()
	}

	rtCfg := memory.RuntimeConfig{
		Backend:         primary,
		Sessions:        memory.NewFileSessionStore(cfg.Memory.DataDir),
		Health:          reg,
		Logger:          log,
		FetchMultiplier: cfg.Memory.Hybrid.CandidateMultiplier,
	}

	if cfg.Memory.ResponseCache.Enabled {
		cachePath := filepath.Join(cfg.Memory.DataDir, "response_cache.db")
		cached, err := backend.NewCached(primary, cachePath,
			time.Duration(cfg.Memory.ResponseCache.TTLMinutes)*time.Minute,
			cfg.Memory.ResponseCache.MaxEntries)
		if err != nil {
			return nil, fmt.Errorf("build response cache: %w", err)
		}
		rtCfg.Backend = cached
		rtCfg.ResponseCache = cached
	}

	if cfg.Memory.Hybrid.Enabled && sqliteDB != nil {
		embedder, err := buildEmbedder(cfg.Memory.Embedding)
		if err != nil {
			return nil, err
		}
		vstore := vector.NewSQLiteStore(sqliteDB)
		outbox := vector.NewOutbox(sqliteDB, vector.OutboxConfig{})
		breaker := vector.NewBreaker("memory", vector.BreakerConfig{
			FailureThreshold: uint32(cfg.Memory.Breaker.Failures),
			CooldownMS:       cfg.Memory.Breaker.CooldownMs,
		}, log)

		rtCfg.VectorStore = vstore
		rtCfg.Embedder = embedder
		rtCfg.Outbox = outbox
		rtCfg.Breaker = breaker
		rtCfg.Rollout = rollout.Policy{
			Mode:          rollout.Mode(cfg.Memory.Rollout.Mode),
			CanaryPercent: cfg.Memory.Rollout.CanaryHybridPercent,
		}
		if cfg.Memory.Rollout.Mode == string(rollout.ModeShadow) {
			rtCfg.ShadowLogger = log
		}
		rtCfg.DecayHalfLife = time.Duration(cfg.Memory.Retrieval.DecayHalfLifeMinutes) * time.Minute
		rtCfg.MMRDiversity = cfg.Memory.Retrieval.MMRDiversity
	}

	if cfg.Memory.Hygiene.Enabled {
		snapshotPath := ""
		if cfg.Memory.Snapshot.Enabled && cfg.Memory.Snapshot.OnHygiene {
			snapshotPath = filepath.Join(cfg.Memory.DataDir, "snapshot.json")
		}
		markerPath := filepath.Join(cfg.Memory.DataDir, "hygiene-marker.json")
		hygiene := lifecycle.NewHygiene(rtCfg.Backend, snapshotPath, markerPath, lifecycle.HygieneConfig{
			Schedule:                  "0 3 * * *",
			ArchiveAfterDays:          cfg.Memory.Hygiene.ArchiveAfterDays,
			PurgeAfterDays:            cfg.Memory.Hygiene.PurgeAfterDays,
			ConversationRetentionDays: cfg.Memory.Hygiene.ConversationRetentionDays,
			Logger:                    log,
		})
		if _, err := hygiene.RunIfDue(context.Background()); err != nil {
			log.Warn("hygiene catch-up run failed", "error", err)
		}
		if err := hygiene.Start(); err != nil {
			return nil, fmt.Errorf("start hygiene: %w", err)
		}
		rtCfg.Hygiene = hygiene
	}

	if cfg.Memory.Snapshot.Enabled && cfg.Memory.Snapshot.AutoHydrate {
		snapshotPath := filepath.Join(cfg.Memory.DataDir, "snapshot.json")
		if lifecycle.ShouldHydrate(context.Background(), rtCfg.Backend, snapshotPath) {
			if _, err := lifecycle.Hydrate(context.Background(), rtCfg.Backend, snapshotPath); err != nil {
				log.Warn("snapshot hydrate failed", "error", err, "path", snapshotPath)
			}
		}
	}

	return memory.NewRuntime(rtCfg), nil
}

func buildBackend(cfg *config.Config, log *slog.Logger) (domain.Backend, error) {
	var encryptor domain.ContentEncryptor
	if key := os.Getenv("LUMEN_CONTENT_KEY"); key != "" {
		enc, err := security.NewAESContentEncryptor(key)
		if err != nil {
			return nil, fmt.Errorf("build content encryptor: %w", err)
		}
		encryptor = enc
	}

	switch cfg.Memory.Provider {
	case "sqlite":
		if err := os.MkdirAll(cfg.Memory.DataDir, 0o700); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		dbPath := filepath.Join(cfg.Memory.DataDir, "memory.db")
		return backend.NewSQLite(dbPath, log)
	case "markdown":
		var opts []backend.MarkdownOption
		if encryptor != nil {
			opts = append(opts, backend.WithEncryptor(encryptor))
		}
		return backend.NewMarkdown(cfg.Memory.DataDir, opts...)
	case "noop":
		return backend.NewNoop(), nil
	case "syncshell":
		client := backend.NewExecSyncClient(cfg.Memory.SyncShell.Command, cfg.Memory.SyncShell.Args, 10*time.Second)
		var opts []backend.SyncShellOption
		if encryptor != nil {
			opts = append(opts, backend.WithSyncShellEncryptor(encryptor))
		}
		return backend.NewSyncShell(client, log, opts...), nil
	default:
		return nil, fmt.Errorf("unknown memory provider %q", cfg.Memory.Provider)
	}
}

func buildEmbedder(cfg config.EmbeddingConfig) (domain.EmbeddingProvider, error) {
	var provider domain.EmbeddingProvider
	switch cfg.Provider {
	case "openai":
		provider = embedding.NewOpenAIProvider(cfg.APIKey,
			embedding.WithOpenAIModel(cfg.Model),
			embedding.WithOpenAIDimensions(cfg.Dimensions))
	case "gemini":
		provider = embedding.NewGeminiProvider(cfg.APIKey,
			embedding.WithGeminiModel(cfg.Model),
			embedding.WithGeminiDimensions(cfg.Dimensions))
	case "ollama":
		opts := []embedding.OllamaOption{embedding.WithOllamaModel(cfg.Model), embedding.WithOllamaDimensions(cfg.Dimensions)}
		if cfg.BaseURL != "" {
			opts = append(opts, embedding.WithOllamaBaseURL(cfg.BaseURL))
		}
		provider = embedding.NewOllamaProvider(opts...)
	case "none", "":
		provider = embedding.NewNullProvider(cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
	return embedding.NewCachedEmbedder(provider, 1000), nil
}

func cmdStore(ctx context.Context, rt *memory.Runtime, args []string) error {
	flags, positional := parseFlags(args)
	if len(positional) < 2 {
		return fmt.Errorf("usage: lumen store <key> <content> [--category=core] [--session=ID] [--tags=a,b] [--meta=k=v,k2=v2]")
	}
	category := domain.ParseCategory(flags["category"])
	var sessionID *string
	if v, ok := flags["session"]; ok {
		sessionID = &v
	}
	var tags []string
	if v, ok := flags["tags"]; ok && v != "" {
		tags = strings.Split(v, ",")
	}
	var metadata map[string]string
	if v, ok := flags["meta"]; ok && v != "" {
		metadata = map[string]string{}
		for _, pair := range strings.Split(v, ",") {
			kv := strings.SplitN(pair, "=", 2)
			if len(kv) == 2 {
				metadata[kv[0]] = kv[1]
			}
		}
	}
	return rt.Store(ctx, positional[0], strings.Join(positional[1:], " "), category, sessionID, tags, metadata)
}

func cmdRecall(ctx context.Context, rt *memory.Runtime, args []string) error {
	flags, positional := parseFlags(args)
	if len(positional) < 1 {
		return fmt.Errorf("usage: lumen recall <query> [--limit=6] [--session=ID]")
	}
	limit := 6
	if v, ok := flags["limit"]; ok {
		fmt.Sscanf(v, "%d", &limit)
	}
	var sessionID *string
	if v, ok := flags["session"]; ok {
		sessionID = &v
	}

	results, err := rt.Search(ctx, positional[0], limit, sessionID)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}

func cmdForget(ctx context.Context, rt *memory.Runtime, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: lumen forget <key>")
	}
	removed, err := rt.Forget(ctx, args[0])
	if err != nil {
		return err
	}
	if !removed {
		fmt.Fprintf(os.Stderr, "no entry found for key %q\n", args[0])
	}
	return nil
}

func cmdDrainOutbox(ctx context.Context, rt *memory.Runtime) error {
	n, err := rt.DrainOutbox(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("drained %d pending vector sync entries\n", n)
	return nil
}

// parseFlags splits args into --key=value flags and remaining positional
// arguments, matching the teacher's hand-rolled CLI parsing idiom (no
// cobra/pflag dependency for this small a surface).
func parseFlags(args []string) (map[string]string, []string) {
	flags := map[string]string{}
	var positional []string
	for _, a := range args {
		if strings.HasPrefix(a, "--") {
			kv := strings.SplitN(strings.TrimPrefix(a, "--"), "=", 2)
			if len(kv) == 2 {
				flags[kv[0]] = kv[1]
			} else {
				flags[kv[0]] = "true"
			}
			continue
		}
		positional = append(positional, a)
	}
	return flags, positional
}
