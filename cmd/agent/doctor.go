package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"lumen/internal/domain"
	"lumen/internal/infra/config"
	"lumen/internal/memory"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(cfg *config.Config, rt *memory.Runtime) CheckResult
}

// runDoctor executes all health checks against the configured memory
// runtime and reports results.
func runDoctor(ctx context.Context, cfg *config.Config, rt *memory.Runtime) error {
	checks := []Check{
		{Name: "Memory backend", Fn: checkMemoryBackend},
		{Name: "Vector plane", Fn: checkVectorPlane},
		{Name: "Runtime health", Fn: checkRuntimeHealth(ctx)},
		{Name: "Sync shell tool", Fn: checkSyncShellTool},
		{Name: "Disk space", Fn: checkDiskSpace},
		{Name: "Network", Fn: checkNetwork},
	}

	fmt.Println("lumen doctor")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Println()

	var pass, warn, fail int
	for _, check := range checks {
		result := check.Fn(cfg, rt)
		result.Name = check.Name

		icon := statusIcon(result.Status)
		fmt.Printf("  %s %s: %s\n", icon, result.Name, result.Message)
		if result.Fix != "" {
			fmt.Printf("      Fix: %s\n", result.Fix)
		}

		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Println()
	fmt.Println(strings.Repeat("-", 50))
	fmt.Printf("Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)

	if fail > 0 {
		fmt.Println("\nFix the FAIL issues above before relying on lumen in this environment.")
		return fmt.Errorf("%d check(s) failed", fail)
	}
	if warn > 0 {
		fmt.Println("\nlumen should work, but consider addressing the warnings.")
	} else {
		fmt.Println("\nAll checks passed.")
	}
	return nil
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return "[PASS]"
	case StatusWarn:
		return "[WARN]"
	case StatusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}

// checkMemoryBackend verifies the memory data directory exists and is writable.
func checkMemoryBackend(cfg *config.Config, _ *memory.Runtime) CheckResult {
	provider := cfg.Memory.Provider
	if provider == "noop" || provider == "" {
		return CheckResult{
			Status:  StatusPass,
			Message: "memory provider is noop (no persistence)",
		}
	}

	dataDir := cfg.Memory.DataDir
	if dataDir == "" {
		dataDir = "./data/memory"
	}
	absDir, _ := filepath.Abs(dataDir)

	info, err := os.Stat(absDir)
	if os.IsNotExist(err) {
		if mkErr := os.MkdirAll(absDir, 0o700); mkErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("data directory %s does not exist and cannot be created: %v", absDir, mkErr),
				Fix:     fmt.Sprintf("create the directory: mkdir -p %s", absDir),
			}
		}
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("data directory created at %s (provider: %s)", absDir, provider),
		}
	}
	if err != nil {
		return CheckResult{Status: StatusFail, Message: fmt.Sprintf("cannot stat data directory: %v", err)}
	}
	if !info.IsDir() {
		return CheckResult{Status: StatusFail, Message: fmt.Sprintf("%s exists but is not a directory", absDir)}
	}

	testFile := filepath.Join(absDir, ".doctor-check")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("data directory %s is not writable: %v", absDir, err),
			Fix:     fmt.Sprintf("fix permissions: chmod 755 %s", absDir),
		}
	}
	os.Remove(testFile)

	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("data directory %s writable (provider: %s)", absDir, provider),
	}
}

// checkVectorPlane reports whether hybrid retrieval is enabled and, if so,
// whether an embedding provider is configured for it.
func checkVectorPlane(cfg *config.Config, _ *memory.Runtime) CheckResult {
	if !cfg.Memory.Hybrid.Enabled {
		return CheckResult{Status: StatusPass, Message: "hybrid retrieval disabled — keyword-only search"}
	}
	if cfg.Memory.Embedding.Provider == "" || cfg.Memory.Embedding.Provider == "none" {
		return CheckResult{
			Status:  StatusWarn,
			Message: "hybrid retrieval enabled but embedding provider is \"none\"",
			Fix:     "set memory.embedding.provider to openai, gemini, or ollama",
		}
	}
	if cfg.Memory.Embedding.Provider != "ollama" && cfg.Memory.Embedding.APIKey == "" {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("embedding provider %q configured without an API key", cfg.Memory.Embedding.Provider),
			Fix:     "set memory.embedding.api_key or the matching LUMEN_ env override",
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("hybrid retrieval enabled with provider %q, rollout mode %q", cfg.Memory.Embedding.Provider, cfg.Memory.Rollout.Mode),
	}
}

// checkRuntimeHealth consults the runtime's health registry for any
// components that have reported an error since startup.
func checkRuntimeHealth(ctx context.Context) func(*config.Config, *memory.Runtime) CheckResult {
	return func(_ *config.Config, rt *memory.Runtime) CheckResult {
		statuses := rt.Health().Snapshot()
		if len(statuses) == 0 {
			return CheckResult{Status: StatusPass, Message: "no components have reported health yet"}
		}
		var unhealthy []string
		for name, s := range statuses {
			if s.Status == domain.HealthError {
				msg := ""
				if s.LastError != nil {
					msg = *s.LastError
				}
				unhealthy = append(unhealthy, fmt.Sprintf("%s: %s", name, msg))
			}
		}
		if len(unhealthy) > 0 {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("unhealthy components: %s", strings.Join(unhealthy, "; ")),
			}
		}
		return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%d component(s) reporting healthy", len(statuses))}
	}
}

// checkSyncShellTool verifies the configured syncshell command resolves
// on PATH when that backend is in use.
func checkSyncShellTool(cfg *config.Config, _ *memory.Runtime) CheckResult {
	if cfg.Memory.Provider != "syncshell" {
		return CheckResult{Status: StatusPass, Message: "syncshell backend not in use"}
	}
	cmd := cfg.Memory.SyncShell.Command
	if cmd == "" {
		return CheckResult{Status: StatusFail, Message: "syncshell backend selected but memory.syncshell.command is empty"}
	}
	path, err := exec.LookPath(cmd)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("sync command %q not found on PATH", cmd),
			Fix:     "install the sync tool or correct memory.syncshell.command",
		}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("found %s at %s", cmd, path)}
}

// checkDiskSpace checks available disk space in the data directory.
func checkDiskSpace(cfg *config.Config, _ *memory.Runtime) CheckResult {
	dataDir := cfg.Memory.DataDir
	if dataDir == "" {
		dataDir = "./data"
	}
	absDir, _ := filepath.Abs(dataDir)

	info, err := os.Stat(absDir)
	if err != nil || !info.IsDir() {
		return CheckResult{Status: StatusPass, Message: "data directory does not exist yet — space check skipped"}
	}

	out, err := exec.Command("df", "-h", absDir).Output()
	if err != nil {
		return CheckResult{Status: StatusWarn, Message: "could not determine disk space (df command failed)"}
	}

	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) < 2 {
		return CheckResult{Status: StatusWarn, Message: "unexpected df output format"}
	}
	fields := strings.Fields(lines[len(lines)-1])
	if len(fields) < 5 {
		return CheckResult{Status: StatusWarn, Message: "unexpected df output format"}
	}

	available := fields[3]
	usePercent := fields[4]
	pctStr := strings.TrimSuffix(usePercent, "%")
	var pct int
	fmt.Sscanf(pctStr, "%d", &pct)

	if pct >= 95 {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("disk almost full: %s used, %s available", usePercent, available),
			Fix:     "free up disk space or change memory.data_dir to a different partition",
		}
	}
	if pct >= 85 {
		return CheckResult{Status: StatusWarn, Message: fmt.Sprintf("disk usage high: %s used, %s available", usePercent, available)}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("disk usage: %s used, %s available", usePercent, available)}
}

// checkNetwork verifies basic internet connectivity, relevant only when
// an external embedding or sync provider is configured.
func checkNetwork(cfg *config.Config, _ *memory.Runtime) CheckResult {
	needsNetwork := cfg.Memory.Hybrid.Enabled && cfg.Memory.Embedding.Provider != "" && cfg.Memory.Embedding.Provider != "none" && cfg.Memory.Embedding.Provider != "ollama"
	if !needsNetwork {
		return CheckResult{Status: StatusPass, Message: "no external provider configured — network check skipped"}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", "1.1.1.1:443")
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: "no internet connectivity detected",
			Fix:     "check your network connection and firewall settings",
		}
	}
	conn.Close()
	return CheckResult{Status: StatusPass, Message: "internet connectivity OK"}
}
