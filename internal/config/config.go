// Package config loads host-side settings: the usbmuxd socket location, the
// user cache directory new pair records are written to (and read from after
// the system lockdown directory and the mux daemon), and the stable
// per-host identity (HostID,
// SystemBUID) every mux/lockdown request is tagged with (spec.md §4.6,
// §6 "Configuration").
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/google/uuid"
)

// HostConfig is the resolved runtime configuration for one process.
type HostConfig struct {
	// SocketPath overrides the usbmuxd Unix-domain socket path. Empty means
	// internal/transport.DefaultSocketPath (ignored on Windows).
	SocketPath string
	// CacheDir is the user cache directory pair records fall back to when
	// no system lockdown directory can be used (spec.md §4.5 step 1).
	CacheDir string
	// HostID is this host's stable identifier, sent as PairRecord.HostID
	// and as the lockdown StartSession HostID.
	HostID string
	// SystemBUID is this host's stable "system" identifier, sent
	// alongside HostID on StartSession.
	SystemBUID string
}

var (
	hostConfig *HostConfig
	loaded     bool
)

// Load resolves the host configuration once and caches it; repeat calls
// return the same value. Environment variables override the .env file,
// which overrides the computed defaults.
func Load() (*HostConfig, error) {
	if loaded {
		return hostConfig, nil
	}

	cfg := &HostConfig{
		CacheDir: defaultCacheDir(),
	}

	envPath := filepath.Join(findProjectRoot(), ".env")
	if data, err := os.ReadFile(envPath); err == nil {
		parseEnvFile(string(data), cfg)
	}

	if v := os.Getenv("IDEVICEKIT_MUX_SOCKET"); v != "" {
		cfg.SocketPath = v
	}
	if v := os.Getenv("IDEVICEKIT_CACHE_DIR"); v != "" {
		cfg.CacheDir = v
	}
	if v := os.Getenv("IDEVICEKIT_HOST_ID"); v != "" {
		cfg.HostID = v
	}
	if v := os.Getenv("IDEVICEKIT_SYSTEM_BUID"); v != "" {
		cfg.SystemBUID = v
	}

	if cfg.HostID == "" {
		cfg.HostID = derivedIdentity("host")
	}
	if cfg.SystemBUID == "" {
		cfg.SystemBUID = derivedIdentity("system")
	}

	hostConfig = cfg
	loaded = true
	return cfg, nil
}

// derivedIdentity reproduces the original client's uuid3-from-hostname
// derivation (util/lockdown.py derives both IDs from platform.node() under
// uuid.NAMESPACE_DNS) with google/uuid's version-5 namespace UUID, salted
// by role so HostID and SystemBUID don't collide when the hostname alone
// would otherwise produce the same value for both.
func derivedIdentity(role string) string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "localhost"
	}
	return strings.ToUpper(uuid.NewSHA1(uuid.NameSpaceDNS, []byte(role+":"+hostname)).String())
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "idevicekit")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".cache", "idevicekit")
}

// SystemLockdownDir returns the OS-specific system pair-record directory
// (spec.md §4.5 step 1), which may not exist or be writable by this user.
func SystemLockdownDir() string {
	switch runtime.GOOS {
	case "darwin":
		return "/var/db/lockdown"
	case "windows":
		base := os.Getenv("ALLUSERSPROFILE")
		if base == "" {
			base = `C:\ProgramData`
		}
		return filepath.Join(base, "Apple", "Lockdown")
	default:
		return "/var/lib/lockdown"
	}
}

func parseEnvFile(content string, cfg *HostConfig) {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		switch key {
		case "IDEVICEKIT_MUX_SOCKET":
			cfg.SocketPath = value
		case "IDEVICEKIT_CACHE_DIR":
			cfg.CacheDir = value
		case "IDEVICEKIT_HOST_ID":
			cfg.HostID = value
		case "IDEVICEKIT_SYSTEM_BUID":
			cfg.SystemBUID = value
		}
	}
}

func findProjectRoot() string {
	cwd, _ := os.Getwd()
	if _, err := os.Stat(filepath.Join(cwd, ".env")); err == nil {
		return cwd
	}
	for {
		if _, err := os.Stat(filepath.Join(cwd, "go.mod")); err == nil {
			return cwd
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			return cwd
		}
		cwd = parent
	}
}
