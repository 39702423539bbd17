package config

import (
	"testing"
)

func TestParseEnvFileOverridesFields(t *testing.T) {
	cfg := &HostConfig{}
	content := "# comment\nIDEVICEKIT_MUX_SOCKET=/tmp/usbmuxd\nIDEVICEKIT_HOST_ID = abc-123\n\nIDEVICEKIT_SYSTEM_BUID=def-456\n"
	parseEnvFile(content, cfg)

	if cfg.SocketPath != "/tmp/usbmuxd" {
		t.Errorf("SocketPath = %q", cfg.SocketPath)
	}
	if cfg.HostID != "abc-123" {
		t.Errorf("HostID = %q", cfg.HostID)
	}
	if cfg.SystemBUID != "def-456" {
		t.Errorf("SystemBUID = %q", cfg.SystemBUID)
	}
}

func TestParseEnvFileIgnoresMalformedLines(t *testing.T) {
	cfg := &HostConfig{}
	parseEnvFile("not-a-key-value-line\n=noKey\nIDEVICEKIT_CACHE_DIR=/tmp/cache\n", cfg)

	if cfg.CacheDir != "/tmp/cache" {
		t.Errorf("CacheDir = %q", cfg.CacheDir)
	}
}

func TestDerivedIdentityIsStableAndRoleSalted(t *testing.T) {
	host := derivedIdentity("host")
	system := derivedIdentity("system")
	hostAgain := derivedIdentity("host")

	if host == "" || system == "" {
		t.Fatal("derivedIdentity returned an empty string")
	}
	if host == system {
		t.Fatalf("host and system identities collided: %q", host)
	}
	if host != hostAgain {
		t.Fatalf("derivedIdentity is not stable across calls: %q != %q", host, hostAgain)
	}
}

func TestSystemLockdownDirIsNonEmpty(t *testing.T) {
	if SystemLockdownDir() == "" {
		t.Fatal("SystemLockdownDir returned empty string")
	}
}
