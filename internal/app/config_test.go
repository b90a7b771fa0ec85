package app

import (
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func noEnv(string) (string, bool) { return "", false }

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("questline", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil, noEnv)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Backend != BackendSQLite {
		t.Fatalf("expected sqlite backend, got %q", cfg.Backend)
	}
	if cfg.RemoteTimeout != 15*time.Second {
		t.Fatalf("expected 15s remote timeout, got %s", cfg.RemoteTimeout)
	}
	if cfg.MaxIdlePolls != 5 || cfg.PollInterval != 3*time.Second {
		t.Fatalf("unexpected poll defaults %d/%s", cfg.MaxIdlePolls, cfg.PollInterval)
	}
	if cfg.SessionTimeout != 10*time.Minute {
		t.Fatalf("expected 10m session timeout, got %s", cfg.SessionTimeout)
	}
	if want := filepath.Join(os.TempDir(), "agent-quest"); cfg.StateDir != want {
		t.Fatalf("expected state dir %q, got %q", want, cfg.StateDir)
	}
	if want := filepath.Join(cfg.StateDir, "mailbox.db"); cfg.SQLitePath != want {
		t.Fatalf("expected sqlite path %q, got %q", want, cfg.SQLitePath)
	}
}

func TestParseConfigEnvAndFlags(t *testing.T) {
	t.Setenv("QUESTLINE_BACKEND", "redis")
	t.Setenv("QUESTLINE_IDENTITY", "env-user")

	fs := flag.NewFlagSet("questline", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-identity", "flag-user", "-max-idle-polls", "9"}, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Backend != BackendRedis {
		t.Fatalf("expected env backend, got %q", cfg.Backend)
	}
	if cfg.Identity != "flag-user" {
		t.Fatalf("expected flag identity, got %q", cfg.Identity)
	}
	if cfg.MaxIdlePolls != 9 {
		t.Fatalf("expected flag max idle polls, got %d", cfg.MaxIdlePolls)
	}
}

func TestParseConfigSettingsFileSitsBelowEnvAndFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "questline.toml")
	content := strings.Join([]string{
		`backend = "memory"`,
		`identity = "file-user"`,
		`locale = "pt-BR"`,
		`poll_interval = "1s"`,
		`max_idle_polls = 2`,
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write settings: %v", err)
	}
	t.Setenv("QUESTLINE_CONFIG", path)
	t.Setenv("QUESTLINE_LOCALE", "en-US")

	fs := flag.NewFlagSet("questline", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-identity", "flag-user"}, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Backend != BackendMemory {
		t.Fatalf("expected file backend, got %q", cfg.Backend)
	}
	if cfg.Identity != "flag-user" {
		t.Fatalf("expected flag to win over file, got %q", cfg.Identity)
	}
	if cfg.Locale != "en-US" {
		t.Fatalf("expected env to win over file, got %q", cfg.Locale)
	}
	if cfg.PollInterval != time.Second || cfg.MaxIdlePolls != 2 {
		t.Fatalf("expected file poll settings, got %s/%d", cfg.PollInterval, cfg.MaxIdlePolls)
	}
}

func TestApplyFileRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "questline.toml")
	if err := os.WriteFile(path, []byte(`remote_timeout = "soon"`), 0o600); err != nil {
		t.Fatalf("write settings: %v", err)
	}
	var cfg Config
	if err := cfg.ApplyFile(path, nil); err == nil {
		t.Fatal("expected duration error")
	}
}

func TestApplyFileRejectsUnknownKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "questline.toml")
	if err := os.WriteFile(path, []byte(`colour = "blue"`), 0o600); err != nil {
		t.Fatalf("write settings: %v", err)
	}
	var cfg Config
	if err := cfg.ApplyFile(path, nil); err == nil {
		t.Fatal("expected unknown key error")
	}
}
