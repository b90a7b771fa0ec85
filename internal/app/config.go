package app

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/matt-davison/agent-quest/internal/platform/config"
)

// Storage backends for the shared mailbox.
const (
	BackendGitHub = "github"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config holds the settings shared by every front end. Precedence from low
// to high: defaults, settings file, environment, flags.
type Config struct {
	SettingsFile   string        `env:"QUESTLINE_CONFIG"`
	StateDir       string        `env:"QUESTLINE_STATE_DIR"`
	Backend        string        `env:"QUESTLINE_BACKEND"          envDefault:"sqlite"`
	Repo           string        `env:"QUESTLINE_REPO"`
	Token          string        `env:"QUESTLINE_GITHUB_TOKEN"`
	GitHubAPIURL   string        `env:"QUESTLINE_GITHUB_API_URL"`
	SQLitePath     string        `env:"QUESTLINE_SQLITE_PATH"`
	RedisAddr      string        `env:"QUESTLINE_REDIS_ADDR"       envDefault:"localhost:6379"`
	RedisPassword  string        `env:"QUESTLINE_REDIS_PASSWORD"`
	RedisDB        int           `env:"QUESTLINE_REDIS_DB"         envDefault:"0"`
	RedisNamespace string        `env:"QUESTLINE_REDIS_NAMESPACE"`
	BaseRef        string        `env:"QUESTLINE_BASE_REF"         envDefault:"main"`
	WorldsDir      string        `env:"QUESTLINE_WORLDS_DIR"       envDefault:"."`
	Identity       string        `env:"QUESTLINE_IDENTITY"`
	ConflictPolicy string        `env:"QUESTLINE_CONFLICT_POLICY"  envDefault:"drop"`
	RemoteTimeout  time.Duration `env:"QUESTLINE_REMOTE_TIMEOUT"   envDefault:"15s"`
	PollInterval   time.Duration `env:"QUESTLINE_POLL_INTERVAL"    envDefault:"3s"`
	MaxIdlePolls   int           `env:"QUESTLINE_MAX_IDLE_POLLS"   envDefault:"5"`
	SessionTimeout time.Duration `env:"QUESTLINE_SESSION_TIMEOUT"  envDefault:"10m"`
	Locale         string        `env:"QUESTLINE_LOCALE"           envDefault:"en-US"`
}

type fileSettings struct {
	StateDir       string `toml:"state_dir"`
	Backend        string `toml:"backend"`
	Repo           string `toml:"repo"`
	GitHubAPIURL   string `toml:"github_api_url"`
	SQLitePath     string `toml:"sqlite_path"`
	RedisAddr      string `toml:"redis_addr"`
	RedisDB        int    `toml:"redis_db"`
	RedisNamespace string `toml:"redis_namespace"`
	BaseRef        string `toml:"base_ref"`
	WorldsDir      string `toml:"worlds_dir"`
	Identity       string `toml:"identity"`
	ConflictPolicy string `toml:"conflict_policy"`
	RemoteTimeout  string `toml:"remote_timeout"`
	PollInterval   string `toml:"poll_interval"`
	MaxIdlePolls   int    `toml:"max_idle_polls"`
	SessionTimeout string `toml:"session_timeout"`
	Locale         string `toml:"locale"`
}

// ParseConfig loads environment defaults, registers the shared flags on fs
// and parses args, then layers the settings file beneath whatever the
// environment or flags set explicitly.
func ParseConfig(fs *flag.FlagSet, args []string, lookupEnv func(string) (string, bool)) (Config, error) {
	if lookupEnv == nil {
		lookupEnv = os.LookupEnv
	}
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	cfg.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	setFlags := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })

	explicit := func(key string) bool {
		if setFlags[strings.ReplaceAll(key, "_", "-")] {
			return true
		}
		_, ok := lookupEnv("QUESTLINE_" + strings.ToUpper(key))
		return ok
	}
	if err := cfg.ApplyFile(cfg.SettingsFile, explicit); err != nil {
		return Config{}, err
	}
	return cfg.normalized(), nil
}

// RegisterFlags binds the shared flags to cfg, using its current values as
// defaults.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.SettingsFile, "config", c.SettingsFile, "TOML settings file")
	fs.StringVar(&c.StateDir, "state-dir", c.StateDir, "directory for the session mirror and scratch files")
	fs.StringVar(&c.Backend, "backend", c.Backend, "mailbox backend: github, sqlite, redis or memory")
	fs.StringVar(&c.Repo, "repo", c.Repo, "GitHub repository owner/name for the github backend")
	fs.StringVar(&c.SQLitePath, "sqlite-path", c.SQLitePath, "database file for the sqlite backend")
	fs.StringVar(&c.RedisAddr, "redis-addr", c.RedisAddr, "server address for the redis backend")
	fs.StringVar(&c.BaseRef, "base-ref", c.BaseRef, "ref new mailbox refs fork from")
	fs.StringVar(&c.WorldsDir, "worlds-dir", c.WorldsDir, "directory holding worlds/<world>/players")
	fs.StringVar(&c.Identity, "identity", c.Identity, "player identity (defaults to the GitHub login)")
	fs.StringVar(&c.ConflictPolicy, "conflict-policy", c.ConflictPolicy, "lost write races: drop or retry")
	fs.DurationVar(&c.RemoteTimeout, "remote-timeout", c.RemoteTimeout, "timeout for one mailbox call")
	fs.DurationVar(&c.PollInterval, "poll-interval", c.PollInterval, "interval between watch polls")
	fs.IntVar(&c.MaxIdlePolls, "max-idle-polls", c.MaxIdlePolls, "idle polls before watch stops")
	fs.DurationVar(&c.SessionTimeout, "session-timeout", c.SessionTimeout, "inactivity after which a remote session is abandoned")
	fs.StringVar(&c.Locale, "locale", c.Locale, "locale for rendered text")
}

// ApplyFile copies values defined in the settings file at path into c,
// skipping keys for which explicit reports true. A blank path is a no-op.
func (c *Config) ApplyFile(path string, explicit func(key string) bool) error {
	var raw fileSettings
	meta, err := config.LoadFile(path, false, &raw)
	if err != nil {
		return err
	}
	if explicit == nil {
		explicit = func(string) bool { return false }
	}
	use := func(key string) bool { return meta.IsDefined(key) && !explicit(key) }
	duration := func(key, value string, dst *time.Duration) error {
		if !use(key) {
			return nil
		}
		d, err := time.ParseDuration(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("parse %s: %w", key, err)
		}
		*dst = d
		return nil
	}

	strs := []struct {
		key   string
		value string
		dst   *string
	}{
		{"state_dir", raw.StateDir, &c.StateDir},
		{"backend", raw.Backend, &c.Backend},
		{"repo", raw.Repo, &c.Repo},
		{"github_api_url", raw.GitHubAPIURL, &c.GitHubAPIURL},
		{"sqlite_path", raw.SQLitePath, &c.SQLitePath},
		{"redis_addr", raw.RedisAddr, &c.RedisAddr},
		{"redis_namespace", raw.RedisNamespace, &c.RedisNamespace},
		{"base_ref", raw.BaseRef, &c.BaseRef},
		{"worlds_dir", raw.WorldsDir, &c.WorldsDir},
		{"identity", raw.Identity, &c.Identity},
		{"conflict_policy", raw.ConflictPolicy, &c.ConflictPolicy},
		{"locale", raw.Locale, &c.Locale},
	}
	for _, s := range strs {
		if use(s.key) {
			*s.dst = strings.TrimSpace(s.value)
		}
	}
	if use("redis_db") {
		c.RedisDB = raw.RedisDB
	}
	if use("max_idle_polls") {
		c.MaxIdlePolls = raw.MaxIdlePolls
	}
	if err := duration("remote_timeout", raw.RemoteTimeout, &c.RemoteTimeout); err != nil {
		return err
	}
	if err := duration("poll_interval", raw.PollInterval, &c.PollInterval); err != nil {
		return err
	}
	return duration("session_timeout", raw.SessionTimeout, &c.SessionTimeout)
}

func (c Config) normalized() Config {
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	if strings.TrimSpace(c.StateDir) == "" {
		c.StateDir = filepath.Join(os.TempDir(), "agent-quest")
	}
	if strings.TrimSpace(c.SQLitePath) == "" {
		c.SQLitePath = filepath.Join(c.StateDir, "mailbox.db")
	}
	return c
}
