package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/eugener/ngevent/internal/cache"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
server:
  addr: ":9090"
  read_timeout: 10s
database:
  dsn: ":memory:"
backend:
  type: postgrest
  url: https://db.example.com/rest/v1
  api_key: anon
  retries: 3
cache:
  storage: redis
  redis:
    url: redis://localhost:6379/2
  ttl:
    profile: 1m
    notifications: 10s
seed:
  profiles:
    - id: u1
      full_name: Ana
      role: organizer
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Addr != ":9090" {
		t.Errorf("addr = %q, want %q", cfg.Server.Addr, ":9090")
	}
	if cfg.Server.ReadTimeout != 10*time.Second {
		t.Errorf("read_timeout = %v", cfg.Server.ReadTimeout)
	}
	if cfg.Backend.Type != BackendPostgREST || cfg.Backend.Retries != 3 {
		t.Errorf("backend = %+v", cfg.Backend)
	}
	if cfg.Backend.Timeout != 20*time.Second {
		t.Errorf("backend timeout default lost: %v", cfg.Backend.Timeout)
	}
	if cfg.Cache.Redis.Namespace != "ngevent:" {
		t.Errorf("namespace default lost: %q", cfg.Cache.Redis.Namespace)
	}
	want := cache.DefaultPolicy()
	want.Profile = time.Minute
	want.Notifications = 10 * time.Second
	if cfg.Cache.TTL != want {
		t.Errorf("ttl = %+v, want %+v", cfg.Cache.TTL, want)
	}
	if len(cfg.Seed.Profiles) != 1 || cfg.Seed.Profiles[0].Role != "organizer" {
		t.Errorf("seed = %+v", cfg.Seed)
	}
}

func TestExpandEnv(t *testing.T) {
	// Cannot use t.Parallel() with t.Setenv
	t.Setenv("TEST_ADMIN_KEY", "nge_secret-123")

	path := writeConfig(t, "auth:\n  admin_key: ${TEST_ADMIN_KEY}\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Auth.AdminKey != "nge_secret-123" {
		t.Errorf("admin_key = %q", cfg.Auth.AdminKey)
	}

	result := expandEnv([]byte("key: ${TEST_ADMIN_KEY} other: ${NGEVENT_UNSET_VAR}"))
	if string(result) != "key: nge_secret-123 other: ${NGEVENT_UNSET_VAR}" {
		t.Errorf("expandEnv = %q", string(result))
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, `{}`))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Errorf("default addr = %q, want %q", cfg.Server.Addr, ":8080")
	}
	if cfg.Database.DSN != "ngevent.db" {
		t.Errorf("default dsn = %q, want %q", cfg.Database.DSN, "ngevent.db")
	}
	if cfg.Backend.Type != BackendSQLite || cfg.Cache.Storage != StorageMemory {
		t.Errorf("backend = %q, storage = %q", cfg.Backend.Type, cfg.Cache.Storage)
	}
	if cfg.Cache.TTL != cache.DefaultPolicy() {
		t.Errorf("ttl = %+v", cfg.Cache.TTL)
	}
	if cfg.Cache.SweepInterval != 5*time.Minute {
		t.Errorf("sweep_interval = %v", cfg.Cache.SweepInterval)
	}
}

func TestLoadInvalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown backend", "backend:\n  type: mongo\n", "unknown backend.type"},
		{"postgrest without url", "backend:\n  type: postgrest\n", "backend.url"},
		{"redis without url", "cache:\n  storage: redis\n", "cache.redis.url"},
		{"sqlite cache on postgrest", "backend:\n  type: postgrest\n  url: http://x\ncache:\n  storage: sqlite\n", "needs backend.type sqlite"},
		{"unknown storage", "cache:\n  storage: memcached\n", "unknown cache.storage"},
		{"bad yaml", "server: [", "parse config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Load(writeConfig(t, tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error")
	}
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"chatty", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := (LogConfig{Level: tt.in}).SlogLevel(); got != tt.want {
			t.Errorf("SlogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
