package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/eugener/ngevent/internal/cache"
	"github.com/eugener/ngevent/internal/config"
)

func TestPrintEntry(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := &cache.Entry{
		Data:      json.RawMessage(`{"id":"u1"}`),
		Timestamp: now.Add(-5 * time.Minute).UnixMilli(),
		ExpiresAt: now.Add(time.Hour).UnixMilli(),
	}

	var buf bytes.Buffer
	printEntry(&buf, "profile:u1", e, now)
	out := buf.String()
	for _, want := range []string{"profile:u1", "state:   valid", "5 minutes ago", "1 hour from now", `{"id":"u1"}`} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	printEntry(&buf, "profile:u1", e, now.Add(2*time.Hour))
	if !strings.Contains(buf.String(), "state:   expired") {
		t.Errorf("expired entry shown as:\n%s", buf.String())
	}
}

func TestPrintStats(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	printStats(&buf, cache.Stats{Total: 12345, Valid: 12000, Expired: 300, Invalid: 45})
	if !strings.Contains(buf.String(), "total:   12,345") {
		t.Errorf("output:\n%s", buf.String())
	}
}

func TestOpenSharedCache_RejectsMemory(t *testing.T) {
	t.Parallel()
	if _, _, err := openSharedCache(config.Default()); err == nil {
		t.Fatal("expected error for memory storage")
	}
}

func TestOpenSharedCache_SQLite(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Database.DSN = t.TempDir() + "/cache.db"
	cfg.Cache.Storage = config.StorageSQLite

	d, closeAll, err := openSharedCache(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer closeAll()

	ctx := t.Context()
	if err := d.Set(ctx, "profile:u1", map[string]string{"id": "u1"}, time.Minute); err != nil {
		t.Fatal(err)
	}
	if s := d.Stats(ctx); s.Total != 1 || s.Valid != 1 {
		t.Errorf("stats = %+v", s)
	}
}

func TestNewLogger(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger, level := newLogger(config.LogConfig{Level: "warn", Format: "text"}, &buf)

	logger.Info("hidden")
	logger.Warn("shown")
	level.Set(slog.LevelDebug)
	logger.Debug("now visible")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") || !strings.Contains(out, "now visible") {
		t.Errorf("output:\n%s", out)
	}
}
