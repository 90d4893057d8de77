package config_test

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/clinigraph/internal/config"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"NEO4J_URI", "NEO4J_USERNAME", "NEO4J_PASSWORD", "NEO4J_DATABASE",
		"NATS_URL", "NATS_SUBJECT", "NATS_ENABLED", "LOG_LEVEL", "PORT",
		"OTEL_EXPORTER_OTLP_ENDPOINT",
	} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clinigraph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	l, err := config.NewLoader("")
	require.NoError(t, err)
	cfg := l.Config()

	assert.Equal(t, "v1", cfg.Version)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "bolt://localhost:7687", cfg.Neo4j.URI)
	assert.Equal(t, 50, cfg.Neo4j.MaxConnectionPoolSize)
	assert.Equal(t, 20, cfg.Ingest.DispatchWorkers)
	assert.Equal(t, config.PolicyAttempted, cfg.Ingest.RelationshipPolicy)
	assert.Equal(t, 50, cfg.Publisher.BatchSize)
	assert.Equal(t, 10, cfg.Publisher.Workers)
	assert.False(t, cfg.NATS.Enabled)
	assert.NoError(t, config.Validate(cfg))
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
version: v1
neo4j:
  uri: memory://
ingest:
  dispatch_workers: 4
  relationship_policy: confirmed
publisher:
  batch_size: 25
`)
	l, err := config.NewLoader(path)
	require.NoError(t, err)
	cfg := l.Config()
	assert.Equal(t, config.MemoryURI, cfg.Neo4j.URI)
	assert.Equal(t, 4, cfg.Ingest.DispatchWorkers)
	assert.Equal(t, 1000, cfg.Ingest.QueueDepth)
	assert.Equal(t, config.PolicyConfirmed, cfg.Ingest.RelationshipPolicy)
	assert.Equal(t, 25, cfg.Publisher.BatchSize)
	assert.NoError(t, config.Validate(cfg))
}

func TestLoadFile_Errors(t *testing.T) {
	_, err := config.NewLoader(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = config.NewLoader(writeConfig(t, "ingest: [unclosed"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("NEO4J_URI", "neo4j+s://graph.example.com")
	t.Setenv("NEO4J_PASSWORD", "secret")
	t.Setenv("NATS_ENABLED", "true")
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")

	path := writeConfig(t, "version: v1\nneo4j:\n  uri: bolt://file-value:7687\n")
	l, err := config.NewLoader(path)
	require.NoError(t, err)
	cfg := l.Config()
	assert.Equal(t, "neo4j+s://graph.example.com", cfg.Neo4j.URI)
	assert.Equal(t, "secret", cfg.Neo4j.Password)
	assert.True(t, cfg.NATS.Enabled)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("NEO4J_USERNAME", "already-set")
	// Only variables absent from the environment are loaded.
	require.NoError(t, os.Unsetenv("NEO4J_DATABASE"))
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("NEO4J_DATABASE=clinical\nNEO4J_USERNAME=from-file\n"), 0o644))

	require.NoError(t, config.LoadDotEnv(path))
	assert.Equal(t, "clinical", os.Getenv("NEO4J_DATABASE"))
	assert.Equal(t, "already-set", os.Getenv("NEO4J_USERNAME"))

	assert.NoError(t, config.LoadDotEnv(filepath.Join(t.TempDir(), "nope.env")))
}

func TestValidate_AccumulatesErrors(t *testing.T) {
	cfg := config.Default()
	cfg.Neo4j.URI = "not a uri"
	cfg.Ingest.DispatchWorkers = -1
	cfg.Ingest.RelationshipPolicy = "maybe"
	cfg.Publisher.BatchSize = 0
	cfg.Log.Format = "xml"
	cfg.NATS.Enabled = true
	cfg.NATS.FetchBatch = 0

	err := config.Validate(cfg)
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{
		"neo4j.uri",
		"ingest.dispatch_workers",
		"ingest.relationship_policy",
		"publisher.batch_size",
		"log.format",
		"nats.fetch_batch",
	} {
		assert.Contains(t, msg, want)
	}
}

func TestValidate_MemoryStoreSkipsCredentials(t *testing.T) {
	cfg := config.Default()
	cfg.Neo4j.URI = config.MemoryURI
	cfg.Neo4j.Username = ""
	assert.NoError(t, config.Validate(cfg))
}

func TestValidate_VersionRequired(t *testing.T) {
	cfg := config.Default()
	cfg.Version = ""
	assert.ErrorContains(t, config.Validate(cfg), "version is required")
}

func TestReload_NotifiesAndKeepsPreviousOnError(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "version: v1\ningest:\n  dispatch_timeout_ms: 1000\n")
	l, err := config.NewLoader(path)
	require.NoError(t, err)

	var seen []int
	l.OnChange(func(c *config.Config) { seen = append(seen, c.Ingest.DispatchTimeoutMs) })

	require.NoError(t, os.WriteFile(path, []byte("version: v1\ningest:\n  dispatch_timeout_ms: 2500\n"), 0o644))
	cfg, err := l.Reload()
	require.NoError(t, err)
	assert.Equal(t, 2500, cfg.Ingest.DispatchTimeoutMs)
	assert.Equal(t, []int{2500}, seen)

	require.NoError(t, os.WriteFile(path, []byte("version: v1\ningest:\n  relationship_policy: sometimes\n"), 0o644))
	_, err = l.Reload()
	assert.Error(t, err)
	assert.Equal(t, 2500, l.Config().Ingest.DispatchTimeoutMs)
	assert.Len(t, seen, 1)
}

// lockedBuffer is a log sink safe to read while the watcher goroutine writes.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestWatch_LogsBrokenEdit(t *testing.T) {
	clearEnv(t)
	var logs lockedBuffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&logs, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	path := writeConfig(t, "version: v1\ningest:\n  dispatch_timeout_ms: 1000\n")
	l, err := config.NewLoader(path)
	require.NoError(t, err)
	stop, err := l.Watch()
	require.NoError(t, err)
	defer stop()

	require.NoError(t, os.WriteFile(path, []byte("version: v1\ningest:\n  relationship_policy: sometimes\n"), 0o644))

	assert.Eventually(t, func() bool {
		return strings.Contains(logs.String(), "config reload failed")
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, 1000, l.Config().Ingest.DispatchTimeoutMs)
}

func TestWatch_RequiresFile(t *testing.T) {
	clearEnv(t)
	l, err := config.NewLoader("")
	require.NoError(t, err)
	_, err = l.Watch()
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	lvl, err := config.ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, lvl)

	lvl, err = config.ParseLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, lvl)

	lvl, err = config.ParseLevel("loud")
	assert.Error(t, err)
	assert.Equal(t, slog.LevelInfo, lvl)
}

func TestDurations(t *testing.T) {
	cfg := config.Default()
	assert.Equal(t, "30s", cfg.Ingest.DispatchTimeout().String())
	assert.Equal(t, "10s", cfg.Neo4j.WriteTimeout().String())
	assert.Equal(t, "5s", cfg.NATS.FetchWait().String())
	assert.Equal(t, "10s", cfg.Publisher.PublishTimeout().String())
}
