package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
logging:
  development: true
writer:
  log_dir: /var/log/tb
  flush_every: 16
  filename_suffix: .v2
mirror:
  enabled: true
  buffer_size: 128
  batch:
    max_events: 32
    max_wait_ms: 250
  sink_timeout_ms: 2000
  log_enabled: true
prometheus:
  enabled: false
  namespace: training
database:
  dsn: postgres://localhost/tb
  table: points
  max_conns: 8
pubsub:
  project_id: proj
  topic: scalars
archive:
  backend: gcs
  bucket: tb-archive
  prefix: runs
server:
  port: 9090
train:
  minibatches: 10
  learning_rate: 0.1
  seed: 7
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.True(t, cfg.Logging.Development)
	require.Equal(t, "/var/log/tb", cfg.Writer.LogDir)
	require.Equal(t, 16, cfg.Writer.FlushEvery)
	require.Equal(t, ".v2", cfg.Writer.FilenameSuffix)
	require.True(t, cfg.Mirror.Enabled)
	require.Equal(t, 250*time.Millisecond, cfg.Mirror.MirrorWait())
	require.Equal(t, 2*time.Second, cfg.Mirror.SinkTimeout())
	require.False(t, cfg.Prometheus.Enabled)
	require.Equal(t, "points", cfg.Database.PointsTable)
	require.Equal(t, "scalar_runs", cfg.Database.RunsTable)
	require.Equal(t, int32(8), cfg.Database.MaxConns)
	require.Equal(t, "scalars", cfg.PubSub.Topic)
	require.Equal(t, ArchiveGCS, cfg.Archive.Backend)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, 10, cfg.Train.Minibatches)
	require.Equal(t, 64, cfg.Train.MinibatchSize)
	require.InDelta(t, 0.1, cfg.Train.LearningRate, 1e-12)
	require.Equal(t, int64(7), cfg.Train.Seed)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("TBPROGRESS_WRITER_LOG_DIR", "/tmp/envlogs")
	t.Setenv("TBPROGRESS_SERVER_PORT", "7070")

	cfg, err := Load(filepath.Join(writeEmptyConfig(t), "config.yaml"))
	require.NoError(t, err)
	require.Equal(t, "/tmp/envlogs", cfg.Writer.LogDir)
	require.Equal(t, 7070, cfg.Server.Port)
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(filepath.Join(writeEmptyConfig(t), "config.yaml"))
	require.NoError(t, err)
	require.Equal(t, "log", cfg.Writer.LogDir)
	require.Equal(t, ArchiveNone, cfg.Archive.Backend)
	require.Equal(t, 1000, cfg.Train.Minibatches)
	require.Equal(t, 100, cfg.Train.TestSize)
	require.InDelta(t, 0.02, cfg.Train.LearningRate, 1e-12)
	require.False(t, cfg.Tracing.Enabled)
	require.Equal(t, "tbprogress", cfg.Tracing.ServiceName)
	require.InDelta(t, 1.0, cfg.Tracing.SampleRatio, 1e-12)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func writeEmptyConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("{}\n"), 0o600))
	return dir
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Writer: WriterConfig{LogDir: "log"},
		Server: ServerConfig{Port: 8080},
		Train: TrainConfig{
			MinibatchSize:   64,
			InputDim:        3,
			Classes:         2,
			LearningRate:    0.02,
			ReportFrequency: 1,
		},
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "missing log dir", mutate: func(c *Config) { c.Writer.LogDir = " " }, want: "writer.log_dir"},
		{name: "log level", mutate: func(c *Config) { c.Logging.Level = "chatty" }, want: "logging.level"},
		{name: "negative flush", mutate: func(c *Config) { c.Writer.FlushEvery = -1 }, want: "writer.flush_every"},
		{name: "mirror buffer", mutate: func(c *Config) { c.Mirror.Enabled = true }, want: "mirror.buffer_size"},
		{name: "port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "two databases", mutate: func(c *Config) {
			c.Database.DSN = "postgres://x"
			c.Database.Cassandra.Hosts = []string{"cass"}
		}, want: "mutually exclusive"},
		{name: "cassandra keyspace", mutate: func(c *Config) { c.Database.Cassandra.Hosts = []string{"cass"} }, want: "database.cassandra.keyspace"},
		{name: "pubsub half set", mutate: func(c *Config) { c.PubSub.ProjectID = "p" }, want: "pubsub.project_id"},
		{name: "gcs bucket", mutate: func(c *Config) { c.Archive.Backend = ArchiveGCS }, want: "archive.bucket"},
		{name: "local base dir", mutate: func(c *Config) { c.Archive.Backend = ArchiveLocal }, want: "archive.local.base_dir"},
		{name: "unknown backend", mutate: func(c *Config) { c.Archive.Backend = "s3" }, want: "archive.backend"},
		{name: "sample ratio", mutate: func(c *Config) { c.Tracing.SampleRatio = 1.5 }, want: "tracing.sample_ratio"},
		{name: "classes", mutate: func(c *Config) { c.Train.Classes = 1 }, want: "train.classes"},
		{name: "learning rate", mutate: func(c *Config) { c.Train.LearningRate = 0 }, want: "train.learning_rate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := base
			tt.mutate(&c)
			require.ErrorContains(t, c.Validate(), tt.want)
		})
	}
}
