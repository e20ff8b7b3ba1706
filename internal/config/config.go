// Package config loads and validates bridge configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// EnvPrefix prefixes every environment override, e.g. TBPROGRESS_WRITER_LOG_DIR.
const EnvPrefix = "TBPROGRESS"

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Logging    LoggingConfig    `mapstructure:"logging"`
	Writer     WriterConfig     `mapstructure:"writer"`
	Mirror     MirrorConfig     `mapstructure:"mirror"`
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Database   DatabaseConfig   `mapstructure:"database"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	Server     ServerConfig     `mapstructure:"server"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
	Train      TrainConfig      `mapstructure:"train"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// WriterConfig controls event file creation.
type WriterConfig struct {
	LogDir         string `mapstructure:"log_dir"`
	FlushEvery     int    `mapstructure:"flush_every"`
	FilenameSuffix string `mapstructure:"filename_suffix"`
}

// MirrorConfig controls the asynchronous scalar mirror.
type MirrorConfig struct {
	Enabled       bool        `mapstructure:"enabled"`
	BufferSize    int         `mapstructure:"buffer_size"`
	Batch         BatchConfig `mapstructure:"batch"`
	SinkTimeoutMs int         `mapstructure:"sink_timeout_ms"`
	LogEnabled    bool        `mapstructure:"log_enabled"`
}

// BatchConfig bounds mirror batches.
type BatchConfig struct {
	MaxEvents int `mapstructure:"max_events"`
	MaxWaitMs int `mapstructure:"max_wait_ms"`
}

// PrometheusConfig toggles collectors and the scalar gauge sink.
type PrometheusConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
}

// DatabaseConfig selects the scalar store: Postgres when DSN is set,
// Cassandra when Cassandra.Hosts is set, memory otherwise.
type DatabaseConfig struct {
	DSN          string          `mapstructure:"dsn"`
	RunsTable    string          `mapstructure:"runs_table"`
	PointsTable  string          `mapstructure:"table"`
	MaxConns     int32           `mapstructure:"max_conns"`
	EnsureSchema bool            `mapstructure:"ensure_schema"`
	Cassandra    CassandraConfig `mapstructure:"cassandra"`
}

// CassandraConfig points the scalar store at a Cassandra cluster.
type CassandraConfig struct {
	Hosts            []string `mapstructure:"hosts"`
	Keyspace         string   `mapstructure:"keyspace"`
	WriteConsistency string   `mapstructure:"write_consistency"`
	ReadConsistency  string   `mapstructure:"read_consistency"`
}

// PubSubConfig holds metadata for scalar batch notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ArchiveConfig selects where closed event files are copied.
type ArchiveConfig struct {
	Backend string             `mapstructure:"backend"`
	Bucket  string             `mapstructure:"bucket"`
	Prefix  string             `mapstructure:"prefix"`
	Local   LocalArchiveConfig `mapstructure:"local"`
}

// LocalArchiveConfig configures the filesystem archive backend.
type LocalArchiveConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// ServerConfig controls the HTTP query API.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// TracingConfig controls the OpenTelemetry tracer provider. Spans go to
// Cloud Trace when ProjectID is set and are otherwise only sampled locally.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ProjectID   string  `mapstructure:"project_id"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// TrainConfig drives the sample training loop.
type TrainConfig struct {
	MinibatchSize   int     `mapstructure:"minibatch_size"`
	Minibatches     int     `mapstructure:"minibatches"`
	InputDim        int     `mapstructure:"input_dim"`
	Classes         int     `mapstructure:"classes"`
	LearningRate    float64 `mapstructure:"learning_rate"`
	ReportFrequency int     `mapstructure:"report_frequency"`
	TestSize        int     `mapstructure:"test_size"`
	Seed            int64   `mapstructure:"seed"`
}

// Archive backends.
const (
	ArchiveNone   = "none"
	ArchiveMemory = "memory"
	ArchiveLocal  = "local"
	ArchiveGCS    = "gcs"
)

// Load builds a Config from disk/environment. An empty path searches
// ./config.yaml, /etc/tbprogress and $HOME/.tbprogress, and a missing file
// there is not an error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/tbprogress/")
		v.AddConfigPath("$HOME/.tbprogress")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("writer.log_dir", "log")
	v.SetDefault("writer.flush_every", 0)
	v.SetDefault("writer.filename_suffix", "")
	v.SetDefault("mirror.enabled", false)
	v.SetDefault("mirror.buffer_size", 4096)
	v.SetDefault("mirror.batch.max_events", 256)
	v.SetDefault("mirror.batch.max_wait_ms", 1000)
	v.SetDefault("mirror.sink_timeout_ms", 10000)
	v.SetDefault("mirror.log_enabled", false)
	v.SetDefault("prometheus.enabled", true)
	v.SetDefault("prometheus.namespace", "tbprogress")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.runs_table", "scalar_runs")
	v.SetDefault("database.table", "scalar_points")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.ensure_schema", false)
	v.SetDefault("database.cassandra.hosts", []string{})
	v.SetDefault("database.cassandra.keyspace", "tbprogress")
	v.SetDefault("database.cassandra.write_consistency", "LOCAL_QUORUM")
	v.SetDefault("database.cassandra.read_consistency", "LOCAL_ONE")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
	v.SetDefault("archive.backend", ArchiveNone)
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.prefix", "tensorboard")
	v.SetDefault("archive.local.base_dir", "archive")
	v.SetDefault("server.port", 8080)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.project_id", "")
	v.SetDefault("tracing.service_name", "tbprogress")
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("train.minibatch_size", 64)
	v.SetDefault("train.minibatches", 1000)
	v.SetDefault("train.input_dim", 3)
	v.SetDefault("train.classes", 2)
	v.SetDefault("train.learning_rate", 0.02)
	v.SetDefault("train.report_frequency", 1)
	v.SetDefault("train.test_size", 100)
	v.SetDefault("train.seed", 0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Writer.LogDir) == "" {
		return fmt.Errorf("writer.log_dir is required")
	}
	if c.Logging.Level != "" {
		if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
			return fmt.Errorf("logging.level: %w", err)
		}
	}
	if c.Writer.FlushEvery < 0 {
		return fmt.Errorf("writer.flush_every must be >= 0")
	}
	if c.Mirror.Enabled {
		if c.Mirror.BufferSize <= 0 {
			return fmt.Errorf("mirror.buffer_size must be > 0 when the mirror is enabled")
		}
		if c.Mirror.Batch.MaxEvents <= 0 {
			return fmt.Errorf("mirror.batch.max_events must be > 0 when the mirror is enabled")
		}
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Database.DSN != "" && len(c.Database.Cassandra.Hosts) > 0 {
		return fmt.Errorf("database.dsn and database.cassandra.hosts are mutually exclusive")
	}
	if len(c.Database.Cassandra.Hosts) > 0 && c.Database.Cassandra.Keyspace == "" {
		return fmt.Errorf("database.cassandra.keyspace is required with database.cassandra.hosts")
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.Topic == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic must be set together")
	}
	switch c.Archive.Backend {
	case "", ArchiveNone, ArchiveMemory:
	case ArchiveLocal:
		if strings.TrimSpace(c.Archive.Local.BaseDir) == "" {
			return fmt.Errorf("archive.local.base_dir is required for the local backend")
		}
	case ArchiveGCS:
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("archive.backend %q is not supported", c.Archive.Backend)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0, 1]")
	}
	if err := c.Train.Validate(); err != nil {
		return err
	}
	return nil
}

// Validate checks the training loop dimensions.
func (t TrainConfig) Validate() error {
	switch {
	case t.MinibatchSize <= 0:
		return fmt.Errorf("train.minibatch_size must be > 0")
	case t.Minibatches < 0:
		return fmt.Errorf("train.minibatches must be >= 0")
	case t.InputDim <= 0:
		return fmt.Errorf("train.input_dim must be > 0")
	case t.Classes < 2:
		return fmt.Errorf("train.classes must be >= 2")
	case t.LearningRate <= 0:
		return fmt.Errorf("train.learning_rate must be > 0")
	case t.ReportFrequency <= 0:
		return fmt.Errorf("train.report_frequency must be > 0")
	case t.TestSize < 0:
		return fmt.Errorf("train.test_size must be >= 0")
	}
	return nil
}

// MirrorWait returns the batch wait as a duration.
func (c MirrorConfig) MirrorWait() time.Duration {
	return time.Duration(c.Batch.MaxWaitMs) * time.Millisecond
}

// SinkTimeout returns the per-sink timeout as a duration.
func (c MirrorConfig) SinkTimeout() time.Duration {
	return time.Duration(c.SinkTimeoutMs) * time.Millisecond
}
