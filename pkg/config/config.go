// Package config loads the run-coordination core's configuration. It layers
// built-in defaults, an optional YAML file, and environment variable
// overrides through spf13/viper, then unmarshals into a typed Config.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix applied to every environment-variable override,
// e.g. runner.connectorTimeout -> LUCILLIFORM_RUNNER_CONNECTORTIMEOUT.
const EnvPrefix = "LUCILLIFORM"

// VersionType selects how the indexer applies external versioning.
type VersionType string

const (
	VersionInternal    VersionType = "Internal"
	VersionExternal    VersionType = "External"
	VersionExternalGte VersionType = "ExternalGte"
)

// RunnerConfig covers §6's runner.* keys.
type RunnerConfig struct {
	ConnectorTimeout time.Duration `mapstructure:"connectorTimeout"`
}

// WorkerConfig covers §6's worker.* keys.
type WorkerConfig struct {
	Threads        int `mapstructure:"threads"`
	QueueCapacity  int `mapstructure:"queueCapacity"` // 0 = unbounded
	ConsumerGroup  string `mapstructure:"consumerGroup"`
}

// IndexerConfig covers §6's indexer.* keys.
type IndexerConfig struct {
	BatchSize               int           `mapstructure:"batchSize"`
	BatchTimeout            time.Duration `mapstructure:"batchTimeout"`
	IDOverrideField         string        `mapstructure:"idOverrideField"`
	RoutingField            string        `mapstructure:"routingField"`
	VersionType             VersionType   `mapstructure:"versionType"`
	DeletionMarkerField     string        `mapstructure:"deletionMarkerField"`
	DeletionMarkerFieldValue string       `mapstructure:"deletionMarkerFieldValue"`
	DeleteByFieldField      string        `mapstructure:"deleteByFieldField"`
	DeleteByFieldValue      string        `mapstructure:"deleteByFieldValue"`
	IgnoreFields            []string      `mapstructure:"ignoreFields"`
	AllowIgnoreID           bool          `mapstructure:"allowIgnoreID"`
	Backend                 BackendConfig `mapstructure:"backend"`
}

// BackendConfig selects and configures the IndexBackend adapter.
type BackendConfig struct {
	Kind     string        `mapstructure:"kind"` // opensearch|solr|pinecone|weaviate
	Endpoint string        `mapstructure:"endpoint"`
	Index    string        `mapstructure:"index"`
	APIKey   string        `mapstructure:"apiKey"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// MessengerConfig selects and configures the Messenger substrate.
type MessengerConfig struct {
	Kind  string      `mapstructure:"kind"` // memory|kafka
	Kafka KafkaConfig `mapstructure:"kafka"`
}

// KafkaConfig configures the broker-backed Messenger.
type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	DedupDelay   time.Duration `mapstructure:"dedupDelay"`
	SASLUser     string        `mapstructure:"saslUser"`
	SASLPassword string        `mapstructure:"saslPassword"`
	TLSEnabled   bool          `mapstructure:"tlsEnabled"`
}

// ConnectorConfig declares one connector to run, in declared order.
type ConnectorConfig struct {
	Name     string                 `mapstructure:"name"`
	Type     string                 `mapstructure:"type"`
	Pipeline string                 `mapstructure:"pipeline"`
	Options  map[string]interface{} `mapstructure:"options"`
}

// LoggingConfig configures pkg/logger.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
	Encoding    string `mapstructure:"encoding"`
}

// MetricsConfig configures pkg/metrics's Prometheus exporter.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Config is the fully-resolved configuration for one Runner invocation.
type Config struct {
	Runner     RunnerConfig      `mapstructure:"runner"`
	Worker     WorkerConfig      `mapstructure:"worker"`
	Indexer    IndexerConfig     `mapstructure:"indexer"`
	Messenger  MessengerConfig   `mapstructure:"messenger"`
	Connectors []ConnectorConfig `mapstructure:"connectors"`
	Logging    LoggingConfig     `mapstructure:"logging"`
	Metrics    MetricsConfig     `mapstructure:"metrics"`
}

// DefaultConnectorTimeout mirrors the distilled spec's 86,400,000 ms default.
const DefaultConnectorTimeout = 24 * time.Hour

func setDefaults(v *viper.Viper) {
	v.SetDefault("runner.connectorTimeout", DefaultConnectorTimeout)
	v.SetDefault("worker.threads", 1)
	v.SetDefault("worker.queueCapacity", 0)
	v.SetDefault("worker.consumerGroup", "lucilliform-workers")
	v.SetDefault("indexer.batchSize", 100)
	v.SetDefault("indexer.batchTimeout", 5*time.Second)
	v.SetDefault("indexer.versionType", VersionInternal)
	v.SetDefault("indexer.allowIgnoreID", false)
	v.SetDefault("indexer.backend.kind", "opensearch")
	v.SetDefault("indexer.backend.timeout", 30*time.Second)
	v.SetDefault("messenger.kind", "memory")
	v.SetDefault("messenger.kafka.dedupDelay", 2*time.Second)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "json")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", ":9090")
}

// Load reads defaults, an optional YAML file at path (ignored if empty), and
// LUCILLIFORM_-prefixed environment overrides, and unmarshals the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the resolved configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Runner.ConnectorTimeout <= 0 {
		return fmt.Errorf("config: runner.connectorTimeout must be positive")
	}
	if c.Worker.Threads <= 0 {
		c.Worker.Threads = 1
	}
	if c.Indexer.BatchSize <= 0 {
		return fmt.Errorf("config: indexer.batchSize must be positive")
	}
	if c.Indexer.BatchTimeout <= 0 {
		return fmt.Errorf("config: indexer.batchTimeout must be positive")
	}
	switch c.Messenger.Kind {
	case "memory", "kafka":
	default:
		return fmt.Errorf("config: unsupported messenger.kind %q", c.Messenger.Kind)
	}
	for _, cc := range c.Connectors {
		if cc.Name == "" || cc.Type == "" {
			return fmt.Errorf("config: connector entries require name and type")
		}
	}
	return nil
}
