package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Kafka      KafkaConfig      `yaml:"kafka"`
	Store      StoreConfig      `yaml:"store"`
	Processor  ProcessorConfig  `yaml:"processor"`
	DeadLetter DeadLetterConfig `yaml:"dead_letter"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type KafkaConfig struct {
	Brokers       []string      `yaml:"brokers"`
	GroupID       string        `yaml:"group_id"`
	TopicPrefix   string        `yaml:"topic_prefix"` // Topics are <prefix>.<table>
	Topics        []string      `yaml:"topics"`       // Optional: overrides the derived topic list
	Workers       int           `yaml:"workers"`
	StartOffset   string        `yaml:"start_offset"` // earliest, latest
	MinBytes      int           `yaml:"min_bytes"`
	MaxBytes      int           `yaml:"max_bytes"`
	MaxWait       time.Duration `yaml:"max_wait"`
	CommitTimeout time.Duration `yaml:"commit_timeout"`
}

type StoreConfig struct {
	Driver               string        `yaml:"driver"` // postgres, mysql, sqlite
	DSN                  string        `yaml:"dsn"`
	MaxOpenConns         int           `yaml:"max_open_conns"`
	ConnMaxLifetime      time.Duration `yaml:"conn_max_lifetime"`
	ConnectRetries       int           `yaml:"connect_retries"`
	ConnectRetryInterval time.Duration `yaml:"connect_retry_interval"`
	ApplyTimeout         time.Duration `yaml:"apply_timeout"`
	VerifySchema         bool          `yaml:"verify_schema"`
}

type ProcessorConfig struct {
	Enabled bool         `yaml:"enabled"`
	Script  string       `yaml:"script"` // Path to a JavaScript transform; takes precedence over rules
	Rules   []RuleConfig `yaml:"rules"`
}

type RuleConfig struct {
	Database  string            `yaml:"database"` // Empty matches all databases
	Table     string            `yaml:"table"`    // Empty matches all tables
	Include   []string          `yaml:"include"`
	Exclude   []string          `yaml:"exclude"`
	Rename    map[string]string `yaml:"rename"`
	AddFields map[string]string `yaml:"add_fields"`
}

type DeadLetterConfig struct {
	Type  string          `yaml:"type"` // none, nats, kafka, redis
	NATS  NATSDeadLetter  `yaml:"nats"`
	Kafka KafkaDeadLetter `yaml:"kafka"`
	Redis RedisDeadLetter `yaml:"redis"`
}

type NATSDeadLetter struct {
	URL           string        `yaml:"url"`
	Subject       string        `yaml:"subject"`
	MaxReconnect  int           `yaml:"max_reconnect"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
}

type KafkaDeadLetter struct {
	Brokers []string `yaml:"brokers"` // Defaults to kafka.brokers
	Topic   string   `yaml:"topic"`
}

type RedisDeadLetter struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
	MaxLen   int64  `yaml:"max_len"` // Optional: trims the list to the newest entries
}

type MetricsConfig struct {
	Addr string `yaml:"addr"` // Empty disables the ops HTTP server
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text, json
}

// Load reads a YAML config file, expanding ${VAR} references from the
// environment before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse([]byte(os.ExpandEnv(string(data))))
}

// Parse decodes YAML config content and applies defaults
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.setDefaults()
	return &config, nil
}

func (c *Config) setDefaults() {
	if len(c.Kafka.Brokers) == 0 {
		c.Kafka.Brokers = []string{"kafka:9092"}
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "my-group"
	}
	if c.Kafka.TopicPrefix == "" {
		c.Kafka.TopicPrefix = "mysql.fastapi_db"
	}
	if c.Kafka.Workers <= 0 {
		c.Kafka.Workers = 1
	}
	if c.Kafka.StartOffset == "" {
		c.Kafka.StartOffset = "earliest"
	}
	if c.Kafka.MinBytes == 0 {
		c.Kafka.MinBytes = 1
	}
	if c.Kafka.MaxBytes == 0 {
		c.Kafka.MaxBytes = 10e6
	}
	if c.Kafka.MaxWait == 0 {
		c.Kafka.MaxWait = time.Second
	}
	if c.Kafka.CommitTimeout == 0 {
		c.Kafka.CommitTimeout = 10 * time.Second
	}

	if c.Store.Driver == "" {
		c.Store.Driver = "postgres"
	}
	if c.Store.ConnectRetries == 0 {
		c.Store.ConnectRetries = 5
	}
	if c.Store.ConnectRetryInterval == 0 {
		c.Store.ConnectRetryInterval = 5 * time.Second
	}
	if c.Store.ApplyTimeout == 0 {
		c.Store.ApplyTimeout = 30 * time.Second
	}

	if c.DeadLetter.Type == "" {
		c.DeadLetter.Type = "none"
	}
	if c.DeadLetter.NATS.ReconnectWait == 0 {
		c.DeadLetter.NATS.ReconnectWait = 2 * time.Second
	}
	if c.DeadLetter.NATS.Subject == "" {
		c.DeadLetter.NATS.Subject = "cdc.deadletter"
	}
	if len(c.DeadLetter.Kafka.Brokers) == 0 {
		c.DeadLetter.Kafka.Brokers = c.Kafka.Brokers
	}
	if c.DeadLetter.Kafka.Topic == "" {
		c.DeadLetter.Kafka.Topic = c.Kafka.TopicPrefix + ".deadletter"
	}
	if c.DeadLetter.Redis.Key == "" {
		c.DeadLetter.Redis.Key = "cdc:deadletter"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that required settings are present and enumerations are known
func (c *Config) Validate() error {
	if c.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required")
	}
	switch c.Store.Driver {
	case "postgres", "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported store.driver %q (expected postgres, mysql or sqlite)", c.Store.Driver)
	}
	switch c.Kafka.StartOffset {
	case "earliest", "latest":
	default:
		return fmt.Errorf("unsupported kafka.start_offset %q (expected earliest or latest)", c.Kafka.StartOffset)
	}
	switch c.DeadLetter.Type {
	case "none":
	case "nats":
		if c.DeadLetter.NATS.URL == "" {
			return fmt.Errorf("dead_letter.nats.url is required for the nats dead letter")
		}
	case "kafka":
	case "redis":
		if c.DeadLetter.Redis.Addr == "" {
			return fmt.Errorf("dead_letter.redis.addr is required for the redis dead letter")
		}
	default:
		return fmt.Errorf("unsupported dead_letter.type %q (expected none, nats, kafka or redis)", c.DeadLetter.Type)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unsupported logging.format %q (expected text or json)", c.Logging.Format)
	}
	return nil
}

// TopicsFor returns the topics to subscribe to for the given tables
func (k KafkaConfig) TopicsFor(tables []string) []string {
	if len(k.Topics) > 0 {
		return k.Topics
	}
	topics := make([]string, 0, len(tables))
	for _, table := range tables {
		topics = append(topics, k.TopicPrefix+"."+table)
	}
	return topics
}
