package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`store: {dsn: "postgres://localhost/fastapi_db"}`))
	require.NoError(t, err)

	assert.Equal(t, []string{"kafka:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "my-group", cfg.Kafka.GroupID)
	assert.Equal(t, 1, cfg.Kafka.Workers)
	assert.Equal(t, "earliest", cfg.Kafka.StartOffset)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 5, cfg.Store.ConnectRetries)
	assert.Equal(t, 5*time.Second, cfg.Store.ConnectRetryInterval)
	assert.Equal(t, "none", cfg.DeadLetter.Type)
	assert.Equal(t, "mysql.fastapi_db.deadletter", cfg.DeadLetter.Kafka.Topic)
	assert.Equal(t, "info", cfg.Logging.Level)
	require.NoError(t, cfg.Validate())
}

func TestParseFullConfig(t *testing.T) {
	raw := `
kafka:
  brokers: [broker-1:9092, broker-2:9092]
  group_id: cdc-sink
  topic_prefix: dbserver1.shop
  workers: 3
  max_wait: 500ms
store:
  driver: mysql
  dsn: "root:secret@tcp(db:3306)/shop"
  apply_timeout: 5s
processor:
  enabled: true
  rules:
    - table: users
      exclude: [email]
dead_letter:
  type: redis
  redis:
    addr: redis:6379
    max_len: 1000
logging:
  level: debug
  format: json
`
	cfg, err := Parse([]byte(raw))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 3, cfg.Kafka.Workers)
	assert.Equal(t, 500*time.Millisecond, cfg.Kafka.MaxWait)
	assert.Equal(t, "mysql", cfg.Store.Driver)
	assert.Equal(t, 5*time.Second, cfg.Store.ApplyTimeout)
	require.Len(t, cfg.Processor.Rules, 1)
	assert.Equal(t, []string{"email"}, cfg.Processor.Rules[0].Exclude)
	assert.Equal(t, int64(1000), cfg.DeadLetter.Redis.MaxLen)
	assert.Equal(t, cfg.Kafka.Brokers, cfg.DeadLetter.Kafka.Brokers)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("CDC_TEST_DSN", "postgres://user:pw@pg/fastapi_db")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  dsn: ${CDC_TEST_DSN}\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://user:pw@pg/fastapi_db", cfg.Store.DSN)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		err  string
	}{
		{"missing dsn", `{}`, "store.dsn is required"},
		{"bad driver", `store: {dsn: x, driver: oracle}`, "unsupported store.driver"},
		{"bad offset", `store: {dsn: x}
kafka: {start_offset: middle}`, "unsupported kafka.start_offset"},
		{"nats without url", `store: {dsn: x}
dead_letter: {type: nats}`, "dead_letter.nats.url is required"},
		{"redis without addr", `store: {dsn: x}
dead_letter: {type: redis}`, "dead_letter.redis.addr is required"},
		{"bad dead letter", `store: {dsn: x}
dead_letter: {type: s3}`, "unsupported dead_letter.type"},
		{"bad log format", `store: {dsn: x}
logging: {format: xml}`, "unsupported logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(tt.raw))
			require.NoError(t, err)
			assert.ErrorContains(t, cfg.Validate(), tt.err)
		})
	}
}

func TestTopicsFor(t *testing.T) {
	k := KafkaConfig{TopicPrefix: "mysql.fastapi_db"}
	assert.Equal(t, []string{"mysql.fastapi_db.users", "mysql.fastapi_db.orders"}, k.TopicsFor([]string{"users", "orders"}))

	k.Topics = []string{"custom"}
	assert.Equal(t, []string{"custom"}, k.TopicsFor([]string{"users"}))
}
