package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/twmb/franz-go/pkg/sasl"
	"github.com/twmb/franz-go/pkg/sasl/plain"
)

type Config struct {
	Service  ServiceConfig  `koanf:"service"`
	BMP      BMPConfig      `koanf:"bmp"`
	Kafka    KafkaConfig    `koanf:"kafka"`
	Ingest   IngestConfig   `koanf:"ingest"`
	Snapshot SnapshotConfig `koanf:"snapshot"`
}

type ServiceConfig struct {
	InstanceID             string `koanf:"instance_id"`
	HTTPListen             string `koanf:"http_listen"`
	LogLevel               string `koanf:"log_level"`
	ShutdownTimeoutSeconds int    `koanf:"shutdown_timeout_seconds"`
}

type BMPConfig struct {
	ListenAddress   string `koanf:"listen_address"`
	MaxMessageBytes int    `koanf:"max_message_bytes"`
}

type KafkaConfig struct {
	Brokers             []string   `koanf:"brokers"`
	Topic               string     `koanf:"topic"`
	ClientID            string     `koanf:"client_id"`
	AuthProtocol        string     `koanf:"auth_protocol"` // PLAINTEXT or SASL_PLAINTEXT
	SASL                SASLConfig `koanf:"sasl"`
	BatchWaitTimeMs     int        `koanf:"batch_wait_time_ms"`
	BatchWaitIntervalMs int        `koanf:"batch_wait_interval_ms"`
	MessageMaxBytes     int        `koanf:"message_max_bytes"`
	Enable              bool       `koanf:"enable"`
}

type SASLConfig struct {
	Username  string `koanf:"username"`
	Password  string `koanf:"password"`
	Mechanism string `koanf:"mechanism"`
}

type IngestConfig struct {
	ChannelBufferSize int `koanf:"channel_buffer_size"`
}

type SnapshotConfig struct {
	Enable          bool   `koanf:"enable"`
	Path            string `koanf:"path"`
	IntervalSeconds int    `koanf:"interval_seconds"`
}

// envPrefix is the environment variable prefix this collector overlays
// onto the YAML config, e.g. BMPCOLL_KAFKA__BROKERS -> kafka.brokers.
const envPrefix = "BMPCOLL_"

func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Load YAML file first.
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	// Overlay environment variables: BMPCOLL_KAFKA__BROKERS → kafka.brokers
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, envPrefix)
		s = strings.ToLower(s)
		s = strings.ReplaceAll(s, "__", ".")
		return s
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env config: %w", err)
	}

	cfg := &Config{
		Service: ServiceConfig{
			InstanceID:             "bmp-collector-1",
			HTTPListen:             ":8080",
			LogLevel:               "info",
			ShutdownTimeoutSeconds: 30,
		},
		BMP: BMPConfig{
			ListenAddress:   ":4000",
			MaxMessageBytes: 65536,
		},
		Kafka: KafkaConfig{
			ClientID:            "bmp-collector",
			AuthProtocol:        "PLAINTEXT",
			BatchWaitTimeMs:     1000,
			BatchWaitIntervalMs: 100,
			MessageMaxBytes:     1048576,
			Enable:              true,
		},
		Ingest: IngestConfig{
			ChannelBufferSize: 4096,
		},
		Snapshot: SnapshotConfig{
			Path:            "/var/lib/bmp-collector/snapshot.gob.zst",
			IntervalSeconds: 300,
		},
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Split comma-separated env strings for slice fields.
	if len(cfg.Kafka.Brokers) == 1 && strings.Contains(cfg.Kafka.Brokers[0], ",") {
		cfg.Kafka.Brokers = strings.Split(cfg.Kafka.Brokers[0], ",")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.BMP.ListenAddress == "" {
		return fmt.Errorf("config: bmp.listen_address is required")
	}
	if c.BMP.MaxMessageBytes <= 0 {
		return fmt.Errorf("config: bmp.max_message_bytes must be > 0 (got %d)", c.BMP.MaxMessageBytes)
	}
	if c.Kafka.Enable {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("config: kafka.brokers is required when kafka.enable is true")
		}
		if c.Kafka.Topic == "" {
			return fmt.Errorf("config: kafka.topic is required when kafka.enable is true")
		}
	}
	switch strings.ToUpper(c.Kafka.AuthProtocol) {
	case "PLAINTEXT", "SASL_PLAINTEXT":
	default:
		return fmt.Errorf("config: kafka.auth_protocol must be PLAINTEXT or SASL_PLAINTEXT (got %q)", c.Kafka.AuthProtocol)
	}
	if strings.ToUpper(c.Kafka.AuthProtocol) == "SASL_PLAINTEXT" {
		if c.Kafka.SASL.Username == "" || c.Kafka.SASL.Password == "" {
			return fmt.Errorf("config: kafka.sasl.username and kafka.sasl.password are required for SASL_PLAINTEXT")
		}
	}
	if c.Kafka.BatchWaitTimeMs <= 0 {
		return fmt.Errorf("config: kafka.batch_wait_time_ms must be > 0 (got %d)", c.Kafka.BatchWaitTimeMs)
	}
	if c.Kafka.BatchWaitIntervalMs <= 0 {
		return fmt.Errorf("config: kafka.batch_wait_interval_ms must be > 0 (got %d)", c.Kafka.BatchWaitIntervalMs)
	}
	if c.Kafka.MessageMaxBytes <= 0 {
		return fmt.Errorf("config: kafka.message_max_bytes must be > 0 (got %d)", c.Kafka.MessageMaxBytes)
	}
	if c.Ingest.ChannelBufferSize <= 0 {
		return fmt.Errorf("config: ingest.channel_buffer_size must be > 0 (got %d)", c.Ingest.ChannelBufferSize)
	}
	if c.Service.ShutdownTimeoutSeconds <= 0 {
		return fmt.Errorf("config: service.shutdown_timeout_seconds must be > 0 (got %d)", c.Service.ShutdownTimeoutSeconds)
	}
	if c.Snapshot.Enable {
		if c.Snapshot.Path == "" {
			return fmt.Errorf("config: snapshot.path is required when snapshot.enable is true")
		}
		if c.Snapshot.IntervalSeconds <= 0 {
			return fmt.Errorf("config: snapshot.interval_seconds must be > 0 (got %d)", c.Snapshot.IntervalSeconds)
		}
	}
	return nil
}

// BuildSASLMechanism creates a SASL mechanism from the Kafka SASL settings.
// Returns nil for PLAINTEXT.
func (k *KafkaConfig) BuildSASLMechanism() sasl.Mechanism {
	if strings.ToUpper(k.AuthProtocol) != "SASL_PLAINTEXT" {
		return nil
	}
	switch strings.ToUpper(k.SASL.Mechanism) {
	case "", "PLAIN":
		return plain.Auth{User: k.SASL.Username, Pass: k.SASL.Password}.AsMechanism()
	default:
		return nil
	}
}
