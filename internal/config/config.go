// Package config loads the process configuration from an optional YAML file
// and the environment.
package config

import "time"

// Config is the root application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Storage   StorageConfig   `yaml:"storage"`
	Blob      BlobConfig      `yaml:"blob"`
	Notify    NotifyConfig    `yaml:"notify"`
	Processor ProcessorConfig `yaml:"processor"`
	Export    ExportConfig    `yaml:"export"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `yaml:"host"             env:"CUSTODY_SERVER_HOST"             env-default:"0.0.0.0"`
	Port            int           `yaml:"port"             env:"CUSTODY_SERVER_PORT"             env-default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout"     env:"CUSTODY_SERVER_READ_TIMEOUT"     env-default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout"    env:"CUSTODY_SERVER_WRITE_TIMEOUT"    env-default:"30s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"     env:"CUSTODY_SERVER_IDLE_TIMEOUT"     env-default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"CUSTODY_SERVER_SHUTDOWN_TIMEOUT" env-default:"10s"`
}

// LedgerConfig holds the initial owner installed on an empty registry.
type LedgerConfig struct {
	Owner string `yaml:"owner" env:"CUSTODY_OWNER"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Driver      string `yaml:"driver"       env:"CUSTODY_STORAGE_DRIVER" env-default:"sqlite"`
	SQLitePath  string `yaml:"sqlite_path"  env:"CUSTODY_SQLITE_PATH"    env-default:"custodyledger.db"`
	PostgresDSN string `yaml:"postgres_dsn" env:"CUSTODY_POSTGRES_DSN"`
}

// BlobConfig selects where custody exports are written.
type BlobConfig struct {
	Driver          string `yaml:"driver"            env:"CUSTODY_BLOB_DRIVER" env-default:"fs"`
	Root            string `yaml:"root"              env:"CUSTODY_BLOB_ROOT"   env-default:"./exports"`
	Bucket          string `yaml:"bucket"            env:"CUSTODY_BLOB_BUCKET"`
	Region          string `yaml:"region"            env:"CUSTODY_BLOB_REGION" env-default:"us-east-1"`
	Endpoint        string `yaml:"endpoint"          env:"CUSTODY_BLOB_ENDPOINT"`
	UsePathStyle    bool   `yaml:"use_path_style"    env:"CUSTODY_BLOB_PATH_STYLE"`
	AccessKeyID     string `yaml:"access_key_id"     env:"CUSTODY_BLOB_ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secret_access_key" env:"CUSTODY_BLOB_SECRET_ACCESS_KEY"`
}

// NotifyConfig configures the notification sinks. The in-process broker is
// always on; Kafka and Redis are enabled by setting their addresses.
type NotifyConfig struct {
	BrokerBuffer int           `yaml:"broker_buffer" env:"CUSTODY_NOTIFY_BROKER_BUFFER" env-default:"256"`
	KafkaBrokers []string      `yaml:"kafka_brokers" env:"CUSTODY_NOTIFY_KAFKA_BROKERS" env-separator:","`
	KafkaTopic   string        `yaml:"kafka_topic"   env:"CUSTODY_NOTIFY_KAFKA_TOPIC"   env-default:"custody.events"`
	RedisURL     string        `yaml:"redis_url"     env:"CUSTODY_NOTIFY_REDIS_URL"`
	RedisChannel string        `yaml:"redis_channel" env:"CUSTODY_NOTIFY_REDIS_CHANNEL" env-default:"custody.events"`
	Timeout      time.Duration `yaml:"timeout"       env:"CUSTODY_NOTIFY_TIMEOUT"       env-default:"5s"`
}

// ProcessorConfig sizes the single-writer command queue.
type ProcessorConfig struct {
	QueueSize int `yaml:"queue_size" env:"CUSTODY_PROCESSOR_QUEUE_SIZE" env-default:"64"`
}

// ExportConfig sizes the custody export worker.
type ExportConfig struct {
	QueueSize int    `yaml:"queue_size" env:"CUSTODY_EXPORT_QUEUE_SIZE" env-default:"16"`
	Prefix    string `yaml:"prefix"     env:"CUSTODY_EXPORT_PREFIX"     env-default:"custody"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"  env:"CUSTODY_LOG_LEVEL"  env-default:"info"`
	Format string `yaml:"format" env:"CUSTODY_LOG_FORMAT" env-default:"json"`
}
