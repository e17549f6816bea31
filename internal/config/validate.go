package config

import (
	"fmt"
	"slices"
)

// Validate checks cross-field rules the struct tags cannot express.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535 (got %d)", c.Server.Port)
	}
	if err := c.Storage.validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := c.Blob.validate(); err != nil {
		return fmt.Errorf("blob: %w", err)
	}
	if len(c.Notify.KafkaBrokers) > 0 && c.Notify.KafkaTopic == "" {
		return fmt.Errorf("notify.kafka_topic is required when kafka brokers are set")
	}
	if c.Processor.QueueSize <= 0 {
		return fmt.Errorf("processor.queue_size must be > 0 (got %d)", c.Processor.QueueSize)
	}
	if c.Export.QueueSize <= 0 {
		return fmt.Errorf("export.queue_size must be > 0 (got %d)", c.Export.QueueSize)
	}
	if !slices.Contains([]string{"json", "text"}, c.Log.Format) {
		return fmt.Errorf("log.format must be json or text (got %q)", c.Log.Format)
	}
	return nil
}

func (s StorageConfig) validate() error {
	switch s.Driver {
	case "memory", "sqlite":
		return nil
	case "postgres":
		if s.PostgresDSN == "" {
			return fmt.Errorf("postgres_dsn is required for the postgres driver")
		}
		return nil
	}
	return fmt.Errorf("unknown driver %q", s.Driver)
}

func (b BlobConfig) validate() error {
	switch b.Driver {
	case "memory":
		return nil
	case "fs":
		if b.Root == "" {
			return fmt.Errorf("root is required for the fs driver")
		}
		return nil
	case "s3":
		if b.Bucket == "" {
			return fmt.Errorf("bucket is required for the s3 driver")
		}
		return nil
	}
	return fmt.Errorf("unknown driver %q", b.Driver)
}
