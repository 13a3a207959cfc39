package config

import (
	"fmt"
	"net/url"

	"golang.org/x/time/rate"

	"github.com/rickgao/tickerfeed/internal/codec"
	"github.com/rickgao/tickerfeed/internal/connection"
	"github.com/rickgao/tickerfeed/internal/logging"
	"github.com/rickgao/tickerfeed/internal/writer"
)

// CodecOptions returns the adapter options for this exchange.
func (c ExchangeConfig) CodecOptions() codec.Options {
	return codec.Options{
		Mode:             c.Mode,
		EndpointTemplate: c.EndpointTemplate,
		MaxSymbols:       c.MaxSymbols,
	}
}

// SupervisorConfig maps connection settings onto a supervisor template.
// Key, Dial and OnEvent are left for the caller.
func (c ConnectionsConfig) SupervisorConfig() connection.SupervisorConfig {
	sc := connection.DefaultSupervisorConfig()
	sc.Backoff = connection.Backoff{
		Base:        c.ReconnectBaseDelay,
		Max:         c.ReconnectMaxDelay,
		MaxAttempts: c.MaxReconnectAttempts,
		Jitter:      c.ReconnectJitter,
	}
	sc.Client.PingInterval = c.PingInterval
	sc.Client.ReadTimeout = c.ReadTimeout
	sc.Client.WriteTimeout = c.WriteTimeout
	sc.Client.BufferSize = c.BufferSize
	sc.ControlRate = rate.Limit(c.ControlRate)
	sc.ControlBurst = c.ControlBurst
	return sc
}

// MirrorConfig returns the Redis mirror settings.
func (c RedisConfig) MirrorConfig() writer.MirrorConfig {
	return writer.MirrorConfig{
		Name:          "redis",
		BatchSize:     c.BatchSize,
		FlushInterval: c.FlushInterval,
		TTL:           c.TTL,
		KeyPrefix:     c.KeyPrefix,
	}
}

// ConnString builds a postgres:// URL. The password is escaped.
func (c PostgresConfig) ConnString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = DefaultPostgresSSLMode
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User,
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		c.Name,
		sslMode,
	)
}

// PostgresOptions returns the pool settings for the Postgres backend.
func (c PostgresConfig) PostgresOptions() writer.PostgresOptions {
	return writer.PostgresOptions{
		ConnString: c.ConnString(),
		MinConns:   c.MinConns,
		MaxConns:   c.MaxConns,
		Table:      c.Table,
	}
}

// MirrorConfig returns the Postgres mirror settings. Rows never expire.
func (c PostgresConfig) MirrorConfig() writer.MirrorConfig {
	return writer.MirrorConfig{
		Name:          "postgres",
		BatchSize:     c.BatchSize,
		FlushInterval: c.FlushInterval,
	}
}

// Options returns the logger options.
func (c LoggingConfig) Options() logging.Options {
	return logging.Options{
		Level:      c.Level,
		Format:     c.Format,
		Output:     c.Output,
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAgeDays: c.MaxAgeDays,
		Compress:   c.Compress,
	}
}
