package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/rickgao/tickerfeed/internal/codec"
	"github.com/rickgao/tickerfeed/internal/model"
)

// Validate checks that all required fields are set and values are valid.
func (c *FeedConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if !slices.Contains(codec.Supported(), strings.ToLower(c.Exchange.Name)) {
		return fmt.Errorf("exchange.name %q is not supported (want one of %s)",
			c.Exchange.Name, strings.Join(codec.Supported(), ", "))
	}
	if c.Exchange.MaxSymbols < 0 {
		return errors.New("exchange.max_symbols must be >= 0")
	}

	if _, err := model.NormalizeSymbols(c.Symbols); err != nil {
		return fmt.Errorf("symbols: %w", err)
	}

	if err := c.Connections.validate(); err != nil {
		return err
	}

	if c.Redis.Enabled {
		if c.Redis.URL == "" {
			return errors.New("redis.url is required when redis.enabled is true")
		}
		if c.Redis.BatchSize < 1 {
			return errors.New("redis.batch_size must be >= 1")
		}
		if c.Redis.TTL < 0 {
			return errors.New("redis.ttl must be >= 0")
		}
	}

	if c.Postgres.Enabled {
		if err := c.Postgres.validate(); err != nil {
			return err
		}
	}

	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q must be debug, info, warn or error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q must be text or json", c.Logging.Format)
	}

	return nil
}

func (c *ConnectionsConfig) validate() error {
	if c.ReconnectBaseDelay <= 0 {
		return errors.New("connections.reconnect_base_delay must be > 0")
	}
	if c.ReconnectMaxDelay < c.ReconnectBaseDelay {
		return fmt.Errorf("connections.reconnect_max_delay (%s) cannot be less than reconnect_base_delay (%s)",
			c.ReconnectMaxDelay, c.ReconnectBaseDelay)
	}
	if c.MaxReconnectAttempts < 0 {
		return errors.New("connections.max_reconnect_attempts must be >= 0")
	}
	if c.ReconnectJitter < 0 || c.ReconnectJitter > 1 {
		return errors.New("connections.reconnect_jitter must be between 0 and 1")
	}
	if c.ReadTimeout <= 0 {
		return errors.New("connections.read_timeout must be > 0")
	}
	if c.PingInterval >= c.ReadTimeout {
		return fmt.Errorf("connections.ping_interval (%s) must be shorter than read_timeout (%s)",
			c.PingInterval, c.ReadTimeout)
	}
	if c.BufferSize < 1 {
		return errors.New("connections.buffer_size must be >= 1")
	}
	if c.ControlRate <= 0 {
		return errors.New("connections.control_rate must be > 0")
	}
	return nil
}

func (c *PostgresConfig) validate() error {
	if c.Host == "" {
		return errors.New("postgres.host is required when postgres.enabled is true")
	}
	if c.Name == "" {
		return errors.New("postgres.name is required")
	}
	if c.User == "" {
		return errors.New("postgres.user is required")
	}
	if c.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if c.MinConns > c.MaxConns {
		return fmt.Errorf("postgres.min_conns (%d) cannot exceed max_conns (%d)", c.MinConns, c.MaxConns)
	}
	if c.BatchSize < 1 {
		return errors.New("postgres.batch_size must be >= 1")
	}
	return nil
}
