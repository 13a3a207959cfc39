package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultInstanceID           = "feedd"
	DefaultExchange             = "binance"
	DefaultBinanceMode          = "single"
	DefaultReconnectBaseDelay   = 1 * time.Second
	DefaultReconnectMaxDelay    = 10 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultPingInterval         = 15 * time.Second
	DefaultReadTimeout          = 30 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultBufferSize           = 1024
	DefaultControlRate          = 5.0
	DefaultControlBurst         = 5
	DefaultRedisTTL             = 2 * time.Minute
	DefaultRedisFlushInterval   = 250 * time.Millisecond
	DefaultRedisBatchSize       = 500
	DefaultRedisKeyPrefix       = "latest"
	DefaultPostgresPort         = 5432
	DefaultPostgresSSLMode      = "prefer"
	DefaultPostgresMinConns     = 1
	DefaultPostgresMaxConns     = 4
	DefaultPostgresTable        = "latest_tickers"
	DefaultPostgresFlush        = time.Second
	DefaultPostgresBatchSize    = 500
	DefaultHTTPPort             = 8080
	DefaultShutdownTimeout      = 10 * time.Second
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "text"
	DefaultLogOutput            = "stdout"
	DefaultLogMaxSizeMB         = 100
	DefaultLogMaxBackups        = 3
	DefaultLogMaxAgeDays        = 28
)

// ApplyDefaults fills every unset field.
func (c *FeedConfig) ApplyDefaults() {
	if c.Instance.ID == "" {
		c.Instance.ID = DefaultInstanceID
	}

	// Exchange defaults
	if c.Exchange.Name == "" {
		c.Exchange.Name = DefaultExchange
	}
	if c.Exchange.Mode == "" && c.Exchange.Name == "binance" {
		c.Exchange.Mode = DefaultBinanceMode
	}

	// Connections defaults
	if c.Connections.ReconnectBaseDelay == 0 {
		c.Connections.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Connections.ReconnectMaxDelay == 0 {
		c.Connections.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Connections.MaxReconnectAttempts == 0 {
		c.Connections.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Connections.PingInterval == 0 {
		c.Connections.PingInterval = DefaultPingInterval
	}
	if c.Connections.ReadTimeout == 0 {
		c.Connections.ReadTimeout = DefaultReadTimeout
	}
	if c.Connections.WriteTimeout == 0 {
		c.Connections.WriteTimeout = DefaultWriteTimeout
	}
	if c.Connections.BufferSize == 0 {
		c.Connections.BufferSize = DefaultBufferSize
	}
	if c.Connections.ControlRate == 0 {
		c.Connections.ControlRate = DefaultControlRate
	}
	if c.Connections.ControlBurst == 0 {
		c.Connections.ControlBurst = DefaultControlBurst
	}

	// Redis defaults
	if c.Redis.TTL == 0 {
		c.Redis.TTL = DefaultRedisTTL
	}
	if c.Redis.FlushInterval == 0 {
		c.Redis.FlushInterval = DefaultRedisFlushInterval
	}
	if c.Redis.BatchSize == 0 {
		c.Redis.BatchSize = DefaultRedisBatchSize
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}

	// Postgres defaults
	if c.Postgres.Port == 0 {
		c.Postgres.Port = DefaultPostgresPort
	}
	if c.Postgres.SSLMode == "" {
		c.Postgres.SSLMode = DefaultPostgresSSLMode
	}
	if c.Postgres.MinConns == 0 {
		c.Postgres.MinConns = DefaultPostgresMinConns
	}
	if c.Postgres.MaxConns == 0 {
		c.Postgres.MaxConns = DefaultPostgresMaxConns
	}
	if c.Postgres.Table == "" {
		c.Postgres.Table = DefaultPostgresTable
	}
	if c.Postgres.FlushInterval == 0 {
		c.Postgres.FlushInterval = DefaultPostgresFlush
	}
	if c.Postgres.BatchSize == 0 {
		c.Postgres.BatchSize = DefaultPostgresBatchSize
	}

	// HTTP defaults
	if c.HTTP.Port == 0 {
		c.HTTP.Port = DefaultHTTPPort
	}
	if c.HTTP.ShutdownTimeout == 0 {
		c.HTTP.ShutdownTimeout = DefaultShutdownTimeout
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
	if c.Logging.Output == "" {
		c.Logging.Output = DefaultLogOutput
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = DefaultLogMaxSizeMB
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = DefaultLogMaxBackups
	}
	if c.Logging.MaxAgeDays == 0 {
		c.Logging.MaxAgeDays = DefaultLogMaxAgeDays
	}
}
