package writer

import (
	"context"
	"fmt"
	"time"

	"github.com/rickgao/tickerfeed/internal/model"
)

// MirrorConfig contains configuration for a mirror.
type MirrorConfig struct {
	// Name labels log lines, e.g. "redis" or "postgres".
	Name string

	// BatchSize is the number of pending symbols that triggers an early flush.
	BatchSize int

	// FlushInterval is the maximum time between flushes.
	FlushInterval time.Duration

	// TTL is set on every key written.
	TTL time.Duration

	// KeyPrefix is the first key segment.
	KeyPrefix string
}

// DefaultMirrorConfig returns sensible defaults.
func DefaultMirrorConfig() MirrorConfig {
	return MirrorConfig{
		BatchSize:     500,
		FlushInterval: 250 * time.Millisecond,
		TTL:           2 * time.Minute,
		KeyPrefix:     "latest",
		Name:          "redis",
	}
}

// Key returns the Redis key for a symbol on an exchange.
func (c MirrorConfig) Key(exchange string, sym model.Symbol) string {
	return fmt.Sprintf("%s:%s:%s", c.KeyPrefix, exchange, sym)
}

// Ref returns the mirror address of a symbol on an exchange.
func (c MirrorConfig) Ref(exchange string, sym model.Symbol) Ref {
	return Ref{Key: c.Key(exchange, sym), Exchange: exchange, Symbol: sym}
}

// Ref addresses one mirrored value. Key-value backends use Key, relational
// backends use Exchange and Symbol.
type Ref struct {
	Key      string
	Exchange string
	Symbol   model.Symbol
}

// Backend performs one batched write: store every value in set, then
// remove every ref in del. ttl is the expiry for backends that support it.
type Backend interface {
	Write(ctx context.Context, set map[Ref]model.TickerUpdate, del []Ref, ttl time.Duration) error
}

// Source is the read side of the latest-value store.
type Source interface {
	Get(sym model.Symbol) (model.TickerUpdate, bool)
	WatchAll(fn func(model.TickerUpdate)) (cancel func())
}

// MirrorMetrics holds metrics for the mirror.
type MirrorMetrics struct {
	Sets    int64 `json:"sets"`
	Deletes int64 `json:"deletes"`
	Flushes int64 `json:"flushes"`
	Errors  int64 `json:"errors"`
}
