package connection

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/rickgao/tickerfeed/internal/model"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (read silence)")
	ErrAlreadyClosed   = errors.New("already closed")

	// errRedial asks the run loop for a fresh connection without backoff,
	// used when the symbol set lives in the URL and has grown.
	errRedial = errors.New("symbol set changed")
)

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL          string        // Fully expanded stream URL
	ReadTimeout  time.Duration // Read silence after which the connection is stale
	PingInterval time.Duration // Interval between WebSocket pings (0 = no pings)
	WriteTimeout time.Duration // Write deadline for sends
	BufferSize   int           // Message channel buffer size
	Heartbeat    []byte        // Optional application ping sent every PingInterval
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		ReadTimeout:  30 * time.Second,
		PingInterval: 15 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   1024,
	}
}

// Dialer opens a connected Client. Supervisors use it for every attempt so
// tests can substitute fake transports.
type Dialer func(ctx context.Context, cfg ClientConfig, logger *slog.Logger) (Client, error)

// DialWebSocket is the default Dialer.
func DialWebSocket(ctx context.Context, cfg ClientConfig, logger *slog.Logger) (Client, error) {
	c := NewClient(cfg, logger)
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Sink receives decoded updates. Get and Replace must be cheap; they run
// while the Supervisor holds its symbol-set lock. Notify runs after the lock
// is released and may fan out to watchers.
type Sink interface {
	Get(sym model.Symbol) (model.TickerUpdate, bool)
	Replace(u model.TickerUpdate) bool
	Notify(u model.TickerUpdate)
}

// Event reports a Supervisor state transition.
type Event struct {
	Key     string
	State   model.ConnectionState
	Attempt int
	Err     error
	At      time.Time
}

// SupervisorConfig configures a Supervisor.
type SupervisorConfig struct {
	Key          string       // Identifies the feed in logs and events
	Backoff      Backoff      // Reconnect policy
	Client       ClientConfig // Template; URL is filled from the adapter
	ControlRate  rate.Limit   // Max control frames per second per connection
	ControlBurst int
	Dial         Dialer      // nil = DialWebSocket
	OnEvent      func(Event) // Called on every transition, never under a lock
}

// DefaultSupervisorConfig returns sensible defaults.
func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		Backoff:      DefaultBackoff(),
		Client:       DefaultClientConfig(),
		ControlRate:  5,
		ControlBurst: 5,
	}
}

// SupervisorStats is a point-in-time view of one Supervisor.
type SupervisorStats struct {
	Key           string                `json:"key"`
	Exchange      string                `json:"exchange"`
	State         model.ConnectionState `json:"state"`
	Attempt       int                   `json:"attempt"`
	Symbols       []model.Symbol        `json:"symbols"`
	Frames        int64                 `json:"frames"`
	Published     int64                 `json:"published"`
	DecodeDrops   int64                 `json:"decode_drops"`
	InactiveDrops int64                 `json:"inactive_drops"`
	OrphanDeltas  int64                 `json:"orphan_deltas"`
	Connects      int64                 `json:"connects"`
	LastError     string                `json:"last_error,omitempty"`
}
