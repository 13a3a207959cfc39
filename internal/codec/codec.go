package codec

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/rickgao/tickerfeed/internal/model"
)

// Strategy selects how symbols are spread over physical connections.
type Strategy int

const (
	// PerSymbol opens one connection per symbol; the symbol is part of the URL.
	PerSymbol Strategy = iota
	// Multiplex carries many symbols on one connection, either through
	// control frames or a combined-stream URL.
	Multiplex
)

func (s Strategy) String() string {
	if s == PerSymbol {
		return "per_symbol"
	}
	return "multiplex"
}

// Adapter is the per-exchange codec and protocol description.
type Adapter interface {
	// Name returns the exchange identifier (e.g. "binance").
	Name() string

	// Decode parses one raw frame. Never performs I/O. The result may be
	// partial (see model.TickerUpdate.Missing) for exchanges that send deltas.
	Decode(raw []byte) (model.TickerUpdate, error)

	// Strategy reports how symbols map onto connections.
	Strategy() Strategy

	// Endpoint returns the URL to dial for the given symbol set.
	Endpoint(symbols []model.Symbol) string

	// MaxSymbols is the number of symbols one connection may carry.
	// Always 1 for PerSymbol adapters.
	MaxSymbols() int
}

// FrameSubscriber is implemented by adapters that change the symbol set of a
// live connection with control frames. Multiplexed adapters without it carry
// the set in the endpoint URL, so a set change requires a new connection.
type FrameSubscriber interface {
	SubscribeFrames(symbols []model.Symbol) ([][]byte, error)
	UnsubscribeFrames(symbols []model.Symbol) ([][]byte, error)
}

// Heartbeater is implemented by adapters whose exchange expects an
// application-level ping in addition to WebSocket control pings.
type Heartbeater interface {
	HeartbeatFrame() []byte
}

// Options configures an adapter.
type Options struct {
	// Mode is exchange specific: "single" or "combined" for binance.
	Mode string
	// EndpointTemplate may contain "{streams}", replaced by the exchange's
	// stream list for the connection's symbols.
	EndpointTemplate string
	// MaxSymbols caps symbols per multiplexed connection (0 = exchange default).
	MaxSymbols int
}

// New resolves an adapter by exchange name.
func New(exchange string, opts Options) (Adapter, error) {
	switch strings.ToLower(strings.TrimSpace(exchange)) {
	case "binance":
		return NewBinance(opts)
	case "bybit":
		return NewBybit(opts)
	default:
		return nil, fmt.Errorf("unsupported exchange %q", exchange)
	}
}

// Supported lists the exchange names accepted by New.
func Supported() []string {
	return []string{"binance", "bybit"}
}

func unrecognized(exchange, detail string) error {
	return &model.DecodeError{Exchange: exchange, Kind: model.ErrUnrecognized, Detail: detail}
}

func malformed(exchange, detail string) error {
	return &model.DecodeError{Exchange: exchange, Kind: model.ErrMalformed, Detail: detail}
}

// parseDecimal parses a required numeric string field.
func parseDecimal(exchange, field, v string) (decimal.Decimal, error) {
	if v == "" {
		return decimal.Decimal{}, malformed(exchange, "missing "+field)
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Decimal{}, malformed(exchange, fmt.Sprintf("%s %q: %v", field, v, err))
	}
	return d, nil
}

func expandTemplate(tmpl, streams string) string {
	return strings.ReplaceAll(tmpl, "{streams}", streams)
}
