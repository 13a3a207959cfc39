package codec

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rickgao/tickerfeed/internal/model"
)

const (
	binanceName             = "binance"
	binanceSingleTemplate   = "wss://stream.binance.com:9443/ws/{streams}"
	binanceCombinedTemplate = "wss://stream.binance.com:9443/stream?streams={streams}"
	binanceMaxCombined      = 200
	binanceTickerEvent      = "24hrTicker"
)

// Binance decodes the 24hrTicker stream.
//
// In "single" mode every symbol gets its own /ws/<symbol>@ticker connection.
// In "combined" mode many symbols share one /stream?streams=... connection and
// frames arrive wrapped in a {"stream","data"} envelope. The stream list lives
// in the URL, so changing it means reconnecting.
type Binance struct {
	combined   bool
	template   string
	maxSymbols int
}

// NewBinance builds a Binance adapter. Mode defaults to "single".
func NewBinance(opts Options) (*Binance, error) {
	b := &Binance{maxSymbols: 1}
	switch strings.ToLower(opts.Mode) {
	case "", "single":
		b.template = binanceSingleTemplate
	case "combined":
		b.combined = true
		b.template = binanceCombinedTemplate
		b.maxSymbols = binanceMaxCombined
		if opts.MaxSymbols > 0 && opts.MaxSymbols < binanceMaxCombined {
			b.maxSymbols = opts.MaxSymbols
		}
	default:
		return nil, fmt.Errorf("binance: unknown mode %q", opts.Mode)
	}
	if opts.EndpointTemplate != "" {
		b.template = opts.EndpointTemplate
	}
	return b, nil
}

func (b *Binance) Name() string { return binanceName }

func (b *Binance) Strategy() Strategy {
	if b.combined {
		return Multiplex
	}
	return PerSymbol
}

func (b *Binance) MaxSymbols() int { return b.maxSymbols }

func (b *Binance) Endpoint(symbols []model.Symbol) string {
	streams := make([]string, len(symbols))
	for i, s := range symbols {
		streams[i] = s.Lower() + "@ticker"
	}
	return expandTemplate(b.template, strings.Join(streams, "/"))
}

// binanceTicker mirrors the 24hrTicker payload. Keys that differ only by
// case (e/E, p/P, c/C) are all declared so encoding/json's case-insensitive
// fallback never routes one into the other.
type binanceTicker struct {
	EventType  string `json:"e"`
	EventTime  int64  `json:"E"`
	Symbol     string `json:"s"`
	Change     string `json:"p"`
	ChangePct  string `json:"P"`
	LastPrice  string `json:"c"`
	CloseTime  int64  `json:"C"`
	BaseVolume string `json:"v"`
}

// binanceHeader is decoded first so that other event types, whose fields
// may have different JSON types, are reported as unrecognized.
type binanceHeader struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
}

type binanceEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

func (b *Binance) Decode(raw []byte) (model.TickerUpdate, error) {
	payload := raw
	var env binanceEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return model.TickerUpdate{}, malformed(binanceName, err.Error())
	}
	if env.Stream != "" && len(env.Data) > 0 {
		payload = env.Data
	}

	var h binanceHeader
	if err := json.Unmarshal(payload, &h); err != nil {
		return model.TickerUpdate{}, malformed(binanceName, err.Error())
	}
	if h.EventType != binanceTickerEvent {
		return model.TickerUpdate{}, unrecognized(binanceName, fmt.Sprintf("event %q", h.EventType))
	}

	var t binanceTicker
	if err := json.Unmarshal(payload, &t); err != nil {
		return model.TickerUpdate{}, malformed(binanceName, err.Error())
	}

	sym, err := model.NormalizeSymbol(t.Symbol)
	if err != nil {
		return model.TickerUpdate{}, malformed(binanceName, fmt.Sprintf("symbol %q", t.Symbol))
	}
	if t.EventTime <= 0 {
		return model.TickerUpdate{}, malformed(binanceName, "missing event time")
	}
	price, err := parseDecimal(binanceName, "last price", t.LastPrice)
	if err != nil {
		return model.TickerUpdate{}, err
	}
	pct, err := parseDecimal(binanceName, "change percent", t.ChangePct)
	if err != nil {
		return model.TickerUpdate{}, err
	}
	vol, err := parseDecimal(binanceName, "volume", t.BaseVolume)
	if err != nil {
		return model.TickerUpdate{}, err
	}

	return model.TickerUpdate{
		Exchange:     binanceName,
		Symbol:       sym,
		Price:        price,
		Change24hPct: pct,
		Volume24h:    vol,
		ObservedAt:   time.UnixMilli(t.EventTime).UTC(),
	}, nil
}
