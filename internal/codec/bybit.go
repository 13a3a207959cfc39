package codec

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/tickerfeed/internal/model"
)

const (
	bybitName         = "bybit"
	bybitTemplate     = "wss://stream.bybit.com/v5/public/spot"
	bybitTopicPrefix  = "tickers."
	bybitMaxPerConn   = 200
	bybitArgsPerFrame = 10
)

var hundred = decimal.NewFromInt(100)

// Bybit decodes v5 public tickers. One connection carries many symbols; the
// set is changed with subscribe/unsubscribe ops, at most ten topics per
// frame. Delta frames decode to partial updates (TickerUpdate.Missing) that
// the supervisor completes from the stored value.
type Bybit struct {
	template   string
	maxSymbols int
}

// NewBybit builds a Bybit adapter. Mode is ignored.
func NewBybit(opts Options) (*Bybit, error) {
	b := &Bybit{template: bybitTemplate, maxSymbols: bybitMaxPerConn}
	if opts.EndpointTemplate != "" {
		b.template = opts.EndpointTemplate
	}
	if opts.MaxSymbols > 0 {
		b.maxSymbols = opts.MaxSymbols
	}
	return b, nil
}

func (b *Bybit) Name() string           { return bybitName }
func (b *Bybit) Strategy() Strategy     { return Multiplex }
func (b *Bybit) MaxSymbols() int        { return b.maxSymbols }
func (b *Bybit) HeartbeatFrame() []byte { return []byte(`{"op":"ping"}`) }

func (b *Bybit) Endpoint(symbols []model.Symbol) string {
	return expandTemplate(b.template, strings.Join(topics(symbols), ","))
}

func (b *Bybit) SubscribeFrames(symbols []model.Symbol) ([][]byte, error) {
	return opFrames("subscribe", symbols)
}

func (b *Bybit) UnsubscribeFrames(symbols []model.Symbol) ([][]byte, error) {
	return opFrames("unsubscribe", symbols)
}

type bybitOp struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

func opFrames(op string, symbols []model.Symbol) ([][]byte, error) {
	args := topics(symbols)
	var frames [][]byte
	for start := 0; start < len(args); start += bybitArgsPerFrame {
		end := min(start+bybitArgsPerFrame, len(args))
		data, err := json.Marshal(bybitOp{Op: op, Args: args[start:end]})
		if err != nil {
			return nil, fmt.Errorf("marshal %s frame: %w", op, err)
		}
		frames = append(frames, data)
	}
	return frames, nil
}

func topics(symbols []model.Symbol) []string {
	out := make([]string, len(symbols))
	for i, s := range symbols {
		out[i] = bybitTopicPrefix + s.String()
	}
	return out
}

type bybitMessage struct {
	Topic string          `json:"topic"`
	Type  string          `json:"type"`
	TS    int64           `json:"ts"`
	Op    string          `json:"op"`
	Data  json.RawMessage `json:"data"`
}

type bybitTicker struct {
	Symbol       string `json:"symbol"`
	LastPrice    string `json:"lastPrice"`
	Price24hPcnt string `json:"price24hPcnt"`
	Volume24h    string `json:"volume24h"`
}

func (b *Bybit) Decode(raw []byte) (model.TickerUpdate, error) {
	var msg bybitMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return model.TickerUpdate{}, malformed(bybitName, err.Error())
	}
	if msg.Op != "" {
		// subscribe acks and pongs
		return model.TickerUpdate{}, unrecognized(bybitName, "op "+msg.Op)
	}
	if !strings.HasPrefix(msg.Topic, bybitTopicPrefix) {
		return model.TickerUpdate{}, unrecognized(bybitName, fmt.Sprintf("topic %q", msg.Topic))
	}
	if msg.Type != "snapshot" && msg.Type != "delta" {
		return model.TickerUpdate{}, unrecognized(bybitName, fmt.Sprintf("type %q", msg.Type))
	}

	var t bybitTicker
	if err := json.Unmarshal(msg.Data, &t); err != nil {
		return model.TickerUpdate{}, malformed(bybitName, "data: "+err.Error())
	}
	if t.Symbol == "" {
		t.Symbol = strings.TrimPrefix(msg.Topic, bybitTopicPrefix)
	}
	sym, err := model.NormalizeSymbol(t.Symbol)
	if err != nil {
		return model.TickerUpdate{}, malformed(bybitName, fmt.Sprintf("symbol %q", t.Symbol))
	}
	if msg.TS <= 0 {
		return model.TickerUpdate{}, malformed(bybitName, "missing ts")
	}
	u := model.TickerUpdate{
		Exchange:   bybitName,
		Symbol:     sym,
		ObservedAt: time.UnixMilli(msg.TS).UTC(),
	}

	// Deltas carry only the fields that changed; snapshots carry all of them.
	partial := msg.Type == "delta"
	fields := []struct {
		name string
		raw  string
		bit  model.Fields
		dst  *decimal.Decimal
	}{
		{"lastPrice", t.LastPrice, model.FieldPrice, &u.Price},
		{"price24hPcnt", t.Price24hPcnt, model.FieldChange24hPct, &u.Change24hPct},
		{"volume24h", t.Volume24h, model.FieldVolume24h, &u.Volume24h},
	}
	for _, f := range fields {
		if f.raw == "" && partial {
			u.Missing |= f.bit
			continue
		}
		d, err := parseDecimal(bybitName, f.name, f.raw)
		if err != nil {
			return model.TickerUpdate{}, err
		}
		*f.dst = d
	}
	// Bybit reports a ratio (0.025 = 2.5%)
	u.Change24hPct = u.Change24hPct.Mul(hundred)

	return u, nil
}

var (
	_ FrameSubscriber = (*Bybit)(nil)
	_ Heartbeater     = (*Bybit)(nil)
)
