package model

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Symbol is an uppercase exchange-specific instrument identifier (e.g. "BTCUSDT").
type Symbol string

// String returns the symbol as a plain string.
func (s Symbol) String() string { return string(s) }

// Lower returns the lowercase form used by stream names on some exchanges.
func (s Symbol) Lower() string { return strings.ToLower(string(s)) }

var symbolPattern = regexp.MustCompile(`^[A-Z0-9]{2,32}$`)

// NormalizeSymbol trims and uppercases a raw symbol and validates its format.
// Returns a *SubscriptionError for anything that is not 2-32 alphanumerics.
func NormalizeSymbol(raw string) (Symbol, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if !symbolPattern.MatchString(s) {
		return "", &SubscriptionError{Symbol: raw, Reason: "must be 2-32 letters or digits"}
	}
	return Symbol(s), nil
}

// NormalizeSymbols normalizes a list of raw symbols, dropping duplicates.
// The first invalid symbol aborts the whole call.
func NormalizeSymbols(raw []string) ([]Symbol, error) {
	out := make([]Symbol, 0, len(raw))
	seen := make(map[Symbol]struct{}, len(raw))
	for _, r := range raw {
		s, err := NormalizeSymbol(r)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out, nil
}

// TickerUpdate is a normalized 24h ticker observation.
// Values are never mutated after construction; the store replaces whole records.
type TickerUpdate struct {
	Exchange     string          `json:"exchange"`
	Symbol       Symbol          `json:"symbol"`
	Price        decimal.Decimal `json:"price"`          // Last traded price
	Change24hPct decimal.Decimal `json:"change_24h_pct"` // Percent, e.g. 2.5 = +2.5%
	Volume24h    decimal.Decimal `json:"volume_24h"`     // Base asset volume
	ObservedAt   time.Time       `json:"observed_at"`    // Exchange event time

	// Missing is set by codecs for delta frames that omit unchanged fields.
	// Stored updates are always complete.
	Missing Fields `json:"-"`
}

// Fields is a set of TickerUpdate value fields.
type Fields uint8

const (
	FieldPrice Fields = 1 << iota
	FieldChange24hPct
	FieldVolume24h

	AllFields = FieldPrice | FieldChange24hPct | FieldVolume24h
)

// Complete reports whether every value field is present.
func (u TickerUpdate) Complete() bool { return u.Missing == 0 }

// Merge fills the fields u lacks from prev and returns a complete update.
// Identity and ObservedAt always come from u.
func (u TickerUpdate) Merge(prev TickerUpdate) TickerUpdate {
	if u.Missing&FieldPrice != 0 {
		u.Price = prev.Price
	}
	if u.Missing&FieldChange24hPct != 0 {
		u.Change24hPct = prev.Change24hPct
	}
	if u.Missing&FieldVolume24h != 0 {
		u.Volume24h = prev.Volume24h
	}
	u.Missing = 0
	return u
}

// Equal reports whether two updates carry identical values.
func (u TickerUpdate) Equal(o TickerUpdate) bool {
	return u.Exchange == o.Exchange &&
		u.Symbol == o.Symbol &&
		u.Price.Equal(o.Price) &&
		u.Change24hPct.Equal(o.Change24hPct) &&
		u.Volume24h.Equal(o.Volume24h) &&
		u.ObservedAt.Equal(o.ObservedAt)
}

// Age returns how old the update is relative to now.
// Consumers use it to decide when to show a stale-data indicator.
func (u TickerUpdate) Age(now time.Time) time.Duration {
	return now.Sub(u.ObservedAt)
}

// ConnectionState is the lifecycle state of a single streaming connection.
type ConnectionState int

const (
	StateIdle ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
	StateClosed
)

var stateNames = [...]string{
	StateIdle:         "idle",
	StateConnecting:   "connecting",
	StateConnected:    "connected",
	StateReconnecting: "reconnecting",
	StateFailed:       "failed",
	StateClosed:       "closed",
}

func (s ConnectionState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further transitions happen on their own.
func (s ConnectionState) Terminal() bool {
	return s == StateFailed || s == StateClosed
}

// Live reports whether the connection is up or actively trying to be.
func (s ConnectionState) Live() bool {
	return s == StateConnecting || s == StateConnected || s == StateReconnecting
}

// MarshalText renders the state name in JSON payloads.
func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
