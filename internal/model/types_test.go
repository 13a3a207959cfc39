package model

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestNormalizeSymbol(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Symbol
		wantErr bool
	}{
		{"uppercase", "BTCUSDT", "BTCUSDT", false},
		{"lowercase", "ethusdt", "ETHUSDT", false},
		{"whitespace", "  solusdt ", "SOLUSDT", false},
		{"digits", "1000PEPEUSDT", "1000PEPEUSDT", false},
		{"empty", "", "", true},
		{"too short", "B", "", true},
		{"separator", "BTC-USDT", "", true},
		{"slash", "BTC/USDT", "", true},
		{"too long", "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeSymbol(tt.input)
			if tt.wantErr {
				var subErr *SubscriptionError
				if !errors.As(err, &subErr) {
					t.Fatalf("NormalizeSymbol(%q) error = %v, want *SubscriptionError", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizeSymbol(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("NormalizeSymbol(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizeSymbols_Dedup(t *testing.T) {
	got, err := NormalizeSymbols([]string{"btcusdt", "BTCUSDT", "ethusdt"})
	if err != nil {
		t.Fatalf("NormalizeSymbols failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0] != "BTCUSDT" || got[1] != "ETHUSDT" {
		t.Errorf("got %v, want [BTCUSDT ETHUSDT]", got)
	}
}

func TestNormalizeSymbols_RejectsWholeSet(t *testing.T) {
	_, err := NormalizeSymbols([]string{"BTCUSDT", "not valid"})
	if err == nil {
		t.Fatal("expected error for invalid symbol")
	}
}

func TestTickerUpdate_Equal(t *testing.T) {
	ts := time.UnixMilli(1705321845000).UTC()
	a := TickerUpdate{
		Exchange:     "binance",
		Symbol:       "BTCUSDT",
		Price:        decimal.RequireFromString("43000.00"),
		Change24hPct: decimal.RequireFromString("2.5"),
		Volume24h:    decimal.RequireFromString("1234.5"),
		ObservedAt:   ts,
	}
	b := a
	b.Price = decimal.RequireFromString("43000")

	if !a.Equal(b) {
		t.Error("43000.00 and 43000 should compare equal")
	}

	b.ObservedAt = ts.Add(time.Millisecond)
	if a.Equal(b) {
		t.Error("different timestamps should not compare equal")
	}
}

func TestTickerUpdate_Age(t *testing.T) {
	ts := time.Unix(100, 0)
	u := TickerUpdate{ObservedAt: ts}
	if got := u.Age(ts.Add(5 * time.Second)); got != 5*time.Second {
		t.Errorf("Age = %v, want 5s", got)
	}
}

func TestConnectionState_String(t *testing.T) {
	tests := map[ConnectionState]string{
		StateIdle:         "idle",
		StateConnecting:   "connecting",
		StateConnected:    "connected",
		StateReconnecting: "reconnecting",
		StateFailed:       "failed",
		StateClosed:       "closed",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", state, got, want)
		}
	}
	if got := ConnectionState(42).String(); got != "unknown" {
		t.Errorf("out of range String() = %q, want %q", got, "unknown")
	}
}

func TestConnectionState_Predicates(t *testing.T) {
	if !StateFailed.Terminal() || !StateClosed.Terminal() {
		t.Error("failed and closed should be terminal")
	}
	if StateReconnecting.Terminal() {
		t.Error("reconnecting should not be terminal")
	}
	if !StateReconnecting.Live() || StateIdle.Live() || StateClosed.Live() {
		t.Error("Live() mismatch")
	}
}

func TestErrorTaxonomy(t *testing.T) {
	decodeErr := &DecodeError{Exchange: "binance", Kind: ErrMalformed, Detail: "bad price"}
	if !errors.Is(decodeErr, ErrMalformed) {
		t.Error("DecodeError should unwrap to its kind")
	}
	if decodeErr.Error() != "binance: malformed frame: bad price" {
		t.Errorf("Error() = %q", decodeErr.Error())
	}

	cause := errors.New("connection refused")
	transportErr := &TransportError{Op: "dial", Err: cause}
	exhausted := &FeedExhaustedError{Key: "binance#1", Attempts: 5, Last: transportErr}
	if !errors.Is(exhausted, cause) {
		t.Error("FeedExhaustedError should unwrap to the last transport cause")
	}
}

func TestTickerUpdate_Merge(t *testing.T) {
	prev := TickerUpdate{
		Exchange:     "bybit",
		Symbol:       "BTCUSDT",
		Price:        decimal.RequireFromString("43000"),
		Change24hPct: decimal.RequireFromString("2.5"),
		Volume24h:    decimal.RequireFromString("1200"),
		ObservedAt:   time.UnixMilli(1700000000000),
	}
	delta := TickerUpdate{
		Exchange:   "bybit",
		Symbol:     "BTCUSDT",
		Price:      decimal.RequireFromString("43001.5"),
		ObservedAt: time.UnixMilli(1700000001000),
		Missing:    FieldChange24hPct | FieldVolume24h,
	}
	if delta.Complete() {
		t.Fatal("delta reported complete")
	}

	got := delta.Merge(prev)
	if !got.Complete() {
		t.Error("merged update still partial")
	}
	if !got.Price.Equal(decimal.RequireFromString("43001.5")) {
		t.Errorf("Price = %s, want 43001.5", got.Price)
	}
	if !got.Change24hPct.Equal(prev.Change24hPct) || !got.Volume24h.Equal(prev.Volume24h) {
		t.Errorf("carried fields = %s / %s", got.Change24hPct, got.Volume24h)
	}
	if !got.ObservedAt.Equal(delta.ObservedAt) {
		t.Errorf("ObservedAt = %v, want the delta's", got.ObservedAt)
	}
}
