package writer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/tickerfeed/internal/model"
	"github.com/rickgao/tickerfeed/internal/store"
)

// write records one backend call by key.
type write struct {
	set map[string]model.TickerUpdate
	del []string
	ttl time.Duration
}

type fakeBackend struct {
	mu     sync.Mutex
	writes []write
	fail   error
}

func (b *fakeBackend) Write(_ context.Context, set map[Ref]model.TickerUpdate, del []Ref, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail != nil {
		return b.fail
	}
	w := write{set: make(map[string]model.TickerUpdate, len(set)), ttl: ttl}
	for ref, u := range set {
		w.set[ref.Key] = u
	}
	for _, ref := range del {
		w.del = append(w.del, ref.Key)
	}
	b.writes = append(b.writes, w)
	return nil
}

func (b *fakeBackend) all() []write {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]write(nil), b.writes...)
}

func (b *fakeBackend) setFail(err error) {
	b.mu.Lock()
	b.fail = err
	b.mu.Unlock()
}

var t0 = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

func update(sym model.Symbol, price string, at time.Time) model.TickerUpdate {
	return model.TickerUpdate{
		Exchange:     "binance",
		Symbol:       sym,
		Price:        decimal.RequireFromString(price),
		Change24hPct: decimal.RequireFromString("2.5"),
		Volume24h:    decimal.RequireFromString("10"),
		ObservedAt:   at,
	}
}

func newTestMirror(b Backend) (*Mirror, *store.Store) {
	st := store.New()
	cfg := DefaultMirrorConfig()
	cfg.FlushInterval = time.Hour // tests flush by hand
	return NewMirror(cfg, st, b, nil), st
}

func TestMirrorConfig_Key(t *testing.T) {
	cfg := DefaultMirrorConfig()
	if got := cfg.Key("binance", "BTCUSDT"); got != "latest:binance:BTCUSDT" {
		t.Errorf("Key() = %q", got)
	}
}

func TestMirror_CoalescesPerSymbol(t *testing.T) {
	b := &fakeBackend{}
	m, st := newTestMirror(b)
	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer m.Stop(context.Background())

	st.Put(update("BTCUSDT", "43000", t0))
	st.Put(update("BTCUSDT", "43001", t0.Add(time.Second)))
	st.Put(update("BTCUSDT", "43002", t0.Add(2*time.Second)))
	st.Put(update("ETHUSDT", "2250", t0))

	m.flush(context.Background(), true)

	writes := b.all()
	if len(writes) != 1 {
		t.Fatalf("got %d writes, want 1", len(writes))
	}
	w := writes[0]
	if len(w.set) != 2 || len(w.del) != 0 {
		t.Fatalf("write = %d sets %d deletes", len(w.set), len(w.del))
	}
	if w.ttl != 2*time.Minute {
		t.Errorf("ttl = %v", w.ttl)
	}

	got := w.set["latest:binance:BTCUSDT"]
	if got.Price.String() != "43002" {
		t.Errorf("mirrored price = %s, want the latest 43002", got.Price)
	}

	if s := m.Stats(); s.Sets != 2 || s.Flushes != 1 {
		t.Errorf("stats = %+v", s)
	}
}

func TestMirror_DeletesReleasedSymbols(t *testing.T) {
	b := &fakeBackend{}
	m, st := newTestMirror(b)
	m.Start(context.Background())
	defer m.Stop(context.Background())

	st.Put(update("SOLUSDT", "100", t0))
	m.flush(context.Background(), true)

	st.Delete("SOLUSDT")
	m.flush(context.Background(), true)

	writes := b.all()
	if len(writes) != 2 {
		t.Fatalf("got %d writes, want 2", len(writes))
	}
	if len(writes[1].del) != 1 || writes[1].del[0] != "latest:binance:SOLUSDT" {
		t.Errorf("delete = %v", writes[1].del)
	}

	// Nothing left to do.
	m.flush(context.Background(), true)
	if len(b.all()) != 2 {
		t.Error("idle flush wrote to the backend")
	}
}

func TestMirror_RetriesAfterError(t *testing.T) {
	b := &fakeBackend{}
	b.setFail(errors.New("connection reset"))
	m, st := newTestMirror(b)
	m.Start(context.Background())
	defer m.Stop(context.Background())

	st.Put(update("BTCUSDT", "43000", t0))
	m.flush(context.Background(), true)
	if s := m.Stats(); s.Errors != 1 || s.Flushes != 0 {
		t.Fatalf("stats after failure = %+v", s)
	}

	b.setFail(nil)
	m.flush(context.Background(), true)
	if writes := b.all(); len(writes) != 1 || len(writes[0].set) != 1 {
		t.Errorf("retry writes = %+v", writes)
	}
}

func TestMirror_BatchSizeTriggersFlush(t *testing.T) {
	b := &fakeBackend{}
	st := store.New()
	cfg := DefaultMirrorConfig()
	cfg.BatchSize = 2
	cfg.FlushInterval = time.Hour
	m := NewMirror(cfg, st, b, nil)
	m.Start(context.Background())
	defer m.Stop(context.Background())

	st.Put(update("BTCUSDT", "1", t0))
	st.Put(update("ETHUSDT", "1", t0))

	deadline := time.Now().Add(2 * time.Second)
	for len(b.all()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if len(b.all()) == 0 {
		t.Fatal("full batch did not trigger a flush")
	}
}

func TestMirror_StopFlushes(t *testing.T) {
	b := &fakeBackend{}
	m, st := newTestMirror(b)
	m.Start(context.Background())

	st.Put(update("BTCUSDT", "43000", t0))
	if err := m.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(b.all()) != 1 {
		t.Errorf("Stop did not flush pending values")
	}

	// Watcher is gone after Stop.
	st.Put(update("ETHUSDT", "1", t0))
	m.flush(context.Background(), true)
	if len(b.all()) != 1 {
		t.Error("mirror still watching after Stop")
	}
}

func TestMirror_StopKeepsReleasedValues(t *testing.T) {
	b := &fakeBackend{}
	m, st := newTestMirror(b)
	m.Start(context.Background())

	st.Put(update("BTCUSDT", "43000", t0))
	m.flush(context.Background(), true)

	// Shutdown races the release: the symbol leaves the store before Stop.
	st.Delete("BTCUSDT")
	st.Put(update("ETHUSDT", "2250", t0))
	if err := m.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}

	writes := b.all()
	if len(writes) != 2 {
		t.Fatalf("got %d writes, want 2", len(writes))
	}
	final := writes[1]
	if len(final.del) != 0 {
		t.Errorf("final flush deleted %v", final.del)
	}
	if _, ok := final.set["latest:binance:ETHUSDT"]; !ok {
		t.Errorf("final flush sets = %v, want ETHUSDT", final.set)
	}
	if s := m.Stats(); s.Deletes != 0 {
		t.Errorf("Deletes = %d, want 0", s.Deletes)
	}
}

func TestMirrorConfig_Ref(t *testing.T) {
	ref := DefaultMirrorConfig().Ref("bybit", "ETHUSDT")
	if ref.Key != "latest:bybit:ETHUSDT" || ref.Exchange != "bybit" || ref.Symbol != "ETHUSDT" {
		t.Errorf("Ref() = %+v", ref)
	}
}
