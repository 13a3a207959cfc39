package feed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/tickerfeed/internal/model"
)

func queued(sym model.Symbol, price string) model.TickerUpdate {
	return model.TickerUpdate{
		Exchange:   "binance",
		Symbol:     sym,
		Price:      decimal.RequireFromString(price),
		ObservedAt: time.UnixMilli(1700000000000),
	}
}

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue()
	for _, sym := range []model.Symbol{"BTCUSDT", "ETHUSDT", "SOLUSDT"} {
		if !q.Push(queued(sym, "1")) {
			t.Fatalf("Push(%s) returned false", sym)
		}
	}

	if q.Len() != 3 {
		t.Errorf("Len() = %d, want 3", q.Len())
	}

	for _, want := range []model.Symbol{"BTCUSDT", "ETHUSDT", "SOLUSDT"} {
		u, ok := q.TryNext()
		if !ok {
			t.Fatalf("TryNext() returned false, want %s", want)
		}
		if u.Symbol != want {
			t.Errorf("got %s, want %s", u.Symbol, want)
		}
	}

	if _, ok := q.TryNext(); ok {
		t.Error("TryNext() on empty queue returned true")
	}
}

func TestQueue_CoalescesPerSymbol(t *testing.T) {
	q := NewQueue()
	q.Push(queued("BTCUSDT", "43000"))
	q.Push(queued("ETHUSDT", "2200"))
	q.Push(queued("BTCUSDT", "43100"))

	if q.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", q.Len())
	}

	// BTCUSDT keeps its position but carries the newer value.
	u, _ := q.TryNext()
	if u.Symbol != "BTCUSDT" || !u.Price.Equal(decimal.RequireFromString("43100")) {
		t.Errorf("first = %s %s, want BTCUSDT 43100", u.Symbol, u.Price)
	}

	stats := q.Stats()
	if stats.Pushed != 3 || stats.Coalesced != 1 || stats.Delivered != 1 || stats.Len != 1 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestQueue_Drain(t *testing.T) {
	q := NewQueue()
	if got := q.Drain(0); got != nil {
		t.Errorf("Drain on empty = %v, want nil", got)
	}

	for _, sym := range []model.Symbol{"AAUSDT", "BBUSDT", "CCUSDT"} {
		q.Push(queued(sym, "1"))
	}

	got := q.Drain(2)
	if len(got) != 2 || got[0].Symbol != "AAUSDT" || got[1].Symbol != "BBUSDT" {
		t.Errorf("Drain(2) = %v", got)
	}
	if got := q.Drain(0); len(got) != 1 || got[0].Symbol != "CCUSDT" {
		t.Errorf("Drain(0) = %v", got)
	}
}

func TestQueue_Close(t *testing.T) {
	q := NewQueue()
	q.Push(queued("BTCUSDT", "1"))
	q.Close()
	q.Close()

	if q.Push(queued("ETHUSDT", "1")) {
		t.Error("Push after Close returned true")
	}

	// Queued items survive Close.
	u, err := q.Next(context.Background())
	if err != nil || u.Symbol != "BTCUSDT" {
		t.Fatalf("Next() = %s, %v", u.Symbol, err)
	}
	if _, err := q.Next(context.Background()); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Next() on closed empty queue = %v, want ErrQueueClosed", err)
	}
}

func TestQueue_NextBlocks(t *testing.T) {
	q := NewQueue()

	got := make(chan model.TickerUpdate, 1)
	go func() {
		u, err := q.Next(context.Background())
		if err == nil {
			got <- u
		}
	}()

	select {
	case <-got:
		t.Fatal("Next returned before any push")
	case <-time.After(20 * time.Millisecond):
	}

	q.Push(queued("BTCUSDT", "1"))
	select {
	case u := <-got:
		if u.Symbol != "BTCUSDT" {
			t.Errorf("got %s", u.Symbol)
		}
	case <-time.After(time.Second):
		t.Fatal("Next did not wake on push")
	}
}

func TestQueue_NextCancelled(t *testing.T) {
	q := NewQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := q.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Next() = %v, want DeadlineExceeded", err)
	}
}

func TestQueue_CloseWakesConsumer(t *testing.T) {
	q := NewQueue()
	errc := make(chan error, 1)
	go func() {
		_, err := q.Next(context.Background())
		errc <- err
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case err := <-errc:
		if !errors.Is(err, ErrQueueClosed) {
			t.Errorf("err = %v, want ErrQueueClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not wake Next")
	}
}

func TestQueue_ConcurrentProducer(t *testing.T) {
	q := NewQueue()
	syms := []model.Symbol{"BTCUSDT", "ETHUSDT", "SOLUSDT", "XRPUSDT"}

	var wg sync.WaitGroup
	for _, sym := range syms {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 1000 {
				q.Push(queued(sym, "1"))
			}
		}()
	}

	seen := make(map[model.Symbol]bool)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			u, err := q.Next(context.Background())
			if err != nil {
				return
			}
			seen[u.Symbol] = true
		}
	}()

	wg.Wait()
	q.Close()
	<-done

	if len(seen) != len(syms) {
		t.Errorf("saw %d symbols, want %d", len(seen), len(syms))
	}
	if q.Len() > len(syms) {
		t.Errorf("Len() = %d exceeds symbol count", q.Len())
	}
	if st := q.Stats(); st.Pushed != 4000 || st.Delivered+st.Coalesced != 4000 {
		t.Errorf("Stats() = %+v", st)
	}
}
