package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/rickgao/tickerfeed/internal/codec"
	"github.com/rickgao/tickerfeed/internal/connection"
	"github.com/rickgao/tickerfeed/internal/model"
	"github.com/rickgao/tickerfeed/internal/store"
)

// EventBufferSize is the default capacity of the Events channel.
const EventBufferSize = 256

// ErrClosed is returned by Subscribe after Close.
var ErrClosed = errors.New("feed registry closed")

// Config holds Registry configuration.
type Config struct {
	Supervisor  connection.SupervisorConfig
	EventBuffer int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Supervisor:  connection.DefaultSupervisorConfig(),
		EventBuffer: EventBufferSize,
	}
}

// Registry deduplicates subscriptions across handles and owns the
// supervisors that carry them.
type Registry struct {
	cfg     Config
	adapter codec.Adapter
	store   *store.Store
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	refs    map[model.Symbol]int
	owner   map[model.Symbol]*connection.Supervisor
	sups    map[string]*connection.Supervisor
	handles map[string]*Handle
	seq     int
	closed  bool

	events chan connection.Event
}

// New creates a Registry. st may be shared with other readers.
func New(cfg Config, adapter codec.Adapter, st *store.Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if st == nil {
		st = store.New()
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = EventBufferSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		cfg:     cfg,
		adapter: adapter,
		store:   st,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		refs:    make(map[model.Symbol]int),
		owner:   make(map[model.Symbol]*connection.Supervisor),
		sups:    make(map[string]*connection.Supervisor),
		handles: make(map[string]*Handle),
		events:  make(chan connection.Event, cfg.EventBuffer),
	}

	userHook := cfg.Supervisor.OnEvent
	r.cfg.Supervisor.OnEvent = func(e connection.Event) {
		r.notifyEvent(e)
		if userHook != nil {
			userHook(e)
		}
	}
	return r
}

// Store returns the latest-value store the registry publishes into.
func (r *Registry) Store() *store.Store { return r.store }

// Exchange returns the adapter name.
func (r *Registry) Exchange() string { return r.adapter.Name() }

// Subscribe validates symbols and returns a Handle covering them. Invalid
// input fails with *model.SubscriptionError and changes nothing. An empty
// list returns a handle whose Release does nothing.
func (r *Registry) Subscribe(symbols []string) (*Handle, error) {
	syms, err := model.NormalizeSymbols(symbols)
	if err != nil {
		return nil, err
	}

	h := &Handle{id: uuid.NewString(), symbols: syms}
	if len(syms) == 0 {
		return h, nil
	}
	h.registry = r

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}

	var fresh []model.Symbol
	rearm := make(map[*connection.Supervisor]struct{})
	for _, sym := range syms {
		r.refs[sym]++
		sup, owned := r.owner[sym]
		switch {
		case !owned:
			fresh = append(fresh, sym)
		case sup.State() == model.StateFailed:
			rearm[sup] = struct{}{}
		}
	}

	for old := range rearm {
		r.rearmLocked(old)
	}
	if len(fresh) > 0 {
		r.placeLocked(fresh)
	}
	r.handles[h.id] = h

	r.logger.Debug("subscribed",
		"handle", h.id,
		"symbols", syms,
		"new_streams", len(fresh),
	)
	return h, nil
}

// placeLocked assigns unowned symbols to supervisors.
func (r *Registry) placeLocked(syms []model.Symbol) {
	if r.adapter.Strategy() == codec.PerSymbol {
		for _, sym := range syms {
			r.startLocked([]model.Symbol{sym})
		}
		return
	}

	limit := max(r.adapter.MaxSymbols(), 1)
	for _, key := range slices.Sorted(maps.Keys(r.sups)) {
		if len(syms) == 0 {
			return
		}
		sup := r.sups[key]
		if sup.State().Terminal() {
			continue
		}
		room := limit - sup.Len()
		if room <= 0 {
			continue
		}
		n := min(room, len(syms))
		sup.AddSymbols(syms[:n]...)
		for _, sym := range syms[:n] {
			r.owner[sym] = sup
		}
		syms = syms[n:]
	}
	for len(syms) > 0 {
		n := min(limit, len(syms))
		r.startLocked(syms[:n])
		syms = syms[n:]
	}
}

func (r *Registry) startLocked(syms []model.Symbol) *connection.Supervisor {
	r.seq++
	cfg := r.cfg.Supervisor
	cfg.Key = fmt.Sprintf("%s-%d", r.adapter.Name(), r.seq)

	sup := connection.NewSupervisor(cfg, r.adapter, r.store, r.logger, syms...)
	r.sups[cfg.Key] = sup
	for _, sym := range syms {
		r.owner[sym] = sup
	}
	sup.Start(r.ctx)
	return sup
}

// rearmLocked replaces a Failed supervisor with a fresh one carrying the same
// symbols. Stored values are left alone.
func (r *Registry) rearmLocked(old *connection.Supervisor) {
	delete(r.sups, old.Key())
	old.Close()

	syms := old.Symbols()
	sup := r.startLocked(syms)
	r.logger.Info("re-armed failed feed",
		"old", old.Key(),
		"new", sup.Key(),
		"symbols", len(syms),
	)
}

// release drops one reference per symbol of h.
func (r *Registry) release(h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.handles, h.id)
	if r.closed {
		return
	}

	var dropped []model.Symbol
	for _, sym := range h.symbols {
		r.refs[sym]--
		if r.refs[sym] > 0 {
			continue
		}
		delete(r.refs, sym)
		dropped = append(dropped, sym)

		sup, ok := r.owner[sym]
		if !ok {
			continue
		}
		delete(r.owner, sym)

		// RemoveSymbols fences the supervisor; nothing for sym is written
		// after it returns, so the delete below is final.
		if sup.RemoveSymbols(sym) == 0 {
			delete(r.sups, sup.Key())
			sup.Close()
		}
		r.store.Delete(sym)
	}

	r.logger.Debug("released",
		"handle", h.id,
		"dropped", dropped,
	)
}

// notifyEvent pushes e to the events channel, dropping the oldest event when
// the buffer is full.
func (r *Registry) notifyEvent(e connection.Event) {
	if e.State == model.StateFailed {
		r.logger.Error("feed failed", "feed", e.Key, "error", e.Err)
	}
	select {
	case r.events <- e:
	default:
		select {
		case <-r.events:
		default:
		}
		select {
		case r.events <- e:
		default:
		}
	}
}

// Events returns supervisor state transitions, including Failed events
// carrying a *model.FeedExhaustedError.
func (r *Registry) Events() <-chan connection.Event { return r.events }

// Get returns the latest value for a symbol.
func (r *Registry) Get(symbol string) (model.TickerUpdate, bool) {
	sym, err := model.NormalizeSymbol(symbol)
	if err != nil {
		return model.TickerUpdate{}, false
	}
	return r.store.Get(sym)
}

// GetMany returns the latest values for the symbols that have one. Invalid
// symbols are skipped.
func (r *Registry) GetMany(symbols []string) map[model.Symbol]model.TickerUpdate {
	syms := make([]model.Symbol, 0, len(symbols))
	for _, s := range symbols {
		if sym, err := model.NormalizeSymbol(s); err == nil {
			syms = append(syms, sym)
		}
	}
	return r.store.GetMany(syms)
}

// Watch calls fn for every stored update of the given symbols.
func (r *Registry) Watch(symbols []model.Symbol, fn store.WatchFunc) (cancel func()) {
	return r.store.Watch(symbols, fn)
}

// State returns the connection state of the supervisor that owns symbol.
func (r *Registry) State(symbol string) (model.ConnectionState, bool) {
	sym, err := model.NormalizeSymbol(symbol)
	if err != nil {
		return model.StateIdle, false
	}
	r.mu.Lock()
	sup, ok := r.owner[sym]
	r.mu.Unlock()
	if !ok {
		return model.StateIdle, false
	}
	return sup.State(), true
}

// Stats is a point-in-time view of the registry.
type Stats struct {
	Exchange     string                       `json:"exchange"`
	Handles      int                          `json:"handles"`
	Symbols      int                          `json:"symbols"`
	StoreEntries int                          `json:"store_entries"`
	StaleRejects int64                        `json:"stale_rejects"`
	ByState      map[string]int               `json:"by_state"`
	Supervisors  []connection.SupervisorStats `json:"supervisors"`
}

// Degraded reports whether any supervisor has given up.
func (s Stats) Degraded() bool {
	return s.ByState[model.StateFailed.String()] > 0
}

// Stats returns registry and per-supervisor statistics.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	st := Stats{
		Exchange: r.adapter.Name(),
		Handles:  len(r.handles),
		Symbols:  len(r.refs),
		ByState:  make(map[string]int),
	}
	sups := make([]*connection.Supervisor, 0, len(r.sups))
	for _, key := range slices.Sorted(maps.Keys(r.sups)) {
		sups = append(sups, r.sups[key])
	}
	r.mu.Unlock()

	for _, sup := range sups {
		ss := sup.Stats()
		st.ByState[ss.State.String()]++
		st.Supervisors = append(st.Supervisors, ss)
	}
	st.StoreEntries = r.store.Len()
	st.StaleRejects = r.store.StaleRejects()
	return st
}

// Close stops every supervisor and waits for them to exit or for ctx.
// Outstanding handles become inert; stored values are kept.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	sups := slices.Collect(maps.Values(r.sups))
	r.sups = make(map[string]*connection.Supervisor)
	r.owner = make(map[model.Symbol]*connection.Supervisor)
	r.refs = make(map[model.Symbol]int)
	r.mu.Unlock()

	r.cancel()
	for _, sup := range sups {
		sup.Close()
	}
	for _, sup := range sups {
		select {
		case <-sup.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	r.logger.Info("feed registry closed", "supervisors", len(sups))
	return nil
}
