package store

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/rickgao/tickerfeed/internal/model"
)

type entry struct {
	v atomic.Pointer[model.TickerUpdate]
}

// WatchFunc receives updates. It runs on the publishing goroutine and must
// not block.
type WatchFunc = func(model.TickerUpdate)

// Store is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	entries map[model.Symbol]*entry

	watchMu  sync.RWMutex
	nextID   uint64
	watchers map[model.Symbol]map[uint64]WatchFunc
	all      map[uint64]WatchFunc

	stale atomic.Int64
}

// New creates an empty store.
func New() *Store {
	return &Store{
		entries:  make(map[model.Symbol]*entry),
		watchers: make(map[model.Symbol]map[uint64]WatchFunc),
		all:      make(map[uint64]WatchFunc),
	}
}

// Get returns the latest value for sym.
func (s *Store) Get(sym model.Symbol) (model.TickerUpdate, bool) {
	s.mu.RLock()
	e, ok := s.entries[sym]
	s.mu.RUnlock()
	if !ok {
		return model.TickerUpdate{}, false
	}
	v := e.v.Load()
	if v == nil {
		return model.TickerUpdate{}, false
	}
	return *v, true
}

// GetMany returns the latest values for the symbols that have one.
func (s *Store) GetMany(syms []model.Symbol) map[model.Symbol]model.TickerUpdate {
	out := make(map[model.Symbol]model.TickerUpdate, len(syms))
	for _, sym := range syms {
		if u, ok := s.Get(sym); ok {
			out[sym] = u
		}
	}
	return out
}

// Snapshot returns every stored value sorted by symbol.
func (s *Store) Snapshot() []model.TickerUpdate {
	s.mu.RLock()
	out := make([]model.TickerUpdate, 0, len(s.entries))
	for _, e := range s.entries {
		if v := e.v.Load(); v != nil {
			out = append(out, *v)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b model.TickerUpdate) int {
		if a.Symbol < b.Symbol {
			return -1
		}
		if a.Symbol > b.Symbol {
			return 1
		}
		return 0
	})
	return out
}

// Symbols returns the symbols with a stored value, sorted.
func (s *Store) Symbols() []model.Symbol {
	s.mu.RLock()
	out := make([]model.Symbol, 0, len(s.entries))
	for sym, e := range s.entries {
		if e.v.Load() != nil {
			out = append(out, sym)
		}
	}
	s.mu.RUnlock()
	slices.Sort(out)
	return out
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// StaleRejects counts updates dropped for being older than the stored value.
func (s *Store) StaleRejects() int64 { return s.stale.Load() }

// Put stores u and notifies watchers. See Replace for ordering rules.
func (s *Store) Put(u model.TickerUpdate) bool {
	if !s.Replace(u) {
		return false
	}
	s.Notify(u)
	return true
}

// Replace swaps in u unless the stored value was observed later. An equal
// ObservedAt overwrites. Returns whether u was stored. Watchers are not
// called; see Notify.
func (s *Store) Replace(u model.TickerUpdate) bool {
	e := s.entryFor(u.Symbol)
	next := u
	for {
		cur := e.v.Load()
		if cur != nil && u.ObservedAt.Before(cur.ObservedAt) {
			s.stale.Add(1)
			return false
		}
		if e.v.CompareAndSwap(cur, &next) {
			return true
		}
	}
}

func (s *Store) entryFor(sym model.Symbol) *entry {
	s.mu.RLock()
	e, ok := s.entries[sym]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.entries[sym]; !ok {
		e = &entry{}
		s.entries[sym] = e
	}
	return e
}

// Delete removes sym. Later reads report it absent until a new Put.
func (s *Store) Delete(syms ...model.Symbol) {
	s.mu.Lock()
	for _, sym := range syms {
		delete(s.entries, sym)
	}
	s.mu.Unlock()
}

// Notify calls the watchers of u.Symbol and the global watchers.
func (s *Store) Notify(u model.TickerUpdate) {
	s.watchMu.RLock()
	fns := make([]WatchFunc, 0, len(s.watchers[u.Symbol])+len(s.all))
	for _, fn := range s.watchers[u.Symbol] {
		fns = append(fns, fn)
	}
	for _, fn := range s.all {
		fns = append(fns, fn)
	}
	s.watchMu.RUnlock()

	for _, fn := range fns {
		fn(u)
	}
}

// Watch registers fn for updates to any of syms. The returned func
// unregisters it and may be called more than once.
func (s *Store) Watch(syms []model.Symbol, fn WatchFunc) (cancel func()) {
	syms = slices.Clone(syms)

	s.watchMu.Lock()
	s.nextID++
	id := s.nextID
	for _, sym := range syms {
		m, ok := s.watchers[sym]
		if !ok {
			m = make(map[uint64]WatchFunc)
			s.watchers[sym] = m
		}
		m[id] = fn
	}
	s.watchMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.watchMu.Lock()
			defer s.watchMu.Unlock()
			for _, sym := range syms {
				if m, ok := s.watchers[sym]; ok {
					delete(m, id)
					if len(m) == 0 {
						delete(s.watchers, sym)
					}
				}
			}
		})
	}
}

// WatchAll registers fn for every update.
func (s *Store) WatchAll(fn WatchFunc) (cancel func()) {
	s.watchMu.Lock()
	s.nextID++
	id := s.nextID
	s.all[id] = fn
	s.watchMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.watchMu.Lock()
			delete(s.all, id)
			s.watchMu.Unlock()
		})
	}
}
