package feed

import (
	"slices"
	"sync"

	"github.com/rickgao/tickerfeed/internal/model"
	"github.com/rickgao/tickerfeed/internal/store"
)

// Handle is one subscriber's claim on a set of symbols. Release it when the
// consumer goes away; releasing more than once is harmless.
type Handle struct {
	id       string
	symbols  []model.Symbol
	registry *Registry // nil for the empty handle

	mu       sync.Mutex
	released bool
	cancels  []func()
}

// ID returns the handle's unique identifier.
func (h *Handle) ID() string { return h.id }

// Symbols returns the normalized, deduplicated symbols of the handle.
func (h *Handle) Symbols() []model.Symbol { return slices.Clone(h.symbols) }

// Released reports whether Release has been called.
func (h *Handle) Released() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released
}

func (h *Handle) covers(sym model.Symbol) bool {
	return slices.Contains(h.symbols, sym)
}

// Get returns the latest value for one of the handle's symbols.
func (h *Handle) Get(symbol string) (model.TickerUpdate, bool) {
	sym, err := model.NormalizeSymbol(symbol)
	if err != nil || h.registry == nil || !h.covers(sym) || h.Released() {
		return model.TickerUpdate{}, false
	}
	return h.registry.store.Get(sym)
}

// Snapshot returns the latest values for the handle's symbols that have one.
func (h *Handle) Snapshot() map[model.Symbol]model.TickerUpdate {
	if h.registry == nil || h.Released() {
		return map[model.Symbol]model.TickerUpdate{}
	}
	return h.registry.store.GetMany(h.symbols)
}

// Watch calls fn for every update to the handle's symbols until the returned
// cancel is called or the handle is released. fn runs on the feed goroutine
// and must not block.
func (h *Handle) Watch(fn store.WatchFunc) (cancel func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.registry == nil || h.released {
		return func() {}
	}
	cancel = h.registry.store.Watch(h.symbols, fn)
	h.cancels = append(h.cancels, cancel)
	return cancel
}

// Release gives the handle's symbols back to the registry. Symbols nobody
// else holds are unsubscribed and their stored values removed before
// Release returns.
func (h *Handle) Release() {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return
	}
	h.released = true
	cancels := h.cancels
	h.cancels = nil
	h.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	if h.registry != nil {
		h.registry.release(h)
	}
}
