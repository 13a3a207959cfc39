package writer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/tickerfeed/internal/model"
)

// Mirror copies the latest-value store into a Backend.
type Mirror struct {
	cfg     MirrorConfig
	source  Source
	backend Backend
	logger  *slog.Logger

	// Symbols updated since the last flush, and the values currently written.
	mu      sync.Mutex
	pending map[model.Symbol]struct{}
	written map[model.Symbol]Ref

	kick        chan struct{}
	cancelWatch func()

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// flushMu serializes flushes so a slow backend never sees two at once.
	flushMu sync.Mutex

	metricsMu sync.Mutex
	metrics   MirrorMetrics
}

// NewMirror creates a Mirror.
func NewMirror(cfg MirrorConfig, source Source, backend Backend, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultMirrorConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = def.KeyPrefix
	}
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	return &Mirror{
		cfg:     cfg,
		source:  source,
		backend: backend,
		logger:  logger,
		pending: make(map[model.Symbol]struct{}),
		written: make(map[model.Symbol]Ref),
		kick:    make(chan struct{}, 1),
	}
}

// Start registers with the store and begins flushing in the background.
func (m *Mirror) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.cancelWatch = m.source.WatchAll(m.enqueue)

	m.wg.Add(1)
	go m.flushLoop()

	m.logger.Info("mirror started",
		"mirror", m.cfg.Name,
		"batch_size", m.cfg.BatchSize,
		"flush_interval", m.cfg.FlushInterval,
		"ttl", m.cfg.TTL,
	)
	return nil
}

// Stop unregisters from the store, waits for the flush loop and performs a
// final flush bounded by ctx. The final flush writes pending values but
// never deletes; values left behind expire through the TTL.
func (m *Mirror) Stop(ctx context.Context) error {
	m.logger.Info("stopping mirror", "mirror", m.cfg.Name)

	if m.cancelWatch != nil {
		m.cancelWatch()
	}
	if m.cancel != nil {
		m.cancel()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("mirror stop timed out", "mirror", m.cfg.Name)
		return ctx.Err()
	}

	m.flush(ctx, false)
	m.logger.Info("mirror stopped", "mirror", m.cfg.Name)
	return nil
}

// Stats returns current metrics.
func (m *Mirror) Stats() MirrorMetrics {
	m.metricsMu.Lock()
	defer m.metricsMu.Unlock()
	return m.metrics
}

// enqueue runs on the feed goroutine via the store watcher. It only marks
// the symbol dirty.
func (m *Mirror) enqueue(u model.TickerUpdate) {
	m.mu.Lock()
	m.pending[u.Symbol] = struct{}{}
	full := len(m.pending) >= m.cfg.BatchSize
	m.mu.Unlock()

	if full {
		select {
		case m.kick <- struct{}{}:
		default:
		}
	}
}

// flushLoop periodically flushes pending symbols.
func (m *Mirror) flushLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.flush(m.ctx, true)
		case <-m.kick:
			m.flush(m.ctx, true)
		}
	}
}

// flush writes the current value of every pending symbol. With deletes set
// it also removes values for symbols that are no longer in the store.
func (m *Mirror) flush(ctx context.Context, deletes bool) {
	m.flushMu.Lock()
	defer m.flushMu.Unlock()

	m.mu.Lock()
	pending := m.pending
	m.pending = make(map[model.Symbol]struct{}, len(pending))
	written := make(map[model.Symbol]Ref, len(m.written))
	for sym, ref := range m.written {
		written[sym] = ref
	}
	m.mu.Unlock()

	set := make(map[Ref]model.TickerUpdate, len(pending))
	setSyms := make(map[model.Symbol]Ref, len(pending))
	for sym := range pending {
		u, ok := m.source.Get(sym)
		if !ok {
			continue
		}
		ref := m.cfg.Ref(u.Exchange, sym)
		set[ref] = u
		setSyms[sym] = ref
	}

	var del []Ref
	if deletes {
		for sym, ref := range written {
			if _, ok := m.source.Get(sym); !ok {
				del = append(del, ref)
			}
		}
	}

	if len(set) == 0 && len(del) == 0 {
		return
	}

	start := time.Now()
	if err := m.backend.Write(ctx, set, del, m.cfg.TTL); err != nil {
		m.logger.Error("mirror flush failed", "mirror", m.cfg.Name, "error", err, "sets", len(set), "deletes", len(del))
		m.metricsMu.Lock()
		m.metrics.Errors++
		m.metricsMu.Unlock()

		// Retry these symbols on the next flush.
		m.mu.Lock()
		for sym := range pending {
			m.pending[sym] = struct{}{}
		}
		m.mu.Unlock()
		return
	}

	m.mu.Lock()
	for sym, ref := range setSyms {
		m.written[sym] = ref
	}
	for _, ref := range del {
		delete(m.written, ref.Symbol)
	}
	m.mu.Unlock()

	m.metricsMu.Lock()
	m.metrics.Sets += int64(len(set))
	m.metrics.Deletes += int64(len(del))
	m.metrics.Flushes++
	m.metricsMu.Unlock()

	m.logger.Debug("flushed mirror",
		"mirror", m.cfg.Name,
		"sets", len(set),
		"deletes", len(del),
		"duration", time.Since(start),
	)
}
