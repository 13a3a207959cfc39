package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/rickgao/tickerfeed/internal/codec"
	"github.com/rickgao/tickerfeed/internal/model"
)

// Supervisor owns one logical streaming connection and its symbol set.
//
// All network I/O, the backoff timer and decoding happen on a single
// goroutine started by Start. Frames are published in arrival order.
type Supervisor struct {
	cfg     SupervisorConfig
	adapter codec.Adapter
	sink    Sink
	logger  *slog.Logger
	limiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// changed wakes the pump when the symbol set is edited.
	changed chan struct{}

	mu      sync.RWMutex
	symbols map[model.Symbol]struct{}
	state   model.ConnectionState
	attempt int
	lastErr error
	started bool
	stopped bool

	frames        atomic.Int64
	published     atomic.Int64
	decodeDrops   atomic.Int64
	inactiveDrops atomic.Int64
	orphanDeltas  atomic.Int64
	connects      atomic.Int64
}

// NewSupervisor creates an Idle supervisor carrying symbols.
func NewSupervisor(cfg SupervisorConfig, adapter codec.Adapter, sink Sink, logger *slog.Logger, symbols ...model.Symbol) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Dial == nil {
		cfg.Dial = DialWebSocket
	}
	if cfg.ControlRate <= 0 {
		cfg.ControlRate = rate.Inf
	}
	if cfg.ControlBurst <= 0 {
		cfg.ControlBurst = 1
	}
	if hb, ok := adapter.(codec.Heartbeater); ok && cfg.Client.Heartbeat == nil {
		cfg.Client.Heartbeat = hb.HeartbeatFrame()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		cfg:     cfg,
		adapter: adapter,
		sink:    sink,
		logger:  logger.With("feed", cfg.Key, "exchange", adapter.Name()),
		limiter: rate.NewLimiter(cfg.ControlRate, cfg.ControlBurst),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		changed: make(chan struct{}, 1),
		symbols: make(map[model.Symbol]struct{}, len(symbols)),
		state:   model.StateIdle,
	}
	for _, sym := range symbols {
		s.symbols[sym] = struct{}{}
	}
	return s
}

// Key returns the identifier given in the config.
func (s *Supervisor) Key() string { return s.cfg.Key }

// Start launches the connection goroutine. It is bound to ctx as well as to
// Close. Calling Start more than once, or after Close, does nothing.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, s.cancel)
	go func() {
		defer stop()
		s.run()
	}()
}

// Close cancels the supervisor. An in-flight handshake is aborted, the
// receive loop exits and any backoff timer is dropped. Close does not wait;
// use Done for that.
func (s *Supervisor) Close() {
	s.cancel()

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	started := s.started
	s.mu.Unlock()

	if !started {
		s.transition(model.StateClosed, nil)
		close(s.done)
	}
}

// Done is closed once the supervisor reaches Failed or Closed and its
// goroutine has exited.
func (s *Supervisor) Done() <-chan struct{} { return s.done }

// State returns the current connection state.
func (s *Supervisor) State() model.ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Attempt returns the current reconnect attempt counter.
func (s *Supervisor) Attempt() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.attempt
}

// Symbols returns the active symbol set, sorted.
func (s *Supervisor) Symbols() []model.Symbol {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.symbolsLocked()
}

func (s *Supervisor) symbolsLocked() []model.Symbol {
	out := make([]model.Symbol, 0, len(s.symbols))
	for sym := range s.symbols {
		out = append(out, sym)
	}
	slices.Sort(out)
	return out
}

// Len returns the number of active symbols.
func (s *Supervisor) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.symbols)
}

// AddSymbols adds symbols to the active set. A live connection picks them up
// without waiting for a reconnect.
func (s *Supervisor) AddSymbols(symbols ...model.Symbol) {
	s.mu.Lock()
	for _, sym := range symbols {
		s.symbols[sym] = struct{}{}
	}
	s.mu.Unlock()
	s.signal()
}

// RemoveSymbols drops symbols from the active set and returns how many
// remain. Once it returns, no update for a removed symbol reaches the Sink.
func (s *Supervisor) RemoveSymbols(symbols ...model.Symbol) int {
	s.mu.Lock()
	for _, sym := range symbols {
		delete(s.symbols, sym)
	}
	remaining := len(s.symbols)
	s.mu.Unlock()
	s.signal()
	return remaining
}

// Stats returns a snapshot of counters and state.
func (s *Supervisor) Stats() SupervisorStats {
	s.mu.RLock()
	st := SupervisorStats{
		Key:      s.cfg.Key,
		Exchange: s.adapter.Name(),
		State:    s.state,
		Attempt:  s.attempt,
		Symbols:  s.symbolsLocked(),
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	s.mu.RUnlock()

	st.Frames = s.frames.Load()
	st.Published = s.published.Load()
	st.DecodeDrops = s.decodeDrops.Load()
	st.InactiveDrops = s.inactiveDrops.Load()
	st.OrphanDeltas = s.orphanDeltas.Load()
	st.Connects = s.connects.Load()
	return st
}

func (s *Supervisor) signal() {
	select {
	case s.changed <- struct{}{}:
	default:
	}
}

// transition sets the state and reports it. Never call with s.mu held.
func (s *Supervisor) transition(state model.ConnectionState, err error) {
	s.mu.Lock()
	s.state = state
	if state == model.StateConnected {
		s.attempt = 0
	}
	if err != nil {
		s.lastErr = err
	}
	attempt := s.attempt
	s.mu.Unlock()

	if s.cfg.OnEvent != nil {
		s.cfg.OnEvent(Event{
			Key:     s.cfg.Key,
			State:   state,
			Attempt: attempt,
			Err:     err,
			At:      time.Now().UTC(),
		})
	}
}

func (s *Supervisor) run() {
	final := model.StateClosed
	var finalErr error
	defer func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
		s.transition(final, finalErr)
		close(s.done)
	}()

	for {
		if s.ctx.Err() != nil {
			return
		}
		syms := s.Symbols()
		if len(syms) == 0 {
			s.logger.Debug("no symbols left, closing")
			return
		}

		s.transition(model.StateConnecting, nil)
		client, err := s.dial(syms)
		if err == nil {
			s.connects.Add(1)
			s.transition(model.StateConnected, nil)
			s.logger.Info("feed connected", "symbols", len(syms))

			err = s.pump(client, syms)
			client.Close()
			if errors.Is(err, errRedial) && s.ctx.Err() == nil {
				s.transition(model.StateReconnecting, nil)
				continue
			}
		}
		if s.ctx.Err() != nil {
			return
		}

		s.transition(model.StateReconnecting, err)
		attempt := s.Attempt()
		if s.cfg.Backoff.Exhausted(attempt) {
			final = model.StateFailed
			finalErr = &model.FeedExhaustedError{Key: s.cfg.Key, Attempts: attempt, Last: err}
			s.logger.Error("feed exhausted reconnect attempts", "attempts", attempt, "error", err)
			return
		}

		delay := s.cfg.Backoff.Delay(attempt)
		s.mu.Lock()
		s.attempt = attempt + 1
		s.mu.Unlock()
		s.logger.Warn("feed disconnected, backing off",
			"attempt", attempt+1,
			"delay", delay,
			"error", err,
		)

		timer := time.NewTimer(delay)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (s *Supervisor) dial(syms []model.Symbol) (Client, error) {
	cfg := s.cfg.Client
	cfg.URL = s.adapter.Endpoint(syms)

	client, err := s.cfg.Dial(s.ctx, cfg, s.logger)
	if err != nil {
		return nil, &model.TransportError{Op: "dial", Err: err}
	}
	return client, nil
}

// pump processes one connection until it fails, the set outgrows the URL or
// the supervisor is cancelled. dialed is the set encoded in the URL.
func (s *Supervisor) pump(client Client, dialed []model.Symbol) error {
	_, byFrame := s.adapter.(codec.FrameSubscriber)

	wire := make(map[model.Symbol]struct{}, len(dialed))
	if !byFrame {
		for _, sym := range dialed {
			wire[sym] = struct{}{}
		}
	} else if err := s.syncFrames(client, wire); err != nil {
		return err
	}

	for {
		select {
		case <-s.ctx.Done():
			return s.ctx.Err()

		case err := <-client.Errors():
			// The read loop queues every frame it read before reporting.
			s.drain(client)
			return &model.TransportError{Op: "read", Err: err}

		case msg := <-client.Messages():
			s.handle(msg)

		case <-s.changed:
			if byFrame {
				if err := s.syncFrames(client, wire); err != nil {
					return err
				}
				continue
			}
			// Removals are filtered in handle; only growth needs a new URL.
			for _, sym := range s.Symbols() {
				if _, ok := wire[sym]; !ok {
					return errRedial
				}
			}
		}
	}
}

// drain publishes frames already buffered by client without waiting for more.
func (s *Supervisor) drain(client Client) {
	for {
		select {
		case msg := <-client.Messages():
			s.handle(msg)
		default:
			return
		}
	}
}

// syncFrames brings the exchange-side subscription in line with the active
// set. wire is updated in place.
func (s *Supervisor) syncFrames(client Client, wire map[model.Symbol]struct{}) error {
	fs := s.adapter.(codec.FrameSubscriber)
	want := s.Symbols()

	var add, drop []model.Symbol
	for _, sym := range want {
		if _, ok := wire[sym]; !ok {
			add = append(add, sym)
		}
	}
	for sym := range wire {
		if !slices.Contains(want, sym) {
			drop = append(drop, sym)
		}
	}
	slices.Sort(drop)

	if len(drop) > 0 {
		frames, err := fs.UnsubscribeFrames(drop)
		if err != nil {
			return fmt.Errorf("build unsubscribe: %w", err)
		}
		if err := s.sendFrames(client, frames); err != nil {
			return err
		}
		for _, sym := range drop {
			delete(wire, sym)
		}
	}
	if len(add) > 0 {
		frames, err := fs.SubscribeFrames(add)
		if err != nil {
			return fmt.Errorf("build subscribe: %w", err)
		}
		if err := s.sendFrames(client, frames); err != nil {
			return err
		}
		for _, sym := range add {
			wire[sym] = struct{}{}
		}
		s.logger.Debug("subscribed", "symbols", add)
	}
	return nil
}

func (s *Supervisor) sendFrames(client Client, frames [][]byte) error {
	for _, f := range frames {
		if err := s.limiter.Wait(s.ctx); err != nil {
			return err
		}
		if err := client.Send(f); err != nil {
			return &model.TransportError{Op: "send", Err: err}
		}
	}
	return nil
}

// handle decodes one frame and publishes it if its symbol is still active.
func (s *Supervisor) handle(msg TimestampedMessage) {
	s.frames.Add(1)

	u, err := s.adapter.Decode(msg.Data)
	if err != nil {
		s.decodeDrops.Add(1)
		if errors.Is(err, model.ErrMalformed) {
			s.logger.Debug("dropping malformed frame", "error", err)
		}
		return
	}

	s.mu.RLock()
	_, active := s.symbols[u.Symbol]
	orphan := false
	if active && !u.Complete() {
		// Only this supervisor writes u.Symbol, so prev cannot change under us.
		prev, ok := s.sink.Get(u.Symbol)
		if ok {
			u = u.Merge(prev)
		} else {
			orphan = true
		}
	}
	stored := active && !orphan && s.sink.Replace(u)
	s.mu.RUnlock()

	if !active {
		s.inactiveDrops.Add(1)
		return
	}
	if orphan {
		// A delta before any snapshot has nothing to apply to.
		s.orphanDeltas.Add(1)
		return
	}
	if stored {
		s.published.Add(1)
		s.sink.Notify(u)
	}
}
