// Package typing implements the per-conversation typing indicator state
// machine: debounced outbound typing/stop_typing emission and inbound peer
// typing flags with local expiry.
package typing

import (
	"log/slog"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// DefaultWindow is the quiet period after which a local typing burst ends.
const DefaultWindow = 2 * time.Second

// Emitter sends typing signals to the peer. Failures are ignored by the
// coordinator apart from a debug log line.
type Emitter interface {
	EmitTyping(conversationID, recipientID string, typing bool) error
}

// Config configures a Coordinator.
type Config struct {
	// Window is the local inactivity period before stop_typing is sent.
	// Zero means DefaultWindow.
	Window time.Duration
	// PeerTimeout clears a peer's typing flag when no stop event arrives.
	// Zero means twice Window, since a peer typing continuously refreshes
	// its start signal at most once per window.
	PeerTimeout time.Duration
	// Clock drives all timers. Nil means the real clock.
	Clock clock.WithDelayedExecution
	// OnPeerChange is called after a peer typing flag flips. It is invoked
	// without the coordinator lock held.
	OnPeerChange func(conversationID string, typing bool)
	Logger       *slog.Logger
}

type localState struct {
	recipientID string
	lastStart   time.Time
	timer       clock.Timer
	gen         uint64
}

type peerState struct {
	timer clock.Timer
	gen   uint64
}

// Coordinator tracks outbound typing per conversation and inbound peer
// typing per conversation. Safe for concurrent use.
type Coordinator struct {
	mu          sync.Mutex
	emitter     Emitter
	clock       clock.WithDelayedExecution
	window      time.Duration
	peerTimeout time.Duration
	onPeer      func(string, bool)
	logger      *slog.Logger

	local map[string]*localState
	peer  map[string]*peerState
	gen   uint64
}

// NewCoordinator creates a coordinator that emits through emitter.
func NewCoordinator(emitter Emitter, config Config) *Coordinator {
	window := config.Window
	if window <= 0 {
		window = DefaultWindow
	}
	peerTimeout := config.PeerTimeout
	if peerTimeout <= 0 {
		peerTimeout = 2 * window
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		emitter:     emitter,
		clock:       clk,
		window:      window,
		peerTimeout: peerTimeout,
		onPeer:      config.OnPeerChange,
		logger:      logger,
		local:       make(map[string]*localState),
		peer:        make(map[string]*peerState),
	}
}

// InputChanged records a local keystroke in a conversation. The first
// keystroke of a burst emits typing; later keystrokes only push the stop
// timer back, re-emitting typing at most once per window while the burst
// continues.
func (c *Coordinator) InputChanged(conversationID, recipientID string) {
	c.mu.Lock()
	now := c.clock.Now()
	st, active := c.local[conversationID]
	emitStart := !active || now.Sub(st.lastStart) >= c.window
	if !active {
		st = &localState{recipientID: recipientID}
		c.local[conversationID] = st
	}
	if emitStart {
		st.lastStart = now
	}
	if st.timer != nil {
		st.timer.Stop()
	}
	c.gen++
	gen := c.gen
	st.gen = gen
	st.timer = c.clock.AfterFunc(c.window, func() { c.expireLocal(conversationID, gen) })
	c.mu.Unlock()

	if emitStart {
		c.emit(conversationID, recipientID, true)
	}
}

// Stop ends a local typing burst immediately, as happens when the message
// is sent or the conversation is closed. It is a no-op when not typing.
func (c *Coordinator) Stop(conversationID string) {
	c.mu.Lock()
	st, ok := c.local[conversationID]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.local, conversationID)
	if st.timer != nil {
		st.timer.Stop()
	}
	c.mu.Unlock()

	c.emit(conversationID, st.recipientID, false)
}

// Typing reports whether a local typing burst is active.
func (c *Coordinator) Typing(conversationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.local[conversationID]
	return ok
}

// PeerStarted handles an inbound user_typing event.
func (c *Coordinator) PeerStarted(conversationID string) {
	c.mu.Lock()
	st, existed := c.peer[conversationID]
	if !existed {
		st = &peerState{}
		c.peer[conversationID] = st
	}
	if st.timer != nil {
		st.timer.Stop()
	}
	c.gen++
	gen := c.gen
	st.gen = gen
	st.timer = c.clock.AfterFunc(c.peerTimeout, func() { c.expirePeer(conversationID, gen) })
	c.mu.Unlock()

	if !existed {
		c.notifyPeer(conversationID, true)
	}
}

// PeerStopped handles an inbound user_stop_typing event.
func (c *Coordinator) PeerStopped(conversationID string) {
	c.mu.Lock()
	st, ok := c.peer[conversationID]
	if ok {
		delete(c.peer, conversationID)
		if st.timer != nil {
			st.timer.Stop()
		}
	}
	c.mu.Unlock()

	if ok {
		c.notifyPeer(conversationID, false)
	}
}

// PeerTyping reports whether the peer of a conversation is typing.
func (c *Coordinator) PeerTyping(conversationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.peer[conversationID]
	return ok
}

// Reset cancels every timer and forgets all state without emitting.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, st := range c.local {
		if st.timer != nil {
			st.timer.Stop()
		}
	}
	for _, st := range c.peer {
		if st.timer != nil {
			st.timer.Stop()
		}
	}
	c.local = make(map[string]*localState)
	c.peer = make(map[string]*peerState)
}

// Timer callbacks must not call back into the clock: fake clocks run them
// while holding their own lock.
func (c *Coordinator) expireLocal(conversationID string, gen uint64) {
	c.mu.Lock()
	st, ok := c.local[conversationID]
	if !ok || st.gen != gen {
		c.mu.Unlock()
		return
	}
	delete(c.local, conversationID)
	c.mu.Unlock()

	c.emit(conversationID, st.recipientID, false)
}

func (c *Coordinator) expirePeer(conversationID string, gen uint64) {
	c.mu.Lock()
	st, ok := c.peer[conversationID]
	if !ok || st.gen != gen {
		c.mu.Unlock()
		return
	}
	delete(c.peer, conversationID)
	c.mu.Unlock()

	c.logger.Debug("peer typing expired", "conversation_id", conversationID)
	c.notifyPeer(conversationID, false)
}

func (c *Coordinator) emit(conversationID, recipientID string, typing bool) {
	if c.emitter == nil {
		return
	}
	if err := c.emitter.EmitTyping(conversationID, recipientID, typing); err != nil {
		c.logger.Debug("typing signal dropped",
			"conversation_id", conversationID,
			"typing", typing,
			"error", err,
		)
	}
}

func (c *Coordinator) notifyPeer(conversationID string, typing bool) {
	if c.onPeer != nil {
		c.onPeer(conversationID, typing)
	}
}
