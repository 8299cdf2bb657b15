// Package transport implements C1: a byte-level duplex channel abstraction
// over serial/USB-CDC or USB-bulk, generalized from the teacher's single
// fixed vsock dial (machine_linux.go's connectVsock/waitForVsock) into an
// interface covering any "open an endpoint, send/receive with timeout,
// cancel" channel.
package transport

import (
	"context"
	"sync"
	"time"

	"github.com/flashkit/flashkit/internal/ferr"
)

// State is the transport handle's lifecycle state (spec §3).
type State int

const (
	StateOpen State = iota
	StateClosed
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateClosed:
		return "CLOSED"
	case StateFaulted:
		return "FAULTED"
	default:
		return "UNKNOWN"
	}
}

// PollInterval is how often blocking Send/Receive calls recheck the
// cancellation signal, satisfying the "checked at least every 50ms"
// requirement in spec §4.1.
const PollInterval = 50 * time.Millisecond

// Channel is the duplex byte channel every engine drives its framing layer
// over. Implementations (serial port, USB bulk endpoint pair) must honor:
// exactly one outstanding Send and one outstanding Receive at a time: the
// caller serializes access, this interface does not lock internally.
type Channel interface {
	// ID identifies the underlying endpoint (port name, or "bus:dev").
	ID() string
	// State reports the current lifecycle state.
	State() State
	// Send writes all of p or returns an error; never partial on success.
	Send(ctx context.Context, p []byte) (int, error)
	// Receive reads into buf, returning the number of bytes read. Returns
	// ferr.KindTimeout (not io.EOF) when the deadline elapses with no data.
	Receive(ctx context.Context, buf []byte) (int, error)
	// Flush discards any buffered-but-unread input.
	Flush() error
	// SetBaud reconfigures the line rate; a no-op on channels without one.
	SetBaud(rate int) error
	// Close releases the underlying resource. Legal from any state.
	Close() error
}

// Handle wraps a Channel with the shared open/claim/fault bookkeeping every
// engine needs, so engines do not each reimplement the FAULTED transition
// and DeviceBusy claim check.
type Handle struct {
	mu      sync.Mutex
	ch      Channel
	state   State
	claimed bool
}

// NewHandle wraps ch as OPEN and unclaimed.
func NewHandle(ch Channel) *Handle {
	return &Handle{ch: ch, state: StateOpen}
}

// Claim marks the handle exclusively owned by one engine/session. Returns
// ferr.KindDeviceBusy if already claimed.
func (h *Handle) Claim() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.claimed {
		return ferr.New("transport.Claim", ferr.KindDeviceBusy, h.ch.ID())
	}
	h.claimed = true
	return nil
}

// Release clears the claim, allowing another session to Claim the same
// handle (e.g. after a Sahara→Firehose handoff on the same port).
func (h *Handle) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.claimed = false
}

// Send delegates to the wrapped Channel, transitioning to FAULTED on any
// error that is not a plain timeout.
func (h *Handle) Send(ctx context.Context, p []byte) (int, error) {
	h.mu.Lock()
	state := h.state
	h.mu.Unlock()
	if state != StateOpen {
		return 0, ferr.New("transport.Send", ferr.KindPortGone, h.ch.ID())
	}

	n, err := h.ch.Send(ctx, p)
	if err != nil && !ferr.Is(err, ferr.KindTimeout) {
		h.fault(err)
	}
	return n, err
}

// Receive delegates to the wrapped Channel with the same fault-on-error
// transition as Send. A deadline expiring with no bytes read surfaces as
// ferr.KindTimeout and does NOT fault the transport (spec §4.1: "on timeout
// the transport remains open").
func (h *Handle) Receive(ctx context.Context, buf []byte) (int, error) {
	h.mu.Lock()
	state := h.state
	h.mu.Unlock()
	if state != StateOpen {
		return 0, ferr.New("transport.Receive", ferr.KindPortGone, h.ch.ID())
	}

	n, err := h.ch.Receive(ctx, buf)
	if err != nil {
		if !ferr.Is(err, ferr.KindTimeout) {
			h.fault(err)
		}
	}
	return n, err
}

func (h *Handle) fault(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateOpen {
		h.state = StateFaulted
	}
}

// Flush proxies to the wrapped Channel.
func (h *Handle) Flush() error { return h.ch.Flush() }

// SetBaud proxies to the wrapped Channel.
func (h *Handle) SetBaud(rate int) error { return h.ch.SetBaud(rate) }

// State reports the handle's current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// ID returns the wrapped channel's identifier.
func (h *Handle) ID() string { return h.ch.ID() }

// Close transitions to CLOSED and releases the underlying resource. Legal
// from OPEN or FAULTED.
func (h *Handle) Close() error {
	h.mu.Lock()
	h.state = StateClosed
	h.claimed = false
	h.mu.Unlock()
	return h.ch.Close()
}
