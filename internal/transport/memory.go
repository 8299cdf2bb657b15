package transport

import (
	"context"
	"sync"

	"github.com/flashkit/flashkit/internal/ferr"
)

// MemoryChannel is an in-process duplex pipe used by engine tests to fake a
// device without an actual serial port: writes to one side become readable
// on the other. Constructed in pairs via NewMemoryPipe.
type MemoryChannel struct {
	id       string
	mu       sync.Mutex
	inbox    chan []byte
	outbox   chan []byte
	closed   bool
}

// NewMemoryPipe returns two connected MemoryChannels: bytes Sent on host
// become Receivable on device and vice versa.
func NewMemoryPipe(hostID, deviceID string) (host, device *MemoryChannel) {
	hostToDevice := make(chan []byte, 64)
	deviceToHost := make(chan []byte, 64)
	host = &MemoryChannel{id: hostID, inbox: deviceToHost, outbox: hostToDevice}
	device = &MemoryChannel{id: deviceID, inbox: hostToDevice, outbox: deviceToHost}
	return host, device
}

func (m *MemoryChannel) ID() string   { return m.id }
func (m *MemoryChannel) State() State { return StateOpen }

func (m *MemoryChannel) Send(ctx context.Context, p []byte) (int, error) {
	buf := make([]byte, len(p))
	copy(buf, p)
	select {
	case m.outbox <- buf:
		return len(p), nil
	case <-ctx.Done():
		return 0, ferr.New("transport.Send", ferr.KindTimeout, m.id)
	}
}

func (m *MemoryChannel) Receive(ctx context.Context, buf []byte) (int, error) {
	select {
	case data, ok := <-m.inbox:
		if !ok {
			return 0, ferr.New("transport.Receive", ferr.KindPortGone, m.id)
		}
		n := copy(buf, data)
		return n, nil
	case <-ctx.Done():
		return 0, ferr.New("transport.Receive", ferr.KindTimeout, m.id)
	}
}

func (m *MemoryChannel) Flush() error          { return nil }
func (m *MemoryChannel) SetBaud(rate int) error { return nil }

func (m *MemoryChannel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.outbox)
	}
	return nil
}
