//go:build !linux

package transport

import (
	"context"
	"os"

	"github.com/flashkit/flashkit/internal/ferr"
)

// SerialChannel on non-Linux platforms opens the device node but cannot
// reconfigure line discipline without a platform-specific ioctl/ioctl
// equivalent (IOSSIOSPEED on darwin, DCB/SetCommState on windows); SetBaud
// is therefore a no-op here rather than guessed at.
type SerialChannel struct {
	id string
	f  *os.File
}

func OpenSerial(path string, baud int) (*SerialChannel, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, ferr.Wrap("transport.OpenSerial", ferr.KindPortGone, err)
	}
	return &SerialChannel{id: path, f: f}, nil
}

func (s *SerialChannel) ID() string   { return s.id }
func (s *SerialChannel) State() State { return StateOpen }

func (s *SerialChannel) Send(ctx context.Context, p []byte) (int, error) {
	n, err := s.f.Write(p)
	if err != nil {
		return n, ferr.Wrap("transport.Send", ferr.KindIoFault, err)
	}
	return n, nil
}

func (s *SerialChannel) Receive(ctx context.Context, buf []byte) (int, error) {
	n, err := s.f.Read(buf)
	if err != nil {
		return n, ferr.Wrap("transport.Receive", ferr.KindIoFault, err)
	}
	return n, nil
}

func (s *SerialChannel) Flush() error       { return nil }
func (s *SerialChannel) SetBaud(rate int) error { return nil }
func (s *SerialChannel) Close() error       { return s.f.Close() }
