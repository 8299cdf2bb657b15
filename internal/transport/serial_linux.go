//go:build linux

package transport

import (
	"context"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/flashkit/flashkit/internal/ferr"
)

// SerialChannel is a Channel backed by a tty device node, using termios for
// baud-rate control the way the teacher uses golang.org/x/sys/unix for
// Fallocate/Fadvise in machine_linux.go — same dependency, different ioctl
// family.
type SerialChannel struct {
	id string
	f  *os.File
}

// OpenSerial opens path as a raw 8N1 serial line at the given initial baud.
func OpenSerial(path string, baud int) (*SerialChannel, error) {
	f, err := os.OpenFile(path, os.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, ferr.Wrap("transport.OpenSerial", ferr.KindPortGone, err)
	}

	sc := &SerialChannel{id: path, f: f}
	if err := sc.SetBaud(baud); err != nil {
		f.Close()
		return nil, err
	}
	return sc, nil
}

func (s *SerialChannel) ID() string    { return s.id }
func (s *SerialChannel) State() State  { return StateOpen }

func (s *SerialChannel) Send(ctx context.Context, p []byte) (int, error) {
	done := make(chan struct{})
	var n int
	var err error
	go func() {
		n, err = s.f.Write(p)
		close(done)
	}()
	select {
	case <-done:
		if err != nil {
			return n, ferr.Wrap("transport.Send", ferr.KindIoFault, err)
		}
		return n, nil
	case <-ctx.Done():
		return 0, ferr.New("transport.Send", ferr.KindTimeout, s.id)
	}
}

func (s *SerialChannel) Receive(ctx context.Context, buf []byte) (int, error) {
	deadline := time.Now().Add(30 * time.Second)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	s.f.SetReadDeadline(deadline)

	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	resultCh := make(chan struct {
		n   int
		err error
	}, 1)
	go func() {
		n, err := s.f.Read(buf)
		resultCh <- struct {
			n   int
			err error
		}{n, err}
	}()

	select {
	case r := <-resultCh:
		if r.err != nil {
			if os.IsTimeout(r.err) {
				return r.n, ferr.New("transport.Receive", ferr.KindTimeout, s.id)
			}
			return r.n, ferr.Wrap("transport.Receive", ferr.KindIoFault, r.err)
		}
		return r.n, nil
	case <-ctx.Done():
		return 0, ferr.New("transport.Receive", ferr.KindTimeout, s.id)
	}
}

func (s *SerialChannel) Flush() error {
	return unix.IoctlSetInt(int(s.f.Fd()), unix.TCFLSH, unix.TCIOFLUSH)
}

func (s *SerialChannel) SetBaud(rate int) error {
	speed, ok := termiosSpeed(rate)
	if !ok {
		return ferr.New("transport.SetBaud", ferr.KindIoFault, "unsupported baud rate")
	}

	t, err := unix.IoctlGetTermios(int(s.f.Fd()), unix.TCGETS)
	if err != nil {
		return ferr.Wrap("transport.SetBaud", ferr.KindIoFault, err)
	}

	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB
	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0
	t.Ispeed = speed
	t.Ospeed = speed

	return unix.IoctlSetTermios(int(s.f.Fd()), unix.TCSETS, t)
}

func (s *SerialChannel) Close() error { return s.f.Close() }

func termiosSpeed(rate int) (uint32, bool) {
	switch rate {
	case 9600:
		return unix.B9600, true
	case 19200:
		return unix.B19200, true
	case 38400:
		return unix.B38400, true
	case 57600:
		return unix.B57600, true
	case 115200:
		return unix.B115200, true
	case 230400:
		return unix.B230400, true
	case 460800:
		return unix.B460800, true
	case 921600:
		return unix.B921600, true
	default:
		return 0, false
	}
}
