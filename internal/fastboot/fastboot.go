// Package fastboot implements C11: the fastboot command/response engine,
// sparse-image streaming, and reboot/lock/slot operations of spec §4.11.
package fastboot

import (
	"bufio"
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/flashkit/flashkit/internal/events"
	"github.com/flashkit/flashkit/internal/ferr"
	fb "github.com/flashkit/flashkit/internal/framing/fastboot"
	"github.com/flashkit/flashkit/internal/transport"
)

const defaultMaxDownload = 512 << 20

// Session carries the fastboot-specific fields of spec §3.
type Session struct {
	transport *transport.Handle
	bus       *events.Bus

	DeviceSerial     string
	SlotCount        int
	CurrentSlot      string
	Unlocked         bool
	MaxDownloadSize  int64
	partitionCache   map[string]int64
}

// New constructs a Session over h for the given USB serial.
func New(h *transport.Handle, bus *events.Bus, serial string) *Session {
	return &Session{
		transport:       h,
		bus:             bus,
		DeviceSerial:    serial,
		MaxDownloadSize: defaultMaxDownload,
		partitionCache:  make(map[string]int64),
	}
}

// GetVar issues `getvar:<name>` and returns the single OKAY body.
func (s *Session) GetVar(ctx context.Context, name string) (string, error) {
	resp, err := s.roundTrip(ctx, fb.GetVar(name))
	if err != nil {
		return "", err
	}
	return resp.Body, nil
}

// GetVarAll issues `getvar:all`, a batch enumeration beyond single-name
// getvar (spec's supplemented feature C.1) that parses the repeated INFO
// lines of the form "name:value" and populates the partition-size cache
// for any "partition-size:<name>" entries it sees.
func (s *Session) GetVarAll(ctx context.Context) (map[string]string, error) {
	cmd, err := fb.EncodeCommand(fb.GetVar("all"))
	if err != nil {
		return nil, err
	}
	if _, err := s.transport.Send(ctx, cmd); err != nil {
		return nil, ferr.Wrap("fastboot.GetVarAll", ferr.KindIoFault, err)
	}

	vars := make(map[string]string)
	for {
		resp, err := s.readResponse(ctx)
		if err != nil {
			return nil, err
		}
		if resp.Kind == fb.RespInfo {
			if i := strings.LastIndex(resp.Body, ":"); i >= 0 {
				name, value := resp.Body[:i], strings.TrimSpace(resp.Body[i+1:])
				vars[name] = value
				if part, ok := strings.CutPrefix(name, "partition-size:"); ok {
					if n, err := strconv.ParseInt(value, 0, 64); err == nil {
						s.partitionCache[part] = n
					}
				}
			}
			continue
		}
		if resp.Kind == fb.RespFail {
			return vars, ferr.New("fastboot.GetVarAll", ferr.KindProtocolNak, resp.Body)
		}
		return vars, nil // OKAY: terminal
	}
}

// PartitionSize returns a cached partition size populated by GetVarAll, or
// ok=false if unknown.
func (s *Session) PartitionSize(name string) (int64, bool) {
	n, ok := s.partitionCache[name]
	return n, ok
}

// Download sends exactly len(data) bytes after a successful `download:N`
// handshake.
func (s *Session) Download(ctx context.Context, data []byte) error {
	cmd, err := fb.EncodeCommand(fb.Download(len(data)))
	if err != nil {
		return err
	}
	if _, err := s.transport.Send(ctx, cmd); err != nil {
		return ferr.Wrap("fastboot.Download", ferr.KindIoFault, err)
	}
	resp, err := s.readResponse(ctx)
	if err != nil {
		return err
	}
	if resp.Kind != fb.RespData {
		return ferr.New("fastboot.Download", ferr.KindUnexpectedCommand, string(resp.Kind))
	}
	n, err := resp.DataLength()
	if err != nil {
		return err
	}
	if n != len(data) {
		return ferr.New("fastboot.Download", ferr.KindBadLength, "device echoed different length")
	}

	sent := 0
	for sent < len(data) {
		end := sent + 1<<16
		if end > len(data) {
			end = len(data)
		}
		if _, err := s.transport.Send(ctx, data[sent:end]); err != nil {
			return ferr.Wrap("fastboot.Download", ferr.KindIoFault, err)
		}
		sent = end
		s.bus.Publish(events.Event{Kind: events.ProgressChanged, Stage: "download", Done: int64(sent), Total: int64(len(data))})
	}

	return s.awaitOkay(ctx, "fastboot.Download")
}

// Flash issues `flash:<partition>` after a prior successful Download.
func (s *Session) Flash(ctx context.Context, partition string) error {
	_, err := s.roundTrip(ctx, fb.Flash(partition))
	return err
}

// Erase issues `erase:<partition>`.
func (s *Session) Erase(ctx context.Context, partition string) error {
	_, err := s.roundTrip(ctx, fb.Erase(partition))
	return err
}

// Format issues `format:<partition>`.
func (s *Session) Format(ctx context.Context, partition string) error {
	_, err := s.roundTrip(ctx, fb.Format(partition))
	return err
}

// SetActiveSlot issues `set_active:<slot>`.
func (s *Session) SetActiveSlot(ctx context.Context, slot string) error {
	_, err := s.roundTrip(ctx, fb.SetActive(slot))
	if err == nil {
		s.CurrentSlot = slot
	}
	return err
}

// OemUnlock, OemEdl, FlashingUnlock, FlashingLock map directly to their
// fastboot command lines.
func (s *Session) OemUnlock(ctx context.Context) error {
	_, err := s.roundTrip(ctx, fb.OemUnlock())
	if err == nil {
		s.Unlocked = true
	}
	return err
}

func (s *Session) OemEdl(ctx context.Context) error {
	_, err := s.roundTrip(ctx, fb.OemEdl())
	return err
}

func (s *Session) FlashingUnlock(ctx context.Context) error {
	_, err := s.roundTrip(ctx, fb.FlashingUnlock())
	if err == nil {
		s.Unlocked = true
	}
	return err
}

func (s *Session) FlashingLock(ctx context.Context) error {
	_, err := s.roundTrip(ctx, fb.FlashingLock())
	if err == nil {
		s.Unlocked = false
	}
	return err
}

// Reboot variants (spec §4.11).
func (s *Session) Reboot(ctx context.Context) error {
	_, err := s.roundTrip(ctx, fb.Reboot())
	return err
}
func (s *Session) RebootBootloader(ctx context.Context) error {
	_, err := s.roundTrip(ctx, fb.RebootBootloader())
	return err
}
func (s *Session) RebootFastboot(ctx context.Context) error {
	_, err := s.roundTrip(ctx, fb.RebootFastboot())
	return err
}
func (s *Session) RebootRecovery(ctx context.Context) error {
	_, err := s.roundTrip(ctx, fb.RebootRecovery())
	return err
}

// FlashStreaming streams src (of declared size total bytes) to partition in
// repeated download/flash rounds whenever it exceeds MaxDownloadSize,
// without the sparse-segmentation logic of sparse_stream.go — used for
// plain (non-sparse) images.
func (s *Session) FlashStreaming(ctx context.Context, partition string, src io.Reader, total int64) error {
	var sent int64
	r := bufio.NewReaderSize(src, 1<<20)
	for sent < total {
		want := s.MaxDownloadSize
		if remaining := total - sent; remaining < want {
			want = remaining
		}
		buf := make([]byte, want)
		n, err := io.ReadFull(r, buf)
		if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
			return ferr.Wrap("fastboot.FlashStreaming", ferr.KindIoFault, err)
		}
		if n == 0 {
			break
		}
		if err := s.Download(ctx, buf[:n]); err != nil {
			return err
		}
		if err := s.Flash(ctx, partition); err != nil {
			return err
		}
		sent += int64(n)

		select {
		case <-ctx.Done():
			return ferr.New("fastboot.FlashStreaming", ferr.KindCancelled, "")
		default:
		}
	}
	return nil
}

// roundTrip sends cmd and awaits the terminal OKAY/FAIL, relaying any
// interleaved INFO lines to the event bus as progress without ending the
// wait (spec §8 invariant 8).
func (s *Session) roundTrip(ctx context.Context, cmd string) (fb.Response, error) {
	enc, err := fb.EncodeCommand(cmd)
	if err != nil {
		return fb.Response{}, err
	}
	if _, err := s.transport.Send(ctx, enc); err != nil {
		return fb.Response{}, ferr.Wrap("fastboot.roundTrip", ferr.KindIoFault, err)
	}
	for {
		resp, err := s.readResponse(ctx)
		if err != nil {
			return fb.Response{}, err
		}
		if resp.Kind == fb.RespInfo {
			s.bus.Publish(events.Event{Kind: events.ProgressChanged, Stage: resp.Body})
			continue
		}
		if resp.Kind == fb.RespFail {
			return resp, ferr.New("fastboot.roundTrip", ferr.KindProtocolNak, resp.Body)
		}
		return resp, nil
	}
}

// awaitOkay reads responses until a terminal OKAY/FAIL, relaying INFO lines
// as progress events, used after a raw data phase (download) completes.
func (s *Session) awaitOkay(ctx context.Context, op string) error {
	for {
		resp, err := s.readResponse(ctx)
		if err != nil {
			return err
		}
		if resp.Kind == fb.RespInfo {
			s.bus.Publish(events.Event{Kind: events.ProgressChanged, Stage: resp.Body})
			continue
		}
		if resp.Kind == fb.RespFail {
			return ferr.New(op, ferr.KindProtocolNak, resp.Body)
		}
		return nil
	}
}

func (s *Session) readResponse(ctx context.Context) (fb.Response, error) {
	buf := make([]byte, fb.MaxResponseLen)
	n, err := s.transport.Receive(ctx, buf)
	if err != nil {
		return fb.Response{}, err
	}
	return fb.DecodeResponse(buf[:n])
}
