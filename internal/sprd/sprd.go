// Package sprd implements C10: the Spreadtrum/Unisoc BootROM → FDL1 → FDL2
// stage machine of spec §4.10, driving chunked uploads over the SPRD HDLC
// framing (internal/framing/sprd), then exposing the FDL2-resident
// partition I/O, NV/eFuse, and baud-switch operations.
package sprd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/flashkit/flashkit/internal/events"
	"github.com/flashkit/flashkit/internal/ferr"
	fr "github.com/flashkit/flashkit/internal/framing/sprd"
	"github.com/flashkit/flashkit/internal/transport"
)

// Stage is the session's position in the BROM→FDL1→FDL2 automaton.
type Stage string

const (
	StageDisconnected Stage = "DISCONNECTED"
	StageBROM         Stage = "BROM"
	StageFDL1         Stage = "FDL1"
	StageFDL2         Stage = "FDL2"
)

const (
	defaultChunkSize = 0x840
	chunkAckTimeout  = 5 * time.Second
	ackTimeout       = 30 * time.Second
	probeTimeout     = 10 * time.Second
)

// Session carries the SPRD-specific fields of spec §3: chip id, current
// stage, selected baud, connected flag, cached partition table.
type Session struct {
	transport *transport.Handle
	bus       *events.Bus

	ChipID    uint32
	Stage     Stage
	Baud      int
	Connected bool

	checksumMode fr.ChecksumMode
	partitions   []string // cached table: names only, sizes fetched lazily
}

// New constructs a Session in state DISCONNECTED over h.
func New(h *transport.Handle, bus *events.Bus) *Session {
	return &Session{transport: h, bus: bus, Stage: StageDisconnected, checksumMode: fr.ChecksumCRC16}
}

func (s *Session) setStage(stage Stage) {
	s.Stage = stage
	s.bus.Publish(events.Event{Kind: events.StageChanged, Stage: string(stage)})
}

// ProbeBROM sends the single unframed 0x7E byte and awaits the device's
// framed acknowledgement, confirming a cold BootROM is listening (spec
// §4.10: "emit a single 0x7E, expect a framed acknowledgement").
func (s *Session) ProbeBROM(ctx context.Context) error {
	pctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if _, err := s.transport.Send(pctx, fr.Probe()); err != nil {
		return ferr.Wrap("sprd.ProbeBROM", ferr.KindIoFault, err)
	}
	if _, err := s.readFrame(pctx); err != nil {
		return err
	}
	s.Connected = true
	s.setStage(StageBROM)
	return nil
}

// ReadChipType issues TypeReadChipType, confirming BROM liveness and
// populating ChipID.
func (s *Session) ReadChipType(ctx context.Context) (uint32, error) {
	resp, err := s.roundTrip(ctx, fr.TypeReadChipType, nil)
	if err != nil {
		return 0, err
	}
	if len(resp.Payload) < 4 {
		return 0, ferr.New("sprd.ReadChipType", ferr.KindBadLength, "")
	}
	s.ChipID = beUint32(resp.Payload)
	return s.ChipID, nil
}

// UploadFDL1 uploads data at loadAddr and executes it, transitioning
// BROM→FDL1 (spec §4.10).
func (s *Session) UploadFDL1(ctx context.Context, data []byte, loadAddr uint32, chunkSize int) error {
	if s.Stage != StageBROM {
		return ferr.New("sprd.UploadFDL1", ferr.KindStageMismatch, string(s.Stage))
	}
	if err := s.upload(ctx, "fdl1 upload", data, loadAddr, chunkSize); err != nil {
		return err
	}
	s.setStage(StageFDL1)
	return nil
}

// SetBaud issues TypeSetBaud then reconfigures the local transport's line
// rate, matching the device's switch (spec §4.10, scenario S3).
func (s *Session) SetBaud(ctx context.Context, rate int) error {
	payload := make([]byte, 4)
	putBeUint32(payload, uint32(rate))
	if _, err := s.roundTrip(ctx, fr.TypeSetBaud, payload); err != nil {
		return err
	}
	if err := s.transport.SetBaud(rate); err != nil {
		return ferr.Wrap("sprd.SetBaud", ferr.KindIoFault, err)
	}
	s.Baud = rate
	return nil
}

// UploadFDL2 uploads data at loadAddr and executes it, transitioning
// FDL1→FDL2.
func (s *Session) UploadFDL2(ctx context.Context, data []byte, loadAddr uint32, chunkSize int) error {
	if s.Stage != StageFDL1 {
		return ferr.New("sprd.UploadFDL2", ferr.KindStageMismatch, string(s.Stage))
	}
	if err := s.upload(ctx, "fdl2 upload", data, loadAddr, chunkSize); err != nil {
		return err
	}
	s.setStage(StageFDL2)
	return nil
}

// upload drives one StartData/MidData.../EndData/Exec cycle, publishing
// ProgressChanged after each chunk (spec §4.10 chunking invariants: every
// chunk equals chunkSize except possibly the last).
func (s *Session) upload(ctx context.Context, label string, data []byte, loadAddr uint32, chunkSize int) error {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	start := fr.StartData{LoadAddress: loadAddr, Size: uint32(len(data)), ChecksumSum: s.checksumMode == fr.ChecksumSum16}
	if _, err := s.roundTrip(ctx, fr.TypeStartData, fr.EncodeStartData(start)); err != nil {
		return err
	}

	var sent int
	for sent < len(data) {
		end := sent + chunkSize
		if end > len(data) {
			end = len(data)
		}
		cctx, cancel := context.WithTimeout(ctx, chunkAckTimeout)
		_, err := s.roundTrip(cctx, fr.TypeMidData, data[sent:end])
		cancel()
		if err != nil {
			if ferr.Is(err, ferr.KindTimeout) {
				return ferr.New("sprd.upload", ferr.KindTimeout, "FdlTimeout: chunk not acknowledged within 5s")
			}
			return err
		}
		sent = end
		s.bus.Publish(events.Event{Kind: events.ProgressChanged, Stage: label, Done: int64(sent), Total: int64(len(data))})

		select {
		case <-ctx.Done():
			return ferr.New("sprd.upload", ferr.KindCancelled, "")
		default:
		}
	}

	if _, err := s.roundTrip(ctx, fr.TypeEndData, nil); err != nil {
		return err
	}
	if _, err := s.roundTrip(ctx, fr.TypeExec, nil); err != nil {
		return err
	}
	return nil
}

// ValidatePartitionName enforces the spec §4.10 32-ASCII-char cap.
func ValidatePartitionName(name string) error {
	if len(name) > fr.MaxPartitionNameLen {
		return ferr.New("sprd.ValidatePartitionName", ferr.KindBadLength, "PartitionNameTooLong")
	}
	return nil
}

// ReadPartition streams a partition's contents (addressed by name, not
// sector range — spec §4.10) to sink.
func (s *Session) ReadPartition(ctx context.Context, name string, size uint32, sink io.Writer) error {
	if s.Stage != StageFDL2 {
		return ferr.New("sprd.ReadPartition", ferr.KindStageMismatch, string(s.Stage))
	}
	if err := ValidatePartitionName(name); err != nil {
		return err
	}
	req := partitionRequest(name, size)
	if _, err := s.transport.Send(ctx, fr.Encode(fr.TypeReadPartition, req, s.checksumMode)); err != nil {
		return ferr.Wrap("sprd.ReadPartition", ferr.KindIoFault, err)
	}

	var got uint32
	buf := make([]byte, 4096)
	for got < size {
		f, err := s.readFrame(ctx)
		if err != nil {
			return err
		}
		if f.Type == fr.TypeNak {
			return ferr.New("sprd.ReadPartition", ferr.KindProtocolNak, name)
		}
		if _, err := sink.Write(f.Payload); err != nil {
			return ferr.Wrap("sprd.ReadPartition", ferr.KindIoFault, err)
		}
		got += uint32(len(f.Payload))
		s.bus.Publish(events.Event{Kind: events.ProgressChanged, Stage: "read " + name, Done: int64(got), Total: int64(size)})
		_ = buf

		select {
		case <-ctx.Done():
			return ferr.New("sprd.ReadPartition", ferr.KindCancelled, "")
		default:
		}
	}
	return nil
}

// WritePartition streams size bytes from src to the named partition.
func (s *Session) WritePartition(ctx context.Context, name string, size uint32, src io.Reader) error {
	if s.Stage != StageFDL2 {
		return ferr.New("sprd.WritePartition", ferr.KindStageMismatch, string(s.Stage))
	}
	if err := ValidatePartitionName(name); err != nil {
		return err
	}
	if _, err := s.roundTrip(ctx, fr.TypeWritePartition, partitionRequest(name, size)); err != nil {
		return err
	}

	var sent uint32
	chunk := make([]byte, defaultChunkSize)
	for sent < size {
		n, readErr := src.Read(chunk)
		if n > 0 {
			if _, err := s.roundTrip(ctx, fr.TypeMidData, chunk[:n]); err != nil {
				return err
			}
			sent += uint32(n)
			s.bus.Publish(events.Event{Kind: events.ProgressChanged, Stage: "write " + name, Done: int64(sent), Total: int64(size)})
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return ferr.Wrap("sprd.WritePartition", ferr.KindIoFault, readErr)
		}
	}
	_, err := s.roundTrip(ctx, fr.TypeEndData, nil)
	return err
}

// ErasePartition issues TypeErasePartition for name.
func (s *Session) ErasePartition(ctx context.Context, name string, size uint32) error {
	if err := ValidatePartitionName(name); err != nil {
		return err
	}
	_, err := s.roundTrip(ctx, fr.TypeErasePartition, partitionRequest(name, size))
	return err
}

// ReadNV reads a non-volatile item by id.
func (s *Session) ReadNV(ctx context.Context, id uint32) ([]byte, error) {
	req := make([]byte, 4)
	putBeUint32(req, id)
	resp, err := s.roundTrip(ctx, fr.TypeReadNV, req)
	if err != nil {
		return nil, err
	}
	return resp.Payload, nil
}

// WriteNV writes a non-volatile item by id.
func (s *Session) WriteNV(ctx context.Context, id uint32, data []byte) error {
	req := make([]byte, 4+len(data))
	putBeUint32(req, id)
	copy(req[4:], data)
	_, err := s.roundTrip(ctx, fr.TypeWriteNV, req)
	return err
}

// ReadEfuse reads one eFuse block.
func (s *Session) ReadEfuse(ctx context.Context, block uint32) ([]byte, error) {
	req := make([]byte, 4)
	putBeUint32(req, block)
	resp, err := s.roundTrip(ctx, fr.TypeReadEfuse, req)
	if err != nil {
		return nil, err
	}
	return resp.Payload, nil
}

// Repartition rewrites the partition table from tableBytes (a vendor-
// specific binary blob), used e.g. to apply a GPT patch through FDL2.
func (s *Session) Repartition(ctx context.Context, tableBytes []byte) error {
	_, err := s.roundTrip(ctx, fr.TypeRepartition, tableBytes)
	return err
}

// Reboot and PowerOff are fire-and-forget; the device does not reliably ACK
// before resetting.
func (s *Session) Reboot(ctx context.Context) error {
	_, _ = s.transport.Send(ctx, fr.Encode(fr.TypeReboot, nil, s.checksumMode))
	s.setStage(StageDisconnected)
	s.Connected = false
	return nil
}

func (s *Session) PowerOff(ctx context.Context) error {
	_, _ = s.transport.Send(ctx, fr.Encode(fr.TypePowerOff, nil, s.checksumMode))
	s.setStage(StageDisconnected)
	s.Connected = false
	return nil
}

// roundTrip sends typ/payload and awaits exactly one reply frame, erroring
// on TypeNak.
func (s *Session) roundTrip(ctx context.Context, typ fr.Type, payload []byte) (fr.Frame, error) {
	if _, err := s.transport.Send(ctx, fr.Encode(typ, payload, s.checksumMode)); err != nil {
		return fr.Frame{}, ferr.Wrap("sprd.roundTrip", ferr.KindIoFault, err)
	}
	rctx, cancel := context.WithTimeout(ctx, ackTimeout)
	defer cancel()
	f, err := s.readFrame(rctx)
	if err != nil {
		return fr.Frame{}, err
	}
	if f.Type == fr.TypeNak {
		return fr.Frame{}, ferr.New("sprd.roundTrip", ferr.KindProtocolNak, fmt.Sprintf("0x%02x", uint16(typ)))
	}
	return f, nil
}

// readFrame reads one HDLC frame delimited by 0x7E bytes off the
// transport. The underlying channel delivers one logical frame per
// Receive call, mirroring the Firehose engine's readBlob assumption.
func (s *Session) readFrame(ctx context.Context) (fr.Frame, error) {
	buf := make([]byte, 8192)
	n, err := s.transport.Receive(ctx, buf)
	if err != nil {
		return fr.Frame{}, err
	}
	return fr.Decode(buf[:n], s.checksumMode)
}

func partitionRequest(name string, size uint32) []byte {
	nameField := fr.EncodePartitionName(name)
	out := make([]byte, len(nameField)+4)
	copy(out, nameField[:])
	putBeUint32(out[len(nameField):], size)
	return out
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func putBeUint32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}
