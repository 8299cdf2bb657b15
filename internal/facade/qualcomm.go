package facade

import (
	"bytes"
	"context"
	"io"
	"os"

	"github.com/flashkit/flashkit/internal/events"
	"github.com/flashkit/flashkit/internal/ferr"
	"github.com/flashkit/flashkit/internal/firehose"
	"github.com/flashkit/flashkit/internal/gpt"
	"github.com/flashkit/flashkit/internal/rawprogram"
	"github.com/flashkit/flashkit/internal/sahara"
	"github.com/flashkit/flashkit/internal/transport"
	"github.com/flashkit/flashkit/internal/vendorauth"
)

// QualcommOptions configures Connect: the loader image to upload over
// Sahara, the storage class Firehose should configure, and an optional
// vendor-auth strategy to run on the first auth-class NAK.
type QualcommOptions struct {
	LoaderPath string
	Storage    firehose.StorageType
	Auth       vendorauth.Strategy
	ProgrammerDir string
}

// QualcommSession is the C12 facade's per-connection handle for the
// Qualcomm (Sahara→Firehose) pipeline.
type QualcommSession struct {
	transport *transport.Handle
	bus       *events.Bus
	firehose  *firehose.Session
	auth      vendorauth.Strategy
	programmerDir string

	table []Partition
}

// ConnectQualcomm claims ch, runs the Sahara handshake to upload loader,
// then hands off to a Firehose session configured for storage (spec §4.7
// → §4.8 handoff).
func ConnectQualcomm(ctx context.Context, ch transport.Channel, opts QualcommOptions) (*QualcommSession, error) {
	handle := transport.NewHandle(ch)
	if err := handle.Claim(); err != nil {
		return nil, err
	}
	bus := events.NewBus()

	loaderFile, err := os.Open(opts.LoaderPath)
	if err != nil {
		handle.Release()
		return nil, ferr.Wrap("facade.ConnectQualcomm", ferr.KindMissingLoader, err)
	}
	defer loaderFile.Close()
	fi, err := loaderFile.Stat()
	if err != nil {
		handle.Release()
		return nil, ferr.Wrap("facade.ConnectQualcomm", ferr.KindMissingLoader, err)
	}

	sh := sahara.New(handle, bus, loaderFile)
	if err := sh.Run(ctx, fi.Size()); err != nil {
		publishError(bus, string(ferr.KindIoFault), err)
		handle.Release()
		return nil, err
	}

	fh := firehose.New(handle, bus)
	if err := fh.Configure(ctx, opts.Storage, false, false); err != nil {
		publishError(bus, string(ferr.KindProtocolNak), err)
		handle.Release()
		return nil, err
	}

	bus.Publish(events.Event{Kind: events.DeviceConnected, DeviceID: ch.ID()})
	return &QualcommSession{transport: handle, bus: bus, firehose: fh, auth: opts.Auth, programmerDir: opts.ProgrammerDir}, nil
}

// Events implements the facade's events(session) stream.
func (s *QualcommSession) Events() <-chan events.Event { return s.bus.Events() }

// ReadPartitionTable reads the leading sectors of lun and parses its GPT
// (spec §4.6), caching the flattened table for name-based selectors.
func (s *QualcommSession) ReadPartitionTable(ctx context.Context, lun int, sectorSize uint32, lastLBA uint64) ([]Partition, error) {
	var buf bytes.Buffer
	sectors := lastLBA + 1
	if sectors > gptScanSectors {
		sectors = gptScanSectors
	}
	if err := s.firehose.Read(ctx, lun, 0, sectors, &buf); err != nil {
		publishError(s.bus, string(ferr.KindIoFault), err)
		return nil, err
	}
	table, err := gpt.Parse(buf.Bytes(), sectorSize, lastLBA)
	if err != nil {
		publishError(s.bus, string(ferr.KindBadGpt), err)
		return nil, err
	}
	parts := FromGPT(lun, table)
	s.table = append(s.table, parts...)
	s.bus.Publish(events.Event{Kind: events.PartitionTableLoaded, PartitionCount: len(parts)})
	return parts, nil
}

// gptScanSectors bounds how much of a LUN ReadPartitionTable pulls to find
// the primary header and entry array; generous enough for the largest
// documented GPT entry-array size (128 entries * 128 bytes) plus header.
const gptScanSectors = 64

// ReadPartition streams a resolved selector's bytes to sink.
func (s *QualcommSession) ReadPartition(ctx context.Context, sel Selector, sink io.Writer) error {
	p, err := sel.resolve(s.table)
	if err != nil {
		publishError(s.bus, string(ferr.KindPartitionNotFound), err)
		return err
	}
	if err := s.firehose.Read(ctx, p.LUN, p.StartSector, p.NumSectors, sink); err != nil {
		s.maybeAuthenticate(ctx, err)
		return err
	}
	return nil
}

// WritePartition streams src to a resolved selector; sensitive partitions
// require allowSensitive (spec §7).
func (s *QualcommSession) WritePartition(ctx context.Context, sel Selector, src io.Reader, sparse, isSensitive, allowSensitive bool) error {
	if err := requireOverride("facade.WritePartition", sel.Name, isSensitive, allowSensitive); err != nil {
		publishError(s.bus, string(ferr.KindSensitivePartitionBlocked), err)
		return err
	}
	p, err := sel.resolve(s.table)
	if err != nil {
		publishError(s.bus, string(ferr.KindPartitionNotFound), err)
		return err
	}
	if err := s.firehose.Program(ctx, p.LUN, p.StartSector, p.NumSectors, src, sparse); err != nil {
		s.maybeAuthenticate(ctx, err)
		return err
	}
	return nil
}

// WriteFromRawprogram drives every task/patch pair from a parsed
// rawprogram/patch XML pair through this session (spec §4.5/§4.8
// wiring). A task with an empty FilePath is a reserved-range skip.
func (s *QualcommSession) WriteFromRawprogram(ctx context.Context, tasks []rawprogram.Task, patches []rawprogram.Patch, allowSensitive bool) []BatchOutcome {
	var outcomes []BatchOutcome
	for _, t := range tasks {
		if ctxDone(ctx) {
			break
		}
		sel := BySectors(t.LUN, t.StartSector, t.NumSectors)
		if err := requireOverride("facade.WriteFromRawprogram", t.Label, t.IsSensitive, allowSensitive); err != nil {
			outcomes = append(outcomes, BatchOutcome{Selector: sel, Err: err})
			continue
		}
		if t.FilePath == "" {
			continue
		}
		f, err := os.Open(t.FilePath)
		if err != nil {
			outcomes = append(outcomes, BatchOutcome{Selector: sel, Err: ferr.Wrap("facade.WriteFromRawprogram", ferr.KindMissingLoader, err)})
			continue
		}
		err = s.firehose.Program(ctx, t.LUN, t.StartSector, t.NumSectors, f, t.Sparse)
		f.Close()
		outcomes = append(outcomes, BatchOutcome{Selector: sel, Err: err})
	}
	for _, p := range patches {
		if ctxDone(ctx) {
			break
		}
		sel := BySectors(p.LUN, p.ByteOffset/512, 0)
		err := s.firehose.Patch(ctx, p.LUN, p.ByteOffset, p.SizeInBytes, p.Value)
		outcomes = append(outcomes, BatchOutcome{Selector: sel, Err: err})
	}
	return outcomes
}

// ErasePartition erases the resolved range via Firehose erase.
func (s *QualcommSession) ErasePartition(ctx context.Context, sel Selector) error {
	p, err := sel.resolve(s.table)
	if err != nil {
		publishError(s.bus, string(ferr.KindPartitionNotFound), err)
		return err
	}
	if err := s.firehose.Erase(ctx, p.LUN, p.StartSector, p.NumSectors); err != nil {
		s.maybeAuthenticate(ctx, err)
		return err
	}
	return nil
}

// SetActiveSlot issues `setactiveslot`.
func (s *QualcommSession) SetActiveSlot(ctx context.Context, slot string) error {
	return s.firehose.SetActiveSlot(ctx, slot)
}

// Reboot issues `power` with the mode mapped from the facade's vendor-
// neutral constants.
func (s *QualcommSession) Reboot(ctx context.Context, mode string) error {
	value := "reset"
	switch mode {
	case RebootEDL:
		value = "edl"
	case RebootNormal, RebootBootloader, RebootRecovery:
		value = "reset"
	}
	return s.firehose.Power(ctx, value)
}

// Disconnect releases the claimed transport and closes the event bus.
func (s *QualcommSession) Disconnect() error {
	s.table = nil
	err := s.transport.Close()
	s.bus.Publish(events.Event{Kind: events.DeviceDisconnected, DeviceID: s.transport.ID()})
	s.bus.Close()
	return err
}

// maybeAuthenticate attempts the configured vendor-auth strategy whenever
// err is a ProtocolNak-class failure. It sets the session's auth-failed
// gate (spec invariant 10) before the attempt and clears it only when the
// strategy succeeds.
func (s *QualcommSession) maybeAuthenticate(ctx context.Context, err error) {
	if s.auth == nil || !ferr.Is(err, ferr.KindProtocolNak) {
		return
	}
	s.firehose.MarkAuthFailed()
	ok, authErr := s.auth.Authenticate(ctx, s.firehose, s.programmerDir)
	if authErr != nil || !ok {
		publishError(s.bus, string(ferr.KindUnauthenticated), err)
		return
	}
	s.firehose.MarkAuthenticated()
}
