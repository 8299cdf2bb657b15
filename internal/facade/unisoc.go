package facade

import (
	"context"
	"io"
	"strconv"

	"github.com/flashkit/flashkit/internal/chipdb"
	"github.com/flashkit/flashkit/internal/events"
	"github.com/flashkit/flashkit/internal/ferr"
	"github.com/flashkit/flashkit/internal/sprd"
	"github.com/flashkit/flashkit/internal/transport"
)

// UnisocOptions configures ConnectUnisoc: the FDL1/FDL2 images to upload
// and the candidate load addresses ConnectUnisoc resolves with
// sprd.ResolveFdl (spec §4.10's override precedence).
type UnisocOptions struct {
	FDL1        []byte
	FDL1Address uint32
	FDL2        []byte
	FDL2Address uint32
	ChunkSize   int
	Chip        chipdb.ChipEntry

	// PacXML/PacEmbedded addresses fill the two middle tiers of spec
	// §4.10's "user > PAC-XML > PAC-embedded > chip-database" precedence;
	// the caller resolves them from a PAC's embedded XML and entry table
	// respectively (see internal/pac) before calling ConnectUnisoc.
	FDL1PacXMLAddress      uint32
	FDL1PacEmbeddedAddress uint32
	FDL2PacXMLAddress      uint32
	FDL2PacEmbeddedAddress uint32

	PartitionSize map[string]uint32 // sizes the caller already knows (from a PAC or prior read)
}

// UnisocSession is the C12 facade's per-connection handle for the
// Spreadtrum/Unisoc BROM→FDL1→FDL2 pipeline.
type UnisocSession struct {
	transport *transport.Handle
	bus       *events.Bus
	sprd      *sprd.Session
	sizes     map[string]uint32
}

// ConnectUnisoc claims ch, probes BROM, reads the chip ID, then uploads
// FDL1 and FDL2 in sequence (spec §4.10).
func ConnectUnisoc(ctx context.Context, ch transport.Channel, opts UnisocOptions) (*UnisocSession, error) {
	handle := transport.NewHandle(ch)
	if err := handle.Claim(); err != nil {
		return nil, err
	}
	bus := events.NewBus()
	sess := sprd.New(handle, bus)

	if err := sess.ProbeBROM(ctx); err != nil {
		publishError(bus, string(ferr.KindIoFault), err)
		handle.Release()
		return nil, err
	}
	if _, err := sess.ReadChipType(ctx); err != nil {
		publishError(bus, string(ferr.KindIoFault), err)
		handle.Release()
		return nil, err
	}

	// opts.Chip supplies the chip-database tier of spec §4.10's
	// user>PAC-XML>PAC-embedded>chip-database load-address precedence; a
	// caller that already resolved a user override still wins via the
	// FDL1Address/FDL2Address fields taking priority in ResolveFdl.
	fdl1 := sprd.ResolveFdl(
		sprd.FdlCandidate{Address: opts.FDL1Address},
		sprd.FdlCandidate{Address: opts.FDL1PacXMLAddress},
		sprd.FdlCandidate{Address: opts.FDL1PacEmbeddedAddress},
		sprd.FdlCandidate{Address: opts.Chip.Fdl1Address},
	)
	fdl2 := sprd.ResolveFdl(
		sprd.FdlCandidate{Address: opts.FDL2Address},
		sprd.FdlCandidate{Address: opts.FDL2PacXMLAddress},
		sprd.FdlCandidate{Address: opts.FDL2PacEmbeddedAddress},
		sprd.FdlCandidate{Address: opts.Chip.Fdl2Address},
	)

	if err := sess.UploadFDL1(ctx, opts.FDL1, fdl1.Address, opts.ChunkSize); err != nil {
		publishError(bus, string(ferr.KindIoFault), err)
		handle.Release()
		return nil, err
	}
	if err := sess.UploadFDL2(ctx, opts.FDL2, fdl2.Address, opts.ChunkSize); err != nil {
		publishError(bus, string(ferr.KindIoFault), err)
		handle.Release()
		return nil, err
	}

	bus.Publish(events.Event{Kind: events.DeviceConnected, DeviceID: ch.ID()})
	return &UnisocSession{transport: handle, bus: bus, sprd: sess, sizes: opts.PartitionSize}, nil
}

// Events implements the facade's events(session) stream.
func (s *UnisocSession) Events() <-chan events.Event { return s.bus.Events() }

// ReadPartitionTable returns the facade view of the sizes the caller
// supplied at Connect time; SPRD's FDL2 partition protocol addresses by
// name rather than exposing a GPT-style enumerate command (spec §4.10), so
// there is nothing to query here beyond what was already known.
func (s *UnisocSession) ReadPartitionTable(ctx context.Context) []Partition {
	out := make([]Partition, 0, len(s.sizes))
	for name, size := range s.sizes {
		out = append(out, Partition{Name: name, NumSectors: uint64(size)})
	}
	s.bus.Publish(events.Event{Kind: events.PartitionTableLoaded, PartitionCount: len(out)})
	return out
}

func (s *UnisocSession) sizeOf(sel Selector) (uint32, error) {
	if sel.explicit {
		return uint32(sel.NumSectors), nil
	}
	if n, ok := s.sizes[sel.Name]; ok {
		return n, nil
	}
	return 0, ferr.New("facade.sizeOf", ferr.KindPartitionNotFound, sel.Name)
}

// ReadPartition streams sel's bytes to sink, using the size the caller
// supplied at Connect, or an explicit selector's NumSectors.
func (s *UnisocSession) ReadPartition(ctx context.Context, sel Selector, sink io.Writer) error {
	size, err := s.sizeOf(sel)
	if err != nil {
		publishError(s.bus, string(ferr.KindPartitionNotFound), err)
		return err
	}
	name := sel.Name
	if sel.explicit {
		name = partitionNameForLUN(sel.LUN)
	}
	return s.sprd.ReadPartition(ctx, name, size, sink)
}

// WritePartition streams src to sel, requiring allowSensitive for
// sensitive partitions per spec §7 (SPRD has no rawprogram-style
// sensitivity flag on the wire, so the facade applies rawprogram.IsSensitive
// by name).
func (s *UnisocSession) WritePartition(ctx context.Context, sel Selector, size uint32, src io.Reader, isSensitive, allowSensitive bool) error {
	if err := requireOverride("facade.WritePartition", sel.Name, isSensitive, allowSensitive); err != nil {
		publishError(s.bus, string(ferr.KindSensitivePartitionBlocked), err)
		return err
	}
	return s.sprd.WritePartition(ctx, sel.Name, size, src)
}

// ErasePartition erases sel.
func (s *UnisocSession) ErasePartition(ctx context.Context, sel Selector) error {
	size, err := s.sizeOf(sel)
	if err != nil {
		publishError(s.bus, string(ferr.KindPartitionNotFound), err)
		return err
	}
	return s.sprd.ErasePartition(ctx, sel.Name, size)
}

// SetActiveSlot is a no-op for single-slot Spreadtrum devices; A/B SPRD
// targets are out of scope for this facade (spec §1 Non-goals: no OTA/
// update_engine apply loop, and SPRD A/B slot switching rides through a
// vendor-specific NV item this module does not model).
func (s *UnisocSession) SetActiveSlot(ctx context.Context, slot string) error {
	return ferr.New("facade.SetActiveSlot", ferr.KindUnsupportedVersion, "unisoc facade has no slot concept")
}

// Reboot issues Reboot or PowerOff depending on mode.
func (s *UnisocSession) Reboot(ctx context.Context, mode string) error {
	if mode == RebootEDL {
		return s.sprd.PowerOff(ctx)
	}
	return s.sprd.Reboot(ctx)
}

// Disconnect releases the claimed transport and closes the event bus.
func (s *UnisocSession) Disconnect() error {
	err := s.transport.Close()
	s.bus.Publish(events.Event{Kind: events.DeviceDisconnected, DeviceID: s.transport.ID()})
	s.bus.Close()
	return err
}

func partitionNameForLUN(lun int) string {
	return "lun" + strconv.Itoa(lun)
}
