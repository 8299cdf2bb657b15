package facade

import (
	"context"
	"io"

	"github.com/flashkit/flashkit/internal/events"
	"github.com/flashkit/flashkit/internal/ferr"
	"github.com/flashkit/flashkit/internal/fastboot"
	"github.com/flashkit/flashkit/internal/payload"
	"github.com/flashkit/flashkit/internal/transport"
)

// FastbootOptions configures ConnectFastboot.
type FastbootOptions struct {
	Serial string
}

// FastbootSession is the C12 facade's per-connection handle for the
// fastboot pipeline.
type FastbootSession struct {
	transport *transport.Handle
	bus       *events.Bus
	fastboot  *fastboot.Session
}

// ConnectFastboot claims ch and constructs a fastboot session, populating
// the partition-size cache via getvar:all (spec §C.1's supplemented
// feature).
func ConnectFastboot(ctx context.Context, ch transport.Channel, opts FastbootOptions) (*FastbootSession, error) {
	handle := transport.NewHandle(ch)
	if err := handle.Claim(); err != nil {
		return nil, err
	}
	bus := events.NewBus()
	sess := fastboot.New(handle, bus, opts.Serial)

	if _, err := sess.GetVarAll(ctx); err != nil {
		publishError(bus, string(ferr.KindIoFault), err)
		handle.Release()
		return nil, err
	}

	bus.Publish(events.Event{Kind: events.DeviceConnected, DeviceID: ch.ID()})
	return &FastbootSession{transport: handle, bus: bus, fastboot: sess}, nil
}

// Events implements the facade's events(session) stream.
func (s *FastbootSession) Events() <-chan events.Event { return s.bus.Events() }

// ReadPartitionTable returns the facade view built from the getvar:all
// cache populated at Connect; fastboot has no read-back command (spec
// §4.11: fastboot is flash/erase, never read), so NumSectors here is the
// partition's declared byte size, not a sector count.
func (s *FastbootSession) ReadPartitionTable() []Partition {
	var out []Partition
	for _, name := range []string{"boot", "recovery", "system", "vendor", "userdata"} {
		if n, ok := s.fastboot.PartitionSize(name); ok {
			out = append(out, Partition{Name: name, NumSectors: uint64(n), SectorSize: 1})
		}
	}
	s.bus.Publish(events.Event{Kind: events.PartitionTableLoaded, PartitionCount: len(out)})
	return out
}

// WritePartition flashes src to the named partition. When sparse is true
// the image is re-segmented to MaxDownloadSize-bounded sparse chunks
// before streaming (spec §C.1); otherwise it streams as a plain image.
func (s *FastbootSession) WritePartition(ctx context.Context, name string, src io.Reader, total int64, isSparse bool, isSensitive, allowSensitive bool) error {
	if err := requireOverride("facade.WritePartition", name, isSensitive, allowSensitive); err != nil {
		publishError(s.bus, string(ferr.KindSensitivePartitionBlocked), err)
		return err
	}
	if isSparse {
		if err := s.fastboot.FlashSparse(ctx, name, src); err != nil {
			publishError(s.bus, string(ferr.KindBadSparse), err)
			return err
		}
		return nil
	}
	return s.fastboot.FlashStreaming(ctx, name, src, total)
}

// ErasePartition issues `erase:<partition>`.
func (s *FastbootSession) ErasePartition(ctx context.Context, name string) error {
	return s.fastboot.Erase(ctx, name)
}

// SetActiveSlot issues `set_active:<slot>`.
func (s *FastbootSession) SetActiveSlot(ctx context.Context, slot string) error {
	return s.fastboot.SetActiveSlot(ctx, slot)
}

// Reboot dispatches to the matching fastboot reboot variant.
func (s *FastbootSession) Reboot(ctx context.Context, mode string) error {
	switch mode {
	case RebootBootloader:
		return s.fastboot.RebootBootloader(ctx)
	case RebootRecovery:
		return s.fastboot.RebootRecovery(ctx)
	case RebootEDL:
		return s.fastboot.OemEdl(ctx)
	default:
		return s.fastboot.Reboot(ctx)
	}
}

// RunScript parses a flash-script and drives every task through this
// session (spec §4.11's flash-script orchestrator), returning a per-task
// outcome list per spec §7's batch-operation contract.
func (s *FastbootSession) RunScript(ctx context.Context, script io.Reader, opts fastboot.RunOptions) ([]fastboot.TaskOutcome, error) {
	tasks, err := fastboot.ParseScript(script)
	if err != nil {
		publishError(s.bus, string(ferr.KindBadXml), err)
		return nil, err
	}
	return s.fastboot.RunScript(ctx, tasks, opts), nil
}

// FlashFromPayload drives C6 to reconstruct partitionName's image from an
// OTA payload.bin (raw or ZIP-enveloped) and streams it to the device
// without materialising the whole image on disk (spec §4.11's
// payload-driven flash).
func (s *FastbootSession) FlashFromPayload(ctx context.Context, partitionName, payloadPath string, isSensitive, allowSensitive bool) error {
	if err := requireOverride("facade.FlashFromPayload", partitionName, isSensitive, allowSensitive); err != nil {
		publishError(s.bus, string(ferr.KindSensitivePartitionBlocked), err)
		return err
	}

	src, closer, size, err := payload.OpenEnvelope(payloadPath)
	if err != nil {
		publishError(s.bus, string(ferr.KindBadPayload), err)
		return err
	}
	defer closer.Close()

	header, err := payload.ParseHeader(io.NewSectionReader(src, 0, size))
	if err != nil {
		publishError(s.bus, string(ferr.KindBadPayload), err)
		return err
	}

	manifestBytes := make([]byte, header.ManifestSize)
	manifestOffset := payload.HeaderLen(header.Version)
	if _, err := src.ReadAt(manifestBytes, manifestOffset); err != nil {
		err = ferr.Wrap("facade.FlashFromPayload", ferr.KindBadPayload, err)
		publishError(s.bus, string(ferr.KindBadPayload), err)
		return err
	}
	dataBase := manifestOffset + int64(header.ManifestSize) + int64(header.MetadataSignatureSize)

	manifest, err := payload.ParseManifest(manifestBytes)
	if err != nil {
		publishError(s.bus, string(ferr.KindBadPayload), err)
		return err
	}

	for _, part := range manifest.Partitions {
		if part.Name != partitionName {
			continue
		}
		return s.fastboot.FlashFromPayload(ctx, partitionName, part, src, dataBase, manifest.BlockSize)
	}
	err = ferr.New("facade.FlashFromPayload", ferr.KindPartitionNotFound, partitionName)
	publishError(s.bus, string(ferr.KindPartitionNotFound), err)
	return err
}

// Disconnect releases the claimed transport and closes the event bus.
func (s *FastbootSession) Disconnect() error {
	err := s.transport.Close()
	s.bus.Publish(events.Event{Kind: events.DeviceDisconnected, DeviceID: s.transport.ID()})
	s.bus.Close()
	return err
}
