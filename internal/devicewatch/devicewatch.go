// Package devicewatch enumerates serial/USB device nodes that look like a
// flashable phone in one of its boot-ROM/loader/fastboot personalities, and
// publishes DeviceConnected/DeviceDisconnected events on an independent
// worker goroutine, per spec §5: device monitoring never touches an open
// session.
//
// Adapted from the teacher's process/port discovery loop
// (internal/discovery/{discover,linux,darwin,windows}.go): the same
// "enumerate, diff against last snapshot, emit events" polling shape, with
// phone device nodes standing in for listening TCP servers.
package devicewatch

import (
	"context"
	"sort"
	"time"

	"github.com/flashkit/flashkit/internal/events"
)

// Personality classifies a device node by the protocol it is presenting.
type Personality string

const (
	PersonalityQualcommSahara Personality = "qualcomm-sahara"
	PersonalityQualcommFirehose Personality = "qualcomm-firehose"
	PersonalitySprdBrom       Personality = "sprd-brom"
	PersonalityFastboot       Personality = "fastboot"
	PersonalityUnknown        Personality = "unknown"
)

// Device describes one enumerated node.
type Device struct {
	ID          string // stable identifier: port name or bus:dev
	Path        string // OS device node, e.g. /dev/ttyUSB0 or \\.\COM7
	VendorID    uint16
	ProductID   uint16
	Personality Personality
}

// Classify maps a (vendor, product) USB ID pair to the personality it most
// likely presents, mirroring the teacher's ClassifyProcess cmdline-sniffing
// pattern but keyed on USB VID/PID instead of argv.
func Classify(vendorID, productID uint16) Personality {
	switch vendorID {
	case 0x05c6: // Qualcomm
		switch productID {
		case 0x9008:
			return PersonalityQualcommSahara
		case 0x900e, 0x9025:
			return PersonalityQualcommFirehose
		}
	case 0x1782, 0x0e8d: // Spreadtrum / Unisoc / MediaTek-family BROM
		return PersonalitySprdBrom
	case 0x18d1: // Google fastboot protocol VID used by AOSP devices
		return PersonalityFastboot
	}
	return PersonalityUnknown
}

// Watcher polls the platform's device list on its own goroutine and
// publishes DeviceConnected/DeviceDisconnected to bus as the snapshot
// changes. It never reads from or writes to an open engine session.
type Watcher struct {
	bus      *events.Bus
	interval time.Duration
	list     func() ([]Device, error)
}

// NewWatcher constructs a Watcher that publishes to bus, polling every
// interval (spec leaves polling cadence unspecified; 1s matches the
// teacher's discovery refresh default).
func NewWatcher(bus *events.Bus, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = time.Second
	}
	return &Watcher{bus: bus, interval: interval, list: ListDevices}
}

// Run blocks, polling until ctx is cancelled. Call it from its own
// goroutine: `go watcher.Run(ctx)`.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	known := map[string]Device{}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			current, err := w.list()
			if err != nil {
				continue
			}
			w.diff(known, current)
			known = indexByID(current)
		}
	}
}

func (w *Watcher) diff(known map[string]Device, current []Device) {
	seen := indexByID(current)

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if _, existed := known[id]; !existed {
			w.bus.Publish(events.Event{Kind: events.DeviceConnected, DeviceID: id})
		}
	}

	goneIDs := make([]string, 0)
	for id := range known {
		if _, still := seen[id]; !still {
			goneIDs = append(goneIDs, id)
		}
	}
	sort.Strings(goneIDs)
	for _, id := range goneIDs {
		w.bus.Publish(events.Event{Kind: events.DeviceDisconnected, DeviceID: id})
	}
}

func indexByID(devices []Device) map[string]Device {
	m := make(map[string]Device, len(devices))
	for _, d := range devices {
		m[d.ID] = d
	}
	return m
}
