// Package facade implements C12: the per-vendor caller-facing service of
// spec §6, collapsing each protocol engine plus its vendor-auth and
// partition-table plumbing behind one connect/read/write/erase/reboot/
// disconnect surface with an observable event stream — the strategy-object
// shape spec §9's REDESIGN FLAGS calls for in place of the original's
// deep GUI-induced class hierarchy.
package facade

import (
	"context"
	"io"

	"github.com/flashkit/flashkit/internal/events"
	"github.com/flashkit/flashkit/internal/ferr"
	"github.com/flashkit/flashkit/internal/gpt"
)

// Partition is the vendor-neutral partition record read_partition_table
// returns (spec §6), built from whichever source a vendor facade has: a
// GPT table for Qualcomm/fastboot, a name-only list for Spreadtrum/Unisoc.
type Partition struct {
	Name        string
	LUN         int
	StartSector uint64
	NumSectors  uint64
	SectorSize  uint32
}

// FromGPT flattens a parsed GPT table into facade Partitions for a given
// LUN.
func FromGPT(lun int, t gpt.Table) []Partition {
	out := make([]Partition, 0, len(t.Partitions))
	for _, p := range t.Partitions {
		out = append(out, Partition{
			Name:        p.Name,
			LUN:         lun,
			StartSector: p.StartSector,
			NumSectors:  p.NumSectors,
			SectorSize:  t.SectorSize,
		})
	}
	return out
}

// Selector names a partition either by its vendor name or, for raw LUN
// access, an explicit sector range (spec §6 "name_or_selector").
type Selector struct {
	Name        string
	LUN         int
	StartSector uint64
	NumSectors  uint64
	explicit    bool
}

// ByName builds a Selector that resolves against the cached partition
// table.
func ByName(name string) Selector { return Selector{Name: name} }

// BySectors builds a Selector that bypasses the name lookup entirely, for
// raw LUN access (GPT patch targets, Spreadtrum partitions not yet in the
// cached table).
func BySectors(lun int, startSector, numSectors uint64) Selector {
	return Selector{LUN: lun, StartSector: startSector, NumSectors: numSectors, explicit: true}
}

// resolve looks up name against table unless the Selector already carries
// an explicit sector range.
func (sel Selector) resolve(table []Partition) (Partition, error) {
	if sel.explicit {
		return Partition{LUN: sel.LUN, StartSector: sel.StartSector, NumSectors: sel.NumSectors}, nil
	}
	for _, p := range table {
		if p.Name == sel.Name {
			return p, nil
		}
	}
	return Partition{}, ferr.New("facade.resolve", ferr.KindPartitionNotFound, sel.Name)
}

// Reboot mode strings passed to reboot(session, mode), matching the
// per-engine Reboot*/Power command names (spec §4.8/§4.10/§4.11).
const (
	RebootNormal     = "normal"
	RebootBootloader = "bootloader"
	RebootRecovery   = "recovery"
	RebootEDL        = "edl"
)

// requireOverride is the gate spec §7 names: "sensitive-partition writes
// require an explicit caller override". Every facade's WritePartition
// takes an allowSensitive bool that must be true before a sensitive name
// is accepted.
func requireOverride(op string, name string, isSensitive, allowSensitive bool) error {
	if isSensitive && !allowSensitive {
		return ferr.New(op, ferr.KindSensitivePartitionBlocked, name)
	}
	return nil
}

// publishError emits the ErrorOccurred event spec §7 requires alongside
// returning the same error to the caller.
func publishError(bus *events.Bus, kind string, err error) {
	bus.Publish(events.Event{Kind: events.ErrorOccurred, ErrKind: kind, Message: err.Error(), Recoverable: ferr.Recoverable(ferr.Kind(kind))})
}

// discardWriter is an io.Writer that accepts and drops every byte written
// to it.
type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

var _ io.Writer = discardWriter{}

// BatchOutcome is one item's result from a batch read/write/erase call
// (spec §7: "Batch operations ... continue past individual failures,
// returning a per-item outcome list").
type BatchOutcome struct {
	Selector Selector
	Err      error
}

// ctxDone reports whether ctx has already been cancelled, used by batch
// loops to stop issuing new items once the caller cancels mid-batch.
func ctxDone(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
