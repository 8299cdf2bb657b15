// Package engine holds an ordered, mutable stage list used to assemble the
// fixed prefix of a protocol engine's state machine (sahara's hello/
// negotiate handshake and similar).
//
// Grounded on the teacher's firecracker.NewMachine functional-options
// construction plus machine.Handlers.FcInit.Append/Remove: an engine is
// built as an ordered list of named stages that callers can insert into or
// remove from before running, the same way the teacher lets a caller strip
// a default init handler and substitute its own.
package engine

import (
	"context"
	"fmt"
)

// Stage is one named step of a protocol-engine state machine.
type Stage struct {
	Name string
	Run  func(ctx context.Context) error
}

// StageList is an ordered, mutable sequence of Stages. Engines build their
// default stage list at construction time; callers (or vendor-auth plugins)
// may Append/Remove/InsertBefore before the first Run.
type StageList struct {
	stages []Stage
}

// NewStageList builds a StageList from an initial ordered set.
func NewStageList(initial ...Stage) *StageList {
	return &StageList{stages: append([]Stage(nil), initial...)}
}

// Append adds a stage to the end of the list.
func (l *StageList) Append(s Stage) { l.stages = append(l.stages, s) }

// Remove deletes the first stage with the given name, if present.
func (l *StageList) Remove(name string) {
	for i, s := range l.stages {
		if s.Name == name {
			l.stages = append(l.stages[:i], l.stages[i+1:]...)
			return
		}
	}
}

// InsertBefore inserts s immediately before the named stage; if the named
// stage is not found, s is appended.
func (l *StageList) InsertBefore(name string, s Stage) {
	for i, existing := range l.stages {
		if existing.Name == name {
			l.stages = append(l.stages[:i], append([]Stage{s}, l.stages[i:]...)...)
			return
		}
	}
	l.Append(s)
}

// Names returns the current stage order, for logging/diagnostics.
func (l *StageList) Names() []string {
	names := make([]string, len(l.stages))
	for i, s := range l.stages {
		names[i] = s.Name
	}
	return names
}

// Run executes each stage in order, stopping at the first error. The
// failing stage's name is attached to the returned error for diagnostics.
func (l *StageList) Run(ctx context.Context) error {
	for _, s := range l.stages {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("stage %s: %w", s.Name, err)
		}
		if err := s.Run(ctx); err != nil {
			return fmt.Errorf("stage %s: %w", s.Name, err)
		}
	}
	return nil
}
