package fastboot

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/flashkit/flashkit/internal/events"
	"github.com/flashkit/flashkit/internal/ferr"
	"github.com/flashkit/flashkit/internal/rawprogram"
)

// RunOptions configures RunScript (spec §4.11's "caller's override flags").
type RunOptions struct {
	// BaseDir resolves relative flash image paths (scripts reference images
	// sitting next to the script file, not the process cwd).
	BaseDir string
	// AllowSensitive gates flash tasks naming a sensitive partition (per
	// rawprogram.IsSensitive's bootloader/modem/persist/RPMB classifier),
	// the same override facade.requireOverride enforces elsewhere.
	AllowSensitive bool
	// AllowLockBootloader must be true before a task whose image matched
	// the "_lock" filename convention is executed, since it is a
	// caller-irreversible action distinct from ordinary flashing.
	AllowLockBootloader bool
}

// TaskOutcome is one script line's result (spec §7: "batch operations ...
// continue past individual failures, returning a per-item outcome list").
type TaskOutcome struct {
	Task Task
	Skip bool
	Err  error
}

// RunScript executes tasks in order against s, honouring cancellation
// between steps and continuing past individual task failures (spec §7,
// §4.11). A task guarded by "if <part> exists" is skipped, not failed,
// when the device has no such partition.
func (s *Session) RunScript(ctx context.Context, tasks []Task, opts RunOptions) []TaskOutcome {
	out := make([]TaskOutcome, 0, len(tasks))
	for _, t := range tasks {
		select {
		case <-ctx.Done():
			out = append(out, TaskOutcome{Task: t, Err: ferr.New("fastboot.RunScript", ferr.KindCancelled, "")})
			return out
		default:
		}

		if t.Guard != "" {
			if _, ok := s.PartitionSize(t.Guard); !ok {
				out = append(out, TaskOutcome{Task: t, Skip: true})
				continue
			}
		}

		err := s.runTask(ctx, t, opts)
		out = append(out, TaskOutcome{Task: t, Err: err})
	}
	return out
}

func (s *Session) runTask(ctx context.Context, t Task, opts RunOptions) error {
	switch t.Kind {
	case TaskFlash:
		if t.LockBootloader && !opts.AllowLockBootloader {
			return ferr.New("fastboot.RunScript", ferr.KindSensitivePartitionBlocked, t.Partition+": lock-bootloader task requires AllowLockBootloader")
		}
		if rawprogram.IsSensitive(t.Partition) && !opts.AllowSensitive {
			return ferr.New("fastboot.RunScript", ferr.KindSensitivePartitionBlocked, t.Partition)
		}
		return s.runFlash(ctx, t, opts.BaseDir)
	case TaskErase:
		return s.Erase(ctx, t.Partition)
	case TaskFormat:
		return s.Format(ctx, t.Partition)
	case TaskReboot:
		return s.Reboot(ctx)
	case TaskRebootBootloader:
		return s.RebootBootloader(ctx)
	case TaskRebootFastboot:
		return s.RebootFastboot(ctx)
	case TaskRebootRecovery:
		return s.RebootRecovery(ctx)
	case TaskSetActive:
		return s.SetActiveSlot(ctx, t.Slot)
	case TaskGetVar:
		_, err := s.GetVar(ctx, t.VarName)
		return err
	case TaskSleep:
		select {
		case <-ctx.Done():
			return ferr.New("fastboot.RunScript", ferr.KindCancelled, "")
		case <-sleepTimer(t.Sleep):
			return nil
		}
	default:
		return nil
	}
}

func (s *Session) runFlash(ctx context.Context, t Task, baseDir string) error {
	if t.FilePath == "" {
		return ferr.New("fastboot.RunScript", ferr.KindMissingLoader, t.Partition+": flash task has no file")
	}
	path := t.FilePath
	if baseDir != "" && !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	f, err := os.Open(path)
	if err != nil {
		return ferr.Wrap("fastboot.RunScript", ferr.KindMissingLoader, err)
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return ferr.Wrap("fastboot.RunScript", ferr.KindMissingLoader, err)
	}

	s.bus.Publish(events.Event{Kind: events.StageChanged, Stage: "flash " + t.Partition})
	if isSparseFile(f) {
		return s.FlashSparse(ctx, t.Partition, f)
	}
	return s.FlashStreaming(ctx, t.Partition, f, fi.Size())
}

// isSparseFile peeks at the sparse magic without consuming the reader's
// position for callers that need to fall through to a plain stream.
func isSparseFile(f *os.File) bool {
	var magic [4]byte
	n, err := f.ReadAt(magic[:], 0)
	defer f.Seek(0, 0)
	if err != nil || n != 4 {
		return false
	}
	return magic[0] == 0x3A && magic[1] == 0xFF && magic[2] == 0x26 && magic[3] == 0xED
}

func sleepTimer(d time.Duration) <-chan time.Time {
	return time.After(d)
}
