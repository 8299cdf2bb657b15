package fastboot

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/flashkit/flashkit/internal/ferr"
)

// TaskKind enumerates the line forms the flash-script dialect recognises
// (spec §4.11's "line-based dialect supporting flash/erase/reboot*/
// set_active/getvar/sleep/if exists").
type TaskKind int

const (
	TaskFlash TaskKind = iota
	TaskErase
	TaskFormat
	TaskReboot
	TaskRebootBootloader
	TaskRebootFastboot
	TaskRebootRecovery
	TaskSetActive
	TaskGetVar
	TaskSleep
)

// Task is one parsed script line, resolved to a flat step. "if <part>
// exists" lines wrap their guarded step in Guard rather than introducing a
// separate task kind, so the runner only ever dispatches on Kind.
type Task struct {
	Kind      TaskKind
	Partition string
	FilePath  string
	Slot      string
	VarName   string
	Sleep     time.Duration

	// KeepData / LockBootloader are detected from filename conventions on
	// flash tasks (spec §4.11: "except_storage", "_lock") and must be
	// honoured by the caller's override flags rather than acted on
	// automatically.
	KeepData       bool
	LockBootloader bool

	// Guard is the partition name an "if <part> exists" prefix names; empty
	// means unconditional. The runner skips Task when Guard is set and the
	// device has no partition of that name.
	Guard string

	line int
}

// ParseScript reads a flash_all.bat/flash_all.sh-style script and converts
// each recognised line into a Task (spec §4.11). Unknown commands and blank
// or comment (`#`, `::`, `rem`) lines are skipped rather than rejected,
// since real vendor scripts carry batch-file boilerplate this dialect does
// not need to understand.
func ParseScript(r io.Reader) ([]Task, error) {
	var tasks []Task
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "::") {
			continue
		}
		lower := strings.ToLower(line)
		if strings.HasPrefix(lower, "rem ") || lower == "rem" {
			continue
		}

		guard := ""
		if strings.HasPrefix(lower, "if ") {
			fields := strings.Fields(line)
			// "if <part> exists <rest...>"
			if len(fields) < 4 || strings.ToLower(fields[2]) != "exists" {
				continue
			}
			guard = fields[1]
			line = strings.Join(fields[3:], " ")
			lower = strings.ToLower(line)
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		task, ok, err := parseLine(fields, lineNo)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		task.Guard = guard
		tasks = append(tasks, task)
	}
	if err := sc.Err(); err != nil {
		return nil, ferr.Wrap("fastboot.ParseScript", ferr.KindBadXml, err)
	}
	return tasks, nil
}

func parseLine(fields []string, lineNo int) (Task, bool, error) {
	verb := strings.ToLower(fields[0])
	switch verb {
	case "flash":
		if len(fields) < 2 {
			return Task{}, false, nil
		}
		part := fields[1]
		var file string
		if len(fields) >= 3 {
			file = fields[2]
		}
		t := Task{Kind: TaskFlash, Partition: part, FilePath: file, line: lineNo}
		applyFilenameConventions(&t, file)
		return t, true, nil
	case "erase":
		if len(fields) < 2 {
			return Task{}, false, nil
		}
		return Task{Kind: TaskErase, Partition: fields[1], line: lineNo}, true, nil
	case "format":
		if len(fields) < 2 {
			return Task{}, false, nil
		}
		return Task{Kind: TaskFormat, Partition: fields[1], line: lineNo}, true, nil
	case "reboot-bootloader", "reboot_bootloader":
		return Task{Kind: TaskRebootBootloader, line: lineNo}, true, nil
	case "reboot-fastboot", "reboot_fastboot":
		return Task{Kind: TaskRebootFastboot, line: lineNo}, true, nil
	case "reboot-recovery", "reboot_recovery":
		return Task{Kind: TaskRebootRecovery, line: lineNo}, true, nil
	case "reboot":
		if len(fields) >= 2 {
			switch strings.ToLower(fields[1]) {
			case "bootloader":
				return Task{Kind: TaskRebootBootloader, line: lineNo}, true, nil
			case "recovery":
				return Task{Kind: TaskRebootRecovery, line: lineNo}, true, nil
			case "fastboot":
				return Task{Kind: TaskRebootFastboot, line: lineNo}, true, nil
			}
		}
		return Task{Kind: TaskReboot, line: lineNo}, true, nil
	case "set_active", "set-active-slot":
		if len(fields) < 2 {
			return Task{}, false, nil
		}
		return Task{Kind: TaskSetActive, Slot: fields[1], line: lineNo}, true, nil
	case "getvar":
		if len(fields) < 2 {
			return Task{}, false, nil
		}
		return Task{Kind: TaskGetVar, VarName: fields[1], line: lineNo}, true, nil
	case "sleep":
		if len(fields) < 2 {
			return Task{}, false, nil
		}
		ms, err := strconv.Atoi(fields[1])
		if err != nil {
			return Task{}, false, ferr.New("fastboot.ParseScript", ferr.KindBadXml, "sleep: not an integer")
		}
		return Task{Kind: TaskSleep, Sleep: time.Duration(ms) * time.Millisecond, line: lineNo}, true, nil
	default:
		return Task{}, false, nil
	}
}

// applyFilenameConventions detects the keep-data and lock-bootloader
// filename conventions spec §4.11 names ("except_storage", "_lock") on a
// flash task's image path.
func applyFilenameConventions(t *Task, file string) {
	lower := strings.ToLower(file)
	if strings.Contains(lower, "except_storage") {
		t.KeepData = true
	}
	if strings.Contains(lower, "_lock") {
		t.LockBootloader = true
	}
}

// Line reports the 1-based source line a Task was parsed from, for error
// messages.
func (t Task) Line() int { return t.line }
