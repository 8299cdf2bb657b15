package fastboot

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/flashkit/flashkit/internal/events"
	fb "github.com/flashkit/flashkit/internal/framing/fastboot"
	"github.com/flashkit/flashkit/internal/transport"
)

func TestParseScript(t *testing.T) {
	script := `
# header comment
:: batch-style comment
rem also a comment

flash boot boot.img
if vendor_a exists flash vendor_a vendor.img
erase userdata
set_active a
getvar product
sleep 250
reboot-bootloader
`
	tasks, err := ParseScript(strings.NewReader(script))
	if err != nil {
		t.Fatalf("ParseScript: %v", err)
	}

	want := []TaskKind{TaskFlash, TaskFlash, TaskErase, TaskSetActive, TaskGetVar, TaskSleep, TaskRebootBootloader}
	if len(tasks) != len(want) {
		t.Fatalf("got %d tasks, want %d: %+v", len(tasks), len(want), tasks)
	}
	for i, k := range want {
		if tasks[i].Kind != k {
			t.Errorf("task %d: kind=%v want %v", i, tasks[i].Kind, k)
		}
	}
	if tasks[1].Guard != "vendor_a" {
		t.Errorf("conditional flash task: Guard=%q want vendor_a", tasks[1].Guard)
	}
	if tasks[5].Sleep != 250*time.Millisecond {
		t.Errorf("sleep task: Sleep=%v want 250ms", tasks[5].Sleep)
	}
}

func TestParseScript_FilenameConventions(t *testing.T) {
	tasks, err := ParseScript(strings.NewReader("flash super super_except_storage.img\nflash bootloader bootloader_lock.img\n"))
	if err != nil {
		t.Fatalf("ParseScript: %v", err)
	}
	if !tasks[0].KeepData {
		t.Error("except_storage image should set KeepData")
	}
	if !tasks[1].LockBootloader {
		t.Error("_lock image should set LockBootloader")
	}
}

func fakeScriptDevice(t *testing.T, ch *transport.MemoryChannel) {
	t.Helper()
	ctx := context.Background()
	buf := make([]byte, 4096)
	for {
		n, err := ch.Receive(ctx, buf)
		if err != nil {
			return
		}
		cmd := string(buf[:n])
		switch {
		case cmd == "getvar:all":
			ch.Send(ctx, []byte("INFO"+"partition-size:vendor_a:0x10"))
			ch.Send(ctx, []byte(string(fb.RespOkay)))
		case strings.HasPrefix(cmd, "download:"):
			ch.Send(ctx, []byte(string(fb.RespData)+"00000004"))
			if _, err := ch.Receive(ctx, buf); err != nil {
				return
			}
			ch.Send(ctx, []byte(string(fb.RespOkay)))
		case strings.HasPrefix(cmd, "flash:"), strings.HasPrefix(cmd, "erase:"), strings.HasPrefix(cmd, "set_active:"):
			ch.Send(ctx, []byte(string(fb.RespOkay)))
		case cmd == "reboot-bootloader":
			ch.Send(ctx, []byte(string(fb.RespOkay)))
		default:
			ch.Send(ctx, []byte(string(fb.RespFail)+"unknown"))
		}
	}
}

func TestRunScript_GuardSkipsMissingPartitionAndSensitiveBlocks(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.img"), []byte("AAAA"), 0o644); err != nil {
		t.Fatal(err)
	}

	host, device := transport.NewMemoryPipe("host", "device")
	go fakeScriptDevice(t, device)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	handle := transport.NewHandle(host)
	if err := handle.Claim(); err != nil {
		t.Fatal(err)
	}
	defer handle.Close()
	bus := events.NewBus()
	sess := New(handle, bus, "TESTSERIAL")
	if _, err := sess.GetVarAll(ctx); err != nil {
		t.Fatalf("GetVarAll: %v", err)
	}

	script := "if vendor_a exists flash vendor_a a.img\n" +
		"if vendor_b exists flash vendor_b a.img\n" +
		"flash xbl_a a.img\n" +
		"erase userdata\n" +
		"set_active a\n" +
		"reboot-bootloader\n"
	tasks, err := ParseScript(strings.NewReader(script))
	if err != nil {
		t.Fatalf("ParseScript: %v", err)
	}

	outcomes := sess.RunScript(ctx, tasks, RunOptions{BaseDir: dir})
	if len(outcomes) != len(tasks) {
		t.Fatalf("got %d outcomes, want %d", len(outcomes), len(tasks))
	}
	if outcomes[0].Skip || outcomes[0].Err != nil {
		t.Errorf("vendor_a guard: skip=%v err=%v, want executed without error", outcomes[0].Skip, outcomes[0].Err)
	}
	if !outcomes[1].Skip {
		t.Error("vendor_b guard: expected skip, partition not in cache")
	}
	if outcomes[2].Err == nil {
		t.Error("flash xbl_a: expected SensitivePartitionBlocked without AllowSensitive")
	}
	if outcomes[3].Err != nil {
		t.Errorf("erase userdata: %v", outcomes[3].Err)
	}
	if outcomes[4].Err != nil {
		t.Errorf("set_active a: %v", outcomes[4].Err)
	}
	if outcomes[5].Err != nil {
		t.Errorf("reboot-bootloader: %v", outcomes[5].Err)
	}
}
