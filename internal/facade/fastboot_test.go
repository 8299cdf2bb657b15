package facade

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	fb "github.com/flashkit/flashkit/internal/framing/fastboot"
	"github.com/flashkit/flashkit/internal/transport"
)

// fakeFastbootDevice answers the small command subset ConnectFastboot's
// GetVarAll handshake and the write/erase paths under test exercise,
// mirroring the real device's OKAY/FAIL/INFO/DATA reply shapes (spec
// §4.2).
func fakeFastbootDevice(t *testing.T, ch *transport.MemoryChannel, flashed *[]byte) {
	t.Helper()
	ctx := context.Background()
	buf := make([]byte, 4096)

	readCmd := func() (string, error) {
		n, err := ch.Receive(ctx, buf)
		if err != nil {
			return "", err
		}
		return string(buf[:n]), nil
	}

	for {
		cmd, err := readCmd()
		if err != nil {
			return
		}
		switch {
		case cmd == "getvar:all":
			ch.Send(ctx, []byte("INFO"+"partition-size:boot:0x100000"))
			ch.Send(ctx, []byte("INFO"+"partition-size:recovery:0x200000"))
			ch.Send(ctx, []byte(string(fb.RespOkay)))
		case strings.HasPrefix(cmd, "download:"):
			ch.Send(ctx, []byte(string(fb.RespData)+"00000004"))
			n, err := ch.Receive(ctx, buf)
			if err != nil {
				return
			}
			*flashed = append([]byte(nil), buf[:n]...)
			ch.Send(ctx, []byte(string(fb.RespOkay)))
		case strings.HasPrefix(cmd, "flash:"):
			ch.Send(ctx, []byte(string(fb.RespOkay)))
		case strings.HasPrefix(cmd, "erase:"):
			ch.Send(ctx, []byte(string(fb.RespOkay)))
		default:
			ch.Send(ctx, []byte(string(fb.RespFail)+"unknown command"))
		}
	}
}

func TestConnectFastboot_ReadsPartitionTableAndWrites(t *testing.T) {
	host, device := transport.NewMemoryPipe("host", "device")
	var flashed []byte
	go fakeFastbootDevice(t, device, &flashed)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sess, err := ConnectFastboot(ctx, host, FastbootOptions{Serial: "TESTSERIAL"})
	if err != nil {
		t.Fatalf("ConnectFastboot: %v", err)
	}
	defer sess.Disconnect()

	table := sess.ReadPartitionTable()
	if len(table) != 2 {
		t.Fatalf("expected 2 partitions from getvar:all cache, got %d: %+v", len(table), table)
	}

	payload := []byte("boot")
	if err := sess.WritePartition(ctx, "boot", bytes.NewReader(payload), int64(len(payload)), false, false, false); err != nil {
		t.Fatalf("WritePartition: %v", err)
	}
	if !bytes.Equal(flashed, payload) {
		t.Errorf("device received %q, want %q", flashed, payload)
	}
}

func TestConnectFastboot_SensitivePartitionRequiresOverride(t *testing.T) {
	host, device := transport.NewMemoryPipe("host", "device")
	var flashed []byte
	go fakeFastbootDevice(t, device, &flashed)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sess, err := ConnectFastboot(ctx, host, FastbootOptions{})
	if err != nil {
		t.Fatalf("ConnectFastboot: %v", err)
	}
	defer sess.Disconnect()

	err = sess.WritePartition(ctx, "xbl_a", bytes.NewReader([]byte("x")), 1, false, true, false)
	if err == nil {
		t.Error("expected error writing a sensitive partition without allowSensitive")
	}
}
