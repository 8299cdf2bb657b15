package sahara

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/flashkit/flashkit/internal/events"
	fr "github.com/flashkit/flashkit/internal/framing/sahara"
	"github.com/flashkit/flashkit/internal/transport"
)

func encodeHelloForTest(h fr.Hello) []byte {
	buf := make([]byte, 40)
	binary.LittleEndian.PutUint32(buf[0:4], h.Version)
	binary.LittleEndian.PutUint32(buf[4:8], h.VersionCompat)
	binary.LittleEndian.PutUint32(buf[8:12], h.MaxPacketSize)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(h.Mode))
	return buf
}

func encodeReadData64ForTest(offset, length uint64) []byte {
	buf := make([]byte, 24)
	binary.LittleEndian.PutUint64(buf[8:16], offset)
	binary.LittleEndian.PutUint64(buf[16:24], length)
	return buf
}

func encodeEndImageTransferForTest(status uint32) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[4:8], status)
	return buf
}

// fakeDevice plays the device side of the S1 scenario (spec §8): Hello v3
// max-packet 0xFFFF mode IMAGE-XFER, then ReadData64 for [0,262144) and
// [262144,524288), then EndImageTransfer status=0.
func fakeDevice(t *testing.T, ch *transport.MemoryChannel, loaderLen int) {
	t.Helper()
	ctx := context.Background()

	send := func(f fr.Frame) {
		if _, err := ch.Send(ctx, fr.Encode(f)); err != nil {
			t.Errorf("device send: %v", err)
		}
	}
	recvFrame := func() fr.Frame {
		header := make([]byte, 8)
		readExactTest(t, ctx, ch, header)
		length, _ := fr.PeekLength(header)
		rest := make([]byte, length)
		copy(rest, header)
		if length > 8 {
			readExactTest(t, ctx, ch, rest[8:])
		}
		f, err := fr.Decode(rest)
		if err != nil {
			t.Fatalf("device decode: %v", err)
		}
		return f
	}

	hello := fr.Hello{Version: 3, VersionCompat: 1, MaxPacketSize: 0xFFFF, Mode: fr.ModeImageTxPending}
	send(fr.Frame{Command: fr.CmdHello, Payload: encodeHelloForTest(hello)})

	helloResp := recvFrame()
	if helloResp.Command != fr.CmdHelloResponse {
		t.Fatalf("expected HelloResponse, got %v", helloResp.Command)
	}

	offsets := []uint64{0, 262144}
	for _, off := range offsets {
		send(fr.Frame{Command: fr.CmdReadData64, Payload: encodeReadData64ForTest(off, 262144)})
		buf := make([]byte, 262144)
		readExactTest(t, ctx, ch, buf)
	}

	send(fr.Frame{Command: fr.CmdEndImageTransfer, Payload: encodeEndImageTransferForTest(0)})
}

func TestSaharaLoaderUploadS1(t *testing.T) {
	hostCh, deviceCh := transport.NewMemoryPipe("host", "device")
	handle := transport.NewHandle(hostCh)

	loaderLen := 524288
	loader := bytes.NewReader(bytes.Repeat([]byte{0xAB}, loaderLen))

	bus := events.NewBus()
	defer bus.Close()
	go drainEvents(bus)

	sess := New(handle, bus, loader)

	done := make(chan error, 1)
	go func() { done <- sess.Run(context.Background(), int64(loaderLen)) }()

	fakeDevice(t, deviceCh, loaderLen)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for Run")
	}

	if sess.Stage != StageDone {
		t.Fatalf("expected stage DONE, got %s", sess.Stage)
	}
}

func drainEvents(bus *events.Bus) {
	for range bus.Events() {
	}
}

func readExactTest(t *testing.T, ctx context.Context, ch *transport.MemoryChannel, buf []byte) {
	t.Helper()
	read := 0
	for read < len(buf) {
		n, err := ch.Receive(ctx, buf[read:])
		if err != nil {
			t.Fatalf("device receive: %v", err)
		}
		read += n
	}
}
