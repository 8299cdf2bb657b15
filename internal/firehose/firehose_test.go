package firehose

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/flashkit/flashkit/internal/events"
	fh "github.com/flashkit/flashkit/internal/framing/firehose"
	"github.com/flashkit/flashkit/internal/transport"
)

// TestConfigureRetriesNarrowerPayload exercises SPEC_FULL §C.2: a device
// that NAKs the default 1MiB MaxPayloadSizeToTargetInBytes gets a second
// <configure/> at 65536 before the engine gives up.
func TestConfigureRetriesNarrowerPayload(t *testing.T) {
	hostCh, deviceCh := transport.NewMemoryPipe("host", "device")
	handle := transport.NewHandle(hostCh)
	bus := events.NewBus()
	defer bus.Close()
	go func() {
		for range bus.Events() {
		}
	}()

	sess := New(handle, bus)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- sess.Configure(ctx, StorageUFS, false, false) }()

	// First configure: NAK it.
	first := readCommandFor(t, ctx, deviceCh)
	if first.Attr("MaxPayloadSizeToTargetInBytes") != "1048576" {
		t.Fatalf("expected default payload on first attempt, got %s", first.Attrs)
	}
	sendResponse(t, ctx, deviceCh, fh.ResponseNAK)

	// Second configure: expect the narrower size, ACK it.
	second := readCommandFor(t, ctx, deviceCh)
	if second.Attr("MaxPayloadSizeToTargetInBytes") != "65536" {
		t.Fatalf("expected narrow payload on retry, got %s", second.Attrs)
	}
	sendResponse(t, ctx, deviceCh, fh.ResponseACK)

	if err := <-done; err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if sess.MaxPayload != narrowMaxPayload {
		t.Fatalf("expected session to adopt narrow payload, got %d", sess.MaxPayload)
	}
}

// TestProgramStreamsExactChunking exercises a scaled-down version of S2
// (spec §8): streaming chunks of MaxPayload bytes and a single terminal ACK.
func TestProgramStreamsExactChunking(t *testing.T) {
	hostCh, deviceCh := transport.NewMemoryPipe("host", "device")
	handle := transport.NewHandle(hostCh)
	bus := events.NewBus()
	defer bus.Close()

	progressEvents := 0
	go func() {
		for ev := range bus.Events() {
			if ev.Kind == events.ProgressChanged && ev.Stage == "program" {
				progressEvents++
			}
		}
	}()

	sess := New(handle, bus)
	sess.Storage = StorageUFS
	sess.SectorSize = 4096
	sess.MaxPayload = 256 * 1024 // scaled down from the spec'd 1MiB for test speed
	sess.Configured = true

	const numChunks = 8
	total := int(sess.MaxPayload) * numChunks
	numSectors := uint64(total) / uint64(sess.SectorSize)
	src := bytes.NewReader(bytes.Repeat([]byte{0x5A}, total))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- sess.Program(ctx, 0, 1000, numSectors, src, false) }()

	// device side: ACK the command, then read exactly `total` bytes in chunks
	readCommandFor(t, ctx, deviceCh)
	sendResponse(t, ctx, deviceCh, fh.ResponseACK)

	got := 0
	chunks := 0
	buf := make([]byte, sess.MaxPayload)
	for got < total {
		n, err := deviceCh.Receive(ctx, buf)
		if err != nil {
			t.Fatalf("device receive: %v", err)
		}
		got += n
		chunks++
	}
	if got != total {
		t.Fatalf("expected %d bytes streamed, got %d", total, got)
	}
	if chunks != numChunks {
		t.Fatalf("expected %d chunks of MaxPayload bytes, got %d", numChunks, chunks)
	}
	sendResponse(t, ctx, deviceCh, fh.ResponseACK)

	if err := <-done; err != nil {
		t.Fatalf("Program failed: %v", err)
	}
}

func readCommandFor(t *testing.T, ctx context.Context, ch *transport.MemoryChannel) fh.Element {
	t.Helper()
	buf := make([]byte, 64*1024)
	n, err := ch.Receive(ctx, buf)
	if err != nil {
		t.Fatalf("device receive command: %v", err)
	}
	elements, err := fh.ParseElements(buf[:n])
	if err != nil {
		t.Fatalf("device parse command: %v", err)
	}
	return elements[0]
}

func sendResponse(t *testing.T, ctx context.Context, ch *transport.MemoryChannel, value fh.ResponseValue) {
	t.Helper()
	blob := fh.EncodeCommand("response", [][2]string{{"value", string(value)}})
	if _, err := ch.Send(ctx, blob); err != nil {
		t.Fatalf("device send response: %v", err)
	}
}
