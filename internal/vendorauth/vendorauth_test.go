package vendorauth

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/flashkit/flashkit/internal/events"
	"github.com/flashkit/flashkit/internal/firehose"
	fh "github.com/flashkit/flashkit/internal/framing/firehose"
	"github.com/flashkit/flashkit/internal/transport"
)

// TestDigestSignatureHappyPath exercises the digest+signature strategy end
// to end: a <sig/> ACK, the raw signature bytes, then a terminal ACK and a
// confirming nop.
func TestDigestSignatureHappyPath(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "digest.bin", []byte("digest-bytes"))
	writeFile(t, dir, "signature.bin", []byte("signature-bytes"))

	hostCh, deviceCh := transport.NewMemoryPipe("host", "device")
	handle := transport.NewHandle(hostCh)
	bus := events.NewBus()
	defer bus.Close()
	go func() {
		for range bus.Events() {
		}
	}()
	sess := firehose.New(handle, bus)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	done := make(chan bool, 1)
	errCh := make(chan error, 1)
	go func() {
		ok, err := (DigestSignature{}).Authenticate(ctx, sess, dir)
		done <- ok
		errCh <- err
	}()

	readCommand(t, ctx, deviceCh)
	sendResponse(t, ctx, deviceCh, fh.ResponseACK)

	buf := make([]byte, 64)
	n, err := deviceCh.Receive(ctx, buf)
	if err != nil {
		t.Fatalf("device receive signature: %v", err)
	}
	if string(buf[:n]) != "signature-bytes" {
		t.Fatalf("expected signature bytes on wire, got %q", buf[:n])
	}
	sendResponse(t, ctx, deviceCh, fh.ResponseACK)

	// confirming nop
	readCommand(t, ctx, deviceCh)
	sendResponse(t, ctx, deviceCh, fh.ResponseACK)

	if ok := <-done; !ok {
		t.Fatalf("expected successful authentication, err=%v", <-errCh)
	}
}

// TestMiAuthFallsBackToChallenge exercises the MiAuth strategy's fallback
// path: every built-in blob is NAKed, so it requests a challenge token and
// surfaces it on the bus instead of returning an error.
func TestMiAuthFallsBackToChallenge(t *testing.T) {
	hostCh, deviceCh := transport.NewMemoryPipe("host", "device")
	handle := transport.NewHandle(hostCh)
	bus := events.NewBus()
	defer bus.Close()

	challenges := make(chan string, 1)
	go func() {
		for ev := range bus.Events() {
			if ev.Kind == events.ErrorOccurred && ev.ErrKind == "MiAuthChallenge" {
				challenges <- ev.Message
			}
		}
	}()

	sess := firehose.New(handle, bus)
	strategy := MiAuth{Bus: bus}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	done := make(chan bool, 1)
	go func() {
		ok, _ := strategy.Authenticate(ctx, sess, "")
		done <- ok
	}()

	for range builtinMiAuthBlobs() {
		readCommand(t, ctx, deviceCh)
		sendResponse(t, ctx, deviceCh, fh.ResponseNAK)
	}

	readCommand(t, ctx, deviceCh) // the TargetName="req" challenge request
	sendElementWithValue(t, ctx, deviceCh, "response", "value", "abc123token")

	if ok := <-done; ok {
		t.Fatalf("expected fallback path to return false, got true")
	}
	select {
	case token := <-challenges:
		if token != "abc123token" {
			t.Fatalf("expected challenge token abc123token, got %q", token)
		}
	case <-time.After(time.Second):
		t.Fatal("expected MiAuthChallenge event")
	}
}

func readCommand(t *testing.T, ctx context.Context, ch *transport.MemoryChannel) fh.Element {
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

func sendElementWithValue(t *testing.T, ctx context.Context, ch *transport.MemoryChannel, name, attr, value string) {
	t.Helper()
	blob := fh.EncodeCommand(name, [][2]string{{attr, value}})
	if _, err := ch.Send(ctx, blob); err != nil {
		t.Fatalf("device send %s: %v", name, err)
	}
}

func writeFile(t *testing.T, dir, name string, data []byte) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}
