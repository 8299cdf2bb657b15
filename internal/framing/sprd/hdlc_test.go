package sprd

import (
	"bytes"
	"testing"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	payload := []byte{0x7E, 0x01, 0x7D, 0x02, 0x00}
	raw := Encode(0x0001, payload, ChecksumCRC16)

	frame, err := Decode(raw, ChecksumCRC16)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if frame.Type != 0x0001 {
		t.Errorf("expected type 0x0001, got %#x", frame.Type)
	}
	if !bytes.Equal(frame.Payload, payload) {
		t.Errorf("payload mismatch: got %x want %x", frame.Payload, payload)
	}
}

func TestEncode_EscapesDelimiterAndEscapeBytes(t *testing.T) {
	raw := Encode(0x0002, []byte{0x7E, 0x7D}, ChecksumCRC16)
	if raw[0] != delimiter || raw[len(raw)-1] != delimiter {
		t.Fatalf("frame must start/end with delimiter, got %x", raw)
	}
	inner := raw[1 : len(raw)-1]
	for _, b := range inner {
		if b == delimiter {
			t.Fatalf("unescaped delimiter byte found in stuffed frame: %x", raw)
		}
	}
}

func TestDecode_RejectsChecksumMismatch(t *testing.T) {
	raw := Encode(0x0001, []byte("hello"), ChecksumCRC16)
	raw[len(raw)-3] ^= 0xFF // corrupt a checksum byte just inside the trailing delimiter

	if _, err := Decode(raw, ChecksumCRC16); err == nil {
		t.Error("expected checksum mismatch error")
	}
}

func TestDecode_SumMode(t *testing.T) {
	raw := Encode(0x0003, []byte("fdl2"), ChecksumSum16)
	frame, err := Decode(raw, ChecksumSum16)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if string(frame.Payload) != "fdl2" {
		t.Errorf("unexpected payload: %q", frame.Payload)
	}
}

func TestDecode_RejectsMissingDelimiter(t *testing.T) {
	if _, err := Decode([]byte{0x01, 0x02}, ChecksumCRC16); err == nil {
		t.Error("expected error for frame missing delimiters")
	}
}
