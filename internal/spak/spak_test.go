package spak

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"hash/crc32"
	"testing"
)

func putCString(rec []byte, s string) {
	copy(rec, s)
}

func buildEntryRecord(name, category, subcategory string, dataOffset, compSize, origSize, crc, typ, flags, addr uint32) []byte {
	rec := make([]byte, entryLen)
	putCString(rec[0:32], name)
	putCString(rec[32:48], category)
	putCString(rec[48:64], subcategory)
	binary.LittleEndian.PutUint32(rec[64:68], dataOffset)
	binary.LittleEndian.PutUint32(rec[68:72], compSize)
	binary.LittleEndian.PutUint32(rec[72:76], origSize)
	binary.LittleEndian.PutUint32(rec[76:80], crc)
	binary.LittleEndian.PutUint32(rec[80:84], typ)
	binary.LittleEndian.PutUint32(rec[84:88], flags)
	binary.LittleEndian.PutUint32(rec[88:92], addr)
	return rec
}

func buildContainer(t *testing.T, plainBody, gzBody []byte) []byte {
	t.Helper()

	var gzBuf bytes.Buffer
	gw := gzip.NewWriter(&gzBuf)
	if _, err := gw.Write(gzBody); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	gzCompressed := gzBuf.Bytes()

	entries := []byte{}
	entries = append(entries, buildEntryRecord("loader.bin", "loader", "qualcomm",
		0, uint32(len(plainBody)), uint32(len(plainBody)), crc32.ChecksumIEEE(plainBody), 1, 0, 0x2a000000)...)
	entries = append(entries, buildEntryRecord("rawprogram.xml", "config", "qualcomm",
		uint32(len(plainBody)), uint32(len(gzCompressed)), uint32(len(gzBody)), crc32.ChecksumIEEE(gzBody), 2, flagGzip, 0)...)

	dataOffset := headerLen + len(entries)
	data := append([]byte{}, entries...)
	data = append(data, plainBody...)
	data = append(data, gzCompressed...)

	header := make([]byte, headerLen)
	copy(header[0:4], magic)
	binary.LittleEndian.PutUint16(header[4:6], version0200)
	binary.LittleEndian.PutUint32(header[8:12], 2)
	binary.LittleEndian.PutUint32(header[20:24], uint32(dataOffset))

	return append(header, data...)
}

func TestOpen_LookupAndExtract(t *testing.T) {
	plainBody := []byte("FIREHOSE LOADER BYTES")
	gzBody := []byte("<?xml version=\"1.0\"?><data><program/></data>")

	container := buildContainer(t, plainBody, gzBody)
	pack, err := Open(container)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(pack.Entries()) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(pack.Entries()))
	}

	loaders := pack.Lookup("loader", "")
	if len(loaders) != 1 || loaders[0].Name != "loader.bin" {
		t.Fatalf("unexpected loader lookup: %+v", loaders)
	}

	body, err := pack.ExtractByName("loader.bin")
	if err != nil {
		t.Fatalf("ExtractByName(loader.bin): %v", err)
	}
	if !bytes.Equal(body, plainBody) {
		t.Errorf("plain body mismatch: got %q want %q", body, plainBody)
	}

	xml, err := pack.ExtractByName("rawprogram.xml")
	if err != nil {
		t.Fatalf("ExtractByName(rawprogram.xml): %v", err)
	}
	if !bytes.Equal(xml, gzBody) {
		t.Errorf("gzipped body mismatch: got %q want %q", xml, gzBody)
	}
}

func TestOpen_RejectsBadMagic(t *testing.T) {
	if _, err := Open(make([]byte, 64)); err == nil {
		t.Error("expected error for missing SPAK magic")
	}
}

func TestExtract_RejectsCorruptChecksum(t *testing.T) {
	plainBody := []byte("DATA")
	container := buildContainer(t, plainBody, []byte("gz"))
	pack, err := Open(container)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	entries := pack.Entries()
	entries[0].CRC32 ^= 0xFFFFFFFF
	if _, err := pack.Extract(entries[0]); err == nil {
		t.Error("expected checksum mismatch error")
	}
}
