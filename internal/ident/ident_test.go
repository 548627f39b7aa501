package ident

import (
	"bytes"
	"strings"
	"testing"
)

func TestDigestHexRoundTrip(t *testing.T) {
	d := DigestOf([]byte("hello skie"))
	s := d.String()
	if len(s) != DigestSize*2 {
		t.Fatalf("hex length: got %d", len(s))
	}
	if s != strings.ToLower(s) {
		t.Errorf("expected lowercase hex, got %q", s)
	}

	parsed, err := ParseDigest(s)
	if err != nil {
		t.Fatalf("ParseDigest: %v", err)
	}
	if parsed != d {
		t.Error("round trip mismatch")
	}
}

func TestParseDigestRejectsBadInput(t *testing.T) {
	if _, err := ParseDigest("abcd"); err == nil {
		t.Error("short input accepted")
	}
	if _, err := ParseDigest(strings.Repeat("zz", DigestSize)); err == nil {
		t.Error("non-hex input accepted")
	}
}

func TestDigestScanValue(t *testing.T) {
	d := DigestOf([]byte{1, 2, 3})

	v, err := d.Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}
	raw, ok := v.([]byte)
	if !ok || len(raw) != DigestSize {
		t.Fatalf("expected %d-byte blob, got %T", DigestSize, v)
	}

	var back Digest
	if err := back.Scan(raw); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if back != d {
		t.Error("scan/value round trip mismatch")
	}

	if err := back.Scan("not a blob"); err == nil {
		t.Error("string scan accepted")
	}
	if err := back.Scan(raw[:5]); err == nil {
		t.Error("short blob accepted")
	}
}

func TestDigestReaderMatchesDigestOf(t *testing.T) {
	data := bytes.Repeat([]byte{0xA5}, 100_000)

	streamed, n, err := DigestReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("DigestReader: %v", err)
	}
	if n != int64(len(data)) {
		t.Errorf("consumed %d bytes, want %d", n, len(data))
	}
	if streamed != DigestOf(data) {
		t.Error("streamed digest differs from one-shot digest")
	}
}

func TestDigestIsZero(t *testing.T) {
	var zero Digest
	if !zero.IsZero() {
		t.Error("zero value not reported as zero")
	}
	if DigestOf(nil).IsZero() {
		t.Error("hash of empty input must not be the zero value")
	}
}

func TestNewFileIDUniqueness(t *testing.T) {
	seen := map[FileID]bool{}
	for range 1000 {
		id := NewFileID()
		if seen[id] {
			t.Fatal("duplicate file id")
		}
		seen[id] = true
	}
	// Canonical hyphenated 8-4-4-4-12 form.
	if len(NewFileID().String()) != 36 {
		t.Error("unexpected file id string form")
	}
}
