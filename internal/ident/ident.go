// Package ident defines the stable identifier types shared across the
// engine: file ids and chunk digests.
//
// A file id is an opaque random 128-bit UUID assigned when a file is first
// seen; it survives renames and content changes. A chunk digest is the
// 256-bit BLAKE3 hash of the chunk's exact bytes and doubles as the chunk's
// identity — there is no separate naming scheme.
package ident

import (
	"database/sql/driver"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/google/uuid"
	"lukechampine.com/blake3"
)

// DigestSize is the byte length of a chunk or whole-file digest.
const DigestSize = 32

// Digest is a 256-bit BLAKE3 hash used both as identity and integrity check.
type Digest [DigestSize]byte

// DigestOf hashes b and returns its digest.
func DigestOf(b []byte) Digest {
	return Digest(blake3.Sum256(b))
}

// DigestReader streams r through the hash and returns the digest together
// with the number of bytes consumed.
func DigestReader(r io.Reader) (Digest, int64, error) {
	h := blake3.New(DigestSize, nil)
	n, err := io.Copy(h, r)
	if err != nil {
		return Digest{}, n, fmt.Errorf("digest stream: %w", err)
	}
	var d Digest
	copy(d[:], h.Sum(nil))
	return d, n, nil
}

// ParseDigest parses the 64-character lowercase hex form.
func ParseDigest(s string) (Digest, error) {
	if len(s) != DigestSize*2 {
		return Digest{}, fmt.Errorf("invalid digest length: %d (want %d)", len(s), DigestSize*2)
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Digest{}, fmt.Errorf("invalid digest: %w", err)
	}
	var d Digest
	copy(d[:], raw)
	return d, nil
}

// String returns the lowercase hex representation.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Bytes returns the digest as a byte slice, suitable for BLOB columns.
func (d Digest) Bytes() []byte {
	out := make([]byte, DigestSize)
	copy(out, d[:])
	return out
}

// IsZero reports whether the digest is the all-zero value.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// Value implements driver.Valuer so digests bind directly as BLOBs.
func (d Digest) Value() (driver.Value, error) {
	return d.Bytes(), nil
}

// Scan implements sql.Scanner for BLOB columns.
func (d *Digest) Scan(src any) error {
	raw, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("scan digest: unsupported type %T", src)
	}
	if len(raw) != DigestSize {
		return fmt.Errorf("scan digest: got %d bytes, want %d", len(raw), DigestSize)
	}
	copy(d[:], raw)
	return nil
}

// FileID identifies a tracked file. It is a random UUID displayed in the
// canonical hyphenated form.
type FileID = uuid.UUID

// NewFileID returns a fresh random file id.
func NewFileID() FileID {
	return uuid.New()
}
