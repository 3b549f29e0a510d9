// Package record defines the signed, hashed unit of data that flows
// through the sync engine and its canonical, hash-stable serialization.
package record

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrHashMismatch is returned by Verify when integrity.hash does not
// match the canonical serialization of the record.
var ErrHashMismatch = errors.New("record: integrity hash mismatch")

// Author identifies who produced a record by their x-only public key.
type Author struct {
	Npub string `json:"npub"`
}

// Content is the user-supplied payload of a record.
type Content struct {
	Text string  `json:"text"`
	Link *string `json:"link,omitempty"`
}

// Geo is the location a record is tagged with.
type Geo struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Integrity carries the content hash and signature over the record's
// canonical serialization.
type Integrity struct {
	Hash      string `json:"hash"`
	Signature string `json:"signature"`
}

// Record is a single admitted unit of synchronized data, keyed by UUID.
type Record struct {
	UUID      uuid.UUID `json:"uuid"`
	CreatedAt int64     `json:"created_at"`
	Bucket    string    `json:"bucket"`
	Author    Author    `json:"author"`
	Content   Content   `json:"content"`
	Geo       Geo       `json:"geo"`
	Integrity Integrity `json:"integrity"`
}

// canonical mirrors Record but omits Integrity and fixes field order,
// matching the wire canonicalization: {uuid, created_at, bucket,
// author, content, geo}.
type canonical struct {
	UUID      uuid.UUID `json:"uuid"`
	CreatedAt int64     `json:"created_at"`
	Bucket    string    `json:"bucket"`
	Author    Author    `json:"author"`
	Content   Content   `json:"content"`
	Geo       Geo       `json:"geo"`
}

// CanonicalBytes returns the UTF-8 bytes that integrity.hash is computed
// over: the record's fields, excluding integrity, in declared order.
func (r Record) CanonicalBytes() ([]byte, error) {
	c := canonical{
		UUID:      r.UUID,
		CreatedAt: r.CreatedAt,
		Bucket:    r.Bucket,
		Author:    r.Author,
		Content:   r.Content,
		Geo:       r.Geo,
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("record: encode canonical form: %w", err)
	}
	// json.Encoder.Encode appends a trailing newline; strip it so the
	// hashed bytes are exactly the serialized object.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// ComputeHash returns the hex-lowercase SHA-256 of the record's
// canonical serialization.
func (r Record) ComputeHash() (string, error) {
	b, err := r.CanonicalBytes()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// Verify reports whether integrity.hash matches the canonical
// serialization of r. It does not check the signature; that is the
// caller's responsibility via the signing primitives (keymgr).
func (r Record) Verify() error {
	want, err := r.ComputeHash()
	if err != nil {
		return err
	}
	if want != r.Integrity.Hash {
		return fmt.Errorf("%w: computed %s, record carries %s", ErrHashMismatch, want, r.Integrity.Hash)
	}
	return nil
}

// ID returns the record's string identifier for use as a map key.
func (r Record) ID() string {
	return r.UUID.String()
}
