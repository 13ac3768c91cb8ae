package core

import (
	"bytes"
	"encoding/binary"
	"io"
)

// Encoder builds the canonical binary encoding used for signed payloads,
// the CRDTInfo header, and persisted/wire operations. Every variable-length
// field is preceded by a fixed-width big-endian length prefix, and every
// fixed-size field is written raw; this makes the encoding injective over
// the payload domain, which is what keeps signatures unambiguous across
// peers and languages.
type Encoder struct {
	buf bytes.Buffer
}

// NewEncoder returns an empty Encoder.
func NewEncoder() *Encoder { return &Encoder{} }

// Uint32 appends v as 4 big-endian bytes.
func (e *Encoder) Uint32(v uint32) *Encoder {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	e.buf.Write(b[:])
	return e
}

// Uint64 appends v as 8 big-endian bytes.
func (e *Encoder) Uint64(v uint64) *Encoder {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	e.buf.Write(b[:])
	return e
}

// Raw appends b verbatim, with no length prefix. Only use this for
// fixed-width fields whose length is implied by the schema (e.g. a 16-byte
// UUID), otherwise the encoding stops being injective.
func (e *Encoder) Raw(b []byte) *Encoder {
	e.buf.Write(b)
	return e
}

// Bytes appends b preceded by its length as a uint32.
func (e *Encoder) Bytes(b []byte) *Encoder {
	e.Uint32(uint32(len(b)))
	e.buf.Write(b)
	return e
}

// Finish returns the accumulated encoding.
func (e *Encoder) Finish() []byte { return e.buf.Bytes() }

// Decoder reads back values written by Encoder, in the same order.
type Decoder struct {
	r *bytes.Reader
}

// NewDecoder wraps b for sequential decoding.
func NewDecoder(b []byte) *Decoder { return &Decoder{r: bytes.NewReader(b)} }

// Uint32 reads 4 big-endian bytes.
func (d *Decoder) Uint32() (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(d.r, b[:]); err != nil {
		return 0, newError(DecodeError, "decode uint32", err)
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

// Uint64 reads 8 big-endian bytes.
func (d *Decoder) Uint64() (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(d.r, b[:]); err != nil {
		return 0, newError(DecodeError, "decode uint64", err)
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

// Raw reads exactly n bytes verbatim.
func (d *Decoder) Raw(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(d.r, b); err != nil {
		return nil, newError(DecodeError, "decode raw", err)
	}
	return b, nil
}

// Bytes reads a length-prefixed byte slice.
func (d *Decoder) Bytes() ([]byte, error) {
	n, err := d.Uint32()
	if err != nil {
		return nil, err
	}
	return d.Raw(int(n))
}

// Remaining reports how many bytes are left unconsumed.
func (d *Decoder) Remaining() int { return d.r.Len() }
