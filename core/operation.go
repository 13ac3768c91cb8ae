package core

import (
	"bytes"
	"time"
)

// Operation is the canonical wire and storage unit: an immutable, signed,
// self-describing record authored by one account at one counter.
type Operation[D Description] struct {
	// UserPubKey identifies the author. Not covered by the signature — it
	// identifies the verifier, not the signed content.
	UserPubKey UserPubKey
	// Signature is a detached signature over SignedPayload() using the
	// author's secret key.
	Signature Signature
	// Counter is the author-assigned sequence number: the counter of an
	// author's k-th operation is k-1.
	Counter uint32
	// Time is the author's wall clock at creation, as a duration since the
	// Unix epoch. Informational only; never used for ordering.
	Time time.Duration
	// Contents is the data-type-specific description, opaque to the engine.
	Contents D
}

// signedPayload is the canonical encoding of (counter, time, contents) — the
// bytes that get signed and verified. The signature and the public key live
// outside it.
func signedPayload[D Description](counter uint32, t time.Duration, contents D) []byte {
	e := NewEncoder()
	e.Uint32(counter)
	e.Uint64(uint64(t))
	e.Bytes(contents.Encode())
	return e.Finish()
}

// SignedPayload returns the bytes this operation's signature was computed
// over.
func (op Operation[D]) SignedPayload() []byte {
	return signedPayload(op.Counter, op.Time, op.Contents)
}

// Verify reports whether op's signature verifies against its signed payload
// under op.UserPubKey.
func (op Operation[D]) Verify() bool {
	return Verify(op.Signature, op.SignedPayload(), op.UserPubKey)
}

// sameSignature reports whether two operations carry byte-identical
// signatures, used to detect a duplicate (author, counter) arriving with
// genuinely different signed content (forged or Byzantine).
func sameSignature[D Description](a, b Operation[D]) bool {
	return bytes.Equal([]byte(a.Signature), []byte(b.Signature))
}

// Encode serializes the "signed part" of the operation — signature plus
// signable payload — which is what gets persisted to a <counter>.pennyop
// file or sent over the wire. The public key is not included: on disk it is
// recovered from the parent directory name, and on the wire it travels
// alongside out of band.
func (op Operation[D]) Encode() []byte {
	e := NewEncoder()
	e.Bytes([]byte(op.Signature))
	e.Uint32(op.Counter)
	e.Uint64(uint64(op.Time))
	e.Bytes(op.Contents.Encode())
	return e.Finish()
}

// DecodeOperation reconstructs an Operation from the bytes produced by
// Encode, pairing it with pub (recovered separately — from a directory name
// on disk, or out of band on the wire) and decodeDesc (supplied by the
// caller, since descriptions are opaque to the engine).
func DecodeOperation[D Description](b []byte, pub UserPubKey, decodeDesc func([]byte) (D, error)) (Operation[D], error) {
	d := NewDecoder(b)
	sig, err := d.Bytes()
	if err != nil {
		return Operation[D]{}, err
	}
	counter, err := d.Uint32()
	if err != nil {
		return Operation[D]{}, err
	}
	t, err := d.Uint64()
	if err != nil {
		return Operation[D]{}, err
	}
	descBytes, err := d.Bytes()
	if err != nil {
		return Operation[D]{}, err
	}
	desc, err := decodeDesc(descBytes)
	if err != nil {
		return Operation[D]{}, newError(DecodeError, "decode operation contents", err)
	}
	return Operation[D]{
		UserPubKey: pub,
		Signature:  Signature(sig),
		Counter:    counter,
		Time:       time.Duration(t),
		Contents:   desc,
	}, nil
}
