// Package core implements the operation protocol, the per-replica apply
// engine, and the Applyable contract for building peer-to-peer CRDT
// applications.
package core

import (
	"crypto/ed25519"
	crand "crypto/rand"
	"crypto/sha256"
)

// UserPubKey, UserSecKey and Signature are opaque byte sequences produced by
// the Ed25519 keypair generator. They carry no structure beyond their raw
// bytes; callers should not assume a fixed length beyond what the scheme
// guarantees.
type UserPubKey []byte

// UserSecKey is the secret counterpart of a UserPubKey. It must never leave
// the owning process's trust boundary; Wipe zeroes it on teardown when the
// caller is done signing with it.
type UserSecKey []byte

// Signature is a detached Ed25519 signature.
type Signature []byte

// Key returns a stable, comparable representation of the public key for use
// as a map key (state vector, pending buffer). []byte is not itself
// comparable; converting to string copies the bytes once and is the
// idiomatic way to key a map by byte-slice identity.
func (k UserPubKey) Key() string { return string(k) }

// GenerateKeyPair produces a fresh Ed25519 keypair.
func GenerateKeyPair() (UserPubKey, UserSecKey, error) {
	pub, sec, err := ed25519.GenerateKey(crand.Reader)
	if err != nil {
		return nil, nil, err
	}
	return UserPubKey(pub), UserSecKey(sec), nil
}

// Sign produces a detached signature over data using sec.
func Sign(data []byte, sec UserSecKey) Signature {
	return Signature(ed25519.Sign(ed25519.PrivateKey(sec), data))
}

// Verify reports whether sig is a valid Ed25519 signature over data by pub.
// Verification failure is a boolean, not an error: callers decide what to do
// with an invalid signature (the engine rejects the operation).
func Verify(sig Signature, data []byte, pub UserPubKey) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), data, []byte(sig))
}

// Hash returns the SHA-256 digest of data. Used by the key-storage
// collaborator to key per-project keypairs by a digest of the project path.
func Hash(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// Wipe zeroes a secret key in place. Best effort: the garbage collector may
// have already copied the underlying bytes elsewhere.
func (k UserSecKey) Wipe() {
	for i := range k {
		k[i] = 0
	}
}
