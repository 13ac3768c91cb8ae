package core

import "fmt"

// ErrorKind classifies the failures the engine surfaces to callers, so they
// can branch with errors.As instead of string matching.
type ErrorKind int

const (
	// SignatureInvalid: an incoming operation failed Ed25519 verification.
	SignatureInvalid ErrorKind = iota
	// DecodeError: bytes off the wire or off disk are not a valid encoding.
	DecodeError
	// DuplicateAtDifferentSignature: the pending buffer already holds a
	// distinct signed payload at this (author, counter).
	DuplicateAtDifferentSignature
	// StorageConflict: a persisted operation file already exists where the
	// outbox wants to write.
	StorageConflict
	// KeyMaterialMissing: the key-storage collaborator could not locate or
	// generate a keypair.
	KeyMaterialMissing
)

func (k ErrorKind) String() string {
	switch k {
	case SignatureInvalid:
		return "signature_invalid"
	case DecodeError:
		return "decode_error"
	case DuplicateAtDifferentSignature:
		return "duplicate_at_different_signature"
	case StorageConflict:
		return "storage_conflict"
	case KeyMaterialMissing:
		return "key_material_missing"
	default:
		return "unknown"
	}
}

// Error wraps one of the ErrorKinds above with context and an optional cause.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Unwrap exposes the wrapped cause, if any, to errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.Err }

func newError(kind ErrorKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

// NewError constructs an Error of the given kind for collaborator packages
// (keystore, store) that need to surface the same typed-error kinds the
// engine uses, without reaching into its unexported constructor.
func NewError(kind ErrorKind, msg string, cause error) *Error {
	return newError(kind, msg, cause)
}
