package core

import "math"

// NatDelta is the description type for Nat: how much to add.
type NatDelta uint32

// Encode serializes the delta for signing/persistence.
func (d NatDelta) Encode() []byte {
	return NewEncoder().Uint32(uint32(d)).Finish()
}

// DecodeNatDelta is the inverse of NatDelta.Encode.
func DecodeNatDelta(b []byte) (NatDelta, error) {
	v, err := NewDecoder(b).Uint32()
	if err != nil {
		return 0, err
	}
	return NatDelta(v), nil
}

// Nat is a saturating u32 counter: the reference Applyable used as a
// conformance fixture. It ignores author and counter.
type Nat struct {
	Value uint32
}

// Name identifies this data type for diagnostics.
func (Nat) Name() string { return "Nat" }

// Encode serializes the current value, for the CRDTInfo header.
func (n Nat) Encode() []byte {
	return NewEncoder().Uint32(n.Value).Finish()
}

// DecodeNat is the inverse of Nat.Encode.
func DecodeNat(b []byte) (Nat, error) {
	v, err := NewDecoder(b).Uint32()
	if err != nil {
		return Nat{}, err
	}
	return Nat{Value: v}, nil
}

// Fold saturates at math.MaxUint32 rather than wrapping, so it stays total.
func (n Nat) Fold(desc NatDelta, author UserPubKey, counter uint32) Applyable[NatDelta] {
	sum := uint64(n.Value) + uint64(desc)
	if sum > math.MaxUint32 {
		sum = math.MaxUint32
	}
	return Nat{Value: uint32(sum)}
}
