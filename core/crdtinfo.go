package core

import "github.com/google/uuid"

// CRDTInfo is the immutable per-instance header: an identity distinguishing
// concurrent instances of the same data type, plus the encoded initial
// value a fresh Replica starts from.
type CRDTInfo struct {
	ID           uuid.UUID
	Name         string
	InitialValue []byte
}

// NewCRDTInfo mints a header with a fresh random ID.
func NewCRDTInfo(name string, initialValue []byte) CRDTInfo {
	return CRDTInfo{ID: uuid.New(), Name: name, InitialValue: initialValue}
}

// Encode serializes the header for project.penny.
func (info CRDTInfo) Encode() []byte {
	e := NewEncoder()
	idBytes, _ := info.ID.MarshalBinary() // uuid.UUID.MarshalBinary never errors
	e.Raw(idBytes)
	e.Bytes([]byte(info.Name))
	e.Bytes(info.InitialValue)
	return e.Finish()
}

// DecodeCRDTInfo is the inverse of Encode.
func DecodeCRDTInfo(b []byte) (CRDTInfo, error) {
	d := NewDecoder(b)
	idBytes, err := d.Raw(16)
	if err != nil {
		return CRDTInfo{}, err
	}
	id, err := uuid.FromBytes(idBytes)
	if err != nil {
		return CRDTInfo{}, newError(DecodeError, "decode crdt info id", err)
	}
	nameBytes, err := d.Bytes()
	if err != nil {
		return CRDTInfo{}, err
	}
	initial, err := d.Bytes()
	if err != nil {
		return CRDTInfo{}, err
	}
	return CRDTInfo{ID: id, Name: string(nameBytes), InitialValue: initial}, nil
}
