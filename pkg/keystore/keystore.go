// Package keystore implements key management: a process-wide keys record
// holding a computer-level default keypair plus a mapping from hashed
// project-directory path to a per-directory keypair. The engine only ever
// sees the resulting (pub, sec) pair — it never touches this package
// directly. The at-rest format is PBKDF2-derived key, AES-256-GCM,
// salt+nonce+cipher hex-encoded as JSON.
package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	crand "crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"golang.org/x/crypto/pbkdf2"

	"pennycrdt/core"
	"pennycrdt/pkg/utils"
)

const (
	pbkdf2Iterations = 100_000
	saltSize         = 16
	nonceSize        = 12
	keySize          = 32
)

// KeyPair is a public/secret key pair as returned to the engine.
type KeyPair struct {
	Pub core.UserPubKey
	Sec core.UserSecKey
}

type storedKeyPair struct {
	Pub string `json:"pub"`
	Sec string `json:"sec"`
}

func (kp KeyPair) toStored() storedKeyPair {
	return storedKeyPair{Pub: hex.EncodeToString(kp.Pub), Sec: hex.EncodeToString(kp.Sec)}
}

func (s storedKeyPair) toKeyPair() (KeyPair, error) {
	pub, err := hex.DecodeString(s.Pub)
	if err != nil {
		return KeyPair{}, utils.Wrap(err, "keystore: decode public key")
	}
	sec, err := hex.DecodeString(s.Sec)
	if err != nil {
		return KeyPair{}, utils.Wrap(err, "keystore: decode secret key")
	}
	return KeyPair{Pub: core.UserPubKey(pub), Sec: core.UserSecKey(sec)}, nil
}

// record is the plaintext shape encrypted at rest.
type record struct {
	Default  *storedKeyPair           `json:"default,omitempty"`
	Projects map[string]storedKeyPair `json:"projects"`
}

// envelope is the on-disk JSON: PBKDF2 salt + AES-GCM nonce + ciphertext,
// all hex-encoded.
type envelope struct {
	Salt   string `json:"salt"`
	Nonce  string `json:"nonce"`
	Cipher string `json:"cipher"`
}

// Store is an opened, decrypted keys record backed by a single file.
type Store struct {
	path       string
	passphrase []byte
	rec        record
}

// Open loads path, decrypting with passphrase. A missing file is not an
// error: Open starts a fresh, empty record that Save will create.
func Open(path string, passphrase []byte) (*Store, error) {
	s := &Store{path: path, passphrase: passphrase, rec: record{Projects: make(map[string]storedKeyPair)}}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, core.NewError(core.KeyMaterialMissing, "keystore: read", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, core.NewError(core.KeyMaterialMissing, "keystore: malformed envelope", err)
	}
	plain, err := decrypt(env, passphrase)
	if err != nil {
		return nil, core.NewError(core.KeyMaterialMissing, "keystore: decrypt", err)
	}
	if err := json.Unmarshal(plain, &s.rec); err != nil {
		return nil, core.NewError(core.KeyMaterialMissing, "keystore: malformed record", err)
	}
	if s.rec.Projects == nil {
		s.rec.Projects = make(map[string]storedKeyPair)
	}
	return s, nil
}

// Default returns the computer-level default keypair, minting and
// persisting one on first use.
func (s *Store) Default() (KeyPair, error) {
	if s.rec.Default != nil {
		return s.rec.Default.toKeyPair()
	}
	kp, err := mint()
	if err != nil {
		return KeyPair{}, err
	}
	stored := kp.toStored()
	s.rec.Default = &stored
	if err := s.save(); err != nil {
		return KeyPair{}, err
	}
	return kp, nil
}

// ForProject returns the keypair bound to dir, canonicalizing the path and
// hashing it with core.Hash so the mapping is stable across invocations.
// A project seen for the first time gets a freshly minted keypair,
// persisted immediately.
func (s *Store) ForProject(dir string) (KeyPair, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return KeyPair{}, core.NewError(core.KeyMaterialMissing, "keystore: resolve project path", err)
	}
	key := hex.EncodeToString(core.Hash([]byte(filepath.Clean(abs))))

	if stored, ok := s.rec.Projects[key]; ok {
		return stored.toKeyPair()
	}

	kp, err := mint()
	if err != nil {
		return KeyPair{}, err
	}
	s.rec.Projects[key] = kp.toStored()
	if err := s.save(); err != nil {
		return KeyPair{}, err
	}
	return kp, nil
}

func mint() (KeyPair, error) {
	pub, sec, err := core.GenerateKeyPair()
	if err != nil {
		return KeyPair{}, core.NewError(core.KeyMaterialMissing, "keystore: generate keypair", err)
	}
	return KeyPair{Pub: pub, Sec: sec}, nil
}

func (s *Store) save() error {
	plain, err := json.Marshal(s.rec)
	if err != nil {
		return utils.Wrap(err, "keystore: marshal record")
	}
	env, err := encrypt(plain, s.passphrase)
	if err != nil {
		return utils.Wrap(err, "keystore: encrypt record")
	}
	raw, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return utils.Wrap(err, "keystore: marshal envelope")
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return utils.Wrap(err, "keystore: create keystore directory")
	}
	return os.WriteFile(s.path, raw, 0o600)
}

func deriveKey(passphrase, salt []byte) []byte {
	return pbkdf2.Key(passphrase, salt, pbkdf2Iterations, keySize, sha256.New)
}

func encrypt(plain, passphrase []byte) (envelope, error) {
	salt := make([]byte, saltSize)
	if _, err := crand.Read(salt); err != nil {
		return envelope{}, err
	}
	key := deriveKey(passphrase, salt)

	block, err := aes.NewCipher(key)
	if err != nil {
		return envelope{}, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return envelope{}, err
	}
	nonce := make([]byte, nonceSize)
	if _, err := crand.Read(nonce); err != nil {
		return envelope{}, err
	}
	ciphertext := gcm.Seal(nil, nonce, plain, nil)

	return envelope{
		Salt:   hex.EncodeToString(salt),
		Nonce:  hex.EncodeToString(nonce),
		Cipher: hex.EncodeToString(ciphertext),
	}, nil
}

func decrypt(env envelope, passphrase []byte) ([]byte, error) {
	salt, err := hex.DecodeString(env.Salt)
	if err != nil {
		return nil, err
	}
	nonce, err := hex.DecodeString(env.Nonce)
	if err != nil {
		return nil, err
	}
	ciphertext, err := hex.DecodeString(env.Cipher)
	if err != nil {
		return nil, err
	}
	key := deriveKey(passphrase, salt)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, nonce, ciphertext, nil)
}
