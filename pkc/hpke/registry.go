// Package hpke implements RFC 9180 Hybrid Public Key Encryption in Base
// mode for the suite set this project ships:
//
//	KEM:  DHKEM(X25519, HKDF-SHA256)   (0x0020)
//	KDF:  HKDF-SHA256                  (0x0001)
//	AEAD: AES-128-GCM, AES-256-GCM     (0x0001, 0x0002)
//
// Adding a curve or AEAD is a registry entry, not a redesign.
package hpke

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"
)

type (
	KemID  uint16
	KdfID  uint16
	AeadID uint16
)

// Codepoints from the RFC 9180 IANA registry.
const (
	DHKemX25519HkdfSha256 KemID  = 0x0020
	KdfHkdfSha256         KdfID  = 0x0001
	AeadAes128Gcm         AeadID = 0x0001
	AeadAes256Gcm         AeadID = 0x0002
)

// kemParams fixes the byte lengths of a KEM's keys and outputs.
type kemParams struct {
	id      KemID
	npk     int // serialized public key
	nsk     int // private scalar, also the DeriveKeyPair seed length
	nsecret int // KEM shared secret
}

type kdfParams struct {
	id KdfID
	nh int // digest size
}

// aeadParams fixes AEAD sizes and carries the cipher constructor.
type aeadParams struct {
	id  AeadID
	nk  int
	nn  int
	nt  int
	new func(key []byte) (cipher.AEAD, error)
}

func newAesGcm(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// resolve* are pure lookups over the closed identifier sets. Unknown ids
// fail before any key material is touched.

func resolveKem(id KemID) (kemParams, error) {
	if id != DHKemX25519HkdfSha256 {
		return kemParams{}, ErrUnsupported
	}
	return kemParams{id: id, npk: 32, nsk: 32, nsecret: 32}, nil
}

func resolveKdf(id KdfID) (kdfParams, error) {
	if id != KdfHkdfSha256 {
		return kdfParams{}, ErrUnsupported
	}
	return kdfParams{id: id, nh: sha256.Size}, nil
}

func resolveAead(id AeadID) (aeadParams, error) {
	switch id {
	case AeadAes128Gcm:
		return aeadParams{id: id, nk: 16, nn: 12, nt: 16, new: newAesGcm}, nil
	case AeadAes256Gcm:
		return aeadParams{id: id, nk: 32, nn: 12, nt: 16, new: newAesGcm}, nil
	default:
		return aeadParams{}, ErrUnsupported
	}
}

// KemPublicKeySize reports the serialized public key length of a KEM, or
// ErrUnsupported for identifiers outside the registry.
func KemPublicKeySize(id KemID) (int, error) {
	p, err := resolveKem(id)
	if err != nil {
		return 0, err
	}
	return p.npk, nil
}

// Suite is a validated (KEM, KDF, AEAD) triple.
type Suite struct {
	kem  kemParams
	kdf  kdfParams
	aead aeadParams
}

// NewSuite resolves the three identifiers against the registry. Any id
// outside the supported set returns ErrUnsupported.
func NewSuite(kem KemID, kdf KdfID, aead AeadID) (Suite, error) {
	k, err := resolveKem(kem)
	if err != nil {
		return Suite{}, err
	}
	h, err := resolveKdf(kdf)
	if err != nil {
		return Suite{}, err
	}
	a, err := resolveAead(aead)
	if err != nil {
		return Suite{}, err
	}
	return Suite{kem: k, kdf: h, aead: a}, nil
}

func (s Suite) KemID() KemID   { return s.kem.id }
func (s Suite) KdfID() KdfID   { return s.kdf.id }
func (s Suite) AeadID() AeadID { return s.aead.id }

// PublicKeySize is the serialized recipient/ephemeral public key length.
func (s Suite) PublicKeySize() int { return s.kem.npk }

// SeedSize is the exact seed length accepted by deterministic encapsulation.
func (s Suite) SeedSize() int { return s.kem.nsk }

// id is "HPKE" || kem_id || kdf_id || aead_id, bound into every key
// schedule label (RFC 9180 §5.1).
func (s Suite) id() []byte {
	b := make([]byte, 0, 10)
	b = append(b, "HPKE"...)
	b = binary.BigEndian.AppendUint16(b, uint16(s.kem.id))
	b = binary.BigEndian.AppendUint16(b, uint16(s.kdf.id))
	b = binary.BigEndian.AppendUint16(b, uint16(s.aead.id))
	return b
}

// kemSuiteID is "KEM" || kem_id, used by the KEM-internal labels (§4.1).
func (s Suite) kemSuiteID() []byte {
	b := make([]byte, 0, 5)
	b = append(b, "KEM"...)
	b = binary.BigEndian.AppendUint16(b, uint16(s.kem.id))
	return b
}
