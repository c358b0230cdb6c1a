package hpke

import (
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
)

// DHKEM(X25519, HKDF-SHA256), RFC 9180 §4.1.
//
// Encapsulation builds an ephemeral key pair, runs X25519 against the
// recipient public key and stretches the raw DH output through the labeled
// extract-and-expand step, binding both serialized public keys into the
// derivation. The ephemeral scalar never outlives the call.

// deriveKeyPair is the deterministic DeriveKeyPair procedure (§7.1.3):
//
//	dkp_prk = LabeledExtract("", "dkp_prk", ikm)
//	sk      = LabeledExpand(dkp_prk, "sk", "", Nsk)
//
// The caller owns sk and must zeroize it.
func (s Suite) deriveKeyPair(ikm []byte) (sk, pk []byte, err error) {
	if len(ikm) != s.kem.nsk {
		return nil, nil, ErrInvalidSeedLength
	}
	sid := s.kemSuiteID()
	prk := labeledExtract(sid, nil, "dkp_prk", ikm)
	defer Zeroize(prk)

	sk, err = labeledExpand(sid, prk, "sk", nil, s.kem.nsk)
	if err != nil {
		return nil, nil, err
	}
	pk, err = curve25519.X25519(sk, curve25519.Basepoint)
	if err != nil {
		Zeroize(sk)
		return nil, nil, fmt.Errorf("%w: %v", ErrEncapsulation, err)
	}
	return sk, pk, nil
}

// encap produces (sharedSecret, enc) for the recipient public key pkR. A
// nil seed means a fresh random ephemeral key; a non-nil seed must be
// exactly SeedSize bytes and makes the output fully deterministic.
func (s Suite) encap(pkR, seed []byte) (sharedSecret, enc []byte, err error) {
	if len(pkR) != s.kem.npk {
		return nil, nil, ErrInvalidPublicKeyLength
	}

	var skE, pkE []byte
	if seed != nil {
		skE, pkE, err = s.deriveKeyPair(seed)
	} else {
		ikm := make([]byte, s.kem.nsk)
		if _, err = io.ReadFull(rand.Reader, ikm); err != nil {
			return nil, nil, fmt.Errorf("ephemeral key: %w", err)
		}
		skE, pkE, err = s.deriveKeyPair(ikm)
		Zeroize(ikm)
	}
	if err != nil {
		return nil, nil, err
	}
	defer Zeroize(skE)

	dh, err := curve25519.X25519(skE, pkR)
	if err != nil {
		// x/crypto rejects low-order points by erroring on an all-zero
		// shared secret.
		return nil, nil, fmt.Errorf("%w: %v", ErrEncapsulation, err)
	}
	defer Zeroize(dh)

	kemContext := make([]byte, 0, 2*s.kem.npk)
	kemContext = append(kemContext, pkE...)
	kemContext = append(kemContext, pkR...)

	sharedSecret, err = s.extractAndExpand(dh, kemContext)
	if err != nil {
		return nil, nil, err
	}
	return sharedSecret, pkE, nil
}

// decap recovers the shared secret on the recipient side from the
// encapsulated key enc and the recipient private scalar skR.
func (s Suite) decap(skR, enc []byte) ([]byte, error) {
	if len(skR) != s.kem.nsk {
		return nil, ErrInvalidPrivateKeyLength
	}
	if len(enc) != s.kem.npk {
		return nil, ErrInvalidPublicKeyLength
	}

	dh, err := curve25519.X25519(skR, enc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncapsulation, err)
	}
	defer Zeroize(dh)

	pkR, err := curve25519.X25519(skR, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncapsulation, err)
	}

	kemContext := make([]byte, 0, 2*s.kem.npk)
	kemContext = append(kemContext, enc...)
	kemContext = append(kemContext, pkR...)

	return s.extractAndExpand(dh, kemContext)
}

// extractAndExpand is the KEM-internal derivation (§4.1):
//
//	eae_prk       = LabeledExtract("", "eae_prk", dh)
//	shared_secret = LabeledExpand(eae_prk, "shared_secret", kem_context, Nsecret)
func (s Suite) extractAndExpand(dh, kemContext []byte) ([]byte, error) {
	sid := s.kemSuiteID()
	prk := labeledExtract(sid, nil, "eae_prk", dh)
	defer Zeroize(prk)
	return labeledExpand(sid, prk, "shared_secret", kemContext, s.kem.nsecret)
}

// GenerateKeyPair returns a fresh recipient key pair for this suite's KEM.
// The private scalar is owned by the caller, who must zeroize it when done.
func (s Suite) GenerateKeyPair() (sk, pk []byte, err error) {
	ikm := make([]byte, s.kem.nsk)
	if _, err := io.ReadFull(rand.Reader, ikm); err != nil {
		return nil, nil, fmt.Errorf("keygen: %w", err)
	}
	defer Zeroize(ikm)
	return s.deriveKeyPair(ikm)
}

// DeriveKeyPair exposes deterministic key generation for callers holding
// pre-generated entropy (test vectors, external seed escrow).
func (s Suite) DeriveKeyPair(ikm []byte) (sk, pk []byte, err error) {
	return s.deriveKeyPair(ikm)
}
