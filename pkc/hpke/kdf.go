package hpke

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// MaxInfoLen caps the application-supplied info string fed into the key
// schedule. RFC 9180 places no hard bound here; we reject absurd inputs
// before hashing them.
const MaxInfoLen = 64 * 1024

const versionLabel = "HPKE-v1"

// labeledExtract is Extract(salt, "HPKE-v1" || suiteID || label || ikm)
// per RFC 9180 §4.
func labeledExtract(suiteID []byte, salt []byte, label string, ikm []byte) []byte {
	labeled := make([]byte, 0, len(versionLabel)+len(suiteID)+len(label)+len(ikm))
	labeled = append(labeled, versionLabel...)
	labeled = append(labeled, suiteID...)
	labeled = append(labeled, label...)
	labeled = append(labeled, ikm...)
	return hkdf.Extract(sha256.New, labeled, salt)
}

// labeledExpand is Expand(prk, I2OSP(L,2) || "HPKE-v1" || suiteID || label
// || info, L).
func labeledExpand(suiteID []byte, prk []byte, label string, info []byte, length int) ([]byte, error) {
	labeled := make([]byte, 0, 2+len(versionLabel)+len(suiteID)+len(label)+len(info))
	labeled = binary.BigEndian.AppendUint16(labeled, uint16(length))
	labeled = append(labeled, versionLabel...)
	labeled = append(labeled, suiteID...)
	labeled = append(labeled, label...)
	labeled = append(labeled, info...)

	out := make([]byte, length)
	if _, err := io.ReadFull(hkdf.Expand(sha256.New, prk, labeled), out); err != nil {
		return nil, fmt.Errorf("hkdf expand: %w", err)
	}
	return out, nil
}
