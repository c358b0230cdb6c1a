package hpke

// Zeroize overwrites b in place. Every buffer holding a private scalar, a
// KEM shared secret or an AEAD key goes through here on release, including
// early-return error paths.
func Zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
