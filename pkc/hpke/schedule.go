package hpke

import "crypto/cipher"

// mode_base: recipient public key only, no PSK, no sender authentication.
const modeBase byte = 0x00

// keySchedule derives the AEAD key, base nonce and exporter secret from a
// KEM shared secret (RFC 9180 §5.1). The shared secret is consumed exactly
// once; the caller zeroizes it afterwards.
func (s Suite) keySchedule(sharedSecret, info []byte) (*context, error) {
	if len(info) > MaxInfoLen {
		return nil, ErrInfoTooLong
	}
	sid := s.id()

	pskIDHash := labeledExtract(sid, nil, "psk_id_hash", nil)
	infoHash := labeledExtract(sid, nil, "info_hash", info)

	ksContext := make([]byte, 0, 1+len(pskIDHash)+len(infoHash))
	ksContext = append(ksContext, modeBase)
	ksContext = append(ksContext, pskIDHash...)
	ksContext = append(ksContext, infoHash...)

	secret := labeledExtract(sid, sharedSecret, "secret", nil)
	defer Zeroize(secret)

	key, err := labeledExpand(sid, secret, "key", ksContext, s.aead.nk)
	if err != nil {
		return nil, err
	}
	defer Zeroize(key)

	baseNonce, err := labeledExpand(sid, secret, "base_nonce", ksContext, s.aead.nn)
	if err != nil {
		return nil, err
	}
	exporterSecret, err := labeledExpand(sid, secret, "exp", ksContext, s.kdf.nh)
	if err != nil {
		Zeroize(baseNonce)
		return nil, err
	}

	aead, err := s.aead.new(key)
	if err != nil {
		Zeroize(baseNonce)
		Zeroize(exporterSecret)
		return nil, err
	}
	return newAeadContext(s, aead, baseNonce, exporterSecret), nil
}

func newAeadContext(s Suite, aead cipher.AEAD, baseNonce, exporterSecret []byte) *context {
	return &context{
		suite:          s,
		aead:           aead,
		baseNonce:      baseNonce,
		exporterSecret: exporterSecret,
	}
}
