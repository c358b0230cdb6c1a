package hpke

import (
	"crypto/cipher"
	"encoding/binary"
	"math/bits"
)

// ReplayPolicy controls how Open advances the sequence counter on an
// authentication failure. Both behaviors exist in deployed HPKE stacks, so
// the choice is a configuration knob rather than a constant.
type ReplayPolicy int

const (
	// ReplayLenient advances the counter only on successful open. This is
	// the literal RFC 9180 behavior: a failed attempt leaves the context
	// ready to retry the same sequence number.
	ReplayLenient ReplayPolicy = iota
	// ReplayStrictSequential burns the sequence number even when
	// authentication fails, so an out-of-order or tampered message
	// permanently consumes its slot.
	ReplayStrictSequential
)

// context is the sealed/opened AEAD state shared by Sender and Recipient:
// derived key material plus a strictly ordered 128-bit sequence counter.
// Not safe for concurrent use; callers serialize access per context.
type context struct {
	suite          Suite
	aead           cipher.AEAD
	baseNonce      []byte
	exporterSecret []byte
	seq            uint128
	policy         ReplayPolicy
	closed         bool
}

// Sender seals messages for one recipient under one encapsulated key.
type Sender struct {
	*context
}

// Recipient opens messages produced by the matching Sender.
type Recipient struct {
	*context
}

// ContextOption adjusts context behavior at setup time.
type ContextOption func(*context)

// WithReplayPolicy selects the counter-advance behavior of Open on
// authentication failure.
func WithReplayPolicy(p ReplayPolicy) ContextOption {
	return func(c *context) { c.policy = p }
}

// SetupSender establishes a sending context for the recipient public key
// pkR with a fresh random ephemeral key. Returns the encapsulated key to
// transmit alongside ciphertext.
func SetupSender(s Suite, pkR, info []byte, opts ...ContextOption) (enc []byte, snd *Sender, err error) {
	return setupSender(s, pkR, info, nil, opts...)
}

// SetupSenderWithSeed is the deterministic variant: the ephemeral key pair
// is derived from seed, which must be exactly s.SeedSize() bytes. Identical
// (pkR, info, seed) inputs produce identical encapsulated keys and
// contexts, which is what test vectors and entropy-escrow callers need.
func SetupSenderWithSeed(s Suite, pkR, info, seed []byte, opts ...ContextOption) (enc []byte, snd *Sender, err error) {
	if len(seed) != s.kem.nsk {
		return nil, nil, ErrInvalidSeedLength
	}
	return setupSender(s, pkR, info, seed, opts...)
}

func setupSender(s Suite, pkR, info, seed []byte, opts ...ContextOption) ([]byte, *Sender, error) {
	sharedSecret, enc, err := s.encap(pkR, seed)
	if err != nil {
		return nil, nil, err
	}
	defer Zeroize(sharedSecret)

	ctx, err := s.keySchedule(sharedSecret, info)
	if err != nil {
		return nil, nil, err
	}
	for _, opt := range opts {
		opt(ctx)
	}
	return enc, &Sender{ctx}, nil
}

// SetupRecipient establishes the receiving context from the recipient
// private scalar skR and the encapsulated key enc.
func SetupRecipient(s Suite, skR, enc, info []byte, opts ...ContextOption) (*Recipient, error) {
	sharedSecret, err := s.decap(skR, enc)
	if err != nil {
		return nil, err
	}
	defer Zeroize(sharedSecret)

	ctx, err := s.keySchedule(sharedSecret, info)
	if err != nil {
		return nil, err
	}
	for _, opt := range opts {
		opt(ctx)
	}
	return &Recipient{ctx}, nil
}

// Seal encrypts plaintext with the next nonce in sequence and advances the
// counter. After the nonce space is spent every further call returns
// ErrContextExhausted; there is no wraparound.
func (s *Sender) Seal(plaintext, aad []byte) ([]byte, error) {
	if s.closed {
		return nil, ErrContextClosed
	}
	if s.exhausted() {
		return nil, ErrContextExhausted
	}
	ct := s.aead.Seal(nil, s.nextNonce(), plaintext, aad)
	s.seq = s.seq.addOne()
	return ct, nil
}

// Open authenticates and decrypts ciphertext. On failure no plaintext is
// returned and, under the lenient policy, the counter does not move.
func (r *Recipient) Open(ciphertext, aad []byte) ([]byte, error) {
	if r.closed {
		return nil, ErrContextClosed
	}
	if r.exhausted() {
		return nil, ErrContextExhausted
	}
	pt, err := r.aead.Open(nil, r.nextNonce(), ciphertext, aad)
	if err != nil {
		if r.policy == ReplayStrictSequential {
			r.seq = r.seq.addOne()
		}
		return nil, ErrAuthentication
	}
	r.seq = r.seq.addOne()
	return pt, nil
}

// Export derives a secret of the requested length from the context's
// exporter secret (RFC 9180 §5.3).
func (c *context) Export(exporterContext []byte, length int) ([]byte, error) {
	if c.closed {
		return nil, ErrContextClosed
	}
	if length < 0 || length > 255*c.suite.kdf.nh {
		return nil, ErrInvalidExportLength
	}
	return labeledExpand(c.suite.id(), c.exporterSecret, "sec", exporterContext, length)
}

// Close erases the context's key material. Idempotent; any seal/open after
// Close fails with ErrContextClosed.
func (c *context) Close() {
	if c.closed {
		return
	}
	Zeroize(c.baseNonce)
	Zeroize(c.exporterSecret)
	c.aead = nil
	c.closed = true
}

// Suite reports the cipher suite this context was derived under.
func (c *context) Suite() Suite { return c.suite }

// nextNonce is base_nonce XOR I2OSP(seq, Nn).
func (c *context) nextNonce() []byte {
	nonce := c.seq.bytes()[16-len(c.baseNonce):]
	for i := range c.baseNonce {
		nonce[i] ^= c.baseNonce[i]
	}
	return nonce
}

// exhausted reports whether seq reached 2^(8*Nn) - 1, the last value the
// nonce space can represent.
func (c *context) exhausted() bool {
	limit := maxSeq(len(c.baseNonce))
	return c.seq.hi > limit.hi || (c.seq.hi == limit.hi && c.seq.lo >= limit.lo)
}

func maxSeq(nonceLen int) uint128 {
	b := make([]byte, 16)
	for i := 16 - nonceLen; i < 16; i++ {
		b[i] = 0xff
	}
	return uint128{
		hi: binary.BigEndian.Uint64(b[:8]),
		lo: binary.BigEndian.Uint64(b[8:]),
	}
}

// uint128 covers the full sequence range of a 12-byte nonce, which a
// uint64 cannot.
type uint128 struct {
	hi, lo uint64
}

func (u uint128) addOne() uint128 {
	lo, carry := bits.Add64(u.lo, 1, 0)
	return uint128{hi: u.hi + carry, lo: lo}
}

func (u uint128) bytes() []byte {
	b := make([]byte, 16)
	binary.BigEndian.PutUint64(b[:8], u.hi)
	binary.BigEndian.PutUint64(b[8:], u.lo)
	return b
}
