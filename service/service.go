// Package service carries the binding surface: algorithm selectors, the
// context handle table and sender/recipient setup. Callers on the other
// side of the boundary only ever hold opaque Handle values, never engine
// references.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/collapsinghierarchy/hpkebridge/model"
	"github.com/collapsinghierarchy/hpkebridge/pkc/hpke"
	"github.com/collapsinghierarchy/hpkebridge/store"
)

var (
	ErrInvalidHandle   = errors.New("invalid or freed context handle")
	ErrContextActive   = errors.New("context already set up")
	ErrContextNotReady = errors.New("context not set up")
	ErrAppNotFound     = errors.New("app not found")
)

// Service owns the handle table and the recipient key directory.
type Service struct {
	Store  store.Store
	tbl    *contextTable
	policy hpke.ReplayPolicy
}

type Option func(*Service)

// WithReplayPolicy sets the counter-advance behavior applied to every
// recipient context this service creates.
func WithReplayPolicy(p hpke.ReplayPolicy) Option {
	return func(s *Service) { s.policy = p }
}

func New(st store.Store, opts ...Option) *Service {
	s := &Service{Store: st, tbl: newContextTable()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// -------- algorithm selectors ----------------------------------------------
//
// Pure value lookups; the returned tokens are the registry identifiers the
// setup calls expect. No singleton state behind any of these.

func (s *Service) SelectKem() hpke.KemID      { return hpke.DHKemX25519HkdfSha256 }
func (s *Service) SelectKdf() hpke.KdfID      { return hpke.KdfHkdfSha256 }
func (s *Service) SelectAead128() hpke.AeadID { return hpke.AeadAes128Gcm }
func (s *Service) SelectAead256() hpke.AeadID { return hpke.AeadAes256Gcm }

// -------- context lifecycle ------------------------------------------------

// NewContext allocates an empty context slot and returns its handle. The
// slot becomes usable after one of the setup calls.
func (s *Service) NewContext() Handle {
	return s.tbl.insert()
}

// FreeContext releases the handle, erasing the context's key material.
// Idempotent: freeing an unknown or already-freed handle is a no-op.
func (s *Service) FreeContext(h Handle) {
	s.tbl.remove(h)
}

// Shutdown drains the handle table, zeroing every live context.
func (s *Service) Shutdown() {
	s.tbl.drain()
}

// -------- sender / recipient setup -----------------------------------------

// SetupSenderWithSeed turns the empty context at h into an active sealing
// context for pkR, using seed-derived ephemeral keys, and returns the
// encapsulated key. seed must be exactly the KEM's seed length.
func (s *Service) SetupSenderWithSeed(h Handle, kem hpke.KemID, kdf hpke.KdfID, aead hpke.AeadID, pkR, info, seed []byte) ([]byte, error) {
	suite, err := hpke.NewSuite(kem, kdf, aead)
	if err != nil {
		return nil, err
	}
	slot, err := s.tbl.acquire(h)
	if err != nil {
		return nil, err
	}
	defer slot.mu.Unlock()

	if slot.sender != nil || slot.recipient != nil {
		return nil, ErrContextActive
	}
	var (
		enc []byte
		snd *hpke.Sender
	)
	if seed != nil {
		enc, snd, err = hpke.SetupSenderWithSeed(suite, pkR, info, seed)
	} else {
		enc, snd, err = hpke.SetupSender(suite, pkR, info)
	}
	if err != nil {
		return nil, err
	}
	slot.sender = snd
	return enc, nil
}

// SetupSender is the randomized variant of SetupSenderWithSeed.
func (s *Service) SetupSender(h Handle, kem hpke.KemID, kdf hpke.KdfID, aead hpke.AeadID, pkR, info []byte) ([]byte, error) {
	return s.SetupSenderWithSeed(h, kem, kdf, aead, pkR, info, nil)
}

// SetupSenderForApp looks the recipient key up in the directory instead of
// taking raw key bytes, then proceeds like SetupSenderWithSeed. Returns the
// kid the encapsulation was performed against so the caller can tag its
// ciphertext.
func (s *Service) SetupSenderForApp(ctx context.Context, h Handle, appID uuid.UUID, kdf hpke.KdfID, aead hpke.AeadID, info, seed []byte) (enc []byte, kid uint8, err error) {
	key, err := s.Store.GetKey(ctx, appID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, 0, ErrAppNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("key directory: %w", err)
	}
	enc, err = s.SetupSenderWithSeed(h, hpke.KemID(key.KemID), kdf, aead, key.PubKey, info, seed)
	if err != nil {
		return nil, 0, err
	}
	return enc, key.Kid, nil
}

// SetupRecipient turns the empty context at h into an opening context from
// the recipient private key and the sender's encapsulated key.
func (s *Service) SetupRecipient(h Handle, kem hpke.KemID, kdf hpke.KdfID, aead hpke.AeadID, skR, enc, info []byte) error {
	suite, err := hpke.NewSuite(kem, kdf, aead)
	if err != nil {
		return err
	}
	slot, err := s.tbl.acquire(h)
	if err != nil {
		return err
	}
	defer slot.mu.Unlock()

	if slot.sender != nil || slot.recipient != nil {
		return ErrContextActive
	}
	rcp, err := hpke.SetupRecipient(suite, skR, enc, info, hpke.WithReplayPolicy(s.policy))
	if err != nil {
		return err
	}
	slot.recipient = rcp
	return nil
}

// -------- per-message operations -------------------------------------------

// Seal encrypts plaintext under the sender context at h.
func (s *Service) Seal(h Handle, plaintext, aad []byte) ([]byte, error) {
	slot, err := s.tbl.acquire(h)
	if err != nil {
		return nil, err
	}
	defer slot.mu.Unlock()

	if slot.sender == nil {
		return nil, ErrContextNotReady
	}
	return slot.sender.Seal(plaintext, aad)
}

// Open decrypts ciphertext under the recipient context at h.
func (s *Service) Open(h Handle, ciphertext, aad []byte) ([]byte, error) {
	slot, err := s.tbl.acquire(h)
	if err != nil {
		return nil, err
	}
	defer slot.mu.Unlock()

	if slot.recipient == nil {
		return nil, ErrContextNotReady
	}
	return slot.recipient.Open(ciphertext, aad)
}

// Export derives a secret from the context's exporter secret, whichever
// side the context is on.
func (s *Service) Export(h Handle, exporterContext []byte, length int) ([]byte, error) {
	slot, err := s.tbl.acquire(h)
	if err != nil {
		return nil, err
	}
	defer slot.mu.Unlock()

	switch {
	case slot.sender != nil:
		return slot.sender.Export(exporterContext, length)
	case slot.recipient != nil:
		return slot.recipient.Export(exporterContext, length)
	default:
		return nil, ErrContextNotReady
	}
}

// -------- recipient key directory ------------------------------------------

// RegisterKey validates the public key against the KEM registry and stores
// it as the app's current recipient key.
func (s *Service) RegisterKey(ctx context.Context, appID uuid.UUID, kid uint8, kem hpke.KemID, pub []byte) error {
	npk, err := hpke.KemPublicKeySize(kem)
	if err != nil {
		return err
	}
	if len(pub) != npk {
		return hpke.ErrInvalidPublicKeyLength
	}
	return s.Store.RegisterKey(ctx, &model.RecipientKey{
		AppID:  appID,
		Kid:    kid,
		KemID:  uint16(kem),
		PubKey: pub,
		TS:     time.Now().UTC(),
	})
}

// AppExists reports whether the app has a registered recipient key,
// without touching the key bytes.
func (s *Service) AppExists(ctx context.Context, appID uuid.UUID) (bool, error) {
	return s.Store.AppExists(ctx, appID)
}

// GetKey returns the app's current recipient key.
func (s *Service) GetKey(ctx context.Context, appID uuid.UUID) (*model.RecipientKey, error) {
	key, err := s.Store.GetKey(ctx, appID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrAppNotFound
	}
	return key, err
}
