package model

import (
	"time"

	"github.com/google/uuid"
)

// RecipientKey is a registered HPKE recipient public key. An app rotates
// its key by registering again under a higher kid; senders that set up by
// app id always get the current key.
type RecipientKey struct {
	AppID  uuid.UUID
	Kid    uint8
	KemID  uint16
	PubKey []byte
	TS     time.Time
}
