package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/collapsinghierarchy/hpkebridge/model"
)

// ErrNotFound is returned for apps with no registered recipient key.
// Adapters translate their driver's no-rows error into this sentinel.
var ErrNotFound = errors.New("recipient key not registered")

// Store is the recipient key directory.
type Store interface {
	RegisterKey(ctx context.Context, key *model.RecipientKey) error
	GetKey(ctx context.Context, appID uuid.UUID) (*model.RecipientKey, error)
	AppExists(ctx context.Context, appID uuid.UUID) (bool, error)
}
