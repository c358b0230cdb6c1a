package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/collapsinghierarchy/hpkebridge/model"
	"github.com/collapsinghierarchy/hpkebridge/store"
)

type pgStore struct{ db *pgxpool.Pool }

func NewStore(db *pgxpool.Pool) store.Store { return &pgStore{db: db} }

// -------- recipient key directory ------------------------------------------

func (p *pgStore) RegisterKey(ctx context.Context, key *model.RecipientKey) error {
	_, err := p.db.Exec(ctx, `
        INSERT INTO recipient_keys (app_id, kid, kem_id, pubkey, ts)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (app_id) DO UPDATE
          SET kid    = EXCLUDED.kid,
              kem_id = EXCLUDED.kem_id,
              pubkey = EXCLUDED.pubkey,
              ts     = EXCLUDED.ts
    `, key.AppID, key.Kid, key.KemID, key.PubKey, key.TS)
	return err
}

func (p *pgStore) GetKey(ctx context.Context, appID uuid.UUID) (*model.RecipientKey, error) {
	var k model.RecipientKey
	err := p.db.QueryRow(ctx,
		`SELECT app_id, kid, kem_id, pubkey, ts
         FROM recipient_keys
         WHERE app_id=$1`, appID).
		Scan(&k.AppID, &k.Kid, &k.KemID, &k.PubKey, &k.TS)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &k, nil
}

func (p *pgStore) AppExists(ctx context.Context, appID uuid.UUID) (bool, error) {
	var exists bool
	err := p.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM recipient_keys WHERE app_id=$1)`, appID).Scan(&exists)
	return exists, err
}
