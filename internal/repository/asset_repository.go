package repository

import (
	"context"

	"github.com/spec-kit/lab-status-service/internal/domain"
)

type assetRepository struct {
	db DBTX
}

// NewAssetRepository returns a Postgres-backed snapshot store.
func NewAssetRepository(db DBTX) AssetRepository {
	return &assetRepository{db: db}
}

func (r *assetRepository) GetForUpdate(ctx context.Context, key domain.AssetKey) (*domain.Asset, error) {
	const query = `
        SELECT room_id, pc_number, status, last_updated, last_fixed_at, last_fixed_by
        FROM assets WHERE room_id=$1 AND pc_number=$2
        FOR UPDATE`

	var (
		asset  domain.Asset
		status string
	)
	if err := r.db.QueryRow(ctx, query, key.RoomID, key.PCNumber).Scan(
		&asset.RoomID,
		&asset.PCNumber,
		&status,
		&asset.LastUpdated,
		&asset.LastFixedAt,
		&asset.LastFixedBy,
	); err != nil {
		return nil, translateError(err)
	}
	asset.Status = domain.AssetStatus(status)
	return &asset, nil
}

func (r *assetRepository) Update(ctx context.Context, asset *domain.Asset) error {
	const query = `
        UPDATE assets SET status=$1, last_updated=$2, last_fixed_at=$3, last_fixed_by=$4
        WHERE room_id=$5 AND pc_number=$6`

	cmd, err := r.db.Exec(ctx, query,
		string(asset.Status),
		asset.LastUpdated,
		asset.LastFixedAt,
		asset.LastFixedBy,
		asset.RoomID,
		asset.PCNumber,
	)
	if err != nil {
		return translateError(err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *assetRepository) Provision(ctx context.Context, roomID string, pcNumbers []string) (int, error) {
	const query = `
        INSERT INTO assets (room_id, pc_number, status, last_updated)
        VALUES ($1, $2, 'Working', NOW())
        ON CONFLICT (room_id, pc_number) DO NOTHING`

	created := 0
	for _, pc := range pcNumbers {
		cmd, err := r.db.Exec(ctx, query, roomID, pc)
		if err != nil {
			return created, translateError(err)
		}
		created += int(cmd.RowsAffected())
	}
	return created, nil
}
