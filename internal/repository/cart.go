package repository

import (
	"context"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"recordstore-checkout/internal/model"
)

// ErrMetadataConflict is returned when an optimistic metadata patch loses
// the version race more times than we are willing to retry in-process.
// Surfacing it as an error makes the gateway redeliver, which is the
// cheapest retry mechanism available.
var ErrMetadataConflict = fmt.Errorf("metadata version conflict")

const patchRetries = 3

// PatchFunc inspects a snapshot of an entity's metadata and returns the
// full replacement map, or nil to skip the write (already applied).
type PatchFunc func(meta map[string]interface{}) map[string]interface{}

type CartRepository interface {
	FindByID(ctx context.Context, cartID string) (*model.Cart, error)
	FindBySessionID(ctx context.Context, sessionID string) (*model.Cart, error)
	Create(ctx context.Context, cart *model.Cart) error
	LinkSession(ctx context.Context, cartID, sessionID string) error
	// PatchMetadata applies fn against the current metadata under an
	// optimistic version check, retrying on concurrent writers. The
	// decide step runs inside the loop, so a marker written by a racing
	// handler is seen before this one commits.
	PatchMetadata(ctx context.Context, cartID string, fn PatchFunc) error
}

type cartRepoImpl struct {
	db *gorm.DB
}

func NewCartRepository(db *gorm.DB) CartRepository {
	return &cartRepoImpl{db: db}
}

func (r *cartRepoImpl) FindByID(ctx context.Context, cartID string) (*model.Cart, error) {
	var cart model.Cart
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("id = ?", cartID).
		First(&cart).Error

	if err != nil {
		return nil, err
	}

	return &cart, nil
}

func (r *cartRepoImpl) FindBySessionID(ctx context.Context, sessionID string) (*model.Cart, error) {
	var cart model.Cart
	err := r.db.WithContext(ctx).
		Where("checkout_session_id = ?", sessionID).
		First(&cart).Error

	if err != nil {
		return nil, err
	}

	return &cart, nil
}

func (r *cartRepoImpl) Create(ctx context.Context, cart *model.Cart) error {
	return r.db.WithContext(ctx).Create(cart).Error
}

func (r *cartRepoImpl) LinkSession(ctx context.Context, cartID, sessionID string) error {
	return r.db.WithContext(ctx).Model(&model.Cart{}).
		Where("id = ?", cartID).
		Update("checkout_session_id", sessionID).Error
}

func (r *cartRepoImpl) PatchMetadata(ctx context.Context, cartID string, fn PatchFunc) error {
	for attempt := 0; attempt < patchRetries; attempt++ {
		var cart model.Cart
		if err := r.db.WithContext(ctx).Where("id = ?", cartID).First(&cart).Error; err != nil {
			return err
		}

		next := fn(copyMeta(cart.Metadata))
		if next == nil {
			return nil
		}

		res := r.db.WithContext(ctx).Model(&model.Cart{}).
			Where("id = ? AND metadata_version = ?", cartID, cart.MetadataVersion).
			Updates(map[string]interface{}{
				"metadata":         datatypes.JSONMap(next),
				"metadata_version": cart.MetadataVersion + 1,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 1 {
			return nil
		}
		// Lost the race: another delivery bumped the version. Re-read and
		// re-decide against the fresher metadata.
	}

	return ErrMetadataConflict
}

func copyMeta(meta datatypes.JSONMap) map[string]interface{} {
	out := make(map[string]interface{}, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}
