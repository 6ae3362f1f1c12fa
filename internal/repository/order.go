package repository

import (
	"context"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"recordstore-checkout/internal/model"
)

type OrderRepository interface {
	FindByID(ctx context.Context, orderID string) (*model.Order, error)
	FindByCartID(ctx context.Context, cartID string) (*model.Order, error)
	FindByPaymentIntentID(ctx context.Context, intentID string) (*model.Order, error)
	SetPaymentIntentID(ctx context.Context, orderID, intentID string) error
	// PatchMetadata mirrors CartRepository.PatchMetadata for orders.
	PatchMetadata(ctx context.Context, orderID string, fn PatchFunc) error
}

type orderRepoImpl struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepoImpl{db: db}
}

func (r *orderRepoImpl) FindByID(ctx context.Context, orderID string) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).
		Where("id = ?", orderID).
		First(&order).Error

	if err != nil {
		return nil, err
	}

	return &order, nil
}

func (r *orderRepoImpl) FindByCartID(ctx context.Context, cartID string) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).
		Where("cart_id = ?", cartID).
		First(&order).Error

	if err != nil {
		return nil, err
	}

	return &order, nil
}

func (r *orderRepoImpl) FindByPaymentIntentID(ctx context.Context, intentID string) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).
		Where("payment_intent_id = ?", intentID).
		First(&order).Error

	if err != nil {
		return nil, err
	}

	return &order, nil
}

func (r *orderRepoImpl) SetPaymentIntentID(ctx context.Context, orderID, intentID string) error {
	return r.db.WithContext(ctx).Model(&model.Order{}).
		Where("id = ?", orderID).
		Update("payment_intent_id", intentID).Error
}

func (r *orderRepoImpl) PatchMetadata(ctx context.Context, orderID string, fn PatchFunc) error {
	for attempt := 0; attempt < patchRetries; attempt++ {
		var order model.Order
		if err := r.db.WithContext(ctx).Where("id = ?", orderID).First(&order).Error; err != nil {
			return err
		}

		next := fn(copyMeta(order.Metadata))
		if next == nil {
			return nil
		}

		res := r.db.WithContext(ctx).Model(&model.Order{}).
			Where("id = ? AND metadata_version = ?", orderID, order.MetadataVersion).
			Updates(map[string]interface{}{
				"metadata":         datatypes.JSONMap(next),
				"metadata_version": order.MetadataVersion + 1,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 1 {
			return nil
		}
	}

	return ErrMetadataConflict
}
