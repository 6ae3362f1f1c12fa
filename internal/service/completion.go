package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"recordstore-checkout/internal/model"
)

// ErrCartAlreadyCompleted signals that another delivery materialized the
// order first. Callers should look the existing order up instead of
// treating this as a failure.
var ErrCartAlreadyCompleted = fmt.Errorf("cart already completed")

// CompletionService turns a completed checkout's cart into the persisted
// order. This is the commerce store's completion procedure; the
// reconciliation engine invokes it at most once per cart.
type CompletionService interface {
	CompleteCart(ctx context.Context, cartID string) (*model.Order, error)
}

type completionServiceImpl struct {
	db *gorm.DB
}

func NewCompletionService(db *gorm.DB) CompletionService {
	return &completionServiceImpl{db: db}
}

func (s *completionServiceImpl) CompleteCart(ctx context.Context, cartID string) (*model.Order, error) {
	var order *model.Order

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cart model.Cart
		if err := tx.Where("id = ?", cartID).First(&cart).Error; err != nil {
			return fmt.Errorf("load cart: %w", err)
		}

		// Claim the cart. The conditional update is the exactly-once
		// guard: whichever delivery flips completed_at creates the order,
		// everyone else sees zero rows affected.
		res := tx.Model(&model.Cart{}).
			Where("id = ? AND completed_at IS NULL", cartID).
			Update("completed_at", time.Now())
		if res.Error != nil {
			return fmt.Errorf("claim cart: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrCartAlreadyCompleted
		}

		var count int64
		if err := tx.Model(&model.Order{}).Count(&count).Error; err != nil {
			return fmt.Errorf("next display id: %w", err)
		}

		order = &model.Order{
			ID:         "order_" + uuid.NewString(),
			DisplayID:  uint(count) + 1,
			CartID:     cart.ID,
			Email:      cart.Email,
			Currency:   cart.Currency,
			TotalCents: cart.TotalCents,
			Metadata: datatypes.JSONMap{
				model.MetaCartID: cart.ID,
			},
		}
		if err := tx.Create(order).Error; err != nil {
			return fmt.Errorf("create order: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return order, nil
}
