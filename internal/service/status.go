package service

import (
	"context"
	"fmt"

	"recordstore-checkout/internal/dto"
	"recordstore-checkout/internal/model"
	"recordstore-checkout/internal/repository"
)

// StatusService backs the storefront's order-status view: it reflects
// whatever the reconciliation engine last wrote, including "processing"
// when no terminal event has arrived yet.
type StatusService interface {
	CartStatus(ctx context.Context, cartID string) (*dto.CheckoutStatus, error)
	SessionStatus(ctx context.Context, sessionID string) (*dto.CheckoutStatus, error)
}

type statusServiceImpl struct {
	carts repository.CartRepository
}

func NewStatusService(carts repository.CartRepository) StatusService {
	return &statusServiceImpl{carts: carts}
}

func (s *statusServiceImpl) CartStatus(ctx context.Context, cartID string) (*dto.CheckoutStatus, error) {
	cart, err := s.carts.FindByID(ctx, cartID)
	if err != nil {
		return nil, fmt.Errorf("load cart %s: %w", cartID, err)
	}

	return statusFromCart(cart), nil
}

func (s *statusServiceImpl) SessionStatus(ctx context.Context, sessionID string) (*dto.CheckoutStatus, error) {
	cart, err := s.carts.FindBySessionID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load cart for session %s: %w", sessionID, err)
	}

	return statusFromCart(cart), nil
}

func statusFromCart(cart *model.Cart) *dto.CheckoutStatus {
	status := model.MetaString(cart.Metadata, model.MetaCheckoutStatus)
	if status == "" {
		status = model.CheckoutStatusProcessing
	}

	return &dto.CheckoutStatus{
		CartID:           cart.ID,
		OrderID:          model.MetaString(cart.Metadata, model.MetaOrderID),
		Status:           status,
		LastErrorMessage: model.MetaString(cart.Metadata, model.MetaLastErrorMessage),
		LastErrorCode:    model.MetaString(cart.Metadata, model.MetaLastErrorCode),
	}
}
