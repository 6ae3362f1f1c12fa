package service_test

import (
	"context"
	"errors"
	"testing"

	"gorm.io/gorm"

	"recordstore-checkout/internal/model"
	"recordstore-checkout/internal/repository"
	"recordstore-checkout/internal/service"
)

func TestCartStatusDefaultsToProcessing(t *testing.T) {
	db := newTestDB(t)
	seedCart(t, db, "cart_1", 4900)
	svc := service.NewStatusService(repository.NewCartRepository(db))

	status, err := svc.CartStatus(context.Background(), "cart_1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Status != model.CheckoutStatusProcessing {
		t.Errorf("status: got %q, want processing", status.Status)
	}
	if status.OrderID != "" {
		t.Errorf("order id before completion: got %q", status.OrderID)
	}
}

func TestSessionStatusReflectsReconciledState(t *testing.T) {
	db := newTestDB(t)
	seedCart(t, db, "cart_1", 4900)
	engine := newEngine(t, db, &fakeGateway{})
	svc := service.NewStatusService(repository.NewCartRepository(db))

	if err := deliver(t, engine, "evt_1", "checkout.session.completed", completedSession("cart_1", "pi_1")); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	status, err := svc.SessionStatus(context.Background(), "cs_test_1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Status != model.CheckoutStatusPaid {
		t.Errorf("status: got %q, want paid", status.Status)
	}
	if status.OrderID == "" {
		t.Error("order id missing from status view")
	}
}

func TestCartStatusUnknownCart(t *testing.T) {
	db := newTestDB(t)
	svc := service.NewStatusService(repository.NewCartRepository(db))

	_, err := svc.CartStatus(context.Background(), "cart_missing")
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("got %v, want ErrRecordNotFound", err)
	}
}
