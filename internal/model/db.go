package model

import (
	"time"

	"gorm.io/datatypes"
)

// Cart is the pre-completion purchase container. It is created by the
// storefront checkout flow; the reconciliation engine only reads it,
// patches its metadata, and sets completed_at through order materialization.
type Cart struct {
	ID             string `gorm:"primaryKey;size:64;not null"`
	Email          string `gorm:"size:255;index"`
	Currency       string `gorm:"size:8;not null"`
	ItemTotalCents int64  `gorm:"not null"`
	TotalCents     int64  `gorm:"not null"`

	ShippingAddress datatypes.JSON
	BillingAddress  datatypes.JSON

	// Session link mirrored out of metadata so the storefront status view
	// can resolve a cart by checkout-session id.
	CheckoutSessionID string `gorm:"size:128;index"`

	Metadata datatypes.JSONMap `gorm:"type:json"`
	// Bumped on every metadata write; conditional updates against it make
	// the read-decide-write sequence safe under concurrent deliveries.
	MetadataVersion uint `gorm:"not null;default:0"`

	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time

	Items []CartItem `gorm:"foreignKey:CartID"`
}

type CartItem struct {
	ID uint `gorm:"primaryKey"`
	// FK → cart.id
	CartID         string `gorm:"size:64;index;not null"`
	Title          string `gorm:"size:255;not null"` // release title, e.g. "Blue Train (180g LP)"
	Sku            string `gorm:"size:64;index;not null"`
	Quantity       int32  `gorm:"not null"`
	UnitPriceCents int64  `gorm:"not null"`

	CreatedAt time.Time
}

// Order is created exactly once per cart, at completion. cart_id carries a
// unique index as a database-level backstop for single materialization.
type Order struct {
	ID        string `gorm:"primaryKey;size:64;not null"`
	DisplayID uint   `gorm:"uniqueIndex;not null"`
	CartID    string `gorm:"size:64;uniqueIndex;not null"`
	// Set when the completed-checkout handler tags the order; lets
	// charge.refunded events, which only know the intent, find the order.
	PaymentIntentID string `gorm:"size:128;index"`

	Email      string `gorm:"size:255;index"`
	Currency   string `gorm:"size:8;not null"`
	TotalCents int64  `gorm:"not null"`

	Metadata        datatypes.JSONMap `gorm:"type:json"`
	MetadataVersion uint              `gorm:"not null;default:0"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// WebhookEventLog is a best-effort audit trail of processed deliveries.
// The authoritative idempotency markers live in cart metadata; this table
// exists for operators, not for correctness.
type WebhookEventLog struct {
	EventID     string `gorm:"primaryKey;size:128;not null"`
	EventType   string `gorm:"size:64;index"`
	CartID      string `gorm:"size:64;index"`
	Outcome     string `gorm:"size:16"` // applied, skipped, ignored
	ProcessedAt time.Time
	CreatedAt   time.Time
}
