package model

// Metadata keys written by the reconciliation engine. These are a stable
// contract: the storefront status view and back-office tooling read them,
// so renaming any of these is a breaking change.
const (
	// MetaCompletedEventID marks the webhook event id that completed the
	// checkout; replays of the same delivery short-circuit on it.
	MetaCompletedEventID = "completed_checkout_event_id"
	// MetaFailureEventID and MetaExpiredEventID are the analogous markers
	// for the failure and expiry handlers.
	MetaFailureEventID = "last_failure_event_id"
	MetaExpiredEventID = "last_expired_event_id"

	MetaSessionID       = "checkout_session_id"
	MetaPaymentIntentID = "payment_intent_id"
	MetaCheckoutStatus  = "checkout_status"

	MetaLastErrorMessage = "last_payment_error"
	MetaLastErrorCode    = "last_payment_error_code"

	MetaOrderID = "order_id" // cart → order cross-reference
	MetaCartID  = "cart_id"  // order → cart back-reference

	MetaRefundID       = "refund_id"
	MetaRefundAmount   = "refund_amount"
	MetaRefundCurrency = "refund_currency"
	MetaRefundEventID  = "refund_event_id"
)

// Checkout status values. "processing" is implicit: an absent
// checkout_status key means no terminal event has been reconciled yet.
const (
	CheckoutStatusProcessing = "processing"
	CheckoutStatusPaid       = "paid"
	CheckoutStatusFailed     = "failed"
	CheckoutStatusExpired    = "expired"
)

// MergeMetadata combines existing metadata with new facts. Shallow: a key
// present in updates always wins. Neither input map is mutated.
func MergeMetadata(existing, updates map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(existing)+len(updates))
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range updates {
		merged[k] = v
	}
	return merged
}

// MetaString reads a metadata value as a string, tolerating absent keys
// and non-string values from the JSON column.
func MetaString(meta map[string]interface{}, key string) string {
	if meta == nil {
		return ""
	}
	if s, ok := meta[key].(string); ok {
		return s
	}
	return ""
}
