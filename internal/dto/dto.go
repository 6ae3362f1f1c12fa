package dto

type CheckoutStatus struct {
	CartID           string `json:"cart_id"`
	OrderID          string `json:"order_id,omitempty"`
	Status           string `json:"status"`
	LastErrorMessage string `json:"last_error_message,omitempty"`
	LastErrorCode    string `json:"last_error_code,omitempty"`
}

type WebhookAck struct {
	Received bool `json:"received"`
}
