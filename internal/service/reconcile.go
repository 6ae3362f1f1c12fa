package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"recordstore-checkout/internal/client"
	"recordstore-checkout/internal/model"
	"recordstore-checkout/internal/repository"
)

// ErrInvalidSignature marks a delivery that failed authentication. The
// endpoint maps it to a 4xx so the gateway does not redeliver: a tampered
// or mis-signed payload never becomes valid on retry.
var ErrInvalidSignature = fmt.Errorf("invalid webhook signature")

// Audit outcomes for the webhook event log.
const (
	outcomeApplied = "applied"
	outcomeSkipped = "skipped"
	outcomeIgnored = "ignored"
)

// ReconcileService is the payment-gateway webhook reconciliation engine:
// it authenticates deliveries, routes them by type, and evolves cart and
// order state so that every logical event is applied exactly once.
type ReconcileService interface {
	// HandleWebhook verifies the raw payload against the signature header
	// and dispatches the contained event. Verification must see the exact
	// bytes the gateway signed; callers must not re-serialize the body.
	HandleWebhook(ctx context.Context, payload []byte, sigHeader string) error
	// ReplayEvent re-fetches the canonical event by id from the gateway
	// and dispatches it. This is the path for deliveries that arrive
	// without raw signed bytes: the gateway's own record substitutes for
	// the signature.
	ReplayEvent(ctx context.Context, eventID string) error
}

type reconcileServiceImpl struct {
	webhookSecret string
	gateway       client.GatewayClient
	carts         repository.CartRepository
	orders        repository.OrderRepository
	events        repository.WebhookEventRepository
	completion    CompletionService
	logger        *zap.Logger
}

func NewReconcileService(
	webhookSecret string,
	gateway client.GatewayClient,
	carts repository.CartRepository,
	orders repository.OrderRepository,
	events repository.WebhookEventRepository,
	completion CompletionService,
	logger *zap.Logger,
) ReconcileService {
	return &reconcileServiceImpl{
		webhookSecret: webhookSecret,
		gateway:       gateway,
		carts:         carts,
		orders:        orders,
		events:        events,
		completion:    completion,
		logger:        logger,
	}
}

func (s *reconcileServiceImpl) HandleWebhook(ctx context.Context, payload []byte, sigHeader string) error {
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, s.webhookSecret, webhook.ConstructEventOptions{
		// Redeliveries can carry the API version the endpoint was pinned
		// to at delivery time, not the SDK's.
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	return s.dispatch(ctx, &event)
}

func (s *reconcileServiceImpl) ReplayEvent(ctx context.Context, eventID string) error {
	event, err := s.gateway.GetEvent(ctx, eventID)
	if err != nil {
		return fmt.Errorf("fetch event %s: %w", eventID, err)
	}

	return s.dispatch(ctx, event)
}

// dispatch routes a verified event to its handler. The event set is
// closed; anything else is acknowledged untouched so new gateway event
// types never bounce deliveries.
func (s *reconcileServiceImpl) dispatch(ctx context.Context, ev *stripe.Event) error {
	switch ev.Type {
	case stripe.EventTypeCheckoutSessionCompleted,
		stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		return s.handleCheckoutCompleted(ctx, ev)
	case stripe.EventTypeCheckoutSessionAsyncPaymentFailed:
		return s.handleAsyncPaymentFailed(ctx, ev)
	case stripe.EventTypeCheckoutSessionExpired:
		return s.handleCheckoutExpired(ctx, ev)
	case stripe.EventTypePaymentIntentPaymentFailed:
		return s.handlePaymentFailed(ctx, ev)
	case stripe.EventTypeChargeRefunded:
		return s.handleChargeRefunded(ctx, ev)
	default:
		s.logger.Debug("ignoring unhandled event type",
			zap.String("event_id", ev.ID),
			zap.String("event_type", string(ev.Type)))
		return nil
	}
}

func (s *reconcileServiceImpl) handleCheckoutCompleted(ctx context.Context, ev *stripe.Event) error {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(ev.Data.Raw, &sess); err != nil {
		return fmt.Errorf("decode checkout session: %w", err)
	}

	if sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		// Completed event observed before the payment settled; the async
		// success event will finish the job.
		s.logger.Debug("checkout session not yet paid",
			zap.String("session_id", sess.ID),
			zap.String("payment_status", string(sess.PaymentStatus)))
		s.recordDelivery(ctx, ev, "", outcomeIgnored)
		return nil
	}

	cartID := sess.ClientReferenceID
	if cartID == "" {
		// Redelivery cannot add the missing reference, so acknowledge.
		s.logger.Warn("checkout session has no cart reference",
			zap.String("event_id", ev.ID),
			zap.String("session_id", sess.ID))
		s.recordDelivery(ctx, ev, "", outcomeIgnored)
		return nil
	}

	cart, err := s.carts.FindByID(ctx, cartID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.logger.Warn("cart referenced by checkout session not found",
			zap.String("event_id", ev.ID),
			zap.String("cart_id", cartID))
		s.recordDelivery(ctx, ev, cartID, outcomeIgnored)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load cart %s: %w", cartID, err)
	}

	if model.MetaString(cart.Metadata, model.MetaCompletedEventID) == ev.ID {
		s.recordDelivery(ctx, ev, cartID, outcomeSkipped)
		return nil
	}

	intentID := ""
	if sess.PaymentIntent != nil {
		intentID = sess.PaymentIntent.ID
	}

	var order *model.Order
	if cart.CompletedAt == nil {
		order, err = s.completion.CompleteCart(ctx, cartID)
		if errors.Is(err, ErrCartAlreadyCompleted) {
			// A concurrent delivery won the claim; reuse its order.
			order, err = s.orders.FindByCartID(ctx, cartID)
		}
		if err != nil {
			return fmt.Errorf("materialize order for cart %s: %w", cartID, err)
		}
	} else {
		order, err = s.orders.FindByCartID(ctx, cartID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Warn("completed cart has no order",
				zap.String("event_id", ev.ID),
				zap.String("cart_id", cartID))
			order = nil
		} else if err != nil {
			return fmt.Errorf("load order for cart %s: %w", cartID, err)
		}
	}

	if err := s.carts.LinkSession(ctx, cartID, sess.ID); err != nil {
		return fmt.Errorf("link session to cart %s: %w", cartID, err)
	}

	applied := false
	err = s.carts.PatchMetadata(ctx, cartID, func(meta map[string]interface{}) map[string]interface{} {
		if model.MetaString(meta, model.MetaCompletedEventID) == ev.ID {
			return nil
		}
		updates := map[string]interface{}{
			model.MetaCompletedEventID: ev.ID,
			model.MetaSessionID:        sess.ID,
			model.MetaCheckoutStatus:   model.CheckoutStatusPaid,
		}
		if intentID != "" {
			updates[model.MetaPaymentIntentID] = intentID
		}
		if order != nil {
			updates[model.MetaOrderID] = order.ID
		}
		applied = true
		return model.MergeMetadata(meta, updates)
	})
	if err != nil {
		return fmt.Errorf("patch cart %s metadata: %w", cartID, err)
	}

	// Tag the order with gateway correlation ids right away: refund and
	// failure events only know the intent or the cart.
	if order != nil {
		if intentID != "" {
			if err := s.orders.SetPaymentIntentID(ctx, order.ID, intentID); err != nil {
				return fmt.Errorf("tag order %s with intent: %w", order.ID, err)
			}
		}
		err = s.orders.PatchMetadata(ctx, order.ID, func(meta map[string]interface{}) map[string]interface{} {
			updates := map[string]interface{}{
				model.MetaCartID:    cartID,
				model.MetaSessionID: sess.ID,
			}
			if intentID != "" {
				updates[model.MetaPaymentIntentID] = intentID
			}
			return model.MergeMetadata(meta, updates)
		})
		if err != nil {
			return fmt.Errorf("patch order %s metadata: %w", order.ID, err)
		}
	}

	outcome := outcomeSkipped
	if applied {
		outcome = outcomeApplied
	}
	s.recordDelivery(ctx, ev, cartID, outcome)
	return nil
}

func (s *reconcileServiceImpl) handleAsyncPaymentFailed(ctx context.Context, ev *stripe.Event) error {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(ev.Data.Raw, &sess); err != nil {
		return fmt.Errorf("decode checkout session: %w", err)
	}

	cartID := sess.ClientReferenceID
	if cartID == "" {
		s.logger.Warn("failed checkout session has no cart reference",
			zap.String("event_id", ev.ID),
			zap.String("session_id", sess.ID))
		s.recordDelivery(ctx, ev, "", outcomeIgnored)
		return nil
	}

	intentID, errMsg, errCode := "", "", ""
	if sess.PaymentIntent != nil {
		// The session payload carries no decline detail; the intent does.
		pi, err := s.gateway.GetPaymentIntent(ctx, sess.PaymentIntent.ID)
		if err != nil {
			return fmt.Errorf("fetch payment intent %s: %w", sess.PaymentIntent.ID, err)
		}
		intentID = pi.ID
		if pi.LastPaymentError != nil {
			errMsg = pi.LastPaymentError.Msg
			errCode = string(pi.LastPaymentError.Code)
		}
	}

	if err := s.carts.LinkSession(ctx, cartID, sess.ID); err != nil {
		return fmt.Errorf("link session to cart %s: %w", cartID, err)
	}

	return s.markPaymentFailure(ctx, ev, cartID, intentID, errMsg, errCode)
}

func (s *reconcileServiceImpl) handlePaymentFailed(ctx context.Context, ev *stripe.Event) error {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
		return fmt.Errorf("decode payment intent: %w", err)
	}

	// Gateway-initiated failures have no session context; the intent's
	// metadata carries the cart back-reference instead.
	cartID := pi.Metadata[model.MetaCartID]
	if cartID == "" {
		s.logger.Warn("failed payment intent has no cart reference",
			zap.String("event_id", ev.ID),
			zap.String("payment_intent_id", pi.ID))
		s.recordDelivery(ctx, ev, "", outcomeIgnored)
		return nil
	}

	errMsg, errCode := "", ""
	if pi.LastPaymentError != nil {
		errMsg = pi.LastPaymentError.Msg
		errCode = string(pi.LastPaymentError.Code)
	}

	return s.markPaymentFailure(ctx, ev, cartID, pi.ID, errMsg, errCode)
}

// markPaymentFailure records a payment failure on the cart and, when an
// order already exists, on the order too. Session-level and intent-level
// failure events for the same decline funnel through here, so the end
// state is the same whichever arrives, or if both do.
func (s *reconcileServiceImpl) markPaymentFailure(ctx context.Context, ev *stripe.Event, cartID, intentID, errMsg, errCode string) error {
	_, err := s.carts.FindByID(ctx, cartID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.logger.Warn("cart referenced by failure event not found",
			zap.String("event_id", ev.ID),
			zap.String("cart_id", cartID))
		s.recordDelivery(ctx, ev, cartID, outcomeIgnored)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load cart %s: %w", cartID, err)
	}

	updates := map[string]interface{}{
		model.MetaFailureEventID:   ev.ID,
		model.MetaCheckoutStatus:   model.CheckoutStatusFailed,
		model.MetaLastErrorMessage: errMsg,
		model.MetaLastErrorCode:    errCode,
	}
	if intentID != "" {
		updates[model.MetaPaymentIntentID] = intentID
	}

	applied := false
	err = s.carts.PatchMetadata(ctx, cartID, func(meta map[string]interface{}) map[string]interface{} {
		if model.MetaString(meta, model.MetaFailureEventID) == ev.ID {
			return nil
		}
		applied = true
		return model.MergeMetadata(meta, updates)
	})
	if err != nil {
		return fmt.Errorf("patch cart %s metadata: %w", cartID, err)
	}

	if applied {
		if err := s.patchOrderForCart(ctx, cartID, updates); err != nil {
			return err
		}
	}

	outcome := outcomeSkipped
	if applied {
		outcome = outcomeApplied
	}
	s.recordDelivery(ctx, ev, cartID, outcome)
	return nil
}

func (s *reconcileServiceImpl) handleCheckoutExpired(ctx context.Context, ev *stripe.Event) error {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(ev.Data.Raw, &sess); err != nil {
		return fmt.Errorf("decode checkout session: %w", err)
	}

	cartID := sess.ClientReferenceID
	if cartID == "" {
		s.logger.Warn("expired checkout session has no cart reference",
			zap.String("event_id", ev.ID),
			zap.String("session_id", sess.ID))
		s.recordDelivery(ctx, ev, "", outcomeIgnored)
		return nil
	}

	_, err := s.carts.FindByID(ctx, cartID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.logger.Warn("cart referenced by expired session not found",
			zap.String("event_id", ev.ID),
			zap.String("cart_id", cartID))
		s.recordDelivery(ctx, ev, cartID, outcomeIgnored)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load cart %s: %w", cartID, err)
	}

	if err := s.carts.LinkSession(ctx, cartID, sess.ID); err != nil {
		return fmt.Errorf("link session to cart %s: %w", cartID, err)
	}

	updates := map[string]interface{}{
		model.MetaExpiredEventID: ev.ID,
		model.MetaSessionID:      sess.ID,
		model.MetaCheckoutStatus: model.CheckoutStatusExpired,
	}

	applied := false
	err = s.carts.PatchMetadata(ctx, cartID, func(meta map[string]interface{}) map[string]interface{} {
		if model.MetaString(meta, model.MetaExpiredEventID) == ev.ID {
			return nil
		}
		applied = true
		return model.MergeMetadata(meta, updates)
	})
	if err != nil {
		return fmt.Errorf("patch cart %s metadata: %w", cartID, err)
	}

	if applied {
		if err := s.patchOrderForCart(ctx, cartID, updates); err != nil {
			return err
		}
	}

	outcome := outcomeSkipped
	if applied {
		outcome = outcomeApplied
	}
	s.recordDelivery(ctx, ev, cartID, outcome)
	return nil
}

func (s *reconcileServiceImpl) handleChargeRefunded(ctx context.Context, ev *stripe.Event) error {
	var ch stripe.Charge
	if err := json.Unmarshal(ev.Data.Raw, &ch); err != nil {
		return fmt.Errorf("decode charge: %w", err)
	}

	if ch.PaymentIntent == nil {
		s.logger.Warn("refunded charge has no payment intent",
			zap.String("event_id", ev.ID),
			zap.String("charge_id", ch.ID))
		s.recordDelivery(ctx, ev, "", outcomeIgnored)
		return nil
	}

	order, err := s.orders.FindByPaymentIntentID(ctx, ch.PaymentIntent.ID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.logger.Warn("no order for refunded charge",
			zap.String("event_id", ev.ID),
			zap.String("payment_intent_id", ch.PaymentIntent.ID))
		s.recordDelivery(ctx, ev, "", outcomeIgnored)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load order for intent %s: %w", ch.PaymentIntent.ID, err)
	}

	refundID := ch.ID
	amount := ch.AmountRefunded
	currency := string(ch.Currency)
	if ch.Refunds != nil && len(ch.Refunds.Data) > 0 {
		// Newest first in the gateway payload.
		refund := ch.Refunds.Data[0]
		refundID = refund.ID
		amount = refund.Amount
		currency = string(refund.Currency)
	}

	applied := false
	// Refunds only add bookkeeping; checkout_status is left alone.
	err = s.orders.PatchMetadata(ctx, order.ID, func(meta map[string]interface{}) map[string]interface{} {
		if model.MetaString(meta, model.MetaRefundEventID) == ev.ID {
			return nil
		}
		applied = true
		return model.MergeMetadata(meta, map[string]interface{}{
			model.MetaRefundID:       refundID,
			model.MetaRefundAmount:   strconv.FormatInt(amount, 10),
			model.MetaRefundCurrency: currency,
			model.MetaRefundEventID:  ev.ID,
		})
	})
	if err != nil {
		return fmt.Errorf("patch order %s metadata: %w", order.ID, err)
	}

	outcome := outcomeSkipped
	if applied {
		outcome = outcomeApplied
	}
	s.recordDelivery(ctx, ev, order.CartID, outcome)
	return nil
}

// patchOrderForCart applies the same metadata updates to the cart's order,
// if one exists. Failure and expiry events can land after materialization,
// and the order must then reflect them too.
func (s *reconcileServiceImpl) patchOrderForCart(ctx context.Context, cartID string, updates map[string]interface{}) error {
	order, err := s.orders.FindByCartID(ctx, cartID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load order for cart %s: %w", cartID, err)
	}

	err = s.orders.PatchMetadata(ctx, order.ID, func(meta map[string]interface{}) map[string]interface{} {
		return model.MergeMetadata(meta, updates)
	})
	if err != nil {
		return fmt.Errorf("patch order %s metadata: %w", order.ID, err)
	}
	return nil
}

// recordDelivery writes the audit row. Best effort: an audit failure must
// not bounce a delivery the store already absorbed.
func (s *reconcileServiceImpl) recordDelivery(ctx context.Context, ev *stripe.Event, cartID, outcome string) {
	if err := s.events.Record(ctx, ev.ID, string(ev.Type), cartID, outcome); err != nil {
		s.logger.Error("failed to record webhook delivery",
			zap.Error(err),
			zap.String("event_id", ev.ID))
	}
}
