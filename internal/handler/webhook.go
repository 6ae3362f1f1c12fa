package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"recordstore-checkout/internal/dto"
	"recordstore-checkout/internal/service"
)

type WebhookHandler struct {
	reconcileService service.ReconcileService
	statusService    service.StatusService
	logger           *zap.Logger
}

func NewWebhookHandler(reconcileService service.ReconcileService, statusService service.StatusService, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		reconcileService: reconcileService,
		statusService:    statusService,
		logger:           logger,
	}
}

// HandlePaymentWebhook receives gateway deliveries. The body is read raw
// and passed through untouched: the signature covers exact bytes, and any
// re-serialization upstream of verification would invalidate it.
func (h *WebhookHandler) HandlePaymentWebhook(c echo.Context) error {
	ctx := c.Request().Context()

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
	}

	sigHeader := c.Request().Header.Get("Stripe-Signature")
	if sigHeader == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing Stripe-Signature header")
	}

	err = h.reconcileService.HandleWebhook(ctx, body, sigHeader)
	if errors.Is(err, service.ErrInvalidSignature) {
		h.logger.Warn("rejected webhook delivery", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid signature")
	}
	if err != nil {
		// Propagate: the resulting 5xx tells the gateway to redeliver.
		return err
	}

	return c.JSON(http.StatusOK, &dto.WebhookAck{Received: true})
}

// HandleReplayEvent applies an event by id, fetching the canonical copy
// from the gateway. Operator path for deliveries without raw signed bytes.
func (h *WebhookHandler) HandleReplayEvent(c echo.Context) error {
	ctx := c.Request().Context()

	eventID := c.Param("eventID")
	if eventID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing event id")
	}

	if err := h.reconcileService.ReplayEvent(ctx, eventID); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, &dto.WebhookAck{Received: true})
}

func (h *WebhookHandler) GetCartStatus(c echo.Context) error {
	ctx := c.Request().Context()

	status, err := h.statusService.CartStatus(ctx, c.Param("cartID"))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "cart not found")
	}
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, status)
}

func (h *WebhookHandler) GetSessionStatus(c echo.Context) error {
	ctx := c.Request().Context()

	status, err := h.statusService.SessionStatus(ctx, c.Param("sessionID"))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, status)
}
