package server

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"recordstore-checkout/internal/handler"
	"recordstore-checkout/internal/service"
)

type Server struct {
	echo           *echo.Echo
	webhookHandler *handler.WebhookHandler
}

func NewServer(reconcileService service.ReconcileService, statusService service.StatusService, logger *zap.Logger) *Server {
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info("request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status))
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	webhookHandler := handler.NewWebhookHandler(reconcileService, statusService, logger)

	s := &Server{
		echo:           e,
		webhookHandler: webhookHandler,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.echo.GET("/api/health", func(c echo.Context) error {
		return c.JSON(200, map[string]string{"status": "ok"})
	})

	// -------- gateway webhooks --------
	webhooks := s.echo.Group("/webhooks")
	webhooks.POST("/payment", s.webhookHandler.HandlePaymentWebhook)
	webhooks.POST("/payment/replay/:eventID", s.webhookHandler.HandleReplayEvent)

	// -------- storefront status views --------
	checkout := s.echo.Group("/checkout")
	checkout.GET("/carts/:cartID/status", s.webhookHandler.GetCartStatus)
	checkout.GET("/sessions/:sessionID/status", s.webhookHandler.GetSessionStatus)
}

// Echo exposes the underlying router, mainly for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) Start(address string) error {
	return s.echo.Start(address)
}

func (s *Server) Shutdown() error {
	return s.echo.Close()
}
