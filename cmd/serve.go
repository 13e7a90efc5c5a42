package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"payfast-reconciler/internal/handlers"
	"payfast-reconciler/security"
	"payfast-reconciler/utils"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook receiver and status API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := a.Close(closeCtx); err != nil {
				a.logger.Error("shutdown", zap.Error(err))
			}
		}()

		return a.serve(ctx)
	},
}

func (a *app) router() *echo.Echo {
	e := echo.New()
	e.Use(middleware.Recover())
	e.Use(requestLogger(a.logger, otel.Tracer("payfast-reconciler")))

	paymentHandler := handlers.NewPaymentHandler(a.payments, a.sink, a.gateway.MerchantID(), a.logger)

	var hookLimit, statusLimit []echo.MiddlewareFunc
	if a.redis != nil {
		rl := security.NewRateLimiter(a.redis)
		hookLimit = append(hookLimit, rl.WebhookRateLimit(a.cfg.RateLimit.WebhookPerMinute))
		statusLimit = append(statusLimit, rl.AntiBotMiddleware(a.cfg.RateLimit.StatusPerMinute))
	}

	e.POST("/payfast/hooks", paymentHandler.PayFastWebhook, hookLimit...)
	e.GET("/payments/:merchantTransactionId/status", paymentHandler.GetPaymentStatus, statusLimit...)
	e.POST("/payments/:merchantTransactionId/reconcile", paymentHandler.ReconcilePayment, statusLimit...)

	if a.cfg.Metrics.Enabled {
		e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	}

	e.GET("/health", func(c echo.Context) error {
		if a.redis != nil {
			if err := utils.RedisHealthCheck(c.Request().Context(), a.redis); err != nil {
				return c.JSON(http.StatusServiceUnavailable, map[string]string{
					"status": "unhealthy",
					"error":  err.Error(),
				})
			}
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
	})

	return e
}

func (a *app) serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Server.Address,
		Handler:           a.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("server listening", zap.String("address", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutdown signal received, draining connections")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.Shutdown)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// requestLogger opens a server span per request, continuing any incoming
// trace context, and logs the request with its trace id.
func requestLogger(logger *zap.Logger, tracer trace.Tracer) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()

			ctx := otel.GetTextMapPropagator().Extract(req.Context(), propagation.HeaderCarrier(req.Header))
			ctx, span := tracer.Start(ctx, req.Method+" "+req.URL.Path, trace.WithSpanKind(trace.SpanKindServer))
			defer span.End()
			c.SetRequest(req.WithContext(ctx))

			err := next(c)

			fields := []zap.Field{
				zap.String("method", req.Method),
				zap.String("path", req.URL.Path),
				zap.String("remote_ip", c.RealIP()),
				zap.Duration("latency", time.Since(start)),
				zap.Error(err),
			}
			if sc := span.SpanContext(); sc.IsValid() {
				fields = append(fields, zap.String("trace_id", sc.TraceID().String()))
			}
			logger.Info("request", fields...)
			return err
		}
	}
}
