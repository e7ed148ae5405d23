package cmd

import (
	"context"
	"database/sql"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vibast-solutions/ms-go-orders/app/controller"
	"github.com/vibast-solutions/ms-go-orders/app/countdown"
	"github.com/vibast-solutions/ms-go-orders/app/gateway"
	"github.com/vibast-solutions/ms-go-orders/app/metrics"
	"github.com/vibast-solutions/ms-go-orders/app/notifier"
	"github.com/vibast-solutions/ms-go-orders/app/repository"
	"github.com/vibast-solutions/ms-go-orders/app/service"
	"github.com/vibast-solutions/ms-go-orders/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server, expiration listener, and reconciliation sweep",
	Run:   runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) {
	deps := mustCreateOrderService(true)
	defer deps.cleanup()

	orderController := controller.NewOrderController(deps.orderService, gateway.NewHMACGateway(deps.cfg.Gateway.NotifySecret))
	e := setupHTTPServer(orderController)

	// Both timeout paths start with the service: the redis expiration listener
	// for the fast path, and the sweep as the durability backstop behind it.
	listener := countdown.NewListener(deps.rdb, deps.cfg.Redis.DB, deps.orderService, deps.metrics)
	if err := listener.Start(context.Background()); err != nil {
		logrus.WithError(err).Fatal("Failed to start expiration listener")
	}

	sweeper := service.NewTimeoutSweeper(deps.orderService, deps.cfg.Orders)
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go runSweepLoop(sweepCtx, sweeper, deps.cfg.Jobs.SweepInterval)

	go func() {
		httpAddr := net.JoinHostPort(deps.cfg.HTTP.Host, deps.cfg.HTTP.Port)
		logrus.WithField("addr", httpAddr).Info("Starting HTTP server")
		if err := e.Start(httpAddr); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("HTTP shutdown error")
	}
	stopSweep()
	listener.Stop()

	logrus.Info("Server stopped")
}

func runSweepLoop(ctx context.Context, sweeper *service.TimeoutSweeper, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runJob("timeout_sweep", func() error { return sweeper.RunBatch(ctx) })
		}
	}
}

func setupHTTPServer(orderController *controller.OrderController) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogRemoteIP:  true,
		LogLatency:   true,
		LogUserAgent: true,
		LogError:     true,
		HandleError:  true,
		LogRequestID: true,
		LogValuesFunc: func(_ echo.Context, v echomiddleware.RequestLoggerValues) error {
			fields := logrus.Fields{
				"remote_ip":  v.RemoteIP,
				"host":       v.Host,
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency":    v.Latency.String(),
				"latency_ns": v.Latency.Nanoseconds(),
				"user_agent": v.UserAgent,
			}
			entry := logrus.WithFields(fields)
			if v.Error != nil {
				entry = entry.WithError(v.Error)
			}
			entry.Info("http_request")
			return nil
		},
	}))
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())

	e.GET("/health", orderController.Health)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	orders := e.Group("/orders")
	orders.POST("", orderController.CreateOrder)
	orders.GET("/:id", orderController.GetOrder)
	orders.GET("/no/:order_no/remaining", orderController.RemainingSeconds)
	orders.POST("/:id/cancel", orderController.CancelOrder)
	orders.POST("/:id/refund", orderController.RequestRefund)

	e.POST("/gateway/notify", orderController.GatewayNotify)

	return e
}

type serviceDeps struct {
	cfg          *config.Config
	orderService *service.OrderService
	rdb          *redis.Client
	metrics      *metrics.OrderMetrics
	cleanup      func()
}

func mustCreateOrderService(withMetrics bool) *serviceDeps {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	if err := configureLogging(cfg); err != nil {
		logrus.WithError(err).Fatal("Failed to configure logging")
	}

	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}

	db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		logrus.WithError(err).Fatal("Failed to ping database")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		_ = db.Close()
		logrus.WithError(err).Fatal("Failed to ping redis")
	}

	producer := notifier.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.OrderClosedTopic)
	if !producer.Enabled() {
		logrus.Warn("Kafka brokers not configured, order-closed notifications disabled")
	}

	var m *metrics.OrderMetrics
	if withMetrics {
		m = metrics.NewOrderMetrics("lifecycle")
	}

	orderRepo := repository.NewOrderRepository(db)
	eventRepo := repository.NewOrderEventRepository(db)
	registrar := countdown.NewRegistrar(rdb)

	orderService := service.NewOrderService(orderRepo, eventRepo, registrar, producer, cfg.Orders, m)

	cleanup := func() {
		if err := producer.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close kafka producer")
		}
		if err := rdb.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close redis client")
		}
		if err := db.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close database")
		}
	}

	return &serviceDeps{
		cfg:          cfg,
		orderService: orderService,
		rdb:          rdb,
		metrics:      m,
		cleanup:      cleanup,
	}
}
