package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/tripora/booking-payments-backend/internal/config"
	"github.com/tripora/booking-payments-backend/internal/database"
	"github.com/tripora/booking-payments-backend/internal/handlers"
	"github.com/tripora/booking-payments-backend/internal/middleware"
	"github.com/tripora/booking-payments-backend/internal/services"
	"github.com/tripora/booking-payments-backend/pkg/jwt"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	logger.Info("Starting Tripora Booking Payments Backend")
	logger.Infof("Version: %s, Build Time: %s", version, buildTime)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Set log level
	logLevel, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		logger.Warn("Invalid log level, using INFO")
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Set Gin mode
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Initialize database connection
	logger.Info("Connecting to database...")
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Database connection established")

	// Repositories need the underlying *sqlx.DB
	sqlxDB, ok := db.(*database.PostgresDB)
	if !ok {
		logger.Fatal("Failed to cast database connection to PostgresDB")
	}

	// Initialize Redis (optional fast path for idempotency replay)
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.WithError(err).Warn("Redis unreachable, idempotency cache disabled")
			redisClient = nil
		} else {
			logger.Info("Redis connection established")
		}
	}

	// Initialize event publisher
	var publisher services.EventPublisher = services.NoopEventPublisher{}
	if cfg.Kafka.Enabled {
		kafkaPublisher, err := services.NewKafkaEventPublisher(cfg.Kafka.Brokers, logger)
		if err != nil {
			logger.Fatalf("Failed to connect to Kafka: %v", err)
		}
		publisher = kafkaPublisher
		logger.Info("Kafka producer connected")
	}
	defer publisher.Close()

	// Initialize JWT service
	jwtService := jwt.NewService(cfg.JWT.Secret, cfg.JWT.AccessTokenExpiry)

	// Initialize repositories
	paymentRepository := database.NewPaymentRepository(sqlxDB.DB, logger)
	refundRepository := database.NewRefundRepository(sqlxDB.DB, logger)
	installmentRepository := database.NewInstallmentRepository(sqlxDB.DB, logger)
	webhookEventRepository := database.NewWebhookEventRepository(sqlxDB.DB, logger)
	invoiceRepository := database.NewInvoiceRepository(sqlxDB.DB, logger)
	idempotencyRepository := database.NewIdempotencyRepository(sqlxDB.DB, logger)

	// Initialize gateway and upstream clients
	gatewayService := services.NewRazorpayService(&cfg.Razorpay, logger)
	bookingClient := services.NewBookingServiceClient(&cfg.BookingService, logger)

	// Initialize document generation
	var documentGenerator services.DocumentGenerator
	if cfg.Invoice.PDFEnabled && cfg.Invoice.RendererURL != "" {
		documentGenerator = services.NewHTTPDocumentGenerator(&cfg.Invoice, logger)
	}

	// Initialize services
	idempotencyGuard := services.NewIdempotencyGuard(idempotencyRepository, redisClient, logger)
	installmentService := services.NewInstallmentService(db, installmentRepository, logger)
	invoiceService := services.NewInvoiceService(invoiceRepository, documentGenerator, logger)
	paymentService := services.NewPaymentService(db, paymentRepository, installmentRepository, gatewayService, bookingClient, idempotencyGuard, logger)
	refundService := services.NewRefundService(db, paymentRepository, refundRepository, gatewayService, logger)
	webhookService := services.NewWebhookService(db, paymentRepository, refundRepository, installmentRepository, webhookEventRepository, gatewayService, invoiceService, bookingClient, publisher, logger)

	// Initialize handlers
	paymentHandler := handlers.NewPaymentHandler(paymentService, refundService, invoiceService, logger)
	webhookHandler := handlers.NewWebhookHandler(webhookService, logger)
	installmentHandler := handlers.NewInstallmentHandler(installmentService, logger)

	// Initialize Gin router
	router := gin.New()

	// Middleware
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	// CORS configuration
	corsConfig := cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	router.Use(cors.New(corsConfig))

	// Health check endpoint
	router.GET("/health", healthCheckHandler(db))

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		payments := v1.Group("/payments")
		{
			// Webhook is public; the gateway authenticates by signature
			payments.POST("/webhook", webhookHandler.HandleWebhook)

			authed := payments.Group("")
			authed.Use(middleware.AuthMiddleware(jwtService))
			{
				authed.POST("/initiate", paymentHandler.InitiatePayment)
				authed.POST("/verify", paymentHandler.VerifyPayment)
				authed.POST("/refund", paymentHandler.InitiateRefund)
				authed.GET("/invoices/:invoice_no", paymentHandler.GetInvoice)
			}
		}

		bookings := v1.Group("/bookings")
		bookings.Use(middleware.AuthMiddleware(jwtService))
		{
			bookings.POST("/schedule", installmentHandler.CreateSchedule)
			bookings.GET("/:booking_id/schedule", installmentHandler.GetSchedule)
		}
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Infof("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited successfully")
}

// requestLogger middleware for logging HTTP requests
func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)

		fields := logrus.Fields{
			"status":     c.Writer.Status(),
			"method":     c.Request.Method,
			"path":       path,
			"query":      query,
			"ip":         c.ClientIP(),
			"latency_ms": latency.Milliseconds(),
			"user_agent": c.Request.UserAgent(),
		}

		entry := logger.WithFields(fields)

		if len(c.Errors) > 0 {
			for i, err := range c.Errors {
				entry = entry.WithField(fmt.Sprintf("error_%d", i), err.Error())
			}
			entry.Error("Request failed with errors")
		} else {
			status := c.Writer.Status()
			if status >= 500 {
				entry.Error("Request completed with server error")
			} else if status >= 400 {
				entry.Warn("Request completed with client error")
			} else {
				entry.Info("Request completed successfully")
			}
		}
	}
}

// healthCheckHandler returns a health check endpoint
func healthCheckHandler(db database.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"database": "unhealthy",
				"error":    err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"database":  "healthy",
			"version":   version,
			"timestamp": time.Now().Unix(),
		})
	}
}
