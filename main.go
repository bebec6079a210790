package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/spf13/viper"
	"github.com/streadway/amqp"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"freshmart/internal/handlers"
	"freshmart/internal/middleware"
	"freshmart/internal/models"
	"freshmart/internal/repositories"
	"freshmart/internal/services"
	"freshmart/pkg/rabbitmq"
	"freshmart/pkg/storage"
)

// AppConfig carries the settings NewApp needs beyond its collaborators.
type AppConfig struct {
	JWTSecret string
	UploadDir string // served at /uploads when non-empty
}

// NewApp migrates the schema and wires repositories, services and handlers
// into a Fiber app. The uploader, event publisher and bus are injectable so
// tests can substitute them.
func NewApp(db *gorm.DB, uploader storage.Uploader, events services.ProductEventPublisher, bus EventBus.Bus, cfg AppConfig) (*fiber.App, *services.AuthService, error) {
	if err := db.AutoMigrate(&models.Product{}, &models.User{}); err != nil {
		return nil, nil, err
	}

	// --- Initialize Repositories ---
	productRepo := repositories.NewGORMProductRepository(db)
	userRepo := repositories.NewGORMUserRepository(db)

	// --- Initialize Services ---
	productService := services.NewProductService(productRepo, uploader, bus, events)
	authService := services.NewAuthService(userRepo, cfg.JWTSecret)

	// --- Initialize Handlers ---
	productHandler := handlers.NewProductHandler(productService)
	authHandler := handlers.NewAuthHandler(authService)

	app := fiber.New()

	// --- Middleware ---
	app.Use(logger.New()) // Request logger

	// Uploaded images are served statically under the public base URL.
	if cfg.UploadDir != "" {
		app.Static("/uploads", cfg.UploadDir)
	}

	// --- API Routes ---
	apiV1 := app.Group("/api/v1")

	// Authentication routes (public)
	authHandler.RegisterRoutes(apiV1)

	// Protected routes (require JWT authentication)
	protectedRoutes := apiV1.Group("", middleware.AuthRequired(authService))
	productHandler.RegisterRoutes(protectedRoutes)
	authHandler.RegisterProtectedRoutes(protectedRoutes)

	// --- Health Check Endpoint ---
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	return app, authService, nil
}

func main() {
	// --- Configuration ---
	// Set up Viper to read configuration from environment variables
	viper.SetDefault("APP_PORT", ":8080")
	viper.SetDefault("DB_DRIVER", "sqlite")
	viper.SetDefault("DATABASE_DSN", "freshmart.db")
	viper.SetDefault("JWT_SECRET", "dev_jwt_secret")
	viper.SetDefault("RABBITMQ_URL", "")
	viper.SetDefault("UPLOAD_DIR", "./uploads")
	viper.SetDefault("BASE_URL", "http://localhost:8080/uploads")
	viper.AutomaticEnv() // Load environment variables

	appPort := viper.GetString("APP_PORT")

	// --- Initialize Database (GORM) ---
	var (
		db  *gorm.DB
		err error
	)
	switch viper.GetString("DB_DRIVER") {
	case "postgres":
		db, err = gorm.Open(postgres.Open(viper.GetString("DATABASE_DSN")), &gorm.Config{})
	default:
		db, err = gorm.Open(sqlite.Open(viper.GetString("DATABASE_DSN")), &gorm.Config{})
	}
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	// --- Initialize Image Store ---
	store, err := storage.NewDiskStore(storage.Config{
		Dir:     viper.GetString("UPLOAD_DIR"),
		BaseURL: viper.GetString("BASE_URL"),
	})
	if err != nil {
		log.Fatalf("Failed to initialize image store: %v", err)
	}

	// --- Initialize RabbitMQ Client (optional) ---
	// The broker is an external collaborator: when it is not configured the
	// services skip event publication instead of failing submissions.
	var events services.ProductEventPublisher
	var mqClient *rabbitmq.Client
	if rabbitMQURL := viper.GetString("RABBITMQ_URL"); rabbitMQURL != "" {
		mqClient, err = rabbitmq.NewClient(rabbitmq.Config{URL: rabbitMQURL})
		if err != nil {
			log.Printf("Warning: RabbitMQ unavailable, product events disabled: %v", err)
		} else {
			defer mqClient.Close() // Ensure the connection is closed on exit
			events = mqClient
		}
	}

	// --- In-process Event Bus ---
	// List consumers subscribe here; they are notified after the initial
	// fetch and after every successful create, update or delete.
	bus := EventBus.New()
	if err := bus.Subscribe(services.TopicProductsChanged, func(products []models.Product) {
		log.Printf("Product list changed: %d records", len(products))
	}); err != nil {
		log.Fatalf("Failed to subscribe to product changes: %v", err)
	}

	// --- Build the App ---
	app, _, err := NewApp(db, store, events, bus, AppConfig{
		JWTSecret: viper.GetString("JWT_SECRET"),
		UploadDir: viper.GetString("UPLOAD_DIR"),
	})
	if err != nil {
		log.Fatalf("Failed to create app: %v", err)
	}

	// --- Start RabbitMQ Consumer ---
	if mqClient != nil {
		log.Println("Starting RabbitMQ consumer for product events...")
		messageHandler := func(msg amqp.Delivery) error {
			log.Printf("Received product event (Tag: %d): %s", msg.DeliveryTag, string(msg.Body))
			return nil // Return nil to acknowledge
		}
		if consumerErr := mqClient.ConsumeProductEvents(messageHandler); consumerErr != nil {
			log.Printf("Failed to start RabbitMQ consumer: %v", consumerErr)
		}
	}

	// --- Start HTTP Server ---
	log.Printf("Starting server on port %s", appPort)

	// Graceful shutdown handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := app.Listen(appPort); err != nil {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	<-quit
	log.Println("Shutting down server...")

	if err := app.Shutdown(); err != nil {
		log.Printf("Error during Fiber shutdown: %v", err)
	}

	log.Println("Server gracefully stopped")
}
