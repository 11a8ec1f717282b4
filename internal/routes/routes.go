package routes

import (
	"context"
	"fmt"

	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/attachment"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/config"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/handlers"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/metrics"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/middleware"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/repository"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/services"
	chatws "github.com/yuhueng/petbnb-pwa-sub001/internal/websocket"
)

// RegisterRoutes wires repositories, services and handlers onto app. The
// realtime hub and the optional Redis bridge run until ctx is cancelled.
func RegisterRoutes(ctx context.Context, app *fiber.App, cfg *config.Config, db *pgxpool.Pool, log zerolog.Logger) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	userRepo := repository.NewUserRepository(db)
	profileRepo := repository.NewProfileRepository(db)
	conversationRepo := repository.NewConversationRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	bookingRepo := repository.NewBookingRepository(db)
	certificationRepo := repository.NewCertificationRepository(db)

	storageService, err := newStorageService(ctx, cfg, log)
	if err != nil {
		return err
	}

	chatHub := chatws.NewHub(m, log)
	go chatHub.Run(ctx)
	if cfg.RedisURL != "" {
		redisClient, err := chatws.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		bridge := chatws.NewRedisBridge(redisClient, chatHub, log)
		chatHub.SetRelay(bridge)
		go func() {
			defer redisClient.Close()
			if err := bridge.Run(ctx); err != nil {
				log.Error().Err(err).Msg("redis bridge stopped")
			}
		}()
	}

	var chatService *services.ChatService
	if storageService != nil {
		uploader := attachment.NewStorageUploader(storageService, "chat")
		chatService = services.NewChatService(db, conversationRepo, messageRepo, userRepo, uploader, m, log)
	} else {
		chatService = services.NewChatService(db, conversationRepo, messageRepo, userRepo, nil, m, log)
	}
	chatService.SetPublisher(chatHub)

	bookingService := services.NewBookingService(db, bookingRepo, userRepo, profileRepo, m, log)
	bookingService.SetPublisher(chatHub)
	profileService := services.NewProfileService(profileRepo, storageService, log)
	certificationService := services.NewCertificationService(certificationRepo, userRepo, storageService)

	authHandler := handlers.NewAuthHandler(db, userRepo, profileRepo, cfg.JWTSecret, cfg.JWTTTL)
	profileHandler := handlers.NewProfileHandler(profileService)
	chatHandler := handlers.NewChatHandler(chatService, chatHub, cfg.JWTSecret, cfg.MaxAttachmentBytes, log)
	bookingHandler := handlers.NewBookingHandler(bookingService)
	certificationHandler := handlers.NewCertificationHandler(certificationService)

	api := app.Group("/api")

	auth := api.Group("/auth")
	auth.Post("/register", authHandler.Register)
	auth.Post("/login", authHandler.Login)
	auth.Get("/me", middleware.AuthRequired(cfg.JWTSecret), authHandler.Me)
	auth.Put("/role", middleware.AuthRequired(cfg.JWTSecret), authHandler.SwitchRole)

	// The socket authenticates from ?token, so it is registered ahead of the
	// bearer-protected group.
	api.Use("/v1/ws", chatHandler.WebSocketAuth)
	api.Get("/v1/ws", websocket.New(chatHandler.HandleWebSocket))

	authProtected := api.Group("/v1", middleware.AuthRequired(cfg.JWTSecret))

	authProtected.Get("/profile", profileHandler.GetMyProfile)
	authProtected.Put("/profile", profileHandler.UpdateProfile)
	authProtected.Post("/profile/avatar", profileHandler.UploadAvatar)
	authProtected.Get("/profiles/:id", profileHandler.GetProfile)

	conversations := authProtected.Group("/conversations")
	conversations.Get("", chatHandler.ListConversations)
	conversations.Post("", chatHandler.CreateConversation)
	conversations.Get("/:id/messages", chatHandler.GetMessages)
	conversations.Post("/:id/messages", chatHandler.SendMessage)
	conversations.Post("/:id/read", chatHandler.MarkAsRead)
	conversations.Post("/:id/attachments", chatHandler.UploadAttachment)

	bookings := authProtected.Group("/bookings")
	bookings.Post("", bookingHandler.RequestBooking)
	bookings.Get("", bookingHandler.ListBookings)
	bookings.Get("/:id", bookingHandler.GetBooking)
	bookings.Put("/:id/status", bookingHandler.UpdateStatus)

	certifications := authProtected.Group("/certifications")
	certifications.Post("", certificationHandler.CreateCertification)
	certifications.Get("", certificationHandler.ListMine)
	certifications.Get("/:id/download", certificationHandler.Download)
	authProtected.Get("/sitters/:id/certifications", certificationHandler.ListForSitter)

	return nil
}

// newStorageService returns nil when the selected backend is not configured;
// upload endpoints then answer 503.
func newStorageService(ctx context.Context, cfg *config.Config, log zerolog.Logger) (services.StorageService, error) {
	if !cfg.StorageConfigured() {
		log.Warn().Str("backend", cfg.StorageBackend).Msg("object storage not configured, uploads disabled")
		return nil, nil
	}

	switch cfg.StorageBackend {
	case "s3":
		store, err := services.NewS3StorageService(ctx, services.S3Options{
			Bucket:        cfg.S3Bucket,
			Region:        cfg.S3Region,
			Endpoint:      cfg.S3Endpoint,
			AccessKeyID:   cfg.S3AccessKeyID,
			SecretKey:     cfg.S3SecretKey,
			PublicBaseURL: cfg.S3PublicBaseURL,
			UsePathStyle:  cfg.S3UsePathStyle,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("configure s3 storage: %w", err)
		}
		return store, nil
	default:
		return services.NewSupabaseStorageService(cfg.SupabaseURL, cfg.SupabaseBucket, cfg.SupabaseServiceKey), nil
	}
}
