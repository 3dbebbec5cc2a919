package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/peerhub/apiserver/config"
	"github.com/peerhub/apiserver/internal/db"
	"github.com/peerhub/apiserver/internal/events"
	"github.com/peerhub/apiserver/internal/handlers"
	"github.com/peerhub/apiserver/internal/mq"
	"github.com/peerhub/apiserver/internal/services"
	"github.com/peerhub/apiserver/internal/storage"
	"github.com/peerhub/apiserver/internal/store"
	"gorm.io/gorm"
)

// Server wraps the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *gorm.DB
	publisher  *events.Publisher
}

// New constructs a Server: database, repositories, services, storage,
// events, and the chi router with its middleware stack.
func New(ctx context.Context, cfg config.Config) (*Server, error) {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	if strings.TrimSpace(cfg.JWT.Secret) == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	gdb, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	publisher, err := newEventPublisher(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	avatars, err := newAvatarStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if avatars != nil {
		if err := avatars.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("ensure avatar bucket: %w", err)
		}
	}

	userRepo := store.NewUserRepository(gdb)
	userService := services.NewUserService(userRepo, publisher, log)

	authHandler := handlers.NewAuthHandler(userService, cfg.JWT.Secret, cfg.JWT.TokenTTL, log)
	profileHandler := handlers.NewProfileHandler(userService, avatars, log)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Route("/users", func(r chi.Router) {
		handlers.UserRouter(r, authHandler, profileHandler)
	})
	if cfg.Google.Enabled() {
		oauthHandler := handlers.NewOAuthHandler(userService, authHandler, cfg.Google, log)
		router.Route("/auth", func(r chi.Router) {
			handlers.OAuthRouter(r, oauthHandler)
		})
	}

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		router:     router,
		db:         gdb,
		publisher:  publisher,
	}, nil
}

func newEventPublisher(ctx context.Context, cfg config.Config, log *slog.Logger) (*events.Publisher, error) {
	var backend mq.Publisher
	switch cfg.MQ.Backend {
	case "rabbitmq":
		client, err := mq.NewRabbitMQClient(cfg.MQ.RabbitMQ)
		if err != nil {
			return nil, fmt.Errorf("rabbitmq: %w", err)
		}
		backend = client
	case "pubsub":
		client, err := mq.NewPubSubClient(ctx, cfg.MQ.PubSub)
		if err != nil {
			return nil, fmt.Errorf("pubsub: %w", err)
		}
		backend = client
	case "":
		backend = mq.NopPublisher{}
	default:
		return nil, fmt.Errorf("unknown mq backend %q", cfg.MQ.Backend)
	}
	return events.NewPublisher(backend, cfg.MQ.Channel, log), nil
}

func newAvatarStore(ctx context.Context, cfg config.Config) (*storage.AvatarStore, error) {
	switch cfg.Storage.Backend {
	case "minio":
		client, err := storage.NewMinioClient(cfg.Storage.Minio)
		if err != nil {
			return nil, fmt.Errorf("minio: %w", err)
		}
		return storage.NewAvatarStore(client), nil
	case "gcs":
		client, err := storage.NewGCSClient(ctx, cfg.Storage.GCS)
		if err != nil {
			return nil, fmt.Errorf("gcs: %w", err)
		}
		return storage.NewAvatarStore(client), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown attempts a graceful shutdown.
func (s *Server) Shutdown() error {
	if s.publisher != nil {
		_ = s.publisher.Close()
	}
	if s.db != nil {
		if sqlDB, err := s.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	return s.httpServer.Close()
}
