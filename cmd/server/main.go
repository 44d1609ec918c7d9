package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/Rrens/livedesk/internal/api"
	"github.com/Rrens/livedesk/internal/api/handler"
	"github.com/Rrens/livedesk/internal/broadcast"
	"github.com/Rrens/livedesk/internal/config"
	"github.com/Rrens/livedesk/internal/domain"
	"github.com/Rrens/livedesk/internal/gateway"
	"github.com/Rrens/livedesk/internal/logging"
	"github.com/Rrens/livedesk/internal/repository/postgres"
	"github.com/Rrens/livedesk/internal/repository/redis"
	"github.com/Rrens/livedesk/internal/repository/sqlite"
	"github.com/Rrens/livedesk/internal/security"
	"github.com/Rrens/livedesk/internal/service"
)

// store is the durable store together with its lifecycle
type store interface {
	domain.Store
	Ping(ctx context.Context) error
	Close() error
}

func main() {
	// Load .env file - try multiple locations
	for _, p := range []string{".env", "../.env", "../../.env"} {
		if err := godotenv.Load(p); err == nil {
			fmt.Printf("Loaded .env from: %s\n", p)
			break
		}
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logFile, err := logging.Setup(cfg.Logging)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up logging")
	}
	defer logFile.Close()

	log.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Str("database", cfg.Database.Driver).
		Bool("redis", cfg.Redis.Enabled).
		Msg("Starting livedesk gateway")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := openStore(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer db.Close()

	readyChecks := map[string]handler.Pinger{"database": db}

	verifier := security.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	gw := gateway.New(verifier, cfg.Gateway.SendBuffer)

	var opts []broadcast.Option
	if cfg.Redis.Enabled {
		redisClient, err := redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer redisClient.Close()

		readyChecks["redis"] = redisClient
		opts = append(opts, broadcast.WithRelay(redis.NewRelay(redisClient, cfg.Redis.Channel)))
	}
	events := broadcast.New(gw.Registry(), opts...)

	routerDone := make(chan error, 1)
	go func() {
		if err := events.Run(ctx); err != nil && ctx.Err() == nil {
			routerDone <- err
		}
	}()

	chat := service.NewChatService(db)
	notifications := service.NewNotificationService(db)

	router := api.NewRouter(cfg, api.Dependencies{
		Verifier:      verifier,
		Chat:          chat,
		Notifications: notifications,
		Membership:    service.NewMembershipService(db, notifications),
		Events:        events,
		WebSocket:     gateway.NewServer(gw, chat, events, cfg.Gateway, cfg.Server.AllowedOrigins),
		ReadyChecks:   readyChecks,
	})

	// Create HTTP server. WebSocket connections are hijacked and not bound
	// by the write timeout.
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		log.Error().Err(err).Msg("Server failed")
	case err := <-routerDone:
		log.Error().Err(err).Msg("Event relay stopped")
	}

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	gw.Shutdown()
	events.Close()

	log.Info().Msg("Server stopped")
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (store, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		db, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		if cfg.AutoMigrate {
			if err := sqlite.RunMigrations(db); err != nil {
				db.Close()
				return nil, err
			}
		}
		return sqlite.NewStore(db), nil

	default:
		if cfg.AutoMigrate {
			if err := postgres.RunMigrations(cfg.DSN()); err != nil {
				return nil, err
			}
		}
		db, err := postgres.NewDB(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return postgres.NewStore(db), nil
	}
}
