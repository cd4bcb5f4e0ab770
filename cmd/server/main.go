package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/krevetka-D/conecta-realtime/internal/config"
	"github.com/krevetka-D/conecta-realtime/internal/dispatch"
	"github.com/krevetka-D/conecta-realtime/internal/domain"
	"github.com/krevetka-D/conecta-realtime/internal/fanout"
	"github.com/krevetka-D/conecta-realtime/internal/handler"
	"github.com/krevetka-D/conecta-realtime/internal/history"
	"github.com/krevetka-D/conecta-realtime/internal/hub"
	"github.com/krevetka-D/conecta-realtime/internal/presence"
	"github.com/krevetka-D/conecta-realtime/internal/registry"
	"github.com/krevetka-D/conecta-realtime/internal/rooms"
	"github.com/krevetka-D/conecta-realtime/internal/store"
	"github.com/krevetka-D/conecta-realtime/pkg/database"
	"github.com/krevetka-D/conecta-realtime/pkg/jwt"
	"github.com/krevetka-D/conecta-realtime/pkg/log"
	"github.com/krevetka-D/conecta-realtime/pkg/pubsub"
	"github.com/krevetka-D/conecta-realtime/pkg/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log.Init(log.Config{
		Level:       cfg.Log.Level,
		ServiceName: "conecta-realtime",
	})
	logger := log.L()

	instanceID := cfg.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}
	logger.Info().Str("instance_id", instanceID).Msg("starting realtime service")

	// Message store
	messages, err := store.NewCassandraMessageStore(cfg.Cassandra)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to cassandra")
	}
	defer messages.Close()

	// Room catalog and user directory
	db, err := database.New(cfg.Database.ToDatabase())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err := database.AutoMigrate(db, &store.Room{}, &store.User{}); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate database")
	}
	catalog := store.NewGormCatalog(db)

	// Redis: page cache and presence pub/sub
	redisPubSub, err := pubsub.NewRedisPubSub(cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisPubSub.Close()
	pageCache := history.NewRedisPageCache(redisPubSub.GetClient(), "history")

	// Credential verification
	var verifier store.CredentialVerifier
	if cfg.Auth.Permissive {
		logger.Warn().Msg("permissive auth enabled, do not use in production")
		verifier = store.PermissiveVerifier{}
	} else {
		verifier = store.NewJWTVerifier(jwt.NewVerifier(cfg.Auth.Secret, cfg.Auth.Issuer, 24*time.Hour))
	}

	// Attachment storage
	var files storage.Storage
	switch cfg.Storage.Backend {
	case "s3":
		files, err = storage.NewS3Storage(context.Background(), cfg.Storage.S3)
	default:
		files, err = storage.NewLocalStorage(cfg.Storage.Local)
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize attachment storage")
	}

	// Core state
	reg := registry.NewRegistry()
	roomTracker := rooms.NewTracker(catalog)
	presenceTracker := presence.NewTracker(reg, catalog, redisPubSub, instanceID)

	wsHub := hub.NewHub(cfg.WebSocket)
	go wsHub.Run()

	// Cross-instance fanout
	var broadcaster fanout.Broadcaster = fanout.Noop{}
	if cfg.Kafka.Enabled {
		producer, err := fanout.NewKafkaProducer(cfg.Kafka, instanceID)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize kafka producer")
		}
		defer producer.Close()
		broadcaster = producer
	}

	pipeline := dispatch.NewPipeline(
		reg, roomTracker, presenceTracker, wsHub,
		messages, catalog, catalog, verifier, broadcaster,
		cfg.Typing.TTL,
	)
	defer pipeline.StopTyping()
	wsHub.OnDisconnect(pipeline.Disconnect)

	// Presence updates fan out to every connected session.
	presenceTracker.Subscribe(func(change presence.StatusChange) {
		wsHub.BroadcastAll(&domain.UserStatusEvent{
			Type:     domain.EventUserStatusUpdate,
			UserID:   change.UserID,
			IsOnline: change.IsOnline,
			LastSeen: change.LastSeen,
		})
	})

	historySvc := history.NewService(messages, pageCache, cfg.History.CacheTTL, cfg.History.PageSize, cfg.History.MaxPageSize)

	// HTTP surface
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), log.GinMiddleware(*logger))

	wsHandler := handler.NewWSHandler(wsHub, reg, pipeline, cfg.WebSocket)
	router.GET("/ws", func(c *gin.Context) {
		wsHandler.HandleWebSocket(c.Writer, c.Request)
	})

	httpHandler := handler.NewHTTPHandler(historySvc, presenceTracker, reg, verifier, files)
	httpHandler.RegisterRoutes(router)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		presenceTracker.Run(gctx)
		return nil
	})

	// Presence transitions observed by other instances.
	presenceCh, err := redisPubSub.Subscribe(gctx, pubsub.ChannelPresence)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to subscribe to presence channel")
	}
	g.Go(func() error {
		for event := range presenceCh {
			var payload pubsub.PresencePayload
			if err := event.UnmarshalPayload(&payload); err != nil || payload.OriginInstanceID == instanceID {
				continue
			}
			var lastSeen time.Time
			if payload.LastSeenUnixMs > 0 {
				lastSeen = time.UnixMilli(payload.LastSeenUnixMs)
			}
			presenceTracker.ApplyRemote(payload.UserID, payload.IsOnline, lastSeen, event.Timestamp)
		}
		return nil
	})

	if cfg.Kafka.Enabled {
		consumer, err := fanout.NewKafkaConsumer(cfg.Kafka, instanceID, pipeline.RelayRemote)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize kafka consumer")
		}
		g.Go(func() error {
			defer consumer.Close()
			return consumer.Run(gctx)
		})
	}

	g.Go(func() error {
		logger.Info().Str("addr", server.Addr).Msg("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("service exited with error")
		os.Exit(1)
	}
	logger.Info().Msg("service stopped")
}
