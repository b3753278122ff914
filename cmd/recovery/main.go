// Recovery consumes backfill requests and seeds notification records for
// sessions opened while the event pipeline was down.
// Set DATABASE_URL, REDIS_ADDR, and SESSION_INFO_BASE_URL.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"citizen-identity/session-notifications/internal/clients/sessioninfo"
	"citizen-identity/session-notifications/internal/config"
	"citizen-identity/session-notifications/internal/db"
	"citizen-identity/session-notifications/internal/notification/repository"
	"citizen-identity/session-notifications/internal/queue"
	"citizen-identity/session-notifications/internal/recovery"
	"citizen-identity/session-notifications/internal/telemetry"
	"citizen-identity/session-notifications/internal/telemetry/otel"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("recovery: DATABASE_URL is required")
	}
	if cfg.SessionInfoBaseURL == "" {
		log.Fatal("recovery: SESSION_INFO_BASE_URL is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	providers, err := otel.NewProviders(ctx, cfg.OTLPEndpoint, "session-notifications-recovery", false)
	if err != nil {
		log.Fatalf("otel: %v", err)
	}
	providers.SetGlobal()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			log.Printf("otel shutdown: %v", err)
		}
	}()
	emitter := otel.NewEventEmitter(providers.LoggerProvider)

	store, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer store.Close()

	redisClient, err := queue.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	defer redisClient.Close()

	repo := repository.NewPostgresRepository(store, cfg.TTLRetentionOffsetSeconds, cfg.TTLFallbackOffsetSeconds)
	r := recovery.New(repo, sessioninfo.NewClient(cfg.SessionInfoBaseURL, cfg.SessionInfoAPIKey), emitter)
	consumer := queue.NewConsumer(
		queue.NewRedisQueue(redisClient, cfg.RecoveryQueueKey),
		r.Handle,
		emitter,
		"session.recovery",
		cfg.MaxDeliveryAttempts,
	)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		log.Println("recovery: shutting down...")
		cancel()
	}()

	log.Printf("recovery: consuming %s", cfg.RecoveryQueueKey)
	if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("recovery: %v", err)
	}
	time.Sleep(telemetry.ShutdownDrainDuration)
	log.Println("recovery: stopped")
}
