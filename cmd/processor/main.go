// Processor consumes login/logout events from Kafka and keeps the
// session-notification records in sync.
// Set DATABASE_URL, KAFKA_BROKERS, AUTH_EVENTS_TOPIC, and KAFKA_GROUP_ID.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"citizen-identity/session-notifications/internal/config"
	"citizen-identity/session-notifications/internal/db"
	"citizen-identity/session-notifications/internal/notification/repository"
	"citizen-identity/session-notifications/internal/processor"
	"citizen-identity/session-notifications/internal/telemetry"
	"citizen-identity/session-notifications/internal/telemetry/otel"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	brokers := cfg.KafkaBrokersList()
	if len(brokers) == 0 {
		log.Fatal("processor: KAFKA_BROKERS is required")
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("processor: DATABASE_URL is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	providers, err := otel.NewProviders(ctx, cfg.OTLPEndpoint, "session-notifications-processor", false)
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

	repo := repository.NewPostgresRepository(store, cfg.TTLRetentionOffsetSeconds, cfg.TTLFallbackOffsetSeconds)
	reader := processor.NewReader(brokers, cfg.AuthEventsTopic, cfg.KafkaGroupID)
	defer reader.Close()

	consumer := processor.NewConsumer(reader, processor.New(repo, emitter), emitter, cfg.MaxDeliveryAttempts)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		log.Println("processor: shutting down...")
		cancel()
	}()

	log.Printf("processor: consuming from %s (group %s)", cfg.AuthEventsTopic, cfg.KafkaGroupID)
	if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("processor: %v", err)
	}
	// Let in-flight telemetry emissions finish before providers shut down.
	time.Sleep(telemetry.ShutdownDrainDuration)
	log.Println("processor: stopped")
}
