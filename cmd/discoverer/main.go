// Discoverer scans the record store once a day for sessions expiring that
// day and forwards them to the delivery queue with staggered visibility.
// Run with -date YYYY-MM-DD for a one-shot backfill of a specific day.
// Set DATABASE_URL and REDIS_ADDR.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"citizen-identity/session-notifications/internal/config"
	"citizen-identity/session-notifications/internal/db"
	"citizen-identity/session-notifications/internal/discoverer"
	"citizen-identity/session-notifications/internal/notification/repository"
	"citizen-identity/session-notifications/internal/queue"
	"citizen-identity/session-notifications/internal/telemetry"
	"citizen-identity/session-notifications/internal/telemetry/otel"
)

const runBackoff = 30 * time.Second

func main() {
	dateFlag := flag.String("date", "", "run once for this day (YYYY-MM-DD) and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("discoverer: DATABASE_URL is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	providers, err := otel.NewProviders(ctx, cfg.OTLPEndpoint, "session-notifications-discoverer", false)
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
	repo.SetPageSize(cfg.ScanChunkSize)
	d := discoverer.New(repo, queue.NewRedisQueue(redisClient, cfg.ExpiryQueueKey), emitter, cfg.VisibilityDelayStepDuration())

	if *dateFlag != "" {
		date, err := time.ParseInLocation("2006-01-02", *dateFlag, time.UTC)
		if err != nil {
			log.Fatalf("discoverer: invalid -date: %v", err)
		}
		if err := d.RunWithRetries(ctx, date, cfg.MaxDeliveryAttempts, runBackoff); err != nil {
			log.Fatalf("discoverer: %v", err)
		}
		time.Sleep(telemetry.ShutdownDrainDuration)
		return
	}

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		log.Println("discoverer: shutting down...")
		cancel()
	}()

	log.Println("discoverer: scheduling daily scans at UTC midnight")
	for {
		if err := d.RunWithRetries(ctx, time.Now().UTC(), cfg.MaxDeliveryAttempts, runBackoff); err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Printf("discoverer: run failed: %v", err)
		}
		select {
		case <-ctx.Done():
		case <-time.After(untilNextMidnight(time.Now().UTC())):
		}
		if ctx.Err() != nil {
			break
		}
	}
	time.Sleep(telemetry.ShutdownDrainDuration)
	log.Println("discoverer: stopped")
}

func untilNextMidnight(now time.Time) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	return next.Sub(now)
}
