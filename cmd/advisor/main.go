// Advisor consumes discovered expiries from the delivery queue, re-verifies
// them against live services, and mails the re-engagement notice.
// Set REDIS_ADDR, SESSION_INFO_BASE_URL, PROFILE_BASE_URL, and MAILER_BASE_URL.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"citizen-identity/session-notifications/internal/advisor"
	"citizen-identity/session-notifications/internal/clients/profile"
	"citizen-identity/session-notifications/internal/clients/sessioninfo"
	"citizen-identity/session-notifications/internal/config"
	"citizen-identity/session-notifications/internal/mailer"
	"citizen-identity/session-notifications/internal/queue"
	"citizen-identity/session-notifications/internal/telemetry"
	"citizen-identity/session-notifications/internal/telemetry/otel"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.SessionInfoBaseURL == "" {
		log.Fatal("advisor: SESSION_INFO_BASE_URL is required")
	}
	if cfg.ProfileBaseURL == "" {
		log.Fatal("advisor: PROFILE_BASE_URL is required")
	}
	if cfg.MailerBaseURL == "" && !cfg.MailDryRun {
		log.Fatal("advisor: MAILER_BASE_URL is required unless MAIL_DRY_RUN is set")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	providers, err := otel.NewProviders(ctx, cfg.OTLPEndpoint, "session-notifications-advisor", false)
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

	redisClient, err := queue.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	defer redisClient.Close()

	links := mailer.NewMagicLinkBuilder(
		[]byte(cfg.MagicLinkJWTSecret),
		"session-notifications",
		cfg.MagicLinkBaseURL,
		cfg.MagicLinkTTLDuration(),
	)
	a := advisor.New(
		sessioninfo.NewClient(cfg.SessionInfoBaseURL, cfg.SessionInfoAPIKey),
		profile.NewClient(cfg.ProfileBaseURL, cfg.ProfileAPIKey),
		mailer.NewHTTPMailer(cfg.MailerBaseURL, cfg.MailerAPIKey),
		links,
		emitter,
		cfg.MailFrom,
		cfg.MailDryRun,
	)
	consumer := queue.NewConsumer(
		queue.NewRedisQueue(redisClient, cfg.ExpiryQueueKey),
		a.Handle,
		emitter,
		"session.advisor",
		cfg.MaxDeliveryAttempts,
	)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		log.Println("advisor: shutting down...")
		cancel()
	}()

	log.Printf("advisor: consuming %s (dry run: %t)", cfg.ExpiryQueueKey, cfg.MailDryRun)
	if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("advisor: %v", err)
	}
	time.Sleep(telemetry.ShutdownDrainDuration)
	log.Println("advisor: stopped")
}
