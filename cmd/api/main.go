package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"slotwise.org/internal/auth"
	"slotwise.org/internal/config"
	"slotwise.org/internal/httpapi"
	"slotwise.org/internal/obs"
	"slotwise.org/internal/store/pg"
	"slotwise.org/internal/stream"
)

var (
	version = "0.3.1"
	commit  = "unknown"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	configPath := flag.String("config", os.Getenv("SLOTWISE_CONFIG"), "Path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	secret := cfg.AuthSecret
	if secret == "" {
		// Sessions will not survive a restart with an ephemeral secret.
		secret = randomSecret()
		log.Printf("WARNING: SLOTWISE_AUTH_SECRET not set, using an ephemeral signing secret")
	}

	signer, err := auth.NewTokenSigner(secret, cfg.TokenIssuer, cfg.AccessTTL)
	if err != nil {
		log.Fatalf("token signer: %v", err)
	}

	var (
		dirStore   auth.DirectoryStore
		tokenStore auth.TokenStore
		pgStore    *pg.Store
	)
	if cfg.DatabaseDSN != "" {
		pgStore, err = pg.Open(cfg.DatabaseDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		dirStore, tokenStore = pgStore, pgStore
	} else {
		mem := auth.NewInMemory()
		dirStore, tokenStore = mem, mem
		log.Printf("WARNING: SLOTWISE_PG_DSN not set, directory is in-memory only")
	}

	mailer := auth.MailerFunc(func(_ context.Context, to, template string, vars map[string]string) error {
		log.Printf("mail to=%s template=%s vars=%v", to, template, vars)
		return nil
	})

	feed := stream.New()
	defer feed.Close()

	dir, err := auth.NewDirectory(dirStore,
		auth.WithDirectoryMailer(mailer),
		auth.WithInvitationTTL(cfg.InvitationTTL),
		auth.WithChangeListener(feed.Notify),
	)
	if err != nil {
		log.Fatalf("directory: %v", err)
	}
	svc, err := auth.NewService(dirStore, tokenStore, signer,
		auth.WithMailer(mailer),
		auth.WithRefreshTTL(cfg.RefreshTTL),
		auth.WithResetTTL(cfg.ResetTokenTTL),
	)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 10*time.Second)
	if err := svc.EnsureBuiltins(startupCtx); err != nil {
		log.Fatalf("ensure builtin permissions: %v", err)
	}
	cancelStartup()

	probe := httpapi.ReadyProbe{}
	if pgStore != nil {
		probe.DB = pgStore.DB()
	}
	api := httpapi.New(svc, dir,
		httpapi.WithReadyProbe(probe),
		httpapi.WithVersion(version),
		httpapi.WithStream(feed),
		httpapi.WithFeatures(cfg.Features),
	)

	handler := api.Handler()
	handler = httpapi.RateLimit(handler, cfg.RateBurst, cfg.RatePerSec)
	handler = httpapi.MaxBodyBytes(handler, 1<<20)
	handler = httpapi.CORS(handler)
	handler = httpapi.SecurityHeaders(handler)
	handler = httpapi.LoggingJSON(handler)
	handler = httpapi.RequestID(handler)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Sweep pending invitations past their deadline.
	sweeper := time.NewTicker(time.Hour)
	defer sweeper.Stop()
	go func() {
		for range sweeper.C {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if n, err := dir.ExpireOverdueInvitations(ctx); err != nil {
				log.Printf("expire invitations: %v", err)
			} else if n > 0 {
				log.Printf("expired %d overdue invitations", n)
			}
			cancel()
		}
	}()

	log.Printf("Starting slotwise-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if pgStore != nil {
		_ = pgStore.Close()
	}
	log.Println("Stopped")
}

func randomSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		log.Fatalf("generate secret: %v", err)
	}
	return hex.EncodeToString(buf)
}
