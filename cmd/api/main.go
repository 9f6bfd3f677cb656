package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"gatecode.org/internal/audit"
	"gatecode.org/internal/auth"
	"gatecode.org/internal/httpapi"
	"gatecode.org/internal/obs"
	"gatecode.org/internal/ratelimit"
)

var version = "0.3.1"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("GATECODE_COMMIT"))

	dsn := os.Getenv("GATECODE_PG_DSN")
	if dsn == "" {
		log.Fatal("GATECODE_PG_DSN is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	store := auth.NewPGStore(db)
	codes, err := auth.NewCodeService(store)
	if err != nil {
		log.Fatalf("code service: %v", err)
	}
	recorder := audit.NewRecorder(store.Audit())
	limiter := ratelimit.New()
	defer limiter.Close()

	sessionTTL := 24 * time.Hour
	if raw := os.Getenv("GATECODE_SESSION_TTL"); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil || ttl <= 0 {
			log.Fatalf("invalid GATECODE_SESSION_TTL: %q", raw)
		}
		sessionTTL = ttl
	}

	api := httpapi.New(store, codes, recorder, limiter, httpapi.ReadyProbe{DB: db}, httpapi.Config{
		Version:    version,
		SessionTTL: sessionTTL,
		Production: os.Getenv("GATECODE_ENV") == "production",
	})

	srv := &http.Server{
		Addr:              ":8080",
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting gatecode-api %s on %s", version, srv.Addr)

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
	_ = db.Close()
	log.Println("Stopped")
}
