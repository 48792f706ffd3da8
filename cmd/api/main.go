package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"webcaf.uk/internal/assessment"
	"webcaf.uk/internal/httpapi"
	"webcaf.uk/internal/obs"
	"webcaf.uk/internal/store/pg"
)

var version = "0.3.0"

func main() {
	// Register metrics and set up the JSON logger.
	obs.Init()

	// Without a DSN the API runs on the in-memory service. That mode is
	// for local development; state is lost on restart.
	var (
		svc   assessment.Service
		probe httpapi.ReadyProbe
	)
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		store, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer store.Close()
		svc = store
		probe = httpapi.ReadyProbe{DB: store.DB()}
	} else {
		log.Println("DATABASE_URL not set, using in-memory store")
		svc = assessment.NewInMemory()
	}

	api := httpapi.New(probe, version, svc, nil)

	addr := ":" + envOr("PORT", "8000")
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting webcaf-api %s on %s", version, srv.Addr)

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
	log.Println("Stopped")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
