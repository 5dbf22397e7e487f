package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/stoik/aide/internal/mockapi"
)

func main() {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	seed := envInt("MOCK_SEED", time.Now().UnixNano())
	interval := time.Duration(envInt("MOCK_MAIL_INTERVAL_SECONDS", 45)) * time.Second

	s := mockapi.New()
	gen := mockapi.NewGenerator(s, seed)
	for _, vendor := range []string{"microsoft", "google"} {
		gen.Seed(vendor, 25, 6, 10)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if interval > 0 {
		go gen.Run(ctx, interval, "microsoft", "google")
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("starting vendor emulator", "addr", srv.Addr, "seed", seed, "mail_interval", interval)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("emulator stopped", "error", err)
		os.Exit(1)
	}
}

func envInt(name string, def int64) int64 {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}
