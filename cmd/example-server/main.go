package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cyph3rk/fronteira/internal/logger"
	"github.com/cyph3rk/fronteira/middleware/accesslog"
	"github.com/cyph3rk/fronteira/middleware/correlation"
	"github.com/cyph3rk/fronteira/middleware/ratelimit"
	"github.com/cyph3rk/fronteira/middleware/ratelimit/application"
	"github.com/cyph3rk/fronteira/middleware/ratelimit/domain"
	"github.com/cyph3rk/fronteira/middleware/ratelimit/infra"

	"go.uber.org/zap"
)

func main() {
	log, err := logger.New(logger.Config{Level: "info", Format: "console"})
	if err != nil {
		panic(err)
	}
	defer logger.Sync(log)

	// Exemplo: injetando o middleware diretamente no seu webserver (sem proxy)
	policy, err := application.NewPolicy(
		&domain.Rule{Window: time.Minute, Max: 30},
		[]domain.Rule{{Name: "login", Route: "POST /login", Window: time.Minute, Max: 5}},
		application.PrecedenceOverride,
		infra.Factory{CleanupEvery: time.Minute},
	)
	if err != nil {
		log.Fatal("policy_error", zap.Error(err))
	}
	stats := infra.NewMemoryStatsStore()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	for _, lim := range policy.Limiters() {
		if j, ok := lim.(infra.Janitor); ok {
			j.StartJanitor(ctx)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("POST /login", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	h := http.Handler(mux)
	h = ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{Max: 50, Logger: log})(h)
	h = ratelimit.Middleware(ratelimit.Options{
		Service:            &application.Service{Policy: policy, Stats: stats},
		Logger:             log,
		KeyHeader:          "X-Api-Key", // ou vazio para usar IP
		TrustXForwardedFor: true,
	})(h)
	h = accesslog.Logging(log)(h)
	h = correlation.Middleware(h)

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("example_server_listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server_error", zap.Error(err))
	}
	log.Info("example_server_stopped", zap.Any("stats", stats.Total()))
}
