// upstream-stub é um upstream de mentira para testar o gateway localmente.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cyph3rk/fronteira/internal/logger"

	"go.uber.org/zap"
)

func main() {
	log, err := logger.New(logger.Config{Level: "info", Format: "console"})
	if err != nil {
		panic(err)
	}
	defer logger.Sync(log)

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           newHandler(log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("upstream_stub_listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server_error", zap.Error(err))
	}
}

func newHandler(log *zap.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		log.Info("login", zap.String("request_id", r.Header.Get("X-Request-ID")))
		writeJSON(w, http.StatusOK, map[string]any{
			"token":      "stub-token",
			"expires_in": 3600,
		})
	})
	mux.HandleFunc("GET /api/groups", func(w http.ResponseWriter, r *http.Request) {
		log.Info("groups", zap.String("request_id", r.Header.Get("X-Request-ID")))
		writeJSON(w, http.StatusOK, map[string]any{
			"groups": []map[string]any{
				{"id": 1, "name": "Família"},
				{"id": 2, "name": "Trabalho"},
			},
		})
	})
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
