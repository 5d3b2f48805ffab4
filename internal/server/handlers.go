package server

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/cyph3rk/fronteira/internal/errors"
	"github.com/cyph3rk/fronteira/middleware/correlation"
	"github.com/cyph3rk/fronteira/middleware/ratelimit/infra"

	"go.uber.org/zap"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStats expõe as estatísticas do rate limit. Com backend redis não há
// contadores por chave.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	reqID := correlation.FromContext(r.Context()).RequestID

	switch st := s.stats.(type) {
	case *infra.MemoryStatsStore:
		writeJSON(w, http.StatusOK, st.Snapshot())
	case *infra.RedisStatsStore:
		snap, err := st.Snapshot(r.Context())
		if err != nil {
			s.log.Warn("stats_read_failed", append(correlation.Fields(r.Context()), zap.Error(err))...)
			apperrors.WriteJSON(w, apperrors.Unavailable("stats unavailable", err), reqID)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	default:
		apperrors.WriteJSON(w, apperrors.NotFound("stats"), reqID)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
