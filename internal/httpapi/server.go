package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"crabstack.local/crab-relay/internal/journal"
	"crabstack.local/crab-relay/internal/logging"
	"crabstack.local/crab-relay/internal/session"
)

const maxTurnsLimit = 200

type SessionLister interface {
	Snapshot() []session.SessionInfo
}

type TurnReader interface {
	Recent(ctx context.Context, sessionKey string, limit int) ([]journal.TurnRecord, error)
}

type server struct {
	logger   *logrus.Logger
	sessions SessionLister
	turns    TurnReader
	started  time.Time
}

// NewServer exposes read-only process status. turns may be nil when the
// journal is disabled.
func NewServer(logger *logrus.Logger, addr string, sessions SessionLister, turns TurnReader) *http.Server {
	if logger == nil {
		logger = logging.Discard()
	}
	h := &server{
		logger:   logger,
		sessions: sessions,
		turns:    turns,
		started:  time.Now().UTC(),
	}

	router := mux.NewRouter()
	router.Use(h.logRequests)
	router.HandleFunc("/healthz", h.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/v1/sessions", h.handleSessions).Methods(http.MethodGet)
	router.HandleFunc("/v1/sessions/ws", h.handleSessionsWS).Methods(http.MethodGet)
	router.HandleFunc("/v1/sessions/{key}/turns", h.handleTurns).Methods(http.MethodGet)

	return &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":             true,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	})
}

func (s *server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	snapshot := s.snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"active":   len(snapshot),
		"sessions": snapshot,
	})
}

func (s *server) snapshot() []session.SessionInfo {
	if s.sessions == nil {
		return []session.SessionInfo{}
	}
	snapshot := s.sessions.Snapshot()
	if snapshot == nil {
		snapshot = []session.SessionInfo{}
	}
	return snapshot
}

func (s *server) handleTurns(w http.ResponseWriter, r *http.Request) {
	if s.turns == nil {
		http.Error(w, "journal not configured", http.StatusNotImplemented)
		return
	}

	key := strings.TrimSpace(mux.Vars(r)["key"])
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(parsed, maxTurnsLimit)
	}

	turns, err := s.turns.Recent(r.Context(), key, limit)
	if err != nil {
		s.logger.WithField("session_key", key).WithError(err).Error("read journal turns failed")
		http.Error(w, "failed to read turns", http.StatusInternalServerError)
		return
	}
	if turns == nil {
		turns = []journal.TurnRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_key": key,
		"turns":       turns,
	})
}

func (s *server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rec.status,
			"duration_ms": time.Since(started).Milliseconds(),
		}).Debug("status request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
