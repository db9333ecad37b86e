package httpapi

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"crabstack.local/crab-relay/internal/session"
)

const (
	maxSessionsWSRequestBytes = 4 << 10
	sessionsWSWriteTimeout    = 5 * time.Second
)

type wsSessionsMessage struct {
	Action string `json:"action"`
}

type wsSessionsResult struct {
	Action   string                `json:"action"`
	OK       bool                  `json:"ok"`
	Error    string                `json:"error,omitempty"`
	Active   int                   `json:"active"`
	Sessions []session.SessionInfo `json:"sessions,omitempty"`
}

// handleSessionsWS answers "sessions.list" requests on a long-lived socket
// until the client closes it.
func (s *server) handleSessionsWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{CheckOrigin: isWebSocketOriginAllowed}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("sessions ws upgrade failed")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxSessionsWSRequestBytes)

	for {
		var req wsSessionsMessage
		if err := conn.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.WithError(err).Debug("sessions ws read ended")
			}
			return
		}

		result := wsSessionsResult{Action: "sessions.result"}
		switch strings.TrimSpace(req.Action) {
		case "sessions.list":
			snapshot := s.snapshot()
			result.OK = true
			result.Active = len(snapshot)
			result.Sessions = snapshot
		default:
			result.Error = "unsupported action"
		}

		_ = conn.SetWriteDeadline(time.Now().Add(sessionsWSWriteTimeout))
		if err := conn.WriteJSON(result); err != nil {
			s.logger.WithError(err).Debug("sessions ws write failed")
			return
		}
	}
}

func isWebSocketOriginAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	parsedOrigin, err := url.Parse(origin)
	if err != nil || strings.TrimSpace(parsedOrigin.Host) == "" {
		return false
	}
	return strings.EqualFold(parsedOrigin.Host, r.Host)
}
