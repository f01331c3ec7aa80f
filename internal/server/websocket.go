package server

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/moosh3/ack-agent/internal/metrics"
	"github.com/moosh3/ack-agent/internal/reasoning/engine"
	"github.com/moosh3/ack-agent/pkg/types"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = (pongWait * 9) / 10
)

// defaultOrigins are accepted when no allow list is configured.
var defaultOrigins = []string{
	"http://localhost:3000",
	"http://localhost:5173",
}

// newUpgrader builds a websocket upgrader enforcing the origin allow list.
// Requests without an Origin header come from non-browser clients and are
// accepted.
func newUpgrader(allowed []string) websocket.Upgrader {
	if len(allowed) == 0 {
		allowed = defaultOrigins
	}
	wildcard := false
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			wildcard = true
		}
		set[strings.ToLower(strings.TrimSuffix(o, "/"))] = struct{}{}
	}

	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || wildcard {
				return true
			}
			u, err := url.Parse(origin)
			if err != nil || u.Host == "" {
				return false
			}
			_, ok := set[strings.ToLower(u.Scheme+"://"+u.Host)]
			return ok
		},
	}
}

// handleRunStream replays the progress events of a run over a websocket and
// closes the connection after the final summary.
func (s *Server) handleRunStream(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]
	run, ok := s.engine.Run(runID)
	if !ok {
		writeError(w, r, http.StatusNotFound, types.ErrCodeNotFound, "unknown run "+runID, nil)
		return
	}

	upgrader := newUpgrader(s.config.AllowedOrigins)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.String("run_id", runID), zap.Error(err))
		return
	}

	metrics.WebSocketConnections.Inc()
	defer metrics.WebSocketConnections.Dec()

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	stream := &runStream{conn: conn, logger: s.logger.With(zap.String("run_id", runID))}
	defer stream.close()

	go stream.readPump(cancel)

	s.logger.Debug("progress stream opened", zap.String("run_id", runID))
	stream.writePump(ctx, run)
}

// runStream is one progress stream connection.
type runStream struct {
	conn   *websocket.Conn
	logger *zap.Logger
	mu     sync.Mutex
}

// readPump discards client frames and cancels the stream once the peer goes
// away.
func (rs *runStream) readPump(cancel context.CancelFunc) {
	defer cancel()
	rs.conn.SetReadLimit(4096)
	rs.conn.SetReadDeadline(time.Now().Add(pongWait))
	rs.conn.SetPongHandler(func(string) error {
		return rs.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := rs.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				rs.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
	}
}

func (rs *runStream) writePump(ctx context.Context, run *engine.Run) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	events := run.Follow(ctx)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				rs.closeNormal()
				return
			}
			if err := rs.writeJSON(ev); err != nil {
				return
			}
			metrics.WebSocketMessagesTotal.Inc()
			if ev.Type == engine.EventFinalSummary {
				rs.closeNormal()
				return
			}
		case <-ticker.C:
			if err := rs.write(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			rs.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		}
	}
}

func (rs *runStream) writeJSON(v interface{}) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return rs.conn.WriteJSON(v)
}

func (rs *runStream) write(messageType int, data []byte) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return rs.conn.WriteMessage(messageType, data)
}

func (rs *runStream) closeNormal() {
	rs.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"))
}

func (rs *runStream) close() {
	rs.conn.Close()
}
