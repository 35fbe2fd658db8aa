package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nstogner/chatd/pkg/stream"
)

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if s.corsOrigin == "" || s.corsOrigin == "*" {
				return true
			}
			return r.Header.Get("Origin") == s.corsOrigin
		},
	}
}

// wsWriter writes frames as JSON text messages.
type wsWriter struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	timeout time.Duration
}

func (w *wsWriter) WriteFrame(f stream.Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.conn.SetWriteDeadline(time.Now().Add(w.timeout))
	return w.conn.WriteJSON(f)
}

func (w *wsWriter) close(code int, text string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
}

// handleChatWebSocket runs one turn per connection. The first client message
// is the turn request; a later {"type":"abort"} message, a close or a read
// error cancels the turn.
func (s *Server) handleChatWebSocket(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.authorize(w, r, true)
	if !ok {
		return
	}

	ws, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade websocket", "error", err)
		return
	}
	defer ws.Close()
	out := &wsWriter{conn: ws, timeout: s.writeTimeout}

	_, data, err := ws.ReadMessage()
	if err != nil {
		s.logger.Debug("WebSocket closed before request", "error", err)
		return
	}
	req, err := decodeTurnRequest(data)
	if err != nil {
		s.metrics.TurnRejected("validation")
		out.WriteFrame(stream.Frame{Type: "error", ErrorText: err.Error()})
		out.close(websocket.ClosePolicyViolation, "invalid request")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	turn, err := s.ctrl.Prepare(ctx, req, userID)
	if err != nil {
		s.logger.Info("Turn rejected", "conversationID", req.ConversationID, "error", err)
		out.WriteFrame(stream.Frame{Type: "error", ErrorText: err.Error()})
		out.close(websocket.CloseNormalClosure, "")
		return
	}

	// Reader goroutine: watches for abort and disconnect.
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		defer cancel()
		for {
			_, msg, err := ws.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.logger.Debug("WebSocket read error", "turnID", turn.ID, "error", err)
				}
				return
			}
			var ctl struct {
				Type string `json:"type"`
			}
			if json.Unmarshal(msg, &ctl) == nil && ctl.Type == "abort" {
				s.logger.Info("Turn aborted by client", "turnID", turn.ID)
				return
			}
		}
	}()

	enc := stream.NewEncoder(out, s.logger)
	turn.Run(ctx, enc)

	if !enc.Detached() {
		out.close(websocket.CloseNormalClosure, "")
	}
	ws.Close()
	<-readerDone
}
