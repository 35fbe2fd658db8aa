package server

import (
	"net/http"

	"github.com/nstogner/chatd/pkg/stream"
)

// handleChat runs one turn and streams its frames as server-sent events.
// Once the stream has started every outcome is reported in-band by the
// finish frame.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.authorize(w, r, true)
	if !ok {
		return
	}

	req, err := readTurnRequest(r.Body)
	if err != nil {
		s.metrics.TurnRejected("validation")
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}

	turn, err := s.ctrl.Prepare(r.Context(), req, userID)
	if err != nil {
		s.errorResponse(w, statusFor(err), err)
		return
	}

	sse, err := stream.NewSSEWriter(w, s.writeTimeout)
	if err != nil {
		turn.Close()
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}

	enc := stream.NewEncoder(sse, s.logger)
	turn.Run(r.Context(), enc)
	if !enc.Detached() {
		if err := sse.Done(); err != nil {
			s.logger.Debug("Writing stream terminator failed", "turnID", turn.ID, "error", err)
		}
	}
}
