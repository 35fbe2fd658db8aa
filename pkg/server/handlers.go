package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/nstogner/chatd/pkg/domain"
)

// --- Conversations ---

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.authorize(w, r, false)
	if !ok {
		return
	}
	convs, err := s.ctrl.Conversations(r.Context(), userID)
	if err != nil {
		s.errorResponse(w, statusFor(err), err)
		return
	}
	if convs == nil {
		convs = []domain.Conversation{}
	}
	s.jsonResponse(w, http.StatusOK, convs)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.authorize(w, r, false)
	if !ok {
		return
	}
	msgs, err := s.ctrl.Messages(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		s.errorResponse(w, statusFor(err), err)
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	s.jsonResponse(w, http.StatusOK, msgs)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.authorize(w, r, false)
	if !ok {
		return
	}
	if err := s.ctrl.DeleteConversation(r.Context(), r.PathValue("id"), userID); err != nil {
		s.errorResponse(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGenerateTitle(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.authorize(w, r, false)
	if !ok {
		return
	}
	var body struct {
		Model string `json:"model"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes)).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	modelID := body.Model
	if modelID == "" {
		modelID = s.titleModel
	}
	title, err := s.ctrl.GenerateTitle(r.Context(), r.PathValue("id"), userID, modelID)
	if err != nil {
		s.errorResponse(w, statusFor(err), err)
		return
	}
	s.jsonResponse(w, http.StatusOK, title)
}

// --- Models ---

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.ctrl.Models(r.Context())
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	if models == nil {
		models = []domain.Model{}
	}
	s.jsonResponse(w, http.StatusOK, models)
}
