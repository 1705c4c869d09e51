package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"docsync/internal/document/model"
	"docsync/middleware"
	"docsync/pkg/logger"
	"docsync/socket"
)

type DocumentHandler struct {
	Hub         *socket.Hub
	Gate        socket.Gate
	SaveTimeout time.Duration
}

func NewDocumentHandler(hub *socket.Hub, gate socket.Gate, saveTimeout time.Duration) *DocumentHandler {
	if saveTimeout <= 0 {
		saveTimeout = 5 * time.Second
	}
	return &DocumentHandler{Hub: hub, Gate: gate, SaveTimeout: saveTimeout}
}

type SaveResponse struct {
	DocID   string `json:"document_id"`
	Version uint64 `json:"version"`
}

// SaveDocument forces the live session of a document to persist now.
func (h *DocumentHandler) SaveDocument(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	userID := middleware.UserID(r.Context())

	access, err := h.Gate.Resolve(r.Context(), userID, docID)
	if err != nil {
		http.Error(w, "Unauthorized or document not found", http.StatusForbidden)
		return
	}
	if !access.Role.CanWrite() {
		http.Error(w, "Unauthorized: Only owners and editors can save this document", http.StatusForbidden)
		return
	}

	session, ok := h.Hub.Session(docID)
	if !ok {
		http.Error(w, "No live session for this document", http.StatusNotFound)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.SaveTimeout)
	defer cancel()

	version, err := session.Save(ctx)
	if err != nil {
		logger.Sugar.Errorf("Manual save of doc %s by user %s failed: %v", docID, userID, err)
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		http.Error(w, "Failed to save document", status)
		return
	}

	logger.Sugar.Infof("Document %s saved successfully by user %s via API", docID, userID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(SaveResponse{DocID: docID, Version: version})
}

// GetSession lists who is currently editing a document.
func (h *DocumentHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	userID := middleware.UserID(r.Context())

	if _, err := h.Gate.Resolve(r.Context(), userID, docID); err != nil {
		http.Error(w, "Unauthorized or document not found", http.StatusForbidden)
		return
	}

	info := model.SessionInfo{DocumentID: docID, Participants: []model.SessionParticipant{}}
	if session, ok := h.Hub.Session(docID); ok {
		live, err := session.Info()
		if err == nil {
			info = live
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(info)
}
