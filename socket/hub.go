package socket

import (
	"context"
	"errors"
	"sync"

	"docsync/internal/permission"
	"docsync/pkg/logger"
	"docsync/pkg/metrics"
)

// Gate admits connections and resolves document roles. Admit errors wrap
// permission.ErrUnauthenticated when the credential itself is bad.
type Gate interface {
	Admit(ctx context.Context, token, docID string) (permission.Access, error)
	Resolve(ctx context.Context, userID, docID string) (permission.Access, error)
}

// Hub owns one Session per document with at least one participant. A session is
// created by the first Join and stopped by the Leave that empties it. A stopped
// session whose final write failed stays in closing until the next session for its
// document takes its content over.
type Hub struct {
	store Store
	gate  Gate
	opts  Options

	mu       sync.Mutex
	sessions map[string]*Session
	closing  map[string]*Session
	closed   bool
}

func NewHub(store Store, gate Gate, opts Options) *Hub {
	return &Hub{
		store:    store,
		gate:     gate,
		opts:     opts.withDefaults(),
		sessions: make(map[string]*Session),
		closing:  make(map[string]*Session),
	}
}

// Join admits p to the session of access.Document, creating it when needed.
func (h *Hub) Join(access permission.Access, p *Participant) (*Session, Snapshot, error) {
	docID := access.Document.ID

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, Snapshot{}, ErrSessionClosed
	}
	s, ok := h.sessions[docID]
	if !ok {
		prev := h.closing[docID]
		delete(h.closing, docID)
		s = newSession(access.Document, prev, h.store, h.opts)
		h.sessions[docID] = s
		metrics.ActiveSessions.Inc()
		go s.run()
		logger.Sugar.Infof("Opened room for doc %s", docID)
	}
	s.refs++
	h.mu.Unlock()

	snap, err := s.Admit(p)
	if err != nil {
		h.release(s)
		return nil, Snapshot{}, err
	}
	return s, snap, nil
}

// Leave removes a participant and closes the session if it was the last one.
func (h *Hub) Leave(s *Session, participantID string) {
	if err := s.Remove(participantID); err != nil && !errors.Is(err, ErrSessionClosed) {
		logger.Sugar.Errorf("Failed to remove participant %s from doc %s: %v", participantID, s.docID, err)
	}
	h.release(s)
}

func (h *Hub) release(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s.refs--
	if s.refs > 0 || h.sessions[s.docID] != s {
		return
	}
	delete(h.sessions, s.docID)
	h.closing[s.docID] = s
	metrics.ActiveSessions.Dec()
	s.stop()

	go func() {
		<-s.done
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.closing[s.docID] != s {
			// Already taken over by a new session.
			return
		}
		if s.dirty {
			logger.Sugar.Warnf("Keeping unsaved content of doc %s until it is reopened", s.docID)
			return
		}
		delete(h.closing, s.docID)
		logger.Sugar.Infof("Closed and cleaned up empty room: %s", s.docID)
	}()
}

func (h *Hub) Session(docID string) (*Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[docID]
	return s, ok
}

func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Regrant re-resolves the role of userID after its share grant on docID changed.
func (h *Hub) Regrant(ctx context.Context, docID, userID string) {
	s, ok := h.Session(docID)
	if !ok {
		return
	}

	role := permission.Denied
	access, err := h.gate.Resolve(ctx, userID, docID)
	if err == nil {
		role = access.Role
	} else {
		logger.Sugar.Infof("User %s lost access to doc %s: %v", userID, docID, err)
	}

	if err := s.SetRole(userID, role); err != nil && !errors.Is(err, ErrSessionClosed) {
		logger.Sugar.Errorf("Failed to apply role change on doc %s: %v", docID, err)
	}
}

// Shutdown stops every session, disconnecting participants and flushing unsaved
// content, and waits for them until ctx expires. Content whose last write failed
// gets one more attempt.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	pending := make([]*Session, 0, len(h.sessions)+len(h.closing))
	for docID, s := range h.sessions {
		delete(h.sessions, docID)
		metrics.ActiveSessions.Dec()
		s.stop()
		pending = append(pending, s)
	}
	for _, s := range h.closing {
		pending = append(pending, s)
	}
	h.mu.Unlock()

	for _, s := range pending {
		select {
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
		if s.dirty {
			h.salvage(ctx, s)
		}
	}
	return nil
}

func (h *Hub) salvage(ctx context.Context, s *Session) {
	if err := h.store.UpdateContent(ctx, s.docID, s.content); err != nil {
		logger.Sugar.Errorf("Unsaved content of doc %s is lost: %v", s.docID, err)
		return
	}
	logger.Sugar.Infof("Saved pending content of doc %s on shutdown", s.docID)
}
