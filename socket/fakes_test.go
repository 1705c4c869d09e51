package socket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"docsync/internal/document/model"
	"docsync/internal/permission"
)

// fakePeer records frames instead of writing them to a socket.
type fakePeer struct {
	frames chan []byte

	mu     sync.Mutex
	closed bool
}

func newFakePeer() *fakePeer {
	return &fakePeer{frames: make(chan []byte, 512)}
}

func (f *fakePeer) Deliver(frame []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	select {
	case f.frames <- frame:
		return true
	default:
		return false
	}
}

func (f *fakePeer) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakePeer) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// next returns the next frame delivered to the peer.
func (f *fakePeer) next(t *testing.T) WSMessage {
	t.Helper()
	select {
	case raw := <-f.frames:
		var msg WSMessage
		require.NoError(t, json.Unmarshal(raw, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a frame")
		return WSMessage{}
	}
}

// pending is the number of frames delivered but not yet read.
func (f *fakePeer) pending() int { return len(f.frames) }

func (f *fakePeer) drain() {
	for {
		select {
		case <-f.frames:
		default:
			return
		}
	}
}

// storedContent is what the fake documents table holds before any write.
const storedContent = "persisted"

// fakeStore stands in for the documents table.
type fakeStore struct {
	mu       sync.Mutex
	writes   []string
	latest   map[string]string
	attempts int
	err      error
	loadErr  error
	deleted  bool
	block    chan struct{}
}

func (f *fakeStore) GetContent(_ context.Context, docID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleted {
		return "", model.ErrNoDocument
	}
	if f.loadErr != nil {
		return "", f.loadErr
	}
	if c, ok := f.latest[docID]; ok {
		return c, nil
	}
	return storedContent, nil
}

func (f *fakeStore) UpdateContent(ctx context.Context, docID, content string) error {
	f.mu.Lock()
	block := f.block
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.deleted {
		return model.ErrNoDocument
	}
	if f.err != nil {
		return f.err
	}
	f.writes = append(f.writes, content)
	if f.latest == nil {
		f.latest = make(map[string]string)
	}
	f.latest[docID] = content
	return nil
}

func (f *fakeStore) setDeleted() {
	f.mu.Lock()
	f.deleted = true
	f.mu.Unlock()
}

func (f *fakeStore) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeStore) written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...)
}

func (f *fakeStore) tries() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

// fakeGate resolves roles from an in-memory document table. Tokens are the user ids.
type fakeGate struct {
	mu    sync.Mutex
	users map[string]model.User
	docs  map[string]model.Document
}

func newFakeGate() *fakeGate {
	return &fakeGate{
		users: map[string]model.User{
			"owner":  {ID: "owner", Username: "olga"},
			"editor": {ID: "editor", Username: "ed"},
			"viewer": {ID: "viewer", Username: "vic"},
			"other":  {ID: "other", Username: "oscar"},
		},
		docs: map[string]model.Document{
			"d1": {
				ID:      "d1",
				Title:   "Notes",
				Content: "persisted",
				OwnerID: "owner",
				Shares: []model.ShareGrant{
					{ID: "s1", DocumentID: "d1", UserID: "editor", CanEdit: true},
					{ID: "s2", DocumentID: "d1", UserID: "viewer", CanEdit: false},
				},
			},
		},
	}
}

func (g *fakeGate) Admit(ctx context.Context, token, docID string) (permission.Access, error) {
	g.mu.Lock()
	_, known := g.users[token]
	g.mu.Unlock()
	if !known {
		return permission.Access{}, fmt.Errorf("%w: %w", permission.ErrAdmissionDenied, permission.ErrUnauthenticated)
	}
	return g.Resolve(ctx, token, docID)
}

func (g *fakeGate) Resolve(_ context.Context, userID, docID string) (permission.Access, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	doc, ok := g.docs[docID]
	if !ok {
		return permission.Access{}, permission.ErrAdmissionDenied
	}
	role := permission.RoleOf(doc, userID)
	if role == permission.Denied {
		return permission.Access{}, permission.ErrAdmissionDenied
	}
	return permission.Access{Role: role, User: g.users[userID], Document: doc}, nil
}

func (g *fakeGate) setShares(docID string, shares ...model.ShareGrant) {
	g.mu.Lock()
	defer g.mu.Unlock()
	doc := g.docs[docID]
	doc.Shares = shares
	g.docs[docID] = doc
}

func (g *fakeGate) access(t *testing.T, userID string) permission.Access {
	t.Helper()
	a, err := g.Resolve(context.Background(), userID, "d1")
	require.NoError(t, err)
	return a
}

// startSession runs a bare session outside of a hub.
func startSession(t *testing.T, doc model.Document, store Store, opts Options) *Session {
	t.Helper()
	s := newSession(doc, nil, store, opts)
	go s.run()
	t.Cleanup(func() {
		s.stop()
		<-s.done
	})
	return s
}

func join(t *testing.T, s *Session, id, userID string, role permission.Role) (*Participant, *fakePeer) {
	t.Helper()
	peer := newFakePeer()
	p := NewParticipant(id, userID, userID, role, peer)
	_, err := s.Admit(p)
	require.NoError(t, err)
	return p, peer
}

func payload[T any](t *testing.T, msg WSMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(msg.Payload, &v))
	return v
}
