package socket

import (
	"context"
	"errors"
	"sync"
	"time"

	"docsync/internal/document/model"
	"docsync/internal/permission"
	"docsync/pkg/logger"
	"docsync/pkg/metrics"
)

type Options struct {
	AutosaveDelay  time.Duration
	PersistTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.AutosaveDelay <= 0 {
		o.AutosaveDelay = 2 * time.Second
	}
	if o.PersistTimeout <= 0 {
		o.PersistTimeout = 5 * time.Second
	}
	return o
}

// Snapshot is what a newly admitted participant needs to render the document.
type Snapshot struct {
	Content      string
	Version      uint64
	Color        string
	Participants []PresenceEntry
}

// Session is the live state of one document. All state below the channels is owned
// by the run goroutine; other goroutines reach it by posting closures on cmds.
type Session struct {
	docID string
	title string

	cmds     chan func()
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	// refs counts admitted or admitting connections. Guarded by Hub.mu.
	refs int

	store   Store
	timeout time.Duration

	prev     *Session
	content  string
	version  uint64
	dirty    bool
	gone     bool
	registry *registry
	autosave *debouncer
	writer   *writer
}

func newSession(doc model.Document, prev *Session, store Store, opts Options) *Session {
	opts = opts.withDefaults()
	s := &Session{
		docID:    doc.ID,
		title:    doc.Title,
		cmds:     make(chan func(), 64),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		store:    store,
		timeout:  opts.PersistTimeout,
		prev:     prev,
		content:  doc.Content,
		registry: newRegistry(),
		writer:   newWriter(doc.ID, store, opts.PersistTimeout),
	}
	s.autosave = newDebouncer(opts.AutosaveDelay, func(gen uint64) {
		s.tryPost(func() { s.autosaveFired(gen) })
	})
	return s
}

func (s *Session) DocID() string { return s.docID }

func (s *Session) run() {
	defer close(s.done)

	// A previous session for this document may hold content newer than the store,
	// either because it is still flushing or because its last write failed. Wait for
	// it and carry its state over. Otherwise start from what the store has now.
	prev := s.prev
	s.prev = nil
	if prev != nil {
		<-prev.done
	}
	if prev != nil && !prev.gone {
		s.content = prev.content
		if prev.dirty {
			s.dirty = true
			s.autosave.kick()
		}
	} else {
		s.load()
	}

	for {
		select {
		case fn := <-s.cmds:
			fn()
		case <-s.quit:
			s.shutdown()
			return
		}
	}
}

func (s *Session) load() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	content, err := s.store.GetContent(ctx, s.docID)
	switch {
	case errors.Is(err, model.ErrNoDocument):
		s.drop()
	case err != nil:
		logger.Sugar.Warnf("Failed to load doc %s, using the copy read at admission: %v", s.docID, err)
	default:
		s.content = content
	}
}

func (s *Session) stop() {
	s.stopOnce.Do(func() { close(s.quit) })
}

func (s *Session) shutdown() {
	s.autosave.stop()
	for _, p := range s.registry.all() {
		s.registry.remove(p.ID)
		metrics.ActiveParticipants.Dec()
		p.peer.Close()
	}

	var flushErr error
	if s.dirty {
		s.writer.enqueue(persistJob{
			content: s.content,
			version: s.version,
			trigger: triggerClose,
			done:    func(err error) { flushErr = err },
		})
	}
	s.writer.close()
	s.writer.wait()

	switch {
	case flushErr == nil:
		s.dirty = false
	case errors.Is(flushErr, model.ErrNoDocument):
		s.gone = true
		s.dirty = false
	default:
		logger.Sugar.Errorf("Failed to save doc %s on close: %v", s.docID, flushErr)
	}
}

// call runs fn on the session goroutine and waits for it.
func (s *Session) call(fn func()) error {
	ran := make(chan struct{})
	select {
	case s.cmds <- func() { fn(); close(ran) }:
	case <-s.done:
		return ErrSessionClosed
	}
	select {
	case <-ran:
		return nil
	case <-s.done:
		select {
		case <-ran:
			return nil
		default:
			return ErrSessionClosed
		}
	}
}

// tryPost queues fn without waiting for it. It gives up once the session is
// stopping, so timer and writer goroutines never hang on a dead session.
func (s *Session) tryPost(fn func()) {
	select {
	case s.cmds <- fn:
	case <-s.quit:
	}
}

// Admit registers p, sends it the init snapshot and announces it to everyone else.
func (s *Session) Admit(p *Participant) (Snapshot, error) {
	var snap Snapshot
	var err error
	if cerr := s.call(func() { snap, err = s.admit(p) }); cerr != nil {
		return Snapshot{}, cerr
	}
	return snap, err
}

// ApplyUpdate replaces the live content with content if the sender may write.
func (s *Session) ApplyUpdate(participantID, content string, cursor *Cursor) error {
	var err error
	if cerr := s.call(func() { err = s.applyUpdate(participantID, content, cursor) }); cerr != nil {
		return cerr
	}
	return err
}

func (s *Session) Remove(participantID string) error {
	return s.call(func() { s.remove(participantID) })
}

// RequestSave schedules an immediate persist on behalf of a participant. The
// outcome is reported to that participant with a saved frame.
func (s *Session) RequestSave(participantID string) error {
	var err error
	if cerr := s.call(func() { err = s.requestSave(participantID) }); cerr != nil {
		return cerr
	}
	return err
}

// Save persists the live content now and waits for the write. The caller is
// responsible for checking write access.
func (s *Session) Save(ctx context.Context) (uint64, error) {
	type result struct {
		version uint64
		err     error
	}
	res := make(chan result, 1)
	err := s.call(func() {
		if s.gone {
			res <- result{version: s.version, err: model.ErrNoDocument}
			return
		}
		s.persistNow(triggerManual, func(version uint64, err error) {
			res <- result{version: version, err: err}
		})
	})
	if err != nil {
		return 0, err
	}
	select {
	case r := <-res:
		return r.version, r.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// SetRole applies a freshly resolved role to every connection of userID.
func (s *Session) SetRole(userID string, role permission.Role) error {
	return s.call(func() { s.setRole(userID, role) })
}

func (s *Session) Info() (model.SessionInfo, error) {
	var info model.SessionInfo
	err := s.call(func() {
		info = model.SessionInfo{
			DocumentID:   s.docID,
			Version:      s.version,
			Dirty:        s.dirty,
			Participants: []model.SessionParticipant{},
		}
		for _, e := range s.registry.snapshot() {
			sp := model.SessionParticipant{ID: e.ID, Username: e.Username, Color: e.Color, Role: e.Role}
			if e.Cursor != nil {
				pos := e.Cursor.Position
				sp.Cursor = &pos
			}
			info.Participants = append(info.Participants, sp)
		}
	})
	return info, err
}

func (s *Session) admit(p *Participant) (Snapshot, error) {
	if s.gone {
		return Snapshot{}, model.ErrNoDocument
	}
	others := s.registry.snapshot()
	s.registry.add(p)
	metrics.ActiveParticipants.Inc()

	snap := Snapshot{Content: s.content, Version: s.version, Color: p.Color, Participants: others}

	initFrame, err := encode(InitType, s.docID, p, InitPayload{
		ParticipantID: p.ID,
		Title:         s.title,
		Content:       s.content,
		Version:       s.version,
		Role:          p.Role.String(),
		Color:         p.Color,
		Participants:  others,
	})
	if err != nil {
		logger.Sugar.Errorf("Error marshalling init for doc %s: %v", s.docID, err)
	} else if !p.peer.Deliver(initFrame) {
		p.peer.Close()
	}

	s.send(JoinType, p, JoinPayload{ParticipantID: p.ID, Username: p.Username, Color: p.Color})
	logger.Sugar.Infof("User %s joined doc %s as %s (%d online)", p.UserID, s.docID, p.Role, s.registry.len())
	return snap, nil
}

func (s *Session) applyUpdate(participantID, content string, cursor *Cursor) error {
	if s.gone {
		return model.ErrNoDocument
	}
	p, ok := s.registry.get(participantID)
	if !ok {
		return ErrUnknownParticipant
	}
	if !p.Role.CanWrite() {
		metrics.Updates.WithLabelValues("rejected").Inc()
		logger.Sugar.Warnf("Permission Denied: User %s (Role: %s) tried to edit doc %s", p.UserID, p.Role, s.docID)
		return ErrUpdateRejected
	}

	s.content = content
	s.version++
	s.dirty = true
	s.registry.setCursor(participantID, cursor)
	metrics.Updates.WithLabelValues("accepted").Inc()

	s.send(MessageType, p, ContentPayload{Content: content, Cursor: cursor, Color: p.Color, Version: s.version})
	s.autosave.kick()
	return nil
}

func (s *Session) remove(participantID string) {
	p, ok := s.registry.remove(participantID)
	if !ok {
		return
	}
	metrics.ActiveParticipants.Dec()
	s.send(LeaveType, p, LeavePayload{ParticipantID: p.ID, Username: p.Username})
	logger.Sugar.Infof("User %s left doc %s (%d online)", p.UserID, s.docID, s.registry.len())
}

func (s *Session) requestSave(participantID string) error {
	if s.gone {
		return model.ErrNoDocument
	}
	p, ok := s.registry.get(participantID)
	if !ok {
		return ErrUnknownParticipant
	}
	if !p.Role.CanWrite() {
		return ErrUpdateRejected
	}
	peer := p.peer
	s.persistNow(triggerManual, func(version uint64, err error) {
		payload := SavedPayload{OK: err == nil, Version: version}
		if err != nil {
			payload.Error = "Failed to save the document."
		}
		frame, encErr := encode(SavedType, s.docID, nil, payload)
		if encErr != nil {
			logger.Sugar.Errorf("Error marshalling save result for doc %s: %v", s.docID, encErr)
			return
		}
		peer.Deliver(frame)
	})
	return nil
}

func (s *Session) setRole(userID string, role permission.Role) {
	for _, p := range s.registry.byUser(userID) {
		if p.Role == role {
			continue
		}
		logger.Sugar.Infof("Role of user %s on doc %s changed from %s to %s", userID, s.docID, p.Role, role)
		p.Role = role
		if role == permission.Denied {
			p.peer.Close()
			continue
		}
		frame, err := encode(RoleType, s.docID, p, RolePayload{Role: role.String()})
		if err == nil {
			p.peer.Deliver(frame)
		}
	}
}

// persistNow hands the current content to the writer. notify, if set, runs on the
// writer goroutine once the write finished.
func (s *Session) persistNow(trigger string, notify func(version uint64, err error)) {
	version, content := s.version, s.content
	queued := s.writer.enqueue(persistJob{
		content: content,
		version: version,
		trigger: trigger,
		done: func(err error) {
			if notify != nil {
				notify(version, err)
			}
			s.tryPost(func() { s.persisted(version, err) })
		},
	})
	if !queued && notify != nil {
		notify(version, ErrSessionClosed)
	}
}

func (s *Session) persisted(version uint64, err error) {
	if errors.Is(err, model.ErrNoDocument) {
		s.drop()
		return
	}
	if err != nil {
		// Retry on the next debounce cycle unless an edit already re-armed it.
		if s.dirty && !s.autosave.pending() {
			s.autosave.kick()
		}
		return
	}
	if version == s.version {
		s.dirty = false
	}
}

// drop ends editing after the document was deleted. There is nowhere left to save,
// so autosave stops and every participant is disconnected; their leaves close the
// session.
func (s *Session) drop() {
	if s.gone {
		return
	}
	s.gone = true
	s.dirty = false
	s.autosave.stop()
	logger.Sugar.Warnf("Doc %s was deleted, disconnecting %d participants", s.docID, s.registry.len())
	for _, p := range s.registry.all() {
		p.peer.Close()
	}
}

func (s *Session) autosaveFired(gen uint64) {
	if !s.autosave.current(gen) {
		return
	}
	s.autosave.settle()
	if !s.dirty {
		return
	}
	s.persistNow(triggerAutosave, nil)
}

// send broadcasts a frame from p to every other participant.
func (s *Session) send(msgType string, from *Participant, payload interface{}) {
	frame, err := encode(msgType, s.docID, from, payload)
	if err != nil {
		logger.Sugar.Errorf("Error marshalling %s broadcast for doc %s: %v", msgType, s.docID, err)
		return
	}
	for _, p := range s.registry.all() {
		if p.ID == from.ID {
			continue
		}
		if !p.peer.Deliver(frame) {
			logger.Sugar.Warnf("Client %s's send buffer is full on doc %s. Disconnecting.", p.UserID, s.docID)
			p.peer.Close()
		}
	}
}
