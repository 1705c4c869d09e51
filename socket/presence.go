package socket

import "docsync/internal/permission"

var palette = []string{
	"#f94144", "#f3722c", "#f9c74f", "#90be6d",
	"#43aa8b", "#577590", "#277da1", "#f9844a",
}

// Peer is the outbound side of one connection.
type Peer interface {
	// Deliver queues a frame without blocking. It reports false when the peer is
	// closed or cannot keep up.
	Deliver(frame []byte) bool
	Close()
}

type Participant struct {
	ID       string
	UserID   string
	Username string
	Role     permission.Role
	Color    string
	Cursor   *Cursor

	peer Peer
}

func NewParticipant(id, userID, username string, role permission.Role, peer Peer) *Participant {
	return &Participant{ID: id, UserID: userID, Username: username, Role: role, peer: peer}
}

func (p *Participant) entry() PresenceEntry {
	e := PresenceEntry{
		ID:       p.ID,
		UserID:   p.UserID,
		Username: p.Username,
		Color:    p.Color,
		Role:     p.Role.String(),
	}
	if p.Cursor != nil {
		c := *p.Cursor
		e.Cursor = &c
	}
	return e
}

// registry holds the presence and cursor state of one session. It is only touched
// from the session goroutine.
type registry struct {
	order    []string
	members  map[string]*Participant
	colorUse map[string]int
}

func newRegistry() *registry {
	return &registry{
		members:  make(map[string]*Participant),
		colorUse: make(map[string]int),
	}
}

// nextColor picks the first palette color nobody holds. Once the palette is used up
// the least shared color is reused.
func (r *registry) nextColor() string {
	best := palette[0]
	for _, c := range palette {
		if r.colorUse[c] == 0 {
			return c
		}
		if r.colorUse[c] < r.colorUse[best] {
			best = c
		}
	}
	return best
}

func (r *registry) add(p *Participant) {
	p.Color = r.nextColor()
	r.colorUse[p.Color]++
	r.members[p.ID] = p
	r.order = append(r.order, p.ID)
}

func (r *registry) remove(id string) (*Participant, bool) {
	p, ok := r.members[id]
	if !ok {
		return nil, false
	}
	delete(r.members, id)
	r.colorUse[p.Color]--
	if r.colorUse[p.Color] <= 0 {
		delete(r.colorUse, p.Color)
	}
	for i, pid := range r.order {
		if pid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	p.Cursor = nil
	return p, true
}

func (r *registry) get(id string) (*Participant, bool) {
	p, ok := r.members[id]
	return p, ok
}

func (r *registry) setCursor(id string, c *Cursor) {
	if p, ok := r.members[id]; ok && c != nil {
		cc := *c
		p.Cursor = &cc
	}
}

func (r *registry) len() int { return len(r.members) }

// all returns participants in admission order.
func (r *registry) all() []*Participant {
	out := make([]*Participant, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.members[id])
	}
	return out
}

func (r *registry) byUser(userID string) []*Participant {
	var out []*Participant
	for _, p := range r.all() {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out
}

func (r *registry) snapshot() []PresenceEntry {
	out := make([]PresenceEntry, 0, len(r.order))
	for _, p := range r.all() {
		out = append(out, p.entry())
	}
	return out
}
