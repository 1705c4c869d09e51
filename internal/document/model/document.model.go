package model

import (
	"errors"
	"time"
)

// ErrNoDocument reports that a document row no longer exists.
var ErrNoDocument = errors.New("document does not exist")

type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// ShareGrant gives one user access to one document. At most one grant exists per
// (DocumentID, UserID) pair.
type ShareGrant struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	UserID     string    `json:"shared_with_id"`
	CanEdit    bool      `json:"can_edit"`
	SharedAt   time.Time `json:"shared_at"`
}

type Document struct {
	ID        string       `json:"id"`
	Title     string       `json:"title"`
	Content   string       `json:"content"`
	OwnerID   string       `json:"owner_id"`
	Shares    []ShareGrant `json:"shared_with"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// GrantFor returns the share grant for userID, if any.
func (d Document) GrantFor(userID string) (ShareGrant, bool) {
	for _, g := range d.Shares {
		if g.UserID == userID {
			return g, true
		}
	}
	return ShareGrant{}, false
}

// GrantChange is published by the sharing API whenever a grant is created, updated
// or deleted.
type GrantChange struct {
	DocumentID string `json:"document_id"`
	UserID     string `json:"user_id"`
}

type SessionParticipant struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Color    string `json:"color"`
	Role     string `json:"role"`
	Cursor   *int   `json:"cursor,omitempty"`
}

type SessionInfo struct {
	DocumentID   string               `json:"document_id"`
	Version      uint64               `json:"version"`
	Dirty        bool                 `json:"dirty"`
	Participants []SessionParticipant `json:"participants"`
}
