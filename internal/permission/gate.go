// Package permission resolves a credential and a document into the role a
// connection is admitted with.
package permission

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"docsync/internal/document/model"
	"docsync/middleware"
)

var (
	ErrAdmissionDenied = errors.New("admission denied")

	// ErrUnauthenticated is wrapped together with ErrAdmissionDenied when the
	// credential is missing, malformed or expired.
	ErrUnauthenticated = errors.New("invalid credentials")
)

type Role int

const (
	Denied Role = iota
	Viewer
	Editor
	Owner
)

func (r Role) String() string {
	switch r {
	case Owner:
		return "owner"
	case Editor:
		return "editor"
	case Viewer:
		return "viewer"
	default:
		return "denied"
	}
}

func (r Role) CanWrite() bool { return r == Owner || r == Editor }

// Directory is the read-only view of the document and user store the gate needs.
type Directory interface {
	GetUser(ctx context.Context, userID string) (model.User, error)
	GetDocument(ctx context.Context, docID string) (model.Document, error)
}

// Access is the outcome of a successful admission.
type Access struct {
	Role     Role
	User     model.User
	Document model.Document
}

type Gate struct {
	dir    Directory
	secret []byte
}

func NewGate(dir Directory, secret []byte) *Gate {
	return &Gate{dir: dir, secret: secret}
}

func (g *Gate) Authenticate(token string) (string, error) {
	userID, err := middleware.ParseToken(token, g.secret)
	if err != nil {
		return "", fmt.Errorf("%w: %w: %v", ErrAdmissionDenied, ErrUnauthenticated, err)
	}
	return userID, nil
}

// Resolve computes the role of userID on docID. Lookup faults are not retried and
// resolve to Denied.
func (g *Gate) Resolve(ctx context.Context, userID, docID string) (Access, error) {
	user, err := g.dir.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Access{}, fmt.Errorf("%w: unknown user %s", ErrAdmissionDenied, userID)
		}
		return Access{}, fmt.Errorf("%w: user lookup: %v", ErrAdmissionDenied, err)
	}

	doc, err := g.dir.GetDocument(ctx, docID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Access{}, fmt.Errorf("%w: document %s not found", ErrAdmissionDenied, docID)
		}
		return Access{}, fmt.Errorf("%w: document lookup: %v", ErrAdmissionDenied, err)
	}

	role := RoleOf(doc, userID)
	if role == Denied {
		return Access{}, fmt.Errorf("%w: user %s has no access to %s", ErrAdmissionDenied, userID, docID)
	}
	return Access{Role: role, User: user, Document: doc}, nil
}

// Admit authenticates the token and resolves the role in one step. Callers tell a
// bad credential from a missing grant with errors.Is(err, ErrUnauthenticated).
func (g *Gate) Admit(ctx context.Context, token, docID string) (Access, error) {
	userID, err := g.Authenticate(token)
	if err != nil {
		return Access{}, err
	}
	return g.Resolve(ctx, userID, docID)
}

// RoleOf derives a role from ownership and share grants alone.
func RoleOf(doc model.Document, userID string) Role {
	if userID == "" {
		return Denied
	}
	if doc.OwnerID == userID {
		return Owner
	}
	grant, ok := doc.GrantFor(userID)
	if !ok {
		return Denied
	}
	if grant.CanEdit {
		return Editor
	}
	return Viewer
}
