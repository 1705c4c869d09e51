package permission

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docsync/internal/document/model"
	"docsync/internal/document/repository"
)

var secret = []byte("gate-secret")

type fakeDirectory struct {
	users   map[string]model.User
	docs    map[string]model.Document
	userErr error
	docErr  error
}

func (f *fakeDirectory) GetUser(_ context.Context, id string) (model.User, error) {
	if f.userErr != nil {
		return model.User{}, f.userErr
	}
	u, ok := f.users[id]
	if !ok {
		return model.User{}, sql.ErrNoRows
	}
	return u, nil
}

func (f *fakeDirectory) GetDocument(_ context.Context, id string) (model.Document, error) {
	if f.docErr != nil {
		return model.Document{}, f.docErr
	}
	d, ok := f.docs[id]
	if !ok {
		return model.Document{}, sql.ErrNoRows
	}
	return d, nil
}

func newDirectory() *fakeDirectory {
	return &fakeDirectory{
		users: map[string]model.User{
			"owner":  {ID: "owner", Username: "olga"},
			"editor": {ID: "editor", Username: "ed"},
			"viewer": {ID: "viewer", Username: "vic"},
			"other":  {ID: "other", Username: "oscar"},
		},
		docs: map[string]model.Document{
			"d1": {
				ID:      "d1",
				OwnerID: "owner",
				Content: "text",
				Shares: []model.ShareGrant{
					{ID: "s1", DocumentID: "d1", UserID: "editor", CanEdit: true},
					{ID: "s2", DocumentID: "d1", UserID: "viewer", CanEdit: false},
				},
			},
		},
	}
}

func token(t *testing.T, userID string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": userID}).SignedString(secret)
	require.NoError(t, err)
	return s
}

func TestResolveRoles(t *testing.T) {
	gate := NewGate(newDirectory(), secret)
	cases := map[string]Role{"owner": Owner, "editor": Editor, "viewer": Viewer}
	for user, want := range cases {
		access, err := gate.Admit(context.Background(), token(t, user), "d1")
		require.NoError(t, err, user)
		assert.Equal(t, want, access.Role, user)
		assert.Equal(t, user, access.User.ID)
		assert.Equal(t, "text", access.Document.Content)
	}
}

func TestResolveDenied(t *testing.T) {
	gate := NewGate(newDirectory(), secret)

	_, err := gate.Admit(context.Background(), token(t, "other"), "d1")
	assert.ErrorIs(t, err, ErrAdmissionDenied)
	assert.NotErrorIs(t, err, ErrUnauthenticated, "a valid token without a grant is forbidden, not unauthenticated")

	_, err = gate.Admit(context.Background(), token(t, "ghost"), "d1")
	assert.ErrorIs(t, err, ErrAdmissionDenied)

	_, err = gate.Admit(context.Background(), token(t, "owner"), "missing")
	assert.ErrorIs(t, err, ErrAdmissionDenied)

	_, err = gate.Admit(context.Background(), "bogus", "d1")
	assert.ErrorIs(t, err, ErrAdmissionDenied)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = gate.Admit(context.Background(), "", "d1")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestResolveLookupFaultIsDenied(t *testing.T) {
	dir := newDirectory()
	dir.docErr = errors.New("connection refused")
	gate := NewGate(dir, secret)

	access, err := gate.Resolve(context.Background(), "owner", "d1")
	assert.ErrorIs(t, err, ErrAdmissionDenied)
	assert.Equal(t, Denied, access.Role)

	dir.docErr = nil
	dir.userErr = errors.New("timeout")
	_, err = gate.Resolve(context.Background(), "owner", "d1")
	assert.ErrorIs(t, err, ErrAdmissionDenied)
}

func TestRoleHelpers(t *testing.T) {
	assert.True(t, Owner.CanWrite())
	assert.True(t, Editor.CanWrite())
	assert.False(t, Viewer.CanWrite())
	assert.False(t, Denied.CanWrite())
	assert.Equal(t, "viewer", Viewer.String())
	assert.Equal(t, "denied", Role(99).String())
	assert.Equal(t, Denied, RoleOf(model.Document{OwnerID: ""}, ""))
}

func TestGateAgainstRepository(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery("SELECT id, username FROM users").
		WithArgs("editor").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username"}).AddRow("editor", "ed"))
	mock.ExpectQuery("SELECT id, title, content, owner_id, updated_at FROM documents").
		WithArgs("d1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "content", "owner_id", "updated_at"}).
			AddRow("d1", "Doc", "", "owner", now))
	mock.ExpectQuery("FROM document_shares").
		WithArgs("d1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "document_id", "shared_with_id", "can_edit", "shared_at"}).
			AddRow("s1", "d1", "editor", true, now))

	gate := NewGate(repository.NewDocumentRepository(db), secret)
	access, err := gate.Admit(context.Background(), token(t, "editor"), "d1")
	require.NoError(t, err)
	assert.Equal(t, Editor, access.Role)
	assert.Equal(t, "ed", access.User.Username)
	assert.NoError(t, mock.ExpectationsWereMet())
}
