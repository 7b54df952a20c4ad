package auth

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeVerifier struct {
	subjects map[string]string
	calls    int
}

func (f *fakeVerifier) VerifySubject(_ context.Context, rawToken string) (string, error) {
	f.calls++
	if sub, ok := f.subjects[rawToken]; ok {
		return sub, nil
	}
	return "", errors.New("oidc: token is expired")
}

func TestOIDCAuthenticator_Authenticate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	verifier := &fakeVerifier{subjects: map[string]string{"good-token": "google-oauth2|123", "orphan": "google-oauth2|999"}}
	authn := NewOIDCAuthenticator(verifier, NewUserRepository(db), 16, time.Minute)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT id FROM users WHERE oauth_id = \$1`).
		WithArgs("google-oauth2|123").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("user-1"))

	userID, err := authn.Authenticate(ctx, "Bearer good-token")
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)

	// second call is served from the subject cache
	userID, err = authn.Authenticate(ctx, "bearer good-token")
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)

	mock.ExpectQuery(`SELECT id FROM users WHERE oauth_id = \$1`).
		WithArgs("google-oauth2|999").
		WillReturnError(sql.ErrNoRows)
	_, err = authn.Authenticate(ctx, "Bearer orphan")
	assert.ErrorIs(t, err, ErrUnknownUser)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOIDCAuthenticator_Rejects(t *testing.T) {
	verifier := &fakeVerifier{subjects: map[string]string{}}
	authn := NewOIDCAuthenticator(verifier, nil, 0, time.Minute)

	tests := []struct {
		name   string
		header string
	}{
		{"empty header", ""},
		{"basic auth", "Basic dXNlcjpwYXNz"},
		{"bearer without token", "Bearer   "},
		{"invalid token", "Bearer expired"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := authn.Authenticate(context.Background(), tt.header)
			assert.ErrorIs(t, err, ErrUnauthenticated)
		})
	}
	assert.Equal(t, 1, verifier.calls, "only the well-formed header reaches the verifier")
}

func TestNewOIDCVerifier_RequiresIssuer(t *testing.T) {
	_, err := NewOIDCVerifier(context.Background(), "", "client")
	assert.Error(t, err)
}
