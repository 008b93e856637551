// internal/auth/auth_test.go
package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeltafilaj/web-app/internal/errs"
	"github.com/joeltafilaj/web-app/internal/model"
)

var testSignKey = []byte("test-signing-key")

// stubUserStore serves a single known user.
type stubUserStore struct {
	user *model.User
}

func (s *stubUserStore) GetUserByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	if s.user == nil || s.user.ID != id {
		return nil, errs.ErrUserNotFound
	}
	return s.user, nil
}

func (s *stubUserStore) ClearAccessToken(context.Context, uuid.UUID) error { return nil }

func signToken(t *testing.T, key []byte, subject string, expiresAt time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func TestVerifier_VerifyToken(t *testing.T) {
	ctx := context.Background()
	user := &model.User{ID: uuid.New(), Username: "octocat"}
	verifier := NewVerifier(testSignKey, &stubUserStore{user: user})
	expiry := time.Now().Add(time.Hour)

	t.Run("valid token resolves the user", func(t *testing.T) {
		token := signToken(t, testSignKey, user.ID.String(), expiry)

		got, err := verifier.VerifyToken(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, user.ID, got.ID)
	})

	t.Run("empty token", func(t *testing.T) {
		_, err := verifier.VerifyToken(ctx, "")
		assert.ErrorIs(t, err, errs.ErrUnauthorized)
	})

	t.Run("wrong signing key", func(t *testing.T) {
		token := signToken(t, []byte("some-other-key"), user.ID.String(), expiry)

		_, err := verifier.VerifyToken(ctx, token)
		assert.ErrorIs(t, err, errs.ErrUnauthorized)
	})

	t.Run("expired token", func(t *testing.T) {
		token := signToken(t, testSignKey, user.ID.String(), time.Now().Add(-time.Minute))

		_, err := verifier.VerifyToken(ctx, token)
		assert.ErrorIs(t, err, errs.ErrUnauthorized)
	})

	t.Run("subject is not a user id", func(t *testing.T) {
		token := signToken(t, testSignKey, "not-a-uuid", expiry)

		_, err := verifier.VerifyToken(ctx, token)
		assert.ErrorIs(t, err, errs.ErrUnauthorized)
	})

	t.Run("subject user no longer exists", func(t *testing.T) {
		token := signToken(t, testSignKey, uuid.NewString(), expiry)

		_, err := verifier.VerifyToken(ctx, token)
		assert.ErrorIs(t, err, errs.ErrUnauthorized)
	})
}

func TestVerifier_Middleware(t *testing.T) {
	user := &model.User{ID: uuid.New(), Username: "octocat"}
	verifier := NewVerifier(testSignKey, &stubUserStore{user: user})

	handler := verifier.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok := UserFromContext(r.Context())
		require.True(t, ok, "user must be on the request context")
		assert.Equal(t, user.ID, got.ID)
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("authenticated request passes through", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, testSignKey, user.ID.String(), time.Now().Add(time.Hour)))
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("missing header is rejected", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.JSONEq(t, `{"error":"Unauthorized"}`, rec.Body.String())
	})

	t.Run("malformed header is rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Token abc")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
