// Package auth verifies locally issued session credentials. Token issuance
// happens during the external sign-in flow; this service only validates.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/joeltafilaj/web-app/internal/errs"
	"github.com/joeltafilaj/web-app/internal/model"
	"github.com/joeltafilaj/web-app/internal/store"
)

// Verifier validates HS256 session tokens and resolves the subject user.
type Verifier struct {
	signKey []byte
	users   store.UserStore
}

// NewVerifier constructs a Verifier.
func NewVerifier(signKey []byte, users store.UserStore) *Verifier {
	return &Verifier{signKey: signKey, users: users}
}

// VerifyToken parses and validates a token and loads the subject user from
// the store.
func (v *Verifier) VerifyToken(ctx context.Context, token string) (*model.User, error) {
	if token == "" {
		return nil, errs.ErrUnauthorized
	}

	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return v.signKey, nil
	})
	if err != nil || !parsed.Valid {
		return nil, errs.ErrUnauthorized
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, errs.ErrUnauthorized
	}

	user, err := v.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, errs.ErrUnauthorized
	}
	return user, nil
}

type contextKey struct{}

// UserFromContext returns the authenticated user placed by Middleware.
func UserFromContext(ctx context.Context) (*model.User, bool) {
	u, ok := ctx.Value(contextKey{}).(*model.User)
	return u, ok
}

// ContextWithUser attaches an authenticated user to the context.
func ContextWithUser(ctx context.Context, u *model.User) context.Context {
	return context.WithValue(ctx, contextKey{}, u)
}

// Middleware authenticates requests carrying a bearer token and stores the
// user on the request context.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		user, err := v.VerifyToken(r.Context(), token)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"Unauthorized"}`))
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return h[len(prefix):]
	}
	return ""
}
