// Package middleware contains the HTTP plumbing wrapped around the
// gateway routes: authentication, role checks, CORS, usage recording,
// request logging, and panic recovery.
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/NicRodri/COMP4537-Project/internal/models"
	"github.com/NicRodri/COMP4537-Project/internal/token"
)

type contextKey string

const (
	ClaimsKey contextKey = "claims"
	TokenKey  contextKey = "token"
)

const authCookieName = "authToken"

// TokenVerifier validates a token's signature and expiry.
type TokenVerifier interface {
	Verify(tokenString string) (*models.Claims, error)
}

// RevocationChecker consults the token revocation ledger.
type RevocationChecker interface {
	IsTokenRevoked(ctx context.Context, token string) (bool, error)
}

// UserGetter loads a user record for the live role check.
type UserGetter interface {
	GetUserByID(ctx context.Context, id string) (*models.User, error)
}

type Auth struct {
	tokens TokenVerifier
	ledger RevocationChecker
	users  UserGetter
	logger *slog.Logger
}

func NewAuth(tokens TokenVerifier, ledger RevocationChecker, users UserGetter, logger *slog.Logger) *Auth {
	return &Auth{tokens: tokens, ledger: ledger, users: users, logger: logger}
}

// Authenticate resolves the caller's identity from the authToken
// cookie. The revocation ledger is checked before the signature so a
// logged-out token is rejected as blacklisted even while it is still
// cryptographically valid.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(authCookieName)
		if err != nil || cookie.Value == "" {
			writeMessage(w, http.StatusForbidden, "User not authenticated")
			return
		}
		tokenString := cookie.Value

		revoked, err := a.ledger.IsTokenRevoked(r.Context(), tokenString)
		if err != nil {
			a.logger.Error("revocation check failed", "error", err)
			writeMessage(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		if revoked {
			writeMessage(w, http.StatusForbidden, "Token is blacklisted")
			return
		}

		claims, err := a.tokens.Verify(tokenString)
		if err != nil {
			switch {
			case errors.Is(err, token.ErrExpiredToken):
				writeMessage(w, http.StatusForbidden, "Token expired")
			default:
				writeMessage(w, http.StatusForbidden, "Invalid token")
			}
			return
		}

		ctx := context.WithValue(r.Context(), ClaimsKey, claims)
		ctx = context.WithValue(ctx, TokenKey, tokenString)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin re-queries the credential store and compares the live
// role rather than trusting the role claim baked into the token, so a
// demotion takes effect for tokens issued before it.
func (a *Auth) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFrom(r.Context())
		if !ok {
			writeMessage(w, http.StatusForbidden, "User not authenticated")
			return
		}

		user, err := a.users.GetUserByID(r.Context(), claims.UserID)
		if err != nil {
			a.logger.Error("role lookup failed", "error", err, "user_id", claims.UserID)
			writeMessage(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		if user == nil || user.Role != models.RoleAdmin {
			writeMessage(w, http.StatusForbidden, "Admin access required")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ClaimsFrom returns the identity attached by Authenticate.
func ClaimsFrom(ctx context.Context) (*models.Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*models.Claims)
	return claims, ok
}

// TokenFrom returns the raw token string attached by Authenticate.
func TokenFrom(ctx context.Context) (string, bool) {
	t, ok := ctx.Value(TokenKey).(string)
	return t, ok
}
