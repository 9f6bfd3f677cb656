package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"gatecode.org/internal/auth"
	"gatecode.org/internal/obs"
)

const (
	sessionCookieName = "session_token"
	authHeader        = "Authorization"
	bearer            = "Bearer "

	activityTouchTimeout = 2 * time.Second
)

// requireAuth gates a handler behind session verification, the per-request
// user re-check and an optional permission. The re-check against the store
// is what makes deactivation effective while a token is still unexpired;
// it must not be optimized away.
func (a *API) requireAuth(required auth.Permission, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := extractToken(r)
		if !ok {
			writeError(w, r, http.StatusUnauthorized, "authentication required")
			return
		}

		claims, err := auth.VerifySession(token)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidToken) {
				writeError(w, r, http.StatusUnauthorized, "invalid token")
				return
			}
			a.internalError(w, r, "session verification", err)
			return
		}

		user, err := a.store.Users().Find(r.Context(), claims.Subject)
		if err != nil {
			if errors.Is(err, auth.ErrNotFound) {
				writeError(w, r, http.StatusUnauthorized, "user not found or inactive")
				return
			}
			a.internalError(w, r, "load user", err)
			return
		}
		if !user.IsActive {
			writeError(w, r, http.StatusUnauthorized, "user not found or inactive")
			return
		}

		// The permission check uses the stored role, not the token's claim:
		// a role change since issuance takes effect immediately.
		if required != "" && !auth.HasPermission(user.Role, required) {
			writeJSON(w, http.StatusForbidden, map[string]any{
				"error":    "insufficient permissions",
				"required": required,
				"userRole": user.Role,
			})
			return
		}

		ctx := auth.ContextWithPrincipal(r.Context(), auth.Principal{User: user, Claims: claims})
		ctx = auth.ContextWithToken(ctx, token)

		a.touchActivity(claims.ID, user.ID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// touchActivity records session liveness off the request's critical path.
// Best effort: a failed touch is logged and forgotten.
func (a *API) touchActivity(tokenID, userID string) {
	if tokenID == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), activityTouchTimeout)
		defer cancel()
		if err := a.store.Sessions().TouchActivity(ctx, tokenID, userID, time.Now().UTC()); err != nil {
			obs.LogError("session activity touch failed", map[string]any{
				"user_id": userID,
				"err":     err.Error(),
			})
		}
	}()
}

// extractToken reads the session token from the cookie or, failing that,
// the Authorization bearer header. The cookie takes precedence.
func extractToken(r *http.Request) (string, bool) {
	if c, err := r.Cookie(sessionCookieName); err == nil {
		if v := strings.TrimSpace(c.Value); v != "" {
			return v, true
		}
	}
	header := strings.TrimSpace(r.Header.Get(authHeader))
	if header == "" {
		return "", false
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", false
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", false
	}
	return token, true
}

// actorID returns the authenticated user's id for audit attribution.
func actorID(ctx context.Context) string {
	if p, ok := auth.PrincipalFromContext(ctx); ok {
		return p.User.ID
	}
	return ""
}
