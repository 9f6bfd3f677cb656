package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"gatecode.org/internal/audit"
	"gatecode.org/internal/auth"
	"gatecode.org/internal/obs"
)

type verifyCodeRequest struct {
	Code        string `json:"code"`
	ExternalID  string `json:"external_id,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

type verifyCodeResponse struct {
	Success   bool       `json:"success"`
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expires_at"`
	User      *auth.User `json:"user"`
}

// handleVerifyCode redeems an access code and logs the caller in. The route
// is anonymous and probes stored hashes, so it carries its own fixed-window
// limit on top of the global per-IP bucket.
func (a *API) handleVerifyCode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	if a.limiter != nil && !a.limiter.Allow(clientIP(r)+"|verify-code", verifyCodeLimit, verifyCodeWindow) {
		obs.CountRateLimited()
		writeError(w, r, http.StatusTooManyRequests, "too many attempts")
		return
	}

	var req verifyCodeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		writeError(w, r, http.StatusBadRequest, "code is required")
		return
	}

	// A deactivated identity is turned away before the redemption itself so
	// the attempt cannot burn one of a limited code's remaining uses.
	externalID := strings.TrimSpace(req.ExternalID)
	if externalID != "" {
		user, err := a.store.Users().FindByExternalID(r.Context(), externalID)
		switch {
		case err == nil && !user.IsActive:
			obs.CountRedemption("rejected")
			writeError(w, r, http.StatusUnauthorized, "invalid or expired code")
			return
		case err != nil && !errors.Is(err, auth.ErrNotFound):
			a.internalError(w, r, "resolve user", err)
			return
		}
	}

	code, err := a.codes.Redeem(r.Context(), req.Code, externalID)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCode) {
			obs.CountRedemption("rejected")
			writeError(w, r, http.StatusUnauthorized, "invalid or expired code")
			return
		}
		a.internalError(w, r, "redeem code", err)
		return
	}
	obs.CountRedemption("ok")

	user, err := a.loginUser(r, &req, code)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCode) {
			writeError(w, r, http.StatusUnauthorized, "invalid or expired code")
			return
		}
		a.internalError(w, r, "resolve user", err)
		return
	}

	token, expiresAt, err := auth.IssueSession(user, a.cfg.SessionTTL)
	if err != nil {
		a.internalError(w, r, "issue session", err)
		return
	}

	a.recorder.Record(r.Context(), user.ID, "auth.code.redeem", "access_code", code.ID, map[string]any{
		"display_code": code.DisplayCode,
		"role":         code.RoleToAssign,
		"uses_count":   code.UsesCount,
	}, audit.FromRequest(r))

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   a.cfg.Production,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, verifyCodeResponse{
		Success:   true,
		Token:     token,
		ExpiresAt: expiresAt,
		User:      user,
	})
}

// loginUser resolves the identity a successful redemption signs in: an
// existing user matched by external id, or a fresh record carrying the
// code's granted role.
func (a *API) loginUser(r *http.Request, req *verifyCodeRequest, code *auth.AccessCode) (*auth.User, error) {
	users := a.store.Users()
	now := time.Now().UTC()

	externalID := strings.TrimSpace(req.ExternalID)
	if externalID != "" {
		user, err := users.FindByExternalID(r.Context(), externalID)
		switch {
		case err == nil:
			if !user.IsActive {
				// A deactivated identity does not come back through a code.
				return nil, auth.ErrInvalidCode
			}
			if err := users.TouchLastLogin(r.Context(), user.ID, now); err != nil {
				return nil, err
			}
			user.LastLoginAt = &now
			return user, nil
		case errors.Is(err, auth.ErrNotFound):
			// fall through to creation
		default:
			return nil, err
		}
	}

	displayName := strings.TrimSpace(req.DisplayName)
	if displayName == "" {
		displayName = "New member"
	}
	user := &auth.User{
		ExternalID:  externalID,
		DisplayName: displayName,
		Role:        code.RoleToAssign,
		IsActive:    true,
		CreatedAt:   now,
		LastLoginAt: &now,
	}
	if err := users.Create(r.Context(), user); err != nil {
		return nil, err
	}
	if err := users.TouchLastLogin(r.Context(), user.ID, now); err != nil {
		return nil, err
	}
	return user, nil
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.cfg.Production,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":       principal.User,
		"expires_at": principal.Claims.ExpiresAt.Time,
	})
}
