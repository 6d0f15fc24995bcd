package httpapi

import (
	"net/http"
	"strings"
	"time"

	"goldilocks.org/internal/account"
	"goldilocks.org/internal/audit"
)

const sessionCookie = "goldilocks_session"

type registerRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type apiTokenRequest struct {
	TTLSeconds int64 `json:"ttl_seconds"`
}

type revokeSessionRequest struct {
	SessionID string `json:"session_id"`
	All       bool   `json:"all"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Email) == "" || strings.TrimSpace(req.Username) == "" {
		writeError(w, r, http.StatusBadRequest, "email and username are required")
		return
	}
	if len(req.Password) < 8 {
		writeError(w, r, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}

	user, err := a.accounts.Register(r.Context(), account.RegisterParams{
		Email:    req.Email,
		Username: req.Username,
		Password: req.Password,
		FullName: req.FullName,
	}, requestMeta(r))
	if err != nil {
		handleAccountError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.register", map[string]any{
		"user_id":  user.ID,
		"username": user.Username,
	})
	// Registration does not log the user in; the client calls login next.
	writeJSON(w, http.StatusCreated, map[string]any{"user": user})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	user, err := a.accounts.Authenticate(r.Context(), req.Identifier, req.Password, requestMeta(r))
	if err != nil {
		handleAccountError(w, r, err)
		return
	}
	sess, err := a.accounts.CreateSession(r.Context(), user.ID, req.RememberMe, requestMeta(r))
	if err != nil {
		handleAccountError(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sess.Token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   a.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{
		"user_id":     user.ID,
		"remember_me": req.RememberMe,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"user":       user,
		"expires_at": sess.ExpiresAt,
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	user, ok := account.UserFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	if tok, ok := account.SessionTokenFromContext(r.Context()); ok {
		if _, err := a.accounts.InvalidateSession(r.Context(), tok); err != nil {
			handleAccountError(w, r, err)
			return
		}
		a.accounts.RecordActivity(r.Context(), &account.ActivityEntry{
			UserID: user.ID,
			Action: account.ActionLogout,
		}, requestMeta(r))
	}

	// Expire the cookie regardless of how the request authenticated.
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	user, ok := account.UserFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	profile, err := a.accounts.GetProfile(r.Context(), user.ID)
	if err != nil {
		handleAccountError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":    user,
		"profile": profile,
	})
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	user, ok := account.UserFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.NewPassword) < 8 {
		writeError(w, r, http.StatusBadRequest, "new password must be at least 8 characters")
		return
	}

	// The session that performs the change stays alive; every other one is
	// revoked inside the same transaction.
	current, _ := account.SessionTokenFromContext(r.Context())
	if err := a.accounts.ChangePassword(r.Context(), user.ID, req.CurrentPassword, req.NewPassword, current); err != nil {
		handleAccountError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.password_changed", nil)
	writeJSON(w, http.StatusOK, map[string]any{"status": "password_changed"})
}

func (a *API) handleAPIToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	user, ok := account.UserFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	if a.tokens == nil {
		writeError(w, r, http.StatusServiceUnavailable, "api tokens are not configured")
		return
	}
	var req apiTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	ttl := time.Duration(req.TTLSeconds) * time.Second
	if ttl > 24*time.Hour {
		writeError(w, r, http.StatusBadRequest, "ttl_seconds must not exceed 86400")
		return
	}

	signed, expiresAt, err := a.tokens.Generate(user.ID, user.UUID, user.Username, user.Role, ttl)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.token_issued", map[string]any{
		"expires_at": expiresAt.Format(time.RFC3339),
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"token":      signed,
		"expires_at": expiresAt,
	})
}

func (a *API) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	user, ok := account.UserFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	sessions, err := a.accounts.ListSessions(r.Context(), user.ID)
	if err != nil {
		handleAccountError(w, r, err)
		return
	}

	current, _ := account.SessionTokenFromContext(r.Context())
	type sessionView struct {
		*account.Session
		Current bool `json:"current"`
	}
	items := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		items = append(items, sessionView{Session: s, Current: current != "" && s.Token == current})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleSessionRevoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	user, ok := account.UserFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	var req revokeSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	current, _ := account.SessionTokenFromContext(r.Context())
	if req.All {
		n, err := a.accounts.InvalidateAllSessions(r.Context(), user.ID, current)
		if err != nil {
			handleAccountError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "auth.sessions_revoked", map[string]any{"count": n})
		writeJSON(w, http.StatusOK, map[string]any{"revoked": n})
		return
	}

	if req.SessionID == "" {
		writeError(w, r, http.StatusBadRequest, "session_id or all is required")
		return
	}
	sessions, err := a.accounts.ListSessions(r.Context(), user.ID)
	if err != nil {
		handleAccountError(w, r, err)
		return
	}
	for _, s := range sessions {
		if s.ID != req.SessionID {
			continue
		}
		ok, err := a.accounts.InvalidateSession(r.Context(), s.Token)
		if err != nil {
			handleAccountError(w, r, err)
			return
		}
		var n int64
		if ok {
			n = 1
		}
		writeJSON(w, http.StatusOK, map[string]any{"revoked": n})
		return
	}
	writeError(w, r, http.StatusNotFound, "session not found")
}

func requestMeta(r *http.Request) account.RequestMeta {
	return account.RequestMeta{
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
	}
}
