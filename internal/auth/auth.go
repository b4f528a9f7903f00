package auth

import (
	"net/http"
	"strings"
	"time"

	"llm_chat/internal/apperr"
	"llm_chat/internal/config"
	"llm_chat/internal/utils"
)

// SessionCookie holds the session token for browser clients
const SessionCookie = "session"

// Session is the response of a successful sign-in
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      User      `json:"user"`
}

// Handler exchanges identity proofs for session tokens
type Handler struct {
	cfg      config.AuthConfig
	verifier IdentityVerifier
	logger   *utils.Logger
}

func NewHandler(cfg config.AuthConfig, verifier IdentityVerifier) *Handler {
	return &Handler{
		cfg:      cfg,
		verifier: verifier,
		logger:   utils.NewLogger("auth"),
	}
}

// GoogleLogin handles POST /api/auth/google {idToken}
func (h *Handler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDToken string `json:"idToken"`
	}
	if err := utils.DecodeJSON(r, &req); err != nil || strings.TrimSpace(req.IDToken) == "" {
		apperr.Write(w, apperr.Newf(apperr.BadRequest, apperr.SurfaceAuth, "idToken is required"), apperr.SurfaceAuth)
		return
	}

	identity, err := h.verifier.Verify(r.Context(), req.IDToken)
	if err != nil {
		h.logger.Warn("Google sign-in rejected", "error", err)
		apperr.Write(w, apperr.New(apperr.Unauthorized, apperr.SurfaceAuth), apperr.SurfaceAuth)
		return
	}

	h.issue(w, identity.User())
}

// DevLogin handles POST /api/auth/dev {userId}. Disabled unless configured.
func (h *Handler) DevLogin(w http.ResponseWriter, r *http.Request) {
	if !h.cfg.DevLogin {
		apperr.Write(w, apperr.New(apperr.NotFound, apperr.SurfaceAuth), apperr.SurfaceAuth)
		return
	}

	var req struct {
		UserID string `json:"userId"`
		Email  string `json:"email"`
		Name   string `json:"name"`
	}
	if err := utils.DecodeJSON(r, &req); err != nil || strings.TrimSpace(req.UserID) == "" {
		apperr.Write(w, apperr.Newf(apperr.BadRequest, apperr.SurfaceAuth, "userId is required"), apperr.SurfaceAuth)
		return
	}

	h.issue(w, User{ID: strings.TrimSpace(req.UserID), Email: req.Email, Name: req.Name})
}

// Logout clears the session cookie
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) issue(w http.ResponseWriter, user User) {
	token, expiresAt, err := IssueToken(h.cfg.JWTSecret, h.cfg.TokenTTL, user)
	if err != nil {
		apperr.Write(w, apperr.Wrap(apperr.InternalServerError, apperr.SurfaceAuth, err), apperr.SurfaceAuth)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	h.logger.Info("Session issued", "user_id", user.ID)
	utils.RespondWithJSON(w, http.StatusOK, Session{Token: token, ExpiresAt: expiresAt, User: user})
}
