package rest

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/dmitrijs2005/crmkeeper/internal/common"
	"github.com/dmitrijs2005/crmkeeper/internal/server/auth"
	"github.com/dmitrijs2005/crmkeeper/internal/server/models"
	"github.com/dmitrijs2005/crmkeeper/internal/server/services"
)

// RefreshCookieName carries the refresh token between browser and server.
const RefreshCookieName = common.RefreshTokenCookieName

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	User        models.UserView `json:"user"`
	AccessToken string          `json:"access_token"`
	TokenType   string          `json:"token_type"`
}

type accessTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

func (h *handlers) register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		WriteError(w, r, common.ErrValidation)
		return
	}

	sess, err := h.auth.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	h.writeSession(w, sess)
}

// login takes form fields username and password, the OAuth2 password-flow
// shape; username is the email.
func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		WriteError(w, r, common.ErrValidation)
		return
	}

	sess, err := h.auth.Login(r.Context(), r.PostForm.Get("username"), r.PostForm.Get("password"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	h.writeSession(w, sess)
}

func (h *handlers) refresh(w http.ResponseWriter, r *http.Request) {
	token, err := refreshCookie(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	pair, err := h.auth.Refresh(r.Context(), token)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	h.setRefreshCookie(w, pair.RefreshToken)
	writeJSON(w, http.StatusOK, accessTokenResponse{AccessToken: pair.AccessToken, TokenType: common.TokenTypeBearer})
}

func (h *handlers) logout(w http.ResponseWriter, r *http.Request) {
	token, err := refreshCookie(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	if err := h.auth.Logout(r.Context(), token); err != nil {
		WriteError(w, r, err)
		return
	}
	h.clearRefreshCookie(w)
	writeMessage(w, http.StatusOK, "Logged out")
}

func (h *handlers) me(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		WriteError(w, r, common.ErrUnauthorized)
		return
	}

	user, err := h.auth.CurrentUser(r.Context(), p.UserID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user.View())
}

func (h *handlers) writeSession(w http.ResponseWriter, sess *services.Session) {
	h.setRefreshCookie(w, sess.RefreshToken)
	writeJSON(w, http.StatusOK, sessionResponse{
		User:        sess.User.View(),
		AccessToken: sess.AccessToken,
		TokenType:   common.TokenTypeBearer,
	})
}

func (h *handlers) setRefreshCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.auth.RefreshTTL() / time.Second),
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *handlers) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func refreshCookie(r *http.Request) (string, error) {
	c, err := r.Cookie(RefreshCookieName)
	if err != nil || c.Value == "" {
		return "", common.ErrUnauthorized
	}
	return c.Value, nil
}
