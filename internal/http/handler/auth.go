package handler

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"docuchat.app/engine/internal/http/middleware"
	"docuchat.app/engine/internal/service"
)

const stateCookie = "engine_oauth_state"

// AuthHandler serves login, callback, logout and the current-user endpoint.
type AuthHandler struct {
	auth         *service.AuthService
	dashboardURL string
	secureCookie bool
}

func NewAuthHandler(auth *service.AuthService, dashboardURL string, secureCookie bool) *AuthHandler {
	return &AuthHandler{auth: auth, dashboardURL: dashboardURL, secureCookie: secureCookie}
}

// Login redirects to the AuthKit hosted login page.
func (h *AuthHandler) Login(c *gin.Context) {
	state, err := randomState()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "code": codeInternalError})
		return
	}

	url, err := h.auth.LoginURL(state)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "code": codeInternalError})
		return
	}

	c.SetCookie(stateCookie, state, 600, "/", "", h.secureCookie, true)
	c.Redirect(http.StatusTemporaryRedirect, url)
}

// Callback exchanges the authorization code and opens a session.
func (h *AuthHandler) Callback(c *gin.Context) {
	expectedState, err := c.Cookie(stateCookie)
	if err != nil || expectedState == "" || c.Query("state") != expectedState {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid state", "code": codeValidationError})
		return
	}
	c.SetCookie(stateCookie, "", -1, "/", "", h.secureCookie, true)

	code := c.Query("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code is required", "code": codeValidationError})
		return
	}

	_, session, err := h.auth.HandleCallback(c.Request.Context(), code)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCode) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid authorization code", "code": codeValidationError})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed", "code": codeInternalError})
		return
	}

	maxAge := 7 * 24 * 60 * 60
	c.SetCookie(middleware.SessionCookie, strconv.FormatInt(session.ID, 10), maxAge, "/", "", h.secureCookie, true)
	c.Redirect(http.StatusTemporaryRedirect, h.dashboardURL)
}

// Logout deletes the session and clears the cookie.
func (h *AuthHandler) Logout(c *gin.Context) {
	if cookie, err := c.Cookie(middleware.SessionCookie); err == nil {
		if sessionID, err := strconv.ParseInt(cookie, 10, 64); err == nil {
			_ = h.auth.Logout(c.Request.Context(), sessionID)
		}
	}
	c.SetCookie(middleware.SessionCookie, "", -1, "/", "", h.secureCookie, true)
	c.Status(http.StatusNoContent)
}

// Me returns the authenticated user.
func (h *AuthHandler) Me(c *gin.Context) {
	user := middleware.CurrentUser(c)
	c.JSON(http.StatusOK, gin.H{
		"id":        strconv.FormatInt(user.ID, 10),
		"name":      user.Name,
		"email":     user.Email,
		"avatarUrl": user.AvatarURL,
	})
}

func randomState() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
