// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/keyfold/keyfold/internal/auth"
	"github.com/keyfold/keyfold/internal/oauth"
	"github.com/keyfold/keyfold/pkg/errutil"
)

// forgotPasswordAck is the body returned for every forgot-password request
// that reaches token issuance or finds no account. Byte-identical in both
// cases; the endpoint must not confirm whether an email is registered.
const forgotPasswordAck = "if that email is registered, a reset link has been sent"

// oauthStateCookie carries the CSRF state between redirect and callback.
const (
	oauthStateCookie = "keyfold_oauth_state"
	oauthStateMaxAge = 10 * time.Minute
)

type handlers struct {
	deps Deps
}

type registerRequest struct {
	Email       string `json:"email" binding:"required"`
	Password    string `json:"password" binding:"required"`
	DisplayName string `json:"displayName"`
}

func (h *handlers) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password are required"})
		return
	}

	account, err := h.deps.Auth.Register(c.Request.Context(), req.Email, req.Password, req.DisplayName)
	if err != nil {
		respondError(c, h.deps.Logger, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"accountId": account.ID.String()})
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *handlers) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password are required"})
		return
	}

	session, err := h.deps.Auth.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if h.deps.Metrics != nil {
			h.deps.Metrics.LoginsTotal.WithLabelValues("failure").Inc()
		}
		respondError(c, h.deps.Logger, err)
		return
	}

	if h.deps.Metrics != nil {
		h.deps.Metrics.LoginsTotal.WithLabelValues("success").Inc()
	}
	c.JSON(http.StatusOK, gin.H{
		"token":     session.Token,
		"expiresAt": session.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

func (h *handlers) oauthRedirect(c *gin.Context) {
	provider, err := h.deps.Providers.Get(c.Param("provider"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown oauth provider"})
		return
	}

	state, err := oauth.GenerateState()
	if err != nil {
		respondError(c, h.deps.Logger, err)
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(oauthStateCookie, state, int(oauthStateMaxAge.Seconds()), "/auth/oauth", "", false, true)
	c.Redirect(http.StatusTemporaryRedirect, provider.AuthCodeURL(state))
}

func (h *handlers) oauthCallback(c *gin.Context) {
	provider, err := h.deps.Providers.Get(c.Param("provider"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown oauth provider"})
		return
	}

	// Provider denial or user cancellation arrives as an error parameter.
	if c.Query("error") != "" || c.Query("code") == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication was denied"})
		return
	}

	state := c.Query("state")
	cookieState, cookieErr := c.Cookie(oauthStateCookie)
	if state == "" || cookieErr != nil || state != cookieState {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication was denied"})
		return
	}
	c.SetCookie(oauthStateCookie, "", -1, "/auth/oauth", "", false, true)

	subjectID, profile, err := h.deps.Providers.ResolveIdentity(c.Request.Context(), provider, c.Query("code"))
	if err != nil {
		// A rejected or replayed code is an authentication failure, not
		// a server fault.
		if errutil.Code(err) == oauth.CodeExchangeFailed {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication was denied"})
			return
		}
		respondError(c, h.deps.Logger, err)
		return
	}

	account, err := h.deps.Linker.ResolveOrCreate(c.Request.Context(), provider.Name(), subjectID, profile)
	if err != nil {
		respondError(c, h.deps.Logger, err)
		return
	}

	token, expiresAt, err := h.deps.Issuer.Issue(account.ID)
	if err != nil {
		respondError(c, h.deps.Logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":     token,
		"expiresAt": expiresAt.UTC().Format(time.RFC3339),
	})
}

type forgotPasswordRequest struct {
	Email string `json:"email" binding:"required"`
}

func (h *handlers) forgotPassword(c *gin.Context) {
	var req forgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email is required"})
		return
	}

	if err := h.deps.Reset.InitiateReset(c.Request.Context(), req.Email); err != nil {
		// Token issuance already happened for dependency failures; the
		// caller needs to know delivery did not.
		respondError(c, h.deps.Logger, err)
		return
	}

	if h.deps.Metrics != nil {
		h.deps.Metrics.ResetRequestsTotal.Inc()
	}
	c.JSON(http.StatusOK, gin.H{"message": forgotPasswordAck})
}

type resetPasswordRequest struct {
	NewPassword string `json:"newPassword" binding:"required"`
}

func (h *handlers) resetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "newPassword is required"})
		return
	}

	if err := h.deps.Reset.CompleteReset(c.Request.Context(), c.Param("token"), req.NewPassword); err != nil {
		respondError(c, h.deps.Logger, err)
		return
	}

	if h.deps.Metrics != nil {
		h.deps.Metrics.ResetsCompletedTotal.Inc()
	}
	c.JSON(http.StatusOK, gin.H{"message": "password has been reset"})
}

func (h *handlers) me(c *gin.Context) {
	accountID := sessionAccountID(c)

	account, err := h.deps.Accounts.GetByID(c.Request.Context(), accountID)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "session token is invalid"})
			return
		}
		respondError(c, h.deps.Logger, err)
		return
	}

	resp := gin.H{
		"accountId":   account.ID.String(),
		"displayName": account.DisplayName,
		"avatarUrl":   account.AvatarURL,
		"hasPassword": account.HasPassword(),
	}
	if account.Email != nil {
		resp["email"] = *account.Email
	}
	providers := make([]string, 0, len(account.Identities))
	for _, id := range account.Identities {
		providers = append(providers, id.Provider)
	}
	resp["providers"] = providers

	c.JSON(http.StatusOK, resp)
}
