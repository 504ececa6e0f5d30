// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

// Package httpapi exposes the credential lifecycle over HTTP.
package httpapi

import (
	"log/slog"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/samber/oops"

	"github.com/keyfold/keyfold/internal/auth"
	"github.com/keyfold/keyfold/internal/oauth"
	"github.com/keyfold/keyfold/internal/observability"
)

// Deps carries the collaborators the HTTP layer orchestrates.
type Deps struct {
	Auth      *auth.Service
	Reset     *auth.ResetService
	Linker    *auth.IdentityLinker
	Issuer    *auth.TokenIssuer
	Accounts  auth.AccountRepository
	Providers *oauth.Registry
	Metrics   *observability.Metrics
	Logger    *slog.Logger

	// AllowedOrigins configures CORS; empty disables cross-origin access.
	AllowedOrigins []string
}

func (d *Deps) validate() error {
	if d.Auth == nil {
		return oops.Code(auth.CodeInternal).Errorf("auth service is required")
	}
	if d.Reset == nil {
		return oops.Code(auth.CodeInternal).Errorf("reset service is required")
	}
	if d.Linker == nil {
		return oops.Code(auth.CodeInternal).Errorf("identity linker is required")
	}
	if d.Issuer == nil {
		return oops.Code(auth.CodeInternal).Errorf("token issuer is required")
	}
	if d.Accounts == nil {
		return oops.Code(auth.CodeInternal).Errorf("account repository is required")
	}
	if d.Providers == nil {
		return oops.Code(auth.CodeInternal).Errorf("oauth registry is required")
	}
	return nil
}

// NewRouter builds the gin engine with all auth routes mounted.
func NewRouter(deps Deps) (*gin.Engine, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(deps.Logger))
	if deps.Metrics != nil {
		router.Use(requestMetrics(deps.Metrics))
	}

	if len(deps.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     deps.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	h := &handlers{deps: deps}

	grp := router.Group("/auth")
	{
		grp.POST("/register", h.register)
		grp.POST("/login", h.login)
		grp.GET("/oauth/:provider", h.oauthRedirect)
		grp.GET("/oauth/:provider/callback", h.oauthCallback)
		grp.POST("/forgot-password", h.forgotPassword)
		grp.POST("/reset-password/:token", h.resetPassword)
		grp.GET("/me", requireSession(deps.Issuer), h.me)
	}

	return router, nil
}
