// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

package httpapi

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"

	"github.com/keyfold/keyfold/internal/auth"
	"github.com/keyfold/keyfold/internal/observability"
)

// sessionAccountKey is the gin context key requireSession stores the
// verified account ID under.
const sessionAccountKey = "keyfold.accountID"

// requestLogger logs one line per request after the handler runs.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

// requestMetrics counts requests by route template and status.
func requestMetrics(metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.RequestsTotal.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
	}
}

// requireSession verifies the Bearer token and stores the account ID for
// downstream handlers. All failure modes produce the same 401 body.
func requireSession(issuer *auth.TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session token is invalid"})
			return
		}

		accountID, err := issuer.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session token is invalid"})
			return
		}

		c.Set(sessionAccountKey, accountID)
		c.Next()
	}
}

// sessionAccountID returns the account ID stored by requireSession. Only
// valid on routes behind that middleware.
func sessionAccountID(c *gin.Context) ulid.ULID {
	id, _ := c.Get(sessionAccountKey)
	accountID, _ := id.(ulid.ULID)
	return accountID
}
