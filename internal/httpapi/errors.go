// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/keyfold/keyfold/internal/auth"
	"github.com/keyfold/keyfold/internal/oauth"
	"github.com/keyfold/keyfold/pkg/errutil"
)

// genericServerError is the only message a client sees for 5xx responses.
// Internal error text never crosses the wire; it goes to the log with full
// oops context instead.
const genericServerError = "service temporarily unavailable"

// statusFor maps an error to its HTTP status by oops code.
func statusFor(err error) int {
	switch errutil.Code(err) {
	case auth.CodeValidation, auth.CodeResetTokenInvalid:
		return http.StatusBadRequest
	case auth.CodeConflict:
		return http.StatusConflict
	case auth.CodeInvalidCredentials, auth.CodeSessionInvalid:
		return http.StatusUnauthorized
	case auth.CodeDependencyFailed, oauth.CodeUserInfoFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes the error response. 4xx messages come from the error
// itself (they are written to be stable and non-leaking); 5xx responses get
// the generic message and a full log line.
func respondError(c *gin.Context, logger *slog.Logger, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		errutil.LogError(logger, "request failed", err)
		c.JSON(status, gin.H{"error": genericServerError})
		return
	}
	c.JSON(status, gin.H{"error": clientMessage(err)})
}

// clientMessage returns the stable client-facing message for a 4xx error.
func clientMessage(err error) string {
	return err.Error()
}
