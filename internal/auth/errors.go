// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

package auth

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a uniqueness constraint (email or
// provider/subject pair) would be violated.
var ErrConflict = errors.New("already exists")

// Error codes attached to oops errors across the package. The HTTP layer
// maps codes to status classes; messages carried alongside these codes are
// stable and safe to show to clients.
const (
	CodeValidation         = "AUTH_VALIDATION_FAILED"
	CodeConflict           = "AUTH_CONFLICT"
	CodeInvalidCredentials = "AUTH_INVALID_CREDENTIALS"
	CodeResetTokenInvalid  = "RESET_TOKEN_INVALID"
	CodeSessionInvalid     = "SESSION_TOKEN_INVALID"
	CodeDependencyFailed   = "AUTH_DEPENDENCY_FAILED"
	CodeInternal           = "AUTH_INTERNAL"
)
