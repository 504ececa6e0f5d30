// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

package auth

import "context"

// Notifier delivers a password reset link to an email address. Rendering
// and transport are the implementation's concern, as is any retrying;
// the reset flow sends once and reports the outcome.
type Notifier interface {
	SendPasswordReset(ctx context.Context, email, resetURL string) error
}
