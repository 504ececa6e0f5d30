// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

package email

import (
	"context"
	"log/slog"

	"github.com/keyfold/keyfold/internal/auth"
)

// LogSender writes reset links to the log instead of sending mail.
// Dev-mode only; the raw token ends up in the log output.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

// SendPasswordReset logs the reset link.
func (s *LogSender) SendPasswordReset(_ context.Context, email, resetURL string) error {
	s.logger.Info("password reset link (dev mode)",
		"email", email,
		"reset_url", resetURL)
	return nil
}

var _ auth.Notifier = (*LogSender)(nil)
