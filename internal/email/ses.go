// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

// Package email implements reset-link delivery over AWS SES.
package email

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/keyfold/keyfold/internal/auth"
)

// Retry policy for a single logical send. The reset flow itself never
// retries; transient transport hiccups are this adapter's problem.
const (
	sendAttempts  = 3
	retryBaseWait = 250 * time.Millisecond
)

// sesAPI is the subset of the SES client the sender uses.
type sesAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESSender delivers password reset links via AWS SES.
type SESSender struct {
	client    sesAPI
	fromEmail string
	fromName  string
}

// NewSESSender creates an SES-backed sender using the default AWS
// credential chain for the given region.
func NewSESSender(ctx context.Context, region, fromEmail, fromName string) (*SESSender, error) {
	if fromEmail == "" {
		return nil, oops.Code("EMAIL_CONFIG_INVALID").Errorf("from address is required")
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, oops.Code("EMAIL_CONFIG_INVALID").
			With("operation", "load AWS config").
			Wrap(err)
	}

	return &SESSender{
		client:    ses.NewFromConfig(cfg),
		fromEmail: fromEmail,
		fromName:  fromName,
	}, nil
}

// SendPasswordReset sends the reset link. Transient SES failures are
// retried with fibonacci backoff up to sendAttempts; the caller's context
// still bounds the whole call.
func (s *SESSender) SendPasswordReset(ctx context.Context, email, resetURL string) error {
	from := s.fromEmail
	if s.fromName != "" {
		from = fmt.Sprintf("%s <%s>", s.fromName, s.fromEmail)
	}

	input := &ses.SendEmailInput{
		Source: aws.String(from),
		Destination: &types.Destination{
			ToAddresses: []string{email},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String("Reset your password"),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data:    aws.String(resetBody(resetURL)),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	backoff := retry.WithMaxRetries(sendAttempts-1, retry.NewFibonacci(retryBaseWait))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if _, err := s.client.SendEmail(ctx, input); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return oops.Code("EMAIL_SEND_FAILED").
			With("operation", "ses send").
			Wrap(err)
	}
	return nil
}

func resetBody(resetURL string) string {
	return fmt.Sprintf(`A password reset was requested for your account.

Open the link below to choose a new password. The link expires in 15 minutes.

%s

If you didn't request this, you can safely ignore this message.
`, resetURL)
}

// Compile-time interface check.
var _ auth.Notifier = (*SESSender)(nil)
