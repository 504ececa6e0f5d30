// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

package auth_test

import (
	"context"
	"sync"
)

// fakeHasher is a fast stand-in for bcrypt in service tests.
type fakeHasher struct{}

func (fakeHasher) Hash(password string) (string, error) {
	return "hashed:" + password, nil
}

func (fakeHasher) Verify(password, hash string) bool {
	return hash == "hashed:"+password
}

// fakeNotifier records deliveries and optionally fails them.
type fakeNotifier struct {
	mu    sync.Mutex
	sends []sentReset
	err   error
}

type sentReset struct {
	email    string
	resetURL string
}

func (n *fakeNotifier) SendPasswordReset(_ context.Context, email, resetURL string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sends = append(n.sends, sentReset{email: email, resetURL: resetURL})
	return nil
}

func (n *fakeNotifier) sent() []sentReset {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentReset(nil), n.sends...)
}

const testSigningKey = "0123456789abcdef0123456789abcdef"
