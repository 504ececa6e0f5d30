// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

package auth_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyfold/keyfold/internal/auth"
	"github.com/keyfold/keyfold/pkg/errutil"
)

func TestNormalizeEmail(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "lowercases", input: "User@Example.COM", want: "user@example.com"},
		{name: "trims whitespace", input: "  user@example.com  ", want: "user@example.com"},
		{name: "already normalized", input: "user@example.com", want: "user@example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, auth.NormalizeEmail(tt.input))
		})
	}
}

func TestValidateEmail(t *testing.T) {
	tests := []struct {
		name    string
		email   string
		wantErr bool
	}{
		{name: "valid address", email: "user@example.com"},
		{name: "valid with subdomain", email: "user@mail.example.co.uk"},
		{name: "valid with plus", email: "user+tag@example.com"},
		{name: "empty", email: "", wantErr: true},
		{name: "missing at", email: "userexample.com", wantErr: true},
		{name: "missing domain dot", email: "user@example", wantErr: true},
		{name: "contains space", email: "us er@example.com", wantErr: true},
		{name: "double at", email: "user@@example.com", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := auth.ValidateEmail(tt.email)
			if tt.wantErr {
				require.Error(t, err)
				errutil.AssertErrorCode(t, err, auth.CodeValidation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  string
	}{
		{name: "valid", password: "Abcdef1!"},
		{name: "valid at max length", password: "Abcdefghijklmno123!!"},
		{name: "empty", password: "", wantErr: "password is required"},
		{name: "too short", password: "Ab1!def", wantErr: "at least 8"},
		{name: "too long", password: "Abcdefghijklmno123!!x", wantErr: "at most 20"},
		{name: "no uppercase", password: "abcdef1!", wantErr: "must contain"},
		{name: "no lowercase", password: "ABCDEF1!", wantErr: "must contain"},
		{name: "no digit", password: "Abcdefg!", wantErr: "must contain"},
		{name: "no symbol", password: "Abcdefg1", wantErr: "must contain"},
		{name: "contains space", password: "Abcd ef1!", wantErr: "whitespace"},
		{name: "contains tab", password: "Abcd\tef1!", wantErr: "whitespace"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := auth.ValidatePassword(tt.password)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			errutil.AssertErrorCode(t, err, auth.CodeValidation)
		})
	}
}

func TestNewPasswordAccount(t *testing.T) {
	t.Run("creates account with normalized email", func(t *testing.T) {
		account, err := auth.NewPasswordAccount("User@Example.COM", "somehash", "User")
		require.NoError(t, err)
		require.NotNil(t, account.Email)
		assert.Equal(t, "user@example.com", *account.Email)
		assert.True(t, account.HasPassword())
		assert.NotZero(t, account.ID)
		assert.False(t, account.CreatedAt.IsZero())
	})

	t.Run("rejects invalid email", func(t *testing.T) {
		_, err := auth.NewPasswordAccount("not-an-email", "somehash", "")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeValidation)
	})

	t.Run("rejects empty hash", func(t *testing.T) {
		_, err := auth.NewPasswordAccount("user@example.com", "", "")
		assert.Error(t, err)
	})
}

func TestNewExternalAccount(t *testing.T) {
	identity := auth.ExternalIdentity{Provider: "google", SubjectID: "sub-1"}

	t.Run("creates account without password", func(t *testing.T) {
		account, err := auth.NewExternalAccount(identity, auth.Profile{
			Email:       "User@Example.com",
			DisplayName: "User",
			AvatarURL:   "https://example.com/a.png",
		})
		require.NoError(t, err)
		assert.False(t, account.HasPassword())
		assert.True(t, account.HasIdentity("google", "sub-1"))
		require.NotNil(t, account.Email)
		assert.Equal(t, "user@example.com", *account.Email)
		assert.NoError(t, account.Validate())
	})

	t.Run("profile email may be absent", func(t *testing.T) {
		account, err := auth.NewExternalAccount(identity, auth.Profile{DisplayName: "User"})
		require.NoError(t, err)
		assert.Nil(t, account.Email)
		assert.NoError(t, account.Validate())
	})

	t.Run("rejects incomplete identity", func(t *testing.T) {
		_, err := auth.NewExternalAccount(auth.ExternalIdentity{Provider: "google"}, auth.Profile{})
		assert.Error(t, err)
	})
}

func TestAccount_Validate(t *testing.T) {
	t.Run("rejects account with no credential", func(t *testing.T) {
		account := &auth.Account{}
		assert.Error(t, account.Validate())
	})

	t.Run("accepts password credential", func(t *testing.T) {
		hash := "somehash"
		account := &auth.Account{PasswordHash: &hash}
		assert.NoError(t, account.Validate())
	})

	t.Run("accepts external identity credential", func(t *testing.T) {
		account := &auth.Account{
			Identities: []auth.ExternalIdentity{{Provider: "github", SubjectID: "1"}},
		}
		assert.NoError(t, account.Validate())
	})
}
