// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

package auth_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyfold/keyfold/internal/auth"
)

func TestBcryptHasher_Hash(t *testing.T) {
	hasher := auth.NewBcryptHasher()

	t.Run("produces valid bcrypt hash", func(t *testing.T) {
		hash, err := hasher.Hash("Sup3rSecret!")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(hash, "$2"))
	})

	t.Run("same password produces different hashes (salt)", func(t *testing.T) {
		hash1, err := hasher.Hash("Sup3rSecret!")
		require.NoError(t, err)
		hash2, err := hasher.Hash("Sup3rSecret!")
		require.NoError(t, err)
		assert.NotEqual(t, hash1, hash2)
	})

	t.Run("rejects empty password", func(t *testing.T) {
		_, err := hasher.Hash("")
		assert.Error(t, err)
	})
}

func TestBcryptHasher_Verify(t *testing.T) {
	hasher := auth.NewBcryptHasher()

	t.Run("correct password verifies", func(t *testing.T) {
		hash, err := hasher.Hash("Correct1Pass!")
		require.NoError(t, err)
		assert.True(t, hasher.Verify("Correct1Pass!", hash))
	})

	t.Run("incorrect password fails", func(t *testing.T) {
		hash, err := hasher.Hash("Correct1Pass!")
		require.NoError(t, err)
		assert.False(t, hasher.Verify("Wrong1Pass!", hash))
	})

	t.Run("malformed hash fails without panicking", func(t *testing.T) {
		assert.False(t, hasher.Verify("password", "not-a-valid-hash"))
	})

	t.Run("empty hash fails", func(t *testing.T) {
		assert.False(t, hasher.Verify("password", ""))
	})
}
