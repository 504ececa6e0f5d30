// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

// Package auth implements the credential lifecycle for Keyfold.
//
// # Domain Types
//
// Account is the persisted identity record. It may carry a password
// credential, one or more external identities, or both - never neither.
// Accounts should be created through the constructors:
//   - NewPasswordAccount - password registration path
//   - NewExternalAccount - first sighting of a provider/subject pair
//
// Direct struct initialization bypasses validation and may create invalid
// state. Repository implementations receive pre-validated accounts from
// these constructors.
//
// # Services
//
// Service types coordinate domain operations:
//   - Service - registration and login
//   - IdentityLinker - resolve-or-create from an external identity assertion
//   - ResetService - password reset flow (issue token, notify, rotate)
//
// Services are created with New*Service constructors that validate
// dependencies.
//
// # Collaborator Ports
//
// AccountRepository (persistence) and Notifier (reset-link delivery) are
// owned by adapters under internal/auth/postgres, internal/auth/memory,
// and internal/email.
package auth
