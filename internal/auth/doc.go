// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package auth provides credential and session lifecycle primitives for passport.
//
// # Domain Types
//
// A User is created with NewUser, which validates the email and requires a
// non-empty password hash. Hidden fields (the password hash and the pending
// password reset) are only populated by a UserRepository when the caller asks
// for them with a Field projection.
//
// # Services
//
// Service types coordinate domain operations:
//   - Authenticator - registration and email/password authentication
//   - TokenService - signed session tokens (HS256 JWT, 24 hour lifetime)
//   - PasswordResetService - forgot-password / reset-password flow
//
// Services are created with New* constructors that validate dependencies.
// None of them hold mutable state; all coordination goes through the
// persisted User record.
package auth
