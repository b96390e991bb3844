// Package users handles registration, login and the caller's own profile.
//
// Registration hashes the password with bcrypt and returns a signed session
// token straight away, so a new account can call authenticated routes without
// a separate login. The role is fixed at registration and defaults to USER.
//
// Login distinguishes an unknown email (404) from a wrong password (401).
// Both outcomes are counted in coursehub_login_attempts_total and written to
// the audit trail.
package users
