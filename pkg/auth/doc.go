// Package auth provides credential handling for the course marketplace.
//
// # Overview
//
// Users authenticate with email and password. A successful login or registration
// issues a signed JWT carrying the user id and role. Every protected request
// presents that token as a bearer credential; middleware.AuthMiddleware verifies
// it through TokenManager.Verify and places the resulting Subject in the request
// context.
//
// # Tokens
//
//	tm := auth.NewTokenManager(auth.TokenConfig{
//		Secret: []byte(cfg.Auth.JWTSecret),
//		Issuer: "coursehub",
//		TTL:    time.Hour,
//	})
//	token, expiresAt, err := tm.Issue(user.ID, user.Role)
//	subject, err := tm.Verify(token)
//
// Only HMAC-signed tokens are accepted. Expired, malformed or foreign-signed
// tokens fail with a domain.KindUnauthorized error.
//
// # Passwords
//
// HashPassword and CheckPassword wrap bcrypt. Hashes are never serialized; the
// domain.User field carries a `json:"-"` tag.
package auth
