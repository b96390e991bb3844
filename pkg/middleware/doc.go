// Package middleware provides the HTTP middleware for bearer authentication
// and rate limiting.
//
// AuthMiddleware is the only place that reads the Authorization header. It
// verifies the token and stores the resulting auth.Subject in the request
// context; handlers read it back with auth.RequireSubject or GetSubject.
//
//	router.Use(middleware.NewAuthMiddleware(tokens, false).Handler)
//
// RateLimitMiddleware keys requests by client IP and accepts any Limiter:
// RateLimiter is an in-process token bucket, DistributedRateLimiter a Redis
// counter shared by every instance.
//
//	limiter := middleware.NewDistributedRateLimiter(redisClient, cfg, "ratelimit:auth")
//	public.Use(middleware.NewRateLimitMiddleware(limiter, logger).Handler)
package middleware
