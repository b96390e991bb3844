// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Helpers
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteCreated(w, resource)
//	httputil.WriteBadRequest(w, "name is required")
//
// Domain errors carry their own kind and are mapped to a status in one place:
//
//	if err := engine.GrantModuleAccess(ctx, userID, moduleID); err != nil {
//		httputil.WriteDomainError(w, err)
//		return
//	}
//
// Every error body has the shape {"error": "...", "kind": "..."}.
//
// # Request Parsing
//
//	var req grantRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//
//	courseID, ok := httputil.ParsePathInt64OrError(w, r, "courseId")
//
// # Middleware
//
//	httputil.Chain(
//		httputil.RequestIDMiddleware(logger),
//		httputil.LoggingMiddleware,
//		httputil.RecoveryMiddleware,
//		httputil.MaxBytesMiddleware(50<<20),
//	)
//
// # Related Packages
//
//   - pkg/middleware: authentication and rate limiting
package httputil
