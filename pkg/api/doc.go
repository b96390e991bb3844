// Package api assembles the HTTP surface of the course marketplace.
//
// NewServer wires the domain handlers onto a single gorilla/mux router
// split into three groups:
//
//   - credential endpoints (POST /cadastro, POST /login), optionally rate limited
//   - public file downloads under /files/
//   - everything else, behind bearer token authentication
//
// Request ids, panic recovery, access logging and CORS wrap the whole
// router. Prometheus HTTP metrics are recorded per matched route.
//
// Health and metrics endpoints are served separately by the binary.
package api
