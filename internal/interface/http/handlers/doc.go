// Package handlers holds the building blocks of the status and control API:
// the health checker and the gin middleware (request IDs, access logging,
// panic recovery, API key auth and per-client rate limiting).
package handlers
