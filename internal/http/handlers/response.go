// Package handlers provides the HTTP handlers of the public gateway API.
//
// This file defines the shared response helpers. Every error response uses
// the wire envelope {"error": "<message>"} with a stable message; success
// bodies are endpoint-specific JSON. Handlers stay transport-thin: they
// validate input, call the ingest service or repository reader, and
// translate the result.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agrichain/telemetry-gateway/internal/http/middleware"
)

// fail aborts the request with the error envelope. Server-side failures
// (>= 500) are logged with the request-scoped logger.
func fail(c *gin.Context, status int, msg string) {
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("message", msg).
			Msg("api error")
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

// Fail is the exported variant used by router-level fallbacks (404 routes).
func Fail(c *gin.Context, status int, msg string) { fail(c, status, msg) }
