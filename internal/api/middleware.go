// Package api exposes a small Gin admin surface over a node's health and
// metrics — the teacher's public KV/cluster HTTP API narrowed down to the
// operator-facing surface MerkleKV still needs once reads/writes move to
// the pub/sub Command Processor (spec §4.8) instead of HTTP.
package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Logger is a Gin middleware that logs every request as structured fields,
// replacing the teacher's bare log.Printf equivalent.
func Logger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("client_ip", c.ClientIP()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("admin: request")
	}
}

// Recovery takes the place of Gin's default recovery middleware: it recovers
// panics itself, logs them via zerolog instead of the standard logger, and
// answers 500.
func Recovery(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Error().Interface("panic", err).Msg("admin: recovered panic")
				c.AbortWithStatusJSON(500, gin.H{"error": "internal server error"})
			}
		}()
		c.Next()
	}
}
