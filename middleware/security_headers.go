package middleware

import (
	"github.com/NomadCrew/chatpulse-backend/config"
	"github.com/gin-gonic/gin"
)

// SecurityHeadersMiddleware sets browser hardening headers. HSTS is only
// sent in production so local http setups keep working.
func SecurityHeadersMiddleware(cfg *config.ServerConfig) gin.HandlerFunc {
	hsts := cfg.Environment == config.EnvProduction
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		if hsts {
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}
