package server

import (
	"crypto/subtle"
	"strings"

	obscontext "github.com/alicialibros/loyalty/internal/observability/context"
	"github.com/gin-gonic/gin"
)

const adminActorID = "admin-token"

// AdminAuthRequired guards the operator API with the ADMIN_API_TOKEN bearer
// token. The operator API is disabled when no token is configured.
func (s *Server) AdminAuthRequired() gin.HandlerFunc {
	expected := []byte(strings.TrimSpace(s.cfg.AdminAPIToken))

	return func(c *gin.Context) {
		if len(expected) == 0 {
			AbortWithError(c, ErrServiceUnavailable)
			return
		}

		clientIP := c.ClientIP()
		if s.failedAuthLimiter.Exceeded(clientIP) {
			s.obsMetrics.RecordRateLimitDenied(c.Request.Context(), "/admin", rateLimitReasonFailedAuth)
			AbortWithError(c, ErrRateLimited)
			return
		}

		parts := strings.Fields(strings.TrimSpace(c.GetHeader("Authorization")))
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") ||
			subtle.ConstantTimeCompare([]byte(parts[1]), expected) != 1 {
			s.failedAuthLimiter.Hit(clientIP)
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := obscontext.WithActor(c.Request.Context(), obscontext.ActorAdmin, adminActorID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
