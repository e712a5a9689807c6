package server

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	ledgerdomain "github.com/alicialibros/loyalty/internal/ledger/domain"
	obscontext "github.com/alicialibros/loyalty/internal/observability/context"
	"github.com/alicialibros/loyalty/internal/observability/logger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	grantEndpoint             = "/api/points/grant"
	rateLimitReasonCredential = "credential-rate"
	rateLimitReasonFailedAuth = "failed-auth"
)

type grantPointsRequest struct {
	UserID         string   `json:"userId"`
	PurchaseAmount *float64 `json:"purchaseAmount"`
	APIKey         string   `json:"apiKey"`
}

type grantPointsResponse struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	PointsGranted int64  `json:"pointsGranted"`
}

// GrantPoints is called by bookstore point-of-sale terminals after a purchase.
func (s *Server) GrantPoints(c *gin.Context) {
	if s.ledgerSvc == nil {
		AbortWithError(c, ErrMisconfigured)
		return
	}

	ctx := c.Request.Context()
	clientIP := c.ClientIP()
	if s.failedAuthLimiter.Exceeded(clientIP) {
		s.obsMetrics.RecordRateLimitDenied(ctx, grantEndpoint, rateLimitReasonFailedAuth)
		AbortWithError(c, ErrRateLimited)
		return
	}

	var req grantPointsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	grantReq := ledgerdomain.GrantRequest{
		UserID:         req.UserID,
		PurchaseAmount: req.PurchaseAmount,
		APIKey:         req.APIKey,
	}
	if err := s.ledgerSvc.ValidateGrant(grantReq); err != nil {
		AbortWithError(c, err)
		return
	}

	if s.grantLimiter != nil && s.grantLimiter.Enabled() {
		res, err := s.grantLimiter.AllowGrant(ctx, req.APIKey)
		if err != nil {
			logger.FromContext(ctx).Warn("grant rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !res.Allowed {
			if res.RetryAfter > 0 {
				c.Header("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
			}
			s.obsMetrics.RecordRateLimitDenied(ctx, grantEndpoint, rateLimitReasonCredential)
			AbortWithError(c, ErrRateLimited)
			return
		}
	}

	result, err := s.ledgerSvc.GrantPoints(ctx, grantReq)
	if err != nil {
		if errors.Is(err, ledgerdomain.ErrInvalidAPIKey) {
			s.failedAuthLimiter.Hit(clientIP)
		}
		AbortWithError(c, err)
		return
	}

	tenantID := result.TenantID.String()
	c.Set("tenant_id", tenantID)
	c.Set("points_granted", result.PointsGranted)
	c.Request = c.Request.WithContext(obscontext.WithTenantID(ctx, tenantID))

	c.JSON(http.StatusOK, grantPointsResponse{
		Success:       true,
		Message:       result.Message,
		PointsGranted: result.PointsGranted,
	})
}
