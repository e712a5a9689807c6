package server

import (
	"errors"
	"net/http"

	accountdomain "github.com/alicialibros/loyalty/internal/account/domain"
	apikeydomain "github.com/alicialibros/loyalty/internal/apikey/domain"
	auditdomain "github.com/alicialibros/loyalty/internal/audit/domain"
	ledgerdomain "github.com/alicialibros/loyalty/internal/ledger/domain"
	tenantdomain "github.com/alicialibros/loyalty/internal/tenant/domain"
	"github.com/alicialibros/loyalty/pkg/db/pagination"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type errorResponse struct {
	Error string `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
	ErrMisconfigured      = errors.New("server_misconfigured")
)

type errorMapping struct {
	status  int
	message string
}

// validationErrors are rejected before any lookup and map to 400.
var validationErrors = map[error]string{
	ErrInvalidRequest:                      "Invalid request body.",
	ledgerdomain.ErrMissingFields:          "Missing required fields: userId, purchaseAmount and apiKey are required.",
	ledgerdomain.ErrInvalidUserID:          "userId is invalid.",
	ledgerdomain.ErrInvalidPurchaseAmount:  "purchaseAmount must be a finite, non-negative number.",
	ledgerdomain.ErrPurchaseAmountTooLarge: "purchaseAmount exceeds the allowed maximum.",
	ledgerdomain.ErrInvalidPageToken:       "page_token is invalid.",
	accountdomain.ErrInvalidUserID:         "user_id is invalid.",
	tenantdomain.ErrInvalidName:            "name is required.",
	tenantdomain.ErrInvalidID:              "tenant id is invalid.",
	apikeydomain.ErrInvalidTenant:          "tenant id is invalid.",
	apikeydomain.ErrInvalidKeyID:           "key id is invalid.",
	auditdomain.ErrInvalidPageToken:        "page_token is invalid.",
	auditdomain.ErrInvalidTimeRange:        "start_at must be before end_at.",
	auditdomain.ErrInvalidAction:           "action is invalid.",
	pagination.ErrInvalidPageToken:         "page_token is invalid.",
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, message := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: message})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, string) {
	if err == nil {
		return http.StatusInternalServerError, "Internal server error."
	}

	for target, message := range validationErrors {
		if errors.Is(err, target) {
			return http.StatusBadRequest, message
		}
	}

	m := classify(err)
	return m.status, m.message
}

func classify(err error) errorMapping {
	switch {
	case errors.Is(err, ledgerdomain.ErrInvalidAPIKey),
		errors.Is(err, apikeydomain.ErrInvalidCredential):
		return errorMapping{http.StatusForbidden, "Invalid or inactive API key."}
	case errors.Is(err, ErrForbidden):
		return errorMapping{http.StatusForbidden, "Forbidden."}
	case errors.Is(err, ErrUnauthorized):
		return errorMapping{http.StatusUnauthorized, "Unauthorized."}
	// A grant against a missing account is a server-side data problem, not a
	// lookup by the caller.
	case errors.Is(err, ledgerdomain.ErrAccountNotFound):
		return errorMapping{http.StatusInternalServerError, "Account not found."}
	case errors.Is(err, ledgerdomain.ErrWriteConflict):
		return errorMapping{http.StatusInternalServerError, "Failed to grant points. Transaction aborted."}
	case errors.Is(err, ErrMisconfigured):
		return errorMapping{http.StatusInternalServerError, "Server misconfiguration."}
	case errors.Is(err, ErrConflict),
		errors.Is(err, accountdomain.ErrConflict):
		return errorMapping{http.StatusConflict, "Resource already exists."}
	case isNotFoundError(err):
		return errorMapping{http.StatusNotFound, "Not found."}
	case errors.Is(err, ErrRateLimited):
		return errorMapping{http.StatusTooManyRequests, "Too many requests."}
	case errors.Is(err, ErrServiceUnavailable):
		return errorMapping{http.StatusServiceUnavailable, "Service unavailable."}
	default:
		return errorMapping{http.StatusInternalServerError, "Internal server error."}
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, accountdomain.ErrNotFound),
		errors.Is(err, tenantdomain.ErrNotFound),
		errors.Is(err, apikeydomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

// classifyErrorForLog returns the error_type written on the request log line.
func classifyErrorForLog(err error) string {
	status, _ := mapError(err)
	switch status {
	case http.StatusBadRequest:
		return "validation_error"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusServiceUnavailable:
		return "service_unavailable"
	}
	if errors.Is(err, ledgerdomain.ErrAccountNotFound) {
		return "account_not_found"
	}
	return "internal_error"
}
