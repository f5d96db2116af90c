package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/anirudhsonawane/ticket-reservation/internal/domain"
	"github.com/anirudhsonawane/ticket-reservation/pkg/logger"
	"github.com/anirudhsonawane/ticket-reservation/pkg/middleware"
	"github.com/anirudhsonawane/ticket-reservation/pkg/response"
)

// statusFor maps an error kind to its HTTP status
func statusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindCapacityExceeded, domain.KindAlreadyQueued, domain.KindAlreadyRejected, domain.KindAlreadyUsed:
		return http.StatusConflict
	case domain.KindPaymentNotVerified:
		return http.StatusPaymentRequired
	case domain.KindVerificationPending:
		return http.StatusAccepted
	case domain.KindConcurrencyConflict:
		return http.StatusServiceUnavailable
	case domain.KindInvalid:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// handleError writes err in the response envelope. Domain errors keep their
// capacity key and claim reference in details.
func handleError(c *gin.Context, err error) {
	kind := domain.KindOf(err)
	if kind == domain.KindInternal {
		logger.Get().ErrorContext(c.Request.Context(), "Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		response.InternalError(c, err)
		return
	}
	response.Error(c, statusFor(kind), string(kind), err.Error(), detailsOf(err))
}

func detailsOf(err error) map[string]string {
	var re *domain.ReservationError
	if !errors.As(err, &re) {
		return nil
	}
	details := make(map[string]string)
	if re.CapacityKey != "" {
		details["capacity_key"] = re.CapacityKey
	}
	if re.ClaimReference != "" {
		details["claim_reference"] = re.ClaimReference
	}
	if len(details) == 0 {
		return nil
	}
	return details
}

func bindError(c *gin.Context, err error) {
	response.Error(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
}

func requireUser(c *gin.Context) (string, bool) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.Unauthorized(c, "X-User-ID header is required")
		return "", false
	}
	return userID, true
}
