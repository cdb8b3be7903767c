package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	billingdomain "github.com/smallbiznis/washline/internal/billing/domain"
	"github.com/smallbiznis/washline/internal/gateway"
	orderdomain "github.com/smallbiznis/washline/internal/order/domain"
	plandomain "github.com/smallbiznis/washline/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/washline/internal/subscription/domain"
	zonedomain "github.com/smallbiznis/washline/internal/zone/domain"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrInvalidRequest = errors.New("invalid_request")
)

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

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	switch {
	case isValidationError(err):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: err.Error(),
		}
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, billingdomain.ErrPaymentForbidden),
		errors.Is(err, gateway.ErrInvalidSignature),
		errors.Is(err, orderdomain.ErrStatusNotAllowed):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case errors.Is(err, zonedomain.ErrNotResolvable):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "not_serviceable",
			Message: "no branch serves this address",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, plandomain.ErrInvalidPlan) ||
		errors.Is(err, orderdomain.ErrInvalidOrder) ||
		errors.Is(err, orderdomain.ErrWeightRequired) ||
		errors.Is(err, subscriptiondomain.ErrInvalidSubscription) ||
		errors.Is(err, subscriptiondomain.ErrInvalidSkipDate)
}

func isNotFoundError(err error) bool {
	return errors.Is(err, plandomain.ErrPlanNotFound) ||
		errors.Is(err, orderdomain.ErrOrderNotFound) ||
		errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound) ||
		errors.Is(err, billingdomain.ErrPaymentNotFound) ||
		errors.Is(err, zonedomain.ErrStaffNotFound)
}

func isConflictError(err error) bool {
	return errors.Is(err, subscriptiondomain.ErrAlreadySubscribed) ||
		errors.Is(err, subscriptiondomain.ErrDuplicateSkip) ||
		errors.Is(err, subscriptiondomain.ErrSkipTooLate) ||
		errors.Is(err, orderdomain.ErrInvalidTransition) ||
		errors.Is(err, orderdomain.ErrOrderNotEditable) ||
		errors.Is(err, billingdomain.ErrPaymentNotPending)
}
