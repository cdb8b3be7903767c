package server

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	billingdomain "github.com/smallbiznis/washline/internal/billing/domain"
	"github.com/smallbiznis/washline/internal/config"
	"github.com/smallbiznis/washline/internal/gateway"
	orderdomain "github.com/smallbiznis/washline/internal/order/domain"
	plandomain "github.com/smallbiznis/washline/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/washline/internal/subscription/domain"
	zonedomain "github.com/smallbiznis/washline/internal/zone/domain"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestMapError(t *testing.T) {
	cases := []struct {
		err    error
		status int
		typ    string
	}{
		{invalidRequestError(), http.StatusBadRequest, "validation_error"},
		{orderdomain.ErrWeightRequired, http.StatusBadRequest, "validation_error"},
		{fmt.Errorf("%w: pickup_shift", subscriptiondomain.ErrInvalidSubscription), http.StatusBadRequest, "validation_error"},
		{ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
		{ErrForbidden, http.StatusForbidden, "forbidden"},
		{billingdomain.ErrPaymentForbidden, http.StatusForbidden, "forbidden"},
		{gateway.ErrInvalidSignature, http.StatusForbidden, "forbidden"},
		{orderdomain.ErrStatusNotAllowed, http.StatusForbidden, "forbidden"},
		{plandomain.ErrPlanNotFound, http.StatusNotFound, "not_found"},
		{orderdomain.ErrOrderNotFound, http.StatusNotFound, "not_found"},
		{subscriptiondomain.ErrAlreadySubscribed, http.StatusConflict, "conflict"},
		{subscriptiondomain.ErrSkipTooLate, http.StatusConflict, "conflict"},
		{fmt.Errorf("scheduled -> washing: %w", orderdomain.ErrInvalidTransition), http.StatusConflict, "conflict"},
		{billingdomain.ErrPaymentNotPending, http.StatusConflict, "conflict"},
		{zonedomain.ErrNotResolvable, http.StatusUnprocessableEntity, "not_serviceable"},
		{fmt.Errorf("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range cases {
		status, payload := mapError(tc.err)
		assert.Equal(t, tc.status, status, "error %v", tc.err)
		assert.Equal(t, tc.typ, payload.Type, "error %v", tc.err)
	}
}

func TestErrorHandlingMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(ErrorHandlingMiddleware())
	router.GET("/boom", func(c *gin.Context) {
		AbortWithError(c, subscriptiondomain.ErrAlreadySubscribed)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "conflict")
}

func TestRequireRole(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := &Server{}

	router := gin.New()
	router.Use(ErrorHandlingMiddleware())
	router.GET("/staff-only", s.RequireRole(RoleStaff), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": currentUserID(c).String()})
	})

	do := func(userID, role string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/staff-only", nil)
		if userID != "" {
			req.Header.Set(HeaderUserID, userID)
		}
		if role != "" {
			req.Header.Set(HeaderUserRole, role)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusUnauthorized, do("", RoleStaff).Code)
	assert.Equal(t, http.StatusUnauthorized, do("not-a-number", RoleStaff).Code)
	assert.Equal(t, http.StatusForbidden, do("12345", RoleCustomer).Code)
	assert.Equal(t, http.StatusOK, do("12345", RoleStaff).Code)

	// Admins pass role checks everywhere.
	assert.Equal(t, http.StatusOK, do("12345", RoleAdmin).Code)
}

func TestPayPaymentRejectsBadSignature(t *testing.T) {
	gin.SetMode(gin.TestMode)
	gw := gateway.NewOffline(&config.Config{AppName: "washline", Environment: "test"}, zap.NewNop())
	s := &Server{gateway: gw}

	router := gin.New()
	router.Use(ErrorHandlingMiddleware())
	router.POST("/payments/:id/pay", s.PayPayment)

	// A tampered callback never reaches the billing service.
	body := strings.NewReader(`{"reference":"WL-42","signature":"bogus"}`)
	req := httptest.NewRequest(http.MethodPost, "/payments/42/pay", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "forbidden")
}
