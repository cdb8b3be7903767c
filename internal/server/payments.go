package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	billingdomain "github.com/smallbiznis/washline/internal/billing/domain"
	"github.com/smallbiznis/washline/internal/gateway"
)

func (s *Server) ListMyPayments(c *gin.Context) {
	filter := billingdomain.ListPaymentsFilter{
		Status: billingdomain.PaymentStatus(strings.TrimSpace(c.Query("status"))),
		Type:   billingdomain.PaymentType(strings.TrimSpace(c.Query("type"))),
	}

	payments, err := s.paymentsSvc.ListCustomerPayments(c.Request.Context(), currentUserID(c), filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": payments})
}

func (s *Server) CreateCheckout(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	payment, err := s.paymentsSvc.GetPayment(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if payment.CustomerID != currentUserID(c) {
		AbortWithError(c, billingdomain.ErrPaymentForbidden)
		return
	}
	if payment.PaymentStatus != billingdomain.PaymentStatusPending {
		AbortWithError(c, billingdomain.ErrPaymentNotPending)
		return
	}

	checkout, err := s.gateway.CreateCheckout(c.Request.Context(), payment)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": checkout})
}

func (s *Server) PayPayment(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	// A hosted provider posts back the signed checkout reference; the
	// offline flow sends no body and settles directly.
	var req struct {
		Reference string `json:"reference"`
		Signature string `json:"signature"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}
	if req.Reference != "" || req.Signature != "" {
		if !s.gateway.VerifySignature(req.Reference, req.Signature) {
			AbortWithError(c, gateway.ErrInvalidSignature)
			return
		}
	}

	payment, err := s.paymentsSvc.Pay(c.Request.Context(), currentUserID(c), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": payment})
}
