package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/washline/internal/clock"
	orderdomain "github.com/smallbiznis/washline/internal/order/domain"
)

func (s *Server) CreateDemandOrder(c *gin.Context) {
	var req orderdomain.CreateDemandOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	order, err := s.orderSvc.CreateDemandOrder(c.Request.Context(), currentUserID(c), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": order})
}

func (s *Server) ListMyOrders(c *gin.Context) {
	filter, err := orderFilterFromQuery(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	orders, err := s.orderSvc.ListCustomerOrders(c.Request.Context(), currentUserID(c), filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": orders})
}

func (s *Server) GetMyOrder(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	order, err := s.orderSvc.GetOrder(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if order.CustomerID != currentUserID(c) {
		AbortWithError(c, orderdomain.ErrOrderNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": order})
}

func (s *Server) UpdateDemandOrder(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req orderdomain.UpdateDemandOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	order, err := s.orderSvc.UpdateDemandOrder(c.Request.Context(), currentUserID(c), id, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": order})
}

func (s *Server) DeleteDemandOrder(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.orderSvc.DeleteDemandOrder(c.Request.Context(), currentUserID(c), id); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"id": id}})
}

func (s *Server) ListStaffOrders(c *gin.Context) {
	filter, err := orderFilterFromQuery(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	orders, err := s.orderSvc.ListStaffOrders(c.Request.Context(), currentUserID(c), filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": orders})
}

// StaffUpdateOrderStatus restricts staff to the pickup, drop-off and
// delivery transitions; branch processing states belong to admins.
func (s *Server) StaffUpdateOrderStatus(c *gin.Context) {
	s.updateOrderStatus(c, orderdomain.StaffStatuses)
}

func (s *Server) AdminUpdateOrderStatus(c *gin.Context) {
	s.updateOrderStatus(c, nil)
}

func (s *Server) updateOrderStatus(c *gin.Context, allowed []orderdomain.Status) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req orderdomain.TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	order, err := s.orderSvc.Transition(c.Request.Context(), id, currentUserID(c), req, allowed)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": order})
}

func (s *Server) SetAvailability(c *gin.Context) {
	var req struct {
		Available *bool `json:"available"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Available == nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	staff, err := s.resolver.StaffByUserID(c.Request.Context(), currentUserID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.resolver.SetStaffAvailability(c.Request.Context(), staff.ID, *req.Available); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"available": *req.Available}})
}

func (s *Server) ListBranchesForPincode(c *gin.Context) {
	pincode := strings.TrimSpace(c.Query("pincode"))
	if pincode == "" {
		AbortWithError(c, newValidationError("pincode", "required", "pincode is required"))
		return
	}

	branches, err := s.resolver.BranchesForPincode(c.Request.Context(), pincode)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": branches})
}

func orderFilterFromQuery(c *gin.Context) (orderdomain.ListOrdersFilter, error) {
	filter := orderdomain.ListOrdersFilter{
		Status:    orderdomain.Status(strings.TrimSpace(c.Query("status"))),
		OrderType: orderdomain.OrderType(strings.TrimSpace(c.Query("type"))),
	}
	if raw := strings.TrimSpace(c.Query("pickup_date")); raw != "" {
		date, err := clock.ParseDay(raw)
		if err != nil {
			return filter, newValidationError("pickup_date", "invalid_date", "invalid pickup_date")
		}
		filter.PickupDate = &date
	}
	return filter, nil
}
