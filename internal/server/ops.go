package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/washline/internal/clock"
	"github.com/smallbiznis/washline/internal/generator"
)

// OpsEnsureOrders runs order generation on demand for a single date or a
// window of days ahead. The scheduler does this on a timer; this endpoint
// exists for backfills and incident recovery.
func (s *Server) OpsEnsureOrders(c *gin.Context) {
	var req struct {
		Date      string `json:"date"`
		DaysAhead int    `json:"days_ahead"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.DaysAhead < 0 {
		AbortWithError(c, newValidationError("days_ahead", "invalid_days_ahead", "days_ahead must not be negative"))
		return
	}

	start := clock.Day(s.clock.Now())
	if strings.TrimSpace(req.Date) != "" {
		parsed, err := clock.ParseDay(req.Date)
		if err != nil {
			AbortWithError(c, newValidationError("date", "invalid_date", "invalid date"))
			return
		}
		start = parsed
	}

	var total generator.Result
	results := make([]gin.H, 0, req.DaysAhead+1)
	for offset := 0; offset <= req.DaysAhead; offset++ {
		date := start.AddDate(0, 0, offset)
		result, err := s.generatorSvc.EnsureOrdersForAll(c.Request.Context(), date)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		total.Add(result)
		results = append(results, gin.H{"date": date.Format("2006-01-02"), "result": result})
	}
	c.JSON(http.StatusOK, gin.H{"data": results, "total": total})
}

func (s *Server) OpsRenewalPayments(c *gin.Context) {
	created, err := s.paymentsSvc.EnsureRenewalPayments(c.Request.Context(), s.clock.Now())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"created": created}})
}

func (s *Server) OpsFineSweep(c *gin.Context) {
	result, err := s.finesSvc.EnsureFinesForAllOverdue(c.Request.Context(), s.clock.Now())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": result})
}
