package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GET /api/v1/system/status
func (s *Server) getSystemStatus(c *gin.Context) {
	if s.lm == nil {
		c.JSON(http.StatusOK, gin.H{"state": "UNKNOWN"})
		return
	}
	c.JSON(http.StatusOK, s.lm.GetCurrentStatus(c.Request.Context()))
}
