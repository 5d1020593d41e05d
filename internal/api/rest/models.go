package rest

import (
	"net/http"

	"github.com/KevinKickass/OpenFacilityCore/internal/types"
	"github.com/gin-gonic/gin"
)

// GET /api/v1/models
func (s *Server) listModels(c *gin.Context) {
	models := make([]*types.HardwareModel, 0)
	if s.models != nil {
		models = s.models.List()
	}

	c.JSON(http.StatusOK, gin.H{
		"models": models,
		"count":  len(models),
	})
}

// GET /api/v1/models/:model
func (s *Server) getModel(c *gin.Context) {
	id := c.Param("model")
	if s.models == nil {
		s.respondError(c, "MODEL", types.NotFound("hardware model %s not found", id))
		return
	}

	model, ok := s.models.Get(id)
	if !ok {
		s.respondError(c, "MODEL", types.NotFound("hardware model %s not found", id))
		return
	}

	c.JSON(http.StatusOK, model)
}
