package rest

import (
	"net/http"

	"github.com/KevinKickass/OpenFacilityCore/internal/auth"
	"github.com/KevinKickass/OpenFacilityCore/internal/types"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type CreateMachineTokenRequest struct {
	Name        string   `json:"name" binding:"required"`
	Permissions []string `json:"permissions" binding:"dive,oneof=operator technician admin"`
}

type CreateMachineTokenResponse struct {
	Token       string    `json:"token"` // Only returned once!
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Permissions []string  `json:"permissions"`
}

// POST /api/v1/machine-tokens
func (s *Server) createMachineToken(c *gin.Context) {
	var req CreateMachineTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondBindError(c, "TOKEN", err)
		return
	}

	var createdBy *uuid.UUID
	if principal, ok := auth.PrincipalFrom(c); ok && principal.UserID != uuid.Nil {
		id := principal.UserID
		createdBy = &id
	}

	token, machineToken, err := s.authService.CreateMachineToken(c.Request.Context(), req.Name, req.Permissions, createdBy)
	if err != nil {
		s.respondError(c, "TOKEN", err)
		return
	}

	c.JSON(http.StatusCreated, CreateMachineTokenResponse{
		Token:       token,
		ID:          machineToken.ID,
		Name:        machineToken.Name,
		Permissions: machineToken.Permissions,
	})
}

// GET /api/v1/machine-tokens
func (s *Server) listMachineTokens(c *gin.Context) {
	tokens, err := s.authService.ListMachineTokens(c.Request.Context())
	if err != nil {
		s.respondError(c, "TOKEN", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"tokens": tokens})
}

// DELETE /api/v1/machine-tokens/:id
func (s *Server) deleteMachineToken(c *gin.Context) {
	tokenID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		s.respondError(c, "TOKEN", types.BadRequest("invalid token ID"))
		return
	}

	if err := s.authService.DeleteMachineToken(c.Request.Context(), tokenID); err != nil {
		s.respondError(c, "TOKEN", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "token deleted"})
}
