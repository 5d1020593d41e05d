package rest

import (
	"net/http"

	"github.com/KevinKickass/OpenFacilityCore/internal/api/websocket"
	"github.com/KevinKickass/OpenFacilityCore/internal/auth"
	"github.com/KevinKickass/OpenFacilityCore/internal/registry"
	"github.com/KevinKickass/OpenFacilityCore/internal/types"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type RegisterDeviceRequest struct {
	DeviceID          string   `json:"deviceId" binding:"required"`
	FirmwareVersion   string   `json:"firmwareVersion" binding:"required"`
	ModelType         string   `json:"modelType"`
	BatteryVoltage    *float64 `json:"batteryVoltage" binding:"omitempty,min=0"`
	BatteryPercentage *float64 `json:"batteryPercentage" binding:"omitempty,min=0,max=100"`
}

type PairDeviceRequest struct {
	DeviceID    string  `json:"device_id" binding:"required"`
	Name        *string `json:"name"`
	Description *string `json:"description"`
	RoomID      *string `json:"roomId" binding:"omitempty,uuid"`
}

type AutoUpdateRequest struct {
	AutoUpdate *bool `json:"autoUpdate" binding:"required"`
}

type DeployFirmwareRequest struct {
	FirmwareID string `json:"firmwareId" binding:"required,uuid"`
}

// POST /api/v1/devices/register
func (s *Server) registerDevice(c *gin.Context) {
	var req RegisterDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondBindError(c, "DEVICE", err)
		return
	}

	device, created, err := s.registry.RegisterOrUpdate(c.Request.Context(), registry.Registration{
		DeviceID:          req.DeviceID,
		FirmwareVersion:   req.FirmwareVersion,
		ModelType:         req.ModelType,
		BatteryVoltage:    req.BatteryVoltage,
		BatteryPercentage: req.BatteryPercentage,
	})
	if err != nil {
		s.respondError(c, "DEVICE", err)
		return
	}

	if s.wsHub != nil {
		s.wsHub.Broadcast(websocket.NewDeviceRegisteredMessage(device, created))
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, device)
}

// GET /api/v1/devices
func (s *Server) listDevices(c *gin.Context) {
	filter := registry.ListFilter{}
	switch c.Query("paired") {
	case "true":
		filter.PairedOnly = true
	case "false":
		filter.UnpairedOnly = true
	}

	devices, err := s.registry.List(c.Request.Context(), filter)
	if err != nil {
		s.respondError(c, "DEVICE", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"devices": devices,
		"count":   len(devices),
	})
}

// GET /api/v1/devices/pair
func (s *Server) listUnpairedDevices(c *gin.Context) {
	devices, err := s.registry.ListUnpaired(c.Request.Context())
	if err != nil {
		s.respondError(c, "DEVICE", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"devices": devices,
		"count":   len(devices),
	})
}

// POST /api/v1/devices/pair
func (s *Server) pairDevice(c *gin.Context) {
	var req PairDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondBindError(c, "DEVICE", err)
		return
	}

	principal, ok := auth.PrincipalFrom(c)
	if !ok {
		s.respondError(c, "DEVICE", types.Unauthorized("not authenticated"))
		return
	}

	pair := registry.PairRequest{
		DeviceID:    req.DeviceID,
		Name:        req.Name,
		Description: req.Description,
	}
	if req.RoomID != nil {
		roomID := uuid.MustParse(*req.RoomID) // validated by binding
		pair.RoomID = &roomID
	}

	device, err := s.registry.Pair(c.Request.Context(), principal.UserID, pair)
	if err != nil {
		s.respondError(c, "DEVICE", err)
		return
	}

	c.JSON(http.StatusOK, device)
}

// GET /api/v1/devices/:deviceId
func (s *Server) getDevice(c *gin.Context) {
	device, err := s.registry.Get(c.Request.Context(), c.Param("deviceId"))
	if err != nil {
		s.respondError(c, "DEVICE", err)
		return
	}

	c.JSON(http.StatusOK, device)
}

// GET /api/v1/devices/:deviceId/deployments
func (s *Server) listDeployments(c *gin.Context) {
	deployments, err := s.registry.ListDeployments(c.Request.Context(), c.Param("deviceId"))
	if err != nil {
		s.respondError(c, "DEVICE", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"deployments": deployments,
		"count":       len(deployments),
	})
}

// PATCH /api/v1/devices/:deviceId/autoUpdate
func (s *Server) setAutoUpdate(c *gin.Context) {
	var req AutoUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondBindError(c, "DEVICE", err)
		return
	}

	device, err := s.registry.SetAutoUpdate(c.Request.Context(), c.Param("deviceId"), *req.AutoUpdate)
	if err != nil {
		s.respondError(c, "DEVICE", err)
		return
	}

	c.JSON(http.StatusOK, device)
}

// POST /api/v1/devices/:deviceId/forceUpdate
func (s *Server) forceUpdate(c *gin.Context) {
	result, err := s.coordinator.ForceUpdate(c.Request.Context(), c.Param("deviceId"))
	if err != nil {
		s.respondError(c, "ROLLOUT", err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// POST /api/v1/devices/:deviceId/deployFirmware
func (s *Server) deployFirmware(c *gin.Context) {
	var req DeployFirmwareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondBindError(c, "ROLLOUT", err)
		return
	}

	result, err := s.coordinator.DeploySpecific(c.Request.Context(), c.Param("deviceId"), uuid.MustParse(req.FirmwareID))
	if err != nil {
		s.respondError(c, "ROLLOUT", err)
		return
	}

	c.JSON(http.StatusOK, result)
}
