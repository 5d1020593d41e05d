package rest

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"

	"github.com/KevinKickass/OpenFacilityCore/internal/firmware"
	"github.com/KevinKickass/OpenFacilityCore/internal/types"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Room for the text fields and multipart framing around the binary.
const multipartOverhead = 1 << 20

type UploadFirmwareRequest struct {
	Version      string                `form:"version" binding:"required"`
	ModelType    string                `form:"modelType" binding:"required"`
	ReleaseNotes string                `form:"releaseNotes"`
	File         *multipart.FileHeader `form:"file" binding:"required"`
}

type UploadFirmwareResponse struct {
	Success    bool      `json:"success"`
	FirmwareID uuid.UUID `json:"firmwareId"`
	Version    string    `json:"version"`
	Status     string    `json:"status"`
	Checksum   string    `json:"checksum"`
	Size       int64     `json:"size"`
}

func (s *Server) firmwareID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("firmwareId"))
	if err != nil {
		s.respondError(c, "FIRMWARE", types.Validation("invalid firmware ID",
			types.FieldError{Field: "firmwareId", Message: "must be a UUID"}))
		return uuid.Nil, false
	}
	return id, true
}

// GET /api/v1/firmware/check
func (s *Server) checkForUpdate(c *gin.Context) {
	result, err := s.coordinator.CheckForUpdate(c.Request.Context(),
		c.Query("deviceId"),
		c.Query("currentVersion"),
		c.Query("modelType"))
	if err != nil {
		s.respondError(c, "FIRMWARE", err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// GET /api/v1/firmware/:firmwareId/download
func (s *Server) downloadFirmware(c *gin.Context) {
	id, ok := s.firmwareID(c)
	if !ok {
		return
	}

	dl, err := s.catalog.Open(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, "FIRMWARE", err)
		return
	}

	if dl.URL != "" {
		c.Redirect(http.StatusTemporaryRedirect, dl.URL)
		return
	}
	defer dl.Content.Close()

	c.Header("X-Checksum-MD5", dl.Artifact.Checksum)
	c.DataFromReader(http.StatusOK, dl.Artifact.Size, "application/octet-stream", dl.Content, map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", dl.Artifact.Filename),
	})
}

// POST /api/v1/firmware/upload
func (s *Server) uploadFirmware(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.Firmware.MaxUploadSize+multipartOverhead)

	var req UploadFirmwareRequest
	if err := c.ShouldBind(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, types.NewErrorResponse("FIRMWARE_413",
				"firmware binary too large", gin.H{"limit": s.cfg.Firmware.MaxUploadSize}))
			return
		}
		s.respondBindError(c, "FIRMWARE", err)
		return
	}

	file, err := req.File.Open()
	if err != nil {
		s.respondError(c, "FIRMWARE", fmt.Errorf("failed to open uploaded file: %w", err))
		return
	}
	defer file.Close()

	fw, err := s.catalog.Upload(c.Request.Context(), firmware.UploadRequest{
		Version:      req.Version,
		ModelType:    req.ModelType,
		ReleaseNotes: req.ReleaseNotes,
		Filename:     req.File.Filename,
		Size:         req.File.Size,
		Content:      file,
	})
	if err != nil {
		s.respondError(c, "FIRMWARE", err)
		return
	}

	c.JSON(http.StatusCreated, UploadFirmwareResponse{
		Success:    true,
		FirmwareID: fw.ID,
		Version:    fw.Version,
		Status:     string(fw.Status),
		Checksum:   fw.Checksum,
		Size:       fw.Size,
	})
}

// GET /api/v1/firmware
func (s *Server) listFirmware(c *gin.Context) {
	artifacts, err := s.catalog.List(c.Request.Context(), c.Query("modelType"))
	if err != nil {
		s.respondError(c, "FIRMWARE", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"firmware": artifacts,
		"count":    len(artifacts),
	})
}

// GET /api/v1/firmware/:firmwareId
func (s *Server) getFirmware(c *gin.Context) {
	id, ok := s.firmwareID(c)
	if !ok {
		return
	}

	fw, err := s.catalog.Get(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, "FIRMWARE", err)
		return
	}

	c.JSON(http.StatusOK, fw)
}

// DELETE /api/v1/firmware/:firmwareId
func (s *Server) deleteFirmware(c *gin.Context) {
	id, ok := s.firmwareID(c)
	if !ok {
		return
	}

	result, err := s.catalog.Delete(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, "FIRMWARE", err)
		return
	}

	c.JSON(http.StatusOK, result)
}
