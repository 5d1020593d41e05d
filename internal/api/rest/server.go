package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/KevinKickass/OpenFacilityCore/internal/api/websocket"
	"github.com/KevinKickass/OpenFacilityCore/internal/auth"
	"github.com/KevinKickass/OpenFacilityCore/internal/config"
	"github.com/KevinKickass/OpenFacilityCore/internal/firmware"
	"github.com/KevinKickass/OpenFacilityCore/internal/hwmodel"
	"github.com/KevinKickass/OpenFacilityCore/internal/interfaces"
	"github.com/KevinKickass/OpenFacilityCore/internal/metrics"
	"github.com/KevinKickass/OpenFacilityCore/internal/registry"
	"github.com/KevinKickass/OpenFacilityCore/internal/rollout"
	"github.com/KevinKickass/OpenFacilityCore/internal/storage"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Services are the components the API exposes. Lifecycle and Hub may be nil.
type Services struct {
	Store       storage.Store
	Registry    *registry.Registry
	Catalog     *firmware.Catalog
	Coordinator *rollout.Coordinator
	Models      *hwmodel.Registry
	Auth        *auth.AuthService
	Hub         *websocket.Hub
	Lifecycle   interfaces.LifecycleManager
}

type Server struct {
	router *gin.Engine
	cfg    *config.Config
	logger *zap.Logger
	server *http.Server

	store       storage.Store
	registry    *registry.Registry
	catalog     *firmware.Catalog
	coordinator *rollout.Coordinator
	models      *hwmodel.Registry
	authService *auth.AuthService
	wsHub       *websocket.Hub
	lm          interfaces.LifecycleManager
}

func NewServer(cfg *config.Config, svc Services, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	registerValidation()

	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		router:      router,
		cfg:         cfg,
		logger:      logger,
		store:       svc.Store,
		registry:    svc.Registry,
		catalog:     svc.Catalog,
		coordinator: svc.Coordinator,
		models:      svc.Models,
		authService: svc.Auth,
		wsHub:       svc.Hub,
		lm:          svc.Lifecycle,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler: s.router,
		// Uploads and downloads carry whole firmware images.
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve blocks until the server is shut down.
func (s *Server) Serve() error {
	s.logger.Info("Starting REST API server", zap.String("address", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("rest server failed: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	// Middleware
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(CORSMiddleware(s.cfg.Server.CORSOrigins))
	s.router.Use(metrics.Middleware())

	// Public routes (no auth required)
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(metrics.Handler()))

	authenticated := s.authService.AuthMiddleware()
	operator := auth.RequirePermission(auth.PermOperator)
	technician := auth.RequirePermission(auth.PermTechnician)
	admin := auth.RequirePermission(auth.PermAdmin)

	// API v1
	v1 := s.router.Group("/api/v1")
	{
		// ==================== DEVICES ====================
		devices := v1.Group("/devices")
		{
			// Device-facing, unauthenticated
			devices.POST("/register", s.registerDevice)

			// Read operations: Operator+
			devices.GET("", authenticated, operator, s.listDevices)
			devices.GET("/pair", authenticated, operator, s.listUnpairedDevices)
			devices.POST("/pair", authenticated, operator, s.pairDevice)
			devices.GET("/:deviceId", authenticated, operator, s.getDevice)
			devices.GET("/:deviceId/deployments", authenticated, operator, s.listDeployments)

			// Rollout operations: Technician+
			devices.PATCH("/:deviceId/autoUpdate", authenticated, technician, s.setAutoUpdate)
			devices.POST("/:deviceId/forceUpdate", authenticated, technician, s.forceUpdate)
			devices.POST("/:deviceId/deployFirmware", authenticated, technician, s.deployFirmware)
		}

		// ==================== FIRMWARE ====================
		fw := v1.Group("/firmware")
		{
			// Device-facing, unauthenticated
			fw.GET("/check", s.checkForUpdate)
			fw.GET("/:firmwareId/download", s.downloadFirmware)

			fw.GET("", authenticated, operator, s.listFirmware)
			fw.GET("/:firmwareId", authenticated, operator, s.getFirmware)

			// Modify: Admin only
			fw.POST("/upload", authenticated, admin, s.uploadFirmware)
			fw.DELETE("/:firmwareId", authenticated, admin, s.deleteFirmware)
		}

		// ==================== HARDWARE MODELS (OPERATOR+) ====================
		v1.GET("/models", authenticated, operator, s.listModels)
		v1.GET("/models/:model", authenticated, operator, s.getModel)

		// ==================== MACHINE TOKENS (ADMIN ONLY) ====================
		machineTokens := v1.Group("/machine-tokens")
		machineTokens.Use(authenticated, admin)
		{
			machineTokens.POST("", s.createMachineToken)
			machineTokens.GET("", s.listMachineTokens)
			machineTokens.DELETE("/:id", s.deleteMachineToken)
		}

		// ==================== SYSTEM (OPERATOR+) ====================
		system := v1.Group("/system")
		system.Use(authenticated, operator)
		{
			system.GET("/status", s.getSystemStatus)
		}

		// ==================== WEBSOCKET (PUBLIC - Auth via first message) ====================
		if s.wsHub != nil {
			ws := v1.Group("/ws")
			{
				ws.GET("/live", s.wsLiveConnection)
				ws.GET("/status", authenticated, operator, s.wsStatus)
			}
		}
	}
}

// WebSocket handlers
func (s *Server) wsLiveConnection(c *gin.Context) {
	websocket.ServeWs(s.wsHub, c.Writer, c.Request)
}

func (s *Server) wsStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected_clients": s.wsHub.GetClientCount(),
	})
}

// Health check (public)
func (s *Server) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("Health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":    "degraded",
			"timestamp": time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}
