// Package system wires the services together and owns their lifecycle.
package system

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/OpenFacilityCore/internal/api/rest"
	"github.com/KevinKickass/OpenFacilityCore/internal/api/websocket"
	"github.com/KevinKickass/OpenFacilityCore/internal/auth"
	"github.com/KevinKickass/OpenFacilityCore/internal/blob"
	"github.com/KevinKickass/OpenFacilityCore/internal/config"
	"github.com/KevinKickass/OpenFacilityCore/internal/firmware"
	"github.com/KevinKickass/OpenFacilityCore/internal/hwmodel"
	"github.com/KevinKickass/OpenFacilityCore/internal/interfaces"
	"github.com/KevinKickass/OpenFacilityCore/internal/notify"
	"github.com/KevinKickass/OpenFacilityCore/internal/registry"
	"github.com/KevinKickass/OpenFacilityCore/internal/rollout"
	"github.com/KevinKickass/OpenFacilityCore/internal/storage"
	"github.com/KevinKickass/OpenFacilityCore/internal/storage/memory"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type LifecycleManager struct {
	config *config.Config
	logger *zap.Logger

	store       storage.Store
	blobs       blob.Provider
	models      *hwmodel.Registry
	registry    *registry.Registry
	catalog     *firmware.Catalog
	coordinator *rollout.Coordinator
	authService *auth.AuthService
	wsHub       *websocket.Hub
	mqtt        *notify.Connection
	restServer  *rest.Server

	stateMu      sync.RWMutex
	currentState SystemState
	startedAt    time.Time

	shutdownOnce sync.Once
}

var _ interfaces.LifecycleManager = (*LifecycleManager)(nil)

func NewLifecycleManager(cfg *config.Config, logger *zap.Logger) *LifecycleManager {
	return &LifecycleManager{
		config:       cfg,
		logger:       logger,
		currentState: StateInitializing,
	}
}

// OpenStore connects the configured store and applies the schema when
// database.migrate_on_start is set.
func OpenStore(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (storage.Store, error) {
	if cfg.Driver == "memory" {
		logger.Warn("Using in-memory store; data is lost on restart")
		return memory.New(), nil
	}

	client, err := storage.NewPostgresClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.MigrateOnStart {
		if err := client.Migrate(ctx); err != nil {
			client.Close()
			return nil, err
		}
		logger.Info("Database schema applied")
	}
	return client, nil
}

// Start builds every component. It does not serve requests yet.
func (lm *LifecycleManager) Start(ctx context.Context) error {
	lm.logger.Info("Starting OpenFacilityCore")

	store, err := OpenStore(ctx, lm.config.Database, lm.logger)
	if err != nil {
		return lm.fail(fmt.Errorf("failed to open store: %w", err))
	}
	lm.store = store

	blobs, err := blob.New(ctx, lm.config.Blob, lm.config.S3, lm.logger)
	if err != nil {
		return lm.fail(fmt.Errorf("failed to open blob storage: %w", err))
	}
	lm.blobs = blobs

	models, err := hwmodel.NewRegistry(lm.config.Models.SearchPaths, lm.logger)
	if err != nil {
		return lm.fail(fmt.Errorf("failed to create hardware model registry: %w", err))
	}
	if err := models.LoadAll(); err != nil {
		return lm.fail(fmt.Errorf("failed to load hardware models: %w", err))
	}
	lm.models = models

	lm.registry = registry.New(store, lm.logger)
	lm.catalog = firmware.NewCatalog(store, blobs, models, lm.config.Firmware, lm.logger)
	lm.coordinator = rollout.NewCoordinator(store, lm.registry, lm.catalog, lm.config.Firmware, lm.logger)
	lm.authService = auth.NewAuthService(store, lm.config.Auth, lm.logger)

	if !lm.config.Auth.IsProductionReady() {
		lm.logger.Warn("JWT secret is the development default or too short",
			zap.String("env", lm.config.Auth.JWTSecretEnv))
	}

	lm.wsHub = websocket.NewHub(lm.logger, lm.authService)
	lm.coordinator.AddNotifier(lm.wsHub)

	if lm.config.MQTT.Enabled {
		notifier, conn, err := notify.Connect(ctx, lm.config.MQTT, lm.logger)
		if err != nil {
			return lm.fail(fmt.Errorf("failed to start mqtt: %w", err))
		}
		lm.mqtt = conn
		lm.coordinator.AddNotifier(notifier)
	}

	lm.restServer = rest.NewServer(lm.config, rest.Services{
		Store:       store,
		Registry:    lm.registry,
		Catalog:     lm.catalog,
		Coordinator: lm.coordinator,
		Models:      models,
		Auth:        lm.authService,
		Hub:         lm.wsHub,
		Lifecycle:   lm,
	}, lm.logger)

	return nil
}

// Run starts the system and serves until ctx is cancelled or a component
// fails, then shuts everything down.
func (lm *LifecycleManager) Run(ctx context.Context) error {
	if err := lm.Start(ctx); err != nil {
		lm.closeResources(context.Background())
		return err
	}

	lm.stateMu.Lock()
	lm.startedAt = time.Now()
	lm.stateMu.Unlock()
	lm.setState(StateRunning)

	g, gctx := errgroup.WithContext(ctx)
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()

	g.Go(func() error {
		lm.wsHub.Run(hubCtx)
		return nil
	})
	g.Go(lm.restServer.Serve)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), lm.shutdownTimeout())
		defer cancel()
		err := lm.Shutdown(shutdownCtx)
		stopHub()
		return err
	})

	lm.logger.Info("System started successfully",
		zap.Int("http_port", lm.config.Server.HTTPPort),
		zap.String("database", lm.config.Database.Driver),
		zap.String("blob_backend", lm.config.Blob.Backend),
		zap.Int("hardware_models", lm.models.Len()),
		zap.Bool("mqtt_enabled", lm.config.MQTT.Enabled))

	return g.Wait()
}

func (lm *LifecycleManager) shutdownTimeout() time.Duration {
	if t := lm.config.Server.ShutdownTimeout; t > 0 {
		return t
	}
	return 30 * time.Second
}

// Shutdown gracefully shuts down the system
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")
		lm.setState(StateStopping)

		if lm.restServer != nil {
			if err := lm.restServer.Shutdown(ctx); err != nil {
				shutdownErr = fmt.Errorf("rest api shutdown failed: %w", err)
			}
		}
		shutdownErr = errors.Join(shutdownErr, lm.closeResources(ctx))

		lm.setState(StateStopped)
		lm.logger.Info("Graceful shutdown completed")
	})

	return shutdownErr
}

// closeResources releases the broker connection and the store.
func (lm *LifecycleManager) closeResources(ctx context.Context) error {
	var err error
	if lm.mqtt != nil {
		if cerr := lm.mqtt.Close(ctx); cerr != nil {
			err = fmt.Errorf("mqtt disconnect failed: %w", cerr)
		}
		lm.mqtt = nil
	}
	lm.stateMu.Lock()
	store := lm.store
	lm.store = nil
	lm.stateMu.Unlock()
	if store != nil {
		store.Close()
	}
	return err
}

func (lm *LifecycleManager) fail(err error) error {
	lm.logger.Error("Startup failed", zap.Error(err))
	lm.setState(StateError)
	return err
}

func (lm *LifecycleManager) setState(state SystemState) {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()
	if err := ValidateTransition(lm.currentState, state); err != nil {
		lm.logger.Warn("Unexpected state transition", zap.Error(err))
	}
	lm.currentState = state
}

func (lm *LifecycleManager) State() SystemState {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()
	return lm.currentState
}

// GetCurrentStatus returns current system status (Interface implementation)
func (lm *LifecycleManager) GetCurrentStatus(ctx context.Context) interfaces.SystemStatus {
	lm.stateMu.RLock()
	status := interfaces.SystemStatus{
		State:         lm.currentState.String(),
		StartedAt:     lm.startedAt.Unix(),
		StorageDriver: lm.config.Database.Driver,
		BlobBackend:   lm.config.Blob.Backend,
		MQTTEnabled:   lm.config.MQTT.Enabled,
	}
	store := lm.store
	lm.stateMu.RUnlock()

	if lm.models != nil {
		status.HardwareModels = lm.models.Len()
	}
	if lm.wsHub != nil {
		status.LiveClients = lm.wsHub.GetClientCount()
	}
	if store == nil {
		return status
	}

	status.StorageHealthy = store.Ping(ctx) == nil
	devices, err := store.ListDevices(ctx, false, false)
	if err != nil {
		lm.logger.Warn("Failed to count devices", zap.Error(err))
		return status
	}
	status.DeviceCount = len(devices)
	for _, d := range devices {
		if d.Paired {
			status.PairedDevices++
		}
		if d.FirmwareStatus == storage.FirmwareUpdatePending {
			status.PendingUpdates++
		}
	}
	return status
}
