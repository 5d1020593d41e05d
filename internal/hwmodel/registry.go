// Package hwmodel loads the hardware model profiles firmware can be built for.
package hwmodel

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/KevinKickass/OpenFacilityCore/internal/types"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type Registry struct {
	mu          sync.RWMutex
	models      map[string]*types.HardwareModel
	validator   *Validator
	searchPaths []string
	logger      *zap.Logger
}

func NewRegistry(searchPaths []string, logger *zap.Logger) (*Registry, error) {
	validator, err := NewValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to create validator: %w", err)
	}

	return &Registry{
		models:      make(map[string]*types.HardwareModel),
		validator:   validator,
		searchPaths: searchPaths,
		logger:      logger,
	}, nil
}

// LoadAll reads every *.yaml and *.yml file in the search paths. Missing
// directories are skipped; an invalid profile or a duplicate id fails the load.
func (r *Registry) LoadAll() error {
	loaded := make(map[string]*types.HardwareModel)

	for _, searchPath := range r.searchPaths {
		entries, err := os.ReadDir(searchPath)
		if os.IsNotExist(err) {
			r.logger.Debug("Model search path missing", zap.String("path", searchPath))
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", searchPath, err)
		}

		for _, entry := range entries {
			ext := filepath.Ext(entry.Name())
			if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
				continue
			}

			fullPath := filepath.Join(searchPath, entry.Name())
			model, err := r.loadFile(fullPath)
			if err != nil {
				return err
			}
			if prev, ok := loaded[model.Model.ID]; ok {
				return fmt.Errorf("duplicate hardware model %q in %s (already defined by %s)",
					model.Model.ID, fullPath, prev.Model.Name)
			}
			loaded[model.Model.ID] = model
		}
	}

	r.mu.Lock()
	r.models = loaded
	r.mu.Unlock()

	r.logger.Info("Hardware models loaded", zap.Int("count", len(loaded)))
	return nil
}

func (r *Registry) loadFile(path string) (*types.HardwareModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := r.validator.ValidateYAML(data); err != nil {
		return nil, fmt.Errorf("validation failed for %s: %w", path, err)
	}

	var model types.HardwareModel
	if err := yaml.Unmarshal(data, &model); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", path, err)
	}
	return &model, nil
}

// Register adds a model directly, bypassing the search paths.
func (r *Registry) Register(model *types.HardwareModel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[model.Model.ID] = model
}

func (r *Registry) Get(id string) (*types.HardwareModel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[id]
	return m, ok
}

func (r *Registry) Known(id string) bool {
	_, ok := r.Get(id)
	return ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.models)
}

// List returns the models sorted by id.
func (r *Registry) List() []*types.HardwareModel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	models := make([]*types.HardwareModel, 0, len(r.models))
	for _, m := range r.models {
		models = append(models, m)
	}
	sort.Slice(models, func(i, j int) bool {
		return models[i].Model.ID < models[j].Model.ID
	})
	return models
}
