package service

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/joeblew999/kickbox/internal/events"
	"github.com/joeblew999/kickbox/internal/kberr"
	"github.com/joeblew999/kickbox/internal/logging"
)

// ErrExists is returned when creating a layer whose ID is taken.
var ErrExists = errors.New("layer already exists")

// Resource is the event resource name for layer descriptors.
const Resource = "layers"

// LayerService manages layer descriptors persisted in dataDir/layers.json and
// announces every change on the bus.
type LayerService struct {
	dataDir string
	bus     *events.Bus
	logger  *zap.Logger

	mu     sync.RWMutex
	layers map[string]LayerDescriptor
}

// NewLayerService loads the saved descriptors. A missing or unreadable file
// starts empty.
func NewLayerService(dataDir string, bus *events.Bus, logger *zap.Logger) *LayerService {
	s := &LayerService{
		dataDir: dataDir,
		bus:     bus,
		logger:  logging.OrNop(logger),
		layers:  make(map[string]LayerDescriptor),
	}
	s.loadFromDisk()
	return s
}

// List returns all descriptors ordered by ID.
func (s *LayerService) List() []LayerDescriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]LayerDescriptor, 0, len(s.layers))
	for _, v := range s.layers {
		result = append(result, v)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Get returns a descriptor by ID.
func (s *LayerService) Get(id string) (LayerDescriptor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	layer, ok := s.layers[id]
	return layer, ok
}

// Create validates and stores a new descriptor. The ID is derived from the
// name when empty.
func (s *LayerService) Create(layer LayerDescriptor) (LayerDescriptor, error) {
	layer, err := normalize(layer)
	if err != nil {
		return LayerDescriptor{}, err
	}
	if layer.ID == "" {
		layer.ID = generateID(layer.Name)
	}
	if layer.ID == "" {
		return LayerDescriptor{}, kberr.InvalidConfiguration("create layer", "name %q yields an empty id", layer.Name)
	}

	s.mu.Lock()
	if _, exists := s.layers[layer.ID]; exists {
		s.mu.Unlock()
		return LayerDescriptor{}, ErrExists
	}
	s.layers[layer.ID] = layer
	err = s.saveToDisk()
	s.mu.Unlock()
	if err != nil {
		return LayerDescriptor{}, err
	}

	s.publish("created", layer.ID)
	return layer, nil
}

// Update replaces the descriptor stored under id.
func (s *LayerService) Update(id string, layer LayerDescriptor) (LayerDescriptor, error) {
	layer, err := normalize(layer)
	if err != nil {
		return LayerDescriptor{}, err
	}
	layer.ID = id

	s.mu.Lock()
	if _, exists := s.layers[id]; !exists {
		s.mu.Unlock()
		return LayerDescriptor{}, kberr.NotFound("update layer", "layer %q", id)
	}
	s.layers[id] = layer
	err = s.saveToDisk()
	s.mu.Unlock()
	if err != nil {
		return LayerDescriptor{}, err
	}

	s.publish("updated", id)
	return layer, nil
}

// Delete removes a descriptor.
func (s *LayerService) Delete(id string) error {
	s.mu.Lock()
	if _, exists := s.layers[id]; !exists {
		s.mu.Unlock()
		return kberr.NotFound("delete layer", "layer %q", id)
	}
	delete(s.layers, id)
	err := s.saveToDisk()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.publish("deleted", id)
	return nil
}

func (s *LayerService) publish(action, id string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.Event{Name: Resource + "." + action, Resource: Resource, Action: action, ID: id})
}

// normalize applies the coordinate rule (x/y wins over a geometry column)
// and the legend shape check.
func normalize(layer LayerDescriptor) (LayerDescriptor, error) {
	coords, err := layer.Coordinates.Normalize()
	if err != nil {
		return LayerDescriptor{}, err
	}
	layer.Coordinates = coords
	if l := layer.Legend; l != nil && len(l.Breaks) != len(l.Colors) {
		return LayerDescriptor{}, kberr.InvalidConfiguration("layer legend", "%d breaks but %d colors", len(l.Breaks), len(l.Colors))
	}
	return layer, nil
}

func (s *LayerService) configFile() string {
	return filepath.Join(s.dataDir, "layers.json")
}

func (s *LayerService) loadFromDisk() {
	data, err := os.ReadFile(s.configFile())
	if err != nil {
		return
	}

	var layers map[string]LayerDescriptor
	if err := json.Unmarshal(data, &layers); err != nil {
		s.logger.Warn("ignoring unreadable layer file", zap.String("path", s.configFile()), zap.Error(err))
		return
	}
	if layers != nil {
		s.layers = layers
	}
}

// saveToDisk persists the descriptors. Callers hold mu.
func (s *LayerService) saveToDisk() error {
	if err := os.MkdirAll(s.dataDir, 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s.layers, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.configFile(), data, 0o644)
}

// generateID creates a URL-safe ID from a name.
func generateID(name string) string {
	id := strings.ToLower(name)
	id = strings.ReplaceAll(id, " ", "_")
	var result strings.Builder
	for _, r := range id {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			result.WriteRune(r)
		}
	}
	return result.String()
}
