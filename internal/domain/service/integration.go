package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	"crestron-home-bridge/internal/domain/entity"
	"crestron-home-bridge/internal/domain/model"
	"crestron-home-bridge/internal/ports"
	"github.com/sirupsen/logrus"
)

const ServiceSetMediaRoomSource = "set_mediaroom_source"

var (
	ErrNotFound           = errors.New("not found")
	ErrUnknownService     = errors.New("unknown service")
	ErrInvalidServiceData = errors.New("invalid service data")
)

type serviceHandler func(ctx context.Context, data map[string]any) error

// Integration is one configured hub: its coordinator, platforms and
// registered actions.
type Integration struct {
	entryID     string
	coordinator *Coordinator
	devices     ports.DeviceRegistry
	entities    ports.EntityRegistry
	options     *OptionsService
	log         logrus.FieldLogger

	mu             sync.RWMutex
	services       map[string]serviceHandler
	publisher      ports.StatePublisher
	removeListener func()
}

func NewIntegration(entryID string, opts model.Options, api ports.CrestronPort,
	devices ports.DeviceRegistry, entities ports.EntityRegistry, options *OptionsService, log logrus.FieldLogger) *Integration {
	c := NewCoordinator(api, devices, entities, opts, entryID, log.WithField("component", "coordinator"))
	if options != nil {
		options.Attach(c)
	}
	return &Integration{
		entryID:     entryID,
		coordinator: c,
		devices:     devices,
		entities:    entities,
		options:     options,
		log:         log,
		services:    make(map[string]serviceHandler),
	}
}

func (i *Integration) Coordinator() *Coordinator { return i.coordinator }

// UsePublisher mirrors entity state to p after every coordinator update.
// Must be called before Setup.
func (i *Integration) UsePublisher(p ports.StatePublisher) {
	i.publisher = p
}

// Setup performs the first refresh, creates the hub device, sets up the
// light, binary sensor and scene platforms and registers actions.
func (i *Integration) Setup(ctx context.Context) error {
	if err := i.coordinator.FirstRefresh(ctx); err != nil {
		i.log.Errorf("Error setting up Crestron Home: %v", err)
		return err
	}

	opts := i.coordinator.Options()
	i.devices.GetOrCreate(model.DeviceEntry{
		ConfigEntryID: i.entryID,
		Identifier:    model.DeviceIdentifier{Domain: model.Domain, ID: i.entryID},
		Name:          fmt.Sprintf("Crestron Home (%s)", opts.Host),
		Manufacturer:  entity.Manufacturer,
		Model:         "Home Hub",
	})

	factory := i.coordinator.Factory()

	lights := factory.Lights(i.coordinator.Data().Lights)
	i.addEntities(asEntities(lights))

	sensors := factory.BinarySensors(i.coordinator.InitialSensors(ctx))
	i.addEntities(asEntities(sensors))

	scenes := factory.Scenes(i.coordinator.InitialScenes(ctx))
	i.addEntities(asEntities(scenes))
	i.coordinator.SetSceneAdder(i.addEntities)

	i.mu.Lock()
	i.services[ServiceSetMediaRoomSource] = i.setMediaRoomSource
	i.mu.Unlock()

	if i.publisher != nil {
		i.removeListener = i.coordinator.AddListener(i.publish)
		i.publish()
	}

	i.log.Infof("Set up %d lights, %d binary sensors and %d scenes", len(lights), len(sensors), len(scenes))
	return nil
}

func asEntities[T entity.Entity](items []T) []entity.Entity {
	out := make([]entity.Entity, 0, len(items))
	for _, it := range items {
		out = append(out, it)
	}
	return out
}

// addEntities registers each entity and the device it belongs to.
func (i *Integration) addEntities(ents []entity.Entity) {
	for _, e := range ents {
		info := e.DeviceInfo()
		dev := i.devices.GetOrCreate(model.DeviceEntry{
			ConfigEntryID: i.entryID,
			Identifier:    info.Identifier,
			Name:          info.Name,
			Manufacturer:  info.Manufacturer,
			Model:         info.Model,
			ViaDevice:     info.ViaDevice,
		})
		i.entities.Register(model.EntityEntry{
			EntityID:      model.EntityID(e.Platform(), e.UniqueID()),
			UniqueID:      e.UniqueID(),
			Platform:      e.Platform(),
			DeviceID:      dev.ID,
			ConfigEntryID: i.entryID,
		}, e)
	}
}

func (i *Integration) publish() {
	if err := i.publisher.Publish(i.entryID, i.entities.Entities()); err != nil {
		i.log.Warnf("Failed to publish state: %v", err)
	}
}

// Unload removes this entry's entities, devices and actions and closes the
// hub client.
func (i *Integration) Unload() error {
	if i.removeListener != nil {
		i.removeListener()
		i.removeListener = nil
	}
	i.mu.Lock()
	i.services = make(map[string]serviceHandler)
	i.mu.Unlock()

	for _, dev := range i.devices.EntriesForConfigEntry(i.entryID) {
		for _, ent := range i.entities.EntriesForDevice(dev.ID) {
			i.entities.Remove(ent.EntityID)
		}
		i.devices.Remove(dev.ID)
	}
	return i.coordinator.Shutdown()
}

func (i *Integration) Lights(ctx context.Context) []*entity.Light {
	var lights []*entity.Light
	for _, e := range i.entities.Entities() {
		if l, ok := e.(*entity.Light); ok {
			lights = append(lights, l)
		}
	}
	sort.Slice(lights, func(a, b int) bool { return lights[a].ID() < lights[b].ID() })
	return lights
}

func (i *Integration) Light(ctx context.Context, id int) (*entity.Light, error) {
	entityID := model.EntityID(model.PlatformLight, entity.LightUniqueID(id))
	_, e, ok := i.entities.Find(entityID)
	if !ok {
		return nil, fmt.Errorf("light %d: %w", id, ErrNotFound)
	}
	l, ok := e.(*entity.Light)
	if !ok {
		return nil, fmt.Errorf("light %d: %w", id, ErrNotFound)
	}
	return l, nil
}

func (i *Integration) Entities(ctx context.Context) []ports.EntityView {
	ents := i.entities.Entities()
	views := make([]ports.EntityView, 0, len(ents))
	for _, e := range ents {
		views = append(views, ports.EntityView{
			EntityID:   model.EntityID(e.Platform(), e.UniqueID()),
			Name:       e.Name(),
			State:      e.State(),
			Available:  e.Available(),
			Attributes: e.Attributes(),
		})
	}
	sort.Slice(views, func(a, b int) bool { return views[a].EntityID < views[b].EntityID })
	return views
}

func (i *Integration) ActivateScene(ctx context.Context, sceneID int) error {
	entityID := model.EntityID(model.PlatformScene, entity.SceneUniqueID(sceneID))
	_, e, ok := i.entities.Find(entityID)
	if !ok {
		return fmt.Errorf("scene %d: %w", sceneID, ErrNotFound)
	}
	s, ok := e.(*entity.Scene)
	if !ok {
		return fmt.Errorf("scene %d: %w", sceneID, ErrNotFound)
	}
	return s.Activate(ctx)
}

func (i *Integration) CallService(ctx context.Context, name string, data map[string]any) error {
	i.mu.RLock()
	handler, ok := i.services[name]
	i.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownService, name)
	}
	return handler(ctx, data)
}

func (i *Integration) setMediaRoomSource(ctx context.Context, data map[string]any) error {
	room, err := positiveInt(data, "media_room_id")
	if err != nil {
		return err
	}
	source, err := positiveInt(data, "source_id")
	if err != nil {
		return err
	}
	return i.coordinator.SetMediaRoomSource(ctx, room, source)
}

// positiveInt coerces a required field to a non-negative integer. JSON
// numbers arrive as float64 and must be integral.
func positiveInt(data map[string]any, key string) (int, error) {
	raw, ok := data[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s is required", ErrInvalidServiceData, key)
	}
	var n int
	switch v := raw.(type) {
	case int:
		n = v
	case int64:
		n = int(v)
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("%w: %s must be an integer", ErrInvalidServiceData, key)
		}
		n = int(v)
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("%w: %s must be an integer", ErrInvalidServiceData, key)
		}
		n = parsed
	default:
		return 0, fmt.Errorf("%w: %s must be an integer", ErrInvalidServiceData, key)
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: %s must be positive", ErrInvalidServiceData, key)
	}
	return n, nil
}

func (i *Integration) Health(ctx context.Context) ports.Health {
	h := ports.Health{
		State:             i.coordinator.State().String(),
		LastUpdateSuccess: i.coordinator.LastUpdateSuccess(),
	}
	if err := i.coordinator.LastError(); err != nil {
		h.LastError = err.Error()
	}
	return h
}

func (i *Integration) GetOptions(ctx context.Context) (*model.Options, error) {
	if i.options == nil {
		opts := i.coordinator.Options()
		return &opts, nil
	}
	return i.options.GetOptions(ctx)
}

func (i *Integration) UpdateOptions(ctx context.Context, opts *model.Options) error {
	if i.options == nil {
		if err := opts.Validate(); err != nil {
			return err
		}
		i.coordinator.ApplyOptions(ctx, *opts)
		return nil
	}
	return i.options.UpdateOptions(ctx, opts)
}
