package registry

import (
	"sort"
	"sync"

	"crestron-home-bridge/internal/domain/entity"
	"crestron-home-bridge/internal/domain/model"
	"github.com/google/uuid"
)

// DeviceRegistry keeps device entries for the lifetime of the process.
type DeviceRegistry struct {
	mu      sync.RWMutex
	devices map[string]model.DeviceEntry
	byIdent map[model.DeviceIdentifier]string
}

func NewDeviceRegistry() *DeviceRegistry {
	return &DeviceRegistry{
		devices: make(map[string]model.DeviceEntry),
		byIdent: make(map[model.DeviceIdentifier]string),
	}
}

// GetOrCreate returns the device with entry's identifier, creating it with
// a fresh ID when absent. Non-empty descriptive fields of entry overwrite
// the stored ones.
func (r *DeviceRegistry) GetOrCreate(entry model.DeviceEntry) model.DeviceEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byIdent[entry.Identifier]; ok {
		dev := r.devices[id]
		if entry.Name != "" {
			dev.Name = entry.Name
		}
		if entry.Model != "" {
			dev.Model = entry.Model
		}
		if entry.Manufacturer != "" {
			dev.Manufacturer = entry.Manufacturer
		}
		if entry.ViaDevice != nil {
			dev.ViaDevice = entry.ViaDevice
		}
		r.devices[id] = dev
		return dev
	}

	entry.ID = uuid.NewString()
	r.devices[entry.ID] = entry
	r.byIdent[entry.Identifier] = entry.ID
	return entry
}

func (r *DeviceRegistry) Find(ident model.DeviceIdentifier) (model.DeviceEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byIdent[ident]
	if !ok {
		return model.DeviceEntry{}, false
	}
	return r.devices[id], true
}

func (r *DeviceRegistry) Remove(deviceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	dev, ok := r.devices[deviceID]
	if !ok {
		return false
	}
	delete(r.devices, deviceID)
	delete(r.byIdent, dev.Identifier)
	return true
}

func (r *DeviceRegistry) EntriesForConfigEntry(configEntryID string) []model.DeviceEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.DeviceEntry
	for _, dev := range r.devices {
		if dev.ConfigEntryID == configEntryID {
			out = append(out, dev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier.ID < out[j].Identifier.ID })
	return out
}

type registered struct {
	entry  model.EntityEntry
	entity entity.Entity
}

// EntityRegistry maps entity IDs to their entries and live entities.
type EntityRegistry struct {
	mu       sync.RWMutex
	entities map[string]registered
}

func NewEntityRegistry() *EntityRegistry {
	return &EntityRegistry{entities: make(map[string]registered)}
}

// Register adds or replaces the entity under entry.EntityID.
func (r *EntityRegistry) Register(entry model.EntityEntry, e entity.Entity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entities[entry.EntityID] = registered{entry: entry, entity: e}
}

func (r *EntityRegistry) Find(entityID string) (model.EntityEntry, entity.Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entities[entityID]
	return reg.entry, reg.entity, ok
}

func (r *EntityRegistry) Remove(entityID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entities[entityID]; !ok {
		return false
	}
	delete(r.entities, entityID)
	return true
}

func (r *EntityRegistry) EntriesForDevice(deviceID string) []model.EntityEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.EntityEntry
	for _, reg := range r.entities {
		if reg.entry.DeviceID == deviceID {
			out = append(out, reg.entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out
}

// Entities lists live entities ordered by entity ID.
func (r *EntityRegistry) Entities() []entity.Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.entities))
	for id := range r.entities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]entity.Entity, 0, len(ids))
	for _, id := range ids {
		if e := r.entities[id].entity; e != nil {
			out = append(out, e)
		}
	}
	return out
}
