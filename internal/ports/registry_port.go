package ports

import (
	"crestron-home-bridge/internal/domain/entity"
	"crestron-home-bridge/internal/domain/model"
)

type DeviceRegistry interface {
	GetOrCreate(entry model.DeviceEntry) model.DeviceEntry
	Find(id model.DeviceIdentifier) (model.DeviceEntry, bool)
	Remove(deviceID string) bool
	EntriesForConfigEntry(configEntryID string) []model.DeviceEntry
}

type EntityRegistry interface {
	Register(entry model.EntityEntry, e entity.Entity)
	Find(entityID string) (model.EntityEntry, entity.Entity, bool)
	Remove(entityID string) bool
	EntriesForDevice(deviceID string) []model.EntityEntry
	Entities() []entity.Entity
}

// AddEntitiesFunc registers entities created by a platform, including
// entities created later by scene reconciliation.
type AddEntitiesFunc func(entities []entity.Entity)
