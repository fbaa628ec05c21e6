package ports

import "crestron-home-bridge/internal/domain/entity"

// StatePublisher mirrors entity state to an external consumer after each
// coordinator update.
type StatePublisher interface {
	Publish(entryID string, entities []entity.Entity) error
	Close()
}
