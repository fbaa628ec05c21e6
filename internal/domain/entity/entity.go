package entity

import (
	"context"
	"strconv"

	"crestron-home-bridge/internal/domain/model"
	"github.com/Knetic/govaluate"
)

const Manufacturer = "Crestron"

// Source is the slice of the coordinator that entities depend on.
type Source interface {
	Data() model.Snapshot
	LastUpdateSuccess() bool
	EntryID() string
	SetLightState(ctx context.Context, lightID, level, transitionMs int) error
	RecallScene(ctx context.Context, sceneID int) error
	// PhotoThreshold may return nil, meaning the default threshold applies.
	PhotoThreshold() *govaluate.EvaluableExpression
}

// Entity is the capability set every platform entity exposes to the host.
type Entity interface {
	UniqueID() string
	Platform() string
	Name() string
	State() string
	Available() bool
	DeviceInfo() model.DeviceInfo
	Attributes() map[string]any
}

func deviceInfo(src Source, id int, name, deviceModel string) model.DeviceInfo {
	return model.DeviceInfo{
		Identifier:   DeviceIdentifier(id),
		Name:         name,
		Manufacturer: Manufacturer,
		Model:        deviceModel,
		ViaDevice:    &model.DeviceIdentifier{Domain: model.Domain, ID: src.EntryID()},
	}
}

// DeviceIdentifier is the registry identifier of the device behind a hub
// record. Lights, sensors and scenes share the numeric space.
func DeviceIdentifier(id int) model.DeviceIdentifier {
	return model.DeviceIdentifier{Domain: model.Domain, ID: strconv.Itoa(id)}
}

func uniqueID(kind string, id int) string {
	return model.Domain + "_" + kind + "_" + strconv.Itoa(id)
}

func LightUniqueID(id int) string { return uniqueID("light", id) }

func SensorUniqueID(id int) string { return uniqueID("sensor", id) }

func SceneUniqueID(id int) string { return uniqueID("scene", id) }

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
