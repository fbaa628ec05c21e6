package entity

import "crestron-home-bridge/internal/domain/model"

const (
	DeviceClassOccupancy = "occupancy"
	DeviceClassLight     = "light"
)

type BinarySensor struct {
	src     Source
	id      int
	kind    model.SensorKind
	initial model.Sensor
}

// NewBinarySensor returns nil for unrecognized sensor kinds.
func NewBinarySensor(src Source, rec model.Sensor) *BinarySensor {
	kind := rec.Kind()
	if kind == model.SensorUnrecognized {
		return nil
	}
	return &BinarySensor{src: src, id: rec.ID, kind: kind, initial: rec}
}

func (s *BinarySensor) ID() int { return s.id }

func (s *BinarySensor) Kind() model.SensorKind { return s.kind }

func (s *BinarySensor) UniqueID() string { return SensorUniqueID(s.id) }

func (s *BinarySensor) Platform() string { return model.PlatformBinarySensor }

func (s *BinarySensor) Name() string { return s.initial.Name }

func (s *BinarySensor) DeviceClass() string {
	if s.kind == model.SensorPhoto {
		return DeviceClassLight
	}
	return DeviceClassOccupancy
}

func (s *BinarySensor) Record() model.Sensor {
	if rec, ok := s.src.Data().Sensor(s.id); ok {
		return rec
	}
	return s.initial
}

func (s *BinarySensor) IsOn() bool {
	rec := s.Record()
	if s.kind == model.SensorPhoto {
		return s.lightDetected(rec.Level)
	}
	return rec.Occupied()
}

func (s *BinarySensor) State() string { return onOff(s.IsOn()) }

func (s *BinarySensor) Available() bool {
	return s.src.LastUpdateSuccess() && s.Record().Online()
}

func (s *BinarySensor) DeviceInfo() model.DeviceInfo {
	return deviceInfo(s.src, s.id, s.initial.Name, s.kind.String())
}

func (s *BinarySensor) Attributes() map[string]any {
	rec := s.Record()
	attrs := map[string]any{
		"sensor_id":         s.id,
		"room_id":           rec.RoomID,
		"connection_status": rec.ConnectionStatus,
		"subType":           rec.SubType,
		"presence":          rec.Presence,
	}
	if s.kind == model.SensorPhoto {
		attrs["level"] = rec.Level
	}
	return attrs
}

// lightDetected evaluates the source's current threshold. It falls back to
// the default when the expression is missing, fails or is not a boolean.
func (s *BinarySensor) lightDetected(level int) bool {
	fallback := level > 50
	threshold := s.src.PhotoThreshold()
	if threshold == nil {
		return fallback
	}
	result, err := threshold.Evaluate(map[string]interface{}{"level": float64(level)})
	if err != nil {
		return fallback
	}
	if b, ok := result.(bool); ok {
		return b
	}
	return fallback
}
