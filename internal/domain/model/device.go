package model

import "strings"

const (
	ConnectionOnline = "online"

	// MaxLevel is the top of the hub's light level range.
	MaxLevel = 65535
)

type LightKind int

const (
	LightUnrecognized LightKind = iota
	LightDimmer
	LightSwitch
)

func ParseLightKind(s string) LightKind {
	switch s {
	case "Dimmer":
		return LightDimmer
	case "Switch":
		return LightSwitch
	}
	return LightUnrecognized
}

func (k LightKind) String() string {
	switch k {
	case LightDimmer:
		return "Dimmer"
	case LightSwitch:
		return "Switch"
	}
	return "Unrecognized"
}

type SensorKind int

const (
	SensorUnrecognized SensorKind = iota
	SensorOccupancy
	SensorPhoto
)

func ParseSensorKind(s string) SensorKind {
	switch s {
	case "OccupancySensor":
		return SensorOccupancy
	case "PhotoSensor":
		return SensorPhoto
	}
	return SensorUnrecognized
}

func (k SensorKind) String() string {
	switch k {
	case SensorOccupancy:
		return "OccupancySensor"
	case SensorPhoto:
		return "PhotoSensor"
	}
	return "Unrecognized"
}

type SceneKind int

const (
	SceneUnrecognized SceneKind = iota
	SceneMedia
	SceneLighting
	SceneGenericIO
)

func ParseSceneKind(s string) SceneKind {
	switch s {
	case "Media":
		return SceneMedia
	case "Lighting":
		return SceneLighting
	case "GenericIO":
		return SceneGenericIO
	}
	return SceneUnrecognized
}

func (k SceneKind) String() string {
	switch k {
	case SceneMedia:
		return "Media"
	case SceneLighting:
		return "Lighting"
	case SceneGenericIO:
		return "GenericIO"
	}
	return "Unrecognized"
}

type Light struct {
	ID               int    `json:"id"`
	Name             string `json:"name"`
	SubType          string `json:"subType"`
	RoomID           int    `json:"roomId"`
	Level            int    `json:"level"`
	ConnectionStatus string `json:"connectionStatus"`
}

func (l Light) Kind() LightKind { return ParseLightKind(l.SubType) }

func (l Light) Online() bool { return l.ConnectionStatus == ConnectionOnline }

type Sensor struct {
	ID               int    `json:"id"`
	Name             string `json:"name"`
	SubType          string `json:"subType"`
	RoomID           int    `json:"roomId"`
	Presence         string `json:"presence,omitempty"`
	Level            int    `json:"level"`
	ConnectionStatus string `json:"connectionStatus"`
}

func (s Sensor) Kind() SensorKind { return ParseSensorKind(s.SubType) }

func (s Sensor) Online() bool { return s.ConnectionStatus == ConnectionOnline }

// Occupied reports whether the hub marks the room as occupied. The hub is
// not consistent about casing.
func (s Sensor) Occupied() bool { return strings.EqualFold(s.Presence, "occupied") }

type Scene struct {
	ID               int    `json:"id"`
	Name             string `json:"name"`
	Type             string `json:"type"`
	RoomID           int    `json:"roomId"`
	ConnectionStatus string `json:"connectionStatus,omitempty"`
}

func (s Scene) Kind() SceneKind { return ParseSceneKind(s.Type) }

// LightState is one entry of a SetState request. Time is the transition in
// milliseconds.
type LightState struct {
	ID    int `json:"id"`
	Level int `json:"level"`
	Time  int `json:"time"`
}

// Snapshot is the coordinator's view of the hub after a refresh.
type Snapshot struct {
	Lights     []Light
	Sensors    []Sensor
	Scenes     []Scene
	Generation uint64
}

// Clone returns a copy whose slices do not alias the receiver's.
func (s Snapshot) Clone() Snapshot {
	return Snapshot{
		Lights:     append([]Light(nil), s.Lights...),
		Sensors:    append([]Sensor(nil), s.Sensors...),
		Scenes:     append([]Scene(nil), s.Scenes...),
		Generation: s.Generation,
	}
}

func (s Snapshot) Light(id int) (Light, bool) {
	for _, l := range s.Lights {
		if l.ID == id {
			return l, true
		}
	}
	return Light{}, false
}

func (s Snapshot) Sensor(id int) (Sensor, bool) {
	for _, sn := range s.Sensors {
		if sn.ID == id {
			return sn, true
		}
	}
	return Sensor{}, false
}

func (s Snapshot) Scene(id int) (Scene, bool) {
	for _, sc := range s.Scenes {
		if sc.ID == id {
			return sc, true
		}
	}
	return Scene{}, false
}
