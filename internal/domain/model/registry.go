package model

type DeviceIdentifier struct {
	Domain string `json:"domain"`
	ID     string `json:"id"`
}

type DeviceEntry struct {
	ID            string            `json:"id"`
	ConfigEntryID string            `json:"config_entry_id"`
	Identifier    DeviceIdentifier  `json:"identifier"`
	Name          string            `json:"name"`
	Manufacturer  string            `json:"manufacturer"`
	Model         string            `json:"model"`
	ViaDevice     *DeviceIdentifier `json:"via_device,omitempty"`
}

// DeviceInfo is what an entity reports about the device backing it.
type DeviceInfo struct {
	Identifier   DeviceIdentifier
	Name         string
	Manufacturer string
	Model        string
	ViaDevice    *DeviceIdentifier
}

type EntityEntry struct {
	EntityID      string `json:"entity_id"`
	UniqueID      string `json:"unique_id"`
	Platform      string `json:"platform"`
	DeviceID      string `json:"device_id"`
	ConfigEntryID string `json:"config_entry_id"`
}

const (
	PlatformLight        = "light"
	PlatformBinarySensor = "binary_sensor"
	PlatformScene        = "scene"
)

// EntityID builds the registry id for an entity, e.g. scene.crestron_home_scene_7.
func EntityID(platform, uniqueID string) string {
	return platform + "." + uniqueID
}
