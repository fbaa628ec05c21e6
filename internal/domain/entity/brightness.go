package entity

import "crestron-home-bridge/internal/domain/model"

const MaxBrightness = 255

// ToHubLevel converts a 0..255 brightness to the hub's 0..65535 level.
func ToHubLevel(brightness int) int {
	if brightness <= 0 {
		return 0
	}
	if brightness > MaxBrightness {
		brightness = MaxBrightness
	}
	return brightness * model.MaxLevel / MaxBrightness
}

// FromHubLevel converts a hub level to 0..255. Any non-zero level maps to
// at least 1 so a dimmed light never reads as off.
func FromHubLevel(level int) int {
	if level <= 0 {
		return 0
	}
	if level > model.MaxLevel {
		level = model.MaxLevel
	}
	return max(1, level*MaxBrightness/model.MaxLevel)
}
