package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/Knetic/govaluate"
)

const (
	Domain = "crestron_home"

	DefaultPollingInterval       = 30
	MinPollingInterval           = 1
	MaxPollingInterval           = 300
	DefaultPhotoSensorExpression = "level > 50"
)

var ErrInvalidOptions = errors.New("invalid options")

// Options is the user-editable configuration of one configured hub.
type Options struct {
	Host                  string `json:"host" yaml:"host" mapstructure:"host"`
	APIToken              string `json:"api_token" yaml:"api_token" mapstructure:"api_token"`
	PollingInterval       int    `json:"polling_interval" yaml:"polling_interval" mapstructure:"polling_interval"`
	PollSensors           bool   `json:"poll_sensors" yaml:"poll_sensors" mapstructure:"poll_sensors"`
	ImportMediaScenes     bool   `json:"import_media_scenes" yaml:"import_media_scenes" mapstructure:"import_media_scenes"`
	ImportLightScenes     bool   `json:"import_light_scenes" yaml:"import_light_scenes" mapstructure:"import_light_scenes"`
	ImportGenericIOScenes bool   `json:"import_generic_io_scenes" yaml:"import_generic_io_scenes" mapstructure:"import_generic_io_scenes"`

	// Evaluated against the photo sensor level; true means light detected.
	PhotoSensorExpression string `json:"photo_sensor_expression,omitempty" yaml:"photo_sensor_expression,omitempty" mapstructure:"photo_sensor_expression"`
}

func DefaultOptions() Options {
	return Options{
		PollingInterval:       DefaultPollingInterval,
		ImportGenericIOScenes: true,
		PhotoSensorExpression: DefaultPhotoSensorExpression,
	}
}

func (o Options) Validate() error {
	if o.Host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidOptions)
	}
	if o.APIToken == "" {
		return fmt.Errorf("%w: api_token is required", ErrInvalidOptions)
	}
	if o.PollingInterval < MinPollingInterval || o.PollingInterval > MaxPollingInterval {
		return fmt.Errorf("%w: polling_interval must be between %d and %d seconds, got %d",
			ErrInvalidOptions, MinPollingInterval, MaxPollingInterval, o.PollingInterval)
	}
	if _, err := CompilePhotoExpression(o.PhotoExpression()); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}
	return nil
}

func (o Options) Interval() time.Duration {
	if o.PollingInterval <= 0 {
		return DefaultPollingInterval * time.Second
	}
	return time.Duration(o.PollingInterval) * time.Second
}

// Imports reports whether scenes of the given kind are exposed.
// Unrecognized scene kinds are never imported.
func (o Options) Imports(kind SceneKind) bool {
	switch kind {
	case SceneMedia:
		return o.ImportMediaScenes
	case SceneLighting:
		return o.ImportLightScenes
	case SceneGenericIO:
		return o.ImportGenericIOScenes
	}
	return false
}

func (o Options) PhotoExpression() string {
	if o.PhotoSensorExpression == "" {
		return DefaultPhotoSensorExpression
	}
	return o.PhotoSensorExpression
}

// CompilePhotoExpression parses a photo sensor expression. The only variable
// it may reference is "level".
func CompilePhotoExpression(expr string) (*govaluate.EvaluableExpression, error) {
	e, err := govaluate.NewEvaluableExpression(expr)
	if err != nil {
		return nil, fmt.Errorf("photo sensor expression %q: %w", expr, err)
	}
	for _, v := range e.Vars() {
		if v != "level" {
			return nil, fmt.Errorf("photo sensor expression %q: unknown variable %q", expr, v)
		}
	}
	return e, nil
}
