package entity

import (
	"crestron-home-bridge/internal/domain/model"
	"github.com/sirupsen/logrus"
)

// Factory builds platform entities from hub records, skipping records
// whose kind is unrecognized.
type Factory struct {
	src Source
	log logrus.FieldLogger
}

func NewFactory(src Source, log logrus.FieldLogger) *Factory {
	return &Factory{src: src, log: log}
}

func (f *Factory) Lights(records []model.Light) []*Light {
	lights := make([]*Light, 0, len(records))
	for _, rec := range records {
		if rec.Kind() == model.LightUnrecognized {
			f.log.Warnf("Unknown light subType '%s' for light '%s' (ID: %d). Skipping.", rec.SubType, rec.Name, rec.ID)
			continue
		}
		lights = append(lights, NewLight(f.src, rec))
	}
	return lights
}

func (f *Factory) BinarySensors(records []model.Sensor) []*BinarySensor {
	sensors := make([]*BinarySensor, 0, len(records))
	for _, rec := range records {
		s := NewBinarySensor(f.src, rec)
		if s == nil {
			f.log.Warnf("Unknown sensor subType '%s' for sensor '%s' (ID: %d). Skipping.", rec.SubType, rec.Name, rec.ID)
			continue
		}
		sensors = append(sensors, s)
	}
	return sensors
}

func (f *Factory) Scenes(records []model.Scene) []*Scene {
	scenes := make([]*Scene, 0, len(records))
	for _, rec := range records {
		scenes = append(scenes, NewScene(f.src, rec))
	}
	return scenes
}
