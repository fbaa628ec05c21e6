package entity

import (
	"context"
	"errors"
	"testing"
	"time"

	"crestron-home-bridge/internal/domain/model"
	"github.com/Knetic/govaluate"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockSource struct {
	mock.Mock
	data      model.Snapshot
	success   bool
	threshold *govaluate.EvaluableExpression
}

func (m *MockSource) Data() model.Snapshot { return m.data.Clone() }

func (m *MockSource) LastUpdateSuccess() bool { return m.success }

func (m *MockSource) EntryID() string { return "entry-1" }

func (m *MockSource) SetLightState(ctx context.Context, lightID, level, transitionMs int) error {
	args := m.Called(ctx, lightID, level, transitionMs)
	return args.Error(0)
}

func (m *MockSource) RecallScene(ctx context.Context, sceneID int) error {
	args := m.Called(ctx, sceneID)
	return args.Error(0)
}

func (m *MockSource) PhotoThreshold() *govaluate.EvaluableExpression { return m.threshold }

func newSource(lights ...model.Light) *MockSource {
	return &MockSource{data: model.Snapshot{Lights: lights, Generation: 1}, success: true}
}

func TestBrightness_RoundTripIsMonotonic(t *testing.T) {
	prev := 0
	for b := 1; b <= 255; b++ {
		level := ToHubLevel(b)
		assert.Greater(t, level, prev, "brightness %d", b)
		prev = level
		assert.Equal(t, b, FromHubLevel(level), "round trip of %d", b)
	}
	assert.Equal(t, model.MaxLevel, ToHubLevel(255))
	assert.Equal(t, 0, ToHubLevel(0))
	assert.Equal(t, 0, FromHubLevel(0))
	assert.Equal(t, 1, FromHubLevel(1))
}

func TestLight_StateAndAvailability(t *testing.T) {
	src := newSource(model.Light{ID: 3, Name: "Kitchen", SubType: "Dimmer", Level: 32768, ConnectionStatus: "online", RoomID: 2})
	l := NewLight(src, src.data.Lights[0])

	assert.Equal(t, "crestron_home_light_3", l.UniqueID())
	assert.Equal(t, LightUniqueID(3), l.UniqueID())
	assert.True(t, l.IsOn())
	assert.Equal(t, "on", l.State())
	b, ok := l.Brightness()
	assert.True(t, ok)
	assert.Equal(t, 127, b)
	assert.True(t, l.Available())
	assert.True(t, l.SupportsTransition())

	src.success = false
	assert.False(t, l.Available())

	src.success = true
	src.data.Lights[0].ConnectionStatus = "offline"
	assert.False(t, l.Available())

	info := l.DeviceInfo()
	assert.Equal(t, model.DeviceIdentifier{Domain: model.Domain, ID: "3"}, info.Identifier)
	assert.Equal(t, "entry-1", info.ViaDevice.ID)
	assert.Equal(t, "Dimmer", info.Model)
}

func TestLight_SwitchHasNoBrightness(t *testing.T) {
	src := newSource(model.Light{ID: 4, Name: "Porch", SubType: "Switch", Level: 0, ConnectionStatus: "online"})
	l := NewLight(src, src.data.Lights[0])

	_, ok := l.Brightness()
	assert.False(t, ok)
	assert.False(t, l.IsOn())

	src.On("SetLightState", mock.Anything, 4, model.MaxLevel, 0).Return(nil)
	half := 128
	require.NoError(t, l.TurnOn(context.Background(), &half, 0))
	src.AssertExpectations(t)
}

func TestLight_OptimisticShadowUntilNextRefresh(t *testing.T) {
	src := newSource(model.Light{ID: 1, Name: "Hall", SubType: "Dimmer", Level: 0, ConnectionStatus: "online"})
	l := NewLight(src, src.data.Lights[0])

	src.On("SetLightState", mock.Anything, 1, ToHubLevel(200), 1500).Return(nil)
	bri := 200
	require.NoError(t, l.TurnOn(context.Background(), &bri, 1500*time.Millisecond))

	b, _ := l.Brightness()
	assert.Equal(t, 200, b)
	// the canonical cache is untouched
	assert.Equal(t, 0, src.data.Lights[0].Level)

	// next refresh supersedes the shadow
	src.data.Lights[0].Level = 0
	src.data.Generation++
	assert.False(t, l.IsOn())
	src.AssertExpectations(t)
}

func TestLight_FailedCommandKeepsState(t *testing.T) {
	src := newSource(model.Light{ID: 1, Name: "Hall", SubType: "Dimmer", Level: 1000, ConnectionStatus: "online"})
	l := NewLight(src, src.data.Lights[0])

	src.On("SetLightState", mock.Anything, 1, 0, 0).Return(errors.New("boom"))
	assert.Error(t, l.TurnOff(context.Background(), 0))
	assert.True(t, l.IsOn())
}

func TestLight_HueRendering(t *testing.T) {
	src := newSource(model.Light{ID: 1, Name: "Hall", SubType: "Dimmer", Level: model.MaxLevel, ConnectionStatus: "online"})
	l := NewLight(src, src.data.Lights[0])

	st := l.HueState()
	assert.True(t, st.On)
	assert.Equal(t, uint8(254), st.Bri)
	assert.True(t, st.Reachable)

	src.On("SetLightState", mock.Anything, 1, 0, 0).Return(nil)
	require.NoError(t, l.ApplyHue(context.Background(), false, nil, 0))
	assert.False(t, l.HueState().On)

	bri := uint8(100)
	src.On("SetLightState", mock.Anything, 1, ToHubLevel(100), 0).Return(nil)
	require.NoError(t, l.ApplyHue(context.Background(), true, &bri, 0))
	assert.Equal(t, uint8(100), l.HueState().Bri)
}

func TestBinarySensor_Occupancy(t *testing.T) {
	rec := model.Sensor{ID: 9, Name: "Den", SubType: "OccupancySensor", Presence: "Occupied", ConnectionStatus: "online"}
	src := &MockSource{data: model.Snapshot{Sensors: []model.Sensor{rec}}, success: true}
	s := NewBinarySensor(src, rec)
	require.NotNil(t, s)

	assert.Equal(t, DeviceClassOccupancy, s.DeviceClass())
	assert.True(t, s.IsOn())
	assert.Equal(t, "crestron_home_sensor_9", s.UniqueID())
	assert.Equal(t, "OccupancySensor", s.DeviceInfo().Model)

	src.data.Sensors[0].Presence = "Vacant"
	assert.False(t, s.IsOn())
}

func TestBinarySensor_PhotoThreshold(t *testing.T) {
	rec := model.Sensor{ID: 10, Name: "Window", SubType: "PhotoSensor", Level: 40, ConnectionStatus: "online"}
	src := &MockSource{data: model.Snapshot{Sensors: []model.Sensor{rec}}, success: true}

	s := NewBinarySensor(src, rec)
	assert.Equal(t, DeviceClassLight, s.DeviceClass())
	assert.False(t, s.IsOn())
	assert.Equal(t, 40, s.Attributes()["level"])

	// the threshold is read on every evaluation
	expr, err := model.CompilePhotoExpression("level >= 30")
	require.NoError(t, err)
	src.threshold = expr
	assert.True(t, s.IsOn())

	// a non-boolean expression falls back to the default threshold
	expr, err = model.CompilePhotoExpression("level * 2")
	require.NoError(t, err)
	src.threshold = expr
	assert.False(t, s.IsOn())
}

func TestBinarySensor_UnrecognizedIsNil(t *testing.T) {
	assert.Nil(t, NewBinarySensor(&MockSource{}, model.Sensor{ID: 1, SubType: "TemperatureSensor"}))
}

func TestScene_ActivateAndAvailability(t *testing.T) {
	rec := model.Scene{ID: 7, Name: "Movie", Type: "Media"}
	src := &MockSource{data: model.Snapshot{Scenes: []model.Scene{rec}}, success: true}
	s := NewScene(src, rec)

	assert.Equal(t, "crestron_home_scene_7", s.UniqueID())
	assert.Equal(t, SceneUniqueID(7), s.UniqueID())
	assert.Equal(t, DeviceIdentifier(7), s.DeviceInfo().Identifier)
	assert.True(t, s.Available())
	assert.Equal(t, "Media Scene", s.DeviceInfo().Model)
	assert.Equal(t, "unknown", s.State())

	src.On("RecallScene", mock.Anything, 7).Return(nil)
	require.NoError(t, s.Activate(context.Background()))
	assert.NotEqual(t, "unknown", s.State())
	src.AssertExpectations(t)

	src.data.Scenes[0].ConnectionStatus = "offline"
	assert.False(t, s.Available())
}

func TestFactory_SkipsUnrecognizedKinds(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	f := NewFactory(&MockSource{}, logrus.NewEntry(logger))

	lights := f.Lights([]model.Light{
		{ID: 1, SubType: "Dimmer"},
		{ID: 2, SubType: "Switch"},
		{ID: 3, SubType: "Shade"},
	})
	assert.Len(t, lights, 2)

	sensors := f.BinarySensors([]model.Sensor{
		{ID: 1, SubType: "OccupancySensor"},
		{ID: 2, SubType: "PhotoSensor"},
		{ID: 3, SubType: "DoorSensor"},
	})
	assert.Len(t, sensors, 2)

	assert.Len(t, hook.AllEntries(), 2)
	for _, e := range hook.AllEntries() {
		assert.Equal(t, logrus.WarnLevel, e.Level)
	}

	assert.Len(t, f.Scenes([]model.Scene{{ID: 1}, {ID: 2}}), 2)
}
