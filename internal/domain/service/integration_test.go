package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"crestron-home-bridge/internal/domain/entity"
	"crestron-home-bridge/internal/domain/model"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	mu    sync.Mutex
	calls int
	last  []entity.Entity
}

func (p *fakePublisher) Publish(entryID string, entities []entity.Entity) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.last = entities
	return nil
}

func (p *fakePublisher) Close() {}

func newTestIntegration(api *MockCrestron) (*Integration, *fakeDevices, *fakeEntities) {
	logger, _ := logtest.NewNullLogger()
	devices, entities := newFakeDevices(), newFakeEntities()
	i := NewIntegration(testEntry, testOptions(), api, devices, entities, nil, logrus.NewEntry(logger))
	return i, devices, entities
}

func readyHub() *MockCrestron {
	api := new(MockCrestron)
	api.On("GetLights", mock.Anything).Return(append(testLights, model.Light{ID: 3, Name: "Shade", SubType: "Shade"}), nil)
	api.On("GetSensors", mock.Anything).Return(testSensors, nil)
	api.On("GetScenes", mock.Anything).Return(testScenes, nil)
	return api
}

func TestIntegration_Setup(t *testing.T) {
	api := readyHub()
	i, devices, entities := newTestIntegration(api)
	pub := &fakePublisher{}
	i.UsePublisher(pub)

	require.NoError(t, i.Setup(context.Background()))

	hub, ok := devices.Find(model.DeviceIdentifier{Domain: model.Domain, ID: testEntry})
	require.True(t, ok)
	assert.Equal(t, "Crestron Home (hub.local)", hub.Name)
	assert.Equal(t, "Home Hub", hub.Model)
	assert.Equal(t, "Crestron", hub.Manufacturer)

	assert.True(t, entities.has("light.crestron_home_light_1"))
	assert.True(t, entities.has("light.crestron_home_light_2"))
	assert.False(t, entities.has("light.crestron_home_light_3"), "unrecognized light kinds are skipped")
	assert.True(t, entities.has("binary_sensor.crestron_home_sensor_5"))
	assert.True(t, entities.has("scene.crestron_home_scene_9"))
	assert.False(t, entities.has("scene.crestron_home_scene_7"))

	entry, _, _ := entities.Find("light.crestron_home_light_1")
	dev, ok := devices.Find(model.DeviceIdentifier{Domain: model.Domain, ID: "1"})
	require.True(t, ok)
	assert.Equal(t, dev.ID, entry.DeviceID)
	assert.Equal(t, testEntry, dev.ViaDevice.ID)

	lights := i.Lights(context.Background())
	require.Len(t, lights, 2)
	assert.Equal(t, 1, lights[0].ID())

	assert.Equal(t, 1, pub.calls)
	require.NoError(t, i.Coordinator().Refresh(context.Background()))
	assert.Equal(t, 2, pub.calls)
	assert.Len(t, pub.last, 5)
}

func TestIntegration_SetupNotReady(t *testing.T) {
	api := new(MockCrestron)
	api.On("GetLights", mock.Anything).Return(nil, &model.AuthError{Status: 401})
	i, devices, _ := newTestIntegration(api)

	err := i.Setup(context.Background())
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Empty(t, devices.EntriesForConfigEntry(testEntry))
}

func TestIntegration_SetMediaRoomSource(t *testing.T) {
	api := readyHub()
	api.On("SetMediaRoomSource", mock.Anything, 3, 12).Return(nil)
	i, _, _ := newTestIntegration(api)
	ctx := context.Background()

	err := i.CallService(ctx, ServiceSetMediaRoomSource, map[string]any{"media_room_id": float64(3), "source_id": 12})
	assert.ErrorIs(t, err, ErrUnknownService, "actions are registered by setup")

	require.NoError(t, i.Setup(ctx))
	require.NoError(t, i.CallService(ctx, ServiceSetMediaRoomSource, map[string]any{"media_room_id": float64(3), "source_id": "12"}))
	api.AssertCalled(t, "SetMediaRoomSource", mock.Anything, 3, 12)

	cases := []map[string]any{
		{"source_id": 1},
		{"media_room_id": -1, "source_id": 1},
		{"media_room_id": 1.5, "source_id": 1},
		{"media_room_id": "abc", "source_id": 1},
		{"media_room_id": true, "source_id": 1},
	}
	for _, data := range cases {
		assert.ErrorIs(t, i.CallService(ctx, ServiceSetMediaRoomSource, data), ErrInvalidServiceData, "%v", data)
	}
	api.AssertNumberOfCalls(t, "SetMediaRoomSource", 1)
}

func TestIntegration_ActivateScene(t *testing.T) {
	api := readyHub()
	api.On("RecallScene", mock.Anything, 9).Return(nil)
	i, _, _ := newTestIntegration(api)
	ctx := context.Background()
	require.NoError(t, i.Setup(ctx))

	require.NoError(t, i.ActivateScene(ctx, 9))
	assert.ErrorIs(t, i.ActivateScene(ctx, 7), ErrNotFound)

	_, err := i.Light(ctx, 99)
	assert.ErrorIs(t, err, ErrNotFound)
	l, err := i.Light(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "Porch", l.Name())
}

func TestIntegration_EntitiesAndHealth(t *testing.T) {
	api := readyHub()
	i, _, _ := newTestIntegration(api)
	ctx := context.Background()
	require.NoError(t, i.Setup(ctx))

	views := i.Entities(ctx)
	require.Len(t, views, 5)
	assert.Equal(t, "binary_sensor.crestron_home_sensor_5", views[0].EntityID)
	assert.Equal(t, "on", views[0].State)

	h := i.Health(ctx)
	assert.Equal(t, "ready", h.State)
	assert.True(t, h.LastUpdateSuccess)
	assert.Empty(t, h.LastError)
}

func TestIntegration_Unload(t *testing.T) {
	api := readyHub()
	api.On("Close").Return(nil)
	i, devices, entities := newTestIntegration(api)
	ctx := context.Background()
	require.NoError(t, i.Setup(ctx))

	require.NoError(t, i.Unload())
	assert.Empty(t, devices.EntriesForConfigEntry(testEntry))
	assert.Empty(t, entities.Entities())
	assert.ErrorIs(t, i.CallService(ctx, ServiceSetMediaRoomSource, nil), ErrUnknownService)
	api.AssertCalled(t, "Close")
}

func TestIntegration_UpdateOptionsWithoutRepository(t *testing.T) {
	api := readyHub()
	api.On("Configure", "hub.local", "secret").Return()
	i, _, entities := newTestIntegration(api)
	ctx := context.Background()
	require.NoError(t, i.Setup(ctx))

	opts := testOptions()
	opts.ImportMediaScenes = true
	require.NoError(t, i.UpdateOptions(ctx, &opts))
	assert.True(t, entities.has("scene.crestron_home_scene_7"))

	got, err := i.GetOptions(ctx)
	require.NoError(t, err)
	assert.True(t, got.ImportMediaScenes)
}

func TestIntegration_HealthAfterFailure(t *testing.T) {
	api := readyHub()
	i, _, _ := newTestIntegration(api)
	ctx := context.Background()
	require.NoError(t, i.Setup(ctx))

	api.ExpectedCalls = nil
	api.On("GetLights", mock.Anything).Return(nil, errors.New("boom"))
	_ = i.Coordinator().Refresh(ctx)

	h := i.Health(ctx)
	assert.Equal(t, "failed", h.State)
	assert.False(t, h.LastUpdateSuccess)
	assert.NotEmpty(t, h.LastError)
}
