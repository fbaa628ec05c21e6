package service

import (
	"context"
	"errors"
	"testing"

	"crestron-home-bridge/internal/domain/entity"
	"crestron-home-bridge/internal/domain/model"
	"crestron-home-bridge/internal/ports"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockOptionsRepo struct {
	mock.Mock
}

func (m *MockOptionsRepo) Get(ctx context.Context) (*model.Options, error) {
	args := m.Called(ctx)
	opts, _ := args.Get(0).(*model.Options)
	return opts, args.Error(1)
}

func (m *MockOptionsRepo) Save(ctx context.Context, opts *model.Options) error {
	return m.Called(ctx, opts).Error(0)
}

func factoryFor(api *MockCrestron) ports.CrestronFactory {
	return func(host, token string) ports.CrestronPort { return api }
}

func nullLog() logrus.FieldLogger {
	logger, _ := logtest.NewNullLogger()
	return logger
}

func TestValidateInput(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		api := new(MockCrestron)
		api.On("Authenticate", mock.Anything).Return(nil)
		api.On("GetLights", mock.Anything).Return(testLights, nil)
		api.On("Close").Return(nil)

		res, err := ValidateInput(ctx, factoryFor(api), testOptions(), nullLog())
		require.NoError(t, err)
		assert.Equal(t, "Crestron Home (hub.local)", res.Title)
		assert.Equal(t, 2, res.LightsCount)
		api.AssertCalled(t, "Close")
	})

	t.Run("invalid auth", func(t *testing.T) {
		api := new(MockCrestron)
		api.On("Authenticate", mock.Anything).Return(&model.AuthError{Status: 403})
		api.On("Close").Return(nil)

		_, err := ValidateInput(ctx, factoryFor(api), testOptions(), nullLog())
		assert.ErrorIs(t, err, ErrInvalidAuth)
		assert.Equal(t, FormErrorInvalidAuth, FormErrorKey(err))
	})

	t.Run("cannot connect", func(t *testing.T) {
		api := new(MockCrestron)
		api.On("Authenticate", mock.Anything).Return(&model.ConnectionError{Op: "login", Timeout: true})
		api.On("Close").Return(nil)

		_, err := ValidateInput(ctx, factoryFor(api), testOptions(), nullLog())
		assert.Equal(t, FormErrorCannotConnect, FormErrorKey(err))
	})

	t.Run("api error after login", func(t *testing.T) {
		api := new(MockCrestron)
		api.On("Authenticate", mock.Anything).Return(nil)
		api.On("GetLights", mock.Anything).Return(nil, &model.APIError{Method: "GET", Path: "/lights", Status: 500})
		api.On("Close").Return(nil)

		_, err := ValidateInput(ctx, factoryFor(api), testOptions(), nullLog())
		assert.Equal(t, FormErrorCannotConnect, FormErrorKey(err))
	})

	t.Run("invalid options never reach the hub", func(t *testing.T) {
		api := new(MockCrestron)
		opts := testOptions()
		opts.PollingInterval = 301

		_, err := ValidateInput(ctx, factoryFor(api), opts, nullLog())
		assert.ErrorIs(t, err, model.ErrInvalidOptions)
		assert.Equal(t, FormErrorUnknown, FormErrorKey(err))
		api.AssertNotCalled(t, "Authenticate", mock.Anything)
	})
}

func TestFormErrorKey(t *testing.T) {
	assert.Equal(t, "", FormErrorKey(nil))
	assert.Equal(t, FormErrorUnknown, FormErrorKey(errors.New("surprise")))
}

func TestOptionsService_UpdateOptions(t *testing.T) {
	ctx := context.Background()
	validator := new(MockCrestron)
	validator.On("Authenticate", mock.Anything).Return(nil)
	validator.On("GetLights", mock.Anything).Return(testLights, nil)
	validator.On("Close").Return(nil)

	repo := new(MockOptionsRepo)
	svc := NewOptionsService(repo, factoryFor(validator), nullLog())

	running := readyHub()
	running.On("Configure", "hub.local", "secret").Return()
	i := NewIntegration(testEntry, testOptions(), running, newFakeDevices(), newFakeEntities(), svc, nullLog())
	require.NoError(t, i.Setup(ctx))

	opts := testOptions()
	opts.ImportMediaScenes = true
	repo.On("Save", mock.Anything, &opts).Return(nil)

	require.NoError(t, i.UpdateOptions(ctx, &opts))
	repo.AssertExpectations(t)
	assert.True(t, i.Coordinator().Options().ImportMediaScenes)
	_, ok := i.Coordinator().Data().Scene(7)
	assert.True(t, ok)
}

func TestOptionsService_UpdateOptionsSucceedsWhenReconcileFails(t *testing.T) {
	ctx := context.Background()
	validator := new(MockCrestron)
	validator.On("Authenticate", mock.Anything).Return(nil)
	validator.On("GetLights", mock.Anything).Return(testLights, nil)
	validator.On("Close").Return(nil)

	repo := new(MockOptionsRepo)
	svc := NewOptionsService(repo, factoryFor(validator), nullLog())

	running := new(MockCrestron)
	running.On("GetLights", mock.Anything).Return(testLights, nil)
	running.On("GetSensors", mock.Anything).Return(testSensors, nil)
	running.On("GetScenes", mock.Anything).Return(testScenes, nil).Once()
	running.On("GetScenes", mock.Anything).Return(nil, &model.ConnectionError{Op: "GET /scenes", Err: errors.New("boom")}).Once()
	running.On("GetScenes", mock.Anything).Return(testScenes, nil)
	running.On("Configure", "hub.local", "secret").Return()
	running.On("RecallScene", mock.Anything, 7).Return(nil)
	i := NewIntegration(testEntry, testOptions(), running, newFakeDevices(), newFakeEntities(), svc, nullLog())
	require.NoError(t, i.Setup(ctx))

	opts := testOptions()
	opts.ImportMediaScenes = true
	repo.On("Save", mock.Anything, &opts).Return(nil)

	require.NoError(t, i.UpdateOptions(ctx, &opts))
	_, ok := i.Coordinator().Data().Scene(7)
	assert.False(t, ok)

	// resubmitting the saved options completes the scene update
	require.NoError(t, i.UpdateOptions(ctx, &opts))
	_, ok = i.Coordinator().Data().Scene(7)
	assert.True(t, ok)
	require.NoError(t, i.ActivateScene(ctx, 7), "scene 7 is registered")
}

func TestOptionsService_PhotoExpressionAppliesToExistingSensors(t *testing.T) {
	ctx := context.Background()
	validator := new(MockCrestron)
	validator.On("Authenticate", mock.Anything).Return(nil)
	validator.On("GetLights", mock.Anything).Return(testLights, nil)
	validator.On("Close").Return(nil)

	repo := new(MockOptionsRepo)
	svc := NewOptionsService(repo, factoryFor(validator), nullLog())

	photo := model.Sensor{ID: 11, Name: "Window", SubType: "PhotoSensor", Level: 30, ConnectionStatus: "online"}
	running := new(MockCrestron)
	running.On("GetLights", mock.Anything).Return(testLights, nil)
	running.On("GetSensors", mock.Anything).Return([]model.Sensor{photo}, nil)
	running.On("GetScenes", mock.Anything).Return(testScenes, nil)
	running.On("Configure", "hub.local", "secret").Return()
	entities := newFakeEntities()
	i := NewIntegration(testEntry, testOptions(), running, newFakeDevices(), entities, svc, nullLog())
	require.NoError(t, i.Setup(ctx))

	_, e, ok := entities.Find(model.EntityID(model.PlatformBinarySensor, entity.SensorUniqueID(11)))
	require.True(t, ok)
	sensor := e.(*entity.BinarySensor)
	assert.False(t, sensor.IsOn(), "level 30 is below the default threshold")

	opts := testOptions()
	opts.PhotoSensorExpression = "level > 10"
	repo.On("Save", mock.Anything, &opts).Return(nil).Once()
	require.NoError(t, i.UpdateOptions(ctx, &opts))
	assert.True(t, sensor.IsOn())

	bad := testOptions()
	bad.PhotoSensorExpression = "level >"
	err := i.UpdateOptions(ctx, &bad)
	assert.ErrorIs(t, err, model.ErrInvalidOptions)
	repo.AssertNumberOfCalls(t, "Save", 1)
	assert.True(t, sensor.IsOn())
}

func TestOptionsService_FailedValidationIsNotSaved(t *testing.T) {
	ctx := context.Background()
	validator := new(MockCrestron)
	validator.On("Authenticate", mock.Anything).Return(&model.AuthError{Status: 401})
	validator.On("Close").Return(nil)

	repo := new(MockOptionsRepo)
	svc := NewOptionsService(repo, factoryFor(validator), nullLog())

	opts := testOptions()
	err := svc.UpdateOptions(ctx, &opts)
	assert.ErrorIs(t, err, ErrInvalidAuth)
	repo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestOptionsService_ApplyWithoutCoordinator(t *testing.T) {
	svc := NewOptionsService(new(MockOptionsRepo), nil, nullLog())
	assert.NoError(t, svc.Apply(context.Background(), model.Options{}))
}
