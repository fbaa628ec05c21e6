package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"crestron-home-bridge/internal/domain/entity"
	"crestron-home-bridge/internal/domain/model"
	"crestron-home-bridge/internal/ports"
	"github.com/Knetic/govaluate"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNotReady is returned when the first refresh fails during setup.
	// The caller is expected to retry setup later.
	ErrNotReady = errors.New("crestron home not ready")

	// ErrUpdateFailed wraps client errors raised during a poll tick.
	ErrUpdateFailed = errors.New("error communicating with Crestron Home")
)

type State int

const (
	StateUninitialized State = iota
	StateReady
	StateRefreshing
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateRefreshing:
		return "refreshing"
	case StateFailed:
		return "failed"
	}
	return "uninitialized"
}

// SceneDiff is the outcome of one scene reconciliation.
type SceneDiff struct {
	Added   []int
	Removed []int
}

// Coordinator polls the hub and owns the cached view of it.
type Coordinator struct {
	api      ports.CrestronPort
	devices  ports.DeviceRegistry
	entities ports.EntityRegistry
	entryID  string
	log      logrus.FieldLogger
	factory  *entity.Factory

	// refreshMu keeps refresh and reconciliation steps strictly sequential.
	refreshMu sync.Mutex

	mu                sync.RWMutex
	opts              model.Options
	threshold         *govaluate.EvaluableExpression
	state             State
	data              model.Snapshot
	cachedSensors     []model.Sensor
	cachedScenes      []model.Scene
	lastUpdateSuccess bool
	lastErr           error
	addScenes         ports.AddEntitiesFunc
	// set when the last reconciliation failed, so identical options retry it
	scenesStale       bool

	listenerMu sync.Mutex
	listeners  map[int]func()
	nextID     int

	interval time.Duration
	resetMu  sync.Mutex
	resetCh  chan time.Duration
}

func NewCoordinator(api ports.CrestronPort, devices ports.DeviceRegistry, entities ports.EntityRegistry,
	opts model.Options, entryID string, log logrus.FieldLogger) *Coordinator {
	c := &Coordinator{
		api:           api,
		devices:       devices,
		entities:      entities,
		entryID:       entryID,
		log:           log,
		opts:          opts,
		cachedSensors: []model.Sensor{},
		cachedScenes:  []model.Scene{},
		listeners:     make(map[int]func()),
		interval:      opts.Interval(),
		resetCh:       make(chan time.Duration, 1),
	}
	c.threshold = compileThreshold(opts, log)
	c.factory = entity.NewFactory(c, log)
	return c
}

func compileThreshold(opts model.Options, log logrus.FieldLogger) *govaluate.EvaluableExpression {
	expr, err := model.CompilePhotoExpression(opts.PhotoExpression())
	if err != nil {
		log.Warnf("Ignoring invalid photo sensor threshold: %v", err)
		return nil
	}
	return expr
}

func (c *Coordinator) EntryID() string { return c.entryID }

func (c *Coordinator) Options() model.Options {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.opts
}

// Data returns a copy of the cached snapshot.
func (c *Coordinator) Data() model.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.data.Clone()
}

func (c *Coordinator) LastUpdateSuccess() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastUpdateSuccess
}

func (c *Coordinator) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Coordinator) Factory() *entity.Factory { return c.factory }

// PhotoThreshold is the compiled photo sensor expression of the current
// options, or nil when it does not compile.
func (c *Coordinator) PhotoThreshold() *govaluate.EvaluableExpression {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.threshold
}

// AddListener registers fn to run after every refresh. The returned func
// removes it.
func (c *Coordinator) AddListener(fn func()) func() {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	return func() {
		c.listenerMu.Lock()
		defer c.listenerMu.Unlock()
		delete(c.listeners, id)
	}
}

func (c *Coordinator) notify() {
	c.listenerMu.Lock()
	fns := make([]func(), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.listenerMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// SetSceneAdder stores the scene platform's add-entities callback for use
// by later reconciliations.
func (c *Coordinator) SetSceneAdder(add ports.AddEntitiesFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addScenes = add
}

// FirstRefresh performs the initial load. Failure is fatal to setup.
func (c *Coordinator) FirstRefresh(ctx context.Context) error {
	if err := c.Refresh(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrNotReady, err)
	}
	return nil
}

// Refresh fetches lights, and sensors when polling is enabled, and
// replaces the snapshot. On failure the previous snapshot is kept.
func (c *Coordinator) Refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	err := c.refresh(ctx)
	c.notify()
	return err
}

func (c *Coordinator) refresh(ctx context.Context) error {
	c.mu.Lock()
	c.state = StateRefreshing
	opts := c.opts
	c.mu.Unlock()

	next, err := c.fetch(ctx, opts)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.state = StateFailed
		c.lastUpdateSuccess = false
		c.lastErr = fmt.Errorf("%w: %w", ErrUpdateFailed, err)
		return c.lastErr
	}
	next.Generation = c.data.Generation + 1
	c.data = next
	if opts.PollSensors {
		// keeps the cache current should polling be switched off later
		c.cachedSensors = next.Sensors
	}
	c.state = StateReady
	c.lastUpdateSuccess = true
	c.lastErr = nil
	return nil
}

func (c *Coordinator) fetch(ctx context.Context, opts model.Options) (model.Snapshot, error) {
	lights, err := c.api.GetLights(ctx)
	if err != nil {
		return model.Snapshot{}, err
	}

	var sensors []model.Sensor
	if opts.PollSensors {
		sensors, err = c.api.GetSensors(ctx)
		if err != nil {
			return model.Snapshot{}, err
		}
	} else {
		c.mu.RLock()
		sensors = c.cachedSensors
		c.mu.RUnlock()
	}

	c.mu.RLock()
	scenes := c.cachedScenes
	c.mu.RUnlock()

	return model.Snapshot{Lights: lights, Sensors: sensors, Scenes: scenes}, nil
}

// Run refreshes on the polling interval until ctx is done. Failed ticks
// are logged; the schedule is not altered by failures.
func (c *Coordinator) Run(ctx context.Context) {
	c.mu.RLock()
	interval := c.interval
	c.mu.RUnlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case d := <-c.resetCh:
			c.log.Infof("Polling interval changed to %s", d)
			ticker.Reset(d)
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil {
				c.log.Warnf("Update failed: %v", err)
			}
		}
	}
}

// InitialSensors fetches sensors once regardless of the polling setting
// and caches them for non-polling mode.
func (c *Coordinator) InitialSensors(ctx context.Context) []model.Sensor {
	sensors, err := c.api.GetSensors(ctx)
	if err != nil {
		c.log.Warnf("Could not fetch initial sensor data: %v", err)
		return []model.Sensor{}
	}
	c.mu.Lock()
	c.cachedSensors = sensors
	c.data.Sensors = append([]model.Sensor(nil), sensors...)
	c.mu.Unlock()
	return sensors
}

// InitialScenes fetches and filters the scene list for platform setup.
func (c *Coordinator) InitialScenes(ctx context.Context) []model.Scene {
	all, err := c.api.GetScenes(ctx)
	if err != nil {
		c.log.Warnf("Could not fetch initial scene data: %v", err)
		return []model.Scene{}
	}
	c.mu.Lock()
	filtered := FilterScenes(all, c.opts, c.log)
	c.cachedScenes = filtered
	c.data.Scenes = append([]model.Scene(nil), filtered...)
	c.mu.Unlock()
	return filtered
}

// FilterScenes keeps the scenes whose kind is imported by opts.
func FilterScenes(scenes []model.Scene, opts model.Options, log logrus.FieldLogger) []model.Scene {
	filtered := make([]model.Scene, 0, len(scenes))
	for _, sc := range scenes {
		if opts.Imports(sc.Kind()) {
			filtered = append(filtered, sc)
			continue
		}
		if log != nil {
			log.Debugf("Skipping scene '%s' (type: %s) due to configuration", sc.Name, sc.Type)
		}
	}
	return filtered
}

// ReconcileScenes aligns registered scene entities with the current filter
// and the hub's scene list, then requests a refresh. A failed fetch leaves
// registrations untouched.
func (c *Coordinator) ReconcileScenes(ctx context.Context) (SceneDiff, error) {
	diff, err := c.reconcile(ctx)
	c.mu.Lock()
	c.scenesStale = err != nil
	c.mu.Unlock()
	if err != nil {
		c.log.Errorf("Error updating scene entities: %v", err)
		return SceneDiff{}, err
	}
	if err := c.Refresh(ctx); err != nil {
		c.log.Warnf("Refresh after scene update failed: %v", err)
	}
	return diff, nil
}

func (c *Coordinator) reconcile(ctx context.Context) (SceneDiff, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	all, err := c.api.GetScenes(ctx)
	if err != nil {
		return SceneDiff{}, err
	}

	c.mu.RLock()
	next := FilterScenes(all, c.opts, c.log)
	prev := c.cachedScenes
	add := c.addScenes
	c.mu.RUnlock()

	newIDs := sceneIDs(next)
	oldIDs := sceneIDs(prev)

	var diff SceneDiff
	for _, sc := range prev {
		if _, ok := newIDs[sc.ID]; !ok {
			diff.Removed = append(diff.Removed, sc.ID)
		}
	}
	var added []model.Scene
	for _, sc := range next {
		if _, ok := oldIDs[sc.ID]; !ok {
			diff.Added = append(diff.Added, sc.ID)
			added = append(added, sc)
		}
	}

	for _, id := range diff.Removed {
		c.removeScene(id)
	}

	c.mu.Lock()
	c.cachedScenes = next
	c.data.Scenes = append([]model.Scene(nil), next...)
	c.mu.Unlock()

	if len(added) > 0 && add != nil {
		scenes := c.factory.Scenes(added)
		ents := make([]entity.Entity, 0, len(scenes))
		for _, s := range scenes {
			ents = append(ents, s)
		}
		add(ents)
		c.log.Infof("Added %d new scene entities", len(ents))
	}

	c.cleanupOrphanDevices(newIDs)
	return diff, nil
}

func (c *Coordinator) removeScene(id int) {
	entityID := model.EntityID(model.PlatformScene, entity.SceneUniqueID(id))
	if c.entities.Remove(entityID) {
		c.log.Infof("Removed scene entity: %s", entityID)
	}
	// lights and sensors share the numeric identifier space, so a device
	// still owning entities is left alone
	ident := entity.DeviceIdentifier(id)
	if dev, ok := c.devices.Find(ident); ok && len(c.entities.EntriesForDevice(dev.ID)) == 0 {
		c.devices.Remove(dev.ID)
		c.log.Infof("Removed scene device: %s", ident.ID)
	}
}

// cleanupOrphanDevices removes this entry's devices that are neither the hub
// nor a current scene and own no entities.
func (c *Coordinator) cleanupOrphanDevices(valid map[int]struct{}) {
	validIDs := make(map[string]struct{}, len(valid))
	for id := range valid {
		validIDs[fmt.Sprint(id)] = struct{}{}
	}
	for _, dev := range c.devices.EntriesForConfigEntry(c.entryID) {
		if dev.Identifier.Domain != model.Domain || dev.Identifier.ID == c.entryID {
			continue
		}
		if _, ok := validIDs[dev.Identifier.ID]; ok {
			continue
		}
		if len(c.entities.EntriesForDevice(dev.ID)) > 0 {
			continue
		}
		c.devices.Remove(dev.ID)
		c.log.Infof("Removed orphan device: %s", dev.Identifier.ID)
	}
}

func sceneIDs(scenes []model.Scene) map[int]struct{} {
	ids := make(map[int]struct{}, len(scenes))
	for _, sc := range scenes {
		ids[sc.ID] = struct{}{}
	}
	return ids
}

// ApplyOptions stores new options, pushes credentials to the client,
// resets the poll timer when the interval changed and reconciles scenes.
// Identical options are ignored unless the previous reconciliation failed.
// Reconciliation failures are logged and reported as an empty diff.
func (c *Coordinator) ApplyOptions(ctx context.Context, opts model.Options) SceneDiff {
	c.mu.Lock()
	if c.opts == opts && !c.scenesStale {
		c.mu.Unlock()
		return SceneDiff{}
	}
	if c.opts.PhotoExpression() != opts.PhotoExpression() {
		c.threshold = compileThreshold(opts, c.log)
	}
	c.opts = opts
	intervalChanged := opts.Interval() != c.interval
	c.interval = opts.Interval()
	c.mu.Unlock()

	c.api.Configure(opts.Host, opts.APIToken)
	if intervalChanged {
		c.resetInterval(opts.Interval())
	}
	// failures are logged by ReconcileScenes and leave scenesStale set
	diff, _ := c.ReconcileScenes(ctx)
	return diff
}

// resetInterval leaves only the newest interval pending for Run.
func (c *Coordinator) resetInterval(d time.Duration) {
	c.resetMu.Lock()
	defer c.resetMu.Unlock()
	select {
	case <-c.resetCh:
	default:
	}
	c.resetCh <- d
}

func (c *Coordinator) SetLightState(ctx context.Context, lightID, level, transitionMs int) error {
	return c.api.SetLightState(ctx, []model.LightState{{ID: lightID, Level: level, Time: transitionMs}})
}

func (c *Coordinator) RecallScene(ctx context.Context, sceneID int) error {
	return c.api.RecallScene(ctx, sceneID)
}

func (c *Coordinator) SetMediaRoomSource(ctx context.Context, mediaRoomID, sourceID int) error {
	return c.api.SetMediaRoomSource(ctx, mediaRoomID, sourceID)
}

// Shutdown releases the client's connections.
func (c *Coordinator) Shutdown() error {
	return c.api.Close()
}
