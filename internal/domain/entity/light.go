package entity

import (
	"context"
	"sync"
	"time"

	"crestron-home-bridge/internal/domain/model"
	"github.com/amimof/huego"
)

const maxHueBri = 254

type Light struct {
	src     Source
	id      int
	initial model.Light

	// Optimistic copy written after a command; valid only while the
	// coordinator snapshot generation it was taken against is current.
	mu        sync.Mutex
	shadow    *model.Light
	shadowGen uint64
}

func NewLight(src Source, rec model.Light) *Light {
	return &Light{src: src, id: rec.ID, initial: rec}
}

func (l *Light) ID() int { return l.id }

func (l *Light) UniqueID() string { return LightUniqueID(l.id) }

func (l *Light) Platform() string { return model.PlatformLight }

func (l *Light) Name() string { return l.initial.Name }

// Record returns the freshest known record for this light.
func (l *Light) Record() model.Light {
	data := l.src.Data()
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.shadow != nil {
		if l.shadowGen == data.Generation {
			return *l.shadow
		}
		l.shadow = nil
	}
	if rec, ok := data.Light(l.id); ok {
		return rec
	}
	return l.initial
}

func (l *Light) IsOn() bool { return l.Record().Level > 0 }

func (l *Light) State() string { return onOff(l.IsOn()) }

// Brightness is reported for dimmers only.
func (l *Light) Brightness() (int, bool) {
	rec := l.Record()
	if rec.Kind() != model.LightDimmer {
		return 0, false
	}
	return FromHubLevel(rec.Level), true
}

func (l *Light) SupportsTransition() bool { return l.initial.Kind() == model.LightDimmer }

func (l *Light) Available() bool {
	return l.src.LastUpdateSuccess() && l.Record().Online()
}

func (l *Light) DeviceInfo() model.DeviceInfo {
	return deviceInfo(l.src, l.id, l.initial.Name, l.initial.SubType)
}

func (l *Light) Attributes() map[string]any {
	rec := l.Record()
	return map[string]any{
		"light_id":          l.id,
		"room_id":           rec.RoomID,
		"connection_status": rec.ConnectionStatus,
		"subType":           rec.SubType,
		"level":             rec.Level,
	}
}

// TurnOn sends the new level to the hub. A nil brightness, or any switch,
// means full on.
func (l *Light) TurnOn(ctx context.Context, brightness *int, transition time.Duration) error {
	rec := l.Record()
	level := model.MaxLevel
	if rec.Kind() == model.LightDimmer && brightness != nil {
		level = ToHubLevel(*brightness)
	}
	return l.send(ctx, rec, level, transition)
}

func (l *Light) TurnOff(ctx context.Context, transition time.Duration) error {
	return l.send(ctx, l.Record(), 0, transition)
}

func (l *Light) send(ctx context.Context, rec model.Light, level int, transition time.Duration) error {
	if err := l.src.SetLightState(ctx, l.id, level, int(transition/time.Millisecond)); err != nil {
		return err
	}
	rec.Level = level
	gen := l.src.Data().Generation
	l.mu.Lock()
	l.shadow = &rec
	l.shadowGen = gen
	l.mu.Unlock()
	return nil
}

// HueState renders the light for the Hue API.
func (l *Light) HueState() *huego.State {
	rec := l.Record()
	state := &huego.State{
		On:        rec.Level > 0,
		Reachable: l.Available(),
	}
	if rec.Level > 0 {
		state.Bri = uint8(min(FromHubLevel(rec.Level), maxHueBri))
	}
	return state
}

// ApplyHue maps a Hue state change onto TurnOn/TurnOff. bri is nil when the
// request did not carry one.
func (l *Light) ApplyHue(ctx context.Context, on bool, bri *uint8, transition time.Duration) error {
	if !on {
		return l.TurnOff(ctx, transition)
	}
	if bri == nil {
		return l.TurnOn(ctx, nil, transition)
	}
	b := int(*bri)
	return l.TurnOn(ctx, &b, transition)
}
