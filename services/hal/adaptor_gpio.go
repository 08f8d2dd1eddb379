// services/hal/adaptor_gpio.go
package hal

import (
	"context"
	"time"

	"overlaycode-go/errcode"
	"overlaycode-go/services/hal/internal/consts"
	"overlaycode-go/services/hal/internal/halerr"
	"overlaycode-go/services/hal/internal/util"
	"overlaycode-go/types"
	"overlaycode-go/x/jsonx"
	"overlaycode-go/x/timex"
)

type gpioAdaptor struct {
	id      string
	pin     GPIOPin
	params  types.GPIOParams
	release func() error
}

func NewGPIOAdaptor(id string, pin GPIOPin, p types.GPIOParams) *gpioAdaptor {
	return &gpioAdaptor{id: id, pin: pin, params: p}
}

func (a *gpioAdaptor) ID() string { return a.id }

func (a *gpioAdaptor) Capabilities() []CapInfo {
	mode := a.params.Mode
	if mode != "input" && mode != "output" {
		mode = "output"
	}
	return []CapInfo{{
		Domain: types.DomainIO,
		Kind:   types.KindGPIO,
		Info: types.Info{
			SchemaVersion: 1,
			Driver:        "sysfs_gpio",
			Detail: types.GPIOInfo{
				Pin:    a.pin.Number(),
				Mode:   mode,
				Invert: a.params.Invert,
				Pull:   a.params.Pull,
			},
		},
	}}
}

// Trigger/Collect give read_now a current level; edges come from the IRQ
// worker.
func (a *gpioAdaptor) Trigger(context.Context) (time.Duration, error) { return 0, nil }

func (a *gpioAdaptor) Collect(context.Context) (Sample, error) {
	lvl, err := a.level()
	if err != nil {
		return nil, err
	}
	ts := timex.NowMs()
	return Sample{{Kind: types.KindGPIO, Payload: types.GPIOValue{Level: util.BoolToInt(lvl)}, TsMs: ts}}, nil
}

func (a *gpioAdaptor) Control(_ context.Context, kind types.Kind, method string, payload any) (any, error) {
	if kind != types.KindGPIO {
		return nil, ErrUnsupported
	}
	switch method {
	case "configure_input":
		return a.confInput(payload)
	case "configure_output":
		return a.confOutput(payload)
	case "set":
		lvl := wantBool(payload, "level")
		if err := a.pin.Set(lvl != a.params.Invert); err != nil {
			return nil, err
		}
		return types.GPIOValue{Level: util.BoolToInt(lvl)}, nil
	case "get":
		lvl, err := a.level()
		if err != nil {
			return nil, err
		}
		return types.GPIOValue{Level: util.BoolToInt(lvl)}, nil
	case "toggle":
		if err := a.pin.Toggle(); err != nil {
			return nil, err
		}
		lvl, err := a.level()
		if err != nil {
			return nil, err
		}
		return types.GPIOValue{Level: util.BoolToInt(lvl)}, nil
	default:
		return nil, ErrUnsupported
	}
}

func (a *gpioAdaptor) Close() error {
	if a.release == nil {
		return nil
	}
	return a.release()
}

// level is the logical level, inversion applied.
func (a *gpioAdaptor) level() (bool, error) {
	lvl, err := a.pin.Get()
	if err != nil {
		return false, err
	}
	return lvl != a.params.Invert, nil
}

func (a *gpioAdaptor) confInput(p any) (any, error) {
	pull := parsePull(mapFromAny(p)["pull"])
	if err := a.pin.ConfigureInput(pull); err != nil {
		return nil, err
	}
	a.params.Mode = "input"
	a.params.Pull = toPullString(pull)
	return map[string]any{"mode": "input", "pull": a.params.Pull}, nil
}

func (a *gpioAdaptor) confOutput(p any) (any, error) {
	init := wantBool(mapFromAny(p), "initial")
	if err := a.pin.ConfigureOutput(init != a.params.Invert); err != nil {
		return nil, err
	}
	a.params.Mode = "output"
	a.params.Initial = &init
	return map[string]any{"mode": "output"}, nil
}

// ---- builder ----

func buildGPIO(in BuildInput) (BuildOutput, error) {
	if in.Res.Pins == nil {
		return BuildOutput{}, errcode.New(errcode.Unsupported, "hal.gpio", "no gpio controller")
	}
	var p types.GPIOParams
	if err := jsonx.Decode(in.Params, &p); err != nil {
		return BuildOutput{}, errcode.Wrap(errcode.InvalidParams, "gpio.params", err)
	}

	var pin GPIOPin
	var err error
	switch {
	case p.Index != nil:
		pin, err = in.Res.Pins.ByUserIndex(*p.Index)
	case p.Pin != nil:
		pin, err = in.Res.Pins.ByNumber(*p.Pin)
	case p.Name != "":
		if in.Res.Fabric == nil {
			return BuildOutput{}, errcode.New(errcode.Unsupported, "hal.gpio", "no fabric manager for gpio name")
		}
		var idx int
		if idx, err = in.Res.Fabric.GPIOIndex(p.Name); err == nil {
			pin, err = in.Res.Pins.ByUserIndex(idx)
		}
	default:
		return BuildOutput{}, halerr.ErrMissingTarget
	}
	if err != nil {
		return BuildOutput{}, err
	}
	release := func() error { return in.Res.Pins.Release(pin.Number()) }

	switch p.Mode {
	case "input":
		err = pin.ConfigureInput(parsePull(p.Pull))
	case "output", "":
		p.Mode = "output"
		init := p.Initial != nil && *p.Initial
		err = pin.ConfigureOutput(init != p.Invert)
	default:
		err = halerr.ErrInvalidMode
	}
	if err != nil {
		_ = release()
		return BuildOutput{}, err
	}

	ad := NewGPIOAdaptor(in.DeviceID, pin, p)
	ad.release = release
	out := BuildOutput{Adaptor: ad, WorkerKey: consts.TypeGPIO}

	if p.Mode == "input" && p.IRQ != nil {
		edge := ParseEdge(p.IRQ.Edge)
		irqPin, ok := pin.(IRQPin)
		if edge != EdgeNone && ok {
			out.IRQ = &IRQRequest{
				DevID:      in.DeviceID,
				Pin:        irqPin,
				Edge:       edge,
				DebounceMS: p.IRQ.DebounceMS,
				Invert:     p.Invert,
			}
		}
	}
	return out, nil
}

func init() { RegisterBuilder(consts.TypeGPIO, BuilderFunc(buildGPIO)) }
