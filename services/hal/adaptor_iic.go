// services/hal/adaptor_iic.go
package hal

import (
	"context"
	"time"

	"tinygo.org/x/drivers"

	"overlaycode-go/drivers/axiiic"
	"overlaycode-go/errcode"
	"overlaycode-go/services/hal/internal/consts"
	"overlaycode-go/types"
	"overlaycode-go/x/jsonx"
	"overlaycode-go/x/timex"
)

// defaultIICSpan covers the AXI IIC register file.
const defaultIICSpan = 0x1000

// iicAdaptor is control-only: each tx verb is one bus transaction.
type iicAdaptor struct {
	id   string
	name string
	win  Window
	bus  drivers.I2C
}

func (a *iicAdaptor) ID() string { return a.id }

func (a *iicAdaptor) Capabilities() []CapInfo {
	return []CapInfo{{
		Domain: types.DomainBus,
		Kind:   types.KindI2C,
		Info: types.Info{
			SchemaVersion: 1,
			Driver:        "axi_iic",
			Detail:        types.I2CInfo{Controller: a.name, Base: a.win.Base()},
		},
	}}
}

func (a *iicAdaptor) Trigger(context.Context) (time.Duration, error) { return 0, ErrUnsupported }
func (a *iicAdaptor) Collect(context.Context) (Sample, error)        { return nil, ErrUnsupported }

func (a *iicAdaptor) Control(_ context.Context, kind types.Kind, method string, payload any) (any, error) {
	if kind != types.KindI2C || method != "tx" {
		return nil, ErrUnsupported
	}
	var p types.I2CTx
	if err := jsonx.Decode(payload, &p); err != nil {
		return nil, errcode.Wrap(errcode.InvalidPayload, "i2c.tx", err)
	}
	// Dynamic mode carries the read count in one byte.
	if p.ReadLen < 0 || p.ReadLen > 255 {
		return nil, errcode.New(errcode.InvalidParams, "i2c.tx", "read_len outside 0..255")
	}
	r := make([]byte, p.ReadLen)
	if err := a.bus.Tx(p.Addr, p.Write, r); err != nil {
		return nil, err
	}
	return types.I2CResult{Read: r}, nil
}

func (a *iicAdaptor) Close() error { return a.win.Close() }

// ---- builder ----

func buildAXIIIC(in BuildInput) (BuildOutput, error) {
	if in.Res.Windows == nil {
		return BuildOutput{}, errcode.New(errcode.Unsupported, "hal.axi_iic", "no mmio device")
	}
	var p types.I2CParams
	if err := jsonx.Decode(in.Params, &p); err != nil {
		return BuildOutput{}, errcode.Wrap(errcode.InvalidParams, "axi_iic.params", err)
	}
	if p.IP == "" && p.Base != 0 && p.Length == 0 {
		p.Length = defaultIICSpan
	}
	base, length, err := resolveSpan(in.Res, p.IP, p.Base, p.Length)
	if err != nil {
		return BuildOutput{}, err
	}
	win, err := in.Res.Windows.Open(base, length)
	if err != nil {
		return BuildOutput{}, err
	}
	dev, err := axiiic.New(win, axiiic.Config{Timeout: timex.Ms(p.TimeoutMS)})
	if err != nil {
		_ = win.Close()
		return BuildOutput{}, err
	}
	name := p.IP
	if name == "" {
		name = in.DeviceID
	}
	return BuildOutput{Adaptor: &iicAdaptor{id: in.DeviceID, name: name, win: win, bus: dev}}, nil
}

func init() { RegisterBuilder(consts.TypeAXIIIC, BuilderFunc(buildAXIIIC)) }
