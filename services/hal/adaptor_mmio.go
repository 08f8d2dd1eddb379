// services/hal/adaptor_mmio.go
package hal

import (
	"context"
	"time"

	"overlaycode-go/errcode"
	"overlaycode-go/services/hal/internal/consts"
	"overlaycode-go/services/hal/internal/halerr"
	"overlaycode-go/types"
	"overlaycode-go/x/jsonx"
	"overlaycode-go/x/mathx"
	"overlaycode-go/x/timex"
)

// mmioAdaptor exposes a register window. Watched offsets are sampled by
// the measure worker and published as one value per pass.
type mmioAdaptor struct {
	id     string
	win    Window
	params types.MMIOParams
}

func (a *mmioAdaptor) ID() string { return a.id }

func (a *mmioAdaptor) Capabilities() []CapInfo {
	return []CapInfo{{
		Domain: types.DomainFabric,
		Kind:   types.KindMMIO,
		Info: types.Info{
			SchemaVersion: 1,
			Driver:        "mmio",
			Detail: types.MMIOInfo{
				IP:     a.params.IP,
				Base:   a.win.Base(),
				Length: a.win.Length(),
				Watch:  a.params.Watch,
			},
		},
	}}
}

// Register reads are immediate; there is nothing to wait for.
func (a *mmioAdaptor) Trigger(context.Context) (time.Duration, error) {
	if len(a.params.Watch) == 0 {
		return 0, errcode.New(errcode.Unsupported, "mmio.sample", "no watched registers")
	}
	return 0, nil
}

func (a *mmioAdaptor) Collect(context.Context) (Sample, error) {
	regs := make([]types.MMIOValue, 0, len(a.params.Watch))
	for _, off := range a.params.Watch {
		v, err := a.win.Read32(uint64(off))
		if err != nil {
			return nil, err
		}
		regs = append(regs, types.MMIOValue{Offset: off, Value: v})
	}
	ts := timex.NowMs()
	return Sample{{Kind: types.KindMMIO, Payload: types.MMIOSample{Regs: regs, TS: ts}, TsMs: ts}}, nil
}

func (a *mmioAdaptor) Control(_ context.Context, kind types.Kind, method string, payload any) (any, error) {
	if kind != types.KindMMIO {
		return nil, ErrUnsupported
	}
	switch method {
	case "read":
		var p types.MMIORead
		if err := jsonx.Decode(payload, &p); err != nil {
			return nil, errcode.Wrap(errcode.InvalidPayload, "mmio.read", err)
		}
		n := mathx.Clamp(p.Count, 1, 256)
		buf := make([]uint32, n)
		if err := a.win.ReadWords(uint64(p.Offset), buf); err != nil {
			return nil, err
		}
		out := make([]types.MMIOValue, n)
		for i, v := range buf {
			out[i] = types.MMIOValue{Offset: p.Offset + uint32(i*4), Value: v}
		}
		return out, nil
	case "write":
		var p types.MMIOWrite
		if err := jsonx.Decode(payload, &p); err != nil {
			return nil, errcode.Wrap(errcode.InvalidPayload, "mmio.write", err)
		}
		if err := a.win.Write32(uint64(p.Offset), p.Value); err != nil {
			return nil, err
		}
		return types.MMIOValue{Offset: p.Offset, Value: p.Value}, nil
	default:
		return nil, ErrUnsupported
	}
}

func (a *mmioAdaptor) Close() error { return a.win.Close() }

// resolveSpan turns ip or base/length params into a physical span.
func resolveSpan(res Resources, ip string, base, length uint64) (uint64, uint64, error) {
	if ip != "" {
		if res.Fabric == nil {
			return 0, 0, halerr.ErrUnknownIP
		}
		d, err := res.Fabric.LookupIP(ip)
		if err != nil {
			return 0, 0, err
		}
		if length == 0 || length > d.Range {
			length = d.Range
		}
		return d.Base, length, nil
	}
	if base == 0 || length == 0 {
		return 0, 0, halerr.ErrMissingTarget
	}
	return base, length, nil
}

// ---- builder ----

func buildMMIO(in BuildInput) (BuildOutput, error) {
	if in.Res.Windows == nil {
		return BuildOutput{}, errcode.New(errcode.Unsupported, "hal.mmio", "no mmio device")
	}
	var p types.MMIOParams
	if err := jsonx.Decode(in.Params, &p); err != nil {
		return BuildOutput{}, errcode.Wrap(errcode.InvalidParams, "mmio.params", err)
	}
	base, length, err := resolveSpan(in.Res, p.IP, p.Base, p.Length)
	if err != nil {
		return BuildOutput{}, err
	}
	for _, off := range p.Watch {
		if !mathx.Fits(uint64(off), 4, length) || !mathx.IsAligned(off, 4) {
			return BuildOutput{}, errcode.New(errcode.InvalidParams, "mmio.params", "watch offset outside window")
		}
	}
	win, err := in.Res.Windows.Open(base, length)
	if err != nil {
		return BuildOutput{}, err
	}

	out := BuildOutput{
		Adaptor:   &mmioAdaptor{id: in.DeviceID, win: win, params: p},
		WorkerKey: consts.TypeMMIO,
	}
	if len(p.Watch) > 0 && p.SampleMS > 0 {
		ms := mathx.Clamp(p.SampleMS, consts.MinPeriodMS, consts.MaxPeriodMS)
		out.SampleEvery = timex.Ms(ms)
	}
	return out, nil
}

func init() { RegisterBuilder(consts.TypeMMIO, BuilderFunc(buildMMIO)) }
