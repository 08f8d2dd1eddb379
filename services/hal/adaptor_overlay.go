// services/hal/adaptor_overlay.go
package hal

import (
	"context"
	"time"

	board "overlaycode-go/consts"
	"overlaycode-go/errcode"
	"overlaycode-go/services/hal/internal/consts"
	"overlaycode-go/types"
	"overlaycode-go/x/jsonx"
	"overlaycode-go/x/timex"
)

// overlayAdaptor fronts the fabric manager. Its value is the PL state.
type overlayAdaptor struct {
	id     string
	fabric Fabric
	params types.OverlayParams
}

func (a *overlayAdaptor) ID() string { return a.id }

func (a *overlayAdaptor) Capabilities() []CapInfo {
	return []CapInfo{{
		Domain: types.DomainFabric,
		Kind:   types.KindOverlay,
		Info: types.Info{
			SchemaVersion: 1,
			Driver:        "xdevcfg",
			Detail: types.OverlayInfo{
				Bitstream:   a.params.Bitstream,
				LoadOnStart: a.params.LoadOnStart,
			},
		},
	}}
}

func (a *overlayAdaptor) Trigger(context.Context) (time.Duration, error) { return 0, nil }

func (a *overlayAdaptor) Collect(context.Context) (Sample, error) {
	st := a.fabric.State()
	return Sample{{Kind: types.KindOverlay, Payload: st, TsMs: timex.NowMs()}}, nil
}

func (a *overlayAdaptor) Control(ctx context.Context, kind types.Kind, method string, payload any) (any, error) {
	if kind != types.KindOverlay {
		return nil, ErrUnsupported
	}
	switch method {
	case "download":
		req := types.OverlayDownload{Bitstream: a.params.Bitstream}
		if err := jsonx.Decode(payload, &req); err != nil {
			return nil, errcode.Wrap(errcode.InvalidPayload, "overlay.download", err)
		}
		return a.fabric.Download(ctx, req.Bitstream, req.Partial)
	case "state":
		return a.fabric.State(), nil
	case "ips":
		return a.fabric.State().IPs, nil
	default:
		return nil, ErrUnsupported
	}
}

func (a *overlayAdaptor) Close() error { return nil }

// ---- builder ----

func buildOverlay(in BuildInput) (BuildOutput, error) {
	if in.Res.Fabric == nil {
		return BuildOutput{}, errcode.New(errcode.Unsupported, "hal.overlay", "no fabric manager")
	}
	var p types.OverlayParams
	if err := jsonx.Decode(in.Params, &p); err != nil {
		return BuildOutput{}, errcode.Wrap(errcode.InvalidParams, "overlay.params", err)
	}
	if p.Bitstream == "" {
		p.Bitstream = board.BootBitstreamName
	}
	if p.LoadOnStart && !in.Res.Fabric.IsLoaded(p.Bitstream) {
		if _, err := in.Res.Fabric.Download(in.Ctx, p.Bitstream, p.Partial); err != nil {
			return BuildOutput{}, err
		}
	}
	return BuildOutput{
		Adaptor:   &overlayAdaptor{id: in.DeviceID, fabric: in.Res.Fabric, params: p},
		WorkerKey: consts.TypeOverlay,
	}, nil
}

func init() { RegisterBuilder(consts.TypeOverlay, BuilderFunc(buildOverlay)) }
