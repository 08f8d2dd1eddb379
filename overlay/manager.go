// Package overlay ties bitstream download to the descriptor that says
// what the image contains, and keeps the resulting PL state.
package overlay

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/rs/zerolog"

	"overlaycode-go/drivers/bitstream"
	"overlaycode-go/errcode"
	"overlaycode-go/types"
	"overlaycode-go/x/logx"
)

// Downloader is satisfied by *bitstream.Programmer.
type Downloader interface {
	Download(ctx context.Context, b *bitstream.Bitstream) (time.Time, error)
}

type Manager struct {
	SearchPath string // "" means consts.BitstreamSearchPath
	Programmer Downloader
	PL         *PL

	log zerolog.Logger
}

func NewManager(searchPath string, prog Downloader) *Manager {
	return &Manager{
		SearchPath: searchPath,
		Programmer: prog,
		PL:         NewPL(),
		log:        logx.For("overlay"),
	}
}

// Download programs name and records its descriptor. A partial image needs
// a full one underneath it. The descriptor is optional: without one the
// image loads but contributes no IPs.
func (m *Manager) Download(ctx context.Context, name string, partial bool) (types.PLState, error) {
	if partial && m.PL.Empty() {
		return types.PLState{}, errcode.New(errcode.InvalidParams, "overlay.download",
			"partial image without a full overlay")
	}
	bs, err := bitstream.OpenIn(m.SearchPath, name, partial)
	if err != nil {
		return types.PLState{}, err
	}

	desc, err := ParseDescriptorFile(bs.DescriptorPath())
	switch {
	case errors.Is(err, os.ErrNotExist):
		m.log.Warn().Str("bitstream", bs.Name).Msg("no descriptor; IP map left empty")
	case err != nil:
		return types.PLState{}, err
	}

	ts, err := m.Programmer.Download(ctx, bs)
	if err != nil {
		return types.PLState{}, err
	}
	m.PL.Apply(bs.Name, partial, ts, desc)

	m.log.Info().
		Str("bitstream", bs.Name).
		Str("design", bs.Header.Design).
		Int("ips", len(desc.IPs)).
		Bool("partial", partial).
		Msg("overlay loaded")
	return m.PL.Snapshot(), nil
}

func (m *Manager) State() types.PLState { return m.PL.Snapshot() }

func (m *Manager) LookupIP(name string) (types.IP, error) {
	if ip, ok := m.PL.IP(name); ok {
		return ip, nil
	}
	return types.IP{}, errcode.New(errcode.UnknownIP, "overlay.lookup", name)
}

func (m *Manager) IsLoaded(name string) bool { return m.PL.Loaded(name) }

// GPIOIndex resolves a descriptor slice name to a user GPIO index.
func (m *Manager) GPIOIndex(name string) (int, error) {
	if i, ok := m.PL.GPIOIndex(name); ok {
		return i, nil
	}
	return 0, errcode.New(errcode.UnknownPin, "overlay.gpio", name)
}
