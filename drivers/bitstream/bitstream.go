// Package bitstream parses FPGA configuration images and programs them
// through the devcfg driver, for full or partial reconfiguration.
package bitstream

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"overlaycode-go/consts"
	"overlaycode-go/errcode"
	"overlaycode-go/x/logx"
)

const (
	Ext              = ".bit"
	defaultChunkSize = 64 << 10
)

// Bitstream is a validated image on disk.
type Bitstream struct {
	Name    string // file name without directory
	Path    string
	Partial bool
	Size    int64
	Header  Header
}

// Resolve turns a bare or relative name into a path under dir. Names
// without an extension get ".bit". Absolute paths are returned unchanged.
func Resolve(dir, name string) string {
	if filepath.Ext(name) == "" {
		name += Ext
	}
	if filepath.IsAbs(name) {
		return name
	}
	if dir == "" {
		dir = consts.BitstreamSearchPath
	}
	return filepath.Join(dir, name)
}

// Open resolves name against consts.BitstreamSearchPath and validates
// the image.
func Open(name string, partial bool) (*Bitstream, error) {
	return OpenIn("", name, partial)
}

// OpenIn is Open with an explicit search directory.
func OpenIn(dir, name string, partial bool) (*Bitstream, error) {
	path := Resolve(dir, name)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errcode.Wrap(errcode.UnknownBitstream, "bitstream.open", err)
		}
		return nil, errcode.Wrap(errcode.Error, "bitstream.open", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, errcode.Wrap(errcode.Error, "bitstream.open", err)
	}
	h, err := ParseHeader(f)
	if err != nil {
		return nil, err
	}
	if h.DataOffset+int64(h.DataLength) > st.Size() {
		return nil, invalid("data section truncated", nil)
	}
	return &Bitstream{
		Name:    filepath.Base(path),
		Path:    path,
		Partial: partial,
		Size:    st.Size(),
		Header:  h,
	}, nil
}

// DescriptorPath is the sibling .tcl block-design script.
func (b *Bitstream) DescriptorPath() string {
	return strings.TrimSuffix(b.Path, filepath.Ext(b.Path)) + ".tcl"
}

// Programmer writes images to the configuration device. Downloads are
// serialised.
type Programmer struct {
	// Device defaults to consts.ConfigDevice.
	Device string
	// PartialFlag defaults to consts.PartialBitstreamFlag.
	PartialFlag string
	ChunkSize   int

	mu  sync.Mutex
	log zerolog.Logger
}

func NewProgrammer(device, partialFlag string) *Programmer {
	if device == "" {
		device = consts.ConfigDevice
	}
	if partialFlag == "" {
		partialFlag = consts.PartialBitstreamFlag
	}
	return &Programmer{
		Device:      device,
		PartialFlag: partialFlag,
		ChunkSize:   defaultChunkSize,
		log:         logx.For("bitstream"),
	}
}

// Download sets the partial flag and streams the whole image file to the
// device. ctx is checked between chunks; a cancelled download leaves the
// fabric in an undefined state. Returns the time programming finished.
func (p *Programmer) Download(ctx context.Context, b *Bitstream) (time.Time, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	flag := "0"
	if b.Partial {
		flag = "1"
	}
	if err := os.WriteFile(p.PartialFlag, []byte(flag), 0); err != nil {
		return time.Time{}, errcode.Wrap(errcode.DownloadFailed, "bitstream.partial_flag", err)
	}

	src, err := os.Open(b.Path)
	if err != nil {
		return time.Time{}, errcode.Wrap(errcode.UnknownBitstream, "bitstream.download", err)
	}
	defer src.Close()

	dst, err := os.OpenFile(p.Device, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return time.Time{}, errcode.Wrap(errcode.DownloadFailed, "bitstream.download", err)
	}

	start := time.Now()
	n, cerr := p.copy(ctx, dst, src)
	if err := dst.Close(); cerr == nil {
		cerr = err
	}
	if cerr != nil {
		p.log.Error().Err(cerr).Str("bitstream", b.Name).Int64("written", n).Msg("download failed")
		if errors.Is(cerr, context.Canceled) || errors.Is(cerr, context.DeadlineExceeded) {
			return time.Time{}, cerr
		}
		return time.Time{}, errcode.Wrap(errcode.DownloadFailed, "bitstream.download", cerr)
	}

	done := time.Now()
	p.log.Info().
		Str("bitstream", b.Name).
		Bool("partial", b.Partial).
		Int64("bytes", n).
		Dur("took", done.Sub(start)).
		Msg("downloaded")
	return done, nil
}

func (p *Programmer) copy(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	size := p.ChunkSize
	if size <= 0 {
		size = defaultChunkSize
	}
	buf := make([]byte, size)
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			w, werr := dst.Write(buf[:n])
			total += int64(w)
			if werr != nil {
				return total, werr
			}
		}
		if rerr == io.EOF {
			return total, nil
		}
		if rerr != nil {
			return total, rerr
		}
	}
}
