// Package mmio maps a window of physical address space through /dev/mem
// and offers word-granular register access to it.
//
// Offsets are relative to the window base and must be multiples of
// consts.MMIOWordLength. Every access is a single 32-bit load or store.
package mmio

import (
	"os"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"overlaycode-go/consts"
	"overlaycode-go/errcode"
	"overlaycode-go/x/mathx"
)

// Config selects the physical span to map.
type Config struct {
	// Device defaults to consts.MMIODevice.
	Device string
	Base   uint64
	Length uint64
}

// Window is a mapped span of physical memory. Safe for concurrent use.
type Window struct {
	mu     sync.RWMutex
	base   uint64
	length uint64
	skew   uint64 // base minus the page-aligned mapping start
	mem    []byte
	f      *os.File
}

// Open maps [cfg.Base, cfg.Base+cfg.Length).
func Open(cfg Config) (*Window, error) {
	if cfg.Device == "" {
		cfg.Device = consts.MMIODevice
	}
	if cfg.Length == 0 {
		return nil, errcode.New(errcode.InvalidParams, "mmio.open", "zero length")
	}
	if !aligned(cfg.Base) {
		return nil, errcode.New(errcode.Misaligned, "mmio.open", "base must be word aligned")
	}

	page := uint64(unix.Getpagesize())
	start := mathx.AlignDown(cfg.Base, page)
	skew := cfg.Base - start
	span := mathx.AlignUp(skew+cfg.Length, page)

	f, err := os.OpenFile(cfg.Device, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, errcode.Wrap(errcode.Error, "mmio.open", err)
	}
	mem, err := unix.Mmap(int(f.Fd()), int64(start), int(span), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, errcode.Wrap(errcode.Error, "mmio.mmap", err)
	}
	return &Window{
		base:   cfg.Base,
		length: cfg.Length,
		skew:   skew,
		mem:    mem,
		f:      f,
	}, nil
}

func (w *Window) Base() uint64   { return w.base }
func (w *Window) Length() uint64 { return w.length }

// Read32 loads the word at off.
func (w *Window) Read32(off uint64) (uint32, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	p, err := w.word(off, "mmio.read32")
	if err != nil {
		return 0, err
	}
	return atomic.LoadUint32(p), nil
}

// Write32 stores v at off.
func (w *Window) Write32(off uint64, v uint32) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	p, err := w.word(off, "mmio.write32")
	if err != nil {
		return err
	}
	atomic.StoreUint32(p, v)
	return nil
}

// ReadWords fills dst from consecutive words starting at off.
func (w *Window) ReadWords(off uint64, dst []uint32) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if err := w.span(off, len(dst), "mmio.read"); err != nil {
		return err
	}
	for i := range dst {
		p, _ := w.word(off+uint64(i)*consts.MMIOWordLength, "mmio.read")
		dst[i] = atomic.LoadUint32(p)
	}
	return nil
}

// WriteWords stores src into consecutive words starting at off.
func (w *Window) WriteWords(off uint64, src []uint32) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if err := w.span(off, len(src), "mmio.write"); err != nil {
		return err
	}
	for i, v := range src {
		p, _ := w.word(off+uint64(i)*consts.MMIOWordLength, "mmio.write")
		atomic.StoreUint32(p, v)
	}
	return nil
}

// Close unmaps the window. Later accesses fail with errcode.Closed.
func (w *Window) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.mem == nil {
		return nil
	}
	err := unix.Munmap(w.mem)
	w.mem = nil
	if cerr := w.f.Close(); err == nil {
		err = cerr
	}
	return err
}

func (w *Window) word(off uint64, op string) (*uint32, error) {
	if err := w.span(off, 1, op); err != nil {
		return nil, err
	}
	return (*uint32)(unsafe.Pointer(&w.mem[w.skew+off])), nil
}

// span validates n words at off. Caller holds w.mu.
func (w *Window) span(off uint64, n int, op string) error {
	if w.mem == nil {
		return errcode.Wrap(errcode.Closed, op, nil)
	}
	if !aligned(off) {
		return errcode.New(errcode.Misaligned, op, "offset must be a multiple of 4")
	}
	if !mathx.Fits(off, uint64(n)*consts.MMIOWordLength, w.length) {
		return errcode.New(errcode.OutOfRange, op, "access beyond window")
	}
	return nil
}

func aligned(v uint64) bool {
	return uint32(v)&^consts.MMIOWordMask == 0
}
