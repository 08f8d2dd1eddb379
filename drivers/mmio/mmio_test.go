package mmio

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"

	"overlaycode-go/errcode"
)

// backing creates a file that stands in for /dev/mem.
func backing(t *testing.T, size int) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "mem")
	if err := os.WriteFile(p, make([]byte, size), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestReadWriteRoundTrip(t *testing.T) {
	page := unix.Getpagesize()
	dev := backing(t, 2*page)

	// Base deliberately not page aligned.
	w, err := Open(Config{Device: dev, Base: 0x40, Length: 0x20})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := w.Write32(0x4, 0xDEADBEEF); err != nil {
		t.Fatalf("Write32: %v", err)
	}
	got, err := w.Read32(0x4)
	if err != nil || got != 0xDEADBEEF {
		t.Fatalf("Read32 = %#x, %v", got, err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	raw, err := os.ReadFile(dev)
	if err != nil {
		t.Fatal(err)
	}
	// Host byte order is little-endian on every supported board.
	if v := binary.LittleEndian.Uint32(raw[0x44:]); v != 0xDEADBEEF {
		t.Fatalf("backing word = %#x", v)
	}
}

func TestAlignmentAndRange(t *testing.T) {
	dev := backing(t, unix.Getpagesize())
	w, err := Open(Config{Device: dev, Base: 0, Length: 16})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer w.Close()

	if _, err := w.Read32(2); !errors.Is(err, errcode.Misaligned) {
		t.Fatalf("unaligned read: %v", err)
	}
	if err := w.Write32(16, 1); !errors.Is(err, errcode.OutOfRange) {
		t.Fatalf("out of range write: %v", err)
	}
	if _, err := w.Read32(12); err != nil {
		t.Fatalf("last word: %v", err)
	}
}

func TestBlockAccess(t *testing.T) {
	dev := backing(t, unix.Getpagesize())
	w, err := Open(Config{Device: dev, Base: 0x100, Length: 0x40})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer w.Close()

	src := []uint32{1, 2, 3, 4}
	if err := w.WriteWords(0x8, src); err != nil {
		t.Fatalf("WriteWords: %v", err)
	}
	dst := make([]uint32, 4)
	if err := w.ReadWords(0x8, dst); err != nil {
		t.Fatalf("ReadWords: %v", err)
	}
	for i := range src {
		if dst[i] != src[i] {
			t.Fatalf("word %d: %d != %d", i, dst[i], src[i])
		}
	}
	if err := w.ReadWords(0x38, make([]uint32, 4)); !errors.Is(err, errcode.OutOfRange) {
		t.Fatalf("overlong block: %v", err)
	}
}

func TestOpenValidation(t *testing.T) {
	dev := backing(t, unix.Getpagesize())
	if _, err := Open(Config{Device: dev, Base: 2, Length: 4}); !errors.Is(err, errcode.Misaligned) {
		t.Fatalf("misaligned base: %v", err)
	}
	if _, err := Open(Config{Device: dev, Base: 0, Length: 0}); !errors.Is(err, errcode.InvalidParams) {
		t.Fatalf("zero length: %v", err)
	}
}

func TestClosedWindow(t *testing.T) {
	dev := backing(t, unix.Getpagesize())
	w, err := Open(Config{Device: dev, Length: 4})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Read32(0); !errors.Is(err, errcode.Closed) {
		t.Fatalf("read after close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
