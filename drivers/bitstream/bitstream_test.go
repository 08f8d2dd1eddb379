package bitstream

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"overlaycode-go/errcode"
)

func field(tag byte, s string) []byte {
	b := []byte{tag, 0, 0}
	binary.BigEndian.PutUint16(b[1:], uint16(len(s)+1))
	b = append(b, s...)
	return append(b, 0)
}

func image(data []byte) []byte {
	var b bytes.Buffer
	b.Write(preamble)
	b.Write(field('a', "base_wrapper;UserID=0XFFFFFFFF;Version=2016.1"))
	b.Write(field('b', "7z020clg400"))
	b.Write(field('c', "2017/02/09"))
	b.Write(field('d', "10:50:16"))
	b.WriteByte('e')
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(data)))
	b.Write(n[:])
	b.Write(data)
	return b.Bytes()
}

func TestParseHeader(t *testing.T) {
	data := []byte{0xaa, 0x99, 0x55, 0x66}
	img := image(data)
	h, err := ParseHeader(bytes.NewReader(img))
	if err != nil {
		t.Fatal(err)
	}
	if h.Design != "base_wrapper" || h.UserID != "0XFFFFFFFF" || h.Version != "2016.1" {
		t.Fatalf("design fields: %+v", h)
	}
	if h.Part != "7z020clg400" || h.Date != "2017/02/09" || h.Time != "10:50:16" {
		t.Fatalf("part/date/time: %+v", h)
	}
	if h.DataLength != 4 {
		t.Fatalf("length=%d", h.DataLength)
	}
	if !bytes.Equal(img[h.DataOffset:], data) {
		t.Fatalf("offset %d does not point at data", h.DataOffset)
	}
}

func TestParseHeaderRejects(t *testing.T) {
	bad := image(nil)
	bad[1] = 0x08
	cases := map[string][]byte{
		"empty":       nil,
		"preamble":    bad,
		"no data":     append(append([]byte{}, preamble...), field('a', "x")...),
		"unknown tag": append(append([]byte{}, preamble...), field('z', "x")...),
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseHeader(bytes.NewReader(in))
			if !errors.Is(err, errcode.InvalidBitstream) {
				t.Fatalf("want invalid_bitstream, got %v", err)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	if got := Resolve("/opt/bs", "base"); got != "/opt/bs/base.bit" {
		t.Fatalf("got %q", got)
	}
	if got := Resolve("/opt/bs", "sub/pr.bit"); got != "/opt/bs/sub/pr.bit" {
		t.Fatalf("got %q", got)
	}
	if got := Resolve("/opt/bs", "/abs/x.bit"); got != "/abs/x.bit" {
		t.Fatalf("got %q", got)
	}
}

func TestOpenIn(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "base.bit"), image(make([]byte, 32)), 0o644); err != nil {
		t.Fatal(err)
	}
	b, err := OpenIn(dir, "base", true)
	if err != nil {
		t.Fatal(err)
	}
	if b.Name != "base.bit" || !b.Partial || b.Header.DataLength != 32 {
		t.Fatalf("%+v", b)
	}
	if b.DescriptorPath() != filepath.Join(dir, "base.tcl") {
		t.Fatalf("descriptor %q", b.DescriptorPath())
	}

	if _, err := OpenIn(dir, "missing", false); !errors.Is(err, errcode.UnknownBitstream) {
		t.Fatalf("missing: %v", err)
	}

	trunc := image(make([]byte, 32))
	if err := os.WriteFile(filepath.Join(dir, "short.bit"), trunc[:len(trunc)-8], 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenIn(dir, "short", false); !errors.Is(err, errcode.InvalidBitstream) {
		t.Fatalf("truncated: %v", err)
	}
}

func newTestProgrammer(t *testing.T) (*Programmer, string, string) {
	t.Helper()
	dir := t.TempDir()
	dev := filepath.Join(dir, "xdevcfg")
	flag := filepath.Join(dir, "is_partial_bitstream")
	for _, p := range []string{dev, flag} {
		if err := os.WriteFile(p, nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	p := NewProgrammer(dev, flag)
	p.ChunkSize = 7
	return p, dev, flag
}

func TestDownload(t *testing.T) {
	p, dev, flag := newTestProgrammer(t)
	dir := t.TempDir()
	img := image(bytes.Repeat([]byte{0x5a}, 100))
	if err := os.WriteFile(filepath.Join(dir, "pr.bit"), img, 0o644); err != nil {
		t.Fatal(err)
	}

	for _, partial := range []bool{true, false} {
		b, err := OpenIn(dir, "pr", partial)
		if err != nil {
			t.Fatal(err)
		}
		ts, err := p.Download(context.Background(), b)
		if err != nil {
			t.Fatal(err)
		}
		if ts.IsZero() {
			t.Fatal("zero timestamp")
		}
		got, _ := os.ReadFile(dev)
		if !bytes.Equal(got, img) {
			t.Fatalf("device got %d bytes, want %d", len(got), len(img))
		}
		want := "0"
		if partial {
			want = "1"
		}
		if f, _ := os.ReadFile(flag); string(f) != want {
			t.Fatalf("partial=%v flag=%q", partial, f)
		}
	}
}

func TestDownloadCancelled(t *testing.T) {
	p, _, _ := newTestProgrammer(t)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "x.bit"), image(make([]byte, 16)), 0o644); err != nil {
		t.Fatal(err)
	}
	b, err := OpenIn(dir, "x", false)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Download(ctx, b); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

func TestDownloadMissingDevice(t *testing.T) {
	p, _, _ := newTestProgrammer(t)
	p.Device = filepath.Join(t.TempDir(), "nope")
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "x.bit"), image(nil), 0o644); err != nil {
		t.Fatal(err)
	}
	b, _ := OpenIn(dir, "x", false)
	if _, err := p.Download(context.Background(), b); !errors.Is(err, errcode.DownloadFailed) {
		t.Fatalf("want download_failed, got %v", err)
	}
}
