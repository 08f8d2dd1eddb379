package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"overlaycode-go/drivers/gpio"
	"overlaycode-go/errcode"
	"overlaycode-go/types"
)

type fakeFabric struct {
	st   types.PLState
	last string
}

func (f *fakeFabric) Download(_ context.Context, name string, partial bool) (types.PLState, error) {
	if name == "missing" {
		return types.PLState{}, errcode.New(errcode.UnknownBitstream, "fake", name)
	}
	f.last = name
	f.st.Bitstream, f.st.Partial, f.st.TS = name, partial, time.Now().UnixMilli()
	return f.st, nil
}

func (f *fakeFabric) State() types.PLState { return f.st }

func (f *fakeFabric) LookupIP(name string) (types.IP, error) {
	for _, ip := range f.st.IPs {
		if ip.Name == name {
			return ip, nil
		}
	}
	return types.IP{}, errcode.UnknownIP
}

func newShell(t *testing.T) (*shell, *bytes.Buffer, string) {
	t.Helper()
	mem := filepath.Join(t.TempDir(), "mem")
	if err := os.WriteFile(mem, make([]byte, 2*os.Getpagesize()), 0o600); err != nil {
		t.Fatal(err)
	}
	out := &bytes.Buffer{}
	fab := &fakeFabric{st: types.PLState{IPs: []types.IP{
		{Name: "btns_gpio", Base: 0x100, Range: 0x10},
		{Name: "leds_gpio", Base: 0x40, Range: 0x10, Type: "xilinx.com:ip:axi_gpio:2.0"},
	}}}
	return &shell{out: out, fab: fab, memDev: mem, timeout: time.Second}, out, mem
}

func TestShell_PeekPoke(t *testing.T) {
	sh, out, mem := newShell(t)

	if err := sh.exec("poke 0x44 0xdeadbeef"); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(mem)
	if err != nil {
		t.Fatal(err)
	}
	if v := binary.LittleEndian.Uint32(b[0x44:]); v != 0xdeadbeef {
		t.Fatalf("backing word = %#x", v)
	}

	// IP name plus offset resolves to the same address.
	out.Reset()
	sh.exec("peek leds_gpio 4 2")
	want := "0x00000044: 0xdeadbeef\n0x00000048: 0x00000000\n"
	if out.String() != want {
		t.Fatalf("peek output %q", out.String())
	}

	out.Reset()
	sh.exec("peek 0x42")
	if !strings.Contains(out.String(), "not word aligned") {
		t.Fatalf("misaligned peek: %q", out.String())
	}
	out.Reset()
	sh.exec("peek leds_gpio 0x10")
	if !strings.Contains(out.String(), "offset beyond leds_gpio") {
		t.Fatalf("offset past ip: %q", out.String())
	}
	out.Reset()
	sh.exec("poke 0x40")
	if !strings.Contains(out.String(), "exactly one value") {
		t.Fatalf("poke without value: %q", out.String())
	}
}

func TestShell_DownloadStateIPs(t *testing.T) {
	sh, out, _ := newShell(t)

	sh.exec("state")
	if out.String() != "no overlay loaded\n" {
		t.Fatalf("empty state: %q", out.String())
	}

	out.Reset()
	sh.exec("download base.bit")
	if !strings.Contains(out.String(), "bitstream base.bit partial=false") {
		t.Fatalf("download: %q", out.String())
	}
	sh.exec(`dl "pr 0.bit" partial`)
	if f := sh.fab.(*fakeFabric); f.last != "pr 0.bit" || !f.st.Partial {
		t.Fatalf("quoted partial download: %+v", f.st)
	}

	out.Reset()
	sh.exec("download missing")
	if !strings.Contains(out.String(), "error:") {
		t.Fatalf("missing image: %q", out.String())
	}

	out.Reset()
	sh.exec("ips")
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 || !strings.Contains(lines[0], "leds_gpio") || !strings.Contains(lines[1], "btns_gpio") {
		t.Fatalf("ips not sorted by base: %q", out.String())
	}
}

func TestShell_GPIO(t *testing.T) {
	sh, out, _ := newShell(t)

	sh.exec("gpio get 0")
	if !strings.Contains(out.String(), "no gpio controller") {
		t.Fatalf("without controller: %q", out.String())
	}

	root := t.TempDir()
	chip := filepath.Join(root, "gpiochip0")
	line := filepath.Join(root, "gpio55")
	for _, d := range []string{chip, line} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	files := map[string]string{
		filepath.Join(chip, "base"):      "0\n",
		filepath.Join(chip, "label"):     "zynq_gpio\n",
		filepath.Join(line, "direction"): "in\n",
		filepath.Join(line, "value"):     "1\n",
	}
	for p, s := range files {
		if err := os.WriteFile(p, []byte(s), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	sh.gpio = gpio.NewController(gpio.Config{Root: root})

	out.Reset()
	sh.exec("gpio get 1")
	if out.String() != "gpio 1 (pin 55) = 1\n" {
		t.Fatalf("get: %q", out.String())
	}

	out.Reset()
	sh.exec("gpio set 1 0")
	if out.Len() != 0 {
		t.Fatalf("set: %q", out.String())
	}
	if b, _ := os.ReadFile(filepath.Join(line, "direction")); string(b) != "low" {
		t.Fatalf("direction = %q", b)
	}

	// Reading a driven output keeps it an output.
	if err := os.WriteFile(filepath.Join(line, "value"), []byte("0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	out.Reset()
	sh.exec("gpio get 1")
	if out.String() != "gpio 1 (pin 55) = 0\n" {
		t.Fatalf("get output: %q", out.String())
	}
	if b, _ := os.ReadFile(filepath.Join(line, "direction")); string(b) != "low" {
		t.Fatalf("get changed direction to %q", b)
	}

	out.Reset()
	sh.exec("gpio set 1 2")
	if !strings.Contains(out.String(), "0 or 1") {
		t.Fatalf("bad level: %q", out.String())
	}
}

func TestShell_Misc(t *testing.T) {
	sh, out, _ := newShell(t)
	if !errors.Is(sh.exec("exit"), errExit) {
		t.Fatal("exit not reported")
	}
	if err := sh.exec("   "); err != nil || out.Len() != 0 {
		t.Fatal("blank line should be a no-op")
	}
	sh.exec("frobnicate")
	if out.String() != "unknown command: frobnicate\n" {
		t.Fatalf("unknown: %q", out.String())
	}
	out.Reset()
	sh.exec(`peek "unterminated`)
	if !strings.HasPrefix(out.String(), "parse error:") {
		t.Fatalf("parse error: %q", out.String())
	}
}
