package errcode

import (
	"errors"
	"fmt"
	"testing"
)

func TestOf(t *testing.T) {
	if Of(nil) != OK {
		t.Fatal("nil should map to OK")
	}
	if Of(Misaligned) != Misaligned {
		t.Fatal("bare code not recovered")
	}
	wrapped := fmt.Errorf("mmio: %w", Wrap(OutOfRange, "read32", nil))
	if Of(wrapped) != OutOfRange {
		t.Fatalf("got %q", Of(wrapped))
	}
	if Of(errors.New("boom")) != Error {
		t.Fatal("unknown error should map to Error")
	}
}

func TestEIsAndUnwrap(t *testing.T) {
	cause := errors.New("eio")
	err := Wrap(DownloadFailed, "download", cause)
	if !errors.Is(err, DownloadFailed) {
		t.Fatal("errors.Is(code) failed")
	}
	if !errors.Is(err, cause) {
		t.Fatal("cause not reachable")
	}
	if got := err.Error(); got != "download: download_failed: eio" {
		t.Fatalf("Error()=%q", got)
	}
	if got := New(PinReserved, "", "pin 12").Error(); got != "pin_reserved: pin 12" {
		t.Fatalf("Error()=%q", got)
	}
}

func TestOfOuterWins(t *testing.T) {
	err := Wrap(BusBusy, "axiiic.tx", New(Timeout, "axiiic.idle", ""))
	if Of(err) != BusBusy {
		t.Fatalf("got %q", Of(err))
	}
	if !errors.Is(err, Timeout) {
		t.Fatal("inner code not reachable through errors.Is")
	}
}
