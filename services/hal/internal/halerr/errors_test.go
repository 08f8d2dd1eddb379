package halerr

import (
	"errors"
	"fmt"
	"testing"

	"overlaycode-go/errcode"
)

func TestErrorsAreStableStrings(t *testing.T) {
	cases := map[string]error{
		"busy":                       ErrBusy,
		"invalid_period":             ErrInvalidPeriod,
		"invalid_capability_address": ErrInvalidCapAddr,
		"unknown_capability":         ErrUnknownCap,
		"no_adaptor":                 ErrNoAdaptor,
		"hal_not_ready":              ErrNotReady,
		"unknown_device_type":        ErrUnknownType,
		"missing_target":             ErrMissingTarget,
		"invalid_mode":               ErrInvalidMode,
		"unknown_ip":                 ErrUnknownIP,
		"unsupported":                ErrUnsupported,
	}
	for want, e := range cases {
		if e == nil || e.Error() != want {
			t.Fatalf("error %q mismatch: got %#v", want, e)
		}
	}
}

func TestCode(t *testing.T) {
	if Code(nil) != "ok" {
		t.Fatal("nil should map to ok")
	}
	wrapped := fmt.Errorf("gpio 3: %w", errcode.Wrap(errcode.PinReserved, "gpio.pin", nil))
	if Code(wrapped) != "pin_reserved" {
		t.Fatalf("got %q", Code(wrapped))
	}
	if Code(errors.New("plain")) != "error" {
		t.Fatalf("plain error: %q", Code(errors.New("plain")))
	}
	if Code(ErrBusy) != "busy" {
		t.Fatal("bare code lost")
	}
}
