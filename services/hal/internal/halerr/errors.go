// Package halerr names the failures the HAL reports on the bus. Each one
// is an errcode.Code so replies carry the same short string.
package halerr

import "overlaycode-go/errcode"

var (
	// Service/control plane
	ErrBusy           error = errcode.Busy
	ErrInvalidPeriod  error = errcode.Code("invalid_period")
	ErrInvalidCapAddr error = errcode.Code("invalid_capability_address")
	ErrUnknownCap     error = errcode.UnknownCapability
	ErrNoAdaptor      error = errcode.Code("no_adaptor")
	ErrNotReady       error = errcode.HALNotReady

	// Build/config
	ErrUnknownType   error = errcode.Code("unknown_device_type")
	ErrMissingTarget error = errcode.Code("missing_target")
	ErrInvalidMode   error = errcode.Code("invalid_mode")
	ErrUnknownIP     error = errcode.UnknownIP

	// Generic / pass-through
	ErrUnsupported error = errcode.Unsupported
)

// Code maps any error to the short string sent in replies and status.
func Code(err error) string {
	if err == nil {
		return string(errcode.OK)
	}
	return string(errcode.Of(err))
}
