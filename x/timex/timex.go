// Package timex holds the millisecond conversions used on the wire.
package timex

import "time"

// NowMs returns Unix milliseconds as int64.
func NowMs() int64 { return time.Now().UnixMilli() }

// Ms converts a millisecond count from config or a payload to a Duration.
func Ms(ms int) time.Duration { return time.Duration(ms) * time.Millisecond }
