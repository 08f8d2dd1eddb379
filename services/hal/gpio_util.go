package hal

import (
	"strconv"
	"strings"

	"overlaycode-go/types"
)

// Config and control payloads arrive as decoded JSON, so the GPIO
// parsers take loose spellings and fall back to the inert value.

var pullNames = map[string]Pull{
	"up": PullUp, "pullup": PullUp, "pull_up": PullUp,
	"down": PullDown, "pulldown": PullDown, "pull_down": PullDown,
}

var edgeNames = map[string]Edge{
	"rising": EdgeRising, "falling": EdgeFalling, "both": EdgeBoth,
}

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func parsePull(v any) Pull {
	if p, ok := pullNames[norm(asString(v))]; ok {
		return p
	}
	return PullNone
}

func toPullString(p Pull) string {
	switch p {
	case PullUp:
		return "up"
	case PullDown:
		return "down"
	}
	return "none"
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// ParseEdge maps a config edge name onto Edge; unknown names disable the IRQ.
func ParseEdge(s string) Edge {
	return edgeNames[norm(s)]
}

// wantBool reads a level from a {"<key>": v} object, a types.GPIOSet, or
// from v itself.
// Numbers are true when non-zero; strings accept on/yes and strconv forms.
func wantBool(src any, key string) bool {
	if m, ok := src.(map[string]any); ok {
		return wantBool(m[key], "")
	}
	switch v := src.(type) {
	case types.GPIOSet:
		return v.Level
	case bool:
		return v
	case int:
		return v != 0
	case int64:
		return v != 0
	case uint32:
		return v != 0
	case float64:
		return v != 0
	case string:
		switch s := norm(v); s {
		case "on", "yes", "high":
			return true
		default:
			b, _ := strconv.ParseBool(s)
			return b
		}
	}
	return false
}

// mapFromAny returns m when v is a decoded JSON object, else an empty map.
func mapFromAny(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}
