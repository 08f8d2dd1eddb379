// Package jsonx decodes bus payloads. Config arrives as decoded JSON maps
// from the config service, as raw JSON from files and bridge peers, or as
// typed values from in-process publishers.
package jsonx

import "encoding/json"

// Decode fills dst from src. A nil src leaves dst untouched.
func Decode[T any](src any, dst *T) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	case *T:
		*dst = *v
		return nil
	case T:
		*dst = v
		return nil
	}
	b, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}
