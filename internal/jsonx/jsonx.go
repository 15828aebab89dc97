// Package jsonx holds small fastjson helpers shared by the REST and realtime decoders.
package jsonx

import (
	"github.com/valyala/fastjson"
)

// String returns the first present key of v as a string.
// Numbers are rendered in their JSON form so integer primary keys become "42".
// Missing keys, nulls and other types yield "".
func String(v *fastjson.Value, keys ...string) string {
	if v == nil {
		return ""
	}
	for _, key := range keys {
		field := v.Get(key)
		if field == nil {
			continue
		}
		switch field.Type() {
		case fastjson.TypeString:
			return string(field.GetStringBytes())
		case fastjson.TypeNumber:
			return field.String()
		case fastjson.TypeNull:
			continue
		}
	}
	return ""
}

// Object returns the first present key of v holding a JSON object, or nil.
func Object(v *fastjson.Value, keys ...string) *fastjson.Value {
	if v == nil {
		return nil
	}
	for _, key := range keys {
		field := v.Get(key)
		if field != nil && field.Type() == fastjson.TypeObject {
			return field
		}
	}
	return nil
}
