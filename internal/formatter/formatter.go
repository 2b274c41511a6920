// Package formatter renders capture replies.
package formatter

import (
	"encoding/json"
	"fmt"
	"reflect"
)

const (
	ContentTypeJSON = "application/json"
	ContentTypeText = "text/html"
)

// Format serializes v for an HTTP reply. Maps and structs (or pointers to
// them) become JSON; everything else, including errors and fmt.Stringer
// values, is rendered with fmt.Sprint as text.
// Format never fails: a value that cannot be marshalled falls back to text.
func Format(v any) (string, []byte) {
	if isRecord(v) {
		if data, err := json.Marshal(v); err == nil {
			return ContentTypeJSON, data
		}
	}
	return ContentTypeText, []byte(fmt.Sprint(v))
}

func isRecord(v any) bool {
	switch v.(type) {
	case nil, error, fmt.Stringer:
		return false
	}
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Map, reflect.Struct:
		return true
	}
	return false
}
