// Package jsonpath evaluates a bounded subset of JSON-path against raw
// breadcrumb context: dot access, with array elements addressed by a
// numeric segment ("tags.0"), no filter expressions, no recursive
// descent. It exists so the selector and
// transform engines share one total (never-panics) path reader.
package jsonpath

import (
	"strings"

	"github.com/tidwall/gjson"
)

// Get resolves path against raw JSON and reports whether it existed.
// path is stripped of a leading "$." or "$" prefix before being handed
// to gjson, which already uses dot syntax for the rest. A path holding a
// gjson query ("#(") is rejected as absent.
func Get(raw []byte, path string) (gjson.Result, bool) {
	p := normalize(path)
	if p == "" || strings.Contains(p, "#(") {
		return gjson.Result{}, false
	}
	result := gjson.GetBytes(raw, p)
	return result, result.Exists()
}

func normalize(path string) string {
	p := strings.TrimSpace(path)
	p = strings.TrimPrefix(p, "$.")
	p = strings.TrimPrefix(p, "$")
	return strings.TrimPrefix(p, ".")
}

// Exists reports whether path resolves to any value in raw.
func Exists(raw []byte, path string) bool {
	_, ok := Get(raw, path)
	return ok
}

// String resolves path as a string; returns "" if absent or non-scalar.
func String(raw []byte, path string) string {
	v, ok := Get(raw, path)
	if !ok || v.IsObject() || v.IsArray() {
		return ""
	}
	return v.String()
}
