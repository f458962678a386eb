// Package strutil holds small string helpers shared across handlers and
// validation.
package strutil

import (
	"reflect"
	"strings"
	"unicode"
)

// TrimStrings trims whitespace from each of the given string pointers in place.
func TrimStrings(ss ...*string) {
	for _, s := range ss {
		*s = strings.TrimSpace(*s)
	}
}

// TrimSlice trims whitespace from each element of the slice in place.
func TrimSlice(ss []string) {
	for i := range ss {
		ss[i] = strings.TrimSpace(ss[i])
	}
}

// Sanitize walks a struct pointer and trims whitespace from all exported
// string fields and string slices, including nested structs. Request DTOs are
// sanitized before validation so surrounding whitespace never reaches the
// domain layer.
func Sanitize(v any) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return
	}
	sanitizeValue(rv.Elem())
}

func sanitizeValue(rv reflect.Value) {
	switch rv.Kind() {
	case reflect.String:
		if rv.CanSet() {
			rv.SetString(strings.TrimSpace(rv.String()))
		}
	case reflect.Struct:
		for i := 0; i < rv.NumField(); i++ {
			sanitizeValue(rv.Field(i))
		}
	case reflect.Slice:
		for i := 0; i < rv.Len(); i++ {
			sanitizeValue(rv.Index(i))
		}
	case reflect.Pointer:
		if !rv.IsNil() {
			sanitizeValue(rv.Elem())
		}
	}
}

// ToSnakeCase converts CamelCase identifiers to snake_case for user-facing
// validation messages.
func ToSnakeCase(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if unicode.IsUpper(r) && i > 0 &&
			(unicode.IsLower(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
			b.WriteByte('_')
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
