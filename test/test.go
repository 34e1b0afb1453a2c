// Package test holds helpers shared between test suites.
package test

import "reflect"

// EqualsExceptForFields compares two structs of the same type while
// ignoring the named fields.
func EqualsExceptForFields(a, b interface{}, except []string) bool {
	va := reflect.ValueOf(a)
	vb := reflect.ValueOf(b)
	if va.Type() != vb.Type() || va.Kind() != reflect.Struct {
		return false
	}

	skip := make(map[string]bool, len(except))
	for _, name := range except {
		skip[name] = true
	}

	for i := 0; i < va.NumField(); i++ {
		if skip[va.Type().Field(i).Name] {
			continue
		}
		if !reflect.DeepEqual(va.Field(i).Interface(), vb.Field(i).Interface()) {
			return false
		}
	}
	return true
}
