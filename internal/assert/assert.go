// Copyright (c) 2024 the authors
// Use of this source code is governed by a MIT license found in the LICENSE file.

// Package assert provides a minimal set of test assertion helpers.
package assert

import (
	"reflect"
	"testing"
)

func Equal[T any](tb testing.TB, expected, actual T) {
	tb.Helper()

	if !reflect.DeepEqual(expected, actual) {
		tb.Errorf("expected: %v; actual: %v", expected, actual)
	}
}

func NoError(tb testing.TB, err error) {
	tb.Helper()

	if err != nil {
		tb.Errorf("unexpected error: %v", err)
	}
}

func EqualError(tb testing.TB, err error, message string) {
	tb.Helper()

	switch {
	case err == nil:
		tb.Errorf("expected error with message: %s", message)
	case err.Error() != message:
		tb.Errorf("expected error message: %s; actual: %s", message, err.Error())
	}
}

func True(tb testing.TB, value bool) {
	tb.Helper()

	if !value {
		tb.Errorf("expected true")
	}
}
