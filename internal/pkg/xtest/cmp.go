// Package xtest provides a semantic-equality comparer for dialect-bridge
// round-trip checks (spec.md §8: "encodeB(decodeA(b)) ... yields the
// same Internal Chat Request up to extra keys and semantically-insignificant
// JSON whitespace"). No test in this module imports it.
package xtest

import (
	"encoding/json"

	"github.com/google/go-cmp/cmp"
)

// jsonRawMessageComparer compares json.RawMessage values by decoded value
// rather than by byte sequence, so key order and whitespace never fail a
// round-trip assertion.
func jsonRawMessageComparer(x, y json.RawMessage) bool {
	if len(x) == 0 && len(y) == 0 {
		return true
	}

	if len(x) == 0 || len(y) == 0 {
		return false
	}

	var xVal, yVal any
	if err := json.Unmarshal(x, &xVal); err != nil {
		return false
	}

	if err := json.Unmarshal(y, &yVal); err != nil {
		return false
	}

	return cmp.Equal(xVal, yVal)
}

func nilString(x *string) string {
	if x == nil {
		return ""
	}

	return *x
}

func nilInt(x *int) int {
	if x == nil {
		return 0
	}

	return *x
}

// Equal provides semantic equality comparison for ichat types and raw JSON
// payloads, tolerating nil-vs-zero-value pointers and JSON whitespace/key
// ordering differences.
func Equal(a, b any, opts ...cmp.Option) bool {
	allOpts := append(opts,
		cmp.Transformer("", nilString),
		cmp.Transformer("", nilInt),
		cmp.Comparer(jsonRawMessageComparer),
	)

	return cmp.Equal(a, b, allOpts...)
}
