package engine

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// evaluateEqual checks if two values are equal. Numbers compare by value
// across Go numeric types; everything else uses deep equality.
func evaluateEqual(actual, expected interface{}) bool {
	if actual == nil && expected == nil {
		return true
	}
	if actual == nil || expected == nil {
		return false
	}

	actualNum, actualOK := convertToFloat64(actual)
	expectedNum, expectedOK := convertToFloat64(expected)
	if actualOK && expectedOK {
		return actualNum == expectedNum
	}

	return reflect.DeepEqual(actual, expected)
}

// evaluateGreaterThan is false unless both sides are numbers.
func evaluateGreaterThan(actual, expected interface{}) bool {
	a, e, ok := toNumeric(actual, expected)
	return ok && a > e
}

// evaluateLessThan is false unless both sides are numbers.
func evaluateLessThan(actual, expected interface{}) bool {
	a, e, ok := toNumeric(actual, expected)
	return ok && a < e
}

// evaluateContains tests substring containment for strings and element
// equality for slices. Any other actual value does not contain anything.
func evaluateContains(actual, expected interface{}) bool {
	if s, ok := actual.(string); ok {
		sub, ok := expected.(string)
		return ok && strings.Contains(s, sub)
	}
	return containsElement(actual, expected)
}

// isContainer reports whether contains/not_contains apply to v.
func isContainer(v interface{}) bool {
	if _, ok := v.(string); ok {
		return true
	}
	return isSlice(v)
}

// containsElement checks if a slice/array contains an element.
func containsElement(slice, elem interface{}) bool {
	if !isSlice(slice) {
		return false
	}
	sliceVal := reflect.ValueOf(slice)
	for i := 0; i < sliceVal.Len(); i++ {
		if evaluateEqual(sliceVal.Index(i).Interface(), elem) {
			return true
		}
	}
	return false
}

func isSlice(v interface{}) bool {
	if v == nil {
		return false
	}
	kind := reflect.ValueOf(v).Kind()
	return kind == reflect.Slice || kind == reflect.Array
}

// toNumeric converts both values to float64 for numeric comparison.
func toNumeric(actual, expected interface{}) (float64, float64, bool) {
	a, ok := convertToFloat64(actual)
	if !ok {
		return 0, 0, false
	}
	e, ok := convertToFloat64(expected)
	if !ok {
		return 0, 0, false
	}
	return a, e, true
}

// convertToFloat64 converts a Go number to float64.
func convertToFloat64(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int8:
		return float64(val), true
	case int16:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint8:
		return float64(val), true
	case uint16:
		return float64(val), true
	case uint32:
		return float64(val), true
	case uint64:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// memberKey maps a value to the key used by membership sets. Numbers share a
// key space regardless of Go type so that set lookups agree with
// evaluateEqual.
func memberKey(v interface{}) string {
	if f, ok := convertToFloat64(v); ok {
		return fmt.Sprintf("n:%v", f)
	}
	if s, ok := v.(string); ok {
		return "s:" + s
	}
	if v == nil {
		return "null"
	}
	if data, err := json.Marshal(v); err == nil {
		return "j:" + string(data)
	}
	return fmt.Sprintf("g:%#v", v)
}

// canonicalJSON encodes v with sorted map keys. encoding/json already sorts
// map keys, which is all the canonical form needs.
func canonicalJSON(v interface{}) (string, bool) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", false
	}
	return string(data), true
}
