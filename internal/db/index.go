package db

import (
	"fmt"
	"reflect"
	"strconv"
	"time"
)

// indexKey is the stored form of one index value: text for equality
// lookups and, for ordered types, an integer for range scans.
type indexKey struct {
	text string
	ord  *int64
}

// encodeIndexValue converts an extracted index value into its stored key.
// ok is false for values that are not indexed (nil, nil pointers, zero
// times), mirroring records that lack the indexed field.
func encodeIndexValue(v any) (key indexKey, ok bool, err error) {
	switch x := v.(type) {
	case nil:
		return key, false, nil
	case time.Time:
		if x.IsZero() {
			return key, false, nil
		}
		return ordKey(x.UnixMilli()), true, nil
	case *time.Time:
		if x == nil {
			return key, false, nil
		}
		return encodeIndexValue(*x)
	case bool:
		if x {
			return indexKey{text: "true", ord: ptr(int64(1))}, true, nil
		}
		return indexKey{text: "false", ord: ptr(int64(0))}, true, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return indexKey{text: rv.String()}, true, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return ordKey(rv.Int()), true, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32:
		return ordKey(int64(rv.Uint())), true, nil
	case reflect.Pointer:
		if rv.IsNil() {
			return key, false, nil
		}
		return encodeIndexValue(rv.Elem().Interface())
	}
	return key, false, fmt.Errorf("unsupported index value type %T", v)
}

// encodeBound converts a range bound; nil means unbounded.
func encodeBound(v any, unbounded int64) (int64, error) {
	if v == nil {
		return unbounded, nil
	}
	key, ok, err := encodeIndexValue(v)
	if err != nil {
		return 0, err
	}
	if !ok {
		return unbounded, nil
	}
	if key.ord == nil {
		return 0, fmt.Errorf("range bound %v of type %T is not ordered", v, v)
	}
	return *key.ord, nil
}

func ordKey(n int64) indexKey {
	return indexKey{text: strconv.FormatInt(n, 10), ord: ptr(n)}
}

func ptr[T any](v T) *T { return &v }
