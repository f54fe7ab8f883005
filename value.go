package opix

import (
	"fmt"
	"reflect"
)

// maxResolveDepth bounds producers that return further producers.
const maxResolveDepth = 8

// Value is an attribute or payload value: either a literal or a producer
// evaluated at send time.
//
// The zero Value is an absent literal.
type Value struct {
	literal  any
	producer func() (any, error)
}

// Literal wraps v as a fixed value.
func Literal(v any) Value {
	return Value{literal: v}
}

// Deferred wraps fn so it is evaluated every time the value is resolved.
func Deferred(fn func() any) Value {
	if fn == nil {
		return Value{}
	}
	return Value{producer: func() (any, error) { return fn(), nil }}
}

// ValueOf classifies v. Recognised producers are func() any, func() string,
// func() (any, error) and Value itself; everything else is a literal.
func ValueOf(v any) Value {
	switch x := v.(type) {
	case Value:
		return x
	case func() any:
		return Deferred(x)
	case func() string:
		if x == nil {
			return Value{}
		}
		return Value{producer: func() (any, error) { return x(), nil }}
	case func() (any, error):
		if x == nil {
			return Value{}
		}
		return Value{producer: x}
	default:
		return Literal(v)
	}
}

// IsDeferred reports whether v is evaluated at send time.
func (v Value) IsDeferred() bool {
	return v.producer != nil
}

// Resolve evaluates v. Producers returning further producers are followed up
// to a fixed depth. A panicking producer is reported as an error.
func (v Value) Resolve() (out any, err error) {
	cur := v
	for depth := 0; ; depth++ {
		if cur.producer == nil {
			return cur.literal, nil
		}
		if depth >= maxResolveDepth {
			return nil, fmt.Errorf("value nested deeper than %d producers", maxResolveDepth)
		}

		produced, err := callProducer(cur.producer)
		if err != nil {
			return nil, err
		}
		cur = ValueOf(produced)
	}
}

func callProducer(fn func() (any, error)) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("value producer panicked: %v", r)
		}
	}()
	return fn()
}

// IsPresent reports whether v carries a value worth sending: not nil, not a
// typed nil, not the empty string. Zero and false are present.
func IsPresent(v any) bool {
	if v == nil {
		return false
	}
	if s, ok := v.(string); ok {
		return s != ""
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Interface, reflect.Chan:
		return !rv.IsNil()
	}
	return true
}
