package throttle

import (
	"context"
	"fmt"
	"math"
	"reflect"
	"sort"
)

// Operation is the native shape of a dispatchable API operation.
// Functions of other shapes are adapted to it when the dispatch table is built.
type Operation func(ctx context.Context, args ...any) (any, error)

var (
	ctxType = reflect.TypeFor[context.Context]()
	errType = reflect.TypeFor[error]()
)

// dispatchTable maps operation names to callables, and keeps every
// non-callable member so it can be read through the throttle unchanged.
type dispatchTable struct {
	ops   map[string]Operation
	props map[string]any
}

// buildDispatchTable enumerates the members of api once.
//
// Accepted targets: struct, pointer to struct, map with string keys.
// Struct targets contribute their exported methods and exported func-typed
// fields as operations and their remaining exported fields as properties.
// Map targets contribute func values as operations and everything else as
// properties.
func buildDispatchTable(api any) (*dispatchTable, error) {
	dt := &dispatchTable{ops: map[string]Operation{}, props: map[string]any{}}

	v := reflect.ValueOf(api)
	if !v.IsValid() {
		return nil, newError(ErrCodeInvalidTarget, "api is nil")
	}

	switch {
	case v.Kind() == reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return nil, newError(ErrCodeInvalidTarget, "map key must be string, got %s", v.Type().Key())
		}
		iter := v.MapRange()
		for iter.Next() {
			dt.add(iter.Key().String(), iter.Value())
		}

	case v.Kind() == reflect.Struct,
		v.Kind() == reflect.Pointer && v.Type().Elem().Kind() == reflect.Struct:
		if v.Kind() == reflect.Pointer && v.IsNil() {
			return nil, newError(ErrCodeInvalidTarget, "api is a nil %s", v.Type())
		}
		dt.addMethods(v)
		dt.addFields(reflect.Indirect(v))

	default:
		return nil, newError(ErrCodeInvalidTarget, "api must be a struct, pointer to struct or map, got %s", v.Type())
	}

	return dt, nil
}

func (dt *dispatchTable) addMethods(v reflect.Value) {
	t := v.Type()
	for i := 0; i < t.NumMethod(); i++ {
		m := t.Method(i)
		if !m.IsExported() {
			continue
		}
		if op, ok := adaptFunc(m.Name, v.Method(i)); ok {
			dt.ops[m.Name] = op
		}
	}
}

func (dt *dispatchTable) addFields(v reflect.Value) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		if _, taken := dt.ops[f.Name]; taken {
			continue
		}
		dt.add(f.Name, v.Field(i))
	}
}

func (dt *dispatchTable) add(name string, v reflect.Value) {
	if v.Kind() == reflect.Interface && !v.IsNil() {
		v = v.Elem()
	}
	if v.Kind() == reflect.Func && !v.IsNil() {
		if op, ok := adaptFunc(name, v); ok {
			dt.ops[name] = op
			return
		}
	}
	if v.IsValid() && v.CanInterface() {
		dt.props[name] = v.Interface()
	} else {
		dt.props[name] = nil
	}
}

// names returns the operation names, sorted.
func (dt *dispatchTable) names() []string {
	out := make([]string, 0, len(dt.ops))
	for name := range dt.ops {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// adaptFunc turns fn into an Operation. Returns false when fn has a result
// shape other than (), (T), (error) or (T, error).
func adaptFunc(name string, fn reflect.Value) (Operation, bool) {
	if fn.CanInterface() {
		switch f := fn.Interface().(type) {
		case Operation:
			return f, true
		case func(context.Context, ...any) (any, error):
			return f, true
		}
	}

	ft := fn.Type()
	switch ft.NumOut() {
	case 0, 1:
	case 2:
		if ft.Out(1) != errType {
			return nil, false
		}
	default:
		return nil, false
	}

	takesCtx := ft.NumIn() > 0 && ft.In(0) == ctxType

	return func(ctx context.Context, args ...any) (any, error) {
		in, err := bindArgs(ft, takesCtx, ctx, args)
		if err != nil {
			return nil, &Error{Code: ErrCodeBadArguments, Message: err.Error(), Method: name}
		}
		return splitResults(fn.Call(in))
	}, true
}

// bindArgs converts args to the parameter types of ft.
func bindArgs(ft reflect.Type, takesCtx bool, ctx context.Context, args []any) ([]reflect.Value, error) {
	first := 0
	if takesCtx {
		first = 1
	}
	fixed := ft.NumIn() - first
	if ft.IsVariadic() {
		fixed--
	}

	switch {
	case ft.IsVariadic() && len(args) < fixed:
		return nil, fmt.Errorf("want at least %d arguments, got %d", fixed, len(args))
	case !ft.IsVariadic() && len(args) != fixed:
		return nil, fmt.Errorf("want %d arguments, got %d", fixed, len(args))
	}

	in := make([]reflect.Value, 0, first+len(args))
	if takesCtx {
		in = append(in, reflect.ValueOf(&ctx).Elem())
	}
	for i, arg := range args {
		var pt reflect.Type
		if i < fixed {
			pt = ft.In(first + i)
		} else {
			pt = ft.In(ft.NumIn() - 1).Elem()
		}
		av, err := convertArg(arg, pt)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		in = append(in, av)
	}
	return in, nil
}

// convertArg assigns arg to type pt, converting only between numeric kinds
// and between string kinds.
func convertArg(arg any, pt reflect.Type) (reflect.Value, error) {
	if arg == nil {
		switch pt.Kind() {
		case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
			return reflect.Zero(pt), nil
		}
		return reflect.Value{}, fmt.Errorf("nil is not assignable to %s", pt)
	}

	av := reflect.ValueOf(arg)
	if av.Type().AssignableTo(pt) {
		if pt.Kind() == reflect.Interface {
			out := reflect.New(pt).Elem()
			out.Set(av)
			return out, nil
		}
		return av, nil
	}
	if isNumeric(av.Kind()) && isNumeric(pt.Kind()) {
		if err := checkFits(av, pt); err != nil {
			return reflect.Value{}, err
		}
		return av.Convert(pt), nil
	}
	if av.Kind() == reflect.String && pt.Kind() == reflect.String {
		return av.Convert(pt), nil
	}
	return reflect.Value{}, fmt.Errorf("%s is not assignable to %s", av.Type(), pt)
}

// checkFits reports an error when converting the numeric value av to pt
// would change it: overflow, a negative value into an unsigned type, or a
// fractional float into an integer type.
func checkFits(av reflect.Value, pt reflect.Type) error {
	bad := func(reason string) error {
		return fmt.Errorf("%v (%s) %s %s", av.Interface(), av.Type(), reason, pt)
	}

	switch {
	case isInt(pt.Kind()):
		switch {
		case isInt(av.Kind()):
			if pt.OverflowInt(av.Int()) {
				return bad("overflows")
			}
		case isUint(av.Kind()):
			if u := av.Uint(); u > math.MaxInt64 || pt.OverflowInt(int64(u)) {
				return bad("overflows")
			}
		default:
			f := av.Float()
			if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
				return bad("is not an integer for")
			}
			if f < math.MinInt64 || f >= math.MaxInt64 || pt.OverflowInt(int64(f)) {
				return bad("overflows")
			}
		}
	case isUint(pt.Kind()):
		switch {
		case isInt(av.Kind()):
			i := av.Int()
			if i < 0 {
				return bad("is negative for")
			}
			if pt.OverflowUint(uint64(i)) {
				return bad("overflows")
			}
		case isUint(av.Kind()):
			if pt.OverflowUint(av.Uint()) {
				return bad("overflows")
			}
		default:
			f := av.Float()
			if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
				return bad("is not an integer for")
			}
			if f < 0 {
				return bad("is negative for")
			}
			if f >= math.MaxUint64 || pt.OverflowUint(uint64(f)) {
				return bad("overflows")
			}
		}
	default:
		if isFloat(av.Kind()) && pt.OverflowFloat(av.Float()) {
			return bad("overflows")
		}
	}
	return nil
}

func isNumeric(k reflect.Kind) bool {
	return isInt(k) || isUint(k) || isFloat(k)
}

func isInt(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return true
	}
	return false
}

func isUint(k reflect.Kind) bool {
	switch k {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return true
	}
	return false
}

func isFloat(k reflect.Kind) bool {
	return k == reflect.Float32 || k == reflect.Float64
}

// splitResults maps the results of a reflected call to (value, error).
func splitResults(out []reflect.Value) (any, error) {
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		if out[0].Type() == errType {
			return nil, asError(out[0])
		}
		return out[0].Interface(), nil
	default:
		return out[0].Interface(), asError(out[1])
	}
}

func asError(v reflect.Value) error {
	if v.IsNil() {
		return nil
	}
	return v.Interface().(error)
}
