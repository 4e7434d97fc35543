package bridge

import (
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
)

// MaxSafeInteger 脚本数值能精确表示的最大整数
const MaxSafeInteger = 1 << 53

// ConverterFunc 自定义转换函数，返回值必须可赋值给 target
type ConverterFunc func(value any, target reflect.Type) (any, error)

// Coercer 在宿主与脚本之间转换单个值
type Coercer struct {
	strict     bool
	converters map[reflect.Type]ConverterFunc
}

// NewCoercer 创建转换器。strict 为 true 时只允许无损转换与已注册的转换函数。
func NewCoercer(strict bool) *Coercer {
	return &Coercer{
		strict:     strict,
		converters: make(map[reflect.Type]ConverterFunc),
	}
}

func (c *Coercer) Strict() bool {
	return c.strict
}

// RegisterConverter 为目标类型注册转换函数
func (c *Coercer) RegisterConverter(target reflect.Type, fn ConverterFunc) {
	if target == nil || fn == nil {
		return
	}
	c.converters[target] = fn
}

// IsExact 值的运行时类型是否与目标类型完全一致
func IsExact(value any, target reflect.Type) bool {
	return value != nil && reflect.TypeOf(value) == target
}

// Coerce 将值转换为目标类型
func (c *Coercer) Coerce(value any, target reflect.Type) (reflect.Value, error) {
	if target == nil {
		return reflect.Value{}, errors.Wrap(ErrInvalidArgument, "nil target type")
	}

	if value == nil {
		if isNillable(target.Kind()) {
			return reflect.Zero(target), nil
		}
		return reflect.Value{}, notConvertible(value, target)
	}

	v := reflect.ValueOf(value)
	if v.Type() == target {
		return v, nil
	}

	if fn, ok := c.converters[target]; ok {
		out, err := fn(value, target)
		if err != nil {
			return reflect.Value{}, errors.Wrapf(ErrNotConvertible, "%T to %s: %v", value, target, err)
		}
		if out == nil {
			if isNillable(target.Kind()) {
				return reflect.Zero(target), nil
			}
			return reflect.Value{}, notConvertible(value, target)
		}
		ov := reflect.ValueOf(out)
		if !ov.Type().AssignableTo(target) {
			return reflect.Value{}, notConvertible(value, target)
		}
		return assign(ov, target), nil
	}

	if v.Type().AssignableTo(target) {
		return assign(v, target), nil
	}

	out, err := c.coerceValue(v, target)
	if err != nil {
		return reflect.Value{}, err
	}
	return out, nil
}

func (c *Coercer) coerceValue(v reflect.Value, target reflect.Type) (reflect.Value, error) {
	switch {
	case isNumberKind(target.Kind()):
		return c.toNumber(v, target)

	case target.Kind() == reflect.String:
		return c.toString(v, target)

	case target.Kind() == reflect.Bool:
		return c.toBool(v, target)

	case target.Kind() == reflect.Slice && (v.Kind() == reflect.Slice || v.Kind() == reflect.Array):
		return c.toSlice(v, target)

	case target.Kind() == reflect.Map && v.Kind() == reflect.Map:
		return c.toMap(v, target)

	case target.Kind() == reflect.Struct && v.Kind() == reflect.Map:
		return c.toStruct(v, target)

	case target.Kind() == reflect.Pointer && target.Elem().Kind() == reflect.Struct && v.Kind() == reflect.Map:
		out, err := c.toStruct(v, target.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		ptr := reflect.New(target.Elem())
		ptr.Elem().Set(out)
		return ptr, nil

	case target.Kind() == reflect.Pointer:
		elem, err := c.Coerce(v.Interface(), target.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		ptr := reflect.New(target.Elem())
		ptr.Elem().Set(elem)
		return ptr, nil
	}

	if v.Kind() == target.Kind() && v.Type().ConvertibleTo(target) {
		return v.Convert(target), nil
	}
	return reflect.Value{}, notConvertible(v.Interface(), target)
}

func (c *Coercer) toNumber(v reflect.Value, target reflect.Type) (reflect.Value, error) {
	switch {
	case isIntKind(v.Kind()):
		return intTo(v.Int(), target, v.Interface())
	case isUintKind(v.Kind()):
		return uintTo(v.Uint(), target, v.Interface())
	case isFloatKind(v.Kind()):
		return c.floatTo(v.Float(), target, v.Interface())
	}

	if c.strict {
		return reflect.Value{}, notConvertible(v.Interface(), target)
	}

	switch v.Kind() {
	case reflect.String:
		s := strings.TrimSpace(v.String())
		if n, err := strconv.ParseInt(s, 0, 64); err == nil {
			return intTo(n, target, v.Interface())
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return reflect.Value{}, notConvertible(v.Interface(), target)
		}
		return c.floatTo(f, target, v.Interface())
	case reflect.Bool:
		var n int64
		if v.Bool() {
			n = 1
		}
		return intTo(n, target, v.Interface())
	}
	return reflect.Value{}, notConvertible(v.Interface(), target)
}

func intTo(n int64, target reflect.Type, orig any) (reflect.Value, error) {
	out := reflect.New(target).Elem()
	switch {
	case isIntKind(target.Kind()):
		if out.OverflowInt(n) {
			return reflect.Value{}, notConvertible(orig, target)
		}
		out.SetInt(n)
	case isUintKind(target.Kind()):
		if n < 0 || out.OverflowUint(uint64(n)) {
			return reflect.Value{}, notConvertible(orig, target)
		}
		out.SetUint(uint64(n))
	default:
		f := float64(n)
		if int64(f) != n || out.OverflowFloat(f) {
			return reflect.Value{}, notConvertible(orig, target)
		}
		out.SetFloat(f)
	}
	return out, nil
}

func uintTo(n uint64, target reflect.Type, orig any) (reflect.Value, error) {
	if n <= math.MaxInt64 {
		return intTo(int64(n), target, orig)
	}
	out := reflect.New(target).Elem()
	switch {
	case isUintKind(target.Kind()):
		if out.OverflowUint(n) {
			return reflect.Value{}, notConvertible(orig, target)
		}
		out.SetUint(n)
	case isFloatKind(target.Kind()):
		f := float64(n)
		if uint64(f) != n {
			return reflect.Value{}, notConvertible(orig, target)
		}
		out.SetFloat(f)
	default:
		return reflect.Value{}, notConvertible(orig, target)
	}
	return out, nil
}

func (c *Coercer) floatTo(f float64, target reflect.Type, orig any) (reflect.Value, error) {
	out := reflect.New(target).Elem()

	if isFloatKind(target.Kind()) {
		if out.OverflowFloat(f) && !math.IsInf(f, 0) {
			return reflect.Value{}, notConvertible(orig, target)
		}
		if c.strict && target.Kind() == reflect.Float32 && !math.IsNaN(f) && float64(float32(f)) != f {
			return reflect.Value{}, notConvertible(orig, target)
		}
		out.SetFloat(f)
		return out, nil
	}

	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return reflect.Value{}, notConvertible(orig, target)
	}
	if f < 0 {
		if f < math.MinInt64 {
			return reflect.Value{}, notConvertible(orig, target)
		}
		return intTo(int64(f), target, orig)
	}
	if f >= math.MaxUint64 {
		return reflect.Value{}, notConvertible(orig, target)
	}
	return uintTo(uint64(f), target, orig)
}

func (c *Coercer) toString(v reflect.Value, target reflect.Type) (reflect.Value, error) {
	var s string
	switch {
	case v.Kind() == reflect.String:
		s = v.String()
	case c.strict:
		return reflect.Value{}, notConvertible(v.Interface(), target)
	case isIntKind(v.Kind()):
		s = strconv.FormatInt(v.Int(), 10)
	case isUintKind(v.Kind()):
		s = strconv.FormatUint(v.Uint(), 10)
	case isFloatKind(v.Kind()):
		s = strconv.FormatFloat(v.Float(), 'g', -1, 64)
	case v.Kind() == reflect.Bool:
		s = strconv.FormatBool(v.Bool())
	default:
		return reflect.Value{}, notConvertible(v.Interface(), target)
	}
	return reflect.ValueOf(s).Convert(target), nil
}

func (c *Coercer) toBool(v reflect.Value, target reflect.Type) (reflect.Value, error) {
	var b bool
	switch {
	case v.Kind() == reflect.Bool:
		b = v.Bool()
	case c.strict:
		return reflect.Value{}, notConvertible(v.Interface(), target)
	case v.Kind() == reflect.String:
		parsed, err := strconv.ParseBool(strings.TrimSpace(v.String()))
		if err != nil {
			return reflect.Value{}, notConvertible(v.Interface(), target)
		}
		b = parsed
	case isIntKind(v.Kind()):
		b = v.Int() != 0
	case isUintKind(v.Kind()):
		b = v.Uint() != 0
	case isFloatKind(v.Kind()):
		b = v.Float() != 0
	default:
		return reflect.Value{}, notConvertible(v.Interface(), target)
	}
	return reflect.ValueOf(b).Convert(target), nil
}

func (c *Coercer) toSlice(v reflect.Value, target reflect.Type) (reflect.Value, error) {
	out := reflect.MakeSlice(target, v.Len(), v.Len())
	for i := 0; i < v.Len(); i++ {
		elem, err := c.Coerce(v.Index(i).Interface(), target.Elem())
		if err != nil {
			return reflect.Value{}, errors.Wrapf(err, "index %d", i)
		}
		out.Index(i).Set(elem)
	}
	return out, nil
}

func (c *Coercer) toMap(v reflect.Value, target reflect.Type) (reflect.Value, error) {
	out := reflect.MakeMapWithSize(target, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		key, err := c.Coerce(iter.Key().Interface(), target.Key())
		if err != nil {
			return reflect.Value{}, errors.Wrap(err, "map key")
		}
		val, err := c.Coerce(iter.Value().Interface(), target.Elem())
		if err != nil {
			return reflect.Value{}, errors.Wrapf(err, "map value %v", iter.Key().Interface())
		}
		out.SetMapIndex(key, val)
	}
	return out, nil
}

func (c *Coercer) toStruct(v reflect.Value, target reflect.Type) (reflect.Value, error) {
	ptr := reflect.New(target)
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: !c.strict,
		Result:           ptr.Interface(),
	})
	if err != nil {
		return reflect.Value{}, errors.Wrap(err, "create struct decoder")
	}
	if err = decoder.Decode(v.Interface()); err != nil {
		return reflect.Value{}, errors.Wrapf(ErrNotConvertible, "%s: %v", target, err)
	}
	return ptr.Elem(), nil
}

// FromScript 规整引擎导出的值：没有小数部分且在安全整数范围内的数值变为 int，其余数值变为 float64
func FromScript(value any) any {
	switch x := value.(type) {
	case nil, string, bool, int:
		return x
	case int64:
		if x >= math.MinInt && x <= math.MaxInt {
			return int(x)
		}
		return x
	case int32:
		return int(x)
	case int16:
		return int(x)
	case int8:
		return int(x)
	case uint8:
		return int(x)
	case uint16:
		return int(x)
	case uint32:
		return int(x)
	case uint64:
		if x <= math.MaxInt {
			return int(x)
		}
		return x
	case uint:
		if x <= math.MaxInt {
			return int(x)
		}
		return x
	case float32:
		return fromFloat(float64(x))
	case float64:
		return fromFloat(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = FromScript(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = FromScript(e)
		}
		return out
	}
	return value
}

func fromFloat(f float64) any {
	if f == math.Trunc(f) && f >= -MaxSafeInteger && f <= MaxSafeInteger {
		return int(f)
	}
	return f
}

// ToScript 将宿主数值规整为 int64 或 float64，超出安全整数范围的整数变为 float64
func ToScript(value any) any {
	if value == nil {
		return nil
	}
	v := reflect.ValueOf(value)
	switch {
	case isIntKind(v.Kind()):
		n := v.Int()
		if n >= -MaxSafeInteger && n <= MaxSafeInteger {
			return n
		}
		return float64(n)
	case isUintKind(v.Kind()):
		n := v.Uint()
		if n <= MaxSafeInteger {
			return int64(n)
		}
		return float64(n)
	case isFloatKind(v.Kind()):
		return v.Float()
	case v.Kind() == reflect.String && v.Type() != reflect.TypeOf(""):
		return v.String()
	case v.Kind() == reflect.Bool && v.Type() != reflect.TypeOf(false):
		return v.Bool()
	}
	return value
}

func assign(v reflect.Value, target reflect.Type) reflect.Value {
	if v.Type() == target {
		return v
	}
	out := reflect.New(target).Elem()
	out.Set(v)
	return out
}

func notConvertible(value any, target reflect.Type) error {
	return errors.Wrapf(ErrNotConvertible, "%T to %s", value, target)
}

func isNillable(k reflect.Kind) bool {
	switch k {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return true
	}
	return false
}

func isIntKind(k reflect.Kind) bool {
	return k >= reflect.Int && k <= reflect.Int64
}

func isUintKind(k reflect.Kind) bool {
	return k >= reflect.Uint && k <= reflect.Uintptr
}

func isFloatKind(k reflect.Kind) bool {
	return k == reflect.Float32 || k == reflect.Float64
}

func isNumberKind(k reflect.Kind) bool {
	return isIntKind(k) || isUintKind(k) || isFloatKind(k)
}
