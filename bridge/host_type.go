package bridge

import (
	"reflect"

	"github.com/pkg/errors"
)

// HostType 描述嵌入脚本的宿主类型：构造函数、静态函数与常量。
// Go 没有静态成员，静态函数与常量需要显式登记。
type HostType struct {
	Type reflect.Type
	Name string

	constructors []*Candidate
	statics      *memberTable
	err          error
}

// TypeOf 为类型 T 创建描述
func TypeOf[T any]() *HostType {
	return NewHostType(reflect.TypeOf((*T)(nil)).Elem())
}

// NewHostType 为 reflect.Type 创建描述
func NewHostType(t reflect.Type) *HostType {
	if t == nil {
		return &HostType{err: errors.Wrap(ErrInvalidArgument, "nil host type")}
	}
	return &HostType{
		Type:    t,
		Name:    QualifiedName(t),
		statics: newMemberTable(),
	}
}

// QualifiedName 返回带包路径的类型名
func QualifiedName(t reflect.Type) string {
	switch {
	case t == nil:
		return ""
	case t.Kind() == reflect.Pointer:
		return "*" + QualifiedName(t.Elem())
	case t.Name() != "" && t.PkgPath() != "":
		return t.PkgPath() + "." + t.Name()
	default:
		return t.String()
	}
}

// Constructor 登记构造函数重载，返回值必须是 T、*T 或 (T, error)、(*T, error)
func (h *HostType) Constructor(fns ...any) *HostType {
	if h.err != nil {
		return h
	}
	for _, fn := range fns {
		fv := reflect.ValueOf(fn)
		c, err := NewCandidate("new "+h.Type.Name(), len(h.constructors), fv)
		if err != nil {
			h.err = err
			return h
		}
		if !h.constructs(fv.Type()) {
			h.err = errors.Wrapf(ErrInvalidArgument, "constructor %s does not return %s", fv.Type(), h.Name)
			return h
		}
		h.constructors = append(h.constructors, c)
	}
	return h
}

// Static 登记静态函数重载组
func (h *HostType) Static(name string, fns ...any) *HostType {
	if h.err != nil {
		return h
	}
	if name == "" {
		h.err = errors.Wrap(ErrInvalidArgument, "empty static name")
		return h
	}
	for _, fn := range fns {
		if err := h.statics.addCandidate(name, reflect.ValueOf(fn)); err != nil {
			h.err = err
			return h
		}
	}
	return h
}

// Constant 登记只读常量
func (h *HostType) Constant(name string, value any) *HostType {
	if h.err != nil {
		return h
	}
	if name == "" {
		h.err = errors.Wrap(ErrInvalidArgument, "empty constant name")
		return h
	}
	h.statics.add(&Member{Name: name, Kind: MemberConstant, constant: value})
	return h
}

// Err 返回登记过程中的第一个错误
func (h *HostType) Err() error {
	return h.err
}

// Constructors 返回构造函数重载，未登记时为 new(T)
func (h *HostType) Constructors() []*Candidate {
	if len(h.constructors) > 0 || h.Type == nil {
		return h.constructors
	}

	base := h.Type
	if base.Kind() == reflect.Pointer {
		base = base.Elem()
	}
	fnType := reflect.FuncOf(nil, []reflect.Type{reflect.PointerTo(base)}, false)
	fn := reflect.MakeFunc(fnType, func([]reflect.Value) []reflect.Value {
		return []reflect.Value{reflect.New(base)}
	})
	c, _ := NewCandidate("new "+base.Name(), 0, fn)
	return []*Candidate{c}
}

// Statics 按登记顺序返回静态成员
func (h *HostType) Statics() []*Member {
	if h.statics == nil {
		return nil
	}
	return h.statics.list()
}

func (h *HostType) constructs(ft reflect.Type) bool {
	n := ft.NumOut()
	if n == 2 && ft.Out(1) == errorType {
		n = 1
	}
	if n != 1 {
		return false
	}

	out := ft.Out(0)
	base := h.Type
	if base.Kind() == reflect.Pointer {
		base = base.Elem()
	}
	return out == base || out == reflect.PointerTo(base)
}
