package bridge

import (
	"context"
	"reflect"

	"github.com/pkg/errors"
)

// ItemKind 嵌入项类别
type ItemKind int

const (
	// ObjectItem 宿主对象的实例投影
	ObjectItem ItemKind = iota
	// TypeItem 宿主类型的类型投影
	TypeItem
)

func (k ItemKind) String() string {
	if k == TypeItem {
		return "type"
	}
	return "object"
}

// EmbeddedItem 一个已投影到脚本中的宿主对象或宿主类型。
// ScriptValue 与 Trampolines 由引擎适配器创建，类型与引擎相关。
type EmbeddedItem struct {
	Kind        ItemKind
	Key         EmbeddedObjectKey
	Type        reflect.Type
	HostType    *HostType
	ScriptValue any
	Trampolines []any

	value     reflect.Value
	members   *memberTable
	resolver  *Resolver
	refs      int
	anonymous bool
	released  bool
}

// Host 返回宿主对象，类型投影返回 nil
func (it *EmbeddedItem) Host() any {
	if !it.value.IsValid() {
		return nil
	}
	return it.value.Interface()
}

// Members 按声明顺序返回成员
func (it *EmbeddedItem) Members() []*Member {
	if it.members == nil {
		return nil
	}
	return it.members.list()
}

func (it *EmbeddedItem) Member(name string) (*Member, bool) {
	if it.members == nil {
		return nil, false
	}
	return it.members.get(name)
}

// RefCount 引用该嵌入项的名称数量
func (it *EmbeddedItem) RefCount() int {
	return it.refs
}

func (it *EmbeddedItem) Released() bool {
	return it.released
}

// Invoke 以重载决议调用方法或静态函数
func (it *EmbeddedItem) Invoke(ctx context.Context, name string, args []any) ([]any, error) {
	if it.released {
		return nil, ErrReleased
	}
	m, ok := it.Member(name)
	if !ok || m.Kind != MemberMethod {
		return nil, errors.Wrapf(ErrUnknownMember, "%s.%s is not callable", it.displayName(), name)
	}

	match, err := it.resolver.Resolve(m.Candidates, args)
	if err != nil {
		return nil, errors.WithMessagef(err, "%s.%s", it.displayName(), name)
	}
	return match.Call(ctx)
}

// Get 读取字段或常量
func (it *EmbeddedItem) Get(name string) (any, error) {
	if it.released {
		return nil, ErrReleased
	}
	m, ok := it.Member(name)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownMember, "%s.%s", it.displayName(), name)
	}

	switch m.Kind {
	case MemberConstant:
		return m.constant, nil
	case MemberField:
		fv, err := it.field(m)
		if err != nil {
			return nil, err
		}
		return fv.Interface(), nil
	default:
		return nil, errors.Wrapf(ErrUnknownMember, "%s.%s is a method", it.displayName(), name)
	}
}

// Set 写入字段，值按字段类型转换
func (it *EmbeddedItem) Set(name string, value any) error {
	if it.released {
		return ErrReleased
	}
	m, ok := it.Member(name)
	if !ok {
		return errors.Wrapf(ErrUnknownMember, "%s.%s", it.displayName(), name)
	}
	if m.Kind != MemberField || m.ReadOnly() {
		return errors.Wrapf(ErrReadOnly, "%s.%s", it.displayName(), name)
	}

	fv, err := it.field(m)
	if err != nil {
		return err
	}
	if !fv.CanSet() {
		return errors.Wrapf(ErrReadOnly, "%s.%s", it.displayName(), name)
	}

	cv, err := it.resolver.Coercer().Coerce(value, m.field.Type)
	if err != nil {
		return errors.WithMessagef(err, "%s.%s", it.displayName(), name)
	}
	fv.Set(cv)
	return nil
}

// Construct 以重载决议调用构造函数，返回新的宿主实例。
// 构造函数返回结构体值时复制为指针，使实例字段可写。
func (it *EmbeddedItem) Construct(ctx context.Context, args []any) (any, error) {
	if it.released {
		return nil, ErrReleased
	}
	if it.Kind != TypeItem {
		return nil, errors.Wrapf(ErrUnknownMember, "%s is not a type", it.displayName())
	}

	match, err := it.resolver.Resolve(it.HostType.Constructors(), args)
	if err != nil {
		return nil, errors.WithMessagef(err, "new %s", it.displayName())
	}
	results, err := match.Call(ctx)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 || results[0] == nil {
		return nil, errors.Wrapf(ErrInvalidArgument, "constructor of %s returned nil", it.displayName())
	}

	rv := reflect.ValueOf(results[0])
	if rv.Kind() == reflect.Struct {
		ptr := reflect.New(rv.Type())
		ptr.Elem().Set(rv)
		return ptr.Interface(), nil
	}
	return results[0], nil
}

func (it *EmbeddedItem) field(m *Member) (reflect.Value, error) {
	sv := it.value
	if sv.Kind() == reflect.Pointer {
		sv = sv.Elem()
	}
	fv, err := sv.FieldByIndexErr(m.field.Index)
	if err != nil {
		return reflect.Value{}, errors.Wrapf(ErrUnknownMember, "%s.%s: %v", it.displayName(), m.Name, err)
	}
	return fv, nil
}

func (it *EmbeddedItem) displayName() string {
	if it.Type == nil {
		return it.Key.TypeName
	}
	return it.Type.String()
}

func (it *EmbeddedItem) release() {
	it.released = true
	it.ScriptValue = nil
	it.Trampolines = nil
	it.value = reflect.Value{}
}
