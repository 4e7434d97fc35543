// Package bridge 将宿主对象与宿主类型投影到脚本引擎中：
// 嵌入登记、重载决议以及宿主与脚本之间的类型转换。
package bridge

import (
	"reflect"
	"sort"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/pkg/errors"
)

// Projector 由引擎适配器实现，负责创建脚本侧的投影
type Projector interface {
	// Project 为嵌入项创建脚本值，以及为成员创建的原生函数
	Project(item *EmbeddedItem) (scriptValue any, trampolines []any, err error)
	// Bind 将脚本值绑定到全局名称
	Bind(name string, scriptValue any) error
	// Unbind 删除全局名称
	Unbind(name string) error
	// Release 释放嵌入项的原生函数
	Release(item *EmbeddedItem)
}

// Registry 嵌入登记表。
// 只能在引擎的工作协程中使用，不做并发保护。
type Registry struct {
	projector Projector
	resolver  *Resolver
	namer     MemberNamer
	log       *log.Helper

	items    map[EmbeddedObjectKey]*EmbeddedItem
	names    map[string]*EmbeddedItem
	byScript map[any]*EmbeddedItem
}

type RegistryOption func(*Registry)

// WithCoercer 指定类型转换器
func WithCoercer(c *Coercer) RegistryOption {
	return func(r *Registry) {
		if c != nil {
			r.resolver = NewResolver(c)
		}
	}
}

// WithMemberNamer 指定成员命名规则
func WithMemberNamer(namer MemberNamer) RegistryOption {
	return func(r *Registry) {
		if namer != nil {
			r.namer = namer
		}
	}
}

func WithLogger(logger log.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.log = log.NewHelper(log.With(logger, "module", "bridge/registry"))
		}
	}
}

func NewRegistry(projector Projector, opts ...RegistryOption) *Registry {
	r := &Registry{
		projector: projector,
		resolver:  NewResolver(nil),
		namer:     DefaultMemberNamer,
		log:       log.NewHelper(log.With(log.DefaultLogger, "module", "bridge/registry")),
		items:     make(map[EmbeddedObjectKey]*EmbeddedItem),
		names:     make(map[string]*EmbeddedItem),
		byScript:  make(map[any]*EmbeddedItem),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) Resolver() *Resolver {
	return r.resolver
}

func (r *Registry) Coercer() *Coercer {
	return r.resolver.Coercer()
}

// EmbedObject 以 name 嵌入宿主对象。
// 同一对象再次嵌入时复用已有投影，不会创建新的原生函数。
func (r *Registry) EmbedObject(name string, obj any) error {
	if name == "" {
		return errors.Wrap(ErrInvalidArgument, "empty name")
	}

	item, err := r.objectItem(obj)
	if err != nil {
		return err
	}
	return r.bind(name, item)
}

// EmbedType 以 name 嵌入宿主类型
func (r *Registry) EmbedType(name string, ht *HostType) error {
	if name == "" {
		return errors.Wrap(ErrInvalidArgument, "empty name")
	}
	if ht == nil {
		return errors.Wrap(ErrInvalidArgument, "nil host type")
	}
	if err := ht.Err(); err != nil {
		return err
	}

	key, err := TypeKey(ht)
	if err != nil {
		return err
	}

	item, ok := r.items[key]
	if !ok {
		item = &EmbeddedItem{
			Kind:     TypeItem,
			Key:      key,
			Type:     ht.Type,
			HostType: ht,
			members:  ht.statics,
			resolver: r.resolver,
		}
		if err = r.project(item); err != nil {
			return err
		}
	}
	return r.bind(name, item)
}

// Project 为宿主对象创建匿名投影（例如宿主方法返回的对象），返回脚本值。
// 匿名投影在 Close 时释放；已命名的嵌入项直接返回其投影，生命周期仍由名称决定。
func (r *Registry) Project(obj any) (any, error) {
	item, err := r.objectItem(obj)
	if err != nil {
		return nil, err
	}
	if item.refs == 0 {
		item.anonymous = true
	}
	return item.ScriptValue, nil
}

// Remove 删除名称绑定，最后一个名称删除后释放嵌入项
func (r *Registry) Remove(name string) error {
	item, ok := r.names[name]
	if !ok {
		return errors.Wrapf(ErrUnknownMember, "%s is not embedded", name)
	}

	delete(r.names, name)
	err := r.projector.Unbind(name)
	r.unref(item)

	r.log.Debugf("removed %s (%s)", name, item.Key)
	return err
}

// Lookup 按名称查找嵌入项
func (r *Registry) Lookup(name string) (*EmbeddedItem, bool) {
	item, ok := r.names[name]
	return item, ok
}

// LookupScript 按脚本值查找嵌入项
func (r *Registry) LookupScript(scriptValue any) (*EmbeddedItem, bool) {
	if !isComparable(scriptValue) {
		return nil, false
	}
	item, ok := r.byScript[scriptValue]
	return item, ok
}

// HostValue 将脚本中的投影还原为宿主对象
func (r *Registry) HostValue(scriptValue any) (any, bool) {
	item, ok := r.LookupScript(scriptValue)
	if !ok || item.Kind != ObjectItem {
		return nil, false
	}
	return item.Host(), true
}

// Export 将宿主值转换为脚本值，结构体指针转换为匿名投影
func (r *Registry) Export(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	v := reflect.ValueOf(value)
	if v.Kind() == reflect.Pointer && !v.IsNil() && v.Elem().Kind() == reflect.Struct {
		return r.Project(value)
	}
	return ToScript(value), nil
}

// Items 按键排序返回全部嵌入项
func (r *Registry) Items() []*EmbeddedItem {
	items := make([]*EmbeddedItem, 0, len(r.items))
	for _, item := range r.items {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].Key.Less(items[j].Key)
	})
	return items
}

// Names 返回已绑定的名称
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.names))
	for name := range r.names {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close 解除所有绑定并释放全部嵌入项
func (r *Registry) Close() {
	for _, name := range r.Names() {
		_ = r.projector.Unbind(name)
	}
	for _, item := range r.Items() {
		r.releaseItem(item)
	}
	r.names = make(map[string]*EmbeddedItem)
}

func (r *Registry) objectItem(obj any) (*EmbeddedItem, error) {
	key, err := ObjectKey(obj)
	if err != nil {
		return nil, err
	}
	if item, ok := r.items[key]; ok {
		return item, nil
	}

	v := reflect.ValueOf(obj)
	members, err := reflectInstanceMembers(v, r.namer)
	if err != nil {
		return nil, err
	}

	item := &EmbeddedItem{
		Kind:     ObjectItem,
		Key:      key,
		Type:     v.Type(),
		value:    v,
		members:  members,
		resolver: r.resolver,
	}
	if err = r.project(item); err != nil {
		return nil, err
	}
	return item, nil
}

func (r *Registry) project(item *EmbeddedItem) error {
	sv, trampolines, err := r.projector.Project(item)
	if err != nil {
		return errors.WithMessagef(err, "project %s", item.Key)
	}
	item.ScriptValue = sv
	item.Trampolines = trampolines

	r.items[item.Key] = item
	if isComparable(sv) {
		r.byScript[sv] = item
	}
	return nil
}

// bind 先绑定新值，再释放名称原先引用的嵌入项
func (r *Registry) bind(name string, item *EmbeddedItem) error {
	prev, hadPrev := r.names[name]
	if hadPrev && prev == item {
		return nil
	}

	if err := r.projector.Bind(name, item.ScriptValue); err != nil {
		if item.refs == 0 && !item.anonymous {
			r.releaseItem(item)
		}
		return errors.WithMessagef(err, "bind %s", name)
	}

	r.names[name] = item
	item.refs++
	if hadPrev {
		r.unref(prev)
	}

	r.log.Debugf("embedded %s as %s (refs=%d)", item.Key, name, item.refs)
	return nil
}

func (r *Registry) unref(item *EmbeddedItem) {
	item.refs--
	if item.refs <= 0 && !item.anonymous {
		r.releaseItem(item)
	}
}

func (r *Registry) releaseItem(item *EmbeddedItem) {
	if item.released {
		return
	}
	r.projector.Release(item)

	delete(r.items, item.Key)
	if isComparable(item.ScriptValue) {
		delete(r.byScript, item.ScriptValue)
	}
	item.release()
}

func isComparable(v any) bool {
	return v != nil && reflect.TypeOf(v).Comparable()
}
