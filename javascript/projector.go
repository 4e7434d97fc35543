package js

import (
	"context"
	"errors"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/require"
	"github.com/go-kratos/kratos/v2/log"

	"github.com/tx7do/go-script-host/bridge"
	"github.com/tx7do/go-script-host/stacktrace"
)

// virtualMachine 一个 goja 运行时及其嵌入登记表，只在工作协程中使用
type virtualMachine struct {
	rt       *goja.Runtime
	modules  *require.Registry
	registry *bridge.Registry

	// ctx 当前任务的上下文，注入到宿主函数
	ctx context.Context
	// run 当前最外层执行的编号
	run uint64
	// entry 当前最外层执行的入口，决定栈底匿名帧的标签
	entry stacktrace.Entry
	// documents 文档名 -> 源码，用于错误位置的源码片段
	documents map[string]string
	docIndex  int
	programs  []*goja.Program

	log *log.Helper
}

func (vm *virtualMachine) context() context.Context {
	if vm.ctx == nil {
		return context.Background()
	}
	return vm.ctx
}

// Project 为嵌入项创建脚本对象：方法为原生函数，字段为访问器属性，类型投影为构造函数
func (vm *virtualMachine) Project(item *bridge.EmbeddedItem) (any, []any, error) {
	var (
		target      *goja.Object
		trampolines []any
	)

	if item.Kind == bridge.TypeItem {
		ctor := func(call goja.ConstructorCall) *goja.Object {
			inst, err := item.Construct(vm.context(), vm.arguments(call.Arguments))
			if err != nil {
				vm.throw(err)
			}
			projected, err := vm.registry.Project(inst)
			if err != nil {
				vm.throw(err)
			}
			return projected.(*goja.Object)
		}
		trampolines = append(trampolines, ctor)
		target = vm.rt.ToValue(ctor).(*goja.Object)
	} else {
		target = vm.rt.NewObject()
	}

	for _, m := range item.Members() {
		name := m.Name
		var err error

		switch m.Kind {
		case bridge.MemberMethod:
			fn := func(call goja.FunctionCall) goja.Value {
				results, err := item.Invoke(vm.context(), name, vm.arguments(call.Arguments))
				if err != nil {
					vm.throw(err)
				}
				return vm.results(results)
			}
			trampolines = append(trampolines, fn)
			err = target.DefineDataProperty(name, vm.rt.ToValue(fn), goja.FLAG_FALSE, goja.FLAG_TRUE, goja.FLAG_TRUE)

		case bridge.MemberField:
			getter := func(goja.FunctionCall) goja.Value {
				v, err := item.Get(name)
				if err != nil {
					vm.throw(err)
				}
				return vm.toScript(v)
			}
			trampolines = append(trampolines, getter)

			var setter goja.Value
			if !m.ReadOnly() {
				set := func(call goja.FunctionCall) goja.Value {
					if err := item.Set(name, vm.fromScript(call.Argument(0))); err != nil {
						vm.throw(err)
					}
					return goja.Undefined()
				}
				trampolines = append(trampolines, set)
				setter = vm.rt.ToValue(set)
			}
			err = target.DefineAccessorProperty(name, vm.rt.ToValue(getter), setter, goja.FLAG_TRUE, goja.FLAG_TRUE)

		case bridge.MemberConstant:
			v, _ := item.Get(name)
			err = target.DefineDataProperty(name, vm.toScript(v), goja.FLAG_FALSE, goja.FLAG_TRUE, goja.FLAG_TRUE)
		}

		if err != nil {
			return nil, nil, err
		}
	}

	return target, trampolines, nil
}

func (vm *virtualMachine) Bind(name string, scriptValue any) error {
	return vm.rt.Set(name, scriptValue)
}

func (vm *virtualMachine) Unbind(name string) error {
	return vm.rt.GlobalObject().Delete(name)
}

// Release 删除投影上的成员，脚本中残留的引用不再能访问宿主对象
func (vm *virtualMachine) Release(item *bridge.EmbeddedItem) {
	obj, ok := item.ScriptValue.(*goja.Object)
	if !ok {
		return
	}
	for _, m := range item.Members() {
		if err := obj.Delete(m.Name); err != nil {
			vm.log.Debugf("release %s.%s: %v", item.Key, m.Name, err)
		}
	}
}

// arguments 将脚本参数转换为宿主值，投影还原为原宿主对象
func (vm *virtualMachine) arguments(values []goja.Value) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = vm.fromScript(v)
	}
	return args
}

func (vm *virtualMachine) fromScript(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	if obj, ok := v.(*goja.Object); ok {
		if host, ok := vm.registry.HostValue(obj); ok {
			return host
		}
	}
	return bridge.FromScript(v.Export())
}

func (vm *virtualMachine) toScript(value any) goja.Value {
	sv, err := vm.registry.Export(value)
	if err != nil {
		vm.throw(err)
	}
	if sv == nil {
		return goja.Null()
	}
	return vm.rt.ToValue(sv)
}

// results 没有返回值为 undefined，多个返回值为数组
func (vm *virtualMachine) results(results []any) goja.Value {
	switch len(results) {
	case 0:
		return goja.Undefined()
	case 1:
		return vm.toScript(results[0])
	}
	items := make([]any, len(results))
	for i, r := range results {
		items[i] = vm.toScript(r)
	}
	return vm.rt.NewArray(items...)
}

// throw 将宿主错误作为脚本异常抛出。
// 绑定错误为 TypeError，其他错误为 GoError，可通过异常取回原错误。
func (vm *virtualMachine) throw(err error) {
	switch {
	case errors.Is(err, bridge.ErrNoMatch),
		errors.Is(err, bridge.ErrNotConvertible),
		errors.Is(err, bridge.ErrUnknownMember),
		errors.Is(err, bridge.ErrReadOnly),
		errors.Is(err, bridge.ErrReleased):
		panic(vm.rt.NewTypeError(err.Error()))
	}
	panic(vm.rt.NewGoError(err))
}
