package lua

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-kratos/kratos/v2/log"
	Lua "github.com/yuin/gopher-lua"
	luar "layeh.com/gopher-luar"

	"github.com/tx7do/go-script-host/bridge"
	"github.com/tx7do/go-script-host/stacktrace"
)

const (
	itemTypeName      = "host.item"
	hostErrorTypeName = "host.error"
)

// virtualMachine 一个 LState 及其嵌入登记表，只在工作协程中使用
type virtualMachine struct {
	L        *Lua.LState
	registry *bridge.Registry

	// ctx 当前任务的上下文，注入到宿主函数
	ctx context.Context
	// runCtx 设置到 LState 上的上下文，取消即中断脚本
	runCtx context.Context
	entry  stacktrace.Entry

	documents map[string]string
	docIndex  int
	programs  []*Lua.LFunction

	log *log.Helper
}

func (vm *virtualMachine) context() context.Context {
	if vm.ctx == nil {
		return context.Background()
	}
	return vm.ctx
}

// Project 为嵌入项创建 userdata，成员访问通过元表完成；
// 类型投影可以直接调用构造实例，也可以使用 new
func (vm *virtualMachine) Project(item *bridge.EmbeddedItem) (any, []any, error) {
	ud := vm.L.NewUserData()
	ud.Value = item

	var trampolines []any
	methods := make(map[string]*Lua.LFunction)

	for _, m := range item.Members() {
		if m.Kind != bridge.MemberMethod {
			continue
		}
		name := m.Name
		fn := vm.L.NewFunction(func(L *Lua.LState) int {
			results, err := item.Invoke(vm.context(), name, vm.arguments(L, ud))
			if err != nil {
				vm.raise(L, err)
			}
			return vm.pushResults(L, results)
		})
		methods[name] = fn
		trampolines = append(trampolines, fn)
	}

	mt := vm.L.NewTable()
	index := vm.L.NewFunction(func(L *Lua.LState) int {
		key := L.CheckString(2)
		if fn, ok := methods[key]; ok {
			L.Push(fn)
			return 1
		}
		if _, ok := item.Member(key); !ok {
			L.Push(Lua.LNil)
			return 1
		}
		v, err := item.Get(key)
		if err != nil {
			vm.raise(L, err)
		}
		L.Push(vm.toScript(L, v))
		return 1
	})
	newIndex := vm.L.NewFunction(func(L *Lua.LState) int {
		if err := item.Set(L.CheckString(2), vm.fromScript(L.Get(3))); err != nil {
			vm.raise(L, err)
		}
		return 0
	})
	toString := vm.L.NewFunction(func(L *Lua.LState) int {
		L.Push(Lua.LString(item.Key.String()))
		return 1
	})
	vm.L.SetField(mt, "__index", index)
	vm.L.SetField(mt, "__newindex", newIndex)
	vm.L.SetField(mt, "__tostring", toString)
	vm.L.SetField(mt, "__metatable", Lua.LString(itemTypeName))
	trampolines = append(trampolines, index, newIndex, toString)

	if item.Kind == bridge.TypeItem {
		construct := vm.L.NewFunction(func(L *Lua.LState) int {
			inst, err := item.Construct(vm.context(), vm.arguments(L, ud))
			if err != nil {
				vm.raise(L, err)
			}
			projected, err := vm.registry.Project(inst)
			if err != nil {
				vm.raise(L, err)
			}
			L.Push(projected.(*Lua.LUserData))
			return 1
		})
		vm.L.SetField(mt, "__call", construct)
		methods["new"] = construct
		trampolines = append(trampolines, construct)
	}

	vm.L.SetMetatable(ud, mt)
	return ud, trampolines, nil
}

func (vm *virtualMachine) Bind(name string, scriptValue any) error {
	lv, ok := scriptValue.(Lua.LValue)
	if !ok {
		return fmt.Errorf("unexpected script value %T", scriptValue)
	}
	vm.L.SetGlobal(name, lv)
	return nil
}

func (vm *virtualMachine) Unbind(name string) error {
	vm.L.SetGlobal(name, Lua.LNil)
	return nil
}

// Release 去掉元表，脚本中残留的引用不再能访问宿主对象
func (vm *virtualMachine) Release(item *bridge.EmbeddedItem) {
	if ud, ok := item.ScriptValue.(*Lua.LUserData); ok {
		ud.Value = nil
		vm.L.SetMetatable(ud, Lua.LNil)
	}
}

// arguments 读取调用参数；以冒号语法调用时去掉第一个参数 self
func (vm *virtualMachine) arguments(L *Lua.LState, self *Lua.LUserData) []any {
	top := L.GetTop()
	start := 1
	if top > 0 && L.Get(1) == self {
		start = 2
	}
	args := make([]any, 0, top)
	for i := start; i <= top; i++ {
		args = append(args, vm.fromScript(L.Get(i)))
	}
	return args
}

func (vm *virtualMachine) pushResults(L *Lua.LState, results []any) int {
	for _, r := range results {
		L.Push(vm.toScript(L, r))
	}
	return len(results)
}

// fromScript 将 Lua 值转换为宿主值，嵌入项还原为原宿主对象
func (vm *virtualMachine) fromScript(lv Lua.LValue) any {
	switch v := lv.(type) {
	case nil, *Lua.LNilType:
		return nil
	case Lua.LBool:
		return bool(v)
	case Lua.LNumber:
		return bridge.FromScript(float64(v))
	case Lua.LString:
		return string(v)
	case *Lua.LUserData:
		if host, ok := vm.registry.HostValue(v); ok {
			return host
		}
		if _, ok := v.Value.(*bridge.EmbeddedItem); ok {
			return v
		}
		return v.Value
	case *Lua.LTable:
		return vm.fromTable(v)
	}
	return lv
}

// fromTable 连续整数键的表转换为切片，其他表转换为 map
func (vm *virtualMachine) fromTable(tb *Lua.LTable) any {
	if n := tb.MaxN(); n > 0 {
		items := make([]any, 0, n)
		for i := 1; i <= n; i++ {
			items = append(items, vm.fromScript(tb.RawGetInt(i)))
		}
		return items
	}

	m := make(map[string]any)
	tb.ForEach(func(k, v Lua.LValue) {
		m[k.String()] = vm.fromScript(v)
	})
	return m
}

// toScript 将宿主返回值转换为 Lua 值，结构体指针转换为嵌入项投影
func (vm *virtualMachine) toScript(L *Lua.LState, value any) Lua.LValue {
	sv, err := vm.registry.Export(value)
	if err != nil {
		vm.raise(L, err)
	}
	return vm.valueOf(L, sv)
}

// valueOf 基本值直接转换，[]any 与 map[string]any 转换为表，其余交给 luar
func (vm *virtualMachine) valueOf(L *Lua.LState, value any) Lua.LValue {
	switch v := value.(type) {
	case nil:
		return Lua.LNil
	case Lua.LValue:
		return v
	case bool:
		return Lua.LBool(v)
	case string:
		return Lua.LString(v)
	case int:
		return Lua.LNumber(v)
	case int64:
		return Lua.LNumber(v)
	case float64:
		return Lua.LNumber(v)
	case error:
		return vm.errorValue(L, v)
	case []any:
		tb := L.CreateTable(len(v), 0)
		for _, e := range v {
			tb.Append(vm.valueOf(L, bridge.ToScript(e)))
		}
		return tb
	case map[string]any:
		tb := L.CreateTable(0, len(v))
		for k, e := range v {
			tb.RawSetString(k, vm.valueOf(L, bridge.ToScript(e)))
		}
		return tb
	}
	return luar.New(L, value)
}

// errorValue 包装宿主错误的 userdata，tostring 与 .message 得到错误信息
func (vm *virtualMachine) errorValue(L *Lua.LState, err error) *Lua.LUserData {
	ud := L.NewUserData()
	ud.Value = err
	L.SetMetatable(ud, L.GetTypeMetatable(hostErrorTypeName))
	return ud
}

// registerErrorType 注册宿主错误的元表
func (vm *virtualMachine) registerErrorType() {
	mt := vm.L.NewTypeMetatable(hostErrorTypeName)
	vm.L.SetField(mt, "__tostring", vm.L.NewFunction(func(L *Lua.LState) int {
		L.Push(Lua.LString(hostError(L.CheckUserData(1)).Error()))
		return 1
	}))
	vm.L.SetField(mt, "__index", vm.L.NewFunction(func(L *Lua.LState) int {
		err := hostError(L.CheckUserData(1))
		switch L.CheckString(2) {
		case "message":
			L.Push(Lua.LString(err.Error()))
		case "category":
			L.Push(Lua.LString(category(err)))
		default:
			L.Push(Lua.LNil)
		}
		return 1
	}))
}

// raise 将宿主错误作为 Lua 错误抛出，pcall 得到可以 tostring 的错误对象
func (vm *virtualMachine) raise(L *Lua.LState, err error) {
	L.Error(vm.errorValue(L, err), 1)
}

func hostError(ud *Lua.LUserData) error {
	if err, ok := ud.Value.(error); ok {
		return err
	}
	return errors.New("invalid host error")
}

// category 绑定错误为 TypeError，其他宿主错误为 GoError
func category(err error) string {
	switch {
	case errors.Is(err, bridge.ErrNoMatch),
		errors.Is(err, bridge.ErrNotConvertible),
		errors.Is(err, bridge.ErrUnknownMember),
		errors.Is(err, bridge.ErrReadOnly),
		errors.Is(err, bridge.ErrReleased):
		return "TypeError"
	}
	return "GoError"
}
