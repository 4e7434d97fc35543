package lua

import (
	"context"
	"fmt"
	"io"
	"os"
	"reflect"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/samber/lo"
	"github.com/tengattack/gluacrypto"
	libs "github.com/vadv/gopher-lua-libs"
	"github.com/yuin/gluamapper"
	Lua "github.com/yuin/gopher-lua"
	luar "layeh.com/gopher-luar"

	scriptEngine "github.com/tx7do/go-script-host"
	"github.com/tx7do/go-script-host/bridge"
	"github.com/tx7do/go-script-host/dispatcher"
	"github.com/tx7do/go-script-host/stacktrace"
)

const engineName = "lua"

func init() {
	_ = scriptEngine.Register(scriptEngine.LuaType, func(opts ...scriptEngine.Option) (scriptEngine.Engine, error) {
		return newLuaEngine(opts...)
	})
}

// engine Lua 脚本引擎实现
//
// LState 不是并发安全的：每次 Init 创建一个 session，
// LState 只在该 session 调度器的工作协程中访问。
type engine struct {
	opts    *scriptEngine.Options
	luaOpts options
	log     *log.Helper

	mu   sync.RWMutex
	sess *session

	// cancelRun 取消正在执行的最外层脚本
	interruptMu sync.Mutex
	cancelRun   context.CancelCauseFunc

	initialized atomic.Bool

	lastError   error
	lastErrorMu sync.RWMutex
}

type session struct {
	disp *dispatcher.Dispatcher
	vm   *virtualMachine
}

// newLuaEngine 创建 Lua 引擎实例
func newLuaEngine(opts ...scriptEngine.Option) (*engine, error) {
	o := scriptEngine.NewOptions(opts...)
	return &engine{
		opts:    o,
		luaOpts: readOptions(o),
		log:     log.NewHelper(log.With(o.Logger, "module", "lua")),
	}, nil
}

func (e *engine) GetType() scriptEngine.Type {
	return scriptEngine.LuaType
}

func (e *engine) Name() string {
	return engineName
}

func (e *engine) Version() string {
	return fmt.Sprintf("%s (gopher-lua %s)", Lua.LuaVersion, scriptEngine.ModuleVersion("github.com/yuin/gopher-lua"))
}

//////////////////////////////////////////////////////////////////////////////////////////
// Lifecycle
//////////////////////////////////////////////////////////////////////////////////////////

// Init 初始化引擎
func (e *engine) Init(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sess != nil {
		return e.fail(scriptEngine.UsageError(engineName, scriptEngine.ErrAlreadyInitialized))
	}

	s := &session{}
	s.disp = dispatcher.New(
		dispatcher.WithName(engineName),
		dispatcher.WithStackSize(e.opts.MaxStackSize),
		dispatcher.WithLogger(e.opts.Logger),
		dispatcher.WithInterruptRecovery(s.clearInterrupt),
	)

	err := s.disp.Do(ctx, func(context.Context) error {
		s.vm = e.newVirtualMachine()
		for name, value := range e.opts.Globals {
			s.vm.L.SetGlobal(name, s.vm.valueOf(s.vm.L, bridge.ToScript(value)))
		}
		return nil
	})
	if err != nil {
		_ = s.disp.Close()
		return e.fail(scriptEngine.Wrap(scriptEngine.KindLoad, engineName, err))
	}

	e.sess = s
	e.initialized.Store(true)
	e.ClearError()

	e.log.Debugf("initialized, %s", e.Version())
	return nil
}

func (e *engine) newVirtualMachine() *virtualMachine {
	L := Lua.NewState(Lua.Options{
		CallStackSize: callDepth(e.opts),
		RegistrySize:  e.luaOpts.registrySize,
		SkipOpenLibs:  true,
	})

	if e.luaOpts.openLibs {
		L.OpenLibs()
	} else {
		// 至少打开基础库与 package，require 与 PreloadModule 依赖 package
		for _, lib := range []struct {
			name string
			fn   Lua.LGFunction
		}{
			{Lua.LoadLibName, Lua.OpenPackage},
			{Lua.BaseLibName, Lua.OpenBase},
		} {
			L.Push(L.NewFunction(lib.fn))
			L.Push(Lua.LString(lib.name))
			L.Call(1, 0)
		}
	}
	if e.luaOpts.preloadLibs {
		libs.Preload(L)
	}
	if e.luaOpts.cryptoModule {
		gluacrypto.Preload(L)
	}
	L.SetGlobal("print", L.NewFunction(newPrint(e.opts.Logger)))

	namer := e.opts.MemberNamer
	cfg := luar.GetConfig(L)
	cfg.FieldNames = func(_ reflect.Type, f reflect.StructField) []string {
		return lo.Uniq([]string{namer(f.Name), f.Name})
	}
	cfg.MethodNames = func(_ reflect.Type, m reflect.Method) []string {
		return lo.Uniq([]string{namer(m.Name), m.Name})
	}

	vm := &virtualMachine{
		L:         L,
		documents: make(map[string]string),
		log:       e.log,
	}
	vm.registerErrorType()
	vm.registry = bridge.NewRegistry(vm,
		bridge.WithCoercer(e.opts.NewCoercer()),
		bridge.WithMemberNamer(namer),
		bridge.WithLogger(e.opts.Logger),
	)
	return vm
}

// Close 销毁引擎
func (e *engine) Close() error {
	e.mu.Lock()
	s := e.sess
	e.sess = nil
	e.initialized.Store(false)
	e.mu.Unlock()

	if s == nil {
		return scriptEngine.UsageError(engineName, scriptEngine.ErrNotInitialized)
	}

	_ = s.disp.Do(context.Background(), func(context.Context) error {
		if s.vm != nil {
			s.vm.registry.Close()
			s.vm.L.Close()
			s.vm = nil
		}
		return nil
	})
	err := s.disp.Close()

	e.ClearError()
	return err
}

// IsInitialized 检查是否已初始化
func (e *engine) IsInitialized() bool {
	return e.initialized.Load()
}

// clearInterrupt 中断后去掉 LState 上残留的上下文
func (s *session) clearInterrupt() {
	if s.vm != nil && s.vm.runCtx == nil {
		s.vm.L.RemoveContext()
	}
}

// WithState 在工作协程上直接操作 LState，fn 返回前不能保存 L
func (e *engine) WithState(ctx context.Context, fn func(L *Lua.LState) error) error {
	_, err := e.exec(ctx, func(_ context.Context, vm *virtualMachine) (any, error) {
		return nil, fn(vm.L)
	})
	return err
}

//////////////////////////////////////////////////////////////////////////////////////////
// Loading
//////////////////////////////////////////////////////////////////////////////////////////

// LoadString 编译脚本，ExecuteLoaded 时按加载顺序执行
func (e *engine) LoadString(ctx context.Context, source string) error {
	return e.load(ctx, source, "")
}

func (e *engine) LoadStrings(ctx context.Context, sources []string) error {
	for _, source := range sources {
		if err := e.LoadString(ctx, source); err != nil {
			return err
		}
	}
	return nil
}

// LoadFile 加载脚本文件
func (e *engine) LoadFile(ctx context.Context, filePath string) error {
	source, err := os.ReadFile(filePath)
	if err != nil {
		return e.fail(scriptEngine.NewError(scriptEngine.KindLoad, engineName, "", err))
	}
	return e.load(ctx, string(source), filePath)
}

func (e *engine) LoadFiles(ctx context.Context, filePaths []string) error {
	for _, filePath := range filePaths {
		if err := e.LoadFile(ctx, filePath); err != nil {
			return err
		}
	}
	return nil
}

// LoadReader 从 Reader 加载脚本
func (e *engine) LoadReader(ctx context.Context, reader io.Reader, name string) error {
	if reader == nil {
		return e.fail(scriptEngine.UsageError(engineName, scriptEngine.ErrInvalidArgument))
	}
	source, err := io.ReadAll(reader)
	if err != nil {
		return e.fail(scriptEngine.NewError(scriptEngine.KindLoad, engineName, "", err))
	}
	return e.load(ctx, string(source), name)
}

func (e *engine) load(ctx context.Context, source, documentName string) error {
	_, err := e.exec(ctx, func(_ context.Context, vm *virtualMachine) (any, error) {
		fn, err := vm.compile(source, documentName, false)
		if err != nil {
			return nil, err
		}
		vm.programs = append(vm.programs, fn)
		return nil, nil
	})
	return err
}

// compile 编译源码并记录文档。
// expression 为 true 时先尝试作为表达式编译（前面加 return），失败再作为语句块编译。
func (vm *virtualMachine) compile(source, documentName string, expression bool) (*Lua.LFunction, error) {
	if documentName == "" {
		vm.docIndex++
		documentName = fmt.Sprintf("Script Document [%d]", vm.docIndex)
	}
	vm.documents[documentName] = source

	if expression {
		if fn, err := vm.L.Load(strings.NewReader("return "+source), documentName); err == nil {
			return fn, nil
		}
	}

	fn, err := vm.L.Load(strings.NewReader(source), documentName)
	if err != nil {
		return nil, vm.translate(err, documentName)
	}
	return fn, nil
}

// call 保护模式调用 fn，返回全部返回值
func (vm *virtualMachine) call(fn Lua.LValue, args ...Lua.LValue) ([]Lua.LValue, error) {
	top := vm.L.GetTop()
	if err := vm.L.CallByParam(Lua.P{Fn: fn, NRet: Lua.MultRet, Protect: true}, args...); err != nil {
		vm.L.SetTop(top)
		return nil, err
	}

	n := vm.L.GetTop() - top
	rets := make([]Lua.LValue, n)
	for i := 0; i < n; i++ {
		rets[i] = vm.L.Get(top + 1 + i)
	}
	vm.L.SetTop(top)
	return rets, nil
}

// result 没有返回值为 nil，多个返回值为切片
func (vm *virtualMachine) result(rets []Lua.LValue) any {
	switch len(rets) {
	case 0:
		return nil
	case 1:
		return vm.fromScript(rets[0])
	}
	return lo.Map(rets, func(lv Lua.LValue, _ int) any { return vm.fromScript(lv) })
}

//////////////////////////////////////////////////////////////////////////////////////////
// Execution
//////////////////////////////////////////////////////////////////////////////////////////

// ExecuteLoaded 按加载顺序执行已加载的脚本，返回每个脚本的结果
func (e *engine) ExecuteLoaded(ctx context.Context) (any, error) {
	return e.exec(ctx, func(_ context.Context, vm *virtualMachine) (any, error) {
		if len(vm.programs) == 0 {
			return nil, scriptEngine.UsageError(engineName, scriptEngine.ErrNoProgramLoaded)
		}

		results := make([]any, 0, len(vm.programs))
		for _, fn := range vm.programs {
			rets, err := vm.call(fn)
			if err != nil {
				return nil, err
			}
			results = append(results, vm.result(rets))
		}
		return results, nil
	})
}

// Evaluate 执行表达式或语句块并返回结果
func (e *engine) Evaluate(ctx context.Context, expression, documentName string) (any, error) {
	return e.exec(ctx, func(_ context.Context, vm *virtualMachine) (any, error) {
		fn, err := vm.compile(expression, documentName, true)
		if err != nil {
			return nil, err
		}
		rets, err := vm.call(fn)
		if err != nil {
			return nil, err
		}
		return vm.result(rets), nil
	})
}

// Execute 执行代码，丢弃结果
func (e *engine) Execute(ctx context.Context, code, documentName string) error {
	_, err := e.exec(ctx, func(_ context.Context, vm *virtualMachine) (any, error) {
		fn, err := vm.compile(code, documentName, false)
		if err != nil {
			return nil, err
		}
		_, err = vm.call(fn)
		return nil, err
	})
	return err
}

// ExecuteString 执行字符串脚本
func (e *engine) ExecuteString(ctx context.Context, source string) (any, error) {
	return e.Evaluate(ctx, source, "")
}

// ExecuteFile 执行脚本文件
func (e *engine) ExecuteFile(ctx context.Context, filePath string) (any, error) {
	source, err := os.ReadFile(filePath)
	if err != nil {
		return nil, e.fail(scriptEngine.NewError(scriptEngine.KindLoad, engineName, "", err))
	}
	return e.Evaluate(ctx, string(source), filePath)
}

func (e *engine) ExecuteStrings(ctx context.Context, sources []string) ([]any, error) {
	results := make([]any, 0, len(sources))
	for _, src := range sources {
		res, err := e.ExecuteString(ctx, src)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (e *engine) ExecuteFiles(ctx context.Context, filePaths []string) ([]any, error) {
	results := make([]any, 0, len(filePaths))
	for _, filePath := range filePaths {
		res, err := e.ExecuteFile(ctx, filePath)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

//////////////////////////////////////////////////////////////////////////////////////////
// Globals
//////////////////////////////////////////////////////////////////////////////////////////

// RegisterGlobal 注册全局变量；[]any 与 map[string]any 转换为表，其他复合值由 luar 包装
func (e *engine) RegisterGlobal(ctx context.Context, name string, value any) error {
	if name == "" {
		return e.fail(scriptEngine.UsageError(engineName, scriptEngine.ErrInvalidArgument))
	}
	_, err := e.exec(ctx, func(_ context.Context, vm *virtualMachine) (any, error) {
		vm.L.SetGlobal(name, vm.valueOf(vm.L, bridge.ToScript(value)))
		return nil, nil
	})
	return err
}

// GetGlobal 获取全局变量，值为 nil 视为未定义
func (e *engine) GetGlobal(ctx context.Context, name string) (any, error) {
	return e.exec(ctx, func(_ context.Context, vm *virtualMachine) (any, error) {
		lv := vm.L.GetGlobal(name)
		if lv == Lua.LNil {
			return nil, globalNotFound(name)
		}
		return vm.fromScript(lv), nil
	})
}

// GetGlobalAs 将全局变量解码到 out，表到结构体使用 gluamapper
func (e *engine) GetGlobalAs(ctx context.Context, name string, out any) error {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return e.fail(scriptEngine.UsageError(engineName, scriptEngine.ErrInvalidArgument))
	}

	_, err := e.exec(ctx, func(_ context.Context, vm *virtualMachine) (any, error) {
		lv := vm.L.GetGlobal(name)
		if lv == Lua.LNil {
			return nil, globalNotFound(name)
		}

		if tb, ok := lv.(*Lua.LTable); ok && rv.Elem().Kind() == reflect.Struct && tb.MaxN() == 0 {
			mapper := gluamapper.NewMapper(gluamapper.Option{TagName: "lua"})
			if err := mapper.Map(tb, out); err != nil {
				return nil, scriptEngine.NewError(scriptEngine.KindRuntime, engineName, "", err)
			}
			return nil, nil
		}

		cv, err := vm.registry.Coercer().Coerce(vm.fromScript(lv), rv.Elem().Type())
		if err != nil {
			return nil, scriptEngine.NewError(scriptEngine.KindRuntime, engineName, "", err)
		}
		rv.Elem().Set(cv)
		return nil, nil
	})
	return err
}

// HasGlobal 检查全局变量是否已定义
func (e *engine) HasGlobal(ctx context.Context, name string) bool {
	ok, _ := e.exec(ctx, func(_ context.Context, vm *virtualMachine) (any, error) {
		return vm.L.GetGlobal(name) != Lua.LNil, nil
	})
	b, _ := ok.(bool)
	return b
}

// RemoveGlobal 删除全局变量，嵌入项同时解除绑定
func (e *engine) RemoveGlobal(ctx context.Context, name string) error {
	_, err := e.exec(ctx, func(_ context.Context, vm *virtualMachine) (any, error) {
		if _, ok := vm.registry.Lookup(name); ok {
			return nil, vm.registry.Remove(name)
		}
		vm.L.SetGlobal(name, Lua.LNil)
		return nil, nil
	})
	return err
}

func globalNotFound(name string) error {
	return scriptEngine.NewError(scriptEngine.KindRuntime, engineName,
		fmt.Sprintf("global variable %s not found", name), scriptEngine.ErrNotFound)
}

//////////////////////////////////////////////////////////////////////////////////////////
// Functions
//////////////////////////////////////////////////////////////////////////////////////////

// RegisterFunction 注册全局函数。
// Lua.LGFunction 直接注册；其他 Go 函数的参数按类型转换规则转换，
// 首个参数为 context.Context 时注入当前任务的上下文。
func (e *engine) RegisterFunction(ctx context.Context, name string, fn any) error {
	if name == "" || fn == nil {
		return e.fail(scriptEngine.UsageError(engineName, scriptEngine.ErrInvalidArgument))
	}

	_, err := e.exec(ctx, func(_ context.Context, vm *virtualMachine) (any, error) {
		lf, err := vm.function(name, fn)
		if err != nil {
			return nil, err
		}
		vm.L.SetGlobal(name, lf)
		return nil, nil
	})
	return err
}

// function 为 Go 函数创建 Lua 函数
func (vm *virtualMachine) function(name string, fn any) (*Lua.LFunction, error) {
	switch f := fn.(type) {
	case Lua.LGFunction:
		return vm.L.NewFunction(f), nil
	case func(*Lua.LState) int:
		return vm.L.NewFunction(f), nil
	}

	candidate, err := bridge.NewCandidate(name, 0, reflect.ValueOf(fn))
	if err != nil {
		return nil, scriptEngine.UsageError(engineName, err)
	}
	candidates := []*bridge.Candidate{candidate}

	return vm.L.NewFunction(func(L *Lua.LState) int {
		match, err := vm.registry.Resolver().Resolve(candidates, vm.arguments(L, nil))
		if err != nil {
			vm.raise(L, err)
		}
		results, err := match.Call(vm.context())
		if err != nil {
			vm.raise(L, err)
		}
		return vm.pushResults(L, results)
	}), nil
}

// CallFunction 调用全局 Lua 函数，多个返回值以切片返回
func (e *engine) CallFunction(ctx context.Context, name string, args ...any) (any, error) {
	return e.execEntry(ctx, stacktrace.EntryFunction, func(_ context.Context, vm *virtualMachine) (any, error) {
		fn := vm.L.GetGlobal(name)
		if fn == Lua.LNil {
			return nil, scriptEngine.NewError(scriptEngine.KindRuntime, engineName,
				fmt.Sprintf("function %s not found", name), scriptEngine.ErrNotFound)
		}
		if fn.Type() != Lua.LTFunction {
			return nil, scriptEngine.NewError(scriptEngine.KindRuntime, engineName,
				fmt.Sprintf("%s is not a function", name), scriptEngine.ErrNotFunction)
		}

		lArgs := make([]Lua.LValue, len(args))
		for i, a := range args {
			sv, err := vm.registry.Export(a)
			if err != nil {
				return nil, scriptEngine.UsageError(engineName, err)
			}
			lArgs[i] = vm.valueOf(vm.L, sv)
		}

		rets, err := vm.call(fn, lArgs...)
		if err != nil {
			return nil, err
		}
		return vm.result(rets), nil
	})
}

// HasFunction 检查全局函数是否已定义
func (e *engine) HasFunction(ctx context.Context, name string) bool {
	ok, _ := e.exec(ctx, func(_ context.Context, vm *virtualMachine) (any, error) {
		return vm.L.GetGlobal(name).Type() == Lua.LTFunction, nil
	})
	b, _ := ok.(bool)
	return b
}

// RegisterModule 注册模块，脚本通过 require(name) 使用。
// module 为 Lua.LGFunction 时作为模块加载函数；map[string]any 时构造模块表并同时注册为全局变量。
func (e *engine) RegisterModule(ctx context.Context, name string, module any) error {
	if name == "" || module == nil {
		return e.fail(scriptEngine.UsageError(engineName, scriptEngine.ErrInvalidArgument))
	}

	_, err := e.exec(ctx, func(_ context.Context, vm *virtualMachine) (any, error) {
		switch m := module.(type) {
		case Lua.LGFunction:
			vm.L.PreloadModule(name, m)
			return nil, nil
		case func(*Lua.LState) int:
			vm.L.PreloadModule(name, m)
			return nil, nil
		}

		var exports Lua.LValue
		if m, ok := module.(map[string]any); ok {
			tb := vm.L.CreateTable(0, len(m))
			for k, v := range m {
				lv, err := vm.moduleValue(k, v)
				if err != nil {
					return nil, err
				}
				tb.RawSetString(k, lv)
			}
			exports = tb
		} else {
			exports = vm.valueOf(vm.L, bridge.ToScript(module))
		}

		vm.L.PreloadModule(name, func(L *Lua.LState) int {
			L.Push(exports)
			return 1
		})
		vm.L.SetGlobal(name, exports)
		return nil, nil
	})
	return err
}

func (vm *virtualMachine) moduleValue(name string, v any) (Lua.LValue, error) {
	if v != nil && reflect.TypeOf(v).Kind() == reflect.Func {
		return vm.function(name, v)
	}
	return vm.valueOf(vm.L, bridge.ToScript(v)), nil
}

//////////////////////////////////////////////////////////////////////////////////////////
// Host embedding
//////////////////////////////////////////////////////////////////////////////////////////

// EmbedHostObject 以 name 嵌入宿主对象，同一对象多次嵌入共享同一 userdata
func (e *engine) EmbedHostObject(ctx context.Context, name string, obj any) error {
	_, err := e.exec(ctx, func(_ context.Context, vm *virtualMachine) (any, error) {
		return nil, embedError(vm.registry.EmbedObject(name, obj))
	})
	return err
}

// EmbedHostType 以 name 嵌入宿主类型，脚本用 name(...) 或 name.new(...) 构造实例
func (e *engine) EmbedHostType(ctx context.Context, name string, typ *bridge.HostType) error {
	_, err := e.exec(ctx, func(_ context.Context, vm *virtualMachine) (any, error) {
		return nil, embedError(vm.registry.EmbedType(name, typ))
	})
	return err
}

// RemoveHostItem 删除嵌入项的名称绑定
func (e *engine) RemoveHostItem(ctx context.Context, name string) error {
	_, err := e.exec(ctx, func(_ context.Context, vm *virtualMachine) (any, error) {
		return nil, embedError(vm.registry.Remove(name))
	})
	return err
}

func embedError(err error) error {
	if err == nil {
		return nil
	}
	return scriptEngine.UsageError(engineName, err)
}

//////////////////////////////////////////////////////////////////////////////////////////
// Execution control
//////////////////////////////////////////////////////////////////////////////////////////

// Interrupt 中断正在执行的脚本，没有脚本在执行时不做任何事
func (e *engine) Interrupt() {
	e.interruptMu.Lock()
	defer e.interruptMu.Unlock()
	if e.cancelRun != nil {
		e.cancelRun(errInterruptRequested)
	}
}

// CollectGarbage Lua 值由 Go 垃圾回收管理
func (e *engine) CollectGarbage(ctx context.Context) {
	_, _ = e.exec(ctx, func(context.Context, *virtualMachine) (any, error) {
		runtime.GC()
		return nil, nil
	})
}

// exec 在工作协程上执行 fn。
// 每次调用把可取消的上下文设置到 LState，ctx 结束、超时或 Interrupt 都会中断脚本；
// 重入调用只中断自己那一段。
func (e *engine) exec(ctx context.Context, fn func(ctx context.Context, vm *virtualMachine) (any, error)) (any, error) {
	return e.execEntry(ctx, stacktrace.EntryProgram, fn)
}

// execEntry 同 exec，entry 标明最外层执行的入口
func (e *engine) execEntry(ctx context.Context, entry stacktrace.Entry, fn func(ctx context.Context, vm *virtualMachine) (any, error)) (any, error) {
	e.mu.RLock()
	s := e.sess
	e.mu.RUnlock()
	if s == nil {
		return nil, e.fail(scriptEngine.UsageError(engineName, scriptEngine.ErrNotInitialized))
	}

	res, err := s.disp.Invoke(ctx, func(ctx context.Context) (any, error) {
		vm := s.vm
		if vm == nil {
			return nil, scriptEngine.UsageError(engineName, scriptEngine.ErrDisposed)
		}

		if e.opts.ExecuteTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, e.opts.ExecuteTimeout)
			defer cancel()
		}

		outer := vm.ctx
		vm.ctx = ctx
		defer func() { vm.ctx = outer }()

		runCtx, cancel := context.WithCancelCause(ctx)
		defer cancel(nil)
		if outer == nil {
			vm.entry = entry
			e.enter(cancel)
			defer func() {
				e.leave()
				vm.L.RemoveContext()
				vm.runCtx = nil
			}()
		} else {
			// 重入调用：外层被中断时一并中断，结束后恢复外层的上下文
			parent := vm.runCtx
			stop := context.AfterFunc(parent, func() { cancel(context.Cause(parent)) })
			defer func() {
				stop()
				vm.runCtx = parent
				vm.L.SetContext(parent)
			}()
		}
		vm.runCtx = runCtx
		vm.L.SetContext(runCtx)

		res, err := fn(ctx, vm)
		return res, vm.translate(err, "")
	})

	if err != nil {
		e.setLastError(err)
		return nil, err
	}
	e.ClearError()
	return res, nil
}

func (e *engine) enter(cancel context.CancelCauseFunc) {
	e.interruptMu.Lock()
	defer e.interruptMu.Unlock()
	e.cancelRun = cancel
}

func (e *engine) leave() {
	e.interruptMu.Lock()
	defer e.interruptMu.Unlock()
	e.cancelRun = nil
}

//////////////////////////////////////////////////////////////////////////////////////////
// Errors
//////////////////////////////////////////////////////////////////////////////////////////

// GetLastError 获取最后一个错误
func (e *engine) GetLastError() error {
	e.lastErrorMu.RLock()
	defer e.lastErrorMu.RUnlock()
	return e.lastError
}

func (e *engine) setLastError(err error) {
	e.lastErrorMu.Lock()
	defer e.lastErrorMu.Unlock()
	e.lastError = err
}

func (e *engine) fail(err error) error {
	e.setLastError(err)
	return err
}

// ClearError 清除错误
func (e *engine) ClearError() {
	e.lastErrorMu.Lock()
	defer e.lastErrorMu.Unlock()
	e.lastError = nil
}
