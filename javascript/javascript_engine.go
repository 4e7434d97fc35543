package js

import (
	"context"
	"fmt"
	"io"
	"os"
	"reflect"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/console"
	"github.com/dop251/goja_nodejs/require"
	"github.com/go-kratos/kratos/v2/log"

	scriptEngine "github.com/tx7do/go-script-host"
	"github.com/tx7do/go-script-host/bridge"
	"github.com/tx7do/go-script-host/dispatcher"
	"github.com/tx7do/go-script-host/stacktrace"
)

const engineName = "javascript"

func init() {
	_ = scriptEngine.Register(scriptEngine.JavaScriptType, func(opts ...scriptEngine.Option) (scriptEngine.Engine, error) {
		return newJavascriptEngine(opts...)
	})
}

// engine JavaScript 脚本引擎实现
//
// goja 运行时不是并发安全的：每次 Init 创建一个 session，
// 其中的 vm 只在该 session 调度器的工作协程中访问，mu 只保护 session 指针本身。
type engine struct {
	opts   *scriptEngine.Options
	jsOpts options
	log    *log.Helper

	mu   sync.RWMutex
	sess *session

	// running 正在执行脚本的运行时，runID 区分每次最外层执行
	interruptMu sync.Mutex
	running     *goja.Runtime
	runID       uint64

	initialized atomic.Bool

	lastError   error
	lastErrorMu sync.RWMutex
}

// session 一次 Init 到 Close 之间的调度器与运行时
type session struct {
	disp *dispatcher.Dispatcher
	vm   *virtualMachine
}

// newJavascriptEngine 创建 JavaScript 引擎实例
func newJavascriptEngine(opts ...scriptEngine.Option) (*engine, error) {
	o := scriptEngine.NewOptions(opts...)
	return &engine{
		opts:   o,
		jsOpts: readOptions(o),
		log:    log.NewHelper(log.With(o.Logger, "module", "javascript")),
	}, nil
}

func (e *engine) GetType() scriptEngine.Type {
	return scriptEngine.JavaScriptType
}

func (e *engine) Name() string {
	return engineName
}

func (e *engine) Version() string {
	return "goja " + scriptEngine.ModuleVersion("github.com/dop251/goja")
}

//////////////////////////////////////////////////////////////////////////////////////////
// Lifecycle
//////////////////////////////////////////////////////////////////////////////////////////

// Init 初始化引擎：启动工作协程并在其上创建运行时
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
		vm, err := e.newVirtualMachine()
		if err != nil {
			return err
		}
		s.vm = vm

		for name, value := range e.opts.Globals {
			if err = vm.rt.Set(name, value); err != nil {
				return vm.translate(err)
			}
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

	e.log.Debugf("initialized, goja %s", e.Version())
	return nil
}

func (e *engine) newVirtualMachine() (*virtualMachine, error) {
	rt := goja.New()
	rt.SetFieldNameMapper(e.jsOpts.fieldNameMapper)
	rt.SetMaxCallStackSize(callDepth(e.opts))

	modules := require.NewRegistry()
	modules.RegisterNativeModule("console", console.RequireWithPrinter(newPrinter(e.opts.Logger)))
	modules.Enable(rt)
	console.Enable(rt)

	vm := &virtualMachine{
		rt:        rt,
		modules:   modules,
		documents: make(map[string]string),
		log:       e.log,
	}
	vm.registry = bridge.NewRegistry(vm,
		bridge.WithCoercer(e.opts.NewCoercer()),
		bridge.WithMemberNamer(e.opts.MemberNamer),
		bridge.WithLogger(e.opts.Logger),
	)
	return vm, nil
}

// Close 销毁引擎：释放全部嵌入项并停止工作协程
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

// clearInterrupt 中断后在工作协程上清除运行时的中断标记
func (s *session) clearInterrupt() {
	if s.vm != nil {
		s.vm.rt.ClearInterrupt()
	}
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
		program, err := e.compile(vm, source, documentName)
		if err != nil {
			return nil, err
		}
		vm.programs = append(vm.programs, program)
		return nil, nil
	})
	return err
}

// compile 在工作协程上编译源码并记录文档，供错误位置取源码片段
func (e *engine) compile(vm *virtualMachine, source, documentName string) (*goja.Program, error) {
	if documentName == "" {
		vm.docIndex++
		documentName = fmt.Sprintf("Script Document [%d]", vm.docIndex)
	}

	if e.jsOpts.transpile || isTypeScript(documentName) {
		code, err := transpile(source, documentName)
		if err != nil {
			return nil, err
		}
		source = code
	}

	vm.documents[documentName] = source
	return goja.Compile(documentName, source, e.jsOpts.strict)
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
		for _, p := range vm.programs {
			val, err := vm.rt.RunProgram(p)
			if err != nil {
				return nil, err
			}
			results = append(results, vm.fromScript(val))
		}
		return results, nil
	})
}

// Evaluate 执行表达式并返回结果
func (e *engine) Evaluate(ctx context.Context, expression, documentName string) (any, error) {
	return e.exec(ctx, func(_ context.Context, vm *virtualMachine) (any, error) {
		program, err := e.compile(vm, expression, documentName)
		if err != nil {
			return nil, err
		}
		val, err := vm.rt.RunProgram(program)
		if err != nil {
			return nil, err
		}
		return vm.fromScript(val), nil
	})
}

// Execute 执行代码，丢弃结果
func (e *engine) Execute(ctx context.Context, code, documentName string) error {
	_, err := e.Evaluate(ctx, code, documentName)
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

// RegisterGlobal 注册全局变量，Go 值由 goja 按字段命名规则包装
func (e *engine) RegisterGlobal(ctx context.Context, name string, value any) error {
	if name == "" {
		return e.fail(scriptEngine.UsageError(engineName, scriptEngine.ErrInvalidArgument))
	}
	_, err := e.exec(ctx, func(_ context.Context, vm *virtualMachine) (any, error) {
		return nil, vm.rt.Set(name, value)
	})
	return err
}

// GetGlobal 获取全局变量，宿主对象的投影还原为宿主对象
func (e *engine) GetGlobal(ctx context.Context, name string) (any, error) {
	return e.exec(ctx, func(_ context.Context, vm *virtualMachine) (any, error) {
		val := vm.rt.Get(name)
		if val == nil {
			return nil, scriptEngine.NewError(scriptEngine.KindRuntime, engineName,
				fmt.Sprintf("global variable %s not found", name), scriptEngine.ErrNotFound)
		}
		return vm.fromScript(val), nil
	})
}

// GetGlobalAs 将全局变量导出到 out 指向的值
func (e *engine) GetGlobalAs(ctx context.Context, name string, out any) error {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return e.fail(scriptEngine.UsageError(engineName, scriptEngine.ErrInvalidArgument))
	}

	_, err := e.exec(ctx, func(_ context.Context, vm *virtualMachine) (any, error) {
		val := vm.rt.Get(name)
		if val == nil {
			return nil, scriptEngine.NewError(scriptEngine.KindRuntime, engineName,
				fmt.Sprintf("global variable %s not found", name), scriptEngine.ErrNotFound)
		}
		if obj, ok := val.(*goja.Object); ok {
			if host, ok := vm.registry.HostValue(obj); ok {
				cv, err := vm.registry.Coercer().Coerce(host, rv.Elem().Type())
				if err != nil {
					return nil, scriptEngine.NewError(scriptEngine.KindRuntime, engineName, "", err)
				}
				rv.Elem().Set(cv)
				return nil, nil
			}
		}
		return nil, vm.rt.ExportTo(val, out)
	})
	return err
}

// HasGlobal 检查全局变量是否已定义
func (e *engine) HasGlobal(ctx context.Context, name string) bool {
	ok, _ := e.exec(ctx, func(_ context.Context, vm *virtualMachine) (any, error) {
		return vm.rt.Get(name) != nil, nil
	})
	b, _ := ok.(bool)
	return b
}

// RemoveGlobal 删除全局变量；嵌入项请使用 RemoveHostItem
func (e *engine) RemoveGlobal(ctx context.Context, name string) error {
	_, err := e.exec(ctx, func(_ context.Context, vm *virtualMachine) (any, error) {
		if _, ok := vm.registry.Lookup(name); ok {
			return nil, vm.registry.Remove(name)
		}
		return nil, vm.rt.GlobalObject().Delete(name)
	})
	return err
}

//////////////////////////////////////////////////////////////////////////////////////////
// Functions
//////////////////////////////////////////////////////////////////////////////////////////

// RegisterFunction 注册全局函数。
// 普通 Go 函数的参数按类型转换规则转换，首个参数为 context.Context 时注入当前任务的上下文。
func (e *engine) RegisterFunction(ctx context.Context, name string, fn any) error {
	if name == "" || fn == nil {
		return e.fail(scriptEngine.UsageError(engineName, scriptEngine.ErrInvalidArgument))
	}

	_, err := e.exec(ctx, func(_ context.Context, vm *virtualMachine) (any, error) {
		f, err := vm.function(name, fn)
		if err != nil {
			return nil, err
		}
		return nil, vm.rt.Set(name, f)
	})
	return err
}

// function 为 Go 函数创建脚本函数，func(goja.FunctionCall) goja.Value 直接使用
func (vm *virtualMachine) function(name string, fn any) (any, error) {
	if native, ok := fn.(func(goja.FunctionCall) goja.Value); ok {
		return native, nil
	}

	candidate, err := bridge.NewCandidate(name, 0, reflect.ValueOf(fn))
	if err != nil {
		return nil, scriptEngine.UsageError(engineName, err)
	}
	candidates := []*bridge.Candidate{candidate}

	return func(call goja.FunctionCall) goja.Value {
		match, err := vm.registry.Resolver().Resolve(candidates, vm.arguments(call.Arguments))
		if err != nil {
			vm.throw(err)
		}
		results, err := match.Call(vm.context())
		if err != nil {
			vm.throw(err)
		}
		return vm.results(results)
	}, nil
}

// CallFunction 调用全局 JavaScript 函数
func (e *engine) CallFunction(ctx context.Context, name string, args ...any) (any, error) {
	return e.execEntry(ctx, stacktrace.EntryFunction, func(_ context.Context, vm *virtualMachine) (any, error) {
		v := vm.rt.Get(name)
		if v == nil {
			return nil, scriptEngine.NewError(scriptEngine.KindRuntime, engineName,
				fmt.Sprintf("function %s not found", name), scriptEngine.ErrNotFound)
		}
		fn, ok := goja.AssertFunction(v)
		if !ok {
			return nil, scriptEngine.NewError(scriptEngine.KindRuntime, engineName,
				fmt.Sprintf("%s is not a function", name), scriptEngine.ErrNotFunction)
		}

		vals := make([]goja.Value, len(args))
		for i, a := range args {
			sv, err := vm.registry.Export(a)
			if err != nil {
				return nil, scriptEngine.UsageError(engineName, err)
			}
			vals[i] = vm.rt.ToValue(sv)
		}

		res, err := fn(goja.Undefined(), vals...)
		if err != nil {
			return nil, err
		}
		return vm.fromScript(res), nil
	})
}

// HasFunction 检查全局函数是否已定义
func (e *engine) HasFunction(ctx context.Context, name string) bool {
	ok, _ := e.exec(ctx, func(_ context.Context, vm *virtualMachine) (any, error) {
		_, isFn := goja.AssertFunction(vm.rt.Get(name))
		return isFn, nil
	})
	b, _ := ok.(bool)
	return b
}

// RegisterModule 注册模块：脚本可以 require(name)，同时以 name 作为全局变量
func (e *engine) RegisterModule(ctx context.Context, name string, module any) error {
	if name == "" || module == nil {
		return e.fail(scriptEngine.UsageError(engineName, scriptEngine.ErrInvalidArgument))
	}

	_, err := e.exec(ctx, func(_ context.Context, vm *virtualMachine) (any, error) {
		exports := vm.rt.NewObject()
		if m, ok := module.(map[string]any); ok {
			for k, v := range m {
				mv, err := vm.moduleValue(k, v)
				if err != nil {
					return nil, err
				}
				if err = exports.Set(k, mv); err != nil {
					return nil, err
				}
			}
		} else if err := exports.Set("default", module); err != nil {
			return nil, err
		}

		vm.modules.RegisterNativeModule(name, func(rt *goja.Runtime, mod *goja.Object) {
			_ = mod.Set("exports", exports)
		})
		return nil, vm.rt.Set(name, exports)
	})
	return err
}

// moduleValue 模块中的 Go 函数与 RegisterFunction 注册的函数转换规则相同
func (vm *virtualMachine) moduleValue(name string, v any) (any, error) {
	if v != nil && reflect.TypeOf(v).Kind() == reflect.Func {
		return vm.function(name, v)
	}
	return v, nil
}

//////////////////////////////////////////////////////////////////////////////////////////
// Host embedding
//////////////////////////////////////////////////////////////////////////////////////////

// EmbedHostObject 以 name 嵌入宿主对象，同一对象多次嵌入共享同一投影
func (e *engine) EmbedHostObject(ctx context.Context, name string, obj any) error {
	_, err := e.exec(ctx, func(_ context.Context, vm *virtualMachine) (any, error) {
		return nil, embedError(vm.registry.EmbedObject(name, obj))
	})
	return err
}

// EmbedHostType 以 name 嵌入宿主类型，脚本可用 new name(...) 构造实例
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
	e.interrupt(0, errInterruptRequested)
}

// interrupt 中断编号为 id 的执行，id 为 0 时中断当前执行
func (e *engine) interrupt(id uint64, reason error) {
	e.interruptMu.Lock()
	defer e.interruptMu.Unlock()
	if e.running != nil && (id == 0 || id == e.runID) {
		e.running.Interrupt(reason)
	}
}

// CollectGarbage goja 对象由 Go 垃圾回收管理
func (e *engine) CollectGarbage(ctx context.Context) {
	_, _ = e.exec(ctx, func(context.Context, *virtualMachine) (any, error) {
		runtime.GC()
		return nil, nil
	})
}

// exec 在工作协程上执行 fn。
// 最外层调用登记正在执行的运行时，ctx 结束或超时时中断脚本。
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

		if outer == nil {
			vm.entry = entry
			vm.run = e.enter(vm.rt)
			defer e.leave(vm.rt)
		}

		run := vm.run
		stop := context.AfterFunc(ctx, func() { e.interrupt(run, context.Cause(ctx)) })
		defer stop()

		res, err := fn(ctx, vm)
		return res, vm.translate(err)
	})

	if err != nil {
		e.setLastError(err)
		return nil, err
	}
	e.ClearError()
	return res, nil
}

func (e *engine) enter(rt *goja.Runtime) uint64 {
	e.interruptMu.Lock()
	defer e.interruptMu.Unlock()
	e.runID++
	e.running = rt
	return e.runID
}

// leave 注销运行时后清除中断标记，之后到达的 Interrupt 不会影响下一次执行
func (e *engine) leave(rt *goja.Runtime) {
	e.interruptMu.Lock()
	e.running = nil
	e.interruptMu.Unlock()
	rt.ClearInterrupt()
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

// fail 记录并返回错误
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
