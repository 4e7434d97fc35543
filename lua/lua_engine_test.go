package lua

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	Lua "github.com/yuin/gopher-lua"

	scriptEngine "github.com/tx7do/go-script-host"
	"github.com/tx7do/go-script-host/bridge"
	"github.com/tx7do/go-script-host/stacktrace"
)

var errEmptyInput = errors.New("empty input")

type calculator struct {
	Name  string
	calls int
}

func (c *calculator) Add(a, b int) int {
	c.calls++
	return a + b
}

func (c *calculator) Add_Float(a, b float64) float64 {
	c.calls++
	return a + b
}

func (c *calculator) Calls() int { return c.calls }

func (c *calculator) DoSomething(_ context.Context, s string) (string, error) {
	if s == "" {
		return "", errEmptyInput
	}
	return strings.ToUpper(s), nil
}

type point struct {
	X, Y int
}

func newPoint(x, y int) *point { return &point{X: x, Y: y} }

func (p *point) Len2() int { return p.X*p.X + p.Y*p.Y }

type captureLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *captureLogger) Log(level log.Level, keyvals ...any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := 0; i+1 < len(keyvals); i += 2 {
		if keyvals[i] == log.DefaultMessageKey {
			l.lines = append(l.lines, level.String()+" "+fmt.Sprint(keyvals[i+1]))
		}
	}
	return nil
}

func (l *captureLogger) contains(s string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range l.lines {
		if strings.Contains(line, s) {
			return true
		}
	}
	return false
}

func newTestEngine(t *testing.T, opts ...scriptEngine.Option) *engine {
	t.Helper()
	eng, err := newLuaEngine(opts...)
	require.NoError(t, err)
	require.NoError(t, eng.Init(context.Background()))
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

func TestLuaEngine(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	// 注册全局变量
	err := eng.RegisterGlobal(context.Background(), "config", map[string]interface{}{
		"host": "localhost",
		"port": 8080,
	})
	require.NoError(t, err)

	// 执行脚本
	_, err = eng.ExecuteString(ctx, `
    function add(a, b)
        return a + b
    end
`)
	require.NoError(t, err)

	// 调用函数（带超时）
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := eng.CallFunction(ctx, "add", 10, 20)
	require.NoError(t, err)
	assert.Equal(t, 30, result)

	port, err := eng.Evaluate(ctx, "config.port + 1", "config.lua")
	require.NoError(t, err)
	assert.Equal(t, 8081, port)

	assert.True(t, eng.HasFunction(context.Background(), "add"))
	assert.False(t, eng.HasFunction(context.Background(), "config"))
	require.NoError(t, eng.RemoveGlobal(context.Background(), "config"))
	assert.False(t, eng.HasGlobal(context.Background(), "config"))

	_, err = eng.CallFunction(ctx, "missing")
	assert.ErrorIs(t, err, scriptEngine.ErrNotFound)
	_, err = eng.CallFunction(ctx, "_VERSION")
	assert.ErrorIs(t, err, scriptEngine.ErrNotFunction)
}

func TestConcurrentCallAndGet(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	// 定义函数 add 并执行以加载到 VM
	_, err := eng.ExecuteString(ctx, `
        function add(a, b)
            return a + b
        end
    `)
	require.NoError(t, err)

	err = eng.RegisterGlobal(context.Background(), "config", map[string]interface{}{
		"host": "localhost",
		"port": 8080,
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	var errCount int64

	// 并发量与每个 goroutine 的循环次数
	const goroutines = 50
	const loops = 100

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < loops; j++ {
				// 每次操作使用带超时的 ctx
				cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				val, callErr := eng.CallFunction(cctx, "add", 10, 20)
				cancel()
				if callErr != nil || val != 30 {
					atomic.AddInt64(&errCount, 1)
					continue
				}

				// 读取全局变量
				gv, gerr := eng.GetGlobal(context.Background(), "config")
				if gerr != nil {
					atomic.AddInt64(&errCount, 1)
				} else if m, ok := gv.(map[string]any); !ok || m["port"] != 8080 {
					atomic.AddInt64(&errCount, 1)
				}
			}
		}()
	}

	wg.Wait()
	if atomic.LoadInt64(&errCount) != 0 {
		t.Fatalf("concurrent operations produced %d errors, lastError=%v", atomic.LoadInt64(&errCount), eng.GetLastError())
	}
}

func TestConcurrentInitClose(t *testing.T) {
	// 该测试检查在并发 Init/Close 下不会导致竞态或 panic
	const goroutines = 20
	const ops = 50

	eng, err := newLuaEngine()
	require.NoError(t, err)

	var wg sync.WaitGroup
	var initErrCount int64
	var closeErrCount int64

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < ops; j++ {
				if j%2 == 0 {
					// 允许重复初始化错误
					if err := eng.Init(context.Background()); err != nil && !errors.Is(err, scriptEngine.ErrAlreadyInitialized) {
						atomic.AddInt64(&initErrCount, 1)
					}
				} else {
					// 允许未初始化错误
					if err := eng.Close(); err != nil && !errors.Is(err, scriptEngine.ErrNotInitialized) {
						atomic.AddInt64(&closeErrCount, 1)
					}
				}
				// 短暂休眠，增加并发交错
				time.Sleep(time.Millisecond)
			}
		}()
	}

	wg.Wait()

	if atomic.LoadInt64(&initErrCount) != 0 || atomic.LoadInt64(&closeErrCount) != 0 {
		t.Fatalf("unexpected init/close errors: initErr=%d closeErr=%d lastError=%v",
			atomic.LoadInt64(&initErrCount), atomic.LoadInt64(&closeErrCount), eng.GetLastError())
	}

	// 最终初始化以确保引擎可再次使用
	if err = eng.Init(context.Background()); err != nil && !errors.Is(err, scriptEngine.ErrAlreadyInitialized) {
		t.Fatalf("final Init failed: %v", err)
	}
	res, err := eng.ExecuteString(context.Background(), "1 + 1")
	require.NoError(t, err)
	assert.Equal(t, 2, res)
	require.NoError(t, eng.Close())
}

func TestEvaluate(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	res, err := eng.Evaluate(ctx, "1 + 2", "")
	require.NoError(t, err)
	assert.Equal(t, 3, res)

	res, err = eng.Evaluate(ctx, "local a = 2\nreturn a * 21", "")
	require.NoError(t, err)
	assert.Equal(t, 42, res)

	res, err = eng.Evaluate(ctx, "x = 5", "")
	require.NoError(t, err)
	assert.Nil(t, res)

	res, err = eng.Evaluate(ctx, "x", "")
	require.NoError(t, err)
	assert.Equal(t, 5, res)

	res, err = eng.Evaluate(ctx, "return 1, 'a', 2.5", "")
	require.NoError(t, err)
	assert.Equal(t, []any{1, "a", 2.5}, res)

	require.NoError(t, eng.Execute(ctx, "y = x * 2", "side.lua"))
	res, err = eng.ExecuteStrings(ctx, []string{"y", "y + 1"})
	require.NoError(t, err)
	assert.Equal(t, []any{10, 11}, res)
}

func TestLoadAndExecuteLoaded(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.ExecuteLoaded(ctx)
	assert.ErrorIs(t, err, scriptEngine.ErrNoProgramLoaded)

	require.NoError(t, eng.LoadStrings(ctx, []string{"a = 1 return a", "b = a + 1 return b"}))
	require.NoError(t, eng.LoadReader(ctx, strings.NewReader("return a + b"), "sum.lua"))

	res, err := eng.ExecuteLoaded(ctx)
	require.NoError(t, err)
	assert.Equal(t, []any{1, 2, 3}, res)

	assert.ErrorIs(t, eng.LoadString(ctx, "a = = 1"), scriptEngine.ErrCompilation)
}

func TestLifecycleErrors(t *testing.T) {
	eng, err := newLuaEngine()
	require.NoError(t, err)

	_, err = eng.ExecuteString(context.Background(), "return 1")
	assert.ErrorIs(t, err, scriptEngine.ErrNotInitialized)
	assert.ErrorIs(t, err, scriptEngine.ErrUsage)
	assert.ErrorIs(t, eng.Close(), scriptEngine.ErrNotInitialized)

	require.NoError(t, eng.Init(context.Background()))
	assert.ErrorIs(t, eng.Init(context.Background()), scriptEngine.ErrAlreadyInitialized)
	require.NoError(t, eng.Close())
	assert.False(t, eng.IsInitialized())

	viaFactory, err := scriptEngine.NewScriptEngine(scriptEngine.LuaType, scriptEngine.WithGlobal("answer", 42))
	require.NoError(t, err)
	require.NoError(t, viaFactory.Init(context.Background()))
	defer viaFactory.Close()
	res, err := viaFactory.ExecuteString(context.Background(), "answer")
	require.NoError(t, err)
	assert.Equal(t, 42, res)
	assert.Equal(t, "lua", viaFactory.Name())
	assert.True(t, strings.HasPrefix(viaFactory.Version(), "Lua 5.1"))
}

func TestEmbedHostObject(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	calc := &calculator{}

	require.NoError(t, eng.EmbedHostObject(context.Background(), "calc", calc))
	require.NoError(t, eng.EmbedHostObject(context.Background(), "alias", calc))

	same, err := eng.Evaluate(ctx, "rawequal(calc, alias)", "")
	require.NoError(t, err)
	assert.Equal(t, true, same)

	// 冒号与点两种调用方式
	res, err := eng.Evaluate(ctx, "calc:add(1, 2)", "")
	require.NoError(t, err)
	assert.Equal(t, 3, res)
	res, err = eng.Evaluate(ctx, "calc.add(1.5, 2)", "")
	require.NoError(t, err)
	assert.Equal(t, 3.5, res)
	assert.Equal(t, 2, calc.calls)

	res, err = eng.Evaluate(ctx, `calc.name = "main" return calc.name`, "")
	require.NoError(t, err)
	assert.Equal(t, "main", res)
	assert.Equal(t, "main", calc.Name)

	res, err = eng.Evaluate(ctx, `calc:doSomething("abc")`, "")
	require.NoError(t, err)
	assert.Equal(t, "ABC", res)

	res, err = eng.Evaluate(ctx, "calc.unknown", "")
	require.NoError(t, err)
	assert.Nil(t, res)

	host, err := eng.GetGlobal(context.Background(), "calc")
	require.NoError(t, err)
	assert.Same(t, calc, host)

	var out *calculator
	require.NoError(t, eng.GetGlobalAs(context.Background(), "alias", &out))
	assert.Same(t, calc, out)

	require.NoError(t, eng.RemoveHostItem(context.Background(), "calc"))
	res, err = eng.Evaluate(ctx, "alias:calls()", "")
	require.NoError(t, err)
	assert.Equal(t, 2, res)

	require.NoError(t, eng.RemoveHostItem(context.Background(), "alias"))
	assert.False(t, eng.HasGlobal(context.Background(), "alias"))
	assert.ErrorIs(t, eng.RemoveHostItem(context.Background(), "alias"), bridge.ErrUnknownMember)
	assert.ErrorIs(t, eng.EmbedHostObject(context.Background(), "nothing", nil), scriptEngine.ErrUsage)
}

func TestHostErrorsReachScript(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, eng.EmbedHostObject(context.Background(), "calc", &calculator{}))

	res, err := eng.Evaluate(ctx, `
local ok, err = pcall(function() return calc:doSomething("") end)
return tostring(ok) .. ": " .. err.message`, "")
	require.NoError(t, err)
	assert.Equal(t, "false: empty input", res)

	_, err = eng.Evaluate(ctx, `calc:doSomething("")`, "host.lua")
	assert.ErrorIs(t, err, scriptEngine.ErrRuntime)
	assert.ErrorIs(t, err, errEmptyInput)
	se, ok := scriptEngine.AsScriptError(err)
	require.True(t, ok)
	assert.Equal(t, "GoError", se.Category)
	assert.Equal(t, "host.lua", se.DocumentName)
	assert.Equal(t, 1, se.LineNumber)

	// 没有可匹配的重载
	_, err = eng.Evaluate(ctx, `calc:add("x", {})`, "")
	assert.ErrorIs(t, err, bridge.ErrNoMatch)
	se, ok = scriptEngine.AsScriptError(err)
	require.True(t, ok)
	assert.Equal(t, "TypeError", se.Category)
}

func TestEmbedHostType(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	ht := bridge.TypeOf[point]().
		Constructor(newPoint).
		Static("origin", func() *point { return &point{} }).
		Constant("dims", 2)
	require.NoError(t, eng.EmbedHostType(context.Background(), "Point", ht))
	require.NoError(t, eng.RegisterFunction(context.Background(), "norm", func(p *point) int { return p.Len2() }))

	res, err := eng.Evaluate(ctx, "p = Point(3, 4) return p:len2()", "")
	require.NoError(t, err)
	assert.Equal(t, 25, res)

	res, err = eng.Evaluate(ctx, "p.x = 1 return norm(p)", "")
	require.NoError(t, err)
	assert.Equal(t, 17, res)

	res, err = eng.Evaluate(ctx, "Point.new(2, 2):len2() + Point.dims + Point.origin().y", "")
	require.NoError(t, err)
	assert.Equal(t, 10, res)

	p, err := eng.GetGlobal(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, &point{X: 1, Y: 4}, p)
}

func TestStrictCoercion(t *testing.T) {
	square := func(n int) int { return n * n }

	loose := newTestEngine(t)
	require.NoError(t, loose.RegisterFunction(context.Background(), "square", square))
	res, err := loose.ExecuteString(context.Background(), `square("3")`)
	require.NoError(t, err)
	assert.Equal(t, 9, res)

	strict := newTestEngine(t, scriptEngine.WithStrictCoercion(true))
	require.NoError(t, strict.RegisterFunction(context.Background(), "square", square))
	_, err = strict.ExecuteString(context.Background(), `square("3")`)
	assert.ErrorIs(t, err, bridge.ErrNoMatch)
}

func TestRegisterNativeFunction(t *testing.T) {
	eng := newTestEngine(t)

	require.NoError(t, eng.RegisterFunction(context.Background(), "double", Lua.LGFunction(func(L *Lua.LState) int {
		L.Push(L.CheckNumber(1) * 2)
		return 1
	})))
	require.NoError(t, eng.RegisterFunction(context.Background(), "pair", func(L *Lua.LState) int {
		L.Push(Lua.LString("a"))
		L.Push(Lua.LString("b"))
		return 2
	}))

	res, err := eng.ExecuteString(context.Background(), "double(21)")
	require.NoError(t, err)
	assert.Equal(t, 42, res)

	res, err = eng.CallFunction(context.Background(), "pair")
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, res)

	assert.ErrorIs(t, eng.RegisterFunction(context.Background(), "bad", 42), scriptEngine.ErrUsage)
}

func TestReentrantHostCall(t *testing.T) {
	eng := newTestEngine(t)

	require.NoError(t, eng.RegisterFunction(context.Background(), "evalAgain", func(ctx context.Context, code string) (any, error) {
		return eng.Evaluate(ctx, code, "")
	}))

	res, err := eng.ExecuteString(context.Background(), `evalAgain("1 + 2") + 1`)
	require.NoError(t, err)
	assert.Equal(t, 4, res)
}

func TestHostCallbackRegistersGlobals(t *testing.T) {
	eng := newTestEngine(t)

	require.NoError(t, eng.RegisterFunction(context.Background(), "setGlobal", func(ctx context.Context, v int) error {
		if err := eng.RegisterGlobal(ctx, "x", v); err != nil {
			return err
		}
		return eng.EmbedHostObject(ctx, "calc", &calculator{})
	}))

	var (
		res any
		err error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		res, err = eng.ExecuteString(context.Background(), `setGlobal(5) return x + calc:add(1, 1)`)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("host callback blocked on the engine")
	}
	require.NoError(t, err)
	assert.Equal(t, 7, res)
	assert.True(t, eng.HasGlobal(context.Background(), "calc"))
}

func TestNestedCallDeadline(t *testing.T) {
	eng := newTestEngine(t)

	var nestedErr error
	require.NoError(t, eng.RegisterFunction(context.Background(), "spin", func(ctx context.Context) {
		nested, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
		defer cancel()
		nestedErr = eng.Execute(nested, "while true do end", "")
	}))

	var (
		res any
		err error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		res, err = eng.ExecuteString(context.Background(), `spin() return "after"`)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		eng.Interrupt()
		t.Fatal("nested deadline was not applied")
	}

	// 内层超时只中断内层，外层脚本继续执行
	assert.True(t, scriptEngine.IsInterrupted(nestedErr))
	assert.ErrorIs(t, nestedErr, context.DeadlineExceeded)
	require.NoError(t, err)
	assert.Equal(t, "after", res)
}

func TestExecuteTimeout(t *testing.T) {
	eng := newTestEngine(t, scriptEngine.WithExecuteTimeout(30*time.Millisecond))
	ctx := context.Background()

	start := time.Now()
	_, err := eng.ExecuteString(ctx, "while true do end")
	assert.True(t, scriptEngine.IsInterrupted(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)

	// 中断后引擎仍可使用
	res, err := eng.ExecuteString(ctx, "1 + 1")
	require.NoError(t, err)
	assert.Equal(t, 2, res)
}

func TestInterrupt(t *testing.T) {
	eng := newTestEngine(t)

	done := make(chan error, 1)
	go func() {
		_, err := eng.ExecuteString(context.Background(), "while true do end")
		done <- err
	}()

	var err error
	require.Eventually(t, func() bool {
		eng.Interrupt()
		select {
		case err = <-done:
			return true
		default:
			return false
		}
	}, 5*time.Second, 5*time.Millisecond)

	assert.True(t, scriptEngine.IsInterrupted(err))
	assert.ErrorIs(t, err, errInterruptRequested)

	// 空闲时 Interrupt 不影响下一次执行
	eng.Interrupt()
	res, err := eng.ExecuteString(context.Background(), "40 + 2")
	require.NoError(t, err)
	assert.Equal(t, 42, res)
}

func TestCompilationError(t *testing.T) {
	eng := newTestEngine(t)

	_, err := eng.Evaluate(context.Background(), "x = = 1", "bad.lua")
	se, ok := scriptEngine.AsScriptError(err)
	require.True(t, ok)
	assert.Equal(t, scriptEngine.KindCompilation, se.Kind)
	assert.Equal(t, "SyntaxError", se.Category)
	assert.Equal(t, "bad.lua", se.DocumentName)
	assert.Equal(t, 1, se.LineNumber)
	assert.Equal(t, "x = = 1", se.SourceFragment)
}

func TestRuntimeErrorLocation(t *testing.T) {
	eng := newTestEngine(t)

	_, err := eng.Evaluate(context.Background(), `local function inner() error("boom") end
local function outer() inner() end
outer()`, "lib.lua")

	se, ok := scriptEngine.AsScriptError(err)
	require.True(t, ok)
	assert.Equal(t, scriptEngine.KindRuntime, se.Kind)
	assert.Equal(t, "boom", se.Description)
	assert.Equal(t, "lib.lua", se.DocumentName)
	assert.Equal(t, 1, se.LineNumber)
	assert.Contains(t, se.SourceFragment, `error("boom")`)

	require.NotEmpty(t, se.Locations)
	names := make([]string, 0, len(se.Locations))
	for _, loc := range se.Locations {
		names = append(names, loc.FunctionName)
	}
	assert.Contains(t, names, "inner")
	assert.Contains(t, names, "outer")
	assert.Equal(t, stacktrace.GlobalCode, names[len(names)-1])
}

func TestPrintIsLogged(t *testing.T) {
	logger := &captureLogger{}
	eng := newTestEngine(t, scriptEngine.WithLogger(logger))

	require.NoError(t, eng.Execute(context.Background(), `print("hello", 1)`, ""))
	assert.True(t, logger.contains("INFO hello\t1"))
}

func TestRegisterModule(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.RegisterModule(context.Background(), "mathx", map[string]any{
		"twice": func(x int) int { return 2 * x },
		"pi":    3.5,
	}))
	res, err := eng.ExecuteString(ctx, `local m = require("mathx") return m.twice(20) + mathx.twice(1)`)
	require.NoError(t, err)
	assert.Equal(t, 42, res)

	require.NoError(t, eng.RegisterModule(context.Background(), "greeter", Lua.LGFunction(func(L *Lua.LState) int {
		mod := L.SetFuncs(L.NewTable(), map[string]Lua.LGFunction{
			"hello": func(L *Lua.LState) int {
				L.Push(Lua.LString("hello " + L.CheckString(1)))
				return 1
			},
		})
		L.Push(mod)
		return 1
	})))
	res, err = eng.ExecuteString(ctx, `require("greeter").hello("lua")`)
	require.NoError(t, err)
	assert.Equal(t, "hello lua", res)
}

func TestGetGlobalAs(t *testing.T) {
	eng := newTestEngine(t)

	_, err := eng.ExecuteString(context.Background(), `cfg = {host = "localhost", port = 8080}`)
	require.NoError(t, err)

	var out struct {
		Host string
		Port int
	}
	require.NoError(t, eng.GetGlobalAs(context.Background(), "cfg", &out))
	assert.Equal(t, "localhost", out.Host)
	assert.Equal(t, 8080, out.Port)

	var port int
	_, err = eng.ExecuteString(context.Background(), `port = "9090"`)
	require.NoError(t, err)
	require.NoError(t, eng.GetGlobalAs(context.Background(), "port", &port))
	assert.Equal(t, 9090, port)

	assert.ErrorIs(t, eng.GetGlobalAs(context.Background(), "cfg", out), scriptEngine.ErrInvalidArgument)
	assert.ErrorIs(t, eng.GetGlobalAs(context.Background(), "missing", &out), scriptEngine.ErrNotFound)
}

func TestLibraryOptions(t *testing.T) {
	ctx := context.Background()

	bare := newTestEngine(t, WithOpenLibs(false))
	res, err := bare.ExecuteString(ctx, "string == nil and type(require) == 'function'")
	require.NoError(t, err)
	assert.Equal(t, true, res)

	full := newTestEngine(t, WithPreloadLibs(true), WithCryptoModule(true))
	res, err = full.ExecuteString(ctx, `
local json = require("json")
local t = json.decode('{"n": 41}')
return t.n + 1`)
	require.NoError(t, err)
	assert.Equal(t, 42, res)

	res, err = full.ExecuteString(ctx, `type(require("crypto").md5)`)
	require.NoError(t, err)
	assert.Equal(t, "function", res)
}

func TestWithState(t *testing.T) {
	eng := newTestEngine(t)

	require.NoError(t, eng.WithState(context.Background(), func(L *Lua.LState) error {
		L.SetGlobal("raw", Lua.LNumber(7))
		return nil
	}))
	res, err := eng.ExecuteString(context.Background(), "raw * 6")
	require.NoError(t, err)
	assert.Equal(t, 42, res)
}

func TestCallDepth(t *testing.T) {
	eng := newTestEngine(t, scriptEngine.WithMaxCallDepth(64))

	_, err := eng.ExecuteString(context.Background(), `
local function deep(n) return deep(n + 1) + 1 end
return deep(1)`)
	assert.ErrorIs(t, err, scriptEngine.ErrRuntime)
}
