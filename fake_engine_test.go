package script_engine

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/tx7do/go-script-host/bridge"
)

const fakeType Type = "fake"

var fakeSeq atomic.Int32

// fakeEngine 记录调用的 Engine 实现，用于测试池与管理器
type fakeEngine struct {
	mu          sync.Mutex
	id          int32
	opts        *Options
	initialized bool
	closed      int
	globals     map[string]any
	loaded      []string
	executed    int
	lastErr     error
	failInit    bool
}

func newFakeEngine(opts ...Option) (Engine, error) {
	return &fakeEngine{
		id:      fakeSeq.Add(1),
		opts:    NewOptions(opts...),
		globals: make(map[string]any),
	}, nil
}

func (e *fakeEngine) GetType() Type   { return fakeType }
func (e *fakeEngine) Name() string    { return "fake" }
func (e *fakeEngine) Version() string { return "0.0.0" }

func (e *fakeEngine) Init(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failInit {
		return NewError(KindLoad, "fake", "init failed", nil)
	}
	if e.initialized {
		return UsageError("fake", ErrAlreadyInitialized)
	}
	e.initialized = true
	for k, v := range e.opts.Globals {
		e.globals[k] = v
	}
	return nil
}

func (e *fakeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed++
	if !e.initialized {
		return UsageError("fake", ErrNotInitialized)
	}
	e.initialized = false
	return nil
}

func (e *fakeEngine) IsInitialized() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initialized
}

func (e *fakeEngine) LoadString(_ context.Context, source string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loaded = append(e.loaded, source)
	return nil
}

func (e *fakeEngine) LoadStrings(ctx context.Context, sources []string) error {
	for _, s := range sources {
		if err := e.LoadString(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (e *fakeEngine) LoadFile(ctx context.Context, filePath string) error {
	return e.LoadString(ctx, "file:"+filePath)
}

func (e *fakeEngine) LoadFiles(ctx context.Context, filePaths []string) error {
	for _, p := range filePaths {
		if err := e.LoadFile(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (e *fakeEngine) LoadReader(ctx context.Context, reader io.Reader, _ string) error {
	b, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	return e.LoadString(ctx, string(b))
}

func (e *fakeEngine) ExecuteLoaded(context.Context) (any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.loaded) == 0 {
		return nil, UsageError("fake", ErrNoProgramLoaded)
	}
	e.executed++
	return len(e.loaded), nil
}

func (e *fakeEngine) Evaluate(_ context.Context, expression, _ string) (any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.executed++
	return expression, nil
}

func (e *fakeEngine) Execute(ctx context.Context, code, documentName string) error {
	_, err := e.Evaluate(ctx, code, documentName)
	return err
}

func (e *fakeEngine) ExecuteStrings(ctx context.Context, sources []string) ([]any, error) {
	out := make([]any, 0, len(sources))
	for _, s := range sources {
		v, err := e.ExecuteString(ctx, s)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (e *fakeEngine) ExecuteFiles(ctx context.Context, filePaths []string) ([]any, error) {
	out := make([]any, 0, len(filePaths))
	for _, p := range filePaths {
		v, err := e.ExecuteFile(ctx, p)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (e *fakeEngine) ExecuteString(ctx context.Context, source string) (any, error) {
	return e.Evaluate(ctx, source, "")
}

func (e *fakeEngine) ExecuteFile(ctx context.Context, filePath string) (any, error) {
	return e.Evaluate(ctx, "file:"+filePath, filePath)
}

func (e *fakeEngine) RegisterGlobal(_ context.Context, name string, value any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.globals[name] = value
	return nil
}

func (e *fakeEngine) GetGlobal(_ context.Context, name string) (any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.globals[name]
	if !ok {
		return nil, NewError(KindRuntime, "fake", "", ErrNotFound)
	}
	return v, nil
}

func (e *fakeEngine) GetGlobalAs(ctx context.Context, name string, out any) error {
	_, err := e.GetGlobal(ctx, name)
	return err
}

func (e *fakeEngine) HasGlobal(ctx context.Context, name string) bool {
	_, err := e.GetGlobal(ctx, name)
	return err == nil
}

func (e *fakeEngine) RemoveGlobal(_ context.Context, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.globals, name)
	return nil
}

func (e *fakeEngine) RegisterFunction(ctx context.Context, name string, fn any) error {
	return e.RegisterGlobal(ctx, name, fn)
}

func (e *fakeEngine) CallFunction(ctx context.Context, name string, args ...any) (any, error) {
	v, err := e.GetGlobal(ctx, name)
	if err != nil {
		return nil, err
	}
	fn, ok := v.(func(...any) any)
	if !ok {
		return nil, NewError(KindRuntime, "fake", "", ErrNotFunction)
	}
	return fn(args...), nil
}

func (e *fakeEngine) HasFunction(ctx context.Context, name string) bool {
	v, err := e.GetGlobal(ctx, name)
	if err != nil {
		return false
	}
	_, ok := v.(func(...any) any)
	return ok
}

func (e *fakeEngine) RegisterModule(ctx context.Context, name string, module any) error {
	return e.RegisterGlobal(ctx, name, module)
}

func (e *fakeEngine) EmbedHostObject(ctx context.Context, name string, obj any) error {
	if obj == nil {
		return UsageError("fake", bridge.ErrInvalidArgument)
	}
	return e.RegisterGlobal(ctx, name, obj)
}

func (e *fakeEngine) EmbedHostType(ctx context.Context, name string, typ *bridge.HostType) error {
	if typ == nil {
		return UsageError("fake", bridge.ErrInvalidArgument)
	}
	return e.RegisterGlobal(ctx, name, typ)
}

func (e *fakeEngine) RemoveHostItem(ctx context.Context, name string) error {
	return e.RemoveGlobal(ctx, name)
}

func (e *fakeEngine) Interrupt()                     {}
func (e *fakeEngine) CollectGarbage(context.Context) {}

func (e *fakeEngine) GetLastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

func (e *fakeEngine) ClearError() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastErr = nil
}

func (e *fakeEngine) globalCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.globals)
}

func registerFake() func() {
	_ = Register(fakeType, newFakeEngine)
	return func() { Unregister(fakeType) }
}
