// Package dispatcher 为每个脚本引擎实例提供一个专属工作协程，
// 所有对引擎的操作都通过 FIFO 队列在该协程上串行执行。
package dispatcher

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/go-kratos/kratos/v2/log"

	scriptEngine "github.com/tx7do/go-script-host"
)

// Operation 在工作协程上执行的操作。
// ctx 带有调度器标记，在其中再次调用 Invoke 会直接执行。
type Operation func(ctx context.Context) (any, error)

type workerKey struct{}

// workerMark 任务上下文中的调度器标记，parent 指向外层任务所属的调度器
type workerMark struct {
	d      *Dispatcher
	parent *workerMark
}

// task 一次排队执行的操作，done 在 run 返回后关闭且只关闭一次
type task struct {
	ctx    context.Context
	op     Operation
	result any
	err    error
	done   chan struct{}
}

// Dispatcher 脚本调度器
//
// 队列只在持有 mu 时修改；nil 任务是关闭哨兵。
type Dispatcher struct {
	mu    sync.Mutex
	cond  *sync.Cond
	queue []*task

	name      string
	stackSize int
	recovery  func()

	disposed atomic.Bool
	exited   chan struct{}

	log *log.Helper
}

type Option func(*Dispatcher)

// WithStackSize 请求的工作协程栈大小。
// goroutine 栈按需增长，无法预先指定大小，该值只记录下来供引擎换算调用深度。
func WithStackSize(size int) Option {
	return func(d *Dispatcher) {
		if size > 0 {
			d.stackSize = size
		}
	}
}

// WithInterruptRecovery 任务因中断失败后，在执行下一个任务前调用 fn
func WithInterruptRecovery(fn func()) Option {
	return func(d *Dispatcher) {
		d.recovery = fn
	}
}

// WithName 引擎名称，用于错误与日志
func WithName(name string) Option {
	return func(d *Dispatcher) {
		d.name = name
	}
}

func WithLogger(logger log.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.log = log.NewHelper(log.With(logger, "module", "dispatcher"))
		}
	}
}

// New 创建调度器并启动工作协程
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		stackSize: scriptEngine.DefaultStackSize,
		exited:    make(chan struct{}),
		log:       log.NewHelper(log.With(log.DefaultLogger, "module", "dispatcher")),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.cond = sync.NewCond(&d.mu)

	started := make(chan struct{})
	go d.worker(started)
	<-started

	d.log.Debugf("%s worker started, requested stack size %d", d.name, d.stackSize)
	return d
}

// StackSize 返回请求的栈大小
func (d *Dispatcher) StackSize() int {
	return d.stackSize
}

// Disposed 调度器是否已关闭
func (d *Dispatcher) Disposed() bool {
	return d.disposed.Load()
}

// OnWorker ctx 是否来自本调度器正在执行的任务（包括经由其他调度器嵌套的调用链）
func (d *Dispatcher) OnWorker(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	mark, _ := ctx.Value(workerKey{}).(*workerMark)
	for ; mark != nil; mark = mark.parent {
		if mark.d == d {
			return true
		}
	}
	return false
}

// Invoke 在工作协程上执行 op 并等待结果，行为与在调用方直接执行相同。
// ctx 来自本调度器的任务时直接执行，不经过队列。
func (d *Dispatcher) Invoke(ctx context.Context, op Operation) (any, error) {
	if op == nil {
		return nil, scriptEngine.UsageError(d.name, scriptEngine.ErrInvalidArgument)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.OnWorker(ctx) {
		return op(ctx)
	}

	parent, _ := ctx.Value(workerKey{}).(*workerMark)
	t := &task{
		ctx:  context.WithValue(ctx, workerKey{}, &workerMark{d: d, parent: parent}),
		op:   op,
		done: make(chan struct{}),
	}

	d.mu.Lock()
	if d.disposed.Load() {
		d.mu.Unlock()
		return nil, scriptEngine.UsageError(d.name, scriptEngine.ErrDisposed)
	}
	d.queue = append(d.queue, t)
	d.cond.Signal()
	d.mu.Unlock()

	<-t.done
	return t.result, t.err
}

// Do 执行没有返回值的操作
func (d *Dispatcher) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := d.Invoke(ctx, func(ctx context.Context) (any, error) {
		return nil, fn(ctx)
	})
	return err
}

// Call 执行带类型返回值的操作
func Call[T any](ctx context.Context, d *Dispatcher, fn func(ctx context.Context) (T, error)) (T, error) {
	res, err := d.Invoke(ctx, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	v, _ := res.(T)
	return v, err
}

// Close 关闭调度器：入队关闭哨兵并等待工作协程退出。
// 重复调用只等待退出。不能在任务内部调用。
func (d *Dispatcher) Close() error {
	if !d.disposed.CompareAndSwap(false, true) {
		<-d.exited
		return nil
	}

	d.mu.Lock()
	d.queue = append(d.queue, nil)
	d.cond.Signal()
	d.mu.Unlock()

	<-d.exited
	d.log.Debugf("%s worker stopped", d.name)
	return nil
}

func (d *Dispatcher) worker(started chan<- struct{}) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(d.exited)

	close(started)

	for {
		d.mu.Lock()
		for len(d.queue) == 0 {
			d.cond.Wait()
		}
		t := d.queue[0]
		d.queue[0] = nil
		d.queue = d.queue[1:]

		if t == nil {
			pending := d.queue
			d.queue = nil
			d.mu.Unlock()

			for _, p := range pending {
				if p != nil {
					p.err = scriptEngine.UsageError(d.name, scriptEngine.ErrDisposed)
					close(p.done)
				}
			}
			return
		}
		d.mu.Unlock()

		d.run(t)
	}
}

// run 执行任务，任何 panic 都被捕获为错误，done 总会被关闭
func (d *Dispatcher) run(t *task) {
	defer close(t.done)
	defer func() {
		if r := recover(); r != nil {
			d.log.Errorf("%s task panicked: %v\n%s", d.name, r, debug.Stack())
			t.result = nil
			t.err = scriptEngine.NewError(scriptEngine.KindEngine, d.name, fmt.Sprintf("panic in script task: %v", r), panicError(r))
		}
		if scriptEngine.IsInterrupted(t.err) {
			d.runRecovery()
		}
	}()

	if err := t.ctx.Err(); err != nil {
		t.err = scriptEngine.InterruptedError(d.name, err)
		return
	}

	t.result, t.err = t.op(t.ctx)
}

func (d *Dispatcher) runRecovery() {
	if d.recovery == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			d.log.Errorf("%s interrupt recovery panicked: %v", d.name, r)
		}
	}()
	d.recovery()
}

func panicError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return fmt.Errorf("%v", r)
}
