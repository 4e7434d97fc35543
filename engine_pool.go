package script_engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-kratos/kratos/v2/log"
)

// EnginePool 管理多个独立 Engine 实例以支持并发执行。
// 执行类操作借出一个实例；注册、加载、嵌入类操作通过 Broadcast 作用于全部实例。
type EnginePool struct {
	poolOps

	pool   chan Engine
	all    []Engine
	size   int
	mu     sync.Mutex
	closed bool
	log    *log.Helper
}

// NewEnginePool 创建并初始化一个包含 size 个 Engine 的池。
func NewEnginePool(size int, typ Type, opts ...Option) (*EnginePool, error) {
	if size < 1 {
		return nil, UsageError(typ.String(), wrapf(ErrInvalidArgument, "pool size must be >= 1"))
	}

	o := NewOptions(opts...)
	p := &EnginePool{
		pool: make(chan Engine, size),
		size: size,
		log:  log.NewHelper(log.With(o.Logger, "module", "script-engine/pool")),
	}
	p.poolOps = poolOps{src: p}

	// 创建并初始化子 engine
	created := make([]Engine, 0, size)
	for i := 0; i < size; i++ {
		eng, err := newInitializedEngine(typ, opts...)
		if err != nil {
			// 清理已创建的 engines
			for _, e := range created {
				_ = e.Close()
			}
			return nil, err
		}
		created = append(created, eng)
	}

	p.all = created
	for _, e := range created {
		p.pool <- e
	}

	return p, nil
}

func newInitializedEngine(typ Type, opts ...Option) (Engine, error) {
	eng, err := NewScriptEngine(typ, opts...)
	if err != nil {
		return nil, err
	}
	// 调用 Init，失败则清理并返回
	if err = eng.Init(context.Background()); err != nil {
		_ = eng.Close()
		return nil, err
	}
	return eng, nil
}

// Acquire 从池中获取一个 Engine（会阻塞直到有可用的）。
func (p *EnginePool) Acquire() (Engine, error) {
	return p.acquire(context.Background())
}

// AcquireContext 从池中获取一个 Engine，ctx 结束时放弃等待。
func (p *EnginePool) AcquireContext(ctx context.Context) (Engine, error) {
	return p.acquire(ctx)
}

func (p *EnginePool) acquire(ctx context.Context) (Engine, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, UsageError("", ErrPoolClosed)
	}
	p.mu.Unlock()

	select {
	case eng, ok := <-p.pool:
		if !ok {
			return nil, UsageError("", ErrPoolClosed)
		}
		return eng, nil
	case <-ctx.Done():
		return nil, InterruptedError("", ctx.Err())
	}
}

// Release 将 Engine 放回池中；若池已关闭则关闭该 Engine。
func (p *EnginePool) Release(e Engine) {
	if e == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		_ = e.Close()
		return
	}

	select {
	case p.pool <- e:
	default:
		_ = e.Close()
	}
}

// Broadcast 对池中全部 Engine 执行 fn，包括已借出的实例。
// Engine 的操作由各自的工作协程串行执行，无需先借出。
func (p *EnginePool) Broadcast(fn func(Engine) error) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return UsageError("", ErrPoolClosed)
	}
	list := append([]Engine(nil), p.all...)
	p.mu.Unlock()

	for i, eng := range list {
		if err := fn(eng); err != nil {
			return wrapf(err, "engine %d of %d", i+1, len(list))
		}
	}
	return nil
}

// Close 关闭池并销毁所有子 Engine。
func (p *EnginePool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.pool)
	list := p.all
	p.all = nil
	p.mu.Unlock()

	var lastErr error
	for _, eng := range list {
		if err := eng.Close(); err != nil && !isDisposed(err) {
			lastErr = err
		}
	}
	if lastErr != nil {
		p.log.Warnf("close pool: %v", lastErr)
	}
	return lastErr
}

// IsClosed 返回池是否已关闭。
func (p *EnginePool) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Size 返回池中实例数量。
func (p *EnginePool) Size() int {
	return p.size
}

func (p *EnginePool) String() string {
	return fmt.Sprintf("EnginePool(size=%d)", p.size)
}
