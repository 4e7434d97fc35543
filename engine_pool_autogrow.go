package script_engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-kratos/kratos/v2/log"
)

// AutoGrowEnginePool 是可按需扩展但有上限的引擎池。
// Broadcast 过的操作会被记录，新建实例时按顺序重放，保证所有实例状态一致。
type AutoGrowEnginePool struct {
	poolOps

	pool chan Engine
	typ  Type
	opts []Option

	mu     sync.Mutex
	all    []Engine
	setups []func(Engine) error
	total  int // 当前已创建的实例数
	max    int
	closed bool

	log *log.Helper
}

// NewAutoGrowEnginePool 创建一个可自增长的池。
// initialSize: 初始创建数量（>=0）
// maxSize: 池允许的最大实例数（必须 >= initialSize && >=1）
func NewAutoGrowEnginePool(initialSize, maxSize int, typ Type, opts ...Option) (*AutoGrowEnginePool, error) {
	if maxSize < 1 || initialSize < 0 || initialSize > maxSize {
		return nil, UsageError(typ.String(), wrapf(ErrInvalidArgument, "invalid sizes: initial=%d max=%d", initialSize, maxSize))
	}
	if typ == "" {
		return nil, UsageError("", wrapf(ErrInvalidArgument, "engine type cannot be empty"))
	}

	o := NewOptions(opts...)
	p := &AutoGrowEnginePool{
		pool: make(chan Engine, maxSize), // 通道容量设为 maxSize
		typ:  typ,
		opts: opts,
		max:  maxSize,
		log:  log.NewHelper(log.With(o.Logger, "module", "script-engine/autogrow-pool")),
	}
	p.poolOps = poolOps{src: p}

	// 预创建 initialSize 个实例
	for i := 0; i < initialSize; i++ {
		eng, err := newInitializedEngine(typ, opts...)
		if err != nil {
			for _, e := range p.all {
				_ = e.Close()
			}
			return nil, err
		}
		p.all = append(p.all, eng)
		p.pool <- eng
		p.total++
	}

	return p, nil
}

// Acquire 获取一个 Engine：优先立即取空闲实例；若无且未到 max，则创建并返回新实例；否则阻塞等待。
func (p *AutoGrowEnginePool) Acquire() (Engine, error) {
	return p.acquire(context.Background())
}

// AcquireContext 与 Acquire 相同，ctx 结束时放弃等待。
func (p *AutoGrowEnginePool) AcquireContext(ctx context.Context) (Engine, error) {
	return p.acquire(ctx)
}

func (p *AutoGrowEnginePool) acquire(ctx context.Context) (Engine, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, UsageError("", ErrPoolClosed)
	}
	p.mu.Unlock()

	// 尝试立即取一个空闲实例
	select {
	case eng, ok := <-p.pool:
		if !ok {
			return nil, UsageError("", ErrPoolClosed)
		}
		return eng, nil
	default:
	}

	// 无空闲实例，尝试按需创建新实例（如果未到上限）
	p.mu.Lock()
	if p.total < p.max {
		p.total++
		p.mu.Unlock()

		eng, err := p.grow()
		if err != nil {
			// 创建失败，回退计数
			p.mu.Lock()
			p.total--
			p.mu.Unlock()
			return nil, err
		}
		return eng, nil
	}
	// 已到上限，必须阻塞等待空闲实例
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

// grow 创建并初始化新实例，然后重放已广播的操作
func (p *AutoGrowEnginePool) grow() (Engine, error) {
	eng, err := newInitializedEngine(p.typ, p.opts...)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		_ = eng.Close()
		return nil, UsageError("", ErrPoolClosed)
	}

	for i, setup := range p.setups {
		if err = setup(eng); err != nil {
			_ = eng.Close()
			return nil, wrapf(err, "replay setup %d", i+1)
		}
	}
	p.all = append(p.all, eng)

	p.log.Debugf("grew pool to %d engine(s)", len(p.all))
	return eng, nil
}

// Release 归还 Engine；若池已关闭或通道已满则关闭该实例。
func (p *AutoGrowEnginePool) Release(e Engine) {
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
		p.forget(e)
	}
}

// Broadcast 对全部已创建的实例执行 fn，并记录 fn 供以后新建的实例重放。
func (p *AutoGrowEnginePool) Broadcast(fn func(Engine) error) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return UsageError("", ErrPoolClosed)
	}
	p.setups = append(p.setups, fn)
	list := append([]Engine(nil), p.all...)
	p.mu.Unlock()

	for i, eng := range list {
		if err := fn(eng); err != nil {
			return wrapf(err, "engine %d of %d", i+1, len(list))
		}
	}
	return nil
}

// Close 关闭池并销毁所有实例。已借出的实例归还时会被关闭。
func (p *AutoGrowEnginePool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.pool)
	list := p.all
	p.all = nil
	p.setups = nil
	p.mu.Unlock()

	var lastErr error
	for _, eng := range list {
		if err := eng.Close(); err != nil && !isDisposed(err) {
			lastErr = err
		}
	}
	return lastErr
}

// Stats 返回已创建的实例数与上限。
func (p *AutoGrowEnginePool) Stats() (total, limit int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total, p.max
}

func (p *AutoGrowEnginePool) String() string {
	total, limit := p.Stats()
	return fmt.Sprintf("AutoGrowEnginePool(%s, %d/%d)", p.typ, total, limit)
}

// forget 从实例列表中移除 e，调用方需持有 mu
func (p *AutoGrowEnginePool) forget(e Engine) {
	for i, eng := range p.all {
		if eng == e {
			p.all = append(p.all[:i], p.all[i+1:]...)
			break
		}
	}
	if p.total > 0 {
		p.total--
	}
}
