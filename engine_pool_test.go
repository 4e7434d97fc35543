package script_engine

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnginePool(t *testing.T) {
	t.Cleanup(registerFake())

	_, err := NewEnginePool(0, fakeType)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	p, err := NewEnginePool(3, fakeType)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Size())

	// 广播作用于全部实例，包括已借出的
	held, err := p.Acquire()
	require.NoError(t, err)
	require.NoError(t, p.RegisterGlobal(context.Background(), "shared", 1))
	assert.True(t, held.HasGlobal(context.Background(), "shared"))
	p.Release(held)

	for _, eng := range p.all {
		assert.True(t, eng.HasGlobal(context.Background(), "shared"))
	}

	res, err := p.Evaluate(context.Background(), "1+1", "expr")
	require.NoError(t, err)
	assert.Equal(t, "1+1", res)

	require.NoError(t, p.LoadReader(context.Background(), strings.NewReader("body"), "r.js"))
	for _, eng := range p.all {
		assert.Equal(t, []string{"body"}, eng.(*fakeEngine).loaded)
	}

	list := append([]Engine(nil), p.all...)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.True(t, p.IsClosed())
	for _, eng := range list {
		assert.False(t, eng.IsInitialized())
	}

	_, err = p.Acquire()
	assert.ErrorIs(t, err, ErrPoolClosed)
	assert.ErrorIs(t, p.RegisterGlobal(context.Background(), "x", 1), ErrPoolClosed)
}

func TestEnginePoolAcquireContext(t *testing.T) {
	t.Cleanup(registerFake())

	p, err := NewEnginePool(1, fakeType)
	require.NoError(t, err)
	defer p.Close()

	eng, err := p.Acquire()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.AcquireContext(ctx)
	assert.True(t, IsInterrupted(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	p.Release(eng)
	again, err := p.AcquireContext(context.Background())
	require.NoError(t, err)
	assert.Same(t, eng, again)
	p.Release(again)
}

func TestEnginePoolConcurrentExecute(t *testing.T) {
	t.Cleanup(registerFake())

	p, err := NewEnginePool(4, fakeType)
	require.NoError(t, err)
	defer p.Close()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.ExecuteString(context.Background(), "x")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	total := 0
	for _, eng := range p.all {
		total += eng.(*fakeEngine).executed
	}
	assert.Equal(t, 32, total)
}

func TestAutoGrowEnginePool(t *testing.T) {
	t.Cleanup(registerFake())

	_, err := NewAutoGrowEnginePool(3, 2, fakeType)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	p, err := NewAutoGrowEnginePool(0, 2, fakeType)
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.RegisterGlobal(context.Background(), "a", 1))
	require.NoError(t, p.RegisterFunction(context.Background(), "b", func(...any) any { return nil }))

	total, limit := p.Stats()
	assert.Equal(t, 0, total)
	assert.Equal(t, 2, limit)

	// 新实例重放之前广播过的注册
	e1, err := p.Acquire()
	require.NoError(t, err)
	e2, err := p.Acquire()
	require.NoError(t, err)
	assert.NotSame(t, e1, e2)
	for _, eng := range []Engine{e1, e2} {
		assert.True(t, eng.HasGlobal(context.Background(), "a"))
		assert.True(t, eng.HasFunction(context.Background(), "b"))
		assert.Equal(t, 2, eng.(*fakeEngine).globalCount())
	}

	total, _ = p.Stats()
	assert.Equal(t, 2, total)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.AcquireContext(ctx)
	assert.True(t, IsInterrupted(err))

	p.Release(e1)
	p.Release(e2)
	assert.Equal(t, "AutoGrowEnginePool(fake, 2/2)", p.String())

	require.NoError(t, p.Close())
	assert.False(t, e1.IsInitialized())
	_, err = p.Acquire()
	assert.ErrorIs(t, err, ErrPoolClosed)
}
