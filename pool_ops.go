package script_engine

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/tx7do/go-script-host/bridge"
)

// engineSource 引擎池的借出/归还/广播能力
type engineSource interface {
	acquire(ctx context.Context) (Engine, error)
	Release(e Engine)
	Broadcast(fn func(Engine) error) error
}

// poolOps 引擎池的常见包装方法：
// 执行类操作自动 acquire -> 调用 -> release，注册类操作广播到全部实例。
type poolOps struct {
	src engineSource
}

// With 借出一个 Engine 执行 fn 后归还。
func (o poolOps) With(ctx context.Context, fn func(Engine) error) error {
	eng, err := o.src.acquire(ctx)
	if err != nil {
		return err
	}
	defer o.src.Release(eng)
	return fn(eng)
}

func (o poolOps) withResult(ctx context.Context, fn func(Engine) (any, error)) (any, error) {
	var res any
	err := o.With(ctx, func(eng Engine) error {
		var err error
		res, err = fn(eng)
		return err
	})
	return res, err
}

func (o poolOps) withResults(ctx context.Context, fn func(Engine) ([]any, error)) ([]any, error) {
	var res []any
	err := o.With(ctx, func(eng Engine) error {
		var err error
		res, err = fn(eng)
		return err
	})
	return res, err
}

//////////////////////////////////////////////////////////////////////////////////////////
// Broadcast
//////////////////////////////////////////////////////////////////////////////////////////

func (o poolOps) LoadString(ctx context.Context, source string) error {
	return o.src.Broadcast(func(eng Engine) error { return eng.LoadString(ctx, source) })
}

func (o poolOps) LoadStrings(ctx context.Context, sources []string) error {
	return o.src.Broadcast(func(eng Engine) error { return eng.LoadStrings(ctx, sources) })
}

func (o poolOps) LoadFile(ctx context.Context, filePath string) error {
	return o.src.Broadcast(func(eng Engine) error { return eng.LoadFile(ctx, filePath) })
}

func (o poolOps) LoadFiles(ctx context.Context, filePaths []string) error {
	return o.src.Broadcast(func(eng Engine) error { return eng.LoadFiles(ctx, filePaths) })
}

// LoadReader 读取一次后加载到全部实例
func (o poolOps) LoadReader(ctx context.Context, reader io.Reader, name string) error {
	if reader == nil {
		return UsageError("", ErrInvalidArgument)
	}
	source, err := io.ReadAll(reader)
	if err != nil {
		return NewError(KindLoad, "", "", err)
	}
	src := string(source)
	return o.src.Broadcast(func(eng Engine) error {
		return eng.LoadReader(ctx, strings.NewReader(src), name)
	})
}

// RegisterGlobal 注册类操作会在自动扩容的新实例上重放，重放不受 ctx 取消影响
func (o poolOps) RegisterGlobal(ctx context.Context, name string, value any) error {
	ctx = context.WithoutCancel(ctx)
	return o.src.Broadcast(func(eng Engine) error { return eng.RegisterGlobal(ctx, name, value) })
}

func (o poolOps) RemoveGlobal(ctx context.Context, name string) error {
	ctx = context.WithoutCancel(ctx)
	return o.src.Broadcast(func(eng Engine) error { return eng.RemoveGlobal(ctx, name) })
}

func (o poolOps) RegisterFunction(ctx context.Context, name string, fn any) error {
	ctx = context.WithoutCancel(ctx)
	return o.src.Broadcast(func(eng Engine) error { return eng.RegisterFunction(ctx, name, fn) })
}

func (o poolOps) RegisterModule(ctx context.Context, name string, module any) error {
	ctx = context.WithoutCancel(ctx)
	return o.src.Broadcast(func(eng Engine) error { return eng.RegisterModule(ctx, name, module) })
}

// EmbedHostObject 同一宿主对象会被多个工作协程并发访问，并发安全由宿主对象自身保证
func (o poolOps) EmbedHostObject(ctx context.Context, name string, obj any) error {
	ctx = context.WithoutCancel(ctx)
	return o.src.Broadcast(func(eng Engine) error { return eng.EmbedHostObject(ctx, name, obj) })
}

func (o poolOps) EmbedHostType(ctx context.Context, name string, typ *bridge.HostType) error {
	ctx = context.WithoutCancel(ctx)
	return o.src.Broadcast(func(eng Engine) error { return eng.EmbedHostType(ctx, name, typ) })
}

func (o poolOps) RemoveHostItem(ctx context.Context, name string) error {
	ctx = context.WithoutCancel(ctx)
	return o.src.Broadcast(func(eng Engine) error { return eng.RemoveHostItem(ctx, name) })
}

// Interrupt 中断全部实例上正在执行的脚本
func (o poolOps) Interrupt() {
	_ = o.src.Broadcast(func(eng Engine) error {
		eng.Interrupt()
		return nil
	})
}

//////////////////////////////////////////////////////////////////////////////////////////
// Acquire -> call -> release
//////////////////////////////////////////////////////////////////////////////////////////

func (o poolOps) ExecuteLoaded(ctx context.Context) (any, error) {
	return o.withResult(ctx, func(eng Engine) (any, error) { return eng.ExecuteLoaded(ctx) })
}

func (o poolOps) Evaluate(ctx context.Context, expression, documentName string) (any, error) {
	return o.withResult(ctx, func(eng Engine) (any, error) { return eng.Evaluate(ctx, expression, documentName) })
}

func (o poolOps) Execute(ctx context.Context, code, documentName string) error {
	return o.With(ctx, func(eng Engine) error { return eng.Execute(ctx, code, documentName) })
}

func (o poolOps) ExecuteString(ctx context.Context, source string) (any, error) {
	return o.withResult(ctx, func(eng Engine) (any, error) { return eng.ExecuteString(ctx, source) })
}

func (o poolOps) ExecuteFile(ctx context.Context, filePath string) (any, error) {
	return o.withResult(ctx, func(eng Engine) (any, error) { return eng.ExecuteFile(ctx, filePath) })
}

func (o poolOps) ExecuteStrings(ctx context.Context, sources []string) ([]any, error) {
	return o.withResults(ctx, func(eng Engine) ([]any, error) { return eng.ExecuteStrings(ctx, sources) })
}

func (o poolOps) ExecuteFiles(ctx context.Context, filePaths []string) ([]any, error) {
	return o.withResults(ctx, func(eng Engine) ([]any, error) { return eng.ExecuteFiles(ctx, filePaths) })
}

func (o poolOps) CallFunction(ctx context.Context, name string, args ...any) (any, error) {
	return o.withResult(ctx, func(eng Engine) (any, error) { return eng.CallFunction(ctx, name, args...) })
}

func (o poolOps) GetGlobal(ctx context.Context, name string) (any, error) {
	return o.withResult(ctx, func(eng Engine) (any, error) { return eng.GetGlobal(ctx, name) })
}

func isDisposed(err error) bool {
	return errors.Is(err, ErrDisposed) || errors.Is(err, ErrNotInitialized)
}
