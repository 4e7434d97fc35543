package lua

import (
	scriptEngine "github.com/tx7do/go-script-host"
)

const (
	// frameSize 按请求栈大小换算调用深度时每帧占用的字节数
	frameSize = 256

	defaultRegistrySize = 4096
)

type optionKey int

const (
	openLibsKey optionKey = iota
	preloadLibsKey
	cryptoModuleKey
	registrySizeKey
)

// options Lua 引擎专属选项
type options struct {
	openLibs     bool
	preloadLibs  bool
	cryptoModule bool
	registrySize int
}

// WithOpenLibs 是否打开 Lua 标准库，默认打开
func WithOpenLibs(open bool) scriptEngine.Option {
	return scriptEngine.WithValue(openLibsKey, open)
}

// WithPreloadLibs 预加载 gopher-lua-libs 模块（json、strings、time 等），脚本通过 require 使用
func WithPreloadLibs(enable bool) scriptEngine.Option {
	return scriptEngine.WithValue(preloadLibsKey, enable)
}

// WithCryptoModule 预加载 crypto 模块
func WithCryptoModule(enable bool) scriptEngine.Option {
	return scriptEngine.WithValue(cryptoModuleKey, enable)
}

// WithRegistrySize Lua 数据栈大小
func WithRegistrySize(size int) scriptEngine.Option {
	return scriptEngine.WithValue(registrySizeKey, size)
}

func readOptions(o *scriptEngine.Options) options {
	opts := options{
		openLibs:     true,
		registrySize: defaultRegistrySize,
	}
	if v, ok := o.Value(openLibsKey); ok {
		opts.openLibs, _ = v.(bool)
	}
	if v, ok := o.Value(preloadLibsKey); ok {
		opts.preloadLibs, _ = v.(bool)
	}
	if v, ok := o.Value(cryptoModuleKey); ok {
		opts.cryptoModule, _ = v.(bool)
	}
	if v, ok := o.Value(registrySizeKey); ok {
		if n, _ := v.(int); n > 0 {
			opts.registrySize = n
		}
	}
	return opts
}

// callDepth 由选项计算调用栈深度
func callDepth(o *scriptEngine.Options) int {
	if o.MaxCallDepth > 0 {
		return o.MaxCallDepth
	}
	size := o.MaxStackSize
	if size <= 0 {
		size = scriptEngine.DefaultStackSize
	}
	return size / frameSize
}
