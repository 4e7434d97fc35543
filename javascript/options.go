package js

import (
	"github.com/dop251/goja"

	scriptEngine "github.com/tx7do/go-script-host"
)

// frameSize 按请求栈大小换算调用深度时每帧占用的字节数
const frameSize = 256

type optionKey int

const (
	transpileKey optionKey = iota
	fieldNameMapperKey
	strictKey
)

// options JavaScript 引擎专属选项
type options struct {
	transpile       bool
	fieldNameMapper goja.FieldNameMapper
	strict          bool
}

// WithTranspile 执行前用 esbuild 将 TypeScript 转换为 JavaScript。
// 文档名以 .ts 结尾时总会转换。
func WithTranspile(enable bool) scriptEngine.Option {
	return scriptEngine.WithValue(transpileKey, enable)
}

// WithFieldNameMapper 通过 RegisterGlobal 注册的 Go 值在脚本中的字段命名规则
func WithFieldNameMapper(mapper goja.FieldNameMapper) scriptEngine.Option {
	return scriptEngine.WithValue(fieldNameMapperKey, mapper)
}

// WithStrict 以严格模式编译脚本
func WithStrict(strict bool) scriptEngine.Option {
	return scriptEngine.WithValue(strictKey, strict)
}

func readOptions(o *scriptEngine.Options) options {
	opts := options{
		fieldNameMapper: goja.TagFieldNameMapper("json", true),
	}
	if v, ok := o.Value(transpileKey); ok {
		opts.transpile, _ = v.(bool)
	}
	if v, ok := o.Value(fieldNameMapperKey); ok {
		if m, ok := v.(goja.FieldNameMapper); ok && m != nil {
			opts.fieldNameMapper = m
		}
	}
	if v, ok := o.Value(strictKey); ok {
		opts.strict, _ = v.(bool)
	}
	return opts
}

// callDepth 由选项计算脚本调用深度上限
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
