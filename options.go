package script_engine

import (
	"time"

	"github.com/go-kratos/kratos/v2/log"

	"github.com/tx7do/go-script-host/bridge"
)

const (
	// DefaultStackSize 工作协程请求的默认栈大小
	DefaultStackSize = 1 << 20
)

// Options 引擎选项
type Options struct {
	// ExecuteTimeout 单次执行的超时时间，0 表示不限制
	ExecuteTimeout time.Duration
	// MaxStackSize 工作协程请求的栈大小（字节）
	MaxStackSize int
	// MaxCallDepth 脚本调用深度上限，0 使用引擎默认值
	MaxCallDepth int
	// StrictCoercion 宿主与脚本之间只允许无损转换
	StrictCoercion bool
	// Logger 引擎日志，脚本的 console / print 输出也写入该日志
	Logger log.Logger
	// Globals 初始化时注册的全局变量
	Globals map[string]any
	// MemberNamer 宿主成员在脚本中的命名规则
	MemberNamer bridge.MemberNamer

	values map[any]any
}

type Option func(*Options)

// NewOptions 创建带默认值的选项
func NewOptions(opts ...Option) *Options {
	o := &Options{
		MaxStackSize: DefaultStackSize,
		Logger:       log.DefaultLogger,
		MemberNamer:  bridge.DefaultMemberNamer,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// Value 读取引擎专属选项
func (o *Options) Value(key any) (any, bool) {
	v, ok := o.values[key]
	return v, ok
}

// NewCoercer 按选项创建类型转换器
func (o *Options) NewCoercer() *bridge.Coercer {
	return bridge.NewCoercer(o.StrictCoercion)
}

func WithExecuteTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.ExecuteTimeout = d
	}
}

func WithMaxStackSize(size int) Option {
	return func(o *Options) {
		o.MaxStackSize = size
	}
}

func WithMaxCallDepth(depth int) Option {
	return func(o *Options) {
		o.MaxCallDepth = depth
	}
}

func WithStrictCoercion(strict bool) Option {
	return func(o *Options) {
		o.StrictCoercion = strict
	}
}

func WithLogger(logger log.Logger) Option {
	return func(o *Options) {
		if logger != nil {
			o.Logger = logger
		}
	}
}

// WithGlobal 初始化时注册一个全局变量
func WithGlobal(name string, value any) Option {
	return func(o *Options) {
		if o.Globals == nil {
			o.Globals = make(map[string]any)
		}
		o.Globals[name] = value
	}
}

func WithGlobals(globals map[string]any) Option {
	return func(o *Options) {
		for k, v := range globals {
			WithGlobal(k, v)(o)
		}
	}
}

func WithMemberNamer(namer bridge.MemberNamer) Option {
	return func(o *Options) {
		if namer != nil {
			o.MemberNamer = namer
		}
	}
}

// WithValue 设置引擎专属选项，key 应为引擎包内的私有类型
func WithValue(key, value any) Option {
	return func(o *Options) {
		if o.values == nil {
			o.values = make(map[any]any)
		}
		o.values[key] = value
	}
}
