package script_engine

import (
	"errors"
	"strconv"
	"strings"

	pkgErrors "github.com/pkg/errors"

	"github.com/tx7do/go-script-host/stacktrace"
)

// ErrorKind 脚本错误类别
type ErrorKind int

const (
	// KindLoad 引擎创建或初始化失败
	KindLoad ErrorKind = iota + 1
	// KindCompilation 源码无法解析
	KindCompilation
	// KindRuntime 脚本抛出异常或宿主操作失败
	KindRuntime
	// KindInterrupted 执行被外部中断（超时、取消、Interrupt）
	KindInterrupted
	// KindEngine 其他引擎错误
	KindEngine
	// KindUsage 宿主 API 使用错误
	KindUsage
)

func (k ErrorKind) String() string {
	switch k {
	case KindLoad:
		return "load"
	case KindCompilation:
		return "compilation"
	case KindRuntime:
		return "runtime"
	case KindInterrupted:
		return "interrupted"
	case KindEngine:
		return "engine"
	case KindUsage:
		return "usage"
	default:
		return "unknown"
	}
}

// ScriptError 所有引擎对外返回的统一错误
type ScriptError struct {
	Kind           ErrorKind
	EngineName     string
	Category       string
	Message        string
	Description    string
	DocumentName   string
	LineNumber     int
	ColumnNumber   int
	SourceFragment string
	CallStack      string
	Locations      []stacktrace.Location
	Cause          error

	sentinel bool
}

var (
	// ErrLoad 匹配所有 KindLoad 错误
	ErrLoad = kindSentinel(KindLoad)
	// ErrCompilation 匹配所有 KindCompilation 错误
	ErrCompilation = kindSentinel(KindCompilation)
	// ErrRuntime 匹配所有 KindRuntime 错误
	ErrRuntime = kindSentinel(KindRuntime)
	// ErrInterrupted 匹配所有 KindInterrupted 错误
	ErrInterrupted = kindSentinel(KindInterrupted)
	// ErrEngine 匹配所有 KindEngine 错误
	ErrEngine = kindSentinel(KindEngine)
	// ErrUsage 匹配所有 KindUsage 错误
	ErrUsage = kindSentinel(KindUsage)
)

var (
	// ErrDisposed 引擎或调度器已关闭
	ErrDisposed = errors.New("script engine disposed")

	// ErrNotInitialized 引擎未初始化
	ErrNotInitialized = errors.New("script engine not initialized")

	// ErrAlreadyInitialized 引擎已初始化
	ErrAlreadyInitialized = errors.New("script engine already initialized")

	// ErrInvalidArgument 参数无效
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrEngineNotRegistered 引擎类型未注册
	ErrEngineNotRegistered = errors.New("script engine type not registered")

	// ErrNoProgramLoaded 没有已加载的脚本
	ErrNoProgramLoaded = errors.New("no script loaded")

	// ErrNotFound 全局变量或函数不存在
	ErrNotFound = errors.New("not found")

	// ErrNotFunction 全局变量不是函数
	ErrNotFunction = errors.New("not a function")

	// ErrPoolClosed 引擎池已关闭
	ErrPoolClosed = errors.New("script engine: engine pool closed")
)

func kindSentinel(kind ErrorKind) *ScriptError {
	return &ScriptError{Kind: kind, sentinel: true}
}

// NewError 创建指定类别的错误
func NewError(kind ErrorKind, engineName, description string, cause error) *ScriptError {
	e := &ScriptError{
		Kind:        kind,
		EngineName:  engineName,
		Description: description,
		Cause:       cause,
	}
	if e.Description == "" && cause != nil {
		e.Description = cause.Error()
	}
	return e.Finalize()
}

// UsageError 包装宿主 API 使用错误
func UsageError(engineName string, cause error) *ScriptError {
	return NewError(KindUsage, engineName, "", cause)
}

// InterruptedError 创建中断错误
func InterruptedError(engineName string, cause error) *ScriptError {
	return NewError(KindInterrupted, engineName, "Script execution was interrupted", cause)
}

// Wrap 将任意错误转换为 ScriptError，已是 ScriptError 的原样返回
func Wrap(kind ErrorKind, engineName string, err error) error {
	if err == nil {
		return nil
	}
	var se *ScriptError
	if errors.As(err, &se) {
		return err
	}
	return NewError(kind, engineName, "", err)
}

// WithLocations 设置调用栈位置，首个带文档的位置作为错误位置
func (e *ScriptError) WithLocations(locations []stacktrace.Location) *ScriptError {
	e.Locations = locations
	if len(locations) > 0 {
		e.CallStack = stacktrace.Format(locations)
	}
	if loc, ok := stacktrace.First(locations); ok && e.DocumentName == "" {
		e.DocumentName = loc.DocumentName
		e.LineNumber = loc.LineNumber
		e.ColumnNumber = loc.ColumnNumber
		e.SourceFragment = loc.SourceFragment
	}
	return e.Finalize()
}

// Finalize 根据各字段生成 Message
func (e *ScriptError) Finalize() *ScriptError {
	e.Message = e.generateMessage()
	return e
}

func (e *ScriptError) generateMessage() string {
	var sb strings.Builder
	if e.Category != "" {
		sb.WriteString(e.Category)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Description)

	switch {
	case e.CallStack != "":
		sb.WriteByte('\n')
		sb.WriteString(e.CallStack)
	case e.DocumentName != "":
		sb.WriteString("\n   at ")
		sb.WriteString(e.DocumentName)
		if e.LineNumber > 0 {
			sb.WriteByte(':')
			sb.WriteString(strconv.Itoa(e.LineNumber))
			if e.ColumnNumber > 0 {
				sb.WriteByte(':')
				sb.WriteString(strconv.Itoa(e.ColumnNumber))
			}
		}
		if e.SourceFragment != "" {
			sb.WriteString(" -> ")
			sb.WriteString(e.SourceFragment)
		}
	}
	return sb.String()
}

func (e *ScriptError) Error() string {
	if e.sentinel {
		return "script " + e.Kind.String() + " error"
	}
	if e.Message != "" {
		return e.Message
	}
	return e.generateMessage()
}

func (e *ScriptError) Unwrap() error {
	return e.Cause
}

// Is 类别哨兵按类别匹配，其余按指针匹配
func (e *ScriptError) Is(target error) bool {
	t, ok := target.(*ScriptError)
	if !ok {
		return false
	}
	if t.sentinel {
		return e.Kind == t.Kind
	}
	return e == t
}

// AsScriptError 取出错误链中的 ScriptError
func AsScriptError(err error) (*ScriptError, bool) {
	var se *ScriptError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// IsInterrupted 判断是否为中断错误
func IsInterrupted(err error) bool {
	return errors.Is(err, ErrInterrupted)
}

// KindOf 返回错误类别，非 ScriptError 返回 0
func KindOf(err error) ErrorKind {
	if se, ok := AsScriptError(err); ok {
		return se.Kind
	}
	return 0
}

// wrapf 为错误附加上下文
func wrapf(err error, format string, args ...any) error {
	return pkgErrors.Wrapf(err, format, args...)
}
