package js

import (
	"bytes"
	"errors"
	"regexp"
	"strconv"

	"github.com/dop251/goja"

	scriptEngine "github.com/tx7do/go-script-host"
	"github.com/tx7do/go-script-host/stacktrace"
)

// errInterruptRequested Interrupt 中断脚本时的原因
var errInterruptRequested = errors.New("javascript execution interrupted by host")

// name.js: Line 3:7 Unexpected token
var parserErrorRe = regexp.MustCompile(`^(.*): Line (\d+):(\d+) (.*)$`)

// translate 将 goja 返回的错误转换为 ScriptError
func (vm *virtualMachine) translate(err error) error {
	switch x := err.(type) {
	case nil:
		return nil
	case *scriptEngine.ScriptError:
		return x
	case *goja.InterruptedError:
		cause := x.Unwrap()
		if cause == nil {
			cause = x
		}
		return scriptEngine.InterruptedError(engineName, cause)
	case *goja.CompilerSyntaxError:
		return vm.syntaxError(x)
	case *goja.StackOverflowError:
		se := &scriptEngine.ScriptError{
			Kind:        scriptEngine.KindRuntime,
			EngineName:  engineName,
			Category:    "RangeError",
			Description: "Maximum call stack size exceeded",
			Cause:       x,
		}
		return se.WithLocations(vm.locations(x.Stack()))
	case *goja.Exception:
		return vm.exceptionError(x)
	}
	return scriptEngine.Wrap(scriptEngine.KindEngine, engineName, err)
}

func (vm *virtualMachine) syntaxError(e *goja.CompilerSyntaxError) *scriptEngine.ScriptError {
	se := &scriptEngine.ScriptError{
		Kind:        scriptEngine.KindCompilation,
		EngineName:  engineName,
		Category:    "SyntaxError",
		Description: e.Message,
		Cause:       e,
	}

	if e.File != nil {
		pos := e.File.Position(e.Offset)
		se.DocumentName, se.LineNumber, se.ColumnNumber = pos.Filename, pos.Line, pos.Column
	} else if m := parserErrorRe.FindStringSubmatch(e.Message); m != nil {
		se.DocumentName = m[1]
		se.LineNumber, _ = strconv.Atoi(m[2])
		se.ColumnNumber, _ = strconv.Atoi(m[3])
		se.Description = m[4]
	}

	if src, ok := vm.documents[se.DocumentName]; ok {
		se.SourceFragment = stacktrace.SourceFragment(src, se.LineNumber, se.ColumnNumber)
	}
	return se.Finalize()
}

// exceptionError 脚本抛出的异常；宿主函数返回的错误作为 Cause
func (vm *virtualMachine) exceptionError(ex *goja.Exception) *scriptEngine.ScriptError {
	se := &scriptEngine.ScriptError{
		Kind:       scriptEngine.KindRuntime,
		EngineName: engineName,
		Cause:      ex,
	}
	if hostErr := ex.Unwrap(); hostErr != nil {
		se.Cause = hostErr
	}

	switch val := ex.Value().(type) {
	case nil:
		se.Description = ex.Error()
	case *goja.Object:
		if name := val.Get("name"); name != nil && !goja.IsUndefined(name) {
			se.Category = name.String()
		}
		if msg := val.Get("message"); msg != nil && !goja.IsUndefined(msg) {
			se.Description = msg.String()
		} else {
			se.Description = val.String()
		}
	default:
		se.Description = val.String()
	}

	return se.WithLocations(vm.locations(ex.Stack()))
}

// locations 按 goja 的帧格式生成调用栈文本后统一解析
func (vm *virtualMachine) locations(frames []goja.StackFrame) []stacktrace.Location {
	var buf bytes.Buffer
	for i := range frames {
		buf.WriteString("at ")
		frames[i].Write(&buf)
		buf.WriteByte('\n')
	}

	locations := stacktrace.ParseEntry(stacktrace.GojaGrammar, buf.String(), vm.entry)
	stacktrace.FillFragments(locations, func(document string) (string, bool) {
		src, ok := vm.documents[document]
		return src, ok
	})
	return locations
}
