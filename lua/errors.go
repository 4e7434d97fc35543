package lua

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"

	Lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	scriptEngine "github.com/tx7do/go-script-host"
	"github.com/tx7do/go-script-host/stacktrace"
)

// errInterruptRequested Interrupt 中断脚本时的原因
var errInterruptRequested = errors.New("lua execution interrupted by host")

// name.lua:3: attempt to call a nil value
var positionRe = regexp.MustCompile(`(?s)^([^\n]+?):(\d+): (.*)$`)

// translate 将 gopher-lua 返回的错误转换为 ScriptError。
// documentName 为正在编译的文档，用于编译期错误缺少文档名的情况。
func (vm *virtualMachine) translate(err error, documentName string) error {
	switch x := err.(type) {
	case nil:
		return nil
	case *scriptEngine.ScriptError:
		return x
	case *Lua.ApiError:
		if vm.runCtx != nil && vm.runCtx.Err() != nil {
			return scriptEngine.InterruptedError(engineName, context.Cause(vm.runCtx))
		}
		switch x.Type {
		case Lua.ApiErrorSyntax, Lua.ApiErrorFile:
			return vm.syntaxError(x, documentName)
		case Lua.ApiErrorPanic:
			se := vm.runtimeError(x)
			se.Kind = scriptEngine.KindEngine
			return se.Finalize()
		}
		return vm.runtimeError(x)
	}
	return scriptEngine.Wrap(scriptEngine.KindEngine, engineName, err)
}

func (vm *virtualMachine) syntaxError(e *Lua.ApiError, documentName string) *scriptEngine.ScriptError {
	se := &scriptEngine.ScriptError{
		Kind:         scriptEngine.KindCompilation,
		EngineName:   engineName,
		Category:     "SyntaxError",
		Description:  strings.TrimSpace(e.Object.String()),
		DocumentName: documentName,
		Cause:        e,
	}

	var pe *parse.Error
	var ce *Lua.CompileError
	switch {
	case errors.As(e.Cause, &pe):
		se.Description = pe.Message
		if pe.Token != "" {
			se.Description += " near '" + pe.Token + "'"
		}
		if pe.Pos.Source != "" {
			se.DocumentName = pe.Pos.Source
		}
		if pe.Pos.Line > 0 {
			se.LineNumber, se.ColumnNumber = pe.Pos.Line, pe.Pos.Column
		}
	case errors.As(e.Cause, &ce):
		se.Description = ce.Message
		se.LineNumber = ce.Line
	}

	if src, ok := vm.documents[se.DocumentName]; ok {
		se.SourceFragment = stacktrace.SourceFragment(src, se.LineNumber, se.ColumnNumber)
	}
	return se.Finalize()
}

// runtimeError 脚本错误；宿主函数抛出的错误作为 Cause
func (vm *virtualMachine) runtimeError(e *Lua.ApiError) *scriptEngine.ScriptError {
	se := &scriptEngine.ScriptError{
		Kind:       scriptEngine.KindRuntime,
		EngineName: engineName,
		Cause:      e,
	}

	switch obj := e.Object.(type) {
	case *Lua.LUserData:
		if err, ok := obj.Value.(error); ok {
			se.Category = category(err)
			se.Description = err.Error()
			se.Cause = err
		} else {
			se.Description = obj.String()
		}
	case Lua.LString:
		se.Description = string(obj)
		if m := positionRe.FindStringSubmatch(se.Description); m != nil {
			if line, err := strconv.Atoi(m[2]); err == nil {
				se.DocumentName, se.LineNumber, se.Description = m[1], line, m[3]
				if src, ok := vm.documents[se.DocumentName]; ok {
					se.SourceFragment = stacktrace.SourceFragment(src, line, 0)
				}
			}
		}
	default:
		if e.Object != nil {
			se.Description = e.Object.String()
		}
	}

	return se.WithLocations(vm.locations(e.StackTrace))
}

// locations 解析 traceback；过长的 traceback 中间有一行 "..."，去掉后再解析
func (vm *virtualMachine) locations(traceback string) []stacktrace.Location {
	lines := strings.Split(traceback, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.TrimSpace(line) != "..." {
			kept = append(kept, line)
		}
	}

	locations := stacktrace.ParseEntry(stacktrace.LuaGrammar, strings.Join(kept, "\n"), vm.entry)
	stacktrace.FillFragments(locations, func(document string) (string, bool) {
		src, ok := vm.documents[document]
		return src, ok
	})
	return locations
}
