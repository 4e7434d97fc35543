package stacktrace

import (
	"regexp"
	"strconv"
)

var (
	// at f (doc.js:2:9(12))
	gojaNamedRe = regexp.MustCompile(`^at (.+?) \((.+):(\d+):(\d+)\(\d+\)\)$`)
	// at doc.js:2:9(12)
	gojaUnnamedRe = regexp.MustCompile(`^at (.+):(\d+):(\d+)\(\d+\)$`)
	// at f (native)
	gojaNativeNamedRe = regexp.MustCompile(`^at (.+?) \(native\)$`)
)

var (
	luaHeaderRe     = regexp.MustCompile(`^stack traceback:$`)
	luaTailCallRe   = regexp.MustCompile(`^\(tailcall\): \?$`)
	luaGoCallerRe   = regexp.MustCompile(`^\[G\]: \?$`)
	luaGoFuncRe     = regexp.MustCompile(`^\[G\]:\s*in function '(.+)'$`)
	luaMainChunkRe  = regexp.MustCompile(`^(.+):(\d+): in main chunk$`)
	luaNamedRe      = regexp.MustCompile(`^(.+):(\d+): in function '(.+)'$`)
	luaAnonymousRe  = regexp.MustCompile(`^(.+):(\d+): in function <(.+):(\d+)>$`)
	luaGoOtherRe    = regexp.MustCompile(`^\[G\]:\s*in (.+)$`)
	luaSyntheticDoc = "[G]"
)

// GojaGrammar 解析 goja StackFrame.Write 输出的帧，每行以 "at " 开头
var GojaGrammar Grammar = gojaGrammar{}

// LuaGrammar 解析 gopher-lua 的 stack traceback 文本
var LuaGrammar Grammar = luaGrammar{}

type gojaGrammar struct{}

func (gojaGrammar) Name() string { return "goja" }

func (gojaGrammar) ParseLine(line string) (Frame, bool, bool) {
	if line == "at native" {
		return Frame{Kind: FrameNative}, false, true
	}
	if m := gojaNativeNamedRe.FindStringSubmatch(line); m != nil {
		return Frame{Location: Location{FunctionName: m[1]}, Kind: FrameNative}, false, true
	}
	if m := gojaNamedRe.FindStringSubmatch(line); m != nil {
		return Frame{
			Location: Location{
				FunctionName: m[1],
				DocumentName: m[2],
				LineNumber:   atoi(m[3]),
				ColumnNumber: atoi(m[4]),
			},
			Kind: FrameNamed,
		}, false, true
	}
	if m := gojaUnnamedRe.FindStringSubmatch(line); m != nil {
		return Frame{
			Location: Location{
				DocumentName: m[1],
				LineNumber:   atoi(m[2]),
				ColumnNumber: atoi(m[3]),
			},
			Kind: FrameUnnamed,
		}, false, true
	}
	return Frame{}, false, false
}

func (gojaGrammar) IsSynthetic(Frame) bool { return false }

type luaGrammar struct{}

func (luaGrammar) Name() string { return "gopher-lua" }

func (luaGrammar) ParseLine(line string) (Frame, bool, bool) {
	switch {
	case luaHeaderRe.MatchString(line), luaTailCallRe.MatchString(line):
		return Frame{}, true, true
	case luaGoCallerRe.MatchString(line):
		return Frame{Location: Location{DocumentName: luaSyntheticDoc, FunctionName: "?"}, Kind: FrameNative}, false, true
	}

	if m := luaGoFuncRe.FindStringSubmatch(line); m != nil {
		return Frame{Location: Location{FunctionName: m[1]}, Kind: FrameNative}, false, true
	}
	if m := luaGoOtherRe.FindStringSubmatch(line); m != nil {
		return Frame{Location: Location{FunctionName: m[1]}, Kind: FrameNative}, false, true
	}
	if m := luaMainChunkRe.FindStringSubmatch(line); m != nil {
		return Frame{
			Location: Location{DocumentName: m[1], LineNumber: atoi(m[2])},
			Kind:     FrameTopLevel,
		}, false, true
	}
	if m := luaAnonymousRe.FindStringSubmatch(line); m != nil {
		return Frame{
			Location: Location{DocumentName: m[1], LineNumber: atoi(m[2])},
			Kind:     FrameAnonymous,
		}, false, true
	}
	if m := luaNamedRe.FindStringSubmatch(line); m != nil {
		return Frame{
			Location: Location{FunctionName: m[3], DocumentName: m[1], LineNumber: atoi(m[2])},
			Kind:     FrameNamed,
		}, false, true
	}
	return Frame{}, false, false
}

// IsSynthetic "[G]: ?" 是调用主代码块的 Go 调用方
func (luaGrammar) IsSynthetic(f Frame) bool {
	return f.Kind == FrameNative && f.DocumentName == luaSyntheticDoc
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
