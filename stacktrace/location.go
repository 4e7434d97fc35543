// Package stacktrace 将各脚本引擎的原始调用栈文本解析为统一的位置列表。
package stacktrace

import (
	"strconv"
	"strings"
)

const (
	// GlobalCode 顶层代码帧的统一名称
	GlobalCode = "Global code"
	// AnonymousFunction 匿名函数帧的统一名称
	AnonymousFunction = "Anonymous function"
)

// Location 调用栈中的一个位置，最内层的帧排在最前面
type Location struct {
	FunctionName   string
	DocumentName   string
	LineNumber     int
	ColumnNumber   int
	SourceFragment string
}

// FrameKind 语法解析出的帧类别
type FrameKind int

const (
	// FrameNamed 带函数名的帧
	FrameNamed FrameKind = iota
	// FrameUnnamed 引擎未给出名称的帧，以程序为入口时最外层视为顶层代码，其余视为匿名函数
	FrameUnnamed
	// FrameTopLevel 引擎明确标记的顶层代码帧
	FrameTopLevel
	// FrameAnonymous 引擎明确标记的匿名函数帧
	FrameAnonymous
	// FrameNative 宿主（Go）函数帧
	FrameNative
)

// Frame 语法解析的单行结果
type Frame struct {
	Location
	Kind FrameKind
}

// Grammar 某一引擎的调用栈行语法
type Grammar interface {
	// Name 语法对应的引擎名称
	Name() string
	// ParseLine 解析单行文本。skip 表示该行可识别但不产生帧，ok 为 false 表示无法识别。
	ParseLine(line string) (frame Frame, skip bool, ok bool)
	// IsSynthetic 判断帧是否为引擎调用表达式时插入的合成帧
	IsSynthetic(frame Frame) bool
}

// Entry 脚本执行的入口方式，决定最外层未命名帧的名称
type Entry int

const (
	// EntryProgram 执行脚本程序，最外层未命名帧是顶层代码
	EntryProgram Entry = iota
	// EntryFunction 宿主直接调用脚本函数，最外层未命名帧是匿名函数
	EntryFunction
)

// Parse 按语法解析以脚本程序为入口的调用栈文本。
// 任意一行无法识别时返回空列表，不返回部分结果。
func Parse(g Grammar, raw string) []Location {
	return ParseEntry(g, raw, EntryProgram)
}

// ParseEntry 按语法与入口方式解析原始调用栈文本
func ParseEntry(g Grammar, raw string, entry Entry) []Location {
	if g == nil || strings.TrimSpace(raw) == "" {
		return nil
	}

	frames := make([]Frame, 0, 8)
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		frame, skip, ok := g.ParseLine(line)
		if !ok {
			return nil
		}
		if skip {
			continue
		}
		frames = append(frames, frame)
	}

	return normalize(g, frames, entry)
}

// normalize 截掉合成帧并把引擎特有的占位名称替换为统一名称
func normalize(g Grammar, frames []Frame, entry Entry) []Location {
	for i, f := range frames {
		if g.IsSynthetic(f) {
			frames = frames[:i]
			break
		}
	}
	if len(frames) == 0 {
		return nil
	}

	locations := make([]Location, len(frames))
	last := len(frames) - 1
	for i, f := range frames {
		loc := f.Location
		switch f.Kind {
		case FrameTopLevel:
			loc.FunctionName = GlobalCode
		case FrameAnonymous:
			loc.FunctionName = AnonymousFunction
		case FrameUnnamed:
			if i == last && entry == EntryProgram {
				loc.FunctionName = GlobalCode
			} else {
				loc.FunctionName = AnonymousFunction
			}
		}
		locations[i] = loc
	}
	return locations
}

// First 返回第一个带文档位置的帧
func First(locations []Location) (Location, bool) {
	for _, loc := range locations {
		if loc.DocumentName != "" && loc.LineNumber > 0 {
			return loc, true
		}
	}
	return Location{}, false
}

// Format 将位置列表格式化为统一的调用栈字符串
func Format(locations []Location) string {
	var sb strings.Builder
	for i, loc := range locations {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString("   at ")

		hasName := loc.FunctionName != ""
		if hasName {
			sb.WriteString(loc.FunctionName)
			sb.WriteString(" (")
		}
		sb.WriteString(formatPosition(loc))
		if hasName {
			sb.WriteByte(')')
		}

		if loc.SourceFragment != "" {
			sb.WriteString(" -> ")
			sb.WriteString(loc.SourceFragment)
		}
	}
	return sb.String()
}

func formatPosition(loc Location) string {
	if loc.DocumentName == "" {
		return "native"
	}

	var sb strings.Builder
	sb.WriteString(loc.DocumentName)
	if loc.LineNumber > 0 {
		sb.WriteByte(':')
		sb.WriteString(strconv.Itoa(loc.LineNumber))
		if loc.ColumnNumber > 0 {
			sb.WriteByte(':')
			sb.WriteString(strconv.Itoa(loc.ColumnNumber))
		}
	}
	return sb.String()
}
