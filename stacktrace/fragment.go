package stacktrace

import "strings"

const maxFragmentLength = 100

// SourceFragment 从源码中取出指定行（从 1 开始）在列附近的片段
func SourceFragment(source string, line, column int) string {
	if source == "" || line <= 0 {
		return ""
	}

	lines := strings.Split(source, "\n")
	if line > len(lines) {
		return ""
	}

	return fragmentFromLine(strings.TrimRight(lines[line-1], "\r"), column)
}

func fragmentFromLine(text string, column int) string {
	runes := []rune(text)

	// 去掉首尾空白，同时修正列号
	start := 0
	for start < len(runes) && isSpace(runes[start]) {
		start++
	}
	end := len(runes)
	for end > start && isSpace(runes[end-1]) {
		end--
	}
	runes = runes[start:end]
	column -= start

	if len(runes) <= maxFragmentLength {
		return string(runes)
	}

	from := 0
	if column > 0 {
		from = column - 1 - maxFragmentLength/2
		if from < 0 {
			from = 0
		}
	}
	to := from + maxFragmentLength
	if to > len(runes) {
		to = len(runes)
		from = to - maxFragmentLength
	}

	fragment := string(runes[from:to])
	if from > 0 {
		fragment = "…" + fragment
	}
	if to < len(runes) {
		fragment += "…"
	}
	return fragment
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t'
}

// FillFragments 使用 lookup 返回的文档源码为每个位置补充源码片段
func FillFragments(locations []Location, lookup func(document string) (string, bool)) {
	if lookup == nil {
		return
	}
	for i := range locations {
		loc := &locations[i]
		if loc.SourceFragment != "" || loc.DocumentName == "" {
			continue
		}
		if source, ok := lookup(loc.DocumentName); ok {
			loc.SourceFragment = SourceFragment(source, loc.LineNumber, loc.ColumnNumber)
		}
	}
}
