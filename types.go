package script_engine

import "strings"

type Type string

const (
	// LuaType Lua 脚本引擎类型
	LuaType Type = "lua"

	// JavaScriptType JavaScript 脚本引擎类型
	JavaScriptType Type = "javascript"
)

func (t Type) String() string {
	return string(t)
}

// ParseType 解析引擎类型名称，支持常见别名
func ParseType(name string) (Type, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "lua":
		return LuaType, true
	case "javascript", "js", "ecmascript", "typescript", "ts":
		return JavaScriptType, true
	default:
		return "", false
	}
}

// TypeByExtension 按脚本文件扩展名推断引擎类型
func TypeByExtension(path string) (Type, bool) {
	idx := strings.LastIndexByte(path, '.')
	if idx < 0 {
		return "", false
	}
	switch strings.ToLower(path[idx+1:]) {
	case "lua":
		return LuaType, true
	case "js", "mjs", "cjs", "ts":
		return JavaScriptType, true
	default:
		return "", false
	}
}
