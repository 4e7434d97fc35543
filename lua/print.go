package lua

import (
	"strings"

	"github.com/go-kratos/kratos/v2/log"
	Lua "github.com/yuin/gopher-lua"
)

// newPrint 替换 print，输出写入引擎日志
func newPrint(logger log.Logger) Lua.LGFunction {
	l := log.NewHelper(log.With(logger, "module", "lua/print"))
	return func(L *Lua.LState) int {
		top := L.GetTop()
		parts := make([]string, 0, top)
		for i := 1; i <= top; i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}
		l.Info(strings.Join(parts, "\t"))
		return 0
	}
}
