package js

import (
	"github.com/go-kratos/kratos/v2/log"
)

// printer 将脚本的 console 输出写入引擎日志
type printer struct {
	log *log.Helper
}

func newPrinter(logger log.Logger) *printer {
	return &printer{log: log.NewHelper(log.With(logger, "module", "javascript/console"))}
}

func (p *printer) Log(s string) { p.log.Info(s) }

func (p *printer) Warn(s string) { p.log.Warn(s) }

func (p *printer) Error(s string) { p.log.Error(s) }
