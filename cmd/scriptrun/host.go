package main

import (
	"context"
	"os"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/pkg/errors"
)

// hostAPI 以 host 名称嵌入脚本
//
//	host.env("HOME")
//	host.readFile("data.txt")
//	host.sleep(100)
type hostAPI struct {
	Args []string

	log *log.Helper
}

func newHostAPI(args []string, logger log.Logger) *hostAPI {
	return &hostAPI{
		Args: args,
		log:  log.NewHelper(log.With(logger, "module", "scriptrun/host")),
	}
}

func (h *hostAPI) Env(name string) string {
	return os.Getenv(name)
}

func (h *hostAPI) ReadFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrapf(err, "read %s", path)
	}
	return string(data), nil
}

// Now 当前时间，RFC 3339 格式
func (h *hostAPI) Now() string {
	return time.Now().Format(time.RFC3339)
}

// Sleep 等待 ms 毫秒，执行被中断或超时时提前返回
func (h *hostAPI) Sleep(ctx context.Context, ms int) error {
	t := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (h *hostAPI) Log(msg string) {
	h.log.Info(msg)
}
