package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"

	scriptEngine "github.com/tx7do/go-script-host"
)

const replDocument = "repl"

// runREPL 逐行求值；执行中按 Ctrl+C 中断当前脚本
func runREPL(eng scriptEngine.Engine) error {
	homeDir, _ := os.UserHomeDir()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            fmt.Sprintf("\033[32m%s>\033[0m ", eng.Name()),
		HistoryFile:       filepath.Join(homeDir, ".scriptrun_history"),
		HistoryLimit:      1000,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = rl.Close()
	}()

	fmt.Printf("%s, type 'exit' to quit\n", eng.Version())

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				if len(line) == 0 {
					fmt.Println("Use 'exit' or Ctrl+D to exit")
				}
				continue
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		res, err := evaluateLine(eng, line)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			continue
		}
		if res != nil {
			fmt.Println(formatResult(res))
		}
	}
}

func evaluateLine(eng scriptEngine.Engine, line string) (any, error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return eng.Evaluate(ctx, line, replDocument)
}

func formatResult(v any) string {
	switch x := v.(type) {
	case string:
		return fmt.Sprintf("%q", x)
	case []any:
		parts := make([]string, 0, len(x))
		for _, e := range x {
			parts = append(parts, formatResult(e))
		}
		return strings.Join(parts, "\t")
	}
	return fmt.Sprintf("%v", v)
}
