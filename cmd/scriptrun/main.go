package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/go-kratos/kratos/v2/log"

	scriptEngine "github.com/tx7do/go-script-host"
)

func main() {
	configPath := flag.String("c", "", "YAML config file")
	engineName := flag.String("engine", "", "Script engine (lua, javascript)")
	expr := flag.String("e", "", "Evaluate expression and print the result")
	timeout := flag.Duration("timeout", 0, "Per-execution timeout, 0 for none")
	strict := flag.Bool("strict", false, "Only allow lossless host/script conversions")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	interactive := flag.Bool("i", false, "Start a REPL after running files")
	printVersion := flag.Bool("version", false, "Print engine versions and exit")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// 命令行参数覆盖配置文件
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "engine":
			cfg.Engine = *engineName
		case "timeout":
			cfg.Timeout = *timeout
		case "strict":
			cfg.StrictCoercion = *strict
		case "log-level":
			cfg.LogLevel = *logLevel
		}
	})

	if *printVersion {
		os.Exit(printVersions(cfg))
	}

	os.Exit(run(cfg, flag.Args(), *expr, *interactive))
}

func run(cfg *Config, files []string, expr string, interactive bool) int {
	logger, err := newZapLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid log level: %v\n", err)
		return 1
	}
	defer func() {
		_ = logger.Sync()
	}()
	l := log.NewHelper(log.With(logger, "module", "scriptrun"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	typ := cfg.EngineType(files)
	mgr := scriptEngine.NewManager(logger)
	defer func() {
		_ = mgr.CloseAll()
	}()

	opts := append(cfg.Options(), scriptEngine.WithLogger(logger))
	eng, err := mgr.Create(ctx, typ.String(), typ, opts...)
	if err != nil {
		l.Errorf("create %s engine: %v", typ, err)
		return 1
	}

	if err = eng.EmbedHostObject(ctx, "host", newHostAPI(files, logger)); err != nil {
		l.Errorf("embed host api: %v", err)
		return 1
	}

	if len(cfg.Preload) > 0 {
		if err = eng.LoadFiles(ctx, cfg.Preload); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		if _, err = eng.ExecuteLoaded(ctx); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
	}

	for _, f := range files {
		if _, err = eng.ExecuteFile(ctx, f); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
	}

	if expr != "" {
		res, err := eng.Evaluate(ctx, expr, "expression")
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		fmt.Println(formatResult(res))
	}

	if interactive || (len(files) == 0 && expr == "") {
		// REPL 自己处理 Ctrl+C
		stop()
		if err = runREPL(eng); err != nil {
			l.Errorf("repl: %v", err)
			return 1
		}
	}
	return 0
}

func printVersions(cfg *Config) int {
	for _, typ := range scriptEngine.ListFactories() {
		eng, err := scriptEngine.NewScriptEngine(typ, cfg.Options()...)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Printf("%-12s %s\n", typ, eng.Version())
	}
	return 0
}
