package main

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	scriptEngine "github.com/tx7do/go-script-host"
	js "github.com/tx7do/go-script-host/javascript"
	"github.com/tx7do/go-script-host/lua"
)

// Config scriptrun 配置文件
type Config struct {
	// Engine 引擎类型，为空时按脚本扩展名推断
	Engine         string         `yaml:"engine"`
	Timeout        time.Duration  `yaml:"timeout"`
	MaxCallDepth   int            `yaml:"max_call_depth"`
	StrictCoercion bool           `yaml:"strict_coercion"`
	LogLevel       string         `yaml:"log_level"`
	Globals        map[string]any `yaml:"globals"`
	// Preload 在执行脚本前加载的文件
	Preload []string `yaml:"preload"`

	Lua        LuaConfig        `yaml:"lua"`
	JavaScript JavaScriptConfig `yaml:"javascript"`
}

type LuaConfig struct {
	OpenLibs     *bool `yaml:"open_libs"`
	PreloadLibs  bool  `yaml:"preload_libs"`
	CryptoModule bool  `yaml:"crypto_module"`
}

type JavaScriptConfig struct {
	Transpile bool `yaml:"transpile"`
	Strict    bool `yaml:"strict"`
}

func defaultConfig() *Config {
	return &Config{
		LogLevel: "info",
	}
}

// LoadConfig 读取 YAML 配置；path 为空时返回默认配置
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	if cfg.Engine != "" {
		if _, ok := scriptEngine.ParseType(cfg.Engine); !ok {
			return nil, errors.Errorf("unknown engine %q in %s", cfg.Engine, path)
		}
	}
	return cfg, nil
}

// EngineType 决定使用的引擎：配置优先，其次是第一个脚本文件的扩展名，默认 Lua
func (c *Config) EngineType(files []string) scriptEngine.Type {
	if typ, ok := scriptEngine.ParseType(c.Engine); ok {
		return typ
	}
	for _, f := range files {
		if typ, ok := scriptEngine.TypeByExtension(f); ok {
			return typ
		}
	}
	return scriptEngine.LuaType
}

// Options 转换为引擎选项
func (c *Config) Options() []scriptEngine.Option {
	opts := []scriptEngine.Option{
		scriptEngine.WithExecuteTimeout(c.Timeout),
		scriptEngine.WithMaxCallDepth(c.MaxCallDepth),
		scriptEngine.WithStrictCoercion(c.StrictCoercion),
		lua.WithPreloadLibs(c.Lua.PreloadLibs),
		lua.WithCryptoModule(c.Lua.CryptoModule),
		js.WithTranspile(c.JavaScript.Transpile),
		js.WithStrict(c.JavaScript.Strict),
	}
	if c.Lua.OpenLibs != nil {
		opts = append(opts, lua.WithOpenLibs(*c.Lua.OpenLibs))
	}
	if len(c.Globals) > 0 {
		opts = append(opts, scriptEngine.WithGlobals(c.Globals))
	}
	return opts
}
