package js

import (
	"strings"

	esbuild "github.com/evanw/esbuild/pkg/api"

	scriptEngine "github.com/tx7do/go-script-host"
)

func isTypeScript(documentName string) bool {
	return strings.HasSuffix(strings.ToLower(documentName), ".ts")
}

// transpile 用 esbuild 去掉 TypeScript 类型标注，错误位置取第一条消息
func transpile(source, documentName string) (string, error) {
	result := esbuild.Transform(source, esbuild.TransformOptions{
		Loader:     esbuild.LoaderTS,
		Sourcefile: documentName,
	})
	if len(result.Errors) == 0 {
		return string(result.Code), nil
	}

	var msg strings.Builder
	for i, e := range result.Errors {
		if i > 0 {
			msg.WriteString("; ")
		}
		msg.WriteString(e.Text)
	}

	se := &scriptEngine.ScriptError{
		Kind:         scriptEngine.KindCompilation,
		EngineName:   engineName,
		Category:     "TranspileError",
		Description:  msg.String(),
		DocumentName: documentName,
	}
	if loc := result.Errors[0].Location; loc != nil {
		se.LineNumber = loc.Line
		se.ColumnNumber = loc.Column + 1
		se.SourceFragment = strings.TrimSpace(loc.LineText)
	}
	return "", se.Finalize()
}
