package stacktrace

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGoja(t *testing.T) {
	raw := strings.Join([]string{
		"at native",
		"at inner (lib.js:3:11(4))",
		"at lib.js:7:5(12)",
		"at main.js:2:1(20)",
	}, "\n")

	locations := Parse(GojaGrammar, raw)
	require.Len(t, locations, 4)

	assert.Equal(t, Location{}, locations[0])
	assert.Equal(t, Location{FunctionName: "inner", DocumentName: "lib.js", LineNumber: 3, ColumnNumber: 11}, locations[1])
	assert.Equal(t, AnonymousFunction, locations[2].FunctionName)
	assert.Equal(t, GlobalCode, locations[3].FunctionName)
	assert.Equal(t, "main.js", locations[3].DocumentName)
}

func TestParseGojaFunctionEntry(t *testing.T) {
	raw := strings.Join([]string{
		"at inner (lib.js:3:11(4))",
		"at lib.js:7:5(12)",
	}, "\n")

	// 宿主直接调用匿名函数时，最外层帧仍是函数
	locations := ParseEntry(GojaGrammar, raw, EntryFunction)
	require.Len(t, locations, 2)
	assert.Equal(t, "inner", locations[0].FunctionName)
	assert.Equal(t, AnonymousFunction, locations[1].FunctionName)
	assert.Equal(t, 7, locations[1].LineNumber)

	assert.Equal(t, GlobalCode, ParseEntry(GojaGrammar, raw, EntryProgram)[1].FunctionName)
}

func TestParseGojaDocumentWithColon(t *testing.T) {
	locations := Parse(GojaGrammar, `at run (C:\scripts\app.js:10:2(7))`)
	require.Len(t, locations, 1)
	assert.Equal(t, `C:\scripts\app.js`, locations[0].DocumentName)
	assert.Equal(t, 10, locations[0].LineNumber)
	assert.Equal(t, 2, locations[0].ColumnNumber)
}

func TestParseLua(t *testing.T) {
	raw := "stack traceback:\n" +
		"\t[G]: in function 'error'\n" +
		"\tutil.lua:3: in function 'fail'\n" +
		"\tutil.lua:8: in function <util.lua:6>\n" +
		"\t(tailcall): ?\n" +
		"\tmain.lua:12: in main chunk\n" +
		"\t[G]: ?"

	locations := Parse(LuaGrammar, raw)
	require.Len(t, locations, 4)

	assert.Equal(t, "error", locations[0].FunctionName)
	assert.Empty(t, locations[0].DocumentName)
	assert.Equal(t, Location{FunctionName: "fail", DocumentName: "util.lua", LineNumber: 3}, locations[1])
	assert.Equal(t, AnonymousFunction, locations[2].FunctionName)
	assert.Equal(t, 8, locations[2].LineNumber)
	assert.Equal(t, GlobalCode, locations[3].FunctionName)
	assert.Equal(t, "main.lua", locations[3].DocumentName)
}

func TestParseRejectsPartialTraces(t *testing.T) {
	raw := strings.Join([]string{
		"at inner (lib.js:3:11(4))",
		"this is not a frame",
		"at main.js:2:1(20)",
	}, "\n")
	assert.Empty(t, Parse(GojaGrammar, raw))

	luaRaw := "stack traceback:\n\tmain.lua:1: in main chunk\n\t???\n\t[G]: ?"
	assert.Empty(t, Parse(LuaGrammar, luaRaw))
}

func TestParseEmpty(t *testing.T) {
	assert.Empty(t, Parse(GojaGrammar, ""))
	assert.Empty(t, Parse(LuaGrammar, "stack traceback:\n\t[G]: ?"))
	assert.Empty(t, Parse(nil, "at native"))
}

func TestFormat(t *testing.T) {
	locations := []Location{
		{FunctionName: "inner", DocumentName: "lib.js", LineNumber: 3, ColumnNumber: 11, SourceFragment: "throw new Error('x');"},
		{FunctionName: GlobalCode, DocumentName: "main.lua", LineNumber: 12},
		{FunctionName: "print"},
	}

	expected := "   at inner (lib.js:3:11) -> throw new Error('x');\n" +
		"   at Global code (main.lua:12)\n" +
		"   at print (native)"
	assert.Equal(t, expected, Format(locations))
}

func TestFirst(t *testing.T) {
	loc, ok := First([]Location{{FunctionName: "print"}, {DocumentName: "a.js", LineNumber: 2}})
	assert.True(t, ok)
	assert.Equal(t, "a.js", loc.DocumentName)

	_, ok = First([]Location{{FunctionName: "print"}})
	assert.False(t, ok)
}

func TestSourceFragment(t *testing.T) {
	source := "var a = 1;\n\t  var b = a + undefinedThing;  \nvar c = 3;"

	assert.Equal(t, "var b = a + undefinedThing;", SourceFragment(source, 2, 14))
	assert.Equal(t, "", SourceFragment(source, 4, 1))
	assert.Equal(t, "", SourceFragment("", 1, 1))

	long := strings.Repeat("a", 80) + "TARGET" + strings.Repeat("b", 80)
	fragment := SourceFragment(long, 1, 81)
	assert.Contains(t, fragment, "TARGET")
	assert.True(t, strings.HasPrefix(fragment, "…"))
	assert.True(t, strings.HasSuffix(fragment, "…"))
}

func TestFillFragments(t *testing.T) {
	docs := map[string]string{"a.js": "first\nsecond line"}
	locations := []Location{
		{DocumentName: "a.js", LineNumber: 2, ColumnNumber: 1},
		{DocumentName: "missing.js", LineNumber: 1},
		{FunctionName: "print"},
	}

	FillFragments(locations, func(doc string) (string, bool) {
		s, ok := docs[doc]
		return s, ok
	})

	assert.Equal(t, "second line", locations[0].SourceFragment)
	assert.Empty(t, locations[1].SourceFragment)
	assert.Empty(t, locations[2].SourceFragment)
}
