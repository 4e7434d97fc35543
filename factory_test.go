package script_engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactoryRegistry(t *testing.T) {
	t.Cleanup(registerFake())

	assert.ErrorIs(t, Register("", newFakeEngine), ErrInvalidArgument)
	assert.ErrorIs(t, Register("x", nil), ErrInvalidArgument)
	assert.Error(t, Register(fakeType, newFakeEngine))

	f, ok := GetFactory(fakeType)
	assert.True(t, ok)
	assert.NotNil(t, f)
	assert.Contains(t, ListFactories(), fakeType)

	eng, err := NewScriptEngine(fakeType)
	require.NoError(t, err)
	assert.False(t, eng.IsInitialized())

	_, err = NewScriptEngine("cobol")
	assert.ErrorIs(t, err, ErrLoad)
	assert.ErrorIs(t, err, ErrEngineNotRegistered)

	assert.True(t, Unregister(fakeType))
	assert.False(t, Unregister(fakeType))
	_, ok = GetFactory(fakeType)
	assert.False(t, ok)
}

func TestParseType(t *testing.T) {
	for name, want := range map[string]Type{
		"lua":        LuaType,
		"JS":         JavaScriptType,
		" ts ":       JavaScriptType,
		"javascript": JavaScriptType,
	} {
		typ, ok := ParseType(name)
		assert.True(t, ok, name)
		assert.Equal(t, want, typ, name)
	}
	_, ok := ParseType("python")
	assert.False(t, ok)

	typ, ok := TypeByExtension("scripts/main.lua")
	assert.True(t, ok)
	assert.Equal(t, LuaType, typ)
	typ, ok = TypeByExtension("app.TS")
	assert.True(t, ok)
	assert.Equal(t, JavaScriptType, typ)
	_, ok = TypeByExtension("Makefile")
	assert.False(t, ok)
}

func TestOptions(t *testing.T) {
	type key struct{}
	o := NewOptions(
		WithGlobal("a", 1),
		WithGlobals(map[string]any{"b": 2}),
		WithStrictCoercion(true),
		WithMaxStackSize(64<<10),
		WithValue(key{}, "v"),
		WithLogger(nil),
		nil,
	)

	assert.Equal(t, map[string]any{"a": 1, "b": 2}, o.Globals)
	assert.Equal(t, 64<<10, o.MaxStackSize)
	assert.NotNil(t, o.Logger)
	assert.True(t, o.NewCoercer().Strict())

	v, ok := o.Value(key{})
	assert.True(t, ok)
	assert.Equal(t, "v", v)
	_, ok = o.Value("missing")
	assert.False(t, ok)
}

func TestManager(t *testing.T) {
	t.Cleanup(registerFake())

	m := NewManager()
	ctx := context.Background()

	first, err := m.Create(ctx, "first", fakeType, WithGlobal("x", 1))
	require.NoError(t, err)
	assert.True(t, first.IsInitialized())
	assert.True(t, first.HasGlobal(ctx, "x"))

	second, err := NewScriptEngine(fakeType)
	require.NoError(t, err)
	require.NoError(t, m.Register("second", second))

	assert.ErrorIs(t, m.Register("second", second), ErrUsage)
	assert.ErrorIs(t, m.Register("", second), ErrInvalidArgument)
	_, err = m.Create(ctx, "first", fakeType)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	def, ok := m.GetDefault()
	assert.True(t, ok)
	assert.Same(t, first, def)
	assert.Equal(t, []string{"first", "second"}, m.Names())

	require.NoError(t, m.InitAll(ctx))
	assert.True(t, second.IsInitialized())

	m.SetDefault("second")
	def, _ = m.GetDefault()
	assert.Same(t, second, def)

	m.Remove("second", true)
	assert.False(t, second.IsInitialized())
	_, ok = m.GetDefault()
	assert.False(t, ok)

	require.NoError(t, m.CloseAll())
	assert.False(t, first.IsInitialized())
	assert.Empty(t, m.Names())
}
