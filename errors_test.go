package script_engine

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tx7do/go-script-host/stacktrace"
)

func TestErrorKindMatching(t *testing.T) {
	err := NewError(KindRuntime, "javascript", "boom", nil)

	assert.ErrorIs(t, err, ErrRuntime)
	assert.NotErrorIs(t, err, ErrCompilation)
	assert.Equal(t, KindRuntime, KindOf(err))
	assert.Equal(t, "boom", err.Error())

	wrapped := fmt.Errorf("call failed: %w", err)
	assert.ErrorIs(t, wrapped, ErrRuntime)
	se, ok := AsScriptError(wrapped)
	assert.True(t, ok)
	assert.Same(t, err, se)

	assert.Equal(t, ErrorKind(0), KindOf(errors.New("plain")))
	assert.Equal(t, "script interrupted error", ErrInterrupted.Error())
}

func TestUsageErrorUnwrapsSentinel(t *testing.T) {
	err := UsageError("lua", ErrDisposed)

	assert.ErrorIs(t, err, ErrUsage)
	assert.ErrorIs(t, err, ErrDisposed)
	assert.Equal(t, ErrDisposed.Error(), err.Description)
}

func TestInterruptedError(t *testing.T) {
	err := InterruptedError("javascript", context.DeadlineExceeded)

	assert.True(t, IsInterrupted(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "Script execution was interrupted", err.Error())
	assert.False(t, IsInterrupted(NewError(KindRuntime, "", "x", nil)))
}

func TestWrapKeepsScriptError(t *testing.T) {
	assert.Nil(t, Wrap(KindEngine, "", nil))

	orig := NewError(KindCompilation, "lua", "bad token", nil)
	assert.Same(t, orig, Wrap(KindEngine, "lua", orig))

	err := Wrap(KindEngine, "lua", errors.New("oops"))
	assert.ErrorIs(t, err, ErrEngine)
	assert.Equal(t, "oops", err.Error())
}

func TestMessageWithLocation(t *testing.T) {
	err := &ScriptError{
		Kind:           KindCompilation,
		Category:       "SyntaxError",
		Description:    "Unexpected token",
		DocumentName:   "main.js",
		LineNumber:     3,
		ColumnNumber:   7,
		SourceFragment: "let = 1",
	}
	err.Finalize()

	assert.Equal(t, "SyntaxError: Unexpected token\n   at main.js:3:7 -> let = 1", err.Error())
}

func TestWithLocations(t *testing.T) {
	locations := []stacktrace.Location{
		{FunctionName: "print"},
		{FunctionName: "inner", DocumentName: "lib.js", LineNumber: 3, ColumnNumber: 11},
	}
	err := NewError(KindRuntime, "javascript", "Error: boom", nil).WithLocations(locations)

	assert.Equal(t, "lib.js", err.DocumentName)
	assert.Equal(t, 3, err.LineNumber)
	assert.Equal(t, 11, err.ColumnNumber)
	assert.Equal(t, stacktrace.Format(locations), err.CallStack)
	assert.Equal(t, "Error: boom\n"+err.CallStack, err.Error())
}
