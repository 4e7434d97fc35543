package script_engine

import (
	"context"
	"io"

	"github.com/tx7do/go-script-host/bridge"
)

// Engine Define the interface for script engines.
// All operations run on the engine's worker goroutine and return nil or a *ScriptError.
//
// Host functions called from a script may call back into the engine; they must pass
// the ctx they received so the call runs inline on the worker goroutine.
type Engine interface {
	// GetType get the type of the script engine
	GetType() Type
	// Name get the display name of the script engine
	Name() string
	// Version get the version of the underlying runtime
	Version() string

	//////////////////////////////////////////////////////////////////////////////////////////
	// Lifecycle Management
	//////////////////////////////////////////////////////////////////////////////////////////

	// Init initialize the script engine
	Init(ctx context.Context) error
	// Close the script engine and release resources
	Close() error
	// IsInitialized check if the engine is initialized
	IsInitialized() bool

	//////////////////////////////////////////////////////////////////////////////////////////
	// Script Loading
	//////////////////////////////////////////////////////////////////////////////////////////

	// LoadString load script from string source
	LoadString(ctx context.Context, source string) error
	// LoadStrings load multiple scripts from string sources
	LoadStrings(ctx context.Context, sources []string) error
	// LoadFile load script from file path
	LoadFile(ctx context.Context, filePath string) error
	// LoadFiles load multiple scripts from file paths
	LoadFiles(ctx context.Context, filePaths []string) error
	// LoadReader load script from io.Reader
	LoadReader(ctx context.Context, reader io.Reader, name string) error

	//////////////////////////////////////////////////////////////////////////////////////////
	// Script Execution
	//////////////////////////////////////////////////////////////////////////////////////////

	// ExecuteLoaded execute the previously loaded script(s)
	ExecuteLoaded(ctx context.Context) (any, error)
	// Evaluate evaluate an expression and return its value
	Evaluate(ctx context.Context, expression, documentName string) (any, error)
	// Execute execute code for its side effects
	Execute(ctx context.Context, code, documentName string) error
	// ExecuteStrings execute multiple scripts from string sources (immediate execution)
	ExecuteStrings(ctx context.Context, sources []string) ([]any, error)
	// ExecuteFiles execute multiple scripts from file paths (immediate execution)
	ExecuteFiles(ctx context.Context, filePaths []string) ([]any, error)
	// ExecuteString execute script from string source
	ExecuteString(ctx context.Context, source string) (any, error)
	// ExecuteFile execute script from file path
	ExecuteFile(ctx context.Context, filePath string) (any, error)

	//////////////////////////////////////////////////////////////////////////////////////////
	// Global Variable Registration
	//////////////////////////////////////////////////////////////////////////////////////////

	// RegisterGlobal register a global variable
	RegisterGlobal(ctx context.Context, name string, value any) error
	// GetGlobal get a global variable
	GetGlobal(ctx context.Context, name string) (any, error)
	// GetGlobalAs decode a global variable into out (pointer)
	GetGlobalAs(ctx context.Context, name string, out any) error
	// HasGlobal check if a global variable is defined
	HasGlobal(ctx context.Context, name string) bool
	// RemoveGlobal remove a global variable
	RemoveGlobal(ctx context.Context, name string) error

	//////////////////////////////////////////////////////////////////////////////////////////
	// Function Call
	//////////////////////////////////////////////////////////////////////////////////////////

	// RegisterFunction register a function with the given name
	RegisterFunction(ctx context.Context, name string, fn any) error
	// CallFunction call a function with the given name and arguments
	CallFunction(ctx context.Context, name string, args ...any) (any, error)
	// HasFunction check if a global function is defined
	HasFunction(ctx context.Context, name string) bool

	//////////////////////////////////////////////////////////////////////////////////////////
	// Module Management
	//////////////////////////////////////////////////////////////////////////////////////////

	// RegisterModule register a module with the given name
	RegisterModule(ctx context.Context, name string, module any) error

	//////////////////////////////////////////////////////////////////////////////////////////
	// Host Embedding
	//////////////////////////////////////////////////////////////////////////////////////////

	// EmbedHostObject project a host object into the script under name
	EmbedHostObject(ctx context.Context, name string, obj any) error
	// EmbedHostType project a host type (constructors, statics, constants) into the script under name
	EmbedHostType(ctx context.Context, name string, typ *bridge.HostType) error
	// RemoveHostItem remove an embedded host object or type
	RemoveHostItem(ctx context.Context, name string) error

	//////////////////////////////////////////////////////////////////////////////////////////
	// Execution Control
	//////////////////////////////////////////////////////////////////////////////////////////

	// Interrupt abort the script currently running, if any
	Interrupt()
	// CollectGarbage request a garbage collection
	CollectGarbage(ctx context.Context)

	//////////////////////////////////////////////////////////////////////////////////////////
	// Error Handling
	//////////////////////////////////////////////////////////////////////////////////////////

	// GetLastError get the last error occurred in the engine
	GetLastError() error
	// ClearError clear the last error
	ClearError()
}
