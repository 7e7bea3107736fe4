// Package runtime hosts the interpreter process that loads the rule engine.
//
// The interpreter is opaque to the rest of the module. It is reached only
// through [Environment], which offers script execution, a global key/value
// exchange and references to values that cannot cross the boundary as JSON
// (report objects, byte buffers). [Host] owns the single environment of a
// worker and brings it from absent to ready exactly once.
package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNotReady is returned when an operation needs the environment
	// before EnsureReady has completed.
	ErrNotReady = errors.New("runtime not loaded")

	// ErrExited is returned once the interpreter process has gone away.
	ErrExited = errors.New("runtime process exited")
)

// Environment is a live interpreter instance.
type Environment interface {
	// Install installs a package spec (name, pinned version, URL or path).
	Install(ctx context.Context, pkg string) error

	// SetGlobal binds value, JSON encoded, to a global name.
	SetGlobal(ctx context.Context, name string, value any) error

	// Global reads a global. Unset names read as null.
	Global(ctx context.Context, name string) (Value, error)

	// Run executes a script in the global namespace. Top-level await is allowed.
	Run(ctx context.Context, script string) error

	// Call invokes a method on a referenced remote value.
	Call(ctx context.Context, ref Ref, method string, args ...any) (Value, error)

	// Read returns the bytes of a referenced buffer.
	Read(ctx context.Context, ref Ref) ([]byte, error)

	// Release drops a reference. The remote value is freed once nothing
	// else holds it.
	Release(ctx context.Context, ref Ref) error

	Close() error
}

// Ref identifies a value that lives inside the interpreter.
type Ref struct {
	ID   int64  `json:"ref"`
	Kind string `json:"kind"`
}

// Value is either plain JSON or a reference to a remote value.
type Value struct {
	Raw json.RawMessage
	Ref *Ref
}

// IsNull reports whether the value is JSON null or absent.
func (v Value) IsNull() bool {
	return v.Ref == nil && (len(v.Raw) == 0 || string(v.Raw) == "null")
}

// Decode unmarshals a JSON value into dst.
func (v Value) Decode(dst any) error {
	if v.Ref != nil {
		return fmt.Errorf("value is a remote %s reference", v.Ref.Kind)
	}
	if len(v.Raw) == 0 {
		return errors.New("empty value")
	}
	return json.Unmarshal(v.Raw, dst)
}

// Text decodes a JSON string value.
func (v Value) Text() (string, error) {
	var s string
	if err := v.Decode(&s); err != nil {
		return "", err
	}
	return s, nil
}

// ScriptError is raised by the interpreter. Trace holds the full textual
// representation, normally a traceback ending with the exception line.
type ScriptError struct {
	Op    string
	Trace string
}

func (e *ScriptError) Error() string {
	return e.Trace
}
