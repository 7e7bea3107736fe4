// Package bridge exposes the worker's operations to callers as blocking,
// cancellable calls.
//
// A worker owns the runtime host, the orchestrator and the exporter. The
// client and the worker exchange JSON envelopes over a [Conn]; each call is
// tagged with an id from a monotonic counter, and the client's correlation
// table routes replies and progress text to the call with that id only.
package bridge

import (
	"encoding/json"
	"errors"

	"github.com/JonMunkholm/lacvalidator/internal/core"
	"github.com/JonMunkholm/lacvalidator/internal/runtime"
)

// MessageType tags an envelope.
type MessageType string

const (
	TypeCall   MessageType = "CALL"
	TypeText   MessageType = "TEXT"
	TypeResult MessageType = "RESULT"
	TypeError  MessageType = "ERROR"
)

// Worker methods.
const (
	MethodHandleUploaded       = "handleUploaded903Data"
	MethodLoadRuntime          = "loadRuntime"
	MethodLoadErrorDefinitions = "loadErrorDefinitions"
	MethodSaveErrorSummary     = "saveErrorSummary"
	MethodSaveExcelSummary     = "saveExcelSummary"
)

// Envelope is the single message shape crossing the worker boundary. A CALL
// carries the caller's validation run id, if any, in RunID.
type Envelope struct {
	Type   MessageType     `json:"type"`
	ID     int64           `json:"id"`
	RunID  string          `json:"runId,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Text   string          `json:"text,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RemoteError    `json:"error,omitempty"`
}

// Error kinds carried by RemoteError.
const (
	KindNotReady = "not_ready"
	KindExited   = "exited"
	KindScript   = "script"
	KindBusy     = "busy"
	KindFailed   = "failed"
)

// RemoteError is an error returned by the worker.
type RemoteError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (e *RemoteError) Error() string {
	return e.Message
}

// Is lets errors.Is match the runtime sentinels across the boundary.
func (e *RemoteError) Is(target error) bool {
	switch e.Kind {
	case KindNotReady:
		return target == runtime.ErrNotReady
	case KindExited:
		return target == runtime.ErrExited
	case KindBusy:
		return target == core.ErrTooManyRuns
	}
	return false
}

func toRemoteError(err error) *RemoteError {
	kind := KindFailed
	var scriptErr *runtime.ScriptError
	switch {
	case errors.Is(err, runtime.ErrNotReady):
		kind = KindNotReady
	case errors.Is(err, runtime.ErrExited):
		kind = KindExited
	case errors.Is(err, core.ErrTooManyRuns):
		kind = KindBusy
	case errors.As(err, &scriptErr):
		kind = KindScript
	}
	return &RemoteError{Kind: kind, Message: err.Error()}
}

type validateParams struct {
	Files          []core.UploadedFile  `json:"files"`
	SelectedErrors []core.ErrorSelected `json:"selectedErrors"`
	Metadata       core.UploadMetadata  `json:"metadata"`
}

type validateReply struct {
	Result     core.ValidationResult `json:"result"`
	ErrorLines []string              `json:"errorLines"`
}

type summaryParams struct {
	Kind string `json:"kind"`
}
