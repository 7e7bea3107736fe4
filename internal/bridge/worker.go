package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/JonMunkholm/lacvalidator/internal/core"
	"github.com/JonMunkholm/lacvalidator/internal/logging"
)

// Runtime brings the worker's environment to ready.
type Runtime interface {
	EnsureReady(ctx context.Context, onProgress func(string)) error
}

// Validator runs validations inside the environment.
type Validator interface {
	RunValidation(ctx context.Context, files []core.UploadedFile, metadata core.UploadMetadata, selected []core.ErrorSelected) (core.ValidationResult, []string, error)
	LoadErrorDefinitions(ctx context.Context) ([]core.ErrorDefinition, error)
}

// Exporter saves report artifacts. Failures are its own to report.
type Exporter interface {
	ExportSummary(ctx context.Context, kind string)
	ExportSpreadsheet(ctx context.Context)
}

// Worker serves bridge calls against one runtime environment. Calls run
// one at a time in arrival order.
type Worker struct {
	runtime   Runtime
	validator Validator
	exporter  Exporter
}

// NewWorker returns a worker dispatching to the given services.
func NewWorker(rt Runtime, v Validator, e Exporter) *Worker {
	return &Worker{runtime: rt, validator: v, exporter: e}
}

// Serve handles calls from conn until it is closed or ctx is done.
func (w *Worker) Serve(ctx context.Context, conn Conn) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		env, err := conn.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("receive: %w", err)
		}
		if env.Type != TypeCall {
			continue
		}

		reply := w.handle(ctx, conn, env)
		if err := conn.Send(reply); err != nil {
			return fmt.Errorf("reply to %s: %w", env.Method, err)
		}
	}
}

func (w *Worker) handle(ctx context.Context, conn Conn, env Envelope) Envelope {
	ctx = logging.ContextWithCallID(ctx, env.ID)
	if env.RunID != "" {
		ctx = logging.ContextWithRunID(ctx, env.RunID)
	}
	log := logging.FromContext(ctx).With("method", env.Method)
	log.Debug("worker call")

	result, err := w.dispatch(ctx, conn, env)
	if err != nil {
		log.Error("worker call failed", "error", err)
		return Envelope{Type: TypeError, ID: env.ID, Error: toRemoteError(err)}
	}

	var raw json.RawMessage
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return Envelope{Type: TypeError, ID: env.ID, Error: toRemoteError(fmt.Errorf("encode result: %w", err))}
		}
		raw = b
	}
	return Envelope{Type: TypeResult, ID: env.ID, Result: raw}
}

func (w *Worker) dispatch(ctx context.Context, conn Conn, env Envelope) (any, error) {
	switch env.Method {
	case MethodLoadRuntime:
		progress := func(text string) {
			if err := conn.Send(Envelope{Type: TypeText, ID: env.ID, Text: text}); err != nil {
				logging.FromContext(ctx).Warn("progress not delivered", "error", err)
			}
		}
		return nil, w.runtime.EnsureReady(ctx, progress)

	case MethodHandleUploaded:
		var p validateParams
		if err := decodeParams(env, &p); err != nil {
			return nil, err
		}
		result, lines, err := w.validator.RunValidation(ctx, p.Files, p.Metadata, p.SelectedErrors)
		if err != nil {
			return nil, err
		}
		return validateReply{Result: result, ErrorLines: lines}, nil

	case MethodLoadErrorDefinitions:
		defs, err := w.validator.LoadErrorDefinitions(ctx)
		if err != nil {
			return nil, err
		}
		return defs, nil

	case MethodSaveErrorSummary:
		var p summaryParams
		if err := decodeParams(env, &p); err != nil {
			return nil, err
		}
		w.exporter.ExportSummary(ctx, p.Kind)
		return nil, nil

	case MethodSaveExcelSummary:
		w.exporter.ExportSpreadsheet(ctx)
		return nil, nil
	}
	return nil, fmt.Errorf("unknown method %q", env.Method)
}

func decodeParams(env Envelope, dst any) error {
	if len(env.Params) == 0 {
		return fmt.Errorf("%s: missing params", env.Method)
	}
	if err := json.Unmarshal(env.Params, dst); err != nil {
		return fmt.Errorf("%s: decode params: %w", env.Method, err)
	}
	return nil
}
