package core

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/JonMunkholm/lacvalidator/internal/logging"
	"github.com/JonMunkholm/lacvalidator/internal/runtime"
	"github.com/JonMunkholm/lacvalidator/internal/telemetry"
)

// Globals exchanged with the environment.
const (
	GlobalUploadedFiles    = "uploaded_files"
	GlobalErrorCodes       = "error_codes"
	GlobalMetadata         = "metadata"
	GlobalReport           = "report"
	globalPayload          = "validation_payload"
	globalErrorDefinitions = "all_error_definitions"
)

var (
	//go:embed scripts/validate.py
	validateScript string

	//go:embed scripts/catalog.py
	catalogScript string
)

// EnvSource hands out the ready runtime environment.
type EnvSource interface {
	Env() (runtime.Environment, error)
}

// Orchestrator executes validation runs inside the runtime environment.
type Orchestrator struct {
	envs     EnvSource
	capturer telemetry.Capturer
}

// NewOrchestrator returns an orchestrator using envs. A nil capturer
// discards captures.
func NewOrchestrator(envs EnvSource, capturer telemetry.Capturer) *Orchestrator {
	if capturer == nil {
		capturer = telemetry.Nop{}
	}
	return &Orchestrator{envs: envs, capturer: capturer}
}

type validationPayload struct {
	Data    map[string]TableRows `json:"data"`
	Detail  []ErrorDetail        `json:"detail"`
	Catalog []RuleDefinition     `json:"catalog"`
}

// RunValidation runs the selected rules over files. The run id is taken
// from ctx, or minted when the caller did not set one.
//
// When the rule engine raises, the result is empty and the returned lines
// hold exactly one summary line; the error stays nil. A non-nil error means
// the run could not be attempted or its outcome could not be read back.
func (o *Orchestrator) RunValidation(ctx context.Context, files []UploadedFile, metadata UploadMetadata, selected []ErrorSelected) (ValidationResult, []string, error) {
	env, err := o.envs.Env()
	if err != nil {
		return ValidationResult{}, nil, err
	}

	if logging.RunIDFromContext(ctx) == "" {
		ctx = logging.ContextWithRunID(ctx, uuid.NewString())
	}
	log := logging.FromContext(ctx)

	codes := SelectedCodes(selected)
	if files == nil {
		files = []UploadedFile{}
	}
	if metadata == nil {
		metadata = UploadMetadata{}
	}

	log.Info("passing uploaded data to runtime", "files", len(files), "codes", len(codes))

	// A failed run must never hand back the previous run's payload.
	if err := env.SetGlobal(ctx, globalPayload, nil); err != nil {
		return ValidationResult{}, nil, fmt.Errorf("reset payload: %w", err)
	}
	globals := []struct {
		name  string
		value any
	}{
		{GlobalUploadedFiles, files},
		{GlobalErrorCodes, codes},
		{GlobalMetadata, metadata},
	}
	for _, g := range globals {
		if err := env.SetGlobal(ctx, g.name, g.value); err != nil {
			return ValidationResult{}, nil, fmt.Errorf("set %s: %w", g.name, err)
		}
	}

	if err := env.Run(ctx, validateScript); err != nil {
		var scriptErr *runtime.ScriptError
		if !errors.As(err, &scriptErr) {
			return ValidationResult{}, nil, fmt.Errorf("run validation: %w", err)
		}

		line := SummaryLine(scriptErr.Trace)
		log.Warn("validation raised", "summary", line)
		o.capturer.CaptureException(ctx, err, map[string]string{"pythonError": scriptErr.Trace})
		return ValidationResult{}, []string{line}, nil
	}

	v, err := env.Global(ctx, globalPayload)
	if err != nil {
		return ValidationResult{}, nil, fmt.Errorf("read payload: %w", err)
	}
	raw, err := v.Text()
	if err != nil {
		return ValidationResult{}, nil, fmt.Errorf("read payload: %w", err)
	}

	var payload validationPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return ValidationResult{}, nil, fmt.Errorf("decode payload: %w", err)
	}

	result := ValidationResult{
		Data:             payload.Data,
		Errors:           GroupErrors(payload.Detail),
		ErrorDefinitions: CatalogIndex(payload.Catalog),
	}
	if result.Data == nil {
		result.Data = map[string]TableRows{}
	}

	log.Info("validation complete",
		"tables", len(result.Data),
		"violations", len(payload.Detail),
		"rules", len(result.ErrorDefinitions),
	)
	return result, []string{}, nil
}

// LoadErrorDefinitions returns every configured rule, each selected.
func (o *Orchestrator) LoadErrorDefinitions(ctx context.Context) ([]ErrorDefinition, error) {
	env, err := o.envs.Env()
	if err != nil {
		return nil, err
	}

	if err := env.Run(ctx, catalogScript); err != nil {
		return nil, fmt.Errorf("load error definitions: %w", err)
	}

	v, err := env.Global(ctx, globalErrorDefinitions)
	if err != nil {
		return nil, fmt.Errorf("read error definitions: %w", err)
	}
	raw, err := v.Text()
	if err != nil {
		return nil, fmt.Errorf("read error definitions: %w", err)
	}

	var defs []ErrorDefinition
	if err := json.Unmarshal([]byte(raw), &defs); err != nil {
		return nil, fmt.Errorf("decode error definitions: %w", err)
	}
	return defs, nil
}

// SelectedCodes returns the codes of the selected entries in order.
func SelectedCodes(selected []ErrorSelected) []string {
	codes := make([]string, 0, len(selected))
	for _, e := range selected {
		if e.Selected {
			codes = append(codes, e.Code)
		}
	}
	return codes
}

// GroupErrors groups violations by table, then row id. Codes keep the
// order in which detail lists them.
func GroupErrors(detail []ErrorDetail) map[string]RowErrors {
	errs := make(map[string]RowErrors)
	for _, d := range detail {
		rows, ok := errs[d.Table]
		if !ok {
			rows = make(RowErrors)
			errs[d.Table] = rows
		}
		rows[d.RowID] = append(rows[d.RowID], d.Code)
	}
	return errs
}

// CatalogIndex keys rule definitions by code.
func CatalogIndex(catalog []RuleDefinition) map[string]RuleDefinition {
	index := make(map[string]RuleDefinition, len(catalog))
	for _, r := range catalog {
		index[r.Code] = r
	}
	return index
}

// SummaryLine picks the line of a raised error's text that names the
// exception: the second to last one, since tracebacks end with the
// exception line followed by a newline. This is a heuristic tied to the
// trace printer's layout. Text with a single line is returned as is.
func SummaryLine(text string) string {
	lines := strings.Split(text, "\n")
	if len(lines) < 2 {
		return lines[0]
	}
	return lines[len(lines)-2]
}
