// Package export renders the report left behind by the last validation
// run and saves it as a downloadable artifact.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/lacvalidator/internal/core"
	"github.com/JonMunkholm/lacvalidator/internal/logging"
	"github.com/JonMunkholm/lacvalidator/internal/runtime"
	"github.com/JonMunkholm/lacvalidator/internal/storage"
	"github.com/JonMunkholm/lacvalidator/internal/telemetry"
)

// TimestampLayout stamps artifact names: YYYYMMDD-HHmmss.
const TimestampLayout = "20060102-150405"

// KindChildSummary selects the child-level summary. Any other kind selects
// the generic error summary.
const KindChildSummary = "ChildErrorSummary"

// ErrNoReport is returned when no validation has produced a report yet.
var ErrNoReport = errors.New("no report available")

// Artifact is a rendered report file.
type Artifact struct {
	Name        string
	ContentType string
	Data        []byte
}

// Exporter turns the retained report into artifacts.
type Exporter struct {
	envs     core.EnvSource
	store    storage.Storage
	capturer telemetry.Capturer
	now      func() time.Time
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithClock replaces time.Now for artifact timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Exporter) {
		e.now = now
	}
}

// New returns an exporter reading the report from envs and saving to store.
func New(envs core.EnvSource, store storage.Storage, capturer telemetry.Capturer, opts ...Option) *Exporter {
	if capturer == nil {
		capturer = telemetry.Nop{}
	}
	e := &Exporter{envs: envs, store: store, capturer: capturer, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SummaryName maps a summary kind to the report's summary name.
func SummaryName(kind string) string {
	if kind == KindChildSummary {
		return "children"
	}
	return "errors"
}

// ExportSummary saves the CSV summary of kind. Failures are captured to
// telemetry and otherwise swallowed.
func (e *Exporter) ExportSummary(ctx context.Context, kind string) {
	if _, err := e.SaveSummary(ctx, kind); err != nil {
		e.fail(ctx, "summary", err)
	}
}

// ExportSpreadsheet saves the full spreadsheet report. Failures are
// captured to telemetry and otherwise swallowed.
func (e *Exporter) ExportSpreadsheet(ctx context.Context) {
	if _, err := e.SaveSpreadsheet(ctx); err != nil {
		e.fail(ctx, "spreadsheet", err)
	}
}

func (e *Exporter) fail(ctx context.Context, what string, err error) {
	logging.FromContext(ctx).Error("export failed", "artifact", what, "error", err)
	e.capturer.CaptureException(ctx, err, map[string]string{"pythonError": err.Error()})
}

// SaveSummary renders and stores the CSV summary of kind.
func (e *Exporter) SaveSummary(ctx context.Context, kind string) (Artifact, error) {
	stamp := e.now().Format(TimestampLayout)
	name := SummaryName(kind)

	env, report, release, err := e.openReport(ctx)
	if err != nil {
		return Artifact{}, err
	}
	defer release()

	v, err := env.Call(ctx, *report.Ref, "csv_report", name)
	if err != nil {
		return Artifact{}, fmt.Errorf("render %s summary: %w", name, err)
	}
	if v.Ref != nil {
		releaser(ctx, env, *v.Ref)()
	}
	text, err := v.Text()
	if err != nil {
		return Artifact{}, fmt.Errorf("render %s summary: %w", name, err)
	}
	release()

	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	if _, err := r.ReadAll(); err != nil {
		return Artifact{}, fmt.Errorf("render %s summary: invalid csv: %w", name, err)
	}

	art := Artifact{
		Name:        fmt.Sprintf("%s-%s.csv", name, stamp),
		ContentType: storage.ContentTypeCSV,
		Data:        []byte(text),
	}
	return art, e.save(ctx, art)
}

// SaveSpreadsheet renders and stores the full report as a workbook.
func (e *Exporter) SaveSpreadsheet(ctx context.Context) (Artifact, error) {
	stamp := e.now().Format(TimestampLayout)

	env, report, release, err := e.openReport(ctx)
	if err != nil {
		return Artifact{}, err
	}
	defer release()

	buf, err := env.Call(ctx, *report.Ref, "excel_report")
	if err != nil {
		return Artifact{}, fmt.Errorf("render spreadsheet: %w", err)
	}
	if buf.Ref == nil {
		return Artifact{}, errors.New("render spreadsheet: report returned no buffer")
	}
	releaseBuf := releaser(ctx, env, *buf.Ref)
	defer releaseBuf()

	data, err := env.Read(ctx, *buf.Ref)
	if err != nil {
		return Artifact{}, fmt.Errorf("read spreadsheet: %w", err)
	}
	releaseBuf()
	release()

	sheets, err := sheetNames(data)
	if err != nil {
		return Artifact{}, err
	}
	logging.FromContext(ctx).Debug("spreadsheet rendered", "bytes", len(data), "sheets", sheets)

	art := Artifact{
		Name:        fmt.Sprintf("ErrorReport-%s.xlsx", stamp),
		ContentType: storage.ContentTypeXLSX,
		Data:        data,
	}
	return art, e.save(ctx, art)
}

// openReport returns the report reference and an idempotent release for it.
func (e *Exporter) openReport(ctx context.Context) (runtime.Environment, runtime.Value, func(), error) {
	env, err := e.envs.Env()
	if err != nil {
		return nil, runtime.Value{}, nil, err
	}

	report, err := env.Global(ctx, core.GlobalReport)
	if err != nil {
		return nil, runtime.Value{}, nil, fmt.Errorf("get report: %w", err)
	}
	if report.Ref == nil {
		return nil, runtime.Value{}, nil, ErrNoReport
	}
	return env, report, releaser(ctx, env, *report.Ref), nil
}

func releaser(ctx context.Context, env runtime.Environment, ref runtime.Ref) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			if err := env.Release(ctx, ref); err != nil {
				logging.FromContext(ctx).Warn("release remote value", "kind", ref.Kind, "error", err)
			}
		})
	}
}

func sheetNames(data []byte) ([]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("render spreadsheet: not a workbook: %w", err)
	}
	defer f.Close()
	return f.GetSheetList(), nil
}

func (e *Exporter) save(ctx context.Context, art Artifact) error {
	if err := e.store.Upload(ctx, art.Name, art.ContentType, bytes.NewReader(art.Data)); err != nil {
		return fmt.Errorf("save %s: %w", art.Name, err)
	}
	logging.FromContext(ctx).Info("report exported", "name", art.Name, "bytes", len(art.Data))
	return nil
}
