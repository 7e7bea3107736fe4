package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/lacvalidator/internal/runtime"
	"github.com/JonMunkholm/lacvalidator/internal/storage"
)

type mockEnv struct {
	mock.Mock
}

func (m *mockEnv) Install(ctx context.Context, pkg string) error {
	return m.Called(ctx, pkg).Error(0)
}

func (m *mockEnv) SetGlobal(ctx context.Context, name string, value any) error {
	return m.Called(ctx, name, value).Error(0)
}

func (m *mockEnv) Global(ctx context.Context, name string) (runtime.Value, error) {
	args := m.Called(ctx, name)
	return args.Get(0).(runtime.Value), args.Error(1)
}

func (m *mockEnv) Run(ctx context.Context, script string) error {
	return m.Called(ctx, script).Error(0)
}

func (m *mockEnv) Call(ctx context.Context, ref runtime.Ref, method string, args ...any) (runtime.Value, error) {
	a := m.Called(ctx, ref, method, args)
	return a.Get(0).(runtime.Value), a.Error(1)
}

func (m *mockEnv) Read(ctx context.Context, ref runtime.Ref) ([]byte, error) {
	args := m.Called(ctx, ref)
	return args.Get(0).([]byte), args.Error(1)
}

func (m *mockEnv) Release(ctx context.Context, ref runtime.Ref) error {
	return m.Called(ctx, ref).Error(0)
}

func (m *mockEnv) Close() error {
	return m.Called().Error(0)
}

type staticSource struct {
	env runtime.Environment
}

func (s staticSource) Env() (runtime.Environment, error) { return s.env, nil }

type recordingCapturer struct {
	errs   []error
	extras []map[string]string
}

func (c *recordingCapturer) CaptureException(_ context.Context, err error, extra map[string]string) {
	c.errs = append(c.errs, err)
	c.extras = append(c.extras, extra)
}

type failingStore struct {
	storage.Storage
}

func (failingStore) Upload(context.Context, string, string, io.Reader) error {
	return errors.New("disk full")
}

var (
	reportRef = runtime.Ref{ID: 1, Kind: "Report"}
	bufferRef = runtime.Ref{ID: 2, Kind: "BytesIO"}
	clock     = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
)

func textValue(s string) runtime.Value {
	b, _ := json.Marshal(s)
	return runtime.Value{Raw: b}
}

type fixture struct {
	env      *mockEnv
	store    storage.Storage
	capturer *recordingCapturer
	exporter *Exporter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewDirStorage(t.TempDir())
	require.NoError(t, err)

	f := &fixture{env: &mockEnv{}, store: store, capturer: &recordingCapturer{}}
	f.exporter = New(staticSource{env: f.env}, store, f.capturer, WithClock(clock))
	return f
}

func (f *fixture) stored(t *testing.T) map[string][]byte {
	t.Helper()
	objects, err := f.store.List(context.Background())
	require.NoError(t, err)

	out := map[string][]byte{}
	for _, o := range objects {
		rc, err := f.store.Download(context.Background(), o.Name)
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		out[o.Name] = b
	}
	return out
}

func TestSummaryName(t *testing.T) {
	assert.Equal(t, "children", SummaryName("ChildErrorSummary"))
	assert.Equal(t, "errors", SummaryName("ErrorSummary"))
	assert.Equal(t, "errors", SummaryName(""))
}

func TestExportSummary_Child(t *testing.T) {
	f := newFixture(t)
	f.env.On("Global", mock.Anything, "report").Return(runtime.Value{Ref: &reportRef}, nil).Once()
	f.env.On("Call", mock.Anything, reportRef, "csv_report", []any{"children"}).
		Return(textValue("ChildID,Table,Code\n1,Header,400\n"), nil).Once()
	f.env.On("Release", mock.Anything, reportRef).Return(nil).Once()

	f.exporter.ExportSummary(context.Background(), "ChildErrorSummary")

	assert.Equal(t, map[string][]byte{
		"children-20240102-030405.csv": []byte("ChildID,Table,Code\n1,Header,400\n"),
	}, f.stored(t))
	assert.Empty(t, f.capturer.errs)
	f.env.AssertExpectations(t)
}

func TestSaveSummary_Generic(t *testing.T) {
	f := newFixture(t)
	f.env.On("Global", mock.Anything, "report").Return(runtime.Value{Ref: &reportRef}, nil).Once()
	f.env.On("Call", mock.Anything, reportRef, "csv_report", []any{"errors"}).
		Return(textValue("Table,Code,Count\nHeader,400,1\n"), nil).Once()
	f.env.On("Release", mock.Anything, reportRef).Return(nil).Once()

	art, err := f.exporter.SaveSummary(context.Background(), "ErrorSummary")
	require.NoError(t, err)
	assert.Equal(t, "errors-20240102-030405.csv", art.Name)
	assert.Equal(t, storage.ContentTypeCSV, art.ContentType)
	f.env.AssertExpectations(t)
}

func TestExportSummary_RenderFailureIsSwallowed(t *testing.T) {
	f := newFixture(t)
	trace := "Traceback (most recent call last):\nKeyError: 'children'\n"
	f.env.On("Global", mock.Anything, "report").Return(runtime.Value{Ref: &reportRef}, nil).Once()
	f.env.On("Call", mock.Anything, reportRef, "csv_report", []any{"children"}).
		Return(runtime.Value{}, &runtime.ScriptError{Op: "call", Trace: trace}).Once()
	f.env.On("Release", mock.Anything, reportRef).Return(nil).Once()

	assert.NotPanics(t, func() {
		f.exporter.ExportSummary(context.Background(), "ChildErrorSummary")
	})

	require.Len(t, f.capturer.errs, 1)
	assert.Contains(t, f.capturer.extras[0]["pythonError"], "KeyError: 'children'")
	assert.Empty(t, f.stored(t))
	f.env.AssertExpectations(t)
}

func TestExportSummary_NonTextResultIsReleased(t *testing.T) {
	f := newFixture(t)
	f.env.On("Global", mock.Anything, "report").Return(runtime.Value{Ref: &reportRef}, nil).Once()
	f.env.On("Call", mock.Anything, reportRef, "csv_report", []any{"errors"}).
		Return(runtime.Value{Ref: &bufferRef}, nil).Once()
	f.env.On("Release", mock.Anything, bufferRef).Return(nil).Once()
	f.env.On("Release", mock.Anything, reportRef).Return(nil).Once()

	f.exporter.ExportSummary(context.Background(), "ErrorSummary")

	require.Len(t, f.capturer.errs, 1)
	assert.Contains(t, f.capturer.errs[0].Error(), "remote BytesIO reference")
	assert.Empty(t, f.stored(t))
	f.env.AssertExpectations(t)
}

func TestExportSummary_NoReport(t *testing.T) {
	f := newFixture(t)
	f.env.On("Global", mock.Anything, "report").Return(runtime.Value{Raw: []byte("null")}, nil).Once()

	f.exporter.ExportSummary(context.Background(), "ErrorSummary")

	require.Len(t, f.capturer.errs, 1)
	assert.ErrorIs(t, f.capturer.errs[0], ErrNoReport)
	f.env.AssertNotCalled(t, "Release", mock.Anything, mock.Anything)
}

func TestExportSummary_SaveFailureIsCaptured(t *testing.T) {
	f := newFixture(t)
	f.exporter = New(staticSource{env: f.env}, failingStore{}, f.capturer, WithClock(clock))
	f.env.On("Global", mock.Anything, "report").Return(runtime.Value{Ref: &reportRef}, nil).Once()
	f.env.On("Call", mock.Anything, reportRef, "csv_report", []any{"errors"}).
		Return(textValue("Code\n400\n"), nil).Once()
	f.env.On("Release", mock.Anything, reportRef).Return(nil).Once()

	f.exporter.ExportSummary(context.Background(), "ErrorSummary")

	require.Len(t, f.capturer.errs, 1)
	assert.Contains(t, f.capturer.errs[0].Error(), "disk full")
	f.env.AssertExpectations(t)
}

func workbook(t *testing.T) []byte {
	t.Helper()
	wb := excelize.NewFile()
	defer wb.Close()
	require.NoError(t, wb.SetSheetName("Sheet1", "Header"))
	require.NoError(t, wb.SetCellValue("Header", "A1", "CHILD"))
	require.NoError(t, wb.SetCellValue("Header", "B1", "ERRORS"))
	require.NoError(t, wb.SetCellValue("Header", "A2", "1"))
	require.NoError(t, wb.SetCellValue("Header", "B2", "400"))

	buf, err := wb.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func TestExportSpreadsheet(t *testing.T) {
	f := newFixture(t)
	data := workbook(t)
	f.env.On("Global", mock.Anything, "report").Return(runtime.Value{Ref: &reportRef}, nil).Once()
	f.env.On("Call", mock.Anything, reportRef, "excel_report", []any(nil)).Return(runtime.Value{Ref: &bufferRef}, nil).Once()
	f.env.On("Read", mock.Anything, bufferRef).Return(data, nil).Once()
	f.env.On("Release", mock.Anything, bufferRef).Return(nil).Once()
	f.env.On("Release", mock.Anything, reportRef).Return(nil).Once()

	f.exporter.ExportSpreadsheet(context.Background())

	stored := f.stored(t)
	require.Contains(t, stored, "ErrorReport-20240102-030405.xlsx")
	assert.True(t, bytes.Equal(data, stored["ErrorReport-20240102-030405.xlsx"]))
	assert.Empty(t, f.capturer.errs)
	f.env.AssertExpectations(t)
}

func TestExportSpreadsheet_NotAWorkbookReleasesBoth(t *testing.T) {
	f := newFixture(t)
	f.env.On("Global", mock.Anything, "report").Return(runtime.Value{Ref: &reportRef}, nil).Once()
	f.env.On("Call", mock.Anything, reportRef, "excel_report", []any(nil)).Return(runtime.Value{Ref: &bufferRef}, nil).Once()
	f.env.On("Read", mock.Anything, bufferRef).Return([]byte("not a zip"), nil).Once()
	f.env.On("Release", mock.Anything, bufferRef).Return(nil).Once()
	f.env.On("Release", mock.Anything, reportRef).Return(nil).Once()

	f.exporter.ExportSpreadsheet(context.Background())

	require.Len(t, f.capturer.errs, 1)
	assert.Contains(t, f.capturer.errs[0].Error(), "not a workbook")
	assert.Empty(t, f.stored(t))
	f.env.AssertExpectations(t)
}

func TestExportSpreadsheet_ReadFailureReleasesBoth(t *testing.T) {
	f := newFixture(t)
	f.env.On("Global", mock.Anything, "report").Return(runtime.Value{Ref: &reportRef}, nil).Once()
	f.env.On("Call", mock.Anything, reportRef, "excel_report", []any(nil)).Return(runtime.Value{Ref: &bufferRef}, nil).Once()
	f.env.On("Read", mock.Anything, bufferRef).Return([]byte(nil), runtime.ErrExited).Once()
	f.env.On("Release", mock.Anything, bufferRef).Return(runtime.ErrExited).Once()
	f.env.On("Release", mock.Anything, reportRef).Return(runtime.ErrExited).Once()

	f.exporter.ExportSpreadsheet(context.Background())

	require.Len(t, f.capturer.errs, 1)
	assert.ErrorIs(t, f.capturer.errs[0], runtime.ErrExited)
	f.env.AssertExpectations(t)
}
