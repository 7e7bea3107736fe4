package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/lacvalidator/internal/logging"
)

func TestLogCapturer_CaptureException(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))

	c := NewLogCapturer("test", "validator903==0.1.0")
	c.CaptureException(context.Background(), errors.New("boom"), map[string]string{"pythonError": "Traceback\nValueError: boom\n"})

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "exception captured", entry["msg"])
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, "boom", entry["error"])
	assert.Equal(t, "test", entry["environment"])
	assert.Equal(t, "validator903==0.1.0", entry["release"])
	assert.Equal(t, "Traceback\nValueError: boom\n", entry["extra.pythonError"])
}

func TestLogCapturer_NilError(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))

	NewLogCapturer("test", "").CaptureException(context.Background(), nil, nil)
	assert.Zero(t, buf.Len())
}

func TestLogCapturer_TagsRunID(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))

	ctx := logging.ContextWithRunID(context.Background(), "run-9")
	NewLogCapturer("test", "").CaptureException(ctx, errors.New("boom"), nil)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "run-9", entry["run_id"])
}
