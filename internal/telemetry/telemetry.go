// Package telemetry captures exceptions raised while talking to the rule
// engine. Only the capture call is modelled here; shipping captures to an
// error tracker is left to whatever consumes the structured log stream.
package telemetry

import (
	"context"
	"log/slog"
	"sort"

	"github.com/JonMunkholm/lacvalidator/internal/logging"
)

// Capturer records an exception together with free-form string extras,
// e.g. the raw interpreter traceback under "pythonError".
type Capturer interface {
	CaptureException(ctx context.Context, err error, extra map[string]string)
}

// LogCapturer captures exceptions as structured error records.
type LogCapturer struct {
	Environment string
	Release     string
}

// NewLogCapturer returns a capturer tagging records with environment and release.
func NewLogCapturer(environment, release string) *LogCapturer {
	return &LogCapturer{Environment: environment, Release: release}
}

// CaptureException implements Capturer.
func (c *LogCapturer) CaptureException(ctx context.Context, err error, extra map[string]string) {
	if err == nil {
		return
	}

	args := []any{
		"error", err.Error(),
		"environment", c.Environment,
		"release", c.Release,
	}

	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, slog.String("extra."+k, extra[k]))
	}

	logging.FromContext(ctx).Error("exception captured", args...)
}

// Nop discards every capture.
type Nop struct{}

// CaptureException implements Capturer.
func (Nop) CaptureException(context.Context, error, map[string]string) {}
