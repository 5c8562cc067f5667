package gwlog

import (
	"context"
	"log/slog"
	"testing"
)

// captureHandler records every logged slog.Record (with any attrs
// attached via WithAttrs folded in) into a shared backing slice, so a
// clone produced by WithAttrs still reports into the original handler's
// variable in tests.
type captureHandler struct {
	records *[]slog.Record
	preset  []slog.Attr
}

func newCaptureHandler() *captureHandler {
	return &captureHandler{records: &[]slog.Record{}}
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }
func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	r.AddAttrs(h.preset...)
	*h.records = append(*h.records, r)
	return nil
}
func (h *captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &captureHandler{records: h.records, preset: append(append([]slog.Attr{}, h.preset...), attrs...)}
}
func (h *captureHandler) WithGroup(name string) slog.Handler { return h }

func recordAttrs(r slog.Record) map[string]any {
	out := make(map[string]any)
	r.Attrs(func(a slog.Attr) bool {
		out[a.Key] = a.Value.Any()
		return true
	})
	return out
}

func TestWithTraceID_RoundTrips(t *testing.T) {
	ctx := WithTraceID(context.Background())
	id, ok := TraceID(ctx)
	if !ok {
		t.Fatal("expected a trace ID to be present")
	}
	if id == 0 {
		t.Fatal("expected a non-zero trace ID")
	}
}

func TestTraceID_AbsentWithoutWithTraceID(t *testing.T) {
	if _, ok := TraceID(context.Background()); ok {
		t.Fatal("expected no trace ID on a bare context")
	}
}

func TestLogger_InfoContextPrependsTraceIDWhenEnabled(t *testing.T) {
	h := newCaptureHandler()
	l := &Logger{Logger: slog.New(h), traceEnabled: true}

	ctx := WithTraceID(context.Background())
	l.InfoContext(ctx, "hello")

	if len(*h.records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(*h.records))
	}
	if _, ok := recordAttrs((*h.records)[0])["trace_id"]; !ok {
		t.Fatal("expected trace_id attribute on the log record")
	}
}

func TestLogger_InfoContextOmitsTraceIDWhenDisabled(t *testing.T) {
	h := newCaptureHandler()
	l := &Logger{Logger: slog.New(h), traceEnabled: false}

	ctx := WithTraceID(context.Background())
	l.InfoContext(ctx, "hello")

	if _, ok := recordAttrs((*h.records)[0])["trace_id"]; ok {
		t.Fatal("expected no trace_id attribute when tracing is disabled")
	}
}

func TestWithWorker_AttachesWorkerID(t *testing.T) {
	h := newCaptureHandler()
	base := &Logger{Logger: slog.New(h)}
	worker := base.WithWorker(3)

	worker.Info("ping")
	if len(*h.records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(*h.records))
	}
	if got := recordAttrs((*h.records)[0])["worker_id"]; got != int64(3) && got != 3 {
		t.Fatalf("expected worker_id=3, got %v", got)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
