package observability

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger_LevelMapping(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name         string
		level        string
		debugEnabled bool
		infoEnabled  bool
	}{
		{name: "debug level", level: "debug", debugEnabled: true, infoEnabled: true},
		{name: "info level", level: "info", infoEnabled: true},
		{name: "empty level defaults to info", level: "", infoEnabled: true},
		{name: "level is trimmed and case folded", level: "  WARN ", infoEnabled: false},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			logger, err := NewLogger(tc.level)
			if err != nil {
				t.Fatalf("NewLogger(%q) error = %v", tc.level, err)
			}

			if got := logger.Core().Enabled(zapcore.DebugLevel); got != tc.debugEnabled {
				t.Fatalf("debug enabled = %v, want %v", got, tc.debugEnabled)
			}
			if got := logger.Core().Enabled(zapcore.InfoLevel); got != tc.infoEnabled {
				t.Fatalf("info enabled = %v, want %v", got, tc.infoEnabled)
			}
		})
	}
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	t.Parallel()

	logger, err := NewLogger("not-a-level")
	if err == nil {
		t.Fatal("expected error for invalid level")
	}
	if logger != nil {
		t.Fatal("expected nil logger for invalid level")
	}
}

func TestContextHelpers(t *testing.T) {
	t.Parallel()

	ctx := WithOrganizationID(WithCorrelationID(context.Background(), "cid-123"), "org-7")

	if got, ok := CorrelationIDFromContext(ctx); !ok || got != "cid-123" {
		t.Fatalf("CorrelationIDFromContext() = %q, %v, want cid-123", got, ok)
	}
	if got, ok := OrganizationIDFromContext(ctx); !ok || got != "org-7" {
		t.Fatalf("OrganizationIDFromContext() = %q, %v, want org-7", got, ok)
	}
}

func TestContextHelpers_MissingOrEmpty(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		ctx  context.Context
	}{
		{name: "background", ctx: context.Background()},
		{name: "empty values", ctx: WithOrganizationID(WithCorrelationID(context.Background(), ""), "")},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if _, ok := CorrelationIDFromContext(tc.ctx); ok {
				t.Fatal("expected correlation id to be missing")
			}
			if _, ok := OrganizationIDFromContext(tc.ctx); ok {
				t.Fatal("expected organization id to be missing")
			}
		})
	}
}

func TestContextHelpers_KeysDoNotCollide(t *testing.T) {
	t.Parallel()

	ctx := WithCorrelationID(context.Background(), "cid-1")
	if _, ok := OrganizationIDFromContext(ctx); ok {
		t.Fatal("correlation id must not read back as an organization id")
	}
}

func TestWithContextLogger(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		ctx  context.Context
		want map[string]any
	}{
		{
			name: "correlation and organization",
			ctx:  WithOrganizationID(WithCorrelationID(context.Background(), "cid-789"), "org-1"),
			want: map[string]any{FieldCorrelationID: "cid-789", FieldOrganizationID: "org-1"},
		},
		{
			name: "organization only",
			ctx:  WithOrganizationID(context.Background(), "org-2"),
			want: map[string]any{FieldOrganizationID: "org-2"},
		},
		{
			name: "nothing on context",
			ctx:  context.Background(),
			want: map[string]any{},
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			core, recorded := observer.New(zapcore.InfoLevel)
			WithContextLogger(zap.New(core), tc.ctx).Info("campaign paused")

			entries := recorded.All()
			if len(entries) != 1 {
				t.Fatalf("entries = %d, want 1", len(entries))
			}
			fields := entries[0].ContextMap()
			if len(fields) != len(tc.want) {
				t.Fatalf("fields = %v, want %v", fields, tc.want)
			}
			for key, want := range tc.want {
				if got := fields[key]; got != want {
					t.Fatalf("%s = %v, want %v", key, got, want)
				}
			}
		})
	}
}

func TestWithContextLogger_NilLogger(t *testing.T) {
	t.Parallel()

	if got := WithContextLogger(nil, context.Background()); got != nil {
		t.Fatal("expected nil logger")
	}
}
