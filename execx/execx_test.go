package execx

import (
	"context"
	"os/exec"
	"strings"
	"testing"

	"github.com/wudi/ocrkit/observability"
)

func TestRunCapturesStdout(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not installed in PATH")
	}
	r := New(observability.NopLogger{})
	out, _, err := r.Run(context.Background(), "sh", "-c", "printf hello")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if string(out) != "hello" {
		t.Fatalf("unexpected stdout: %q", out)
	}
}

func TestRunReportsFailure(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not installed in PATH")
	}
	r := New(nil)
	_, stderr, err := r.Run(context.Background(), "sh", "-c", "echo boom >&2; exit 3")
	if err == nil {
		t.Fatalf("expected error for non-zero exit")
	}
	if !strings.Contains(string(stderr), "boom") {
		t.Fatalf("stderr not captured: %q", stderr)
	}
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("x", 100)
	got := truncate(long, 10)
	if len(got) >= 100 || !strings.HasSuffix(got, "...(truncated)") {
		t.Fatalf("unexpected truncation: %q", got)
	}
	if truncate("short", 10) != "short" {
		t.Fatalf("short strings must pass through")
	}
}
