// Package execx runs external binaries behind a small interface so callers
// can stub them in tests.
package execx

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/wudi/ocrkit/observability"
)

// Runner executes one external command and returns its output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// New returns a Runner backed by os/exec.
func New(log observability.Logger) Runner {
	if log == nil {
		log = observability.NopLogger{}
	}
	return &execRunner{log: log}
}

type execRunner struct {
	log observability.Logger
}

func (r *execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb

	err := cmd.Run()
	dur := time.Since(start)

	if err != nil {
		r.log.Error("exec failed",
			observability.String("cmd", name),
			observability.String("args", strings.Join(args, " ")),
			observability.Duration("duration", dur),
			observability.Error("error", err),
			observability.String("stderr", truncate(errb.String(), 8<<10)),
		)
	} else {
		r.log.Debug("exec ok",
			observability.String("cmd", name),
			observability.String("args", strings.Join(args, " ")),
			observability.Duration("duration", dur),
			observability.Int("stdout_bytes", out.Len()),
			observability.Int("stderr_bytes", errb.Len()),
		)
	}

	return out.Bytes(), errb.Bytes(), err
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
