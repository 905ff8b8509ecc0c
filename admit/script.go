package admit

import (
	"context"
	"fmt"

	"github.com/dop251/goja"
)

// ScriptPredicate evaluates a user-supplied JavaScript expression per page.
// The script sees index, width, height, textBytes, gradient and blank as
// globals and skips the page by returning a truthy value.
type ScriptPredicate struct {
	prog *goja.Program
}

// NewScriptPredicate compiles the expression once; compilation errors
// surface immediately rather than on the first page.
func NewScriptPredicate(src string) (*ScriptPredicate, error) {
	prog, err := goja.Compile("admit", src, true)
	if err != nil {
		return nil, fmt.Errorf("compile admission script: %w", err)
	}
	return &ScriptPredicate{prog: prog}, nil
}

func (s *ScriptPredicate) Name() string { return "script" }

// Needs claims every fact: the script may reference any of them.
func (s *ScriptPredicate) Needs() Needs {
	return Needs{TextBytes: true, Gradient: true}
}

// Skip runs the expression in a fresh VM. A VM per evaluation keeps workers
// independent; the compiled program is shared.
func (s *ScriptPredicate) Skip(ctx context.Context, page Page) (bool, string, error) {
	if err := ctx.Err(); err != nil {
		return false, "", err
	}
	vm := goja.New()
	vm.Set("index", page.Index)
	vm.Set("width", page.Width)
	vm.Set("height", page.Height)
	vm.Set("textBytes", page.TextBytes)
	vm.Set("gradient", page.Gradient)
	vm.Set("blank", page.Blank)

	done := make(chan struct{})
	defer close(done)
	defer vm.ClearInterrupt()

	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	val, err := vm.RunProgram(s.prog)
	if err != nil {
		if interrupted, ok := err.(*goja.InterruptedError); ok {
			if cause := interrupted.Unwrap(); cause != nil {
				return false, "", cause
			}
			return false, "", context.Canceled
		}
		return false, "", fmt.Errorf("admission script: %w", err)
	}
	if val != nil && val.ToBoolean() {
		return true, "script", nil
	}
	return false, "", nil
}
