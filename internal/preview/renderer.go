package preview

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"
)

// Renderer turns an HTML file into a PDF file.
type Renderer interface {
	// Name identifies the renderer and its settings; it is part of the
	// preview cache key.
	Name() string
	Render(ctx context.Context, htmlPath, pdfPath string) error
}

// DefaultBinary is the wkhtmltopdf executable looked up on PATH.
const DefaultBinary = "wkhtmltopdf"

// Wkhtmltopdf renders through the wkhtmltopdf command line tool.
type Wkhtmltopdf struct {
	Binary  string
	Timeout time.Duration
	Args    []string
}

// NewWkhtmltopdf returns a renderer that runs binary with the default
// options. An empty binary means DefaultBinary.
func NewWkhtmltopdf(binary string, timeout time.Duration) *Wkhtmltopdf {
	if binary == "" {
		binary = DefaultBinary
	}
	return &Wkhtmltopdf{
		Binary:  binary,
		Timeout: timeout,
		Args:    []string{"--quiet", "--no-outline", "--encoding", "utf-8"},
	}
}

func (r *Wkhtmltopdf) Name() string {
	return r.Binary + " " + strings.Join(r.Args, " ")
}

// Render runs the tool and returns *exec.ExitError (or the start error) on
// failure. Its stderr is available through OutputError.
func (r *Wkhtmltopdf) Render(ctx context.Context, htmlPath, pdfPath string) error {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	args := append(append([]string{}, r.Args...), htmlPath, pdfPath)
	cmd := exec.CommandContext(ctx, r.Binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return &OutputError{Output: strings.TrimSpace(stderr.String()), Err: err}
	}
	return nil
}

// OutputError carries what a failed renderer printed.
type OutputError struct {
	Output string
	Err    error
}

func (e *OutputError) Error() string { return e.Err.Error() }

func (e *OutputError) Unwrap() error { return e.Err }
