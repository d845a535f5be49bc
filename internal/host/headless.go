// Package host provides a Host for running exports outside an editor.
package host

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"golang.org/x/term"

	"modtool-go/internal/modtool"
)

// Options configures a Headless host.
type Options struct {
	ToolchainVersion string
	// ActiveScene is the scene reported as open when the export starts.
	ActiveScene string
	// CompileCommand is run in Dir to recompile project code. When empty a
	// recompilation completes immediately.
	CompileCommand []string
	Dir            string
	// AssumeYes answers every prompt with yes.
	AssumeYes bool

	In  io.Reader
	Out io.Writer
	// Interactive reports whether prompts can be shown. Defaults to
	// checking whether stdin is a terminal.
	Interactive func() bool
}

// Headless is a Host driven from the command line. Scene operations only
// track which scene is open; recompilation runs an external command.
type Headless struct {
	opts   Options
	logger modtool.Logger

	mu         sync.Mutex
	scene      string
	compileErr error
	// generation counts recompile requests. Only the latest may record a
	// compile error.
	generation uint64
}

var _ modtool.Host = (*Headless)(nil)

func New(opts Options, logger modtool.Logger) *Headless {
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stderr
	}
	if opts.Interactive == nil {
		opts.Interactive = func() bool { return term.IsTerminal(int(os.Stdin.Fd())) }
	}
	return &Headless{
		opts:   opts,
		logger: logger,
		scene:  opts.ActiveScene,
	}
}

func (h *Headless) ToolchainVersion() string { return h.opts.ToolchainVersion }

func (h *Headless) ActiveScene() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.scene
}

// SaveModifiedScenes asks for confirmation when a terminal is attached and
// AssumeYes is not set. Without a terminal the answer is yes.
func (h *Headless) SaveModifiedScenes(ctx context.Context) (bool, error) {
	if h.opts.AssumeYes || !h.opts.Interactive() {
		return true, nil
	}
	if h.ActiveScene() == "" {
		return true, nil
	}
	return h.confirm(ctx, fmt.Sprintf("Save changes to %s before exporting? [Y/n] ", h.ActiveScene()))
}

func (h *Headless) confirm(ctx context.Context, prompt string) (bool, error) {
	if _, err := io.WriteString(h.opts.Out, prompt); err != nil {
		return false, err
	}

	type answer struct {
		line string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		line, err := bufio.NewReader(h.opts.In).ReadString('\n')
		if err == io.EOF && line != "" {
			err = nil
		}
		ch <- answer{line, err}
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case a := <-ch:
		if a.err != nil {
			return false, fmt.Errorf("reading answer: %w", a.err)
		}
		switch strings.ToLower(strings.TrimSpace(a.line)) {
		case "", "y", "yes":
			return true, nil
		default:
			return false, nil
		}
	}
}

func (h *Headless) NewEmptyScene() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.scene = ""
	return nil
}

func (h *Headless) OpenScene(path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.scene = path
	return nil
}

// RequestRecompile starts the compile command in the background. The
// returned channel is closed when the command exits, whether or not it
// succeeded, unless ctx was cancelled first.
func (h *Headless) RequestRecompile(ctx context.Context) (<-chan struct{}, error) {
	gen := h.begin()
	done := make(chan struct{})
	if len(h.opts.CompileCommand) == 0 {
		close(done)
		return done, nil
	}

	cmd := exec.CommandContext(ctx, h.opts.CompileCommand[0], h.opts.CompileCommand[1:]...)
	cmd.Dir = h.opts.Dir
	h.logger.Info("recompiling", "command", strings.Join(h.opts.CompileCommand, " "))

	go func() {
		out, err := cmd.CombinedOutput()
		if ctx.Err() != nil {
			h.logger.Debug("recompile cancelled")
			return
		}
		if err != nil {
			h.logger.Error("recompile failed", "error", err, "output", strings.TrimSpace(string(out)))
			h.setCompileErr(gen, fmt.Errorf("compile command: %w", err))
		} else {
			h.logger.Debug("recompile finished")
		}
		close(done)
	}()
	return done, nil
}

func (h *Headless) CompileError() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.compileErr
}

// Refresh is a no-op: without an editor there is no import cache to update.
func (h *Headless) Refresh() error { return nil }

// begin starts a new request generation and clears the previous error.
func (h *Headless) begin() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.generation++
	h.compileErr = nil
	return h.generation
}

func (h *Headless) setCompileErr(gen uint64, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if gen == h.generation {
		h.compileErr = err
	}
}
