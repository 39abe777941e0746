package stage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dwsmith1983/tokamaksim/pkg/types"
)

const (
	defaultWaitDelay = 5 * time.Second
	stderrTailBytes  = 4096
)

// ProcessBackend runs an external solver as a subprocess. The Request is
// written to stdin as JSON; the solver prints one StateSnapshot JSON object
// per line on stdout.
//
// Exit code 2 is a permanent failure, codes >= 128 and signal deaths are
// crashes, and any other non-zero code is transient.
type ProcessBackend struct {
	Command string
	Args    []string
	Env     map[string]string
	Dir     string

	// WaitDelay bounds how long output pipes may stay open after the process
	// is killed. Zero means 5s.
	WaitDelay time.Duration
}

// Name implements Backend. It is the command path, joined to Dir when
// relative, so distinct solvers sharing a file name get distinct breakers.
func (p *ProcessBackend) Name() string {
	cmd := p.Command
	if p.Dir != "" && !filepath.IsAbs(cmd) && strings.ContainsRune(cmd, filepath.Separator) {
		cmd = filepath.Join(p.Dir, cmd)
	}
	return "process:" + cmd
}

// Run implements Backend.
func (p *ProcessBackend) Run(ctx context.Context, req Request, emit func(types.StateSnapshot)) error {
	if p.Command == "" {
		return Permanent(errors.New("process backend: command is required"))
	}
	input, err := json.Marshal(req)
	if err != nil {
		return Permanent(fmt.Errorf("marshaling stage request: %w", err))
	}

	cmd := exec.CommandContext(ctx, p.Command, p.Args...)
	cmd.Stdin = bytes.NewReader(input)
	cmd.Dir = p.Dir
	if len(p.Env) > 0 {
		cmd.Env = append(os.Environ(), envList(p.Env)...)
	}
	cmd.WaitDelay = p.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = defaultWaitDelay
	}

	out := &lineWriter{emit: emit}
	stderr := &tailBuffer{max: stderrTailBytes}
	cmd.Stdout = out
	cmd.Stderr = stderr

	if err := cmd.Run(); err != nil {
		return &Error{
			Category: classifyExitError(ctx, err),
			Err:      fmt.Errorf("%s: %w (stderr: %s)", p.Command, err, stderr.String()),
		}
	}
	if err := out.flush(); err != nil {
		return Permanent(err)
	}
	return nil
}

// classifyExitError categorizes a subprocess execution error.
func classifyExitError(ctx context.Context, err error) types.FailureCategory {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return types.FailureTimeout
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		switch {
		case code == 2:
			return types.FailurePermanent
		case code >= 128, code < 0:
			return types.FailureBackendCrash
		default:
			return types.FailureTransient
		}
	}
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
		return types.FailurePermanent
	}
	return types.FailureTransient
}

func envList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

// lineWriter decodes JSON lines as they arrive. After the first malformed
// line the rest of the output is discarded so the solver never blocks on a
// full pipe.
type lineWriter struct {
	emit func(types.StateSnapshot)
	buf  []byte
	line int
	err  error
}

func (w *lineWriter) Write(p []byte) (int, error) {
	if w.err != nil {
		return len(p), nil
	}
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.decode(w.buf[:i])
		w.buf = w.buf[i+1:]
		if w.err != nil {
			w.buf = nil
			break
		}
	}
	return len(p), nil
}

func (w *lineWriter) decode(line []byte) {
	w.line++
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}
	var snap types.StateSnapshot
	if err := json.Unmarshal(line, &snap); err != nil {
		w.err = fmt.Errorf("stdout line %d: %w", w.line, err)
		return
	}
	w.emit(snap)
}

// flush decodes a final unterminated line and reports the first decode error.
func (w *lineWriter) flush() error {
	if w.err == nil && len(bytes.TrimSpace(w.buf)) > 0 {
		w.decode(w.buf)
		w.buf = nil
	}
	return w.err
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	return string(bytes.TrimSpace(t.buf))
}
