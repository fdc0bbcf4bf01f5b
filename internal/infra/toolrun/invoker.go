// Package toolrun runs analyzer tools as subprocesses. A tool receives the
// contract path, optionally the prior stage's report path, and the run ID on
// its argv; it writes its report as JSON to stdout and diagnostics to stderr.
package toolrun

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/ritwikmohanty/aegis-audit-sub001/internal/domain"
)

const (
	defaultTimeout   = 120 * time.Second
	defaultMaxStdout = 8 << 20
	maxStderr        = 64 << 10
)

type Invoker struct {
	DefaultTimeout time.Duration
	MaxStdoutBytes int64
}

func New(timeout time.Duration, maxStdout int64) *Invoker {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if maxStdout <= 0 {
		maxStdout = defaultMaxStdout
	}
	return &Invoker{DefaultTimeout: timeout, MaxStdoutBytes: maxStdout}
}

// Execute runs one stage's tool to completion. The outcome is always carried
// in the result; a non-empty Cause classifies the failure. The tool is never
// retried and is given at most the stage timeout, falling back to the
// invoker's default.
func (inv *Invoker) Execute(ctx context.Context, stage domain.StageSpec, contractPath, inputPath, runID string) domain.ToolResult {
	argv, err := expandCommand(stage, contractPath, inputPath, runID)
	if err != nil {
		return domain.ToolResult{Cause: domain.CauseToolSpawn, Detail: err.Error()}
	}

	timeout := stage.Timeout
	if timeout <= 0 {
		timeout = inv.DefaultTimeout
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stdout := &capWriter{max: inv.maxStdout()}
	stderr := &capWriter{max: maxStderr}
	cmd := exec.CommandContext(cctx, argv[0], argv[1:]...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	runErr := cmd.Run()
	result := domain.ToolResult{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if cctx.Err() == context.DeadlineExceeded {
		result.Cause = domain.CauseToolTimeout
		result.Detail = fmt.Sprintf("tool timeout after %s", timeout)
		result.ExitCode = -1
		return result
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			result.Cause = domain.CauseToolNonZeroExit
			result.ExitCode = exitErr.ExitCode()
			result.Detail = fmt.Sprintf("tool exited with status %d", result.ExitCode)
			return result
		}
		result.Cause = domain.CauseToolSpawn
		result.ExitCode = -1
		result.Detail = fmt.Sprintf("spawn %s: %v", argv[0], runErr)
		return result
	}

	if stdout.over {
		result.Cause = domain.CauseToolOutputMalformed
		result.Detail = fmt.Sprintf("tool stdout exceeds %d bytes", inv.maxStdout())
		return result
	}
	if len(bytes.TrimSpace(result.Stdout)) == 0 {
		result.Cause = domain.CauseToolOutputMalformed
		result.Detail = "tool produced no report on stdout"
		return result
	}
	if !json.Valid(result.Stdout) {
		result.Cause = domain.CauseToolOutputMalformed
		result.Detail = "tool stdout is not valid JSON"
		return result
	}
	return result
}

func (inv *Invoker) maxStdout() int64 {
	if inv.MaxStdoutBytes > 0 {
		return inv.MaxStdoutBytes
	}
	return defaultMaxStdout
}

func expandCommand(stage domain.StageSpec, contractPath, inputPath, runID string) ([]string, error) {
	if len(stage.Command) == 0 {
		return nil, fmt.Errorf("stage %s has no command", stage.Name)
	}
	argv := make([]string, len(stage.Command))
	for i, arg := range stage.Command {
		if strings.Contains(arg, domain.ArgInput) && inputPath == "" {
			return nil, fmt.Errorf("stage %s references %s but no prior report exists", stage.Name, domain.ArgInput)
		}
		expanded := strings.ReplaceAll(arg, domain.ArgContract, contractPath)
		expanded = strings.ReplaceAll(expanded, domain.ArgInput, inputPath)
		expanded = strings.ReplaceAll(expanded, domain.ArgRunID, runID)
		argv[i] = expanded
	}
	return argv, nil
}

// capWriter keeps at most max bytes and swallows the rest so a verbose tool
// is not killed by a broken pipe; overflow is recorded instead.
type capWriter struct {
	buf  bytes.Buffer
	max  int64
	over bool
}

func (w *capWriter) Write(p []byte) (int, error) {
	room := w.max - int64(w.buf.Len())
	if room <= 0 {
		w.over = true
		return len(p), nil
	}
	if int64(len(p)) > room {
		w.buf.Write(p[:room])
		w.over = true
		return len(p), nil
	}
	return w.buf.Write(p)
}

func (w *capWriter) Bytes() []byte {
	return w.buf.Bytes()
}

func (w *capWriter) String() string {
	s := w.buf.String()
	if w.over {
		s += "\n[truncated]"
	}
	return s
}
