package run

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

// ProcessRunner runs the build tool as a local child process.
type ProcessRunner struct {
	Path string // required, executable name or path

	// WaitDelay bounds how long Run waits for the output pipes to close
	// once the tool has exited or has been killed.
	// Zero means wait until they close.
	WaitDelay time.Duration
}

func (r *ProcessRunner) Run(ctx context.Context, params *Params) (*Result, error) {
	out, err := newOutput()
	if err != nil {
		return nil, &Error{Op: OpStart, Err: err}
	}
	defer out.close()

	cmd := exec.Command(r.Path, params.Args...)
	cmd.Dir = params.Dir
	cmd.Stdout = out.stdoutW
	cmd.Stderr = out.stderrW
	cmd.SysProcAttr = newSysProcAttr()

	err = cmd.Start()
	out.closeWriters()
	if err != nil {
		return nil, &Error{Op: OpStart, Err: err}
	}
	slog.Debug("started build tool", "path", r.Path, "pid", cmd.Process.Pid)
	out.drain()

	// The output goes to pipe files, so Wait returns when the tool exits
	// even if its children still hold the pipes.
	waitErrCh := make(chan error, 1)
	go func() {
		waitErrCh <- cmd.Wait()
	}()

	timer := time.NewTimer(params.Timeout)
	defer timer.Stop()

	var waitErr error
	timedOut := false
	select {
	case waitErr = <-waitErrCh:
	case <-timer.C:
		timedOut = true
		killProcessGroup(cmd.Process)
		waitErr = <-waitErrCh
	case <-ctx.Done():
		killProcessGroup(cmd.Process)
		<-waitErrCh
		r.awaitOutput(cmd.Process, out)
		return nil, &Error{Op: OpWait, Err: ctx.Err()}
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.As(waitErr, &exitErr):
			// Described by the exit code below.
		case timedOut:
			// Killed on purpose.
		default:
			killProcessGroup(cmd.Process)
			r.awaitOutput(cmd.Process, out)
			return nil, &Error{Op: OpWait, Err: waitErr}
		}
	}

	r.awaitOutput(cmd.Process, out)

	result := &Result{
		TimedOut: timedOut,
		Stdout:   decodeText(out.stdout.Bytes()),
		Stderr:   decodeText(out.stderr.Bytes()),
	}
	if state := cmd.ProcessState; state != nil {
		// ExitCode is -1 when the process was terminated by a signal.
		if code := state.ExitCode(); code >= 0 {
			result.ExitCode = &code
		}
	}

	return result, nil
}

// awaitOutput waits for the output pipes to close. Once WaitDelay passes,
// processes left in the group are killed and the pipes are closed on our side.
func (r *ProcessRunner) awaitOutput(p *os.Process, out *output) {
	if r.WaitDelay <= 0 {
		<-out.done
		return
	}

	timer := time.NewTimer(r.WaitDelay)
	defer timer.Stop()

	select {
	case <-out.done:
	case <-timer.C:
		slog.Warn("build tool left processes behind", "path", r.Path)
		killProcessGroup(p)
		out.close()
		<-out.done
	}
}

// output captures the tool's standard streams through OS pipes.
type output struct {
	stdoutR, stdoutW *os.File
	stderrR, stderrW *os.File
	stdout, stderr   bytes.Buffer
	done             chan struct{}
}

func newOutput() (*output, error) {
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		_ = stdoutR.Close()
		_ = stdoutW.Close()
		return nil, err
	}
	return &output{
		stdoutR: stdoutR,
		stdoutW: stdoutW,
		stderrR: stderrR,
		stderrW: stderrW,
		done:    make(chan struct{}),
	}, nil
}

// closeWriters closes the parent's copies of the write ends
// so that the readers see EOF once the children close theirs.
func (o *output) closeWriters() {
	_ = o.stdoutW.Close()
	_ = o.stderrW.Close()
}

// drain copies both pipes into the buffers and closes done when both are drained.
func (o *output) drain() {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = o.stdout.ReadFrom(o.stdoutR)
	}()
	go func() {
		defer wg.Done()
		_, _ = o.stderr.ReadFrom(o.stderrR)
	}()
	go func() {
		wg.Wait()
		close(o.done)
	}()
}

func (o *output) close() {
	_ = o.stdoutR.Close()
	_ = o.stderrR.Close()
	o.closeWriters()
}
