package compile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/k11v/latexworker/internal/run"
)

// ToolName is the build tool named in response messages.
const ToolName = "latexmk"

const (
	MessageReadFailed = "Failed to read stdin."
	MessageTimedOut   = "Compilation timed out."
	MessageNoPDF      = ToolName + " failed to produce a PDF."
)

// Args returns the fixed build tool arguments for mainFile.
func Args(buildDir, mainFile string) []string {
	return []string{
		"-pdf",
		"-interaction=nonstopmode",
		"-halt-on-error",
		"-file-line-error",
		"-output-directory",
		buildDir,
		mainFile,
	}
}

// Executor compiles a single request.
type Executor struct {
	Runner run.Runner // required
}

// Execute runs the build tool for req and classifies the outcome.
// Every failure is reported in the returned response.
func (e *Executor) Execute(ctx context.Context, req *Request) *Response {
	// Relative paths are resolved against the worker's working directory, not the project root.
	buildDir, err := filepath.Abs(req.BuildDir)
	if err != nil {
		return failure(fmt.Sprintf("Failed to create build directory: %v", err))
	}
	projectRoot, err := filepath.Abs(req.ProjectRoot)
	if err != nil {
		return failure(fmt.Sprintf("Failed to launch %s: %v", ToolName, err))
	}

	if err = os.MkdirAll(buildDir, 0o777); err != nil {
		return failure(fmt.Sprintf("Failed to create build directory: %v", err))
	}

	slog.Info(
		"compiling",
		"project_root", projectRoot,
		"main_file", req.MainFile,
		"build_dir", buildDir,
		"timeout", req.Timeout(),
	)
	start := time.Now()
	result, err := e.Runner.Run(ctx, &run.Params{
		Args:      Args(buildDir, req.MainFile),
		Dir:       projectRoot,
		OutputDir: buildDir,
		Timeout:   req.Timeout(),
	})
	if err != nil {
		var runErr *run.Error
		if errors.As(err, &runErr) && runErr.Op == run.OpWait {
			return failure(fmt.Sprintf("Failed while waiting for compile process: %v", runErr.Err))
		}
		if runErr != nil {
			err = runErr.Err
		}
		return failure(fmt.Sprintf("Failed to launch %s: %v", ToolName, err))
	}
	exitCode := -1 // none
	if result.ExitCode != nil {
		exitCode = *result.ExitCode
	}
	slog.Info(
		"ran build tool",
		"exit_code", exitCode,
		"timed_out", result.TimedOut,
		"duration", time.Since(start),
	)

	resp := classify(result, buildDir, req.MainFile)
	if resp.Error != nil {
		slog.Warn("didn't compile", "error", *resp.Error)
	}
	return resp
}

// classify builds the response from a finished run and the artifacts on disk.
func classify(result *run.Result, buildDir, mainFile string) *Response {
	pdfFile, logFile := Artifacts(buildDir, mainFile)

	resp := &Response{
		TimedOut: result.TimedOut,
		ExitCode: result.ExitCode,
		Stdout:   result.Stdout,
		Stderr:   result.Stderr,
	}
	if log := statArtifact(logFile); log != nil {
		resp.LogPath = &log.Path
		resp.LogBytes = &log.Size
	}

	if result.TimedOut {
		resp.Error = ptr(MessageTimedOut)
		return resp
	}

	if result.ExitCode != nil && *result.ExitCode == 0 {
		if pdf := statArtifact(pdfFile); pdf != nil {
			resp.Success = true
			resp.PDFPath = &pdf.Path
			resp.PDFBytes = &pdf.Size
			return resp
		}
	}

	resp.Error = ptr(MessageNoPDF)
	return resp
}

func failure(message string) *Response {
	slog.Error("didn't compile", "error", message)
	return Failure(message)
}

func ptr[T any](v T) *T {
	return &v
}
