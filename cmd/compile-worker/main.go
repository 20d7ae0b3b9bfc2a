// Command compile-worker compiles one LaTeX project per invocation.
//
// It reads a JSON request from standard input, runs latexmk under a deadline
// and writes one JSON response line to standard output.
// The exit code doesn't describe the compilation, the response does.
// Logs go to standard error.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/docker/docker/client"
	"github.com/google/uuid"

	"github.com/k11v/latexworker/internal/compile"
	"github.com/k11v/latexworker/internal/run"
)

func main() {
	run := func() int {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg, err := parseConfig(os.Environ())
		if err != nil {
			return writeConfigFailure(os.Stdout, err)
		}
		slog.SetDefault(newLogger(os.Stderr, cfg).With("invocation_id", uuid.New()))

		runner, closeRunner, err := newRunner(cfg)
		if err != nil {
			return writeConfigFailure(os.Stdout, err)
		}
		defer closeRunner()

		executor := &compile.Executor{Runner: runner}
		if err = compile.Serve(ctx, os.Stdin, os.Stdout, executor); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}

		return 0
	}
	os.Exit(run())
}

// writeConfigFailure reports an unusable worker environment as the response.
func writeConfigFailure(w io.Writer, err error) int {
	slog.Error("invalid configuration", "error", err)
	resp := compile.Failure(fmt.Sprintf("Invalid worker configuration: %v", err))
	if err = compile.WriteResponse(w, resp); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func newLogger(w io.Writer, cfg *config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	if cfg.Development {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func newRunner(cfg *config) (runner run.Runner, closeFunc func(), err error) {
	switch cfg.runtime() {
	case runtimeDocker:
		cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			return nil, nil, err
		}
		closeFunc = func() {
			if err := cli.Close(); err != nil {
				slog.Error("didn't close docker client", "error", err)
			}
		}
		return &run.DockerRunner{
			Client: cli,
			Image:  cfg.DockerImage,
			Tool:   cfg.latexmkPath(),
			User:   fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid()),
		}, closeFunc, nil
	default:
		return &run.ProcessRunner{
			Path:      cfg.latexmkPath(),
			WaitDelay: cfg.killGrace(),
		}, func() {}, nil
	}
}
