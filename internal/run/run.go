package run

import (
	"context"
	"fmt"
	"time"
)

// Runner runs a build tool to completion or until its deadline.
type Runner interface {
	Run(ctx context.Context, params *Params) (*Result, error)
}

type Params struct {
	Args      []string      // required, passed to the tool as is
	Dir       string        // required, working directory of the tool
	OutputDir string        // required, directory the tool writes artifacts into
	Timeout   time.Duration // zero means the deadline has already elapsed
}

type Result struct {
	ExitCode *int // nil if the tool never exited normally
	TimedOut bool
	Stdout   string
	Stderr   string
}

type Op string

const (
	OpStart Op = "start"
	OpWait  Op = "wait"
)

// Error reports a failure to start or wait for the tool.
// It is not returned for non-zero exit codes or timeouts, which are described by Result.
type Error struct {
	Op  Op
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("run %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
