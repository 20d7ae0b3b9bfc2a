package compile

import (
	"context"
	"fmt"
	"io"
	"log/slog"
)

// Serve reads one request from in, executes it and writes exactly one response line to out.
// The returned error is only about writing the response.
func Serve(ctx context.Context, in io.Reader, out io.Writer, executor *Executor) error {
	return WriteResponse(out, handle(ctx, in, executor))
}

func handle(ctx context.Context, in io.Reader, executor *Executor) (resp *Response) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("recovered from panic", "panic", r)
			resp = Failure(fmt.Sprintf("Internal worker error: %v", r))
		}
	}()

	data, err := io.ReadAll(in)
	if err != nil {
		slog.Error("didn't read request", "error", err)
		return Failure(MessageReadFailed)
	}

	req, err := ParseRequest(data)
	if err != nil {
		return failure(fmt.Sprintf("Invalid request JSON: %v", err))
	}

	return executor.Execute(ctx, req)
}
