package compile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"time"
)

// Request is a compilation request read from the worker's standard input.
type Request struct {
	ProjectRoot string // working directory of the build tool
	MainFile    string // absolute or relative to ProjectRoot
	BuildDir    string // created if absent
	TimeoutMs   uint64
}

// Timeout returns TimeoutMs as a duration, saturating instead of overflowing.
func (r *Request) Timeout() time.Duration {
	const maxMs = math.MaxInt64 / uint64(time.Millisecond)
	if r.TimeoutMs > maxMs {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(r.TimeoutMs) * time.Millisecond
}

// ParseRequest parses data as a single JSON object with all Request fields present.
// Unknown fields are ignored.
func ParseRequest(data []byte) (*Request, error) {
	type message struct {
		ProjectRoot *string `json:"projectRoot"`
		MainFile    *string `json:"mainFile"`
		BuildDir    *string `json:"buildDir"`
		TimeoutMs   *uint64 `json:"timeoutMs"`
	}

	var msg message
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&msg); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("multiple top-level values")
	}

	if msg.ProjectRoot == nil {
		return nil, fmt.Errorf("missing %s field", "projectRoot")
	}
	if msg.MainFile == nil {
		return nil, fmt.Errorf("missing %s field", "mainFile")
	}
	if msg.BuildDir == nil {
		return nil, fmt.Errorf("missing %s field", "buildDir")
	}
	if msg.TimeoutMs == nil {
		return nil, fmt.Errorf("missing %s field", "timeoutMs")
	}

	return &Request{
		ProjectRoot: *msg.ProjectRoot,
		MainFile:    *msg.MainFile,
		BuildDir:    *msg.BuildDir,
		TimeoutMs:   *msg.TimeoutMs,
	}, nil
}
