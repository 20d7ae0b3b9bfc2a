package compile

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
)

// Response is the single result written to the worker's standard output.
// Absent optional fields are encoded as null.
type Response struct {
	Success  bool    `json:"success"`
	TimedOut bool    `json:"timedOut"`
	ExitCode *int    `json:"exitCode"`
	Stdout   string  `json:"stdout"`
	Stderr   string  `json:"stderr"`
	PDFPath  *string `json:"pdfPath"`
	LogPath  *string `json:"logPath"`
	PDFBytes *int64  `json:"pdfBytes"`
	LogBytes *int64  `json:"logBytes"`
	Error    *string `json:"error"`
}

// Failure returns an unsuccessful response carrying only message.
func Failure(message string) *Response {
	return &Response{Error: &message}
}

// fallbackResponse is written when a response can't be encoded.
const fallbackResponse = "{}\n"

// WriteResponse writes resp to w as one line of JSON.
// If resp can't be encoded, it writes an empty object instead.
func WriteResponse(w io.Writer, resp *Response) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(resp); err != nil {
		slog.Error("didn't encode response", "error", err)
		buf.Reset()
		buf.WriteString(fallbackResponse)
	}

	_, err := w.Write(buf.Bytes())
	return err
}
