package run

import (
	"golang.org/x/text/encoding/unicode"
)

// decodeText converts captured output to a string, replacing invalid UTF-8
// sequences with U+FFFD.
func decodeText(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	s, err := unicode.UTF8.NewDecoder().Bytes(b)
	if err != nil {
		// The replacing decoder does not fail on invalid input.
		return string(b)
	}
	return string(s)
}
