package dafny

// wire.go implements the line-oriented verifier protocol: the task descriptor,
// its base64 encoding, and message terminators.

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

const (
	// ClientEOM ends every request written to the verifier.
	ClientEOM = "[[DAFNY-CLIENT: EOM]]"
	// ServerEOM ends every response the verifier writes.
	ServerEOM = "[[DAFNY-SERVER: EOM]]"

	successMarker = "[SUCCESS]"
	failureMarker = "[FAILURE]"
)

// Verb is the operation requested of the verifier.
type Verb string

const (
	VerbVerify         Verb = "verify"
	VerbSymbols        Verb = "symbols"
	VerbCounterExample Verb = "counterExample"
	VerbVersion        Verb = "version"
	VerbVersionCheck   Verb = "versioncheck"
	VerbDotGraph       Verb = "dotgraph"
	VerbQuit           Verb = "quit"
)

// TaskDescriptor is the JSON document sent as the request line.
type TaskDescriptor struct {
	Args         []string `json:"args"`
	Filename     string   `json:"filename"`
	Source       string   `json:"source"`
	SourceIsFile bool     `json:"sourceIsFile"`
}

// EncodeTask serializes t as a single base64 line, so embedded newlines in the
// source never reach the wire.
func EncodeTask(t TaskDescriptor) (string, error) {
	if t.Args == nil {
		t.Args = []string{}
	}
	data, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("marshal task: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeTask reverses EncodeTask.
func DecodeTask(line string) (TaskDescriptor, error) {
	var t TaskDescriptor
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(line))
	if err != nil {
		return t, fmt.Errorf("decode base64: %w", err)
	}
	if err := json.Unmarshal(data, &t); err != nil {
		return t, fmt.Errorf("unmarshal task: %w", err)
	}
	return t, nil
}

// writeLine writes s followed by a newline as one Write call.
func writeLine(w io.Writer, s string) error {
	_, err := io.WriteString(w, s+"\n")
	return err
}

// sliceMessage returns the text before the server terminator.
func sliceMessage(buf string) (string, bool) {
	i := strings.Index(buf, ServerEOM)
	if i < 0 {
		return "", false
	}
	return buf[:i], true
}

// succeeded reports whether a response carries the success marker and no
// failure marker.
func succeeded(log string) bool {
	return strings.Contains(log, successMarker) && !strings.Contains(log, failureMarker)
}

// extractBetween returns the text between start and end markers.
func extractBetween(log, start, end string) (string, bool) {
	i := strings.Index(log, start)
	if i < 0 {
		return "", false
	}
	rest := log[i+len(start):]
	j := strings.Index(rest, end)
	if j < 0 {
		return "", false
	}
	return rest[:j], true
}
