package dafny

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/sanjit/dafny-mcp/internal/config"
)

// The verifier is faked by re-running the test binary with
// GO_WANT_HELPER_PROCESS set. The fake echoes the task source back as the
// response log, so each test controls the exact output it gets. Sources
// starting with a directive change behavior:
//
//	!crash          exit without answering
//	!sleep <ms>     wait before answering with the rest of the source
//
// The dotgraph verb answers with the decoded task as JSON, and version
// answers with a fixed version string.
//
// FAKE_DAFNY_MODE selects startup behavior: "exit" dies immediately,
// "unsolicited" writes a terminated message before any request, and
// "closestdin" stops reading.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	runFakeVerifier(os.Stdin, os.Stdout, os.Getenv("FAKE_DAFNY_MODE"))
	os.Exit(0)
}

const fakeVersion = "3.0.0.20820"

func runFakeVerifier(in *os.File, out io.Writer, mode string) {
	switch mode {
	case "exit":
		os.Exit(1)
	case "unsolicited":
		fmt.Fprintf(out, "stray output\n%s\n", ServerEOM)
	case "closestdin":
		in.Close()
		time.Sleep(time.Minute)
		return
	}

	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 1024*1024), 16*1024*1024)
	var lines []string
	for sc.Scan() {
		line := sc.Text()
		if line != ClientEOM {
			lines = append(lines, line)
			continue
		}
		if len(lines) < 2 {
			lines = nil
			continue
		}
		verb, payload := lines[len(lines)-2], lines[len(lines)-1]
		lines = nil

		task, err := DecodeTask(payload)
		if err != nil {
			fmt.Fprintf(out, "[FAILURE] %v\n%s\n", err, ServerEOM)
			continue
		}
		fmt.Fprintf(out, "%s\n%s\n", fakeAnswer(Verb(verb), task), ServerEOM)
	}
}

func fakeAnswer(verb Verb, task TaskDescriptor) string {
	switch verb {
	case VerbVersion:
		return "VERSION:" + fakeVersion + "\n" + successMarker
	case VerbVersionCheck:
		return "UPDATE_NECESSARY"
	case VerbDotGraph:
		data, _ := json.Marshal(task)
		return string(data)
	}

	src := task.Source
	switch {
	case strings.HasPrefix(src, "!crash"):
		os.Exit(3)
	case strings.HasPrefix(src, "!sleep "):
		head, rest, _ := strings.Cut(strings.TrimPrefix(src, "!sleep "), "\n")
		ms, _ := strconv.Atoi(strings.TrimSpace(head))
		time.Sleep(time.Duration(ms) * time.Millisecond)
		src = rest
	}
	return src
}

// fakeSettings points the supervisor at the helper process.
func fakeSettings(t *testing.T, mode string) config.Settings {
	t.Helper()
	t.Setenv("GO_WANT_HELPER_PROCESS", "1")
	t.Setenv("FAKE_DAFNY_MODE", mode)

	s := config.DefaultSettings()
	s.ServerPath = os.Args[0]
	s.ServerArgs = []string{"-test.run=^TestHelperProcess$"}
	s.RetryDelay = 10 * time.Millisecond
	s.RequestTimeout = 20 * time.Second
	s.AutomaticVerification = false
	return s
}

const (
	testTimeout  = 10 * time.Second
	pollInterval = 10 * time.Millisecond
)
