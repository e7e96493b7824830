package dafny

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resultText(r *mcp.CallToolResult) string {
	if r == nil {
		return "<nil>"
	}
	var parts []string
	for _, c := range r.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// renameSource is both the document and, through the fake verifier, its own
// symbols response.
const renameSource = "method Foo() {}\n" +
	"method Bar() { Foo(); }\n" +
	`// [SUCCESS] SYMBOLS_START [{"Name":"Foo","Module":"_module","ParentClass":"_default","SymbolType":"Method","Line":"1","Column":"8",` +
	`"References":[{"MethodName":"Bar","Loc":"a.dfy","Line":"2","Column":"16"}]},` +
	`{"Name":"Bar","Module":"_module","ParentClass":"_default","SymbolType":"Method","Line":"2","Column":"8"}] SYMBOLS_END` + "\n"

func newTestSession(t *testing.T) *Session {
	t.Helper()
	s := NewSession(fakeSettings(t, ""), &Recorder{})
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Start(context.Background()))
	return s
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDoVerify(t *testing.T) {
	s := newTestSession(t)
	path := writeFile(t, "a.dfy", literalLog)

	res, _, err := DoVerify(context.Background(), s, path)
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(res))

	text := resultText(res)
	assert.Contains(t, text, "not verified, 1 error, 2 proof obligations")
	assert.Contains(t, text, "[error] line 3:5: assertion violation")
}

func TestDoVerifyMissingFile(t *testing.T) {
	s := newTestSession(t)
	res, _, err := DoVerify(context.Background(), s, filepath.Join(t.TempDir(), "missing.dfy"))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestDoSymbols(t *testing.T) {
	s := newTestSession(t)
	path := writeFile(t, "a.dfy", renameSource)

	res, _, err := DoSymbols(context.Background(), s, path)
	require.NoError(t, err)
	text := resultText(res)
	assert.Contains(t, text, "=== Symbols: 2 ===")
	assert.Contains(t, text, "L1:8 Method Foo (1 reference)")
}

func TestDoDefinitionAndReferences(t *testing.T) {
	s := newTestSession(t)
	path := writeFile(t, "a.dfy", renameSource)
	ctx := context.Background()

	// Cursor on the call site Foo() in Bar.
	res, _, err := DoDefinition(ctx, s, path, 1, 16)
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(res))
	assert.Contains(t, resultText(res), "Method Foo defined at "+path+":1:8")

	res, _, err = DoReferences(ctx, s, path, 0, 8)
	require.NoError(t, err)
	text := resultText(res)
	assert.Contains(t, text, "=== References: 1 ===")
	assert.Contains(t, text, path+":2:16 in Bar")

	res, _, err = DoDefinition(ctx, s, path, 0, 3)
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestDoRename(t *testing.T) {
	s := newTestSession(t)
	path := writeFile(t, "a.dfy", renameSource)
	ctx := context.Background()

	res, _, err := DoRename(ctx, s, path, 0, 8, "Baz", false)
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(res))
	assert.Contains(t, resultText(res), "Rename Foo -> Baz: 2 edits")

	unchanged, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, renameSource, string(unchanged))

	res, _, err = DoRename(ctx, s, path, 0, 8, "Baz", true)
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(res))

	updated, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(string(updated), "\n")
	assert.Equal(t, "method Baz() {}", lines[0])
	assert.Equal(t, "method Bar() { Baz(); }", lines[1])
	// The payload comment is not a rename site.
	assert.Contains(t, lines[2], `"Name":"Foo"`)
}

func TestDoRenameRejectsBadIdentifier(t *testing.T) {
	s := newTestSession(t)
	path := writeFile(t, "a.dfy", renameSource)
	res, _, err := DoRename(context.Background(), s, path, 0, 8, "1bad", false)
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestDoCounterExample(t *testing.T) {
	s := newTestSession(t)
	path := writeFile(t, "a.dfy",
		`[SUCCESS] COUNTEREXAMPLE_START {"States":[{"Name":"init","Line":"2","Column":"1","Variables":[{"Name":"x","Value":"0","RealName":"x"}]}]} COUNTEREXAMPLE_END`)

	res, _, err := DoCounterExample(context.Background(), s, path)
	require.NoError(t, err)
	text := resultText(res)
	assert.Contains(t, text, "=== Counterexample: 1 state ===")
	assert.Contains(t, text, "x = 0")
}

func TestDoVersion(t *testing.T) {
	s := newTestSession(t)
	res, _, err := DoVersion(context.Background(), s, true)
	require.NoError(t, err)
	assert.Equal(t, "Dafny "+fakeVersion+" (update necessary)", resultText(res))
}

func TestDoStatusResetStop(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()

	res, _, _ := DoStatus(s)
	assert.Contains(t, resultText(res), "Server: Idle")

	res, _, err := DoReset(ctx, s)
	require.NoError(t, err)
	assert.Contains(t, resultText(res), "Dafny server restarted")

	res, _, err = DoStop(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, "Dafny server stopped.", resultText(res))

	res, _, _ = DoStatus(s)
	assert.Contains(t, resultText(res), "Server: Stopped")

	path := writeFile(t, "a.dfy", "")
	res, _, _ = DoVerify(ctx, s, path)
	assert.True(t, res.IsError)
}

func TestSessionDocumentChangedQueuesVerify(t *testing.T) {
	settings := fakeSettings(t, "")
	settings.AutomaticVerification = true
	rec := &Recorder{}
	s := NewSession(settings, rec)
	defer s.Close()
	require.NoError(t, s.Start(context.Background()))

	path := writeFile(t, "a.dfy", literalLog)
	s.DocumentChanged(path)

	require.Eventually(t, func() bool {
		return rec.Count(KindVerificationResult) == 1
	}, testTimeout, pollInterval)
	r := s.Server.Context().Result(FileURI(path))
	require.NotNil(t, r)
	assert.Equal(t, 1, r.Result.ErrorCount)

	s.Forget(path)
	assert.Nil(t, s.Server.Context().Result(FileURI(path)))
}

func TestSessionSyncBumpsVersionOnChange(t *testing.T) {
	s := NewSession(fakeSettings(t, ""), &Recorder{})
	defer s.Close()
	path := writeFile(t, "a.dfy", "one")

	d1, err := s.Sync(path)
	require.NoError(t, err)
	d2, err := s.Sync(path)
	require.NoError(t, err)
	assert.Equal(t, d1.Version, d2.Version)

	require.NoError(t, os.WriteFile(path, []byte("two"), 0o644))
	d3, err := s.Sync(path)
	require.NoError(t, err)
	assert.Equal(t, d1.Version+1, d3.Version)
	assert.Equal(t, "two", d3.Content)
}

func TestApplyRenameSkipsMismatchedSites(t *testing.T) {
	src := "var ab := a;\nab := ab + 1;"
	sites := []Position{{0, 4}, {1, 0}, {1, 6}, {1, 20}}
	got := ApplyRename(src, "ab", "xyz", sites)
	assert.Equal(t, "var xyz := a;\nxyz := xyz + 1;", got)
}

func TestApplyRenameAfterNonASCII(t *testing.T) {
	src := "var s := \"äö\"; var ab := 1;\nab := ab;"
	sites := []Position{{0, 19}, {1, 0}, {1, 6}}
	got := ApplyRename(src, "ab", "xyz", sites)
	assert.Equal(t, "var s := \"äö\"; var xyz := 1;\nxyz := xyz;", got)
}

func TestFileURIRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "with space.dfy")
	uri := FileURI(path)
	assert.True(t, strings.HasPrefix(uri, "file://"))
	assert.Equal(t, path, PathFromURI(uri))
	assert.Equal(t, "untitled:1", PathFromURI("untitled:1"))
}
