package dafny

// format.go renders verifier results to plain text for tool responses.

import (
	"fmt"
	"sort"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// FormatVerification renders a verify response: summary line then
// diagnostics.
func FormatVerification(file string, resp *VerifyResponse) *mcp.CallToolResult {
	var sb strings.Builder
	r := resp.Result
	switch {
	case r.Crashed:
		fmt.Fprintf(&sb, "%s: verifier crashed before producing a result.\n", file)
	case r.Status == StatusVerified:
		fmt.Fprintf(&sb, "%s: verified, %d proof obligations.\n", file, r.ProofObligations)
	case r.Status == StatusNotVerified:
		fmt.Fprintf(&sb, "%s: not verified, %d error%s, %d proof obligations.\n",
			file, r.ErrorCount, plural(r.ErrorCount), r.ProofObligations)
	default:
		fmt.Fprintf(&sb, "%s: verification failed.\n", file)
	}
	FormatDiagnostics(&sb, resp.Diagnostics)
	return TextResult(strings.TrimRight(sb.String(), "\n"))
}

// FormatDiagnostics appends diagnostic output to a string builder.
func FormatDiagnostics(sb *strings.Builder, diags []Diagnostic) {
	if len(diags) == 0 {
		return
	}
	sb.WriteString("\n=== Diagnostics ===\n")
	for _, d := range diags {
		code := ""
		if d.Code != "" {
			code = " " + d.Code
		}
		fmt.Fprintf(sb, "[%s%s] line %d:%d: %s\n",
			d.Severity, code, d.Range.Start.Line+1, d.Range.Start.Character+1, d.Message)
	}
}

// FormatSymbols lists a symbol table grouped by module and class.
func FormatSymbols(file string, t *SymbolTable) *mcp.CallToolResult {
	if len(t.Symbols) == 0 {
		return TextResult("No symbols found in " + file)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "=== Symbols: %d ===\n", len(t.Symbols))
	for _, s := range t.Symbols {
		if s.Kind == SymbolCall {
			continue
		}
		scope := s.ParentClass
		if s.Module != "" && s.Module != "_module" {
			scope = s.Module + "." + scope
		}
		scope = strings.Trim(scope, ".")
		if scope != "" && scope != "_default" {
			scope += "."
		} else {
			scope = ""
		}
		fmt.Fprintf(&sb, "  L%d:%d %s %s%s", s.Position.Line+1, s.Position.Character+1, s.Kind, scope, s.Name)
		if len(s.References) > 0 {
			fmt.Fprintf(&sb, " (%d reference%s)", len(s.References), plural(len(s.References)))
		}
		sb.WriteString("\n")
	}
	return TextResult(strings.TrimRight(sb.String(), "\n"))
}

// FormatLocation renders one position the way editors print them.
func FormatLocation(file string, p Position) string {
	return fmt.Sprintf("%s:%d:%d", file, p.Line+1, p.Character+1)
}

// FormatReferences lists references to def.
func FormatReferences(file string, def *Symbol, refs []Reference) *mcp.CallToolResult {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s defined at %s\n", def.Kind, def.Name, FormatLocation(file, def.Position))
	if len(refs) == 0 {
		sb.WriteString("No references found.")
		return TextResult(sb.String())
	}
	sort.SliceStable(refs, func(i, j int) bool {
		if refs[i].Position.Line != refs[j].Position.Line {
			return refs[i].Position.Line < refs[j].Position.Line
		}
		return refs[i].Position.Character < refs[j].Position.Character
	})
	fmt.Fprintf(&sb, "=== References: %d ===\n", len(refs))
	for _, r := range refs {
		loc := FormatLocation(PathFromURI(r.URI), r.Position)
		if r.MethodName != "" {
			fmt.Fprintf(&sb, "  %s in %s\n", loc, r.MethodName)
		} else {
			fmt.Fprintf(&sb, "  %s\n", loc)
		}
	}
	return TextResult(strings.TrimRight(sb.String(), "\n"))
}

// FormatCounterModel renders each captured state and its variables.
func FormatCounterModel(file string, m *CounterModel) *mcp.CallToolResult {
	if m == nil || len(m.States) == 0 {
		return TextResult("No counterexample for " + file)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "=== Counterexample: %d state%s ===\n", len(m.States), plural(len(m.States)))
	for _, st := range m.States {
		fmt.Fprintf(&sb, "\n--- line %d", st.Position.Line+1)
		if st.Name != "" {
			fmt.Fprintf(&sb, " (%s)", st.Name)
		}
		sb.WriteString(" ---\n")
		for _, v := range st.Variables {
			name := v.RealName
			if name == "" {
				name = v.Name
			}
			fmt.Fprintf(&sb, "  %s = %s\n", name, v.Value)
		}
	}
	return TextResult(strings.TrimRight(sb.String(), "\n"))
}

// SessionStatus is a point-in-time view of a session.
type SessionStatus struct {
	State      State
	PID        int
	Version    string
	Active     string
	Pending    []string
	LastResult map[string]VerificationResult
}

// FormatStatus renders a session status.
func FormatStatus(st SessionStatus) *mcp.CallToolResult {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Server: %s\n", st.State)
	if st.PID > 0 {
		fmt.Fprintf(&sb, "PID: %d\n", st.PID)
	}
	if st.Version != "" {
		fmt.Fprintf(&sb, "Version: %s\n", st.Version)
	}
	if st.Active != "" {
		fmt.Fprintf(&sb, "Verifying: %s\n", PathFromURI(st.Active))
	}
	fmt.Fprintf(&sb, "Queue: %d\n", len(st.Pending))
	for _, uri := range st.Pending {
		fmt.Fprintf(&sb, "  %s\n", PathFromURI(uri))
	}
	if len(st.LastResult) > 0 {
		uris := make([]string, 0, len(st.LastResult))
		for uri := range st.LastResult {
			uris = append(uris, uri)
		}
		sort.Strings(uris)
		sb.WriteString("\n=== Last results ===\n")
		for _, uri := range uris {
			r := st.LastResult[uri]
			label := r.Status.String()
			if r.Crashed {
				label = "Crashed"
			}
			fmt.Fprintf(&sb, "  %s: %s (%d errors, %d proof obligations)\n",
				PathFromURI(uri), label, r.ErrorCount, r.ProofObligations)
		}
	}
	return TextResult(strings.TrimRight(sb.String(), "\n"))
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

// TextResult wraps a string in an MCP CallToolResult.
func TextResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

// ErrResult wraps an error in an MCP CallToolResult.
func ErrResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			&mcp.TextContent{Text: err.Error()},
		},
	}
}
