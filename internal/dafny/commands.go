package dafny

// commands.go implements the inbound operations exposed as MCP tools:
// verify, symbol queries, rename, counterexample, version, and lifecycle.

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// DoVerify reads file from disk and verifies it.
func DoVerify(ctx context.Context, s *Session, file string) (*mcp.CallToolResult, any, error) {
	doc, err := s.Sync(file)
	if err != nil {
		return ErrResult(err), nil, nil
	}
	ctx, cancel := s.requestContext(ctx)
	defer cancel()

	resp, err := s.Server.Verify(ctx, doc.URI, doc.Content)
	if err != nil {
		return ErrResult(err), nil, nil
	}
	return FormatVerification(file, resp), nil, nil
}

// DoSymbols lists the symbols of file.
func DoSymbols(ctx context.Context, s *Session, file string) (*mcp.CallToolResult, any, error) {
	doc, table, err := symbolsFor(ctx, s, file)
	if err != nil {
		return ErrResult(err), nil, nil
	}
	return FormatSymbols(doc.Path, table), nil, nil
}

// DoDefinition resolves the identifier at line:col to its declaration.
func DoDefinition(ctx context.Context, s *Session, file string, line, col int) (*mcp.CallToolResult, any, error) {
	doc, table, err := symbolsFor(ctx, s, file)
	if err != nil {
		return ErrResult(err), nil, nil
	}
	def, err := lookup(doc, table, Position{Line: line, Character: col})
	if err != nil {
		return ErrResult(err), nil, nil
	}
	text := fmt.Sprintf("%s %s defined at %s", def.Kind, def.Name, FormatLocation(doc.Path, def.Position))
	if def.ParentClass != "" && def.ParentClass != "_default" {
		text += " in class " + def.ParentClass
	}
	return TextResult(text), nil, nil
}

// DoReferences lists every use of the identifier at line:col.
func DoReferences(ctx context.Context, s *Session, file string, line, col int) (*mcp.CallToolResult, any, error) {
	doc, table, err := symbolsFor(ctx, s, file)
	if err != nil {
		return ErrResult(err), nil, nil
	}
	def, err := lookup(doc, table, Position{Line: line, Character: col})
	if err != nil {
		return ErrResult(err), nil, nil
	}
	return FormatReferences(doc.Path, def, table.References(def)), nil, nil
}

// DoRename computes the edits renaming the identifier at line:col to
// newName. With apply set the file is rewritten and re-read.
func DoRename(ctx context.Context, s *Session, file string, line, col int, newName string, apply bool) (*mcp.CallToolResult, any, error) {
	if !ValidIdentifier(newName) {
		return ErrResult(fmt.Errorf("invalid identifier %q", newName)), nil, nil
	}
	doc, table, err := symbolsFor(ctx, s, file)
	if err != nil {
		return ErrResult(err), nil, nil
	}
	pos := Position{Line: line, Character: col}
	def, err := lookup(doc, table, pos)
	if err != nil {
		return ErrResult(err), nil, nil
	}
	if def.Name == newName {
		return TextResult("Nothing to rename."), nil, nil
	}

	sites := RenameSites(doc.Content, table, def, pos)
	var sb strings.Builder
	fmt.Fprintf(&sb, "Rename %s -> %s: %d edit%s\n", def.Name, newName, len(sites), plural(len(sites)))
	for _, p := range sites {
		fmt.Fprintf(&sb, "  %s\n", FormatLocation(doc.Path, p))
	}

	if apply && len(sites) > 0 {
		updated := ApplyRename(doc.Content, def.Name, newName, sites)
		info, err := os.Stat(doc.Path)
		if err != nil {
			return ErrResult(err), nil, nil
		}
		if err := os.WriteFile(doc.Path, []byte(updated), info.Mode().Perm()); err != nil {
			return ErrResult(fmt.Errorf("write file: %w", err)), nil, nil
		}
		if _, err := s.Sync(doc.Path); err != nil {
			return ErrResult(err), nil, nil
		}
		sb.WriteString("Applied.")
	}
	return TextResult(strings.TrimRight(sb.String(), "\n")), nil, nil
}

// DoCounterExample asks the verifier for a counterexample of file.
func DoCounterExample(ctx context.Context, s *Session, file string) (*mcp.CallToolResult, any, error) {
	doc, err := s.Sync(file)
	if err != nil {
		return ErrResult(err), nil, nil
	}
	ctx, cancel := s.requestContext(ctx)
	defer cancel()

	model, err := s.Server.CounterExample(ctx, doc.URI, doc.Content)
	if err != nil {
		return ErrResult(err), nil, nil
	}
	return FormatCounterModel(file, model), nil, nil
}

// DoVersion reports the verifier version; with check set it also asks
// whether an update is necessary.
func DoVersion(ctx context.Context, s *Session, check bool) (*mcp.CallToolResult, any, error) {
	ctx, cancel := s.requestContext(ctx)
	defer cancel()

	info, err := s.Server.Version(ctx)
	if err != nil {
		return ErrResult(err), nil, nil
	}
	if info.Failed {
		return ErrResult(errors.New("verifier could not report its version")), nil, nil
	}
	text := "Dafny " + info.Version
	if check {
		ci, err := s.Server.VersionCheck(ctx)
		if err != nil {
			return ErrResult(err), nil, nil
		}
		if ci.UpdateNecessary {
			text += " (update necessary)"
		} else {
			text += " (up to date)"
		}
	}
	return TextResult(text), nil, nil
}

// DoStatus reports the supervisor state and queue.
func DoStatus(s *Session) (*mcp.CallToolResult, any, error) {
	return FormatStatus(s.Status()), nil, nil
}

// DoReset restarts the verifier, discarding queued requests.
func DoReset(ctx context.Context, s *Session) (*mcp.CallToolResult, any, error) {
	if err := s.Server.Reset(ctx); err != nil {
		return ErrResult(err), nil, nil
	}
	return TextResult(fmt.Sprintf("Dafny server restarted (pid %d).", s.Server.Context().Pid())), nil, nil
}

// DoStop stops the verifier until the next reset.
func DoStop(ctx context.Context, s *Session) (*mcp.CallToolResult, any, error) {
	if err := s.Server.Stop(ctx); err != nil {
		return ErrResult(err), nil, nil
	}
	return TextResult("Dafny server stopped."), nil, nil
}

func symbolsFor(ctx context.Context, s *Session, file string) (*Document, *SymbolTable, error) {
	doc, err := s.Sync(file)
	if err != nil {
		return nil, nil, err
	}
	ctx, cancel := s.requestContext(ctx)
	defer cancel()
	table, err := s.Server.Symbols(ctx, doc.URI, doc.Content)
	if err != nil {
		return nil, nil, err
	}
	return doc, table, nil
}

func lookup(doc *Document, table *SymbolTable, pos Position) (*Symbol, error) {
	word, _, ok := WordAt(doc.Content, pos)
	if !ok {
		return nil, fmt.Errorf("no identifier at %s", FormatLocation(doc.Path, pos))
	}
	def := table.Definition(word, pos)
	if def == nil {
		return nil, fmt.Errorf("no definition found for %s", word)
	}
	return def, nil
}

var identFullRe = regexp.MustCompile(`^` + identRe.String() + `$`)

// ValidIdentifier reports whether name can replace an identifier.
func ValidIdentifier(name string) bool {
	return identFullRe.MatchString(name)
}

// RenameSites returns the start of every occurrence of def.Name that a rename
// must touch: the declaration, its references, and the identifier at pos.
// Positions whose text is not def.Name are dropped.
func RenameSites(source string, table *SymbolTable, def *Symbol, pos Position) []Position {
	candidates := []Position{def.Position, pos}
	for _, r := range table.References(def) {
		if r.URI == "" || r.URI == table.URI {
			candidates = append(candidates, r.Position)
		}
	}

	seen := make(map[Position]bool)
	var sites []Position
	for _, c := range candidates {
		word, start, ok := WordAt(source, c)
		if !ok || word != def.Name {
			continue
		}
		p := Position{Line: c.Line, Character: start}
		if seen[p] {
			continue
		}
		seen[p] = true
		sites = append(sites, p)
	}
	sort.Slice(sites, func(i, j int) bool {
		if sites[i].Line != sites[j].Line {
			return sites[i].Line < sites[j].Line
		}
		return sites[i].Character < sites[j].Character
	})
	return sites
}

// ApplyRename replaces oldName with newName at each site.
func ApplyRename(source, oldName, newName string, sites []Position) string {
	lines := strings.Split(source, "\n")
	ordered := append([]Position(nil), sites...)
	// Right to left within a line keeps earlier columns valid.
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Line != ordered[j].Line {
			return ordered[i].Line < ordered[j].Line
		}
		return ordered[i].Character > ordered[j].Character
	})
	for _, p := range ordered {
		if p.Line < 0 || p.Line >= len(lines) {
			continue
		}
		line := lines[p.Line]
		start, ok := byteOffset(line, p.Character)
		end := start + len(oldName)
		if !ok || end > len(line) || line[start:end] != oldName {
			continue
		}
		lines[p.Line] = line[:start] + newName + line[end:]
	}
	return strings.Join(lines, "\n")
}
