package dafny

// symbols.go parses the SYMBOLS_START ... SYMBOLS_END payload into a symbol
// table and answers definition/reference lookups against it.

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	symbolsStart = "SYMBOLS_START "
	symbolsEnd   = " SYMBOLS_END"
)

// ContentHash identifies a document revision for symbol cache invalidation.
func ContentHash(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}

// looseInt decodes a JSON number or numeric string. Anything else leaves
// Valid false instead of failing the surrounding decode.
type looseInt struct {
	N     int
	Valid bool
}

func (l *looseInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	s := string(data)
	if unq, err := strconv.Unquote(s); err == nil {
		s = unq
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return nil
	}
	l.N, l.Valid = n, true
	return nil
}

type rawReference struct {
	MethodName string   `json:"MethodName"`
	Loc        string   `json:"Loc"`
	Line       looseInt `json:"Line"`
	Column     looseInt `json:"Column"`
}

type rawSymbol struct {
	Name        string         `json:"Name"`
	Module      string         `json:"Module"`
	ParentClass string         `json:"ParentClass"`
	SymbolType  string         `json:"SymbolType"`
	Call        string         `json:"Call"`
	Line        looseInt       `json:"Line"`
	Column      looseInt       `json:"Column"`
	EndLine     looseInt       `json:"EndLine"`
	EndColumn   looseInt       `json:"EndColumn"`
	References  []rawReference `json:"References"`
}

// ParseSymbolTable extracts the symbol table from a symbols response. A log
// without the success marker, or without the delimiters, yields an empty
// table: files with syntax errors simply have no symbols.
func ParseSymbolTable(log, uri string) *SymbolTable {
	table := &SymbolTable{URI: uri, Symbols: []Symbol{}}
	if !succeeded(log) {
		return table
	}
	payload, ok := extractBetween(log, symbolsStart, symbolsEnd)
	if !ok {
		return table
	}

	var entries []json.RawMessage
	if err := json.Unmarshal([]byte(payload), &entries); err != nil {
		slog.Warn("malformed symbol payload", slog.String("uri", uri), slog.String("error", err.Error()))
		return table
	}
	for _, e := range entries {
		var raw rawSymbol
		if err := json.Unmarshal(e, &raw); err != nil {
			continue
		}
		if sym, ok := raw.toSymbol(uri); ok {
			table.Symbols = append(table.Symbols, sym)
		}
	}
	return table
}

// toSymbol applies the validity filter: numeric position and a non-empty name.
func (r rawSymbol) toSymbol(uri string) (Symbol, bool) {
	if !r.Line.Valid || !r.Column.Valid || r.Name == "" {
		return Symbol{}, false
	}
	sym := Symbol{
		Position:    Position{Line: clampOneBased(r.Line.N), Character: clampOneBased(r.Column.N)},
		Name:        r.Name,
		Module:      r.Module,
		ParentClass: r.ParentClass,
		Kind:        parseSymbolKind(r.SymbolType),
		Call:        r.Call,
	}
	if sym.Kind == SymbolClass && r.EndLine.Valid && r.EndColumn.Valid {
		sym.End = &Position{Line: clampOneBased(r.EndLine.N), Character: clampOneBased(r.EndColumn.N)}
	}
	for _, ref := range r.References {
		if !ref.Line.Valid || !ref.Column.Valid {
			continue
		}
		sym.References = append(sym.References, Reference{
			Position:   Position{Line: clampOneBased(ref.Line.N), Character: clampOneBased(ref.Column.N)},
			MethodName: ref.MethodName,
			URI:        uri,
		})
	}
	return sym, true
}

func clampOneBased(n int) int {
	if n < 1 {
		return 0
	}
	return n - 1
}

// identRe matches a Dafny identifier.
var identRe = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_'?]*`)

// WordAt returns the identifier under pos in source and the column it starts
// at. Columns count characters, not bytes.
func WordAt(source string, pos Position) (string, int, bool) {
	lines := strings.Split(source, "\n")
	if pos.Line < 0 || pos.Line >= len(lines) {
		return "", 0, false
	}
	line := strings.TrimRight(lines[pos.Line], "\r")
	off, ok := byteOffset(line, pos.Character)
	if !ok {
		return "", 0, false
	}
	for _, loc := range identRe.FindAllStringIndex(line, -1) {
		if off >= loc[0] && off <= loc[1] {
			return line[loc[0]:loc[1]], utf8.RuneCountInString(line[:loc[0]]), true
		}
	}
	return "", 0, false
}

// byteOffset converts a character column on line to a byte offset. The
// column just past the last character is valid.
func byteOffset(line string, col int) (int, bool) {
	if col < 0 {
		return 0, false
	}
	n := 0
	for i := range line {
		if n == col {
			return i, true
		}
		n++
	}
	if n == col {
		return len(line), true
	}
	return 0, false
}

// EnclosingClass returns the class whose body contains pos, or nil.
func (t *SymbolTable) EnclosingClass(pos Position) *Symbol {
	for i := range t.Symbols {
		s := &t.Symbols[i]
		if s.Kind == SymbolClass && s.Contains(pos) {
			return s
		}
	}
	return nil
}

// Definition finds the declaration of name, preferring members of the class
// enclosing pos. Call sites never count as definitions.
func (t *SymbolTable) Definition(name string, pos Position) *Symbol {
	var fallback *Symbol
	class := t.EnclosingClass(pos)
	for i := range t.Symbols {
		s := &t.Symbols[i]
		if s.Name != name || s.Kind == SymbolCall {
			continue
		}
		if class != nil && s.ParentClass == class.Name {
			return s
		}
		if fallback == nil {
			fallback = s
		}
	}
	return fallback
}

// References returns every use of the symbol declared as def, including the
// call sites recorded as their own symbols.
func (t *SymbolTable) References(def *Symbol) []Reference {
	refs := append([]Reference{}, def.References...)
	for _, s := range t.Symbols {
		if s.Kind == SymbolCall && (s.Name == def.Name || s.Call == def.Name) {
			refs = append(refs, Reference{Position: s.Position, MethodName: s.Name, URI: t.URI})
		}
	}
	return refs
}
