package dafny

// types.go holds shared domain types: positions, diagnostics, results, and symbols.

import "fmt"

// Position is a zero-based line/character pair.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Severity follows LSP numbering.
type Severity int

const (
	SeverityError       Severity = 1
	SeverityWarning     Severity = 2
	SeverityInformation Severity = 3
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityInformation:
		return "info"
	}
	return "hint"
}

// Diagnostic is one error/warning/info line reported by the verifier.
type Diagnostic struct {
	Range    Range    `json:"range"`
	Severity Severity `json:"severity"`
	Code     string   `json:"code,omitempty"`
	Message  string   `json:"message"`
	Source   string   `json:"source"`
}

// Status is the overall outcome of a verify request.
type Status int

const (
	StatusVerified Status = iota
	StatusNotVerified
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusVerified:
		return "verified"
	case StatusNotVerified:
		return "not verified"
	case StatusFailed:
		return "failed"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// VerificationResult summarizes one verify request. When Crashed is set the
// counts are zero and no diagnostics accompany the result.
type VerificationResult struct {
	Status           Status
	ProofObligations int
	ErrorCount       int
	Crashed          bool
	CounterModel     *CounterModel
}

// SymbolKind classifies a symbol reported by the verifier.
type SymbolKind int

const (
	SymbolUnknown SymbolKind = iota
	SymbolClass
	SymbolMethod
	SymbolFunction
	SymbolField
	SymbolCall
	SymbolDefinition
	SymbolPredicate
)

var symbolKindNames = []string{"Unknown", "Class", "Method", "Function", "Field", "Call", "Definition", "Predicate"}

func (k SymbolKind) String() string {
	if int(k) >= 0 && int(k) < len(symbolKindNames) {
		return symbolKindNames[k]
	}
	return "Unknown"
}

// parseSymbolKind maps the verifier's kind name to a SymbolKind.
func parseSymbolKind(name string) SymbolKind {
	for i, n := range symbolKindNames {
		if n == name {
			return SymbolKind(i)
		}
	}
	return SymbolUnknown
}

// Reference is a use site of a symbol.
type Reference struct {
	Position   Position
	MethodName string
	URI        string
}

// Symbol is a named program entity. End is only set for classes and bounds
// the class body.
type Symbol struct {
	Position    Position
	End         *Position
	Name        string
	Module      string
	ParentClass string
	Kind        SymbolKind
	Call        string
	References  []Reference
}

// Contains reports whether pos lies inside the body of a class symbol.
func (s *Symbol) Contains(pos Position) bool {
	if s.End == nil {
		return false
	}
	if pos.Line < s.Position.Line || pos.Line > s.End.Line {
		return false
	}
	if pos.Line == s.Position.Line && pos.Character < s.Position.Character {
		return false
	}
	if pos.Line == s.End.Line && pos.Character > s.End.Character {
		return false
	}
	return true
}

// SymbolTable is the symbol index of one document at one content hash.
type SymbolTable struct {
	URI         string
	ContentHash string
	Symbols     []Symbol
}

// CounterModel is a counterexample trace: the program states the verifier
// reported for a failing assertion.
type CounterModel struct {
	States []CounterState
}

type CounterState struct {
	Position  Position
	Name      string
	Variables []CounterVariable
}

type CounterVariable struct {
	Name          string
	Value         string
	CanonicalName string
	RealName      string
}

// VersionInfo is the decoded reply to version and versioncheck requests.
type VersionInfo struct {
	Version         string
	UpdateNecessary bool
	Failed          bool
}
