package dafny

// request.go defines one unit of verifier work and the typed responses each
// verb decodes into.

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Request is one queued unit of work. A request is in exactly one place at a
// time: the queue, the active slot, or finished.
type Request struct {
	ID     string
	URI    string
	Source string
	Verb   Verb

	// OnSuccess and OnError belong to the caller. At most one of them fires,
	// at most once, from the supervisor goroutine.
	OnSuccess func(Response)
	OnError   func(error)

	TimeCreated  time.Time
	TimeSent     time.Time
	TimeFinished time.Time

	once sync.Once
}

// NewRequest creates a request stamped with a fresh ID and creation time.
func NewRequest(verb Verb, uri, source string) *Request {
	return &Request{
		ID:          uuid.NewString(),
		URI:         uri,
		Source:      source,
		Verb:        verb,
		TimeCreated: time.Now(),
	}
}

func (r *Request) succeed(resp Response) {
	r.once.Do(func() {
		r.TimeFinished = time.Now()
		if r.OnSuccess != nil {
			r.OnSuccess(resp)
		}
	})
}

func (r *Request) fail(err error) {
	r.once.Do(func() {
		r.TimeFinished = time.Now()
		if r.OnError != nil {
			r.OnError(err)
		}
	})
}

// Response is the decoded reply to a request. The concrete type depends on
// the verb.
type Response interface {
	Verb() Verb
}

// VerifyResponse answers verify. Diagnostics replace any earlier batch for
// the document.
type VerifyResponse struct {
	URI         string
	Result      VerificationResult
	Diagnostics []Diagnostic
}

func (*VerifyResponse) Verb() Verb { return VerbVerify }

// SymbolsResponse answers symbols. Table is empty, never nil, when the
// verifier reported nothing usable.
type SymbolsResponse struct {
	Table *SymbolTable
}

func (*SymbolsResponse) Verb() Verb { return VerbSymbols }

// CounterExampleResponse answers counterExample. Model is nil when none was
// reported.
type CounterExampleResponse struct {
	URI   string
	Model *CounterModel
}

func (*CounterExampleResponse) Verb() Verb { return VerbCounterExample }

// VersionResponse answers version and versioncheck.
type VersionResponse struct {
	Check bool
	Info  VersionInfo
}

func (r *VersionResponse) Verb() Verb {
	if r.Check {
		return VerbVersionCheck
	}
	return VerbVersion
}

// DotGraphResponse answers dotgraph with the raw graph text.
type DotGraphResponse struct {
	Graph string
}

func (*DotGraphResponse) Verb() Verb { return VerbDotGraph }

// decodeResponse turns a completed log slice into the typed response for the
// request's verb.
func decodeResponse(req *Request, log string) Response {
	switch req.Verb {
	case VerbVerify:
		result, diags := ParseVerificationLog(log)
		return &VerifyResponse{URI: req.URI, Result: result, Diagnostics: diags}
	case VerbSymbols:
		table := ParseSymbolTable(log, req.URI)
		table.ContentHash = ContentHash(req.Source)
		return &SymbolsResponse{Table: table}
	case VerbCounterExample:
		return &CounterExampleResponse{URI: req.URI, Model: ParseCounterModel(log)}
	case VerbVersion, VerbVersionCheck:
		return &VersionResponse{Check: req.Verb == VerbVersionCheck, Info: ParseVersion(log)}
	default:
		return &DotGraphResponse{Graph: stripMarkers(log)}
	}
}
