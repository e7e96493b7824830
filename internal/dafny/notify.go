package dafny

// notify.go defines the outbound notifications a session emits towards the
// front-end.

import (
	"context"
	"log/slog"
	"sync"
)

// Kind tags a Notification.
type Kind int

const (
	KindQueueSizeChanged Kind = iota
	KindServerStarted
	KindActiveDocumentChanged
	KindVerificationResult
	KindServerStatusChanged
	KindMessage
	KindProgress
)

var kindNames = map[Kind]string{
	KindQueueSizeChanged:      "queueSizeChanged",
	KindServerStarted:         "serverStarted",
	KindActiveDocumentChanged: "activeDocumentChanged",
	KindVerificationResult:    "verificationResult",
	KindServerStatusChanged:   "serverStatusChanged",
	KindMessage:               "message",
	KindProgress:              "progress",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Notification is one outbound event. Only the fields relevant to Kind are set.
type Notification struct {
	Kind Kind

	URI       string
	QueueSize int

	PID     int
	Version string

	Result      *VerificationResult
	Diagnostics []Diagnostic

	Status string

	Level slog.Level
	Text  string

	Domain  string
	Current int
	Total   int
}

// Notifier receives notifications. Implementations must be safe for
// concurrent use and must not call back into the Server synchronously.
type Notifier interface {
	Notify(Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

// LogNotifier writes every notification to a structured logger.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l LogNotifier) Notify(n Notification) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []slog.Attr{slog.String("kind", n.Kind.String())}
	level := slog.LevelDebug
	switch n.Kind {
	case KindQueueSizeChanged:
		attrs = append(attrs, slog.Int("queue_size", n.QueueSize))
	case KindServerStarted:
		level = slog.LevelInfo
		attrs = append(attrs, slog.Int("pid", n.PID), slog.String("version", n.Version))
	case KindActiveDocumentChanged:
		attrs = append(attrs, slog.String("uri", n.URI))
	case KindVerificationResult:
		level = slog.LevelInfo
		attrs = append(attrs, slog.String("uri", n.URI), slog.Int("diagnostics", len(n.Diagnostics)))
		if n.Result != nil {
			attrs = append(attrs,
				slog.String("status", n.Result.Status.String()),
				slog.Int("errors", n.Result.ErrorCount),
				slog.Int("proof_obligations", n.Result.ProofObligations),
				slog.Bool("crashed", n.Result.Crashed))
		}
	case KindServerStatusChanged:
		attrs = append(attrs, slog.String("status", n.Status))
	case KindMessage:
		level = n.Level
		attrs = append(attrs, slog.String("text", n.Text))
	case KindProgress:
		attrs = append(attrs, slog.String("domain", n.Domain), slog.Int("current", n.Current), slog.Int("total", n.Total))
	}
	logger.LogAttrs(context.Background(), level, "dafny notification", attrs...)
}

// MultiNotifier fans a notification out to every member in order.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(n Notification) {
	for _, x := range m {
		if x != nil {
			x.Notify(n)
		}
	}
}

// Recorder keeps every notification it receives. Used by tests and by the
// trace tool.
type Recorder struct {
	mu    sync.Mutex
	items []Notification
}

func (r *Recorder) Notify(n Notification) {
	r.mu.Lock()
	r.items = append(r.items, n)
	r.mu.Unlock()
}

// All returns a copy of everything recorded so far.
func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.items...)
}

// Count returns how many notifications of kind k were recorded.
func (r *Recorder) Count(k Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, it := range r.items {
		if it.Kind == k {
			n++
		}
	}
	return n
}
