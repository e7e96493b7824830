package dafny

// session.go ties settings, notifications, the supervisor, and the document
// store into one object created per front-end connection.

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/sanjit/dafny-mcp/internal/config"
)

// Document is the last content read from disk for a file.
type Document struct {
	URI     string
	Path    string
	Version int
	Content string
}

// Session owns one verifier and the documents it has seen.
type Session struct {
	Settings config.Settings
	Notifier Notifier
	Server   *Server

	mu   sync.Mutex
	docs map[string]*Document // keyed by URI
}

func NewSession(settings config.Settings, notifier Notifier) *Session {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Session{
		Settings: settings,
		Notifier: notifier,
		Server:   NewServer(settings, notifier),
		docs:     make(map[string]*Document),
	}
}

// Start launches the verifier. A configuration error is returned and also
// reported once through the notifier; the session stays usable for Reset
// after the configuration is fixed.
func (s *Session) Start(ctx context.Context) error {
	return s.Server.Start(ctx)
}

// Close stops the verifier and releases the event loop.
func (s *Session) Close() error {
	return s.Server.Close()
}

// Sync re-reads path from disk and records it as the document's latest
// version.
func (s *Session) Sync(path string) (*Document, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	uri := FileURI(path)

	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[uri]
	if !ok {
		doc = &Document{URI: uri, Path: path}
		s.docs[uri] = doc
	}
	if doc.Content != string(content) || doc.Version == 0 {
		doc.Version++
		doc.Content = string(content)
	}
	cp := *doc
	return &cp, nil
}

// Forget drops a document and its cached results.
func (s *Session) Forget(path string) {
	uri := FileURI(path)
	s.mu.Lock()
	delete(s.docs, uri)
	s.mu.Unlock()
	s.Server.Context().Forget(uri)
}

// DocumentChanged handles a change event for path. With automatic
// verification enabled a verify request is queued; its result reaches the
// front-end as a notification.
func (s *Session) DocumentChanged(path string) {
	doc, err := s.Sync(path)
	if err != nil {
		slog.Warn("document changed but could not be read",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return
	}
	if !s.Settings.AutomaticVerification {
		return
	}
	req := NewRequest(VerbVerify, doc.URI, doc.Content)
	req.OnError = func(err error) {
		slog.Debug("automatic verification failed",
			slog.String("uri", doc.URI),
			slog.String("error", err.Error()))
	}
	if err := s.Server.Enqueue(req); err != nil {
		slog.Debug("automatic verification not queued",
			slog.String("uri", doc.URI),
			slog.String("error", err.Error()))
	}
}

// requestContext bounds a tool call by the configured request timeout.
func (s *Session) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.Settings.RequestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.Settings.RequestTimeout)
}

// Status snapshots the supervisor and its queue.
func (s *Session) Status() SessionStatus {
	c := s.Server.Context()
	st := SessionStatus{
		State:      s.Server.State(),
		PID:        c.Pid(),
		Version:    c.Version(),
		Pending:    c.Pending(),
		LastResult: c.Results(),
	}
	if a := c.Active(); a != nil {
		st.Active = a.URI
	}
	return st
}
