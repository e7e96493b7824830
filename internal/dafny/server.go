package dafny

// server.go supervises the verifier process. A single event-loop goroutine
// owns the process and every state transition; producers only enqueue.

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sanjit/dafny-mcp/internal/config"
)

// State is the supervisor lifecycle state.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateIdle
	StateBusy
	StateCrashed
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "Stopped"
	case StateStarting:
		return "Starting"
	case StateIdle:
		return "Idle"
	case StateBusy:
		return "Busy"
	case StateCrashed:
		return "Crashed"
	}
	return "Unknown"
}

type eventKind int

const (
	evData eventKind = iota
	evExit
	evWriteError
)

// procEvent reaches the loop from a process goroutine. gen identifies the
// process that produced it; events from a replaced process are ignored.
type procEvent struct {
	kind eventKind
	gen  int
	err  error
	req  *Request
}

type commandKind int

const (
	cmdStart commandKind = iota
	cmdReset
	cmdStop
)

type command struct {
	kind  commandKind
	reply chan error
}

// Server is the verifier supervisor.
//
// Thread Safety:
//
//	Enqueue, Do, State and the Context accessors are safe for concurrent use.
//	Request callbacks and notifications run on the event loop: they must not
//	call Start, Reset, Stop or Close synchronously.
type Server struct {
	settings config.Settings
	notifier Notifier
	ctx      *Context

	stateMu sync.RWMutex
	state   State

	// Loop-owned.
	proc      *Process
	gen       int
	retries   int
	retry     *time.Timer
	retryC    <-chan time.Time
	completed int // responses since the queue was last empty

	events chan procEvent
	cmds   chan command
	wake   chan struct{}

	quit      chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

// NewServer creates a stopped supervisor and starts its event loop. Close
// releases it.
func NewServer(settings config.Settings, notifier Notifier) *Server {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	s := &Server{
		settings: settings,
		notifier: notifier,
		ctx:      NewContext(),
		state:    StateStopped,
		events:   make(chan procEvent),
		cmds:     make(chan command),
		wake:     make(chan struct{}, 1),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go s.run()
	return s
}

// Context exposes the queue and caches.
func (s *Server) Context() *Context { return s.ctx }

func (s *Server) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

func (s *Server) setState(st State) {
	s.stateMu.Lock()
	changed := s.state != st
	s.state = st
	s.stateMu.Unlock()
	if changed {
		s.notifier.Notify(Notification{Kind: KindServerStatusChanged, Status: st.String()})
	}
}

// Start spawns the verifier if the supervisor is stopped.
func (s *Server) Start(ctx context.Context) error {
	return s.command(ctx, cmdStart)
}

// Reset kills the verifier, discards queued work, and respawns. The active
// request, if any, completes as crashed.
func (s *Server) Reset(ctx context.Context) error {
	return s.command(ctx, cmdReset)
}

// Stop is Reset without the respawn.
func (s *Server) Stop(ctx context.Context) error {
	return s.command(ctx, cmdStop)
}

// Close stops the verifier and the event loop. Pending requests fail with
// ErrServerClosed.
func (s *Server) Close() error {
	s.closeOnce.Do(func() { close(s.quit) })
	<-s.done
	return nil
}

func (s *Server) command(ctx context.Context, kind commandKind) error {
	c := command{kind: kind, reply: make(chan error, 1)}
	select {
	case s.cmds <- c:
	case <-s.quit:
		return ErrServerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-c.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue appends req to the FIFO queue. It fails with ErrServerStopped when
// the supervisor is stopped and ErrServerClosed after Close.
func (s *Server) Enqueue(req *Request) error {
	size, err := s.ctx.push(req, func() error {
		select {
		case <-s.quit:
			return ErrServerClosed
		default:
		}
		if s.State() == StateStopped {
			return ErrServerStopped
		}
		return nil
	})
	if err != nil {
		return err
	}
	queueDepth.Set(float64(size))
	s.notifier.Notify(Notification{Kind: KindQueueSizeChanged, QueueSize: size})
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

type outcome struct {
	resp Response
	err  error
}

// Do enqueues a request and waits for its response. Cancelling ctx abandons
// the wait; the request itself still runs to completion.
func (s *Server) Do(ctx context.Context, verb Verb, uri, source string) (Response, error) {
	req := NewRequest(verb, uri, source)
	ch := make(chan outcome, 1)
	req.OnSuccess = func(r Response) { ch <- outcome{resp: r} }
	req.OnError = func(err error) { ch <- outcome{err: err} }
	if err := s.Enqueue(req); err != nil {
		return nil, err
	}
	select {
	case o := <-ch:
		return o.resp, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Verify runs a verify request.
func (s *Server) Verify(ctx context.Context, uri, source string) (*VerifyResponse, error) {
	resp, err := s.Do(ctx, VerbVerify, uri, source)
	if err != nil {
		return nil, err
	}
	return resp.(*VerifyResponse), nil
}

// Symbols returns the symbol table for source, from cache when the content
// hash still matches.
func (s *Server) Symbols(ctx context.Context, uri, source string) (*SymbolTable, error) {
	if t := s.ctx.Symbols(uri); t != nil && t.ContentHash == ContentHash(source) {
		return t, nil
	}
	resp, err := s.Do(ctx, VerbSymbols, uri, source)
	if err != nil {
		return nil, err
	}
	return resp.(*SymbolsResponse).Table, nil
}

// CounterExample asks for a counterexample trace of the document.
func (s *Server) CounterExample(ctx context.Context, uri, source string) (*CounterModel, error) {
	resp, err := s.Do(ctx, VerbCounterExample, uri, source)
	if err != nil {
		return nil, err
	}
	return resp.(*CounterExampleResponse).Model, nil
}

// Version queries the verifier version.
func (s *Server) Version(ctx context.Context) (VersionInfo, error) {
	return s.version(ctx, VerbVersion)
}

// VersionCheck asks the verifier whether an update is necessary.
func (s *Server) VersionCheck(ctx context.Context) (VersionInfo, error) {
	return s.version(ctx, VerbVersionCheck)
}

func (s *Server) version(ctx context.Context, verb Verb) (VersionInfo, error) {
	resp, err := s.Do(ctx, verb, "", "")
	if err != nil {
		return VersionInfo{}, err
	}
	return resp.(*VersionResponse).Info, nil
}

// DotGraph returns the verifier's dot graph output for the document.
func (s *Server) DotGraph(ctx context.Context, uri, source string) (string, error) {
	resp, err := s.Do(ctx, VerbDotGraph, uri, source)
	if err != nil {
		return "", err
	}
	return resp.(*DotGraphResponse).Graph, nil
}

// post delivers a process event unless the loop has exited.
func (s *Server) post(ev procEvent) {
	select {
	case s.events <- ev:
	case <-s.quit:
	}
}

func (s *Server) run() {
	defer close(s.done)
	for {
		select {
		case <-s.quit:
			s.halt(ErrServerClosed)
			s.setState(StateStopped)
			return
		case c := <-s.cmds:
			c.reply <- s.handleCommand(c.kind)
		case <-s.wake:
			s.dispatchNext()
		case ev := <-s.events:
			switch ev.kind {
			case evData:
				s.handleData(ev)
			case evExit:
				s.handleExit(ev)
			case evWriteError:
				s.handleWriteError(ev)
			}
		case <-s.retryC:
			s.retry, s.retryC = nil, nil
			if s.State() == StateCrashed {
				_ = s.spawn()
			}
		}
	}
}

func (s *Server) handleCommand(kind commandKind) error {
	switch kind {
	case cmdStart:
		if s.State() != StateStopped {
			return nil
		}
		s.retries = 0
		return s.spawn()
	case cmdReset:
		s.halt(ErrRequestDiscarded)
		s.retries = 0
		return s.spawn()
	case cmdStop:
		// Stopped before halt so callbacks run by halt cannot enqueue.
		s.setState(StateStopped)
		s.halt(ErrRequestDiscarded)
		s.retries = 0
		return nil
	}
	return fmt.Errorf("unknown command %d", kind)
}

// spawn resolves the command and starts a fresh process.
func (s *Server) spawn() error {
	s.setState(StateStarting)

	command, err := ResolveVerifierCommand(s.settings)
	if err == nil {
		gen := s.gen + 1
		var proc *Process
		proc, err = StartProcess(command, ResolveSpawnOptions(s.settings.WorkingDir),
			func() { s.post(procEvent{kind: evData, gen: gen}) },
			func(exitErr error) { s.post(procEvent{kind: evExit, gen: gen, err: exitErr}) })
		if err == nil {
			s.gen = gen
			s.proc = proc
			serverSpawns.Inc()
			s.ctx.setPid(proc.Pid())
			slog.Info("dafny server started",
				slog.Int("pid", proc.Pid()),
				slog.String("command", command.String()))
			s.setState(StateIdle)
			s.notifier.Notify(Notification{Kind: KindServerStarted, PID: proc.Pid(), Version: s.ctx.Version()})
			s.dispatchNext()
			return nil
		}
	}

	slog.Error("dafny server failed to start", slog.String("error", err.Error()))
	s.setState(StateStopped)
	s.notifier.Notify(Notification{Kind: KindMessage, Level: slog.LevelError, Text: startFailureText(err)})
	for _, r := range s.ctx.drainQueue() {
		requestsTotal.WithLabelValues(string(r.Verb), "discarded").Inc()
		r.fail(err)
	}
	queueDepth.Set(0)
	return err
}

func startFailureText(err error) string {
	if code := ErrorCode(err); code != "" {
		return fmt.Sprintf("Dafny server could not be started (%s): %v", code, err)
	}
	return fmt.Sprintf("Dafny server could not be started (%s): %v", EIncorrectPath, err)
}

// halt kills the process and empties the context. The active request
// completes as crashed; queued requests fail with reason.
func (s *Server) halt(reason error) {
	if s.retry != nil {
		s.retry.Stop()
		s.retry, s.retryC = nil, nil
	}
	if s.proc != nil {
		s.proc.Terminate()
		s.proc = nil
	}
	s.ctx.setPid(0)
	s.ctx.setVersion("")

	active, queued := s.ctx.reset()
	if active != nil {
		s.crash(active)
	}
	for _, r := range queued {
		requestsTotal.WithLabelValues(string(r.Verb), "discarded").Inc()
		r.fail(reason)
	}
	queueDepth.Set(0)
	if len(queued) > 0 {
		s.notifier.Notify(Notification{Kind: KindQueueSizeChanged, QueueSize: 0})
	}
}

// dispatchNext sends queued requests while the supervisor is idle.
func (s *Server) dispatchNext() {
	for s.State() == StateIdle && s.proc != nil {
		req, ok := s.ctx.promote()
		if !ok {
			return
		}
		size := s.ctx.QueueSize()
		queueDepth.Set(float64(size))
		s.setState(StateBusy)
		req.TimeSent = time.Now()
		s.notifier.Notify(Notification{Kind: KindActiveDocumentChanged, URI: req.URI})
		s.notifier.Notify(Notification{Kind: KindQueueSizeChanged, QueueSize: size})

		payload, err := EncodeTask(TaskDescriptor{
			Args:     s.settings.VerificationArgs,
			Filename: PathFromURI(req.URI),
			Source:   req.Source,
		})
		if err != nil {
			s.ctx.takeActive()
			requestsTotal.WithLabelValues(string(req.Verb), "encode_error").Inc()
			req.fail(err)
			s.setState(StateIdle)
			continue
		}

		proc, gen := s.proc, s.gen
		proc.ClearBuffer()
		slog.Debug("dafny request sent",
			slog.String("id", req.ID),
			slog.String("verb", string(req.Verb)),
			slog.String("uri", req.URI))
		go func() {
			if err := proc.Send(string(req.Verb), payload); err != nil {
				s.post(procEvent{kind: evWriteError, gen: gen, err: err, req: req})
			}
		}()
		return
	}
}

func (s *Server) handleData(ev procEvent) {
	if ev.gen != s.gen || s.proc == nil {
		return
	}
	if !s.proc.MessageComplete() {
		return
	}
	log := s.proc.Message()
	s.proc.ClearBuffer()

	req := s.ctx.takeActive()
	if req == nil {
		protocolDesyncs.Inc()
		slog.Warn("dafny response with no active request; discarding",
			slog.Int("bytes", len(log)))
		return
	}

	resp := decodeResponse(req, log)
	s.retries = 0
	s.deliver(req, resp)
	s.reportProgress()
	s.setState(StateIdle)
	s.dispatchNext()
}

// reportProgress publishes how far through the current backlog the verifier is.
func (s *Server) reportProgress() {
	s.completed++
	remaining := s.ctx.QueueSize()
	s.notifier.Notify(Notification{
		Kind:    KindProgress,
		Domain:  "verification",
		Current: s.completed,
		Total:   s.completed + remaining,
	})
	if remaining == 0 {
		s.completed = 0
	}
}

// deliver routes a decoded response: verify results are cached and
// published, symbol tables cached, then the caller's callback runs.
func (s *Server) deliver(req *Request, resp Response) {
	switch r := resp.(type) {
	case *VerifyResponse:
		s.ctx.storeResult(r)
		result := r.Result
		s.notifier.Notify(Notification{
			Kind:        KindVerificationResult,
			URI:         r.URI,
			Result:      &result,
			Diagnostics: r.Diagnostics,
		})
	case *SymbolsResponse:
		s.ctx.storeSymbols(r.Table)
	case *VersionResponse:
		if r.Info.Version != "" {
			s.ctx.setVersion(r.Info.Version)
		}
	}
	requestsTotal.WithLabelValues(string(req.Verb), "ok").Inc()
	requestDuration.WithLabelValues(string(req.Verb)).Observe(time.Since(req.TimeSent).Seconds())
	req.succeed(resp)
}

// crash completes req as crashed. A verify request still yields a result so
// the document's diagnostics are cleared.
func (s *Server) crash(req *Request) {
	requestsTotal.WithLabelValues(string(req.Verb), "crashed").Inc()
	if req.Verb != VerbVerify {
		req.fail(ErrServerCrashed)
		return
	}
	resp := &VerifyResponse{URI: req.URI, Result: CrashedResult(), Diagnostics: []Diagnostic{}}
	s.ctx.storeResult(resp)
	result := resp.Result
	s.notifier.Notify(Notification{
		Kind:        KindVerificationResult,
		URI:         req.URI,
		Result:      &result,
		Diagnostics: resp.Diagnostics,
	})
	req.succeed(resp)
}

func (s *Server) handleExit(ev procEvent) {
	if ev.gen != s.gen || s.proc == nil {
		return
	}
	s.proc = nil
	s.ctx.setPid(0)
	s.ctx.setVersion("")
	serverCrashes.Inc()

	attrs := []any{slog.Int("retry", s.retries+1)}
	if ev.err != nil {
		attrs = append(attrs, slog.String("error", ev.err.Error()))
	}
	slog.Warn("dafny server exited", attrs...)

	if active := s.ctx.takeActive(); active != nil {
		s.crash(active)
	}

	s.retries++
	if s.retries >= s.maxRetries() {
		s.retries = 0
		s.setState(StateStopped)
		s.notifier.Notify(Notification{
			Kind:  KindMessage,
			Level: slog.LevelError,
			Text:  fmt.Sprintf("Dafny server crashed %d times and will not be restarted. Use dafny_reset to try again.", s.maxRetries()),
		})
		for _, r := range s.ctx.drainQueue() {
			requestsTotal.WithLabelValues(string(r.Verb), "discarded").Inc()
			r.fail(ErrServerStopped)
		}
		queueDepth.Set(0)
		return
	}

	s.setState(StateCrashed)
	s.retry = time.NewTimer(s.retryDelay())
	s.retryC = s.retry.C
}

func (s *Server) handleWriteError(ev procEvent) {
	if s.ctx.Active() != ev.req {
		return
	}
	s.ctx.takeActive()
	requestsTotal.WithLabelValues(string(ev.req.Verb), "write_error").Inc()
	slog.Warn("dafny request write failed",
		slog.String("id", ev.req.ID),
		slog.String("error", ev.err.Error()))
	ev.req.fail(ev.err)
	if s.proc != nil && ev.gen == s.gen {
		s.setState(StateIdle)
		s.dispatchNext()
	}
}

func (s *Server) maxRetries() int {
	if s.settings.MaxRetries > 0 {
		return s.settings.MaxRetries
	}
	return config.DefaultSettings().MaxRetries
}

func (s *Server) retryDelay() time.Duration {
	if s.settings.RetryDelay > 0 {
		return s.settings.RetryDelay
	}
	return config.DefaultSettings().RetryDelay
}

// FileURI converts a path to a file:// URI.
func FileURI(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()
}

// PathFromURI reverses FileURI. Anything that is not a file URI is returned
// unchanged.
func PathFromURI(uri string) string {
	if !strings.HasPrefix(uri, "file://") {
		return uri
	}
	u, err := url.Parse(uri)
	if err != nil {
		return strings.TrimPrefix(uri, "file://")
	}
	return filepath.FromSlash(u.Path)
}
