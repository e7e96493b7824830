package dafny

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const literalLog = "(3,5): Error: assertion violation\n[2 proof obligations] error"

func startServer(t *testing.T, mode string) (*Server, *Recorder) {
	t.Helper()
	rec := &Recorder{}
	s := NewServer(fakeSettings(t, mode), rec)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Start(context.Background()))
	return s, rec
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestServerStartsIdle(t *testing.T) {
	s, rec := startServer(t, "")
	assert.Equal(t, StateIdle, s.State())
	assert.Greater(t, s.Context().Pid(), 0)
	assert.Equal(t, 1, rec.Count(KindServerStarted))
}

func TestServerVerifyParsesAndCaches(t *testing.T) {
	s, rec := startServer(t, "")
	uri := "file:///tmp/a.dfy"

	resp, err := s.Verify(testContext(t), uri, literalLog)
	require.NoError(t, err)

	assert.Equal(t, 1, resp.Result.ErrorCount)
	assert.Equal(t, 2, resp.Result.ProofObligations)
	assert.Equal(t, StatusNotVerified, resp.Result.Status)
	require.Len(t, resp.Diagnostics, 1)
	assert.Equal(t, Position{Line: 2, Character: 4}, resp.Diagnostics[0].Range.Start)

	assert.Same(t, resp, s.Context().Result(uri))
	assert.Equal(t, 1, rec.Count(KindVerificationResult))
	assert.Equal(t, StateIdle, s.State())
}

func TestServerDispatchesFIFO(t *testing.T) {
	s, rec := startServer(t, "")

	var mu sync.Mutex
	var order []string
	var wg sync.WaitGroup
	uris := []string{"file:///a.dfy", "file:///b.dfy", "file:///a.dfy", "file:///c.dfy", "file:///d.dfy"}
	for _, uri := range uris {
		wg.Add(1)
		req := NewRequest(VerbVerify, uri, "!sleep 20\n[1 proof obligation] verified")
		req.OnSuccess = func(Response) {
			mu.Lock()
			order = append(order, uri)
			mu.Unlock()
			wg.Done()
		}
		req.OnError = func(err error) {
			t.Errorf("request %s failed: %v", uri, err)
			wg.Done()
		}
		require.NoError(t, s.Enqueue(req))
	}
	wg.Wait()

	assert.Equal(t, uris, order)

	// Each activation is followed by its result before the next activation.
	var seq []Kind
	for _, n := range rec.All() {
		if n.Kind == KindActiveDocumentChanged || n.Kind == KindVerificationResult {
			seq = append(seq, n.Kind)
		}
	}
	require.Len(t, seq, 2*len(uris))
	for i, k := range seq {
		if i%2 == 0 {
			assert.Equal(t, KindActiveDocumentChanged, k, "position %d", i)
		} else {
			assert.Equal(t, KindVerificationResult, k, "position %d", i)
		}
	}
}

func TestServerCrashYieldsCrashedResultAndRecovers(t *testing.T) {
	s, rec := startServer(t, "")
	ctx := testContext(t)
	firstPid := s.Context().Pid()

	var wg sync.WaitGroup
	wg.Add(1)
	var queued *VerifyResponse
	next := NewRequest(VerbVerify, "file:///next.dfy", "[3 proof obligations] verified")
	next.OnSuccess = func(r Response) {
		queued = r.(*VerifyResponse)
		wg.Done()
	}
	next.OnError = func(err error) {
		t.Errorf("queued request failed: %v", err)
		wg.Done()
	}

	crashReq := NewRequest(VerbVerify, "file:///crash.dfy", "!crash")
	done := make(chan *VerifyResponse, 1)
	crashReq.OnSuccess = func(r Response) { done <- r.(*VerifyResponse) }
	crashReq.OnError = func(err error) { t.Errorf("crash request errored: %v", err) }
	require.NoError(t, s.Enqueue(crashReq))
	require.NoError(t, s.Enqueue(next))

	var crashed *VerifyResponse
	select {
	case crashed = <-done:
	case <-ctx.Done():
		t.Fatal("timed out waiting for crashed result")
	}
	assert.True(t, crashed.Result.Crashed)
	assert.Equal(t, 0, crashed.Result.ErrorCount)
	assert.Equal(t, 0, crashed.Result.ProofObligations)
	assert.Empty(t, crashed.Diagnostics)

	// The queued request survives the crash and runs on the new process.
	wg.Wait()
	require.NotNil(t, queued)
	assert.Equal(t, 3, queued.Result.ProofObligations)
	assert.NotEqual(t, firstPid, s.Context().Pid())
	assert.Equal(t, 2, rec.Count(KindServerStarted))
}

func TestServerCrashFailsNonVerifyRequests(t *testing.T) {
	s, _ := startServer(t, "")
	_, err := s.Do(testContext(t), VerbSymbols, "file:///x.dfy", "!crash")
	assert.ErrorIs(t, err, ErrServerCrashed)
}

func TestServerRetryBound(t *testing.T) {
	s, rec := startServer(t, "exit")

	require.Eventually(t, func() bool {
		return rec.Count(KindServerStarted) == 5 && s.State() == StateStopped
	}, 10*time.Second, 10*time.Millisecond)

	// No further spawns after giving up.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 5, rec.Count(KindServerStarted))

	terminal := 0
	for _, n := range rec.All() {
		if n.Kind == KindMessage && n.Level == slog.LevelError {
			terminal++
		}
	}
	assert.Equal(t, 1, terminal)

	err := s.Enqueue(NewRequest(VerbVerify, "file:///a.dfy", ""))
	assert.ErrorIs(t, err, ErrServerStopped)
}

func TestServerResetIsIdempotent(t *testing.T) {
	s, _ := startServer(t, "")
	ctx := testContext(t)

	require.NoError(t, s.Reset(ctx))
	pid1 := s.Context().Pid()
	require.NoError(t, s.Reset(ctx))
	pid2 := s.Context().Pid()

	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, 0, s.Context().QueueSize())
	assert.Nil(t, s.Context().Active())
	assert.Greater(t, pid1, 0)
	assert.Greater(t, pid2, 0)

	resp, err := s.Verify(ctx, "file:///a.dfy", "[1 proof obligation] verified")
	require.NoError(t, err)
	assert.Equal(t, StatusVerified, resp.Result.Status)
}

func TestServerResetDiscardsQueue(t *testing.T) {
	s, _ := startServer(t, "")
	ctx := testContext(t)

	active := make(chan *VerifyResponse, 1)
	slow := NewRequest(VerbVerify, "file:///slow.dfy", "!sleep 5000\n")
	slow.OnSuccess = func(r Response) { active <- r.(*VerifyResponse) }
	require.NoError(t, s.Enqueue(slow))

	discarded := make(chan error, 1)
	queued := NewRequest(VerbVerify, "file:///queued.dfy", "")
	queued.OnError = func(err error) { discarded <- err }
	require.NoError(t, s.Enqueue(queued))

	require.Eventually(t, func() bool { return s.State() == StateBusy }, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Reset(ctx))

	select {
	case r := <-active:
		assert.True(t, r.Result.Crashed)
	case <-ctx.Done():
		t.Fatal("active request never completed")
	}
	select {
	case err := <-discarded:
		assert.ErrorIs(t, err, ErrRequestDiscarded)
	case <-ctx.Done():
		t.Fatal("queued request never failed")
	}
	assert.Equal(t, StateIdle, s.State())
}

func TestServerStop(t *testing.T) {
	s, _ := startServer(t, "")
	ctx := testContext(t)

	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Stop(ctx))
	assert.Equal(t, StateStopped, s.State())
	assert.Equal(t, 0, s.Context().Pid())

	_, err := s.Do(ctx, VerbVerify, "file:///a.dfy", "")
	assert.ErrorIs(t, err, ErrServerStopped)

	require.NoError(t, s.Start(ctx))
	assert.Equal(t, StateIdle, s.State())
}

func TestServerStopRefusesEnqueueFromCallback(t *testing.T) {
	s, _ := startServer(t, "")
	ctx := testContext(t)

	late := NewRequest(VerbVerify, "file:///late.dfy", "")
	lateDone := make(chan error, 1)
	late.OnSuccess = func(Response) { lateDone <- nil }
	late.OnError = func(err error) { lateDone <- err }

	enqueued := make(chan error, 1)
	slow := NewRequest(VerbVerify, "file:///slow.dfy", "!sleep 5000\n[1 proof obligation] verified")
	slow.OnSuccess = func(Response) {
		enqueued <- s.Enqueue(late)
	}
	slow.OnError = func(err error) {
		t.Errorf("slow request failed: %v", err)
		enqueued <- nil
	}
	require.NoError(t, s.Enqueue(slow))
	require.Eventually(t, func() bool { return s.Context().Active() == slow }, testTimeout, pollInterval)

	require.NoError(t, s.Stop(ctx))

	select {
	case err := <-enqueued:
		assert.ErrorIs(t, err, ErrServerStopped)
	case <-time.After(testTimeout):
		t.Fatal("crashed result never delivered")
	}
	assert.Equal(t, StateStopped, s.State())
	assert.Equal(t, 0, s.Context().QueueSize())
	assert.Nil(t, s.Context().Active())
	select {
	case err := <-lateDone:
		t.Errorf("refused request completed: %v", err)
	default:
	}
}

func TestServerClose(t *testing.T) {
	s := NewServer(fakeSettings(t, ""), &Recorder{})
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.Equal(t, StateStopped, s.State())
	assert.ErrorIs(t, s.Enqueue(NewRequest(VerbVerify, "file:///a.dfy", "")), ErrServerClosed)
	assert.ErrorIs(t, s.Reset(context.Background()), ErrServerClosed)
}

func TestServerStartReportsConfigError(t *testing.T) {
	rec := &Recorder{}
	settings := fakeSettings(t, "")
	settings.ServerPath = ""
	s := NewServer(settings, rec)
	defer s.Close()

	err := s.Start(context.Background())
	require.ErrorIs(t, err, ErrPathNotConfigured)
	assert.Equal(t, EPathNotConfigured, ErrorCode(err))
	assert.Equal(t, StateStopped, s.State())
	assert.Equal(t, 1, rec.Count(KindMessage))
}

func TestServerSymbolsCachedByContentHash(t *testing.T) {
	s, _ := startServer(t, "")
	ctx := testContext(t)
	src := `[SUCCESS] SYMBOLS_START [{"Name":"M","SymbolType":"Method","Line":"1","Column":"8"}] SYMBOLS_END`

	t1, err := s.Symbols(ctx, "file:///m.dfy", src)
	require.NoError(t, err)
	require.Len(t, t1.Symbols, 1)
	assert.Equal(t, ContentHash(src), t1.ContentHash)

	t2, err := s.Symbols(ctx, "file:///m.dfy", src)
	require.NoError(t, err)
	assert.Same(t, t1, t2)

	t3, err := s.Symbols(ctx, "file:///m.dfy", src+"\n")
	require.NoError(t, err)
	assert.NotSame(t, t1, t3)
}

func TestServerVersion(t *testing.T) {
	s, rec := startServer(t, "")
	ctx := testContext(t)

	info, err := s.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, fakeVersion, info.Version)
	assert.Equal(t, fakeVersion, s.Context().Version())

	check, err := s.VersionCheck(ctx)
	require.NoError(t, err)
	assert.True(t, check.UpdateNecessary)

	// A respawned process has not reported its version yet.
	require.NoError(t, s.Reset(ctx))
	assert.Empty(t, s.Context().Version())
	var started []Notification
	for _, n := range rec.All() {
		if n.Kind == KindServerStarted {
			started = append(started, n)
		}
	}
	require.Len(t, started, 2)
	assert.Empty(t, started[1].Version)
}

func TestServerSendsTaskDescriptor(t *testing.T) {
	s, _ := startServer(t, "")
	graph, err := s.DotGraph(testContext(t), FileURI("/tmp/x.dfy"), "method M() {}\n")
	require.NoError(t, err)

	var task TaskDescriptor
	require.NoError(t, json.Unmarshal([]byte(graph), &task))
	assert.Equal(t, "/tmp/x.dfy", task.Filename)
	assert.Equal(t, "method M() {}\n", task.Source)
	assert.False(t, task.SourceIsFile)
	assert.Equal(t, []string{"/compile:0", "/timeLimit:20", "/autoTriggers:1"}, task.Args)
}

func TestServerDiscardsUnsolicitedMessage(t *testing.T) {
	s, _ := startServer(t, "unsolicited")
	time.Sleep(200 * time.Millisecond)

	resp, err := s.Verify(testContext(t), "file:///a.dfy", "[4 proof obligations] verified")
	require.NoError(t, err)
	assert.Equal(t, 4, resp.Result.ProofObligations)
	assert.Equal(t, StateIdle, s.State())
}

func TestServerWriteFailure(t *testing.T) {
	s, _ := startServer(t, "closestdin")
	time.Sleep(200 * time.Millisecond)

	_, err := s.Do(testContext(t), VerbVerify, "file:///a.dfy", "x")
	require.Error(t, err)
	var we *WriteError
	require.True(t, errors.As(err, &we), "got %v", err)
	assert.True(t, errors.Is(err, ErrCommandFailed) || errors.Is(err, ErrRequestFailed) || errors.Is(err, ErrCommandEndFailed))
	assert.Equal(t, StateIdle, s.State())
}

func TestDoAbandonsWaitOnCancel(t *testing.T) {
	s, _ := startServer(t, "")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := s.Do(ctx, VerbVerify, "file:///a.dfy", "!sleep 500\n")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The request still runs to completion.
	require.Eventually(t, func() bool {
		return s.Context().Result("file:///a.dfy") != nil
	}, 5*time.Second, 10*time.Millisecond)
}
