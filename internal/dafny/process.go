package dafny

// process.go owns one verifier child process: its pipes, the accumulated
// stdout buffer, and terminator detection. No parsing happens here.

import (
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
)

// Process wraps a running verifier and its stdio.
//
// Thread Safety:
//
//	Buffer accessors and Send are safe for concurrent use. onData and onExit
//	are invoked from the read goroutine.
type Process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	writeMu sync.Mutex // serializes Send

	bufMu sync.Mutex
	buf   strings.Builder

	onData func()
	onExit func(error)

	detached atomic.Bool
	done     chan struct{}
}

// StartProcess spawns the verifier. onData runs after every stdout chunk;
// onExit runs once when the process ends unless Terminate was called first.
func StartProcess(command Command, opts SpawnOptions, onData func(), onExit func(error)) (*Process, error) {
	cmd := exec.Command(command.Path, command.Args...)
	cmd.Dir = opts.Dir
	if len(opts.Env) > 0 {
		cmd.Env = opts.Env
	}
	// Stderr left nil: the child's error stream goes to the null device.

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}
	if cmd.Process == nil || cmd.Process.Pid <= 0 {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		return nil, fmt.Errorf("%w: no process id", ErrSpawnFailed)
	}

	p := &Process{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		onData: onData,
		onExit: onExit,
		done:   make(chan struct{}),
	}
	go p.readLoop()
	return p, nil
}

// Pid returns the OS process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// readLoop appends stdout to the buffer until EOF, then reaps the process.
func (p *Process) readLoop() {
	defer close(p.done)
	chunk := make([]byte, 32*1024)
	for {
		n, err := p.stdout.Read(chunk)
		if n > 0 {
			p.bufMu.Lock()
			p.buf.Write(chunk[:n])
			p.bufMu.Unlock()
			if !p.detached.Load() && p.onData != nil {
				p.onData()
			}
		}
		if err != nil {
			if err != io.EOF && !p.detached.Load() {
				slog.Debug("dafny server read error", slog.String("error", err.Error()))
			}
			break
		}
	}
	err := p.cmd.Wait()
	if !p.detached.Load() && p.onExit != nil {
		p.onExit(err)
	}
}

// Send writes the verb, the encoded payload, and the client terminator. Each
// line is written only after the previous write returned.
func (p *Process) Send(verb, payload string) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if err := writeLine(p.stdin, verb); err != nil {
		return &WriteError{Phase: PhaseCommand, Err: err}
	}
	if err := writeLine(p.stdin, payload); err != nil {
		return &WriteError{Phase: PhaseRequest, Err: err}
	}
	if err := writeLine(p.stdin, ClientEOM); err != nil {
		return &WriteError{Phase: PhaseCommandEnd, Err: err}
	}
	return nil
}

// MessageComplete reports whether the buffer holds a full response.
func (p *Process) MessageComplete() bool {
	p.bufMu.Lock()
	defer p.bufMu.Unlock()
	return strings.Contains(p.buf.String(), ServerEOM)
}

// Message returns the buffered response up to the terminator. The buffer is
// left intact; call ClearBuffer before the next request.
func (p *Process) Message() string {
	p.bufMu.Lock()
	defer p.bufMu.Unlock()
	msg, ok := sliceMessage(p.buf.String())
	if !ok {
		return p.buf.String()
	}
	return msg
}

func (p *Process) ClearBuffer() {
	p.bufMu.Lock()
	p.buf.Reset()
	p.bufMu.Unlock()
}

// Terminate detaches the callbacks, so the intentional exit is not reported
// as a crash, and kills the process.
func (p *Process) Terminate() {
	p.detached.Store(true)
	_ = p.stdin.Close()
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
}

// Done is closed once the process has been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}
