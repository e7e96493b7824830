package main

// notify.go forwards session notifications to connected MCP clients as log
// messages.

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/time/rate"

	"github.com/sanjit/dafny-mcp/internal/dafny"
)

const (
	loggerName  = "dafny"
	notifyQueue = 256
)

// mcpNotifier queues notifications and forwards them from its own goroutine,
// so a slow client never stalls the supervisor.
type mcpNotifier struct {
	server   *mcp.Server
	progress *rate.Limiter
	timeout  time.Duration
	out      chan *mcp.LoggingMessageParams
}

func newMCPNotifier(server *mcp.Server) *mcpNotifier {
	return &mcpNotifier{
		server:   server,
		progress: rate.NewLimiter(rate.Every(500*time.Millisecond), 1),
		timeout:  2 * time.Second,
		out:      make(chan *mcp.LoggingMessageParams, notifyQueue),
	}
}

// Notify never blocks. When the queue is full the notification is dropped.
func (n *mcpNotifier) Notify(note dafny.Notification) {
	params, ok := n.params(note)
	if !ok {
		return
	}
	select {
	case n.out <- params:
	default:
		slog.Warn("mcp notification queue full; dropping", slog.String("kind", note.Kind.String()))
	}
}

// Run forwards queued notifications to every connected session until ctx
// ends.
func (n *mcpNotifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case params := <-n.out:
			n.forward(ctx, params)
		}
	}
}

func (n *mcpNotifier) forward(ctx context.Context, params *mcp.LoggingMessageParams) {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	for ss := range n.server.Sessions() {
		if err := ss.Log(ctx, params); err != nil {
			slog.Debug("forward notification", slog.String("error", err.Error()))
		}
	}
}

// params maps a notification to an MCP log message. Queue and status churn go
// out at debug level; progress is rate limited.
func (n *mcpNotifier) params(note dafny.Notification) (*mcp.LoggingMessageParams, bool) {
	p := &mcp.LoggingMessageParams{Logger: loggerName, Level: "debug"}
	data := map[string]any{"kind": note.Kind.String()}

	switch note.Kind {
	case dafny.KindQueueSizeChanged:
		data["queueSize"] = note.QueueSize
	case dafny.KindServerStarted:
		p.Level = "info"
		data["pid"] = note.PID
		data["message"] = fmt.Sprintf("Dafny server started (pid %d)", note.PID)
		if note.Version != "" {
			data["version"] = note.Version
		}
	case dafny.KindActiveDocumentChanged:
		data["uri"] = note.URI
	case dafny.KindVerificationResult:
		p.Level = "info"
		data["uri"] = note.URI
		if r := note.Result; r != nil {
			data["status"] = r.Status.String()
			data["errorCount"] = r.ErrorCount
			data["proofObligations"] = r.ProofObligations
			data["crashed"] = r.Crashed
			if r.ErrorCount > 0 || r.Crashed {
				p.Level = "warning"
			}
		}
		data["diagnostics"] = note.Diagnostics
	case dafny.KindServerStatusChanged:
		data["status"] = note.Status
	case dafny.KindMessage:
		p.Level = mcpLevel(note.Level)
		data["message"] = note.Text
	case dafny.KindProgress:
		if !n.progress.Allow() && note.Current < note.Total {
			return nil, false
		}
		data["domain"] = note.Domain
		data["current"] = note.Current
		data["total"] = note.Total
	default:
		return nil, false
	}
	p.Data = data
	return p, true
}

func mcpLevel(l slog.Level) mcp.LoggingLevel {
	switch {
	case l >= slog.LevelError:
		return "error"
	case l >= slog.LevelWarn:
		return "warning"
	case l >= slog.LevelInfo:
		return "info"
	}
	return "debug"
}
