package main

// main.go: entrypoint. Loads settings, starts the verifier session, and
// serves MCP over stdio.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sanjit/dafny-mcp/internal/config"
	"github.com/sanjit/dafny-mcp/internal/dafny"
	"github.com/sanjit/dafny-mcp/internal/watch"
)

const version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath  string
	serverPath  string
	useRuntime  bool
	watchDirs   []string
	metricsAddr string
	logLevel    string
}

func newRootCmd() *cobra.Command {
	var opts rootOptions
	cmd := &cobra.Command{
		Use:   "dafny-mcp [-- server args...]",
		Short: "MCP server for the Dafny verifier",
		Long: `dafny-mcp - MCP server for the Dafny verifier

Runs DafnyServer as a supervised child process and exposes verification,
symbol lookup, rename, and counterexamples as MCP tools over stdio. Arguments
after -- are passed to the verifier on every spawn.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(cmd, opts, args)
			if err != nil {
				return err
			}
			setupLogging(settings)
			return run(cmd.Context(), settings, &mcp.StdioTransport{})
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.configPath, "config", config.DefaultPath(), "path to the YAML settings file")
	f.StringVar(&opts.serverPath, "server-path", "", "DafnyServer binary (overrides server_path)")
	f.BoolVar(&opts.useRuntime, "use-runtime", false, "host the server in a managed runtime such as mono")
	f.StringSliceVar(&opts.watchDirs, "watch", nil, "directories to watch for .dfy changes (repeatable)")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9464")
	f.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn, or error")
	return cmd
}

// loadSettings reads the config file and applies explicitly set flags on top.
func loadSettings(cmd *cobra.Command, opts rootOptions, args []string) (config.Settings, error) {
	settings, _, err := config.Load(opts.configPath)
	if err != nil {
		return settings, err
	}
	f := cmd.Flags()
	if f.Changed("server-path") {
		settings.ServerPath = opts.serverPath
	}
	if f.Changed("use-runtime") {
		settings.UseRuntime = opts.useRuntime
	}
	if f.Changed("watch") {
		settings.WatchDirs = opts.watchDirs
	}
	if f.Changed("metrics-addr") {
		settings.MetricsAddr = opts.metricsAddr
	}
	if f.Changed("log-level") {
		settings.LogLevel = opts.logLevel
	}
	if len(args) > 0 {
		settings.ServerArgs = append(settings.ServerArgs, args...)
	}
	return settings, settings.Validate()
}

// setupLogging sends structured logs to stderr; stdout carries the protocol.
func setupLogging(settings config.Settings) {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: settings.SlogLevel()})
	slog.SetDefault(slog.New(handler))
}

// run serves MCP on transport until the client disconnects or ctx ends. The
// metrics endpoint and the file watcher run alongside and stop with it.
func run(ctx context.Context, settings config.Settings, transport mcp.Transport) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "dafny-mcp",
		Version: version,
	}, nil)

	forwarder := newMCPNotifier(server)
	notifier := dafny.MultiNotifier{dafny.LogNotifier{}, forwarder}
	session := dafny.NewSession(settings, notifier)
	defer func() {
		if err := session.Close(); err != nil {
			slog.Warn("session close", slog.String("error", err.Error()))
		}
	}()

	registerTools(server, session)

	if err := session.Start(ctx); err != nil {
		slog.Warn("dafny server not started; fix the configuration and call dafny_reset",
			slog.String("error", err.Error()))
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return server.Run(ctx, transport)
	})
	g.Go(func() error { return forwarder.Run(ctx) })

	if settings.MetricsAddr != "" {
		g.Go(func() error { return serveMetrics(ctx, settings.MetricsAddr) })
	}

	if len(settings.WatchDirs) > 0 {
		w, err := watch.New(settings.WatchDirs, documentHandler(session), &watch.Options{
			Debounce: settings.AutomaticVerificationDelay,
		})
		if err != nil {
			cancel()
			_ = g.Wait()
			return err
		}
		g.Go(func() error { return w.Run(ctx) })
	}

	return g.Wait()
}

// documentHandler turns watcher batches into session document events.
func documentHandler(session *dafny.Session) watch.Handler {
	return func(changes []watch.Change) {
		for _, c := range changes {
			if c.Op == watch.OpRemove {
				session.Forget(c.Path)
				continue
			}
			session.DocumentChanged(c.Path)
		}
	}
}

func serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	slog.Info("metrics listening", slog.String("addr", addr))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
