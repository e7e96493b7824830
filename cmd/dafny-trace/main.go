package main

// dafny-trace runs every request kind against one .dfy file and prints the
// verifier's answers along with each session notification. For debugging.

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/sanjit/dafny-mcp/internal/config"
	"github.com/sanjit/dafny-mcp/internal/dafny"
)

func main() {
	if err := newCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newCmd() *cobra.Command {
	var configPath, serverPath string
	var quiet bool
	cmd := &cobra.Command{
		Use:           "dafny-trace <file.dfy> [-- server args...]",
		Short:         "Trace verifier requests for one file",
		Args:          cobra.MinimumNArgs(1),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, _, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("server-path") {
				settings.ServerPath = serverPath
			}
			settings.ServerArgs = append(settings.ServerArgs, args[1:]...)
			settings.AutomaticVerification = false

			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: settings.SlogLevel()})))

			var notifier dafny.Notifier = dafny.NotifierFunc(printNotification)
			if quiet {
				notifier = dafny.LogNotifier{}
			}
			file, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			return trace(cmd.Context(), settings, notifier, file)
		},
	}
	f := cmd.Flags()
	f.StringVar(&configPath, "config", config.DefaultPath(), "path to the YAML settings file")
	f.StringVar(&serverPath, "server-path", "", "DafnyServer binary (overrides server_path)")
	f.BoolVarP(&quiet, "quiet", "q", false, "log notifications instead of printing them")
	return cmd
}

func trace(ctx context.Context, settings config.Settings, notifier dafny.Notifier, file string) error {
	s := dafny.NewSession(settings, notifier)
	defer s.Close()

	if err := s.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	steps := []struct {
		name string
		run  func() (*mcp.CallToolResult, any, error)
	}{
		{"version", func() (*mcp.CallToolResult, any, error) { return dafny.DoVersion(ctx, s, true) }},
		{"verify", func() (*mcp.CallToolResult, any, error) { return dafny.DoVerify(ctx, s, file) }},
		{"symbols", func() (*mcp.CallToolResult, any, error) { return dafny.DoSymbols(ctx, s, file) }},
		{"counterexample", func() (*mcp.CallToolResult, any, error) { return dafny.DoCounterExample(ctx, s, file) }},
		{"status", func() (*mcp.CallToolResult, any, error) { return dafny.DoStatus(s) }},
	}
	for i, step := range steps {
		res, _, err := step.run()
		if err != nil {
			return fmt.Errorf("%s: %w", step.name, err)
		}
		fmt.Printf("=== Step %d: %s ===\n", i+1, step.name)
		if res.IsError {
			fmt.Print("error: ")
		}
		fmt.Println(resultText(res))
		fmt.Println()
	}
	return nil
}

func printNotification(n dafny.Notification) {
	var detail string
	switch n.Kind {
	case dafny.KindQueueSizeChanged:
		detail = fmt.Sprintf("size=%d", n.QueueSize)
	case dafny.KindServerStarted:
		detail = fmt.Sprintf("pid=%d", n.PID)
	case dafny.KindActiveDocumentChanged:
		detail = n.URI
	case dafny.KindVerificationResult:
		if n.Result != nil {
			detail = fmt.Sprintf("%s %s errors=%d", n.URI, n.Result.Status, n.Result.ErrorCount)
		}
	case dafny.KindServerStatusChanged:
		detail = n.Status
	case dafny.KindMessage:
		detail = n.Level.String() + " " + n.Text
	case dafny.KindProgress:
		detail = fmt.Sprintf("%s %d/%d", n.Domain, n.Current, n.Total)
	}
	fmt.Fprintf(os.Stderr, "[%s] %s\n", n.Kind, detail)
}

func resultText(res *mcp.CallToolResult) string {
	var parts []string
	for _, c := range res.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
