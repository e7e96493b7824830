package main

// tools.go: MCP tool registration wiring each tool name to its handler.

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sanjit/dafny-mcp/internal/dafny"
)

// Tool argument types.

type fileArg struct {
	File string `json:"file" jsonschema:"path to the .dfy file"`
}

type positionArg struct {
	File string `json:"file" jsonschema:"path to the .dfy file"`
	Line int    `json:"line" jsonschema:"0-indexed line number"`
	Col  int    `json:"col" jsonschema:"0-indexed column number"`
}

type renameArg struct {
	File    string `json:"file" jsonschema:"path to the .dfy file"`
	Line    int    `json:"line" jsonschema:"0-indexed line number"`
	Col     int    `json:"col" jsonschema:"0-indexed column number"`
	NewName string `json:"new_name" jsonschema:"the new identifier"`
	Apply   bool   `json:"apply,omitempty" jsonschema:"rewrite the file instead of only listing the edits"`
}

type versionArg struct {
	Check bool `json:"check,omitempty" jsonschema:"also ask whether a newer Dafny release is required"`
}

type emptyArg struct{}

// registerTools registers all MCP tools on the server.
func registerTools(server *mcp.Server, s *dafny.Session) {
	// Verification.
	mcp.AddTool(server, &mcp.Tool{
		Name:        "dafny_verify",
		Description: "Verify a .dfy file. Reads the file from disk, so save edits first. Returns the verification status, proof obligation count, and diagnostics.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args fileArg) (*mcp.CallToolResult, any, error) {
		return dafny.DoVerify(ctx, s, args.File)
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "dafny_counterexample",
		Description: "Ask the verifier for a counterexample to a failing assertion in a .dfy file. Lists the program states and variable values.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args fileArg) (*mcp.CallToolResult, any, error) {
		return dafny.DoCounterExample(ctx, s, args.File)
	})

	// Navigation.
	mcp.AddTool(server, &mcp.Tool{
		Name:        "dafny_symbols",
		Description: "List the classes, methods, functions, and fields declared in a .dfy file.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args fileArg) (*mcp.CallToolResult, any, error) {
		return dafny.DoSymbols(ctx, s, args.File)
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "dafny_definition",
		Description: "Find where the identifier at a position is declared.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args positionArg) (*mcp.CallToolResult, any, error) {
		return dafny.DoDefinition(ctx, s, args.File, args.Line, args.Col)
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "dafny_references",
		Description: "List every use of the identifier at a position.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args positionArg) (*mcp.CallToolResult, any, error) {
		return dafny.DoReferences(ctx, s, args.File, args.Line, args.Col)
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "dafny_rename",
		Description: "Rename the identifier at a position. Lists the edits; set apply to rewrite the file.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args renameArg) (*mcp.CallToolResult, any, error) {
		return dafny.DoRename(ctx, s, args.File, args.Line, args.Col, args.NewName, args.Apply)
	})

	// Server lifecycle.
	mcp.AddTool(server, &mcp.Tool{
		Name:        "dafny_version",
		Description: "Report the Dafny version of the running verifier.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args versionArg) (*mcp.CallToolResult, any, error) {
		return dafny.DoVersion(ctx, s, args.Check)
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "dafny_status",
		Description: "Show the verifier state, its process id, the request queue, and the last result per file.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args emptyArg) (*mcp.CallToolResult, any, error) {
		return dafny.DoStatus(s)
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "dafny_reset",
		Description: "Restart the verifier. Use when it is stuck or stopped after repeated crashes. Queued requests are discarded.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args emptyArg) (*mcp.CallToolResult, any, error) {
		return dafny.DoReset(ctx, s)
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "dafny_stop",
		Description: "Stop the verifier until the next dafny_reset.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args emptyArg) (*mcp.CallToolResult, any, error) {
		return dafny.DoStop(ctx, s)
	})
}
