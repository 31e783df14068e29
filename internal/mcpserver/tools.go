package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/joestump/migrator/internal/report"
	"github.com/joestump/migrator/store"
)

// --- Tool Definitions ---

func listMigrationsTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"list_migrations",
		"List every recorded migration with its state (up or down), ordered by creation time.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"format": {
					"type": "string",
					"enum": ["json", "markdown"],
					"description": "Output format (default: json)"
				}
			}
		}`),
	)
}

func createMigrationTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"create_migration",
		"Write a new migration script from the template and record it in state down.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"name": {
					"type": "string",
					"description": "Migration name (letters, digits, '-', '_', '.')"
				}
			},
			"required": ["name"]
		}`),
	)
}

func runMigrationsTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"run_migrations",
		"Run migrations up or down. Without a name, up runs every pending migration and down reverts the most recent one.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"direction": {
					"type": "string",
					"enum": ["up", "down"],
					"description": "Migration direction"
				},
				"name": {
					"type": "string",
					"description": "Run only this migration (optional)"
				}
			},
			"required": ["direction"]
		}`),
	)
}

func pruneMigrationsTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"prune_migrations",
		"Delete records whose script file no longer exists. Requires autosync mode.",
		json.RawMessage(`{
			"type": "object",
			"properties": {}
		}`),
	)
}

// --- Tool Handlers ---

type listArgs struct {
	Format string `json:"format"`
}

type createArgs struct {
	Name string `json:"name"`
}

type runArgs struct {
	Direction string `json:"direction"`
	Name      string `json:"name"`
}

// runResult is the response for run_migrations. On failure it still lists
// the migrations that completed before the error.
type runResult struct {
	Direction string       `json:"direction"`
	Migrated  []report.Row `json:"migrated"`
	Error     string       `json:"error,omitempty"`
}

func (s *Server) handleListMigrations(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args listArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}

	recs, err := s.migrations.List(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list migrations: %v", err)), nil
	}

	switch args.Format {
	case "", report.FormatJSON:
		return resultJSON(report.Rows(recs))
	case report.FormatMarkdown:
		return mcp.NewToolResultText(report.Markdown(recs)), nil
	}
	return mcp.NewToolResultError(fmt.Sprintf("unsupported format %q", args.Format)), nil
}

func (s *Server) handleCreateMigration(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args createArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if args.Name == "" {
		return mcp.NewToolResultError("name is required"), nil
	}

	rec, err := s.migrations.Create(ctx, args.Name)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("create migration: %v", err)), nil
	}
	return resultJSON(report.Rows([]store.Record{*rec})[0])
}

func (s *Server) handleRunMigrations(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args runArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if args.Direction == "" {
		return mcp.NewToolResultError("direction is required"), nil
	}

	done, err := s.migrations.Run(ctx, args.Direction, args.Name)
	if err != nil && len(done) == 0 {
		return mcp.NewToolResultError(fmt.Sprintf("run migrations: %v", err)), nil
	}

	res := runResult{Direction: args.Direction, Migrated: report.Rows(done)}
	if err != nil {
		res.Error = err.Error()
		data, merr := json.Marshal(res)
		if merr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("run migrations: %v", err)), nil
		}
		return mcp.NewToolResultError(string(data)), nil
	}
	return resultJSON(res)
}

func (s *Server) handlePruneMigrations(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pruned, err := s.migrations.Prune(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("prune migrations: %v", err)), nil
	}
	return resultJSON(report.Rows(pruned))
}

// resultJSON marshals v to JSON and returns it as a tool result.
func resultJSON(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
