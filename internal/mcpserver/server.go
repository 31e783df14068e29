// Package mcpserver implements an MCP (Model Context Protocol) server that
// exposes migration operations as typed tools over stdio JSON-RPC.
// It wraps a migrator.Migrator configured by the CLI.
package mcpserver

import (
	"context"
	"log"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/joestump/migrator/internal/config"
	"github.com/joestump/migrator/store"
)

// Migrations is the subset of *migrator.Migrator the tools call.
type Migrations interface {
	List(ctx context.Context) ([]store.Record, error)
	Create(ctx context.Context, name string) (*store.Record, error)
	Run(ctx context.Context, direction, name string) ([]store.Record, error)
	Prune(ctx context.Context) ([]store.Record, error)
}

// Server holds the MCP server state.
type Server struct {
	migrations Migrations
}

// NewServer creates an MCP server backed by m.
func NewServer(m Migrations) *Server {
	return &Server{migrations: m}
}

func (s *Server) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: listMigrationsTool(), Handler: s.handleListMigrations},
		{Tool: createMigrationTool(), Handler: s.handleCreateMigration},
		{Tool: runMigrationsTool(), Handler: s.handleRunMigrations},
		{Tool: pruneMigrationsTool(), Handler: s.handlePruneMigrations},
	}
}

// Run starts the MCP stdio server. It blocks until ctx is cancelled or
// stdin is closed.
func Run(ctx context.Context, m Migrations) error {
	s := NewServer(m)

	mcpServer := server.NewMCPServer(
		"migrate",
		config.Version,
		server.WithToolCapabilities(true),
	)
	mcpServer.AddTools(s.tools()...)

	stdio := server.NewStdioServer(mcpServer)
	stdio.SetErrorLogger(log.New(os.Stderr, "[mcp] ", log.LstdFlags))

	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}
