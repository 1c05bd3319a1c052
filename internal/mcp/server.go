package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/actiongate/internal/gate"
	"github.com/ppiankov/actiongate/internal/policy"
)

// Config holds MCP server configuration. One server speaks for one actor
// of one tenant; Approver is the identity recorded on approvals made
// through gate_approve and gate_reject.
type Config struct {
	TenantID string
	ActorID  string
	Approver string
	Version  string
}

// Server wraps the MCP SDK server with governed tool execution.
type Server struct {
	mcpServer *mcpsdk.Server
	gate      *gate.Gate
	logger    *log.Logger
	cfg       Config
}

// New creates an MCP server in front of g.
func New(g *gate.Gate, cfg Config, logger *log.Logger) (*Server, error) {
	if err := policy.ValidateTenantID(cfg.TenantID); err != nil {
		return nil, fmt.Errorf("invalid tenant: %w", err)
	}
	if cfg.ActorID == "" {
		return nil, fmt.Errorf("actor id is required")
	}
	if cfg.Approver == "" {
		cfg.Approver = cfg.ActorID
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if logger == nil {
		logger = log.Default()
	}

	s := &Server{gate: g, logger: logger, cfg: cfg}
	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "actiongate",
			Version: cfg.Version,
		},
		nil,
	)
	s.registerTools()
	return s, nil
}

// Run starts the MCP server on stdio transport. Blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("mcp server starting", "tenant", s.cfg.TenantID, "actor", s.cfg.ActorID)
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// registerTools adds all gate tools to the MCP server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "gate_execute",
		Description: "Run a studio tool under tenant policy. The call is executed, turned into a proposal awaiting human approval, or denied with a reason. Available tools: " + toolList(s.gate) + ".",
	}, s.handleExecute)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "gate_check",
		Description: "Check what policy would decide for a tool call without running it (dry-run).",
	}, s.handleCheck)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "gate_approve",
		Description: "Approve and execute a pending proposal by id.",
	}, s.handleApprove)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "gate_reject",
		Description: "Reject a pending proposal by id.",
	}, s.handleReject)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "gate_pending",
		Description: "List pending proposals for this tenant.",
	}, s.handlePending)
}

func toolList(g *gate.Gate) string {
	names := g.Registry().Names()
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ", ")
}
