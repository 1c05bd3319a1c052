package actiongate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"

	"github.com/ppiankov/actiongate/internal/audit"
	"github.com/ppiankov/actiongate/internal/dispatch"
	"github.com/ppiankov/actiongate/internal/gate"
	"github.com/ppiankov/actiongate/internal/model"
	"github.com/ppiankov/actiongate/internal/policy"
	"github.com/ppiankov/actiongate/internal/proposal"
)

// Client holds a governed gate for in-process enforcement.
// Thread-safe for concurrent tool calls.
type Client struct {
	cfg     clientConfig
	gate    *gate.Gate
	writer  *audit.Writer
	closers []func() error
}

// Proposal is a call waiting for a human decision.
type Proposal struct {
	ID        string
	Tool      string
	Summary   string
	Reason    string
	ExpiresAt time.Time
}

// New creates a Client with the given options. Without a policy source
// every tenant gets the read_only safe default.
func New(opts ...Option) (*Client, error) {
	cfg := clientConfig{
		tenantID: "default",
		actorID:  "sdk",
		logger:   log.Default(),
	}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.policyDir != "" && cfg.policyFile != "" {
		return nil, fmt.Errorf("actiongate: policy dir and policy file are mutually exclusive")
	}
	if err := policy.ValidateTenantID(cfg.tenantID); err != nil {
		return nil, fmt.Errorf("actiongate: %w", err)
	}

	tools := make([]dispatch.Tool, 0, len(cfg.tools))
	for _, t := range cfg.tools {
		tools = append(tools, toInternalTool(t))
	}
	reg, err := dispatch.NewRegistry(tools...)
	if err != nil {
		return nil, fmt.Errorf("actiongate: failed to register tools: %w", err)
	}

	c := &Client{cfg: cfg}

	var policies policy.Store
	switch {
	case cfg.policyFile != "":
		policies = policy.DocumentStore{Path: cfg.policyFile}
	case cfg.policyDir != "":
		policies = policy.NewFileStore(cfg.policyDir)
	}

	dir := cfg.proposalDir
	if dir == "" {
		dir = proposal.DefaultDir()
	}
	proposals, err := proposal.NewFileStore(dir)
	if err != nil {
		return nil, fmt.Errorf("actiongate: failed to create proposal store: %w", err)
	}
	c.closers = append(c.closers, proposals.Close)

	var sink audit.Sink = &audit.MemorySink{}
	if cfg.auditLog != "" {
		auditLog, err := audit.Open(cfg.auditLog)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("actiongate: %w", err)
		}
		c.closers = append(c.closers, auditLog.Close)
		sink = auditLog
	}
	c.writer = audit.NewWriter(sink, cfg.logger)
	c.closers = append(c.closers, c.writer.Close)

	g, err := gate.New(gate.Options{
		Policies:   policies,
		Dispatcher: dispatch.NewDispatcher(reg, dispatch.WithTimeout(cfg.timeout), dispatch.WithLogger(cfg.logger)),
		Proposals:  proposals,
		Audit:      c.writer,
		Logger:     cfg.logger,
	})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("actiongate: %w", err)
	}
	c.gate = g
	return c, nil
}

// Check evaluates policy for a call without executing anything.
func (c *Client) Check(ctx context.Context, toolName string, args map[string]any) (Result, error) {
	tool, ok := c.gate.Registry().Lookup(toolName)
	if !ok {
		return Result{}, errors.Mark(errors.Newf("unknown tool %s", toolName), model.ErrToolNotFound)
	}
	session := c.gate.Open(ctx, c.cfg.tenantID, c.cfg.actorID)
	return toResult(session.Check(tool.Request(args))), nil
}

// Execute governs one call. It returns the tool's data when the call ran,
// a *BlockedError when the policy stopped it, or the tool failure.
func (c *Client) Execute(ctx context.Context, toolName string, args map[string]any) (any, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "encode arguments"), model.ErrArgumentParse)
	}
	if args == nil {
		raw = []byte("{}")
	}
	session := c.gate.Open(ctx, c.cfg.tenantID, c.cfg.actorID)
	return fromOutcome(toolName, session.Execute(ctx, toolName, string(raw)))
}

// Approve runs a pending proposal on behalf of approver.
func (c *Client) Approve(ctx context.Context, id, approver string) (any, error) {
	out, err := c.gate.Approve(ctx, id, approver)
	if err != nil {
		if out.Decision.Denied() && out.Proposal != nil {
			return nil, &BlockedError{Tool: out.Proposal.Tool, Verdict: Deny, Reason: out.Decision.Reason}
		}
		return nil, err
	}
	return fromOutcome(out.Proposal.Tool, out)
}

// Reject closes a pending proposal without running it.
func (c *Client) Reject(ctx context.Context, id, approver, note string) error {
	_, err := c.gate.Reject(ctx, id, approver, note)
	return err
}

// Pending lists the client tenant's pending proposals.
func (c *Client) Pending(ctx context.Context) ([]Proposal, error) {
	ps, err := c.gate.Pending(ctx, c.cfg.tenantID)
	if err != nil {
		return nil, err
	}
	out := make([]Proposal, 0, len(ps))
	for _, p := range ps {
		out = append(out, Proposal{ID: p.ID, Tool: p.Tool, Summary: p.Summary, Reason: p.Reason, ExpiresAt: p.ExpiresAt})
	}
	return out, nil
}

// Flush waits until every audit record written so far is stored.
func (c *Client) Flush(ctx context.Context) error {
	return c.writer.Flush(ctx)
}

// Close flushes the audit trail and releases stores.
func (c *Client) Close() error {
	var first error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	c.closers = nil
	return first
}

func fromOutcome(toolName string, out gate.Outcome) (any, error) {
	switch {
	case out.Error != "":
		return nil, out.Err()
	case out.Result != nil && out.Result.OK:
		return out.Result.Data, nil
	case out.Result != nil:
		return nil, out.Result.Err()
	case out.Proposal != nil:
		return nil, &BlockedError{Tool: toolName, Verdict: NeedsApproval, Reason: out.Decision.Reason, ProposalID: out.Proposal.ID}
	}
	return nil, &BlockedError{Tool: toolName, Verdict: Verdict(out.Decision.Verdict), Reason: out.Decision.Reason}
}
