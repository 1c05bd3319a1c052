package client

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	gatev1 "github.com/ppiankov/actiongate/api/gate/v1"
	"github.com/ppiankov/actiongate/internal/model"
	"github.com/ppiankov/actiongate/internal/proposal"
)

// DefaultTimeout bounds every RPC the client makes.
const DefaultTimeout = 5 * time.Second

// Client connects to an actiongate gRPC server.
type Client struct {
	conn    *grpc.ClientConn
	client  *gatev1.GateClient
	timeout time.Duration
}

// New creates a gRPC client for addr.
// Fail-closed: if the server cannot be reached, Evaluate and Execute deny.
func New(addr string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to gate server: %w", err)
	}
	return &Client{
		conn:    conn,
		client:  gatev1.NewGateClient(conn),
		timeout: DefaultTimeout,
	}, nil
}

func (c *Client) call(ctx context.Context, method string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.client.Invoke(ctx, method, in, out)
}

func unreachable(err error) model.Decision {
	return model.Deny(fmt.Sprintf("gate server unreachable: %v", err))
}

// Evaluate asks the server for a decision on req.
// Fail-closed: any RPC error yields Deny.
func (c *Client) Evaluate(ctx context.Context, tenantID string, req model.ActionRequest) model.Decision {
	var resp gatev1.EvaluateResponse
	if err := c.call(ctx, gatev1.MethodEvaluate, gatev1.EvaluateRequest{TenantID: tenantID, Request: &req}, &resp); err != nil {
		return unreachable(err)
	}
	return resp.Decision
}

// EvaluateTool asks the server for a decision on a tool call, derived from
// the tool's governance descriptor. Fail-closed like Evaluate.
func (c *Client) EvaluateTool(ctx context.Context, tenantID, tool, args string) (gatev1.EvaluateResponse, error) {
	var resp gatev1.EvaluateResponse
	if err := c.call(ctx, gatev1.MethodEvaluate, gatev1.EvaluateRequest{TenantID: tenantID, Tool: tool, Args: args}, &resp); err != nil {
		resp.Decision = unreachable(err)
		return resp, err
	}
	return resp, nil
}

// Execute runs a governed tool call remotely. On RPC failure nothing is
// known to have run and the response carries a Deny.
func (c *Client) Execute(ctx context.Context, tenantID, actorID, tool, args string) (gatev1.ExecuteResponse, error) {
	var resp gatev1.ExecuteResponse
	err := c.call(ctx, gatev1.MethodExecute, gatev1.ExecuteRequest{
		TenantID: tenantID,
		ActorID:  actorID,
		Tool:     tool,
		Args:     args,
	}, &resp)
	if err != nil {
		d := unreachable(err)
		return gatev1.ExecuteResponse{Decision: d, Message: "Denied: " + d.Reason}, err
	}
	return resp, nil
}

// Approve executes a pending proposal via the remote server.
func (c *Client) Approve(ctx context.Context, id, approver string) (gatev1.ExecuteResponse, error) {
	var resp gatev1.ExecuteResponse
	err := c.call(ctx, gatev1.MethodApprove, gatev1.ApproveRequest{ID: id, Approver: approver}, &resp)
	return resp, err
}

// Reject rejects a pending proposal via the remote server.
func (c *Client) Reject(ctx context.Context, id, approver, note string) (*proposal.Proposal, error) {
	var resp gatev1.ProposalResponse
	if err := c.call(ctx, gatev1.MethodReject, gatev1.RejectRequest{ID: id, Approver: approver, Note: note}, &resp); err != nil {
		return nil, err
	}
	return resp.Proposal, nil
}

// ListPending returns pending proposals; an empty tenant lists all.
func (c *Client) ListPending(ctx context.Context, tenantID string) ([]*proposal.Proposal, error) {
	var resp gatev1.ListPendingResponse
	if err := c.call(ctx, gatev1.MethodListPending, gatev1.ListPendingRequest{TenantID: tenantID}, &resp); err != nil {
		return nil, err
	}
	return resp.Proposals, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
