package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/actiongate/internal/alert"
	"github.com/ppiankov/actiongate/internal/audit"
	"github.com/ppiankov/actiongate/internal/dispatch"
	"github.com/ppiankov/actiongate/internal/model"
	"github.com/ppiankov/actiongate/internal/proposal"
)

type swapStore struct {
	mu  sync.Mutex
	cfg model.PolicyConfig
}

func (s *swapStore) Load(ctx context.Context, tenantID string) (*model.Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.NewPolicy(tenantID, "test", s.cfg), nil
}

func (s *swapStore) set(cfg model.PolicyConfig) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	gate     *Gate
	policies *swapStore
	sink     *audit.MemorySink
	writer   *audit.Writer
	clock    *fakeClock
	leads    atomic.Int64
	invoices atomic.Int64
}

func newTestHarness(t *testing.T, cfg model.PolicyConfig) *harness {
	t.Helper()
	h := &harness{
		policies: &swapStore{cfg: cfg},
		sink:     &audit.MemorySink{},
		clock:    &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
	}
	h.writer = audit.NewWriter(h.sink, nil)
	t.Cleanup(func() { h.writer.Close() })

	reg, err := dispatch.NewRegistry(
		dispatch.Tool{
			Name:       "create_lead",
			Governance: dispatch.Governance{Authority: "CREATE_LEAD", Table: "leads", Risk: model.RiskLow},
			Handler: func(ctx context.Context, args map[string]any, tc dispatch.ToolContext) (dispatch.Outcome, error) {
				n := h.leads.Add(1)
				return dispatch.Done(map[string]any{"id": fmt.Sprintf("lead-%d", n)}), nil
			},
		},
		dispatch.Tool{
			Name:       "create_invoice",
			Schema:     json.RawMessage(`{"type":"object","required":["total"],"properties":{"total":{"type":"number"}}}`),
			Governance: dispatch.Governance{Authority: "CREATE_INVOICE", Table: "invoices", AmountField: "total", Risk: model.RiskMed},
			Handler: func(ctx context.Context, args map[string]any, tc dispatch.ToolContext) (dispatch.Outcome, error) {
				h.invoices.Add(1)
				return dispatch.Done(map[string]any{"total": args["total"], "proposal": tc.ProposalID}), nil
			},
		},
		dispatch.Tool{
			Name:       "sync_ledger",
			Governance: dispatch.Governance{Authority: "SYNC_LEDGER"},
			Handler: func(ctx context.Context, args map[string]any, tc dispatch.ToolContext) (dispatch.Outcome, error) {
				return dispatch.Outcome{}, fmt.Errorf("ledger backend down")
			},
		},
	)
	require.NoError(t, err)

	store, err := proposal.NewFileStore(t.TempDir())
	require.NoError(t, err)

	h.gate, err = New(Options{
		Policies:   h.policies,
		Dispatcher: dispatch.NewDispatcher(reg, dispatch.WithTimeout(2*time.Second)),
		Proposals:  store,
		Audit:      h.writer,
		Now:        h.clock.Now,
	})
	require.NoError(t, err)
	return h
}

func (h *harness) records(t *testing.T) []audit.Record {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.writer.Flush(ctx))
	return h.sink.Records()
}

func kinds(records []audit.Record) []audit.Kind {
	out := make([]audit.Kind, len(records))
	for i, r := range records {
		out[i] = r.Kind
	}
	return out
}

var autoAll = model.PolicyConfig{
	Mode:                       "auto_all",
	Authorities:                []string{"CREATE_LEAD", "CREATE_INVOICE", "SYNC_LEDGER"},
	ApprovalRequiredOverAmount: 100,
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestExecuteAllowedRunsToolAndAudits(t *testing.T) {
	h := newTestHarness(t, autoAll)
	s := h.gate.Open(context.Background(), "acme", "agent-1")

	out := s.Execute(context.Background(), "create_invoice", `{"total": 40}`)

	require.True(t, out.Executed(), out.Message())
	assert.True(t, out.Decision.Allowed())
	assert.Nil(t, out.Err())
	assert.Equal(t, int64(1), h.invoices.Load())

	recs := h.records(t)
	require.Len(t, recs, 1)
	rec := recs[0]
	assert.Equal(t, audit.KindExecution, rec.Kind)
	assert.Equal(t, "acme", rec.TenantID)
	assert.Equal(t, "agent-1", rec.ActorID)
	assert.Equal(t, "create_invoice", rec.Action)
	assert.Equal(t, "invoices", rec.TargetTable)
	require.NotNil(t, rec.Amount)
	assert.Equal(t, 40.0, *rec.Amount)
	require.NotNil(t, rec.Request)
	assert.Equal(t, "CREATE_INVOICE", rec.Request.Authority)
	assert.Equal(t, s.Policy().Hash(), rec.PolicyHash)
}

func TestExecuteDeniedNeverRuns(t *testing.T) {
	h := newTestHarness(t, model.PolicyConfig{Mode: "auto_all", Authorities: []string{"CREATE_LEAD"}})
	s := h.gate.Open(context.Background(), "acme", "agent-1")

	out := s.Execute(context.Background(), "create_invoice", `{"total": 10}`)

	assert.True(t, out.Decision.Denied())
	assert.Equal(t, "Authority CREATE_INVOICE not granted.", out.Decision.Reason)
	assert.Nil(t, out.Result)
	assert.True(t, errors.Is(out.Err(), model.ErrAuthorityDenied))
	assert.Equal(t, int64(0), h.invoices.Load())
	assert.Equal(t, []audit.Kind{audit.KindDenial}, kinds(h.records(t)))
}

func TestExecuteOverLimitProposesOnce(t *testing.T) {
	h := newTestHarness(t, autoAll)
	ctx := context.Background()
	s := h.gate.Open(ctx, "acme", "agent-1")

	first := s.Execute(ctx, "create_invoice", `{"total": 450, "client": "c1"}`)
	second := s.Execute(ctx, "create_invoice", `{"client": "c1", "total": 450}`)

	require.NotNil(t, first.Proposal)
	require.NotNil(t, second.Proposal)
	assert.Equal(t, first.Proposal.ID, second.Proposal.ID)
	assert.Equal(t, "Amount 450 exceeds auto limit 100.", first.Decision.Reason)
	assert.Equal(t, proposal.StatusPending, first.Proposal.Status)
	assert.Equal(t, h.clock.Now().Add(proposal.DefaultTTL), first.Proposal.ExpiresAt)
	assert.Equal(t, "create_invoice on invoices for 450", first.Proposal.Summary)
	assert.Contains(t, first.Message(), first.Proposal.ID)
	assert.Equal(t, int64(0), h.invoices.Load())

	pending, err := h.gate.Pending(ctx, "acme")
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	recs := h.records(t)
	require.Equal(t, []audit.Kind{audit.KindProposal}, kinds(recs))
	assert.Equal(t, first.Proposal.ID, recs[0].ProposalID)
}

func TestExecuteDifferentActorsGetSeparateProposals(t *testing.T) {
	h := newTestHarness(t, autoAll)
	ctx := context.Background()

	a := h.gate.Open(ctx, "acme", "agent-1").Execute(ctx, "create_invoice", `{"total": 450}`)
	b := h.gate.Open(ctx, "acme", "agent-2").Execute(ctx, "create_invoice", `{"total": 450}`)

	require.NotNil(t, a.Proposal)
	require.NotNil(t, b.Proposal)
	assert.NotEqual(t, a.Proposal.ID, b.Proposal.ID)
}

func TestExecuteConcurrentIdenticalCallsShareProposal(t *testing.T) {
	h := newTestHarness(t, autoAll)
	ctx := context.Background()
	s := h.gate.Open(ctx, "acme", "agent-1")

	const n = 8
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out := s.Execute(ctx, "create_invoice", `{"total": 450}`)
			if out.Proposal != nil {
				ids[i] = out.Proposal.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		require.NotEmpty(t, id)
		assert.Equal(t, ids[0], id)
	}
	pending, err := h.gate.Pending(ctx, "acme")
	require.NoError(t, err)
	assert.Len(t, pending, 1)
	assert.Equal(t, []audit.Kind{audit.KindProposal}, kinds(h.records(t)))
}

func TestExecuteReplacesExpiredPendingProposal(t *testing.T) {
	h := newTestHarness(t, autoAll)
	ctx := context.Background()
	s := h.gate.Open(ctx, "acme", "agent-1")

	first := s.Execute(ctx, "create_invoice", `{"total": 450}`)
	require.NotNil(t, first.Proposal)

	h.clock.Advance(proposal.DefaultTTL + time.Minute)
	second := s.Execute(ctx, "create_invoice", `{"total": 450}`)
	require.NotNil(t, second.Proposal)

	assert.NotEqual(t, first.Proposal.ID, second.Proposal.ID)
	assert.Equal(t, h.clock.Now().Add(proposal.DefaultTTL), second.Proposal.ExpiresAt)

	old, err := h.gate.proposals.Get(ctx, first.Proposal.ID)
	require.NoError(t, err)
	assert.Equal(t, proposal.StatusExpired, old.Status)

	recs := h.records(t)
	require.Equal(t, []audit.Kind{audit.KindProposal, audit.KindDenial, audit.KindProposal}, kinds(recs))
	assert.Equal(t, first.Proposal.ID, recs[1].ProposalID)
	assert.Equal(t, "Proposal expired.", recs[1].Reason)
	assert.Equal(t, second.Proposal.ID, recs[2].ProposalID)
}

func TestExecuteUnknownToolAuditedAsFailure(t *testing.T) {
	h := newTestHarness(t, autoAll)
	s := h.gate.Open(context.Background(), "acme", "agent-1")

	out := s.Execute(context.Background(), "drop_tables", `{}`)

	require.NotNil(t, out.Result)
	assert.Equal(t, dispatch.CodeUnknownTool, out.Result.Code)
	assert.True(t, errors.Is(out.Err(), model.ErrToolNotFound))

	recs := h.records(t)
	require.Len(t, recs, 1)
	assert.Equal(t, audit.KindFailure, recs[0].Kind)
	assert.Equal(t, "drop_tables", recs[0].Action)
	assert.Equal(t, "unknown_tool", recs[0].Reason)
}

func TestExecuteMalformedArgsNeverProposes(t *testing.T) {
	h := newTestHarness(t, autoAll)
	s := h.gate.Open(context.Background(), "acme", "agent-1")

	bad := s.Execute(context.Background(), "create_invoice", `{"total": `)
	invalid := s.Execute(context.Background(), "create_invoice", `{"client": "c1"}`)

	require.NotNil(t, bad.Result)
	assert.Equal(t, dispatch.CodeBadJSON, bad.Result.Code)
	require.NotNil(t, invalid.Result)
	assert.Equal(t, dispatch.CodeInvalidArgs, invalid.Result.Code)

	pending, err := h.gate.Pending(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Equal(t, []audit.Kind{audit.KindFailure, audit.KindFailure}, kinds(h.records(t)))
}

func TestExecuteToolErrorIsFailureRecord(t *testing.T) {
	h := newTestHarness(t, autoAll)
	s := h.gate.Open(context.Background(), "acme", "agent-1")

	out := s.Execute(context.Background(), "sync_ledger", "")

	require.NotNil(t, out.Result)
	assert.False(t, out.Result.OK)
	assert.Equal(t, "❌ sync_ledger: ledger backend down", out.Message())

	recs := h.records(t)
	require.Len(t, recs, 1)
	assert.Equal(t, audit.KindFailure, recs[0].Kind)
	assert.Equal(t, "ledger backend down", recs[0].Reason)
}

func TestSessionKeepsPolicySnapshot(t *testing.T) {
	h := newTestHarness(t, autoAll)
	ctx := context.Background()
	s := h.gate.Open(ctx, "acme", "agent-1")

	h.policies.set(model.PolicyConfig{Mode: "read_only"})

	assert.True(t, s.Execute(ctx, "create_lead", `{"name":"Ada"}`).Executed())
	fresh := h.gate.Open(ctx, "acme", "agent-1")
	assert.True(t, fresh.Execute(ctx, "create_lead", `{"name":"Ada"}`).Decision.Denied())
}

func TestMissingPolicyStoreIsReadOnly(t *testing.T) {
	h := newTestHarness(t, autoAll)
	g, err := New(Options{
		Dispatcher: h.gate.dispatcher,
		Proposals:  h.gate.proposals,
		Audit:      h.writer,
	})
	require.NoError(t, err)

	s := g.Open(context.Background(), "acme", "agent-1")
	assert.Equal(t, model.ModeReadOnly, s.Policy().Mode())
	assert.True(t, s.Check(model.ActionRequest{Authority: "READ_CLIENTS"}).NeedsApproval())
	assert.True(t, s.Check(model.ActionRequest{Authority: "CREATE_LEAD"}).Denied())
}

func TestExecuteBatchKeepsOrder(t *testing.T) {
	h := newTestHarness(t, autoAll)
	s := h.gate.Open(context.Background(), "acme", "agent-1")

	outs := s.ExecuteBatch(context.Background(), []ToolCall{
		{Name: "create_lead", Args: `{"name":"a"}`},
		{Name: "create_invoice", Args: `{"total": 500}`},
		{Name: "nope", Args: `{}`},
	})

	require.Len(t, outs, 3)
	assert.True(t, outs[0].Executed())
	assert.NotNil(t, outs[1].Proposal)
	assert.Equal(t, dispatch.CodeUnknownTool, outs[2].Result.Code)
	assert.Len(t, h.records(t), 3)
}

func TestApproveExecutesOnce(t *testing.T) {
	h := newTestHarness(t, autoAll)
	ctx := context.Background()
	out := h.gate.Open(ctx, "acme", "agent-1").Execute(ctx, "create_invoice", `{"total": 450}`)
	require.NotNil(t, out.Proposal)

	res, err := h.gate.Approve(ctx, out.Proposal.ID, "alice")
	require.NoError(t, err)
	require.True(t, res.Executed())
	assert.Equal(t, proposal.StatusExecuted, res.Proposal.Status)
	assert.Equal(t, "alice", res.Proposal.ResolvedBy)
	assert.Equal(t, int64(1), h.invoices.Load())

	data, ok := res.Result.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, out.Proposal.ID, data["proposal"])

	_, err = h.gate.Approve(ctx, out.Proposal.ID, "bob")
	assert.True(t, errors.Is(err, model.ErrProposalResolved))
	assert.Equal(t, int64(1), h.invoices.Load())

	recs := h.records(t)
	require.Equal(t, []audit.Kind{audit.KindProposal, audit.KindExecution}, kinds(recs))
	assert.Equal(t, "agent-1", recs[1].ActorID)
	assert.Equal(t, out.Proposal.ID, recs[1].ProposalID)
}

func TestApproveConcurrentExecutesOnce(t *testing.T) {
	h := newTestHarness(t, autoAll)
	ctx := context.Background()
	out := h.gate.Open(ctx, "acme", "agent-1").Execute(ctx, "create_invoice", `{"total": 450}`)
	require.NotNil(t, out.Proposal)

	var (
		wg        sync.WaitGroup
		successes atomic.Int64
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := h.gate.Approve(ctx, out.Proposal.ID, fmt.Sprintf("approver-%d", i)); err == nil {
				successes.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), successes.Load())
	assert.Equal(t, int64(1), h.invoices.Load())
}

func TestApproveRevalidatesAgainstCurrentPolicy(t *testing.T) {
	h := newTestHarness(t, autoAll)
	ctx := context.Background()
	out := h.gate.Open(ctx, "acme", "agent-1").Execute(ctx, "create_invoice", `{"total": 450}`)
	require.NotNil(t, out.Proposal)

	h.policies.set(model.PolicyConfig{Mode: "auto_all", Authorities: []string{"CREATE_LEAD"}})

	res, err := h.gate.Approve(ctx, out.Proposal.ID, "alice")
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrAuthorityDenied))
	assert.True(t, res.Decision.Denied())
	assert.Equal(t, proposal.StatusRejected, res.Proposal.Status)
	assert.Equal(t, int64(0), h.invoices.Load())

	recs := h.records(t)
	require.Equal(t, []audit.Kind{audit.KindProposal, audit.KindDenial}, kinds(recs))
	assert.Equal(t, "Authority CREATE_INVOICE not granted.", recs[1].Reason)
}

func TestApproveExpiredProposal(t *testing.T) {
	h := newTestHarness(t, autoAll)
	ctx := context.Background()
	out := h.gate.Open(ctx, "acme", "agent-1").Execute(ctx, "create_invoice", `{"total": 450}`)
	require.NotNil(t, out.Proposal)

	h.clock.Advance(proposal.DefaultTTL + time.Minute)

	res, err := h.gate.Approve(ctx, out.Proposal.ID, "alice")
	assert.True(t, errors.Is(err, model.ErrProposalExpired))
	assert.Equal(t, proposal.StatusExpired, res.Proposal.Status)
	assert.Equal(t, int64(0), h.invoices.Load())

	recs := h.records(t)
	require.Equal(t, []audit.Kind{audit.KindProposal, audit.KindDenial}, kinds(recs))
	assert.Equal(t, "Proposal expired.", recs[1].Reason)
}

func TestApproveFailingToolMarksFailed(t *testing.T) {
	h := newTestHarness(t, model.PolicyConfig{Mode: "propose", Authorities: []string{"SYNC_LEDGER"}})
	ctx := context.Background()
	out := h.gate.Open(ctx, "acme", "agent-1").Execute(ctx, "sync_ledger", `{}`)
	require.NotNil(t, out.Proposal)
	assert.Equal(t, "Propose mode.", out.Decision.Reason)

	res, err := h.gate.Approve(ctx, out.Proposal.ID, "alice")
	require.NoError(t, err)
	assert.False(t, res.Executed())
	assert.Equal(t, proposal.StatusFailed, res.Proposal.Status)
	assert.Equal(t, "ledger backend down", res.Proposal.Note)
	assert.Equal(t, []audit.Kind{audit.KindProposal, audit.KindFailure}, kinds(h.records(t)))
}

func TestApproveUnknownProposal(t *testing.T) {
	h := newTestHarness(t, autoAll)
	_, err := h.gate.Approve(context.Background(), "does-not-exist", "alice")
	assert.True(t, errors.Is(err, model.ErrProposalNotFound))
	assert.Empty(t, h.records(t))
}

func TestReject(t *testing.T) {
	h := newTestHarness(t, autoAll)
	ctx := context.Background()
	out := h.gate.Open(ctx, "acme", "agent-1").Execute(ctx, "create_invoice", `{"total": 450}`)
	require.NotNil(t, out.Proposal)

	p, err := h.gate.Reject(ctx, out.Proposal.ID, "alice", "too big")
	require.NoError(t, err)
	assert.Equal(t, proposal.StatusRejected, p.Status)
	assert.Equal(t, "too big", p.Note)

	_, err = h.gate.Reject(ctx, out.Proposal.ID, "bob", "")
	assert.True(t, errors.Is(err, model.ErrProposalResolved))

	recs := h.records(t)
	require.Equal(t, []audit.Kind{audit.KindProposal, audit.KindDenial}, kinds(recs))
	assert.Equal(t, "Rejected by alice: too big", recs[1].Reason)
	assert.Equal(t, model.VerdictDeny, recs[1].Decision)
}

func TestExpireDue(t *testing.T) {
	h := newTestHarness(t, autoAll)
	ctx := context.Background()
	s := h.gate.Open(ctx, "acme", "agent-1")
	s.Execute(ctx, "create_invoice", `{"total": 450}`)
	s.Execute(ctx, "create_invoice", `{"total": 900}`)

	none, err := h.gate.ExpireDue(ctx)
	require.NoError(t, err)
	assert.Empty(t, none)

	h.clock.Advance(proposal.DefaultTTL + time.Second)
	expired, err := h.gate.ExpireDue(ctx)
	require.NoError(t, err)
	assert.Len(t, expired, 2)

	pending, err := h.gate.Pending(ctx, "acme")
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Equal(t, []audit.Kind{audit.KindProposal, audit.KindProposal, audit.KindDenial, audit.KindDenial}, kinds(h.records(t)))
}

func TestAlertsFireForProposalsOnly(t *testing.T) {
	var (
		mu     sync.Mutex
		events []alert.Event
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev alert.Event
		_ = json.NewDecoder(r.Body).Decode(&ev)
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h := newTestHarness(t, autoAll)
	alerts := alert.NewDispatcher([]alert.Config{{URL: srv.URL, Format: "generic", Events: []string{"proposal"}}}, nil)
	h.gate.alerts = alerts

	ctx := context.Background()
	s := h.gate.Open(ctx, "acme", "agent-1")
	s.Execute(ctx, "create_lead", `{"name":"Ada"}`)
	out := s.Execute(ctx, "create_invoice", `{"total": 450}`)
	require.NotNil(t, out.Proposal)
	alerts.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 1)
	assert.Equal(t, "proposal", events[0].Kind)
	assert.Equal(t, out.Proposal.ID, events[0].ProposalID)
	assert.Equal(t, "acme", events[0].TenantID)
}
