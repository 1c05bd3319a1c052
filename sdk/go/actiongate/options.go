package actiongate

import (
	"time"

	"github.com/charmbracelet/log"
)

// Option configures a Client at creation time.
type Option func(*clientConfig)

type clientConfig struct {
	policyDir   string
	policyFile  string
	proposalDir string
	auditLog    string
	tenantID    string
	actorID     string
	timeout     time.Duration
	logger      *log.Logger
	tools       []Tool
}

// WithPolicyDir serves one <tenant>.yaml per tenant from dir.
func WithPolicyDir(dir string) Option {
	return func(c *clientConfig) { c.policyDir = dir }
}

// WithPolicyFile serves one policy document to every tenant.
func WithPolicyFile(path string) Option {
	return func(c *clientConfig) { c.policyFile = path }
}

// WithProposalDir sets where pending proposals are stored.
func WithProposalDir(dir string) Option {
	return func(c *clientConfig) { c.proposalDir = dir }
}

// WithAuditLog appends audit records to a hash-chained JSONL file.
// Without it records are kept in memory.
func WithAuditLog(path string) Option {
	return func(c *clientConfig) { c.auditLog = path }
}

// WithTenant sets the tenant whose policy governs calls.
func WithTenant(id string) Option {
	return func(c *clientConfig) { c.tenantID = id }
}

// WithActor sets the actor recorded for calls.
func WithActor(id string) Option {
	return func(c *clientConfig) { c.actorID = id }
}

// WithTimeout bounds a single tool invocation.
func WithTimeout(d time.Duration) Option {
	return func(c *clientConfig) { c.timeout = d }
}

// WithLogger sets the logger for operational events.
func WithLogger(l *log.Logger) Option {
	return func(c *clientConfig) { c.logger = l }
}

// WithTools registers tools. May be given more than once.
func WithTools(tools ...Tool) Option {
	return func(c *clientConfig) { c.tools = append(c.tools, tools...) }
}
