package alert

// Config defines a webhook alert destination.
type Config struct {
	URL     string            `yaml:"url"     json:"url"     mapstructure:"url"`
	Format  string            `yaml:"format"  json:"format"  mapstructure:"format"` // "generic", "slack", "pagerduty"
	Events  []string          `yaml:"events"  json:"events"  mapstructure:"events"` // ["proposal", "denial", "failure"]
	Headers map[string]string `yaml:"headers" json:"headers" mapstructure:"headers"`
}

// Event is the payload sent to webhook endpoints. Kind is one of the
// audit kinds: proposal, execution, denial, failure.
type Event struct {
	Timestamp  string   `json:"timestamp"`
	TenantID   string   `json:"tenant_id"`
	ActorID    string   `json:"actor_id"`
	Kind       string   `json:"kind"`
	Action     string   `json:"action"`
	Amount     *float64 `json:"amount,omitempty"`
	ProposalID string   `json:"proposal_id,omitempty"`
	Reason     string   `json:"reason"`
	PolicyHash string   `json:"policy_hash,omitempty"`
}
