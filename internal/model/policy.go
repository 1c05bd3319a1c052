package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

// PolicyConfig is the editable policy document as stored in YAML or SQLite.
// It is only ever read through a Policy snapshot.
type PolicyConfig struct {
	Mode                       string              `yaml:"mode" json:"mode"`
	Authorities                []string            `yaml:"authorities" json:"authorities"`
	ApprovalRequiredOverAmount float64             `yaml:"approval_required_over_amount" json:"approval_required_over_amount"`
	RestrictedFields           map[string][]string `yaml:"restricted_fields" json:"restricted_fields"`
	EmailDomainTrustlist       []string            `yaml:"email_domain_trustlist" json:"email_domain_trustlist"`
	AutoSafeActions            []string            `yaml:"auto_safe_actions" json:"auto_safe_actions"`
}

// SafeReadAuthorities are the only authorities granted when no policy can be loaded.
var SafeReadAuthorities = []string{"READ_CLIENTS", "READ_INVOICES", "READ_LEADS"}

// SafeDefaultConfig returns the most restrictive policy document.
func SafeDefaultConfig() PolicyConfig {
	return PolicyConfig{
		Mode:        string(ModeReadOnly),
		Authorities: append([]string(nil), SafeReadAuthorities...),
	}
}

// Policy is an immutable per-tenant snapshot. Construct with NewPolicy;
// the zero value behaves like a policy that grants nothing.
type Policy struct {
	tenantID   string
	source     string
	hash       string
	mode       Mode
	limit      float64
	authority  map[string]struct{}
	restricted map[string]map[string]struct{}
	trusted    map[string]struct{}
	autoSafe   map[string]struct{}
}

// NewPolicy freezes cfg into a snapshot. Unknown modes fall back to
// read_only and negative limits clamp to zero. cfg is not retained.
func NewPolicy(tenantID, source string, cfg PolicyConfig) *Policy {
	p := &Policy{
		tenantID:   tenantID,
		source:     source,
		mode:       ParseMode(cfg.Mode),
		limit:      cfg.ApprovalRequiredOverAmount,
		authority:  toSet(cfg.Authorities, false),
		restricted: make(map[string]map[string]struct{}, len(cfg.RestrictedFields)),
		trusted:    toSet(cfg.EmailDomainTrustlist, true),
		autoSafe:   toSet(cfg.AutoSafeActions, false),
	}
	if p.limit < 0 {
		p.limit = 0
	}
	for table, fields := range cfg.RestrictedFields {
		p.restricted[table] = toSet(fields, false)
	}
	p.hash = hashConfig(p.Config())
	return p
}

// SafeDefault returns the fail-safe policy for a tenant.
func SafeDefault(tenantID string) *Policy {
	return NewPolicy(tenantID, "safe-default", SafeDefaultConfig())
}

func toSet(items []string, lower bool) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		it = strings.TrimSpace(it)
		if lower {
			it = strings.ToLower(it)
		}
		if it != "" {
			set[it] = struct{}{}
		}
	}
	return set
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (p *Policy) TenantID() string { return p.tenantID }

// Source describes where the snapshot was loaded from (file path, sqlite, safe-default).
func (p *Policy) Source() string { return p.source }

// Hash is "sha256:<hex>" of the normalised document.
func (p *Policy) Hash() string { return p.hash }

func (p *Policy) Mode() Mode {
	if p.mode == "" {
		return ModeReadOnly
	}
	return p.mode
}

// ApprovalLimit is approval_required_over_amount.
func (p *Policy) ApprovalLimit() float64 { return p.limit }

// HasAuthority reports whether the authority is granted. Empty is never granted.
func (p *Policy) HasAuthority(authority string) bool {
	if authority == "" {
		return false
	}
	_, ok := p.authority[authority]
	return ok
}

// RestrictedHits returns the sorted field names in fields that are
// restricted for table.
func (p *Policy) RestrictedHits(table string, fields []string) []string {
	set, ok := p.restricted[table]
	if !ok || len(set) == 0 {
		return nil
	}
	var hits []string
	for _, f := range fields {
		if _, ok := set[f]; ok {
			hits = append(hits, f)
		}
	}
	sort.Strings(hits)
	return hits
}

// TrustsDomain compares case-insensitively.
func (p *Policy) TrustsDomain(domain string) bool {
	_, ok := p.trusted[strings.ToLower(strings.TrimSpace(domain))]
	return ok
}

func (p *Policy) IsAutoSafe(action string) bool {
	_, ok := p.autoSafe[action]
	return ok
}

// Authorities returns a sorted copy of the granted authorities.
func (p *Policy) Authorities() []string { return sortedKeys(p.authority) }

// Config returns a normalised copy of the document the snapshot was built from.
func (p *Policy) Config() PolicyConfig {
	cfg := PolicyConfig{
		Mode:                       string(p.Mode()),
		Authorities:                sortedKeys(p.authority),
		ApprovalRequiredOverAmount: p.limit,
		EmailDomainTrustlist:       sortedKeys(p.trusted),
		AutoSafeActions:            sortedKeys(p.autoSafe),
	}
	if len(p.restricted) > 0 {
		cfg.RestrictedFields = make(map[string][]string, len(p.restricted))
		for table, set := range p.restricted {
			cfg.RestrictedFields[table] = sortedKeys(set)
		}
	}
	return cfg
}

// json.Marshal sorts map keys, so the encoding of a normalised config is stable.
func hashConfig(cfg PolicyConfig) string {
	data, err := json.Marshal(cfg)
	if err != nil {
		return ""
	}
	h := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(h[:])
}
