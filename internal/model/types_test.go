package model

import (
	"testing"

	"github.com/cockroachdb/errors"
)

func TestParseModeFailsClosed(t *testing.T) {
	cases := map[string]Mode{
		"read_only": ModeReadOnly,
		"propose":   ModePropose,
		"AUTO_SAFE": ModeAutoSafe,
		" auto_all": ModeAutoAll,
		"yolo":      ModeReadOnly,
		"":          ModeReadOnly,
	}
	for in, want := range cases {
		if got := ParseMode(in); got != want {
			t.Errorf("ParseMode(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestParseRisk(t *testing.T) {
	cases := map[string]Risk{
		"":       RiskNone,
		"low":    RiskLow,
		"Medium": RiskMed,
		"med":    RiskMed,
		"high":   RiskHigh,
		"weird":  RiskHigh,
	}
	for in, want := range cases {
		if got := ParseRisk(in); got != want {
			t.Errorf("ParseRisk(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewPolicyIsDetachedFromConfig(t *testing.T) {
	cfg := PolicyConfig{
		Mode:             "auto_all",
		Authorities:      []string{"SEND_INVOICE"},
		RestrictedFields: map[string][]string{"clients": {"iban"}},
	}
	p := NewPolicy("acme", "test", cfg)

	cfg.Authorities[0] = "DELETE_EVERYTHING"
	cfg.RestrictedFields["clients"][0] = "name"
	cfg.Mode = "read_only"

	if !p.HasAuthority("SEND_INVOICE") {
		t.Error("expected snapshot to keep original authority")
	}
	if p.HasAuthority("DELETE_EVERYTHING") {
		t.Error("mutating config leaked into snapshot")
	}
	if hits := p.RestrictedHits("clients", []string{"iban"}); len(hits) != 1 {
		t.Errorf("expected iban to stay restricted, got %v", hits)
	}
	if p.Mode() != ModeAutoAll {
		t.Errorf("expected auto_all, got %s", p.Mode())
	}

	auths := p.Authorities()
	auths[0] = "X"
	if !p.HasAuthority("SEND_INVOICE") {
		t.Error("Authorities() must return a copy")
	}
}

func TestNewPolicyClampsNegativeLimit(t *testing.T) {
	p := NewPolicy("acme", "test", PolicyConfig{ApprovalRequiredOverAmount: -5})
	if p.ApprovalLimit() != 0 {
		t.Errorf("expected limit 0, got %v", p.ApprovalLimit())
	}
}

func TestPolicyHashStableAcrossOrdering(t *testing.T) {
	a := NewPolicy("t", "a", PolicyConfig{Mode: "propose", Authorities: []string{"A", "B"}})
	b := NewPolicy("t", "b", PolicyConfig{Mode: "propose", Authorities: []string{"B", "A"}})
	if a.Hash() != b.Hash() {
		t.Errorf("expected equal hashes, got %s and %s", a.Hash(), b.Hash())
	}
	c := NewPolicy("t", "c", PolicyConfig{Mode: "auto_all", Authorities: []string{"A", "B"}})
	if a.Hash() == c.Hash() {
		t.Error("expected different hash for different mode")
	}
}

func TestSafeDefault(t *testing.T) {
	p := SafeDefault("acme")
	if p.Mode() != ModeReadOnly {
		t.Errorf("expected read_only, got %s", p.Mode())
	}
	if p.ApprovalLimit() != 0 {
		t.Errorf("expected limit 0, got %v", p.ApprovalLimit())
	}
	if p.HasAuthority("SEND_INVOICE") {
		t.Error("safe default must not grant write authorities")
	}
	if !p.HasAuthority("READ_CLIENTS") {
		t.Error("safe default should grant READ_CLIENTS")
	}
}

func TestZeroPolicyGrantsNothing(t *testing.T) {
	var p Policy
	if p.HasAuthority("READ_CLIENTS") {
		t.Error("zero policy must not grant authorities")
	}
	if p.Mode() != ModeReadOnly {
		t.Errorf("zero policy mode should be read_only, got %s", p.Mode())
	}
}

func TestDomainOf(t *testing.T) {
	cases := map[string]string{
		"alice@Example.COM":         "example.com",
		"Bob <bob@studio.io>":       "studio.io",
		"partner.org":               "partner.org",
		"  carol@mail.acme.co.uk  ": "mail.acme.co.uk",
	}
	for in, want := range cases {
		if got := DomainOf(in); got != want {
			t.Errorf("DomainOf(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDecisionError(t *testing.T) {
	if DecisionError(Allow()) != nil {
		t.Fatal("allow must not produce an error")
	}

	err := DecisionError(Deny("Authority SEND_INVOICE not granted."))
	if !errors.Is(err, ErrAuthorityDenied) {
		t.Errorf("expected ErrAuthorityDenied, got %v", err)
	}

	err = DecisionError(NeedsApproval("Propose mode."))
	if !errors.Is(err, ErrApprovalRequired) {
		t.Errorf("expected ErrApprovalRequired, got %v", err)
	}
	if err.Error() != "Propose mode." {
		t.Errorf("expected reason as message, got %q", err.Error())
	}
}
