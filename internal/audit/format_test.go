package audit

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestFormatTimelineHeaderAndSummary(t *testing.T) {
	path := writeTestLog(t)
	result, err := Replay(path, Filter{TenantID: "acme"})
	if err != nil {
		t.Fatal(err)
	}

	out := FormatTimeline(result)

	if !strings.Contains(out, "Tenant: acme | Actor: *") {
		t.Errorf("expected header with tenant scope, got:\n%s", out)
	}
	if !strings.Contains(out, "2025-01-15 14:00:00") {
		t.Errorf("expected start date in header, got:\n%s", out)
	}
	for _, want := range []string{"Summary: 5 records", "2 execution", "1 proposal", "1 denial", "1 failure"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output, got:\n%s", want, out)
		}
	}
}

func TestFormatTimelineRecordColumns(t *testing.T) {
	path := writeTestLog(t)
	result, err := Replay(path, Filter{TenantID: "acme", Kind: KindProposal})
	if err != nil {
		t.Fatal(err)
	}

	out := FormatTimeline(result)

	for _, want := range []string{"14:00:02", "PROPOSAL", "create_invoice", "450", "Amount 450 exceeds"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in timeline, got:\n%s", want, out)
		}
	}
}

func TestFormatTimelineEmpty(t *testing.T) {
	out := FormatTimeline(&ReplayResult{TenantID: "ghost"})
	if !strings.Contains(out, "No records found") {
		t.Errorf("expected empty message, got %q", out)
	}
}

func TestFormatJSONRoundTrip(t *testing.T) {
	path := writeTestLog(t)
	result, err := Replay(path, Filter{TenantID: "beta"})
	if err != nil {
		t.Fatal(err)
	}

	out, err := FormatJSON(result)
	if err != nil {
		t.Fatal(err)
	}
	var decoded ReplayResult
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded.Summary.Total != 1 || decoded.Records[0].Action != "create_lead" {
		t.Errorf("unexpected decoded result %+v", decoded)
	}
}

func TestTruncateRunes(t *testing.T) {
	if got := truncate("ééééééééééé", 5); got != "éé..." {
		t.Errorf("got %q", got)
	}
	if got := truncate("short", 10); got != "short" {
		t.Errorf("got %q", got)
	}
}
