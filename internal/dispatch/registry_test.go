package dispatch

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/ppiankov/actiongate/internal/model"
)

func noop(ctx context.Context, args map[string]any, tc ToolContext) (Outcome, error) {
	return Done(nil), nil
}

func TestNewRegistryRejectsBadTools(t *testing.T) {
	cases := map[string][]Tool{
		"empty name":     {{Handler: noop}},
		"no handler":     {{Name: "x"}},
		"duplicate":      {{Name: "x", Handler: noop}, {Name: "x", Handler: noop}},
		"invalid schema": {{Name: "x", Handler: noop, Schema: json.RawMessage(`{"type": 12}`)}},
	}
	for name, tools := range cases {
		if _, err := NewRegistry(tools...); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestRegistryNamesSorted(t *testing.T) {
	reg, err := NewRegistry(Tool{Name: "b", Handler: noop}, Tool{Name: "a", Handler: noop})
	if err != nil {
		t.Fatal(err)
	}
	names := reg.Names()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("unexpected names %v", names)
	}
	names[0] = "mutated"
	if reg.Names()[0] != "a" {
		t.Error("Names must return a copy")
	}
	if _, ok := reg.Lookup("c"); ok {
		t.Error("expected lookup miss")
	}
}

func TestToolRequest(t *testing.T) {
	invoice := Tool{
		Name: "create_invoice",
		Governance: Governance{
			Authority:   "CREATE_INVOICE",
			Table:       "invoices",
			Risk:        model.RiskMed,
			AmountField: "total",
			EmailField:  "send_to",
		},
	}
	req := invoice.Request(map[string]any{"total": 450.5, "send_to": "Billing <AP@Acme.COM>", "client_id": "c1"})

	if req.Authority != "CREATE_INVOICE" || req.Action != "create_invoice" || req.Risk != model.RiskMed {
		t.Errorf("unexpected request %+v", req)
	}
	if req.Amount == nil || *req.Amount != 450.5 {
		t.Errorf("expected amount 450.5, got %v", req.Amount)
	}
	if req.EmailDomain != "acme.com" {
		t.Errorf("expected acme.com, got %s", req.EmailDomain)
	}
	if len(req.Fields) != 3 {
		t.Errorf("expected every argument as a field, got %v", req.Fields)
	}
}

func TestToolRequestFieldsField(t *testing.T) {
	update := Tool{
		Name:       "update_client",
		Governance: Governance{Authority: "UPDATE_CLIENT", Table: "clients", FieldsField: "fields"},
	}
	req := update.Request(map[string]any{"client_id": "c1", "fields": map[string]any{"iban": "DE00"}})
	if len(req.Fields) != 1 || req.Fields["iban"] != "DE00" {
		t.Errorf("expected nested fields, got %v", req.Fields)
	}

	req = update.Request(map[string]any{"client_id": "c1"})
	if req.Fields != nil {
		t.Errorf("expected no fields, got %v", req.Fields)
	}
}

func TestToolRequestAmountForms(t *testing.T) {
	tool := Tool{Name: "x", Governance: Governance{AmountField: "amount"}}
	for _, v := range []any{12.0, 12, json.Number("12"), "12"} {
		req := tool.Request(map[string]any{"amount": v})
		if req.Amount == nil || *req.Amount != 12 {
			t.Errorf("amount %#v: got %v", v, req.Amount)
		}
	}
	if req := tool.Request(map[string]any{"amount": "lots"}); req.Amount != nil {
		t.Error("unparseable amount must be absent")
	}
}
