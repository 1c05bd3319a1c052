package policy

import (
	"testing"

	"github.com/ppiankov/actiongate/internal/model"
)

func BenchmarkEvaluate_Allow(b *testing.B) {
	p := model.NewPolicy("bench", "bench", model.PolicyConfig{
		Mode:            "auto_safe",
		Authorities:     []string{"CREATE_LEAD"},
		AutoSafeActions: []string{"create_lead"},
	})
	req := model.ActionRequest{Authority: "CREATE_LEAD", Action: "create_lead", Risk: model.RiskLow}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Evaluate(p, req)
	}
}

func BenchmarkEvaluate_RestrictedFields(b *testing.B) {
	restricted := make([]string, 0, 50)
	fields := make(map[string]any, 50)
	for i := 0; i < 50; i++ {
		name := string(rune('a'+i%26)) + string(rune('a'+i/26))
		restricted = append(restricted, name)
		fields["f_"+name] = i
	}
	fields["zz"] = 1
	restricted = append(restricted, "zz")
	p := model.NewPolicy("bench", "bench", model.PolicyConfig{
		Mode:             "auto_all",
		Authorities:      []string{"UPDATE_CLIENT"},
		RestrictedFields: map[string][]string{"clients": restricted},
	})
	req := model.ActionRequest{Authority: "UPDATE_CLIENT", Table: "clients", Fields: fields}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Evaluate(p, req)
	}
}

func BenchmarkEvaluate_Deny(b *testing.B) {
	p := model.NewPolicy("bench", "bench", model.PolicyConfig{Mode: "auto_all"})
	req := model.ActionRequest{Authority: "SEND_INVOICE"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Evaluate(p, req)
	}
}
