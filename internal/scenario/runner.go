package scenario

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/actiongate/internal/dispatch"
	"github.com/ppiankov/actiongate/internal/model"
	"github.com/ppiankov/actiongate/internal/policy"
)

// normalizeVerdict accepts the verdict spellings used in scenario files.
func normalizeVerdict(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "allow", "allowed":
		return string(model.VerdictAllow)
	case "needs_approval", "approval", "require_approval", "propose":
		return string(model.VerdictNeedsApproval)
	case "deny", "denied":
		return string(model.VerdictDeny)
	}
	return strings.ToLower(strings.TrimSpace(s))
}

// Run evaluates all cases in a scenario against p. reg resolves cases that
// name a tool and may be nil when every case carries a request.
func Run(s *Scenario, p *model.Policy, reg *dispatch.Registry) *RunResult {
	result := &RunResult{
		Name:       s.Name,
		PolicyHash: p.Hash(),
		Total:      len(s.Cases),
	}

	for i, c := range s.Cases {
		cr := CaseResult{
			Index:    i + 1,
			Name:     c.Name,
			Expected: normalizeVerdict(c.Expect),
		}

		req, problem := caseRequest(c, reg)
		if problem != "" {
			cr.Problem = problem
			cr.Action = c.Tool
		} else {
			d := policy.Evaluate(p, req)
			cr.Action = req.Action
			if cr.Action == "" {
				cr.Action = req.Authority
			}
			cr.Actual = string(d.Verdict)
			cr.Reason = d.Reason
			cr.Passed = cr.Actual == cr.Expected &&
				(c.ReasonContains == "" || strings.Contains(d.Reason, c.ReasonContains))
			if cr.Actual == cr.Expected && !cr.Passed {
				cr.Problem = fmt.Sprintf("reason %q does not contain %q", d.Reason, c.ReasonContains)
			}
		}

		if cr.Passed {
			result.Passed++
		} else {
			result.Failed++
		}
		result.Cases = append(result.Cases, cr)
	}

	return result
}

func caseRequest(c Case, reg *dispatch.Registry) (model.ActionRequest, string) {
	if c.Request != nil {
		return *c.Request, ""
	}
	if c.Tool == "" {
		return model.ActionRequest{}, "case has neither request nor tool"
	}
	if reg == nil {
		return model.ActionRequest{}, "no tool registry to resolve " + c.Tool
	}
	tool, ok := reg.Lookup(c.Tool)
	if !ok {
		return model.ActionRequest{}, dispatch.CodeUnknownTool + ": " + c.Tool
	}
	args := c.Args
	if args == nil {
		args = map[string]any{}
	}
	return tool.Request(args), ""
}

// Load reads a scenario YAML file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario %s: %w", path, err)
	}

	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if s.Name == "" {
		s.Name = path
	}
	return &s, nil
}

// LoadAndRun loads a scenario file and runs it against its inline policy,
// or the policy at policyPath when it has none.
func LoadAndRun(path, policyPath string, reg *dispatch.Registry) (*RunResult, error) {
	return RunFile(path, func(string) string { return policyPath }, reg)
}

// RunFile loads a scenario file and runs it. Scenarios without an inline
// policy use the file policyFor returns for their tenant.
func RunFile(path string, policyFor func(tenant string) string, reg *dispatch.Registry) (*RunResult, error) {
	s, err := Load(path)
	if err != nil {
		return nil, err
	}

	tenant := s.Tenant
	if tenant == "" {
		tenant = "scenario"
	}

	var p *model.Policy
	if s.Policy != nil {
		p = model.NewPolicy(tenant, path, *s.Policy)
	} else {
		policyPath := policyFor(s.Tenant)
		cfg, err := policy.LoadConfig(policyPath)
		if err != nil {
			return nil, fmt.Errorf("load policy: %w", err)
		}
		p = model.NewPolicy(tenant, policyPath, *cfg)
	}

	result := Run(s, p, reg)
	result.File = path
	return result, nil
}
