// Package scenario runs YAML policy assertions: each case is a request or
// a tool call with the verdict the policy is expected to reach.
package scenario

import "github.com/ppiankov/actiongate/internal/model"

// Case is one test case within a scenario. Either Request is given, or
// Tool (with Args) from which the request is derived.
type Case struct {
	Name           string               `yaml:"name,omitempty"`
	Request        *model.ActionRequest `yaml:"request,omitempty"`
	Tool           string               `yaml:"tool,omitempty"`
	Args           map[string]any       `yaml:"args,omitempty"`
	Expect         string               `yaml:"expect"`
	ReasonContains string               `yaml:"reason_contains,omitempty"`
}

// Scenario is a named collection of policy test cases. Policy, when set,
// replaces the policy file given on the command line.
type Scenario struct {
	Name   string              `yaml:"name"`
	Tenant string              `yaml:"tenant,omitempty"`
	Policy *model.PolicyConfig `yaml:"policy,omitempty"`
	Cases  []Case              `yaml:"cases"`
}

// CaseResult is the outcome of evaluating one test case.
type CaseResult struct {
	Index    int    `json:"index"`
	Name     string `json:"name,omitempty"`
	Passed   bool   `json:"passed"`
	Action   string `json:"action"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
	Reason   string `json:"reason"`
	Problem  string `json:"problem,omitempty"`
}

// RunResult is the outcome of running all cases in one scenario file.
type RunResult struct {
	File       string       `json:"file"`
	Name       string       `json:"name"`
	PolicyHash string       `json:"policy_hash"`
	Total      int          `json:"total"`
	Passed     int          `json:"passed"`
	Failed     int          `json:"failed"`
	Cases      []CaseResult `json:"cases"`
}
