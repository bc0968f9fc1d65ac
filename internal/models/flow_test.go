package models

import (
	"encoding/json"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestFlowRuleResolveFirstMatchWins(t *testing.T) {
	rule := &FlowRule{
		Cases: []FlowCase{
			{Answer: "Yes", Then: FlowThen{Goto: "q5"}},
			{Answer: "yes", Then: FlowThen{Goto: "q9"}},
			{Answer: "No", Then: FlowThen{Say: "Thanks anyway"}},
		},
		Default: &FlowThen{Goto: "q2"},
	}

	then := rule.Resolve("YES")
	if then == nil || then.Goto != "q5" {
		t.Fatalf("expected first matching case q5, got %+v", then)
	}
	then = rule.Resolve("no")
	if then == nil || then.Say != "Thanks anyway" {
		t.Fatalf("expected No case, got %+v", then)
	}
	then = rule.Resolve("maybe")
	if then == nil || then.Goto != "q2" {
		t.Fatalf("expected default, got %+v", then)
	}
}

func TestFlowRuleResolveNoDefault(t *testing.T) {
	rule := &FlowRule{Cases: []FlowCase{{Answer: "Yes", Then: FlowThen{Goto: "q3"}}}}
	if then := rule.Resolve("unrelated"); then != nil {
		t.Errorf("expected nil for unmatched answer without default, got %+v", then)
	}
}

func TestFlowRuleUnmarshalJSONElseIfList(t *testing.T) {
	data := []byte(`{
		"if": {"answer": "Yes", "then": {"goto": "details"}},
		"else_if": [
			{"answer": "No", "then": {"goto": "end", "say": "Understood."}},
			{"answer": "Maybe", "then": {"say": "Take your time."}}
		],
		"then": {"goto": "fallback"}
	}`)

	var rule FlowRule
	if err := json.Unmarshal(data, &rule); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if len(rule.Cases) != 3 {
		t.Fatalf("expected 3 cases, got %d", len(rule.Cases))
	}
	if rule.Cases[1].Answer != "No" || rule.Cases[1].Then.Say != "Understood." {
		t.Errorf("else_if list order lost: %+v", rule.Cases[1])
	}
	if rule.Default == nil || rule.Default.Goto != "fallback" {
		t.Errorf("default not parsed: %+v", rule.Default)
	}
}

func TestFlowRuleUnmarshalJSONElseIfSingleObject(t *testing.T) {
	data := []byte(`{
		"if": {"answer": "Yes", "then": {"goto": "a"}},
		"else_if": {"answer": "No", "then": {"goto": "b"}}
	}`)

	var rule FlowRule
	if err := json.Unmarshal(data, &rule); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if len(rule.Cases) != 2 || rule.Cases[1].Answer != "No" {
		t.Fatalf("single-object else_if not normalized: %+v", rule.Cases)
	}
	if rule.Default != nil {
		t.Errorf("expected no default, got %+v", rule.Default)
	}
}

func TestFlowRuleUnmarshalJSONBareThen(t *testing.T) {
	var rule FlowRule
	if err := json.Unmarshal([]byte(`{"then": {"goto": "next"}}`), &rule); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if len(rule.Cases) != 0 {
		t.Errorf("expected no cases, got %d", len(rule.Cases))
	}
	if then := rule.Resolve("anything"); then == nil || then.Goto != "next" {
		t.Errorf("bare then should act as unconditional default, got %+v", then)
	}
}

func TestFlowRuleUnmarshalRejectsMalformed(t *testing.T) {
	cases := []string{
		`{"else_if": {"answer": "No", "then": {"goto": "b"}}}`,
		`{"if": {"answer": "Yes"}}`,
		`{}`,
		`{"if": {"then": {"goto": "a"}}}`,
	}
	for _, c := range cases {
		var rule FlowRule
		if err := json.Unmarshal([]byte(c), &rule); err == nil {
			t.Errorf("expected error for %s", c)
		}
	}
}

func TestFlowRuleUnmarshalYAML(t *testing.T) {
	data := []byte(`
if:
  answer: "Remote"
  then:
    goto: tools
else_if:
  - answer: "Office"
    then:
      goto: commute
then:
  say: "Noted."
`)
	var rule FlowRule
	if err := yaml.Unmarshal(data, &rule); err != nil {
		t.Fatalf("yaml unmarshal failed: %v", err)
	}
	if len(rule.Cases) != 2 || rule.Cases[0].Then.Goto != "tools" {
		t.Fatalf("yaml rule not normalized: %+v", rule.Cases)
	}
	if rule.Default == nil || rule.Default.Say != "Noted." {
		t.Errorf("yaml default missing: %+v", rule.Default)
	}
}

func TestFlowRuleGotoTargets(t *testing.T) {
	rule := &FlowRule{
		Cases: []FlowCase{
			{Answer: "A", Then: FlowThen{Goto: "x"}},
			{Answer: "B", Then: FlowThen{Say: "ok"}},
		},
		Default: &FlowThen{Goto: "y"},
	}
	targets := rule.GotoTargets()
	if len(targets) != 2 || targets[0] != "x" || targets[1] != "y" {
		t.Errorf("unexpected targets: %v", targets)
	}
}
