package models

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// FlowThen is the action arm of a flow rule: jump to a question by id,
// optionally saying something first. Either field may be empty.
type FlowThen struct {
	Goto string `json:"goto,omitempty" yaml:"goto,omitempty"`
	Say  string `json:"say,omitempty" yaml:"say,omitempty"`
}

// FlowCase pairs one expected answer with its action.
type FlowCase struct {
	Answer string
	Then   FlowThen
}

// FlowRule is the parsed form of a question's conditional routing. Source
// documents write it as if / else_if / then; decoding normalizes everything
// into an ordered case list plus an optional default so evaluation never
// inspects raw document shapes.
type FlowRule struct {
	Cases   []FlowCase
	Default *FlowThen
}

// Resolve returns the action for a cleaned answer: the first case whose
// answer matches (case-insensitive), otherwise the default, otherwise nil.
func (r *FlowRule) Resolve(answer string) *FlowThen {
	for i := range r.Cases {
		if strings.EqualFold(r.Cases[i].Answer, answer) {
			return &r.Cases[i].Then
		}
	}
	return r.Default
}

// GotoTargets lists every question id the rule can jump to.
func (r *FlowRule) GotoTargets() []string {
	var targets []string
	for _, c := range r.Cases {
		if c.Then.Goto != "" {
			targets = append(targets, c.Then.Goto)
		}
	}
	if r.Default != nil && r.Default.Goto != "" {
		targets = append(targets, r.Default.Goto)
	}
	return targets
}

// rawFlowRule mirrors the document shape. else_if accepts either a single
// object or a list of them.
type rawFlowRule struct {
	If     *rawFlowBranch `json:"if" yaml:"if"`
	ElseIf rawElseIf      `json:"else_if" yaml:"else_if"`
	Then   *FlowThen      `json:"then" yaml:"then"`
}

type rawFlowBranch struct {
	Answer string    `json:"answer" yaml:"answer"`
	Then   *FlowThen `json:"then" yaml:"then"`
}

type rawElseIf []rawFlowBranch

func (e *rawElseIf) UnmarshalJSON(data []byte) error {
	var list []rawFlowBranch
	if err := json.Unmarshal(data, &list); err == nil {
		*e = list
		return nil
	}
	var single rawFlowBranch
	if err := json.Unmarshal(data, &single); err != nil {
		return fmt.Errorf("else_if must be an object or a list: %w", err)
	}
	*e = rawElseIf{single}
	return nil
}

func (e *rawElseIf) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.SequenceNode {
		var list []rawFlowBranch
		if err := value.Decode(&list); err != nil {
			return err
		}
		*e = list
		return nil
	}
	var single rawFlowBranch
	if err := value.Decode(&single); err != nil {
		return fmt.Errorf("else_if must be a mapping or a sequence: %w", err)
	}
	*e = rawElseIf{single}
	return nil
}

func (r *FlowRule) fromRaw(raw rawFlowRule) error {
	if raw.If == nil && len(raw.ElseIf) > 0 {
		return fmt.Errorf("%w: else_if without if", ErrInvalidFlowRule)
	}
	if raw.If == nil && raw.Then == nil {
		return fmt.Errorf("%w: rule has no branches", ErrInvalidFlowRule)
	}
	if raw.If != nil {
		if raw.If.Answer == "" || raw.If.Then == nil {
			return fmt.Errorf("%w: if branch needs answer and then", ErrInvalidFlowRule)
		}
		r.Cases = append(r.Cases, FlowCase{Answer: raw.If.Answer, Then: *raw.If.Then})
	}
	for i, branch := range raw.ElseIf {
		if branch.Answer == "" || branch.Then == nil {
			return fmt.Errorf("%w: else_if branch %d needs answer and then", ErrInvalidFlowRule, i)
		}
		r.Cases = append(r.Cases, FlowCase{Answer: branch.Answer, Then: *branch.Then})
	}
	r.Default = raw.Then
	return nil
}

// UnmarshalJSON parses the document form into the normalized rule.
func (r *FlowRule) UnmarshalJSON(data []byte) error {
	var raw rawFlowRule
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFlowRule, err)
	}
	return r.fromRaw(raw)
}

// UnmarshalYAML parses the document form into the normalized rule.
func (r *FlowRule) UnmarshalYAML(value *yaml.Node) error {
	var raw rawFlowRule
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFlowRule, err)
	}
	return r.fromRaw(raw)
}
