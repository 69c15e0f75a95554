package documents

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"etmf-portal/portal-backend/pkg/workflows"
)

// Endpoint is the backend resource an action is submitted to
type Endpoint string

const (
	EndpointWorkflow Endpoint = "workflow"
	EndpointReview   Endpoint = "review"
	EndpointApprove  Endpoint = "approve"
)

func endpointFor(action workflows.Action) Endpoint {
	switch action {
	case workflows.ActionReview:
		return EndpointReview
	case workflows.ActionApproval:
		return EndpointApprove
	default:
		return EndpointWorkflow
	}
}

// ActionSpec describes one action a UI may offer and the inputs it needs
type ActionSpec struct {
	Action            workflows.Action   `json:"action"`
	Decision          workflows.Decision `json:"decision,omitempty"`
	Label             string             `json:"label"`
	RequiresComment   bool               `json:"requiresComment"`
	RequiresSignature bool               `json:"requiresSignature"`
	Endpoint          Endpoint           `json:"endpoint"`
}

// PolicyConfig is the data form of the policy table, as read from YAML
type PolicyConfig struct {
	ApprovalFinalizes bool         `yaml:"approval_finalizes"`
	Rules             []PolicyRule `yaml:"rules"`
}

// PolicyRule grants a set of actions to some roles at one status
type PolicyRule struct {
	Status  workflows.Status `yaml:"status"`
	Roles   []string         `yaml:"roles"`
	Actions []RuleAction     `yaml:"actions"`
}

type RuleAction struct {
	Action            workflows.Action   `yaml:"action"`
	Decision          workflows.Decision `yaml:"decision,omitempty"`
	Label             string             `yaml:"label,omitempty"`
	RequiresComment   bool               `yaml:"requires_comment,omitempty"`
	RequiresSignature bool               `yaml:"requires_signature,omitempty"`
}

// DefaultPolicyConfig is the canonical table: archive needs no attestation and
// an approved APPROVAL moves the document to FINAL.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		ApprovalFinalizes: true,
		Rules: []PolicyRule{
			{
				Status: workflows.StatusDraft,
				Roles:  []string{"SUBMITTER", "ADMIN"},
				Actions: []RuleAction{
					{Action: workflows.ActionSubmitForReview, Label: "Submit for review"},
				},
			},
			{
				Status: workflows.StatusInReview,
				Roles:  []string{"REVIEWER", "ADMIN"},
				Actions: []RuleAction{
					{Action: workflows.ActionReview, Decision: workflows.DecisionApproved, Label: "Approve review", RequiresComment: true},
					{Action: workflows.ActionReview, Decision: workflows.DecisionRejected, Label: "Reject review", RequiresComment: true},
				},
			},
			{
				Status: workflows.StatusApproved,
				Roles:  []string{"APPROVER", "ADMIN"},
				Actions: []RuleAction{
					{Action: workflows.ActionApproval, Decision: workflows.DecisionApproved, Label: "Approve", RequiresComment: true, RequiresSignature: true},
					{Action: workflows.ActionApproval, Decision: workflows.DecisionRejected, Label: "Reject", RequiresComment: true, RequiresSignature: true},
				},
			},
			{
				Status: workflows.StatusApproved,
				Roles:  []string{"ADMIN"},
				Actions: []RuleAction{
					{Action: workflows.ActionFinalize, Label: "Finalize"},
				},
			},
			{
				Status: workflows.StatusFinal,
				Roles:  []string{"ADMIN"},
				Actions: []RuleAction{
					{Action: workflows.ActionArchive, Label: "Archive"},
				},
			},
		},
	}
}

// LoadPolicyFile reads a YAML policy table
func LoadPolicyFile(path string) (PolicyConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PolicyConfig{}, fmt.Errorf("failed to read policy file: %w", err)
	}
	var cfg PolicyConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return PolicyConfig{}, fmt.Errorf("failed to parse policy file: %w", err)
	}
	return cfg, nil
}

// LoadPolicy builds the policy from path, or from the default table when path
// is empty. approvalFinalizes, when non-nil, overrides the table's setting.
func LoadPolicy(path string, approvalFinalizes *bool) (*Policy, error) {
	cfg := DefaultPolicyConfig()
	if path != "" {
		loaded, err := LoadPolicyFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if approvalFinalizes != nil {
		cfg.ApprovalFinalizes = *approvalFinalizes
	}
	return NewPolicy(cfg)
}

// Policy answers which actions an actor may take on a document
type Policy struct {
	machine *workflows.StateMachine
	table   map[workflows.Status]map[workflows.Role][]ActionSpec
}

// NewPolicy validates cfg against the lifecycle and builds the lookup table
func NewPolicy(cfg PolicyConfig) (*Policy, error) {
	machine := workflows.NewStateMachine(cfg.ApprovalFinalizes)
	p := &Policy{
		machine: machine,
		table:   make(map[workflows.Status]map[workflows.Role][]ActionSpec),
	}

	type grant struct {
		status   workflows.Status
		role     workflows.Role
		action   workflows.Action
		decision workflows.Decision
	}
	seen := make(map[grant]bool)

	for i, rule := range cfg.Rules {
		if !rule.Status.Valid() {
			return nil, fmt.Errorf("policy rule %d: invalid status %q", i, rule.Status)
		}
		if len(rule.Roles) == 0 {
			return nil, fmt.Errorf("policy rule %d: no roles", i)
		}
		for _, ra := range rule.Actions {
			if !ra.Action.Valid() {
				return nil, fmt.Errorf("policy rule %d: invalid action %q", i, ra.Action)
			}
			if ra.Action.NeedsDecision() != ra.Decision.Valid() {
				return nil, fmt.Errorf("policy rule %d: action %s has decision %q", i, ra.Action, ra.Decision)
			}
			if _, ok := machine.Target(rule.Status, ra.Action, ra.Decision); !ok {
				return nil, fmt.Errorf("policy rule %d: %s is not a legal transition from %s", i, ra.Action, rule.Status)
			}
		}

		for _, rawRole := range rule.Roles {
			role := workflows.ParseRole(rawRole)
			if role == "" {
				return nil, fmt.Errorf("policy rule %d: unknown role %q", i, rawRole)
			}
			if p.table[rule.Status] == nil {
				p.table[rule.Status] = make(map[workflows.Role][]ActionSpec)
			}
			for _, ra := range rule.Actions {
				g := grant{rule.Status, role, ra.Action, ra.Decision}
				if seen[g] {
					return nil, fmt.Errorf("policy rule %d: %s %s granted twice to %s", i, ra.Action, ra.Decision, role)
				}
				seen[g] = true
				p.table[rule.Status][role] = append(p.table[rule.Status][role], ra.spec())
			}
		}
	}

	for _, s := range workflows.AllStatuses() {
		if !machine.IsTerminal(s) && len(p.table[s]) == 0 {
			return nil, fmt.Errorf("policy grants no action at status %s", s)
		}
	}

	return p, nil
}

func (ra RuleAction) spec() ActionSpec {
	label := ra.Label
	if label == "" {
		label = string(ra.Action)
		if ra.Decision != "" {
			label += " " + string(ra.Decision)
		}
	}
	return ActionSpec{
		Action:            ra.Action,
		Decision:          ra.Decision,
		Label:             label,
		RequiresComment:   ra.RequiresComment,
		RequiresSignature: ra.RequiresSignature,
		Endpoint:          endpointFor(ra.Action),
	}
}

// AvailableActions returns the actions role may take at status. The result is
// a fresh slice and is empty for any combination the table does not list.
func (p *Policy) AvailableActions(status workflows.Status, role workflows.Role) []ActionSpec {
	specs := p.table[status][role]
	out := make([]ActionSpec, len(specs))
	copy(out, specs)
	return out
}

// Lookup finds the spec for one action and decision
func (p *Policy) Lookup(status workflows.Status, role workflows.Role, action workflows.Action, decision workflows.Decision) (ActionSpec, bool) {
	if !action.NeedsDecision() {
		decision = ""
	}
	for _, spec := range p.table[status][role] {
		if spec.Action == action && spec.Decision == decision {
			return spec, true
		}
	}
	return ActionSpec{}, false
}

// StateMachine returns the lifecycle the policy was validated against
func (p *Policy) StateMachine() *workflows.StateMachine {
	return p.machine
}
