package tree

import "github.com/agentstation/assetsync/pkg/constants"

// Policies is an access and contract policy pair.
type Policies struct {
	AccessPolicyID   string `json:"accessPolicy" yaml:"accessPolicy" mapstructure:"access_policy"`
	ContractPolicyID string `json:"contractPolicy" yaml:"contractPolicy" mapstructure:"contract_policy"`
}

// DefaultPolicies returns the well-known default policy pair.
func DefaultPolicies() Policies {
	return Policies{
		AccessPolicyID:   constants.DefaultAccessPolicyID,
		ContractPolicyID: constants.DefaultContractPolicyID,
	}
}

// PolicyBinding associates a chain with the policies governing it.
type PolicyBinding struct {
	Chain            Chain  `json:"chain" yaml:"chain"`
	AccessPolicyID   string `json:"accessPolicy" yaml:"accessPolicy"`
	ContractPolicyID string `json:"contractPolicy" yaml:"contractPolicy"`
}

// Bind creates a binding of chain to p.
func Bind(chain Chain, p Policies) PolicyBinding {
	return PolicyBinding{
		Chain:            chain,
		AccessPolicyID:   p.AccessPolicyID,
		ContractPolicyID: p.ContractPolicyID,
	}
}

// Key returns the identity key of the bound chain.
func (b PolicyBinding) Key() string {
	return b.Chain.Key()
}

// Policies returns the bound policy pair.
func (b PolicyBinding) Policies() Policies {
	return Policies{AccessPolicyID: b.AccessPolicyID, ContractPolicyID: b.ContractPolicyID}
}

// BindingResolver computes the binding of a chain.
type BindingResolver interface {
	BindingFor(chain Chain) PolicyBinding
}

// StaticBindings resolves bindings from a fixed table keyed by chain key.
// A chain without an entry inherits the binding of its nearest bound
// ancestor, then falls back to the default pair.
type StaticBindings struct {
	defaults Policies
	explicit map[string]Policies
}

// NewStaticBindings creates a resolver. A zero defaults value selects
// DefaultPolicies.
func NewStaticBindings(defaults Policies, explicit map[string]Policies) *StaticBindings {
	if defaults == (Policies{}) {
		defaults = DefaultPolicies()
	}
	table := make(map[string]Policies, len(explicit))
	for k, v := range explicit {
		table[k] = v
	}
	return &StaticBindings{defaults: defaults, explicit: table}
}

// BindingFor implements BindingResolver.
func (s *StaticBindings) BindingFor(chain Chain) PolicyBinding {
	for c := chain; len(c) > 0; c = c.Parent() {
		if p, ok := s.explicit[c.Key()]; ok {
			return Bind(chain, p)
		}
	}
	return Bind(chain, s.defaults)
}
