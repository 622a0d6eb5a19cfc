package service

import (
	"github.com/smallbiznis/allocledger/internal/config"
	enforcementdomain "github.com/smallbiznis/allocledger/internal/enforcement/domain"
)

// NamePolicy resolves overrides from the enforcement name-lists of the
// current ledger policy.
type NamePolicy struct {
	holder *config.PolicyHolder
}

func NewNamePolicy(holder *config.PolicyHolder) enforcementdomain.Policy {
	return &NamePolicy{holder: holder}
}

func (p *NamePolicy) Resolve(sourceName string) enforcementdomain.Override {
	policy := p.holder.Get()
	for _, name := range policy.Enforcement.Never {
		if name == sourceName {
			return enforcementdomain.NeverEnforce
		}
	}
	for _, name := range policy.Enforcement.Always {
		if name == sourceName {
			return enforcementdomain.AlwaysEnforce
		}
	}
	return enforcementdomain.NoOverride
}
