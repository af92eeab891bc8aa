// internal/models/payloads.go
package models

// AddressRef is an embedded address together with the namespace it must be
// allow-listed under.
type AddressRef struct {
	Address  string
	Protocol ProtocolType
}

// Payload is implemented by every typed action payload.
type Payload interface {
	EmbeddedAddresses() []AddressRef
}

type StakingAction struct {
	Pool      string `json:"pool"`
	Token     string `json:"token"`
	Amount    string `json:"amount"`
	Validator string `json:"validator,omitempty"`
}

func (p *StakingAction) EmbeddedAddresses() []AddressRef {
	refs := []AddressRef{{Address: p.Pool, Protocol: ProtocolStaking}}
	if p.Token != "" {
		refs = append(refs, AddressRef{Address: p.Token, Protocol: ProtocolToken})
	}
	return refs
}

type SwapAction struct {
	Router       string `json:"router"`
	TokenIn      string `json:"tokenIn"`
	TokenOut     string `json:"tokenOut"`
	AmountIn     string `json:"amountIn"`
	MinAmountOut string `json:"minAmountOut"`
	Recipient    string `json:"recipient,omitempty"`
}

func (p *SwapAction) EmbeddedAddresses() []AddressRef {
	return []AddressRef{
		{Address: p.Router, Protocol: ProtocolDEX},
		{Address: p.TokenIn, Protocol: ProtocolToken},
		{Address: p.TokenOut, Protocol: ProtocolToken},
	}
}

type GovernanceAction struct {
	Governor   string `json:"governor"`
	ProposalID string `json:"proposalId"`
	Support    uint8  `json:"support"`
	Reason     string `json:"reason,omitempty"`
}

func (p *GovernanceAction) EmbeddedAddresses() []AddressRef {
	return []AddressRef{{Address: p.Governor, Protocol: ProtocolGovernance}}
}

type YieldAction struct {
	Vault  string `json:"vault"`
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

func (p *YieldAction) EmbeddedAddresses() []AddressRef {
	return []AddressRef{
		{Address: p.Vault, Protocol: ProtocolYield},
		{Address: p.Token, Protocol: ProtocolToken},
	}
}

type TransferAction struct {
	Token     string `json:"token"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

func (p *TransferAction) EmbeddedAddresses() []AddressRef {
	return []AddressRef{{Address: p.Token, Protocol: ProtocolToken}}
}

// CustomAction carries opaque call data for the Custom type.
type CustomAction struct {
	Data []byte `json:"-"`
}

func (p *CustomAction) EmbeddedAddresses() []AddressRef { return nil }

// NewPayload returns an empty typed payload for t.
func NewPayload(t ActionType) (Payload, bool) {
	switch t {
	case ActionStake, ActionUnstake:
		return &StakingAction{}, true
	case ActionSwap:
		return &SwapAction{}, true
	case ActionVote:
		return &GovernanceAction{}, true
	case ActionYieldFarm:
		return &YieldAction{}, true
	case ActionTransfer:
		return &TransferAction{}, true
	case ActionCustom:
		return &CustomAction{}, true
	}
	return nil, false
}
