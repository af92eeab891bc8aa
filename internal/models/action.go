// internal/models/action.go
package models

import (
	"strings"
	"time"
)

type ActionType string

const (
	ActionStake     ActionType = "Stake"
	ActionUnstake   ActionType = "Unstake"
	ActionSwap      ActionType = "Swap"
	ActionVote      ActionType = "Vote"
	ActionYieldFarm ActionType = "YieldFarm"
	ActionTransfer  ActionType = "Transfer"
	ActionCustom    ActionType = "Custom"
)

// AllActionTypes lists every supported type in declaration order.
var AllActionTypes = []ActionType{
	ActionStake, ActionUnstake, ActionSwap, ActionVote, ActionYieldFarm, ActionTransfer, ActionCustom,
}

// ParseActionType matches case-insensitively against the known types.
func ParseActionType(s string) (ActionType, bool) {
	for _, t := range AllActionTypes {
		if strings.EqualFold(string(t), strings.TrimSpace(s)) {
			return t, true
		}
	}
	return "", false
}

// ProtocolType is the allow-list namespace an address is registered under.
type ProtocolType string

const (
	ProtocolStaking    ProtocolType = "staking"
	ProtocolDEX        ProtocolType = "dex"
	ProtocolGovernance ProtocolType = "governance"
	ProtocolYield      ProtocolType = "yield"
	ProtocolToken      ProtocolType = "token"
	ProtocolCustom     ProtocolType = "custom"
)

var AllProtocolTypes = []ProtocolType{
	ProtocolStaking, ProtocolDEX, ProtocolGovernance, ProtocolYield, ProtocolToken, ProtocolCustom,
}

func ParseProtocolType(s string) (ProtocolType, bool) {
	for _, p := range AllProtocolTypes {
		if strings.EqualFold(string(p), strings.TrimSpace(s)) {
			return p, true
		}
	}
	return "", false
}

// CategoryOf maps an action type to the protocol namespace of its target.
func CategoryOf(t ActionType) (ProtocolType, bool) {
	switch t {
	case ActionStake, ActionUnstake:
		return ProtocolStaking, true
	case ActionSwap:
		return ProtocolDEX, true
	case ActionVote:
		return ProtocolGovernance, true
	case ActionYieldFarm:
		return ProtocolYield, true
	case ActionTransfer:
		return ProtocolToken, true
	case ActionCustom:
		return ProtocolCustom, true
	}
	return "", false
}

// NormalizeAddress lower-cases and trims an address for comparison and storage.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

type ActionStatus string

const (
	StatusPending   ActionStatus = "Pending"
	StatusApproved  ActionStatus = "Approved"
	StatusExecuting ActionStatus = "Executing"
	StatusCompleted ActionStatus = "Completed"
	StatusFailed    ActionStatus = "Failed"
	StatusCancelled ActionStatus = "Cancelled"
	StatusExpired   ActionStatus = "Expired"
)

// IsTerminal reports whether no further transition is possible.
func (s ActionStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// Action is the canonical record of one requested operation. Payload is
// immutable after creation; PayloadDigest is its hex BLAKE3-256 digest.
type Action struct {
	ID            uint64       `json:"id"`
	Owner         string       `json:"owner"`
	Type          ActionType   `json:"type"`
	Payload       []byte       `json:"payload"`
	PayloadDigest string       `json:"payloadDigest"`
	Status        ActionStatus `json:"status"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
	ApprovedAt    *time.Time   `json:"approvedAt,omitempty"`
	Approver      string       `json:"approver,omitempty"`
	ExecutedAt    *time.Time   `json:"executedAt,omitempty"`
	ChatContext   string       `json:"chatContext,omitempty"`
	TargetAddress string       `json:"targetAddress"`
	GasLimit      uint64       `json:"gasLimit"`
	Result        string       `json:"result,omitempty"`
	RequestedBy   string       `json:"requestedBy"`
}

// Clone returns a deep copy so stored records cannot be mutated by callers.
func (a *Action) Clone() *Action {
	if a == nil {
		return nil
	}
	c := *a
	c.Payload = append([]byte(nil), a.Payload...)
	if a.ApprovedAt != nil {
		t := *a.ApprovedAt
		c.ApprovedAt = &t
	}
	if a.ExecutedAt != nil {
		t := *a.ExecutedAt
		c.ExecutedAt = &t
	}
	return &c
}

// StatusUpdate describes the fields a compare-and-swap transition writes.
// Zero-valued optional fields are left untouched.
type StatusUpdate struct {
	To         ActionStatus
	At         time.Time
	Approver   string
	ApprovedAt *time.Time
	ExecutedAt *time.Time
	Result     *string
}

// Apply writes the update onto a.
func (u StatusUpdate) Apply(a *Action) {
	a.Status = u.To
	a.UpdatedAt = u.At
	if u.Approver != "" {
		a.Approver = u.Approver
	}
	if u.ApprovedAt != nil {
		t := *u.ApprovedAt
		a.ApprovedAt = &t
	}
	if u.ExecutedAt != nil {
		t := *u.ExecutedAt
		a.ExecutedAt = &t
	}
	if u.Result != nil {
		a.Result = *u.Result
	}
}
