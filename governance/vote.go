// Package governance is the call contract of the external governance
// program: the vote payload, the cast-vote instruction layout, the
// Service that records votes, and the adapter that exposes a Service
// to the runtime as a program. Validation of proposals, voter records
// and vote content is the Service's business.
package governance

import (
	"fmt"

	"github.com/blockberries/cramberry/pkg/cramberry"
)

// VoteKind selects the kind of vote.
type VoteKind uint8

const (
	VoteApprove VoteKind = iota
	VoteDeny
	VoteAbstain
	VoteVeto
)

func (k VoteKind) String() string {
	switch k {
	case VoteApprove:
		return "approve"
	case VoteDeny:
		return "deny"
	case VoteAbstain:
		return "abstain"
	case VoteVeto:
		return "veto"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// ParseVoteKind is the inverse of VoteKind.String.
func ParseVoteKind(s string) (VoteKind, error) {
	for k := VoteApprove; k <= VoteVeto; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown vote kind %q", s)
}

// VoteChoice weights one option of an approve vote.
type VoteChoice struct {
	Rank             uint8 `cramberry:"1"`
	WeightPercentage uint8 `cramberry:"2"`
}

// Vote is the payload of a cast-vote call. Choices are only meaningful
// for approve votes.
type Vote struct {
	Kind    VoteKind     `cramberry:"1"`
	Choices []VoteChoice `cramberry:"2"`
}

// Approve returns an approve vote with a single full-weight choice.
func Approve() Vote {
	return Vote{Kind: VoteApprove, Choices: []VoteChoice{{Rank: 0, WeightPercentage: 100}}}
}

// Encode returns the wire form forwarded to the governance program.
func (v Vote) Encode() ([]byte, error) {
	data, err := cramberry.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode vote: %w", err)
	}
	return data, nil
}

// DecodeVote parses a vote payload.
func DecodeVote(data []byte) (Vote, error) {
	var v Vote
	if err := cramberry.Unmarshal(data, &v); err != nil {
		return Vote{}, fmt.Errorf("decode vote: %w", err)
	}
	return v, nil
}
