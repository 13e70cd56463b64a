package governance

import (
	"bytes"
	"context"
	"sync"

	"github.com/blockberries/valgov/types"
)

// RecordedVote is a vote accepted by a Recorder.
type RecordedVote struct {
	RequestID       string
	Proposal        types.Pubkey
	VotingAuthority types.Pubkey
	Payer           types.Pubkey
	Payload         []byte
	Vote            Vote
}

type voteKey struct {
	proposal  types.Pubkey
	authority types.Pubkey
}

// Recorder is an in-process Service that keeps accepted votes in
// memory. It accepts one vote per voting authority and proposal and
// rejects payloads that do not decode. Dry runs are checked the same
// way but leave no record.
type Recorder struct {
	mu    sync.Mutex
	votes []RecordedVote
	seen  map[voteKey]struct{}
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{seen: make(map[voteKey]struct{})}
}

func (r *Recorder) CastVote(ctx context.Context, req *CastVoteRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	vote, err := DecodeVote(req.Vote)
	if err != nil {
		return Errorf(CodeInvalidVote, "%v", err)
	}
	if vote.Kind > VoteVeto {
		return Errorf(CodeInvalidVote, "unknown vote kind %d", vote.Kind)
	}
	if vote.Kind == VoteApprove && len(vote.Choices) == 0 {
		return Errorf(CodeInvalidVote, "approve vote without choices")
	}

	key := voteKey{proposal: req.Proposal(), authority: req.VotingAuthority()}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.seen[key]; ok {
		return Errorf(CodeVoteAlreadyCast, "%s already voted on %s", key.authority, key.proposal)
	}
	if req.DryRun {
		return nil
	}
	r.seen[key] = struct{}{}
	r.votes = append(r.votes, RecordedVote{
		RequestID:       req.RequestID,
		Proposal:        key.proposal,
		VotingAuthority: key.authority,
		Payer:           req.Payer(),
		Payload:         bytes.Clone(req.Vote),
		Vote:            vote,
	})
	return nil
}

// Votes returns a copy of the accepted votes in arrival order.
func (r *Recorder) Votes() []RecordedVote {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RecordedVote, len(r.votes))
	copy(out, r.votes)
	return out
}
