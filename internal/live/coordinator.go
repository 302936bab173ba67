package live

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"
)

// Coordinator owns the vote lifecycle state machine. StartVote and
// SubmitBallot race against concurrent writers, so they run with bounded
// transaction retries; close and cancel surface contention immediately.
type Coordinator struct {
	store   *Store
	retries int
}

func NewCoordinator(store *Store) *Coordinator {
	return &Coordinator{store: store, retries: 3}
}

// StartVoteInput carries the agenda item under vote and the initiator. The
// owner identity comes from the ticket collaborator's record; the
// coordinator only compares it.
type StartVoteInput struct {
	AgendaItemID  string
	Title         string
	Initiator     string
	Facilitator   bool
	OwnerIdentity string
}

// StartVote snapshots the online reviewers as the frozen eligible set,
// creates the vote, and takes the session lock. The lock check and the lock
// write happen inside one store transaction, so two concurrent starts can
// never both succeed.
func (c *Coordinator) StartVote(ctx context.Context, code string, in StartVoteInput) (*LiveSession, string, error) {
	voteID := newVoteID()
	sess, err := c.store.UpdateSession(ctx, code, c.retries, func(sess *LiveSession) error {
		if sess.Status == StatusClosed {
			return ErrSessionInactive
		}
		if sess.Lock.State == LockVoting {
			return ErrVoteAlreadyActive
		}
		eligible := sess.OnlineIdentities()
		if len(eligible) == 0 {
			return ErrNoEligibleVoters
		}
		if !in.Facilitator && in.OwnerIdentity != in.Initiator {
			return ErrNotOwner
		}

		sess.Votes = append(sess.Votes, Vote{
			VoteID:         voteID,
			AgendaItemID:   in.AgendaItemID,
			Title:          in.Title,
			StartedBy:      in.Initiator,
			StartedAt:      time.Now().UTC(),
			Status:         VoteActive,
			EligibleVoters: eligible,
			ExpectedVotes:  len(eligible),
			Ballots:        []Ballot{},
		})
		sess.Lock = VoteLock{State: LockVoting, VoteID: voteID}
		sess.Status = StatusVoting
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return sess, voteID, nil
}

// SubmitBallot appends one reviewer's decision. When the last expected
// ballot arrives the vote completes in the same transaction: the result is
// computed, the lock clears, and the session returns to waiting. The result
// is non-nil only on the completing call.
func (c *Coordinator) SubmitBallot(ctx context.Context, code, voteID, identity, displayName, decision, comment string) (*LiveSession, *VoteResult, error) {
	var result *VoteResult
	sess, err := c.store.UpdateSession(ctx, code, c.retries, func(sess *LiveSession) error {
		result = nil
		vote := sess.findVote(voteID)
		if vote == nil || vote.Status != VoteActive {
			return ErrVoteNotFound
		}
		if !vote.isEligible(identity) {
			return ErrNotEligible
		}
		if vote.hasBallot(identity) {
			return ErrDuplicateVote
		}
		if decision != DecisionApproved && decision != DecisionNeedsRevision {
			return ErrInvalidDecision
		}

		vote.Ballots = append(vote.Ballots, Ballot{
			Identity:    identity,
			DisplayName: displayName,
			Decision:    decision,
			Comment:     comment,
			CastAt:      time.Now().UTC(),
		})
		if len(vote.Ballots) >= vote.ExpectedVotes {
			vote.Status = VoteCompleted
			vote.Result = tallyBallots(vote.Ballots)
			result = vote.Result
			sess.Lock = VoteLock{State: LockIdle}
			sess.Status = StatusWaiting
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return sess, result, nil
}

// CloseEarly ends the active vote before every ballot arrives. Zero ballots
// means the item was skipped and carries no result; otherwise whatever
// ballots exist are tallied. Facilitator-only, enforced by the caller.
func (c *Coordinator) CloseEarly(ctx context.Context, code, voteID string) (*LiveSession, error) {
	return c.store.UpdateSession(ctx, code, 1, func(sess *LiveSession) error {
		vote := sess.findVote(voteID)
		if vote == nil || vote.Status != VoteActive {
			return ErrVoteNotFound
		}
		if len(vote.Ballots) == 0 {
			vote.Status = VoteSkipped
		} else {
			vote.Status = VoteCompleted
			vote.Result = tallyBallots(vote.Ballots)
		}
		sess.Lock = VoteLock{State: LockIdle}
		sess.Status = StatusWaiting
		return nil
	})
}

// Cancel forcibly discards the active vote, used to recover from operator
// error. The caller signals the agenda item back to not-yet-voted through
// the ticket collaborator after the transaction commits.
func (c *Coordinator) Cancel(ctx context.Context, code, voteID string) (*LiveSession, *Vote, error) {
	var cancelled Vote
	sess, err := c.store.UpdateSession(ctx, code, 1, func(sess *LiveSession) error {
		vote := sess.findVote(voteID)
		if vote == nil || vote.Status != VoteActive {
			return ErrVoteNotFound
		}
		vote.Status = VoteCancelled
		vote.Result = nil
		cancelled = *vote
		sess.Lock = VoteLock{State: LockIdle}
		sess.Status = StatusWaiting
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return sess, &cancelled, nil
}

// tallyBallots computes the outcome. Ties resolve toward needs_revision:
// approval requires a strict majority of cast ballots.
func tallyBallots(ballots []Ballot) *VoteResult {
	approved := 0
	needsRevision := 0
	for _, ballot := range ballots {
		if ballot.Decision == DecisionApproved {
			approved++
		} else {
			needsRevision++
		}
	}
	decision := DecisionNeedsRevision
	if approved > needsRevision {
		decision = DecisionApproved
	}
	return &VoteResult{
		Decision:           decision,
		ApprovedCount:      approved,
		NeedsRevisionCount: needsRevision,
		BallotCount:        len(ballots),
		DecidedAt:          time.Now().UTC(),
	}
}

func newVoteID() string {
	raw := make([]byte, 8)
	_, _ = rand.Read(raw)
	return "vote_" + hex.EncodeToString(raw)
}
