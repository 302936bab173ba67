package live

import (
	"context"
	"errors"
	"testing"
)

func startTestVote(t *testing.T, coordinator *Coordinator, code string, in StartVoteInput) (*LiveSession, string) {
	t.Helper()
	sess, voteID, err := coordinator.StartVote(context.Background(), code, in)
	if err != nil {
		t.Fatalf("StartVote failed: %v", err)
	}
	return sess, voteID
}

func TestStartVoteTakesLockAndFreezesVoters(t *testing.T) {
	store := setupTestStore(t)
	coordinator := NewCoordinator(store)

	seedSession(t, store, "CD7XK2", "2026-03-04", "bob@example.com", "ana@example.com")

	sess, voteID := startTestVote(t, coordinator, "CD7XK2", StartVoteInput{
		AgendaItemID: "checkout-flow",
		Title:        "Checkout flow",
		Initiator:    "fac@example.com",
		Facilitator:  true,
	})

	if sess.Lock.State != LockVoting || sess.Lock.VoteID != voteID {
		t.Errorf("expected lock held by %s, got %+v", voteID, sess.Lock)
	}
	if sess.Status != StatusVoting {
		t.Errorf("expected voting status, got %s", sess.Status)
	}

	vote := sess.ActiveVote()
	if vote == nil {
		t.Fatal("expected an active vote")
	}
	if vote.ExpectedVotes != 2 {
		t.Errorf("expected 2 expected votes, got %d", vote.ExpectedVotes)
	}
	if len(vote.EligibleVoters) != 2 || vote.EligibleVoters[0] != "ana@example.com" || vote.EligibleVoters[1] != "bob@example.com" {
		t.Errorf("expected sorted eligible voters, got %v", vote.EligibleVoters)
	}
}

func TestStartVoteMutualExclusion(t *testing.T) {
	store := setupTestStore(t)
	coordinator := NewCoordinator(store)

	seedSession(t, store, "CD7XK2", "2026-03-04", "ana@example.com")

	startTestVote(t, coordinator, "CD7XK2", StartVoteInput{
		AgendaItemID: "item-1",
		Initiator:    "fac@example.com",
		Facilitator:  true,
	})

	_, _, err := coordinator.StartVote(context.Background(), "CD7XK2", StartVoteInput{
		AgendaItemID: "item-2",
		Initiator:    "fac@example.com",
		Facilitator:  true,
	})
	if !errors.Is(err, ErrVoteAlreadyActive) {
		t.Errorf("expected ErrVoteAlreadyActive, got %v", err)
	}
}

func TestStartVoteNoOnlineReviewers(t *testing.T) {
	store := setupTestStore(t)
	coordinator := NewCoordinator(store)

	seedSession(t, store, "CD7XK2", "2026-03-04")

	_, _, err := coordinator.StartVote(context.Background(), "CD7XK2", StartVoteInput{
		AgendaItemID: "item-1",
		Initiator:    "fac@example.com",
		Facilitator:  true,
	})
	if !errors.Is(err, ErrNoEligibleVoters) {
		t.Errorf("expected ErrNoEligibleVoters, got %v", err)
	}
}

func TestStartVoteOwnerCheck(t *testing.T) {
	store := setupTestStore(t)
	coordinator := NewCoordinator(store)
	ctx := context.Background()

	seedSession(t, store, "CD7XK2", "2026-03-04", "ana@example.com")

	_, _, err := coordinator.StartVote(ctx, "CD7XK2", StartVoteInput{
		AgendaItemID:  "item-1",
		Initiator:     "bob@example.com",
		Facilitator:   false,
		OwnerIdentity: "ana@example.com",
	})
	if !errors.Is(err, ErrNotOwner) {
		t.Errorf("expected ErrNotOwner for a non-owner presenter, got %v", err)
	}

	_, _, err = coordinator.StartVote(ctx, "CD7XK2", StartVoteInput{
		AgendaItemID:  "item-1",
		Initiator:     "ana@example.com",
		Facilitator:   false,
		OwnerIdentity: "ana@example.com",
	})
	if err != nil {
		t.Errorf("expected owner to start their own vote, got %v", err)
	}
}

func TestStartVoteClosedSession(t *testing.T) {
	store := setupTestStore(t)
	coordinator := NewCoordinator(store)
	ctx := context.Background()

	seedSession(t, store, "CD7XK2", "2026-03-04", "ana@example.com")
	if _, err := store.UpdateSession(ctx, "CD7XK2", 1, func(sess *LiveSession) error {
		sess.Status = StatusClosed
		return nil
	}); err != nil {
		t.Fatalf("close session: %v", err)
	}

	_, _, err := coordinator.StartVote(ctx, "CD7XK2", StartVoteInput{
		AgendaItemID: "item-1",
		Initiator:    "fac@example.com",
		Facilitator:  true,
	})
	if !errors.Is(err, ErrSessionInactive) {
		t.Errorf("expected ErrSessionInactive, got %v", err)
	}
}

func TestSubmitBallotEligibilityFrozenAtStart(t *testing.T) {
	store := setupTestStore(t)
	coordinator := NewCoordinator(store)
	tracker := NewTracker(store)
	ctx := context.Background()

	seedSession(t, store, "CD7XK2", "2026-03-04", "ana@example.com")

	_, voteID := startTestVote(t, coordinator, "CD7XK2", StartVoteInput{
		AgendaItemID: "item-1",
		Initiator:    "fac@example.com",
		Facilitator:  true,
	})

	// Joins after launch, so not in the frozen set.
	if _, err := tracker.Connect(ctx, "CD7XK2", "late@example.com", "Late"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	_, _, err := coordinator.SubmitBallot(ctx, "CD7XK2", voteID, "late@example.com", "Late", DecisionApproved, "")
	if !errors.Is(err, ErrNotEligible) {
		t.Errorf("expected ErrNotEligible for a late joiner, got %v", err)
	}

	// The expected count does not grow either.
	sess, err := store.GetSession(ctx, "CD7XK2")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if vote := sess.ActiveVote(); vote == nil || vote.ExpectedVotes != 1 {
		t.Errorf("expected frozen expectedVotes of 1, got %+v", vote)
	}
}

func TestSubmitBallotDuplicate(t *testing.T) {
	store := setupTestStore(t)
	coordinator := NewCoordinator(store)
	ctx := context.Background()

	seedSession(t, store, "CD7XK2", "2026-03-04", "ana@example.com", "bob@example.com")

	_, voteID := startTestVote(t, coordinator, "CD7XK2", StartVoteInput{
		AgendaItemID: "item-1",
		Initiator:    "fac@example.com",
		Facilitator:  true,
	})

	if _, _, err := coordinator.SubmitBallot(ctx, "CD7XK2", voteID, "ana@example.com", "Ana", DecisionApproved, ""); err != nil {
		t.Fatalf("first ballot failed: %v", err)
	}
	_, _, err := coordinator.SubmitBallot(ctx, "CD7XK2", voteID, "ana@example.com", "Ana", DecisionNeedsRevision, "")
	if !errors.Is(err, ErrDuplicateVote) {
		t.Errorf("expected ErrDuplicateVote, got %v", err)
	}
}

func TestSubmitBallotInvalidDecision(t *testing.T) {
	store := setupTestStore(t)
	coordinator := NewCoordinator(store)

	seedSession(t, store, "CD7XK2", "2026-03-04", "ana@example.com")

	_, voteID := startTestVote(t, coordinator, "CD7XK2", StartVoteInput{
		AgendaItemID: "item-1",
		Initiator:    "fac@example.com",
		Facilitator:  true,
	})

	_, _, err := coordinator.SubmitBallot(context.Background(), "CD7XK2", voteID, "ana@example.com", "Ana", "maybe", "")
	if !errors.Is(err, ErrInvalidDecision) {
		t.Errorf("expected ErrInvalidDecision, got %v", err)
	}
}

func TestSubmitBallotAutoCompletes(t *testing.T) {
	store := setupTestStore(t)
	coordinator := NewCoordinator(store)
	ctx := context.Background()

	seedSession(t, store, "CD7XK2", "2026-03-04", "ana@example.com", "bob@example.com", "eve@example.com")

	_, voteID := startTestVote(t, coordinator, "CD7XK2", StartVoteInput{
		AgendaItemID: "item-1",
		Initiator:    "fac@example.com",
		Facilitator:  true,
	})

	_, result, err := coordinator.SubmitBallot(ctx, "CD7XK2", voteID, "ana@example.com", "Ana", DecisionApproved, "")
	if err != nil || result != nil {
		t.Fatalf("expected no result after first ballot, got result=%+v err=%v", result, err)
	}
	_, result, err = coordinator.SubmitBallot(ctx, "CD7XK2", voteID, "bob@example.com", "Bob", DecisionApproved, "")
	if err != nil || result != nil {
		t.Fatalf("expected no result after second ballot, got result=%+v err=%v", result, err)
	}

	sess, result, err := coordinator.SubmitBallot(ctx, "CD7XK2", voteID, "eve@example.com", "Eve", DecisionNeedsRevision, "font too small")
	if err != nil {
		t.Fatalf("final ballot failed: %v", err)
	}
	if result == nil {
		t.Fatal("expected completing ballot to return a result")
	}
	if result.Decision != DecisionApproved {
		t.Errorf("expected approved with 2 of 3, got %s", result.Decision)
	}
	if result.ApprovedCount != 2 || result.NeedsRevisionCount != 1 || result.BallotCount != 3 {
		t.Errorf("unexpected tally: %+v", result)
	}
	if sess.Lock.State != LockIdle {
		t.Errorf("expected lock released, got %+v", sess.Lock)
	}
	if sess.Status != StatusWaiting {
		t.Errorf("expected waiting status, got %s", sess.Status)
	}
	if vote := sess.findVote(voteID); vote == nil || vote.Status != VoteCompleted {
		t.Errorf("expected completed vote, got %+v", vote)
	}

	// A further vote can start once the lock is free.
	startTestVote(t, coordinator, "CD7XK2", StartVoteInput{
		AgendaItemID: "item-2",
		Initiator:    "fac@example.com",
		Facilitator:  true,
	})
}

func TestSubmitBallotTieIsNeedsRevision(t *testing.T) {
	store := setupTestStore(t)
	coordinator := NewCoordinator(store)
	ctx := context.Background()

	seedSession(t, store, "CD7XK2", "2026-03-04", "ana@example.com", "bob@example.com")

	_, voteID := startTestVote(t, coordinator, "CD7XK2", StartVoteInput{
		AgendaItemID: "item-1",
		Initiator:    "fac@example.com",
		Facilitator:  true,
	})

	if _, _, err := coordinator.SubmitBallot(ctx, "CD7XK2", voteID, "ana@example.com", "Ana", DecisionApproved, ""); err != nil {
		t.Fatalf("ballot failed: %v", err)
	}
	_, result, err := coordinator.SubmitBallot(ctx, "CD7XK2", voteID, "bob@example.com", "Bob", DecisionNeedsRevision, "")
	if err != nil {
		t.Fatalf("ballot failed: %v", err)
	}
	if result == nil || result.Decision != DecisionNeedsRevision {
		t.Errorf("expected tie to resolve to needs_revision, got %+v", result)
	}
}

func TestSubmitBallotAfterCompletion(t *testing.T) {
	store := setupTestStore(t)
	coordinator := NewCoordinator(store)
	ctx := context.Background()

	seedSession(t, store, "CD7XK2", "2026-03-04", "ana@example.com")

	_, voteID := startTestVote(t, coordinator, "CD7XK2", StartVoteInput{
		AgendaItemID: "item-1",
		Initiator:    "fac@example.com",
		Facilitator:  true,
	})
	if _, _, err := coordinator.SubmitBallot(ctx, "CD7XK2", voteID, "ana@example.com", "Ana", DecisionApproved, ""); err != nil {
		t.Fatalf("ballot failed: %v", err)
	}

	_, _, err := coordinator.SubmitBallot(ctx, "CD7XK2", voteID, "ana@example.com", "Ana", DecisionApproved, "")
	if !errors.Is(err, ErrVoteNotFound) {
		t.Errorf("expected ErrVoteNotFound for a completed vote, got %v", err)
	}
}

func TestCloseEarlyWithBallots(t *testing.T) {
	store := setupTestStore(t)
	coordinator := NewCoordinator(store)
	ctx := context.Background()

	seedSession(t, store, "CD7XK2", "2026-03-04", "ana@example.com", "bob@example.com", "eve@example.com")

	_, voteID := startTestVote(t, coordinator, "CD7XK2", StartVoteInput{
		AgendaItemID: "item-1",
		Initiator:    "fac@example.com",
		Facilitator:  true,
	})
	if _, _, err := coordinator.SubmitBallot(ctx, "CD7XK2", voteID, "ana@example.com", "Ana", DecisionApproved, ""); err != nil {
		t.Fatalf("ballot failed: %v", err)
	}

	sess, err := coordinator.CloseEarly(ctx, "CD7XK2", voteID)
	if err != nil {
		t.Fatalf("CloseEarly failed: %v", err)
	}
	vote := sess.findVote(voteID)
	if vote == nil || vote.Status != VoteCompleted {
		t.Fatalf("expected completed vote, got %+v", vote)
	}
	if vote.Result == nil || vote.Result.Decision != DecisionApproved || vote.Result.BallotCount != 1 {
		t.Errorf("expected 1-0 approved tally, got %+v", vote.Result)
	}
	if sess.Lock.State != LockIdle {
		t.Errorf("expected lock released, got %+v", sess.Lock)
	}
}

func TestCloseEarlyNoBallotsSkips(t *testing.T) {
	store := setupTestStore(t)
	coordinator := NewCoordinator(store)

	seedSession(t, store, "CD7XK2", "2026-03-04", "ana@example.com")

	_, voteID := startTestVote(t, coordinator, "CD7XK2", StartVoteInput{
		AgendaItemID: "item-1",
		Initiator:    "fac@example.com",
		Facilitator:  true,
	})

	sess, err := coordinator.CloseEarly(context.Background(), "CD7XK2", voteID)
	if err != nil {
		t.Fatalf("CloseEarly failed: %v", err)
	}
	vote := sess.findVote(voteID)
	if vote == nil || vote.Status != VoteSkipped {
		t.Fatalf("expected skipped vote, got %+v", vote)
	}
	if vote.Result != nil {
		t.Errorf("expected no result on a skipped vote, got %+v", vote.Result)
	}
}

func TestCancelReleasesLock(t *testing.T) {
	store := setupTestStore(t)
	coordinator := NewCoordinator(store)
	ctx := context.Background()

	seedSession(t, store, "CD7XK2", "2026-03-04", "ana@example.com")

	_, voteID := startTestVote(t, coordinator, "CD7XK2", StartVoteInput{
		AgendaItemID: "item-1",
		Initiator:    "fac@example.com",
		Facilitator:  true,
	})

	sess, cancelled, err := coordinator.Cancel(ctx, "CD7XK2", voteID)
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if cancelled.Status != VoteCancelled || cancelled.AgendaItemID != "item-1" {
		t.Errorf("unexpected cancelled vote: %+v", cancelled)
	}
	if sess.Lock.State != LockIdle || sess.Status != StatusWaiting {
		t.Errorf("expected released lock and waiting status, got lock=%+v status=%s", sess.Lock, sess.Status)
	}

	_, _, err = coordinator.Cancel(ctx, "CD7XK2", voteID)
	if !errors.Is(err, ErrVoteNotFound) {
		t.Errorf("expected ErrVoteNotFound on second cancel, got %v", err)
	}
}
