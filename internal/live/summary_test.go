package live

import (
	"testing"
	"time"
)

func TestSummarizeCountsOnlyCompletedVotes(t *testing.T) {
	created := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)
	closed := created.Add(90 * time.Minute)

	sess := &LiveSession{
		CreatedAt: created,
		Votes: []Vote{
			{Status: VoteCompleted, Result: &VoteResult{Decision: DecisionApproved}},
			{Status: VoteCompleted, Result: &VoteResult{Decision: DecisionNeedsRevision}},
			{Status: VoteSkipped},
			{Status: VoteCancelled},
		},
	}

	summary := Summarize(sess, closed, "fac@example.com")
	if summary.TotalItems != 2 {
		t.Errorf("expected 2 counted items, got %d", summary.TotalItems)
	}
	if summary.TotalApproved != 1 || summary.TotalNeedsRevision != 1 {
		t.Errorf("unexpected rollup: %+v", summary)
	}
	if summary.DurationSeconds != 90*60 {
		t.Errorf("expected 5400 seconds, got %d", summary.DurationSeconds)
	}
	if summary.ClosedBy != "fac@example.com" {
		t.Errorf("unexpected closer: %q", summary.ClosedBy)
	}
}

func TestOutcomesSkipUndecidedVotes(t *testing.T) {
	votes := []Vote{
		{
			AgendaItemID: "item-1",
			Title:        "Checkout flow",
			Status:       VoteCompleted,
			Result: &VoteResult{
				Decision:           DecisionApproved,
				ApprovedCount:      3,
				NeedsRevisionCount: 1,
				BallotCount:        4,
			},
		},
		{AgendaItemID: "item-2", Status: VoteSkipped},
		{AgendaItemID: "item-3", Status: VoteCancelled},
	}

	outcomes := Outcomes(votes)
	if len(outcomes) != 1 {
		t.Fatalf("expected 1 outcome, got %d", len(outcomes))
	}
	out := outcomes[0]
	if out.AgendaItemID != "item-1" || out.Decision != DecisionApproved || out.BallotCount != 4 {
		t.Errorf("unexpected outcome: %+v", out)
	}
}

func TestNormalizeLegacyActiveStatus(t *testing.T) {
	locked := &LiveSession{Status: "active", Lock: VoteLock{State: LockVoting, VoteID: "vote_1"}}
	locked.normalize()
	if locked.Status != StatusVoting {
		t.Errorf("expected legacy active with held lock to read as voting, got %s", locked.Status)
	}

	idle := &LiveSession{Status: "active"}
	idle.normalize()
	if idle.Status != StatusWaiting {
		t.Errorf("expected legacy active with idle lock to read as waiting, got %s", idle.Status)
	}
	if idle.ConnectedUsers == nil {
		t.Error("expected normalize to initialize the presence map")
	}
	if idle.Lock.State != LockIdle {
		t.Errorf("expected empty lock to normalize to idle, got %q", idle.Lock.State)
	}
}
