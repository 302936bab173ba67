package live

import "time"

// ItemOutcome is the per-item record propagated to the ticket collaborator
// when a session closes.
type ItemOutcome struct {
	AgendaItemID       string `json:"agendaItemId"`
	Title              string `json:"title,omitempty"`
	Decision           string `json:"decision"`
	BallotCount        int    `json:"ballotCount"`
	ApprovedCount      int    `json:"approvedCount"`
	NeedsRevisionCount int    `json:"needsRevisionCount"`
}

// Summarize folds the completed votes into a closing summary. Skipped and
// cancelled votes carry no result and do not count.
func Summarize(sess *LiveSession, closedAt time.Time, closedBy string) *SessionSummary {
	summary := &SessionSummary{
		DurationSeconds: int64(closedAt.Sub(sess.CreatedAt).Seconds()),
		ClosedAt:        closedAt,
		ClosedBy:        closedBy,
	}
	for _, vote := range sess.Votes {
		if vote.Status != VoteCompleted || vote.Result == nil {
			continue
		}
		summary.TotalItems++
		switch vote.Result.Decision {
		case DecisionApproved:
			summary.TotalApproved++
		case DecisionNeedsRevision:
			summary.TotalNeedsRevision++
		}
	}
	return summary
}

// Outcomes extracts one propagation record per completed vote.
func Outcomes(votes []Vote) []ItemOutcome {
	var outcomes []ItemOutcome
	for _, vote := range votes {
		if vote.Status != VoteCompleted || vote.Result == nil {
			continue
		}
		outcomes = append(outcomes, ItemOutcome{
			AgendaItemID:       vote.AgendaItemID,
			Title:              vote.Title,
			Decision:           vote.Result.Decision,
			BallotCount:        vote.Result.BallotCount,
			ApprovedCount:      vote.Result.ApprovedCount,
			NeedsRevisionCount: vote.Result.NeedsRevisionCount,
		})
	}
	return outcomes
}
