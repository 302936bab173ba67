package archive

import "time"

// ClosedSession is one archived review day.
type ClosedSession struct {
	Code               string    `json:"code"`
	Date               string    `json:"date"`
	CreatedBy          string    `json:"createdBy"`
	ClosedBy           string    `json:"closedBy"`
	ClosedAt           time.Time `json:"closedAt"`
	DurationSeconds    int64     `json:"durationSeconds"`
	TotalItems         int       `json:"totalItems"`
	TotalApproved      int       `json:"totalApproved"`
	TotalNeedsRevision int       `json:"totalNeedsRevision"`
}

// DecidedItem is one completed vote's outcome within an archived session.
type DecidedItem struct {
	ID                 int64     `json:"id"`
	SessionCode        string    `json:"sessionCode"`
	SessionDate        string    `json:"sessionDate"`
	AgendaItemID       string    `json:"agendaItemId"`
	Title              string    `json:"title"`
	Decision           string    `json:"decision"`
	BallotCount        int       `json:"ballotCount"`
	ApprovedCount      int       `json:"approvedCount"`
	NeedsRevisionCount int       `json:"needsRevisionCount"`
	DecidedAt          time.Time `json:"decidedAt"`
}
