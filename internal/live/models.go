// Package live implements the review-day voting core: one shared session
// document per calendar day, mutated only through atomic store transforms.
package live

import (
	"sort"
	"time"
)

// Session statuses.
const (
	StatusWaiting = "waiting"
	StatusVoting  = "voting"
	StatusClosed  = "closed"

	// statusLegacyActive appears in documents written by the previous
	// implementation. Accepted on read, never written.
	statusLegacyActive = "active"
)

// Vote statuses. Active is the only non-terminal state.
const (
	VoteActive    = "active"
	VoteCompleted = "completed"
	VoteSkipped   = "skipped"
	VoteCancelled = "cancelled"
)

// Ballot decisions.
const (
	DecisionApproved      = "approved"
	DecisionNeedsRevision = "needs_revision"
)

// Vote lock states.
const (
	LockIdle   = "idle"
	LockVoting = "voting"
)

// VoteLock is the session-wide mutual exclusion token. Modeling it as a
// tagged variant keeps "is a vote active" and "which vote" from ever
// disagreeing.
type VoteLock struct {
	State  string `json:"state"`
	VoteID string `json:"voteId,omitempty"`
}

// Presence tracks one reviewer's connection state within a session.
type Presence struct {
	Identity       string     `json:"identity"`
	DisplayName    string     `json:"displayName"`
	Online         bool       `json:"online"`
	ConnectedAt    time.Time  `json:"connectedAt"`
	LastSeenAt     time.Time  `json:"lastSeenAt"`
	DisconnectedAt *time.Time `json:"disconnectedAt,omitempty"`
}

// Ballot is one reviewer's decision for one vote.
type Ballot struct {
	Identity    string    `json:"identity"`
	DisplayName string    `json:"displayName"`
	Decision    string    `json:"decision"`
	Comment     string    `json:"comment,omitempty"`
	CastAt      time.Time `json:"castAt"`
}

// VoteResult exists iff the vote completed.
type VoteResult struct {
	Decision           string    `json:"decision"`
	ApprovedCount      int       `json:"approvedCount"`
	NeedsRevisionCount int       `json:"needsRevisionCount"`
	BallotCount        int       `json:"ballotCount"`
	DecidedAt          time.Time `json:"decidedAt"`
}

// Vote covers one agenda item presented during a session. EligibleVoters is
// frozen at launch and never recomputed.
type Vote struct {
	VoteID         string      `json:"voteId"`
	AgendaItemID   string      `json:"agendaItemId"`
	Title          string      `json:"title,omitempty"`
	StartedBy      string      `json:"startedBy"`
	StartedAt      time.Time   `json:"startedAt"`
	Status         string      `json:"status"`
	EligibleVoters []string    `json:"eligibleVoters"`
	ExpectedVotes  int         `json:"expectedVotes"`
	Ballots        []Ballot    `json:"ballots"`
	Result         *VoteResult `json:"result,omitempty"`
}

// SessionSummary is produced once, at closure.
type SessionSummary struct {
	TotalItems         int       `json:"totalItems"`
	TotalApproved      int       `json:"totalApproved"`
	TotalNeedsRevision int       `json:"totalNeedsRevision"`
	DurationSeconds    int64     `json:"durationSeconds"`
	ClosedAt           time.Time `json:"closedAt"`
	ClosedBy           string    `json:"closedBy"`
}

// LiveSession is the aggregate. All nested data is owned by the session
// document; mutation happens only through Store.UpdateSession transforms.
type LiveSession struct {
	Code           string               `json:"code"`
	Date           string               `json:"date"`
	Status         string               `json:"status"`
	Lock           VoteLock             `json:"lock"`
	ConnectedUsers map[string]*Presence `json:"connectedUsers"`
	Votes          []Vote               `json:"votes"`
	Summary        *SessionSummary      `json:"summary,omitempty"`
	CreatedBy      string               `json:"createdBy"`
	CreatedAt      time.Time            `json:"createdAt"`
	ExpiresAt      time.Time            `json:"expiresAt"`
}

// normalize repairs documents written by older versions: the legacy "active"
// status collapses into waiting/voting depending on the lock, and absent
// maps or lock states get their zero forms.
func (s *LiveSession) normalize() {
	if s.ConnectedUsers == nil {
		s.ConnectedUsers = make(map[string]*Presence)
	}
	if s.Lock.State == "" {
		s.Lock.State = LockIdle
	}
	if s.Status == statusLegacyActive {
		if s.Lock.State == LockVoting {
			s.Status = StatusVoting
		} else {
			s.Status = StatusWaiting
		}
	}
}

// OnlineIdentities returns the sorted set of currently-online reviewers.
func (s *LiveSession) OnlineIdentities() []string {
	var online []string
	for identity, presence := range s.ConnectedUsers {
		if presence.Online {
			online = append(online, identity)
		}
	}
	sort.Strings(online)
	return online
}

// findVote returns a pointer into the Votes slice so transforms can mutate
// the entry in place.
func (s *LiveSession) findVote(voteID string) *Vote {
	for i := range s.Votes {
		if s.Votes[i].VoteID == voteID {
			return &s.Votes[i]
		}
	}
	return nil
}

// ActiveVote returns the vote holding the lock, if any.
func (s *LiveSession) ActiveVote() *Vote {
	if s.Lock.State != LockVoting {
		return nil
	}
	return s.findVote(s.Lock.VoteID)
}

func (v *Vote) isEligible(identity string) bool {
	for _, voter := range v.EligibleVoters {
		if voter == identity {
			return true
		}
	}
	return false
}

func (v *Vote) hasBallot(identity string) bool {
	for _, ballot := range v.Ballots {
		if ballot.Identity == identity {
			return true
		}
	}
	return false
}
