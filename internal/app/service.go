package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"greenlight/api/internal/archive"
	"greenlight/api/internal/config"
	"greenlight/api/internal/identity"
	"greenlight/api/internal/live"
	"greenlight/api/internal/minutes"
	"greenlight/api/internal/search"
	"greenlight/api/internal/tickets"
)

// TicketTracker is the external ticket collaborator interface.
type TicketTracker interface {
	ListForDate(ctx context.Context, date string) ([]tickets.AgendaItem, error)
	MarkReviewed(ctx context.Context, id string, outcome tickets.Outcome) error
	ClearReview(ctx context.Context, id string) error
}

// FlowScraper extracts flow names and snapshots from the shared design file.
type FlowScraper interface {
	FlowNames(ctx context.Context) ([]string, error)
	Snapshot(ctx context.Context) ([]byte, error)
}

// SessionArchive is the durable Postgres record of closed sessions.
type SessionArchive interface {
	InsertClosedSession(ctx context.Context, sess archive.ClosedSession, items []archive.DecidedItem) error
	ListClosedSessions(ctx context.Context, limit int) ([]archive.ClosedSession, error)
	Ping(ctx context.Context) error
}

// MinutesWriter commits closing minutes to the git-backed history.
type MinutesWriter interface {
	CommitSession(record minutes.Record, snapshot []byte) error
}

// Collaborators are the optional externals; any of them may be nil and the
// service degrades accordingly.
type Collaborators struct {
	Tickets TicketTracker
	Flows   FlowScraper
	Archive SessionArchive
	Minutes MinutesWriter
	Search  *search.Service
}

type agendaCacheEntry struct {
	expiresAt time.Time
	items     []tickets.AgendaItem
}

// Service wires the voting core to its collaborators and enforces the
// facilitator/presenter distinction on top of it.
type Service struct {
	cfg         config.Config
	store       *live.Store
	tracker     *live.Tracker
	coordinator *live.Coordinator
	lifecycle   *live.Lifecycle
	collab      Collaborators

	agendaTTL time.Duration
	agendaMu  sync.Mutex
	agenda    map[string]agendaCacheEntry
}

func New(cfg config.Config, store *live.Store, loc *time.Location, collab Collaborators) *Service {
	return &Service{
		cfg:         cfg,
		store:       store,
		tracker:     live.NewTracker(store),
		coordinator: live.NewCoordinator(store),
		lifecycle:   live.NewLifecycle(store, loc),
		collab:      collab,
		agendaTTL:   time.Minute,
		agenda:      make(map[string]agendaCacheEntry),
	}
}

// SessionFromToken verifies the identity collaborator's signed pair.
func (s *Service) SessionFromToken(token string) (identity.Claims, error) {
	return identity.ParseToken([]byte(s.cfg.JWTSecret), token)
}

// CheckFacilitatorPasscode gates session create/close.
func (s *Service) CheckFacilitatorPasscode(passcode string) error {
	if err := identity.CheckPasscode(s.cfg.FacilitatorHash, passcode); err != nil {
		return domainError(http.StatusForbidden, "BAD_PASSCODE", "Invalid facilitator passcode", nil)
	}
	return nil
}

// EnsureTodaySession finds or creates today's session; used both by the
// facilitator UI and the morning scheduler.
func (s *Service) EnsureTodaySession(ctx context.Context, facilitator string) (*live.LiveSession, error) {
	return s.lifecycle.EnsureTodaySession(ctx, facilitator)
}

func (s *Service) FindTodaySession(ctx context.Context) (*live.LiveSession, error) {
	return s.lifecycle.FindTodaySession(ctx)
}

func (s *Service) GetSession(ctx context.Context, code string) (*live.LiveSession, error) {
	return s.store.GetSession(ctx, code)
}

func (s *Service) Connect(ctx context.Context, code string, who identity.Claims) (*live.LiveSession, error) {
	return s.tracker.Connect(ctx, code, who.Identity, who.DisplayName)
}

// HeartbeatInterval is the cadence clients should ping at. Staleness is
// judged client-side; the server never reaps presences on its own.
func (s *Service) HeartbeatInterval() time.Duration {
	return s.cfg.HeartbeatTTL
}

func (s *Service) Heartbeat(ctx context.Context, code string, who identity.Claims) error {
	return s.tracker.Heartbeat(ctx, code, who.Identity)
}

func (s *Service) Disconnect(ctx context.Context, code string, who identity.Claims) error {
	return s.tracker.Disconnect(ctx, code, who.Identity)
}

// Subscribe exposes the store's change feed for the SSE endpoint.
func (s *Service) Subscribe(ctx context.Context, code string) (<-chan *live.LiveSession, func(), error) {
	return s.store.Subscribe(ctx, code)
}

// Agenda returns the day's agenda items from the tracker, titles enriched
// with scraped flow names when both collaborators are configured. Results
// are cached briefly: the agenda backs every owner check during StartVote.
func (s *Service) Agenda(ctx context.Context, date string) ([]tickets.AgendaItem, error) {
	if s.collab.Tickets == nil {
		return []tickets.AgendaItem{}, nil
	}

	s.agendaMu.Lock()
	if entry, ok := s.agenda[date]; ok && time.Now().Before(entry.expiresAt) {
		items := entry.items
		s.agendaMu.Unlock()
		return items, nil
	}
	s.agendaMu.Unlock()

	items, err := s.collab.Tickets.ListForDate(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("list agenda: %w", err)
	}
	s.enrichTitles(ctx, items)

	s.agendaMu.Lock()
	s.agenda[date] = agendaCacheEntry{expiresAt: time.Now().Add(s.agendaTTL), items: items}
	s.agendaMu.Unlock()
	return items, nil
}

func (s *Service) enrichTitles(ctx context.Context, items []tickets.AgendaItem) {
	if s.collab.Flows == nil {
		return
	}
	names, err := s.collab.Flows.FlowNames(ctx)
	if err != nil {
		log.Printf("app: flow scrape failed, keeping ticket titles: %v", err)
		return
	}
	for i := range items {
		if items[i].Title == "" && items[i].Order-1 >= 0 && items[i].Order-1 < len(names) {
			items[i].Title = names[items[i].Order-1]
		}
	}
}

// StartVote launches a vote on one agenda item. Facilitators may launch any
// item; presenters only their own, checked against the tracker's recorded
// owner.
func (s *Service) StartVote(ctx context.Context, code, agendaItemID string, who identity.Claims) (*live.LiveSession, string, error) {
	facilitator := who.Role == identity.RoleFacilitator
	input := live.StartVoteInput{
		AgendaItemID:  agendaItemID,
		Initiator:     who.Identity,
		Facilitator:   facilitator,
		OwnerIdentity: who.Identity,
	}

	if s.collab.Tickets != nil {
		sess, err := s.store.GetSession(ctx, code)
		if err != nil {
			return nil, "", err
		}
		item, err := s.agendaItem(ctx, sess.Date, agendaItemID)
		if err != nil {
			return nil, "", err
		}
		input.Title = item.Title
		input.OwnerIdentity = item.OwnerIdentity
	}

	return s.coordinator.StartVote(ctx, code, input)
}

func (s *Service) agendaItem(ctx context.Context, date, agendaItemID string) (tickets.AgendaItem, error) {
	items, err := s.Agenda(ctx, date)
	if err != nil {
		return tickets.AgendaItem{}, err
	}
	for _, item := range items {
		if item.AgendaItemID == agendaItemID || item.ID == agendaItemID {
			return item, nil
		}
	}
	return tickets.AgendaItem{}, domainError(http.StatusNotFound, "AGENDA_ITEM_NOT_FOUND", "Agenda item is not on today's list", nil)
}

func (s *Service) SubmitBallot(ctx context.Context, code, voteID, decision, comment string, who identity.Claims) (*live.LiveSession, *live.VoteResult, error) {
	return s.coordinator.SubmitBallot(ctx, code, voteID, who.Identity, who.DisplayName, decision, comment)
}

func (s *Service) CloseEarly(ctx context.Context, code, voteID string, who identity.Claims) (*live.LiveSession, error) {
	if who.Role != identity.RoleFacilitator {
		return nil, forbidden("Only the facilitator can close a vote early")
	}
	return s.coordinator.CloseEarly(ctx, code, voteID)
}

// CancelVote discards the active vote and signals the agenda item back to
// not-yet-voted on the tracker. The signal runs after the transaction
// commits and its failure only logs: the session document already reflects
// the cancellation.
func (s *Service) CancelVote(ctx context.Context, code, voteID string, who identity.Claims) (*live.LiveSession, error) {
	if who.Role != identity.RoleFacilitator {
		return nil, forbidden("Only the facilitator can cancel a vote")
	}
	sess, cancelled, err := s.coordinator.Cancel(ctx, code, voteID)
	if err != nil {
		return nil, err
	}
	if s.collab.Tickets != nil && cancelled.AgendaItemID != "" {
		go func(itemID string) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.collab.Tickets.ClearReview(ctx, itemID); err != nil {
				log.Printf("app: clear review for %s: %v", itemID, err)
			}
		}(cancelled.AgendaItemID)
	}
	return sess, nil
}

// CloseSession closes the day's session and fans the outcome out to the
// collaborators. The session document is the record of truth; every
// downstream write is best-effort and logged on failure.
func (s *Service) CloseSession(ctx context.Context, code string, who identity.Claims) (*live.LiveSession, error) {
	if who.Role != identity.RoleFacilitator {
		return nil, forbidden("Only the facilitator can close the session")
	}
	sess, err := s.lifecycle.CloseSession(ctx, code, who.Identity)
	if err != nil {
		return nil, err
	}
	if sess.Summary != nil {
		go s.propagateClosure(sess)
	}
	return sess, nil
}

func (s *Service) propagateClosure(sess *live.LiveSession) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	outcomes := live.Outcomes(sess.Votes)

	if s.collab.Tickets != nil {
		for _, outcome := range outcomes {
			err := s.collab.Tickets.MarkReviewed(ctx, outcome.AgendaItemID, tickets.Outcome{
				Decision:           outcome.Decision,
				BallotCount:        outcome.BallotCount,
				ApprovedCount:      outcome.ApprovedCount,
				NeedsRevisionCount: outcome.NeedsRevisionCount,
			})
			if err != nil {
				log.Printf("app: mark reviewed %s: %v", outcome.AgendaItemID, err)
			}
		}
	}

	if s.collab.Archive != nil {
		if err := s.collab.Archive.InsertClosedSession(ctx, archivedSession(sess), archivedItems(sess)); err != nil {
			log.Printf("app: archive session %s: %v", sess.Code, err)
		}
	}

	if s.collab.Minutes != nil {
		var snapshot []byte
		if s.collab.Flows != nil {
			shot, err := s.collab.Flows.Snapshot(ctx)
			if err != nil {
				log.Printf("app: design snapshot for %s: %v", sess.Code, err)
			} else {
				snapshot = shot
			}
		}
		if err := s.collab.Minutes.CommitSession(minutesRecord(sess, outcomes), snapshot); err != nil {
			log.Printf("app: commit minutes for %s: %v", sess.Code, err)
		}
	}

	if s.collab.Search != nil {
		s.collab.Search.IndexOutcomes(outcomeRecords(sess))
	}
}

// History lists archived sessions, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]archive.ClosedSession, error) {
	if s.collab.Archive == nil {
		return []archive.ClosedSession{}, nil
	}
	return s.collab.Archive.ListClosedSessions(ctx, limit)
}

// Search queries decided agenda items.
func (s *Service) Search(ctx context.Context, q search.Query) search.Response {
	if s.collab.Search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.collab.Search.Search(ctx, q)
}

// Ping checks the live store; the archive is reported separately by the
// readiness endpoint.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) PingArchive(ctx context.Context) error {
	if s.collab.Archive == nil {
		return nil
	}
	return s.collab.Archive.Ping(ctx)
}

func archivedSession(sess *live.LiveSession) archive.ClosedSession {
	return archive.ClosedSession{
		Code:               sess.Code,
		Date:               sess.Date,
		CreatedBy:          sess.CreatedBy,
		ClosedBy:           sess.Summary.ClosedBy,
		ClosedAt:           sess.Summary.ClosedAt,
		DurationSeconds:    sess.Summary.DurationSeconds,
		TotalItems:         sess.Summary.TotalItems,
		TotalApproved:      sess.Summary.TotalApproved,
		TotalNeedsRevision: sess.Summary.TotalNeedsRevision,
	}
}

func archivedItems(sess *live.LiveSession) []archive.DecidedItem {
	var items []archive.DecidedItem
	for _, vote := range sess.Votes {
		if vote.Status != live.VoteCompleted || vote.Result == nil {
			continue
		}
		items = append(items, archive.DecidedItem{
			SessionCode:        sess.Code,
			SessionDate:        sess.Date,
			AgendaItemID:       vote.AgendaItemID,
			Title:              vote.Title,
			Decision:           vote.Result.Decision,
			BallotCount:        vote.Result.BallotCount,
			ApprovedCount:      vote.Result.ApprovedCount,
			NeedsRevisionCount: vote.Result.NeedsRevisionCount,
			DecidedAt:          vote.Result.DecidedAt,
		})
	}
	return items
}

func minutesRecord(sess *live.LiveSession, outcomes []live.ItemOutcome) minutes.Record {
	record := minutes.Record{
		Code:               sess.Code,
		Date:               sess.Date,
		ClosedBy:           sess.Summary.ClosedBy,
		ClosedAt:           sess.Summary.ClosedAt,
		DurationSeconds:    sess.Summary.DurationSeconds,
		TotalItems:         sess.Summary.TotalItems,
		TotalApproved:      sess.Summary.TotalApproved,
		TotalNeedsRevision: sess.Summary.TotalNeedsRevision,
	}
	for _, outcome := range outcomes {
		record.Items = append(record.Items, minutes.RecordItem{
			AgendaItemID:       outcome.AgendaItemID,
			Title:              outcome.Title,
			Decision:           outcome.Decision,
			BallotCount:        outcome.BallotCount,
			ApprovedCount:      outcome.ApprovedCount,
			NeedsRevisionCount: outcome.NeedsRevisionCount,
		})
	}
	return record
}

func outcomeRecords(sess *live.LiveSession) []search.OutcomeRecord {
	var records []search.OutcomeRecord
	for _, vote := range sess.Votes {
		if vote.Status != live.VoteCompleted || vote.Result == nil {
			continue
		}
		records = append(records, search.OutcomeRecord{
			ID:                 sess.Code + "-" + vote.VoteID,
			SessionCode:        sess.Code,
			SessionDate:        sess.Date,
			AgendaItemID:       vote.AgendaItemID,
			Title:              vote.Title,
			Decision:           vote.Result.Decision,
			BallotCount:        vote.Result.BallotCount,
			ApprovedCount:      vote.Result.ApprovedCount,
			NeedsRevisionCount: vote.Result.NeedsRevisionCount,
		})
	}
	return records
}
