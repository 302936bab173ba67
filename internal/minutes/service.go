// Package minutes commits a minutes file to a local git repository every
// time a session closes, giving the board a reviewable history outside the
// live store. Writes are best-effort; a failed commit never blocks closure.
package minutes

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Record is the minutes document committed per closed session.
type Record struct {
	Code               string       `json:"code"`
	Date               string       `json:"date"`
	ClosedBy           string       `json:"closedBy"`
	ClosedAt           time.Time    `json:"closedAt"`
	DurationSeconds    int64        `json:"durationSeconds"`
	TotalItems         int          `json:"totalItems"`
	TotalApproved      int          `json:"totalApproved"`
	TotalNeedsRevision int          `json:"totalNeedsRevision"`
	Items              []RecordItem `json:"items"`
}

type RecordItem struct {
	AgendaItemID       string `json:"agendaItemId"`
	Title              string `json:"title,omitempty"`
	Decision           string `json:"decision"`
	BallotCount        int    `json:"ballotCount"`
	ApprovedCount      int    `json:"approvedCount"`
	NeedsRevisionCount int    `json:"needsRevisionCount"`
}

type Service struct {
	baseDir string
	mu      sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{baseDir: baseDir}
}

// CommitSession writes the minutes file (and an optional design snapshot)
// and commits both. The repository is initialized on first use.
func (s *Service) CommitSession(record Record, snapshot []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := s.ensureRepo()
	if err != nil {
		return err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}

	base := record.Date + "-" + record.Code
	payload, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal minutes: %w", err)
	}

	relJSON := filepath.Join("sessions", base+".json")
	if err := s.writeFile(relJSON, append(payload, '\n')); err != nil {
		return err
	}
	if _, err := worktree.Add(relJSON); err != nil {
		return fmt.Errorf("git add minutes: %w", err)
	}

	if len(snapshot) > 0 {
		relPNG := filepath.Join("sessions", base+".png")
		if err := s.writeFile(relPNG, snapshot); err != nil {
			return err
		}
		if _, err := worktree.Add(relPNG); err != nil {
			return fmt.Errorf("git add snapshot: %w", err)
		}
	}

	message := fmt.Sprintf("Close session %s (%d approved, %d needs revision)",
		record.Code, record.TotalApproved, record.TotalNeedsRevision)
	_, err = worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  firstNonEmpty(record.ClosedBy, "greenlight"),
			Email: authorEmail(record.ClosedBy),
			When:  record.ClosedAt,
		},
	})
	if err != nil {
		return fmt.Errorf("commit minutes: %w", err)
	}
	return nil
}

func (s *Service) ensureRepo() (*git.Repository, error) {
	path := s.baseDir
	if _, err := os.Stat(filepath.Join(path, ".git")); err == nil {
		repo, err := git.PlainOpen(path)
		if err != nil {
			return nil, fmt.Errorf("open minutes repo: %w", err)
		}
		return repo, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat minutes repo: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create minutes dir: %w", err)
	}
	repo, err := git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init minutes repo: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return nil, fmt.Errorf("set HEAD to main: %w", err)
	}
	return repo, nil
}

func (s *Service) writeFile(rel string, data []byte) error {
	full := filepath.Join(s.baseDir, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create minutes subdir: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", rel, err)
	}
	return nil
}

func authorEmail(name string) string {
	if strings.Contains(name, "@") {
		return name
	}
	cleaned := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), " ", "."))
	if cleaned == "" {
		cleaned = "bot"
	}
	return cleaned + "@local.greenlight.dev"
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
