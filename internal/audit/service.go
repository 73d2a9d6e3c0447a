// Package audit keeps an immutable publication trail per perspective, backed
// by a local git repository. Every publish and endorsement becomes a commit,
// so the editorial history of a glossary survives soft deletes in the
// database.
package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Record is what gets committed for a publication or endorsement.
type Record struct {
	EntryID  string `json:"entryId"`
	TermName string `json:"term"`
	DraftID  string `json:"draftId"`
	Content  string `json:"content"`
	Action   string `json:"action"`
	Actor    string `json:"actor"`
}

// CommitInfo is a single audit trail entry.
type CommitInfo struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// RecordPublication commits the published definition into the perspective's
// repository, creating the repository on first use.
func (s *Service) RecordPublication(perspectiveID string, rec Record) (CommitInfo, error) {
	rec.Action = "publish"
	message := fmt.Sprintf("Publish %q (draft %s)", rec.TermName, rec.DraftID)
	return s.commitRecord(perspectiveID, rec, message)
}

// RecordEndorsement commits an endorsement marker for an already published
// definition.
func (s *Service) RecordEndorsement(perspectiveID string, rec Record) (CommitInfo, error) {
	rec.Action = "endorse"
	message := fmt.Sprintf("Endorse %q (draft %s)", rec.TermName, rec.DraftID)
	return s.commitRecord(perspectiveID, rec, message)
}

// History returns the newest commits of a perspective's audit trail. A
// perspective with no publications yet has an empty history, not an error.
func (s *Service) History(perspectiveID string, limit int) ([]CommitInfo, error) {
	lock := s.perspectiveLock(perspectiveID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(perspectiveID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return []CommitInfo{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open audit repo: %w", err)
	}

	head, err := repo.Head()
	if err != nil {
		return []CommitInfo{}, nil
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	defer iter.Close()

	items := make([]CommitInfo, 0, limit)
	count := 0
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommitInfo(commitObj))
		count++
		if limit > 0 && count >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate audit log: %w", err)
	}
	return items, nil
}

func (s *Service) commitRecord(perspectiveID string, rec Record, message string) (CommitInfo, error) {
	lock := s.perspectiveLock(perspectiveID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.ensureRepo(perspectiveID)
	if err != nil {
		return CommitInfo{}, err
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return CommitInfo{}, fmt.Errorf("open worktree: %w", err)
	}

	payload, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return CommitInfo{}, fmt.Errorf("marshal audit record: %w", err)
	}

	fileName := rec.EntryID + ".json"
	repoRoot := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(repoRoot, fileName), append(payload, '\n'), 0o644); err != nil {
		return CommitInfo{}, fmt.Errorf("write audit record: %w", err)
	}
	if _, err := worktree.Add(fileName); err != nil {
		return CommitInfo{}, fmt.Errorf("git add audit record: %w", err)
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		// Endorsements re-commit identical content.
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  rec.Actor,
			Email: fmt.Sprintf("%s@local.glossary.dev", sanitizeEmail(rec.Actor)),
			When:  time.Now(),
		},
	})
	if err != nil {
		return CommitInfo{}, fmt.Errorf("commit audit record: %w", err)
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return CommitInfo{}, fmt.Errorf("read audit commit: %w", err)
	}
	return toCommitInfo(commitObj), nil
}

func (s *Service) ensureRepo(perspectiveID string) (*git.Repository, error) {
	path := s.repoPath(perspectiveID)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open audit repo: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create audit repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init audit repo: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return nil, fmt.Errorf("set HEAD to main: %w", err)
	}
	return repo, nil
}

func (s *Service) repoPath(perspectiveID string) string {
	return filepath.Join(s.baseDir, perspectiveID)
}

func (s *Service) perspectiveLock(perspectiveID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[perspectiveID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[perspectiveID] = lock
	return lock
}

func toCommitInfo(commitObj *object.Commit) CommitInfo {
	return CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}
