package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"broadcastbot/internal/schedule"
	logx "broadcastbot/pkg/logx"
)

// fileStore persists into a handful of files next to cfg.Path:
//
//	<prefix>.jobs.snapshot.json  compacted job table
//	<prefix>.jobs.journal.jsonl  job mutations since the last snapshot
//	<prefix>.groups.json         recipient directory
//	<prefix>.users.json          user registry
//	<prefix>.audit.jsonl         append-only audit trail
//
// Reads are served from an in-memory view rebuilt at open.
type fileStore struct {
	log logx.Logger

	mu     sync.Mutex
	view   *Memory
	closed bool

	snapPath   string
	groupsPath string
	usersPath  string

	journal *os.File
	audit   *os.File
	writes  int
}

const compactEvery = 500

type journalRecord struct {
	Op  string        `json:"op"` // put, del, clear
	ID  string        `json:"id,omitempty"`
	Job *schedule.Job `json:"job,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (*fileStore, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:        log,
		view:       NewMemory(),
		snapPath:   prefix + ".jobs.snapshot.json",
		groupsPath: prefix + ".groups.json",
		usersPath:  prefix + ".users.json",
	}
	if err := s.load(prefix + ".jobs.journal.jsonl"); err != nil {
		return nil, err
	}

	var err error
	if s.journal, err = os.OpenFile(prefix+".jobs.journal.jsonl", os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600); err != nil {
		return nil, err
	}
	if s.audit, err = os.OpenFile(prefix+".audit.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600); err != nil {
		_ = s.journal.Close()
		return nil, err
	}
	log.Info("file storage opened", logx.String("prefix", prefix), logx.Int("jobs", len(s.view.jobs)), logx.Int("groups", len(s.view.groups)))
	return s, nil
}

func (s *fileStore) load(journalPath string) error {
	var jobs []schedule.Job
	if err := readJSON(s.snapPath, &jobs); err != nil {
		return fmt.Errorf("read job snapshot: %w", err)
	}
	for _, j := range jobs {
		s.view.jobs[j.ID] = j
	}
	if err := replayJournal(journalPath, s.view.jobs, s.log); err != nil {
		return fmt.Errorf("replay job journal: %w", err)
	}

	var groups []Group
	if err := readJSON(s.groupsPath, &groups); err != nil {
		return fmt.Errorf("read groups: %w", err)
	}
	for _, g := range groups {
		s.view.groups[g.ChatID] = g
	}
	if err := readJSON(s.usersPath, &s.view.users); err != nil {
		return fmt.Errorf("read users: %w", err)
	}
	if s.view.users == nil {
		s.view.users = map[int64]time.Time{}
	}
	return nil
}

func (s *fileStore) PutJob(ctx context.Context, j schedule.Job) error {
	return s.journalWrite(ctx, journalRecord{Op: "put", ID: j.ID, Job: &j}, func() {
		s.view.jobs[j.ID] = j
	})
}

func (s *fileStore) DeleteJob(ctx context.Context, id string) error {
	return s.journalWrite(ctx, journalRecord{Op: "del", ID: id}, func() {
		delete(s.view.jobs, id)
	})
}

func (s *fileStore) ClearJobs(ctx context.Context) error {
	return s.journalWrite(ctx, journalRecord{Op: "clear"}, func() {
		clear(s.view.jobs)
	})
}

func (s *fileStore) ListJobs(ctx context.Context) ([]schedule.Job, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	return s.view.ListJobs(ctx)
}

// journalWrite appends rec durably and only then applies it to the view.
func (s *fileStore) journalWrite(ctx context.Context, rec journalRecord, apply func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if _, err := s.journal.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("append job journal: %w", err)
	}
	if err := s.journal.Sync(); err != nil {
		return fmt.Errorf("sync job journal: %w", err)
	}

	s.view.mu.Lock()
	apply()
	s.view.mu.Unlock()

	s.writes++
	if s.writes%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Warn("job journal compaction failed", logx.Err(err))
		}
	}
	return nil
}

// Compact folds the journal into the snapshot.
func (s *fileStore) Compact(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.compactLocked()
}

func (s *fileStore) compactLocked() error {
	s.view.mu.RLock()
	jobs := make([]schedule.Job, 0, len(s.view.jobs))
	for _, j := range s.view.jobs {
		jobs = append(jobs, j)
	}
	s.view.mu.RUnlock()
	sortJobs(jobs)

	if err := writeJSONAtomic(s.snapPath, jobs); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err := s.journal.Seek(0, io.SeekEnd)
	return err
}

func (s *fileStore) AddGroup(ctx context.Context, chatID int64, title string) error {
	return s.snapshotWrite(ctx, s.groupsPath, func() (any, bool) {
		if !s.view.addGroupLocked(chatID, title, time.Now()) {
			return nil, false
		}
		return groupList(s.view.groups), true
	})
}

func (s *fileStore) RemoveGroup(ctx context.Context, chatID int64) error {
	return s.snapshotWrite(ctx, s.groupsPath, func() (any, bool) {
		if _, ok := s.view.groups[chatID]; !ok {
			return nil, false
		}
		delete(s.view.groups, chatID)
		return groupList(s.view.groups), true
	})
}

func (s *fileStore) AddUser(ctx context.Context, userID int64) error {
	return s.snapshotWrite(ctx, s.usersPath, func() (any, bool) {
		if _, ok := s.view.users[userID]; ok {
			return nil, false
		}
		s.view.users[userID] = time.Now().UTC()
		return maps.Clone(s.view.users), true
	})
}

// snapshotWrite applies mutate to the view and, when it reports a change,
// rewrites path with the returned value. A failed write reverts nothing in
// memory; the next change rewrites the whole file.
func (s *fileStore) snapshotWrite(ctx context.Context, path string, mutate func() (any, bool)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.view.mu.Lock()
	v, changed := mutate()
	s.view.mu.Unlock()
	if !changed {
		return nil
	}
	return writeJSONAtomic(path, v)
}

func (s *fileStore) ListGroups(ctx context.Context) ([]Group, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	return s.view.ListGroups(ctx)
}

func (s *fileStore) GroupIDs(ctx context.Context) ([]int64, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	return s.view.GroupIDs(ctx)
}

func (s *fileStore) CountUsers(ctx context.Context) (int, error) {
	if err := s.usable(); err != nil {
		return 0, err
	}
	return s.view.CountUsers(ctx)
}

func (s *fileStore) AppendAudit(_ context.Context, e AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	return json.NewEncoder(s.audit).Encode(e)
}

func (s *fileStore) usable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.compactLocked()
	return errors.Join(err, s.journal.Close(), s.audit.Close())
}

func groupList(m map[int64]Group) []Group {
	out := make([]Group, 0, len(m))
	for _, g := range m {
		out = append(out, g)
	}
	return out
}

// readJSON leaves v untouched when path does not exist.
func readJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, v)
}

func writeJSONAtomic(path string, v any) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(v); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func replayJournal(path string, jobs map[string]schedule.Job, log logx.Logger) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			// A torn final write after a crash is expected; skip it.
			log.Warn("skipping unreadable journal line", logx.Int("line", line), logx.Err(err))
			continue
		}
		switch r.Op {
		case "put":
			if r.Job != nil && r.Job.ID != "" {
				jobs[r.Job.ID] = *r.Job
			}
		case "del":
			delete(jobs, r.ID)
		case "clear":
			clear(jobs)
		}
	}
	return sc.Err()
}
