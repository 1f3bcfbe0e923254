package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/famflix/voiceswap/cmd/server/internal/synthesis"
	"github.com/famflix/voiceswap/cmd/server/internal/voice"
	"github.com/famflix/voiceswap/pkg/logger"
)

// ErrJobNotFound is returned for lookups of unknown job IDs.
var ErrJobNotFound = errors.New("pipeline: job not found")

// Store keeps jobs in memory and mirrors every mutation to one JSON file per
// job. Writes go through a temp file and rename so a crash mid-write never
// leaves a truncated record.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*Job
	dir  string
}

// NewStore opens (or creates) the persistence directory and loads any job
// records left by a previous run.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create dir: %w", err)
	}
	s := &Store{jobs: make(map[string]*Job), dir: dir}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("store: read dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			logger.L().Warn("[STORE] skipping unreadable job record", "file", e.Name(), "error", err.Error())
			continue
		}
		var job Job
		if err := json.Unmarshal(data, &job); err != nil {
			logger.L().Warn("[STORE] skipping corrupt job record", "file", e.Name(), "error", err.Error())
			continue
		}
		// Work that was in flight when the process died cannot resume;
		// its goroutines are gone.
		if job.Active() && job.Stage != StageAwaitingMapping {
			job.Stage = StageFailed
			job.Error = "interrupted by server restart"
		}
		s.jobs[job.ID] = &job
	}
	if n := len(s.jobs); n > 0 {
		logger.L().Info("[STORE] recovered job records", "count", n)
	}
	return nil
}

// Create registers a new job in StageCreated and persists it.
func (s *Store) Create(videoPath, workRoot string) (*Job, error) {
	now := time.Now().UTC()
	job := &Job{
		ID:        uuid.NewString(),
		Stage:     StageCreated,
		VideoPath: videoPath,
		CreatedAt: now,
		UpdatedAt: now,
	}
	job.WorkDir = filepath.Join(workRoot, job.ID)
	if err := os.MkdirAll(job.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create work dir: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	if err := s.persist(job); err != nil {
		delete(s.jobs, job.ID)
		return nil, err
	}
	return job.snapshot(), nil
}

// Get returns a copy of the job so callers cannot race store mutations.
func (s *Store) Get(id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return job.snapshot(), nil
}

// List returns copies of all jobs, newest first.
func (s *Store) List() []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.snapshot())
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	return out
}

// Update applies fn to the live job under the write lock and persists the
// result. If fn returns an error the job is left unchanged in memory only if
// fn did not mutate it; fn must treat an error return as "no mutation".
func (s *Store) Update(id string, fn func(*Job) error) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err := fn(job); err != nil {
		return nil, err
	}
	job.UpdatedAt = time.Now().UTC()
	if err := s.persist(job); err != nil {
		return nil, err
	}
	return job.snapshot(), nil
}

// Transition moves the job to the next stage if the state machine allows it.
func (s *Store) Transition(id string, next Stage) (*Job, error) {
	return s.Update(id, func(j *Job) error {
		if err := checkTransition(j.Stage, next); err != nil {
			return err
		}
		j.Stage = next
		return nil
	})
}

// Delete removes the job record and its persisted file. Active jobs must be
// cancelled first.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if job.Active() {
		return fmt.Errorf("pipeline: job %s is still %s; cancel it before deleting", id, job.Stage)
	}
	delete(s.jobs, id)
	if err := os.Remove(s.recordPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("store: remove record: %w", err)
	}
	return nil
}

func (s *Store) recordPath(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// persist writes the record atomically: temp file in the same directory,
// fsync via Close, then rename over the target.
func (s *Store) persist(job *Job) error {
	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal job %s: %w", job.ID, err)
	}
	tmp, err := os.CreateTemp(s.dir, job.ID+".*.tmp")
	if err != nil {
		return fmt.Errorf("store: temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("store: write record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("store: close record: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.recordPath(job.ID)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("store: rename record: %w", err)
	}
	return nil
}

// snapshot deep-copies the mutable reference fields callers might retain.
// Tasks are only ever mutated under the store lock (runners update them via
// Update), so value copies taken here are consistent.
func (j *Job) snapshot() *Job {
	cp := *j
	if j.Warnings != nil {
		cp.Warnings = append([]string(nil), j.Warnings...)
	}
	if j.Mapping != nil {
		m := make(voice.ReplacementMapping, len(j.Mapping))
		for k, v := range j.Mapping {
			m[k] = v
		}
		cp.Mapping = m
	}
	if j.Tasks != nil {
		cp.Tasks = make([]*synthesis.Task, len(j.Tasks))
		for i, t := range j.Tasks {
			tc := *t
			cp.Tasks[i] = &tc
		}
	}
	return &cp
}
