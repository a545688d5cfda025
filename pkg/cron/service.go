// Package cron keeps recurring jobs on cron schedules, persisted to a JSON
// store, and fires them as they come due.
package cron

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"

	"github.com/grinbot/grinbot/pkg/logger"
)

const storeVersion = 1

var ErrInvalidSchedule = errors.New("invalid cron expression")

// Job is one scheduled message.
type Job struct {
	ID        string    `json:"id"`
	Schedule  string    `json:"schedule"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
	NextRun   time.Time `json:"next_run"`
}

type store struct {
	Version int   `json:"version"`
	Jobs    []Job `json:"jobs"`
}

// Service owns the job list. An empty store path keeps jobs in memory only.
type Service struct {
	storePath string
	fire      func(Job)
	now       func() time.Time

	mu   sync.Mutex
	jobs []Job
}

func NewCronService(storePath string, fire func(Job)) *Service {
	cs := &Service{storePath: storePath, fire: fire, now: time.Now}
	if err := cs.load(); err != nil {
		logger.WarnCF("cron", "Failed to load job store",
			map[string]any{"path": storePath, "error": err.Error()})
	}
	return cs
}

// Validate reports whether expr is a usable schedule.
func Validate(expr string) error {
	expr = strings.TrimSpace(expr)
	if expr == "" || !gronx.New().IsValid(expr) {
		return fmt.Errorf("%w: %q", ErrInvalidSchedule, expr)
	}
	return nil
}

// AddJob schedules message on expr and persists the store.
func (cs *Service) AddJob(expr, message string) (Job, error) {
	expr = strings.TrimSpace(expr)
	if err := Validate(expr); err != nil {
		return Job{}, err
	}
	now := cs.now()
	next, err := gronx.NextTickAfter(expr, now, false)
	if err != nil {
		return Job{}, fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}

	job := Job{
		ID:        uuid.NewString()[:8],
		Schedule:  expr,
		Message:   message,
		CreatedAt: now,
		NextRun:   next,
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.jobs = append(cs.jobs, job)
	if err := cs.saveLocked(); err != nil {
		cs.jobs = cs.jobs[:len(cs.jobs)-1]
		return Job{}, err
	}
	logger.InfoCF("cron", "Job added",
		map[string]any{"id": job.ID, "schedule": expr, "next_run": next.Format(time.RFC3339)})
	return job, nil
}

// RemoveJob deletes the job with id and reports whether it existed.
func (cs *Service) RemoveJob(id string) (bool, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	i := slices.IndexFunc(cs.jobs, func(j Job) bool { return j.ID == id })
	if i < 0 {
		return false, nil
	}
	cs.jobs = slices.Delete(cs.jobs, i, i+1)
	return true, cs.saveLocked()
}

// ListJobs returns jobs ordered by next run.
func (cs *Service) ListJobs() []Job {
	cs.mu.Lock()
	out := slices.Clone(cs.jobs)
	cs.mu.Unlock()
	slices.SortStableFunc(out, func(a, b Job) int { return a.NextRun.Compare(b.NextRun) })
	return out
}

// Tick fires every job due at now and advances it to its next run.
func (cs *Service) Tick(now time.Time) int {
	var due []Job

	cs.mu.Lock()
	for i := range cs.jobs {
		j := &cs.jobs[i]
		if j.NextRun.After(now) {
			continue
		}
		due = append(due, *j)
		next, err := gronx.NextTickAfter(j.Schedule, now, false)
		if err != nil {
			logger.WarnCF("cron", "Cannot compute next run",
				map[string]any{"id": j.ID, "error": err.Error()})
			next = now.Add(24 * time.Hour)
		}
		j.NextRun = next
	}
	if len(due) > 0 {
		if err := cs.saveLocked(); err != nil {
			logger.WarnCF("cron", "Failed to save job store", map[string]any{"error": err.Error()})
		}
	}
	cs.mu.Unlock()

	for _, j := range due {
		logger.DebugCF("cron", "Job fired", map[string]any{"id": j.ID})
		if cs.fire != nil {
			cs.fire(j)
		}
	}
	return len(due)
}

// Run ticks every interval until ctx is done.
func (cs *Service) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case t := <-ticker.C:
			cs.Tick(t)
		}
	}
}

func (cs *Service) load() error {
	if cs.storePath == "" {
		return nil
	}
	data, err := os.ReadFile(cs.storePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var s store
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	cs.jobs = s.Jobs
	return nil
}

func (cs *Service) saveLocked() error {
	if cs.storePath == "" {
		return nil
	}
	data, err := json.MarshalIndent(store{Version: storeVersion, Jobs: cs.jobs}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(cs.storePath), 0o755); err != nil {
		return err
	}
	tmp := cs.storePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	// WriteFile keeps the mode of an existing file
	if err := os.Chmod(tmp, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, cs.storePath)
}
