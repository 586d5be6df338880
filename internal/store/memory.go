package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spigell/job-agents/internal/jobs"
)

type userData struct {
	order   []string
	jobs    map[string]jobs.Job
	profile *jobs.UserProfile
}

// Memory is a process-local Gateway.
type Memory struct {
	mu    sync.RWMutex
	users map[string]*userData
	now   func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		users: make(map[string]*userData),
		now:   time.Now,
	}
}

func (m *Memory) user(userID string) *userData {
	u, ok := m.users[userID]
	if !ok {
		u = &userData{jobs: make(map[string]jobs.Job)}
		m.users[userID] = u
	}
	return u
}

func (m *Memory) GetJobs(_ context.Context, userID string) ([]jobs.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[userID]
	if !ok {
		return []jobs.Job{}, nil
	}

	out := make([]jobs.Job, 0, len(u.order))
	for _, id := range u.order {
		out = append(out, u.jobs[id])
	}
	return out, nil
}

func (m *Memory) UpsertJobs(_ context.Context, userID string, items []jobs.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u := m.user(userID)
	for _, job := range items {
		if job.ID == "" {
			return fmt.Errorf("upsert job: empty id")
		}
		existing, ok := u.jobs[job.ID]
		if ok {
			job.MergeEnrichment(&existing)
		} else {
			u.order = append(u.order, job.ID)
		}
		u.jobs[job.ID] = job
	}
	return nil
}

func (m *Memory) ApplyScores(_ context.Context, userID string, scores map[string]jobs.JobScore) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u := m.user(userID)
	for id := range scores {
		if _, ok := u.jobs[id]; !ok {
			return fmt.Errorf("apply score to %q: %w", id, ErrJobNotFound)
		}
	}

	for id, score := range scores {
		job := u.jobs[id]
		score := score
		job.Score = &score
		u.jobs[id] = job
	}
	return nil
}

func (m *Memory) GetProfile(_ context.Context, userID string) (*jobs.UserProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[userID]
	if !ok || u.profile == nil {
		return nil, nil
	}
	profile := *u.profile
	return &profile, nil
}

func (m *Memory) SaveProfile(_ context.Context, userID string, profile jobs.UserProfile) error {
	if err := profile.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	profile.UpdatedAt = m.now().UTC()
	m.user(userID).profile = &profile
	return nil
}

func (m *Memory) DeleteJob(_ context.Context, userID, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u := m.user(userID)
	if _, ok := u.jobs[jobID]; !ok {
		return fmt.Errorf("delete %q: %w", jobID, ErrJobNotFound)
	}

	delete(u.jobs, jobID)
	for i, id := range u.order {
		if id == jobID {
			u.order = append(u.order[:i], u.order[i+1:]...)
			break
		}
	}
	return nil
}
