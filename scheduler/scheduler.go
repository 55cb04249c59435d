package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/sirupsen/logrus"
)

type JobInfo struct {
	ID       string        `json:"id"`
	Interval time.Duration `json:"interval"`
	Runs     int           `json:"runs"`
	LastRun  *time.Time    `json:"last_run,omitempty"`
	NextRun  *time.Time    `json:"next_run,omitempty"`
	job      *gocron.Job
}

// Scheduler runs maintenance jobs at fixed intervals. A job never overlaps
// with itself.
type Scheduler struct {
	scheduler *gocron.Scheduler
	jobs      map[string]*JobInfo
	mu        sync.RWMutex
	running   bool
	logger    *logrus.Entry
}

func New() *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()

	return &Scheduler{
		scheduler: s,
		jobs:      make(map[string]*JobInfo),
		logger:    logrus.WithField("component", "scheduler"),
	}
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.scheduler.StartAsync()
	s.running = true
	s.logger.WithField("jobs", len(s.jobs)).Info("Scheduler started")
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.scheduler.Stop()
	s.running = false
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// AddJob schedules task every interval. The first run happens one interval
// after the scheduler starts.
func (s *Scheduler) AddJob(id string, interval time.Duration, task func()) error {
	if interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[id]; exists {
		return fmt.Errorf("job with ID %s already exists", id)
	}

	info := &JobInfo{ID: id, Interval: interval}
	job, err := s.scheduler.Every(interval).WaitForSchedule().Do(func() {
		now := time.Now()
		s.mu.Lock()
		info.Runs++
		info.LastRun = &now
		s.mu.Unlock()

		s.logger.WithField("job", id).Debug("Executing job")
		task()
	})
	if err != nil {
		return fmt.Errorf("failed to create job %s: %w", id, err)
	}
	info.job = job
	s.jobs[id] = info

	s.logger.WithFields(logrus.Fields{
		"job":      id,
		"interval": interval.String(),
	}).Info("Job added")
	return nil
}

func (s *Scheduler) RemoveJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, exists := s.jobs[id]
	if !exists {
		return fmt.Errorf("job with ID %s not found", id)
	}
	s.scheduler.RemoveByReference(info.job)
	delete(s.jobs, id)
	return nil
}

func (s *Scheduler) ListJobs() map[string]JobInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make(map[string]JobInfo, len(s.jobs))
	for id, info := range s.jobs {
		cp := *info
		if info.LastRun != nil {
			last := *info.LastRun
			cp.LastRun = &last
		}
		if s.running && info.job != nil {
			next := info.job.NextRun()
			cp.NextRun = &next
		}
		cp.job = nil
		jobs[id] = cp
	}
	return jobs
}
