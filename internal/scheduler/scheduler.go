// Package scheduler coordinates audit runs: on-demand runs right after a
// registration, and periodic background jobs. The per-user in-flight gate
// lives in the audit package; the scheduler owns job lifecycle only.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/face-finder/internal/audit"
)

// JobStatus represents the status of a scheduled job.
type JobStatus string

// JobStatus constants define the lifecycle states of a scheduled job.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Job represents one scheduled audit: a single background full audit, or a
// periodic schedule for one user or all users.
type Job struct {
	ID string
	// UserID is empty for full audits.
	UserID string
	// Interval is zero for one-shot jobs.
	Interval  time.Duration
	Status    JobStatus
	Runs      int
	StartedAt time.Time
	// LastError holds the most recent run's failure, if any.
	LastError string
	// LastReports holds the reports of the most recent completed run.
	LastReports []*audit.Report

	cancel context.CancelFunc
	mu     sync.RWMutex
}

// JobInfo is a point-in-time copy of a job, safe to serialize while the job
// keeps running.
type JobInfo struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id,omitempty"`
	Interval    time.Duration   `json:"interval,omitempty"`
	Status      JobStatus       `json:"status"`
	Runs        int             `json:"runs"`
	StartedAt   time.Time       `json:"started_at"`
	LastError   string          `json:"last_error,omitempty"`
	LastReports []*audit.Report `json:"last_reports,omitempty"`
}

// GetStatus returns the current job status.
func (j *Job) GetStatus() JobStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// Snapshot returns a copy of the job's current state.
func (j *Job) Snapshot() JobInfo {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return JobInfo{
		ID:          j.ID,
		UserID:      j.UserID,
		Interval:    j.Interval,
		Status:      j.Status,
		Runs:        j.Runs,
		StartedAt:   j.StartedAt,
		LastError:   j.LastError,
		LastReports: j.LastReports,
	}
}

func (j *Job) setRunning() {
	j.mu.Lock()
	j.Status = JobStatusRunning
	j.mu.Unlock()
}

func (j *Job) recordRun(reports []*audit.Report, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Runs++
	j.LastReports = reports
	if err != nil {
		j.Status = JobStatusFailed
		j.LastError = err.Error()
		return
	}
	j.Status = JobStatusCompleted
	j.LastError = ""
}

// Scheduler runs audits on demand and on a schedule.
type Scheduler struct {
	auditor *audit.Auditor
	logger  *slog.Logger

	mu   sync.RWMutex
	jobs map[string]*Job
}

// New creates a scheduler.
func New(auditor *audit.Auditor, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		auditor: auditor,
		logger:  logger,
		jobs:    make(map[string]*Job),
	}
}

// RunNow audits a single user immediately, synchronously. A request for a
// user whose audit is already in flight is coalesced: the call returns
// audit.ErrAuditInFlight and no duplicate run starts.
func (s *Scheduler) RunNow(ctx context.Context, userID string) (*audit.Report, error) {
	return s.auditor.AuditUser(ctx, userID)
}

// RunAllAsync starts a full audit in the background and returns its job.
func (s *Scheduler) RunAllAsync() *Job {
	ctx, cancel := context.WithCancel(context.Background())
	job := &Job{
		ID:        uuid.NewString(),
		Status:    JobStatusPending,
		StartedAt: time.Now(),
		cancel:    cancel,
	}
	s.addJob(job)

	go func() {
		job.setRunning()
		reports, err := s.auditor.AuditAll(ctx, nil)
		job.recordRun(reports, err)
		s.logger.Info("full audit finished",
			"job_id", job.ID, "users", len(reports), "status", job.GetStatus())
	}()
	return job
}

// RunPeriodic schedules an audit every interval, for one user when userID is
// set or for everyone otherwise. The first run happens after one interval,
// not immediately. Stop cancels before the next tick; a run already started
// always finishes.
func (s *Scheduler) RunPeriodic(interval time.Duration, userID string) *Job {
	ctx, cancel := context.WithCancel(context.Background())
	job := &Job{
		ID:        uuid.NewString(),
		UserID:    userID,
		Interval:  interval,
		Status:    JobStatusPending,
		StartedAt: time.Now(),
		cancel:    cancel,
	}
	s.addJob(job)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				job.mu.Lock()
				job.Status = JobStatusCancelled
				job.mu.Unlock()
				return
			case <-ticker.C:
				if ctx.Err() != nil {
					job.mu.Lock()
					job.Status = JobStatusCancelled
					job.mu.Unlock()
					return
				}
				s.runTick(job)
			}
		}
	}()

	s.logger.Info("periodic audit scheduled",
		"job_id", job.ID, "user_id", userID, "interval", interval)
	return job
}

// runTick executes one scheduled run. The run uses a background context:
// cancelling the schedule never interrupts a run already in progress.
func (s *Scheduler) runTick(job *Job) {
	job.setRunning()

	var reports []*audit.Report
	var err error
	if job.UserID != "" {
		var report *audit.Report
		report, err = s.auditor.AuditUser(context.Background(), job.UserID)
		if report != nil {
			reports = []*audit.Report{report}
		}
	} else {
		reports, err = s.auditor.AuditAll(context.Background(), nil)
	}
	job.recordRun(reports, err)

	if err != nil {
		s.logger.Warn("scheduled audit run failed",
			"job_id", job.ID, "user_id", job.UserID, "error", err)
	}
}

// Stop cancels a job. For periodic jobs the cancellation takes effect before
// the next tick; an in-progress run finishes. Returns false for an unknown
// job id.
func (s *Scheduler) Stop(jobID string) bool {
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	job.cancel()
	return true
}

// GetJob retrieves a job by id.
func (s *Scheduler) GetJob(jobID string) *Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jobs[jobID]
}

// ListJobs returns all known jobs.
func (s *Scheduler) ListJobs() []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	jobs := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}
	return jobs
}

// DeleteJob cancels and forgets a job.
func (s *Scheduler) DeleteJob(jobID string) bool {
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	if ok {
		delete(s.jobs, jobID)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	job.cancel()
	return true
}

// Shutdown cancels every job. In-progress runs finish on their own.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		job.cancel()
	}
}

func (s *Scheduler) addJob(job *Job) {
	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()
}
