// Package queue provides an in-memory job queue with a worker pool for
// building trip reports of recorded history days.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	// ErrQueueFull is returned when the pending buffer cannot take another job
	ErrQueueFull = errors.New("queue is full")
	// ErrJobNotFound is returned for unknown job IDs
	ErrJobNotFound = errors.New("job not found")
)

// JobStatus represents the state of a trip report job
type JobStatus string

// Job status constants define the lifecycle states
const (
	StatusQueued     JobStatus = "queued"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Job represents a trip report for one vehicle and one history day
type Job struct {
	ID           string
	Date         string
	VehicleID    string
	Status       JobStatus
	QueuedAt     time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	ErrorMessage string
	Result       *JobResult
}

// JobResult contains the output of a completed trip report
type JobResult struct {
	CSVPath          string
	TotalDistanceKM  float64
	MaxSpeedKmh      float64
	AvgSpeedKmh      float64
	TotalSamples     int
	SpeedSamples     int
	ProcessingTimeMS int64
}

// ProcessFunc is a function that processes a job
type ProcessFunc func(ctx context.Context, job *Job) (*JobResult, error)

// Queue manages trip report jobs with a worker pool
type Queue struct {
	mu           sync.RWMutex
	jobs         map[string]*Job
	pendingQueue chan *Job
	workers      int
	processor    ProcessFunc
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

// NewQueue creates a new job queue with the specified number of workers
func NewQueue(workers int, processor ProcessFunc) *Queue {
	return newQueue(workers, 100, processor)
}

func newQueue(workers, capacity int, processor ProcessFunc) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		jobs:         make(map[string]*Job),
		pendingQueue: make(chan *Job, capacity),
		workers:      workers,
		processor:    processor,
		ctx:          ctx,
		cancel:       cancel,
	}

	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}

	return q
}

// Enqueue adds a new report job for a vehicle's history day
func (q *Queue) Enqueue(date, vehicleID string) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job := &Job{
		ID:        uuid.New().String(),
		Date:      date,
		VehicleID: vehicleID,
		Status:    StatusQueued,
		QueuedAt:  time.Now().UTC(),
	}

	select {
	case q.pendingQueue <- job:
		q.jobs[job.ID] = job
		return job.ID, nil
	default:
		return "", ErrQueueFull
	}
}

// GetJob retrieves a copy of a job by ID
func (q *Queue) GetJob(jobID string) (*Job, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	job, exists := q.jobs[jobID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	return copyJob(job), nil
}

// ListJobs returns jobs filtered by status, newest first.
// An empty status matches every job.
func (q *Queue) ListJobs(status JobStatus, limit, offset int) []*Job {
	q.mu.RLock()
	filtered := make([]*Job, 0, len(q.jobs))
	for _, job := range q.jobs {
		if status == "" || job.Status == status {
			filtered = append(filtered, copyJob(job))
		}
	}
	q.mu.RUnlock()

	sort.SliceStable(filtered, func(i, j int) bool {
		if filtered[i].QueuedAt.Equal(filtered[j].QueuedAt) {
			return filtered[i].ID < filtered[j].ID
		}
		return filtered[i].QueuedAt.After(filtered[j].QueuedAt)
	})

	if offset < 0 {
		offset = 0
	}
	if offset > len(filtered) {
		return []*Job{}
	}
	end := len(filtered)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}

	return filtered[offset:end]
}

// GetStats returns queue statistics
func (q *Queue) GetStats() map[string]int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	stats := map[string]int{
		"total":      len(q.jobs),
		"queued":     0,
		"processing": 0,
		"completed":  0,
		"failed":     0,
	}

	for _, job := range q.jobs {
		stats[string(job.Status)]++
	}

	return stats
}

func (q *Queue) worker(id int) {
	defer q.wg.Done()

	for {
		select {
		case <-q.ctx.Done():
			return
		case job := <-q.pendingQueue:
			q.processJob(id, job)
		}
	}
}

func (q *Queue) processJob(workerID int, job *Job) {
	startTime := time.Now()

	q.mu.Lock()
	job.Status = StatusProcessing
	now := time.Now().UTC()
	job.StartedAt = &now
	q.mu.Unlock()

	result, err := q.processor(q.ctx, job)

	q.mu.Lock()
	defer q.mu.Unlock()

	completedAt := time.Now().UTC()
	job.CompletedAt = &completedAt

	if err != nil {
		job.Status = StatusFailed
		job.ErrorMessage = err.Error()
		log.Warn().
			Err(err).
			Int("worker", workerID).
			Str("job_id", job.ID).
			Str("vehicle_id", job.VehicleID).
			Str("date", job.Date).
			Msg("Trip report failed")
		return
	}

	job.Status = StatusCompleted
	job.Result = result
	if result != nil {
		result.ProcessingTimeMS = time.Since(startTime).Milliseconds()
	}
	log.Debug().
		Int("worker", workerID).
		Str("job_id", job.ID).
		Dur("elapsed", time.Since(startTime)).
		Msg("Trip report completed")
}

// Shutdown gracefully shuts down the queue
func (q *Queue) Shutdown(timeout time.Duration) error {
	q.cancel()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("shutdown timeout exceeded")
	}
}

func copyJob(job *Job) *Job {
	jobCopy := *job
	if job.StartedAt != nil {
		startedCopy := *job.StartedAt
		jobCopy.StartedAt = &startedCopy
	}
	if job.CompletedAt != nil {
		completedCopy := *job.CompletedAt
		jobCopy.CompletedAt = &completedCopy
	}
	if job.Result != nil {
		resultCopy := *job.Result
		jobCopy.Result = &resultCopy
	}
	return &jobCopy
}
