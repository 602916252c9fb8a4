package tasks

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/docuquery/backend/internal/ingestion"
	"github.com/docuquery/backend/internal/metrics"
	"github.com/docuquery/backend/pkg/circuitbreaker"
)

const breakerName = "task_queue"

var (
	ErrQueueFull   = errors.New("ingestion queue is full")
	ErrQueueClosed = errors.New("ingestion queue is closed")
)

type TaskStatus string

const (
	StatusQueued    TaskStatus = "queued"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
)

type Task struct {
	ID          string             `json:"id"`
	Status      TaskStatus         `json:"status"`
	SourceName  string             `json:"source_name"`
	Result      *ingestion.Result  `json:"result,omitempty"`
	Error       string             `json:"error,omitempty"`
	EnqueuedAt  time.Time          `json:"enqueued_at"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
}

type job struct {
	taskID     string
	filename   string
	scopeToken string
	data       []byte
}

// Ingester runs one document through the ingestion pipeline.
type Ingester interface {
	Ingest(ctx context.Context, filename, scopeToken string, data []byte) (*ingestion.Result, error)
}

// Queue is a bounded in-process worker pool for background ingestion.
// Task records are kept in memory for status polling; they do not
// survive a restart.
type Queue struct {
	ingester Ingester
	breakers *circuitbreaker.Registry
	jobs     chan job
	logger   *zap.Logger

	mu     sync.RWMutex
	tasks  map[string]*Task
	closed bool
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewQueue(ingester Ingester, breakers *circuitbreaker.Registry, workers, depth int, logger *zap.Logger) *Queue {
	if workers <= 0 {
		workers = 2
	}
	if depth <= 0 {
		depth = 32
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		ingester: ingester,
		breakers: breakers,
		jobs:     make(chan job, depth),
		tasks:    make(map[string]*Task),
		cancel:   cancel,
		logger:   logger,
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
	return q
}

// Enqueue registers a background ingestion task and returns its ID
// immediately. A full queue rejects the task rather than blocking the
// upload request.
func (q *Queue) Enqueue(filename, scopeToken string, data []byte) (string, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", ErrQueueClosed
	}
	taskID := uuid.NewString()
	task := &Task{
		ID:         taskID,
		Status:     StatusQueued,
		SourceName: filename,
		EnqueuedAt: time.Now().UTC(),
	}
	q.tasks[taskID] = task

	// The send happens under the lock so Close cannot close the
	// channel between the closed check and the send.
	select {
	case q.jobs <- job{taskID: taskID, filename: filename, scopeToken: scopeToken, data: data}:
		q.mu.Unlock()
		metrics.TasksQueued.Inc()
		q.logger.Info("Ingestion task queued",
			zap.String("task_id", taskID),
			zap.String("source", filename),
		)
		return taskID, nil
	default:
		delete(q.tasks, taskID)
		q.mu.Unlock()
		return "", ErrQueueFull
	}
}

// Status returns the task record, or nil when the ID is unknown.
func (q *Queue) Status(taskID string) *Task {
	q.mu.RLock()
	defer q.mu.RUnlock()
	task, ok := q.tasks[taskID]
	if !ok {
		return nil
	}
	copied := *task
	return &copied
}

// Depth reports how many tasks are waiting for a worker.
func (q *Queue) Depth() int {
	return len(q.jobs)
}

// Close stops accepting tasks and waits for in-flight work to finish.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	close(q.jobs)
	q.wg.Wait()
	q.cancel()
}

func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()
	for j := range q.jobs {
		metrics.TasksQueued.Dec()
		q.setStatus(j.taskID, StatusRunning, nil, nil)

		var result *ingestion.Result
		var ingestErr error
		err := q.breakers.Execute(ctx, breakerName, func() error {
			result, ingestErr = q.ingester.Ingest(ctx, j.filename, j.scopeToken, j.data)
			// Bad documents are terminal for the task but say nothing
			// about the pipeline's dependencies; only infrastructure
			// failures may trip the breaker.
			if isDocumentError(ingestErr) {
				return nil
			}
			return ingestErr
		})
		if err == nil {
			err = ingestErr
		}

		if err != nil {
			q.setStatus(j.taskID, StatusFailed, result, err)
			q.logger.Error("Background ingestion failed",
				zap.String("task_id", j.taskID),
				zap.String("source", j.filename),
				zap.Int("worker", id),
				zap.Error(err),
			)
			continue
		}
		q.setStatus(j.taskID, StatusCompleted, result, nil)
		q.logger.Info("Background ingestion completed",
			zap.String("task_id", j.taskID),
			zap.String("source", j.filename),
			zap.Int("worker", id),
		)
	}
}

// isDocumentError reports whether the ingest failure is a property of
// the document itself rather than of a downstream dependency.
func isDocumentError(err error) bool {
	return errors.Is(err, ingestion.ErrUnsupportedFileType) ||
		errors.Is(err, ingestion.ErrEmptyDocument)
}

func (q *Queue) setStatus(taskID string, status TaskStatus, result *ingestion.Result, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	task, ok := q.tasks[taskID]
	if !ok {
		return
	}
	task.Status = status
	task.Result = result
	if err != nil {
		task.Error = err.Error()
	}
	if status == StatusCompleted || status == StatusFailed {
		now := time.Now().UTC()
		task.CompletedAt = &now
	}
}
