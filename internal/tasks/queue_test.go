package tasks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docuquery/backend/internal/ingestion"
	"github.com/docuquery/backend/pkg/circuitbreaker"
)

type blockingIngester struct {
	mu       sync.Mutex
	calls    int
	fail     bool
	failWith error
	release  chan struct{}
}

func (f *blockingIngester) Ingest(ctx context.Context, filename, scopeToken string, data []byte) (*ingestion.Result, error) {
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	f.calls++
	fail := f.fail
	failWith := f.failWith
	f.mu.Unlock()
	if fail {
		if failWith != nil {
			return nil, failWith
		}
		return nil, errors.New("ingest failed")
	}
	return &ingestion.Result{
		SourceName: filename,
		ChunkCount: 2,
		Stage:      ingestion.StageIndexed,
	}, nil
}

func (f *blockingIngester) setFail(fail bool, failWith error) {
	f.mu.Lock()
	f.fail = fail
	f.failWith = failWith
	f.mu.Unlock()
}

func newTestRegistry() *circuitbreaker.Registry {
	return circuitbreaker.NewRegistry(circuitbreaker.Config{
		FailureThreshold: 100,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
	}, nil)
}

func waitForStatus(t *testing.T, q *Queue, taskID string, want TaskStatus) *Task {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatalf("task %s never reached status %s", taskID, want)
		case <-time.After(5 * time.Millisecond):
		}
		if task := q.Status(taskID); task != nil && task.Status == want {
			return task
		}
	}
}

func TestQueue_RunsTaskToCompletion(t *testing.T) {
	ingester := &blockingIngester{}
	q := NewQueue(ingester, newTestRegistry(), 1, 4, nil)
	defer q.Close()

	taskID, err := q.Enqueue("doc.txt", "user-a", []byte("content"))
	require.NoError(t, err)
	require.NotEmpty(t, taskID)

	task := waitForStatus(t, q, taskID, StatusCompleted)
	require.NotNil(t, task.Result)
	assert.Equal(t, 2, task.Result.ChunkCount)
	assert.NotNil(t, task.CompletedAt)
	assert.Empty(t, task.Error)
}

func TestQueue_FailedTaskRecordsError(t *testing.T) {
	ingester := &blockingIngester{fail: true}
	q := NewQueue(ingester, newTestRegistry(), 1, 4, nil)
	defer q.Close()

	taskID, err := q.Enqueue("doc.txt", "user-a", []byte("content"))
	require.NoError(t, err)

	task := waitForStatus(t, q, taskID, StatusFailed)
	assert.Contains(t, task.Error, "ingest failed")
}

func TestQueue_BadDocumentsDoNotTripBreaker(t *testing.T) {
	ingester := &blockingIngester{fail: true, failWith: &ingestion.StageError{
		Stage: ingestion.StageChunking,
		Err:   ingestion.ErrEmptyDocument,
	}}
	breakers := circuitbreaker.NewRegistry(circuitbreaker.Config{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
	}, nil)
	q := NewQueue(ingester, breakers, 1, 8, nil)
	defer q.Close()

	for i := 0; i < 3; i++ {
		taskID, err := q.Enqueue("empty.txt", "user-a", []byte("   "))
		require.NoError(t, err)
		task := waitForStatus(t, q, taskID, StatusFailed)
		assert.Contains(t, task.Error, ingestion.ErrEmptyDocument.Error())
	}

	// The breaker stayed closed, so a good document still ingests.
	assert.Equal(t, "closed", breakers.States()[breakerName])
	ingester.setFail(false, nil)
	taskID, err := q.Enqueue("good.txt", "user-a", []byte("content"))
	require.NoError(t, err)
	waitForStatus(t, q, taskID, StatusCompleted)
}

func TestQueue_InfrastructureFailuresTripBreaker(t *testing.T) {
	ingester := &blockingIngester{fail: true}
	breakers := circuitbreaker.NewRegistry(circuitbreaker.Config{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
	}, nil)
	q := NewQueue(ingester, breakers, 1, 8, nil)
	defer q.Close()

	for i := 0; i < 3; i++ {
		taskID, err := q.Enqueue("doc.txt", "user-a", []byte("content"))
		require.NoError(t, err)
		waitForStatus(t, q, taskID, StatusFailed)
	}

	assert.Equal(t, "open", breakers.States()[breakerName])
}

func TestQueue_UnknownTaskStatus(t *testing.T) {
	q := NewQueue(&blockingIngester{}, newTestRegistry(), 1, 4, nil)
	defer q.Close()

	assert.Nil(t, q.Status("no-such-task"))
}

func TestQueue_RejectsWhenFull(t *testing.T) {
	release := make(chan struct{})
	ingester := &blockingIngester{release: release}
	q := NewQueue(ingester, newTestRegistry(), 1, 1, nil)
	defer func() {
		close(release)
		q.Close()
	}()

	// First task occupies the worker, second fills the buffer.
	_, err := q.Enqueue("one.txt", "", []byte("1"))
	require.NoError(t, err)

	// The worker may not have picked up the first task yet, so fill
	// until the queue reports full.
	var fullErr error
	for i := 0; i < 3; i++ {
		_, fullErr = q.Enqueue("more.txt", "", []byte("x"))
		if fullErr != nil {
			break
		}
	}
	assert.ErrorIs(t, fullErr, ErrQueueFull)
}

func TestQueue_CloseRejectsNewTasks(t *testing.T) {
	q := NewQueue(&blockingIngester{}, newTestRegistry(), 1, 4, nil)
	q.Close()

	_, err := q.Enqueue("doc.txt", "", []byte("content"))
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestQueue_CloseWaitsForInflightWork(t *testing.T) {
	ingester := &blockingIngester{}
	q := NewQueue(ingester, newTestRegistry(), 2, 8, nil)

	var ids []string
	for i := 0; i < 5; i++ {
		id, err := q.Enqueue("doc.txt", "", []byte("content"))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	q.Close()

	for _, id := range ids {
		task := q.Status(id)
		require.NotNil(t, task)
		assert.Equal(t, StatusCompleted, task.Status)
	}
}
