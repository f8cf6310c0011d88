package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu   sync.Mutex
	jobs map[string]*DeliveryJob
}

func newMemoryStore() *memoryStore {
	return &memoryStore{jobs: make(map[string]*DeliveryJob)}
}

func (m *memoryStore) LoadJobs(_ context.Context) ([]*DeliveryJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ret := make([]*DeliveryJob, 0, len(m.jobs))
	for _, j := range m.jobs {
		ret = append(ret, cloneJob(j))
	}
	return ret, nil
}

func (m *memoryStore) UpsertJob(_ context.Context, job *DeliveryJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = cloneJob(job)
	return nil
}

func (m *memoryStore) DeleteJob(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, jobID)
	return nil
}

func (m *memoryStore) get(id string) *DeliveryJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneJob(m.jobs[id])
}

func TestQueue_RecoversPendingAndRunningJobsFromStore(t *testing.T) {
	store := newMemoryStore()
	now := time.Now()
	store.jobs["job-1"] = &DeliveryJob{
		ID:        "job-1",
		Source:    "end",
		DedupeKey: "s1",
		Status:    StatusPending,
		Payload:   JobPayload{SessionID: "s1"},
		CreatedAt: now,
		UpdatedAt: now,
	}
	store.jobs["job-2"] = &DeliveryJob{
		ID:        "job-2",
		Source:    "end",
		DedupeKey: "s2",
		Status:    StatusRunning,
		Payload:   JobPayload{SessionID: "s2"},
		CreatedAt: now,
		UpdatedAt: now,
	}

	q := NewQueue(1, store)

	jobs := q.List()
	require.Len(t, jobs, 2)
	byID := map[string]*DeliveryJob{}
	for _, j := range jobs {
		byID[j.ID] = j
	}
	require.Contains(t, byID, "job-2")
	assert.Equal(t, StatusPending, byID["job-2"].Status)

	next, created := q.Enqueue(EnqueueRequest{Source: "end", DedupeKey: "s3"})
	require.True(t, created)
	assert.Equal(t, "job-3", next.ID, "ids continue after recovered jobs")

	q.Start(context.Background(), func(_ context.Context, job *DeliveryJob) (Outcome, error) {
		return Outcome{Results: sent("ops@example.com")}, nil
	})
	defer q.Stop()

	waitStatus(t, q, "job-1", StatusSuccess)
	waitStatus(t, q, "job-2", StatusSuccess)
	require.Eventually(t, func() bool {
		j := store.get("job-2")
		return j != nil && j.Status == StatusSuccess && len(j.Results) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestQueue_PrunesOldTerminalJobs(t *testing.T) {
	store := newMemoryStore()
	q := NewQueue(1, store)
	q.maxJobs = 2
	q.Start(context.Background(), func(context.Context, *DeliveryJob) (Outcome, error) {
		return Outcome{}, nil
	})
	defer q.Stop()

	var ids []string
	for _, key := range []string{"a", "b", "c"} {
		job, _ := q.Enqueue(EnqueueRequest{DedupeKey: key})
		waitStatus(t, q, job.ID, StatusSkipped)
		ids = append(ids, job.ID)
	}

	_, ok := q.Get(ids[0])
	assert.False(t, ok)
	require.Eventually(t, func() bool { return store.get(ids[0]) == nil }, time.Second, 10*time.Millisecond)
	assert.Len(t, q.List(), 2)
}
