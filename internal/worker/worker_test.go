// Package worker_test tests the NATS worker for the alignment service.
package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/align-service/internal/core"
	"github.com/book-expert/align-service/internal/job"
	"github.com/book-expert/align-service/internal/settings"
	"github.com/book-expert/align-service/internal/task"
	"github.com/book-expert/align-service/internal/worker"
)

const testSubject = "test_subject"

var errMockUpload = errors.New("mock upload error")

// mockObjectStore records uploads.
type mockObjectStore struct {
	mu               sync.Mutex
	uploadShouldFail bool
	uploads          map[string][]byte
}

func (m *mockObjectStore) Download(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.uploads[key], nil
}

func (m *mockObjectStore) Upload(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.uploadShouldFail {
		return errMockUpload
	}

	m.uploads[key] = data

	return nil
}

type memoryAudio struct{}

func (memoryAudio) Source(key string) core.AudioSource {
	return task.MemorySource{Key: key, Data: nil}
}

// mockJobRunner succeeds every task except those listed in fail. It records
// the deadline of every context it is given.
type mockJobRunner struct {
	mu        sync.Mutex
	jobs      []job.Job
	deadlines []time.Time
	fail      map[string]bool
}

func (m *mockJobRunner) Run(ctx context.Context, j job.Job) job.Result {
	deadline, _ := ctx.Deadline()

	m.mu.Lock()
	m.jobs = append(m.jobs, j)
	m.deadlines = append(m.deadlines, deadline)
	m.mu.Unlock()

	result := job.Result{JobID: j.ID, Status: job.StatusSucceeded, Err: nil, Tasks: nil}

	for _, t := range j.Tasks {
		taskResult := task.Result{
			TaskID:        t.ID,
			State:         task.StateSucceeded,
			History:       nil,
			Intervals:     nil,
			Cost:          0,
			AudioDuration: 1,
			Err:           nil,
		}

		if m.fail[t.ID] {
			taskResult.State = task.StateFailed
			taskResult.Err = core.NewSynthesisError(core.ErrSynthesisFailure, "f000001", errMockUpload)
			result.Status = job.StatusPartialFailure
		} else {
			for _, fragment := range t.Fragments {
				taskResult.Intervals = append(taskResult.Intervals, core.Interval{
					FragmentID: fragment.ID,
					Text:       fragment.Text,
					Start:      0,
					End:        0,
				})
			}
		}

		result.Tasks = append(result.Tasks, taskResult)
	}

	return result
}

func (m *mockJobRunner) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.jobs)
}

func (m *mockJobRunner) lastJob(t *testing.T) job.Job {
	t.Helper()

	m.mu.Lock()
	defer m.mu.Unlock()

	require.NotEmpty(t, m.jobs)

	return m.jobs[len(m.jobs)-1]
}

func (m *mockJobRunner) lastDeadline(t *testing.T) time.Time {
	t.Helper()

	m.mu.Lock()
	defer m.mu.Unlock()

	require.NotEmpty(t, m.deadlines)

	return m.deadlines[len(m.deadlines)-1]
}

func createTestNatsClient(t *testing.T) *nats.Conn {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1 // Use a random port
	server := test.RunServer(&opts)

	natsConnection, err := nats.Connect(server.ClientURL())
	if err != nil {
		t.Fatalf("Failed to connect to test NATS server: %v", err)
	}

	t.Cleanup(func() {
		natsConnection.Close()
		server.Shutdown()
	})

	return natsConnection
}

type harness struct {
	conn    *nats.Conn
	outputs *mockObjectStore
	jobs    *mockJobRunner
}

func startWorker(t *testing.T, fail map[string]bool) *harness {
	t.Helper()

	return startWorkerWithTimeout(t, fail, worker.DefaultHandleTimeout)
}

func startWorkerWithTimeout(t *testing.T, fail map[string]bool, timeout time.Duration) *harness {
	t.Helper()

	h := &harness{
		conn:    createTestNatsClient(t),
		outputs: &mockObjectStore{mu: sync.Mutex{}, uploadShouldFail: false, uploads: map[string][]byte{}},
		jobs:    &mockJobRunner{mu: sync.Mutex{}, jobs: nil, deadlines: nil, fail: fail},
	}

	testLogger, err := logger.New(t.TempDir(), "test-log.log")
	require.NoError(t, err)

	workerInstance, err := worker.NewNatsWorker(
		h.conn, testSubject, memoryAudio{}, h.outputs, h.jobs,
		settings.MustParse("job_language=en"), testLogger,
	)
	require.NoError(t, err)
	workerInstance.SetHandleTimeout(timeout)

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)

	go func() {
		errChan <- workerInstance.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-errChan, "worker.Run should not error on graceful shutdown")
	})

	return h
}

func request(t *testing.T, conn *nats.Conn, payload []byte) worker.JobCompletedEvent {
	t.Helper()

	var (
		replyMsg *nats.Msg
		err      error
	)

	require.Eventually(t, func() bool {
		replyMsg, err = conn.Request(testSubject, payload, time.Second)

		return err == nil
	}, 5*time.Second, 50*time.Millisecond, "Request should succeed and receive a reply")

	var reply worker.JobCompletedEvent

	require.NoError(t, json.Unmarshal(replyMsg.Data, &reply))

	return reply
}

func newEvent() worker.JobSubmittedEvent {
	return worker.JobSubmittedEvent{
		Header: events.EventHeader{
			Timestamp:  time.Now(),
			WorkflowID: uuid.NewString(),
			EventID:    uuid.NewString(),
			UserID:     "",
			TenantID:   "",
		},
		JobID:          "job-1",
		Config:         "job_max_parallel=2",
		SkipValidation: true,
		Tasks: []worker.SubmittedTask{
			{
				ID:       "chapter-1",
				AudioKey: "audio/chapter-1.wav",
				Fragments: []task.Fragment{
					{ID: "", Text: "one"},
					{ID: "", Text: "two"},
				},
				Config: "",
			},
			{
				ID:        "chapter-2",
				AudioKey:  "audio/chapter-2.wav",
				Fragments: []task.Fragment{{ID: "intro", Text: "three"}},
				Config:    "task_language=en",
			},
		},
	}
}

func TestMessageHandler_Success(t *testing.T) {
	t.Parallel()

	h := startWorker(t, nil)
	event := newEvent()

	payload, err := json.Marshal(event)
	require.NoError(t, err)

	reply := request(t, h.conn, payload)

	assert.Equal(t, "job-1", reply.JobID)
	assert.Equal(t, string(job.StatusSucceeded), reply.Status)
	assert.Equal(t, job.ExitSucceeded, reply.ExitCode)
	assert.Equal(t, event.Header.WorkflowID, reply.Header.WorkflowID)
	require.Len(t, reply.Tasks, 2)
	assert.Equal(t, "job-1/chapter-1.json", reply.Tasks[0].SyncMapKey)
	assert.Equal(t, "job-1/chapter-2.json", reply.Tasks[1].SyncMapKey)

	submitted := h.jobs.lastJob(t)
	assert.True(t, submitted.SkipValidation)
	assert.Equal(t, "en", submitted.Parameters["job_language"])
	assert.Equal(t, "2", submitted.Parameters["job_max_parallel"])
	assert.Equal(t, "audio/chapter-1.wav", submitted.Tasks[0].Audio.Name())
	assert.Equal(t, "f000001", submitted.Tasks[0].Fragments[0].ID)
	assert.Equal(t, "f000002", submitted.Tasks[0].Fragments[1].ID)
	assert.Equal(t, "intro", submitted.Tasks[1].Fragments[0].ID)
	assert.Equal(t, "en", submitted.Tasks[1].Parameters["task_language"])

	var syncMap job.SyncMap

	data, err := h.outputs.Download(context.Background(), "job-1/chapter-1.json")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &syncMap))
	assert.Equal(t, "chapter-1", syncMap.TaskID)
	require.Len(t, syncMap.Intervals, 2)
	assert.Equal(t, "f000002", syncMap.Intervals[1].FragmentID)
}

func TestMessageHandler_HandleTimeoutBoundsJob(t *testing.T) {
	t.Parallel()

	h := startWorkerWithTimeout(t, nil, 5*time.Minute)

	payload, err := json.Marshal(newEvent())
	require.NoError(t, err)

	before := time.Now()
	reply := request(t, h.conn, payload)

	assert.Equal(t, string(job.StatusSucceeded), reply.Status)

	deadline := h.jobs.lastDeadline(t)
	require.False(t, deadline.IsZero())
	assert.WithinDuration(t, before.Add(5*time.Minute), deadline, 30*time.Second)
}

func TestMessageHandler_PartialFailure(t *testing.T) {
	t.Parallel()

	h := startWorker(t, map[string]bool{"chapter-2": true})

	payload, err := json.Marshal(newEvent())
	require.NoError(t, err)

	reply := request(t, h.conn, payload)

	assert.Equal(t, string(job.StatusPartialFailure), reply.Status)
	assert.Equal(t, job.ExitPartialFailure, reply.ExitCode)
	require.Len(t, reply.Tasks, 2)
	assert.Equal(t, string(task.StateFailed), reply.Tasks[1].State)
	assert.Equal(t, core.KindSynthesisFailure, reply.Tasks[1].Kind)
	assert.Contains(t, reply.Tasks[1].Error, "f000001")
	assert.Empty(t, reply.Tasks[1].SyncMapKey)

	data, err := h.outputs.Download(context.Background(), "job-1/chapter-2.json")
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestMessageHandler_InvalidPayload(t *testing.T) {
	t.Parallel()

	h := startWorker(t, nil)

	reply := request(t, h.conn, []byte("{not json"))

	assert.Equal(t, string(job.StatusAborted), reply.Status)
	assert.Equal(t, job.ExitAborted, reply.ExitCode)
	assert.NotEmpty(t, reply.JobID)
	assert.NotEmpty(t, reply.Error)
	assert.Zero(t, h.jobs.count())
}

func TestMessageHandler_InvalidConfig(t *testing.T) {
	t.Parallel()

	h := startWorker(t, nil)
	event := newEvent()
	event.Config = "not-a-pair"

	payload, err := json.Marshal(event)
	require.NoError(t, err)

	reply := request(t, h.conn, payload)

	assert.Equal(t, string(job.StatusAborted), reply.Status)
	assert.Contains(t, reply.Error, "job config")
	assert.Zero(t, h.jobs.count())
}

func TestMessageHandler_GeneratesJobID(t *testing.T) {
	t.Parallel()

	h := startWorker(t, nil)
	event := newEvent()
	event.JobID = ""

	payload, err := json.Marshal(event)
	require.NoError(t, err)

	reply := request(t, h.conn, payload)

	_, parseErr := uuid.Parse(reply.JobID)
	require.NoError(t, parseErr)
	assert.Equal(t, reply.JobID+"/chapter-1.json", reply.Tasks[0].SyncMapKey)
}

func TestMessageHandler_UploadFailure(t *testing.T) {
	t.Parallel()

	h := startWorker(t, nil)
	h.outputs.mu.Lock()
	h.outputs.uploadShouldFail = true
	h.outputs.mu.Unlock()

	payload, err := json.Marshal(newEvent())
	require.NoError(t, err)

	reply := request(t, h.conn, payload)

	require.Len(t, reply.Tasks, 2)
	assert.Empty(t, reply.Tasks[0].SyncMapKey)
	assert.Contains(t, reply.Tasks[0].Error, errMockUpload.Error())
}

func TestNewNatsWorker_Validation(t *testing.T) {
	t.Parallel()

	testLogger, err := logger.New(t.TempDir(), "test-log.log")
	require.NoError(t, err)

	outputs := &mockObjectStore{mu: sync.Mutex{}, uploadShouldFail: false, uploads: map[string][]byte{}}
	jobs := &mockJobRunner{mu: sync.Mutex{}, jobs: nil, deadlines: nil, fail: nil}

	_, err = worker.NewNatsWorker(nil, testSubject, memoryAudio{}, outputs, jobs, nil, testLogger)
	require.ErrorIs(t, err, worker.ErrNilDependency)

	conn := createTestNatsClient(t)

	_, err = worker.NewNatsWorker(conn, "", memoryAudio{}, outputs, jobs, nil, testLogger)
	require.ErrorIs(t, err, worker.ErrEmptySubject)
}
