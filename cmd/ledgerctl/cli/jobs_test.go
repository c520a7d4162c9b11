package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/cardpos/stockledger/jobs"
)

type stubEnqueuer struct {
	tasks []*asynq.Task
}

func (s *stubEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	s.tasks = append(s.tasks, task)
	return &asynq.TaskInfo{ID: "t-1", Type: task.Type(), Queue: jobs.QueueDefault}, nil
}

func (s *stubEnqueuer) Close() error { return nil }

type stubInspector struct {
	queues    map[string]*asynq.QueueInfo
	scheduled []*asynq.TaskInfo
	listQueue string
}

func (s *stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	return s.queues[queue], nil
}

func (s *stubInspector) ListScheduledTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
	s.listQueue = queue
	return s.scheduled, nil
}

func (s *stubInspector) Close() error { return nil }

func newStubEnv(enq *stubEnqueuer, insp *stubInspector, out *bytes.Buffer) Env {
	return Env{
		Stdout: out,
		NewJobs: func(string) (*JobsCLI, error) {
			return &JobsCLI{client: enq, inspector: insp}, nil
		},
	}
}

func TestTriggerReconcileForStore(t *testing.T) {
	enq := &stubEnqueuer{}
	out := new(bytes.Buffer)
	root := NewRootCommand(newStubEnv(enq, &stubInspector{}, out))
	root.SetArgs([]string{"jobs", "trigger", "reconcile", "--store", "42"})

	require.NoError(t, root.ExecuteContext(context.Background()))
	require.Len(t, enq.tasks, 1)
	require.Equal(t, jobs.TaskReconcile, enq.tasks[0].Type())
	var payload jobs.ReconcilePayload
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &payload))
	require.Equal(t, int64(42), payload.StoreID)
	require.Contains(t, out.String(), "enqueued ledger:reconcile id=t-1")
}

func TestTriggerRejectsUnknownJob(t *testing.T) {
	root := NewRootCommand(newStubEnv(&stubEnqueuer{}, &stubInspector{}, new(bytes.Buffer)))
	root.SetArgs([]string{"jobs", "trigger", "send-email"})
	err := root.ExecuteContext(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported job")
}

func TestQueueAndScheduledCommands(t *testing.T) {
	insp := &stubInspector{
		queues: map[string]*asynq.QueueInfo{
			jobs.QueueCritical: {Queue: jobs.QueueCritical, Scheduled: 2},
			jobs.QueueDefault:  {Queue: jobs.QueueDefault, Pending: 1},
		},
		scheduled: []*asynq.TaskInfo{{
			ID:            "reservation:1:ec-7",
			Payload:       []byte(`{"store_id":1,"order_id":"ec-7"}`),
			NextProcessAt: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC),
		}},
	}
	out := new(bytes.Buffer)
	root := NewRootCommand(newStubEnv(&stubEnqueuer{}, insp, out))
	root.SetArgs([]string{"jobs", "queue"})
	require.NoError(t, root.ExecuteContext(context.Background()))
	require.Contains(t, out.String(), "critical")
	require.Contains(t, out.String(), "SCHEDULED")

	out.Reset()
	root = NewRootCommand(newStubEnv(&stubEnqueuer{}, insp, out))
	root.SetArgs([]string{"jobs", "scheduled", "--size", "5"})
	require.NoError(t, root.ExecuteContext(context.Background()))
	require.Equal(t, jobs.QueueCritical, insp.listQueue)
	require.Contains(t, out.String(), "reservation:1:ec-7\t2026-06-01T12:00:00Z")
}
