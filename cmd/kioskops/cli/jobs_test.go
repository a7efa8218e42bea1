package cli

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kioskops/kioskops/jobs"
)

type fakeClient struct {
	tasks []*asynq.Task
}

func (f *fakeClient) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "t1", Type: task.Type(), Queue: jobs.QueueDefault}, nil
}

func (f *fakeClient) Close() error { return nil }

type fakeInspector struct{}

func (fakeInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	return &asynq.QueueInfo{Queue: queue, Pending: 3, Active: 1, Retry: 2}, nil
}

func (fakeInspector) ListScheduledTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
	return []*asynq.TaskInfo{{ID: "s1", Type: jobs.TaskContractExpirySweep}}, nil
}

func (fakeInspector) Close() error { return nil }

func TestTriggerKnownJobs(t *testing.T) {
	client := &fakeClient{}
	c := &JobsCLI{client: client, inspector: fakeInspector{}, retention: 48 * time.Hour}

	for _, name := range []string{jobs.TaskContractExpirySweep, jobs.TaskProformaExpirySweep, jobs.TaskIdempotencyCleanup} {
		info, err := c.Trigger(context.Background(), name)
		require.NoError(t, err, name)
		assert.Equal(t, name, info.Type)
	}
	require.Len(t, client.tasks, 3)

	var payload jobs.CleanupPayload
	require.NoError(t, json.Unmarshal(client.tasks[2].Payload(), &payload))
	assert.Equal(t, 48*time.Hour, payload.Retention)
}

func TestTriggerUnknownJob(t *testing.T) {
	c := &JobsCLI{client: &fakeClient{}, inspector: fakeInspector{}}
	_, err := c.Trigger(context.Background(), "reports:nightly")
	require.Error(t, err)
}

func TestInspectQueue(t *testing.T) {
	c := &JobsCLI{client: &fakeClient{}, inspector: fakeInspector{}}
	stats, err := c.InspectQueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, QueueStats{Queue: jobs.QueueDefault, Pending: 3, Active: 1, Retry: 2}, stats)

	scheduled, err := c.ListScheduled(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, scheduled, 1)
}

func TestNilCLI(t *testing.T) {
	var c *JobsCLI
	_, err := c.Trigger(context.Background(), jobs.TaskContractExpirySweep)
	require.Error(t, err)
}
