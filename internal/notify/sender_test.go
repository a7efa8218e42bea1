package notify

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kioskops/kioskops/jobs"
)

type fakeQueue struct {
	mu       sync.Mutex
	payloads []jobs.SendEmailPayload
	failFor  string
}

func (q *fakeQueue) EnqueueSendEmail(ctx context.Context, p jobs.SendEmailPayload) (*asynq.TaskInfo, error) {
	if p.To == q.failFor {
		return nil, errors.New("redis unavailable")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.payloads = append(q.payloads, p)
	return &asynq.TaskInfo{ID: "task-" + p.To}, nil
}

func (q *fakeQueue) recipients() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []string
	for _, p := range q.payloads {
		out = append(out, p.To)
	}
	sort.Strings(out)
	return out
}

func TestNotifyStaffFansOutDeduplicated(t *testing.T) {
	q := &fakeQueue{}
	s := NewSender(q, nil)

	err := s.NotifyStaff(context.Background(), []string{"Ops@kioskops.local", "ops@kioskops.local ", "", "sales@kioskops.local"}, "Contract activated", "<p>hi</p>")
	require.NoError(t, err)
	assert.Equal(t, []string{"ops@kioskops.local", "sales@kioskops.local"}, q.recipients())
	assert.Equal(t, "Contract activated", q.payloads[0].Subject)
}

func TestNotifyStaffNoRecipientsIsNoop(t *testing.T) {
	q := &fakeQueue{}
	require.NoError(t, NewSender(q, nil).NotifyStaff(context.Background(), nil, "s", "b"))
	assert.Empty(t, q.payloads)
}

func TestNotifyStaffReportsEnqueueFailure(t *testing.T) {
	q := &fakeQueue{failFor: "broken@kioskops.local"}
	err := NewSender(q, nil).NotifyStaff(context.Background(), []string{"broken@kioskops.local"}, "s", "b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken@kioskops.local")
}

func TestNotifyClient(t *testing.T) {
	q := &fakeQueue{}
	s := NewSender(q, nil)
	require.NoError(t, s.NotifyClient(context.Background(), " client@example.com ", "Request received", "body"))
	assert.Equal(t, []string{"client@example.com"}, q.recipients())

	require.Error(t, s.NotifyClient(context.Background(), "  ", "s", "b"))
}
