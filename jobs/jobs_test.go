package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/kioskops/kioskops/internal/jobs"
)

func TestMailerSendsHTMLMessage(t *testing.T) {
	m := NewMailer(MailerConfig{Host: "127.0.0.1", Port: 1025, From: "no-reply@kioskops.local"}, nil)
	m.now = func() time.Time { return time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC) }

	var gotAddr string
	var gotTo []string
	var gotMsg string
	m.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, string(msg)
		assert.Nil(t, a)
		return nil
	}

	task, err := NewSendEmailTask(SendEmailPayload{To: "client@example.com", Subject: "Contract activated", Body: "<p>Welcome</p>"})
	require.NoError(t, err)
	require.NoError(t, m.Handle(context.Background(), task))

	assert.Equal(t, "127.0.0.1:1025", gotAddr)
	assert.Equal(t, []string{"client@example.com"}, gotTo)
	assert.Contains(t, gotMsg, "Subject: Contract activated\r\n")
	assert.Contains(t, gotMsg, "Content-Type: text/html")
	assert.True(t, strings.HasSuffix(gotMsg, "\r\n\r\n<p>Welcome</p>"))
}

func TestMailerSkipsBadPayload(t *testing.T) {
	m := NewMailer(MailerConfig{}, nil)
	err := m.Handle(context.Background(), asynq.NewTask(TaskTypeSendEmail, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	task, _ := NewSendEmailTask(SendEmailPayload{Subject: "no recipient"})
	require.ErrorIs(t, m.Handle(context.Background(), task), asynq.SkipRetry)
}

func TestMailerRetriesOnSMTPFailure(t *testing.T) {
	m := NewMailer(MailerConfig{Host: "smtp", Port: 25}, nil)
	m.send = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("421 try later") }

	task, _ := NewSendEmailTask(SendEmailPayload{To: "a@b.co"})
	err := m.Handle(context.Background(), task)
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}

type fakeExpirer struct {
	asOf time.Time
	n    int
	err  error
}

func (f *fakeExpirer) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	f.asOf = now
	return f.n, f.err
}

func TestExpirySweepUsesPayloadTime(t *testing.T) {
	target := &fakeExpirer{n: 2}
	job := NewExpirySweepJob(TaskContractExpirySweep, "contract", target, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	asOf := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	task, err := NewContractExpiryTask(asOf)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, asOf, target.asOf.UTC())
}

func TestExpirySweepDefaultsToNow(t *testing.T) {
	target := &fakeExpirer{}
	job := NewExpirySweepJob(TaskProformaExpirySweep, "proforma", target, nil, nil)
	fixed := time.Date(2026, 10, 19, 1, 0, 0, 0, time.UTC)
	job.clock = func() time.Time { return fixed }

	task, err := NewProformaExpiryTask(time.Time{})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, fixed, target.asOf)
}

func TestExpirySweepPropagatesFailure(t *testing.T) {
	boom := errors.New("db down")
	job := NewExpirySweepJob(TaskContractExpirySweep, "contract", &fakeExpirer{err: boom}, nil, nil)
	task, _ := NewContractExpiryTask(time.Time{})
	require.ErrorIs(t, job.Handle(context.Background(), task), boom)
}

type fakePruner struct{ retention time.Duration }

func (f *fakePruner) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	f.retention = olderThan
	return 4, nil
}

func TestIdempotencyCleanupDefaultsRetention(t *testing.T) {
	p := &fakePruner{}
	job := &IdempotencyCleanupJob{Store: p}
	task, err := NewIdempotencyCleanupTask(0)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, 7*24*time.Hour, p.retention)
}

type fakeInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (f fakeInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	return f.info, f.err
}

func TestHealthHandler(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(fakeInspector{info: &asynq.QueueInfo{Queue: "default", Pending: 3, Retry: 1}}, nil).MountRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body queueHealth
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, queueHealth{Queue: "default", Pending: 3, Retry: 1}, body)
}
