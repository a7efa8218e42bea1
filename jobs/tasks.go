package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeSendEmail is the task type for sending transactional emails.
	TaskTypeSendEmail = "mail:send"
	// TaskContractExpirySweep expires ACTIVE contracts past their end date.
	TaskContractExpirySweep = "contracts:expire"
	// TaskProformaExpirySweep expires open proformas past valid_until.
	TaskProformaExpirySweep = "proformas:expire"
	// TaskIdempotencyCleanup prunes old idempotency keys.
	TaskIdempotencyCleanup = "housekeeping:idempotency"
)

// SendEmailPayload describes the information required to send an email.
type SendEmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// NewSendEmailTask constructs an Asynq task.
func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data, asynq.MaxRetry(5), asynq.Timeout(time.Minute)), nil
}

// SweepPayload pins the reference time of an expiry sweep. A zero AsOf
// means "now" at execution time.
type SweepPayload struct {
	AsOf time.Time `json:"as_of,omitempty"`
}

// NewContractExpiryTask builds the contract expiry sweep task.
func NewContractExpiryTask(asOf time.Time) (*asynq.Task, error) {
	return newSweepTask(TaskContractExpirySweep, asOf)
}

// NewProformaExpiryTask builds the proforma expiry sweep task.
func NewProformaExpiryTask(asOf time.Time) (*asynq.Task, error) {
	return newSweepTask(TaskProformaExpirySweep, asOf)
}

func newSweepTask(typ string, asOf time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(SweepPayload{AsOf: asOf})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(typ, body, asynq.Queue(QueueDefault)), nil
}

// CleanupPayload configures idempotency key retention.
type CleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewIdempotencyCleanupTask builds the housekeeping task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(CleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
