// Package notify queues outbound email through the background worker.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/kioskops/kioskops/jobs"
)

// Enqueuer submits mail tasks. jobs.Client implements it.
type Enqueuer interface {
	EnqueueSendEmail(ctx context.Context, payload jobs.SendEmailPayload) (*asynq.TaskInfo, error)
}

// Sender fans notifications out to the mail queue.
type Sender struct {
	queue  Enqueuer
	logger *slog.Logger
}

// NewSender constructs a Sender.
func NewSender(queue Enqueuer, logger *slog.Logger) *Sender {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sender{queue: queue, logger: logger}
}

// NotifyStaff queues one message per staff address.
func (s *Sender) NotifyStaff(ctx context.Context, emails []string, subject, body string) error {
	recipients := normalise(emails)
	if len(recipients) == 0 {
		return nil
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, to := range recipients {
		to := to
		g.Go(func() error {
			return s.enqueue(ctx, to, subject, body)
		})
	}
	return g.Wait()
}

// NotifyClient queues a message to a single client address.
func (s *Sender) NotifyClient(ctx context.Context, email, subject, body string) error {
	to := strings.TrimSpace(email)
	if to == "" {
		return errors.New("notify: client email required")
	}
	return s.enqueue(ctx, to, subject, body)
}

func (s *Sender) enqueue(ctx context.Context, to, subject, body string) error {
	info, err := s.queue.EnqueueSendEmail(ctx, jobs.SendEmailPayload{To: to, Subject: subject, Body: body})
	if err != nil {
		return fmt.Errorf("notify: enqueue mail to %s: %w", to, err)
	}
	if info != nil {
		s.logger.Debug("mail queued", slog.String("to", to), slog.String("task_id", info.ID))
	}
	return nil
}

func normalise(emails []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(emails))
	for _, e := range emails {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out
}
