package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kioskops/kioskops/internal/kiosks"
	"github.com/kioskops/kioskops/internal/shared"
)

// Metrics records lifecycle counters.
type Metrics interface {
	ObserveTransition(entity, from, to string)
}

const metricsEntity = "maintenance"

// Service manages maintenance tickets and the kiosk statuses they imply.
type Service struct {
	repo    Repository
	metrics Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewService creates a new service.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger, now: time.Now}
}

// SetMetrics enables lifecycle counters.
func (s *Service) SetMetrics(m Metrics) {
	s.metrics = m
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Open files a ticket and moves the kiosk into the matching maintenance
// status. A kiosk can only have one open ticket.
func (s *Service) Open(ctx context.Context, req OpenRequest, actorID int64) (*Ticket, error) {
	if err := shared.Validate(req); err != nil {
		return nil, err
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, shared.NewValidationError("title", "is required")
	}
	priority := req.Priority
	if priority == "" {
		priority = PriorityMedium
	}

	var id int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		store := tx.Kiosks()
		current, err := store.GetStatuses(ctx, []int64{req.KioskID})
		if err != nil {
			return err
		}
		before, ok := current[req.KioskID]
		if !ok {
			return shared.NewValidationError("kiosk_id", fmt.Sprintf("kiosk %d does not exist", req.KioskID))
		}
		open, err := tx.OpenTicketFor(ctx, req.KioskID)
		if err != nil {
			return err
		}
		if open != nil || before.UnderMaintenance() {
			return ErrTicketOpen
		}
		id, err = tx.Insert(ctx, Ticket{
			KioskID:           req.KioskID,
			Title:             title,
			Description:       strings.TrimSpace(req.Description),
			Priority:          priority,
			Status:            StatusOpen,
			KioskStatusBefore: before,
			OpenedBy:          shared.NullableActor(actorID),
		})
		if err != nil {
			return err
		}
		res, err := kiosks.SetStatuses(ctx, store, []int64{req.KioskID}, kiosks.MaintenanceStatusFor(before))
		if err != nil {
			return err
		}
		return res.Err()
	})
	if err != nil {
		return nil, shared.Persistence("open maintenance ticket", err)
	}
	s.observe("", StatusOpen)
	return s.Get(ctx, id)
}

// Start marks an OPEN ticket as being worked on.
func (s *Service) Start(ctx context.Context, id int64) (*Ticket, error) {
	return s.transition(ctx, id, StatusInProgress, nil)
}

// Resolve closes the ticket and restores the kiosk status it replaced.
func (s *Service) Resolve(ctx context.Context, id int64, req CloseRequest) (*Ticket, error) {
	if err := shared.Validate(req); err != nil {
		return nil, err
	}
	updates := map[string]interface{}{"resolved_at": s.now()}
	if r := strings.TrimSpace(req.Resolution); r != "" {
		updates["resolution"] = r
	}
	return s.transition(ctx, id, StatusResolved, updates)
}

// Cancel drops the ticket and restores the kiosk status it replaced.
func (s *Service) Cancel(ctx context.Context, id int64, req CloseRequest) (*Ticket, error) {
	if err := shared.Validate(req); err != nil {
		return nil, err
	}
	var updates map[string]interface{}
	if r := strings.TrimSpace(req.Resolution); r != "" {
		updates = map[string]interface{}{"resolution": r}
	}
	return s.transition(ctx, id, StatusCancelled, updates)
}

func (s *Service) transition(ctx context.Context, id int64, to Status, updates map[string]interface{}) (*Ticket, error) {
	var from Status
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		t, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !CanTransition(t.Status, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, to)
		}
		from = t.Status
		if err := tx.UpdateStatus(ctx, id, t.Status, to, updates); err != nil {
			return err
		}
		if !to.Closed() {
			return nil
		}
		return s.restoreKiosk(ctx, tx.Kiosks(), t)
	})
	if err != nil {
		return nil, shared.Persistence("transition maintenance ticket", err)
	}
	s.observe(from, to)
	return s.Get(ctx, id)
}

// restoreKiosk puts the kiosk back into the status held before the ticket,
// unless another workflow moved it out of maintenance meanwhile.
func (s *Service) restoreKiosk(ctx context.Context, store kiosks.StatusStore, t *Ticket) error {
	current, err := store.GetStatuses(ctx, []int64{t.KioskID})
	if err != nil {
		return err
	}
	st, ok := current[t.KioskID]
	if !ok || !st.UnderMaintenance() {
		s.logger.Info("kiosk left maintenance before ticket closed",
			slog.Int64("ticket_id", t.ID), slog.Int64("kiosk_id", t.KioskID), slog.String("status", string(st)))
		return nil
	}
	res, err := kiosks.SetStatuses(ctx, store, []int64{t.KioskID}, t.KioskStatusBefore)
	if err != nil {
		return err
	}
	return res.Err()
}

// Get returns a ticket by id.
func (s *Service) Get(ctx context.Context, id int64) (*Ticket, error) {
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, shared.Persistence("get maintenance ticket", err)
	}
	return t, nil
}

// List returns tickets matching req and the total count.
func (s *Service) List(ctx context.Context, req ListRequest) ([]Ticket, int, error) {
	items, total, err := s.repo.List(ctx, req)
	if err != nil {
		return nil, 0, shared.Persistence("list maintenance tickets", err)
	}
	return items, total, nil
}

func (s *Service) observe(from, to Status) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveTransition(metricsEntity, string(from), string(to))
}
