package kiosks

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"github.com/kioskops/kioskops/internal/shared"
)

// NumberGenerator yields unique, human readable codes.
type NumberGenerator interface {
	Next(ctx context.Context, prefix string) (string, error)
}

// Notifier delivers staff and client messages. Delivery is best effort.
type Notifier interface {
	NotifyStaff(ctx context.Context, emails []string, subject, body string) error
	NotifyClient(ctx context.Context, email, subject, body string) error
}

const (
	kioskCodePrefix   = "KSK"
	requestCodePrefix = "KRQ"
)

// Service provides kiosk registry operations.
type Service struct {
	repo        Repository
	numbers     NumberGenerator
	notifier    Notifier
	staffEmails []string
	logger      *slog.Logger
}

// NewService creates a new service.
func NewService(repo Repository, numbers NumberGenerator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, numbers: numbers, logger: logger}
}

// SetNotifier configures request notifications.
func (s *Service) SetNotifier(n Notifier, staffEmails []string) {
	s.notifier = n
	s.staffEmails = staffEmails
}

// Create registers a kiosk. New kiosks start IN_STOCK unless told otherwise.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Kiosk, error) {
	if err := shared.Validate(req); err != nil {
		return nil, err
	}
	status := req.Status
	if status == "" {
		status = StatusInStock
	}
	if !status.Valid() {
		return nil, shared.NewValidationError("status", fmt.Sprintf("unknown kiosk status %q", status))
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		next, err := s.numbers.Next(ctx, kioskCodePrefix)
		if err != nil {
			return nil, fmt.Errorf("generate kiosk code: %w", err)
		}
		code = next
	}
	id, err := s.repo.Insert(ctx, Kiosk{
		Code:      code,
		Name:      strings.TrimSpace(req.Name),
		Type:      req.Type,
		Address:   strings.TrimSpace(req.Address),
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		Status:    status,
	})
	if err != nil {
		return nil, shared.Persistence("insert kiosk", err)
	}
	return s.Get(ctx, id)
}

// SubmitRequest records a kiosk in REQUEST status and notifies staff and
// the requester. Notification failures are logged only.
func (s *Service) SubmitRequest(ctx context.Context, req KioskRequest) (*Kiosk, error) {
	if err := shared.Validate(req); err != nil {
		return nil, err
	}
	code, err := s.numbers.Next(ctx, requestCodePrefix)
	if err != nil {
		return nil, fmt.Errorf("generate request code: %w", err)
	}
	email := strings.ToLower(strings.TrimSpace(req.RequesterEmail))
	id, err := s.repo.Insert(ctx, Kiosk{
		Code:             code,
		Name:             strings.TrimSpace(req.Name),
		Type:             req.Type,
		Address:          strings.TrimSpace(req.Address),
		Latitude:         req.Latitude,
		Longitude:        req.Longitude,
		Status:           StatusRequest,
		RequestedByEmail: &email,
	})
	if err != nil {
		return nil, shared.Persistence("insert kiosk request", err)
	}
	kiosk, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.notifyRequest(ctx, kiosk, req.Notes)
	return kiosk, nil
}

func (s *Service) notifyRequest(ctx context.Context, k *Kiosk, notes string) {
	if s.notifier == nil {
		return
	}
	if len(s.staffEmails) > 0 {
		subject := fmt.Sprintf("New kiosk request %s", k.Code)
		body := fmt.Sprintf(
			"<p>A new kiosk has been requested.</p><ul><li>Name: %s</li><li>Type: %s</li><li>Address: %s</li><li>Requested by: %s</li><li>Notes: %s</li></ul>",
			html.EscapeString(k.Name), k.Type, html.EscapeString(k.Address),
			html.EscapeString(deref(k.RequestedByEmail)), html.EscapeString(notes),
		)
		if err := s.notifier.NotifyStaff(ctx, s.staffEmails, subject, body); err != nil {
			s.logger.Warn("notify staff of kiosk request", slog.Int64("kiosk_id", k.ID), slog.Any("error", err))
		}
	}
	if k.RequestedByEmail != nil {
		subject := "We received your kiosk request"
		body := fmt.Sprintf(
			"<p>Your request for kiosk <strong>%s</strong> at %s has been received. Our team will contact you shortly.</p>",
			html.EscapeString(k.Name), html.EscapeString(k.Address),
		)
		if err := s.notifier.NotifyClient(ctx, *k.RequestedByEmail, subject, body); err != nil {
			s.logger.Warn("notify client of kiosk request", slog.Int64("kiosk_id", k.ID), slog.Any("error", err))
		}
	}
}

// Get returns a kiosk by id.
func (s *Service) Get(ctx context.Context, id int64) (*Kiosk, error) {
	k, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, shared.Persistence("get kiosk", err)
	}
	return k, nil
}

// List returns kiosks matching req and the total count.
func (s *Service) List(ctx context.Context, req ListRequest) ([]Kiosk, int, error) {
	items, total, err := s.repo.List(ctx, req)
	if err != nil {
		return nil, 0, shared.Persistence("list kiosks", err)
	}
	return items, total, nil
}

// SetStatuses updates many kiosks in one transaction. Unknown ids are
// reported in the result and do not abort the update of the others.
func (s *Service) SetStatuses(ctx context.Context, req SetStatusesRequest) (SyncResult, error) {
	if err := shared.Validate(req); err != nil {
		return SyncResult{}, err
	}
	var result SyncResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, store StatusStore) error {
		res, err := SetStatuses(ctx, store, req.IDs, req.Status)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return SyncResult{}, err
	}
	if len(result.Errors) > 0 {
		s.logger.Warn("kiosk status sync skipped ids", slog.Any("error", result.Err()))
	}
	return result, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
