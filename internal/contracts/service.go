package contracts

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/kioskops/kioskops/internal/audit"
	"github.com/kioskops/kioskops/internal/documents"
	"github.com/kioskops/kioskops/internal/kiosks"
	"github.com/kioskops/kioskops/internal/shared"
)

// NumberGenerator yields unique contract numbers.
type NumberGenerator interface {
	Next(ctx context.Context, prefix string) (string, error)
}

// DocumentRenderer produces the contract PDF and returns its URL.
type DocumentRenderer interface {
	RenderContract(ctx context.Context, payload documents.ContractPayload) (string, error)
}

// Notifier delivers activation notices. Delivery is best effort.
type Notifier interface {
	NotifyStaff(ctx context.Context, emails []string, subject, body string) error
	NotifyClient(ctx context.Context, email, subject, body string) error
}

// Metrics records lifecycle counters.
type Metrics interface {
	ObserveTransition(entity, from, to string)
	ObserveRenderFailure(entity string)
}

// ServiceConfig tunes side effects.
type ServiceConfig struct {
	RenderTimeout time.Duration
	StaffEmails   []string
}

const (
	numberPrefix         = "CTR"
	metricsEntity        = "contract"
	defaultRenderTimeout = 15 * time.Second
)

// Service is the contract lifecycle manager.
type Service struct {
	repo     Repository
	numbers  NumberGenerator
	renderer DocumentRenderer
	notifier Notifier
	metrics  Metrics
	cfg      ServiceConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a new service.
func NewService(repo Repository, numbers NumberGenerator, logger *slog.Logger, cfg ServiceConfig) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RenderTimeout <= 0 {
		cfg.RenderTimeout = defaultRenderTimeout
	}
	return &Service{repo: repo, numbers: numbers, cfg: cfg, logger: logger, now: time.Now}
}

// SetRenderer enables contract document generation.
func (s *Service) SetRenderer(r DocumentRenderer) {
	s.renderer = r
}

// SetNotifier enables activation notices.
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// SetMetrics enables lifecycle counters.
func (s *Service) SetMetrics(m Metrics) {
	s.metrics = m
}

// Create validates req and persists a DRAFT contract with its kiosks reserved.
// A failed document render is reported as a warning.
func (s *Service) Create(ctx context.Context, req CreateRequest, actorID int64) (*TransitionResult, error) {
	if err := validateCreate(req); err != nil {
		return nil, err
	}
	var id int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		id, err = s.CreateWithin(ctx, tx, req, actorID)
		return err
	})
	if err != nil {
		return nil, shared.Persistence("create contract", err)
	}
	s.observe("", StatusDraft)

	contract, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	warnings := s.render(ctx, contract)
	return &TransitionResult{Contract: contract, Warnings: warnings}, nil
}

// CreateWithin runs contract creation on an open transaction and returns the
// new id. The caller owns commit and rollback.
func (s *Service) CreateWithin(ctx context.Context, tx TxRepository, req CreateRequest, actorID int64) (int64, error) {
	if err := validateCreate(req); err != nil {
		return 0, err
	}
	kioskIDs := uniqueSorted(req.KioskIDs)
	if err := checkBookable(ctx, tx.Kiosks(), kioskIDs); err != nil {
		return 0, err
	}

	number, err := s.numbers.Next(ctx, numberPrefix)
	if err != nil {
		return 0, fmt.Errorf("generate contract number: %w", err)
	}
	frequency := strings.ToUpper(strings.TrimSpace(req.PaymentFrequency))
	if frequency == "" {
		frequency = DefaultPaymentFrequency
	}
	payment := roundTo2(req.PaymentAmount)
	contract := Contract{
		ContractNumber:   number,
		Status:           StatusDraft,
		ClientName:       strings.TrimSpace(req.ClientName),
		ClientIDType:     strings.TrimSpace(req.ClientIDType),
		ClientIDNumber:   strings.TrimSpace(req.ClientIDNumber),
		ClientAddress:    strings.TrimSpace(req.ClientAddress),
		BillingAddress:   strings.TrimSpace(req.BillingAddress),
		ClientPhone:      strings.TrimSpace(req.ClientPhone),
		ClientEmail:      strings.ToLower(strings.TrimSpace(req.ClientEmail)),
		DurationMonths:   req.DurationMonths,
		PaymentFrequency: frequency,
		PaymentAmount:    payment,
		TotalAmount:      TotalFor(payment, req.DurationMonths),
		ProformaID:       req.ProformaID,
		CreatedBy:        shared.NullableActor(actorID),
	}
	id, err := tx.Insert(ctx, contract)
	if err != nil {
		return 0, err
	}
	if err := tx.LinkKiosks(ctx, id, kioskIDs); err != nil {
		return 0, err
	}
	if err := syncKiosks(ctx, tx.Kiosks(), kioskIDs, kiosks.StatusReserved); err != nil {
		return 0, err
	}
	_, err = tx.Audit().Append(ctx, audit.Entry{
		OwnerType:   audit.OwnerContract,
		OwnerID:     id,
		Action:      audit.ActionCreated,
		Description: fmt.Sprintf("Contract %s created for %s", number, contract.ClientName),
		ActorID:     actorID,
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// TotalFor returns payment × duration rounded to cents.
func TotalFor(payment float64, durationMonths int) float64 {
	return roundTo2(payment * float64(durationMonths))
}

func validateCreate(req CreateRequest) error {
	if err := shared.Validate(req); err != nil {
		return err
	}
	if strings.TrimSpace(req.ClientName) == "" {
		return shared.NewValidationError("client_name", "is required")
	}
	if !wholeCents(req.PaymentAmount) {
		return shared.NewValidationError("payment_amount", "must have at most 2 decimal places")
	}
	return nil
}

func checkBookable(ctx context.Context, store KioskStore, ids []int64) error {
	statuses, err := store.GetStatuses(ctx, ids)
	if err != nil {
		return err
	}
	var problems []string
	for _, id := range ids {
		st, ok := statuses[id]
		switch {
		case !ok:
			problems = append(problems, fmt.Sprintf("kiosk %d does not exist", id))
		case !st.Bookable():
			problems = append(problems, fmt.Sprintf("kiosk %d is %s", id, st))
		}
	}
	if len(problems) > 0 {
		return shared.NewValidationError("kiosk_ids", strings.Join(problems, "; "))
	}
	return nil
}

// Transition moves a contract to target if the table allows it. The status
// change, kiosk sync and audit entry commit together; document rendering and
// notification happen afterwards and only produce warnings.
func (s *Service) Transition(ctx context.Context, id int64, target Status, actorID int64) (*TransitionResult, error) {
	if !target.Valid() {
		return nil, shared.NewValidationError("status", fmt.Sprintf("unknown contract status %q", target))
	}
	var (
		from    Status
		effects sideEffects
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		eff, ok := effectsFor(current.Status, target)
		if !ok {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, target)
		}
		from, effects = current.Status, eff
		return s.apply(ctx, tx, current, target, eff, actorID)
	})
	if err != nil {
		return nil, shared.Persistence("transition contract", err)
	}
	s.observe(from, target)

	contract, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	var warnings []string
	if effects.render {
		warnings = append(warnings, s.render(ctx, contract)...)
	}
	if effects.notify {
		s.notifyActivated(ctx, contract)
	}
	return &TransitionResult{Contract: contract, Warnings: warnings}, nil
}

func (s *Service) apply(ctx context.Context, tx TxRepository, c *Contract, to Status, eff sideEffects, actorID int64) error {
	now := s.now()
	updates := map[string]interface{}{}
	if eff.activate {
		updates["start_date"] = now
		updates["signature_date"] = now
		updates["end_date"] = AddMonths(now, c.DurationMonths)
		updates["signed_by"] = shared.NullableActor(actorID)
	}
	if eff.terminate {
		updates["termination_date"] = now
	}
	if err := tx.UpdateStatus(ctx, c.ID, c.Status, to, updates); err != nil {
		return err
	}
	if eff.kioskStatus != "" && len(c.KioskIDs) > 0 {
		if err := syncKiosks(ctx, tx.Kiosks(), c.KioskIDs, eff.kioskStatus); err != nil {
			return err
		}
	}
	_, err := tx.Audit().Append(ctx, audit.Entry{
		OwnerType:   audit.OwnerContract,
		OwnerID:     c.ID,
		Action:      eff.action,
		Description: eff.description,
		ActorID:     actorID,
	})
	return err
}

// syncKiosks fails on any per-kiosk error so the transaction rolls back.
func syncKiosks(ctx context.Context, store KioskStore, ids []int64, status kiosks.Status) error {
	res, err := kiosks.SetStatuses(ctx, store, ids, status)
	if err != nil {
		return err
	}
	if err := res.Err(); err != nil {
		return fmt.Errorf("sync kiosks to %s: %w", status, err)
	}
	return nil
}

// Rerender regenerates the contract document.
func (s *Service) Rerender(ctx context.Context, id int64) (*TransitionResult, error) {
	contract, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &TransitionResult{Contract: contract, Warnings: s.render(ctx, contract)}, nil
}

// ExpireDue expires every ACTIVE contract whose end date is before now.
// Contracts changed concurrently are skipped.
func (s *Service) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	ids, err := s.repo.DueForExpiry(ctx, now)
	if err != nil {
		return 0, shared.Persistence("list contracts due for expiry", err)
	}
	var (
		expired int
		errs    []error
	)
	for _, id := range ids {
		_, err := s.Transition(ctx, id, StatusExpired, shared.SystemActor)
		switch {
		case err == nil:
			expired++
		case errors.Is(err, shared.ErrConflict), errors.Is(err, shared.ErrInvalidTransition):
			s.logger.Info("skip contract expiry", slog.Int64("contract_id", id), slog.Any("error", err))
		default:
			errs = append(errs, fmt.Errorf("contract %d: %w", id, err))
		}
	}
	return expired, errors.Join(errs...)
}

// Get returns a contract with its kiosks.
func (s *Service) Get(ctx context.Context, id int64) (*Contract, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, shared.Persistence("get contract", err)
	}
	return c, nil
}

// List returns contracts matching req and the total count.
func (s *Service) List(ctx context.Context, req ListRequest) ([]Contract, int, error) {
	items, total, err := s.repo.List(ctx, req)
	if err != nil {
		return nil, 0, shared.Persistence("list contracts", err)
	}
	return items, total, nil
}

// History returns the audit trail, newest first.
func (s *Service) History(ctx context.Context, id int64) ([]audit.Action, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	actions, err := s.repo.History(ctx, id)
	if err != nil {
		return nil, shared.Persistence("contract history", err)
	}
	return actions, nil
}

func (s *Service) render(ctx context.Context, c *Contract) []string {
	if s.renderer == nil {
		return nil
	}
	renderCtx, cancel := context.WithTimeout(ctx, s.cfg.RenderTimeout)
	defer cancel()

	url, err := s.renderer.RenderContract(renderCtx, PayloadFor(c, s.now()))
	if err != nil {
		if s.metrics != nil {
			s.metrics.ObserveRenderFailure(metricsEntity)
		}
		s.logger.Warn("render contract document", slog.Int64("contract_id", c.ID), slog.Any("error", err))
		return []string{fmt.Sprintf("contract document for %s could not be generated: %v", c.ContractNumber, err)}
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.SetDocumentURL(ctx, c.ID, url); err != nil {
			return err
		}
		_, err := tx.Audit().Append(ctx, audit.Entry{
			OwnerType:   audit.OwnerContract,
			OwnerID:     c.ID,
			Action:      audit.ActionDocumentRender,
			Description: "Contract document generated",
			ActorID:     shared.SystemActor,
		})
		return err
	})
	if err != nil {
		s.logger.Warn("store contract document url", slog.Int64("contract_id", c.ID), slog.Any("error", err))
		return []string{fmt.Sprintf("contract document for %s was generated but could not be saved", c.ContractNumber)}
	}
	c.DocumentURL = &url
	return nil
}

// PayloadFor maps a contract to the document template input.
func PayloadFor(c *Contract, at time.Time) documents.ContractPayload {
	lines := make([]documents.KioskLine, 0, len(c.Kiosks))
	for _, k := range c.Kiosks {
		lines = append(lines, documents.KioskLine{Code: k.Code, Name: k.Name, Type: string(k.Type), Address: k.Address})
	}
	return documents.ContractPayload{
		ContractNumber:   c.ContractNumber,
		Status:           string(c.Status),
		ClientName:       c.ClientName,
		ClientIDType:     c.ClientIDType,
		ClientIDNumber:   c.ClientIDNumber,
		ClientAddress:    c.ClientAddress,
		BillingAddress:   c.BillingAddress,
		ClientPhone:      c.ClientPhone,
		ClientEmail:      c.ClientEmail,
		DurationMonths:   c.DurationMonths,
		PaymentFrequency: c.PaymentFrequency,
		PaymentAmount:    c.PaymentAmount,
		TotalAmount:      c.TotalAmount,
		StartDate:        c.StartDate,
		EndDate:          c.EndDate,
		SignatureDate:    c.SignatureDate,
		TerminationDate:  c.TerminationDate,
		Kiosks:           lines,
		GeneratedAt:      at,
	}
}

func (s *Service) notifyActivated(ctx context.Context, c *Contract) {
	if s.notifier == nil {
		return
	}
	if len(s.cfg.StaffEmails) > 0 {
		subject := fmt.Sprintf("Contract %s is now active", c.ContractNumber)
		body := fmt.Sprintf(
			"<p>Contract <strong>%s</strong> for %s was signed and activated.</p><p>Kiosks: %d. Total: %.2f.</p>",
			html.EscapeString(c.ContractNumber), html.EscapeString(c.ClientName), len(c.KioskIDs), c.TotalAmount,
		)
		if err := s.notifier.NotifyStaff(ctx, s.cfg.StaffEmails, subject, body); err != nil {
			s.logger.Warn("notify staff of activation", slog.Int64("contract_id", c.ID), slog.Any("error", err))
		}
	}
	if c.ClientEmail != "" {
		subject := fmt.Sprintf("Your contract %s is active", c.ContractNumber)
		body := fmt.Sprintf("<p>Dear %s,</p><p>your rental contract %s is now active.</p>",
			html.EscapeString(c.ClientName), html.EscapeString(c.ContractNumber))
		if c.DocumentURL != nil {
			body += fmt.Sprintf(`<p><a href="%s">Download the signed contract</a></p>`, html.EscapeString(*c.DocumentURL))
		}
		if err := s.notifier.NotifyClient(ctx, c.ClientEmail, subject, body); err != nil {
			s.logger.Warn("notify client of activation", slog.Int64("contract_id", c.ID), slog.Any("error", err))
		}
	}
}

func (s *Service) observe(from, to Status) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveTransition(metricsEntity, string(from), string(to))
}

func uniqueSorted(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func roundTo2(v float64) float64 {
	return math.Round(v*100) / 100
}

// wholeCents reports whether v has no fraction below one cent, so rounding
// for storage never changes it.
func wholeCents(v float64) bool {
	cents := v * 100
	return math.Abs(cents-math.Round(cents)) < 1e-6
}
