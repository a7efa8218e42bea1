package proformas

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"github.com/kioskops/kioskops/internal/audit"
	"github.com/kioskops/kioskops/internal/contracts"
	"github.com/kioskops/kioskops/internal/shared"
)

// NumberGenerator yields unique proforma numbers.
type NumberGenerator interface {
	Next(ctx context.Context, prefix string) (string, error)
}

// ContractCreator is the part of the contract lifecycle a conversion uses.
type ContractCreator interface {
	CreateWithin(ctx context.Context, tx contracts.TxRepository, req contracts.CreateRequest, actorID int64) (int64, error)
	Rerender(ctx context.Context, id int64) (*contracts.TransitionResult, error)
}

// Notifier sends the proforma to the client. Delivery is best effort.
type Notifier interface {
	NotifyClient(ctx context.Context, email, subject, body string) error
}

// Metrics records lifecycle counters.
type Metrics interface {
	ObserveTransition(entity, from, to string)
}

const (
	numberPrefix      = "PRF"
	metricsEntity     = "proforma"
	defaultValidDays  = 30
	expiryDescription = "Proforma expired without conversion"
)

// Result is returned by mutating proforma operations.
type Result struct {
	Proforma *Proforma `json:"proforma"`
	Warnings []string  `json:"warnings"`
}

// ConvertResult carries both records of a successful conversion.
type ConvertResult struct {
	Proforma *Proforma           `json:"proforma"`
	Contract *contracts.Contract `json:"contract"`
	Warnings []string            `json:"warnings"`
}

// Service is the proforma lifecycle manager.
type Service struct {
	repo      Repository
	numbers   NumberGenerator
	contracts ContractCreator
	notifier  Notifier
	metrics   Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates a new service.
func NewService(repo Repository, numbers NumberGenerator, creator ContractCreator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, numbers: numbers, contracts: creator, logger: logger, now: time.Now}
}

// SetNotifier enables sending proformas by email.
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

// SetMetrics enables lifecycle counters.
func (s *Service) SetMetrics(m Metrics) {
	s.metrics = m
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Quote prices a configuration without persisting anything.
func (s *Service) Quote(req QuoteRequest) (Pricing, error) {
	if err := shared.Validate(req); err != nil {
		return Pricing{}, err
	}
	return Price(req.KioskType, req.Quantity, toSurfaces(req.Surfaces))
}

// Create prices and stores a DRAFT proforma.
func (s *Service) Create(ctx context.Context, req CreateRequest, actorID int64) (*Proforma, error) {
	if err := shared.Validate(req); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.ClientName) == "" {
		return nil, shared.NewValidationError("client_name", "is required")
	}
	surfaces := toSurfaces(req.Surfaces)
	pricing, err := Price(req.KioskType, req.Quantity, surfaces)
	if err != nil {
		return nil, err
	}
	validDays := req.ValidDays
	if validDays == 0 {
		validDays = defaultValidDays
	}

	var id int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := s.numbers.Next(ctx, numberPrefix)
		if err != nil {
			return fmt.Errorf("generate proforma number: %w", err)
		}
		id, err = tx.Insert(ctx, Proforma{
			ProformaNumber: number,
			Status:         StatusDraft,
			ClientName:     strings.TrimSpace(req.ClientName),
			ClientEmail:    strings.ToLower(strings.TrimSpace(req.ClientEmail)),
			ClientPhone:    strings.TrimSpace(req.ClientPhone),
			ClientAddress:  strings.TrimSpace(req.ClientAddress),
			KioskType:      req.KioskType,
			Quantity:       req.Quantity,
			Surfaces:       surfaces,
			BasePrice:      pricing.BasePrice,
			BrandingPrice:  pricing.BrandingPrice,
			TotalAmount:    pricing.TotalAmount,
			ValidUntil:     s.now().AddDate(0, 0, validDays),
			Notes:          strings.TrimSpace(req.Notes),
			CreatedBy:      shared.NullableActor(actorID),
		})
		if err != nil {
			return err
		}
		_, err = tx.Audit().Append(ctx, audit.Entry{
			OwnerType:   audit.OwnerProforma,
			OwnerID:     id,
			Action:      audit.ActionCreated,
			Description: fmt.Sprintf("Proforma %s created for %s, total %.2f", number, req.ClientName, pricing.TotalAmount),
			ActorID:     actorID,
		})
		return err
	})
	if err != nil {
		return nil, shared.Persistence("create proforma", err)
	}
	s.observe("", StatusDraft)
	return s.Get(ctx, id)
}

// Send marks a DRAFT proforma as sent and emails it to the client.
func (s *Service) Send(ctx context.Context, id, actorID int64) (*Result, error) {
	p, err := s.transition(ctx, id, StatusSent, actorID, nil, "Proforma sent to client")
	if err != nil {
		return nil, err
	}
	var warnings []string
	if s.notifier != nil && p.ClientEmail != "" {
		subject := fmt.Sprintf("Proforma %s", p.ProformaNumber)
		body := fmt.Sprintf(
			"<p>Dear %s,</p><p>please find our offer for %d %s kiosk(s). Total: %.2f. Valid until %s.</p>",
			html.EscapeString(p.ClientName), p.Quantity, p.KioskType, p.TotalAmount, p.ValidUntil.Format("02 Jan 2006"),
		)
		if err := s.notifier.NotifyClient(ctx, p.ClientEmail, subject, body); err != nil {
			s.logger.Warn("send proforma to client", slog.Int64("proforma_id", id), slog.Any("error", err))
			warnings = append(warnings, fmt.Sprintf("proforma %s could not be emailed to %s", p.ProformaNumber, p.ClientEmail))
		}
	}
	return &Result{Proforma: p, Warnings: warnings}, nil
}

// Accept records the client's acceptance. Offers past their validity are refused.
func (s *Service) Accept(ctx context.Context, id, actorID int64) (*Result, error) {
	p, err := s.transition(ctx, id, StatusAccepted, actorID, nil, "Proforma accepted by client")
	if err != nil {
		return nil, err
	}
	return &Result{Proforma: p}, nil
}

// Reject records the client's refusal and its reason.
func (s *Service) Reject(ctx context.Context, id int64, req RejectRequest, actorID int64) (*Result, error) {
	if err := shared.Validate(req); err != nil {
		return nil, err
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, shared.NewValidationError("reason", "is required")
	}
	p, err := s.transition(ctx, id, StatusRejected, actorID,
		map[string]interface{}{"rejection_reason": reason},
		fmt.Sprintf("Proforma rejected: %s", reason))
	if err != nil {
		return nil, err
	}
	return &Result{Proforma: p}, nil
}

func (s *Service) transition(ctx context.Context, id int64, to Status, actorID int64, updates map[string]interface{}, description string) (*Proforma, error) {
	var from Status
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		action, ok := transitions[transitionKey{p.Status, to}]
		if !ok {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, to)
		}
		if to == StatusAccepted && s.now().After(p.ValidUntil) {
			return shared.NewValidationError("valid_until",
				fmt.Sprintf("proforma %s expired on %s", p.ProformaNumber, p.ValidUntil.Format("2006-01-02")))
		}
		from = p.Status
		if err := tx.UpdateStatus(ctx, id, p.Status, to, updates); err != nil {
			return err
		}
		_, err = tx.Audit().Append(ctx, audit.Entry{
			OwnerType:   audit.OwnerProforma,
			OwnerID:     id,
			Action:      action,
			Description: description,
			ActorID:     actorID,
		})
		return err
	})
	if err != nil {
		return nil, shared.Persistence("transition proforma", err)
	}
	s.observe(from, to)
	return s.Get(ctx, id)
}

// ConvertToContract turns an ACCEPTED proforma into a DRAFT contract. The
// contract, the CONVERTED status and both audit entries commit together; on
// any failure the proforma stays ACCEPTED and no contract exists.
func (s *Service) ConvertToContract(ctx context.Context, id int64, req ConvertRequest, actorID int64) (*ConvertResult, error) {
	if err := shared.Validate(req); err != nil {
		return nil, err
	}
	var contractID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !CanTransition(p.Status, StatusConverted) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, StatusConverted)
		}

		kioskIDs := req.KioskIDs
		if n := countDistinct(kioskIDs); n > 0 && n != p.Quantity {
			return shared.NewValidationError("kiosk_ids",
				fmt.Sprintf("%d kiosk(s) given, proforma %s is for %d", n, p.ProformaNumber, p.Quantity))
		}
		if len(kioskIDs) == 0 {
			kioskIDs, err = tx.Kiosks().Available(ctx, p.KioskType, p.Quantity)
			if err != nil {
				return err
			}
			if len(kioskIDs) < p.Quantity {
				return shared.NewValidationError("kiosk_ids",
					fmt.Sprintf("only %d %s kiosk(s) available, %d required", len(kioskIDs), p.KioskType, p.Quantity))
			}
		}
		payment := MonthlyPayment(p.TotalAmount, req.DurationMonths)
		if req.PaymentAmount != nil {
			payment = *req.PaymentAmount
		}
		billing := strings.TrimSpace(req.BillingAddress)
		if billing == "" {
			billing = p.ClientAddress
		}

		ctr := tx.Contracts()
		contractID, err = s.contracts.CreateWithin(ctx, ctr, contracts.CreateRequest{
			ClientName:       p.ClientName,
			ClientIDType:     req.ClientIDType,
			ClientIDNumber:   req.ClientIDNumber,
			ClientAddress:    p.ClientAddress,
			BillingAddress:   billing,
			ClientPhone:      p.ClientPhone,
			ClientEmail:      p.ClientEmail,
			DurationMonths:   req.DurationMonths,
			PaymentFrequency: req.PaymentFrequency,
			PaymentAmount:    payment,
			KioskIDs:         kioskIDs,
			ProformaID:       &p.ID,
		}, actorID)
		if err != nil {
			return err
		}
		created, err := ctr.GetForUpdate(ctx, contractID)
		if err != nil {
			return err
		}
		if err := tx.UpdateStatus(ctx, id, p.Status, StatusConverted, map[string]interface{}{"contract_id": contractID}); err != nil {
			return err
		}
		if _, err := tx.Audit().Append(ctx, audit.Entry{
			OwnerType:   audit.OwnerProforma,
			OwnerID:     id,
			Action:      audit.ActionConverted,
			Description: fmt.Sprintf("Converted to contract %s", created.ContractNumber),
			ActorID:     actorID,
		}); err != nil {
			return err
		}
		_, err = ctr.Audit().Append(ctx, audit.Entry{
			OwnerType:   audit.OwnerContract,
			OwnerID:     contractID,
			Action:      audit.ActionConverted,
			Description: fmt.Sprintf("Created from proforma %s", p.ProformaNumber),
			ActorID:     actorID,
		})
		return err
	})
	if err != nil {
		return nil, shared.Persistence("convert proforma", err)
	}
	s.observe(StatusAccepted, StatusConverted)

	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	res := &ConvertResult{Proforma: p}
	rendered, err := s.contracts.Rerender(ctx, contractID)
	if err != nil {
		s.logger.Warn("load converted contract", slog.Int64("contract_id", contractID), slog.Any("error", err))
		res.Warnings = append(res.Warnings, fmt.Sprintf("contract %d was created but could not be loaded", contractID))
		return res, nil
	}
	res.Contract = rendered.Contract
	res.Warnings = append(res.Warnings, rendered.Warnings...)
	if req.PaymentAmount == nil {
		if drift := roundTo2(p.TotalAmount - res.Contract.TotalAmount); drift != 0 {
			res.Warnings = append(res.Warnings, fmt.Sprintf(
				"contract total %.2f differs from proforma total %.2f by %.2f because the monthly payment is rounded to cents",
				res.Contract.TotalAmount, p.TotalAmount, drift))
		}
	}
	return res, nil
}

func countDistinct(ids []int64) int {
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	return len(seen)
}

// ExpireStale moves every open proforma past valid_until to EXPIRED and
// returns how many were expired.
func (s *Service) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	ids, err := s.repo.DueForExpiry(ctx, now)
	if err != nil {
		return 0, shared.Persistence("list stale proformas", err)
	}
	var (
		expired int
		errs    []error
	)
	for _, id := range ids {
		_, err := s.transition(ctx, id, StatusExpired, shared.SystemActor, nil, expiryDescription)
		switch {
		case err == nil:
			expired++
		case errors.Is(err, shared.ErrConflict), errors.Is(err, shared.ErrInvalidTransition):
			s.logger.Info("skip proforma expiry", slog.Int64("proforma_id", id), slog.Any("error", err))
		default:
			errs = append(errs, fmt.Errorf("proforma %d: %w", id, err))
		}
	}
	return expired, errors.Join(errs...)
}

// ExpireDue lets the expiry sweep job drive ExpireStale.
func (s *Service) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	return s.ExpireStale(ctx, now)
}

// Get returns a proforma by id.
func (s *Service) Get(ctx context.Context, id int64) (*Proforma, error) {
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, shared.Persistence("get proforma", err)
	}
	return p, nil
}

// List returns proformas matching req and the total count.
func (s *Service) List(ctx context.Context, req ListRequest) ([]Proforma, int, error) {
	items, total, err := s.repo.List(ctx, req)
	if err != nil {
		return nil, 0, shared.Persistence("list proformas", err)
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
		return nil, shared.Persistence("proforma history", err)
	}
	return actions, nil
}

func (s *Service) observe(from, to Status) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveTransition(metricsEntity, string(from), string(to))
}
