package contracts

import (
	"context"
	"fmt"
	"strings"

	"github.com/kioskops/kioskops/internal/audit"
	"github.com/kioskops/kioskops/internal/shared"
)

// RecordPayment stores a COMPLETED payment against an ACTIVE contract and
// appends a PAYMENT_RECORDED audit entry in the same transaction. The
// contract status and total are left unchanged.
func (s *Service) RecordPayment(ctx context.Context, contractID int64, req RecordPaymentRequest, actorID int64) (*Payment, error) {
	if err := shared.Validate(req); err != nil {
		return nil, err
	}
	if !wholeCents(req.Amount) {
		return nil, shared.NewValidationError("amount", "must have at most 2 decimal places")
	}
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		return nil, shared.NewValidationError("method", "is required")
	}
	payment := Payment{
		ContractID:  contractID,
		Amount:      roundTo2(req.Amount),
		Method:      method,
		PaymentDate: s.now(),
		Status:      PaymentCompleted,
		RecordedBy:  shared.NullableActor(actorID),
	}
	if req.PaymentDate != nil {
		payment.PaymentDate = *req.PaymentDate
	}
	if ref := strings.TrimSpace(req.Reference); ref != "" {
		payment.Reference = &ref
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		c, err := tx.GetForUpdate(ctx, contractID)
		if err != nil {
			return err
		}
		if !c.Status.CanRecordPayment() {
			return fmt.Errorf("payments can only be recorded on %s contracts, %s is %s: %w",
				StatusActive, c.ContractNumber, c.Status, ErrInvalidTransition)
		}
		id, err := tx.InsertPayment(ctx, payment)
		if err != nil {
			return err
		}
		payment.ID = id
		_, err = tx.Audit().Append(ctx, audit.Entry{
			OwnerType:   audit.OwnerContract,
			OwnerID:     contractID,
			Action:      audit.ActionPaymentRecorded,
			Description: fmt.Sprintf("Payment of %.2f received via %s", payment.Amount, payment.Method),
			ActorID:     actorID,
		})
		return err
	})
	if err != nil {
		return nil, shared.Persistence("record payment", err)
	}
	return &payment, nil
}

// Payments lists the payments of a contract, newest first.
func (s *Service) Payments(ctx context.Context, contractID int64) ([]Payment, error) {
	if _, err := s.Get(ctx, contractID); err != nil {
		return nil, err
	}
	items, err := s.repo.Payments(ctx, contractID)
	if err != nil {
		return nil, shared.Persistence("list payments", err)
	}
	return items, nil
}

// Balance sums completed payments against the contract total.
func (s *Service) Balance(ctx context.Context, contractID int64) (*Balance, error) {
	c, err := s.Get(ctx, contractID)
	if err != nil {
		return nil, err
	}
	items, err := s.repo.Payments(ctx, contractID)
	if err != nil {
		return nil, shared.Persistence("list payments", err)
	}
	var paid float64
	var count int
	for _, p := range items {
		if p.Status != PaymentCompleted {
			continue
		}
		paid += p.Amount
		count++
	}
	paid = roundTo2(paid)
	return &Balance{
		ContractID:  contractID,
		Total:       c.TotalAmount,
		Paid:        paid,
		Outstanding: roundTo2(c.TotalAmount - paid),
		Payments:    count,
	}, nil
}
