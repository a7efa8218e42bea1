package contracts

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/kioskops/kioskops/internal/audit"
	"github.com/kioskops/kioskops/internal/kiosks"
	"github.com/kioskops/kioskops/internal/platform/db"
)

// proformaConstraint is the partial unique index on contracts.proforma_id.
const proformaConstraint = "contracts_proforma_id_key"

type txRepo struct {
	tx pgx.Tx
}

// NewTxRepository binds contract statements to an open transaction so other
// lifecycle managers can create contracts inside their own transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepo{tx: tx}
}

func (r *txRepo) Kiosks() KioskStore {
	return kiosks.NewStore(r.tx)
}

func (r *txRepo) Audit() audit.Appender {
	return audit.NewWriter(r.tx)
}

func (r *txRepo) GetForUpdate(ctx context.Context, id int64) (*Contract, error) {
	c, err := scanContract(r.tx.QueryRow(ctx, `SELECT `+contractColumns+` FROM contracts WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}
	if c.KioskIDs, err = loadKioskIDs(ctx, r.tx, id); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *txRepo) Insert(ctx context.Context, c Contract) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO contracts (
			contract_number, status, client_name, client_id_type, client_id_number,
			client_address, billing_address, client_phone, client_email, duration_months,
			payment_frequency, payment_amount, total_amount, proforma_id, created_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id
	`, c.ContractNumber, c.Status, c.ClientName, c.ClientIDType, c.ClientIDNumber,
		c.ClientAddress, c.BillingAddress, c.ClientPhone, c.ClientEmail, c.DurationMonths,
		c.PaymentFrequency, c.PaymentAmount, c.TotalAmount, c.ProformaID, c.CreatedBy,
	).Scan(&id)
	if err != nil {
		if db.IsUniqueViolationOn(err, proformaConstraint) {
			return 0, fmt.Errorf("proforma %d: %w", derefID(c.ProformaID), ErrProformaConverted)
		}
		if db.IsUniqueViolation(err) {
			return 0, fmt.Errorf("%s: %w", c.ContractNumber, ErrDuplicateNumber)
		}
		return 0, err
	}
	return id, nil
}

func (r *txRepo) LinkKiosks(ctx context.Context, contractID int64, kioskIDs []int64) error {
	_, err := r.tx.Exec(ctx, `
		INSERT INTO contract_kiosks (contract_id, kiosk_id)
		SELECT $1, unnest($2::bigint[])
		ON CONFLICT DO NOTHING
	`, contractID, kioskIDs)
	return err
}

// UpdateStatus moves the contract from -> to and applies updates in the same
// statement. Zero affected rows means another writer changed the status first.
func (r *txRepo) UpdateStatus(ctx context.Context, id int64, from, to Status, updates map[string]interface{}) error {
	keys := make([]string, 0, len(updates))
	for k := range updates {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	setParts := []string{"status = $1", "updated_at = NOW()"}
	args := []interface{}{to}
	idx := 2
	for _, k := range keys {
		setParts = append(setParts, fmt.Sprintf("%s = $%d", k, idx))
		args = append(args, updates[k])
		idx++
	}
	args = append(args, id, from)
	query := fmt.Sprintf("UPDATE contracts SET %s WHERE id = $%d AND status = $%d",
		strings.Join(setParts, ", "), idx, idx+1)

	tag, err := r.tx.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleStatus
	}
	return nil
}

func (r *txRepo) InsertPayment(ctx context.Context, p Payment) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO payments (contract_id, amount, method, reference, payment_date, status, recorded_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, p.ContractID, p.Amount, p.Method, p.Reference, p.PaymentDate, p.Status, p.RecordedBy).Scan(&id)
	return id, err
}

func (r *txRepo) SetDocumentURL(ctx context.Context, id int64, url string) error {
	tag, err := r.tx.Exec(ctx, `UPDATE contracts SET document_url = $1, updated_at = NOW() WHERE id = $2`, url, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func derefID(id *int64) int64 {
	if id == nil {
		return 0
	}
	return *id
}
