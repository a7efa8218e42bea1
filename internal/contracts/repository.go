package contracts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kioskops/kioskops/internal/audit"
	"github.com/kioskops/kioskops/internal/kiosks"
	"github.com/kioskops/kioskops/internal/platform/db"
)

// Repository defines contract persistence outside a transaction.
type Repository interface {
	Get(ctx context.Context, id int64) (*Contract, error)
	List(ctx context.Context, req ListRequest) ([]Contract, int, error)
	Payments(ctx context.Context, contractID int64) ([]Payment, error)
	History(ctx context.Context, contractID int64) ([]audit.Action, error)
	DueForExpiry(ctx context.Context, now time.Time) ([]int64, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the statements a lifecycle change runs atomically.
type TxRepository interface {
	GetForUpdate(ctx context.Context, id int64) (*Contract, error)
	Insert(ctx context.Context, c Contract) (int64, error)
	LinkKiosks(ctx context.Context, contractID int64, kioskIDs []int64) error
	UpdateStatus(ctx context.Context, id int64, from, to Status, updates map[string]interface{}) error
	InsertPayment(ctx context.Context, p Payment) (int64, error)
	SetDocumentURL(ctx context.Context, id int64, url string) error
	Kiosks() KioskStore
	Audit() audit.Appender
}

// KioskStore is the kiosk access a contract transaction needs.
type KioskStore interface {
	kiosks.StatusStore
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a pgx backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

// WithTx wraps callback in a repeatable-read transaction.
func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

const contractColumns = `id, contract_number, status, client_name, client_id_type, client_id_number,
	client_address, billing_address, client_phone, client_email, duration_months,
	payment_frequency, payment_amount, total_amount, start_date, signature_date, end_date,
	termination_date, document_url, proforma_id, created_by, signed_by, created_at, updated_at`

func scanContract(row pgx.Row) (*Contract, error) {
	var c Contract
	err := row.Scan(
		&c.ID, &c.ContractNumber, &c.Status, &c.ClientName, &c.ClientIDType, &c.ClientIDNumber,
		&c.ClientAddress, &c.BillingAddress, &c.ClientPhone, &c.ClientEmail, &c.DurationMonths,
		&c.PaymentFrequency, &c.PaymentAmount, &c.TotalAmount, &c.StartDate, &c.SignatureDate, &c.EndDate,
		&c.TerminationDate, &c.DocumentURL, &c.ProformaID, &c.CreatedBy, &c.SignedBy, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func loadKioskIDs(ctx context.Context, q db.Querier, contractID int64) ([]int64, error) {
	rows, err := q.Query(ctx, `SELECT kiosk_id FROM contract_kiosks WHERE contract_id = $1 ORDER BY kiosk_id`, contractID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (*Contract, error) {
	c, err := scanContract(r.pool.QueryRow(ctx, `SELECT `+contractColumns+` FROM contracts WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if c.KioskIDs, err = loadKioskIDs(ctx, r.pool, id); err != nil {
		return nil, err
	}
	if len(c.KioskIDs) > 0 {
		if c.Kiosks, err = kiosks.NewStore(r.pool).ByIDs(ctx, c.KioskIDs); err != nil {
			return nil, err
		}
	}
	return c, nil
}

var sortColumns = map[string]string{
	"created_at":      "created_at",
	"contract_number": "contract_number",
	"client_name":     "client_name",
	"end_date":        "end_date",
	"total_amount":    "total_amount",
}

func (r *repository) List(ctx context.Context, req ListRequest) ([]Contract, int, error) {
	var where []string
	var args []any
	argPos := 1

	if req.Status != nil {
		where = append(where, fmt.Sprintf("status = $%d", argPos))
		args = append(args, *req.Status)
		argPos++
	}
	if req.Search != nil && *req.Search != "" {
		where = append(where, fmt.Sprintf("(contract_number ILIKE $%d OR client_name ILIKE $%d OR client_email ILIKE $%d)", argPos, argPos, argPos))
		args = append(args, "%"+*req.Search+"%")
		argPos++
	}
	if req.CreatedFrom != nil {
		where = append(where, fmt.Sprintf("created_at >= $%d", argPos))
		args = append(args, *req.CreatedFrom)
		argPos++
	}
	if req.CreatedTo != nil {
		where = append(where, fmt.Sprintf("created_at < $%d", argPos))
		args = append(args, *req.CreatedTo)
		argPos++
	}
	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM contracts "+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	sortBy, ok := sortColumns[req.SortBy]
	if !ok {
		sortBy = "created_at"
	}
	sortDir := "DESC"
	if strings.EqualFold(req.SortDir, "asc") {
		sortDir = "ASC"
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT %s FROM contracts %s ORDER BY %s %s, id %s LIMIT $%d OFFSET $%d`,
		contractColumns, whereClause, sortBy, sortDir, sortDir, argPos, argPos+1)
	args = append(args, limit, req.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *c)
	}
	return out, total, rows.Err()
}

func (r *repository) Payments(ctx context.Context, contractID int64) ([]Payment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, contract_id, amount, method, reference, payment_date, status, recorded_by, created_at
		FROM payments
		WHERE contract_id = $1
		ORDER BY payment_date DESC, id DESC
	`, contractID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.ContractID, &p.Amount, &p.Method, &p.Reference, &p.PaymentDate, &p.Status, &p.RecordedBy, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *repository) History(ctx context.Context, contractID int64) ([]audit.Action, error) {
	return audit.NewWriter(r.pool).List(ctx, audit.OwnerContract, contractID)
}

func (r *repository) DueForExpiry(ctx context.Context, now time.Time) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM contracts
		WHERE status = $1 AND end_date IS NOT NULL AND end_date < $2
		ORDER BY end_date, id
	`, StatusActive, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
