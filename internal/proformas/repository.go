package proformas

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kioskops/kioskops/internal/audit"
	"github.com/kioskops/kioskops/internal/contracts"
	"github.com/kioskops/kioskops/internal/kiosks"
	"github.com/kioskops/kioskops/internal/platform/db"
)

// Repository defines proforma persistence outside a transaction.
type Repository interface {
	Get(ctx context.Context, id int64) (*Proforma, error)
	List(ctx context.Context, req ListRequest) ([]Proforma, int, error)
	History(ctx context.Context, id int64) ([]audit.Action, error)
	DueForExpiry(ctx context.Context, now time.Time) ([]int64, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the statements a proforma change runs atomically.
type TxRepository interface {
	GetForUpdate(ctx context.Context, id int64) (*Proforma, error)
	Insert(ctx context.Context, p Proforma) (int64, error)
	UpdateStatus(ctx context.Context, id int64, from, to Status, updates map[string]interface{}) error
	Kiosks() KioskAllocator
	Contracts() contracts.TxRepository
	Audit() audit.Appender
}

// KioskAllocator picks bookable kiosks for a conversion.
type KioskAllocator interface {
	Available(ctx context.Context, t kiosks.Type, limit int) ([]int64, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a pgx backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

// WithTx wraps callback in a repeatable-read transaction. Contract statements
// issued through Contracts() join the same transaction.
func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const proformaColumns = `id, proforma_number, status, client_name, client_email, client_phone,
	client_address, kiosk_type, quantity, surfaces, base_price, branding_price, total_amount,
	valid_until, contract_id, rejection_reason, notes, created_by, created_at, updated_at`

func scanProforma(row pgx.Row) (*Proforma, error) {
	var p Proforma
	err := row.Scan(
		&p.ID, &p.ProformaNumber, &p.Status, &p.ClientName, &p.ClientEmail, &p.ClientPhone,
		&p.ClientAddress, &p.KioskType, &p.Quantity, &p.Surfaces, &p.BasePrice, &p.BrandingPrice, &p.TotalAmount,
		&p.ValidUntil, &p.ContractID, &p.RejectionReason, &p.Notes, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if p.Surfaces == nil {
		p.Surfaces = []Surface{}
	}
	return &p, nil
}

func (r *repository) Get(ctx context.Context, id int64) (*Proforma, error) {
	return scanProforma(r.pool.QueryRow(ctx, `SELECT `+proformaColumns+` FROM proformas WHERE id = $1`, id))
}

func (r *repository) List(ctx context.Context, req ListRequest) ([]Proforma, int, error) {
	var where []string
	var args []any
	argPos := 1

	if req.Status != nil {
		where = append(where, fmt.Sprintf("status = $%d", argPos))
		args = append(args, *req.Status)
		argPos++
	}
	if req.Search != nil && *req.Search != "" {
		where = append(where, fmt.Sprintf("(proforma_number ILIKE $%d OR client_name ILIKE $%d)", argPos, argPos))
		args = append(args, "%"+*req.Search+"%")
		argPos++
	}
	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM proformas "+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT %s FROM proformas %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		proformaColumns, whereClause, argPos, argPos+1)
	args = append(args, limit, req.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Proforma
	for rows.Next() {
		p, err := scanProforma(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *p)
	}
	return out, total, rows.Err()
}

func (r *repository) History(ctx context.Context, id int64) ([]audit.Action, error) {
	return audit.NewWriter(r.pool).List(ctx, audit.OwnerProforma, id)
}

func (r *repository) DueForExpiry(ctx context.Context, now time.Time) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM proformas
		WHERE status IN ($1, $2, $3) AND valid_until < $4
		ORDER BY valid_until, id
	`, StatusDraft, StatusSent, StatusAccepted, now)
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

type txRepo struct {
	tx pgx.Tx
}

func (r *txRepo) Kiosks() KioskAllocator {
	return kiosks.NewStore(r.tx)
}

func (r *txRepo) Contracts() contracts.TxRepository {
	return contracts.NewTxRepository(r.tx)
}

func (r *txRepo) Audit() audit.Appender {
	return audit.NewWriter(r.tx)
}

func (r *txRepo) GetForUpdate(ctx context.Context, id int64) (*Proforma, error) {
	return scanProforma(r.tx.QueryRow(ctx, `SELECT `+proformaColumns+` FROM proformas WHERE id = $1 FOR UPDATE`, id))
}

func (r *txRepo) Insert(ctx context.Context, p Proforma) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO proformas (
			proforma_number, status, client_name, client_email, client_phone, client_address,
			kiosk_type, quantity, surfaces, base_price, branding_price, total_amount,
			valid_until, notes, created_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id
	`, p.ProformaNumber, p.Status, p.ClientName, p.ClientEmail, p.ClientPhone, p.ClientAddress,
		p.KioskType, p.Quantity, p.Surfaces, p.BasePrice, p.BrandingPrice, p.TotalAmount,
		p.ValidUntil, p.Notes, p.CreatedBy,
	).Scan(&id)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return 0, fmt.Errorf("%s: %w", p.ProformaNumber, ErrDuplicateNumber)
		}
		return 0, err
	}
	return id, nil
}

// UpdateStatus moves the proforma from -> to. Zero affected rows means the
// status changed underneath the caller.
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
	query := fmt.Sprintf("UPDATE proformas SET %s WHERE id = $%d AND status = $%d",
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
