package maintenance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kioskops/kioskops/internal/kiosks"
	"github.com/kioskops/kioskops/internal/platform/db"
)

// Repository defines ticket persistence.
type Repository interface {
	Get(ctx context.Context, id int64) (*Ticket, error)
	List(ctx context.Context, req ListRequest) ([]Ticket, int, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository is the transactional view used by ticket workflows.
type TxRepository interface {
	GetForUpdate(ctx context.Context, id int64) (*Ticket, error)
	OpenTicketFor(ctx context.Context, kioskID int64) (*Ticket, error)
	Insert(ctx context.Context, t Ticket) (int64, error)
	UpdateStatus(ctx context.Context, id int64, from, to Status, updates map[string]interface{}) error
	Kiosks() kiosks.StatusStore
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a pgx backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const ticketColumns = `id, kiosk_id, title, description, priority, status, kiosk_status_before,
	resolution, opened_by, resolved_at, created_at, updated_at`

func scanTicket(row pgx.Row) (*Ticket, error) {
	var t Ticket
	err := row.Scan(
		&t.ID, &t.KioskID, &t.Title, &t.Description, &t.Priority, &t.Status, &t.KioskStatusBefore,
		&t.Resolution, &t.OpenedBy, &t.ResolvedAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

func (r *repository) Get(ctx context.Context, id int64) (*Ticket, error) {
	return scanTicket(r.pool.QueryRow(ctx, `SELECT `+ticketColumns+` FROM maintenance_tickets WHERE id = $1`, id))
}

func (r *repository) List(ctx context.Context, req ListRequest) ([]Ticket, int, error) {
	var where []string
	var args []any
	argPos := 1

	if req.Status != nil {
		where = append(where, fmt.Sprintf("status = $%d", argPos))
		args = append(args, *req.Status)
		argPos++
	}
	if req.KioskID != nil {
		where = append(where, fmt.Sprintf("kiosk_id = $%d", argPos))
		args = append(args, *req.KioskID)
		argPos++
	}
	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM maintenance_tickets "+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT %s FROM maintenance_tickets %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		ticketColumns, whereClause, argPos, argPos+1)
	args = append(args, limit, req.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *t)
	}
	return out, total, rows.Err()
}

type txRepo struct {
	tx pgx.Tx
}

func (r *txRepo) GetForUpdate(ctx context.Context, id int64) (*Ticket, error) {
	return scanTicket(r.tx.QueryRow(ctx, `SELECT `+ticketColumns+` FROM maintenance_tickets WHERE id = $1 FOR UPDATE`, id))
}

func (r *txRepo) OpenTicketFor(ctx context.Context, kioskID int64) (*Ticket, error) {
	t, err := scanTicket(r.tx.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM maintenance_tickets
		WHERE kiosk_id = $1 AND status IN ('OPEN', 'IN_PROGRESS')
		LIMIT 1
	`, kioskID))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return t, err
}

func (r *txRepo) Insert(ctx context.Context, t Ticket) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO maintenance_tickets (kiosk_id, title, description, priority, status, kiosk_status_before, opened_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, t.KioskID, t.Title, t.Description, t.Priority, t.Status, t.KioskStatusBefore, t.OpenedBy).Scan(&id)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return 0, ErrTicketOpen
		}
		return 0, err
	}
	return id, nil
}

func (r *txRepo) UpdateStatus(ctx context.Context, id int64, from, to Status, updates map[string]interface{}) error {
	keys := make([]string, 0, len(updates))
	for k := range updates {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sets := []string{"status = $1", "updated_at = NOW()"}
	args := []any{to}
	for _, k := range keys {
		args = append(args, updates[k])
		sets = append(sets, fmt.Sprintf("%s = $%d", k, len(args)))
	}
	args = append(args, id, from)
	query := fmt.Sprintf(`UPDATE maintenance_tickets SET %s WHERE id = $%d AND status = $%d`,
		strings.Join(sets, ", "), len(args)-1, len(args))

	tag, err := r.tx.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleStatus
	}
	return nil
}

func (r *txRepo) Kiosks() kiosks.StatusStore {
	return kiosks.NewStore(r.tx)
}
