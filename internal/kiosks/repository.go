package kiosks

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kioskops/kioskops/internal/platform/db"
	"github.com/kioskops/kioskops/internal/shared"
)

// Repository defines kiosk persistence.
type Repository interface {
	Get(ctx context.Context, id int64) (*Kiosk, error)
	List(ctx context.Context, req ListRequest) ([]Kiosk, int, error)
	Insert(ctx context.Context, k Kiosk) (int64, error)
	WithTx(ctx context.Context, fn func(context.Context, StatusStore) error) error
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a pgx backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const kioskColumns = `id, code, name, type, address, latitude, longitude, status,
	requested_by_email, created_at, updated_at`

func scanKiosk(row pgx.Row) (*Kiosk, error) {
	var k Kiosk
	err := row.Scan(
		&k.ID, &k.Code, &k.Name, &k.Type, &k.Address, &k.Latitude, &k.Longitude,
		&k.Status, &k.RequestedByEmail, &k.CreatedAt, &k.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &k, nil
}

// WithTx runs fn with a StatusStore bound to a repeatable-read transaction.
func (r *repository) WithTx(ctx context.Context, fn func(context.Context, StatusStore) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewStore(tx))
	})
}

func (r *repository) Get(ctx context.Context, id int64) (*Kiosk, error) {
	k, err := scanKiosk(r.pool.QueryRow(ctx, `SELECT `+kioskColumns+` FROM kiosks WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("kiosk %d: %w", id, shared.ErrNotFound)
		}
		return nil, err
	}
	return k, nil
}

func (r *repository) List(ctx context.Context, req ListRequest) ([]Kiosk, int, error) {
	var where []string
	var args []any
	argPos := 1

	if req.Status != nil {
		where = append(where, fmt.Sprintf("status = $%d", argPos))
		args = append(args, *req.Status)
		argPos++
	}
	if req.Type != nil {
		where = append(where, fmt.Sprintf("type = $%d", argPos))
		args = append(args, *req.Type)
		argPos++
	}
	if req.Search != nil && *req.Search != "" {
		where = append(where, fmt.Sprintf("(code ILIKE $%d OR name ILIKE $%d OR address ILIKE $%d)", argPos, argPos, argPos))
		args = append(args, "%"+*req.Search+"%")
		argPos++
	}
	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM kiosks "+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT %s FROM kiosks %s ORDER BY code LIMIT $%d OFFSET $%d`, kioskColumns, whereClause, argPos, argPos+1)
	args = append(args, limit, req.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Kiosk
	for rows.Next() {
		k, err := scanKiosk(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *k)
	}
	return out, total, rows.Err()
}

func (r *repository) Insert(ctx context.Context, k Kiosk) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO kiosks (code, name, type, address, latitude, longitude, status, requested_by_email)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, k.Code, k.Name, k.Type, k.Address, k.Latitude, k.Longitude, k.Status, k.RequestedByEmail).Scan(&id)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return 0, fmt.Errorf("kiosk code %s: %w", k.Code, shared.ErrConflict)
		}
		return 0, err
	}
	return id, nil
}
