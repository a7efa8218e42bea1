package kiosks

import (
	"context"

	"github.com/kioskops/kioskops/internal/platform/db"
)

// Store runs kiosk statements on a pool or an open transaction.
type Store struct {
	q db.Querier
}

// NewStore binds a Store to q.
func NewStore(q db.Querier) *Store {
	return &Store{q: q}
}

// GetStatuses locks and returns the status of each existing kiosk in ids.
func (s *Store) GetStatuses(ctx context.Context, ids []int64) (map[int64]Status, error) {
	rows, err := s.q.Query(ctx, `SELECT id, status FROM kiosks WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]Status, len(ids))
	for rows.Next() {
		var (
			id     int64
			status Status
		)
		if err := rows.Scan(&id, &status); err != nil {
			return nil, err
		}
		out[id] = status
	}
	return out, rows.Err()
}

// UpdateStatuses writes status to the kiosks that are not already in it.
func (s *Store) UpdateStatuses(ctx context.Context, ids []int64, status Status) (int64, error) {
	tag, err := s.q.Exec(ctx, `
		UPDATE kiosks
		SET status = $1, updated_at = NOW()
		WHERE id = ANY($2) AND status <> $1
	`, status, ids)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Available locks up to limit bookable kiosks of type t, AVAILABLE first.
// Rows locked by other transactions are skipped.
func (s *Store) Available(ctx context.Context, t Type, limit int) ([]int64, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id
		FROM kiosks
		WHERE type = $1 AND status IN ('AVAILABLE', 'IN_STOCK')
		ORDER BY (status = 'AVAILABLE') DESC, id
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, t, limit)
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

// ByIDs loads the kiosks in ids ordered by id.
func (s *Store) ByIDs(ctx context.Context, ids []int64) ([]Kiosk, error) {
	rows, err := s.q.Query(ctx, `SELECT `+kioskColumns+` FROM kiosks WHERE id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Kiosk
	for rows.Next() {
		k, err := scanKiosk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *k)
	}
	return out, rows.Err()
}
