package kiosks

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/kioskops/kioskops/internal/shared"
)

// StatusStore reads and writes kiosk statuses. Implementations bound to a
// transaction must lock the rows they read.
type StatusStore interface {
	GetStatuses(ctx context.Context, ids []int64) (map[int64]Status, error)
	UpdateStatuses(ctx context.Context, ids []int64, status Status) (int64, error)
}

// SyncResult reports the outcome of SetStatuses.
type SyncResult struct {
	Updated int
	Errors  map[int64]error
}

// Err joins the per-kiosk errors, ordered by id, or returns nil.
func (r SyncResult) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(r.Errors))
	for id := range r.Errors {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	errs := make([]error, 0, len(ids))
	for _, id := range ids {
		errs = append(errs, r.Errors[id])
	}
	return errors.Join(errs...)
}

// SetStatuses moves every listed kiosk to status. Kiosks already in the
// target status are left untouched, so repeating a call updates nothing.
// Unknown ids are reported per id in the result; only store failures are
// returned as error.
func SetStatuses(ctx context.Context, store StatusStore, ids []int64, status Status) (SyncResult, error) {
	result := SyncResult{Errors: map[int64]error{}}
	if !status.Valid() {
		return result, shared.NewValidationError("status", fmt.Sprintf("unknown kiosk status %q", status))
	}
	unique := dedupe(ids)
	if len(unique) == 0 {
		return result, nil
	}

	current, err := store.GetStatuses(ctx, unique)
	if err != nil {
		return result, shared.Persistence("kiosks: read statuses", err)
	}

	pending := make([]int64, 0, len(unique))
	for _, id := range unique {
		st, ok := current[id]
		if !ok {
			result.Errors[id] = fmt.Errorf("kiosk %d: %w", id, shared.ErrNotFound)
			continue
		}
		if st != status {
			pending = append(pending, id)
		}
	}
	if len(pending) == 0 {
		return result, nil
	}

	n, err := store.UpdateStatuses(ctx, pending, status)
	if err != nil {
		return result, shared.Persistence("kiosks: update statuses", err)
	}
	result.Updated = int(n)
	return result, nil
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
