package maintenance_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kioskops/kioskops/internal/kiosks"
	"github.com/kioskops/kioskops/internal/maintenance"
	"github.com/kioskops/kioskops/internal/shared"
)

var fixedNow = time.Date(2026, 10, 15, 10, 0, 0, 0, time.UTC)

type memoryRepo struct {
	mu      sync.Mutex
	tickets map[int64]maintenance.Ticket
	kiosks  map[int64]kiosks.Status
	next    int64
	failOn  maintenance.Status
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{tickets: map[int64]maintenance.Ticket{}, kiosks: map[int64]kiosks.Status{}}
}

func (r *memoryRepo) kioskStatus(id int64) kiosks.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.kiosks[id]
}

func (r *memoryRepo) setKiosk(id int64, st kiosks.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kiosks[id] = st
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, maintenance.TxRepository) error) error {
	r.mu.Lock()
	tx := &memoryTx{repo: r, tickets: map[int64]maintenance.Ticket{}, kiosks: map[int64]kiosks.Status{}, next: r.next}
	for id, t := range r.tickets {
		tx.tickets[id] = t
	}
	for id, st := range r.kiosks {
		tx.kiosks[id] = st
	}
	r.mu.Unlock()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tickets, r.kiosks, r.next = tx.tickets, tx.kiosks, tx.next
	return nil
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (*maintenance.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tickets[id]
	if !ok {
		return nil, maintenance.ErrNotFound
	}
	return &t, nil
}

func (r *memoryRepo) List(ctx context.Context, req maintenance.ListRequest) ([]maintenance.Ticket, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []maintenance.Ticket
	for _, t := range r.tickets {
		if req.KioskID != nil && t.KioskID != *req.KioskID {
			continue
		}
		if req.Status != nil && t.Status != *req.Status {
			continue
		}
		out = append(out, t)
	}
	return out, len(out), nil
}

type memoryTx struct {
	repo    *memoryRepo
	tickets map[int64]maintenance.Ticket
	kiosks  map[int64]kiosks.Status
	next    int64
}

func (t *memoryTx) GetForUpdate(ctx context.Context, id int64) (*maintenance.Ticket, error) {
	tk, ok := t.tickets[id]
	if !ok {
		return nil, maintenance.ErrNotFound
	}
	return &tk, nil
}

func (t *memoryTx) OpenTicketFor(ctx context.Context, kioskID int64) (*maintenance.Ticket, error) {
	for _, tk := range t.tickets {
		if tk.KioskID == kioskID && !tk.Status.Closed() {
			return &tk, nil
		}
	}
	return nil, nil
}

func (t *memoryTx) Insert(ctx context.Context, tk maintenance.Ticket) (int64, error) {
	t.next++
	tk.ID = t.next
	tk.CreatedAt = fixedNow
	tk.UpdatedAt = fixedNow
	t.tickets[tk.ID] = tk
	return tk.ID, nil
}

func (t *memoryTx) UpdateStatus(ctx context.Context, id int64, from, to maintenance.Status, updates map[string]interface{}) error {
	if t.repo.failOn != "" && t.repo.failOn == to {
		return errors.New("disk full")
	}
	tk, ok := t.tickets[id]
	if !ok || tk.Status != from {
		return maintenance.ErrStaleStatus
	}
	tk.Status = to
	if v, ok := updates["resolved_at"].(time.Time); ok {
		tk.ResolvedAt = &v
	}
	if v, ok := updates["resolution"].(string); ok {
		tk.Resolution = &v
	}
	t.tickets[id] = tk
	return nil
}

func (t *memoryTx) Kiosks() kiosks.StatusStore { return kioskTable{t} }

type kioskTable struct{ tx *memoryTx }

func (k kioskTable) GetStatuses(ctx context.Context, ids []int64) (map[int64]kiosks.Status, error) {
	out := map[int64]kiosks.Status{}
	for _, id := range ids {
		if st, ok := k.tx.kiosks[id]; ok {
			out[id] = st
		}
	}
	return out, nil
}

func (k kioskTable) UpdateStatuses(ctx context.Context, ids []int64, status kiosks.Status) (int64, error) {
	var n int64
	for _, id := range ids {
		if st, ok := k.tx.kiosks[id]; ok && st != status {
			k.tx.kiosks[id] = status
			n++
		}
	}
	return n, nil
}

func newService(t *testing.T) (*maintenance.Service, *memoryRepo) {
	t.Helper()
	repo := newMemoryRepo()
	repo.setKiosk(1, kiosks.StatusOccupied)
	repo.setKiosk(2, kiosks.StatusUnactive)
	repo.setKiosk(3, kiosks.StatusAvailable)
	repo.setKiosk(4, kiosks.StatusActive)
	svc := maintenance.NewService(repo, nil)
	svc.SetClock(func() time.Time { return fixedNow })
	return svc, repo
}

func TestOpenMovesKioskIntoMaintenance(t *testing.T) {
	tests := []struct {
		kiosk int64
		want  kiosks.Status
	}{
		{1, kiosks.StatusActiveUnderMaintenance},
		{4, kiosks.StatusActiveUnderMaintenance},
		{2, kiosks.StatusUnactiveUnderMaintenance},
		{3, kiosks.StatusUnderMaintenance},
	}
	svc, repo := newService(t)
	for _, tt := range tests {
		before := repo.kioskStatus(tt.kiosk)
		ticket, err := svc.Open(context.Background(), maintenance.OpenRequest{KioskID: tt.kiosk, Title: "Screen broken"}, 5)
		require.NoError(t, err)
		assert.Equal(t, maintenance.StatusOpen, ticket.Status)
		assert.Equal(t, maintenance.PriorityMedium, ticket.Priority)
		assert.Equal(t, before, ticket.KioskStatusBefore)
		assert.Equal(t, tt.want, repo.kioskStatus(tt.kiosk), "kiosk %d", tt.kiosk)
	}
}

func TestOpenRejectsSecondTicket(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Open(context.Background(), maintenance.OpenRequest{KioskID: 1, Title: "Door jammed"}, 5)
	require.NoError(t, err)

	_, err = svc.Open(context.Background(), maintenance.OpenRequest{KioskID: 1, Title: "Light out", Priority: maintenance.PriorityHigh}, 5)
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestOpenValidates(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.Open(context.Background(), maintenance.OpenRequest{KioskID: 99, Title: "Missing"}, 5)
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Open(context.Background(), maintenance.OpenRequest{KioskID: 1, Title: "x", Priority: "URGENT"}, 5)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestResolveRestoresKiosk(t *testing.T) {
	svc, repo := newService(t)
	ctx := context.Background()
	ticket, err := svc.Open(ctx, maintenance.OpenRequest{KioskID: 1, Title: "Screen broken"}, 5)
	require.NoError(t, err)

	started, err := svc.Start(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, maintenance.StatusInProgress, started.Status)
	assert.Equal(t, kiosks.StatusActiveUnderMaintenance, repo.kioskStatus(1))

	resolved, err := svc.Resolve(ctx, ticket.ID, maintenance.CloseRequest{Resolution: "Replaced panel"})
	require.NoError(t, err)
	assert.Equal(t, maintenance.StatusResolved, resolved.Status)
	require.NotNil(t, resolved.ResolvedAt)
	assert.Equal(t, fixedNow, *resolved.ResolvedAt)
	require.NotNil(t, resolved.Resolution)
	assert.Equal(t, "Replaced panel", *resolved.Resolution)
	assert.Equal(t, kiosks.StatusOccupied, repo.kioskStatus(1))

	_, err = svc.Start(ctx, ticket.ID)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	_, err = svc.Open(ctx, maintenance.OpenRequest{KioskID: 1, Title: "Again"}, 5)
	require.NoError(t, err)
}

func TestCancelRestoresKiosk(t *testing.T) {
	svc, repo := newService(t)
	ctx := context.Background()
	ticket, err := svc.Open(ctx, maintenance.OpenRequest{KioskID: 2, Title: "Noise"}, 5)
	require.NoError(t, err)

	cancelled, err := svc.Cancel(ctx, ticket.ID, maintenance.CloseRequest{})
	require.NoError(t, err)
	assert.Equal(t, maintenance.StatusCancelled, cancelled.Status)
	assert.Nil(t, cancelled.ResolvedAt)
	assert.Equal(t, kiosks.StatusUnactive, repo.kioskStatus(2))
}

func TestCloseLeavesKioskMovedElsewhere(t *testing.T) {
	svc, repo := newService(t)
	ctx := context.Background()
	ticket, err := svc.Open(ctx, maintenance.OpenRequest{KioskID: 1, Title: "Screen broken"}, 5)
	require.NoError(t, err)
	repo.setKiosk(1, kiosks.StatusAvailable)

	_, err = svc.Resolve(ctx, ticket.ID, maintenance.CloseRequest{})
	require.NoError(t, err)
	assert.Equal(t, kiosks.StatusAvailable, repo.kioskStatus(1))
}

func TestFailedCloseKeepsMaintenanceStatus(t *testing.T) {
	svc, repo := newService(t)
	ctx := context.Background()
	ticket, err := svc.Open(ctx, maintenance.OpenRequest{KioskID: 3, Title: "Lock"}, 5)
	require.NoError(t, err)
	repo.failOn = maintenance.StatusResolved

	_, err = svc.Resolve(ctx, ticket.ID, maintenance.CloseRequest{})
	require.ErrorIs(t, err, shared.ErrPersistence)

	got, err := svc.Get(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, maintenance.StatusOpen, got.Status)
	assert.Equal(t, kiosks.StatusUnderMaintenance, repo.kioskStatus(3))
}
