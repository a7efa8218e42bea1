package proformas_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kioskops/kioskops/internal/audit"
	"github.com/kioskops/kioskops/internal/contracts"
	"github.com/kioskops/kioskops/internal/contracts/contractstest"
	"github.com/kioskops/kioskops/internal/kiosks"
	"github.com/kioskops/kioskops/internal/proformas"
	"github.com/kioskops/kioskops/internal/shared"
)

var fixedNow = time.Date(2026, 10, 15, 10, 0, 0, 0, time.UTC)

const actor int64 = 3

type sequence struct {
	mu sync.Mutex
	n  int
}

func (s *sequence) Next(ctx context.Context, prefix string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("%s-202610-%06d", prefix, s.n), nil
}

// memoryRepo keeps proformas next to a contractstest.Store so a conversion
// commits or rolls back both sides together.
type memoryRepo struct {
	mu          sync.Mutex
	contracts   *contractstest.Store
	proformas   map[int64]proformas.Proforma
	next        int64
	failConvert error
}

func newMemoryRepo(store *contractstest.Store) *memoryRepo {
	return &memoryRepo{contracts: store, proformas: map[int64]proformas.Proforma{}}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, proformas.TxRepository) error) error {
	r.mu.Lock()
	clone := make(map[int64]proformas.Proforma, len(r.proformas))
	for id, p := range r.proformas {
		clone[id] = p
	}
	next := r.next
	r.mu.Unlock()

	tx := &memoryTx{repo: r, ctr: r.contracts.Begin(), proformas: clone, next: next}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.ctr.Commit()
	r.mu.Lock()
	r.proformas = tx.proformas
	r.next = tx.next
	r.mu.Unlock()
	return nil
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (*proformas.Proforma, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.proformas[id]
	if !ok {
		return nil, proformas.ErrNotFound
	}
	return &p, nil
}

func (r *memoryRepo) List(ctx context.Context, req proformas.ListRequest) ([]proformas.Proforma, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []proformas.Proforma
	for _, p := range r.proformas {
		if req.Status != nil && p.Status != *req.Status {
			continue
		}
		out = append(out, p)
	}
	return out, len(out), nil
}

func (r *memoryRepo) History(ctx context.Context, id int64) ([]audit.Action, error) {
	return r.contracts.Actions(audit.OwnerProforma, id), nil
}

func (r *memoryRepo) DueForExpiry(ctx context.Context, now time.Time) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []int64
	for id, p := range r.proformas {
		if p.Status.Expirable() && p.ValidUntil.Before(now) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

type memoryTx struct {
	repo      *memoryRepo
	ctr       *contractstest.Tx
	proformas map[int64]proformas.Proforma
	next      int64
}

func (t *memoryTx) GetForUpdate(ctx context.Context, id int64) (*proformas.Proforma, error) {
	p, ok := t.proformas[id]
	if !ok {
		return nil, proformas.ErrNotFound
	}
	return &p, nil
}

func (t *memoryTx) Insert(ctx context.Context, p proformas.Proforma) (int64, error) {
	t.next++
	p.ID = t.next
	p.CreatedAt = fixedNow
	p.UpdatedAt = fixedNow
	t.proformas[p.ID] = p
	return p.ID, nil
}

func (t *memoryTx) UpdateStatus(ctx context.Context, id int64, from, to proformas.Status, updates map[string]interface{}) error {
	if to == proformas.StatusConverted && t.repo.failConvert != nil {
		return t.repo.failConvert
	}
	p, ok := t.proformas[id]
	if !ok || p.Status != from {
		return proformas.ErrStaleStatus
	}
	p.Status = to
	for k, v := range updates {
		switch k {
		case "contract_id":
			cid := v.(int64)
			p.ContractID = &cid
		case "rejection_reason":
			reason := v.(string)
			p.RejectionReason = &reason
		}
	}
	t.proformas[id] = p
	return nil
}

func (t *memoryTx) Kiosks() proformas.KioskAllocator { return t.ctr.KioskTable() }

func (t *memoryTx) Contracts() contracts.TxRepository { return t.ctr }

func (t *memoryTx) Audit() audit.Appender { return t.ctr.Audit() }

type recordingNotifier struct {
	sent []string
	err  error
}

func (n *recordingNotifier) NotifyClient(ctx context.Context, email, subject, body string) error {
	n.sent = append(n.sent, email+"|"+subject)
	return n.err
}

type fixture struct {
	store *contractstest.Store
	repo  *memoryRepo
	svc   *proformas.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := contractstest.NewStore()
	store.AddKiosk(kiosks.Kiosk{ID: 1, Code: "K1", Type: kiosks.TypeStandard, Status: kiosks.StatusInStock})
	store.AddKiosk(kiosks.Kiosk{ID: 2, Code: "K2", Type: kiosks.TypeStandard, Status: kiosks.StatusAvailable})
	store.AddKiosk(kiosks.Kiosk{ID: 3, Code: "K3", Type: kiosks.TypeStandard, Status: kiosks.StatusAvailable})
	store.AddKiosk(kiosks.Kiosk{ID: 4, Code: "K4", Type: kiosks.TypeDouble, Status: kiosks.StatusAvailable})

	ctrSvc := contracts.NewService(store, &sequence{}, nil, contracts.ServiceConfig{})
	ctrSvc.SetClock(func() time.Time { return fixedNow })
	repo := newMemoryRepo(store)
	svc := proformas.NewService(repo, &sequence{}, ctrSvc, nil)
	svc.SetClock(func() time.Time { return fixedNow })
	return &fixture{store: store, repo: repo, svc: svc}
}

func sampleRequest() proformas.CreateRequest {
	return proformas.CreateRequest{
		ClientName:    "Acme Retail",
		ClientEmail:   "buyer@acme.test",
		ClientAddress: "12 Market St",
		KioskType:     kiosks.TypeStandard,
		Quantity:      2,
		Surfaces: []proformas.SurfaceInput{
			{Code: "ROOF", Label: "Roof banner", UnitPrice: 10000, CountPerKiosk: 2},
		},
	}
}

func (f *fixture) accepted(t *testing.T) *proformas.Proforma {
	t.Helper()
	ctx := context.Background()
	p, err := f.svc.Create(ctx, sampleRequest(), actor)
	require.NoError(t, err)
	_, err = f.svc.Send(ctx, p.ID, actor)
	require.NoError(t, err)
	res, err := f.svc.Accept(ctx, p.ID, actor)
	require.NoError(t, err)
	return res.Proforma
}

func TestCreatePricesProforma(t *testing.T) {
	f := newFixture(t)

	p, err := f.svc.Create(context.Background(), sampleRequest(), actor)
	require.NoError(t, err)

	assert.Equal(t, proformas.StatusDraft, p.Status)
	assert.Equal(t, "PRF-202610-000001", p.ProformaNumber)
	assert.Equal(t, 300000.0, p.BasePrice)
	assert.Equal(t, 40000.0, p.BrandingPrice)
	assert.Equal(t, 340000.0, p.TotalAmount)
	assert.Equal(t, fixedNow.AddDate(0, 0, 30), p.ValidUntil)

	quote, err := f.svc.Quote(proformas.QuoteRequest{
		KioskType: kiosks.TypeStandard,
		Quantity:  2,
		Surfaces:  sampleRequest().Surfaces,
	})
	require.NoError(t, err)
	assert.Equal(t, p.TotalAmount, quote.TotalAmount)

	history, err := f.svc.History(context.Background(), p.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, audit.ActionCreated, history[0].Action)
}

func TestCreateValidates(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Create(context.Background(), proformas.CreateRequest{KioskType: "HUGE"}, actor)
	require.ErrorIs(t, err, shared.ErrValidation)
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "client_name")
	assert.Contains(t, verr.Fields, "kiosk_type")
	assert.Contains(t, verr.Fields, "quantity")
}

func TestSendNotifiesClient(t *testing.T) {
	f := newFixture(t)
	notifier := &recordingNotifier{}
	f.svc.SetNotifier(notifier)
	p, err := f.svc.Create(context.Background(), sampleRequest(), actor)
	require.NoError(t, err)

	res, err := f.svc.Send(context.Background(), p.ID, actor)
	require.NoError(t, err)
	assert.Equal(t, proformas.StatusSent, res.Proforma.Status)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, []string{"buyer@acme.test|Proforma PRF-202610-000001"}, notifier.sent)
}

func TestSendNotificationFailureIsWarning(t *testing.T) {
	f := newFixture(t)
	f.svc.SetNotifier(&recordingNotifier{err: errors.New("queue down")})
	p, err := f.svc.Create(context.Background(), sampleRequest(), actor)
	require.NoError(t, err)

	res, err := f.svc.Send(context.Background(), p.ID, actor)
	require.NoError(t, err)
	assert.Equal(t, proformas.StatusSent, res.Proforma.Status)
	assert.Len(t, res.Warnings, 1)
}

func TestAcceptRequiresSent(t *testing.T) {
	f := newFixture(t)
	p, err := f.svc.Create(context.Background(), sampleRequest(), actor)
	require.NoError(t, err)

	_, err = f.svc.Accept(context.Background(), p.ID, actor)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	got, err := f.svc.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, proformas.StatusDraft, got.Status)
}

func TestAcceptRefusesExpiredOffer(t *testing.T) {
	f := newFixture(t)
	p, err := f.svc.Create(context.Background(), sampleRequest(), actor)
	require.NoError(t, err)
	_, err = f.svc.Send(context.Background(), p.ID, actor)
	require.NoError(t, err)

	f.svc.SetClock(func() time.Time { return fixedNow.AddDate(0, 0, 31) })
	_, err = f.svc.Accept(context.Background(), p.ID, actor)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestRejectStoresReason(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, err := f.svc.Create(ctx, sampleRequest(), actor)
	require.NoError(t, err)
	_, err = f.svc.Send(ctx, p.ID, actor)
	require.NoError(t, err)

	_, err = f.svc.Reject(ctx, p.ID, proformas.RejectRequest{Reason: "  "}, actor)
	require.ErrorIs(t, err, shared.ErrValidation)

	res, err := f.svc.Reject(ctx, p.ID, proformas.RejectRequest{Reason: "Budget cut"}, actor)
	require.NoError(t, err)
	assert.Equal(t, proformas.StatusRejected, res.Proforma.Status)
	require.NotNil(t, res.Proforma.RejectionReason)
	assert.Equal(t, "Budget cut", *res.Proforma.RejectionReason)

	_, err = f.svc.ConvertToContract(ctx, p.ID, proformas.ConvertRequest{DurationMonths: 12}, actor)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestConvertCreatesContractAtomically(t *testing.T) {
	f := newFixture(t)
	p := f.accepted(t)

	res, err := f.svc.ConvertToContract(context.Background(), p.ID, proformas.ConvertRequest{DurationMonths: 12}, actor)
	require.NoError(t, err)

	assert.Equal(t, proformas.StatusConverted, res.Proforma.Status)
	require.NotNil(t, res.Proforma.ContractID)
	require.NotNil(t, res.Contract)
	assert.Equal(t, *res.Proforma.ContractID, res.Contract.ID)
	assert.Equal(t, contracts.StatusDraft, res.Contract.Status)
	assert.Equal(t, 28333.33, res.Contract.PaymentAmount)
	assert.Equal(t, 339999.96, res.Contract.TotalAmount)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "differs from proforma total 340000.00 by 0.04")
	assert.Equal(t, "Acme Retail", res.Contract.ClientName)
	assert.Equal(t, "12 Market St", res.Contract.BillingAddress)
	require.NotNil(t, res.Contract.ProformaID)
	assert.Equal(t, p.ID, *res.Contract.ProformaID)
	assert.Equal(t, []int64{2, 3}, res.Contract.KioskIDs)
	assert.Equal(t, kiosks.StatusReserved, f.store.KioskStatus(2))
	assert.Equal(t, kiosks.StatusReserved, f.store.KioskStatus(3))
	assert.Equal(t, kiosks.StatusInStock, f.store.KioskStatus(1))

	proformaHistory := f.store.Actions(audit.OwnerProforma, p.ID)
	assert.Equal(t, audit.ActionConverted, proformaHistory[0].Action)
	assert.Contains(t, proformaHistory[0].Description, res.Contract.ContractNumber)
	contractHistory := f.store.Actions(audit.OwnerContract, res.Contract.ID)
	require.Len(t, contractHistory, 2)
	assert.Equal(t, audit.ActionConverted, contractHistory[0].Action)
	assert.Equal(t, audit.ActionCreated, contractHistory[1].Action)

	_, err = f.svc.ConvertToContract(context.Background(), p.ID, proformas.ConvertRequest{DurationMonths: 12}, actor)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
	assert.Len(t, f.store.Snapshot().Contracts, 1)
}

func TestConvertWithExplicitKiosksAndPayment(t *testing.T) {
	f := newFixture(t)
	p := f.accepted(t)
	amount := 30000.0

	res, err := f.svc.ConvertToContract(context.Background(), p.ID, proformas.ConvertRequest{
		DurationMonths:   6,
		PaymentFrequency: "quarterly",
		PaymentAmount:    &amount,
		KioskIDs:         []int64{3, 1},
	}, actor)
	require.NoError(t, err)
	assert.Equal(t, 180000.0, res.Contract.TotalAmount)
	assert.Equal(t, "QUARTERLY", res.Contract.PaymentFrequency)
	assert.Equal(t, []int64{1, 3}, res.Contract.KioskIDs)
	assert.Empty(t, res.Warnings)
}

func TestConvertRejectsKioskCountMismatch(t *testing.T) {
	f := newFixture(t)
	p := f.accepted(t)

	for _, ids := range [][]int64{{1}, {1, 1}, {1, 2, 3}} {
		_, err := f.svc.ConvertToContract(context.Background(), p.ID, proformas.ConvertRequest{
			DurationMonths: 12,
			KioskIDs:       ids,
		}, actor)
		require.ErrorIs(t, err, shared.ErrValidation, "%v", ids)
		var verr *shared.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Contains(t, verr.Fields, "kiosk_ids")
	}

	got, err := f.svc.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, proformas.StatusAccepted, got.Status)
	assert.Empty(t, f.store.Snapshot().Contracts)
	assert.Equal(t, kiosks.StatusInStock, f.store.KioskStatus(1))
}

func TestConvertRequiresAccepted(t *testing.T) {
	f := newFixture(t)
	p, err := f.svc.Create(context.Background(), sampleRequest(), actor)
	require.NoError(t, err)

	_, err = f.svc.ConvertToContract(context.Background(), p.ID, proformas.ConvertRequest{DurationMonths: 12}, actor)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
	assert.Empty(t, f.store.Snapshot().Contracts)
}

func TestConvertFailsWithoutEnoughKiosks(t *testing.T) {
	f := newFixture(t)
	req := sampleRequest()
	req.KioskType = kiosks.TypeDouble
	ctx := context.Background()
	p, err := f.svc.Create(ctx, req, actor)
	require.NoError(t, err)
	_, err = f.svc.Send(ctx, p.ID, actor)
	require.NoError(t, err)
	_, err = f.svc.Accept(ctx, p.ID, actor)
	require.NoError(t, err)

	_, err = f.svc.ConvertToContract(ctx, p.ID, proformas.ConvertRequest{DurationMonths: 12}, actor)
	require.ErrorIs(t, err, shared.ErrValidation)

	got, err := f.svc.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, proformas.StatusAccepted, got.Status)
	assert.Empty(t, f.store.Snapshot().Contracts)
	assert.Equal(t, kiosks.StatusAvailable, f.store.KioskStatus(4))
}

func TestConvertFailureLeavesProformaAccepted(t *testing.T) {
	f := newFixture(t)
	p := f.accepted(t)
	f.repo.failConvert = errors.New("connection reset")

	_, err := f.svc.ConvertToContract(context.Background(), p.ID, proformas.ConvertRequest{DurationMonths: 12}, actor)
	require.ErrorIs(t, err, shared.ErrPersistence)

	got, err := f.svc.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, proformas.StatusAccepted, got.Status)
	assert.Nil(t, got.ContractID)
	assert.Empty(t, f.store.Snapshot().Contracts)
	assert.Equal(t, kiosks.StatusAvailable, f.store.KioskStatus(2))
}

func TestExpireStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	draft, err := f.svc.Create(ctx, sampleRequest(), actor)
	require.NoError(t, err)
	sent, err := f.svc.Create(ctx, sampleRequest(), actor)
	require.NoError(t, err)
	_, err = f.svc.Send(ctx, sent.ID, actor)
	require.NoError(t, err)
	converted := f.accepted(t)
	_, err = f.svc.ConvertToContract(ctx, converted.ID, proformas.ConvertRequest{DurationMonths: 12}, actor)
	require.NoError(t, err)
	longReq := sampleRequest()
	longReq.ValidDays = 90
	fresh, err := f.svc.Create(ctx, longReq, actor)
	require.NoError(t, err)

	n, err := f.svc.ExpireStale(ctx, fixedNow.AddDate(0, 0, 31))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for id, want := range map[int64]proformas.Status{
		draft.ID:     proformas.StatusExpired,
		sent.ID:      proformas.StatusExpired,
		converted.ID: proformas.StatusConverted,
		fresh.ID:     proformas.StatusDraft,
	} {
		got, err := f.svc.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got.Status, "proforma %d", id)
	}

	history := f.store.Actions(audit.OwnerProforma, draft.ID)
	assert.Equal(t, audit.ActionExpired, history[0].Action)
	assert.Nil(t, history[0].ActorID)
}
