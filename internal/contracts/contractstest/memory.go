// Package contractstest provides an in-memory contract store for tests.
// Transactions work on a copy of the state that replaces it on commit, so a
// failing callback leaves the store untouched.
package contractstest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kioskops/kioskops/internal/audit"
	"github.com/kioskops/kioskops/internal/contracts"
	"github.com/kioskops/kioskops/internal/kiosks"
	"github.com/kioskops/kioskops/internal/shared"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// Store implements contracts.Repository.
type Store struct {
	mu    sync.Mutex
	state *State

	// FailAudit, when set, is returned by every audit append.
	FailAudit error
	// FailDocumentURL, when set, is returned when a document URL is stored.
	FailDocumentURL error
	// BeforeUpdateStatus, when set, runs on the transaction state right
	// before a status update is checked, standing in for a concurrent writer.
	BeforeUpdateStatus func(st *State, id int64)
}

// State is the complete in-memory data set.
type State struct {
	Contracts map[int64]contracts.Contract
	Payments  []contracts.Payment
	Actions   []audit.Action
	Kiosks    map[int64]kiosks.Kiosk

	nextContract int64
	nextPayment  int64
	nextAction   int64
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{state: &State{
		Contracts: map[int64]contracts.Contract{},
		Kiosks:    map[int64]kiosks.Kiosk{},
	}}
}

// AddKiosk seeds a kiosk.
func (s *Store) AddKiosk(k kiosks.Kiosk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Kiosks[k.ID] = k
}

// RemoveKiosk deletes a kiosk from the committed state.
func (s *Store) RemoveKiosk(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.state.Kiosks, id)
}

// KioskStatus returns the current status of a kiosk.
func (s *Store) KioskStatus(id int64) kiosks.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Kiosks[id].Status
}

// Snapshot returns a copy of the committed state.
func (s *Store) Snapshot() *State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Begin opens a transaction over a copy of the committed state.
func (s *Store) Begin() *Tx {
	return &Tx{store: s, state: s.Snapshot()}
}

// WithTx commits the copy only when fn succeeds.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, contracts.TxRepository) error) error {
	tx := s.Begin()
	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.Commit()
	return nil
}

func (s *Store) Get(ctx context.Context, id int64) (*contracts.Contract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.state.Contracts[id]
	if !ok {
		return nil, contracts.ErrNotFound
	}
	c.KioskIDs = append([]int64(nil), c.KioskIDs...)
	for _, kid := range c.KioskIDs {
		if k, ok := s.state.Kiosks[kid]; ok {
			c.Kiosks = append(c.Kiosks, k)
		}
	}
	return &c, nil
}

func (s *Store) List(ctx context.Context, req contracts.ListRequest) ([]contracts.Contract, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []contracts.Contract
	for _, c := range s.state.Contracts {
		if req.Status != nil && c.Status != *req.Status {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, len(out), nil
}

func (s *Store) Payments(ctx context.Context, contractID int64) ([]contracts.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []contracts.Payment
	for i := len(s.state.Payments) - 1; i >= 0; i-- {
		if s.state.Payments[i].ContractID == contractID {
			out = append(out, s.state.Payments[i])
		}
	}
	return out, nil
}

func (s *Store) History(ctx context.Context, contractID int64) ([]audit.Action, error) {
	return s.Actions(audit.OwnerContract, contractID), nil
}

// Actions returns the committed actions of an owner, newest first.
func (s *Store) Actions(owner audit.OwnerType, id int64) []audit.Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []audit.Action
	for i := len(s.state.Actions) - 1; i >= 0; i-- {
		a := s.state.Actions[i]
		if a.OwnerType == owner && a.OwnerID == id {
			out = append(out, a)
		}
	}
	return out
}

func (s *Store) DueForExpiry(ctx context.Context, now time.Time) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for id, c := range s.state.Contracts {
		if c.Status == contracts.StatusActive && c.EndDate != nil && c.EndDate.Before(now) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Tx implements contracts.TxRepository over a private copy of the state.
type Tx struct {
	store *Store
	state *State
}

// Commit publishes the transaction state.
func (t *Tx) Commit() {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.store.state = t.state
}

// State exposes the uncommitted state.
func (t *Tx) State() *State {
	return t.state
}

func (t *Tx) GetForUpdate(ctx context.Context, id int64) (*contracts.Contract, error) {
	c, ok := t.state.Contracts[id]
	if !ok {
		return nil, contracts.ErrNotFound
	}
	c.KioskIDs = append([]int64(nil), c.KioskIDs...)
	return &c, nil
}

func (t *Tx) Insert(ctx context.Context, c contracts.Contract) (int64, error) {
	for _, existing := range t.state.Contracts {
		if existing.ContractNumber == c.ContractNumber {
			return 0, fmt.Errorf("%s: %w", c.ContractNumber, contracts.ErrDuplicateNumber)
		}
		if c.ProformaID != nil && existing.ProformaID != nil && *existing.ProformaID == *c.ProformaID {
			return 0, fmt.Errorf("proforma %d: %w", *c.ProformaID, contracts.ErrProformaConverted)
		}
	}
	t.state.nextContract++
	c.ID = t.state.nextContract
	c.CreatedAt = epoch.Add(time.Duration(c.ID) * time.Minute)
	c.UpdatedAt = c.CreatedAt
	t.state.Contracts[c.ID] = c
	return c.ID, nil
}

func (t *Tx) LinkKiosks(ctx context.Context, contractID int64, kioskIDs []int64) error {
	c, ok := t.state.Contracts[contractID]
	if !ok {
		return contracts.ErrNotFound
	}
	c.KioskIDs = append(append([]int64(nil), c.KioskIDs...), kioskIDs...)
	t.state.Contracts[contractID] = c
	return nil
}

func (t *Tx) UpdateStatus(ctx context.Context, id int64, from, to contracts.Status, updates map[string]interface{}) error {
	if t.store.BeforeUpdateStatus != nil {
		t.store.BeforeUpdateStatus(t.state, id)
	}
	c, ok := t.state.Contracts[id]
	if !ok || c.Status != from {
		return contracts.ErrStaleStatus
	}
	c.Status = to
	for k, v := range updates {
		switch k {
		case "start_date":
			c.StartDate = timePtr(v)
		case "signature_date":
			c.SignatureDate = timePtr(v)
		case "end_date":
			c.EndDate = timePtr(v)
		case "termination_date":
			c.TerminationDate = timePtr(v)
		case "signed_by":
			c.SignedBy, _ = v.(*int64)
		default:
			return fmt.Errorf("contractstest: unsupported column %q", k)
		}
	}
	t.state.Contracts[id] = c
	return nil
}

func (t *Tx) InsertPayment(ctx context.Context, p contracts.Payment) (int64, error) {
	t.state.nextPayment++
	p.ID = t.state.nextPayment
	p.CreatedAt = epoch.Add(time.Duration(p.ID) * time.Minute)
	t.state.Payments = append(t.state.Payments, p)
	return p.ID, nil
}

func (t *Tx) SetDocumentURL(ctx context.Context, id int64, url string) error {
	if t.store.FailDocumentURL != nil {
		return t.store.FailDocumentURL
	}
	c, ok := t.state.Contracts[id]
	if !ok {
		return contracts.ErrNotFound
	}
	c.DocumentURL = &url
	t.state.Contracts[id] = c
	return nil
}

func (t *Tx) Kiosks() contracts.KioskStore {
	return KioskTable{state: t.state}
}

// KioskTable gives typed access to the transaction's kiosks.
func (t *Tx) KioskTable() KioskTable {
	return KioskTable{state: t.state}
}

func (t *Tx) Audit() audit.Appender {
	return auditLog{tx: t}
}

// KioskTable implements kiosks.StatusStore and allocation on a State.
type KioskTable struct {
	state *State
}

func (k KioskTable) GetStatuses(ctx context.Context, ids []int64) (map[int64]kiosks.Status, error) {
	out := map[int64]kiosks.Status{}
	for _, id := range ids {
		if kiosk, ok := k.state.Kiosks[id]; ok {
			out[id] = kiosk.Status
		}
	}
	return out, nil
}

func (k KioskTable) UpdateStatuses(ctx context.Context, ids []int64, status kiosks.Status) (int64, error) {
	var n int64
	for _, id := range ids {
		kiosk, ok := k.state.Kiosks[id]
		if !ok || kiosk.Status == status {
			continue
		}
		kiosk.Status = status
		k.state.Kiosks[id] = kiosk
		n++
	}
	return n, nil
}

// Available returns up to limit bookable kiosks of type t, AVAILABLE first.
func (k KioskTable) Available(ctx context.Context, t kiosks.Type, limit int) ([]int64, error) {
	var ids []int64
	for id, kiosk := range k.state.Kiosks {
		if kiosk.Type == t && kiosk.Status.Bookable() {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		ai := k.state.Kiosks[ids[i]].Status == kiosks.StatusAvailable
		aj := k.state.Kiosks[ids[j]].Status == kiosks.StatusAvailable
		if ai != aj {
			return ai
		}
		return ids[i] < ids[j]
	})
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

type auditLog struct {
	tx *Tx
}

func (a auditLog) Append(ctx context.Context, e audit.Entry) (audit.Action, error) {
	if a.tx.store.FailAudit != nil {
		return audit.Action{}, shared.Persistence("audit: append", a.tx.store.FailAudit)
	}
	if !e.OwnerType.Valid() || e.OwnerID <= 0 || e.Action == "" {
		return audit.Action{}, errors.New("contractstest: invalid audit entry")
	}
	st := a.tx.state
	st.nextAction++
	action := audit.Action{
		ID:          st.nextAction,
		OwnerType:   e.OwnerType,
		OwnerID:     e.OwnerID,
		Action:      e.Action,
		Description: e.Description,
		ActorID:     shared.NullableActor(e.ActorID),
		CreatedAt:   epoch.Add(time.Duration(st.nextAction) * time.Second),
	}
	st.Actions = append(st.Actions, action)
	return action, nil
}

func (s *State) clone() *State {
	out := &State{
		Contracts:    make(map[int64]contracts.Contract, len(s.Contracts)),
		Payments:     append([]contracts.Payment(nil), s.Payments...),
		Actions:      append([]audit.Action(nil), s.Actions...),
		Kiosks:       make(map[int64]kiosks.Kiosk, len(s.Kiosks)),
		nextContract: s.nextContract,
		nextPayment:  s.nextPayment,
		nextAction:   s.nextAction,
	}
	for id, c := range s.Contracts {
		c.KioskIDs = append([]int64(nil), c.KioskIDs...)
		out.Contracts[id] = c
	}
	for id, k := range s.Kiosks {
		out.Kiosks[id] = k
	}
	return out
}

func timePtr(v interface{}) *time.Time {
	switch t := v.(type) {
	case time.Time:
		return &t
	case *time.Time:
		return t
	}
	return nil
}
