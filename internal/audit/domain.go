// Package audit stores the append-only action history of contracts and proformas.
package audit

import (
	"context"
	"time"
)

// OwnerType identifies which aggregate an action belongs to.
type OwnerType string

const (
	OwnerContract OwnerType = "CONTRACT"
	OwnerProforma OwnerType = "PROFORMA"
)

// Valid reports whether the owner type is known.
func (o OwnerType) Valid() bool {
	return o == OwnerContract || o == OwnerProforma
}

// Action codes written by the lifecycle managers.
const (
	ActionCreated         = "CREATED"
	ActionSubmitted       = "SUBMITTED"
	ActionConfirmed       = "CONFIRMED"
	ActionActivated       = "ACTIVATED"
	ActionExpired         = "EXPIRED"
	ActionTerminated      = "TERMINATED"
	ActionCancelled       = "CANCELLED"
	ActionPaymentRecorded = "PAYMENT_RECORDED"
	ActionDocumentRender  = "DOCUMENT_RENDERED"
	ActionSent            = "SENT"
	ActionAccepted        = "ACCEPTED"
	ActionRejected        = "REJECTED"
	ActionConverted       = "CONVERTED"
)

// Entry is the input to Append.
type Entry struct {
	OwnerType   OwnerType
	OwnerID     int64
	Action      string
	Description string
	ActorID     int64
}

// Action is a persisted audit record. It is never updated or deleted.
type Action struct {
	ID          int64     `json:"id"`
	OwnerType   OwnerType `json:"owner_type"`
	OwnerID     int64     `json:"owner_id"`
	Action      string    `json:"action"`
	Description string    `json:"description"`
	ActorID     *int64    `json:"actor_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Appender writes audit actions. Implementations must participate in the
// caller's transaction.
type Appender interface {
	Append(ctx context.Context, entry Entry) (Action, error)
}

// Reader lists the actions of one owner, newest first.
type Reader interface {
	List(ctx context.Context, owner OwnerType, ownerID int64) ([]Action, error)
}
