// Package maintenance tracks repair tickets and the kiosk statuses they hold.
package maintenance

import (
	"fmt"
	"time"

	"github.com/kioskops/kioskops/internal/kiosks"
	"github.com/kioskops/kioskops/internal/shared"
)

// Status is the ticket lifecycle state.
type Status string

const (
	StatusOpen       Status = "OPEN"
	StatusInProgress Status = "IN_PROGRESS"
	StatusResolved   Status = "RESOLVED"
	StatusCancelled  Status = "CANCELLED"
)

// Valid reports whether s is a known ticket status.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusResolved, StatusCancelled:
		return true
	}
	return false
}

// Closed reports whether the ticket no longer holds its kiosk.
func (s Status) Closed() bool {
	return s == StatusResolved || s == StatusCancelled
}

// Priority ranks tickets for technicians.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
)

var transitions = map[Status][]Status{
	StatusOpen:       {StatusInProgress, StatusResolved, StatusCancelled},
	StatusInProgress: {StatusResolved, StatusCancelled},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Ticket is a maintenance job on one kiosk.
type Ticket struct {
	ID                int64         `json:"id"`
	KioskID           int64         `json:"kiosk_id"`
	Title             string        `json:"title"`
	Description       string        `json:"description,omitempty"`
	Priority          Priority      `json:"priority"`
	Status            Status        `json:"status"`
	KioskStatusBefore kiosks.Status `json:"kiosk_status_before"`
	Resolution        *string       `json:"resolution,omitempty"`
	OpenedBy          *int64        `json:"opened_by,omitempty"`
	ResolvedAt        *time.Time    `json:"resolved_at,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// ListRequest filters ticket listings.
type ListRequest struct {
	Status  *Status
	KioskID *int64
	Limit   int
	Offset  int
}

// Domain errors for maintenance tickets.
var (
	ErrNotFound          = fmt.Errorf("maintenance ticket %w", shared.ErrNotFound)
	ErrInvalidTransition = fmt.Errorf("maintenance ticket %w", shared.ErrInvalidTransition)
	ErrStaleStatus       = fmt.Errorf("maintenance ticket status changed concurrently: %w", shared.ErrConflict)
	ErrTicketOpen        = fmt.Errorf("kiosk already has an open maintenance ticket: %w", shared.ErrConflict)
)
