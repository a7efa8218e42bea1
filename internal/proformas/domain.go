// Package proformas manages price quotes that can be converted into contracts.
package proformas

import (
	"time"

	"github.com/kioskops/kioskops/internal/audit"
	"github.com/kioskops/kioskops/internal/kiosks"
)

// Status represents the lifecycle state of a proforma.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusSent      Status = "SENT"
	StatusAccepted  Status = "ACCEPTED"
	StatusRejected  Status = "REJECTED"
	StatusConverted Status = "CONVERTED"
	StatusExpired   Status = "EXPIRED"
)

// Valid reports whether s is a known proforma status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusSent, StatusAccepted, StatusRejected, StatusConverted, StatusExpired:
		return true
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (s Status) IsTerminal() bool {
	return s == StatusRejected || s == StatusConverted || s == StatusExpired
}

// Expirable reports whether the expiry sweep may move s to EXPIRED.
func (s Status) Expirable() bool {
	return s == StatusDraft || s == StatusSent || s == StatusAccepted
}

type transitionKey struct {
	from Status
	to   Status
}

// transitions maps each legal change to the audit action it writes.
var transitions = map[transitionKey]string{
	{StatusDraft, StatusSent}:         audit.ActionSent,
	{StatusSent, StatusAccepted}:      audit.ActionAccepted,
	{StatusSent, StatusRejected}:      audit.ActionRejected,
	{StatusAccepted, StatusConverted}: audit.ActionConverted,
	{StatusDraft, StatusExpired}:      audit.ActionExpired,
	{StatusSent, StatusExpired}:       audit.ActionExpired,
	{StatusAccepted, StatusExpired}:   audit.ActionExpired,
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to Status) bool {
	_, ok := transitions[transitionKey{from, to}]
	return ok
}

// Surface is a branding area priced per kiosk.
type Surface struct {
	Code          string  `json:"code"`
	Label         string  `json:"label"`
	UnitPrice     float64 `json:"unit_price"`
	CountPerKiosk int     `json:"count_per_kiosk"`
}

// Proforma is a priced offer for renting kiosks.
type Proforma struct {
	ID              int64       `json:"id"`
	ProformaNumber  string      `json:"proforma_number"`
	Status          Status      `json:"status"`
	ClientName      string      `json:"client_name"`
	ClientEmail     string      `json:"client_email,omitempty"`
	ClientPhone     string      `json:"client_phone,omitempty"`
	ClientAddress   string      `json:"client_address,omitempty"`
	KioskType       kiosks.Type `json:"kiosk_type"`
	Quantity        int         `json:"quantity"`
	Surfaces        []Surface   `json:"surfaces"`
	BasePrice       float64     `json:"base_price"`
	BrandingPrice   float64     `json:"branding_price"`
	TotalAmount     float64     `json:"total_amount"`
	ValidUntil      time.Time   `json:"valid_until"`
	ContractID      *int64      `json:"contract_id,omitempty"`
	RejectionReason *string     `json:"rejection_reason,omitempty"`
	Notes           string      `json:"notes,omitempty"`
	CreatedBy       *int64      `json:"created_by,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// ListRequest filters proforma listings.
type ListRequest struct {
	Status *Status
	Search *string
	Limit  int
	Offset int
}
