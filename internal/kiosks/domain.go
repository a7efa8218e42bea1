package kiosks

import (
	"fmt"
	"time"
)

// Status is the single kiosk lifecycle enum shared by every workflow.
type Status string

const (
	StatusRequest                  Status = "REQUEST"
	StatusInStock                  Status = "IN_STOCK"
	StatusAvailable                Status = "AVAILABLE"
	StatusUnactive                 Status = "UNACTIVE"
	StatusLocalizing               Status = "LOCALIZING"
	StatusUnderMaintenance         Status = "UNDER_MAINTENANCE"
	StatusOccupied                 Status = "OCCUPIED"
	StatusReserved                 Status = "RESERVED"
	StatusActive                   Status = "ACTIVE"
	StatusActiveUnderMaintenance   Status = "ACTIVE_UNDER_MAINTENANCE"
	StatusUnactiveUnderMaintenance Status = "UNACTIVE_UNDER_MAINTENANCE"
)

var allStatuses = []Status{
	StatusRequest, StatusInStock, StatusAvailable, StatusUnactive, StatusLocalizing,
	StatusUnderMaintenance, StatusOccupied, StatusReserved, StatusActive,
	StatusActiveUnderMaintenance, StatusUnactiveUnderMaintenance,
}

// Statuses returns every known kiosk status.
func Statuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, st := range allStatuses {
		if st == s {
			return true
		}
	}
	return false
}

// ParseStatus converts raw input into a Status.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown kiosk status %q", raw)
	}
	return s, nil
}

// Bookable reports whether a kiosk in this status can be linked to a new contract.
func (s Status) Bookable() bool {
	return s == StatusAvailable || s == StatusInStock
}

// UnderMaintenance reports whether s is one of the maintenance statuses.
func (s Status) UnderMaintenance() bool {
	return s == StatusUnderMaintenance || s == StatusActiveUnderMaintenance || s == StatusUnactiveUnderMaintenance
}

// MaintenanceStatusFor picks the maintenance status matching the current one.
func MaintenanceStatusFor(current Status) Status {
	switch current {
	case StatusOccupied, StatusActive:
		return StatusActiveUnderMaintenance
	case StatusUnactive:
		return StatusUnactiveUnderMaintenance
	default:
		return StatusUnderMaintenance
	}
}

// Type is the physical kiosk model.
type Type string

const (
	TypeStandard Type = "STANDARD"
	TypeDouble   Type = "DOUBLE"
	TypeCorner   Type = "CORNER"
	TypeMobile   Type = "MOBILE"
)

// Valid reports whether t is a known kiosk type.
func (t Type) Valid() bool {
	switch t {
	case TypeStandard, TypeDouble, TypeCorner, TypeMobile:
		return true
	}
	return false
}

// Kiosk is a physical rental asset.
type Kiosk struct {
	ID               int64     `json:"id"`
	Code             string    `json:"code"`
	Name             string    `json:"name"`
	Type             Type      `json:"type"`
	Address          string    `json:"address"`
	Latitude         *float64  `json:"latitude,omitempty"`
	Longitude        *float64  `json:"longitude,omitempty"`
	Status           Status    `json:"status"`
	RequestedByEmail *string   `json:"requested_by_email,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ListRequest filters kiosk listings.
type ListRequest struct {
	Status *Status
	Type   *Type
	Search *string
	Limit  int
	Offset int
}
