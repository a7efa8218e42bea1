package proformas

import "github.com/kioskops/kioskops/internal/kiosks"

// SurfaceInput is one branding surface on a quote.
type SurfaceInput struct {
	Code          string  `json:"code" validate:"required,max=40"`
	Label         string  `json:"label" validate:"omitempty,max=120"`
	UnitPrice     float64 `json:"unit_price" validate:"gte=0"`
	CountPerKiosk int     `json:"count_per_kiosk" validate:"gt=0"`
}

// QuoteRequest prices a configuration without saving it.
type QuoteRequest struct {
	KioskType kiosks.Type    `json:"kiosk_type" validate:"required,oneof=STANDARD DOUBLE CORNER MOBILE"`
	Quantity  int            `json:"quantity" validate:"gt=0,lte=500"`
	Surfaces  []SurfaceInput `json:"surfaces" validate:"omitempty,dive"`
}

// CreateRequest is the proforma form.
type CreateRequest struct {
	ClientName    string         `json:"client_name" validate:"required,max=160"`
	ClientEmail   string         `json:"client_email" validate:"omitempty,email"`
	ClientPhone   string         `json:"client_phone" validate:"omitempty,max=40"`
	ClientAddress string         `json:"client_address" validate:"omitempty,max=255"`
	KioskType     kiosks.Type    `json:"kiosk_type" validate:"required,oneof=STANDARD DOUBLE CORNER MOBILE"`
	Quantity      int            `json:"quantity" validate:"gt=0,lte=500"`
	Surfaces      []SurfaceInput `json:"surfaces" validate:"omitempty,dive"`
	ValidDays     int            `json:"valid_days" validate:"omitempty,gt=0,lte=365"`
	Notes         string         `json:"notes" validate:"omitempty,max=2000"`
}

// RejectRequest carries the client's reason.
type RejectRequest struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}

// ConvertRequest sets the contract terms of a conversion. Without KioskIDs
// the proforma quantity is allocated from bookable kiosks of its type.
type ConvertRequest struct {
	DurationMonths   int      `json:"duration_months" validate:"gt=0,lte=120"`
	PaymentFrequency string   `json:"payment_frequency" validate:"omitempty,max=40"`
	PaymentAmount    *float64 `json:"payment_amount,omitempty" validate:"omitempty,gt=0"`
	BillingAddress   string   `json:"billing_address" validate:"omitempty,max=255"`
	ClientIDType     string   `json:"client_id_type" validate:"omitempty,max=40"`
	ClientIDNumber   string   `json:"client_id_number" validate:"omitempty,max=80"`
	KioskIDs         []int64  `json:"kiosk_ids" validate:"omitempty,dive,gt=0"`
}

func toSurfaces(in []SurfaceInput) []Surface {
	out := make([]Surface, 0, len(in))
	for _, s := range in {
		out = append(out, Surface{Code: s.Code, Label: s.Label, UnitPrice: s.UnitPrice, CountPerKiosk: s.CountPerKiosk})
	}
	return out
}
