package contracts

import "time"

// CreateRequest is the contract creation form.
type CreateRequest struct {
	ClientName       string  `json:"client_name" validate:"required,max=160"`
	ClientIDType     string  `json:"client_id_type" validate:"omitempty,max=40"`
	ClientIDNumber   string  `json:"client_id_number" validate:"omitempty,max=80"`
	ClientAddress    string  `json:"client_address" validate:"omitempty,max=255"`
	BillingAddress   string  `json:"billing_address" validate:"omitempty,max=255"`
	ClientPhone      string  `json:"client_phone" validate:"omitempty,max=40"`
	ClientEmail      string  `json:"client_email" validate:"omitempty,email"`
	DurationMonths   int     `json:"duration_months" validate:"gt=0,lte=120"`
	PaymentFrequency string  `json:"payment_frequency" validate:"omitempty,max=40"`
	PaymentAmount    float64 `json:"payment_amount" validate:"gt=0"`
	KioskIDs         []int64 `json:"kiosk_ids" validate:"min=1,dive,gt=0"`
	// ProformaID is set only by proforma conversion.
	ProformaID       *int64  `json:"-" validate:"omitempty,gt=0"`
}

// TransitionRequest asks for a status change.
type TransitionRequest struct {
	Status Status `json:"status" validate:"required"`
}

// RecordPaymentRequest describes money received against a contract.
type RecordPaymentRequest struct {
	Amount      float64    `json:"amount" validate:"gt=0"`
	Method      string     `json:"method" validate:"required,max=40"`
	Reference   string     `json:"reference" validate:"omitempty,max=120"`
	PaymentDate *time.Time `json:"payment_date,omitempty"`
}
