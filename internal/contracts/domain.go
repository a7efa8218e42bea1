package contracts

import (
	"time"

	"github.com/kioskops/kioskops/internal/kiosks"
)

// Status represents the lifecycle state of a rental contract.
type Status string

const (
	StatusDraft      Status = "DRAFT"
	StatusPending    Status = "PENDING"
	StatusConfirmed  Status = "CONFIRMED"
	StatusActive     Status = "ACTIVE"
	StatusExpired    Status = "EXPIRED"
	StatusTerminated Status = "TERMINATED"
	StatusCancelled  Status = "CANCELLED"
)

// Valid reports whether s is a known contract status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPending, StatusConfirmed, StatusActive,
		StatusExpired, StatusTerminated, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (s Status) IsTerminal() bool {
	return s == StatusExpired || s == StatusTerminated || s == StatusCancelled
}

// CanRecordPayment reports whether payments may be recorded in status s.
func (s Status) CanRecordPayment() bool {
	return s == StatusActive
}

// DefaultPaymentFrequency is used when the form leaves the frequency blank.
const DefaultPaymentFrequency = "MONTHLY"

// Contract is a legal rental agreement covering one or more kiosks.
type Contract struct {
	ID               int64      `json:"id"`
	ContractNumber   string     `json:"contract_number"`
	Status           Status     `json:"status"`
	ClientName       string     `json:"client_name"`
	ClientIDType     string     `json:"client_id_type,omitempty"`
	ClientIDNumber   string     `json:"client_id_number,omitempty"`
	ClientAddress    string     `json:"client_address,omitempty"`
	BillingAddress   string     `json:"billing_address,omitempty"`
	ClientPhone      string     `json:"client_phone,omitempty"`
	ClientEmail      string     `json:"client_email,omitempty"`
	DurationMonths   int        `json:"duration_months"`
	PaymentFrequency string     `json:"payment_frequency"`
	PaymentAmount    float64    `json:"payment_amount"`
	TotalAmount      float64    `json:"total_amount"`
	StartDate        *time.Time `json:"start_date,omitempty"`
	SignatureDate    *time.Time `json:"signature_date,omitempty"`
	EndDate          *time.Time `json:"end_date,omitempty"`
	TerminationDate  *time.Time `json:"termination_date,omitempty"`
	DocumentURL      *string    `json:"document_url,omitempty"`
	ProformaID       *int64     `json:"proforma_id,omitempty"`
	CreatedBy        *int64     `json:"created_by,omitempty"`
	SignedBy         *int64     `json:"signed_by,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`

	KioskIDs []int64        `json:"kiosk_ids"`
	Kiosks   []kiosks.Kiosk `json:"kiosks,omitempty"`
}

// PaymentStatus is the state of a recorded payment.
type PaymentStatus string

// PaymentCompleted is the only status the recorder produces.
const PaymentCompleted PaymentStatus = "COMPLETED"

// Payment is money received against a contract.
type Payment struct {
	ID          int64         `json:"id"`
	ContractID  int64         `json:"contract_id"`
	Amount      float64       `json:"amount"`
	Method      string        `json:"method"`
	Reference   *string       `json:"reference,omitempty"`
	PaymentDate time.Time     `json:"payment_date"`
	Status      PaymentStatus `json:"status"`
	RecordedBy  *int64        `json:"recorded_by,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Balance summarises what has been paid against the contract total.
// Outstanding is negative when the client has overpaid.
type Balance struct {
	ContractID  int64   `json:"contract_id"`
	Total       float64 `json:"total"`
	Paid        float64 `json:"paid"`
	Outstanding float64 `json:"outstanding"`
	Payments    int     `json:"payments"`
}

// TransitionResult is returned by every mutating lifecycle operation.
// Warnings carry soft failures such as a document that could not be rendered.
type TransitionResult struct {
	Contract *Contract `json:"contract"`
	Warnings []string  `json:"warnings"`
}

// ListRequest filters contract listings.
type ListRequest struct {
	Status      *Status
	Search      *string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	SortBy      string
	SortDir     string
	Limit       int
	Offset      int
}
