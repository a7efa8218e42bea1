package documents

import "time"

// ContractPayload aggregates contract data for PDF rendering.
type ContractPayload struct {
	ContractNumber   string
	Status           string
	ClientName       string
	ClientIDType     string
	ClientIDNumber   string
	ClientAddress    string
	BillingAddress   string
	ClientPhone      string
	ClientEmail      string
	DurationMonths   int
	PaymentFrequency string
	PaymentAmount    float64
	TotalAmount      float64
	StartDate        *time.Time
	EndDate          *time.Time
	SignatureDate    *time.Time
	TerminationDate  *time.Time
	Kiosks           []KioskLine
	GeneratedAt      time.Time
}

// KioskLine is one rented kiosk on the contract document.
type KioskLine struct {
	Code    string
	Name    string
	Type    string
	Address string
}
