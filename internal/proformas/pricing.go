package proformas

import (
	"fmt"
	"math"

	"github.com/kioskops/kioskops/internal/kiosks"
	"github.com/kioskops/kioskops/internal/shared"
)

var basePrices = map[kiosks.Type]float64{
	kiosks.TypeStandard: 150000,
	kiosks.TypeDouble:   250000,
	kiosks.TypeCorner:   200000,
	kiosks.TypeMobile:   120000,
}

// BasePriceFor returns the per kiosk price of t.
func BasePriceFor(t kiosks.Type) (float64, bool) {
	p, ok := basePrices[t]
	return p, ok
}

// Pricing is the breakdown of a quote.
type Pricing struct {
	UnitBasePrice float64 `json:"unit_base_price"`
	BasePrice     float64 `json:"base_price"`
	BrandingPrice float64 `json:"branding_price"`
	TotalAmount   float64 `json:"total_amount"`
}

// Price computes base(t)×quantity plus the branding surfaces for every kiosk.
// It is used for both persisted proformas and quote previews.
func Price(t kiosks.Type, quantity int, surfaces []Surface) (Pricing, error) {
	unit, ok := BasePriceFor(t)
	if !ok {
		return Pricing{}, shared.NewValidationError("kiosk_type", fmt.Sprintf("unknown kiosk type %q", t))
	}
	if quantity <= 0 {
		return Pricing{}, shared.NewValidationError("quantity", "must be greater than 0")
	}
	var branding float64
	for i, s := range surfaces {
		if s.UnitPrice < 0 || s.CountPerKiosk <= 0 {
			return Pricing{}, shared.NewValidationError(fmt.Sprintf("surfaces[%d]", i), "price must be positive and count at least 1")
		}
		branding += s.UnitPrice * float64(s.CountPerKiosk) * float64(quantity)
	}
	base := roundTo2(unit * float64(quantity))
	branding = roundTo2(branding)
	return Pricing{
		UnitBasePrice: unit,
		BasePrice:     base,
		BrandingPrice: branding,
		TotalAmount:   roundTo2(base + branding),
	}, nil
}

// MonthlyPayment splits total evenly over duration months.
func MonthlyPayment(total float64, durationMonths int) float64 {
	if durationMonths <= 0 {
		return 0
	}
	return roundTo2(total / float64(durationMonths))
}

func roundTo2(v float64) float64 {
	return math.Round(v*100) / 100
}
