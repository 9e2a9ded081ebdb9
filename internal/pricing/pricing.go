package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Jeremytpk/quicktrash-sub002/internal/models"
)

// Fee fractions applied on top of the base fee, and the worker's share of
// the total. These match the platform's published rate card.
var (
	serviceRate  = decimal.NewFromFloat(0.15)
	disposalRate = decimal.NewFromFloat(0.10)
	payoutRate   = decimal.NewFromFloat(0.80)
)

// Compute derives the full fee breakdown for a job from its volume option
// and bag size. It is a pure function: same inputs, same breakdown, no side
// effects. Amounts are rounded half-up to cents via decimal arithmetic so
// float drift can't leak into money.
func Compute(basePrice, priceMultiplier float64) models.PriceBreakdown {
	base := decimal.NewFromFloat(basePrice).Mul(decimal.NewFromFloat(priceMultiplier)).Round(2)
	service := base.Mul(serviceRate).Round(2)
	disposal := base.Mul(disposalRate).Round(2)
	total := base.Add(service).Add(disposal)
	payout := total.Mul(payoutRate).Round(2)

	return models.PriceBreakdown{
		BaseFee:      base.InexactFloat64(),
		ServiceFee:   service.InexactFloat64(),
		DisposalFee:  disposal.InexactFloat64(),
		Total:        total.InexactFloat64(),
		WorkerPayout: payout.InexactFloat64(),
	}
}

// Quote looks up the catalog entries and prices a job from their ids.
func Quote(volumeOptionID, bagSizeID string) (models.PriceBreakdown, error) {
	vol, ok := VolumeOption(volumeOptionID)
	if !ok {
		return models.PriceBreakdown{}, fmt.Errorf("unknown volume option %q", volumeOptionID)
	}
	bag, ok := BagSize(bagSizeID)
	if !ok {
		return models.PriceBreakdown{}, fmt.Errorf("unknown bag size %q", bagSizeID)
	}
	return Compute(vol.BasePrice, bag.PriceMultiplier), nil
}
