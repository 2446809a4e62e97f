// Package metrics computes the risk and return ratios used to judge
// short-option positions and candidate legs. Every function is pure and
// reports bad inputs through an error instead of returning NaN or Inf.
package metrics

import (
	"fmt"
	"math"

	"options-advisor/internal/errors"
	"options-advisor/internal/models"
)

// DefaultMarginRate is the fraction of notional assumed as margin when a quote
// carries no broker margin figure.
const DefaultMarginRate = 0.15

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// ROM returns premiumCollected / marginUsed.
func ROM(premiumCollected, marginUsed float64) (float64, error) {
	if marginUsed <= 0 || !finite(premiumCollected, marginUsed) {
		return 0, errors.NewMetricError("rom", fmt.Sprintf("margin=%v", marginUsed), errors.ErrDivisionInvalid)
	}
	return premiumCollected / marginUsed, nil
}

// SSR returns (spot - strike) / spot with the sign preserved.
func SSR(spotPrice, strikePrice float64) (float64, error) {
	if spotPrice <= 0 || !finite(spotPrice, strikePrice) {
		return 0, errors.NewMetricError("ssr", fmt.Sprintf("spot=%v", spotPrice), errors.ErrDivisionInvalid)
	}
	return (spotPrice - strikePrice) / spotPrice, nil
}

// StrikeSafety orients SSR by option type: raw SSR for puts, negated for
// calls, so that a larger value is safer for the option writer either way.
// An unspecified type is treated as a put.
func StrikeSafety(optType models.OptionType, spotPrice, strikePrice float64) (float64, error) {
	ssr, err := SSR(spotPrice, strikePrice)
	if err != nil {
		return 0, err
	}
	if optType == models.OptionTypeCall {
		return -ssr, nil
	}
	return ssr, nil
}

// RewardRisk returns premiumCollected / riskIndicator.
func RewardRisk(premiumCollected float64, riskIndicator int) (float64, error) {
	if riskIndicator < 1 {
		return 0, errors.NewMetricError("reward_risk", fmt.Sprintf("risk=%d", riskIndicator), errors.ErrInvalidSignal)
	}
	if !finite(premiumCollected) {
		return 0, errors.NewMetricError("reward_risk", fmt.Sprintf("premium=%v", premiumCollected), errors.ErrDivisionInvalid)
	}
	return premiumCollected / float64(riskIndicator), nil
}

// NormalizeRisk maps a signal to the scalar used by ranking. The value is the
// risk indicator itself; confidence is carried separately as a tie-break.
func NormalizeRisk(signal models.SentimentSignal) (float64, error) {
	if err := signal.Validate(); err != nil {
		return 0, errors.NewMetricError("normalize_risk", signal.Symbol, err)
	}
	return float64(signal.RiskIndicator), nil
}

// ForPosition computes the metrics record of an open position.
func ForPosition(p models.Position, signal models.SentimentSignal) (models.Metrics, error) {
	risk, err := NormalizeRisk(signal)
	if err != nil {
		return models.Metrics{}, err
	}
	rom, err := ROM(p.PremiumCollected, p.MarginUsed)
	if err != nil {
		return models.Metrics{}, err
	}
	ssr, err := StrikeSafety(p.OptionType, p.SpotPrice, p.Strike)
	if err != nil {
		return models.Metrics{}, err
	}
	rrr, err := RewardRisk(p.PremiumCollected, int(risk))
	if err != nil {
		return models.Metrics{}, err
	}
	return models.Metrics{
		ROM:              rom,
		SSR:              ssr,
		RiskIndicator:    int(risk),
		RewardRisk:       rrr,
		PremiumCollected: p.PremiumCollected,
		MarginRequired:   p.MarginUsed,
	}, nil
}

// MarginPerLot returns the broker margin for one lot of q, or an estimate of
// spot * lotSize * marginRate when the quote has none.
func MarginPerLot(q models.OptionQuote, spotPrice, marginRate float64) (float64, error) {
	if q.MarginPerLot > 0 {
		return q.MarginPerLot, nil
	}
	if marginRate <= 0 {
		marginRate = DefaultMarginRate
	}
	if spotPrice <= 0 || q.LotSize <= 0 || !finite(spotPrice) {
		return 0, errors.NewMetricError("margin", fmt.Sprintf("spot=%v lot=%d", spotPrice, q.LotSize), errors.ErrDivisionInvalid)
	}
	return spotPrice * float64(q.LotSize) * marginRate, nil
}

// ForLeg computes the metrics of writing (SELL) or buying (BUY) lots of q.
// A bought leg collects no premium; its cost is recorded as PremiumPaid and
// the premium paid is its capital requirement.
func ForLeg(q models.OptionQuote, spotPrice float64, lots int, side models.Side, signal models.SentimentSignal, marginRate float64) (models.Metrics, error) {
	risk, err := NormalizeRisk(signal)
	if err != nil {
		return models.Metrics{}, err
	}
	if lots <= 0 || q.LotSize <= 0 {
		return models.Metrics{}, errors.NewMetricError("leg", fmt.Sprintf("lots=%d lot_size=%d", lots, q.LotSize), errors.ErrDivisionInvalid)
	}
	price, err := q.Premium()
	if err != nil {
		return models.Metrics{}, err
	}
	ssr, err := StrikeSafety(q.OptionType, spotPrice, q.Strike)
	if err != nil {
		return models.Metrics{}, err
	}
	units := float64(lots * q.LotSize)

	m := models.Metrics{SSR: ssr, RiskIndicator: int(risk)}
	if side == models.SideBuy {
		m.PremiumPaid = price * units
		m.MarginRequired = m.PremiumPaid
		return m, nil
	}

	perLot, err := MarginPerLot(q, spotPrice, marginRate)
	if err != nil {
		return models.Metrics{}, err
	}
	m.PremiumCollected = price * units
	m.MarginRequired = perLot * float64(lots)
	if m.ROM, err = ROM(m.PremiumCollected, m.MarginRequired); err != nil {
		return models.Metrics{}, err
	}
	if m.RewardRisk, err = RewardRisk(m.PremiumCollected, m.RiskIndicator); err != nil {
		return models.Metrics{}, err
	}
	return m, nil
}

// Risk groups used in portfolio summaries.
const (
	RiskGroupLow    = "Low"
	RiskGroupMedium = "Medium"
	RiskGroupHigh   = "High"
)

// RiskGroup buckets a risk indicator: 1-3 Low, 4-6 Medium, 7-10 High.
func RiskGroup(riskIndicator float64) string {
	switch {
	case riskIndicator <= 3:
		return RiskGroupLow
	case riskIndicator <= 6:
		return RiskGroupMedium
	default:
		return RiskGroupHigh
	}
}
