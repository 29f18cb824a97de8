package engine

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// RSI computes Wilder's relative strength index over closes ordered oldest
// first. The first average is a simple mean of period changes; later ones are
// smoothed with weight 1/period.
func RSI(closes []decimal.Decimal, period int) (decimal.Decimal, error) {
	if period <= 0 {
		return decimal.Zero, fmt.Errorf("rsi period must be positive")
	}
	if len(closes) < period+1 {
		return decimal.Zero, fmt.Errorf("rsi needs %d closes, got %d", period+1, len(closes))
	}
	p := decimal.NewFromInt(int64(period))
	gain, loss := decimal.Zero, decimal.Zero
	for i := 1; i <= period; i++ {
		d := closes[i].Sub(closes[i-1])
		if d.IsPositive() {
			gain = gain.Add(d)
		} else {
			loss = loss.Sub(d)
		}
	}
	avgGain := gain.Div(p)
	avgLoss := loss.Div(p)
	prev := p.Sub(decimal.NewFromInt(1))
	for i := period + 1; i < len(closes); i++ {
		d := closes[i].Sub(closes[i-1])
		g, l := decimal.Zero, decimal.Zero
		if d.IsPositive() {
			g = d
		} else {
			l = d.Neg()
		}
		avgGain = avgGain.Mul(prev).Add(g).Div(p)
		avgLoss = avgLoss.Mul(prev).Add(l).Div(p)
	}
	if avgLoss.IsZero() {
		if avgGain.IsZero() {
			return decimal.NewFromInt(50), nil
		}
		return hundred, nil
	}
	rs := avgGain.Div(avgLoss)
	return hundred.Sub(hundred.Div(decimal.NewFromInt(1).Add(rs))), nil
}
