package cache

import (
	"github.com/shopspring/decimal"

	"github.com/radieske/sports-live-feed/pkg/contracts/events"
)

// Delta classifica o movimento de um preço em relação à foto anterior
type Delta string

const (
	DeltaUp        Delta = "up"
	DeltaDown      Delta = "down"
	DeltaUnchanged Delta = "unchanged"
	DeltaLocked    Delta = "locked"
)

// Threshold é a diferença absoluta abaixo da qual o preço conta como parado
var Threshold = decimal.RequireFromString("0.01")

// Classify compara dois preços decimais. Zero é preço travado/ausente;
// sem preço anterior não há movimento a mostrar.
func Classify(prev, next float64) Delta {
	if next <= 0 {
		return DeltaLocked
	}
	if prev <= 0 {
		return DeltaUnchanged
	}
	diff := decimal.NewFromFloat(next).Sub(decimal.NewFromFloat(prev))
	if diff.Abs().LessThan(Threshold) {
		return DeltaUnchanged
	}
	if diff.IsPositive() {
		return DeltaUp
	}
	return DeltaDown
}

// Deltas classifica os três outcomes; sem foto anterior todos ficam parados ou travados
func Deltas(prev *events.Prices, next events.Prices) map[string]Delta {
	out := make(map[string]Delta, len(events.Outcomes))
	for _, o := range events.Outcomes {
		var p float64
		if prev != nil {
			p = prev.Get(o)
		}
		out[o] = Classify(p, next.Get(o))
	}
	return out
}
