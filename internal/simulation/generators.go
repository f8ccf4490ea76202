package simulation

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/bhardin04/livedemo/internal/domain"
)

// GeneratorFor returns the payload generator of a demo type.
func GeneratorFor(d domain.DemoType) (domain.Generator, error) {
	switch d {
	case domain.DemoPayment:
		return PaymentGenerator{}, nil
	case domain.DemoSales:
		return SalesGenerator{}, nil
	case domain.DemoLogistics:
		return LogisticsGenerator{}, nil
	default:
		return nil, fmt.Errorf("generator for %q: %w", d, domain.ErrUnknownDemoType)
	}
}

// rngFor seeds a generator per (seed, tick) so any tick can be regenerated
// without replaying the ones before it.
func rngFor(seed, tick int64) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(seed), uint64(tick)))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func pick[T any](rng *rand.Rand, items []T) T {
	return items[rng.IntN(len(items))]
}

var (
	paymentMethods  = []string{"card", "bank_transfer", "wallet", "direct_debit"}
	paymentStages   = []string{"authorized", "captured", "settled", "declined", "refunded"}
	currencies      = []string{"EUR", "USD", "GBP"}
	salesRegions    = []string{"north", "south", "east", "west"}
	salesProducts   = []string{"starter", "professional", "enterprise"}
	shipmentStatus  = []string{"picked_up", "in_transit", "out_for_delivery", "delivered", "delayed"}
	logisticsDepots = []string{"HAM", "MUC", "BER", "FRA", "CGN"}
)

// PaymentGenerator simulates a payment pipeline: a handful of transactions per tick.
type PaymentGenerator struct{}

func (PaymentGenerator) Next(tick, seed int64) (domain.Batch, error) {
	rng := rngFor(seed, tick)
	n := 1 + rng.IntN(5)

	records := make([]map[string]any, 0, n)
	var volume float64
	var declined int
	for i := range n {
		amount := round2(5 + rng.Float64()*495)
		stage := pick(rng, paymentStages)
		if stage == "declined" {
			declined++
		} else {
			volume += amount
		}
		records = append(records, map[string]any{
			"id":       fmt.Sprintf("txn-%d-%d", tick, i),
			"amount":   amount,
			"currency": pick(rng, currencies),
			"method":   pick(rng, paymentMethods),
			"stage":    stage,
		})
	}

	return domain.Batch{
		UpdateType: "transactions",
		Records:    records,
		Summary: map[string]any{
			"tick":         tick,
			"transactions": n,
			"declined":     declined,
			"volume":       round2(volume),
		},
	}, nil
}

// SalesGenerator simulates a sales dashboard: one metric row per region.
type SalesGenerator struct{}

func (SalesGenerator) Next(tick, seed int64) (domain.Batch, error) {
	rng := rngFor(seed, tick)

	records := make([]map[string]any, 0, len(salesRegions))
	var revenue float64
	var orders int
	for _, region := range salesRegions {
		o := rng.IntN(40)
		r := round2(float64(o) * (50 + rng.Float64()*150))
		orders += o
		revenue += r
		records = append(records, map[string]any{
			"region":      region,
			"top_product": pick(rng, salesProducts),
			"orders":      o,
			"revenue":     r,
			"conversion":  round2(0.01 + rng.Float64()*0.09),
		})
	}

	return domain.Batch{
		UpdateType: "metrics",
		Records:    records,
		Summary: map[string]any{
			"tick":    tick,
			"orders":  orders,
			"revenue": round2(revenue),
		},
	}, nil
}

// LogisticsGenerator simulates shipment tracking: status changes for a few parcels per tick.
type LogisticsGenerator struct{}

func (LogisticsGenerator) Next(tick, seed int64) (domain.Batch, error) {
	rng := rngFor(seed, tick)
	n := 1 + rng.IntN(3)

	records := make([]map[string]any, 0, n)
	delayed := 0
	for i := range n {
		status := pick(rng, shipmentStatus)
		if status == "delayed" {
			delayed++
		}
		records = append(records, map[string]any{
			"shipment_id": fmt.Sprintf("shp-%d-%d", tick, i),
			"status":      status,
			"depot":       pick(rng, logisticsDepots),
			"lat":         round2(47 + rng.Float64()*8),
			"lng":         round2(6 + rng.Float64()*9),
			"eta_minutes": rng.IntN(720),
		})
	}

	return domain.Batch{
		UpdateType: "shipments",
		Records:    records,
		Summary: map[string]any{
			"tick":    tick,
			"updates": n,
			"delayed": delayed,
		},
	}, nil
}
