// Package evaluator implements the Condition Evaluator (C5), the core of
// the core: for every PriceTick, evaluate each indexed alert's three
// gates — minimum daily volume, change percent, and per-candle trigger
// count — in order, all of which must pass for a trigger (§4.5).
package evaluator

import (
	"context"
	"errors"
	"math"

	"cryptoalertd/internal/model"
)

// ErrZeroBasePrice is returned when an alert's base price is missing or
// zero; the caller must skip the alert for this tick rather than divide
// by zero (§4.5 edge cases).
var ErrZeroBasePrice = errors.New("evaluator: missing or zero base price")

// GateOutcome carries the resolved inputs and outcome of evaluating one
// alert against one tick.
type GateOutcome struct {
	Results         model.GateResults
	BasePriceUsed   float64
	BasePriceSource model.BasePriceSource
	PctChange       float64
	CandleOpenTimeMs int64 // openTimeMs of the countTimeframe candle, when countEnabled
}

// CandleSnapshot pins the candle reads for change-% and count gates to a
// single point in time, avoiding the torn read named in §4.5's edge cases
// ("re-read inside a single candle snapshot per evaluation").
type CandleSnapshot struct {
	ChangeCandle *model.Candle // Candle(symbol, alert.changePctTimeframe), nil if unavailable
	CountCandle  *model.Candle // Candle(symbol, alert.countTimeframe), nil if unavailable/fetch failed
}

// EvaluateGateA applies the minimum daily volume gate. Volume "unknown"
// (tick.HasVolume == false) fails the gate whenever a positive threshold
// is configured, and passes otherwise (§7: "Volume unknown" row).
func EvaluateGateA(alert *model.Alert, tick model.PriceTick) bool {
	if alert.MinDailyVolumeQuote == 0 {
		return true
	}
	if !tick.HasVolume {
		return false
	}
	return tick.Volume24h >= alert.MinDailyVolumeQuote
}

// EvaluateGateB applies the change-percent gate, resolving basePrice per
// §4.5's rules and computing pctChange = (price - basePrice) / basePrice * 100.
func EvaluateGateB(alert *model.Alert, tick model.PriceTick, snap CandleSnapshot) (pass bool, basePriceUsed float64, source model.BasePriceSource, pctChange float64, err error) {
	basePriceUsed, source = resolveBasePrice(alert, snap)
	if basePriceUsed == 0 {
		return false, basePriceUsed, source, 0, ErrZeroBasePrice
	}

	pctChange = (tick.Price - basePriceUsed) / basePriceUsed * 100

	tau := alert.ChangePctThreshold
	if tau == 0 {
		return true, basePriceUsed, source, pctChange, nil // P7
	}

	switch alert.Direction {
	case model.DirectionUp:
		pass = pctChange >= tau
	case model.DirectionDown:
		pass = pctChange <= -tau
	case model.DirectionEither:
		pass = math.Abs(pctChange) >= math.Abs(tau)
	default:
		pass = false
	}
	return pass, basePriceUsed, source, pctChange, nil
}

func resolveBasePrice(alert *model.Alert, snap CandleSnapshot) (float64, model.BasePriceSource) {
	if snap.ChangeCandle != nil {
		return snap.ChangeCandle.Open, model.BasePriceCandleOpen
	}
	return alert.BasePrice, model.BasePriceAlertFallback
}

// EvaluateGateC applies the per-candle trigger-count limit. When the
// candle fetch failed (snap.CountCandle == nil), the gate fails open per
// §4.5 and §7 (or fails closed when failClosedOnCandleError is set); the
// engine logs the warning. When disabled, always passes.
func EvaluateGateC(alert *model.Alert, snap CandleSnapshot, failClosedOnCandleError bool) (pass bool, candleOpenTimeMs int64, candleFetchFailed bool) {
	if !alert.CountEnabled {
		return true, 0, false
	}
	if snap.CountCandle == nil {
		if failClosedOnCandleError {
			return false, 0, true
		}
		return true, 0, true // fail-open default, Open Question 2
	}

	openTimeMs := snap.CountCandle.OpenTimeMs
	cur, ok := alert.PerTimeframeCounter[alert.CountTimeframe]
	if !ok || cur.LastCandleOpenTime != openTimeMs {
		return true, openTimeMs, false
	}
	return cur.Count < alert.MaxTriggersPerCandle, openTimeMs, false
}

// Evaluate runs all three gates in order and reports the combined outcome.
// ctx is accepted for symmetry with other I/O-bound ports even though this
// function itself never blocks (§5: "C5 never blocks on I/O during a
// tick").
func Evaluate(_ context.Context, alert *model.Alert, tick model.PriceTick, snap CandleSnapshot, failClosedOnCandleError bool) (GateOutcome, error) {
	if tick.Price <= 0 {
		return GateOutcome{}, errors.New("evaluator: malformed tick, price <= 0")
	}

	gateA := EvaluateGateA(alert, tick)
	gateB, basePriceUsed, source, pctChange, err := EvaluateGateB(alert, tick, snap)
	if err != nil {
		return GateOutcome{}, err
	}
	gateC, candleOpenTimeMs, _ := EvaluateGateC(alert, snap, failClosedOnCandleError)

	return GateOutcome{
		Results: model.GateResults{
			MinVolume: gateA,
			ChangePct: gateB,
			Count:     gateC,
		},
		BasePriceUsed:    basePriceUsed,
		BasePriceSource:  source,
		PctChange:        pctChange,
		CandleOpenTimeMs: candleOpenTimeMs,
	}, nil
}
