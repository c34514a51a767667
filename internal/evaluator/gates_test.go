package evaluator

import (
	"context"
	"testing"

	"cryptoalertd/internal/model"
)

func TestEvaluateGateA(t *testing.T) {
	cases := []struct {
		name      string
		minVolume float64
		tick      model.PriceTick
		want      bool
	}{
		{"threshold zero always passes", 0, model.PriceTick{}, true},
		{"volume gate blocks (scenario 1)", 1_000_000, model.PriceTick{Volume24h: 500_000, HasVolume: true}, false},
		{"volume meets threshold", 1_000_000, model.PriceTick{Volume24h: 1_500_000, HasVolume: true}, true},
		{"unknown volume with positive threshold fails", 1_000_000, model.PriceTick{HasVolume: false}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			alert := &model.Alert{MinDailyVolumeQuote: tc.minVolume}
			if got := EvaluateGateA(alert, tc.tick); got != tc.want {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestEvaluateGateB_ZeroThresholdPassthrough(t *testing.T) {
	alert := &model.Alert{ChangePctThreshold: 0, Direction: model.DirectionUp, BasePrice: 100}
	pass, _, _, _, err := EvaluateGateB(alert, model.PriceTick{Price: 999999}, CandleSnapshot{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !pass {
		t.Error("P7: zero threshold must pass for any finite pctChange")
	}
}

func TestEvaluateGateB_UpDirection(t *testing.T) {
	alert := &model.Alert{ChangePctThreshold: 0.2, Direction: model.DirectionUp}
	snap := CandleSnapshot{ChangeCandle: &model.Candle{Open: 50000}}
	pass, basePriceUsed, source, pct, err := EvaluateGateB(alert, model.PriceTick{Price: 50100}, snap)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !pass {
		t.Errorf("scenario 2: expected trigger, pctChange=%v", pct)
	}
	if basePriceUsed != 50000 || source != model.BasePriceCandleOpen {
		t.Errorf("expected candle_open base price 50000, got %v/%v", basePriceUsed, source)
	}
}

func TestEvaluateGateB_DownDirection(t *testing.T) {
	alert := &model.Alert{ChangePctThreshold: 0.5, Direction: model.DirectionDown}
	snap := CandleSnapshot{ChangeCandle: &model.Candle{Open: 101}}
	pass, _, _, pct, _ := EvaluateGateB(alert, model.PriceTick{Price: 100}, snap)
	if !pass {
		t.Errorf("scenario 3: expected trigger, pctChange=%v", pct)
	}
}

func TestEvaluateGateB_EitherSymmetric(t *testing.T) {
	alert := &model.Alert{ChangePctThreshold: 1, Direction: model.DirectionEither}
	snap := CandleSnapshot{ChangeCandle: &model.Candle{Open: 100}}
	pass, _, _, pct, _ := EvaluateGateB(alert, model.PriceTick{Price: 99}, snap)
	if !pass {
		t.Errorf("scenario 4: expected trigger, pctChange=%v", pct)
	}
}

func TestEvaluateGateB_DirectionHonored(t *testing.T) {
	alert := &model.Alert{ChangePctThreshold: 1, Direction: model.DirectionDown}
	snap := CandleSnapshot{ChangeCandle: &model.Candle{Open: 100}}
	// pctChange = +0.5%, must not trigger DOWN at threshold 1 (P6).
	pass, _, _, _, _ := EvaluateGateB(alert, model.PriceTick{Price: 100.5}, snap)
	if pass {
		t.Error("P6: DOWN must not trigger while pctChange > -threshold")
	}
}

func TestEvaluateGateB_ZeroBasePriceErrors(t *testing.T) {
	alert := &model.Alert{ChangePctThreshold: 1, BasePrice: 0}
	_, _, _, _, err := EvaluateGateB(alert, model.PriceTick{Price: 100}, CandleSnapshot{})
	if err != ErrZeroBasePrice {
		t.Errorf("expected ErrZeroBasePrice, got %v", err)
	}
}

func TestEvaluateGateC_DisabledAlwaysPasses(t *testing.T) {
	alert := &model.Alert{CountEnabled: false}
	pass, _, _ := EvaluateGateC(alert, CandleSnapshot{}, false)
	if !pass {
		t.Error("expected pass when countEnabled is false")
	}
}

func TestEvaluateGateC_NewCandleResetsCount(t *testing.T) {
	alert := &model.Alert{
		CountEnabled:   true,
		CountTimeframe: model.TF5Min,
		PerTimeframeCounter: map[model.Timeframe]*model.CandleCounter{
			model.TF5Min: {Count: 1, LastCandleOpenTime: 1000},
		},
		MaxTriggersPerCandle: 1,
	}
	snap := CandleSnapshot{CountCandle: &model.Candle{OpenTimeMs: 2000}}
	pass, openTimeMs, failed := EvaluateGateC(alert, snap, false)
	if !pass || failed {
		t.Errorf("expected pass on fresh candle, got pass=%v failed=%v", pass, failed)
	}
	if openTimeMs != 2000 {
		t.Errorf("expected openTimeMs 2000, got %d", openTimeMs)
	}
}

func TestEvaluateGateC_CapEnforced(t *testing.T) {
	alert := &model.Alert{
		CountEnabled:   true,
		CountTimeframe: model.TF5Min,
		PerTimeframeCounter: map[model.Timeframe]*model.CandleCounter{
			model.TF5Min: {Count: 1, LastCandleOpenTime: 2000},
		},
		MaxTriggersPerCandle: 1,
	}
	snap := CandleSnapshot{CountCandle: &model.Candle{OpenTimeMs: 2000}}
	pass, _, _ := EvaluateGateC(alert, snap, false)
	if pass {
		t.Error("scenario 5: expected second trigger in same candle to be blocked")
	}
}

func TestEvaluateGateC_FetchFailureFailsOpenByDefault(t *testing.T) {
	alert := &model.Alert{CountEnabled: true, CountTimeframe: model.TF5Min, MaxTriggersPerCandle: 1}
	pass, _, failed := EvaluateGateC(alert, CandleSnapshot{CountCandle: nil}, false)
	if !pass || !failed {
		t.Errorf("expected fail-open default on candle fetch failure, got pass=%v failed=%v", pass, failed)
	}
}

func TestEvaluateGateC_FetchFailureFailsClosedWhenConfigured(t *testing.T) {
	alert := &model.Alert{CountEnabled: true, CountTimeframe: model.TF5Min, MaxTriggersPerCandle: 1}
	pass, _, failed := EvaluateGateC(alert, CandleSnapshot{CountCandle: nil}, true)
	if pass || !failed {
		t.Errorf("expected fail-closed when configured, got pass=%v failed=%v", pass, failed)
	}
}

func TestEvaluate_MalformedTickRejected(t *testing.T) {
	alert := &model.Alert{}
	_, err := Evaluate(context.Background(), alert, model.PriceTick{Price: 0}, CandleSnapshot{}, false)
	if err == nil {
		t.Error("expected error for non-positive price")
	}
}

func TestEvaluate_FullConjunctionScenario2(t *testing.T) {
	alert := &model.Alert{
		Direction:          model.DirectionUp,
		ChangePctTimeframe: model.TF1Min,
		ChangePctThreshold: 0.2,
	}
	snap := CandleSnapshot{ChangeCandle: &model.Candle{Open: 50000}}
	outcome, err := Evaluate(context.Background(), alert, model.PriceTick{Price: 50100}, snap, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Results.AllPass() {
		t.Errorf("expected all gates to pass, got %+v", outcome.Results)
	}
	if outcome.BasePriceSource != model.BasePriceCandleOpen {
		t.Errorf("expected basePriceSource=candle_open, got %v", outcome.BasePriceSource)
	}
}
