package model

import "encoding/json"

// PriceTick is a normalized price update for a single symbol, produced by
// the Exchange Stream Client and consumed by the Price Cache and the
// Condition Evaluator. Immutable once constructed.
//
// Price and volume figures use float64 (quote-currency units), unlike the
// teacher's paise-denominated int64 prices: crypto spot prices routinely
// carry more fractional precision than a single-currency paise/cent model
// can express across arbitrary symbols.
type PriceTick struct {
	Symbol            string  `json:"symbol"`
	Price             float64 `json:"price"`
	EventTimeMs       int64   `json:"eventTimeMs"`
	Volume24h         float64 `json:"volume24h,omitempty"`
	HasVolume         bool    `json:"-"`
	PriceChangePct24h float64 `json:"priceChangePct24h,omitempty"`
}

// JSON returns the JSON-encoded tick (errors ignored for hot-path usage,
// matching the teacher's Candle.JSON()/TFCandle.JSON() idiom).
func (t *PriceTick) JSON() []byte {
	b, _ := json.Marshal(t)
	return b
}
