package model

import "encoding/json"

// Candle is an OHLCV bar for one symbol and timeframe, identified by the
// triple (Symbol, Timeframe, OpenTimeMs). Invariant: OpenTimeMs is always
// congruent to 0 modulo the timeframe's millisecond duration (P4).
type Candle struct {
	Symbol      string    `json:"symbol"`
	Timeframe   Timeframe `json:"timeframe"`
	OpenTimeMs  int64     `json:"openTimeMs"`
	CloseTimeMs int64     `json:"closeTimeMs"`
	Open        float64   `json:"open"`
	High        float64   `json:"high"`
	Low         float64   `json:"low"`
	Close       float64   `json:"close"`
	Volume      float64   `json:"volume"`
}

// Key returns a unique identifier for this candle's bucket:
// "symbol:timeframe:openTimeMs", the generalization of the teacher's
// "exchange:token" Key() idiom to a three-part identity.
func (c *Candle) Key() string {
	return c.Symbol + ":" + c.Timeframe.String() + ":" + itoa64(c.OpenTimeMs)
}

// JSON returns the JSON-encoded candle.
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// itoa64 is a minimal int64-to-string converter for hot-path key building,
// the 64-bit counterpart to conv.go's Itoa.
func itoa64(n int64) string {
	if n == 0 {
		return "0"
	}
	buf := [20]byte{}
	i := len(buf)
	neg := n < 0
	if neg {
		n = -n
	}
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
