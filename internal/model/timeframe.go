package model

// Timeframe is a closed enumeration of candle bar durations, expressed in
// milliseconds so every value divides evenly into openTimeMs alignment.
type Timeframe int64

const (
	TF1Min  Timeframe = 60_000
	TF5Min  Timeframe = 5 * 60_000
	TF15Min Timeframe = 15 * 60_000
	TF1Hr   Timeframe = 60 * 60_000
	TF4Hr   Timeframe = 4 * 60 * 60_000
	TF12Hr  Timeframe = 12 * 60 * 60_000
	TF1Day  Timeframe = 24 * 60 * 60_000
)

// timeframeNames maps each enumerated timeframe to its external wire name,
// matching the klines interval vocabulary in §6.1 (1m,5m,15m,1h,4h,12h,1d).
var timeframeNames = map[Timeframe]string{
	TF1Min:  "1m",
	TF5Min:  "5m",
	TF15Min: "15m",
	TF1Hr:   "1h",
	TF4Hr:   "4h",
	TF12Hr:  "12h",
	TF1Day:  "1d",
}

var timeframesByName = func() map[string]Timeframe {
	m := make(map[string]Timeframe, len(timeframeNames))
	for tf, name := range timeframeNames {
		m[name] = tf
	}
	return m
}()

// String returns the exchange-facing interval string for this timeframe.
func (tf Timeframe) String() string {
	if name, ok := timeframeNames[tf]; ok {
		return name
	}
	return "unknown"
}

// ParseTimeframe resolves an interval string (e.g. "1m", "1h") to a Timeframe.
func ParseTimeframe(s string) (Timeframe, bool) {
	tf, ok := timeframesByName[s]
	return tf, ok
}

// Milliseconds returns the bar duration in milliseconds.
func (tf Timeframe) Milliseconds() int64 {
	return int64(tf)
}

// OpenTimeMs returns the canonical bucket identifier for nowMs under this
// timeframe: openTimeMs = floor(now / tf_ms) * tf_ms. This is the single
// source of truth for "which candle we are in" across every component,
// the direct generalization of the teacher's tfbuilder bucket arithmetic
// (bucket := ts - ts%tf) from seconds to milliseconds.
func (tf Timeframe) OpenTimeMs(nowMs int64) int64 {
	tfMs := tf.Milliseconds()
	return nowMs - (nowMs % tfMs)
}

// CloseTimeMs returns the close time of the bucket identified by openTimeMs.
func (tf Timeframe) CloseTimeMs(openTimeMs int64) int64 {
	return openTimeMs + tf.Milliseconds()
}

// AllTimeframes lists every enumerated timeframe, smallest first.
func AllTimeframes() []Timeframe {
	return []Timeframe{TF1Min, TF5Min, TF15Min, TF1Hr, TF4Hr, TF12Hr, TF1Day}
}
