package gateway

import (
	"encoding/json"

	"cryptoalertd/internal/model"
)

// Client-to-server message types (§6.4).
const (
	msgSubscribeSymbol   = "subscribe-symbol"
	msgUnsubscribeSymbol = "unsubscribe-symbol"
	msgRequestPrices     = "request-prices"
)

// Server-to-client message types (§6.4).
const (
	eventConnectionSuccess = "connection-success"
	eventPriceUpdate       = "price-update"
	eventTriggeredAlert    = "triggered-alert"
	eventError             = "error"
)

// clientMessage is the envelope every inbound WS frame is parsed into
// first; Symbol is shared by subscribe/unsubscribe, Symbols by
// request-prices.
type clientMessage struct {
	Type    string   `json:"type"`
	Symbol  string   `json:"symbol,omitempty"`
	Symbols []string `json:"symbols,omitempty"`
}

// connectionSuccessEvent is sent once, immediately after a WS upgrade.
type connectionSuccessEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

// priceUpdateEvent mirrors a PriceTick onto the wire.
type priceUpdateEvent struct {
	Type   string          `json:"type"`
	Symbol string          `json:"symbol"`
	Tick   model.PriceTick `json:"tick"`
}

// triggeredAlertEvent mirrors a TriggeredAlert onto the wire.
type triggeredAlertEvent struct {
	Type    string                `json:"type"`
	Trigger *model.TriggeredAlert `json:"trigger"`
}

// errorEvent reports a malformed client message or rejected request.
type errorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (e *connectionSuccessEvent) marshal() []byte { b, _ := json.Marshal(e); return b }
func (e *priceUpdateEvent) marshal() []byte       { b, _ := json.Marshal(e); return b }
func (e *triggeredAlertEvent) marshal() []byte    { b, _ := json.Marshal(e); return b }
func (e *errorEvent) marshal() []byte             { b, _ := json.Marshal(e); return b }
