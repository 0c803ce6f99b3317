package domain

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Packet is the payment instruction carried in a hold payload. It names the
// final recipient and the amount the recipient must receive.
type Packet struct {
	Destination string          `json:"destination"`
	Amount      decimal.Decimal `json:"amount"`
	Data        []byte          `json:"data,omitempty"`
}

// Encode serializes the packet for use as a hold payload.
func (p Packet) Encode() []byte {
	b, _ := json.Marshal(p)
	return b
}

// DecodePacket parses and validates a hold payload.
func DecodePacket(payload []byte) (Packet, Address, error) {
	if len(payload) == 0 {
		return Packet{}, Address{}, fmt.Errorf("%w: empty payload", ErrInvalidPacket)
	}
	var p Packet
	if err := json.Unmarshal(payload, &p); err != nil {
		return Packet{}, Address{}, fmt.Errorf("%w: %v", ErrInvalidPacket, err)
	}
	if !p.Amount.IsPositive() {
		return Packet{}, Address{}, fmt.Errorf("%w: amount must be positive", ErrInvalidPacket)
	}
	addr, err := ParseAddress(p.Destination)
	if err != nil {
		return Packet{}, Address{}, fmt.Errorf("%w: %w", ErrInvalidPacket, err)
	}
	return p, addr, nil
}
