package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Message kinds understood by the venue. These mirror the RFQ protocol:
// takers solicit firm quotes from a chosen provider subset, the venue
// collects them under a deadline and fans the outcome back out.
const (
	KindRegisterProvider   = "REGISTER_PROVIDER"
	KindUnregisterProvider = "UNREGISTER_PROVIDER"
	KindProviderJoined     = "PROVIDER_JOINED"
	KindProviderLeft       = "PROVIDER_LEFT"
	KindGetProviders       = "GET_PROVIDERS"
	KindRegisterTaker      = "REGISTER_TAKER" // takers are more secretive so no joined/left protocol
	KindUnregisterTaker    = "UNREGISTER_TAKER"
	KindSubmitIndic        = "SUBMIT_INDIC" // providers must submit indicative prices regularly
	KindGetComposites      = "GET_COMPOSITES"
	KindRfqStart           = "RFQ_START"     // taker initiates this
	KindRfqQuoteFor        = "RFQ_QUOTE_FOR" // venue asks provider for a firm quote
	KindRfqQuote           = "RFQ_QUOTE"     // provider's firm price back to the venue
	KindRfqQuotes          = "RFQ_QUOTES"    // venue informs taker of ranked levels
	KindRfqAccept          = "RFQ_ACCEPT"
	KindRfqDecline         = "RFQ_DECLINE"
	KindRfqAccepted        = "RFQ_ACCEPTED"  // provider traded
	KindRfqNearMiss        = "RFQ_NEAR_MISS" // provider was next best
	KindRfqNoTrade         = "RFQ_NO_TRADE"  // provider (or taker, on timeout) did not trade
	KindNotUnderstood      = "NOT_UNDERSTOOD"
)

// Clearing / bookkeeping kinds.
const (
	KindLogin        = "LOGIN"
	KindLoginToken   = "LOGIN_TOKEN"
	KindLoginInvalid = "LOGIN_INVALID"
	KindRecordTrade  = "RECORD_TRADE"
	KindGetRisk      = "GET_RISK"
)

// Directory kinds.
const (
	KindRegisterEntry   = "REGISTER_ENTRY"
	KindUnregisterEntry = "UNREGISTER_ENTRY"
	KindFindEntries     = "FIND_ENTRIES"
)

// Directory entry types.
const (
	EntryTypeBondVenue = "BondVenue"
	EntryTypeExchange  = "BondFuturesExchange"
	EntryTypeDealer    = "SimpleBondDealer"
	EntryTypeTaker     = "SimpleLiquidityTaker"
	EntryTypeClearing  = "GAME_KEEPER"
)

// Sides, as carried on the wire. The signed size remains authoritative:
// positive sizes are buys, negative sizes are sells.
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// SideOf derives the wire side from a signed size.
func SideOf(size float64) string {
	if size < 0 {
		return SideSell
	}
	return SideBuy
}

// Identity names a participant and the inbox subject its notifications go to.
type Identity struct {
	Name  string `json:"name"`
	Inbox string `json:"inbox"`
}

// Envelope is the wire frame for every message on the substrate.
type Envelope struct {
	ID            uuid.UUID       `json:"id"`
	CorrelationID uuid.UUID       `json:"correlation_id"`
	Kind          string          `json:"kind"`
	Sender        Identity        `json:"sender"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope wraps a payload in a fresh envelope. Marshal errors are
// surfaced to the caller; payloads are plain structs so they only fail on
// programmer error.
func NewEnvelope(kind string, sender Identity, payload any) (Envelope, error) {
	env := Envelope{
		ID:            uuid.New(),
		CorrelationID: uuid.New(),
		Kind:          kind,
		Sender:        sender,
		Timestamp:     time.Now().UTC(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, err
		}
		env.Payload = data
	}
	return env, nil
}

// Reply builds an envelope answering this one, keeping the correlation id.
func (e Envelope) Reply(kind string, sender Identity, payload any) (Envelope, error) {
	reply, err := NewEnvelope(kind, sender, payload)
	if err != nil {
		return Envelope{}, err
	}
	reply.CorrelationID = e.CorrelationID
	return reply, nil
}

// Decode unmarshals the payload into dest.
func (e Envelope) Decode(dest any) error {
	return json.Unmarshal(e.Payload, dest)
}

// Marshal renders the envelope for the wire.
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalFrom parses a wire frame into the envelope.
func (e *Envelope) UnmarshalFrom(data []byte) error {
	return json.Unmarshal(data, e)
}
