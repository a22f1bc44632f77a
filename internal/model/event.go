package model

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"streamsync/internal/codec"
)

// Model-level errors.
var (
	// ErrMissingPayload indicates an event without a payload.
	ErrMissingPayload = errors.New("model: missing event payload")

	// ErrHashMismatch indicates an envelope whose hash does not match
	// its event bytes.
	ErrHashMismatch = errors.New("model: envelope hash mismatch")
)

// Event is the signed wire record. Events are immutable once hashed;
// identity is the hash of the canonical encoding.
type Event struct {
	Creator               codec.Address `json:"creator"`
	Salt                  []byte        `json:"salt"`
	PrevMiniblockHash     *codec.Hash   `json:"prevMiniblockHash,omitempty"`
	CreatedAtEpochMs      int64         `json:"createdAtEpochMs"`
	DelegateSig           []byte        `json:"delegateSig,omitempty"`
	DelegateExpiryEpochMs int64         `json:"delegateExpiryEpochMs,omitempty"`
	Payload               Payload       `json:"-"`
}

// eventWire is the canonical JSON shape; the payload travels as a
// tagged body so unknown kinds survive a round trip.
type eventWire struct {
	Creator               codec.Address   `json:"creator"`
	Salt                  []byte          `json:"salt"`
	PrevMiniblockHash     *codec.Hash     `json:"prevMiniblockHash,omitempty"`
	CreatedAtEpochMs      int64           `json:"createdAtEpochMs"`
	DelegateSig           []byte          `json:"delegateSig,omitempty"`
	DelegateExpiryEpochMs int64           `json:"delegateExpiryEpochMs,omitempty"`
	PayloadKind           PayloadKind     `json:"payloadKind"`
	Payload               json.RawMessage `json:"payload"`
}

// MarshalCanonical produces the canonical byte encoding the event hash
// is computed over.
func (e *Event) MarshalCanonical() ([]byte, error) {
	if e.Payload == nil {
		return nil, ErrMissingPayload
	}
	var body json.RawMessage
	if un, ok := e.Payload.(*UnrecognizedPayload); ok {
		body = un.Raw
	} else {
		b, err := json.Marshal(e.Payload)
		if err != nil {
			return nil, fmt.Errorf("model: encode payload: %w", err)
		}
		body = b
	}
	return json.Marshal(eventWire{
		Creator:               e.Creator,
		Salt:                  e.Salt,
		PrevMiniblockHash:     e.PrevMiniblockHash,
		CreatedAtEpochMs:      e.CreatedAtEpochMs,
		DelegateSig:           e.DelegateSig,
		DelegateExpiryEpochMs: e.DelegateExpiryEpochMs,
		PayloadKind:           e.Payload.Kind(),
		Payload:               body,
	})
}

// UnmarshalEvent decodes canonical event bytes.
func UnmarshalEvent(data []byte) (*Event, error) {
	var wire eventWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("model: decode event: %w", err)
	}
	if len(wire.Payload) == 0 {
		return nil, ErrMissingPayload
	}
	payload, err := decodePayload(wire.PayloadKind, wire.Payload)
	if err != nil {
		return nil, err
	}
	return &Event{
		Creator:               wire.Creator,
		Salt:                  wire.Salt,
		PrevMiniblockHash:     wire.PrevMiniblockHash,
		CreatedAtEpochMs:      wire.CreatedAtEpochMs,
		DelegateSig:           wire.DelegateSig,
		DelegateExpiryEpochMs: wire.DelegateExpiryEpochMs,
		Payload:               payload,
	}, nil
}

// Envelope wraps canonical event bytes with their hash and signature.
type Envelope struct {
	Event     []byte     `json:"event"`
	Hash      codec.Hash `json:"hash"`
	Signature []byte     `json:"signature"`
}

// ParsedEvent is a verified, decoded envelope ready for timeline folds.
type ParsedEvent struct {
	Event     *Event
	Envelope  *Envelope
	Hash      codec.Hash
	HashStr   string
	CreatorID string
}

// PrevMiniblockHashStr returns the hex previous-tip binding, or "".
func (p *ParsedEvent) PrevMiniblockHashStr() string {
	if p.Event.PrevMiniblockHash == nil {
		return ""
	}
	return p.Event.PrevMiniblockHash.Hex()
}

// MiniblockHeader returns the header payload if this event carries one.
func (p *ParsedEvent) MiniblockHeader() *MiniblockHeaderPayload {
	if h, ok := p.Event.Payload.(*MiniblockHeaderPayload); ok {
		return h
	}
	return nil
}

// MakeEvent signs a payload against the given tip hash and wraps it in
// an envelope. A random salt makes otherwise-identical events distinct.
func MakeEvent(
	signer *codec.SignerContext,
	payload Payload,
	prevMiniblockHash *codec.Hash,
) (*Envelope, error) {
	if payload == nil {
		return nil, ErrMissingPayload
	}
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("model: generate event salt: %w", err)
	}
	ev := &Event{
		Creator:               signer.Creator,
		Salt:                  salt,
		PrevMiniblockHash:     prevMiniblockHash,
		CreatedAtEpochMs:      time.Now().UnixMilli(),
		DelegateSig:           signer.DelegateSig,
		DelegateExpiryEpochMs: signer.DelegateExpiryEpochMs,
		Payload:               payload,
	}
	canonical, err := ev.MarshalCanonical()
	if err != nil {
		return nil, err
	}
	hash := codec.EventHash(canonical)
	return &Envelope{
		Event:     canonical,
		Hash:      hash,
		Signature: signer.SignHash(hash),
	}, nil
}

// ParseEnvelope verifies an envelope's hash and signature and decodes
// the event. Crypto failures are fatal to the envelope, never ignored.
func ParseEnvelope(env *Envelope, now time.Time) (*ParsedEvent, error) {
	if codec.EventHash(env.Event) != env.Hash {
		return nil, ErrHashMismatch
	}
	ev, err := UnmarshalEvent(env.Event)
	if err != nil {
		return nil, err
	}
	if err := codec.VerifyEventSignature(
		env.Hash,
		env.Signature,
		ev.Creator,
		ev.DelegateSig,
		ev.DelegateExpiryEpochMs,
		now,
	); err != nil {
		return nil, err
	}
	return &ParsedEvent{
		Event:     ev,
		Envelope:  env,
		Hash:      env.Hash,
		HashStr:   env.Hash.Hex(),
		CreatorID: ev.Creator.Hex(),
	}, nil
}
