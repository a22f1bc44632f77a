package view

import "streamsync/internal/model"

// StreamEvent is the closed set of notifications a stream view emits.
// Every event carries the stream id it concerns.
type StreamEvent interface {
	EventStreamID() model.StreamID
}

// Sink receives stream events. A nil sink drops them.
type Sink func(StreamEvent)

// StreamInitialized fires once per successful initialize.
type StreamInitialized struct {
	StreamID model.StreamID
}

// StreamUpToDate fires the first time a stream finishes hydrating and
// has applied all known remote state.
type StreamUpToDate struct {
	StreamID model.StreamID
}

// StreamUpdated is the batched timeline delta for one fold operation.
// Empty partitions are nil.
type StreamUpdated struct {
	StreamID  model.StreamID
	Appended  []*model.TimelineEvent
	Updated   []*model.TimelineEvent
	Confirmed []*model.TimelineEvent
	Prepended []*model.TimelineEvent
}

// MembershipChanged is the authoritative membership signal, fired only
// on miniblock confirmation.
type MembershipChanged struct {
	StreamID model.StreamID
	UserID   string
	Op       model.MembershipOp
}

// PendingMembershipChanged fires when an unconfirmed membership event
// lands in the pending pool.
type PendingMembershipChanged struct {
	StreamID model.StreamID
	UserID   string
	Op       model.MembershipOp
}

// UsernameUpdated fires when a member's username claim is recorded or
// confirmed.
type UsernameUpdated struct {
	StreamID  model.StreamID
	UserID    string
	Confirmed bool
}

// DisplayNameUpdated fires when a member's display name is recorded or
// confirmed.
type DisplayNameUpdated struct {
	StreamID  model.StreamID
	UserID    string
	Confirmed bool
}

// EnsAddressUpdated fires when a member's ENS address changes.
type EnsAddressUpdated struct {
	StreamID model.StreamID
	UserID   string
	Address  []byte
}

// NftUpdated fires when a member's NFT badge changes.
type NftUpdated struct {
	StreamID model.StreamID
	UserID   string
	Nft      *model.NftPayload
}

// DecryptedContentApplied fires when out-of-band decryption resolves an
// event's cleartext.
type DecryptedContentApplied struct {
	StreamID model.StreamID
	EventID  string
	Content  model.DecryptedContent
}

func (e StreamInitialized) EventStreamID() model.StreamID        { return e.StreamID }
func (e StreamUpToDate) EventStreamID() model.StreamID           { return e.StreamID }
func (e StreamUpdated) EventStreamID() model.StreamID            { return e.StreamID }
func (e MembershipChanged) EventStreamID() model.StreamID        { return e.StreamID }
func (e PendingMembershipChanged) EventStreamID() model.StreamID { return e.StreamID }
func (e UsernameUpdated) EventStreamID() model.StreamID          { return e.StreamID }
func (e DisplayNameUpdated) EventStreamID() model.StreamID       { return e.StreamID }
func (e EnsAddressUpdated) EventStreamID() model.StreamID        { return e.StreamID }
func (e NftUpdated) EventStreamID() model.StreamID               { return e.StreamID }
func (e DecryptedContentApplied) EventStreamID() model.StreamID  { return e.StreamID }
