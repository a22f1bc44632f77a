// Package model defines the stream data model: events, payloads,
// miniblocks, snapshots, sync cursors, and timeline entries.
package model

import (
	"encoding/json"
	"fmt"

	"streamsync/internal/codec"
)

// PayloadKind tags each payload arm. Kinds are namespaced by the stream
// family that produces them.
type PayloadKind string

// Known payload kinds.
const (
	KindMiniblockHeader PayloadKind = "miniblockHeader"

	KindMemberMembership      PayloadKind = "member.membership"
	KindMemberUsername        PayloadKind = "member.username"
	KindMemberDisplayName     PayloadKind = "member.displayName"
	KindMemberEnsAddress      PayloadKind = "member.ensAddress"
	KindMemberNft             PayloadKind = "member.nft"
	KindMemberKeySolicitation PayloadKind = "member.keySolicitation"
	KindMemberKeyFulfillment  PayloadKind = "member.keyFulfillment"

	KindSpaceInception     PayloadKind = "space.inception"
	KindSpaceChannelUpdate PayloadKind = "space.channel"

	KindChannelInception PayloadKind = "channel.inception"
	KindChannelMessage   PayloadKind = "channel.message"
	KindChannelRedaction PayloadKind = "channel.redaction"

	KindDMInception PayloadKind = "dm.inception"
	KindDMMessage   PayloadKind = "dm.message"

	KindGDMInception         PayloadKind = "gdm.inception"
	KindGDMMessage           PayloadKind = "gdm.message"
	KindGDMChannelProperties PayloadKind = "gdm.channelProperties"

	KindUserInception        PayloadKind = "user.inception"
	KindUserMembership       PayloadKind = "user.membership"
	KindUserMembershipAction PayloadKind = "user.membershipAction"

	KindUserSettingsInception  PayloadKind = "userSettings.inception"
	KindUserSettingsFullyRead  PayloadKind = "userSettings.fullyReadMarkers"
	KindUserSettingsUserBlock  PayloadKind = "userSettings.userBlock"
	KindDeviceKeyInception     PayloadKind = "deviceKey.inception"
	KindDeviceKeyEncryptionDev PayloadKind = "deviceKey.encryptionDevice"
	KindInboxInception         PayloadKind = "inbox.inception"
	KindInboxGroupSessions     PayloadKind = "inbox.groupSessions"
	KindInboxAck               PayloadKind = "inbox.ack"
	KindMediaInception         PayloadKind = "media.inception"
	KindMediaChunk             PayloadKind = "media.chunk"
)

// Payload is the closed sum of event payloads. The Unrecognized arm
// preserves payloads whose kind this client does not know; they are
// carried, logged, and never treated as errors.
type Payload interface {
	Kind() PayloadKind
}

// MembershipOp enumerates membership transitions.
type MembershipOp int

const (
	MembershipUnspecified MembershipOp = iota
	MembershipInvite
	MembershipJoin
	MembershipLeave
)

// String returns the lowercase operation name.
func (op MembershipOp) String() string {
	switch op {
	case MembershipInvite:
		return "invite"
	case MembershipJoin:
		return "join"
	case MembershipLeave:
		return "leave"
	default:
		return "unspecified"
	}
}

// EncryptedData is an opaque ciphertext produced by the encryption
// backend. Checksum is only populated for username payloads, where it
// enforces global uniqueness without revealing the cleartext.
type EncryptedData struct {
	Ciphertext string `json:"ciphertext"`
	Algorithm  string `json:"algorithm"`
	SenderKey  string `json:"senderKey,omitempty"`
	SessionID  string `json:"sessionId,omitempty"`
	Checksum   string `json:"checksum,omitempty"`
}

// MiniblockHeaderPayload confirms a batch of pending events and links
// the miniblock chain.
type MiniblockHeaderPayload struct {
	MiniblockNum             int64        `json:"miniblockNum"`
	PrevMiniblockHash        codec.Hash   `json:"prevMiniblockHash"`
	TimestampEpochMs         int64        `json:"timestampEpochMs"`
	EventHashes              []codec.Hash `json:"eventHashes"`
	EventNumOffset           int64        `json:"eventNumOffset"`
	PrevSnapshotMiniblockNum int64        `json:"prevSnapshotMiniblockNum"`
	Snapshot                 *Snapshot    `json:"snapshot,omitempty"`
}

func (MiniblockHeaderPayload) Kind() PayloadKind { return KindMiniblockHeader }

// MembershipPayload records a membership transition in a stream.
type MembershipPayload struct {
	Op             MembershipOp `json:"op"`
	UserID         string       `json:"userId"`
	InitiatorID    string       `json:"initiatorId,omitempty"`
	StreamParentID StreamID     `json:"streamParentId,omitempty"`
}

func (MembershipPayload) Kind() PayloadKind { return KindMemberMembership }

// UsernamePayload claims an encrypted username; uniqueness is enforced
// by checksum.
type UsernamePayload struct {
	Data EncryptedData `json:"data"`
}

func (UsernamePayload) Kind() PayloadKind { return KindMemberUsername }

// DisplayNamePayload sets an encrypted display name.
type DisplayNamePayload struct {
	Data EncryptedData `json:"data"`
}

func (DisplayNamePayload) Kind() PayloadKind { return KindMemberDisplayName }

// EnsAddressPayload associates an ENS address with the creator.
type EnsAddressPayload struct {
	Address []byte `json:"address"`
}

func (EnsAddressPayload) Kind() PayloadKind { return KindMemberEnsAddress }

// NftPayload associates an NFT badge with the creator.
type NftPayload struct {
	ChainID         int64  `json:"chainId"`
	ContractAddress []byte `json:"contractAddress"`
	TokenID         string `json:"tokenId"`
}

func (NftPayload) Kind() PayloadKind { return KindMemberNft }

// KeySolicitationPayload asks other members for encryption sessions.
type KeySolicitationPayload struct {
	DeviceKey   string   `json:"deviceKey"`
	FallbackKey string   `json:"fallbackKey"`
	IsNewDevice bool     `json:"isNewDevice"`
	SessionIDs  []string `json:"sessionIds"`
}

func (KeySolicitationPayload) Kind() PayloadKind { return KindMemberKeySolicitation }

// KeyFulfillmentPayload answers a solicitation for a specific member.
type KeyFulfillmentPayload struct {
	UserID     string   `json:"userId"`
	DeviceKey  string   `json:"deviceKey"`
	SessionIDs []string `json:"sessionIds"`
}

func (KeyFulfillmentPayload) Kind() PayloadKind { return KindMemberKeyFulfillment }

// SpaceInceptionPayload is the genesis payload of a space stream.
type SpaceInceptionPayload struct {
	StreamID StreamID `json:"streamId"`
}

func (SpaceInceptionPayload) Kind() PayloadKind { return KindSpaceInception }

// ChannelOp enumerates space-level channel registry updates.
type ChannelOp int

const (
	ChannelOpCreated ChannelOp = iota + 1
	ChannelOpUpdated
	ChannelOpDeleted
)

// SpaceChannelUpdatePayload adds, updates, or removes a channel in a
// space's channel registry.
type SpaceChannelUpdatePayload struct {
	Op              ChannelOp `json:"op"`
	ChannelID       StreamID  `json:"channelId"`
	OriginEventHash string    `json:"originEventHash,omitempty"`
}

func (SpaceChannelUpdatePayload) Kind() PayloadKind { return KindSpaceChannelUpdate }

// ChannelInceptionPayload is the genesis payload of a channel stream.
type ChannelInceptionPayload struct {
	StreamID StreamID `json:"streamId"`
	SpaceID  StreamID `json:"spaceId"`
}

func (ChannelInceptionPayload) Kind() PayloadKind { return KindChannelInception }

// ChannelMessagePayload carries an encrypted channel message.
type ChannelMessagePayload struct {
	Data EncryptedData `json:"data"`
}

func (ChannelMessagePayload) Kind() PayloadKind { return KindChannelMessage }

// ChannelRedactionPayload redacts a previously sent event.
type ChannelRedactionPayload struct {
	EventID string `json:"eventId"`
	Reason  string `json:"reason,omitempty"`
}

func (ChannelRedactionPayload) Kind() PayloadKind { return KindChannelRedaction }

// DMInceptionPayload names the two parties of a direct-message stream.
type DMInceptionPayload struct {
	StreamID      StreamID `json:"streamId"`
	FirstPartyID  string   `json:"firstPartyId"`
	SecondPartyID string   `json:"secondPartyId"`
}

func (DMInceptionPayload) Kind() PayloadKind { return KindDMInception }

// DMMessagePayload carries an encrypted direct message.
type DMMessagePayload struct {
	Data EncryptedData `json:"data"`
}

func (DMMessagePayload) Kind() PayloadKind { return KindDMMessage }

// GDMInceptionPayload is the genesis payload of a group DM stream.
type GDMInceptionPayload struct {
	StreamID          StreamID       `json:"streamId"`
	ChannelProperties *EncryptedData `json:"channelProperties,omitempty"`
}

func (GDMInceptionPayload) Kind() PayloadKind { return KindGDMInception }

// GDMMessagePayload carries an encrypted group DM message.
type GDMMessagePayload struct {
	Data EncryptedData `json:"data"`
}

func (GDMMessagePayload) Kind() PayloadKind { return KindGDMMessage }

// GDMChannelPropertiesPayload updates the encrypted name/topic of a
// group DM.
type GDMChannelPropertiesPayload struct {
	Data EncryptedData `json:"data"`
}

func (GDMChannelPropertiesPayload) Kind() PayloadKind { return KindGDMChannelProperties }

// UserInceptionPayload is the genesis payload of a user stream.
type UserInceptionPayload struct {
	StreamID StreamID `json:"streamId"`
}

func (UserInceptionPayload) Kind() PayloadKind { return KindUserInception }

// UserMembershipPayload mirrors, into the user's own stream, the user's
// membership in some other stream.
type UserMembershipPayload struct {
	StreamID StreamID     `json:"streamId"`
	Op       MembershipOp `json:"op"`
	Inviter  string       `json:"inviter,omitempty"`
}

func (UserMembershipPayload) Kind() PayloadKind { return KindUserMembership }

// UserMembershipActionPayload records a membership action this user
// performed on another user (e.g. an invite sent).
type UserMembershipActionPayload struct {
	StreamID StreamID     `json:"streamId"`
	Op       MembershipOp `json:"op"`
	UserID   string       `json:"userId"`
}

func (UserMembershipActionPayload) Kind() PayloadKind { return KindUserMembershipAction }

// UserSettingsInceptionPayload is the genesis payload of a settings
// stream.
type UserSettingsInceptionPayload struct {
	StreamID StreamID `json:"streamId"`
}

func (UserSettingsInceptionPayload) Kind() PayloadKind { return KindUserSettingsInception }

// FullyReadMarkersPayload stores per-channel read markers as an opaque
// JSON blob owned by the application.
type FullyReadMarkersPayload struct {
	ChannelID StreamID `json:"channelId"`
	Content   string   `json:"content"`
}

func (FullyReadMarkersPayload) Kind() PayloadKind { return KindUserSettingsFullyRead }

// UserBlockPayload blocks or unblocks another user.
type UserBlockPayload struct {
	UserID    string `json:"userId"`
	IsBlocked bool   `json:"isBlocked"`
	EventNum  int64  `json:"eventNum"`
}

func (UserBlockPayload) Kind() PayloadKind { return KindUserSettingsUserBlock }

// DeviceKeyInceptionPayload is the genesis payload of a device-key
// stream.
type DeviceKeyInceptionPayload struct {
	StreamID StreamID `json:"streamId"`
}

func (DeviceKeyInceptionPayload) Kind() PayloadKind { return KindDeviceKeyInception }

// EncryptionDevicePayload announces a device's encryption keys.
type EncryptionDevicePayload struct {
	DeviceKey   string `json:"deviceKey"`
	FallbackKey string `json:"fallbackKey"`
}

func (EncryptionDevicePayload) Kind() PayloadKind { return KindDeviceKeyEncryptionDev }

// InboxInceptionPayload is the genesis payload of an inbox stream.
type InboxInceptionPayload struct {
	StreamID StreamID `json:"streamId"`
}

func (InboxInceptionPayload) Kind() PayloadKind { return KindInboxInception }

// GroupSessionsPayload delivers encrypted group sessions to a specific
// device inbox. Ciphertexts are a sorted list, not a map, so the
// canonical encoding stays deterministic.
type GroupSessionsPayload struct {
	StreamID    StreamID           `json:"streamId"`
	SenderKey   string             `json:"senderKey"`
	SessionIDs  []string           `json:"sessionIds"`
	Ciphertexts []DeviceCiphertext `json:"ciphertexts"`
}

// DeviceCiphertext pairs a device key with its ciphertext.
type DeviceCiphertext struct {
	DeviceKey  string `json:"deviceKey"`
	Ciphertext string `json:"ciphertext"`
}

func (GroupSessionsPayload) Kind() PayloadKind { return KindInboxGroupSessions }

// InboxAckPayload acknowledges inbox delivery up to a miniblock.
type InboxAckPayload struct {
	DeviceKey    string `json:"deviceKey"`
	MiniblockNum int64  `json:"miniblockNum"`
}

func (InboxAckPayload) Kind() PayloadKind { return KindInboxAck }

// MediaInceptionPayload declares an upload of ChunkCount chunks.
type MediaInceptionPayload struct {
	StreamID   StreamID `json:"streamId"`
	ChannelID  StreamID `json:"channelId"`
	ChunkCount int32    `json:"chunkCount"`
}

func (MediaInceptionPayload) Kind() PayloadKind { return KindMediaInception }

// MediaChunkPayload carries one chunk of a media upload.
type MediaChunkPayload struct {
	Data       []byte `json:"data"`
	ChunkIndex int32  `json:"chunkIndex"`
}

func (MediaChunkPayload) Kind() PayloadKind { return KindMediaChunk }

// UnrecognizedPayload preserves a payload of a kind this client does
// not understand. Raw keeps the original encoding so the event hash
// stays verifiable.
type UnrecognizedPayload struct {
	RawKind PayloadKind
	Raw     json.RawMessage
}

func (p UnrecognizedPayload) Kind() PayloadKind { return p.RawKind }

// payloadFactories decodes a payload body by kind. Kinds absent from
// the map fall through to UnrecognizedPayload.
var payloadFactories = map[PayloadKind]func() Payload{
	KindMiniblockHeader:        func() Payload { return &MiniblockHeaderPayload{} },
	KindMemberMembership:       func() Payload { return &MembershipPayload{} },
	KindMemberUsername:         func() Payload { return &UsernamePayload{} },
	KindMemberDisplayName:      func() Payload { return &DisplayNamePayload{} },
	KindMemberEnsAddress:       func() Payload { return &EnsAddressPayload{} },
	KindMemberNft:              func() Payload { return &NftPayload{} },
	KindMemberKeySolicitation:  func() Payload { return &KeySolicitationPayload{} },
	KindMemberKeyFulfillment:   func() Payload { return &KeyFulfillmentPayload{} },
	KindSpaceInception:         func() Payload { return &SpaceInceptionPayload{} },
	KindSpaceChannelUpdate:     func() Payload { return &SpaceChannelUpdatePayload{} },
	KindChannelInception:       func() Payload { return &ChannelInceptionPayload{} },
	KindChannelMessage:         func() Payload { return &ChannelMessagePayload{} },
	KindChannelRedaction:       func() Payload { return &ChannelRedactionPayload{} },
	KindDMInception:            func() Payload { return &DMInceptionPayload{} },
	KindDMMessage:              func() Payload { return &DMMessagePayload{} },
	KindGDMInception:           func() Payload { return &GDMInceptionPayload{} },
	KindGDMMessage:             func() Payload { return &GDMMessagePayload{} },
	KindGDMChannelProperties:   func() Payload { return &GDMChannelPropertiesPayload{} },
	KindUserInception:          func() Payload { return &UserInceptionPayload{} },
	KindUserMembership:         func() Payload { return &UserMembershipPayload{} },
	KindUserMembershipAction:   func() Payload { return &UserMembershipActionPayload{} },
	KindUserSettingsInception:  func() Payload { return &UserSettingsInceptionPayload{} },
	KindUserSettingsFullyRead:  func() Payload { return &FullyReadMarkersPayload{} },
	KindUserSettingsUserBlock:  func() Payload { return &UserBlockPayload{} },
	KindDeviceKeyInception:     func() Payload { return &DeviceKeyInceptionPayload{} },
	KindDeviceKeyEncryptionDev: func() Payload { return &EncryptionDevicePayload{} },
	KindInboxInception:         func() Payload { return &InboxInceptionPayload{} },
	KindInboxGroupSessions:     func() Payload { return &GroupSessionsPayload{} },
	KindInboxAck:               func() Payload { return &InboxAckPayload{} },
	KindMediaInception:         func() Payload { return &MediaInceptionPayload{} },
	KindMediaChunk:             func() Payload { return &MediaChunkPayload{} },
}

// decodePayload decodes a payload body for the given kind. Unknown
// kinds round-trip through UnrecognizedPayload.
func decodePayload(kind PayloadKind, body json.RawMessage) (Payload, error) {
	factory, ok := payloadFactories[kind]
	if !ok {
		raw := make(json.RawMessage, len(body))
		copy(raw, body)
		return &UnrecognizedPayload{RawKind: kind, Raw: raw}, nil
	}
	p := factory()
	if err := json.Unmarshal(body, p); err != nil {
		return nil, fmt.Errorf("model: decode %s payload: %w", kind, err)
	}
	return p, nil
}
